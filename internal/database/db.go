package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"forex-signal-engine/internal/logging"
)

// DB wraps the PostgreSQL connection pool
type DB struct {
	Pool *pgxpool.Pool
}

// Config holds database configuration
type Config struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
}

// NewDB creates a new database connection
func NewDB(cfg Config) (*DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	log := logging.Component("database")
	log.Info().Str("database", cfg.Database).
		Msg("connected to PostgreSQL")

	return &DB{Pool: pool}, nil
}

// Close closes the database connection
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		log := logging.Component("database")
		log.Info().Msg("database connection closed")
	}
}

// RunMigrations executes database migrations
func (db *DB) RunMigrations(ctx context.Context) error {
	log := logging.Component("database")
	log.Info().Msg("running database migrations")

	migrations := []string{
		// Signals: one row per emitted signal, closed in place by the monitor
		`CREATE TABLE IF NOT EXISTS signals (
			id UUID PRIMARY KEY,
			symbol VARCHAR(20) NOT NULL,
			direction VARCHAR(4) NOT NULL,
			entry DECIMAL(20, 8) NOT NULL,
			stop_loss DECIMAL(20, 8) NOT NULL,
			take_profit DECIMAL(20, 8) NOT NULL,
			confidence DECIMAL(5, 2) NOT NULL,
			regime VARCHAR(20) NOT NULL,
			session VARCHAR(20) NOT NULL,
			flags JSONB NOT NULL,
			status VARCHAR(20) NOT NULL DEFAULT 'OPEN',
			created_at TIMESTAMPTZ NOT NULL,
			closed_at TIMESTAMPTZ,
			close_price DECIMAL(20, 8),
			pnl_pips DECIMAL(12, 2)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_signals_status ON signals(status)`,
		`CREATE INDEX IF NOT EXISTS idx_signals_symbol ON signals(symbol)`,
		`CREATE INDEX IF NOT EXISTS idx_signals_context ON signals(symbol, session, regime)`,
		`CREATE INDEX IF NOT EXISTS idx_signals_created_at ON signals(created_at)`,

		// Weight vectors: one row per (symbol, session, regime) context
		`CREATE TABLE IF NOT EXISTS signal_weights (
			symbol VARCHAR(20) NOT NULL,
			session VARCHAR(20) NOT NULL,
			regime VARCHAR(20) NOT NULL,
			weights JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (symbol, session, regime)
		)`,

		// Training log: append-only audit trail of optimizer runs
		`CREATE TABLE IF NOT EXISTS training_log (
			id BIGSERIAL PRIMARY KEY,
			symbol VARCHAR(20) NOT NULL,
			session VARCHAR(20) NOT NULL,
			regime VARCHAR(20) NOT NULL,
			win_rate_before DECIMAL(5, 4) NOT NULL,
			win_rate_after DECIMAL(5, 4) NOT NULL,
			improvement DECIMAL(8, 6) NOT NULL,
			samples INT NOT NULL,
			trained_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_training_log_context ON training_log(symbol, session, regime)`,
		`CREATE INDEX IF NOT EXISTS idx_training_log_trained_at ON training_log(trained_at)`,
	}

	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	log.Info().Msg("database migrations completed")
	return nil
}

// HealthCheck performs a database health check
func (db *DB) HealthCheck(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}
