package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"forex-signal-engine/internal/confluence"
	"forex-signal-engine/internal/signal"
)

// SignalRepository persists signals. It backs both the engine's Store and the
// monitor's SignalStore.
type SignalRepository struct {
	db *DB
}

// NewSignalRepository creates a signal repository.
func NewSignalRepository(db *DB) *SignalRepository {
	return &SignalRepository{db: db}
}

// Insert stores a freshly assembled signal.
func (r *SignalRepository) Insert(ctx context.Context, s *signal.Signal) error {
	flags, err := json.Marshal(s.Flags)
	if err != nil {
		return fmt.Errorf("marshal signal flags: %w", err)
	}

	query := `
		INSERT INTO signals (
			id, symbol, direction, entry, stop_loss, take_profit,
			confidence, regime, session, flags, status, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err = r.db.Pool.Exec(ctx, query,
		s.ID, s.Symbol, string(s.Direction), s.Entry, s.StopLoss, s.TakeProfit,
		s.Confidence, string(s.Regime), string(s.Session), flags,
		string(s.Status), s.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert signal: %w", err)
	}
	return nil
}

// ListOpen returns every signal still in the OPEN state, oldest first.
func (r *SignalRepository) ListOpen(ctx context.Context) ([]*signal.Signal, error) {
	query := `
		SELECT id, symbol, direction, entry, stop_loss, take_profit,
		       confidence, regime, session, flags, status, created_at,
		       closed_at, close_price, pnl_pips
		FROM signals
		WHERE status = 'OPEN'
		ORDER BY created_at`

	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list open signals: %w", err)
	}
	defer rows.Close()

	return scanSignals(rows)
}

// Close retires an open signal with a terminal status. The status guard makes
// the write compare-and-swap: a signal already closed by a concurrent sweep is
// left untouched and Close reports false.
func (r *SignalRepository) Close(ctx context.Context, id string, status signal.Status, closePrice, pips float64, closedAt time.Time) (bool, error) {
	if !status.Terminal() {
		return false, fmt.Errorf("close signal %s: %s is not a terminal status", id, status)
	}

	query := `
		UPDATE signals
		SET status = $2, close_price = $3, pnl_pips = $4, closed_at = $5
		WHERE id = $1 AND status = 'OPEN'`

	tag, err := r.db.Pool.Exec(ctx, query, id, string(status), closePrice, pips, closedAt)
	if err != nil {
		return false, fmt.Errorf("close signal %s: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListClosedByContext returns the terminal signals of one training context
// created at or after the cutoff.
func (r *SignalRepository) ListClosedByContext(ctx context.Context, key confluence.Context, since time.Time) ([]*signal.Signal, error) {
	query := `
		SELECT id, symbol, direction, entry, stop_loss, take_profit,
		       confidence, regime, session, flags, status, created_at,
		       closed_at, close_price, pnl_pips
		FROM signals
		WHERE symbol = $1 AND session = $2 AND regime = $3
		  AND status <> 'OPEN' AND created_at >= $4
		ORDER BY created_at`

	rows, err := r.db.Pool.Query(ctx, query,
		key.Symbol, string(key.Session), string(key.Regime), since)
	if err != nil {
		return nil, fmt.Errorf("list closed signals for %s: %w", key.Key(), err)
	}
	defer rows.Close()

	return scanSignals(rows)
}

// ListRecent returns the latest signals regardless of state, newest first.
func (r *SignalRepository) ListRecent(ctx context.Context, limit int) ([]*signal.Signal, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, symbol, direction, entry, stop_loss, take_profit,
		       confidence, regime, session, flags, status, created_at,
		       closed_at, close_price, pnl_pips
		FROM signals
		ORDER BY created_at DESC
		LIMIT $1`

	rows, err := r.db.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent signals: %w", err)
	}
	defer rows.Close()

	return scanSignals(rows)
}

type signalRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanSignals(rows signalRows) ([]*signal.Signal, error) {
	var out []*signal.Signal
	for rows.Next() {
		var (
			s          signal.Signal
			flags      []byte
			closedAt   *time.Time
			closePrice *float64
			pips       *float64
		)
		err := rows.Scan(
			&s.ID, &s.Symbol, &s.Direction, &s.Entry, &s.StopLoss, &s.TakeProfit,
			&s.Confidence, &s.Regime, &s.Session, &flags, &s.Status, &s.CreatedAt,
			&closedAt, &closePrice, &pips,
		)
		if err != nil {
			return nil, fmt.Errorf("scan signal row: %w", err)
		}
		if err := json.Unmarshal(flags, &s.Flags); err != nil {
			return nil, fmt.Errorf("unmarshal signal flags: %w", err)
		}
		s.ClosedAt = closedAt
		if closePrice != nil {
			s.ClosePrice = *closePrice
		}
		if pips != nil {
			s.PnLPips = *pips
		}
		out = append(out, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate signal rows: %w", err)
	}
	return out, nil
}
