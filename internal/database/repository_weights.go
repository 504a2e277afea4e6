package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"forex-signal-engine/internal/confluence"
	"forex-signal-engine/internal/signal"
)

// WeightRepository persists per-context confluence weight vectors and the
// training log. Contexts without a trained row resolve to the default vector.
type WeightRepository struct {
	db *DB
}

// NewWeightRepository creates a weight repository.
func NewWeightRepository(db *DB) *WeightRepository {
	return &WeightRepository{db: db}
}

// Weights returns the trained vector for a context, or the defaults when the
// context has never been trained.
func (r *WeightRepository) Weights(ctx context.Context, key confluence.Context) (confluence.WeightVector, error) {
	query := `
		SELECT weights FROM signal_weights
		WHERE symbol = $1 AND session = $2 AND regime = $3`

	var raw []byte
	err := r.db.Pool.QueryRow(ctx, query,
		key.Symbol, string(key.Session), string(key.Regime)).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return confluence.DefaultWeights(), nil
	}
	if err != nil {
		return confluence.WeightVector{}, fmt.Errorf("load weights for %s: %w", key.Key(), err)
	}

	var w confluence.WeightVector
	if err := json.Unmarshal(raw, &w); err != nil {
		return confluence.WeightVector{}, fmt.Errorf("unmarshal weights for %s: %w", key.Key(), err)
	}
	return w, nil
}

// Replace swaps in a trained vector and appends its training log entry in one
// transaction, so readers never observe the new weights without the audit row.
func (r *WeightRepository) Replace(ctx context.Context, key confluence.Context, w confluence.WeightVector, entry signal.TrainingLogEntry) error {
	if err := w.Validate(); err != nil {
		return fmt.Errorf("replace weights for %s: %w", key.Key(), err)
	}
	raw, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("marshal weights for %s: %w", key.Key(), err)
	}

	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin weight replace: %w", err)
	}
	defer tx.Rollback(ctx)

	upsert := `
		INSERT INTO signal_weights (symbol, session, regime, weights, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (symbol, session, regime)
		DO UPDATE SET weights = EXCLUDED.weights, updated_at = NOW()`
	if _, err := tx.Exec(ctx, upsert,
		key.Symbol, string(key.Session), string(key.Regime), raw); err != nil {
		return fmt.Errorf("upsert weights for %s: %w", key.Key(), err)
	}

	logInsert := `
		INSERT INTO training_log (
			symbol, session, regime,
			win_rate_before, win_rate_after, improvement, samples, trained_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	if _, err := tx.Exec(ctx, logInsert,
		key.Symbol, string(key.Session), string(key.Regime),
		entry.WinRateBefore, entry.WinRateAfter, entry.Improvement,
		entry.Samples, entry.TrainedAt); err != nil {
		return fmt.Errorf("append training log for %s: %w", key.Key(), err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit weight replace for %s: %w", key.Key(), err)
	}
	return nil
}

// TrainingLog returns the latest training runs, newest first.
func (r *WeightRepository) TrainingLog(ctx context.Context, limit int) ([]signal.TrainingLogEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, symbol, session, regime,
		       win_rate_before, win_rate_after, improvement, samples, trained_at
		FROM training_log
		ORDER BY trained_at DESC
		LIMIT $1`

	rows, err := r.db.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list training log: %w", err)
	}
	defer rows.Close()

	var out []signal.TrainingLogEntry
	for rows.Next() {
		var e signal.TrainingLogEntry
		err := rows.Scan(
			&e.ID, &e.Context.Symbol, &e.Context.Session, &e.Context.Regime,
			&e.WinRateBefore, &e.WinRateAfter, &e.Improvement, &e.Samples, &e.TrainedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan training log row: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate training log rows: %w", err)
	}
	return out, nil
}
