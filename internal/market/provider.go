package market

import (
	"context"
	"errors"
	"fmt"

	"forex-signal-engine/internal/logging"
)

// ErrDataUnavailable signals that a provider could not supply enough candle
// history or a current quote. Callers must treat it as "no evaluation", never
// substitute stale data.
var ErrDataUnavailable = errors.New("market data unavailable")

// MinWarmupBars is the minimum history per timeframe required for the 14-bar
// indicator stack to warm up.
const MinWarmupBars = 50

// SnapshotProvider supplies fresh multi-timeframe candle history plus the
// current quote for a symbol.
type SnapshotProvider interface {
	GetSnapshot(ctx context.Context, symbol string) (*Snapshot, error)
	Name() string
}

// ValidateSnapshot checks that every required timeframe carries enough
// warm-up history and that the quote is usable.
func ValidateSnapshot(snap *Snapshot) error {
	if snap == nil {
		return fmt.Errorf("%w: nil snapshot", ErrDataUnavailable)
	}
	for _, tf := range AllTimeframes {
		if n := len(snap.Series(tf)); n < MinWarmupBars {
			return fmt.Errorf("%w: %s has %d bars, need %d", ErrDataUnavailable, tf, n, MinWarmupBars)
		}
	}
	if snap.Quote.Bid <= 0 || snap.Quote.Ask <= 0 || snap.Quote.Ask < snap.Quote.Bid {
		return fmt.Errorf("%w: invalid quote bid=%f ask=%f", ErrDataUnavailable, snap.Quote.Bid, snap.Quote.Ask)
	}
	return nil
}

// FallbackProvider tries a priority-ordered chain of providers, returning the
// first valid snapshot. Every failover is logged.
type FallbackProvider struct {
	chain []SnapshotProvider
}

// NewFallbackProvider builds a chain from highest to lowest priority.
func NewFallbackProvider(providers ...SnapshotProvider) *FallbackProvider {
	return &FallbackProvider{chain: providers}
}

func (f *FallbackProvider) Name() string { return "fallback_chain" }

// GetSnapshot walks the chain until one provider returns a valid snapshot.
// If all providers fail the last error is wrapped as ErrDataUnavailable.
func (f *FallbackProvider) GetSnapshot(ctx context.Context, symbol string) (*Snapshot, error) {
	log := logging.Component("market")
	var lastErr error
	for i, p := range f.chain {
		snap, err := p.GetSnapshot(ctx, symbol)
		if err == nil {
			err = ValidateSnapshot(snap)
		}
		if err == nil {
			if i > 0 {
				log.Warn().Str("symbol", symbol).Str("provider", p.Name()).Int("priority", i).
					Msg("snapshot served by fallback provider")
			}
			return snap, nil
		}
		lastErr = err
		log.Warn().Err(err).Str("symbol", symbol).Str("provider", p.Name()).
			Msg("snapshot provider failed, trying next")
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrDataUnavailable, ctx.Err())
		}
	}
	if lastErr == nil {
		lastErr = errors.New("empty provider chain")
	}
	if errors.Is(lastErr, ErrDataUnavailable) {
		return nil, lastErr
	}
	return nil, fmt.Errorf("%w: %v", ErrDataUnavailable, lastErr)
}
