package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"forex-signal-engine/internal/logging"
	"forex-signal-engine/internal/market"
	"forex-signal-engine/internal/signal"
)

// SignalStore is the persistence surface the monitor needs. Close must be
// compare-and-swap on the OPEN status: it returns false when another pass
// already retired the signal, and the caller treats that as a no-op.
type SignalStore interface {
	ListOpen(ctx context.Context) ([]*signal.Signal, error)
	Close(ctx context.Context, id string, status signal.Status, closePrice, pips float64, closedAt time.Time) (bool, error)
}

// QuoteSource supplies the current bid/ask for a symbol.
type QuoteSource interface {
	Quote(ctx context.Context, symbol string) (market.Quote, error)
}

// Config tunes the tick monitor.
type Config struct {
	// CheckInterval is how often the loop sweeps the open signals.
	CheckInterval time.Duration
	// MaxDuration retires a signal as EXPIRED once its age exceeds it.
	MaxDuration time.Duration
	// MaxConcurrent caps the signals checked in parallel per sweep.
	MaxConcurrent int
	// CheckTimeout bounds one signal's quote fetch and close.
	CheckTimeout time.Duration
}

// DefaultConfig returns the stock monitor cadence.
func DefaultConfig() Config {
	return Config{
		CheckInterval: 5 * time.Second,
		MaxDuration:   4 * time.Hour,
		MaxConcurrent: 8,
		CheckTimeout:  10 * time.Second,
	}
}

// Monitor sweeps open signals against live quotes and retires the ones whose
// stop, target, or lifetime has been reached.
type Monitor struct {
	store  SignalStore
	quotes QuoteSource
	cfg    Config
	log    zerolog.Logger
	now    func() time.Time

	// OnClose, when set, receives every signal this monitor transitions to a
	// terminal state. The copy carries the close price, pips and closed_at.
	OnClose func(*signal.Signal)

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// New creates a tick monitor.
func New(store SignalStore, quotes QuoteSource, cfg Config) *Monitor {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = DefaultConfig().CheckInterval
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultConfig().MaxConcurrent
	}
	if cfg.CheckTimeout <= 0 {
		cfg.CheckTimeout = DefaultConfig().CheckTimeout
	}
	return &Monitor{
		store:    store,
		quotes:   quotes,
		cfg:      cfg,
		log:      logging.Component("monitor"),
		now:      time.Now,
		stopChan: make(chan struct{}),
	}
}

// Start launches the sweep loop.
func (m *Monitor) Start() error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return fmt.Errorf("monitor already running")
	}
	m.running = true
	m.stopChan = make(chan struct{})
	m.mu.Unlock()

	m.log.Info().Dur("interval", m.cfg.CheckInterval).Msg("tick monitor started")

	m.wg.Add(1)
	go m.runLoop()
	return nil
}

// Stop halts the loop and waits for the in-flight sweep to finish.
func (m *Monitor) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return fmt.Errorf("monitor not running")
	}
	m.running = false
	m.mu.Unlock()

	close(m.stopChan)
	m.wg.Wait()
	m.log.Info().Msg("tick monitor stopped")
	return nil
}

// IsRunning reports whether the sweep loop is active.
func (m *Monitor) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Monitor) runLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()

	m.RunOnce(context.Background())

	for {
		select {
		case <-ticker.C:
			m.RunOnce(context.Background())
		case <-m.stopChan:
			return
		}
	}
}

// RunOnce performs one sweep over the open signals. Each signal is checked
// independently: a quote failure or panic on one never blocks the rest.
func (m *Monitor) RunOnce(ctx context.Context) {
	open, err := m.store.ListOpen(ctx)
	if err != nil {
		m.log.Error().Err(err).Msg("listing open signals failed")
		return
	}
	if len(open) == 0 {
		return
	}

	semaphore := make(chan struct{}, m.cfg.MaxConcurrent)
	var wg sync.WaitGroup

	for _, sig := range open {
		wg.Add(1)
		semaphore <- struct{}{}

		go func(s *signal.Signal) {
			defer wg.Done()
			defer func() { <-semaphore }()
			defer func() {
				if r := recover(); r != nil {
					m.log.Error().Str("signal_id", s.ID).Interface("panic", r).
						Msg("panic recovered while checking signal")
				}
			}()

			checkCtx, cancel := context.WithTimeout(ctx, m.cfg.CheckTimeout)
			defer cancel()
			m.checkSignal(checkCtx, s)
		}(sig)
	}

	wg.Wait()
}

// checkSignal resolves one open signal against the current quote. Stop-loss
// wins ties: a quote that straddles both levels closes at the stop.
func (m *Monitor) checkSignal(ctx context.Context, s *signal.Signal) {
	now := m.now().UTC()

	quote, err := m.quotes.Quote(ctx, s.Symbol)
	if err != nil {
		// Expiry does not need a price check; everything else waits for
		// the next sweep.
		if m.cfg.MaxDuration > 0 && now.Sub(s.CreatedAt) >= m.cfg.MaxDuration {
			m.close(ctx, s, signal.StatusExpired, s.Entry, now)
			return
		}
		m.log.Warn().Err(err).Str("signal_id", s.ID).Str("symbol", s.Symbol).
			Msg("quote unavailable, deferring signal check")
		return
	}

	// A position exits on the opposite side of the book from its entry.
	exitPrice := quote.Bid
	if s.Direction == market.DirectionSell {
		exitPrice = quote.Ask
	}

	status := m.resolve(s, exitPrice)
	if status == signal.StatusOpen && m.cfg.MaxDuration > 0 &&
		now.Sub(s.CreatedAt) >= m.cfg.MaxDuration {
		status = signal.StatusExpired
	}
	if status == signal.StatusOpen {
		return
	}

	m.close(ctx, s, status, exitPrice, now)
}

// resolve maps an exit price onto a terminal status, stop-loss first.
func (m *Monitor) resolve(s *signal.Signal, exitPrice float64) signal.Status {
	if s.Direction == market.DirectionBuy {
		if exitPrice <= s.StopLoss {
			return signal.StatusSLHit
		}
		if exitPrice >= s.TakeProfit {
			return signal.StatusTPHit
		}
		return signal.StatusOpen
	}
	if exitPrice >= s.StopLoss {
		return signal.StatusSLHit
	}
	if exitPrice <= s.TakeProfit {
		return signal.StatusTPHit
	}
	return signal.StatusOpen
}

func (m *Monitor) close(ctx context.Context, s *signal.Signal, status signal.Status, exitPrice float64, now time.Time) {
	spec := market.Spec(s.Symbol)
	pips := s.PipsAt(exitPrice, spec)

	closed, err := m.store.Close(ctx, s.ID, status, exitPrice, pips, now)
	if err != nil {
		m.log.Error().Err(err).Str("signal_id", s.ID).Str("status", string(status)).
			Msg("closing signal failed")
		return
	}
	if !closed {
		// Another sweep won the race; the terminal state already stands.
		m.log.Debug().Str("signal_id", s.ID).Msg("signal already closed")
		return
	}

	m.log.Info().
		Str("signal_id", s.ID).
		Str("symbol", s.Symbol).
		Str("status", string(status)).
		Float64("close_price", exitPrice).
		Float64("pips", pips).
		Msg("signal closed")

	if m.OnClose != nil {
		closedAt := now
		c := *s
		c.Status = status
		c.ClosePrice = exitPrice
		c.PnLPips = pips
		c.ClosedAt = &closedAt
		m.OnClose(&c)
	}
}
