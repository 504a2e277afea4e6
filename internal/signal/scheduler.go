package signal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"forex-signal-engine/internal/logging"
)

// SchedulerConfig tunes the evaluation sweep.
type SchedulerConfig struct {
	// Interval is how often every symbol is re-evaluated.
	Interval time.Duration
	// Symbols are the instruments swept each cycle.
	Symbols []string
	// MaxConcurrent caps symbols evaluated in parallel.
	MaxConcurrent int
	// EvalTimeout bounds one symbol's pipeline pass.
	EvalTimeout time.Duration
}

// DefaultSchedulerConfig returns the stock sweep cadence.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Interval:      time.Minute,
		MaxConcurrent: 4,
		EvalTimeout:   30 * time.Second,
	}
}

// Scheduler periodically runs the evaluation pipeline over every configured
// symbol. Emitted signals are handed to the OnSignal hook.
type Scheduler struct {
	engine *Engine
	cfg    SchedulerConfig
	log    zerolog.Logger

	// OnSignal, when set, receives every emitted signal after persistence.
	OnSignal func(*Signal)

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewScheduler creates an evaluation scheduler.
func NewScheduler(engine *Engine, cfg SchedulerConfig) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultSchedulerConfig().Interval
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultSchedulerConfig().MaxConcurrent
	}
	if cfg.EvalTimeout <= 0 {
		cfg.EvalTimeout = DefaultSchedulerConfig().EvalTimeout
	}
	return &Scheduler{
		engine:   engine,
		cfg:      cfg,
		log:      logging.Component("scheduler"),
		stopChan: make(chan struct{}),
	}
}

// Start launches the sweep loop.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	s.running = true
	s.stopChan = make(chan struct{})
	s.mu.Unlock()

	s.log.Info().Dur("interval", s.cfg.Interval).Strs("symbols", s.cfg.Symbols).
		Msg("evaluation scheduler started")

	s.wg.Add(1)
	go s.runLoop()
	return nil
}

// Stop halts the loop and waits for the in-flight sweep to finish.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler not running")
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopChan)
	s.wg.Wait()
	s.log.Info().Msg("evaluation scheduler stopped")
	return nil
}

func (s *Scheduler) runLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.RunOnce(context.Background())

	for {
		select {
		case <-ticker.C:
			s.RunOnce(context.Background())
		case <-s.stopChan:
			return
		}
	}
}

// RunOnce evaluates every symbol once. Failures are per-symbol: one bad feed
// never blocks the rest of the sweep.
func (s *Scheduler) RunOnce(ctx context.Context) {
	semaphore := make(chan struct{}, s.cfg.MaxConcurrent)
	var wg sync.WaitGroup

	for _, symbol := range s.cfg.Symbols {
		wg.Add(1)
		semaphore <- struct{}{}

		go func(sym string) {
			defer wg.Done()
			defer func() { <-semaphore }()
			defer func() {
				if r := recover(); r != nil {
					s.log.Error().Str("symbol", sym).Interface("panic", r).
						Msg("panic recovered during evaluation")
				}
			}()

			evalCtx, cancel := context.WithTimeout(ctx, s.cfg.EvalTimeout)
			defer cancel()

			eval, err := s.engine.Evaluate(evalCtx, sym)
			if err != nil {
				s.log.Warn().Err(err).Str("symbol", sym).Msg("evaluation failed")
				return
			}
			if eval.Signal != nil && s.OnSignal != nil {
				s.OnSignal(eval.Signal)
			}
		}(symbol)
	}

	wg.Wait()
}
