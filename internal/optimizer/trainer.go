package optimizer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"forex-signal-engine/internal/confluence"
	"forex-signal-engine/internal/logging"
	"forex-signal-engine/internal/regime"
)

// TrainerConfig tunes the periodic training sweep.
type TrainerConfig struct {
	// Interval is how often every context is revisited.
	Interval time.Duration
	// Symbols lists the instruments whose contexts get trained.
	Symbols []string
	// RunTimeout bounds one context's training pass.
	RunTimeout time.Duration
}

// DefaultTrainerConfig returns the stock sweep cadence.
func DefaultTrainerConfig() TrainerConfig {
	return TrainerConfig{
		Interval:   6 * time.Hour,
		RunTimeout: 2 * time.Minute,
	}
}

// trainedSessions are the sessions worth learning weights for. Weekend
// contexts never accumulate signals.
var trainedSessions = []regime.Session{
	regime.SessionAsia, regime.SessionLondon, regime.SessionOverlap, regime.SessionNewYork,
}

// tradeableRegimes are the labels signals can be emitted under.
var tradeableRegimes = []regime.Label{regime.Trend, regime.Range}

// Trainer periodically sweeps every (symbol, session, regime) context and
// retrains the ones with enough history.
type Trainer struct {
	opt *Optimizer
	cfg TrainerConfig
	log zerolog.Logger

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewTrainer creates a training sweep over the optimizer.
func NewTrainer(opt *Optimizer, cfg TrainerConfig) *Trainer {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultTrainerConfig().Interval
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = DefaultTrainerConfig().RunTimeout
	}
	return &Trainer{
		opt:      opt,
		cfg:      cfg,
		log:      logging.Component("trainer"),
		stopChan: make(chan struct{}),
	}
}

// Start launches the sweep loop.
func (t *Trainer) Start() error {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return fmt.Errorf("trainer already running")
	}
	t.running = true
	t.stopChan = make(chan struct{})
	t.mu.Unlock()

	t.log.Info().Dur("interval", t.cfg.Interval).Strs("symbols", t.cfg.Symbols).
		Msg("weight trainer started")

	t.wg.Add(1)
	go t.runLoop()
	return nil
}

// Stop halts the loop and waits for the in-flight sweep.
func (t *Trainer) Stop() error {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return fmt.Errorf("trainer not running")
	}
	t.running = false
	t.mu.Unlock()

	close(t.stopChan)
	t.wg.Wait()
	t.log.Info().Msg("weight trainer stopped")
	return nil
}

func (t *Trainer) runLoop() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.cfg.Interval)
	defer ticker.Stop()

	t.RunOnce(context.Background())

	for {
		select {
		case <-ticker.C:
			t.RunOnce(context.Background())
		case <-t.stopChan:
			return
		}
	}
}

// RunOnce trains every context one by one. Contexts without enough history
// or already being trained elsewhere are skipped quietly.
func (t *Trainer) RunOnce(ctx context.Context) {
	trained, skipped := 0, 0
	for _, symbol := range t.cfg.Symbols {
		for _, session := range trainedSessions {
			for _, label := range tradeableRegimes {
				key := confluence.Context{Symbol: symbol, Session: session, Regime: label}

				runCtx, cancel := context.WithTimeout(ctx, t.cfg.RunTimeout)
				res, err := t.opt.Optimize(runCtx, key)
				cancel()

				switch {
				case errors.Is(err, ErrInsufficientSamples), errors.Is(err, ErrTrainingInFlight):
					skipped++
				case err != nil:
					t.log.Error().Err(err).Str("context", key.Key()).Msg("training pass failed")
				case res.Applied:
					trained++
				default:
					skipped++
				}

				if ctx.Err() != nil {
					return
				}
			}
		}
	}
	t.log.Info().Int("trained", trained).Int("skipped", skipped).Msg("training sweep finished")
}
