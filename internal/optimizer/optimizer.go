package optimizer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"forex-signal-engine/internal/confluence"
	"forex-signal-engine/internal/logging"
	"forex-signal-engine/internal/signal"
)

// ErrInsufficientSamples reports that a context does not yet have enough
// closed signals to train on. Not an operational failure.
var ErrInsufficientSamples = errors.New("insufficient training samples")

// ErrTrainingInFlight reports that another process holds the training lock
// for the context.
var ErrTrainingInFlight = errors.New("training already in flight")

// SignalSource supplies closed signals for a training context.
type SignalSource interface {
	ListClosedByContext(ctx context.Context, key confluence.Context, since time.Time) ([]*signal.Signal, error)
}

// WeightStore reads and atomically replaces context weight vectors. Replace
// must write the new vector and the training log entry in one transaction.
type WeightStore interface {
	Weights(ctx context.Context, key confluence.Context) (confluence.WeightVector, error)
	Replace(ctx context.Context, key confluence.Context, w confluence.WeightVector, entry signal.TrainingLogEntry) error
}

// Locker serializes training per context across processes. TryLock returns
// acquired=false without blocking when the lock is held elsewhere.
type Locker interface {
	TryLock(ctx context.Context, key string) (release func(), acquired bool, err error)
}

// NopLocker is a Locker that always grants the lock. Single-process setups
// and tests use it.
type NopLocker struct{}

func (NopLocker) TryLock(context.Context, string) (func(), bool, error) {
	return func() {}, true, nil
}

// Config tunes the weight optimizer.
type Config struct {
	// MinSamples is the floor of closed signals a context needs before any
	// training happens.
	MinSamples int
	// Window is the trailing period of closed signals to train on.
	Window time.Duration
	// Iterations is the fixed gradient-ascent budget per run.
	Iterations int
	// LearningRate scales each gradient step.
	LearningRate float64
	// ProbeStep is the finite-difference step used to estimate gradients.
	ProbeStep float64
	// ValidationFraction of samples is held out to accept or reject the
	// trained vector.
	ValidationFraction float64
	// MinImprovement is the validation-objective gain required before the
	// trained vector replaces the current one.
	MinImprovement float64
	// MaxWeight caps any single factor weight.
	MaxWeight float64
	// ConfidenceFloor mirrors the emission threshold: a historical sample
	// counts as taken when its re-scored confidence clears it.
	ConfidenceFloor float64
	// Temperature softens the take/skip threshold during training. The hard
	// threshold makes the objective piecewise constant, which starves the
	// gradient; the sigmoid relaxation keeps it differentiable.
	Temperature float64
	// WinRateWeight and PipsWeight blend the two objective terms.
	WinRateWeight float64
	PipsWeight    float64
	// Seed fixes the sample shuffle so a run is reproducible.
	Seed int64
}

// DefaultConfig returns the stock training parameters.
func DefaultConfig() Config {
	return Config{
		MinSamples:         50,
		Window:             30 * 24 * time.Hour,
		Iterations:         150,
		LearningRate:       15.0,
		ProbeStep:          1.0,
		ValidationFraction: 0.2,
		MinImprovement:     0.005,
		MaxWeight:          50,
		ConfidenceFloor:    40,
		Temperature:        8.0,
		WinRateWeight:      0.7,
		PipsWeight:         0.3,
		Seed:               42,
	}
}

// Result summarizes one training run.
type Result struct {
	Context         confluence.Context      `json:"context"`
	Before          confluence.WeightVector `json:"before"`
	After           confluence.WeightVector `json:"after"`
	ObjectiveBefore float64                 `json:"objective_before"`
	ObjectiveAfter  float64                 `json:"objective_after"`
	WinRateBefore   float64                 `json:"win_rate_before"`
	WinRateAfter    float64                 `json:"win_rate_after"`
	Samples         int                     `json:"samples"`
	Applied         bool                    `json:"applied"`
}

// sample is one closed signal reduced to what the objective needs.
type sample struct {
	features [confluence.NumFactors]float64
	win      bool
	pips     float64
}

// Optimizer trains context weight vectors by projected gradient ascent over
// the historical outcomes of the context's closed signals.
type Optimizer struct {
	signals SignalSource
	weights WeightStore
	locker  Locker
	cfg     Config
	scorer  confluence.Config
	log     zerolog.Logger
	now     func() time.Time
}

// New creates an optimizer. The scorer config must match the live scorer so
// re-scored historical confidences line up with what was emitted.
func New(signals SignalSource, weights WeightStore, locker Locker, cfg Config, scorer confluence.Config) *Optimizer {
	if locker == nil {
		locker = NopLocker{}
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = DefaultConfig().MinSamples
	}
	if cfg.Iterations <= 0 {
		cfg.Iterations = DefaultConfig().Iterations
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = DefaultConfig().Temperature
	}
	return &Optimizer{
		signals: signals,
		weights: weights,
		locker:  locker,
		cfg:     cfg,
		scorer:  scorer,
		log:     logging.Component("optimizer"),
		now:     time.Now,
	}
}

// Optimize runs one training pass for a context. It returns
// ErrInsufficientSamples when the context has too little history and
// ErrTrainingInFlight when another run holds the context lock. The trained
// vector is applied only when it beats the current one on held-out samples.
func (o *Optimizer) Optimize(ctx context.Context, key confluence.Context) (*Result, error) {
	release, acquired, err := o.locker.TryLock(ctx, "train:"+key.Key())
	if err != nil {
		return nil, fmt.Errorf("acquire training lock %s: %w", key.Key(), err)
	}
	if !acquired {
		return nil, fmt.Errorf("%w: %s", ErrTrainingInFlight, key.Key())
	}
	defer release()

	since := o.now().UTC().Add(-o.cfg.Window)
	closed, err := o.signals.ListClosedByContext(ctx, key, since)
	if err != nil {
		return nil, fmt.Errorf("load training data %s: %w", key.Key(), err)
	}
	if len(closed) < o.cfg.MinSamples {
		return nil, fmt.Errorf("%w: %s has %d closed signals, need %d",
			ErrInsufficientSamples, key.Key(), len(closed), o.cfg.MinSamples)
	}

	samples := make([]sample, len(closed))
	for i, s := range closed {
		samples[i] = sample{
			features: s.Flags.Vector(),
			win:      s.Win(),
			pips:     s.PnLPips,
		}
	}

	rng := rand.New(rand.NewSource(o.cfg.Seed))
	rng.Shuffle(len(samples), func(i, j int) {
		samples[i], samples[j] = samples[j], samples[i]
	})
	holdout := int(float64(len(samples)) * o.cfg.ValidationFraction)
	if holdout < 1 {
		holdout = 1
	}
	validation := samples[:holdout]
	training := samples[holdout:]

	current, err := o.weights.Weights(ctx, key)
	if err != nil {
		o.log.Warn().Err(err).Str("context", key.Key()).
			Msg("weight lookup failed, training from defaults")
		current = confluence.DefaultWeights()
	}

	trained := o.ascend(current.Slice(), training)

	res := &Result{
		Context:         key,
		Before:          current,
		After:           confluence.FromSlice(trained),
		ObjectiveBefore: o.objective(current.Slice(), validation),
		ObjectiveAfter:  o.objective(trained, validation),
		WinRateBefore:   o.winRate(current.Slice(), validation),
		WinRateAfter:    o.winRate(trained, validation),
		Samples:         len(samples),
	}

	if res.ObjectiveAfter-res.ObjectiveBefore < o.cfg.MinImprovement {
		o.log.Info().Str("context", key.Key()).
			Float64("objective_before", res.ObjectiveBefore).
			Float64("objective_after", res.ObjectiveAfter).
			Int("samples", res.Samples).
			Msg("trained vector did not beat holdout, keeping current weights")
		return res, nil
	}

	if err := res.After.Validate(); err != nil {
		return nil, fmt.Errorf("trained vector invalid for %s: %w", key.Key(), err)
	}

	entry := signal.TrainingLogEntry{
		Context:       key,
		WinRateBefore: res.WinRateBefore,
		WinRateAfter:  res.WinRateAfter,
		Improvement:   res.ObjectiveAfter - res.ObjectiveBefore,
		Samples:       res.Samples,
		TrainedAt:     o.now().UTC(),
	}
	if err := o.weights.Replace(ctx, key, res.After, entry); err != nil {
		return nil, fmt.Errorf("replace weights %s: %w", key.Key(), err)
	}
	res.Applied = true

	o.log.Info().Str("context", key.Key()).
		Float64("win_rate_before", res.WinRateBefore).
		Float64("win_rate_after", res.WinRateAfter).
		Float64("improvement", entry.Improvement).
		Int("samples", res.Samples).
		Msg("context weights retrained")
	return res, nil
}

// ascend runs the fixed-budget projected gradient ascent. Gradients are
// secant estimates with a coarse probe step, since the objective is
// piecewise constant in any single weight.
func (o *Optimizer) ascend(w [confluence.NumFactors]float64, training []sample) [confluence.NumFactors]float64 {
	for iter := 0; iter < o.cfg.Iterations; iter++ {
		var grad [confluence.NumFactors]float64
		moved := false
		for i := range w {
			up := w
			up[i] += o.cfg.ProbeStep
			down := w
			down[i] -= o.cfg.ProbeStep
			if down[i] < 0 {
				down[i] = 0
			}
			grad[i] = (o.objective(up, training) - o.objective(down, training)) / (2 * o.cfg.ProbeStep)
			if grad[i] != 0 {
				moved = true
			}
		}
		if !moved {
			break
		}
		for i := range w {
			w[i] += o.cfg.LearningRate * grad[i]
			if w[i] < 0 {
				w[i] = 0
			}
			if w[i] > o.cfg.MaxWeight {
				w[i] = o.cfg.MaxWeight
			}
		}
	}
	return w
}

// objective blends the win rate and the normalized average pips of the
// signals a weight vector would take, with each sample weighted by its soft
// take probability. A vector that takes nothing scores zero.
func (o *Optimizer) objective(w [confluence.NumFactors]float64, samples []sample) float64 {
	var mass, wins, pips float64
	for _, s := range samples {
		p := o.takeProbability(w, s)
		mass += p
		pips += p * s.pips
		if s.win {
			wins += p
		}
	}
	if mass < 1e-9 {
		return 0
	}
	winRate := wins / mass
	pipsScore := clamp01(0.5 + pips/mass/100)
	return o.cfg.WinRateWeight*winRate + o.cfg.PipsWeight*pipsScore
}

// takeProbability is the sigmoid relaxation of "confidence clears the floor".
func (o *Optimizer) takeProbability(w [confluence.NumFactors]float64, s sample) float64 {
	return 1 / (1 + math.Exp(-(o.confidence(w, s)-o.cfg.ConfidenceFloor)/o.cfg.Temperature))
}

func (o *Optimizer) confidence(w [confluence.NumFactors]float64, s sample) float64 {
	confidence := o.scorer.Base
	for i, v := range s.features {
		confidence += w[i] * (v*(1+o.scorer.PenaltyRatio) - o.scorer.PenaltyRatio)
	}
	return confidence
}

func (o *Optimizer) winRate(w [confluence.NumFactors]float64, samples []sample) float64 {
	taken, wins, _ := o.replay(w, samples)
	if taken == 0 {
		return 0
	}
	return float64(wins) / float64(taken)
}

// replay re-scores each historical sample under the candidate weights with
// the hard emission threshold. Used for the reported win rates, not for the
// gradient.
func (o *Optimizer) replay(w [confluence.NumFactors]float64, samples []sample) (taken, wins int, pips float64) {
	for _, s := range samples {
		if o.confidence(w, s) < o.cfg.ConfidenceFloor {
			continue
		}
		taken++
		pips += s.pips
		if s.win {
			wins++
		}
	}
	return taken, wins, pips
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
