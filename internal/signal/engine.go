package signal

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"forex-signal-engine/internal/confluence"
	"forex-signal-engine/internal/indicators"
	"forex-signal-engine/internal/logging"
	"forex-signal-engine/internal/market"
	"forex-signal-engine/internal/patterns"
	"forex-signal-engine/internal/regime"
	"forex-signal-engine/internal/risk"
)

// Store persists newly assembled signals.
type Store interface {
	Insert(ctx context.Context, s *Signal) error
}

// WeightSource resolves the scoring weights for a context, falling back to
// defaults when no trained vector exists.
type WeightSource interface {
	Weights(ctx context.Context, key confluence.Context) (confluence.WeightVector, error)
}

// StaticWeights is a WeightSource that always answers with the same vector.
// Used when no database is wired and in tests.
type StaticWeights struct {
	W confluence.WeightVector
}

func (s StaticWeights) Weights(context.Context, confluence.Context) (confluence.WeightVector, error) {
	return s.W, nil
}

// Evaluation is the outcome of one engine pass over a symbol. Exactly one of
// Signal or Reason is meaningful: a nil Signal carries the reject reason.
type Evaluation struct {
	Symbol     string        `json:"symbol"`
	Signal     *Signal       `json:"signal,omitempty"`
	Reason     RejectReason  `json:"reason,omitempty"`
	Regime     regime.Regime `json:"regime"`
	Confidence float64       `json:"confidence"`
}

// Engine runs the full evaluation pipeline: snapshot, indicators, regime,
// direction candidate, confluence score, risk levels, assembly, persistence.
type Engine struct {
	provider   market.SnapshotProvider
	classifier *regime.Classifier
	detector   *patterns.Detector
	scorer     *confluence.Scorer
	riskMgr    *risk.Manager
	assembler  *Assembler
	weights    WeightSource
	store      Store
	params     indicators.Params
	log        zerolog.Logger
}

// EngineDeps bundles the engine's collaborators. Store may be nil, in which
// case signals are returned but not persisted.
type EngineDeps struct {
	Provider   market.SnapshotProvider
	Classifier *regime.Classifier
	Detector   *patterns.Detector
	Scorer     *confluence.Scorer
	Risk       *risk.Manager
	Assembler  *Assembler
	Weights    WeightSource
	Store      Store
	Params     indicators.Params
}

// NewEngine wires an evaluation engine.
func NewEngine(d EngineDeps) *Engine {
	if d.Weights == nil {
		d.Weights = StaticWeights{W: confluence.DefaultWeights()}
	}
	return &Engine{
		provider:   d.Provider,
		classifier: d.Classifier,
		detector:   d.Detector,
		scorer:     d.Scorer,
		riskMgr:    d.Risk,
		assembler:  d.Assembler,
		weights:    d.Weights,
		store:      d.Store,
		params:     d.Params,
		log:        logging.Component("engine"),
	}
}

// Evaluate runs one pipeline pass for the symbol. Data failures return an
// error wrapping market.ErrDataUnavailable; everything downstream of a good
// snapshot resolves to an Evaluation, signal or not.
func (e *Engine) Evaluate(ctx context.Context, symbol string) (*Evaluation, error) {
	snap, err := e.provider.GetSnapshot(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("evaluate %s: %w", symbol, err)
	}

	ind, err := indicators.ComputeAll(snap, e.params)
	if err != nil {
		return nil, fmt.Errorf("evaluate %s: %w", symbol, err)
	}

	m15 := ind[market.TimeframeM15]
	price := snap.Quote.Mid()

	reg := e.classifier.Classify(m15, snap.FetchedAt)
	reg.OpenBreakout = e.classifier.DetectBreakout(
		snap.Series(market.TimeframeM15), snap.FetchedAt, price)

	eval := &Evaluation{Symbol: symbol, Regime: reg}
	if !reg.DataOK {
		eval.Reason = RejectDataQuality
		e.log.Warn().Str("symbol", symbol).Strs("degraded", m15.Degraded).
			Msg("regime inputs degraded, skipping evaluation")
		return eval, nil
	}
	if !reg.Tradeable() {
		eval.Reason = RejectUncertain
		e.log.Debug().Str("symbol", symbol).
			Float64("adx", reg.ADX).Float64("choppiness", reg.Choppiness).
			Msg("uncertain regime, no signal")
		return eval, nil
	}

	dir, ok := e.directionCandidate(reg, m15, price)
	if !ok {
		eval.Reason = RejectLowConfidence
		return eval, nil
	}

	spec := market.Spec(symbol)
	structural := risk.ComputeStructural(
		snap.Series(market.TimeframeH1), spec, snap.FetchedAt, price)

	pattern := e.detector.Detect(snap.Series(market.TimeframeM15))

	w, err := e.weights.Weights(ctx, confluence.Context{
		Symbol:  symbol,
		Session: reg.Session,
		Regime:  reg.Label,
	})
	if err != nil {
		e.log.Warn().Err(err).Str("symbol", symbol).
			Msg("weight lookup failed, using defaults")
		w = confluence.DefaultWeights()
	}

	confidence, flags := e.scorer.Score(confluence.Input{
		Symbol:    symbol,
		Direction: dir,
		Price:     price,
		Ind:       ind,
		Regime:    reg,
		Pattern:   pattern,
		KeyLevels: structural.All(),
	}, w)
	eval.Confidence = confidence

	entry := snap.Quote.Ask
	if dir == market.DirectionSell {
		entry = snap.Quote.Bid
	}
	levels := e.riskMgr.ComputeLevels(
		entry, dir, m15.ATR, snap.Quote.Spread(), reg, structural, spec)

	sig, reason := e.assembler.Assemble(Candidate{
		Symbol:     symbol,
		Direction:  dir,
		Entry:      entry,
		Confidence: confidence,
		Flags:      flags,
		Regime:     reg,
		Levels:     levels,
	})
	if sig == nil {
		eval.Reason = reason
		e.log.Debug().Str("symbol", symbol).Str("reason", string(reason)).
			Float64("confidence", confidence).Msg("candidate rejected")
		return eval, nil
	}

	if e.store != nil {
		if err := e.store.Insert(ctx, sig); err != nil {
			return nil, fmt.Errorf("persist signal %s: %w", sig.ID, err)
		}
	}

	e.log.Info().
		Str("symbol", symbol).
		Str("signal_id", sig.ID).
		Str("direction", string(sig.Direction)).
		Float64("confidence", sig.Confidence).
		Float64("entry", sig.Entry).
		Float64("stop_loss", sig.StopLoss).
		Float64("take_profit", sig.TakeProfit).
		Str("regime", string(sig.Regime)).
		Msg("signal emitted")

	eval.Signal = sig
	return eval, nil
}

// directionCandidate proposes a trade direction from the regime. Breakouts
// dominate; trends follow the fast/slow EMA order; ranges fade toward the
// Bollinger middle band. No candidate means no signal this tick.
func (e *Engine) directionCandidate(reg regime.Regime, m15 *indicators.Set, price float64) (market.Direction, bool) {
	switch reg.OpenBreakout {
	case regime.BreakoutBullish:
		return market.DirectionBuy, true
	case regime.BreakoutBearish:
		return market.DirectionSell, true
	}

	switch reg.Label {
	case regime.Trend:
		if !m15.Has("ema_fast") || !m15.Has("ema_slow") {
			return "", false
		}
		if m15.EMAFast > m15.EMASlow {
			return market.DirectionBuy, true
		}
		if m15.EMAFast < m15.EMASlow {
			return market.DirectionSell, true
		}
	case regime.Range:
		if !m15.Has("bb_mid") {
			return "", false
		}
		if price < m15.BBMiddle {
			return market.DirectionBuy, true
		}
		if price > m15.BBMiddle {
			return market.DirectionSell, true
		}
	}
	return "", false
}
