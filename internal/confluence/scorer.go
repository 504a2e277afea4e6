package confluence

import (
	"math"

	"forex-signal-engine/internal/indicators"
	"forex-signal-engine/internal/market"
	"forex-signal-engine/internal/patterns"
	"forex-signal-engine/internal/regime"
)

// Config holds scorer tunables.
type Config struct {
	Base         float64 `json:"base"`          // starting score before contributions
	PenaltyRatio float64 `json:"penalty_ratio"` // fraction of the weight charged for a missing factor
	VolumeSpike  float64 `json:"volume_spike"`  // last/avg volume ratio that counts as a spike
}

// DefaultConfig returns the reference scoring parameters.
func DefaultConfig() Config {
	return Config{
		Base:         50,
		PenaltyRatio: 0.25,
		VolumeSpike:  1.5,
	}
}

// Input bundles everything one scoring pass needs. The scorer is pure: it
// reads the input and the weight vector, mutates nothing.
type Input struct {
	Symbol    string
	Direction market.Direction
	Price     float64
	Ind       map[market.Timeframe]*indicators.Set
	Regime    regime.Regime
	Pattern   *patterns.Detected
	KeyLevels []float64 // structural levels near which entries gain quality
}

// Scorer evaluates the ten confluence factors and folds them into a 0-100
// confidence score under a context-specific weight vector.
type Scorer struct {
	cfg Config
}

// NewScorer creates a scorer.
func NewScorer(cfg Config) *Scorer {
	return &Scorer{cfg: cfg}
}

// Score computes the confidence and the feature flags for one evaluation.
// Every factor contributes weight*ratio when present, scaled down to a
// penalty when absent; the three graded factors slide between the two ends
// so confidence moves continuously through their thresholds. The result is
// clamped to [0, 100].
func (s *Scorer) Score(in Input, w WeightVector) (float64, Flags) {
	m15 := in.Ind[market.TimeframeM15]
	m5 := in.Ind[market.TimeframeM5]
	h1 := in.Ind[market.TimeframeH1]

	flags := Flags{
		EMAAlignRatio: s.emaAlignRatio(m15, in.Direction),
		BBSignalRatio: s.bbSignalRatio(m15, in),
		PatternRatio:  s.patternRatio(in),
	}
	flags.HasEMAAlign = flags.EMAAlignRatio >= 0.5
	flags.HasBBSignal = flags.BBSignalRatio >= 0.5
	flags.HasPattern = flags.PatternRatio >= 0.5
	flags.HasPullback = s.hasPullback(m15, in)
	flags.HasRegimeAlign = s.hasRegimeAlign(in, flags)
	flags.HasMomentum = s.hasMomentum(m15, in.Direction)
	flags.HasSession = activeSession(in.Regime.Session)
	flags.HasKeyLevel = s.hasKeyLevel(m15, in)
	flags.HasVolume = s.hasVolumeSpike(m5)
	flags.HasH1Confirm = s.hasH1Confirm(h1, in.Direction)

	ratios := [NumFactors]float64{
		flags.EMAAlignRatio,
		flags.BBSignalRatio,
		flags.PatternRatio,
		boolRatio(flags.HasPullback),
		boolRatio(flags.HasRegimeAlign),
		boolRatio(flags.HasMomentum),
		boolRatio(flags.HasSession),
		boolRatio(flags.HasKeyLevel),
		boolRatio(flags.HasVolume),
		boolRatio(flags.HasH1Confirm),
	}

	confidence := s.cfg.Base
	weights := w.Slice()
	for i, ratio := range ratios {
		// ratio=1 adds the full weight, ratio=0 charges the penalty,
		// intermediate ratios interpolate linearly.
		confidence += weights[i] * (ratio*(1+s.cfg.PenaltyRatio) - s.cfg.PenaltyRatio)
	}

	return clamp(confidence, 0, 100), flags
}

// emaAlignRatio grades the fast/slow EMA separation relative to ATR. 0.5 is
// the crossover itself; a full ATR of separation in the trade direction
// saturates at 1.
func (s *Scorer) emaAlignRatio(m15 *indicators.Set, dir market.Direction) float64 {
	if m15 == nil || !m15.Has("ema_fast") || !m15.Has("ema_slow") || !m15.Has("atr") {
		return 0
	}
	sep := (m15.EMAFast - m15.EMASlow) / m15.ATR
	if dir == market.DirectionSell {
		sep = -sep
	}
	return clamp(0.5+sep/2, 0, 1)
}

// bbSignalRatio grades price position inside the Bollinger envelope. In a
// ranging market the trigger is the outer band opposite the trade (mean
// reversion); in a trend it is holding beyond the middle band.
func (s *Scorer) bbSignalRatio(m15 *indicators.Set, in Input) float64 {
	if m15 == nil || !m15.Has("bb_upper") || !m15.Has("bb_lower") {
		return 0
	}
	upperHalf := m15.BBUpper - m15.BBMiddle
	lowerHalf := m15.BBMiddle - m15.BBLower
	if upperHalf <= 0 || lowerHalf <= 0 {
		return 0
	}

	if in.Regime.Label == regime.Range {
		// Buying near the lower band, selling near the upper.
		if in.Direction == market.DirectionBuy {
			return clamp((m15.BBMiddle-in.Price)/lowerHalf, 0, 1)
		}
		return clamp((in.Price-m15.BBMiddle)/upperHalf, 0, 1)
	}
	// Trend continuation: price on the trade side of the middle band.
	if in.Direction == market.DirectionBuy {
		return clamp(0.5+(in.Price-m15.BBMiddle)/(2*upperHalf), 0, 1)
	}
	return clamp(0.5+(m15.BBMiddle-in.Price)/(2*lowerHalf), 0, 1)
}

func (s *Scorer) patternRatio(in Input) float64 {
	if in.Pattern == nil || in.Pattern.Direction != in.Direction {
		return 0
	}
	return clamp(in.Pattern.Strength, 0, 1)
}

// hasPullback checks that price has retraced into the fast EMA while the
// slow EMA still holds the trade side: the classic trend-pullback entry.
func (s *Scorer) hasPullback(m15 *indicators.Set, in Input) bool {
	if m15 == nil || !m15.Has("ema_fast") || !m15.Has("ema_slow") || !m15.Has("atr") {
		return false
	}
	nearFast := math.Abs(in.Price-m15.EMAFast) <= 0.3*m15.ATR
	if in.Direction == market.DirectionBuy {
		return nearFast && in.Price > m15.EMASlow
	}
	return nearFast && in.Price < m15.EMASlow
}

func (s *Scorer) hasRegimeAlign(in Input, flags Flags) bool {
	switch in.Regime.OpenBreakout {
	case regime.BreakoutBullish:
		return in.Direction == market.DirectionBuy
	case regime.BreakoutBearish:
		return in.Direction == market.DirectionSell
	}
	switch in.Regime.Label {
	case regime.Trend:
		return flags.EMAAlignRatio >= 0.5
	case regime.Range:
		return flags.BBSignalRatio >= 0.5
	}
	return false
}

// hasMomentum wants RSI on the trade side of 50 but not yet exhausted.
func (s *Scorer) hasMomentum(m15 *indicators.Set, dir market.Direction) bool {
	if m15 == nil || !m15.Has("rsi") {
		return false
	}
	if dir == market.DirectionBuy {
		return m15.RSI > 50 && m15.RSI < 72
	}
	return m15.RSI < 50 && m15.RSI > 28
}

func activeSession(s regime.Session) bool {
	switch s {
	case regime.SessionLondon, regime.SessionOverlap, regime.SessionNewYork:
		return true
	}
	return false
}

// hasKeyLevel fires when a structural level sits within half an ATR of the
// entry price.
func (s *Scorer) hasKeyLevel(m15 *indicators.Set, in Input) bool {
	if m15 == nil || !m15.Has("atr") || len(in.KeyLevels) == 0 {
		return false
	}
	for _, level := range in.KeyLevels {
		if math.Abs(in.Price-level) <= 0.5*m15.ATR {
			return true
		}
	}
	return false
}

func (s *Scorer) hasVolumeSpike(m5 *indicators.Set) bool {
	if m5 == nil || m5.AvgVolume <= 0 {
		return false
	}
	return m5.LastVolume >= s.cfg.VolumeSpike*m5.AvgVolume
}

func (s *Scorer) hasH1Confirm(h1 *indicators.Set, dir market.Direction) bool {
	if h1 == nil || !h1.Has("ema_fast") || !h1.Has("ema_slow") {
		return false
	}
	if dir == market.DirectionBuy {
		return h1.EMAFast > h1.EMASlow
	}
	return h1.EMAFast < h1.EMASlow
}

func boolRatio(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
