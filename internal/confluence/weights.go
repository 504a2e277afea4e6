package confluence

import (
	"fmt"

	"forex-signal-engine/internal/regime"
)

// NumFactors is the fixed size of the confluence feature space. The scorer's
// flags and the optimizer's weight vectors must always agree on this shape.
const NumFactors = 10

// Factor names in canonical slice order.
const (
	FactorEMAAlign    = "ema_align"
	FactorBBSignal    = "bb_signal"
	FactorPattern     = "pattern"
	FactorPullback    = "pullback"
	FactorRegimeAlign = "regime_align"
	FactorMomentum    = "momentum"
	FactorSession     = "session"
	FactorKeyLevel    = "key_level"
	FactorVolume      = "volume"
	FactorH1Confirm   = "h1_confirm"
)

// FactorNames lists all factors in canonical order.
var FactorNames = [NumFactors]string{
	FactorEMAAlign, FactorBBSignal, FactorPattern, FactorPullback,
	FactorRegimeAlign, FactorMomentum, FactorSession, FactorKeyLevel,
	FactorVolume, FactorH1Confirm,
}

// Context is the key under which confluence weights are trained and looked
// up: one weight vector per (symbol, session, regime).
type Context struct {
	Symbol  string         `json:"symbol"`
	Session regime.Session `json:"session"`
	Regime  regime.Label   `json:"regime"`
}

// Key renders the context as a stable string for locks and cache keys.
func (c Context) Key() string {
	return fmt.Sprintf("%s:%s:%s", c.Symbol, c.Session, c.Regime)
}

// WeightVector holds one non-negative weight per confluence factor.
type WeightVector struct {
	EMAAlign    float64 `json:"ema_align"`
	BBSignal    float64 `json:"bb_signal"`
	Pattern     float64 `json:"pattern"`
	Pullback    float64 `json:"pullback"`
	RegimeAlign float64 `json:"regime_align"`
	Momentum    float64 `json:"momentum"`
	Session     float64 `json:"session"`
	KeyLevel    float64 `json:"key_level"`
	Volume      float64 `json:"volume"`
	H1Confirm   float64 `json:"h1_confirm"`
}

// DefaultWeights is the process-wide fallback used until a context has been
// trained. The values are empirically reasonable priors, not a contract.
func DefaultWeights() WeightVector {
	return WeightVector{
		EMAAlign:    25,
		BBSignal:    18,
		Pattern:     15,
		Pullback:    12,
		RegimeAlign: 12,
		Momentum:    10,
		Session:     8,
		KeyLevel:    8,
		Volume:      5,
		H1Confirm:   5,
	}
}

// Slice returns the weights in canonical factor order.
func (w WeightVector) Slice() [NumFactors]float64 {
	return [NumFactors]float64{
		w.EMAAlign, w.BBSignal, w.Pattern, w.Pullback, w.RegimeAlign,
		w.Momentum, w.Session, w.KeyLevel, w.Volume, w.H1Confirm,
	}
}

// FromSlice rebuilds a vector from canonical factor order.
func FromSlice(s [NumFactors]float64) WeightVector {
	return WeightVector{
		EMAAlign:    s[0],
		BBSignal:    s[1],
		Pattern:     s[2],
		Pullback:    s[3],
		RegimeAlign: s[4],
		Momentum:    s[5],
		Session:     s[6],
		KeyLevel:    s[7],
		Volume:      s[8],
		H1Confirm:   s[9],
	}
}

// Validate rejects vectors with negative weights.
func (w WeightVector) Validate() error {
	for i, v := range w.Slice() {
		if v < 0 {
			return fmt.Errorf("weight %s is negative: %f", FactorNames[i], v)
		}
	}
	return nil
}

// Flags is the per-evaluation confluence feature vector: one boolean per
// factor plus the graded ratios behind the partial-credit factors. The
// booleans are what gets persisted with a signal and what the optimizer
// trains on.
type Flags struct {
	HasEMAAlign    bool `json:"has_ema_align"`
	HasBBSignal    bool `json:"has_bb_signal"`
	HasPattern     bool `json:"has_pattern"`
	HasPullback    bool `json:"has_pullback"`
	HasRegimeAlign bool `json:"has_regime_align"`
	HasMomentum    bool `json:"has_momentum"`
	HasSession     bool `json:"has_session"`
	HasKeyLevel    bool `json:"has_key_level"`
	HasVolume      bool `json:"has_volume"`
	HasH1Confirm   bool `json:"has_h1_confirm"`

	EMAAlignRatio float64 `json:"ema_align_ratio"`
	BBSignalRatio float64 `json:"bb_signal_ratio"`
	PatternRatio  float64 `json:"pattern_ratio"`
}

// Vector returns the flags as a binary feature vector in canonical order.
func (f Flags) Vector() [NumFactors]float64 {
	bits := [NumFactors]bool{
		f.HasEMAAlign, f.HasBBSignal, f.HasPattern, f.HasPullback,
		f.HasRegimeAlign, f.HasMomentum, f.HasSession, f.HasKeyLevel,
		f.HasVolume, f.HasH1Confirm,
	}
	var out [NumFactors]float64
	for i, b := range bits {
		if b {
			out[i] = 1
		}
	}
	return out
}

// Count returns how many factors fired.
func (f Flags) Count() int {
	n := 0
	for _, v := range f.Vector() {
		if v == 1 {
			n++
		}
	}
	return n
}
