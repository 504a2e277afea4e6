package risk

import (
	"math"

	"forex-signal-engine/internal/market"
	"forex-signal-engine/internal/regime"
)

// Config holds the stop and target tunables. The observed production values
// are defaults, not a functional contract.
type Config struct {
	ATRMultiplier    float64 `json:"atr_multiplier"`    // SL distance = ATR * this
	SpreadMultiplier float64 `json:"spread_multiplier"` // SL floor from spread
	RewardTrend      float64 `json:"reward_trend"`      // TP multiple in trending regimes
	RewardRange      float64 `json:"reward_range"`      // TP multiple in ranging regimes
	RewardFallback   float64 `json:"reward_fallback"`   // TP multiple when regime is unknown
	MinRewardRisk    float64 `json:"min_reward_risk"`   // floor a snapped target must keep
}

// DefaultConfig returns the reference risk parameters.
func DefaultConfig() Config {
	return Config{
		ATRMultiplier:    2.0,
		SpreadMultiplier: 1.5,
		RewardTrend:      2.0,
		RewardRange:      1.5,
		RewardFallback:   1.2,
		MinRewardRisk:    1.0,
	}
}

// Levels is the computed stop-loss/take-profit pair for an entry.
type Levels struct {
	StopLoss      float64 `json:"stop_loss"`
	TakeProfit    float64 `json:"take_profit"`
	StopDistance  float64 `json:"stop_distance"`
	TPDistance    float64 `json:"tp_distance"`
	RewardRisk    float64 `json:"reward_risk"`
	SnappedTo     float64 `json:"snapped_to,omitempty"` // structural level the TP snapped to
	LowConfidence bool    `json:"low_confidence"`       // ATR missing, floor-only stop
}

// Manager derives risk-managed exit levels from volatility, spread and
// market structure.
type Manager struct {
	cfg Config
}

// NewManager creates a risk manager.
func NewManager(cfg Config) *Manager {
	return &Manager{cfg: cfg}
}

// ComputeLevels derives the stop-loss and take-profit for an entry.
//
// The stop distance is the widest of the ATR-scaled stop, the symbol-class
// minimum, and the spread-scaled floor. The target starts at the
// regime-keyed reward multiple and may snap to a structural level sitting
// between entry and target, as long as the reward:risk floor survives. The
// returned pair always satisfies RewardRisk >= MinRewardRisk.
func (m *Manager) ComputeLevels(
	entry float64,
	dir market.Direction,
	atrM15 float64,
	spread float64,
	reg regime.Regime,
	structural StructuralLevels,
	spec market.SymbolSpec,
) Levels {
	minDistance := spec.PipsToPrice(spec.MinStopPips)

	var lv Levels
	stop := math.Max(atrM15*m.cfg.ATRMultiplier, minDistance)
	stop = math.Max(stop, spread*m.cfg.SpreadMultiplier)
	if atrM15 <= 0 {
		stop = math.Max(minDistance, spread*m.cfg.SpreadMultiplier)
		lv.LowConfidence = true
	}

	if maxDistance := spec.PipsToPrice(spec.MaxStopPips); maxDistance > 0 && stop > maxDistance {
		stop = maxDistance
	}

	target := stop * m.rewardRatio(reg)
	lv.StopDistance = stop
	lv.TPDistance = target

	if snapped, level, ok := m.snapTarget(entry, dir, stop, target, structural); ok {
		lv.TPDistance = snapped
		lv.SnappedTo = level
	}

	if dir == market.DirectionBuy {
		lv.StopLoss = entry - stop
		lv.TakeProfit = entry + lv.TPDistance
	} else {
		lv.StopLoss = entry + stop
		lv.TakeProfit = entry - lv.TPDistance
	}
	lv.RewardRisk = lv.TPDistance / stop
	return lv
}

func (m *Manager) rewardRatio(reg regime.Regime) float64 {
	switch reg.Label {
	case regime.Trend:
		return m.cfg.RewardTrend
	case regime.Range:
		return m.cfg.RewardRange
	default:
		return m.cfg.RewardFallback
	}
}

// snapTarget looks for the structural level nearest to the ATR target that
// sits between entry and target. The snap is rejected when it would pull
// reward:risk below the floor; the caller then keeps the pure ATR target.
func (m *Manager) snapTarget(entry float64, dir market.Direction, stop, target float64, structural StructuralLevels) (float64, float64, bool) {
	bestDistance := 0.0
	bestLevel := 0.0
	found := false

	for _, level := range structural.All() {
		var distance float64
		if dir == market.DirectionBuy {
			distance = level - entry
		} else {
			distance = entry - level
		}
		// Only levels strictly between entry and the ATR target matter.
		if distance <= 0 || distance >= target {
			continue
		}
		if distance < stop*m.cfg.MinRewardRisk {
			continue // too close, would break the reward:risk floor
		}
		// Prefer the level closest to the original target.
		if !found || target-distance < target-bestDistance {
			bestDistance = distance
			bestLevel = level
			found = true
		}
	}
	if !found {
		return 0, 0, false
	}
	return bestDistance, bestLevel, true
}
