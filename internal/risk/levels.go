package risk

import (
	"math"
	"time"

	"forex-signal-engine/internal/market"
)

// StructuralLevels are the price levels a take-profit may snap to: previous
// day high/low, the session initial balance, and nearby round numbers.
type StructuralLevels struct {
	PrevDayHigh  float64   `json:"prev_day_high"`
	PrevDayLow   float64   `json:"prev_day_low"`
	IBHigh       float64   `json:"ib_high"`
	IBLow        float64   `json:"ib_low"`
	RoundNumbers []float64 `json:"round_numbers"`
}

// All returns every non-zero level as a flat list, usable both for snapping
// and for key-level confluence checks.
func (l StructuralLevels) All() []float64 {
	out := make([]float64, 0, 4+len(l.RoundNumbers))
	for _, v := range []float64{l.PrevDayHigh, l.PrevDayLow, l.IBHigh, l.IBLow} {
		if v > 0 {
			out = append(out, v)
		}
	}
	out = append(out, l.RoundNumbers...)
	return out
}

// roundGrid is the round-number spacing per symbol class.
func roundGrid(class market.SymbolClass) float64 {
	switch class {
	case market.ClassJPYCross:
		return 0.5
	case market.ClassMetal:
		return 5.0
	default:
		return 0.0050
	}
}

// ComputeStructural derives structural levels from H1 history. The initial
// balance is the high/low of the first hour after the London open; round
// numbers are the three grid lines nearest the current price.
func ComputeStructural(h1 []market.Candle, spec market.SymbolSpec, ts time.Time, price float64) StructuralLevels {
	var levels StructuralLevels

	utc := ts.UTC()
	dayStart := time.Date(utc.Year(), utc.Month(), utc.Day(), 0, 0, 0, 0, time.UTC)
	prevStart := dayStart.AddDate(0, 0, -1)

	pdh := math.Inf(-1)
	pdl := math.Inf(1)
	for _, c := range h1 {
		t := c.OpenTime.UTC()
		if t.Before(prevStart) || !t.Before(dayStart) {
			continue
		}
		pdh = math.Max(pdh, c.High)
		pdl = math.Min(pdl, c.Low)
	}
	if !math.IsInf(pdh, -1) {
		levels.PrevDayHigh = pdh
		levels.PrevDayLow = pdl
	}

	// Initial balance: first hour from the London open of the current day.
	ibStart := dayStart.Add(7 * time.Hour)
	ibEnd := ibStart.Add(time.Hour)
	for _, c := range h1 {
		t := c.OpenTime.UTC()
		if t.Before(ibStart) || !t.Before(ibEnd) {
			continue
		}
		if c.High > levels.IBHigh {
			levels.IBHigh = c.High
		}
		if levels.IBLow == 0 || c.Low < levels.IBLow {
			levels.IBLow = c.Low
		}
	}

	grid := roundGrid(spec.Class)
	base := math.Floor(price/grid) * grid
	levels.RoundNumbers = []float64{base - grid, base, base + grid}

	return levels
}
