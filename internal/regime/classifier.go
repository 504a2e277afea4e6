package regime

import (
	"math"
	"time"

	"forex-signal-engine/internal/indicators"
	"forex-signal-engine/internal/market"
)

// Config holds the classification thresholds. The defaults mirror the tuned
// production values but every threshold is an input, not a constant.
type Config struct {
	RangeThreshold    float64 `json:"range_threshold"`     // choppiness above -> RANGE
	TrendThreshold    float64 `json:"trend_threshold"`     // ADX above -> TREND candidate
	ChopTrendMax      float64 `json:"chop_trend_max"`      // choppiness must stay below for TREND
	OpeningRangeMin   int     `json:"opening_range_min"`   // minutes that define the opening range
	BreakoutWindowMin int     `json:"breakout_window_min"` // minutes after open to look for breakouts
}

// DefaultConfig returns the reference thresholds.
func DefaultConfig() Config {
	return Config{
		RangeThreshold:    61.8,
		TrendThreshold:    25,
		ChopTrendMax:      50,
		OpeningRangeMin:   30,
		BreakoutWindowMin: 90,
	}
}

// Classifier labels market state from the working-timeframe indicator set.
type Classifier struct {
	cfg Config
}

// NewClassifier creates a classifier with the given thresholds.
func NewClassifier(cfg Config) *Classifier {
	return &Classifier{cfg: cfg}
}

// Classify applies the regime rule to the M15 indicator set. Order matters:
// RANGE wins over TREND when choppiness clears the range threshold. Missing
// ADX or Choppiness readings force Uncertain with DataOK=false, never a
// silent default to a tradeable regime.
func (c *Classifier) Classify(ind *indicators.Set, ts time.Time) Regime {
	reg := Regime{
		Label:        Uncertain,
		Session:      SessionAt(ts),
		OpenBreakout: BreakoutNone,
		ADX:          ind.ADX,
		Choppiness:   ind.Choppiness,
		DataOK:       true,
	}

	if !ind.Has("adx") || !ind.Has("choppiness") ||
		math.IsNaN(ind.ADX) || math.IsNaN(ind.Choppiness) {
		reg.DataOK = false
		return reg
	}

	switch {
	case ind.Choppiness > c.cfg.RangeThreshold:
		reg.Label = Range
	case ind.ADX > c.cfg.TrendThreshold && ind.Choppiness < c.cfg.ChopTrendMax:
		reg.Label = Trend
	default:
		reg.Label = Uncertain
	}
	return reg
}

// DetectBreakout checks whether the current price has broken the session
// opening range. Only the London and New York opens are watched, and only
// inside the breakout window after the open.
func (c *Classifier) DetectBreakout(candles []market.Candle, ts time.Time, price float64) Breakout {
	utc := ts.UTC()
	session := SessionAt(utc)

	var openHour int
	switch session {
	case SessionLondon:
		openHour = londonOpenHour
	case SessionOverlap:
		openHour = newYorkOpenHour
	default:
		return BreakoutNone
	}

	open := time.Date(utc.Year(), utc.Month(), utc.Day(), openHour, 0, 0, 0, time.UTC)
	sinceOpen := utc.Sub(open)
	if sinceOpen < time.Duration(c.cfg.OpeningRangeMin)*time.Minute ||
		sinceOpen > time.Duration(c.cfg.BreakoutWindowMin)*time.Minute {
		return BreakoutNone
	}

	rangeEnd := open.Add(time.Duration(c.cfg.OpeningRangeMin) * time.Minute)
	high := math.Inf(-1)
	low := math.Inf(1)
	found := false
	for _, cd := range candles {
		t := cd.OpenTime.UTC()
		if t.Before(open) || !t.Before(rangeEnd) {
			continue
		}
		high = math.Max(high, cd.High)
		low = math.Min(low, cd.Low)
		found = true
	}
	if !found {
		return BreakoutNone
	}

	switch {
	case price > high:
		return BreakoutBullish
	case price < low:
		return BreakoutBearish
	default:
		return BreakoutNone
	}
}
