package market

import (
	"time"
)

// Timeframe identifies a candle aggregation interval.
type Timeframe string

const (
	TimeframeM1  Timeframe = "M1"
	TimeframeM5  Timeframe = "M5"
	TimeframeM15 Timeframe = "M15"
	TimeframeH1  Timeframe = "H1"
)

// AllTimeframes lists the timeframes a snapshot must carry, shortest first.
var AllTimeframes = []Timeframe{TimeframeM1, TimeframeM5, TimeframeM15, TimeframeH1}

// Duration returns the bar length of the timeframe.
func (tf Timeframe) Duration() time.Duration {
	switch tf {
	case TimeframeM1:
		return time.Minute
	case TimeframeM5:
		return 5 * time.Minute
	case TimeframeM15:
		return 15 * time.Minute
	case TimeframeH1:
		return time.Hour
	default:
		return time.Minute
	}
}

// Direction is the trade side of a candidate or assembled signal.
type Direction string

const (
	DirectionBuy  Direction = "BUY"
	DirectionSell Direction = "SELL"
)

// Opposite returns the mirrored direction.
func (d Direction) Opposite() Direction {
	if d == DirectionBuy {
		return DirectionSell
	}
	return DirectionBuy
}

// Candle is a single OHLCV bar.
type Candle struct {
	OpenTime time.Time `json:"open_time"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
}

// Bullish reports whether the candle closed above its open.
func (c Candle) Bullish() bool { return c.Close > c.Open }

// Bearish reports whether the candle closed below its open.
func (c Candle) Bearish() bool { return c.Close < c.Open }

// Body returns the absolute open-to-close distance.
func (c Candle) Body() float64 {
	if c.Close > c.Open {
		return c.Close - c.Open
	}
	return c.Open - c.Close
}

// Range returns the high-to-low distance.
func (c Candle) Range() float64 { return c.High - c.Low }

// Quote is the current top-of-book price for a symbol.
type Quote struct {
	Symbol string    `json:"symbol"`
	Bid    float64   `json:"bid"`
	Ask    float64   `json:"ask"`
	Time   time.Time `json:"time"`
}

// Mid returns the bid/ask midpoint.
func (q Quote) Mid() float64 { return (q.Bid + q.Ask) / 2 }

// Spread returns the ask-bid distance in price units.
func (q Quote) Spread() float64 { return q.Ask - q.Bid }

// Snapshot is an immutable view of a symbol's market state: candle history
// per timeframe plus the current quote. Fetched fresh per evaluation, never
// persisted.
type Snapshot struct {
	Symbol    string                 `json:"symbol"`
	Candles   map[Timeframe][]Candle `json:"candles"`
	Quote     Quote                  `json:"quote"`
	FetchedAt time.Time              `json:"fetched_at"`
}

// Series returns the candle history for a timeframe, oldest first.
func (s *Snapshot) Series(tf Timeframe) []Candle {
	if s == nil || s.Candles == nil {
		return nil
	}
	return s.Candles[tf]
}

// Closes extracts the close column of a candle series.
func Closes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

// Highs extracts the high column of a candle series.
func Highs(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.High
	}
	return out
}

// Lows extracts the low column of a candle series.
func Lows(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Low
	}
	return out
}

// Volumes extracts the volume column of a candle series.
func Volumes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Volume
	}
	return out
}
