package regime

import (
	"math"
	"testing"
	"time"

	"forex-signal-engine/internal/indicators"
	"forex-signal-engine/internal/market"
)

// A Wednesday, so session boundaries are not masked by weekend handling.
var wednesday = time.Date(2024, 3, 6, 0, 0, 0, 0, time.UTC)

func at(hour, min int) time.Time {
	return wednesday.Add(time.Duration(hour)*time.Hour + time.Duration(min)*time.Minute)
}

func indSet(adx, chop float64) *indicators.Set {
	return &indicators.Set{ADX: adx, Choppiness: chop}
}

func TestClassifyTrend(t *testing.T) {
	c := NewClassifier(DefaultConfig())
	reg := c.Classify(indSet(30, 35), at(10, 0))

	if reg.Label != Trend {
		t.Errorf("label = %s, want TREND", reg.Label)
	}
	if !reg.DataOK {
		t.Error("DataOK must hold with both readings present")
	}
	if !reg.Tradeable() {
		t.Error("TREND must be tradeable")
	}
}

func TestClassifyRange(t *testing.T) {
	c := NewClassifier(DefaultConfig())
	if reg := c.Classify(indSet(15, 70), at(10, 0)); reg.Label != Range {
		t.Errorf("label = %s, want RANGE", reg.Label)
	}
}

func TestClassifyRangeWinsOverTrend(t *testing.T) {
	// High ADX and high choppiness at once: compression rules.
	c := NewClassifier(DefaultConfig())
	if reg := c.Classify(indSet(35, 62), at(10, 0)); reg.Label != Range {
		t.Errorf("label = %s, want RANGE when choppiness clears the threshold", reg.Label)
	}
}

func TestClassifyUncertain(t *testing.T) {
	c := NewClassifier(DefaultConfig())
	reg := c.Classify(indSet(18, 55), at(10, 0))

	if reg.Label != Uncertain {
		t.Errorf("label = %s, want UNCERTAIN", reg.Label)
	}
	if reg.Tradeable() {
		t.Error("UNCERTAIN must not be tradeable")
	}
}

func TestClassifyDegradedReadingsForceUncertain(t *testing.T) {
	c := NewClassifier(DefaultConfig())

	set := indSet(math.NaN(), 45)
	set.Degraded = []string{"adx"}

	reg := c.Classify(set, at(10, 0))
	if reg.Label != Uncertain || reg.DataOK {
		t.Errorf("got label=%s dataOK=%v, want UNCERTAIN with DataOK=false",
			reg.Label, reg.DataOK)
	}
}

func TestSessionAt(t *testing.T) {
	cases := []struct {
		ts   time.Time
		want Session
	}{
		{at(3, 0), SessionAsia},
		{at(8, 30), SessionLondon},
		{at(13, 0), SessionOverlap},
		{at(17, 0), SessionNewYork},
		{at(22, 0), SessionAsia},
		{time.Date(2024, 3, 9, 10, 0, 0, 0, time.UTC), SessionWeekend},
	}
	for _, tc := range cases {
		if got := SessionAt(tc.ts); got != tc.want {
			t.Errorf("SessionAt(%s) = %s, want %s", tc.ts, got, tc.want)
		}
	}
}

// openingRange builds M5 candles spanning the London opening range with a
// known high and low.
func openingRange(high, low float64) []market.Candle {
	var out []market.Candle
	for i := 0; i < 6; i++ {
		out = append(out, market.Candle{
			OpenTime: at(7, i*5),
			Open:     (high + low) / 2,
			High:     high,
			Low:      low,
			Close:    (high + low) / 2,
			Volume:   100,
		})
	}
	return out
}

func TestDetectBreakout(t *testing.T) {
	c := NewClassifier(DefaultConfig())
	candles := openingRange(1.1010, 1.0990)

	cases := []struct {
		name  string
		ts    time.Time
		price float64
		want  Breakout
	}{
		{"bullish break", at(8, 0), 1.1015, BreakoutBullish},
		{"bearish break", at(8, 0), 1.0985, BreakoutBearish},
		{"inside range", at(8, 0), 1.1000, BreakoutNone},
		{"before range completes", at(7, 15), 1.1015, BreakoutNone},
		{"after window", at(9, 0), 1.1015, BreakoutNone},
		{"asia session", at(3, 0), 1.1015, BreakoutNone},
	}
	for _, tc := range cases {
		if got := c.DetectBreakout(candles, tc.ts, tc.price); got != tc.want {
			t.Errorf("%s: got %s, want %s", tc.name, got, tc.want)
		}
	}
}

func TestDetectBreakoutWithoutRangeCandles(t *testing.T) {
	c := NewClassifier(DefaultConfig())
	// History that ends before the session open carries no opening range.
	candles := []market.Candle{{OpenTime: at(5, 0), High: 1.2, Low: 1.1}}

	if got := c.DetectBreakout(candles, at(8, 0), 1.25); got != BreakoutNone {
		t.Errorf("got %s, want NONE without opening-range candles", got)
	}
}
