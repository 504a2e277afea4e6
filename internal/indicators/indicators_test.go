package indicators

import (
	"errors"
	"math"
	"testing"
	"time"

	"forex-signal-engine/internal/market"
)

var seriesEnd = time.Date(2024, 3, 6, 10, 0, 0, 0, time.UTC)

// climb builds a steadily rising M15 series. Every bar closes one step above
// its open with a small wick each side.
func climb(bars int) []market.Candle {
	const step = 0.0005
	out := make([]market.Candle, bars)
	price := 1.2000 - float64(bars)*step
	for i := range out {
		open := price
		close := open + step
		out[i] = market.Candle{
			OpenTime: seriesEnd.Add(-time.Duration(bars-i) * 15 * time.Minute),
			Open:     open,
			High:     close + 0.0002,
			Low:      open - 0.0002,
			Close:    close,
			Volume:   100,
		}
		price = close
	}
	return out
}

// oscillate builds a flat see-saw: the close alternates between two prices
// while every bar spans the same high/low band.
func oscillate(bars int) []market.Candle {
	out := make([]market.Candle, bars)
	for i := range out {
		open, close := 1.1000, 1.1005
		if i%2 == 1 {
			open, close = close, open
		}
		out[i] = market.Candle{
			OpenTime: seriesEnd.Add(-time.Duration(bars-i) * 15 * time.Minute),
			Open:     open,
			High:     1.1008,
			Low:      1.0997,
			Close:    close,
			Volume:   100,
		}
	}
	return out
}

func TestComputeRejectsShortHistory(t *testing.T) {
	_, err := Compute(climb(market.MinWarmupBars-1), market.TimeframeM15, DefaultParams())
	if !errors.Is(err, market.ErrDataUnavailable) {
		t.Fatalf("err = %v, want ErrDataUnavailable", err)
	}
}

func TestComputeDegradesLongEMAOnShortHistory(t *testing.T) {
	// 60 bars clears warm-up but cannot feed a 200-period EMA.
	set, err := Compute(climb(60), market.TimeframeM15, DefaultParams())
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if set.Has("ema_200") {
		t.Error("ema_200 must be degraded with 60 bars")
	}
	if !math.IsNaN(set.EMALong) {
		t.Errorf("EMALong = %f, want NaN", set.EMALong)
	}
	if set.OK() {
		t.Error("OK must be false with a degraded indicator")
	}
	if !set.Has("ema_fast") || !set.Has("rsi") || !set.Has("atr") {
		t.Errorf("short-period indicators must survive, degraded: %v", set.Degraded)
	}
}

func TestComputeFullSetOnLongHistory(t *testing.T) {
	set, err := Compute(climb(250), market.TimeframeM15, DefaultParams())
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if !set.OK() {
		t.Fatalf("degraded indicators on clean history: %v", set.Degraded)
	}
	if !(set.EMAFast > set.EMASlow && set.EMASlow > set.EMALong) {
		t.Errorf("EMA order on an uptrend: fast=%f slow=%f long=%f",
			set.EMAFast, set.EMASlow, set.EMALong)
	}
	if set.Close != 1.2000 {
		t.Errorf("Close = %f, want series end 1.2000", set.Close)
	}
	if set.AvgVolume != 100 {
		t.Errorf("AvgVolume = %f, want 100", set.AvgVolume)
	}
}

func TestChoppinessLowInPersistentTrend(t *testing.T) {
	set, err := Compute(climb(100), market.TimeframeM15, DefaultParams())
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if set.Choppiness >= 40 {
		t.Errorf("choppiness = %f on a straight climb, want < 40", set.Choppiness)
	}
}

func TestChoppinessHighInFlatOscillation(t *testing.T) {
	set, err := Compute(oscillate(100), market.TimeframeM15, DefaultParams())
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	// 14 identical true ranges packed into a single band resolve to 100.
	if set.Choppiness <= 61.8 {
		t.Errorf("choppiness = %f on a see-saw, want > 61.8", set.Choppiness)
	}
}

func TestSessionVWAPConstantPrice(t *testing.T) {
	bars := 60
	out := make([]market.Candle, bars)
	for i := range out {
		out[i] = market.Candle{
			OpenTime: seriesEnd.Add(-time.Duration(bars-i) * 15 * time.Minute),
			Open:     1.1000,
			High:     1.1000,
			Low:      1.1000,
			Close:    1.1000,
			Volume:   100,
		}
	}

	vwap, err := sessionVWAP(out)
	if err != nil {
		t.Fatalf("sessionVWAP: %v", err)
	}
	if math.Abs(vwap-1.1000) > 1e-9 {
		t.Errorf("vwap = %f, want 1.1000", vwap)
	}
}

func TestComputeDegradesVWAPWithoutVolume(t *testing.T) {
	candles := climb(60)
	for i := range candles {
		candles[i].Volume = 0
	}

	set, err := Compute(candles, market.TimeframeM15, DefaultParams())
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if set.Has("vwap") {
		t.Error("vwap must be degraded when the series carries no volume")
	}
}

func TestComputeAllPropagatesShortTimeframe(t *testing.T) {
	snap := &market.Snapshot{
		Symbol:  "EURUSD",
		Candles: map[market.Timeframe][]market.Candle{},
	}
	for _, tf := range market.AllTimeframes {
		snap.Candles[tf] = climb(220)
	}
	snap.Candles[market.TimeframeH1] = climb(10)

	if _, err := ComputeAll(snap, DefaultParams()); !errors.Is(err, market.ErrDataUnavailable) {
		t.Fatalf("err = %v, want ErrDataUnavailable for the short H1 series", err)
	}
}
