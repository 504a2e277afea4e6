package indicators

import (
	"errors"
	"fmt"
	"math"
	"time"

	talib "github.com/markcheno/go-talib"

	"forex-signal-engine/internal/market"
)

// ErrComputation reports an indicator that could not be calculated from the
// supplied history. Callers degrade the indicator to unknown instead of
// propagating NaN.
var ErrComputation = errors.New("indicator computation failed")

// Params holds the lookback periods for the indicator stack.
type Params struct {
	EMAFast    int     `json:"ema_fast"`
	EMASlow    int     `json:"ema_slow"`
	EMALong    int     `json:"ema_long"`
	RSI        int     `json:"rsi"`
	ATR        int     `json:"atr"`
	ADX        int     `json:"adx"`
	Choppiness int     `json:"choppiness"`
	BBPeriod   int     `json:"bb_period"`
	BBStdDev   float64 `json:"bb_std_dev"`
	VolumeAvg  int     `json:"volume_avg"`
}

// DefaultParams returns the standard 14-period stack with 9/21/200 EMAs.
func DefaultParams() Params {
	return Params{
		EMAFast:    9,
		EMASlow:    21,
		EMALong:    200,
		RSI:        14,
		ATR:        14,
		ADX:        14,
		Choppiness: 14,
		BBPeriod:   20,
		BBStdDev:   2.0,
		VolumeAvg:  20,
	}
}

// Set carries the computed indicator values for one timeframe. Values whose
// computation failed are NaN and listed in Degraded.
type Set struct {
	Timeframe market.Timeframe `json:"timeframe"`

	EMAFast    float64 `json:"ema_fast"`
	EMASlow    float64 `json:"ema_slow"`
	EMALong    float64 `json:"ema_200"`
	RSI        float64 `json:"rsi"`
	ATR        float64 `json:"atr"`
	ADX        float64 `json:"adx"`
	Choppiness float64 `json:"choppiness"`
	BBUpper    float64 `json:"bb_upper"`
	BBMiddle   float64 `json:"bb_mid"`
	BBLower    float64 `json:"bb_lower"`
	VWAP       float64 `json:"vwap"`

	Close      float64 `json:"close"`
	LastVolume float64 `json:"last_volume"`
	AvgVolume  float64 `json:"avg_volume"`

	Degraded []string `json:"degraded,omitempty"`
}

// OK reports whether every indicator in the set was computed.
func (s *Set) OK() bool { return len(s.Degraded) == 0 }

// Has reports whether the named indicator was computed.
func (s *Set) Has(name string) bool {
	for _, d := range s.Degraded {
		if d == name {
			return false
		}
	}
	return true
}

func (s *Set) degrade(name string) {
	s.Degraded = append(s.Degraded, name)
}

// Compute calculates the full indicator set for one candle series. It needs
// at least market.MinWarmupBars bars; with less it returns
// market.ErrDataUnavailable. Individual indicator failures do not abort the
// set, they are recorded in Degraded.
func Compute(candles []market.Candle, tf market.Timeframe, p Params) (*Set, error) {
	if len(candles) < market.MinWarmupBars {
		return nil, fmt.Errorf("%w: %s has %d bars, need %d",
			market.ErrDataUnavailable, tf, len(candles), market.MinWarmupBars)
	}

	closes := market.Closes(candles)
	highs := market.Highs(candles)
	lows := market.Lows(candles)
	volumes := market.Volumes(candles)

	set := &Set{
		Timeframe:  tf,
		Close:      closes[len(closes)-1],
		LastVolume: volumes[len(volumes)-1],
	}

	set.EMAFast = lastOr(talib.Ema(closes, p.EMAFast), set, "ema_fast")
	set.EMASlow = lastOr(talib.Ema(closes, p.EMASlow), set, "ema_slow")
	if len(closes) >= p.EMALong {
		set.EMALong = lastOr(talib.Ema(closes, p.EMALong), set, "ema_200")
	} else {
		set.EMALong = math.NaN()
		set.degrade("ema_200")
	}
	set.RSI = lastOr(talib.Rsi(closes, p.RSI), set, "rsi")
	set.ATR = lastOr(talib.Atr(highs, lows, closes, p.ATR), set, "atr")
	set.ADX = lastOr(talib.Adx(highs, lows, closes, p.ADX), set, "adx")

	upper, middle, lower := talib.BBands(closes, p.BBPeriod, p.BBStdDev, p.BBStdDev, talib.SMA)
	set.BBUpper = lastOr(upper, set, "bb_upper")
	set.BBMiddle = lastOr(middle, set, "bb_mid")
	set.BBLower = lastOr(lower, set, "bb_lower")

	if chop, err := choppiness(highs, lows, closes, p.Choppiness); err != nil {
		set.Choppiness = math.NaN()
		set.degrade("choppiness")
	} else {
		set.Choppiness = chop
	}

	if vwap, err := sessionVWAP(candles); err != nil {
		set.VWAP = math.NaN()
		set.degrade("vwap")
	} else {
		set.VWAP = vwap
	}

	set.AvgVolume = meanTail(volumes, p.VolumeAvg)
	return set, nil
}

// ComputeAll builds the indicator set for every timeframe in the snapshot.
func ComputeAll(snap *market.Snapshot, p Params) (map[market.Timeframe]*Set, error) {
	out := make(map[market.Timeframe]*Set, len(market.AllTimeframes))
	for _, tf := range market.AllTimeframes {
		set, err := Compute(snap.Series(tf), tf, p)
		if err != nil {
			return nil, err
		}
		out[tf] = set
	}
	return out, nil
}

// lastOr extracts the final value of an indicator series, degrading the set
// entry when the series is empty or not finite.
func lastOr(series []float64, set *Set, name string) float64 {
	if len(series) == 0 {
		set.degrade(name)
		return math.NaN()
	}
	v := series[len(series)-1]
	if math.IsNaN(v) || math.IsInf(v, 0) || (v == 0 && nameNeedsNonZero(name)) {
		set.degrade(name)
		return math.NaN()
	}
	return v
}

// Zero is a legitimate value for some oscillators but not for price or range
// derived values, where it means the warm-up never completed.
func nameNeedsNonZero(name string) bool {
	switch name {
	case "ema_fast", "ema_slow", "ema_200", "atr", "bb_upper", "bb_lower":
		return true
	}
	return false
}

// choppiness computes the Choppiness Index over the trailing period:
// 100 * log10(sum(TR) / (maxHigh - minLow)) / log10(period).
func choppiness(highs, lows, closes []float64, period int) (float64, error) {
	if len(closes) < period+1 {
		return 0, fmt.Errorf("%w: choppiness needs %d bars", ErrComputation, period+1)
	}
	start := len(closes) - period

	trSum := 0.0
	maxHigh := math.Inf(-1)
	minLow := math.Inf(1)
	for i := start; i < len(closes); i++ {
		tr := math.Max(highs[i], closes[i-1]) - math.Min(lows[i], closes[i-1])
		trSum += tr
		maxHigh = math.Max(maxHigh, highs[i])
		minLow = math.Min(minLow, lows[i])
	}

	spread := maxHigh - minLow
	if spread <= 0 || trSum <= 0 {
		return 0, fmt.Errorf("%w: flat price range", ErrComputation)
	}
	return 100 * math.Log10(trSum/spread) / math.Log10(float64(period)), nil
}

// sessionVWAP computes the volume-weighted average price over the current
// UTC day. When the day has too few bars (just after midnight) it widens to
// the whole series.
func sessionVWAP(candles []market.Candle) (float64, error) {
	last := candles[len(candles)-1].OpenTime.UTC()
	dayStart := time.Date(last.Year(), last.Month(), last.Day(), 0, 0, 0, 0, time.UTC)

	start := 0
	for i := len(candles) - 1; i >= 0; i-- {
		if candles[i].OpenTime.UTC().Before(dayStart) {
			start = i + 1
			break
		}
	}
	if len(candles)-start < 5 {
		start = 0
	}

	var pv, vol float64
	for _, c := range candles[start:] {
		typical := (c.High + c.Low + c.Close) / 3
		pv += typical * c.Volume
		vol += c.Volume
	}
	if vol <= 0 {
		return 0, fmt.Errorf("%w: no volume for vwap", ErrComputation)
	}
	return pv / vol, nil
}

func meanTail(values []float64, n int) float64 {
	if len(values) == 0 {
		return 0
	}
	if n > len(values) {
		n = len(values)
	}
	sum := 0.0
	for _, v := range values[len(values)-n:] {
		sum += v
	}
	return sum / float64(n)
}
