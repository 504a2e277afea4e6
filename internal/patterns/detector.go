package patterns

import (
	"math"
	"time"

	"forex-signal-engine/internal/market"
)

// Type identifies a candlestick pattern.
type Type string

const (
	BullishEngulfing Type = "bullish_engulfing"
	BearishEngulfing Type = "bearish_engulfing"
	Hammer           Type = "hammer"
	ShootingStar     Type = "shooting_star"
	MorningStar      Type = "morning_star"
	EveningStar      Type = "evening_star"
	DragonflyDoji    Type = "dragonfly_doji"
	GravestoneDoji   Type = "gravestone_doji"
	BullishHarami    Type = "bullish_harami"
	BearishHarami    Type = "bearish_harami"
)

// Detected is a candlestick pattern found at the end of a series.
type Detected struct {
	Type       Type             `json:"type"`
	Direction  market.Direction `json:"direction"`
	Strength   float64          `json:"strength"` // 0..1
	DetectedAt time.Time        `json:"detected_at"`
}

// Detector scans the tail of a candle series for reversal patterns.
type Detector struct {
	minBodyRatio float64 // minimum body as fraction of range for "full" candles
}

// NewDetector creates a detector. minBodyRatio guards against reading
// patterns into micro candles; zero or negative selects the default.
func NewDetector(minBodyRatio float64) *Detector {
	if minBodyRatio <= 0 {
		minBodyRatio = 0.6
	}
	return &Detector{minBodyRatio: minBodyRatio}
}

// Detect returns the strongest pattern formed by the last one to three
// candles, or nil when none is present. Patterns further back are stale for
// entry timing and ignored.
func (d *Detector) Detect(candles []market.Candle) *Detected {
	if len(candles) < 3 {
		return nil
	}
	c1, c2, c3 := candles[len(candles)-3], candles[len(candles)-2], candles[len(candles)-1]
	at := c3.OpenTime

	var best *Detected
	consider := func(t Type, dir market.Direction, strength float64) {
		if strength <= 0 {
			return
		}
		if best == nil || strength > best.Strength {
			best = &Detected{Type: t, Direction: dir, Strength: clamp01(strength), DetectedAt: at}
		}
	}

	// Three-candle formations first, they outrank single-candle shapes.
	if d.isMorningStar(c1, c2, c3) {
		consider(MorningStar, market.DirectionBuy, 0.9)
	}
	if d.isEveningStar(c1, c2, c3) {
		consider(EveningStar, market.DirectionSell, 0.9)
	}

	if d.isEngulfing(c2, c3, true) {
		consider(BullishEngulfing, market.DirectionBuy, engulfStrength(c2, c3))
	}
	if d.isEngulfing(c2, c3, false) {
		consider(BearishEngulfing, market.DirectionSell, engulfStrength(c2, c3))
	}
	if d.isHarami(c2, c3, true) {
		consider(BullishHarami, market.DirectionBuy, 0.55)
	}
	if d.isHarami(c2, c3, false) {
		consider(BearishHarami, market.DirectionSell, 0.55)
	}

	if d.isHammer(c3) {
		consider(Hammer, market.DirectionBuy, wickStrength(c3, false))
	}
	if d.isShootingStar(c3) {
		consider(ShootingStar, market.DirectionSell, wickStrength(c3, true))
	}
	if d.isDragonflyDoji(c3) {
		consider(DragonflyDoji, market.DirectionBuy, 0.5)
	}
	if d.isGravestoneDoji(c3) {
		consider(GravestoneDoji, market.DirectionSell, 0.5)
	}

	return best
}

// isEngulfing checks the two-candle engulfing formation. bullish selects the
// bullish variant; the bearish variant mirrors every comparison.
func (d *Detector) isEngulfing(c1, c2 market.Candle, bullish bool) bool {
	if bullish {
		return c1.Bearish() && c2.Bullish() &&
			c2.Open <= c1.Close && c2.Close >= c1.Open
	}
	return c1.Bullish() && c2.Bearish() &&
		c2.Open >= c1.Close && c2.Close <= c1.Open
}

func engulfStrength(c1, c2 market.Candle) float64 {
	if c1.Body() == 0 {
		return 0.6
	}
	// The more the second body exceeds the first, the stronger the signal.
	return clamp01(0.5 + 0.25*(c2.Body()/c1.Body()-1))
}

func (d *Detector) isHarami(c1, c2 market.Candle, bullish bool) bool {
	if c1.Range() == 0 || c1.Body() < c1.Range()*d.minBodyRatio {
		return false
	}
	if c2.Body() > c1.Body()*0.5 {
		return false
	}
	if bullish {
		return c1.Bearish() && c2.Bullish() && c2.Open >= c1.Close && c2.Close <= c1.Open
	}
	return c1.Bullish() && c2.Bearish() && c2.Open <= c1.Close && c2.Close >= c1.Open
}

func (d *Detector) isHammer(c market.Candle) bool {
	body := c.Body()
	if body == 0 || c.Range() == 0 {
		return false
	}
	lowerWick := math.Min(c.Open, c.Close) - c.Low
	upperWick := c.High - math.Max(c.Open, c.Close)
	return lowerWick >= body*2 && upperWick <= body*0.5
}

func (d *Detector) isShootingStar(c market.Candle) bool {
	body := c.Body()
	if body == 0 || c.Range() == 0 {
		return false
	}
	lowerWick := math.Min(c.Open, c.Close) - c.Low
	upperWick := c.High - math.Max(c.Open, c.Close)
	return upperWick >= body*2 && lowerWick <= body*0.5
}

func (d *Detector) isDoji(c market.Candle) bool {
	if c.Range() == 0 {
		return false
	}
	return c.Body()/c.Range() < 0.10
}

func (d *Detector) isDragonflyDoji(c market.Candle) bool {
	if !d.isDoji(c) {
		return false
	}
	body := c.Body()
	lowerWick := math.Min(c.Open, c.Close) - c.Low
	upperWick := c.High - math.Max(c.Open, c.Close)
	return lowerWick > body*3 && upperWick < math.Max(body*0.3, c.Range()*0.05)
}

func (d *Detector) isGravestoneDoji(c market.Candle) bool {
	if !d.isDoji(c) {
		return false
	}
	body := c.Body()
	lowerWick := math.Min(c.Open, c.Close) - c.Low
	upperWick := c.High - math.Max(c.Open, c.Close)
	return upperWick > body*3 && lowerWick < math.Max(body*0.3, c.Range()*0.05)
}

func (d *Detector) isMorningStar(c1, c2, c3 market.Candle) bool {
	// Large bearish, small-bodied middle, bullish close above C1 midpoint.
	if !c1.Bearish() || c1.Range() == 0 || c1.Body() < c1.Range()*d.minBodyRatio {
		return false
	}
	if c2.Body() > c1.Body()*0.4 {
		return false
	}
	mid := (c1.Open + c1.Close) / 2
	return c3.Bullish() && c3.Close > mid
}

func (d *Detector) isEveningStar(c1, c2, c3 market.Candle) bool {
	if !c1.Bullish() || c1.Range() == 0 || c1.Body() < c1.Range()*d.minBodyRatio {
		return false
	}
	if c2.Body() > c1.Body()*0.4 {
		return false
	}
	mid := (c1.Open + c1.Close) / 2
	return c3.Bearish() && c3.Close < mid
}

// wickStrength grades hammer-family candles by how dominant the wick is.
func wickStrength(c market.Candle, upper bool) float64 {
	body := c.Body()
	if body == 0 {
		return 0.5
	}
	var wick float64
	if upper {
		wick = c.High - math.Max(c.Open, c.Close)
	} else {
		wick = math.Min(c.Open, c.Close) - c.Low
	}
	return clamp01(0.4 + 0.1*(wick/body))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
