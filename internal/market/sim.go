package market

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// SimProvider produces deterministic synthetic candles for mock mode and
// tests. The same seed always yields the same history.
type SimProvider struct {
	seed      int64
	basePrice map[string]float64
	bars      int
	drift     float64 // per-bar drift fraction, positive trends up
	vol       float64 // per-bar volatility fraction
}

// NewSimProvider creates a synthetic provider with sane FX-like defaults.
func NewSimProvider(seed int64) *SimProvider {
	return &SimProvider{
		seed: seed,
		basePrice: map[string]float64{
			"EURUSD": 1.0850,
			"GBPUSD": 1.2650,
			"USDJPY": 148.50,
			"XAUUSD": 2350.0,
		},
		bars:  200,
		drift: 0.00002,
		vol:   0.0006,
	}
}

// WithDrift overrides the per-bar drift, letting tests shape a trending or
// ranging market.
func (p *SimProvider) WithDrift(drift float64) *SimProvider {
	p.drift = drift
	return p
}

func (p *SimProvider) Name() string { return "simulated" }

// GetSnapshot generates a random-walk candle history per timeframe keyed by
// symbol and seed.
func (p *SimProvider) GetSnapshot(ctx context.Context, symbol string) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	base, ok := p.basePrice[symbol]
	if !ok {
		base = 1.1000
	}

	now := time.Now().UTC().Truncate(time.Minute)
	snap := &Snapshot{
		Symbol:    symbol,
		Candles:   make(map[Timeframe][]Candle, len(AllTimeframes)),
		FetchedAt: now,
	}

	var last float64
	for _, tf := range AllTimeframes {
		series := p.generate(symbol, tf, base, now)
		snap.Candles[tf] = series
		if tf == TimeframeM1 && len(series) > 0 {
			last = series[len(series)-1].Close
		}
	}
	if last == 0 {
		last = base
	}

	spread := Spec(symbol).PipsToPrice(Spec(symbol).TypicalSpread)
	snap.Quote = Quote{
		Symbol: symbol,
		Bid:    last - spread/2,
		Ask:    last + spread/2,
		Time:   now,
	}
	return snap, nil
}

func (p *SimProvider) generate(symbol string, tf Timeframe, base float64, now time.Time) []Candle {
	// Per-series seed so every timeframe walks its own path but stays
	// reproducible for a given provider seed.
	h := int64(0)
	for _, r := range symbol + string(tf) {
		h = h*31 + int64(r)
	}
	rng := rand.New(rand.NewSource(p.seed ^ h))

	candles := make([]Candle, p.bars)
	price := base
	step := tf.Duration()
	start := now.Add(-time.Duration(p.bars) * step)

	for i := 0; i < p.bars; i++ {
		change := price * (p.drift + p.vol*rng.NormFloat64())
		open := price
		close := price + change
		span := math.Abs(change) + price*p.vol*0.5*rng.Float64()
		high := math.Max(open, close) + span*0.3
		low := math.Min(open, close) - span*0.3
		candles[i] = Candle{
			OpenTime: start.Add(time.Duration(i) * step),
			Open:     open,
			High:     high,
			Low:      low,
			Close:    close,
			Volume:   1000 + 500*rng.Float64(),
		}
		price = close
	}
	return candles
}
