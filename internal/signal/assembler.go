package signal

import (
	"time"

	"forex-signal-engine/internal/confluence"
	"forex-signal-engine/internal/market"
	"forex-signal-engine/internal/regime"
	"forex-signal-engine/internal/risk"
)

// AssemblerConfig tunes signal emission.
type AssemblerConfig struct {
	// MinConfidence is the emission floor. Candidates scoring below it are
	// discarded regardless of how the individual factors line up.
	MinConfidence float64
}

// DefaultAssemblerConfig returns the stock emission threshold.
func DefaultAssemblerConfig() AssemblerConfig {
	return AssemblerConfig{MinConfidence: 40}
}

// Assembler turns a scored candidate into an immutable Signal, or rejects it.
type Assembler struct {
	cfg AssemblerConfig
	now func() time.Time
}

// NewAssembler creates an Assembler. Zero MinConfidence falls back to the
// default threshold.
func NewAssembler(cfg AssemblerConfig) *Assembler {
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = DefaultAssemblerConfig().MinConfidence
	}
	return &Assembler{cfg: cfg, now: time.Now}
}

// Candidate carries everything the assembler needs to decide.
type Candidate struct {
	Symbol     string
	Direction  market.Direction
	Entry      float64
	Confidence float64
	Flags      confluence.Flags
	Regime     regime.Regime
	Levels     risk.Levels
}

// RejectReason explains why no signal was emitted.
type RejectReason string

const (
	RejectNone          RejectReason = ""
	RejectUncertain     RejectReason = "uncertain_regime"
	RejectDataQuality   RejectReason = "data_quality"
	RejectLowConfidence RejectReason = "low_confidence"
	RejectLowQuality    RejectReason = "low_quality_levels"
)

// Assemble builds a new OPEN signal from a candidate. A nil signal with a
// non-empty reason means the candidate was rejected. An uncertain regime
// always rejects, no matter how high the confluence score came out.
func (a *Assembler) Assemble(c Candidate) (*Signal, RejectReason) {
	if !c.Regime.DataOK {
		return nil, RejectDataQuality
	}
	if !c.Regime.Tradeable() {
		return nil, RejectUncertain
	}
	if c.Confidence < a.cfg.MinConfidence {
		return nil, RejectLowConfidence
	}
	if c.Levels.LowConfidence {
		return nil, RejectLowQuality
	}
	return &Signal{
		ID:         NewID(),
		Symbol:     c.Symbol,
		Direction:  c.Direction,
		Entry:      c.Entry,
		StopLoss:   c.Levels.StopLoss,
		TakeProfit: c.Levels.TakeProfit,
		Confidence: c.Confidence,
		Regime:     c.Regime.Label,
		Session:    c.Regime.Session,
		Flags:      c.Flags,
		Status:     StatusOpen,
		CreatedAt:  a.now().UTC(),
	}, RejectNone
}
