package signal

import (
	"time"

	"github.com/google/uuid"

	"forex-signal-engine/internal/confluence"
	"forex-signal-engine/internal/market"
	"forex-signal-engine/internal/regime"
)

// Status is the lifecycle state of a signal. Open is the only non-terminal
// state; the three terminal states absorb.
type Status string

const (
	StatusOpen    Status = "OPEN"
	StatusTPHit   Status = "TP_HIT"
	StatusSLHit   Status = "SL_HIT"
	StatusExpired Status = "EXPIRED"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusTPHit || s == StatusSLHit || s == StatusExpired
}

// Signal is an assembled trading signal. Identity and entry parameters are
// immutable once created; only the close fields change, and only once, when
// the tick monitor retires the signal.
type Signal struct {
	ID         string           `json:"id"`
	Symbol     string           `json:"symbol"`
	Direction  market.Direction `json:"direction"`
	Entry      float64          `json:"entry"`
	StopLoss   float64          `json:"stop_loss"`
	TakeProfit float64          `json:"take_profit"`
	Confidence float64          `json:"confidence"`

	Regime  regime.Label     `json:"regime"`
	Session regime.Session   `json:"session"`
	Flags   confluence.Flags `json:"flags"`

	Status     Status     `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	ClosedAt   *time.Time `json:"closed_at,omitempty"`
	ClosePrice float64    `json:"close_price,omitempty"`
	PnLPips    float64    `json:"pnl_pips,omitempty"`
}

// NewID mints a signal identifier.
func NewID() string { return uuid.New().String() }

// Context returns the weight-training context the signal was generated in.
func (s *Signal) Context() confluence.Context {
	return confluence.Context{Symbol: s.Symbol, Session: s.Session, Regime: s.Regime}
}

// Win reports whether the signal closed at its target.
func (s *Signal) Win() bool { return s.Status == StatusTPHit }

// PipsAt converts a close price into signed pips for the signal's direction.
func (s *Signal) PipsAt(closePrice float64, spec market.SymbolSpec) float64 {
	if s.Direction == market.DirectionBuy {
		return spec.PriceToPips(closePrice - s.Entry)
	}
	return spec.PriceToPips(s.Entry - closePrice)
}

// TrainingLogEntry is one row of the optimizer's append-only audit trail.
type TrainingLogEntry struct {
	ID            int64              `json:"id"`
	Context       confluence.Context `json:"context"`
	WinRateBefore float64            `json:"win_rate_before"`
	WinRateAfter  float64            `json:"win_rate_after"`
	Improvement   float64            `json:"improvement"`
	Samples       int                `json:"samples"`
	TrainedAt     time.Time          `json:"trained_at"`
}
