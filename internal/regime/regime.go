package regime

import (
	"time"
)

// Label is the market regime classification.
type Label string

const (
	Trend     Label = "TREND"
	Range     Label = "RANGE"
	Uncertain Label = "UNCERTAIN"
)

// Session is the trading session derived from UTC wall-clock time.
type Session string

const (
	SessionAsia    Session = "ASIA"
	SessionLondon  Session = "LONDON"
	SessionOverlap Session = "OVERLAP"
	SessionNewYork Session = "NEW_YORK"
	SessionWeekend Session = "WEEKEND"
)

// Breakout flags a session-open breakout condition.
type Breakout string

const (
	BreakoutBullish Breakout = "BULLISH"
	BreakoutBearish Breakout = "BEARISH"
	BreakoutNone    Breakout = "NONE"
)

// Regime is the full classification output: the label, the session, any
// session-open breakout, and the raw readings behind the decision. DataOK is
// false when ADX or Choppiness could not be computed, which forces Uncertain.
type Regime struct {
	Label        Label    `json:"label"`
	Session      Session  `json:"session"`
	OpenBreakout Breakout `json:"open_breakout"`
	ADX          float64  `json:"adx"`
	Choppiness   float64  `json:"choppiness"`
	DataOK       bool     `json:"data_ok"`
}

// Tradeable reports whether signal generation is allowed in this regime.
// Uncertain is the no-trade zone.
func (r Regime) Tradeable() bool {
	return r.Label != Uncertain
}

// Session boundaries in UTC hours. London opens 07:00, New York trading
// begins 12:00 (labelled OVERLAP until London closes at 16:00).
const (
	asiaEndHour     = 7
	londonEndHour   = 12
	overlapEndHour  = 16
	newYorkEndHour  = 21
	londonOpenHour  = 7
	newYorkOpenHour = 12
)

// SessionAt derives the trading session from a UTC timestamp. Price data
// plays no part in this.
func SessionAt(ts time.Time) Session {
	utc := ts.UTC()
	switch utc.Weekday() {
	case time.Saturday, time.Sunday:
		return SessionWeekend
	}
	switch h := utc.Hour(); {
	case h < asiaEndHour:
		return SessionAsia
	case h < londonEndHour:
		return SessionLondon
	case h < overlapEndHour:
		return SessionOverlap
	case h < newYorkEndHour:
		return SessionNewYork
	default:
		return SessionAsia
	}
}
