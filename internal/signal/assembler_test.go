package signal

import (
	"testing"

	"forex-signal-engine/internal/confluence"
	"forex-signal-engine/internal/market"
	"forex-signal-engine/internal/regime"
	"forex-signal-engine/internal/risk"
)

func trendCandidate() Candidate {
	return Candidate{
		Symbol:     "EURUSD",
		Direction:  market.DirectionBuy,
		Entry:      1.10000,
		Confidence: 72,
		Flags:      confluence.Flags{HasEMAAlign: true, HasRegimeAlign: true},
		Regime: regime.Regime{
			Label:   regime.Trend,
			Session: regime.SessionLondon,
			ADX:     31,
			DataOK:  true,
		},
		Levels: risk.Levels{
			StopLoss:     1.09760,
			TakeProfit:   1.10480,
			StopDistance: 0.00240,
			TPDistance:   0.00480,
			RewardRisk:   2.0,
		},
	}
}

func TestAssembleEmitsOpenSignal(t *testing.T) {
	a := NewAssembler(DefaultAssemblerConfig())

	sig, reason := a.Assemble(trendCandidate())
	if sig == nil {
		t.Fatalf("expected a signal, got reject reason %q", reason)
	}
	if sig.Status != StatusOpen {
		t.Errorf("new signal status = %s, want %s", sig.Status, StatusOpen)
	}
	if sig.ID == "" {
		t.Error("signal must carry an id")
	}
	if sig.ClosedAt != nil {
		t.Error("new signal must not be closed")
	}
	if sig.StopLoss >= sig.Entry || sig.TakeProfit <= sig.Entry {
		t.Errorf("BUY levels out of order: sl=%f entry=%f tp=%f",
			sig.StopLoss, sig.Entry, sig.TakeProfit)
	}
	if sig.Regime != regime.Trend || sig.Session != regime.SessionLondon {
		t.Errorf("context not carried: regime=%s session=%s", sig.Regime, sig.Session)
	}
}

// An uncertain regime suppresses emission even when the confluence factors
// would score far above the threshold.
func TestAssembleRejectsUncertainRegime(t *testing.T) {
	a := NewAssembler(DefaultAssemblerConfig())

	c := trendCandidate()
	c.Confidence = 80
	c.Regime.Label = regime.Uncertain
	c.Regime.ADX = 18
	c.Regime.Choppiness = 55

	sig, reason := a.Assemble(c)
	if sig != nil {
		t.Fatalf("uncertain regime must not emit, got signal %s", sig.ID)
	}
	if reason != RejectUncertain {
		t.Errorf("reason = %q, want %q", reason, RejectUncertain)
	}
}

func TestAssembleRejectsDegradedData(t *testing.T) {
	a := NewAssembler(DefaultAssemblerConfig())

	c := trendCandidate()
	c.Regime.DataOK = false

	sig, reason := a.Assemble(c)
	if sig != nil {
		t.Fatal("degraded regime inputs must not emit")
	}
	if reason != RejectDataQuality {
		t.Errorf("reason = %q, want %q", reason, RejectDataQuality)
	}
}

func TestAssembleConfidenceThreshold(t *testing.T) {
	a := NewAssembler(AssemblerConfig{MinConfidence: 40})

	c := trendCandidate()
	c.Confidence = 39.9
	if sig, reason := a.Assemble(c); sig != nil || reason != RejectLowConfidence {
		t.Errorf("confidence 39.9 should reject with %q, got sig=%v reason=%q",
			RejectLowConfidence, sig, reason)
	}

	c.Confidence = 40
	if sig, _ := a.Assemble(c); sig == nil {
		t.Error("confidence at the threshold should emit")
	}
}

func TestAssembleRejectsLowQualityLevels(t *testing.T) {
	a := NewAssembler(DefaultAssemblerConfig())

	c := trendCandidate()
	c.Levels.LowConfidence = true
	if sig, reason := a.Assemble(c); sig != nil || reason != RejectLowQuality {
		t.Errorf("low quality levels should reject with %q, got sig=%v reason=%q",
			RejectLowQuality, sig, reason)
	}
}

func TestPipsAt(t *testing.T) {
	spec := market.Spec("EURUSD")

	buy := &Signal{Direction: market.DirectionBuy, Entry: 1.1000}
	if got := buy.PipsAt(1.1048, spec); got < 47.9 || got > 48.1 {
		t.Errorf("buy pips = %f, want 48", got)
	}

	sell := &Signal{Direction: market.DirectionSell, Entry: 1.1000}
	if got := sell.PipsAt(1.1048, spec); got > -47.9 || got < -48.1 {
		t.Errorf("sell pips = %f, want -48", got)
	}
}
