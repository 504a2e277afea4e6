package monitor

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"forex-signal-engine/internal/market"
	"forex-signal-engine/internal/signal"
)

type memSignalStore struct {
	mu      sync.Mutex
	signals map[string]*signal.Signal
	closes  int
}

func newMemSignalStore(sigs ...*signal.Signal) *memSignalStore {
	s := &memSignalStore{signals: make(map[string]*signal.Signal)}
	for _, sig := range sigs {
		s.signals[sig.ID] = sig
	}
	return s
}

func (s *memSignalStore) ListOpen(context.Context) ([]*signal.Signal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*signal.Signal
	for _, sig := range s.signals {
		if sig.Status == signal.StatusOpen {
			copied := *sig
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (s *memSignalStore) Close(_ context.Context, id string, status signal.Status, closePrice, pips float64, closedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sig, ok := s.signals[id]
	if !ok || sig.Status != signal.StatusOpen {
		return false, nil
	}
	sig.Status = status
	sig.ClosePrice = closePrice
	sig.PnLPips = pips
	sig.ClosedAt = &closedAt
	s.closes++
	return true, nil
}

func (s *memSignalStore) get(id string) signal.Signal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.signals[id]
}

type fakeQuotes struct {
	mu     sync.Mutex
	quotes map[string]market.Quote
	errs   map[string]error
}

func (f *fakeQuotes) Quote(_ context.Context, symbol string) (market.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[symbol]; err != nil {
		return market.Quote{}, err
	}
	return f.quotes[symbol], nil
}

func openBuy(id string, createdAt time.Time) *signal.Signal {
	return &signal.Signal{
		ID:         id,
		Symbol:     "EURUSD",
		Direction:  market.DirectionBuy,
		Entry:      1.10000,
		StopLoss:   1.09760,
		TakeProfit: 1.10480,
		Status:     signal.StatusOpen,
		CreatedAt:  createdAt,
	}
}

func newTestMonitor(store SignalStore, quotes QuoteSource) *Monitor {
	return New(store, quotes, Config{
		CheckInterval: time.Second,
		MaxDuration:   4 * time.Hour,
		MaxConcurrent: 4,
		CheckTimeout:  time.Second,
	})
}

func TestRunOnceClosesTakeProfit(t *testing.T) {
	store := newMemSignalStore(openBuy("tp-1", time.Now().UTC()))
	quotes := &fakeQuotes{quotes: map[string]market.Quote{
		"EURUSD": {Symbol: "EURUSD", Bid: 1.10490, Ask: 1.10492},
	}}

	m := newTestMonitor(store, quotes)
	m.RunOnce(context.Background())

	got := store.get("tp-1")
	if got.Status != signal.StatusTPHit {
		t.Fatalf("status = %s, want TP_HIT", got.Status)
	}
	if got.ClosePrice != 1.10490 {
		t.Errorf("BUY must close at bid: close = %f", got.ClosePrice)
	}
	if math.Abs(got.PnLPips-49.0) > 0.01 {
		t.Errorf("pips = %f, want 49", got.PnLPips)
	}
	if got.ClosedAt == nil {
		t.Error("closed signal must carry closed_at")
	}
}

func TestRunOnceClosesStopLoss(t *testing.T) {
	sell := &signal.Signal{
		ID:         "sl-1",
		Symbol:     "EURUSD",
		Direction:  market.DirectionSell,
		Entry:      1.10000,
		StopLoss:   1.10240,
		TakeProfit: 1.09640,
		Status:     signal.StatusOpen,
		CreatedAt:  time.Now().UTC(),
	}
	store := newMemSignalStore(sell)
	quotes := &fakeQuotes{quotes: map[string]market.Quote{
		"EURUSD": {Symbol: "EURUSD", Bid: 1.10248, Ask: 1.10250},
	}}

	newTestMonitor(store, quotes).RunOnce(context.Background())

	got := store.get("sl-1")
	if got.Status != signal.StatusSLHit {
		t.Fatalf("status = %s, want SL_HIT", got.Status)
	}
	if got.ClosePrice != 1.10250 {
		t.Errorf("SELL must close at ask: close = %f", got.ClosePrice)
	}
	if got.PnLPips >= 0 {
		t.Errorf("stopped SELL must book a loss, pips = %f", got.PnLPips)
	}
}

// A quote that straddles both levels resolves to the stop, never the target.
func TestStopLossWinsWhenBothLevelsCross(t *testing.T) {
	sig := openBuy("both-1", time.Now().UTC())
	sig.StopLoss = 1.09990
	sig.TakeProfit = 1.10010
	store := newMemSignalStore(sig)
	quotes := &fakeQuotes{quotes: map[string]market.Quote{
		// Bid below the stop and above... impossible for one price, so model
		// the gap open: bid gapped through both levels downward first.
		"EURUSD": {Symbol: "EURUSD", Bid: 1.09980, Ask: 1.10020},
	}}

	newTestMonitor(store, quotes).RunOnce(context.Background())

	if got := store.get("both-1"); got.Status != signal.StatusSLHit {
		t.Fatalf("status = %s, want SL_HIT on ambiguous cross", got.Status)
	}
}

func TestRunOnceExpiresStaleSignal(t *testing.T) {
	stale := openBuy("old-1", time.Now().UTC().Add(-5*time.Hour))
	store := newMemSignalStore(stale)
	quotes := &fakeQuotes{quotes: map[string]market.Quote{
		"EURUSD": {Symbol: "EURUSD", Bid: 1.10100, Ask: 1.10102},
	}}

	newTestMonitor(store, quotes).RunOnce(context.Background())

	got := store.get("old-1")
	if got.Status != signal.StatusExpired {
		t.Fatalf("status = %s, want EXPIRED", got.Status)
	}
	if got.ClosePrice != 1.10100 {
		t.Errorf("expiry closes at the current exit price, got %f", got.ClosePrice)
	}
}

func TestRunOnceIsIdempotent(t *testing.T) {
	store := newMemSignalStore(openBuy("tp-2", time.Now().UTC()))
	quotes := &fakeQuotes{quotes: map[string]market.Quote{
		"EURUSD": {Symbol: "EURUSD", Bid: 1.10500, Ask: 1.10502},
	}}

	m := newTestMonitor(store, quotes)
	m.RunOnce(context.Background())
	m.RunOnce(context.Background())

	if store.closes != 1 {
		t.Errorf("signal closed %d times, want exactly once", store.closes)
	}
}

// One symbol's quote failure must not stop other signals from resolving.
func TestRunOnceIsolatesQuoteFailures(t *testing.T) {
	broken := openBuy("broken-1", time.Now().UTC())
	broken.Symbol = "USDJPY"
	healthy := openBuy("healthy-1", time.Now().UTC())
	store := newMemSignalStore(broken, healthy)
	quotes := &fakeQuotes{
		quotes: map[string]market.Quote{
			"EURUSD": {Symbol: "EURUSD", Bid: 1.10500, Ask: 1.10502},
		},
		errs: map[string]error{"USDJPY": errors.New("feed down")},
	}

	newTestMonitor(store, quotes).RunOnce(context.Background())

	if got := store.get("healthy-1"); got.Status != signal.StatusTPHit {
		t.Errorf("healthy signal status = %s, want TP_HIT", got.Status)
	}
	if got := store.get("broken-1"); got.Status != signal.StatusOpen {
		t.Errorf("signal without a quote must stay open, got %s", got.Status)
	}
}

func TestStartStop(t *testing.T) {
	store := newMemSignalStore()
	m := newTestMonitor(store, &fakeQuotes{})

	if err := m.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := m.Start(); err == nil {
		t.Error("second Start must fail while running")
	}
	if !m.IsRunning() {
		t.Error("monitor should report running")
	}
	if err := m.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := m.Stop(); err == nil {
		t.Error("second Stop must fail when stopped")
	}
}
