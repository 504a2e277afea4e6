package signal

import (
	"context"
	"sync"
	"testing"
	"time"

	"forex-signal-engine/internal/market"
)

func TestSchedulerRunOnceEmitsThroughHook(t *testing.T) {
	end := time.Date(2024, 3, 6, 10, 0, 0, 0, time.UTC)
	store := &memStore{}
	e := newTestEngine(&fakeProvider{snap: trendingSnapshot(end)}, store)

	s := NewScheduler(e, SchedulerConfig{
		Interval:      time.Hour,
		Symbols:       []string{"EURUSD"},
		MaxConcurrent: 2,
		EvalTimeout:   5 * time.Second,
	})

	var mu sync.Mutex
	var emitted []*Signal
	s.OnSignal = func(sig *Signal) {
		mu.Lock()
		emitted = append(emitted, sig)
		mu.Unlock()
	}

	s.RunOnce(context.Background())

	mu.Lock()
	defer mu.Unlock()
	if len(emitted) != 1 {
		t.Fatalf("emitted %d signals, want 1", len(emitted))
	}
	if emitted[0].Direction != market.DirectionBuy {
		t.Errorf("direction = %s, want BUY", emitted[0].Direction)
	}
	if len(store.inserted) != 1 {
		t.Errorf("persisted %d signals, want 1", len(store.inserted))
	}
}

func TestSchedulerSurvivesProviderFailure(t *testing.T) {
	e := newTestEngine(&fakeProvider{err: market.ErrDataUnavailable}, &memStore{})
	s := NewScheduler(e, SchedulerConfig{
		Interval: time.Hour,
		Symbols:  []string{"EURUSD", "GBPUSD"},
	})

	called := false
	s.OnSignal = func(*Signal) { called = true }

	// Must complete without panicking or invoking the hook.
	s.RunOnce(context.Background())
	if called {
		t.Error("no signal expected from a failing provider")
	}
}

func TestSchedulerStartStop(t *testing.T) {
	e := newTestEngine(&fakeProvider{err: market.ErrDataUnavailable}, &memStore{})
	s := NewScheduler(e, SchedulerConfig{Interval: time.Hour, Symbols: nil})

	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Start(); err == nil {
		t.Error("second Start must fail")
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := s.Stop(); err == nil {
		t.Error("second Stop must fail")
	}
}
