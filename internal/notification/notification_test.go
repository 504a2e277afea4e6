package notification

import (
	"errors"
	"testing"
	"time"

	"forex-signal-engine/internal/signal"
)

type fakeNotifier struct {
	name    string
	enabled bool
	err     error
	sent    []*Message
}

func (f *fakeNotifier) Send(msg *Message) error {
	f.sent = append(f.sent, msg)
	return f.err
}
func (f *fakeNotifier) Name() string  { return f.name }
func (f *fakeNotifier) Enabled() bool { return f.enabled }

func closedSignal() *signal.Signal {
	ts := time.Date(2024, 3, 6, 14, 0, 0, 0, time.UTC)
	return &signal.Signal{
		ID:         signal.NewID(),
		Symbol:     "EURUSD",
		Direction:  "BUY",
		Entry:      1.1000,
		StopLoss:   1.0975,
		TakeProfit: 1.1050,
		Confidence: 68,
		Status:     signal.StatusTPHit,
		ClosePrice: 1.1050,
		PnLPips:    50,
		CreatedAt:  ts.Add(-2 * time.Hour),
		ClosedAt:   &ts,
	}
}

func TestManagerFansOutToEnabledChannels(t *testing.T) {
	active := &fakeNotifier{name: "a", enabled: true}
	dormant := &fakeNotifier{name: "b", enabled: false}

	m := &Manager{}
	m.Add(active)
	m.Add(dormant)

	m.SignalEmitted(closedSignal())

	if len(active.sent) != 1 {
		t.Fatalf("active channel got %d messages, want 1", len(active.sent))
	}
	if len(dormant.sent) != 0 {
		t.Error("disabled channel must not receive messages")
	}
	if active.sent[0].Event != EventSignalEmitted {
		t.Errorf("event = %s, want signal_emitted", active.sent[0].Event)
	}
}

func TestManagerSwallowsDeliveryFailures(t *testing.T) {
	failing := &fakeNotifier{name: "a", enabled: true, err: errors.New("503")}
	healthy := &fakeNotifier{name: "b", enabled: true}

	m := &Manager{}
	m.Add(failing)
	m.Add(healthy)

	// Must not panic and must still reach the healthy channel.
	m.SignalClosed(closedSignal())
	if len(healthy.sent) != 1 {
		t.Fatalf("healthy channel got %d messages, want 1", len(healthy.sent))
	}
	if healthy.sent[0].Pips != 50 {
		t.Errorf("pips = %f, want 50", healthy.sent[0].Pips)
	}
}

func TestChannelsDisableWithoutCredentials(t *testing.T) {
	if NewTelegramNotifier(TelegramConfig{Enabled: true}).Enabled() {
		t.Error("telegram must stay disabled without a token")
	}
	if NewDiscordNotifier(DiscordConfig{Enabled: true}).Enabled() {
		t.Error("discord must stay disabled without a webhook")
	}
	if NewManager(Config{}).Active() {
		t.Error("empty config must produce an inactive manager")
	}
}
