package notification

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"forex-signal-engine/internal/logging"
	"forex-signal-engine/internal/signal"
)

// Config enables the outbound notification channels. A channel with missing
// credentials stays silently disabled.
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Discord  DiscordConfig  `json:"discord"`
}

// Event classifies what a notification is about.
type Event string

const (
	EventSignalEmitted Event = "signal_emitted"
	EventSignalClosed  Event = "signal_closed"
)

// Message is a channel-independent notification.
type Message struct {
	Event     Event
	Title     string
	Body      string
	Symbol    string
	Pips      float64
	Timestamp time.Time
}

// Notifier delivers a message over one channel.
type Notifier interface {
	Send(msg *Message) error
	Name() string
	Enabled() bool
}

// Manager fans a message out to every enabled channel. Delivery failures are
// logged, never propagated into the signal pipeline.
type Manager struct {
	notifiers []Notifier
}

// NewManager builds a manager from the configured channels.
func NewManager(cfg Config) *Manager {
	m := &Manager{}
	m.Add(NewTelegramNotifier(cfg.Telegram))
	m.Add(NewDiscordNotifier(cfg.Discord))
	return m
}

// Add registers a channel.
func (m *Manager) Add(n Notifier) {
	m.notifiers = append(m.notifiers, n)
}

// Active reports whether any channel is enabled.
func (m *Manager) Active() bool {
	for _, n := range m.notifiers {
		if n.Enabled() {
			return true
		}
	}
	return false
}

func (m *Manager) send(msg *Message) {
	log := logging.Component("notification")
	for _, n := range m.notifiers {
		if !n.Enabled() {
			continue
		}
		if err := n.Send(msg); err != nil {
			log.Warn().Err(err).Str("channel", n.Name()).Str("event", string(msg.Event)).
				Msg("notification delivery failed")
		}
	}
}

// SignalEmitted announces a freshly assembled signal.
func (m *Manager) SignalEmitted(s *signal.Signal) {
	marker := "LONG"
	if s.Direction != "BUY" {
		marker = "SHORT"
	}
	m.send(&Message{
		Event: EventSignalEmitted,
		Title: fmt.Sprintf("Signal: %s %s", s.Symbol, marker),
		Body: fmt.Sprintf("%s %s @ %.5f\nSL %.5f | TP %.5f\nConfidence %.1f | %s / %s",
			s.Direction, s.Symbol, s.Entry, s.StopLoss, s.TakeProfit,
			s.Confidence, s.Regime, s.Session),
		Symbol:    s.Symbol,
		Timestamp: s.CreatedAt,
	})
}

// SignalClosed announces a lifecycle resolution with the realized pips.
func (m *Manager) SignalClosed(s *signal.Signal) {
	ts := time.Now().UTC()
	if s.ClosedAt != nil {
		ts = *s.ClosedAt
	}
	m.send(&Message{
		Event: EventSignalClosed,
		Title: fmt.Sprintf("Closed: %s %s", s.Symbol, s.Status),
		Body: fmt.Sprintf("%s %s entry %.5f exit %.5f\nResult: %+.1f pips",
			s.Direction, s.Symbol, s.Entry, s.ClosePrice, s.PnLPips),
		Symbol:    s.Symbol,
		Pips:      s.PnLPips,
		Timestamp: ts,
	})
}

// TelegramConfig holds bot API credentials.
type TelegramConfig struct {
	BotToken string `json:"bot_token"`
	ChatID   string `json:"chat_id"`
	Enabled  bool   `json:"enabled"`
}

// TelegramNotifier delivers messages through the Telegram bot API.
type TelegramNotifier struct {
	cfg     TelegramConfig
	enabled bool
	client  *http.Client
}

func NewTelegramNotifier(cfg TelegramConfig) *TelegramNotifier {
	return &TelegramNotifier{
		cfg:     cfg,
		enabled: cfg.Enabled && cfg.BotToken != "" && cfg.ChatID != "",
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *TelegramNotifier) Name() string  { return "telegram" }
func (t *TelegramNotifier) Enabled() bool { return t.enabled }

func (t *TelegramNotifier) Send(msg *Message) error {
	payload, err := json.Marshal(map[string]any{
		"chat_id":    t.cfg.ChatID,
		"text":       fmt.Sprintf("*%s*\n\n%s", msg.Title, msg.Body),
		"parse_mode": "Markdown",
	})
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.cfg.BotToken)
	resp, err := t.client.Post(url, "application/json", bytes.NewBuffer(payload))
	if err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram API returned status %d", resp.StatusCode)
	}
	return nil
}

// DiscordConfig holds the webhook endpoint.
type DiscordConfig struct {
	WebhookURL string `json:"webhook_url"`
	Enabled    bool   `json:"enabled"`
}

// DiscordNotifier delivers messages through a Discord webhook embed.
type DiscordNotifier struct {
	cfg     DiscordConfig
	enabled bool
	client  *http.Client
}

func NewDiscordNotifier(cfg DiscordConfig) *DiscordNotifier {
	return &DiscordNotifier{
		cfg:     cfg,
		enabled: cfg.Enabled && cfg.WebhookURL != "",
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (d *DiscordNotifier) Name() string  { return "discord" }
func (d *DiscordNotifier) Enabled() bool { return d.enabled }

func (d *DiscordNotifier) Send(msg *Message) error {
	color := 0x2ECC71
	if msg.Event == EventSignalClosed && msg.Pips < 0 {
		color = 0xE74C3C
	}

	embed := map[string]any{
		"title":       msg.Title,
		"description": msg.Body,
		"color":       color,
		"timestamp":   msg.Timestamp.Format(time.RFC3339),
	}
	if msg.Symbol != "" {
		embed["fields"] = []map[string]any{
			{"name": "Symbol", "value": msg.Symbol, "inline": true},
		}
	}

	payload, err := json.Marshal(map[string]any{
		"embeds": []map[string]any{embed},
	})
	if err != nil {
		return fmt.Errorf("marshal discord payload: %w", err)
	}

	resp, err := d.client.Post(d.cfg.WebhookURL, "application/json", bytes.NewBuffer(payload))
	if err != nil {
		return fmt.Errorf("send discord message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("discord API returned status %d", resp.StatusCode)
	}
	return nil
}
