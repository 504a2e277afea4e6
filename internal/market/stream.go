package market

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"forex-signal-engine/internal/logging"
)

// PriceStream maintains a websocket subscription to a streaming-pricing
// endpoint and keeps the latest quote per symbol. TickMonitor reads from it
// when live streaming is enabled; otherwise it falls back to REST quotes.
type PriceStream struct {
	mu sync.RWMutex

	endpoint  string
	apiKey    string
	symbols   []string
	conn      *websocket.Conn
	quotes    map[string]Quote
	onQuote   func(Quote)
	isRunning bool
	stopChan  chan struct{}
	wg        sync.WaitGroup
}

type streamTick struct {
	Type       string `json:"type"`
	Instrument string `json:"instrument"`
	Time       string `json:"time"`
	Bids       []struct {
		Price string `json:"price"`
	} `json:"bids"`
	Asks []struct {
		Price string `json:"price"`
	} `json:"asks"`
}

// NewPriceStream creates a stream client for the given symbols.
func NewPriceStream(endpoint, apiKey string, symbols []string) *PriceStream {
	return &PriceStream{
		endpoint: endpoint,
		apiKey:   apiKey,
		symbols:  symbols,
		quotes:   make(map[string]Quote),
		stopChan: make(chan struct{}),
	}
}

// OnQuote registers a callback invoked for every tick. Must be set before
// Start.
func (s *PriceStream) OnQuote(fn func(Quote)) { s.onQuote = fn }

// Start connects and begins the read loop with automatic reconnects.
func (s *PriceStream) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("price stream already running")
	}
	s.isRunning = true
	s.stopChan = make(chan struct{})
	s.mu.Unlock()

	if err := s.connect(ctx); err != nil {
		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()
		return err
	}

	s.wg.Add(1)
	go s.readLoop(ctx)
	return nil
}

// Stop closes the stream and waits for the read loop to exit.
func (s *PriceStream) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	close(s.stopChan)
	if s.conn != nil {
		s.conn.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// LatestQuote returns the most recent tick for a symbol, if any.
func (s *PriceStream) LatestQuote(symbol string) (Quote, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.quotes[symbol]
	return q, ok
}

func (s *PriceStream) connect(ctx context.Context) error {
	instruments := make([]string, len(s.symbols))
	for i, sym := range s.symbols {
		instruments[i] = instrumentName(sym)
	}
	u, err := url.Parse(s.endpoint)
	if err != nil {
		return fmt.Errorf("parse stream endpoint: %w", err)
	}
	q := u.Query()
	q.Set("instruments", strings.Join(instruments, ","))
	u.RawQuery = q.Encode()

	header := map[string][]string{"Authorization": {"Bearer " + s.apiKey}}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		return fmt.Errorf("dial price stream: %w", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	return nil
}

func (s *PriceStream) readLoop(ctx context.Context) {
	defer s.wg.Done()
	log := logging.Component("price_stream")

	backoff := time.Second
	for {
		select {
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		default:
		}

		s.mu.RLock()
		conn := s.conn
		s.mu.RUnlock()

		_, payload, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-s.stopChan:
				return
			default:
			}
			log.Warn().Err(err).Dur("backoff", backoff).Msg("stream read failed, reconnecting")
			time.Sleep(backoff)
			if backoff < 30*time.Second {
				backoff *= 2
			}
			if err := s.connect(ctx); err != nil {
				log.Error().Err(err).Msg("stream reconnect failed")
			}
			continue
		}
		backoff = time.Second

		var tick streamTick
		if err := json.Unmarshal(payload, &tick); err != nil || tick.Type == "HEARTBEAT" {
			continue
		}
		if len(tick.Bids) == 0 || len(tick.Asks) == 0 {
			continue
		}
		bid, errB := strconv.ParseFloat(tick.Bids[0].Price, 64)
		ask, errA := strconv.ParseFloat(tick.Asks[0].Price, 64)
		if errB != nil || errA != nil {
			continue
		}
		ts, err := time.Parse(time.RFC3339, tick.Time)
		if err != nil {
			ts = time.Now().UTC()
		}

		quote := Quote{
			Symbol: joinSymbol(tick.Instrument),
			Bid:    bid,
			Ask:    ask,
			Time:   ts,
		}

		s.mu.Lock()
		s.quotes[quote.Symbol] = quote
		s.mu.Unlock()

		if s.onQuote != nil {
			s.onQuote(quote)
		}
	}
}

// joinSymbol converts EUR_USD back to EURUSD.
func joinSymbol(instrument string) string {
	return strings.ReplaceAll(instrument, "_", "")
}
