package market

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// RESTProviderConfig configures an OANDA-compatible candle/pricing API client.
type RESTProviderConfig struct {
	BaseURL   string `json:"base_url"`
	APIKey    string `json:"api_key"`
	AccountID string `json:"account_id"`
	BarCount  int    `json:"bar_count"` // candles fetched per timeframe
}

// RESTProvider fetches snapshots from an OANDA-compatible REST API.
type RESTProvider struct {
	cfg        RESTProviderConfig
	httpClient *http.Client
}

// NewRESTProvider creates the primary snapshot provider.
func NewRESTProvider(cfg RESTProviderConfig) *RESTProvider {
	if cfg.BarCount <= 0 {
		cfg.BarCount = 200
	}
	return &RESTProvider{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (p *RESTProvider) Name() string { return "oanda_rest" }

var granularities = map[Timeframe]string{
	TimeframeM1:  "M1",
	TimeframeM5:  "M5",
	TimeframeM15: "M15",
	TimeframeH1:  "H1",
}

type candleResponse struct {
	Candles []struct {
		Time     string `json:"time"`
		Volume   int64  `json:"volume"`
		Complete bool   `json:"complete"`
		Mid      struct {
			O string `json:"o"`
			H string `json:"h"`
			L string `json:"l"`
			C string `json:"c"`
		} `json:"mid"`
	} `json:"candles"`
}

type pricingResponse struct {
	Prices []struct {
		Bids []struct {
			Price string `json:"price"`
		} `json:"bids"`
		Asks []struct {
			Price string `json:"price"`
		} `json:"asks"`
		Time string `json:"time"`
	} `json:"prices"`
}

// GetSnapshot pulls candle history for every required timeframe plus the
// current quote in a single pass.
func (p *RESTProvider) GetSnapshot(ctx context.Context, symbol string) (*Snapshot, error) {
	snap := &Snapshot{
		Symbol:    symbol,
		Candles:   make(map[Timeframe][]Candle, len(AllTimeframes)),
		FetchedAt: time.Now().UTC(),
	}

	for _, tf := range AllTimeframes {
		candles, err := p.fetchCandles(ctx, symbol, tf)
		if err != nil {
			return nil, fmt.Errorf("%w: fetch %s %s: %v", ErrDataUnavailable, symbol, tf, err)
		}
		snap.Candles[tf] = candles
	}

	quote, err := p.fetchQuote(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch quote %s: %v", ErrDataUnavailable, symbol, err)
	}
	snap.Quote = quote
	return snap, nil
}

// instrumentName converts EURUSD to the EUR_USD form the API expects.
func instrumentName(symbol string) string {
	s := strings.ToUpper(strings.ReplaceAll(symbol, "_", ""))
	if len(s) == 6 {
		return s[:3] + "_" + s[3:]
	}
	return s
}

func (p *RESTProvider) fetchCandles(ctx context.Context, symbol string, tf Timeframe) ([]Candle, error) {
	endpoint := fmt.Sprintf("%s/v3/instruments/%s/candles", p.cfg.BaseURL, instrumentName(symbol))
	params := url.Values{}
	params.Set("granularity", granularities[tf])
	params.Set("count", strconv.Itoa(p.cfg.BarCount))
	params.Set("price", "M")

	var resp candleResponse
	if err := p.getJSON(ctx, endpoint+"?"+params.Encode(), &resp); err != nil {
		return nil, err
	}

	candles := make([]Candle, 0, len(resp.Candles))
	for _, raw := range resp.Candles {
		if !raw.Complete {
			continue
		}
		ts, err := time.Parse(time.RFC3339, raw.Time)
		if err != nil {
			continue
		}
		o, errO := strconv.ParseFloat(raw.Mid.O, 64)
		h, errH := strconv.ParseFloat(raw.Mid.H, 64)
		l, errL := strconv.ParseFloat(raw.Mid.L, 64)
		c, errC := strconv.ParseFloat(raw.Mid.C, 64)
		if errO != nil || errH != nil || errL != nil || errC != nil {
			continue
		}
		candles = append(candles, Candle{
			OpenTime: ts,
			Open:     o,
			High:     h,
			Low:      l,
			Close:    c,
			Volume:   float64(raw.Volume),
		})
	}
	return candles, nil
}

func (p *RESTProvider) fetchQuote(ctx context.Context, symbol string) (Quote, error) {
	endpoint := fmt.Sprintf("%s/v3/accounts/%s/pricing", p.cfg.BaseURL, p.cfg.AccountID)
	params := url.Values{}
	params.Set("instruments", instrumentName(symbol))

	var resp pricingResponse
	if err := p.getJSON(ctx, endpoint+"?"+params.Encode(), &resp); err != nil {
		return Quote{}, err
	}
	if len(resp.Prices) == 0 || len(resp.Prices[0].Bids) == 0 || len(resp.Prices[0].Asks) == 0 {
		return Quote{}, fmt.Errorf("empty pricing response")
	}
	price := resp.Prices[0]
	bid, err := strconv.ParseFloat(price.Bids[0].Price, 64)
	if err != nil {
		return Quote{}, fmt.Errorf("parse bid: %w", err)
	}
	ask, err := strconv.ParseFloat(price.Asks[0].Price, 64)
	if err != nil {
		return Quote{}, fmt.Errorf("parse ask: %w", err)
	}
	ts, err := time.Parse(time.RFC3339, price.Time)
	if err != nil {
		ts = time.Now().UTC()
	}
	return Quote{Symbol: symbol, Bid: bid, Ask: ask, Time: ts}, nil
}

func (p *RESTProvider) getJSON(ctx context.Context, rawURL string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API error %d: %s", resp.StatusCode, string(body))
	}
	return json.Unmarshal(body, out)
}
