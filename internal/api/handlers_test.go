package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"forex-signal-engine/internal/confluence"
	"forex-signal-engine/internal/market"
	"forex-signal-engine/internal/optimizer"
	"forex-signal-engine/internal/signal"
)

type fakeEvaluator struct {
	eval *signal.Evaluation
	err  error
}

func (f *fakeEvaluator) Evaluate(_ context.Context, symbol string) (*signal.Evaluation, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := *f.eval
	out.Symbol = symbol
	return &out, nil
}

type fakeSignalReader struct {
	open   []*signal.Signal
	recent []*signal.Signal
}

func (f *fakeSignalReader) ListOpen(context.Context) ([]*signal.Signal, error) { return f.open, nil }
func (f *fakeSignalReader) ListRecent(context.Context, int) ([]*signal.Signal, error) {
	return f.recent, nil
}

type fakeWeightReader struct{}

func (fakeWeightReader) Weights(context.Context, confluence.Context) (confluence.WeightVector, error) {
	return confluence.DefaultWeights(), nil
}

type fakeTrainingLog struct{}

func (fakeTrainingLog) TrainingLog(context.Context, int) ([]signal.TrainingLogEntry, error) {
	return nil, nil
}

type fakeTrainer struct {
	res *optimizer.Result
	err error
}

func (f *fakeTrainer) Optimize(context.Context, confluence.Context) (*optimizer.Result, error) {
	return f.res, f.err
}

func newTestServer(deps Deps) *Server {
	return NewServer(ServerConfig{
		Host:           "127.0.0.1",
		Port:           0,
		ProductionMode: true,
		Symbols:        []string{"EURUSD", "USDJPY"},
	}, deps)
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(Deps{})
	w := doJSON(t, s, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestHandleEvaluateEmitsSignal(t *testing.T) {
	sig := &signal.Signal{
		ID:         "abc",
		Symbol:     "EURUSD",
		Direction:  market.DirectionBuy,
		Status:     signal.StatusOpen,
		Confidence: 71,
	}
	s := newTestServer(Deps{
		Engine: &fakeEvaluator{eval: &signal.Evaluation{Signal: sig, Confidence: 71}},
	})

	w := doJSON(t, s, http.MethodPost, "/api/v1/signals/evaluate", map[string]any{"symbol": "eurusd"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var eval signal.Evaluation
	if err := json.Unmarshal(w.Body.Bytes(), &eval); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if eval.Signal == nil || eval.Signal.ID != "abc" {
		t.Errorf("signal not returned: %+v", eval)
	}
	if eval.Symbol != "EURUSD" {
		t.Errorf("symbol not normalized: %s", eval.Symbol)
	}
}

func TestHandleEvaluateRejectsUnknownSymbol(t *testing.T) {
	s := newTestServer(Deps{Engine: &fakeEvaluator{eval: &signal.Evaluation{}}})

	w := doJSON(t, s, http.MethodPost, "/api/v1/signals/evaluate", map[string]any{"symbol": "BTCUSD"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}

	w = doJSON(t, s, http.MethodPost, "/api/v1/signals/evaluate", map[string]any{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing symbol: status = %d, want 400", w.Code)
	}
}

func TestHandleEvaluateDataUnavailable(t *testing.T) {
	s := newTestServer(Deps{Engine: &fakeEvaluator{err: market.ErrDataUnavailable}})

	w := doJSON(t, s, http.MethodPost, "/api/v1/signals/evaluate", map[string]any{"symbol": "EURUSD"})
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestHandleOpenSignals(t *testing.T) {
	s := newTestServer(Deps{
		Signals: &fakeSignalReader{open: []*signal.Signal{{ID: "a"}, {ID: "b"}}},
	})

	w := doJSON(t, s, http.MethodGet, "/api/v1/signals/open", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Count != 2 {
		t.Errorf("count = %d, want 2", resp.Count)
	}
}

func TestHandleWeightsRequiresContext(t *testing.T) {
	s := newTestServer(Deps{Weights: fakeWeightReader{}})

	w := doJSON(t, s, http.MethodGet, "/api/v1/weights?symbol=EURUSD", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("partial context: status = %d, want 400", w.Code)
	}

	w = doJSON(t, s, http.MethodGet, "/api/v1/weights?symbol=EURUSD&session=LONDON&regime=TREND", nil)
	if w.Code != http.StatusOK {
		t.Errorf("full context: status = %d, want 200", w.Code)
	}
}

func TestHandleTrainConflicts(t *testing.T) {
	s := newTestServer(Deps{Trainer: &fakeTrainer{err: optimizer.ErrInsufficientSamples}})

	body := map[string]any{"symbol": "EURUSD", "session": "LONDON", "regime": "TREND"}
	w := doJSON(t, s, http.MethodPost, "/api/v1/weights/train", body)
	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", w.Code)
	}
}

func TestHandleTrainDisabled(t *testing.T) {
	s := newTestServer(Deps{})
	body := map[string]any{"symbol": "EURUSD", "session": "LONDON", "regime": "TREND"}
	w := doJSON(t, s, http.MethodPost, "/api/v1/weights/train", body)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}


func TestRateLimiterIsPerClient(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)

	if !rl.Allow("10.0.0.1") || !rl.Allow("10.0.0.1") {
		t.Fatal("first two requests must pass")
	}
	if rl.Allow("10.0.0.1") {
		t.Error("third request inside the window must be rejected")
	}
	if !rl.Allow("10.0.0.2") {
		t.Error("a different client must not share the first client's budget")
	}
}
