package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/nitinkhare/cognitivetrader/internal/config"
	"github.com/nitinkhare/cognitivetrader/internal/mind"
	"github.com/nitinkhare/cognitivetrader/internal/orchestrator"
	"github.com/nitinkhare/cognitivetrader/internal/scheduler"
	"github.com/nitinkhare/cognitivetrader/internal/signal"
	"github.com/nitinkhare/cognitivetrader/internal/storage"
)

// memStore is a minimal in-memory storage.Store, mirroring the same fixture
// idiom internal/orchestrator's tests use instead of a real database.
type memStore struct {
	mu        sync.Mutex
	candles   map[string][]signal.Candle
	decisions []storage.DecisionRecord
	trades    []storage.TradeRecord
	history   []storage.MindHistoryRecord
	price     *float64
	pingErr   error
}

func newMemStore(price float64) *memStore {
	return &memStore{candles: map[string][]signal.Candle{}, price: &price}
}

func key(symbol, timeframe string) string { return symbol + "|" + timeframe }

func (m *memStore) UpsertCandles(ctx context.Context, candles []signal.Candle) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range candles {
		k := key(c.Symbol, c.Timeframe)
		m.candles[k] = append(m.candles[k], c)
	}
	return int64(len(candles)), nil
}

func (m *memStore) RecentCandles(ctx context.Context, symbol, timeframe string, limit int) ([]signal.Candle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.candles[key(symbol, timeframe)]
	if len(list) > limit {
		list = list[len(list)-limit:]
	}
	out := make([]signal.Candle, len(list))
	copy(out, list)
	return out, nil
}

func (m *memStore) CandleCount(ctx context.Context, symbol, timeframe string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.candles[key(symbol, timeframe)]), nil
}

func (m *memStore) LatestPrice(ctx context.Context, symbol string) (*float64, error) {
	return m.price, nil
}

func (m *memStore) SaveDecision(ctx context.Context, d storage.DecisionRecord) (storage.DecisionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d.ID = int64(len(m.decisions) + 1)
	m.decisions = append(m.decisions, d)
	return d, nil
}

func (m *memStore) RecentDecisions(ctx context.Context, limit int) ([]storage.DecisionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.decisions) > limit {
		return m.decisions[len(m.decisions)-limit:], nil
	}
	return m.decisions, nil
}

func (m *memStore) GetDecision(ctx context.Context, id int64) (*storage.DecisionRecord, error) {
	for _, d := range m.decisions {
		if d.ID == id {
			return &d, nil
		}
	}
	return nil, nil
}

func (m *memStore) ListDecisions(ctx context.Context, page storage.Page) ([]storage.DecisionRecord, int, error) {
	return m.decisions, len(m.decisions), nil
}

func (m *memStore) AppendTrade(ctx context.Context, t storage.TradeRecord) (storage.TradeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t.ID = int64(len(m.trades) + 1)
	m.trades = append(m.trades, t)
	return t, nil
}

func (m *memStore) AllTrades(ctx context.Context) ([]storage.TradeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]storage.TradeRecord, len(m.trades))
	copy(out, m.trades)
	return out, nil
}

func (m *memStore) ListTrades(ctx context.Context, page storage.Page) ([]storage.TradeRecord, int, error) {
	return m.trades, len(m.trades), nil
}

func (m *memStore) AppendMindHistory(ctx context.Context, h storage.MindHistoryRecord) (storage.MindHistoryRecord, error) {
	h.ID = int64(len(m.history) + 1)
	m.history = append(m.history, h)
	return h, nil
}

func (m *memStore) ListMindHistory(ctx context.Context, page storage.Page) ([]storage.MindHistoryRecord, int, error) {
	return m.history, len(m.history), nil
}

func (m *memStore) LatestMindHistory(ctx context.Context) (*storage.MindHistoryRecord, error) {
	if len(m.history) == 0 {
		return nil, nil
	}
	h := m.history[len(m.history)-1]
	return &h, nil
}

func (m *memStore) Ping(ctx context.Context) error { return m.pingErr }
func (m *memStore) Close()                         {}

func seedCandles(store *memStore, symbol, timeframe string, n int) {
	base := time.Now().AddDate(0, 0, -n)
	for i := 0; i < n; i++ {
		c := 3000 + float64(i)
		store.candles[key(symbol, timeframe)] = append(store.candles[key(symbol, timeframe)], signal.Candle{
			Symbol: symbol, Timeframe: timeframe,
			OpenTime: base.Add(time.Duration(i) * 24 * time.Hour),
			Open:     c, High: c * 1.01, Low: c * 0.99, Close: c, Volume: 1000,
		})
	}
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func newTestServer(t *testing.T, store *memStore) *Server {
	t.Helper()
	logger := log.New(discard{}, "", 0)
	cfg := &config.Config{
		TradingPair:     "ETHUSDT",
		InitialBalance:  10000,
		MaxPositionPct:  0.2,
		MaxExposurePct:  0.6,
		MaxDailyLossPct: 0.05,
		MaxStopLossPct:  0.08,
	}
	mindDir := t.TempDir() + "/mind.json"
	mindStore := mind.New(mindDir, "", store)
	orch := orchestrator.New(orchestrator.Config{
		Symbol: cfg.TradingPair, MaxPositionPct: cfg.MaxPositionPct, MaxExposurePct: cfg.MaxExposurePct,
		MaxDailyLossPct: cfg.MaxDailyLossPct, MaxStopLossPct: cfg.MaxStopLossPct, InitialBalance: cfg.InitialBalance,
	}, nil, store, mindStore, logger)
	sched := scheduler.New(time.Hour, func(ctx context.Context, source string) error { return nil }, logger)
	return New(cfg, store, mindStore, orch, sched, nil, logger)
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
		t.Fatalf("failed to decode response body %q: %v", w.Body.String(), err)
	}
}

func TestHandleKlines_FallsBackToMockWhenStoreEmpty(t *testing.T) {
	s := newTestServer(t, newMemStore(3200))

	req := httptest.NewRequest(http.MethodGet, "/api/klines?timeframe=1d&limit=10", nil)
	w := httptest.NewRecorder()
	s.handleKlines(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp KlinesResponse
	decodeBody(t, w, &resp)
	if resp.Source != sourceMockFallback {
		t.Errorf("expected source %q, got %q", sourceMockFallback, resp.Source)
	}
	if len(resp.Items) != 10 {
		t.Errorf("expected 10 mock candles, got %d", len(resp.Items))
	}
}

func TestHandleKlines_ReadsFromStoreWhenPresent(t *testing.T) {
	store := newMemStore(3200)
	seedCandles(store, "ETHUSDT", "1d", 20)
	s := newTestServer(t, store)

	req := httptest.NewRequest(http.MethodGet, "/api/klines?timeframe=1d&limit=5", nil)
	w := httptest.NewRecorder()
	s.handleKlines(w, req)

	var resp KlinesResponse
	decodeBody(t, w, &resp)
	if resp.Source != sourceDatabase {
		t.Errorf("expected source %q, got %q", sourceDatabase, resp.Source)
	}
	if len(resp.Items) != 5 {
		t.Errorf("expected 5 candles, got %d", len(resp.Items))
	}
}

func TestHandleKlines_RejectsInvalidTimeframe(t *testing.T) {
	s := newTestServer(t, newMemStore(3200))

	req := httptest.NewRequest(http.MethodGet, "/api/klines?timeframe=5m", nil)
	w := httptest.NewRecorder()
	s.handleKlines(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid timeframe, got %d", w.Code)
	}
}

func TestHandleKlines_RefreshWithNoMarketClientReportsError(t *testing.T) {
	s := newTestServer(t, newMemStore(3200))

	req := httptest.NewRequest(http.MethodGet, "/api/klines?refresh=true", nil)
	w := httptest.NewRecorder()
	s.handleKlines(w, req)

	var resp KlinesResponse
	decodeBody(t, w, &resp)
	if !resp.Refresh.Requested {
		t.Error("expected refresh.requested true")
	}
	if resp.Refresh.Error == "" {
		t.Error("expected a refresh error when no market client is configured")
	}
}

func TestHandlePortfolio_FlatAccountReflectsInitialBalance(t *testing.T) {
	s := newTestServer(t, newMemStore(3200))

	req := httptest.NewRequest(http.MethodGet, "/api/portfolio", nil)
	w := httptest.NewRecorder()
	s.handlePortfolio(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp PortfolioResponse
	decodeBody(t, w, &resp)
	if resp.Balance != 10000 {
		t.Errorf("expected balance 10000, got %v", resp.Balance)
	}
	if len(resp.Positions) != 0 {
		t.Errorf("expected no positions on a flat account, got %d", len(resp.Positions))
	}
}

func TestHandlePortfolio_ReflectsTradeHistory(t *testing.T) {
	store := newMemStore(3300)
	store.trades = append(store.trades, storage.TradeRecord{
		Timestamp: time.Now(), Symbol: "ETHUSDT", Side: "buy",
		Quantity: 1, Price: 3000, Fee: 3, Slippage: 1,
	})
	s := newTestServer(t, store)

	req := httptest.NewRequest(http.MethodGet, "/api/portfolio", nil)
	w := httptest.NewRecorder()
	s.handlePortfolio(w, req)

	var resp PortfolioResponse
	decodeBody(t, w, &resp)
	if len(resp.Positions) != 1 {
		t.Fatalf("expected one open position, got %d", len(resp.Positions))
	}
	if resp.Positions[0].Quantity != 1 {
		t.Errorf("expected quantity 1, got %v", resp.Positions[0].Quantity)
	}
}

func TestHandleSignals_UsesMockCandlesWhenStoreEmpty(t *testing.T) {
	s := newTestServer(t, newMemStore(3200))

	req := httptest.NewRequest(http.MethodGet, "/api/signals?timeframe=1d&limit=30", nil)
	w := httptest.NewRecorder()
	s.handleSignals(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp SignalsResponse
	decodeBody(t, w, &resp)
	if resp.Source != sourceMockFallback {
		t.Errorf("expected source %q, got %q", sourceMockFallback, resp.Source)
	}
	if len(resp.Items) != 3 {
		t.Errorf("expected 3 strategy signals, got %d", len(resp.Items))
	}
}

func TestHandleDecisions_PaginatesAndRoundTrips(t *testing.T) {
	store := newMemStore(3200)
	store.decisions = append(store.decisions, storage.DecisionRecord{
		Timestamp: time.Now(), Action: "hold", Reasoning: map[string]any{"why": "flat market"},
	})
	s := newTestServer(t, store)

	req := httptest.NewRequest(http.MethodGet, "/api/decisions?page=1&limit=10", nil)
	w := httptest.NewRecorder()
	s.handleDecisions(w, req)

	var resp DecisionsResponse
	decodeBody(t, w, &resp)
	if resp.Total != 1 || len(resp.Items) != 1 {
		t.Fatalf("expected one decision, got total=%d items=%d", resp.Total, len(resp.Items))
	}
	if resp.Items[0].Action != "hold" {
		t.Errorf("expected action hold, got %s", resp.Items[0].Action)
	}
}

func TestHandleDecisionByID_NotFound(t *testing.T) {
	s := newTestServer(t, newMemStore(3200))

	req := httptest.NewRequest(http.MethodGet, "/api/decisions/999", nil)
	w := httptest.NewRecorder()
	s.handleDecisionByID(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestHandleMind_GetReturnsSkeletonThenPutReplaces(t *testing.T) {
	s := newTestServer(t, newMemStore(3200))

	getReq := httptest.NewRequest(http.MethodGet, "/api/mind", nil)
	getW := httptest.NewRecorder()
	s.handleMind(getW, getReq)
	var getResp MindResponse
	decodeBody(t, getW, &getResp)
	if _, ok := getResp.MarketMind["market_beliefs"]; !ok {
		t.Fatal("expected skeleton document to contain market_beliefs")
	}

	body, _ := json.Marshal(MindUpdateRequest{
		MarketMind: map[string]any{
			"market_beliefs":   map[string]any{"trend": "bullish"},
			"strategy_weights": map[string]any{},
			"lessons_learned":  []any{},
			"bias_awareness":   []any{},
		},
		ChangedBy: "tester",
	})
	putReq := httptest.NewRequest(http.MethodPut, "/api/mind", bytes.NewReader(body))
	putW := httptest.NewRecorder()
	s.handleMind(putW, putReq)

	if putW.Code != http.StatusOK {
		t.Fatalf("expected 200 on PUT, got %d: %s", putW.Code, putW.Body.String())
	}
	var putResp MindUpdateResponse
	decodeBody(t, putW, &putResp)
	if putResp.Mode != "replace" {
		t.Errorf("expected mode replace, got %s", putResp.Mode)
	}
}

func TestHandleMind_PutRejectsEmptyBody(t *testing.T) {
	s := newTestServer(t, newMemStore(3200))

	req := httptest.NewRequest(http.MethodPut, "/api/mind", bytes.NewReader([]byte(`{}`)))
	w := httptest.NewRecorder()
	s.handleMind(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 when neither market_mind nor patch is set, got %d", w.Code)
	}
}

func TestHandleSystemHealth_ReportsStoreFailure(t *testing.T) {
	store := newMemStore(3200)
	store.pingErr = context.DeadlineExceeded
	s := newTestServer(t, store)

	req := httptest.NewRequest(http.MethodGet, "/api/system/health", nil)
	w := httptest.NewRecorder()
	s.handleSystemHealth(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 when storage is unreachable, got %d", w.Code)
	}
}

func TestHandlePauseResume_TogglesSystemStatus(t *testing.T) {
	s := newTestServer(t, newMemStore(3200))

	pauseReq := httptest.NewRequest(http.MethodPost, "/api/system/pause", nil)
	pauseW := httptest.NewRecorder()
	s.handlePause(pauseW, pauseReq)
	if pauseW.Code != http.StatusOK {
		t.Fatalf("expected 200 on pause, got %d", pauseW.Code)
	}

	statusReq := httptest.NewRequest(http.MethodGet, "/api/system/status", nil)
	statusW := httptest.NewRecorder()
	s.handleSystemStatus(statusW, statusReq)
	var status StatusResponse
	decodeBody(t, statusW, &status)
	if status.Trading != "paused" {
		t.Errorf("expected trading=paused after pause, got %s", status.Trading)
	}

	resumeReq := httptest.NewRequest(http.MethodPost, "/api/system/resume", nil)
	resumeW := httptest.NewRecorder()
	s.handleResume(resumeW, resumeReq)
	if resumeW.Code != http.StatusOK {
		t.Fatalf("expected 200 on resume, got %d", resumeW.Code)
	}

	statusW2 := httptest.NewRecorder()
	s.handleSystemStatus(statusW2, statusReq)
	var status2 StatusResponse
	decodeBody(t, statusW2, &status2)
	if status2.Trading != "running" {
		t.Errorf("expected trading=running after resume, got %s", status2.Trading)
	}
}

func TestHandleTriggerAnalysis_IgnoredWhilePaused(t *testing.T) {
	s := newTestServer(t, newMemStore(3200))
	s.paused = true

	req := httptest.NewRequest(http.MethodPost, "/api/system/trigger-analysis", nil)
	w := httptest.NewRecorder()
	s.handleTriggerAnalysis(w, req)

	var resp CommandResponse
	decodeBody(t, w, &resp)
	if resp.Status != "ok" {
		t.Errorf("expected status ok for an ignored trigger, got %s", resp.Status)
	}
}

func TestHandleTriggerAnalysis_Accepted(t *testing.T) {
	s := newTestServer(t, newMemStore(3200))

	req := httptest.NewRequest(http.MethodPost, "/api/system/trigger-analysis", nil)
	w := httptest.NewRecorder()
	s.handleTriggerAnalysis(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", w.Code)
	}
	var resp CommandResponse
	decodeBody(t, w, &resp)
	if resp.Status != "accepted" {
		t.Errorf("expected status accepted, got %s", resp.Status)
	}
}

func TestWithRequestID_EchoesClientSuppliedID(t *testing.T) {
	var seen string
	handler := WithRequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = requestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, "client-supplied-id")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if seen != "client-supplied-id" {
		t.Errorf("expected the client-supplied request id to be threaded through, got %q", seen)
	}
	if w.Header().Get(requestIDHeader) != "client-supplied-id" {
		t.Errorf("expected response header to echo the request id, got %q", w.Header().Get(requestIDHeader))
	}
}

func TestWithRequestID_GeneratesIDWhenAbsent(t *testing.T) {
	handler := WithRequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Header().Get(requestIDHeader) == "" {
		t.Error("expected a generated request id when the client sends none")
	}
}
