// Package api implements the read/command HTTP surface: thin handlers that
// project stored candles, signals, and the Decision/Trade journals, plus
// command endpoints that forward to the orchestrator, the scheduler, and
// the cognitive store.
//
// Grounded directly in the teacher's cmd/dashboard/main.go handler style
// (a Server struct holding every collaborator, one handler method per
// route, shared respondJSON/respondError helpers) — the route list and
// response shapes instead follow the Python original's backend/src/api/
// main.go routes.
package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nitinkhare/cognitivetrader/internal/config"
	"github.com/nitinkhare/cognitivetrader/internal/ledger"
	"github.com/nitinkhare/cognitivetrader/internal/mind"
	"github.com/nitinkhare/cognitivetrader/internal/orchestrator"
	"github.com/nitinkhare/cognitivetrader/internal/scheduler"
	"github.com/nitinkhare/cognitivetrader/internal/signal"
	"github.com/nitinkhare/cognitivetrader/internal/storage"

	"github.com/nitinkhare/cognitivetrader/internal/analytics"
)

// Server holds every collaborator the read/command API needs.
type Server struct {
	cfg    *config.Config
	store  storage.Store
	mind   *mind.Store
	orch   *orchestrator.Orchestrator
	sched  *scheduler.Scheduler
	market orchestrator.MarketClient
	logger *log.Logger

	// paused guards pause/resume against concurrent status/trigger requests
	// — HTTP handlers run on separate goroutines per request.
	pausedMu sync.Mutex
	paused   bool
}

// New builds a Server. market may be nil: a nil market client just makes
// ?refresh=true on GET /api/klines report an error instead of fetching.
func New(cfg *config.Config, store storage.Store, mindStore *mind.Store, orch *orchestrator.Orchestrator, sched *scheduler.Scheduler, market orchestrator.MarketClient, logger *log.Logger) *Server {
	return &Server{cfg: cfg, store: store, mind: mindStore, orch: orch, sched: sched, market: market, logger: logger}
}

// Routes registers every handler on mux. The caller owns /ws/live wiring
// (cmd/agent, alongside the dashboard websocket hub).
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/api/klines", s.handleKlines)
	mux.HandleFunc("/api/portfolio", s.handlePortfolio)
	mux.HandleFunc("/api/signals", s.handleSignals)
	mux.HandleFunc("/api/decisions", s.handleDecisions)
	mux.HandleFunc("/api/decisions/", s.handleDecisionByID)
	mux.HandleFunc("/api/trades", s.handleTrades)
	mux.HandleFunc("/api/performance", s.handlePerformance)
	mux.HandleFunc("/api/mind", s.handleMind)
	mux.HandleFunc("/api/mind/history", s.handleMindHistory)
	mux.HandleFunc("/api/system/status", s.handleSystemStatus)
	mux.HandleFunc("/api/system/health", s.handleSystemHealth)
	mux.HandleFunc("/api/system/trigger-analysis", s.handleTriggerAnalysis)
	mux.HandleFunc("/api/system/pause", s.handlePause)
	mux.HandleFunc("/api/system/resume", s.handleResume)
}

// requestIDHeader is echoed on every response and attached to the request's
// context under requestIDContextKey, so handler-side logging can correlate
// with a client's own trace.
const requestIDHeader = "X-Request-Id"

type requestIDContextKey struct{}

// WithRequestID stamps every request with a uuid-v4 correlation ID, taking
// the caller's own X-Request-Id when present instead of minting a fresh
// one — grounded in the pack's repeated use of google/uuid for
// request/trade identifiers.
func WithRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set(requestIDHeader, id)
		ctx := context.WithValue(r.Context(), requestIDContextKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requestID reads the correlation ID WithRequestID attached to ctx, or ""
// if the request never passed through that middleware.
func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDContextKey{}).(string)
	return id
}

// --- helpers -----------------------------------------------------------

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, ErrorResponse{
		Error:     http.StatusText(status),
		Message:   message,
		Code:      status,
		Timestamp: time.Now().UTC(),
	})
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func queryBool(r *http.Request, key string) bool {
	v := r.URL.Query().Get(key)
	return v == "true" || v == "1"
}

func validTimeframe(tf string) bool {
	return tf == "1h" || tf == "4h" || tf == "1d"
}

// --- /api/klines ---------------------------------------------------------

// handleKlines implements GET /api/klines?timeframe=&limit=&refresh=.
// A refresh=true request synchronously fetches from upstream and
// upserts before reading back from storage. When storage has nothing for
// the requested timeframe, the response falls back to generated mock
// candles (grounded in the Python original's fallback_mock_klines /
// _mock_klines) rather than an empty list or an error.
func (s *Server) handleKlines(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	timeframe := r.URL.Query().Get("timeframe")
	if timeframe == "" {
		timeframe = "1d"
	}
	if !validTimeframe(timeframe) {
		s.respondError(w, http.StatusBadRequest, "timeframe must be one of: 1h, 4h, 1d")
		return
	}
	limit := queryInt(r, "limit", 90)
	if limit > 500 {
		limit = 500
	}

	ctx := r.Context()
	refresh := RefreshInfo{Requested: queryBool(r, "refresh")}

	if refresh.Requested {
		if s.market == nil {
			refresh.Error = "no market client configured"
		} else {
			candles, err := s.market.FetchCandles(ctx, s.cfg.TradingPair, timeframe, limit)
			if err != nil {
				refresh.Error = err.Error()
			} else {
				stored, err := s.store.UpsertCandles(ctx, candles)
				if err != nil {
					refresh.Error = err.Error()
				} else {
					refresh.Stored = &stored
				}
			}
		}
	}

	candles, err := s.store.RecentCandles(ctx, s.cfg.TradingPair, timeframe, limit)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to load candles")
		return
	}

	resp := KlinesResponse{Refresh: refresh}
	if len(candles) == 0 {
		resp.Items = mockKlines(s.cfg.TradingPair, timeframe, limit)
		resp.Source = sourceMockFallback
	} else {
		resp.Items = make([]KlineItem, len(candles))
		for i, c := range candles {
			resp.Items[i] = KlineItem{
				Symbol: s.cfg.TradingPair, Timeframe: timeframe, OpenTime: c.OpenTime,
				Open: c.Open, High: c.High, Low: c.Low, Close: c.Close, Volume: c.Volume,
			}
		}
		resp.Source = sourceDatabase
	}

	s.respondJSON(w, http.StatusOK, resp)
}

// mockKlines generates a deterministic stand-in candle series for a
// timeframe storage has no data for yet, following the same synthetic
// walk (base price 3200, small index-driven oscillation) as the Python
// original's fallback_mock_klines so a fresh deployment's dashboard has
// something to chart before the first sync completes.
func mockKlines(symbol, timeframe string, limit int) []KlineItem {
	step := time.Hour
	switch timeframe {
	case "4h":
		step = 4 * time.Hour
	case "1d":
		step = 24 * time.Hour
	}

	now := time.Now().UTC().Truncate(time.Hour)
	items := make([]KlineItem, limit)
	basePrice := 3200.0
	for i := 0; i < limit; i++ {
		openTime := now.Add(-step * time.Duration(limit-i))
		open := basePrice + float64(i)*1.8
		closePrice := open + float64((i%5)-2)*1.2
		high := max(open, closePrice) + 3.5
		low := min(open, closePrice) - 3.5
		items[i] = KlineItem{
			Symbol: symbol, Timeframe: timeframe, OpenTime: openTime,
			Open: round2(open), High: round2(high), Low: round2(low), Close: round2(closePrice),
			Volume: round2(1100 + float64(i)*9.5),
		}
	}
	return items
}

func round2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}

// --- /api/portfolio ------------------------------------------------------

func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	ctx := r.Context()
	trades, err := s.store.AllTrades(ctx)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to load trades")
		return
	}
	price, err := s.store.LatestPrice(ctx, s.cfg.TradingPair)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to load price")
		return
	}
	markPrice := 0.0
	if price != nil {
		markPrice = *price
	}

	state := ledger.RebuildAccountState(trades, s.cfg.InitialBalance)
	portfolio := ledger.Snapshot(state, s.cfg.TradingPair, markPrice, s.cfg.InitialBalance)

	positions := make([]PositionView, len(portfolio.Positions))
	for i, p := range portfolio.Positions {
		positions[i] = PositionView{
			Symbol: p.Symbol, Quantity: p.Quantity, AvgEntryPrice: p.AvgEntryPrice,
			MarketValue: p.MarketValue, UnrealizedPnL: p.UnrealizedPnL,
		}
	}

	s.respondJSON(w, http.StatusOK, PortfolioResponse{
		Symbol: s.cfg.TradingPair, MarkPrice: markPrice,
		Balance: portfolio.Balance, Equity: portfolio.Equity, Available: portfolio.Available,
		ExposurePct: portfolio.ExposurePct, DailyPnLPct: portfolio.DailyPnLPct, RealizedPnL: portfolio.RealizedPnL,
		Positions: positions,
	})
}

// --- /api/signals ----------------------------------------------------------

// handleSignals implements GET /api/signals?timeframe=&limit=, computing
// the same three strategies and aggregate the orchestrator uses for a
// decision cycle, but read-only: no synthesis, no journaling.
func (s *Server) handleSignals(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	timeframe := r.URL.Query().Get("timeframe")
	if timeframe == "" {
		timeframe = "1d"
	}
	if !validTimeframe(timeframe) {
		s.respondError(w, http.StatusBadRequest, "timeframe must be one of: 1h, 4h, 1d")
		return
	}
	limit := queryInt(r, "limit", 120)

	ctx := r.Context()
	candles, err := s.store.RecentCandles(ctx, s.cfg.TradingPair, timeframe, limit)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to load candles")
		return
	}

	source := sourceDatabase
	if len(candles) == 0 {
		source = sourceMockFallback
		mocked := mockKlines(s.cfg.TradingPair, timeframe, limit)
		candles = make([]signal.Candle, len(mocked))
		for i, m := range mocked {
			candles[i] = signal.Candle{OpenTime: m.OpenTime, Open: m.Open, High: m.High, Low: m.Low, Close: m.Close, Volume: m.Volume}
		}
	}

	strategies := []signal.Strategy{signal.NewTrendStrategy(), signal.NewVolatilityStrategy(), signal.NewBreakoutStrategy()}
	signals := make([]signal.Signal, len(strategies))
	items := make([]SignalView, len(strategies))
	for i, strat := range strategies {
		sig := strat.Compute(candles)
		signals[i] = sig
		items[i] = SignalView{
			StrategyName: sig.StrategyName, Category: string(sig.Category), Action: string(sig.Action),
			Strength: sig.Strength, Indicators: sig.Indicators, Reasoning: sig.Reasoning,
		}
	}

	agg := signal.Compute(signals)
	s.respondJSON(w, http.StatusOK, SignalsResponse{
		Items: items,
		Summary: SignalsSummary{
			CompositeScore: agg.CompositeScore, RecommendedAction: string(agg.RecommendedAction),
			Confidence: agg.Confidence, ActiveSignalCount: agg.ActiveSignalCount,
			BullishCount: agg.BullishCount, BearishCount: agg.BearishCount, HoldCount: agg.HoldCount,
		},
		Source: source,
	})
}

// --- /api/decisions --------------------------------------------------------

func (s *Server) handleDecisions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	page := queryInt(r, "page", 1)
	limit := queryInt(r, "limit", 20)
	if limit > 100 {
		limit = 100
	}

	rows, total, err := s.store.ListDecisions(r.Context(), storage.Page{Number: page, Limit: limit})
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to load decisions")
		return
	}

	items := make([]DecisionView, len(rows))
	for i, d := range rows {
		items[i] = decisionView(d)
	}
	s.respondJSON(w, http.StatusOK, DecisionsResponse{Items: items, Page: page, Limit: limit, Total: total})
}

func (s *Server) handleDecisionByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	idStr := r.URL.Path[len("/api/decisions/"):]
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid decision id")
		return
	}

	row, err := s.store.GetDecision(r.Context(), id)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to load decision")
		return
	}
	if row == nil {
		s.respondError(w, http.StatusNotFound, "decision not found")
		return
	}
	s.respondJSON(w, http.StatusOK, decisionView(*row))
}

func decisionView(d storage.DecisionRecord) DecisionView {
	return DecisionView{
		ID: d.ID, Timestamp: d.Timestamp, Action: d.Action, PositionSizePct: d.PositionSizePct,
		EntryPrice: d.EntryPrice, StopLoss: d.StopLoss, TakeProfit: d.TakeProfit, Confidence: d.Confidence,
		Reasoning: d.Reasoning, ModelUsed: d.ModelUsed, InputHash: d.InputHash,
	}
}

// --- /api/trades -----------------------------------------------------------

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	page := queryInt(r, "page", 1)
	limit := queryInt(r, "limit", 20)
	if limit > 100 {
		limit = 100
	}

	rows, total, err := s.store.ListTrades(r.Context(), storage.Page{Number: page, Limit: limit})
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to load trades")
		return
	}

	items := make([]TradeView, len(rows))
	for i, t := range rows {
		items[i] = TradeView{
			ID: t.ID, Timestamp: t.Timestamp, Symbol: t.Symbol, Side: t.Side,
			Quantity: t.Quantity, Price: t.Price, Fee: t.Fee, Slippage: t.Slippage, PnL: t.PnL, Notes: t.Notes,
		}
	}
	s.respondJSON(w, http.StatusOK, TradesResponse{Items: items, Page: page, Limit: limit, Total: total})
}

// --- /api/performance --------------------------------------------------------

func (s *Server) handlePerformance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	trades, err := s.store.AllTrades(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to load trades")
		return
	}

	report := analytics.Analyze(trades, s.cfg.InitialBalance)
	curve := analytics.EquityCurve(trades, s.cfg.InitialBalance)

	points := make([]EquityPoint, len(curve))
	for i, p := range curve {
		points[i] = EquityPoint{Timestamp: p.Timestamp, Equity: p.Equity, Drawdown: p.Drawdown}
	}

	s.respondJSON(w, http.StatusOK, PerformanceResponse{
		EquityCurve: points, TotalReturnPct: report.TotalReturnPct, MaxDrawdownPct: report.MaxDrawdownPct,
		WinRate: report.WinRate, ProfitFactor: report.ProfitFactor, TotalTrades: report.TotalTrades,
		WinningTrades: report.WinningTrades, LosingTrades: report.LosingTrades,
	})
}

// --- /api/mind ---------------------------------------------------------------

func (s *Server) handleMind(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		doc, err := s.mind.Load()
		if err != nil {
			s.respondError(w, http.StatusInternalServerError, "failed to load cognitive state")
			return
		}
		s.respondJSON(w, http.StatusOK, MindResponse{MarketMind: doc})

	case http.MethodPut:
		var req MindUpdateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		changedBy := req.ChangedBy
		if changedBy == "" {
			changedBy = "api_user"
		}

		switch {
		case req.MarketMind != nil:
			saved, err := s.mind.Save(r.Context(), mind.Document(req.MarketMind), changedBy, req.ChangeSummary)
			if err != nil {
				s.respondError(w, http.StatusInternalServerError, "failed to save cognitive state")
				return
			}
			s.respondJSON(w, http.StatusOK, MindUpdateResponse{MarketMind: saved, Mode: "replace"})
		case req.Patch != nil:
			saved, err := s.mind.Update(r.Context(), mind.Document(req.Patch), changedBy, req.ChangeSummary)
			if err != nil {
				s.respondError(w, http.StatusInternalServerError, "failed to update cognitive state")
				return
			}
			s.respondJSON(w, http.StatusOK, MindUpdateResponse{MarketMind: saved, Mode: "merge"})
		default:
			s.respondError(w, http.StatusBadRequest, "provide either market_mind or patch")
		}

	default:
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleMindHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	limit := queryInt(r, "limit", 20)
	if limit > 100 {
		limit = 100
	}

	rows, total, err := s.store.ListMindHistory(r.Context(), storage.Page{Number: 1, Limit: limit})
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to load mind history")
		return
	}

	items := make([]MindHistoryItem, len(rows))
	for i, h := range rows {
		items[i] = MindHistoryItem{
			ID: h.ID, ChangedAt: h.ChangedAt, ChangedBy: h.ChangedBy, ChangeSummary: h.ChangeSummary,
			PreviousState: h.PreviousState, NewState: h.NewState,
		}
	}
	s.respondJSON(w, http.StatusOK, MindHistoryResponse{Items: items, Page: 1, Limit: limit, Total: total})
}

// --- /api/system/* -----------------------------------------------------------

func (s *Server) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	snap := s.orch.Runtime().Snapshot()
	s.pausedMu.Lock()
	paused := s.paused
	s.pausedMu.Unlock()

	trading := "running"
	schedulerState := "running"
	if paused {
		trading = "paused"
		schedulerState = "paused"
	}

	s.respondJSON(w, http.StatusOK, StatusResponse{
		Trading: trading, Scheduler: schedulerState, LastCycleAt: snap.LastCycleAt,
		ConsecutiveFailures: snap.ConsecutiveFailures, AnalysisIntervalHrs: s.cfg.AnalysisIntervalHours,
		Symbol: s.cfg.TradingPair,
	})
}

func (s *Server) handleSystemHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.respondError(w, http.StatusServiceUnavailable, "storage unreachable")
		return
	}
	s.respondJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// handleTriggerAnalysis implements POST /api/system/trigger-analysis: a
// thin wrapper around the orchestrator's RunCycle, run on the scheduler's
// coalescing guard so a manual trigger and a scheduler tick never collide.
func (s *Server) handleTriggerAnalysis(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.pausedMu.Lock()
	paused := s.paused
	s.pausedMu.Unlock()
	if paused {
		s.respondJSON(w, http.StatusOK, CommandResponse{Status: "ok", Message: "trading is paused, trigger ignored"})
		return
	}

	s.logger.Printf("api: trigger-analysis requested (request_id=%s)", requestID(r.Context()))

	ran := s.sched.TriggerNow(context.Background())
	if !ran {
		s.respondJSON(w, http.StatusAccepted, CommandResponse{Status: "skipped", Message: "a cycle is already running"})
		return
	}
	s.respondJSON(w, http.StatusAccepted, CommandResponse{Status: "accepted", Message: "manual analysis trigger completed"})
}

// handlePause and handleResume stop/start the scheduler's background
// ticker; manual triggers while paused are accepted but reported as
// ignored, not rejected outright.
func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.pausedMu.Lock()
	wasPaused := s.paused
	if !wasPaused {
		s.paused = true
	}
	s.pausedMu.Unlock()
	if !wasPaused {
		s.sched.Stop()
	}
	s.respondJSON(w, http.StatusOK, CommandResponse{Status: "ok", Message: "trading paused"})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.pausedMu.Lock()
	wasPaused := s.paused
	if wasPaused {
		s.paused = false
	}
	s.pausedMu.Unlock()
	if wasPaused {
		s.sched.Start(context.Background())
	}
	s.respondJSON(w, http.StatusOK, CommandResponse{Status: "ok", Message: "trading resumed"})
}
