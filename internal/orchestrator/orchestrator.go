// Package orchestrator composes the market-data client, candle store,
// cognitive store, signal library, decision synthesizer, risk gate, and
// paper-trade ledger into one analysis cycle.
//
// Grounded in cmd/engine/main.go's cycle-composition style (closures wiring
// components together) and the Python original's orchestrator/service.py
// run_analysis_cycle six-stage sequencing (sync → gather → synthesize →
// risk → execute → journal), including its skip-on-zero-price short
// circuit and the sync stage's per-timeframe error capture (a failure in
// any later stage aborts the cycle).
package orchestrator

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/nitinkhare/cognitivetrader/internal/decision"
	"github.com/nitinkhare/cognitivetrader/internal/errs"
	"github.com/nitinkhare/cognitivetrader/internal/ledger"
	"github.com/nitinkhare/cognitivetrader/internal/mind"
	"github.com/nitinkhare/cognitivetrader/internal/risk"
	"github.com/nitinkhare/cognitivetrader/internal/signal"
	"github.com/nitinkhare/cognitivetrader/internal/storage"
)

// syncTarget pairs a timeframe with the candle count maybe_backfill and the
// per-cycle sync step fetch.
type syncTarget struct {
	Timeframe    string
	BackfillSize int
	SyncSize     int
}

var syncTargets = []syncTarget{
	{Timeframe: "1d", BackfillSize: 90, SyncSize: 90},
	{Timeframe: "4h", BackfillSize: 42, SyncSize: 120},
	{Timeframe: "1h", BackfillSize: 168, SyncSize: 200},
}

// SyncStatus captures per-timeframe upstream outcomes for one cycle.
type SyncStatus struct {
	Errors map[string]string // timeframe -> error message
}

// CycleResult is what one RunCycle invocation produces, surfaced to the API
// and journaled as needed.
type CycleResult struct {
	CycleID      string
	Skipped      bool
	SyncStatus   SyncStatus
	Decision     *storage.DecisionRecord
	Execution    *ledger.ExecutionResult
	RiskApproved bool
}

// Runtime bundles the global mutable state that would otherwise live in
// package-level variables: last cycle time and consecutive failure count.
// The background ticker handle is not held here; it lives in
// scheduler.Scheduler.
type Runtime struct {
	mu                 sync.Mutex
	lastCycleAt        time.Time
	consecutiveFailures int
}

func (r *Runtime) recordSuccess(at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastCycleAt = at
	r.consecutiveFailures = 0
}

func (r *Runtime) recordFailure() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.consecutiveFailures++
}

// Snapshot is the read-only view of Runtime exposed through the status
// surface.
type Snapshot struct {
	LastCycleAt         time.Time
	ConsecutiveFailures int
}

func (r *Runtime) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Snapshot{LastCycleAt: r.lastCycleAt, ConsecutiveFailures: r.consecutiveFailures}
}

// Config carries the instrument and risk limits the orchestrator needs from
// internal/config without importing it directly (keeps this package's
// dependency surface narrow and test-friendly).
type Config struct {
	Symbol             string
	MaxPositionPct     float64
	MaxExposurePct     float64
	MaxDailyLossPct    float64
	MaxStopLossPct     float64
	InitialBalance     float64
	TradingFeePct      float64
	SlippagePct        float64
	UseCognitiveFilter bool
}

// MarketClient is the subset of *market.Client the orchestrator depends on,
// cut as an interface so tests can substitute a stub upstream feed.
type MarketClient interface {
	FetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]signal.Candle, error)
}

// Orchestrator wires every collaborator under a single session and exposes
// RunCycle plus a Runtime for scheduler/status use.
type Orchestrator struct {
	cfg     Config
	market  MarketClient
	store   storage.Store
	mind    *mind.Store
	risk    risk.Gate
	ledger  *ledger.Ledger
	logger  *log.Logger
	runtime *Runtime

	// writeMu is held for the whole of RunCycle (sync through journal) so a
	// manual trigger and a scheduler tick never interleave writes for this
	// symbol: one writer per symbol, always.
	writeMu sync.Mutex
}

// New builds an Orchestrator from its collaborators.
func New(cfg Config, marketClient MarketClient, store storage.Store, mindStore *mind.Store, logger *log.Logger) *Orchestrator {
	riskGate := risk.New(risk.Config{
		MaxPositionPct:  cfg.MaxPositionPct,
		MaxExposurePct:  cfg.MaxExposurePct,
		MaxDailyLossPct: cfg.MaxDailyLossPct,
		MaxStopLossPct:  cfg.MaxStopLossPct,
	})
	return &Orchestrator{
		cfg:     cfg,
		market:  marketClient,
		store:   store,
		mind:    mindStore,
		risk:    riskGate,
		ledger:  ledger.New(store, cfg.Symbol, cfg.InitialBalance, cfg.TradingFeePct, cfg.SlippagePct),
		logger:  logger,
		runtime: &Runtime{},
	}
}

// Runtime exposes the orchestrator's bundled global state.
func (o *Orchestrator) Runtime() *Runtime { return o.runtime }

// RunCycle executes one full analysis cycle: sync → gather → synthesize →
// risk → execute → journal. source identifies the trigger ("scheduler" or
// "manual") for logging only.
func (o *Orchestrator) RunCycle(ctx context.Context, source string) (CycleResult, error) {
	o.writeMu.Lock()
	defer o.writeMu.Unlock()

	cycleID := uuid.New().String()
	o.logger.Printf("[orchestrator] cycle %s start (source=%s, symbol=%s)", cycleID, source, o.cfg.Symbol)

	syncStatus := o.sync(ctx)

	daily, err := o.store.RecentCandles(ctx, o.cfg.Symbol, "1d", 120)
	if err != nil {
		o.runtime.recordFailure()
		return CycleResult{}, fmt.Errorf("orchestrator: gather daily candles: %w", err)
	}
	hourly, err := o.store.RecentCandles(ctx, o.cfg.Symbol, "1h", 24)
	if err != nil {
		o.runtime.recordFailure()
		return CycleResult{}, fmt.Errorf("orchestrator: gather hourly candles: %w", err)
	}

	price, err := o.store.LatestPrice(ctx, o.cfg.Symbol)
	if err != nil {
		o.runtime.recordFailure()
		return CycleResult{}, fmt.Errorf("orchestrator: latest price: %w", err)
	}
	if price == nil || *price <= 0 {
		o.runtime.recordFailure()
		o.logger.Printf("[orchestrator] cycle skipped: %v", errs.ErrPriceUnavailable)
		return CycleResult{CycleID: cycleID, Skipped: true, SyncStatus: syncStatus}, nil
	}

	trades, err := o.store.AllTrades(ctx)
	if err != nil {
		o.runtime.recordFailure()
		return CycleResult{}, fmt.Errorf("orchestrator: load trades: %w", err)
	}
	accountState := o.ledger.CurrentState(trades)
	portfolio := ledger.Snapshot(accountState, o.cfg.Symbol, *price, o.cfg.InitialBalance)

	doc, err := o.mind.Load()
	if err != nil {
		o.runtime.recordFailure()
		return CycleResult{}, fmt.Errorf("orchestrator: load cognitive state: %w", err)
	}

	recentDecisions, err := o.store.RecentDecisions(ctx, 5)
	if err != nil {
		o.runtime.recordFailure()
		return CycleResult{}, fmt.Errorf("orchestrator: load recent decisions: %w", err)
	}

	signals := computeSignals(daily)

	draft := decision.Synthesize(decision.Context{
		Mind:               doc,
		DailyCandles:       daily,
		HourlyCandles:      hourly,
		Signals:            signals,
		Portfolio:          portfolio,
		RecentDecisions:    recentDecisions,
		MaxPositionPct:     o.cfg.MaxPositionPct,
		MaxStopLossPct:     o.cfg.MaxStopLossPct,
		UseCognitiveFilter: o.cfg.UseCognitiveFilter,
	})

	riskResult := o.risk.Validate(draft, portfolio, doc)
	final := riskResult.AdjustedDecision

	var execResult *ledger.ExecutionResult
	if riskResult.Approved {
		result, err := o.ledger.ExecuteDecision(string(final.Action), final.PositionSizePct, *price, trades)
		if err != nil {
			o.runtime.recordFailure()
			return CycleResult{}, fmt.Errorf("orchestrator: execute decision: %w", err)
		}
		execResult = &result
		if result.Trade != nil {
			if _, err := o.store.AppendTrade(ctx, *result.Trade); err != nil {
				o.runtime.recordFailure()
				return CycleResult{}, fmt.Errorf("orchestrator: append trade: %w", err)
			}
		}
	}

	reasoning := final.Reasoning
	if reasoning == nil {
		reasoning = map[string]any{}
	}
	reasoning["risk_check"] = map[string]any{
		"approved":    riskResult.Approved,
		"violations":  riskResult.Violations,
		"adjustments": riskResult.Adjustments,
	}
	reasoning["sync_status"] = syncStatus.Errors

	savedDecision, err := o.store.SaveDecision(ctx, storage.DecisionRecord{
		Timestamp:       final.Timestamp,
		Action:          string(final.Action),
		PositionSizePct: final.PositionSizePct,
		EntryPrice:      final.EntryPrice,
		StopLoss:        final.StopLoss,
		TakeProfit:      final.TakeProfit,
		Confidence:      final.Confidence,
		Reasoning:       reasoning,
		ModelUsed:       final.ModelUsed,
		InputHash:       final.InputHash,
	})
	if err != nil {
		o.runtime.recordFailure()
		return CycleResult{}, fmt.Errorf("orchestrator: save decision: %w", err)
	}

	o.runtime.recordSuccess(time.Now().UTC())
	o.logger.Printf("[orchestrator] cycle %s complete: action=%s approved=%v", cycleID, final.Action, riskResult.Approved)

	return CycleResult{
		CycleID:      cycleID,
		SyncStatus:   syncStatus,
		Decision:     &savedDecision,
		Execution:    execResult,
		RiskApproved: riskResult.Approved,
	}, nil
}

// sync runs maybe_backfill then a per-timeframe fetch-and-upsert,
// concurrently across timeframes via errgroup — each timeframe's error is
// captured independently so one upstream failure never aborts the others.
func (o *Orchestrator) sync(ctx context.Context) SyncStatus {
	status := SyncStatus{Errors: map[string]string{}}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, target := range syncTargets {
		target := target
		g.Go(func() error {
			if err := o.syncTimeframe(gctx, target); err != nil {
				mu.Lock()
				status.Errors[target.Timeframe] = err.Error()
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait() // per-timeframe errors are already captured in status.Errors

	return status
}

func (o *Orchestrator) syncTimeframe(ctx context.Context, target syncTarget) error {
	count, err := o.store.CandleCount(ctx, o.cfg.Symbol, target.Timeframe)
	if err != nil {
		return fmt.Errorf("count: %w", err)
	}

	if count < target.BackfillSize {
		backfill, err := o.market.FetchCandles(ctx, o.cfg.Symbol, target.Timeframe, target.BackfillSize)
		if err != nil {
			return fmt.Errorf("backfill fetch: %w", err)
		}
		if _, err := o.store.UpsertCandles(ctx, backfill); err != nil {
			return fmt.Errorf("backfill upsert: %w", err)
		}
	}

	candles, err := o.market.FetchCandles(ctx, o.cfg.Symbol, target.Timeframe, target.SyncSize)
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}

	if _, err := o.store.UpsertCandles(ctx, candles); err != nil {
		return fmt.Errorf("upsert: %w", err)
	}
	return nil
}

func computeSignals(daily []signal.Candle) []signal.Signal {
	strategies := []signal.Strategy{
		signal.NewTrendStrategy(),
		signal.NewVolatilityStrategy(),
		signal.NewBreakoutStrategy(),
	}
	signals := make([]signal.Signal, 0, len(strategies))
	for _, s := range strategies {
		signals = append(signals, s.Compute(daily))
	}
	return signals
}
