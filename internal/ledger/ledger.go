// Package ledger implements the paper-trade ledger: deterministic replay of
// an append-only trade log into an AccountState, and deterministic
// execution of an approved decision against that state.
//
// Grounded in the teacher's internal/broker/paper.go (PaperBroker,
// weighted-average-entry-price idiom, mutex-guarded state) but restructured
// so replay-from-trade-log is a first-class operation (RebuildAccountState),
// not an incidental byproduct of a stateful broker — the account has no
// independent balance row, so rebuilding the same trade log twice must
// always yield equal state.
package ledger

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nitinkhare/cognitivetrader/internal/storage"
)

// moneyPlaces is the rounding precision applied to every amount crossing a
// serialization boundary (a Trade row, a Portfolio snapshot): internal math
// stays float64, but external-facing figures are rounded through
// shopspring/decimal rather than left to accumulate raw binary-float drift
// across a long replay.
const moneyPlaces = 8

func round(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(moneyPlaces).Float64()
	return f
}

// AccountState is the long-flat-only paper account reconstructed from the
// trade log.
type AccountState struct {
	Cash           float64
	PositionQty    float64
	AvgEntryPrice  float64
	RealizedPnL    float64
	DayRealizedPnL float64
}

// Position describes the single long position the account may hold.
type Position struct {
	Symbol        string
	Quantity      float64
	AvgEntryPrice float64
	MarketValue   float64
	UnrealizedPnL float64
}

// Portfolio is the external-facing valuation of an AccountState at a mark
// price.
type Portfolio struct {
	Balance       float64
	Equity        float64
	Available     float64
	ExposurePct   float64
	DailyPnLPct   float64
	RealizedPnL   float64
	Positions     []Position
}

// zeroEpsilon is the tolerance below which a position is considered flat,
// to avoid leaving a residual dust quantity open after a sell that should
// have fully closed the position.
const zeroEpsilon = 1e-12

// RebuildAccountState replays trades (oldest first) deterministically from
// initialBalance. Calling it twice over the same trade slice yields an
// identical state.
func RebuildAccountState(trades []storage.TradeRecord, initialBalance float64) AccountState {
	state := AccountState{Cash: initialBalance}
	today := time.Now().UTC().Format("2006-01-02")

	for _, t := range trades {
		switch t.Side {
		case "buy":
			applyBuy(&state, t)
		case "sell":
			applySell(&state, t)
			if t.Timestamp.UTC().Format("2006-01-02") == today {
				state.DayRealizedPnL += t.PnL
			}
		}
	}
	return state
}

func applyBuy(state *AccountState, t storage.TradeRecord) {
	cost := t.Quantity*t.Price + t.Fee + t.Slippage
	state.Cash -= cost

	newQty := state.PositionQty + t.Quantity
	if newQty > 0 {
		state.AvgEntryPrice = (state.AvgEntryPrice*state.PositionQty + t.Price*t.Quantity) / newQty
	}
	state.PositionQty = newQty
}

func applySell(state *AccountState, t storage.TradeRecord) {
	qty := t.Quantity
	if qty > state.PositionQty {
		qty = state.PositionQty
	}

	realized := (t.Price-state.AvgEntryPrice)*qty - t.Fee - t.Slippage
	state.RealizedPnL += realized
	state.Cash += qty*t.Price - t.Fee - t.Slippage
	state.PositionQty -= qty

	if state.PositionQty <= zeroEpsilon {
		state.PositionQty = 0
		state.AvgEntryPrice = 0
	}
}

// Snapshot values an AccountState at markPrice into the API-facing
// Portfolio shape.
func Snapshot(state AccountState, symbol string, markPrice, initialBalance float64) Portfolio {
	positionValue := state.PositionQty * markPrice
	equity := state.Cash + positionValue

	var exposurePct float64
	if equity > 0 {
		exposurePct = positionValue / equity * 100
	}

	var dailyPnLPct float64
	if initialBalance > 0 {
		dailyPnLPct = state.DayRealizedPnL / initialBalance * 100
	}

	var positions []Position
	if state.PositionQty > 0 {
		positions = []Position{{
			Symbol:        symbol,
			Quantity:      round(state.PositionQty),
			AvgEntryPrice: round(state.AvgEntryPrice),
			MarketValue:   round(positionValue),
			UnrealizedPnL: round((markPrice - state.AvgEntryPrice) * state.PositionQty),
		}}
	}

	return Portfolio{
		Balance:     round(state.Cash),
		Equity:      round(equity),
		Available:   round(state.Cash),
		ExposurePct: round(exposurePct),
		DailyPnLPct: round(dailyPnLPct),
		RealizedPnL: round(state.RealizedPnL),
		Positions:   positions,
	}
}

// ExecutionResult is the outcome of executing one approved decision.
type ExecutionResult struct {
	Trade           *storage.TradeRecord // nil on hold, or on a buy/sell that produced no fill
	PortfolioBefore Portfolio
	PortfolioAfter  Portfolio
}

// Ledger serializes executions against the account with a mutex. It keeps no
// account state of its own and does not write to Store: each call replays the
// trade slice it is given through RebuildAccountState, the single source of
// truth for "what is the account state now" (no separate balance row exists
// anywhere), and the caller persists any Trade that ExecuteDecision returns.
type Ledger struct {
	mu             sync.Mutex
	store          storage.Store
	symbol         string
	initialBalance float64
	feePct         float64
	slippagePct    float64
}

// New builds a Ledger for symbol, seeded with initialBalance and the
// configured fee/slippage fractions.
func New(store storage.Store, symbol string, initialBalance, feePct, slippagePct float64) *Ledger {
	return &Ledger{
		store:          store,
		symbol:         symbol,
		initialBalance: initialBalance,
		feePct:         feePct,
		slippagePct:    slippagePct,
	}
}

// CurrentState replays the full trade log. Cheap enough at this system's
// scale (one symbol, one decision per cycle) to call on every read.
func (l *Ledger) CurrentState(trades []storage.TradeRecord) AccountState {
	return RebuildAccountState(trades, l.initialBalance)
}

// ExecuteDecision applies a final (post-risk) decision's action against the
// account at markPrice. Buys spend up to the full desired notional or
// available cash, whichever is smaller; sells always close the entire
// position (long-flat only — no partial exits, no short selling).
func (l *Ledger) ExecuteDecision(action string, positionSizePct, markPrice float64, trades []storage.TradeRecord) (ExecutionResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	before := l.CurrentState(trades)
	beforeSnap := Snapshot(before, l.symbol, markPrice, l.initialBalance)

	if markPrice <= 0 {
		return ExecutionResult{PortfolioBefore: beforeSnap, PortfolioAfter: beforeSnap}, fmt.Errorf("ledger: market price must be positive")
	}

	switch action {
	case "buy":
		return l.executeBuy(before, beforeSnap, positionSizePct, markPrice)
	case "sell":
		return l.executeSell(before, beforeSnap, markPrice)
	default:
		return ExecutionResult{PortfolioBefore: beforeSnap, PortfolioAfter: beforeSnap}, nil
	}
}

func (l *Ledger) executeBuy(before AccountState, beforeSnap Portfolio, positionSizePct, markPrice float64) (ExecutionResult, error) {
	desiredNotional := beforeSnap.Equity * positionSizePct / 100
	spend := desiredNotional
	if spend > before.Cash {
		spend = before.Cash
	}
	if spend <= 0 {
		return ExecutionResult{PortfolioBefore: beforeSnap, PortfolioAfter: beforeSnap}, nil
	}

	executionPrice := markPrice * (1 + l.slippagePct)
	qty := spend / executionPrice
	if qty <= 0 {
		return ExecutionResult{PortfolioBefore: beforeSnap, PortfolioAfter: beforeSnap}, nil
	}

	fee := qty * executionPrice * l.feePct
	slippageCost := qty * markPrice * l.slippagePct

	trade := storage.TradeRecord{
		Timestamp: time.Now().UTC(),
		Symbol:    l.symbol,
		Side:      "buy",
		Quantity:  round(qty),
		Price:     round(executionPrice),
		Fee:       round(fee),
		Slippage:  round(slippageCost),
		PnL:       0,
	}

	after := before
	applyBuy(&after, trade)
	afterSnap := Snapshot(after, l.symbol, executionPrice, l.initialBalance)

	return ExecutionResult{Trade: &trade, PortfolioBefore: beforeSnap, PortfolioAfter: afterSnap}, nil
}

func (l *Ledger) executeSell(before AccountState, beforeSnap Portfolio, markPrice float64) (ExecutionResult, error) {
	if before.PositionQty <= 0 {
		return ExecutionResult{PortfolioBefore: beforeSnap, PortfolioAfter: beforeSnap}, nil
	}

	executionPrice := markPrice * (1 - l.slippagePct)
	qty := before.PositionQty
	fee := qty * executionPrice * l.feePct
	slippageCost := qty * markPrice * l.slippagePct
	realized := (executionPrice-before.AvgEntryPrice)*qty - fee - slippageCost

	trade := storage.TradeRecord{
		Timestamp: time.Now().UTC(),
		Symbol:    l.symbol,
		Side:      "sell",
		Quantity:  round(qty),
		Price:     round(executionPrice),
		Fee:       round(fee),
		Slippage:  round(slippageCost),
		PnL:       round(realized),
	}

	after := before
	applySell(&after, trade)
	afterSnap := Snapshot(after, l.symbol, executionPrice, l.initialBalance)

	return ExecutionResult{Trade: &trade, PortfolioBefore: beforeSnap, PortfolioAfter: afterSnap}, nil
}
