// Package storage defines the persistence interface for candles, decisions,
// trades, and cognitive-state history, and a Postgres-backed implementation.
//
// Grounded in the teacher's internal/storage/storage.go Store-interface +
// row-type split, but the interface surface is re-cut to this system's four
// journals (candles, decisions, trades, mind history) instead of the
// teacher's (candles, trades, signals, AI scores, trade logs).
package storage

import (
	"context"
	"time"

	"github.com/nitinkhare/cognitivetrader/internal/signal"
)

// DecisionRecord is the persisted row for one synthesized-and-risk-checked
// decision. Reasoning is stored as a JSON text blob and decoded back into a
// map on read.
type DecisionRecord struct {
	ID               int64
	Timestamp        time.Time
	Action           string
	PositionSizePct  float64
	EntryPrice       float64
	StopLoss         float64
	TakeProfit       float64
	Confidence       float64
	Reasoning        map[string]any
	ModelUsed        string
	InputHash        string
}

// TradeRecord is one append-only paper-trade fill.
type TradeRecord struct {
	ID        int64
	Timestamp time.Time
	Symbol    string
	Side      string // "buy" or "sell"
	Quantity  float64
	Price     float64
	Fee       float64
	Slippage  float64
	PnL       float64
	Notes     string
}

// MindHistoryRecord is one append-only audit row for a cognitive-state change.
type MindHistoryRecord struct {
	ID              int64
	ChangedAt       time.Time
	ChangedBy       string
	PreviousState   map[string]any
	NewState        map[string]any
	ChangeSummary   string
}

// Page bounds a paginated list query.
type Page struct {
	Number int // 1-based
	Limit  int
}

// Store is the complete storage interface for candles, decisions, trades,
// and mind history.
type Store interface {
	// Candle operations.
	UpsertCandles(ctx context.Context, candles []signal.Candle) (int64, error)
	RecentCandles(ctx context.Context, symbol, timeframe string, limit int) ([]signal.Candle, error)
	CandleCount(ctx context.Context, symbol, timeframe string) (int, error)
	LatestPrice(ctx context.Context, symbol string) (*float64, error)

	// Decision journal.
	SaveDecision(ctx context.Context, d DecisionRecord) (DecisionRecord, error)
	RecentDecisions(ctx context.Context, limit int) ([]DecisionRecord, error)
	GetDecision(ctx context.Context, id int64) (*DecisionRecord, error)
	ListDecisions(ctx context.Context, page Page) ([]DecisionRecord, int, error)

	// Trade ledger — append-only; AllTrades feeds ledger replay.
	AppendTrade(ctx context.Context, t TradeRecord) (TradeRecord, error)
	AllTrades(ctx context.Context) ([]TradeRecord, error)
	ListTrades(ctx context.Context, page Page) ([]TradeRecord, int, error)

	// Cognitive document history.
	AppendMindHistory(ctx context.Context, h MindHistoryRecord) (MindHistoryRecord, error)
	ListMindHistory(ctx context.Context, page Page) ([]MindHistoryRecord, int, error)
	LatestMindHistory(ctx context.Context) (*MindHistoryRecord, error)

	Ping(ctx context.Context) error
	Close()
}
