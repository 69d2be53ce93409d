// Package storage - postgres.go implements Store on top of pgx/v5's
// connection pool with hand-written SQL (no ORM, matching the teacher's own
// storage layer, and making the atomic-upsert / ordering invariants this
// system relies on easy to state directly in SQL).
package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nitinkhare/cognitivetrader/internal/signal"
)

// PostgresStore implements Store using pgx/v5's pgxpool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore opens a pooled connection against connStr. Schema
// bootstrap is out of scope — the pool assumes the candle, decision,
// trade, and mind_history tables already exist.
func NewPostgresStore(ctx context.Context, connStr string) (*PostgresStore, error) {
	if connStr == "" {
		return nil, fmt.Errorf("postgres store: connection string is required")
	}
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("postgres store: connect: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// UpsertCandles writes a batch atomically: a reader's RecentCandles call
// never observes a partial batch.
func (s *PostgresStore) UpsertCandles(ctx context.Context, candles []signal.Candle) (int64, error) {
	if len(candles) == 0 {
		return 0, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("storage: upsert candles: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var affected int64
	for _, c := range candles {
		tag, err := tx.Exec(ctx, `
			INSERT INTO klines (symbol, timeframe, open_time, open, high, low, close, volume)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT ON CONSTRAINT uq_klines_symbol_tf_time
			DO UPDATE SET open = $4, high = $5, low = $6, close = $7, volume = $8
		`, c.Symbol, c.Timeframe, c.OpenTime, c.Open, c.High, c.Low, c.Close, c.Volume)
		if err != nil {
			return 0, fmt.Errorf("storage: upsert candle %s/%s@%s: %w", c.Symbol, c.Timeframe, c.OpenTime, err)
		}
		affected += tag.RowsAffected()
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("storage: upsert candles: commit: %w", err)
	}
	return affected, nil
}

func (s *PostgresStore) RecentCandles(ctx context.Context, symbol, timeframe string, limit int) ([]signal.Candle, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT open_time, open, high, low, close, volume
		FROM (
			SELECT open_time, open, high, low, close, volume
			FROM klines
			WHERE symbol = $1 AND timeframe = $2
			ORDER BY open_time DESC
			LIMIT $3
		) recent
		ORDER BY open_time ASC
	`, symbol, timeframe, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: recent candles: %w", err)
	}
	defer rows.Close()

	var out []signal.Candle
	for rows.Next() {
		var c signal.Candle
		c.Symbol = symbol
		c.Timeframe = timeframe
		if err := rows.Scan(&c.OpenTime, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("storage: scan candle: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CandleCount(ctx context.Context, symbol, timeframe string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM klines WHERE symbol = $1 AND timeframe = $2
	`, symbol, timeframe).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("storage: candle count: %w", err)
	}
	return n, nil
}

// LatestPrice prefers the latest 1h close, falling back to the latest close
// across any stored timeframe.
func (s *PostgresStore) LatestPrice(ctx context.Context, symbol string) (*float64, error) {
	var price float64
	err := s.pool.QueryRow(ctx, `
		SELECT close FROM klines
		WHERE symbol = $1 AND timeframe = '1h'
		ORDER BY open_time DESC LIMIT 1
	`, symbol).Scan(&price)
	if err == nil {
		return &price, nil
	}
	if err != pgx.ErrNoRows {
		return nil, fmt.Errorf("storage: latest price (1h): %w", err)
	}

	err = s.pool.QueryRow(ctx, `
		SELECT close FROM klines
		WHERE symbol = $1
		ORDER BY open_time DESC LIMIT 1
	`, symbol).Scan(&price)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: latest price (any timeframe): %w", err)
	}
	return &price, nil
}

// SaveDecision inserts a decision row and issues NOTIFY decision_journaled
// in the same transaction, so /ws/live's EventListener sees a committed
// decision, never a rolled-back one.
func (s *PostgresStore) SaveDecision(ctx context.Context, d DecisionRecord) (DecisionRecord, error) {
	reasoningJSON, err := json.Marshal(d.Reasoning)
	if err != nil {
		return DecisionRecord{}, fmt.Errorf("storage: marshal reasoning: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return DecisionRecord{}, fmt.Errorf("storage: save decision: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
		INSERT INTO decisions
			(timestamp, action, position_size_pct, entry_price, stop_loss, take_profit, confidence, reasoning, model_used, input_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`, d.Timestamp, d.Action, d.PositionSizePct, d.EntryPrice, d.StopLoss, d.TakeProfit, d.Confidence,
		reasoningJSON, d.ModelUsed, d.InputHash).Scan(&d.ID)
	if err != nil {
		return DecisionRecord{}, fmt.Errorf("storage: insert decision: %w", err)
	}

	if _, err := tx.Exec(ctx, `SELECT pg_notify('decision_journaled', $1)`, d.Action); err != nil {
		return DecisionRecord{}, fmt.Errorf("storage: notify decision_journaled: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return DecisionRecord{}, fmt.Errorf("storage: save decision: commit: %w", err)
	}
	return d, nil
}

func (s *PostgresStore) RecentDecisions(ctx context.Context, limit int) ([]DecisionRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, timestamp, action, position_size_pct, entry_price, stop_loss, take_profit,
		       confidence, reasoning, model_used, input_hash
		FROM decisions
		ORDER BY timestamp DESC, id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: recent decisions: %w", err)
	}
	defer rows.Close()
	return scanDecisions(rows)
}

func (s *PostgresStore) GetDecision(ctx context.Context, id int64) (*DecisionRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, timestamp, action, position_size_pct, entry_price, stop_loss, take_profit,
		       confidence, reasoning, model_used, input_hash
		FROM decisions WHERE id = $1
	`, id)
	if err != nil {
		return nil, fmt.Errorf("storage: get decision: %w", err)
	}
	defer rows.Close()

	records, err := scanDecisions(rows)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return &records[0], nil
}

func (s *PostgresStore) ListDecisions(ctx context.Context, page Page) ([]DecisionRecord, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM decisions`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("storage: list decisions: count: %w", err)
	}

	offset := offsetFor(page)
	rows, err := s.pool.Query(ctx, `
		SELECT id, timestamp, action, position_size_pct, entry_price, stop_loss, take_profit,
		       confidence, reasoning, model_used, input_hash
		FROM decisions
		ORDER BY timestamp DESC, id DESC
		LIMIT $1 OFFSET $2
	`, page.Limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("storage: list decisions: %w", err)
	}
	defer rows.Close()

	records, err := scanDecisions(rows)
	if err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

func scanDecisions(rows pgx.Rows) ([]DecisionRecord, error) {
	var out []DecisionRecord
	for rows.Next() {
		var d DecisionRecord
		var reasoningJSON []byte
		if err := rows.Scan(&d.ID, &d.Timestamp, &d.Action, &d.PositionSizePct, &d.EntryPrice,
			&d.StopLoss, &d.TakeProfit, &d.Confidence, &reasoningJSON, &d.ModelUsed, &d.InputHash); err != nil {
			return nil, fmt.Errorf("storage: scan decision: %w", err)
		}
		if len(reasoningJSON) > 0 {
			if err := json.Unmarshal(reasoningJSON, &d.Reasoning); err != nil {
				return nil, fmt.Errorf("storage: unmarshal reasoning: %w", err)
			}
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// AppendTrade inserts one trade row and issues NOTIFY trade_executed inside
// the same transaction.
func (s *PostgresStore) AppendTrade(ctx context.Context, t TradeRecord) (TradeRecord, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return TradeRecord{}, fmt.Errorf("storage: append trade: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
		INSERT INTO trades (timestamp, symbol, side, quantity, price, fee, slippage, pnl, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`, t.Timestamp, t.Symbol, t.Side, t.Quantity, t.Price, t.Fee, t.Slippage, t.PnL, t.Notes).Scan(&t.ID)
	if err != nil {
		return TradeRecord{}, fmt.Errorf("storage: insert trade: %w", err)
	}

	if _, err := tx.Exec(ctx, `SELECT pg_notify('trade_executed', $1)`, t.Side); err != nil {
		return TradeRecord{}, fmt.Errorf("storage: notify trade_executed: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return TradeRecord{}, fmt.Errorf("storage: append trade: commit: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) AllTrades(ctx context.Context) ([]TradeRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, timestamp, symbol, side, quantity, price, fee, slippage, pnl, notes
		FROM trades
		ORDER BY timestamp ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("storage: all trades: %w", err)
	}
	defer rows.Close()
	return scanTrades(rows)
}

func (s *PostgresStore) ListTrades(ctx context.Context, page Page) ([]TradeRecord, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM trades`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("storage: list trades: count: %w", err)
	}

	offset := offsetFor(page)
	rows, err := s.pool.Query(ctx, `
		SELECT id, timestamp, symbol, side, quantity, price, fee, slippage, pnl, notes
		FROM trades
		ORDER BY timestamp DESC, id DESC
		LIMIT $1 OFFSET $2
	`, page.Limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("storage: list trades: %w", err)
	}
	defer rows.Close()

	records, err := scanTrades(rows)
	if err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

func scanTrades(rows pgx.Rows) ([]TradeRecord, error) {
	var out []TradeRecord
	for rows.Next() {
		var t TradeRecord
		if err := rows.Scan(&t.ID, &t.Timestamp, &t.Symbol, &t.Side, &t.Quantity, &t.Price,
			&t.Fee, &t.Slippage, &t.PnL, &t.Notes); err != nil {
			return nil, fmt.Errorf("storage: scan trade: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// AppendMindHistory writes an audit row for a cognitive-state change. The
// caller (internal/mind.Store) is responsible for calling this in the same
// logical operation as the on-disk document write so both agree at rest.
func (s *PostgresStore) AppendMindHistory(ctx context.Context, h MindHistoryRecord) (MindHistoryRecord, error) {
	prevJSON, err := json.Marshal(h.PreviousState)
	if err != nil {
		return MindHistoryRecord{}, fmt.Errorf("storage: marshal previous_state: %w", err)
	}
	newJSON, err := json.Marshal(h.NewState)
	if err != nil {
		return MindHistoryRecord{}, fmt.Errorf("storage: marshal new_state: %w", err)
	}

	err = s.pool.QueryRow(ctx, `
		INSERT INTO mind_history (changed_at, changed_by, previous_state, new_state, change_summary)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, h.ChangedAt, h.ChangedBy, prevJSON, newJSON, h.ChangeSummary).Scan(&h.ID)
	if err != nil {
		return MindHistoryRecord{}, fmt.Errorf("storage: insert mind history: %w", err)
	}
	return h, nil
}

func (s *PostgresStore) ListMindHistory(ctx context.Context, page Page) ([]MindHistoryRecord, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM mind_history`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("storage: list mind history: count: %w", err)
	}

	offset := offsetFor(page)
	rows, err := s.pool.Query(ctx, `
		SELECT id, changed_at, changed_by, previous_state, new_state, change_summary
		FROM mind_history
		ORDER BY changed_at DESC, id DESC
		LIMIT $1 OFFSET $2
	`, page.Limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("storage: list mind history: %w", err)
	}
	defer rows.Close()

	records, err := scanMindHistory(rows)
	if err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

func (s *PostgresStore) LatestMindHistory(ctx context.Context) (*MindHistoryRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, changed_at, changed_by, previous_state, new_state, change_summary
		FROM mind_history
		ORDER BY changed_at DESC, id DESC
		LIMIT 1
	`)
	if err != nil {
		return nil, fmt.Errorf("storage: latest mind history: %w", err)
	}
	defer rows.Close()

	records, err := scanMindHistory(rows)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return &records[0], nil
}

func scanMindHistory(rows pgx.Rows) ([]MindHistoryRecord, error) {
	var out []MindHistoryRecord
	for rows.Next() {
		var h MindHistoryRecord
		var prevJSON, newJSON []byte
		if err := rows.Scan(&h.ID, &h.ChangedAt, &h.ChangedBy, &prevJSON, &newJSON, &h.ChangeSummary); err != nil {
			return nil, fmt.Errorf("storage: scan mind history: %w", err)
		}
		if len(prevJSON) > 0 {
			if err := json.Unmarshal(prevJSON, &h.PreviousState); err != nil {
				return nil, fmt.Errorf("storage: unmarshal previous_state: %w", err)
			}
		}
		if len(newJSON) > 0 {
			if err := json.Unmarshal(newJSON, &h.NewState); err != nil {
				return nil, fmt.Errorf("storage: unmarshal new_state: %w", err)
			}
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func offsetFor(page Page) int {
	if page.Number <= 1 {
		return 0
	}
	return (page.Number - 1) * page.Limit
}
