package decision

import (
	"testing"
	"time"

	"github.com/nitinkhare/cognitivetrader/internal/ledger"
	"github.com/nitinkhare/cognitivetrader/internal/mind"
	"github.com/nitinkhare/cognitivetrader/internal/signal"
)

func dailyCloses(start time.Time, closes []float64) []signal.Candle {
	out := make([]signal.Candle, len(closes))
	for i, c := range closes {
		out[i] = signal.Candle{
			Symbol:    "ETHUSDT",
			Timeframe: "1d",
			OpenTime:  start.Add(time.Duration(i) * 24 * time.Hour),
			Open:      c,
			High:      c * 1.01,
			Low:       c * 0.99,
			Close:     c,
			Volume:    1000,
		}
	}
	return out
}

func baseContext() Context {
	return Context{
		Mind:           mind.Document{"market_beliefs": map[string]any{"regime": "bullish"}, "bias_awareness": []any{}},
		MaxPositionPct: 0.20,
		MaxStopLossPct: 0.08,
		Portfolio:      ledger.Portfolio{},
	}
}

func uptrendCloses() []float64 {
	closes := make([]float64, 30)
	for i := range closes {
		closes[i] = 100 + float64(i)*5
	}
	return closes
}

func downtrendCloses() []float64 {
	closes := make([]float64, 30)
	for i := range closes {
		closes[i] = 300 - float64(i)*5
	}
	return closes
}

func flatCloses() []float64 {
	closes := make([]float64, 30)
	for i := range closes {
		closes[i] = 100.0
	}
	return closes
}

func TestSynthesize_UptrendBuys(t *testing.T) {
	ctx := baseContext()
	ctx.DailyCandles = dailyCloses(time.Now().AddDate(0, 0, -30), uptrendCloses())
	ctx.HourlyCandles = ctx.DailyCandles[len(ctx.DailyCandles)-1:]

	trend := signal.NewTrendStrategy()
	vol := signal.NewVolatilityStrategy()
	brk := signal.NewBreakoutStrategy()
	ctx.Signals = []signal.Signal{trend.Compute(ctx.DailyCandles), vol.Compute(ctx.DailyCandles), brk.Compute(ctx.DailyCandles)}

	d := Synthesize(ctx)

	if d.Action != signal.ActionBuy {
		t.Fatalf("expected buy, got %s", d.Action)
	}
	if d.PositionSizePct <= 0 || d.PositionSizePct > 20 {
		t.Errorf("expected 0 < size <= 20, got %v", d.PositionSizePct)
	}
	if d.StopLoss >= d.EntryPrice {
		t.Errorf("expected stop below entry, got stop=%v entry=%v", d.StopLoss, d.EntryPrice)
	}
	if d.Reasoning["mind_alignment"] == "" || d.Reasoning["bias_check"] == "" {
		t.Error("expected mind_alignment and bias_check populated")
	}
}

func TestSynthesize_DowntrendSells(t *testing.T) {
	ctx := baseContext()
	ctx.DailyCandles = dailyCloses(time.Now().AddDate(0, 0, -30), downtrendCloses())
	ctx.HourlyCandles = ctx.DailyCandles[len(ctx.DailyCandles)-1:]

	trend := signal.NewTrendStrategy()
	vol := signal.NewVolatilityStrategy()
	brk := signal.NewBreakoutStrategy()
	ctx.Signals = []signal.Signal{trend.Compute(ctx.DailyCandles), vol.Compute(ctx.DailyCandles), brk.Compute(ctx.DailyCandles)}

	d := Synthesize(ctx)
	if d.Action != signal.ActionSell {
		t.Fatalf("expected sell, got %s", d.Action)
	}
}

func TestSynthesize_FlatMarketHolds(t *testing.T) {
	ctx := baseContext()
	ctx.DailyCandles = dailyCloses(time.Now().AddDate(0, 0, -30), flatCloses())
	ctx.HourlyCandles = ctx.DailyCandles[len(ctx.DailyCandles)-1:]

	trend := signal.NewTrendStrategy()
	vol := signal.NewVolatilityStrategy()
	brk := signal.NewBreakoutStrategy()
	ctx.Signals = []signal.Signal{trend.Compute(ctx.DailyCandles), vol.Compute(ctx.DailyCandles), brk.Compute(ctx.DailyCandles)}

	d := Synthesize(ctx)
	if d.Action != signal.ActionHold {
		t.Fatalf("expected hold, got %s", d.Action)
	}
	if d.PositionSizePct != 0 {
		t.Errorf("expected size 0 on hold, got %v", d.PositionSizePct)
	}
}

func TestSynthesize_InputHashStableForSameInputs(t *testing.T) {
	ctx := baseContext()
	ctx.DailyCandles = dailyCloses(time.Now().AddDate(0, 0, -30), flatCloses())
	ctx.HourlyCandles = ctx.DailyCandles[len(ctx.DailyCandles)-1:]

	d1 := Synthesize(ctx)
	d2 := Synthesize(ctx)
	if d1.InputHash != d2.InputHash {
		t.Errorf("expected stable input_hash for identical inputs, got %s vs %s", d1.InputHash, d2.InputHash)
	}
	if d1.InputHash == "" {
		t.Error("expected non-empty input_hash")
	}
}
