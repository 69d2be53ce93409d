package signal

import (
	"fmt"
	"math"
)

// TrendStrategy compares a fast and slow EMA and gates the signal on trend
// strength via ADX. Grounded on the teacher's trend_follow.go numbered-rule
// style and on the EMA/ADX formulas in the ported quant library.
type TrendStrategy struct {
	FastPeriod int
	SlowPeriod int
	ADXPeriod  int
}

// NewTrendStrategy builds the strategy with the standard trend-following
// defaults: EMA20 vs EMA50, ADX14.
func NewTrendStrategy() *TrendStrategy {
	return &TrendStrategy{FastPeriod: 20, SlowPeriod: 50, ADXPeriod: 14}
}

func (s *TrendStrategy) Name() string       { return "trend_ema_adx" }
func (s *TrendStrategy) Category() Category { return CategoryTrendFollowing }

func (s *TrendStrategy) Compute(candles []Candle) Signal {
	const minCandles = 60
	if len(candles) < minCandles {
		return holdSignal(s.Name(), s.Category(), candles,
			fmt.Sprintf("insufficient candles: need >= %d, got %d", minCandles, len(candles)))
	}

	ema20 := CalculateEMA(candles, s.FastPeriod)
	ema50 := CalculateEMA(candles, s.SlowPeriod)
	adx := CalculateADX(candles, s.ADXPeriod)

	if ema50 <= 0 {
		return holdSignal(s.Name(), s.Category(), candles, "ema50 non-positive, cannot compute gap")
	}

	gap := (ema20 - ema50) / ema50

	sig := holdSignal(s.Name(), s.Category(), candles, "")
	sig.Indicators = map[string]float64{
		"ema20": ema20,
		"ema50": ema50,
		"adx14": adx,
		"gap":   gap,
	}

	switch {
	case adx >= 25 && gap > 0:
		sig.Action = ActionBuy
		sig.Reasoning = fmt.Sprintf("ema20 (%.4f) above ema50 (%.4f), adx=%.2f >= 25: trending up", ema20, ema50, adx)
	case adx >= 25 && gap < 0:
		sig.Action = ActionSell
		sig.Reasoning = fmt.Sprintf("ema20 (%.4f) below ema50 (%.4f), adx=%.2f >= 25: trending down", ema20, ema50, adx)
	default:
		sig.Action = ActionHold
		sig.Reasoning = fmt.Sprintf("adx=%.2f below 25 or gap=%.4f ambiguous: no clear trend", adx, gap)
	}

	sig.Strength = clip01(math.Abs(gap)*14 + math.Max(0, adx-20)/40)
	return sig
}
