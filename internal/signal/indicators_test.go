package signal

import (
	"math"
	"testing"
	"time"
)

// makeIndicatorCandles creates candles with known closing prices for
// indicator testing. High/Low are padded a fixed amount around Close so
// true-range based indicators have something to chew on.
func makeIndicatorCandles(closes []float64) []Candle {
	candles := make([]Candle, len(closes))
	for i, close := range closes {
		candles[i] = Candle{
			Symbol:    "TEST",
			Timeframe: "1d",
			OpenTime:  time.Date(2026, 1, 1+i, 0, 0, 0, 0, time.UTC),
			Open:      close - 1,
			High:      close + 2,
			Low:       close - 2,
			Close:     close,
			Volume:    100000 + float64(i*1000),
		}
	}
	return candles
}

func almostEqual(a, b, tolerance float64) bool {
	return math.Abs(a-b) < tolerance
}

func TestCalculateATR_Basic(t *testing.T) {
	candles := makeIndicatorCandles([]float64{
		100, 102, 104, 103, 105, 107, 106, 108, 110, 109,
		111, 113, 112, 114, 116, 115,
	})
	atr := CalculateATR(candles, 14)
	if atr <= 0 {
		t.Errorf("expected positive ATR, got %.4f", atr)
	}
}

func TestCalculateATR_InsufficientData(t *testing.T) {
	candles := makeIndicatorCandles([]float64{100, 102, 104})
	atr := CalculateATR(candles, 14)
	lastCandle := candles[len(candles)-1]
	expected := lastCandle.High - lastCandle.Low
	if atr != expected {
		t.Errorf("expected fallback ATR %.4f, got %.4f", expected, atr)
	}
}

func TestCalculateATR_EmptyCandles(t *testing.T) {
	if atr := CalculateATR(nil, 14); atr != 0 {
		t.Errorf("expected 0 ATR for empty candles, got %.4f", atr)
	}
}

func TestATRSeries_AlignsFromPeriod(t *testing.T) {
	candles := makeIndicatorCandles([]float64{100, 102, 104, 103, 105, 107, 106, 108, 110, 109, 111})
	series := ATRSeries(candles, 5)
	if series[5] == 0 {
		t.Error("expected non-zero ATR seed at index == period")
	}
	if series[len(series)-1] <= 0 {
		t.Error("expected positive trailing ATR")
	}
}

func TestCalculateSMA_Basic(t *testing.T) {
	candles := makeIndicatorCandles([]float64{10, 20, 30, 40, 50})
	sma := CalculateSMA(candles, 5)
	expected := (10 + 20 + 30 + 40 + 50) / 5.0
	if !almostEqual(sma, expected, 0.01) {
		t.Errorf("expected SMA=%.2f, got %.2f", expected, sma)
	}
}

func TestCalculateSMA_InsufficientData(t *testing.T) {
	candles := makeIndicatorCandles([]float64{10, 20})
	if sma := CalculateSMA(candles, 5); sma != 0 {
		t.Errorf("expected SMA=0 for insufficient data, got %.2f", sma)
	}
}

func TestCalculateEMA_ConvergesTowardRecentPrice(t *testing.T) {
	prices := make([]float64, 60)
	for i := range prices {
		prices[i] = 100
	}
	// Step up sharply for the last few bars; EMA should move toward it
	// but stay below the jump (it's a lagging average).
	for i := 55; i < 60; i++ {
		prices[i] = 200
	}
	candles := makeIndicatorCandles(prices)
	ema := CalculateEMA(candles, 20)
	if ema <= 100 || ema >= 200 {
		t.Errorf("expected EMA between 100 and 200, got %.2f", ema)
	}
}

func TestCalculateEMA_InsufficientData(t *testing.T) {
	candles := makeIndicatorCandles([]float64{10, 20})
	if ema := CalculateEMA(candles, 20); ema != 0 {
		t.Errorf("expected EMA=0 for insufficient data, got %.2f", ema)
	}
}

func TestCalculateADX_TrendingMarketExceedsThreshold(t *testing.T) {
	prices := make([]float64, 80)
	for i := range prices {
		prices[i] = 100 + float64(i)*2
	}
	candles := makeIndicatorCandles(prices)
	adx := CalculateADX(candles, 14)
	if adx < 20 {
		t.Errorf("expected a strongly trending series to produce ADX >= 20, got %.2f", adx)
	}
}

func TestCalculateADX_InsufficientData(t *testing.T) {
	candles := makeIndicatorCandles([]float64{100, 102, 104})
	if adx := CalculateADX(candles, 14); adx != 0 {
		t.Errorf("expected ADX=0 for insufficient data, got %.2f", adx)
	}
}

func TestHighestHigh_Basic(t *testing.T) {
	candles := makeIndicatorCandles([]float64{100, 110, 105, 120, 115})
	hh := HighestHigh(candles, 5)
	expected := 120 + 2.0
	if hh != expected {
		t.Errorf("expected HighestHigh=%.2f, got %.2f", expected, hh)
	}
}

func TestLowestLow_Basic(t *testing.T) {
	candles := makeIndicatorCandles([]float64{100, 110, 105, 120, 115})
	ll := LowestLow(candles, 5)
	expected := 100 - 2.0
	if ll != expected {
		t.Errorf("expected LowestLow=%.2f, got %.2f", expected, ll)
	}
}

func TestHighestHigh_Empty(t *testing.T) {
	if hh := HighestHigh(nil, 5); hh != 0 {
		t.Errorf("expected 0 for empty candles, got %.2f", hh)
	}
}

func TestLowestLow_Empty(t *testing.T) {
	if ll := LowestLow(nil, 5); ll != 0 {
		t.Errorf("expected 0 for empty candles, got %.2f", ll)
	}
}
