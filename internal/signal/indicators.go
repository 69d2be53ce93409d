// Package signal - indicators.go provides shared technical indicator
// calculations used by the three signal strategies (trend, volatility
// channel, breakout). All functions are stateless and deterministic — given
// the same candle slice, they return the same result. No external TA
// library is used; every indicator is reimplemented directly.
package signal

import "math"

// CalculateSMA computes the Simple Moving Average of closing prices over the
// given period, using the last `period` candles. Returns 0 if insufficient
// data.
func CalculateSMA(candles []Candle, period int) float64 {
	if len(candles) < period || period <= 0 {
		return 0
	}
	var sum float64
	for i := len(candles) - period; i < len(candles); i++ {
		sum += candles[i].Close
	}
	return sum / float64(period)
}

// CalculateATR computes the Average True Range over the given period as a
// simple average of the last `period` true ranges. Falls back to the last
// candle's range if insufficient data.
func CalculateATR(candles []Candle, period int) float64 {
	if len(candles) == 0 {
		return 0
	}
	if len(candles) < period+1 {
		last := candles[len(candles)-1]
		return last.High - last.Low
	}
	var total float64
	for i := len(candles) - period; i < len(candles); i++ {
		total += trueRange(candles[i], candles[i-1])
	}
	return total / float64(period)
}

// ATRSeries computes a Wilder-smoothed ATR value aligned with every candle
// from index `period` onward (candles[0:period] have no ATR yet — the
// caller only consumes indices where a value exists). Used by the
// volatility-channel (Supertrend) strategy, which needs a per-bar ATR to
// carry its bands forward.
func ATRSeries(candles []Candle, period int) []float64 {
	n := len(candles)
	series := make([]float64, n)
	if n <= period {
		return series
	}

	var seed float64
	for i := 1; i <= period; i++ {
		seed += trueRange(candles[i], candles[i-1])
	}
	atr := seed / float64(period)
	series[period] = atr

	for i := period + 1; i < n; i++ {
		tr := trueRange(candles[i], candles[i-1])
		atr = (atr*float64(period-1) + tr) / float64(period)
		series[i] = atr
	}
	return series
}

func trueRange(curr, prev Candle) float64 {
	tr1 := curr.High - curr.Low
	tr2 := math.Abs(curr.High - prev.Close)
	tr3 := math.Abs(curr.Low - prev.Close)
	return math.Max(tr1, math.Max(tr2, tr3))
}

// EMASeries computes the exponential moving average of closing prices over
// the given period, seeded with a simple average of the first `period`
// closes. series[i] is 0 for i < period-1 (not enough data yet).
func EMASeries(candles []Candle, period int) []float64 {
	n := len(candles)
	series := make([]float64, n)
	if n < period || period <= 0 {
		return series
	}

	var seed float64
	for i := 0; i < period; i++ {
		seed += candles[i].Close
	}
	ema := seed / float64(period)
	series[period-1] = ema

	k := 2.0 / float64(period+1)
	for i := period; i < n; i++ {
		ema = candles[i].Close*k + ema*(1-k)
		series[i] = ema
	}
	return series
}

// CalculateEMA returns the latest EMA value over the given period, or 0 if
// there isn't enough data.
func CalculateEMA(candles []Candle, period int) float64 {
	series := EMASeries(candles, period)
	if len(series) == 0 {
		return 0
	}
	return series[len(series)-1]
}

// CalculateADX computes the latest Average Directional Index over the given
// period (Wilder smoothing of +DI/-DI into DX, then smoothed again into
// ADX). Returns 0 if there isn't enough data to complete two smoothing
// passes.
func CalculateADX(candles []Candle, period int) float64 {
	n := len(candles)
	if n < 2*period+1 {
		return 0
	}

	plusDM := make([]float64, n)
	minusDM := make([]float64, n)
	tr := make([]float64, n)
	for i := 1; i < n; i++ {
		upMove := candles[i].High - candles[i-1].High
		downMove := candles[i-1].Low - candles[i].Low
		if upMove > downMove && upMove > 0 {
			plusDM[i] = upMove
		}
		if downMove > upMove && downMove > 0 {
			minusDM[i] = downMove
		}
		tr[i] = trueRange(candles[i], candles[i-1])
	}

	var trSum, plusSum, minusSum float64
	for i := 1; i <= period; i++ {
		trSum += tr[i]
		plusSum += plusDM[i]
		minusSum += minusDM[i]
	}

	dxValues := make([]float64, 0, n)
	smoothedTR, smoothedPlus, smoothedMinus := trSum, plusSum, minusSum
	dxValues = append(dxValues, dxFrom(smoothedPlus, smoothedMinus, smoothedTR))

	for i := period + 1; i < n; i++ {
		smoothedTR = smoothedTR - (smoothedTR / float64(period)) + tr[i]
		smoothedPlus = smoothedPlus - (smoothedPlus / float64(period)) + plusDM[i]
		smoothedMinus = smoothedMinus - (smoothedMinus / float64(period)) + minusDM[i]
		dxValues = append(dxValues, dxFrom(smoothedPlus, smoothedMinus, smoothedTR))
	}

	if len(dxValues) < period {
		return 0
	}

	var adxSeed float64
	for i := 0; i < period; i++ {
		adxSeed += dxValues[i]
	}
	adx := adxSeed / float64(period)
	for i := period; i < len(dxValues); i++ {
		adx = (adx*float64(period-1) + dxValues[i]) / float64(period)
	}
	return adx
}

func dxFrom(smoothedPlus, smoothedMinus, smoothedTR float64) float64 {
	if smoothedTR == 0 {
		return 0
	}
	plusDI := 100 * smoothedPlus / smoothedTR
	minusDI := 100 * smoothedMinus / smoothedTR
	sum := plusDI + minusDI
	if sum == 0 {
		return 0
	}
	return 100 * math.Abs(plusDI-minusDI) / sum
}

// HighestHigh returns the highest high price over the last `period` candles
// in the slice. Returns 0 if no candles.
func HighestHigh(candles []Candle, period int) float64 {
	if len(candles) == 0 || period <= 0 {
		return 0
	}
	start := len(candles) - period
	if start < 0 {
		start = 0
	}
	highest := candles[start].High
	for i := start + 1; i < len(candles); i++ {
		if candles[i].High > highest {
			highest = candles[i].High
		}
	}
	return highest
}

// LowestLow returns the lowest low price over the last `period` candles in
// the slice. Returns 0 if no candles.
func LowestLow(candles []Candle, period int) float64 {
	if len(candles) == 0 || period <= 0 {
		return 0
	}
	start := len(candles) - period
	if start < 0 {
		start = 0
	}
	lowest := candles[start].Low
	for i := start + 1; i < len(candles); i++ {
		if candles[i].Low < lowest {
			lowest = candles[i].Low
		}
	}
	return lowest
}
