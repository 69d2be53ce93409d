// Package analytics computes performance metrics from the paper-trade
// ledger's trade log, for the read-only performance endpoint.
//
// Adapted from the teacher's internal/analytics.go (PerformanceReport,
// equity-curve-with-peak-tracking drawdown calculation) but cut down to the
// single-instrument, long-flat-only trade log this system keeps: there is
// no per-strategy or per-symbol breakdown, and a "trade" here is a sell fill
// (the only fills carrying a realized PnL) rather than a closed
// entry/exit pair, since storage.TradeRecord is an append-only fill log, not
// a round-trip position record.
package analytics

import (
	"math"
	"sort"
	"time"

	"github.com/nitinkhare/cognitivetrader/internal/storage"
)

// PerformanceReport holds the metrics GET /api/performance returns
// verbatim.
type PerformanceReport struct {
	TotalReturnPct float64
	MaxDrawdownPct float64
	WinRate        float64
	ProfitFactor   float64
	TotalTrades    int
	WinningTrades  int
	LosingTrades   int
}

// EquityCurvePoint is one point on the reconstructed equity curve.
type EquityCurvePoint struct {
	Timestamp time.Time
	Equity    float64
	Drawdown  float64
}

// Analyze computes the performance report from the full trade log.
// initialBalance anchors the equity curve (the configured INITIAL_BALANCE).
// Only sell fills carry a realized PnL and count toward win/loss and profit
// factor; buy fills only move the equity curve's starting point implicitly
// through the sells that later close them. Returns a zero-value report
// (never nil) when there are no sells yet.
func Analyze(trades []storage.TradeRecord, initialBalance float64) PerformanceReport {
	sells := closedSells(trades)
	report := PerformanceReport{}
	if len(sells) == 0 {
		return report
	}

	var grossProfit, grossLoss, cumulativePnL float64
	for _, t := range sells {
		report.TotalTrades++
		cumulativePnL += t.PnL
		switch {
		case t.PnL > 0:
			report.WinningTrades++
			grossProfit += t.PnL
		case t.PnL < 0:
			report.LosingTrades++
			grossLoss += math.Abs(t.PnL)
		}
	}

	report.WinRate = float64(report.WinningTrades) / float64(report.TotalTrades) * 100

	switch {
	case grossLoss > 0:
		report.ProfitFactor = grossProfit / grossLoss
	case grossProfit > 0:
		report.ProfitFactor = math.Inf(1)
	}

	if initialBalance > 0 {
		report.TotalReturnPct = cumulativePnL / initialBalance * 100
	}

	report.MaxDrawdownPct = maxDrawdownPct(sells, initialBalance)
	return report
}

// EquityCurve reconstructs the running equity (initialBalance plus
// cumulative realized PnL) at each sell fill, oldest first, with running
// peak-relative drawdown — the same peak-tracking idiom as the teacher's
// equity curve, narrowed to this system's single-balance account.
func EquityCurve(trades []storage.TradeRecord, initialBalance float64) []EquityCurvePoint {
	sells := closedSells(trades)
	if len(sells) == 0 {
		return nil
	}

	equity := initialBalance
	peak := equity
	points := make([]EquityCurvePoint, 0, len(sells)+1)
	points = append(points, EquityCurvePoint{Timestamp: sells[0].Timestamp, Equity: equity})

	for _, t := range sells {
		equity += t.PnL
		if equity > peak {
			peak = equity
		}
		var dd float64
		if peak > 0 {
			dd = (peak - equity) / peak * 100
		}
		points = append(points, EquityCurvePoint{Timestamp: t.Timestamp, Equity: equity, Drawdown: dd})
	}

	return points
}

func maxDrawdownPct(sells []storage.TradeRecord, initialBalance float64) float64 {
	equity := initialBalance
	peak := equity
	var maxDD float64
	for _, t := range sells {
		equity += t.PnL
		if equity > peak {
			peak = equity
		}
		if peak <= 0 {
			continue
		}
		dd := (peak - equity) / peak * 100
		if dd > maxDD {
			maxDD = dd
		}
	}
	return maxDD
}

// closedSells returns the sell fills, sorted oldest first.
func closedSells(trades []storage.TradeRecord) []storage.TradeRecord {
	var sells []storage.TradeRecord
	for _, t := range trades {
		if t.Side == "sell" {
			sells = append(sells, t)
		}
	}
	sort.Slice(sells, func(i, j int) bool { return sells[i].Timestamp.Before(sells[j].Timestamp) })
	return sells
}
