// Package risk implements the hard risk gate: a pure function that
// clamps a draft decision's size and stops, enforces exposure and
// daily-loss limits, and reports what it changed and why.
//
// Rewritten from the teacher's internal/risk/risk.go *shape* (ordered
// private-method rule checks, RejectionReason naming) but re-implements the
// clamp-with-adjustments semantics of the Python original's risk/engine.py
// apply_risk_checks — the teacher's own risk manager only rejects, it never
// clamps. This is the single largest behavioral rewrite against the teacher
// (see DESIGN.md).
package risk

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/nitinkhare/cognitivetrader/internal/decision"
	"github.com/nitinkhare/cognitivetrader/internal/ledger"
	"github.com/nitinkhare/cognitivetrader/internal/mind"
	"github.com/nitinkhare/cognitivetrader/internal/signal"
)

// dynamicCapPattern narrows the free-text mitigation match to mentions of
// both position-cap tokens ("仓位", "上限") and a %-bearing number, keeping
// the regex deliberately narrow so free-form journal prose can't accidentally
// trip an override. A non-match means "no override", never an error.
var dynamicCapPattern = regexp.MustCompile(`仓位[\s\S]*?上限[\s\S]*?(\d+(?:\.\d+)?)\s*%`)

// Config holds the limits the gate enforces, as fractional percentages.
type Config struct {
	MaxPositionPct  float64
	MaxExposurePct  float64
	MaxDailyLossPct float64
	MaxStopLossPct  float64
}

// Result is the gate's verdict.
type Result struct {
	Approved         bool
	AdjustedDecision decision.Decision
	Violations       []string
	Adjustments      []string
}

// Gate is a pure function of its inputs — no I/O, no mutable state.
type Gate struct {
	Config Config
}

// New builds a Gate from the configured limits.
func New(cfg Config) Gate {
	return Gate{Config: cfg}
}

// Validate applies the gate's rules in order. Later rules see prior
// adjustments (e.g. rule 3's exposure clamp sees rule 2's cap clamp).
func (g Gate) Validate(d decision.Decision, portfolio ledger.Portfolio, doc mind.Document) Result {
	adjusted := d
	result := Result{Approved: true, AdjustedDecision: adjusted}

	// Rule 1: action must be a known action.
	if adjusted.Action != signal.ActionBuy && adjusted.Action != signal.ActionSell && adjusted.Action != signal.ActionHold {
		result.Approved = false
		result.Violations = append(result.Violations, fmt.Sprintf("unknown action %q", adjusted.Action))
		result.AdjustedDecision = d
		return result
	}

	// Rule 2: per-trade cap, with an optional dynamic cognitive override.
	cap := g.Config.MaxPositionPct * 100
	if n, ok := dynamicPositionCap(doc); ok && n < cap {
		cap = n
	}
	if adjusted.PositionSizePct > cap {
		adjusted.PositionSizePct = cap
		result.Adjustments = append(result.Adjustments, fmt.Sprintf("position_size_pct clamped to cap %.2f", cap))
	}
	if adjusted.PositionSizePct < 0 {
		adjusted.PositionSizePct = 0
		result.Adjustments = append(result.Adjustments, "position_size_pct clamped to 0 (was negative)")
	}

	// Rule 3: exposure cap on buys.
	if adjusted.Action == signal.ActionBuy {
		maxExposure := g.Config.MaxExposurePct * 100
		projected := portfolio.ExposurePct + adjusted.PositionSizePct
		if projected > maxExposure {
			headroom := maxExposure - portfolio.ExposurePct
			if headroom < 0 {
				headroom = 0
			}
			adjusted.PositionSizePct = round2(headroom)
			result.Adjustments = append(result.Adjustments, fmt.Sprintf(
				"position_size_pct clamped to %.2f to respect max_exposure_pct (current exposure %.2f%%)",
				adjusted.PositionSizePct, portfolio.ExposurePct))
		}
	}

	// Rule 4: stop-loss sanity on buys.
	if adjusted.Action == signal.ActionBuy {
		switch {
		case adjusted.EntryPrice <= 0 || adjusted.StopLoss <= 0:
			result.Violations = append(result.Violations, "entry_price and stop_loss must be positive for a buy")
		case adjusted.StopLoss >= adjusted.EntryPrice:
			result.Violations = append(result.Violations, fmt.Sprintf(
				"stop_loss %.2f must be below entry_price %.2f", adjusted.StopLoss, adjusted.EntryPrice))
		default:
			stopDistance := (adjusted.EntryPrice - adjusted.StopLoss) / adjusted.EntryPrice
			if stopDistance > g.Config.MaxStopLossPct {
				adjusted.StopLoss = adjusted.EntryPrice * (1 - g.Config.MaxStopLossPct)
				result.Adjustments = append(result.Adjustments, fmt.Sprintf(
					"stop_loss tightened to %.2f to respect max_stop_loss_pct", adjusted.StopLoss))
			}
		}
	}

	// Rule 5: daily-loss cutoff, any action.
	if portfolio.DailyPnLPct <= -g.Config.MaxDailyLossPct*100 {
		result.Violations = append(result.Violations, fmt.Sprintf(
			"max daily loss reached: daily_pnl_pct %.2f <= -%.2f", portfolio.DailyPnLPct, g.Config.MaxDailyLossPct*100))
	}

	// Rule 6: final approval.
	result.AdjustedDecision = adjusted
	result.Approved = len(result.Violations) == 0 && (adjusted.Action != signal.ActionBuy || adjusted.PositionSizePct > 0)

	return result
}

// dynamicPositionCap scans the cognitive document's bias_awareness entries
// for a mitigation string matching dynamicCapPattern and returns the first
// percentage it finds.
func dynamicPositionCap(doc mind.Document) (float64, bool) {
	list, ok := doc["bias_awareness"].([]any)
	if !ok {
		return 0, false
	}
	for _, item := range list {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		mitigation, _ := entry["mitigation"].(string)
		matches := dynamicCapPattern.FindStringSubmatch(mitigation)
		if len(matches) != 2 {
			continue
		}
		n, err := strconv.ParseFloat(matches[1], 64)
		if err != nil {
			continue
		}
		return n, true
	}
	return 0, false
}

func round2(v float64) float64 {
	return float64(int(v*100+0.5)) / 100
}
