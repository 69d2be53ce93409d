// Package decision synthesizes a structured trading Decision by fusing
// signal-library output with the cognitive state, a fallback MA crossover,
// and stop/take-profit sizing.
//
// Grounded on original_source/backend/src/ai/decision_engine.py's
// generate_decision — this system synthesizes its decision deterministically
// from signals and the cognitive document; no model is actually called.
// PromptPreview exists only for interface parity with that contract, never
// sent anywhere.
package decision

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/nitinkhare/cognitivetrader/internal/ledger"
	"github.com/nitinkhare/cognitivetrader/internal/mind"
	"github.com/nitinkhare/cognitivetrader/internal/signal"
	"github.com/nitinkhare/cognitivetrader/internal/storage"
)

// Decision is the immutable output of one synthesis.
type Decision struct {
	Timestamp       time.Time
	Action          signal.Action
	PositionSizePct float64
	EntryPrice      float64
	StopLoss        float64
	TakeProfit      float64
	Confidence      float64
	Reasoning       map[string]any
	ModelUsed       string
	InputHash       string
	PromptPreview   string // unused call-contract parity field; never sent anywhere.
}

// Context bundles everything the synthesizer needs.
type Context struct {
	Mind             mind.Document
	DailyCandles     []signal.Candle
	HourlyCandles    []signal.Candle
	Signals          []signal.Signal
	Portfolio        ledger.Portfolio
	RecentDecisions  []storage.DecisionRecord
	MaxPositionPct   float64 // fractional, e.g. 0.20
	MaxStopLossPct   float64 // fractional, e.g. 0.08
	UseCognitiveFilter bool
}

const (
	fallbackBuyThreshold  = 0.01
	fallbackSellThreshold = -0.01
	fallbackConfidenceMin = 0.45
	fallbackConfidenceMax = 0.9
)

// Synthesize runs the full six-step pipeline: aggregate signals, fall back
// to an MA crossover when they're unanimously flat, size the position,
// anchor stops to the latest price, attach reasoning, and hash the inputs.
func Synthesize(ctx Context) Decision {
	var opts []signal.AggregateOption
	if ctx.UseCognitiveFilter {
		opts = append(opts, signal.WithCognitiveFilter(regimeOf(ctx.Mind)))
	}
	agg := signal.Compute(ctx.Signals, opts...)

	action := agg.RecommendedAction
	confidence := agg.Confidence
	usedFallback := false

	// Step 2: 7/21 MA crossover fallback when the aggregate is flat.
	if action == signal.ActionHold && agg.ActiveSignalCount == 0 && len(ctx.DailyCandles) > 0 {
		fbAction, fbConfidence, ok := fallbackCrossover(ctx.DailyCandles)
		if ok {
			action = fbAction
			confidence = fbConfidence
			usedFallback = true
		}
	}

	// Step 3: sizing.
	var positionSizePct float64
	if action != signal.ActionHold {
		positionSizePct = round(math.Min(ctx.MaxPositionPct*100, confidence*20), 2)
	}

	// Step 4: stops, anchored to the latest hourly close, else daily close.
	latestPrice := lastClose(ctx.HourlyCandles)
	if latestPrice == 0 {
		latestPrice = lastClose(ctx.DailyCandles)
	}
	var stopLoss, takeProfit float64
	if latestPrice > 0 {
		stopLoss = latestPrice * (1 - ctx.MaxStopLossPct)
		takeProfit = latestPrice * (1 + 2*ctx.MaxStopLossPct)
	}

	d := Decision{
		Timestamp:       time.Now().UTC(),
		Action:          action,
		PositionSizePct: positionSizePct,
		EntryPrice:      latestPrice,
		StopLoss:        stopLoss,
		TakeProfit:      takeProfit,
		Confidence:      round(confidence, 3),
		ModelUsed:       "deterministic-fallback-v1",
	}

	d.Reasoning = buildReasoning(ctx, agg, action, usedFallback)
	d.InputHash = inputHash(ctx)
	return d
}

func regimeOf(doc mind.Document) string {
	beliefs, ok := doc["market_beliefs"].(map[string]any)
	if !ok {
		return ""
	}
	regime, _ := beliefs["regime"].(string)
	return regime
}

// fallbackCrossover computes a 7/21 MA crossover on daily closes when every
// strategy signal is a hold, so the agent still has an opinion on a market
// the signal library finds genuinely ambiguous.
func fallbackCrossover(daily []signal.Candle) (signal.Action, float64, bool) {
	ma7 := signal.CalculateSMA(daily, 7)
	ma21 := signal.CalculateSMA(daily, 21)
	if ma21 == 0 {
		return signal.ActionHold, 0, false
	}

	score := (ma7 - ma21) / ma21
	confidence := clamp(math.Abs(score)*12+0.45, fallbackConfidenceMin, fallbackConfidenceMax)

	switch {
	case score > 0.01:
		return signal.ActionBuy, confidence, true
	case score < -0.01:
		return signal.ActionSell, confidence, true
	default:
		return signal.ActionHold, confidence, true
	}
}

func lastClose(candles []signal.Candle) float64 {
	if len(candles) == 0 {
		return 0
	}
	return candles[len(candles)-1].Close
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func round(v float64, places int) float64 {
	mult := math.Pow(10, float64(places))
	return math.Round(v*mult) / mult
}

// buildReasoning populates the required mind_alignment and bias_check
// fields plus a quant summary, key factors, and risk-considerations list.
func buildReasoning(ctx Context, agg signal.Aggregate, action signal.Action, usedFallback bool) map[string]any {
	regime := regimeOf(ctx.Mind)
	if regime == "" {
		regime = "unknown"
	}

	mindAlignment := fmt.Sprintf("cognitive regime is %q; recommended action %q is %s with that regime",
		regime, action, alignmentWord(regime, action))

	biasCheck := defaultBiasCheck
	if list, ok := ctx.Mind["bias_awareness"].([]any); ok && len(list) > 0 {
		if entry, ok := list[0].(map[string]any); ok {
			bias, _ := entry["bias"].(string)
			mitigation, _ := entry["mitigation"].(string)
			if bias != "" {
				biasCheck = fmt.Sprintf("checked against known bias %q; mitigation: %s", bias, mitigation)
			}
		}
	}

	keyFactors := []string{
		fmt.Sprintf("composite_score=%.6f", agg.CompositeScore),
		fmt.Sprintf("active_signals=%d (bullish=%d, bearish=%d, hold=%d)", agg.ActiveSignalCount, agg.BullishCount, agg.BearishCount, agg.HoldCount),
	}
	if usedFallback {
		keyFactors = append(keyFactors, "used 7/21 MA crossover fallback: all strategies held")
	}

	riskConsiderations := []string{
		"position sizing is capped by max_position_pct before the risk gate runs",
		"stop distance is bounded by max_stop_loss_pct before the risk gate runs",
	}

	return map[string]any{
		"mind_alignment": mindAlignment,
		"bias_check":      biasCheck,
		"quant_summary": map[string]any{
			"composite_score":    agg.CompositeScore,
			"recommended_action": string(agg.RecommendedAction),
			"active_signals":     agg.ActiveSignalCount,
		},
		"key_factors":         keyFactors,
		"risk_considerations": riskConsiderations,
	}
}

const defaultBiasCheck = "no bias reminders recorded yet; defaulting to standard caution against overconfidence"

func alignmentWord(regime string, action signal.Action) string {
	switch {
	case regime == "bullish" && action == signal.ActionBuy:
		return "consistent"
	case regime == "bearish" && action == signal.ActionSell:
		return "consistent"
	case action == signal.ActionHold:
		return "neutral"
	default:
		return "in tension"
	}
}

// inputHash is a stable hash (SHA-256) of a canonical serialization of the
// full input bundle. encoding/json already sorts map[string]any keys
// lexicographically, so marshaling a struct of sorted slices/maps satisfies
// "canonical" without extra tooling.
func inputHash(ctx Context) string {
	bundle := map[string]any{
		"mind":             ctx.Mind,
		"daily_candles":    ctx.DailyCandles,
		"hourly_candles":   ctx.HourlyCandles,
		"signals":          sortedSignals(ctx.Signals),
		"portfolio":        ctx.Portfolio,
		"recent_decisions": ctx.RecentDecisions,
		"max_position_pct": ctx.MaxPositionPct,
		"max_stop_loss_pct": ctx.MaxStopLossPct,
	}
	data, err := json.Marshal(bundle)
	if err != nil {
		// Input bundles are built entirely from this process's own types;
		// a marshal failure here means a non-serializable field was added
		// upstream, not a runtime condition callers should need to handle.
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func sortedSignals(signals []signal.Signal) []signal.Signal {
	out := make([]signal.Signal, len(signals))
	copy(out, signals)
	sort.Slice(out, func(i, j int) bool { return out[i].StrategyName < out[j].StrategyName })
	return out
}
