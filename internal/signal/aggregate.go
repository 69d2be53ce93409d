package signal

import "math"

// StrategyWeight assigns each category's share of the composite score.
var StrategyWeight = map[Category]float64{
	CategoryTrendFollowing: 0.45,
	CategoryVolatility:     0.35,
	CategoryBreakout:       0.20,
}

const (
	actionThreshold   = 0.20
	minConfidence     = 0.45
	maxConfidence     = 0.95
	minFilteredWeight = 0.15
	maxFilteredWeight = 2.0
	filterFloor       = 0.18
)

// Aggregate is the composite view over a set of per-strategy Signals.
type Aggregate struct {
	CompositeScore    float64 // rounded to 6 dp, in [-1, 1]
	RecommendedAction Action
	Confidence        float64 // rounded to 3 dp, in [0.45, 0.95]
	ActiveSignalCount int
	BullishCount      int
	BearishCount      int
	HoldCount         int
}

// AggregateOption configures an optional behavior of Compute.
type AggregateOption func(*aggregateConfig)

type aggregateConfig struct {
	cognitiveFilter bool
	regime          string
}

// WithCognitiveFilter enables optional pre-aggregation strength scaling:
// each signal's strength is scaled by a combined weight before the
// composite is formed, and signals whose scaled strength falls below a
// floor are demoted to hold. Default is off — see DESIGN.md's Open
// Question resolution.
func WithCognitiveFilter(regime string) AggregateOption {
	return func(c *aggregateConfig) {
		c.cognitiveFilter = true
		c.regime = regime
	}
}

// signAction maps a signal's Action to its numeric sign.
func signAction(a Action) float64 {
	switch a {
	case ActionBuy:
		return 1
	case ActionSell:
		return -1
	default:
		return 0
	}
}

// Compute aggregates a signal list into a single weighted view: for signal
// i with per-category weight w_i, composite = Σ w_i·sign_i·strength_i / Σ w_i.
func Compute(signals []Signal, opts ...AggregateOption) Aggregate {
	cfg := &aggregateConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	working := signals
	if cfg.cognitiveFilter {
		working = applyCognitiveFilter(signals, cfg.regime)
	}

	var weightedSum, weightTotal float64
	var bullish, bearish, hold int

	for _, sig := range working {
		weight, ok := StrategyWeight[sig.Category]
		if !ok {
			weight = 1.0 / float64(len(working))
		}
		weightedSum += weight * signAction(sig.Action) * sig.Strength
		weightTotal += weight

		switch sig.Action {
		case ActionBuy:
			bullish++
		case ActionSell:
			bearish++
		default:
			hold++
		}
	}

	var composite float64
	if weightTotal > 0 {
		composite = weightedSum / weightTotal
	}
	composite = round(composite, 6)

	active := bullish + bearish

	var action Action
	switch {
	case composite >= actionThreshold:
		action = ActionBuy
	case composite <= -actionThreshold:
		action = ActionSell
	default:
		action = ActionHold
	}

	confidence := minConfidence + math.Abs(composite)*0.75 + math.Max(0, float64(active-1))*0.05
	if confidence > maxConfidence {
		confidence = maxConfidence
	}
	if confidence < minConfidence {
		confidence = minConfidence
	}
	confidence = round(confidence, 3)

	return Aggregate{
		CompositeScore:    composite,
		RecommendedAction: action,
		Confidence:        confidence,
		ActiveSignalCount: active,
		BullishCount:      bullish,
		BearishCount:      bearish,
		HoldCount:         hold,
	}
}

// applyCognitiveFilter scales each signal's strength by a combined weight:
// the square of its category's StrategyWeight times a regime multiplier
// (1.15 or 0.85 by category and regime), clamped to
// [minFilteredWeight, maxFilteredWeight]. Anything that then falls below
// filterFloor is demoted to a hold. Per-strategy weights held in the
// cognitive document are not consulted.
func applyCognitiveFilter(signals []Signal, regime string) []Signal {
	out := make([]Signal, len(signals))
	for i, sig := range signals {
		categoryWeight := StrategyWeight[sig.Category]
		regimeMultiplier := 1.0
		switch {
		case sig.Category == CategoryTrendFollowing && regime == "trending":
			regimeMultiplier = 1.15
		case sig.Category == CategoryTrendFollowing && regime == "ranging":
			regimeMultiplier = 0.85
		case sig.Category != CategoryTrendFollowing && regime == "ranging":
			regimeMultiplier = 1.15
		case sig.Category != CategoryTrendFollowing && regime == "trending":
			regimeMultiplier = 0.85
		}

		combined := categoryWeight * categoryWeight * regimeMultiplier
		if combined < minFilteredWeight {
			combined = minFilteredWeight
		}
		if combined > maxFilteredWeight {
			combined = maxFilteredWeight
		}

		scaled := sig
		scaled.Strength = sig.Strength * combined
		if scaled.Strength < filterFloor {
			scaled.Action = ActionHold
			scaled.Strength = 0
		}
		out[i] = scaled
	}
	return out
}

func round(v float64, places int) float64 {
	mult := math.Pow(10, float64(places))
	return math.Round(v*mult) / mult
}
