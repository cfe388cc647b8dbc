// Package rules implements the registered rule catalog, the per-bar rule
// evaluation pass, and the bias aggregator that turns triggered rules into a
// single Signal. The catalog is assembled once at startup and is
// immutable thereafter: no rule is added, removed, or reweighted by
// anything other than the adaptive strategy-weight table in SystemState.
package rules

import (
	"time"

	"github.com/atlas-desktop/trading-backend/pkg/types"
	"github.com/shopspring/decimal"
)

// Predicate evaluates a rule's trigger condition against a feature map. It
// must be a pure function of the map: no external state, no side effects.
type Predicate func(fm types.FeatureMap) bool

// Rule is one entry in the immutable catalog.
type Rule struct {
	Name           string
	Class          types.RuleClass
	Bias           float64
	AllowedRegimes map[types.DirectionalRegime]bool
	Trigger        Predicate
}

func allow(regimes ...types.DirectionalRegime) map[types.DirectionalRegime]bool {
	m := make(map[types.DirectionalRegime]bool, len(regimes))
	for _, r := range regimes {
		m[r] = true
	}
	return m
}

func feature(fm types.FeatureMap, name string) (float64, bool) {
	return fm.Get(name)
}

// Engine holds the immutable rule catalog plus per-rule adaptive weights.
type Engine struct {
	catalog []Rule
}

// New builds an Engine from the canonical 19-rule catalog.
func New() *Engine {
	return &Engine{catalog: defaultCatalog()}
}

// Catalog returns the registered rules, for introspection/tests only.
func (e *Engine) Catalog() []Rule {
	return e.catalog
}

// triggered is one rule that fired during an evaluation pass.
type triggered struct {
	rule   Rule
	weight float64
}

// Evaluate runs the catalog against a bar-close FeatureMap and regime,
// applying the regime filter, the RANGE sideways veto, and the aggregation
// formula, producing a Signal.
func (e *Engine) Evaluate(
	instrument string,
	fm types.FeatureMap,
	regime types.Regime,
	activationThreshold float64,
	weights map[string]float64,
) types.Signal {
	now := time.Now().UTC()
	close, _ := fm.Get(types.FeatureClose)
	atr, _ := fm.Get(types.FeatureATR14)

	sig := types.Signal{
		Instrument:     instrument,
		Action:         types.ActionNeutral,
		RegimeAtEmit:   regime,
		ATRSnapshot:    decimal.NewFromFloat(atr),
		SuggestedPrice: decimal.NewFromFloat(close),
		EmittedAt:      now,
	}

	var fired []triggered
	for _, r := range e.catalog {
		if !r.AllowedRegimes[regime.Directional] {
			continue
		}
		if regime.Directional == types.RegimeRange &&
			(r.Class == types.RuleClassTrend || r.Class == types.RuleClassBreakout) {
			continue
		}
		if !r.Trigger(fm) {
			continue
		}
		w := weights[r.Name]
		if w == 0 {
			w = 1
		}
		fired = append(fired, triggered{rule: r, weight: w})
	}

	if len(fired) == 0 {
		return sig
	}

	var weightedSum, weightTotal float64
	var longVotes, shortVotes int
	names := make([]string, 0, len(fired))
	for _, t := range fired {
		weightedSum += t.rule.Bias * t.weight
		weightTotal += t.weight
		names = append(names, t.rule.Name)
		if t.rule.Bias > 0 {
			longVotes++
		} else if t.rule.Bias < 0 {
			shortVotes++
		}
	}

	bias := 0.0
	if weightTotal != 0 {
		bias = weightedSum / weightTotal
	}
	majority := longVotes
	if shortVotes > majority {
		majority = shortVotes
	}
	confidence := 0.0
	if total := longVotes + shortVotes; total > 0 {
		confidence = float64(majority) / float64(total)
	}

	sig.Bias = bias
	sig.Confidence = confidence
	sig.ContributingIDs = names

	if bias >= activationThreshold {
		sig.Action = types.ActionProposeLong
	} else if bias <= -activationThreshold {
		sig.Action = types.ActionProposeShort
	}

	return sig
}

// defaultCatalog is the canonical 19-rule set: TURTLE_20DAY/55DAY
// breakouts (long/short), RSI_OVERSOLD/OVERBOUGHT and extreme variants,
// GOLDEN_CROSS/DEATH_CROSS, BB_OVERSOLD/OVERBOUGHT, STOCH_OVERSOLD/
// OVERBOUGHT, STOCH_BULLISH_CROSS, STRONG_UPTREND/STRONG_DOWNTREND,
// SUPER_BULLISH/SUPER_BEARISH.
func defaultCatalog() []Rule {
	bull := allow(types.RegimeBull)
	bear := allow(types.RegimeBear)
	anyDirectional := allow(types.RegimeBull, types.RegimeBear, types.RegimeRange, types.RegimeUnknown)

	return []Rule{
		// TREND
		{
			Name: "GOLDEN_CROSS", Class: types.RuleClassTrend, Bias: 0.5, AllowedRegimes: bull,
			Trigger: func(fm types.FeatureMap) bool {
				e20, ok1 := feature(fm, types.FeatureEMA20)
				e50, ok2 := feature(fm, types.FeatureEMA50)
				return ok1 && ok2 && e20 > e50
			},
		},
		{
			Name: "DEATH_CROSS", Class: types.RuleClassTrend, Bias: -0.5, AllowedRegimes: bear,
			Trigger: func(fm types.FeatureMap) bool {
				e20, ok1 := feature(fm, types.FeatureEMA20)
				e50, ok2 := feature(fm, types.FeatureEMA50)
				return ok1 && ok2 && e20 < e50
			},
		},
		{
			Name: "STRONG_UPTREND", Class: types.RuleClassTrend, Bias: 0.7, AllowedRegimes: bull,
			Trigger: func(fm types.FeatureMap) bool {
				adx, ok1 := feature(fm, types.FeatureADX14)
				e20, ok2 := feature(fm, types.FeatureEMA20)
				e50, ok3 := feature(fm, types.FeatureEMA50)
				return ok1 && ok2 && ok3 && adx > 25 && e20 > e50
			},
		},
		{
			Name: "STRONG_DOWNTREND", Class: types.RuleClassTrend, Bias: -0.7, AllowedRegimes: bear,
			Trigger: func(fm types.FeatureMap) bool {
				adx, ok1 := feature(fm, types.FeatureADX14)
				e20, ok2 := feature(fm, types.FeatureEMA20)
				e50, ok3 := feature(fm, types.FeatureEMA50)
				return ok1 && ok2 && ok3 && adx > 25 && e20 < e50
			},
		},

		// MEAN_REVERSION
		// The plain and extreme RSI rules are banded so at most one of the
		// pair fires for a given reading.
		{
			Name: "RSI_OVERSOLD", Class: types.RuleClassMeanReversion, Bias: 0.5, AllowedRegimes: anyDirectional,
			Trigger: func(fm types.FeatureMap) bool {
				rsi, ok := feature(fm, types.FeatureRSI14)
				return ok && rsi < 30 && rsi >= 20
			},
		},
		{
			Name: "RSI_OVERBOUGHT", Class: types.RuleClassMeanReversion, Bias: -0.5, AllowedRegimes: anyDirectional,
			Trigger: func(fm types.FeatureMap) bool {
				rsi, ok := feature(fm, types.FeatureRSI14)
				return ok && rsi > 70 && rsi <= 80
			},
		},
		{
			Name: "RSI_EXTREME_OVERSOLD", Class: types.RuleClassMeanReversion, Bias: 0.8, AllowedRegimes: anyDirectional,
			Trigger: func(fm types.FeatureMap) bool {
				rsi, ok := feature(fm, types.FeatureRSI14)
				return ok && rsi < 20
			},
		},
		{
			Name: "RSI_EXTREME_OVERBOUGHT", Class: types.RuleClassMeanReversion, Bias: -0.8, AllowedRegimes: anyDirectional,
			Trigger: func(fm types.FeatureMap) bool {
				rsi, ok := feature(fm, types.FeatureRSI14)
				return ok && rsi > 80
			},
		},
		{
			Name: "BB_OVERSOLD", Class: types.RuleClassMeanReversion, Bias: 0.6, AllowedRegimes: anyDirectional,
			Trigger: func(fm types.FeatureMap) bool {
				close, ok1 := feature(fm, types.FeatureClose)
				lower, ok2 := feature(fm, types.FeatureBBLower)
				return ok1 && ok2 && close < lower
			},
		},
		{
			Name: "BB_OVERBOUGHT", Class: types.RuleClassMeanReversion, Bias: -0.6, AllowedRegimes: anyDirectional,
			Trigger: func(fm types.FeatureMap) bool {
				close, ok1 := feature(fm, types.FeatureClose)
				upper, ok2 := feature(fm, types.FeatureBBUpper)
				return ok1 && ok2 && close > upper
			},
		},
		{
			Name: "STOCH_OVERSOLD", Class: types.RuleClassMeanReversion, Bias: 0.4, AllowedRegimes: anyDirectional,
			Trigger: func(fm types.FeatureMap) bool {
				k, ok := feature(fm, types.FeatureStochK)
				return ok && k < 20
			},
		},
		{
			Name: "STOCH_OVERBOUGHT", Class: types.RuleClassMeanReversion, Bias: -0.4, AllowedRegimes: anyDirectional,
			Trigger: func(fm types.FeatureMap) bool {
				k, ok := feature(fm, types.FeatureStochK)
				return ok && k > 80
			},
		},
		{
			Name: "STOCH_BULLISH_CROSS", Class: types.RuleClassMeanReversion, Bias: 0.5, AllowedRegimes: anyDirectional,
			Trigger: func(fm types.FeatureMap) bool {
				k, ok1 := feature(fm, types.FeatureStochK)
				d, ok2 := feature(fm, types.FeatureStochD)
				return ok1 && ok2 && k < 20 && k > d
			},
		},

		// BREAKOUT
		{
			Name: "TURTLE_20DAY_BREAKOUT_LONG", Class: types.RuleClassBreakout, Bias: 0.6, AllowedRegimes: bull,
			Trigger: func(fm types.FeatureMap) bool {
				flag, ok := feature(fm, types.FeatureBreakoutUp20)
				return ok && flag == 1
			},
		},
		{
			Name: "TURTLE_20DAY_BREAKOUT_SHORT", Class: types.RuleClassBreakout, Bias: -0.6, AllowedRegimes: bear,
			Trigger: func(fm types.FeatureMap) bool {
				flag, ok := feature(fm, types.FeatureBreakoutDn20)
				return ok && flag == 1
			},
		},
		{
			Name: "TURTLE_55DAY_BREAKOUT_LONG", Class: types.RuleClassBreakout, Bias: 0.9, AllowedRegimes: bull,
			Trigger: func(fm types.FeatureMap) bool {
				flag, ok := feature(fm, types.FeatureBreakoutUp55)
				return ok && flag == 1
			},
		},
		{
			Name: "TURTLE_55DAY_BREAKOUT_SHORT", Class: types.RuleClassBreakout, Bias: -0.9, AllowedRegimes: bear,
			Trigger: func(fm types.FeatureMap) bool {
				flag, ok := feature(fm, types.FeatureBreakoutDn55)
				return ok && flag == 1
			},
		},

		// COMBO
		{
			Name: "SUPER_BULLISH", Class: types.RuleClassCombo, Bias: 0.85, AllowedRegimes: bull,
			Trigger: func(fm types.FeatureMap) bool {
				adx, ok1 := feature(fm, types.FeatureADX14)
				close, ok2 := feature(fm, types.FeatureClose)
				e20, ok3 := feature(fm, types.FeatureEMA20)
				rsi, ok4 := feature(fm, types.FeatureRSI14)
				return ok1 && ok2 && ok3 && ok4 && adx > 25 && close > e20 && rsi > 50 && rsi < 70
			},
		},
		{
			Name: "SUPER_BEARISH", Class: types.RuleClassCombo, Bias: -0.85, AllowedRegimes: bear,
			Trigger: func(fm types.FeatureMap) bool {
				adx, ok1 := feature(fm, types.FeatureADX14)
				close, ok2 := feature(fm, types.FeatureClose)
				e20, ok3 := feature(fm, types.FeatureEMA20)
				rsi, ok4 := feature(fm, types.FeatureRSI14)
				return ok1 && ok2 && ok3 && ok4 && adx > 25 && close < e20 && rsi < 50 && rsi > 30
			},
		},
	}
}
