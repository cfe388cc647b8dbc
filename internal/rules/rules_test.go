// Package rules_test provides tests for the rule catalog and bias aggregator.
package rules_test

import (
	"testing"

	"github.com/atlas-desktop/trading-backend/internal/rules"
	"github.com/atlas-desktop/trading-backend/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func bullRegime() types.Regime {
	return types.Regime{Directional: types.RegimeBull, Volatility: types.VolatilityNormal}
}

func rangeRegime() types.Regime {
	return types.Regime{Directional: types.RegimeRange, Volatility: types.VolatilityNormal}
}

func TestCatalogHasNineteenRulesAcrossFourClasses(t *testing.T) {
	e := rules.New()
	catalog := e.Catalog()
	assert.Len(t, catalog, 19)

	counts := map[types.RuleClass]int{}
	for _, r := range catalog {
		counts[r.Class]++
	}
	assert.Equal(t, 4, counts[types.RuleClassTrend])
	assert.Equal(t, 9, counts[types.RuleClassMeanReversion])
	assert.Equal(t, 4, counts[types.RuleClassBreakout])
	assert.Equal(t, 2, counts[types.RuleClassCombo])
}

func TestCatalogNamesAreUnique(t *testing.T) {
	e := rules.New()
	seen := map[string]bool{}
	for _, r := range e.Catalog() {
		assert.False(t, seen[r.Name], "duplicate rule name %s", r.Name)
		seen[r.Name] = true
	}
}

func TestEvaluateNoTriggersYieldsNeutral(t *testing.T) {
	e := rules.New()
	fm := types.FeatureMap{Instrument: "BTCUSDT", Values: map[string]float64{}}

	sig := e.Evaluate("BTCUSDT", fm, bullRegime(), 0.7, nil)
	assert.Equal(t, types.ActionNeutral, sig.Action)
	assert.Equal(t, 0.0, sig.Bias)
	assert.Empty(t, sig.ContributingIDs)
}

func TestEvaluateGoldenCrossAboveThresholdProposesLong(t *testing.T) {
	e := rules.New()
	fm := types.FeatureMap{Instrument: "BTCUSDT", Values: map[string]float64{
		types.FeatureEMA20: 110,
		types.FeatureEMA50: 100,
		types.FeatureADX14: 30,
	}}

	// GOLDEN_CROSS (0.5) and STRONG_UPTREND (0.7) both fire in BULL; average = 0.6.
	sig := e.Evaluate("BTCUSDT", fm, bullRegime(), 0.55, nil)
	assert.Equal(t, types.ActionProposeLong, sig.Action)
	assert.InDelta(t, 0.6, sig.Bias, 1e-9)
	assert.ElementsMatch(t, []string{"GOLDEN_CROSS", "STRONG_UPTREND"}, sig.ContributingIDs)
}

func TestEvaluateBelowActivationThresholdStaysNeutral(t *testing.T) {
	e := rules.New()
	fm := types.FeatureMap{Instrument: "BTCUSDT", Values: map[string]float64{
		types.FeatureEMA20: 110,
		types.FeatureEMA50: 100,
	}}

	sig := e.Evaluate("BTCUSDT", fm, bullRegime(), 0.9, nil)
	assert.Equal(t, types.ActionNeutral, sig.Action, "a 0.5 bias must not clear a 0.9 activation threshold")
}

func TestEvaluateRangeRegimeVetoesTrendAndBreakoutRules(t *testing.T) {
	e := rules.New()
	// RSI_OVERSOLD is MEAN_REVERSION and allowed in RANGE; GOLDEN_CROSS
	// is TREND and is not allowed to fire regardless of regime match.
	fm := types.FeatureMap{Instrument: "BTCUSDT", Values: map[string]float64{
		types.FeatureEMA20: 110,
		types.FeatureEMA50: 100,
		types.FeatureRSI14: 25,
	}}

	sig := e.Evaluate("BTCUSDT", fm, rangeRegime(), 0.3, nil)
	assert.ElementsMatch(t, []string{"RSI_OVERSOLD"}, sig.ContributingIDs)
}

func TestEvaluateDirectionalRegimeGatesBullOnlyRules(t *testing.T) {
	e := rules.New()
	fm := types.FeatureMap{Instrument: "BTCUSDT", Values: map[string]float64{
		types.FeatureEMA20: 110,
		types.FeatureEMA50: 100,
	}}

	bearRegime := types.Regime{Directional: types.RegimeBear, Volatility: types.VolatilityNormal}
	sig := e.Evaluate("BTCUSDT", fm, bearRegime, 0.1, nil)
	assert.Empty(t, sig.ContributingIDs, "GOLDEN_CROSS only fires in BULL")
}

func TestEvaluateAdaptiveWeightsScaleContribution(t *testing.T) {
	e := rules.New()
	// Fires RSI_EXTREME_OVERSOLD (0.8) and BB_OVERSOLD (0.6).
	fm := types.FeatureMap{Instrument: "BTCUSDT", Values: map[string]float64{
		types.FeatureRSI14:   15,
		types.FeatureClose:   90,
		types.FeatureBBLower: 95,
	}}

	unweighted := e.Evaluate("BTCUSDT", fm, bullRegime(), 0.5, nil)

	weights := map[string]float64{"BB_OVERSOLD": 3, "RSI_EXTREME_OVERSOLD": 1}
	weighted := e.Evaluate("BTCUSDT", fm, bullRegime(), 0.5, weights)

	assert.InDelta(t, 0.7, unweighted.Bias, 1e-9, "equal default weights average to (0.8+0.6)/2")
	assert.InDelta(t, 0.65, weighted.Bias, 1e-9, "heavier-weighted rules pull the aggregate bias toward them")
}

func TestEvaluateExtremeRSIExcludesPlainRSIRule(t *testing.T) {
	e := rules.New()
	fm := types.FeatureMap{Instrument: "BTCUSDT", Values: map[string]float64{
		types.FeatureRSI14: 15,
	}}

	sig := e.Evaluate("BTCUSDT", fm, bullRegime(), 0.9, nil)
	assert.ElementsMatch(t, []string{"RSI_EXTREME_OVERSOLD"}, sig.ContributingIDs,
		"an extreme reading fires only the extreme variant")
}

func TestEvaluateRangeOversoldProposesLong(t *testing.T) {
	e := rules.New()
	// Deep oversold inside a range: the extreme RSI and lower-band
	// touches agree, averaging to exactly the default activation level.
	fm := types.FeatureMap{Instrument: "BTCUSDT", Values: map[string]float64{
		types.FeatureADX14:   15,
		types.FeatureRSI14:   18,
		types.FeatureClose:   90,
		types.FeatureBBLower: 95,
	}}

	sig := e.Evaluate("BTCUSDT", fm, rangeRegime(), 0.7, nil)
	assert.Equal(t, types.ActionProposeLong, sig.Action)
	assert.ElementsMatch(t, []string{"RSI_EXTREME_OVERSOLD", "BB_OVERSOLD"}, sig.ContributingIDs)
}

func TestEvaluateBullBreakoutConfluenceProposesLong(t *testing.T) {
	e := rules.New()
	// Fresh 55-day breakout in a confirmed uptrend: both turtle rules,
	// both trend rules, and the bullish combo align.
	fm := types.FeatureMap{Instrument: "BTCUSDT", Values: map[string]float64{
		types.FeatureADX14:        30,
		types.FeatureEMA20:        95,
		types.FeatureEMA50:        90,
		types.FeatureRSI14:        60,
		types.FeatureClose:        100,
		types.FeatureHigh20:       99.5,
		types.FeatureHigh55:       99.0,
		types.FeatureBreakoutUp20: 1,
		types.FeatureBreakoutUp55: 1,
		types.FeatureATR14:        0.5,
	}}

	sig := e.Evaluate("BTCUSDT", fm, bullRegime(), 0.7, nil)
	assert.Equal(t, types.ActionProposeLong, sig.Action)
	assert.Contains(t, sig.ContributingIDs, "TURTLE_55DAY_BREAKOUT_LONG")
	assert.Contains(t, sig.ContributingIDs, "STRONG_UPTREND")
	assert.GreaterOrEqual(t, sig.Bias, 0.7)
	assert.True(t, sig.ATRSnapshot.Equal(decimal.NewFromFloat(0.5)))
	assert.True(t, sig.SuggestedPrice.Equal(decimal.NewFromInt(100)))
}

func TestEvaluateConfidenceReflectsVoteAgreement(t *testing.T) {
	e := rules.New()
	// RSI_OVERSOLD(+) and BB_OVERBOUGHT(-) disagree in direction.
	fm := types.FeatureMap{Instrument: "BTCUSDT", Values: map[string]float64{
		types.FeatureRSI14:   25,
		types.FeatureClose:   150,
		types.FeatureBBUpper: 140,
	}}

	sig := e.Evaluate("BTCUSDT", fm, bullRegime(), 0.9, nil)
	assert.Equal(t, 0.5, sig.Confidence, "a 1-vs-1 split yields 50% confidence")
}

func TestEvaluateShortSideActivation(t *testing.T) {
	e := rules.New()
	fm := types.FeatureMap{Instrument: "BTCUSDT", Values: map[string]float64{
		types.FeatureEMA20: 90,
		types.FeatureEMA50: 100,
		types.FeatureADX14: 30,
	}}

	bearRegime := types.Regime{Directional: types.RegimeBear, Volatility: types.VolatilityNormal}
	sig := e.Evaluate("BTCUSDT", fm, bearRegime, 0.55, nil)
	assert.Equal(t, types.ActionProposeShort, sig.Action)
	assert.Less(t, sig.Bias, 0.0)
}
