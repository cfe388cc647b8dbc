// Package indicators computes the technical feature map from a bar
// window. Every function is a pure computation on a bar slice; missing
// samples simply omit the dependent field rather than panicking or
// propagating NaN/Inf. A zero close omits ATR_PCT and a zero high-low range
// omits the stochastic; RSI with no average loss is reported as 100, and an
// ADX step with no true range or no directional movement counts as a DX of 0.
package indicators

import (
	"math"

	"github.com/atlas-desktop/trading-backend/pkg/types"
)

// Compute returns the FeatureMap for the given closed-bar window (oldest
// first). Computation requires at least buffer.MinBarsForComputation bars;
// callers are expected to have checked that already.
func Compute(instrument string, bars []*types.Bar) types.FeatureMap {
	fm := types.FeatureMap{Instrument: instrument, Values: make(map[string]float64)}
	if len(bars) == 0 {
		return fm
	}

	closes := closeSeries(bars)
	highs := highSeries(bars)
	lows := lowSeries(bars)
	volumes := volumeSeries(bars)

	fm.Values[types.FeatureClose] = closes[len(closes)-1]
	fm.Values[types.FeatureVolume] = volumes[len(volumes)-1]

	if ema20, ok := ema(closes, 20); ok {
		fm.Values[types.FeatureEMA20] = ema20
	}
	if ema50, ok := ema(closes, 50); ok {
		fm.Values[types.FeatureEMA50] = ema50
	}
	if rsi14, ok := wilderRSI(closes, 14); ok {
		fm.Values[types.FeatureRSI14] = rsi14
	}
	if atr14, ok := wilderATR(highs, lows, closes, 14); ok {
		fm.Values[types.FeatureATR14] = atr14
		if closes[len(closes)-1] != 0 {
			fm.Values[types.FeatureATRPct] = atr14 / closes[len(closes)-1] * 100
		}
	}
	if adx14, ok := wilderADX(highs, lows, closes, 14); ok {
		fm.Values[types.FeatureADX14] = adx14
	}
	if mid, upper, lower, ok := bollinger(closes, 20, 2); ok {
		fm.Values[types.FeatureBBMid] = mid
		fm.Values[types.FeatureBBUpper] = upper
		fm.Values[types.FeatureBBLower] = lower
	}
	if k, d, ok := stochastic(highs, lows, closes, 14, 3); ok {
		fm.Values[types.FeatureStochK] = k
		fm.Values[types.FeatureStochD] = d
	}
	if h, ok := rollingHigh(closes, 20); ok {
		fm.Values[types.FeatureHigh20] = h
		fm.Values[types.FeatureBreakoutUp20] = boolF(closes[len(closes)-1] > h)
	}
	if l, ok := rollingLow(closes, 20); ok {
		fm.Values[types.FeatureLow20] = l
		fm.Values[types.FeatureBreakoutDn20] = boolF(closes[len(closes)-1] < l)
	}
	if h, ok := rollingHigh(closes, 55); ok {
		fm.Values[types.FeatureHigh55] = h
		fm.Values[types.FeatureBreakoutUp55] = boolF(closes[len(closes)-1] > h)
	}
	if l, ok := rollingLow(closes, 55); ok {
		fm.Values[types.FeatureLow55] = l
		fm.Values[types.FeatureBreakoutDn55] = boolF(closes[len(closes)-1] < l)
	}
	if vsma, ok := sma(volumes, 20); ok {
		fm.Values[types.FeatureVolumeSMA20] = vsma
	}

	return fm
}

func boolF(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func closeSeries(bars []*types.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i], _ = b.Close.Float64()
	}
	return out
}

func highSeries(bars []*types.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i], _ = b.High.Float64()
	}
	return out
}

func lowSeries(bars []*types.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i], _ = b.Low.Float64()
	}
	return out
}

func volumeSeries(bars []*types.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i], _ = b.Volume.Float64()
	}
	return out
}

// sma is the simple mean of the last n values.
func sma(values []float64, n int) (float64, bool) {
	if len(values) < n {
		return 0, false
	}
	window := values[len(values)-n:]
	sum := 0.0
	for _, v := range window {
		sum += v
	}
	return sum / float64(n), true
}

// ema computes the exponential moving average with an SMA(n) seed taken from
// the oldest n samples, rolled forward one bar at a time through the rest of
// the series to the latest close, alpha = 2/(n+1).
func ema(values []float64, n int) (float64, bool) {
	if len(values) < n {
		return 0, false
	}
	alpha := 2.0 / float64(n+1)

	var seed float64
	for _, v := range values[:n] {
		seed += v
	}
	seed /= float64(n)

	result := seed
	for i := n; i < len(values); i++ {
		result = (values[i]-result)*alpha + result
	}
	return result, true
}

// wilderRSI computes RSI(n) using Wilder's recursive average of gains/losses.
func wilderRSI(closes []float64, n int) (float64, bool) {
	if len(closes) < n+1 {
		return 0, false
	}
	var avgGain, avgLoss float64
	for i := 1; i <= n; i++ {
		delta := closes[i] - closes[i-1]
		if delta > 0 {
			avgGain += delta
		} else {
			avgLoss += -delta
		}
	}
	avgGain /= float64(n)
	avgLoss /= float64(n)

	for i := n + 1; i < len(closes); i++ {
		delta := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if delta > 0 {
			gain = delta
		} else {
			loss = -delta
		}
		avgGain = (avgGain*float64(n-1) + gain) / float64(n)
		avgLoss = (avgLoss*float64(n-1) + loss) / float64(n)
	}

	if avgLoss == 0 {
		return 100, true
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs)), true
}

func trueRange(highs, lows, closes []float64, i int) float64 {
	if i == 0 {
		return highs[i] - lows[i]
	}
	hl := highs[i] - lows[i]
	hc := math.Abs(highs[i] - closes[i-1])
	lc := math.Abs(lows[i] - closes[i-1])
	return math.Max(hl, math.Max(hc, lc))
}

// wilderATR computes ATR(n) as the Wilder mean of true range.
func wilderATR(highs, lows, closes []float64, n int) (float64, bool) {
	if len(closes) < n+1 {
		return 0, false
	}
	var atr float64
	for i := 1; i <= n; i++ {
		atr += trueRange(highs, lows, closes, i)
	}
	atr /= float64(n)
	for i := n + 1; i < len(closes); i++ {
		tr := trueRange(highs, lows, closes, i)
		atr = (atr*float64(n-1) + tr) / float64(n)
	}
	return atr, true
}

// wilderADX computes ADX(n) from Wilder-smoothed +DI/-DI and smoothed DX.
func wilderADX(highs, lows, closes []float64, n int) (float64, bool) {
	if len(closes) < 2*n+1 {
		return 0, false
	}

	plusDM := make([]float64, len(closes))
	minusDM := make([]float64, len(closes))
	tr := make([]float64, len(closes))

	for i := 1; i < len(closes); i++ {
		upMove := highs[i] - highs[i-1]
		downMove := lows[i-1] - lows[i]
		if upMove > downMove && upMove > 0 {
			plusDM[i] = upMove
		}
		if downMove > upMove && downMove > 0 {
			minusDM[i] = downMove
		}
		tr[i] = trueRange(highs, lows, closes, i)
	}

	smooth := func(series []float64, n int) []float64 {
		out := make([]float64, len(series))
		var sum float64
		for i := 1; i <= n; i++ {
			sum += series[i]
		}
		out[n] = sum
		for i := n + 1; i < len(series); i++ {
			out[i] = out[i-1] - out[i-1]/float64(n) + series[i]
		}
		return out
	}

	smTR := smooth(tr, n)
	smPlusDM := smooth(plusDM, n)
	smMinusDM := smooth(minusDM, n)

	dx := make([]float64, len(closes))
	for i := n; i < len(closes); i++ {
		if smTR[i] == 0 {
			continue
		}
		plusDI := 100 * smPlusDM[i] / smTR[i]
		minusDI := 100 * smMinusDM[i] / smTR[i]
		denom := plusDI + minusDI
		if denom == 0 {
			continue
		}
		dx[i] = 100 * math.Abs(plusDI-minusDI) / denom
	}

	// Wilder-smoothed average of DX over the second window.
	start := n
	end := start + n
	if end >= len(dx) {
		end = len(dx) - 1
	}
	var adx float64
	count := 0
	for i := start; i <= end; i++ {
		adx += dx[i]
		count++
	}
	if count == 0 {
		return 0, false
	}
	adx /= float64(count)
	for i := end + 1; i < len(dx); i++ {
		adx = (adx*float64(n-1) + dx[i]) / float64(n)
	}
	return adx, true
}

// bollinger returns mid/upper/lower bands using population stddev.
func bollinger(closes []float64, n int, numStd float64) (mid, upper, lower float64, ok bool) {
	if len(closes) < n {
		return 0, 0, 0, false
	}
	window := closes[len(closes)-n:]
	mean := 0.0
	for _, v := range window {
		mean += v
	}
	mean /= float64(n)

	var variance float64
	for _, v := range window {
		d := v - mean
		variance += d * d
	}
	variance /= float64(n)
	std := math.Sqrt(variance)

	return mean, mean + numStd*std, mean - numStd*std, true
}

// stochastic returns %K and %D (SMA3 of %K) for the given lookback.
func stochastic(highs, lows, closes []float64, kPeriod, dPeriod int) (k, d float64, ok bool) {
	if len(closes) < kPeriod+dPeriod-1 {
		return 0, 0, false
	}

	kValues := make([]float64, 0, dPeriod)
	for offset := dPeriod - 1; offset >= 0; offset-- {
		end := len(closes) - offset
		start := end - kPeriod
		if start < 0 {
			return 0, 0, false
		}
		hi := highs[start]
		lo := lows[start]
		for i := start; i < end; i++ {
			if highs[i] > hi {
				hi = highs[i]
			}
			if lows[i] < lo {
				lo = lows[i]
			}
		}
		if hi == lo {
			return 0, 0, false
		}
		kValues = append(kValues, 100*(closes[end-1]-lo)/(hi-lo))
	}

	k = kValues[len(kValues)-1]
	sum := 0.0
	for _, v := range kValues {
		sum += v
	}
	d = sum / float64(len(kValues))
	return k, d, true
}

// rollingHigh returns the strict max over the prior n closed bars, excluding
// the current bar.
func rollingHigh(closes []float64, n int) (float64, bool) {
	if len(closes) <= n {
		return 0, false
	}
	window := closes[len(closes)-1-n : len(closes)-1]
	hi := window[0]
	for _, v := range window {
		if v > hi {
			hi = v
		}
	}
	return hi, true
}

// rollingLow returns the strict min over the prior n closed bars, excluding
// the current bar.
func rollingLow(closes []float64, n int) (float64, bool) {
	if len(closes) <= n {
		return 0, false
	}
	window := closes[len(closes)-1-n : len(closes)-1]
	lo := window[0]
	for _, v := range window {
		if v < lo {
			lo = v
		}
	}
	return lo, true
}
