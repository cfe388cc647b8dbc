// Package regime classifies each instrument's directional and volatility
// regime from the indicator feature map. Classification is
// deterministic: threshold crossings on ADX/EMA and ATR%, debounced by a
// per-instrument consecutive-bar hysteresis counter rather than any
// probabilistic model.
package regime

import (
	"sync"

	"github.com/atlas-desktop/trading-backend/pkg/types"
	"go.uber.org/zap"
)

// Config holds the threshold parameters for both regime axes.
type Config struct {
	ADXTrendThreshold   float64 // ADX above this, for BullBearConfirmBars bars, confirms BULL/BEAR
	ADXRangeThreshold   float64 // ADX below this, for RangeConfirmBars bars, confirms RANGE
	BullBearConfirmBars int
	RangeConfirmBars    int

	VolatilityLowATRPct  float64 // ATR_PCT below this => LOW
	VolatilityHighATRPct float64 // ATR_PCT above this => HIGH
}

// DefaultConfig returns the documented default thresholds.
func DefaultConfig() Config {
	return Config{
		ADXTrendThreshold:    25,
		ADXRangeThreshold:    20,
		BullBearConfirmBars:  3,
		RangeConfirmBars:     5,
		VolatilityLowATRPct:  0.5,
		VolatilityHighATRPct: 1.5,
	}
}

// hysteresis tracks consecutive-bar run lengths for one instrument's
// directional classification.
type hysteresis struct {
	trendRun int
	trendUp  bool // direction of the current trend run (EMA20 above EMA50)
	rangeRun int
	current  types.DirectionalRegime
}

// Classifier produces Regime values per instrument with hysteresis state
// held between calls.
type Classifier struct {
	mu     sync.Mutex
	logger *zap.Logger
	cfg    Config
	state  map[string]*hysteresis
}

// New creates a Classifier with the given config.
func New(logger *zap.Logger, cfg Config) *Classifier {
	return &Classifier{
		logger: logger,
		cfg:    cfg,
		state:  make(map[string]*hysteresis),
	}
}

// Classify derives the Regime for an instrument from its current feature
// map. Directional classification requires ADX14, EMA20, and EMA50 to be
// present; volatility classification requires ATR_PCT. A missing
// directional input returns the last confirmed directional regime
// (RegimeUnknown before any confirmation) and resets both confirmation
// runs; a missing ATR_PCT leaves the volatility band empty.
func (c *Classifier) Classify(instrument string, fm types.FeatureMap) types.Regime {
	c.mu.Lock()
	defer c.mu.Unlock()

	h, ok := c.state[instrument]
	if !ok {
		h = &hysteresis{current: types.RegimeUnknown}
		c.state[instrument] = h
	}

	directional := c.classifyDirectional(h, fm)
	volatility := c.classifyVolatility(fm)

	return types.Regime{Directional: directional, Volatility: volatility}
}

func (c *Classifier) classifyDirectional(h *hysteresis, fm types.FeatureMap) types.DirectionalRegime {
	adx, adxOK := fm.Get(types.FeatureADX14)
	ema20, ema20OK := fm.Get(types.FeatureEMA20)
	ema50, ema50OK := fm.Get(types.FeatureEMA50)

	if !adxOK || !ema20OK || !ema50OK {
		h.trendRun = 0
		h.rangeRun = 0
		return h.current
	}

	switch {
	case adx > c.cfg.ADXTrendThreshold:
		up := ema20 > ema50
		if h.trendRun > 0 && h.trendUp == up {
			h.trendRun++
		} else {
			h.trendRun = 1
			h.trendUp = up
		}
		h.rangeRun = 0

		if h.trendRun >= c.cfg.BullBearConfirmBars {
			if up {
				h.current = types.RegimeBull
			} else {
				h.current = types.RegimeBear
			}
		}

	case adx < c.cfg.ADXRangeThreshold:
		h.rangeRun++
		h.trendRun = 0

		if h.rangeRun >= c.cfg.RangeConfirmBars {
			h.current = types.RegimeRange
		}

	default:
		// Between the two thresholds: neither confirmation run advances.
		h.trendRun = 0
		h.rangeRun = 0
	}

	return h.current
}

func (c *Classifier) classifyVolatility(fm types.FeatureMap) types.VolatilityRegime {
	atrPct, ok := fm.Get(types.FeatureATRPct)
	if !ok {
		return ""
	}
	switch {
	case atrPct < c.cfg.VolatilityLowATRPct:
		return types.VolatilityLow
	case atrPct > c.cfg.VolatilityHighATRPct:
		return types.VolatilityHigh
	default:
		return types.VolatilityNormal
	}
}
