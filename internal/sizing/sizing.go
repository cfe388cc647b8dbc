// Package sizing implements the volatility-scaled "N-unit" position sizer:
// risk a fixed fraction of equity per trade, scaled by a
// multiple of ATR, then rounded to the instrument's venue precision.
package sizing

import (
	"errors"

	"github.com/shopspring/decimal"
)

// ErrQuantityTooSmall is returned when the rounded quantity falls below the
// instrument's minimum tradable size.
var ErrQuantityTooSmall = errors.New("QUANTITY_TOO_SMALL")

// InstrumentFilters are the venue-side precision constraints fetched once at
// startup and cached by the order manager.
type InstrumentFilters struct {
	LotStep     decimal.Decimal
	TickSize    decimal.Decimal
	MinQuantity decimal.Decimal
}

// Config holds the sizer's risk parameters.
type Config struct {
	RiskPerTradePct     float64
	StopATRMultiplier   float64
	MinPositionNotional decimal.Decimal
	MaxPositionNotional decimal.Decimal
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		RiskPerTradePct:     1.0,
		StopATRMultiplier:   2.0,
		MinPositionNotional: decimal.NewFromInt(5),
		MaxPositionNotional: decimal.NewFromInt(1000),
	}
}

// Sizer computes a venue-rounded quantity from equity, ATR, and price.
type Sizer struct {
	cfg Config
}

// New creates a Sizer with the given config.
func New(cfg Config) *Sizer {
	return &Sizer{cfg: cfg}
}

// Result is the sizer's output for one proposal.
type Result struct {
	Quantity       decimal.Decimal
	Price          decimal.Decimal
	PositionValue  decimal.Decimal
	StopDistance   decimal.Decimal
}

// Size computes the position size for a proposed entry at the given price,
// using the current ATR and account equity. Returns
// ErrQuantityTooSmall if the rounded quantity falls below the instrument
// minimum, or if stop_distance <= 0 (no risk-bearing ATR available).
func (s *Sizer) Size(equity, atr, price decimal.Decimal, filters InstrumentFilters) (Result, error) {
	riskPct := decimal.NewFromFloat(s.cfg.RiskPerTradePct / 100)
	riskAmount := equity.Mul(riskPct)

	stopMultiplier := decimal.NewFromFloat(s.cfg.StopATRMultiplier)
	stopDistance := atr.Mul(stopMultiplier)

	if stopDistance.LessThanOrEqual(decimal.Zero) {
		return Result{}, ErrQuantityTooSmall
	}

	positionValue := riskAmount.Div(stopDistance)
	if positionValue.LessThan(s.cfg.MinPositionNotional) {
		return Result{}, ErrQuantityTooSmall
	}
	if positionValue.GreaterThan(s.cfg.MaxPositionNotional) {
		positionValue = s.cfg.MaxPositionNotional
	}

	if price.LessThanOrEqual(decimal.Zero) {
		return Result{}, ErrQuantityTooSmall
	}
	quantityRaw := positionValue.Div(price)

	quantity := roundDown(quantityRaw, filters.LotStep)
	roundedPrice := roundToTick(price, filters.TickSize)

	if quantity.LessThan(filters.MinQuantity) {
		return Result{}, ErrQuantityTooSmall
	}

	return Result{
		Quantity:      quantity,
		Price:         roundedPrice,
		PositionValue: positionValue,
		StopDistance:  stopDistance,
	}, nil
}

// roundDown rounds value down to the nearest multiple of step. A zero step
// means no venue precision constraint is configured.
func roundDown(value, step decimal.Decimal) decimal.Decimal {
	if step.LessThanOrEqual(decimal.Zero) {
		return value
	}
	units := value.Div(step).Floor()
	return units.Mul(step)
}

// roundToTick rounds value to the nearest multiple of tick (round-half-up).
// A zero tick means no venue precision constraint is configured.
func roundToTick(value, tick decimal.Decimal) decimal.Decimal {
	if tick.LessThanOrEqual(decimal.Zero) {
		return value
	}
	units := value.Div(tick).Round(0)
	return units.Mul(tick)
}
