// Package validator filters malformed or out-of-order bars before any
// stateful component sees them.
package validator

import (
	"math"

	"github.com/atlas-desktop/trading-backend/pkg/types"
	"github.com/shopspring/decimal"
)

// Result is the outcome of validating one bar.
type Result struct {
	Accepted bool
	Reason   string
}

// Validator rejects bars that violate the OHLCV invariants or arrive
// out of order relative to the last accepted closed bar for that instrument.
type Validator struct {
	lastOpenTimeMs map[string]int64
}

// New creates a Validator with no prior history.
func New() *Validator {
	return &Validator{lastOpenTimeMs: make(map[string]int64)}
}

// CheckFloats rejects a raw market-data record's float64 OHLCV fields before
// they are converted to decimal.Decimal, since decimal.Decimal cannot itself
// represent NaN or Inf and the contamination must be caught at the boundary.
func CheckFloats(open, high, low, close, volume float64) Result {
	for _, f := range []float64{open, high, low, close, volume} {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return Result{Accepted: false, Reason: "null/NaN field"}
		}
	}
	return Result{Accepted: true}
}

// Check validates a single closed-or-open bar against the OHLCV invariants:
// H >= max(O,C), L <= min(O,C), non-negative volume, and strictly increasing
// open-time per instrument for closed bars.
func (v *Validator) Check(b *types.Bar) Result {
	if b == nil {
		return Result{Accepted: false, Reason: "nil bar"}
	}
	if b.High.LessThan(b.Low) {
		return Result{Accepted: false, Reason: "high < low"}
	}
	if b.Close.LessThan(b.Low) || b.Close.GreaterThan(b.High) {
		return Result{Accepted: false, Reason: "close outside [low,high]"}
	}
	if b.High.LessThan(decimal.Max(b.Open, b.Close)) {
		return Result{Accepted: false, Reason: "high below max(open,close)"}
	}
	if b.Low.GreaterThan(decimal.Min(b.Open, b.Close)) {
		return Result{Accepted: false, Reason: "low above min(open,close)"}
	}
	if b.Volume.IsNegative() {
		return Result{Accepted: false, Reason: "negative volume"}
	}
	if b.IsClosed {
		if last, ok := v.lastOpenTimeMs[b.Instrument]; ok && b.OpenTimeMs <= last {
			return Result{Accepted: false, Reason: "open-time not strictly increasing"}
		}
		v.lastOpenTimeMs[b.Instrument] = b.OpenTimeMs
	}
	return Result{Accepted: true}
}
