// Package validator_test provides tests for bar validation.
package validator_test

import (
	"math"
	"testing"

	"github.com/atlas-desktop/trading-backend/internal/validator"
	"github.com/atlas-desktop/trading-backend/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func validBar(instrument string, openTimeMs int64) *types.Bar {
	return &types.Bar{
		Instrument: instrument,
		OpenTimeMs: openTimeMs,
		Open:       decimal.NewFromInt(100),
		High:       decimal.NewFromInt(105),
		Low:        decimal.NewFromInt(95),
		Close:      decimal.NewFromInt(102),
		Volume:     decimal.NewFromInt(10),
		IsClosed:   true,
	}
}

func TestCheckFloatsRejectsNaNAndInf(t *testing.T) {
	assert.False(t, validator.CheckFloats(math.NaN(), 1, 1, 1, 1).Accepted)
	assert.False(t, validator.CheckFloats(1, math.Inf(1), 1, 1, 1).Accepted)
	assert.False(t, validator.CheckFloats(1, 1, math.Inf(-1), 1, 1).Accepted)
	assert.True(t, validator.CheckFloats(1, 2, 0.5, 1.5, 10).Accepted)
}

func TestCheckRejectsNilBar(t *testing.T) {
	v := validator.New()
	assert.False(t, v.Check(nil).Accepted)
}

func TestCheckAcceptsWellFormedBar(t *testing.T) {
	v := validator.New()
	result := v.Check(validBar("BTCUSDT", 1000))
	assert.True(t, result.Accepted)
}

func TestCheckRejectsHighBelowLow(t *testing.T) {
	v := validator.New()
	b := validBar("BTCUSDT", 1000)
	b.High = decimal.NewFromInt(90)
	result := v.Check(b)
	assert.False(t, result.Accepted)
	assert.Contains(t, result.Reason, "high")
}

func TestCheckRejectsCloseOutsideRange(t *testing.T) {
	v := validator.New()
	b := validBar("BTCUSDT", 1000)
	b.Close = decimal.NewFromInt(200)
	assert.False(t, v.Check(b).Accepted)
}

func TestCheckRejectsHighBelowMaxOpenClose(t *testing.T) {
	v := validator.New()
	b := validBar("BTCUSDT", 1000)
	b.Open = decimal.NewFromInt(110)
	b.High = decimal.NewFromInt(105)
	assert.False(t, v.Check(b).Accepted)
}

func TestCheckRejectsNegativeVolume(t *testing.T) {
	v := validator.New()
	b := validBar("BTCUSDT", 1000)
	b.Volume = decimal.NewFromInt(-1)
	assert.False(t, v.Check(b).Accepted)
}

func TestCheckRejectsNonIncreasingOpenTimeForClosedBars(t *testing.T) {
	v := validator.New()
	assert.True(t, v.Check(validBar("BTCUSDT", 1000)).Accepted)
	assert.False(t, v.Check(validBar("BTCUSDT", 1000)).Accepted, "duplicate open-time must be rejected")
	assert.False(t, v.Check(validBar("BTCUSDT", 500)).Accepted, "out-of-order open-time must be rejected")
	assert.True(t, v.Check(validBar("BTCUSDT", 2000)).Accepted)
}

func TestCheckAllowsUnclosedBarsWithoutOrderingConstraint(t *testing.T) {
	v := validator.New()
	b := validBar("BTCUSDT", 1000)
	b.IsClosed = false
	assert.True(t, v.Check(b).Accepted)

	b2 := validBar("BTCUSDT", 500)
	b2.IsClosed = false
	assert.True(t, v.Check(b2).Accepted, "unclosed bars do not advance or enforce the ordering watermark")
}

func TestCheckTracksOrderingIndependentlyPerInstrument(t *testing.T) {
	v := validator.New()
	assert.True(t, v.Check(validBar("BTCUSDT", 1000)).Accepted)
	assert.True(t, v.Check(validBar("ETHUSDT", 1)).Accepted)
}
