// Package veto_test provides tests for the ordered pre-trade veto chain.
package veto_test

import (
	"testing"

	"github.com/atlas-desktop/trading-backend/internal/veto"
	"github.com/atlas-desktop/trading-backend/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func freshState() *types.SystemState {
	return types.NewSystemState(decimal.NewFromInt(10000))
}

func TestEvaluateApprovesWithinAllLimits(t *testing.T) {
	c := veto.New(zap.NewNop(), veto.Limits{
		MaxPositionSize:   decimal.NewFromInt(1000),
		MaxPositions:      5,
		MaxDrawdownPct:    15,
		DailyLossLimitPct: 3,
	})

	result := c.Evaluate(veto.Proposal{ProposedNotional: decimal.NewFromInt(500)}, freshState())
	assert.True(t, result.Approved)
	assert.Empty(t, result.Stage)
}

func TestEvaluateRejectsOversizedPosition(t *testing.T) {
	c := veto.New(zap.NewNop(), veto.Limits{MaxPositionSize: decimal.NewFromInt(1000)})

	result := c.Evaluate(veto.Proposal{ProposedNotional: decimal.NewFromInt(1500)}, freshState())
	assert.False(t, result.Approved)
	assert.Equal(t, veto.StagePositionSize, result.Stage)
}

func TestEvaluateZeroMaxPositionSizeDisablesStage(t *testing.T) {
	c := veto.New(zap.NewNop(), veto.Limits{})

	result := c.Evaluate(veto.Proposal{ProposedNotional: decimal.NewFromInt(1_000_000)}, freshState())
	assert.True(t, result.Approved, "a zero MaxPositionSize means the stage is unconfigured, not zero tolerance")
}

func TestEvaluateRejectsAtMaxPositionCount(t *testing.T) {
	c := veto.New(zap.NewNop(), veto.Limits{MaxPositions: 2})

	state := freshState()
	state.Positions["BTCUSDT"] = &types.Position{Instrument: "BTCUSDT"}
	state.Positions["ETHUSDT"] = &types.Position{Instrument: "ETHUSDT"}

	result := c.Evaluate(veto.Proposal{}, state)
	assert.False(t, result.Approved)
	assert.Equal(t, veto.StageMaxPositions, result.Stage)
}

func TestEvaluateRejectsAtOrAboveDrawdownLimit(t *testing.T) {
	c := veto.New(zap.NewNop(), veto.Limits{MaxDrawdownPct: 10})

	state := freshState()
	state.CurrentDrawdownPct = decimal.NewFromFloat(10)

	result := c.Evaluate(veto.Proposal{}, state)
	assert.False(t, result.Approved)
	assert.Equal(t, veto.StageDrawdown, result.Stage)
}

func TestEvaluateRejectsAtOrBelowDailyLossLimit(t *testing.T) {
	c := veto.New(zap.NewNop(), veto.Limits{DailyLossLimitPct: 3})

	state := freshState()
	state.DailyPnLPct = decimal.NewFromFloat(-3)

	result := c.Evaluate(veto.Proposal{}, state)
	assert.False(t, result.Approved)
	assert.Equal(t, veto.StageDailyLoss, result.Stage)
}

func TestEvaluateStopsAtFirstFailingStage(t *testing.T) {
	// Both position-size and max-positions would fail; position_size runs
	// first in the ordering and must be the one reported.
	c := veto.New(zap.NewNop(), veto.Limits{
		MaxPositionSize: decimal.NewFromInt(100),
		MaxPositions:    1,
	})

	state := freshState()
	state.Positions["BTCUSDT"] = &types.Position{Instrument: "BTCUSDT"}

	result := c.Evaluate(veto.Proposal{ProposedNotional: decimal.NewFromInt(999)}, state)
	assert.Equal(t, veto.StagePositionSize, result.Stage)
}

func TestEvaluateWithinLimitsJustBelowThresholds(t *testing.T) {
	c := veto.New(zap.NewNop(), veto.Limits{MaxDrawdownPct: 10, DailyLossLimitPct: 3})

	state := freshState()
	state.CurrentDrawdownPct = decimal.NewFromFloat(9.99)
	state.DailyPnLPct = decimal.NewFromFloat(-2.99)

	result := c.Evaluate(veto.Proposal{}, state)
	assert.True(t, result.Approved)
}
