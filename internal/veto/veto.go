// Package veto implements the ordered, short-circuiting pre-trade risk
// chain. The first failing stage terminates evaluation; it is
// the caller's responsibility to use a stage's adjusted quantity/price or
// abort, never the original proposal.
package veto

import (
	"github.com/atlas-desktop/trading-backend/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Stage names, in evaluation order.
const (
	StagePositionSize = "position_size"
	StageMaxPositions = "max_positions"
	StageCorrelation  = "correlation"
	StageDrawdown     = "drawdown"
	StageDailyLoss    = "daily_loss"
)

// Limits are the configured thresholds each stage enforces.
type Limits struct {
	MaxPositionSize        decimal.Decimal
	MaxPositions           int
	MaxCorrelationExposure decimal.Decimal
	MaxDrawdownPct         float64
	DailyLossLimitPct      float64
}

// Proposal is the candidate trade the chain evaluates.
type Proposal struct {
	Instrument      string
	ProposedNotional decimal.Decimal
	Quantity        decimal.Decimal
	Price           decimal.Decimal
}

// Chain runs the 5 ordered stages against a SystemState snapshot.
type Chain struct {
	logger *zap.Logger
	limits Limits
}

// New creates a Chain with the given limits.
func New(logger *zap.Logger, limits Limits) *Chain {
	return &Chain{logger: logger, limits: limits}
}

type stageFunc func(Proposal, *types.SystemState) *types.VetoResult

// Evaluate runs the proposal through each stage in order, stopping at the
// first that returns non-nil (a veto or an adjustment). Passing all stages
// returns approved=true.
func (c *Chain) Evaluate(p Proposal, state *types.SystemState) types.VetoResult {
	stages := []stageFunc{
		c.checkPositionSize,
		c.checkMaxPositions,
		c.checkCorrelation,
		c.checkDrawdown,
		c.checkDailyLoss,
	}

	for _, stage := range stages {
		if result := stage(p, state); result != nil {
			return *result
		}
	}

	return types.VetoResult{Approved: true}
}

func (c *Chain) checkPositionSize(p Proposal, _ *types.SystemState) *types.VetoResult {
	if c.limits.MaxPositionSize.IsZero() {
		return nil
	}
	if p.ProposedNotional.GreaterThan(c.limits.MaxPositionSize) {
		return &types.VetoResult{
			Approved: false,
			Stage:    StagePositionSize,
			Reason:   "proposed notional exceeds MAX_POSITION_SIZE",
		}
	}
	return nil
}

func (c *Chain) checkMaxPositions(_ Proposal, state *types.SystemState) *types.VetoResult {
	if c.limits.MaxPositions <= 0 {
		return nil
	}
	if len(state.Positions) >= c.limits.MaxPositions {
		return &types.VetoResult{
			Approved: false,
			Stage:    StageMaxPositions,
			Reason:   "open-position count at or above MAX_POSITIONS",
		}
	}
	return nil
}

// checkCorrelation is a placeholder predicate that always passes: the
// pairwise-correlation / sector-tag metric is an explicit open question in
// the source design; the stage exists so the ordering contract
// holds even though it never vetoes today.
func (c *Chain) checkCorrelation(_ Proposal, _ *types.SystemState) *types.VetoResult {
	return nil
}

func (c *Chain) checkDrawdown(_ Proposal, state *types.SystemState) *types.VetoResult {
	if c.limits.MaxDrawdownPct <= 0 {
		return nil
	}
	drawdownPct, _ := state.CurrentDrawdownPct.Float64()
	if drawdownPct >= c.limits.MaxDrawdownPct {
		return &types.VetoResult{
			Approved: false,
			Stage:    StageDrawdown,
			Reason:   "current drawdown at or above MAX_DRAWDOWN_PCT",
		}
	}
	return nil
}

func (c *Chain) checkDailyLoss(_ Proposal, state *types.SystemState) *types.VetoResult {
	if c.limits.DailyLossLimitPct <= 0 {
		return nil
	}
	dailyPnLPct, _ := state.DailyPnLPct.Float64()
	if dailyPnLPct <= -c.limits.DailyLossLimitPct {
		return &types.VetoResult{
			Approved: false,
			Stage:    StageDailyLoss,
			Reason:   "daily P&L at or below -DAILY_LOSS_LIMIT_PCT",
		}
	}
	return nil
}
