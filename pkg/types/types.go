// Package types provides shared type definitions for the trading engine.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide represents buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderType represents the type of order the venue accepts.
type OrderType string

const (
	OrderTypeMarket     OrderType = "market"
	OrderTypeStopMarket OrderType = "stop_market"
)

// OrderStatus represents the status of an order.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusRejected  OrderStatus = "rejected"
)

// PositionSide represents long or short position.
type PositionSide string

const (
	PositionSideLong  PositionSide = "LONG"
	PositionSideShort PositionSide = "SHORT"
)

// SignalAction is the action a Signal proposes.
type SignalAction string

const (
	ActionProposeLong  SignalAction = "PROPOSE_LONG"
	ActionProposeShort SignalAction = "PROPOSE_SHORT"
	ActionNeutral      SignalAction = "NEUTRAL"
	ActionClose        SignalAction = "CLOSE"
)

// DirectionalRegime is the directional market regime classification.
type DirectionalRegime string

const (
	RegimeBull    DirectionalRegime = "BULL"
	RegimeBear    DirectionalRegime = "BEAR"
	RegimeRange   DirectionalRegime = "RANGE"
	RegimeUnknown DirectionalRegime = "UNKNOWN"
)

// VolatilityRegime is the independent volatility-band classification.
type VolatilityRegime string

const (
	VolatilityLow    VolatilityRegime = "LOW"
	VolatilityNormal VolatilityRegime = "NORMAL"
	VolatilityHigh   VolatilityRegime = "HIGH"
)

// RuleClass groups rules for the sideways (RANGE) filter.
type RuleClass string

const (
	RuleClassTrend         RuleClass = "TREND"
	RuleClassMeanReversion RuleClass = "MEAN_REVERSION"
	RuleClassBreakout      RuleClass = "BREAKOUT"
	RuleClassCombo         RuleClass = "COMBO"
)

// SystemStatus is the orchestrator's operational state machine.
type SystemStatus string

const (
	StatusRunning  SystemStatus = "RUNNING"
	StatusDegraded SystemStatus = "DEGRADED"
	StatusSafeMode SystemStatus = "SAFE_MODE"
	StatusHalted   SystemStatus = "HALTED"
)

// Bar is a single closed or in-progress OHLCV candle for one instrument.
type Bar struct {
	Instrument string          `json:"instrument"`
	OpenTimeMs int64           `json:"open_time_ms"`
	Open       decimal.Decimal `json:"open"`
	High       decimal.Decimal `json:"high"`
	Low        decimal.Decimal `json:"low"`
	Close      decimal.Decimal `json:"close"`
	Volume     decimal.Decimal `json:"volume"`
	IsClosed   bool            `json:"is_closed"`
}

// FeatureMap holds the named scalar outputs of the indicator engine for one
// instrument's bar-close. Missing indicators (insufficient samples, a zero
// close for ATR_PCT, a zero high-low range for the stochastic) are simply
// absent from the map, never zero-valued.
type FeatureMap struct {
	Instrument string
	Values     map[string]float64
}

// Get returns a feature value and whether it was present.
func (f FeatureMap) Get(name string) (float64, bool) {
	v, ok := f.Values[name]
	return v, ok
}

// Feature names produced by the indicator engine.
const (
	FeatureRSI14        = "RSI14"
	FeatureADX14        = "ADX14"
	FeatureEMA20        = "EMA20"
	FeatureEMA50        = "EMA50"
	FeatureATR14        = "ATR14"
	FeatureATRPct       = "ATR_PCT"
	FeatureBBUpper      = "BB_UPPER"
	FeatureBBMid        = "BB_MID"
	FeatureBBLower      = "BB_LOWER"
	FeatureStochK       = "STOCH_K"
	FeatureStochD       = "STOCH_D"
	FeatureHigh20       = "HIGH_20"
	FeatureLow20        = "LOW_20"
	FeatureHigh55       = "HIGH_55"
	FeatureLow55        = "LOW_55"
	FeatureBreakoutUp20 = "BREAKOUT_UP_20"
	FeatureBreakoutDn20 = "BREAKOUT_DN_20"
	FeatureBreakoutUp55 = "BREAKOUT_UP_55"
	FeatureBreakoutDn55 = "BREAKOUT_DN_55"
	FeatureVolumeSMA20  = "VOLUME_SMA20"
	FeatureClose        = "CLOSE"
	FeatureVolume       = "VOLUME"
)

// Regime is the pair of independent regime outputs for an instrument.
type Regime struct {
	Directional DirectionalRegime `json:"directional"`
	Volatility  VolatilityRegime  `json:"volatility"`
}

// Signal is the output of the Rule Engine + Bias Aggregator for one
// instrument's bar-close decision.
type Signal struct {
	Instrument      string          `json:"instrument"`
	Action          SignalAction    `json:"action"`
	Bias            float64         `json:"bias"`
	Confidence      float64         `json:"confidence"`
	ContributingIDs []string        `json:"contributing_rules"`
	RegimeAtEmit    Regime          `json:"regime_at_emission"`
	ATRSnapshot     decimal.Decimal `json:"atr_snapshot"`
	SuggestedPrice  decimal.Decimal `json:"suggested_price"`
	EmittedAt       time.Time       `json:"emitted_at"`
}

// VetoResult is the outcome of running a Signal through the pre-trade veto chain.
type VetoResult struct {
	Approved         bool             `json:"approved"`
	Stage            string           `json:"stage,omitempty"`
	Reason           string           `json:"reason,omitempty"`
	AdjustedQuantity *decimal.Decimal `json:"adjusted_quantity,omitempty"`
	AdjustedPrice    *decimal.Decimal `json:"adjusted_price,omitempty"`
}

// Position is an open position tracked inside SystemState.
type Position struct {
	Instrument    string            `json:"instrument"`
	Side          PositionSide      `json:"side"`
	Quantity      decimal.Decimal   `json:"quantity"`
	EntryPrice    decimal.Decimal   `json:"entry_price"`
	CurrentPrice  decimal.Decimal   `json:"current_price"`
	UnrealizedPnL decimal.Decimal   `json:"unrealized_pnl"`
	StopLoss      decimal.Decimal   `json:"stop_loss,omitempty"`
	TakeProfit    decimal.Decimal   `json:"take_profit,omitempty"`
	EntryTime     time.Time         `json:"entry_time"`
	Strategy      string            `json:"strategy"`
	RegimeAtEntry DirectionalRegime `json:"regime_at_entry"`
}

// AdaptiveParameters are the runtime-tunable parameters SystemState carries.
type AdaptiveParameters struct {
	StrategyWeights     map[string]float64 `json:"strategy_weights"`
	StopATRMultiplier   float64            `json:"stop_atr_multiplier"`
	ActivationThreshold float64            `json:"activation_threshold"`
}

// RiskLimits are the configured hard limits enforced by the veto chain.
type RiskLimits struct {
	DailyLossLimitPct float64 `json:"daily_loss_limit_pct"`
	MaxDrawdownPct    float64 `json:"max_drawdown_pct"`
}

// TradeCounters tracks simple trade statistics persisted with SystemState.
type TradeCounters struct {
	TotalTrades   int `json:"total_trades"`
	WinningTrades int `json:"winning_trades"`
	LosingTrades  int `json:"losing_trades"`
}

// SystemState is the single logical document owned exclusively by the
// orchestrator. It is the only mutable shared
// state in the engine; every other component receives a read-only snapshot.
type SystemState struct {
	Status             SystemStatus         `json:"status"`
	CurrentRegime      map[string]Regime    `json:"current_regime"`
	Equity             decimal.Decimal      `json:"equity"`
	PeakEquity         decimal.Decimal      `json:"peak_equity"`
	CurrentDrawdownPct decimal.Decimal      `json:"current_drawdown_pct"`
	DailyPnL           decimal.Decimal      `json:"daily_pnl"`
	DailyPnLPct        decimal.Decimal      `json:"daily_pnl_pct"`
	Positions          map[string]*Position `json:"positions"`
	Adaptive           AdaptiveParameters   `json:"adaptive_parameters"`
	Limits             RiskLimits           `json:"risk_limits"`
	Counters           TradeCounters        `json:"trade_counters"`
	UpdatedAt          time.Time            `json:"updated_at"`
}

// NewSystemState returns a fresh SystemState with the given starting equity,
// used both at first boot and whenever persistence load fails.
func NewSystemState(startingEquity decimal.Decimal) *SystemState {
	return &SystemState{
		Status:         StatusRunning,
		CurrentRegime:  make(map[string]Regime),
		Equity:         startingEquity,
		PeakEquity:     startingEquity,
		DailyPnL:       decimal.Zero,
		DailyPnLPct:    decimal.Zero,
		Positions:      make(map[string]*Position),
		Adaptive: AdaptiveParameters{
			StrategyWeights:     make(map[string]float64),
			StopATRMultiplier:   2.0,
			ActivationThreshold: 0.7,
		},
		UpdatedAt: time.Now().UTC(),
	}
}
