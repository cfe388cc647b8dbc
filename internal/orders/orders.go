// Package orders implements the Order Manager: given an
// approved Signal, submits a market entry and a protective stop on the
// venue, rounds to the instrument's filter metadata, and runs a
// post-fill slippage check. Dry-run mode returns synthetic fills without
// a venue call.
package orders

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-backend/internal/sizing"
	"github.com/atlas-desktop/trading-backend/internal/venue"
	"github.com/atlas-desktop/trading-backend/pkg/types"
)

// MaxSlippagePct is the default slippage-warning threshold.
const MaxSlippagePct = 0.001

// venueCallTimeout bounds each individual venue call; a timeout counts as
// one transient failure toward the retry budget.
const venueCallTimeout = 10 * time.Second

// transientBackoff is the wait schedule between retries of a transient
// venue failure. Exhausting it aborts the submission.
var transientBackoff = []time.Duration{
	1 * time.Second,
	2 * time.Second,
	4 * time.Second,
	8 * time.Second,
	16 * time.Second,
}

// VenueClient is the subset of venue.Adapter the manager depends on,
// so a dry-run or test double can stand in without a real connection.
type VenueClient interface {
	NewOrder(ctx context.Context, instrument string, side venue.OrderSide, typ venue.OrderType, qty, price, stopPrice decimal.Decimal) (venue.OrderResult, error)
	CancelOrder(ctx context.Context, instrument, orderID string) error
	Positions(ctx context.Context) ([]venue.Position, error)
}

// Config configures the Manager.
type Config struct {
	DryRun         bool
	MaxSlippagePct float64
}

// DefaultConfig returns live-trading defaults.
func DefaultConfig() Config {
	return Config{DryRun: false, MaxSlippagePct: MaxSlippagePct}
}

// Fill is the outcome of a submitted entry (market order) plus its
// protective stop.
type Fill struct {
	Instrument    string
	Side          types.PositionSide
	Quantity      decimal.Decimal
	EntryPrice    decimal.Decimal
	StopPrice     decimal.Decimal
	EntryOrderID  string
	StopOrderID   string
	SlippagePct   decimal.Decimal
	SlippageAlert bool
}

// Manager submits entries, protective stops, and exits, and tracks
// instrument filter metadata fetched once at startup.
type Manager struct {
	logger  *zap.Logger
	client  VenueClient
	cfg     Config

	mu      sync.RWMutex
	filters map[string]venue.InstrumentFilters
}

// New creates a Manager. filters should be populated via SetFilters once
// from venue.Adapter.ExchangeInfo at startup.
func New(logger *zap.Logger, client VenueClient, cfg Config) *Manager {
	return &Manager{
		logger:  logger,
		client:  client,
		cfg:     cfg,
		filters: make(map[string]venue.InstrumentFilters),
	}
}

// DryRun reports whether the manager is in synthetic-fill mode.
func (m *Manager) DryRun() bool {
	return m.cfg.DryRun
}

// SetFilters installs the instrument filter metadata cache.
func (m *Manager) SetFilters(filters []venue.InstrumentFilters) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range filters {
		m.filters[f.Instrument] = f
	}
}

func (m *Manager) filterFor(instrument string) (venue.InstrumentFilters, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.filters[instrument]
	return f, ok
}

// FiltersFor returns the cached filter metadata for an instrument, for
// callers (the orchestrator's sizer step) that need it ahead of order
// submission.
func (m *Manager) FiltersFor(instrument string) (venue.InstrumentFilters, bool) {
	return m.filterFor(instrument)
}

// EnterPosition submits a market entry at sizer-computed quantity/price,
// then a protective stop at entry ± ATR·stop_atr_multiplier.
// quoteMid is the current bid/ask midpoint used for the post-fill
// slippage check.
func (m *Manager) EnterPosition(ctx context.Context, instrument string, action types.SignalAction, result sizing.Result, stopDistance decimal.Decimal, quoteMid decimal.Decimal) (Fill, error) {
	if action != types.ActionProposeLong && action != types.ActionProposeShort {
		return Fill{}, fmt.Errorf("orders: EnterPosition called with non-entry action %q", action)
	}

	side := types.PositionSideLong
	venueSide := venue.SideBuy
	if action == types.ActionProposeShort {
		side = types.PositionSideShort
		venueSide = venue.SideSell
	}

	if m.cfg.DryRun {
		return m.syntheticFill(instrument, side, result, stopDistance)
	}

	entryRes, err := m.submitOrder(ctx, instrument, venueSide, venue.TypeMarket, result.Quantity, decimal.Zero, decimal.Zero)
	if err != nil {
		return Fill{}, fmt.Errorf("submit entry: %w", err)
	}

	stopPrice := stopPriceFor(side, entryRes.FillPrice, stopDistance)
	if f, ok := m.filterFor(instrument); ok && f.TickSize.IsPositive() {
		stopPrice = stopPrice.Div(f.TickSize).Round(0).Mul(f.TickSize)
	}
	stopSide := venue.SideSell
	if side == types.PositionSideShort {
		stopSide = venue.SideBuy
	}

	stopRes, err := m.submitOrder(ctx, instrument, stopSide, venue.TypeStopMarket, result.Quantity, decimal.Zero, stopPrice)
	if err != nil {
		m.logger.Error("protective stop submission failed after entry fill",
			zap.String("instrument", instrument), zap.Error(err))
		return Fill{}, fmt.Errorf("submit protective stop: %w", err)
	}

	fill := Fill{
		Instrument:   instrument,
		Side:         side,
		Quantity:     result.Quantity,
		EntryPrice:   entryRes.FillPrice,
		StopPrice:    stopPrice,
		EntryOrderID: entryRes.OrderID,
		StopOrderID:  stopRes.OrderID,
	}
	m.checkSlippage(&fill, quoteMid)
	return fill, nil
}

// ExitPosition submits a market order in the opposite direction of the
// open position to flatten it.
func (m *Manager) ExitPosition(ctx context.Context, instrument string, pos *types.Position, quoteMid decimal.Decimal) (Fill, error) {
	side := venue.SideSell
	if pos.Side == types.PositionSideShort {
		side = venue.SideBuy
	}

	if m.cfg.DryRun {
		return Fill{
			Instrument:   instrument,
			Side:         pos.Side,
			Quantity:     pos.Quantity,
			EntryPrice:   quoteMid,
			EntryOrderID: syntheticOrderID(),
		}, nil
	}

	res, err := m.submitOrder(ctx, instrument, side, venue.TypeMarket, pos.Quantity, decimal.Zero, decimal.Zero)
	if err != nil {
		return Fill{}, fmt.Errorf("submit exit: %w", err)
	}

	fill := Fill{
		Instrument:   instrument,
		Side:         pos.Side,
		Quantity:     pos.Quantity,
		EntryPrice:   res.FillPrice,
		EntryOrderID: res.OrderID,
	}
	m.checkSlippage(&fill, quoteMid)
	return fill, nil
}

// submitOrder issues one venue order with a per-attempt timeout, retrying
// transient failures on the backoff schedule. Authentication failures and
// rejects are returned to the caller on the first occurrence.
func (m *Manager) submitOrder(ctx context.Context, instrument string, side venue.OrderSide, typ venue.OrderType, qty, price, stopPrice decimal.Decimal) (venue.OrderResult, error) {
	for attempt := 0; ; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, venueCallTimeout)
		res, err := m.client.NewOrder(callCtx, instrument, side, typ, qty, price, stopPrice)
		cancel()
		if err == nil {
			return res, nil
		}

		var vErr *venue.Error
		transient := errors.As(err, &vErr) && vErr.Kind == venue.ErrorTransient
		if !transient || attempt >= len(transientBackoff) {
			return venue.OrderResult{}, err
		}

		wait := transientBackoff[attempt]
		m.logger.Warn("transient venue failure, retrying",
			zap.String("instrument", instrument),
			zap.Duration("backoff", wait),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return venue.OrderResult{}, ctx.Err()
		case <-time.After(wait):
		}
	}
}

// syntheticFill returns a dry-run fill at the submission price, without
// issuing any venue call.
func (m *Manager) syntheticFill(instrument string, side types.PositionSide, result sizing.Result, stopDistance decimal.Decimal) (Fill, error) {
	stopPrice := stopPriceFor(side, result.Price, stopDistance)
	return Fill{
		Instrument:   instrument,
		Side:         side,
		Quantity:     result.Quantity,
		EntryPrice:   result.Price,
		StopPrice:    stopPrice,
		EntryOrderID: syntheticOrderID(),
		StopOrderID:  syntheticOrderID(),
	}, nil
}

func syntheticOrderID() string {
	return "dry-" + uuid.NewString()
}

func stopPriceFor(side types.PositionSide, entry, stopDistance decimal.Decimal) decimal.Decimal {
	if side == types.PositionSideLong {
		return entry.Sub(stopDistance)
	}
	return entry.Add(stopDistance)
}

// checkSlippage compares the realized fill against the quote mid at
// submission time and flags (but never reverses) trades that deviate
// beyond the configured threshold.
func (m *Manager) checkSlippage(fill *Fill, quoteMid decimal.Decimal) {
	if quoteMid.IsZero() {
		return
	}
	deviation := fill.EntryPrice.Sub(quoteMid).Abs().Div(quoteMid)
	deviationFloat, _ := deviation.Float64()
	fill.SlippagePct = deviation

	threshold := m.cfg.MaxSlippagePct
	if threshold <= 0 {
		threshold = MaxSlippagePct
	}
	if deviationFloat > threshold {
		fill.SlippageAlert = true
		m.logger.Warn("fill slippage exceeded threshold",
			zap.String("instrument", fill.Instrument),
			zap.Float64("slippage_pct", deviationFloat),
			zap.Float64("threshold_pct", threshold))
	}
}

// Reconcile fetches venue positions and compares them against the local
// position map. The returned Mismatches carry the venue's view so the
// orchestrator can adopt it when the two disagree; this package only
// detects the mismatch, it does not decide the system-status response.
// In dry-run mode the venue is never queried and the local view is
// authoritative by definition.
func (m *Manager) Reconcile(ctx context.Context, state map[string]*types.Position) (Mismatches, error) {
	if m.cfg.DryRun {
		return Mismatches{VenueView: state}, nil
	}

	venuePositions, err := m.client.Positions(ctx)
	if err != nil {
		return Mismatches{}, fmt.Errorf("fetch venue positions: %w", err)
	}

	venueByInstrument := make(map[string]venue.Position, len(venuePositions))
	for _, p := range venuePositions {
		venueByInstrument[p.Instrument] = p
	}

	mismatches := Mismatches{VenueView: make(map[string]*types.Position, len(venuePositions))}
	for instrument, vp := range venueByInstrument {
		side := types.PositionSideLong
		if vp.Side == "SHORT" || vp.Quantity.IsNegative() {
			side = types.PositionSideShort
		}
		pos := &types.Position{
			Instrument:   instrument,
			Side:         side,
			Quantity:     vp.Quantity.Abs(),
			EntryPrice:   vp.EntryPrice,
			CurrentPrice: vp.EntryPrice,
		}
		// Local bookkeeping (stops, entry time, strategy) survives adoption
		// when the venue agrees on the instrument.
		if local, ok := state[instrument]; ok {
			pos.StopLoss = local.StopLoss
			pos.TakeProfit = local.TakeProfit
			pos.EntryTime = local.EntryTime
			pos.Strategy = local.Strategy
			pos.RegimeAtEntry = local.RegimeAtEntry
		}
		mismatches.VenueView[instrument] = pos
	}

	for instrument, local := range state {
		venuePos, ok := venueByInstrument[instrument]
		if !ok {
			mismatches.LocalOnly = append(mismatches.LocalOnly, instrument)
			continue
		}
		if !venuePos.Quantity.Abs().Equal(local.Quantity) {
			mismatches.QuantityMismatch = append(mismatches.QuantityMismatch, instrument)
		}
	}
	for instrument := range venueByInstrument {
		if _, ok := state[instrument]; !ok {
			mismatches.VenueOnly = append(mismatches.VenueOnly, instrument)
		}
	}
	return mismatches, nil
}

// Mismatches reports reconciliation discrepancies between local
// SystemState and the venue's reported positions, along with the venue's
// full position view for adoption.
type Mismatches struct {
	LocalOnly        []string
	VenueOnly        []string
	QuantityMismatch []string
	VenueView        map[string]*types.Position
}

// Empty reports whether no discrepancies were found.
func (m Mismatches) Empty() bool {
	return len(m.LocalOnly) == 0 && len(m.VenueOnly) == 0 && len(m.QuantityMismatch) == 0
}
