// Package orchestrator wires bar-close events through validation,
// buffering, features, regime, rules, sizing, veto, and order submission,
// and owns the RUNNING/DEGRADED/SAFE_MODE/HALTED status machine. It is a
// struct holding independent leaf components wired up in
// setupEventHandlers, started and stopped as a unit, with a background
// goroutine loop for the status predicates no single event triggers.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-backend/internal/buffer"
	"github.com/atlas-desktop/trading-backend/internal/events"
	"github.com/atlas-desktop/trading-backend/internal/feed"
	"github.com/atlas-desktop/trading-backend/internal/indicators"
	"github.com/atlas-desktop/trading-backend/internal/metrics"
	"github.com/atlas-desktop/trading-backend/internal/notify"
	"github.com/atlas-desktop/trading-backend/internal/orders"
	"github.com/atlas-desktop/trading-backend/internal/regime"
	"github.com/atlas-desktop/trading-backend/internal/rules"
	"github.com/atlas-desktop/trading-backend/internal/sizing"
	"github.com/atlas-desktop/trading-backend/internal/store"
	"github.com/atlas-desktop/trading-backend/internal/validator"
	"github.com/atlas-desktop/trading-backend/internal/venue"
	"github.com/atlas-desktop/trading-backend/internal/veto"
	"github.com/atlas-desktop/trading-backend/internal/workers"
	"github.com/atlas-desktop/trading-backend/pkg/types"
)

// BarCloseThrottle is the per-instrument minimum gap between accepted
// decisions, defending against replayed or duplicate bars.
const BarCloseThrottle = 1 * time.Second

// DecisionBudget bounds one bar-close decision end to end. A decision
// still unsubmitted when the budget expires is aborted, never partially
// submitted.
const DecisionBudget = 1 * time.Second

// DegradedClearHold is how long every degradation predicate must stay
// clear before DEGRADED reverts to RUNNING.
const DegradedClearHold = 1 * time.Minute

// MaxConsecutiveVenueFailures triggers SAFE_MODE.
const MaxConsecutiveVenueFailures = 5

// Config configures the orchestrator.
type Config struct {
	Instruments         []string
	LatencyBaseline     time.Duration
	RiskLimits          veto.Limits
	SizingConfig        sizing.Config
	RegimeConfig        regime.Config
	ActivationThreshold float64
	StrategyWeights     map[string]float64
}

// instrumentState tracks per-instrument decision bookkeeping.
type instrumentState struct {
	lastDecisionAt time.Time
	lastFeedAt     time.Time
}

// FeedManager is the subset of feed.Manager the orchestrator depends on
// for feed-health status predicates and latency reporting.
type FeedManager interface {
	Healthy() bool
	Latency() feed.LatencyMetrics
}

// Orchestrator is the central bar-close pipeline and status machine.
type Orchestrator struct {
	logger *zap.Logger
	cfg    Config

	bus        *events.Bus
	barCheck   *validator.Validator
	bars       *buffer.Store
	regimeCls  *regime.Classifier
	ruleEngine *rules.Engine
	sizer      *sizing.Sizer
	vetoChain  *veto.Chain
	orderMgr   *orders.Manager
	feed       FeedManager
	notifySink *notify.Sink
	stateStore *store.Store
	workerPool *workers.Pool

	mu                       sync.Mutex
	state                    *types.SystemState
	instruments              map[string]*instrumentState
	consecutiveVenueFailures int
	degradedClearSince       time.Time
	lastP95Latency           time.Duration

	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New constructs an Orchestrator from its component dependencies. Filters
// should already have been fetched once via venue.Adapter.ExchangeInfo.
func New(
	logger *zap.Logger,
	cfg Config,
	bus *events.Bus,
	orderMgr *orders.Manager,
	feedMgr FeedManager,
	notifySink *notify.Sink,
	stateStore *store.Store,
	workerPool *workers.Pool,
	startingEquity decimal.Decimal,
) *Orchestrator {
	o := &Orchestrator{
		logger:      logger.Named("orchestrator"),
		cfg:         cfg,
		bus:         bus,
		barCheck:    validator.New(),
		bars:        buffer.New(),
		regimeCls:   regime.New(logger, cfg.RegimeConfig),
		ruleEngine:  rules.New(),
		sizer:       sizing.New(cfg.SizingConfig),
		vetoChain:   veto.New(logger, cfg.RiskLimits),
		orderMgr:    orderMgr,
		feed:        feedMgr,
		notifySink:  notifySink,
		stateStore:  stateStore,
		workerPool:  workerPool,
		instruments: make(map[string]*instrumentState),
	}
	o.state = stateStore.Load(startingEquity)
	o.state.Limits = types.RiskLimits{
		DailyLossLimitPct: cfg.RiskLimits.DailyLossLimitPct,
		MaxDrawdownPct:    cfg.RiskLimits.MaxDrawdownPct,
	}
	// Configuration seeds the adaptive block; the decision path reads it
	// back from state so runtime adjustments survive restart.
	o.state.Adaptive = types.AdaptiveParameters{
		StrategyWeights:     cfg.StrategyWeights,
		StopATRMultiplier:   cfg.SizingConfig.StopATRMultiplier,
		ActivationThreshold: cfg.ActivationThreshold,
	}
	if o.state.Adaptive.StrategyWeights == nil {
		o.state.Adaptive.StrategyWeights = make(map[string]float64)
	}
	for _, inst := range cfg.Instruments {
		o.instruments[inst] = &instrumentState{lastFeedAt: time.Now()}
	}
	o.setupEventHandlers()
	return o
}

// setupEventHandlers wires the bar-close pipeline onto the event bus. The
// bus delivers each subscriber's events from a single drain goroutine, so
// per-instrument decisions are naturally serialized: no interleaving
// decision for the same instrument can begin before this one commits or
// aborts.
func (o *Orchestrator) setupEventHandlers() {
	o.bus.Subscribe(events.EventTypeBar, func(e events.Event) error {
		bar, ok := e.(*events.BarEvent)
		if !ok {
			return nil
		}
		o.handleBar(bar)
		return nil
	})
}

// Start launches the event bus (if not already running), reconciles
// against the venue, and starts the background housekeeping loop.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return fmt.Errorf("orchestrator already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.running = true
	o.mu.Unlock()

	o.bus.Start(runCtx)

	reconCtx, reconCancel := context.WithTimeout(runCtx, 30*time.Second)
	o.Reconcile(reconCtx)
	reconCancel()

	o.wg.Add(1)
	go o.degradationWatchLoop(runCtx)

	o.logger.Info("orchestrator started", zap.Int("instruments", len(o.cfg.Instruments)))
	return nil
}

// Stop halts the orchestrator's background loops and persists final state.
func (o *Orchestrator) Stop() error {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return nil
	}
	o.running = false
	cancel := o.cancel
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	o.wg.Wait()
	o.bus.Stop()

	o.mu.Lock()
	state := o.state
	o.mu.Unlock()
	if err := o.stateStore.Save(state); err != nil {
		o.logger.Error("failed to persist state on shutdown", zap.Error(err))
	}
	return nil
}

// handleBar validates and buffers every incoming bar, then runs the
// decision pipeline for closed bars that pass the per-instrument
// throttle.
func (o *Orchestrator) handleBar(bar *events.BarEvent) {
	o.mu.Lock()
	inst, ok := o.instruments[bar.Instrument]
	if !ok {
		inst = &instrumentState{}
		o.instruments[bar.Instrument] = inst
	}
	inst.lastFeedAt = time.Now()
	o.mu.Unlock()

	b := &types.Bar{
		Instrument: bar.Instrument,
		OpenTimeMs: bar.OpenTimeMs,
		Open:       bar.Open,
		High:       bar.High,
		Low:        bar.Low,
		Close:      bar.Close,
		Volume:     bar.Volume,
		IsClosed:   bar.IsClosed,
	}
	if res := o.barCheck.Check(b); !res.Accepted {
		o.logger.Debug("bar rejected by validator",
			zap.String("instrument", bar.Instrument),
			zap.String("reason", res.Reason))
		return
	}
	if !bar.IsClosed {
		return
	}
	o.bars.Append(b)

	o.mu.Lock()
	if o.state.Status == types.StatusHalted || o.state.Status == types.StatusSafeMode {
		o.mu.Unlock()
		return
	}
	if !inst.lastDecisionAt.IsZero() && time.Since(inst.lastDecisionAt) < BarCloseThrottle {
		o.mu.Unlock()
		metrics.RecordBarCloseThrottled(bar.Instrument)
		return
	}
	o.mu.Unlock()

	// An under-populated buffer short-circuits silently and does not count
	// as an accepted decision for throttling purposes.
	if !o.bars.Ready(bar.Instrument) {
		return
	}

	o.mu.Lock()
	inst.lastDecisionAt = time.Now()
	o.mu.Unlock()

	o.decide(bar)
}

// decide runs the bar-close pipeline: features, regime, rules, then entry
// or exit handling depending on the signal action.
func (o *Orchestrator) decide(bar *events.BarEvent) {
	decisionStart := time.Now()

	// 1. Refresh FeatureMap and Regime; update SystemState.current_regime.
	fm := indicators.Compute(bar.Instrument, o.bars.Snapshot(bar.Instrument))
	r := o.regimeCls.Classify(bar.Instrument, fm)

	o.mu.Lock()
	prevRegime, hadPrev := o.state.CurrentRegime[bar.Instrument]
	o.state.CurrentRegime[bar.Instrument] = r
	state := o.state
	o.mu.Unlock()
	if !hadPrev || prevRegime != r {
		metrics.RecordRegimeTransition(bar.Instrument)
	}

	// The protective stop lives on the venue; in dry-run there is no venue
	// holding one, so stop execution is emulated from the bar close.
	if o.stopHitInDryRun(bar) {
		o.handleClose(bar, state)
		metrics.DecisionLatency.WithLabelValues(bar.Instrument).Observe(time.Since(decisionStart).Seconds())
		return
	}

	// 2. Ask the Rule Engine for a Signal.
	sig := o.ruleEngine.Evaluate(bar.Instrument, fm, r, state.Adaptive.ActivationThreshold, state.Adaptive.StrategyWeights)
	o.bus.Publish(events.NewSignalEvent(bar.Instrument, string(sig.Action), decimal.NewFromFloat(sig.Bias), sig.SuggestedPrice, decimal.Zero))

	switch sig.Action {
	case types.ActionProposeLong, types.ActionProposeShort:
		o.handleEntryProposal(bar, sig, state, decisionStart)
	case types.ActionClose:
		o.handleClose(bar, state)
	case types.ActionNeutral:
		// no-op
	}
	metrics.DecisionLatency.WithLabelValues(bar.Instrument).Observe(time.Since(decisionStart).Seconds())
}

// handleEntryProposal implements step 3 of the pipeline: size, veto,
// submit, commit.
func (o *Orchestrator) handleEntryProposal(bar *events.BarEvent, sig types.Signal, state *types.SystemState, decisionStart time.Time) {
	filters, ok := o.orderMgr.FiltersFor(bar.Instrument)
	if !ok {
		o.logger.Warn("no filter metadata for instrument, skipping signal", zap.String("instrument", bar.Instrument))
		return
	}

	result, err := o.sizer.Size(state.Equity, sig.ATRSnapshot, sig.SuggestedPrice, sizing.InstrumentFilters{
		LotStep:     filters.LotStep,
		TickSize:    filters.TickSize,
		MinQuantity: filters.MinQuantity,
	})
	if err != nil {
		o.logger.Info("position sizing rejected signal", zap.String("instrument", bar.Instrument), zap.Error(err))
		return
	}

	proposal := veto.Proposal{
		Instrument:       bar.Instrument,
		ProposedNotional: result.PositionValue,
		Quantity:         result.Quantity,
		Price:            result.Price,
	}
	vr := o.vetoChain.Evaluate(proposal, state)
	if !vr.Approved {
		o.logger.Info("signal vetoed",
			zap.String("instrument", bar.Instrument),
			zap.String("stage", vr.Stage),
			zap.String("reason", vr.Reason))
		metrics.RecordVetoRejection(vr.Stage)
		o.notifySink.Send(notify.Message{
			Priority: notify.PriorityWarning,
			Title:    "trade vetoed",
			Details:  map[string]string{"instrument": bar.Instrument, "stage": vr.Stage, "reason": vr.Reason},
		})
		o.bus.Publish(events.NewRiskAlertEvent(vr.Stage, "warning", bar.Instrument, vr.Reason))
		return
	}
	// A stage may approve with an adjustment; the adjusted values replace
	// the proposal, never the other way around.
	if vr.AdjustedQuantity != nil {
		result.Quantity = *vr.AdjustedQuantity
	}
	if vr.AdjustedPrice != nil {
		result.Price = *vr.AdjustedPrice
	}

	if time.Since(decisionStart) > DecisionBudget {
		o.logger.Warn("decision budget exceeded before submission, aborting",
			zap.String("instrument", bar.Instrument),
			zap.Duration("elapsed", time.Since(decisionStart)))
		return
	}

	fill, err := o.orderMgr.EnterPosition(context.Background(), bar.Instrument, sig.Action, result, result.StopDistance, sig.SuggestedPrice)
	if err != nil {
		o.recordVenueFailure(err)
		return
	}
	o.consecutiveVenueFailuresReset()
	metrics.RecordOrderSubmitted(bar.Instrument, string(fill.Side))
	o.bus.Publish(events.NewOrderEvent(fill.EntryOrderID, fill.Instrument, string(fill.Side), "filled", fill.Quantity, fill.EntryPrice))

	if fill.SlippageAlert {
		o.notifySink.Send(notify.Message{
			Priority: notify.PriorityWarning,
			Title:    "slippage exceeded threshold",
			Details:  map[string]string{"instrument": bar.Instrument, "slippage_pct": fill.SlippagePct.String()},
		})
	}

	o.mu.Lock()
	o.state.Positions[bar.Instrument] = &types.Position{
		Instrument:    bar.Instrument,
		Side:          fill.Side,
		Quantity:      fill.Quantity,
		EntryPrice:    fill.EntryPrice,
		CurrentPrice:  fill.EntryPrice,
		StopLoss:      fill.StopPrice,
		EntryTime:     time.Now().UTC(),
		RegimeAtEntry: sig.RegimeAtEmit.Directional,
	}
	o.state.Counters.TotalTrades++
	stateSnapshot := o.state
	o.mu.Unlock()

	o.persistState(stateSnapshot, "entry")
}

// stopHitInDryRun reports whether the bar close crossed the open
// position's stop level while running without a venue to execute it.
func (o *Orchestrator) stopHitInDryRun(bar *events.BarEvent) bool {
	if !o.orderMgr.DryRun() {
		return false
	}
	o.mu.Lock()
	pos, ok := o.state.Positions[bar.Instrument]
	o.mu.Unlock()
	if !ok || pos.StopLoss.IsZero() {
		return false
	}
	if pos.Side == types.PositionSideLong {
		return bar.Close.LessThanOrEqual(pos.StopLoss)
	}
	return bar.Close.GreaterThanOrEqual(pos.StopLoss)
}

// handleClose implements step 4: submit a market exit for an open
// position and realize its P&L into equity.
func (o *Orchestrator) handleClose(bar *events.BarEvent, state *types.SystemState) {
	o.mu.Lock()
	pos, exists := state.Positions[bar.Instrument]
	o.mu.Unlock()
	if !exists {
		return
	}

	exitFill, err := o.orderMgr.ExitPosition(context.Background(), bar.Instrument, pos, bar.Close)
	if err != nil {
		o.recordVenueFailure(err)
		return
	}
	o.consecutiveVenueFailuresReset()
	metrics.RecordOrderSubmitted(bar.Instrument, string(exitFill.Side))
	o.bus.Publish(events.NewOrderEvent(exitFill.EntryOrderID, bar.Instrument, string(exitFill.Side), "closed", exitFill.Quantity, exitFill.EntryPrice))

	o.mu.Lock()
	o.applyRealizedPnL(pos, exitFill.EntryPrice)
	delete(o.state.Positions, bar.Instrument)
	stateSnapshot := o.state
	o.mu.Unlock()

	o.persistState(stateSnapshot, "close")
}

// applyRealizedPnL folds one closed position's P&L into equity, the daily
// totals, peak equity, and the drawdown figure. Caller holds o.mu.
func (o *Orchestrator) applyRealizedPnL(pos *types.Position, exitPrice decimal.Decimal) {
	pnl := exitPrice.Sub(pos.EntryPrice).Mul(pos.Quantity)
	if pos.Side == types.PositionSideShort {
		pnl = pnl.Neg()
	}

	st := o.state
	st.Equity = st.Equity.Add(pnl)
	st.DailyPnL = st.DailyPnL.Add(pnl)
	if base := st.Equity.Sub(st.DailyPnL); base.IsPositive() {
		st.DailyPnLPct = st.DailyPnL.Div(base).Mul(decimal.NewFromInt(100))
	}
	if st.Equity.GreaterThan(st.PeakEquity) {
		st.PeakEquity = st.Equity
	}
	if st.PeakEquity.IsPositive() {
		st.CurrentDrawdownPct = st.PeakEquity.Sub(st.Equity).Div(st.PeakEquity).Mul(decimal.NewFromInt(100))
	}

	if pnl.IsPositive() {
		st.Counters.WinningTrades++
	} else if pnl.IsNegative() {
		st.Counters.LosingTrades++
	}
}

// persistState writes state through the store, retrying once. A second
// failure marks the system DEGRADED and pages, but trading continues.
func (o *Orchestrator) persistState(state *types.SystemState, after string) {
	err := o.stateStore.Save(state)
	if err == nil {
		return
	}
	o.logger.Warn("state persistence failed, retrying once", zap.String("after", after), zap.Error(err))
	if err := o.stateStore.Save(state); err != nil {
		o.logger.Error("state persistence failed twice", zap.String("after", after), zap.Error(err))
		o.notifySink.Send(notify.Message{
			Priority: notify.PriorityCritical,
			Title:    "state persistence failing",
			Details:  map[string]string{"after": after, "error": err.Error()},
		})
		o.mu.Lock()
		status := o.state.Status
		o.mu.Unlock()
		// Never demote SAFE_MODE or HALTED to DEGRADED over a storage fault.
		if status == types.StatusRunning {
			o.transitionTo(types.StatusDegraded, "state persistence failing")
		}
	}
}

func (o *Orchestrator) recordVenueFailure(err error) {
	o.logger.Error("order submission failed", zap.Error(err))

	if vErr, ok := err.(*venue.Error); ok {
		switch vErr.Kind {
		case venue.ErrorAuthentication:
			o.notifySink.Send(notify.Message{
				Priority: notify.PriorityCritical,
				Title:    "venue authentication failure",
			})
			o.transitionTo(types.StatusSafeMode, "venue authentication failure")
			return
		case venue.ErrorReject:
			// A filter violation or margin reject aborts this decision only;
			// the system stays RUNNING and the failure streak is untouched.
			o.notifySink.Send(notify.Message{
				Priority: notify.PriorityError,
				Title:    "venue rejected order",
				Details:  map[string]string{"error": vErr.Message},
			})
			return
		}
	}

	o.mu.Lock()
	o.consecutiveVenueFailures++
	fails := o.consecutiveVenueFailures
	o.mu.Unlock()
	if fails >= MaxConsecutiveVenueFailures {
		o.transitionTo(types.StatusSafeMode, "5 consecutive venue API failures")
	}
}

func (o *Orchestrator) consecutiveVenueFailuresReset() {
	o.mu.Lock()
	o.consecutiveVenueFailures = 0
	o.mu.Unlock()
}

// Reconcile fetches venue positions and merges them into SystemState:
// called at startup and on operator-triggered resumes. Any mismatch pages
// and is resolved by adopting the venue's view; if the venue cannot even
// be queried the system goes to SAFE_MODE instead.
func (o *Orchestrator) Reconcile(ctx context.Context) {
	o.reconcile(ctx)
}

// reconcile is Reconcile, reporting whether the venue could be queried.
func (o *Orchestrator) reconcile(ctx context.Context) bool {
	o.mu.Lock()
	positions := make(map[string]*types.Position, len(o.state.Positions))
	for k, v := range o.state.Positions {
		positions[k] = v
	}
	o.mu.Unlock()

	mismatches, err := o.orderMgr.Reconcile(ctx, positions)
	if err != nil {
		o.logger.Error("reconciliation fetch failed", zap.Error(err))
		o.transitionTo(types.StatusSafeMode, "reconciliation mismatch unresolved")
		return false
	}
	if mismatches.Empty() {
		return true
	}

	o.notifySink.Send(notify.Message{
		Priority: notify.PriorityCritical,
		Title:    "position reconciliation mismatch",
		Details: map[string]string{
			"local_only":        fmt.Sprint(mismatches.LocalOnly),
			"venue_only":        fmt.Sprint(mismatches.VenueOnly),
			"quantity_mismatch": fmt.Sprint(mismatches.QuantityMismatch),
		},
	})

	o.mu.Lock()
	o.state.Positions = mismatches.VenueView
	stateSnapshot := o.state
	o.mu.Unlock()
	o.logger.Warn("adopted venue position view after mismatch",
		zap.Int("positions", len(mismatches.VenueView)))

	o.persistState(stateSnapshot, "reconciliation")
	return true
}

// transitionTo moves the status machine to a new state, publishing a
// StatusEvent and persisting immediately.
func (o *Orchestrator) transitionTo(next types.SystemStatus, reason string) {
	o.mu.Lock()
	prev := o.state.Status
	if prev == next {
		o.mu.Unlock()
		return
	}
	o.state.Status = next
	state := o.state
	o.mu.Unlock()

	o.logger.Warn("status transition", zap.String("from", string(prev)), zap.String("to", string(next)), zap.String("reason", reason))
	o.bus.Publish(events.NewStatusEvent(string(prev), string(next), reason))
	metrics.RecordStatusTransition(string(prev), string(next))

	if next == types.StatusSafeMode || next == types.StatusHalted {
		o.notifySink.Send(notify.Message{
			Priority: notify.PriorityCritical,
			Title:    reason,
			Details:  map[string]string{"from": string(prev), "to": string(next)},
		})
	}
	if next == types.StatusHalted {
		o.closeAllPositions()
	}

	if err := o.stateStore.Save(state); err != nil {
		o.logger.Error("failed to persist state after status transition", zap.Error(err))
	}
}

// closeAllPositions flattens every open position on a HALTED transition.
// The exits run on the worker pool: HALTED must stop accepting decisions
// immediately, not after N venue round-trips.
func (o *Orchestrator) closeAllPositions() {
	o.mu.Lock()
	positions := make([]*types.Position, 0, len(o.state.Positions))
	for _, p := range o.state.Positions {
		positions = append(positions, p)
	}
	o.mu.Unlock()

	for _, pos := range positions {
		pos := pos
		if err := o.workerPool.SubmitFunc(func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			fill, err := o.orderMgr.ExitPosition(ctx, pos.Instrument, pos, pos.CurrentPrice)
			if err != nil {
				return err
			}
			o.mu.Lock()
			o.applyRealizedPnL(pos, fill.EntryPrice)
			delete(o.state.Positions, pos.Instrument)
			stateSnapshot := o.state
			o.mu.Unlock()
			o.persistState(stateSnapshot, "halt close")
			return nil
		}); err != nil {
			o.logger.Error("failed to submit halt-close", zap.String("instrument", pos.Instrument), zap.Error(err))
		}
	}
}

// degradationWatchLoop evaluates the status-transition predicates that
// are not directly triggered by an event (feed silence, drawdown, daily
// loss, latency recovery hold) on a steady tick.
func (o *Orchestrator) degradationWatchLoop(ctx context.Context) {
	defer o.wg.Done()
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.evaluateStatusPredicates()
		}
	}
}

func (o *Orchestrator) evaluateStatusPredicates() {
	o.mu.Lock()
	limits := o.state.Limits
	drawdownFloat, _ := o.state.CurrentDrawdownPct.Float64()
	dailyPnLFloat, _ := o.state.DailyPnLPct.Float64()
	status := o.state.Status
	equityFloat, _ := o.state.Equity.Float64()
	openPositions := len(o.state.Positions)
	o.mu.Unlock()

	metrics.Equity.Set(equityFloat)
	metrics.OpenPositions.Set(float64(openPositions))

	lat := o.feed.Latency()
	metrics.FeedLatency.WithLabelValues("p95").Set(lat.P95.Seconds())
	metrics.FeedLatency.WithLabelValues("p99").Set(lat.P99.Seconds())
	metrics.FeedLatency.WithLabelValues("max").Set(lat.Max.Seconds())
	o.mu.Lock()
	o.lastP95Latency = lat.P95
	o.mu.Unlock()

	if limits.MaxDrawdownPct > 0 && drawdownFloat >= limits.MaxDrawdownPct {
		o.transitionTo(types.StatusHalted, "current drawdown at or beyond MAX_DRAWDOWN_PCT")
		return
	}
	if limits.DailyLossLimitPct > 0 && dailyPnLFloat <= -limits.DailyLossLimitPct {
		o.transitionTo(types.StatusHalted, "daily loss at or beyond DAILY_LOSS_LIMIT_PCT")
		return
	}

	if status == types.StatusHalted || status == types.StatusSafeMode {
		// Only an operator brings the system back from these.
		return
	}

	if !o.feed.Healthy() {
		o.transitionTo(types.StatusSafeMode, "no feed for over 30s")
		return
	}

	if status == types.StatusDegraded {
		o.evaluateDegradedRecovery()
		return
	}
	if status == types.StatusRunning {
		o.evaluateDegradation()
	}
}

func (o *Orchestrator) latencyDegraded() bool {
	o.mu.Lock()
	p95 := o.lastP95Latency
	o.mu.Unlock()
	return o.cfg.LatencyBaseline > 0 && p95 > 2*o.cfg.LatencyBaseline
}

func (o *Orchestrator) evaluateDegradation() {
	if o.latencyDegraded() {
		o.transitionTo(types.StatusDegraded, "latency p95 exceeded 2x baseline")
	}
}

func (o *Orchestrator) evaluateDegradedRecovery() {
	degraded := o.latencyDegraded()
	o.mu.Lock()
	if degraded {
		o.degradedClearSince = time.Time{}
		o.mu.Unlock()
		return
	}
	if o.degradedClearSince.IsZero() {
		o.degradedClearSince = time.Now()
		o.mu.Unlock()
		return
	}
	clearedFor := time.Since(o.degradedClearSince)
	o.mu.Unlock()

	if clearedFor >= DegradedClearHold {
		o.transitionTo(types.StatusRunning, "degradation predicates cleared for 1 minute")
	}
}

// KillSwitch forces an immediate HALTED transition. Operator-triggered only.
func (o *Orchestrator) KillSwitch() {
	o.transitionTo(types.StatusHalted, "explicit kill-switch")
}

// Resume is the operator-triggered transition back to RUNNING from
// SAFE_MODE or HALTED. The venue is reconciled first; if the venue cannot
// be queried the system does not return to RUNNING (Reconcile leaves it in
// SAFE_MODE).
func (o *Orchestrator) Resume(ctx context.Context) {
	if !o.reconcile(ctx) {
		return
	}
	o.mu.Lock()
	status := o.state.Status
	o.mu.Unlock()
	if status == types.StatusSafeMode || status == types.StatusHalted {
		o.transitionTo(types.StatusRunning, "operator resume")
	}
}

// Snapshot returns a copy of the current SystemState for the API layer.
func (o *Orchestrator) Snapshot() types.SystemState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return *o.state
}
