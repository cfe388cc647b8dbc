// Package feed implements the Market Data Ingest contract: one
// ordered typed-event stream per instrument, sharded across connections
// capped at 100 instruments each, with keep-alive, exponential-backoff
// reconnect, and bounded per-sink fan-out. The reference implementation
// streams from a Binance-style perpetuals venue via go-binance/v2/futures,
// whose combined-stream helpers wrap gorilla/websocket internally.
package feed

import (
	"sync"
	"sync/atomic"
	"time"

	futures "github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-backend/internal/events"
)

// PerConnectionCap is the maximum instrument count sharded onto one
// connection, to avoid server-side subscription limits.
const PerConnectionCap = 100

const (
	pingInterval      = 30 * time.Second
	pongTimeout       = 20 * time.Second
	backoffBase       = 5 * time.Second
	backoffCap        = 60 * time.Second
	maxReconnectTries = 10
)

// KlineHandler, BookTickerHandler, ErrHandler are the sink
// signatures callers register. Multiple sinks fan out in registration order via independently
// bounded, drop-oldest queues so a slow sink cannot block ingest.
type KlineHandler func(*events.BarEvent)
type BookTickerHandler func(*events.TickEvent)
type ErrHandler func(instrument string, err error)

// LatencyMetrics summarizes recent event-arrival latency.
type LatencyMetrics struct {
	Avg         time.Duration
	P95         time.Duration
	P99         time.Duration
	Max         time.Duration
	SampleCount int
}

// connState tracks one sharded connection's health.
type connState struct {
	instruments   []string
	lastEventAt   atomic.Int64 // unix nanos
	consecutiveFailures atomic.Int32
	stopC         chan struct{}
}

// Manager shards instrument subscriptions across connections and fans
// decoded events out to registered sinks.
type Manager struct {
	logger *zap.Logger

	mu          sync.RWMutex
	conns       []*connState
	klineSinks  []chan *events.BarEvent
	tickSinks   []chan *events.TickEvent
	errSinks    []ErrHandler

	latencyMu sync.Mutex
	latencies []time.Duration

	interval string
}

// New creates a Manager. interval is the kline interval to subscribe with
// (e.g. "1m").
func New(logger *zap.Logger, interval string) *Manager {
	return &Manager{logger: logger, interval: interval}
}

// OnKline registers a closed/in-progress bar sink with its own bounded,
// drop-oldest queue.
func (m *Manager) OnKline(h KlineHandler) {
	ch := make(chan *events.BarEvent, 1000)
	m.mu.Lock()
	m.klineSinks = append(m.klineSinks, ch)
	m.mu.Unlock()
	go func() {
		for ev := range ch {
			h(ev)
		}
	}()
}

// OnBookTicker registers a best-bid/ask sink.
func (m *Manager) OnBookTicker(h BookTickerHandler) {
	ch := make(chan *events.TickEvent, 1000)
	m.mu.Lock()
	m.tickSinks = append(m.tickSinks, ch)
	m.mu.Unlock()
	go func() {
		for ev := range ch {
			h(ev)
		}
	}()
}

// OnError registers an error sink.
func (m *Manager) OnError(h ErrHandler) {
	m.mu.Lock()
	m.errSinks = append(m.errSinks, h)
	m.mu.Unlock()
}

func dropOldestSendBar(ch chan *events.BarEvent, ev *events.BarEvent) {
	select {
	case ch <- ev:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- ev:
	default:
	}
}

func dropOldestSendTick(ch chan *events.TickEvent, ev *events.TickEvent) {
	select {
	case ch <- ev:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- ev:
	default:
	}
}

func (m *Manager) fanOutKline(ev *events.BarEvent) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, ch := range m.klineSinks {
		dropOldestSendBar(ch, ev)
	}
}

func (m *Manager) fanOutTick(ev *events.TickEvent) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, ch := range m.tickSinks {
		dropOldestSendTick(ch, ev)
	}
}

func (m *Manager) fanOutErr(instrument string, err error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, h := range m.errSinks {
		h(instrument, err)
	}
}

func (m *Manager) recordLatency(eventTimeMs, receivedMs int64) {
	lat := time.Duration(receivedMs-eventTimeMs) * time.Millisecond
	m.latencyMu.Lock()
	m.latencies = append(m.latencies, lat)
	if len(m.latencies) > 10000 {
		m.latencies = m.latencies[len(m.latencies)-10000:]
	}
	m.latencyMu.Unlock()
}

// Latency returns LatencyMetrics over the current sample window. The
// window holds at least 1,000 samples before the figures are
// considered meaningful; fewer samples are still returned, just noted via
// SampleCount.
func (m *Manager) Latency() LatencyMetrics {
	m.latencyMu.Lock()
	samples := append([]time.Duration{}, m.latencies...)
	m.latencyMu.Unlock()

	if len(samples) == 0 {
		return LatencyMetrics{}
	}

	sum := time.Duration(0)
	max := time.Duration(0)
	for _, s := range samples {
		sum += s
		if s > max {
			max = s
		}
	}

	sorted := append([]time.Duration{}, samples...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j-1] > sorted[j]; j-- {
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
		}
	}
	p95idx := int(float64(len(sorted)) * 0.95)
	p99idx := int(float64(len(sorted)) * 0.99)
	if p95idx >= len(sorted) {
		p95idx = len(sorted) - 1
	}
	if p99idx >= len(sorted) {
		p99idx = len(sorted) - 1
	}

	return LatencyMetrics{
		Avg:         sum / time.Duration(len(samples)),
		P95:         sorted[p95idx],
		P99:         sorted[p99idx],
		Max:         max,
		SampleCount: len(samples),
	}
}

// SubscribeKlines shards instruments across connections capped at
// PerConnectionCap and opens one combined kline stream per shard.
// Calls are not deduplicated: calling it again with an overlapping
// instrument set opens additional shards for those instruments rather
// than erroring.
func (m *Manager) SubscribeKlines(instruments []string) error {
	for start := 0; start < len(instruments); start += PerConnectionCap {
		end := start + PerConnectionCap
		if end > len(instruments) {
			end = len(instruments)
		}
		shard := instruments[start:end]
		cs := &connState{instruments: shard, stopC: make(chan struct{})}
		cs.lastEventAt.Store(time.Now().UnixNano())

		m.mu.Lock()
		m.conns = append(m.conns, cs)
		m.mu.Unlock()

		go m.runKlineShard(cs)
	}
	return nil
}

// SubscribeBookTicker opens a combined book-ticker stream for the given
// instruments, sharded the same way as klines.
func (m *Manager) SubscribeBookTicker(instruments []string) error {
	for start := 0; start < len(instruments); start += PerConnectionCap {
		end := start + PerConnectionCap
		if end > len(instruments) {
			end = len(instruments)
		}
		shard := instruments[start:end]
		cs := &connState{instruments: shard, stopC: make(chan struct{})}
		cs.lastEventAt.Store(time.Now().UnixNano())

		m.mu.Lock()
		m.conns = append(m.conns, cs)
		m.mu.Unlock()

		go m.runBookTickerShard(cs)
	}
	return nil
}

func (m *Manager) runKlineShard(cs *connState) {
	pairs := make(map[string]string, len(cs.instruments))
	for _, inst := range cs.instruments {
		pairs[inst] = m.interval
	}

	handler := func(event *futures.WsKlineEvent) {
		cs.lastEventAt.Store(time.Now().UnixNano())
		cs.consecutiveFailures.Store(0)
		m.recordLatency(event.Kline.StartTime, time.Now().UnixMilli())

		bar := events.NewBarEvent(
			event.Symbol,
			event.Kline.StartTime,
			parseDecimal(event.Kline.Open),
			parseDecimal(event.Kline.High),
			parseDecimal(event.Kline.Low),
			parseDecimal(event.Kline.Close),
			parseDecimal(event.Kline.Volume),
			event.Kline.IsFinal,
		)
		m.fanOutKline(bar)
	}

	errHandler := func(err error) {
		m.fanOutErr(joinInstruments(cs.instruments), err)
	}

	m.runWithReconnect(cs, func() (chan struct{}, chan struct{}, error) {
		return futures.WsCombinedKlineServe(pairs, handler, errHandler)
	})
}

func (m *Manager) runBookTickerShard(cs *connState) {
	handler := func(event *futures.WsBookTickerEvent) {
		cs.lastEventAt.Store(time.Now().UnixNano())
		cs.consecutiveFailures.Store(0)

		tick := events.NewTickEvent(event.Symbol, parseDecimal(event.BestBidPrice), parseDecimal(event.BestAskPrice))
		m.fanOutTick(tick)
	}

	errHandler := func(err error) {
		m.fanOutErr(joinInstruments(cs.instruments), err)
	}

	m.runWithReconnect(cs, func() (chan struct{}, chan struct{}, error) {
		return futures.WsCombinedBookTickerServe(cs.instruments, handler, errHandler)
	})
}

// runWithReconnect drives a single connection's lifecycle: start the
// stream, wait for it to close (error or remote close), then reconnect
// with exponential backoff, escalating after maxReconnectTries.
func (m *Manager) runWithReconnect(cs *connState, start func() (doneC, stopC chan struct{}, err error)) {
	backoff := backoffBase
	attempts := 0

	for {
		select {
		case <-cs.stopC:
			return
		default:
		}

		doneC, _, err := start()
		if err != nil {
			attempts++
			cs.consecutiveFailures.Add(1)
			m.fanOutErr(joinInstruments(cs.instruments), err)
			if attempts >= maxReconnectTries {
				m.logger.Error("market data shard exhausted reconnect attempts, escalating",
					zap.Strings("instruments", cs.instruments))
				return
			}
			time.Sleep(backoff)
			backoff = nextBackoff(backoff)
			continue
		}

		attempts = 0
		backoff = backoffBase
		<-doneC // blocks until the underlying connection closes
	}
}

func nextBackoff(current time.Duration) time.Duration {
	next := current * 2
	if next > backoffCap {
		next = backoffCap
	}
	return next
}

// Healthy reports whether every subscribed shard has received an event
// within the last 30s.
func (m *Manager) Healthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, cs := range m.conns {
		last := time.Unix(0, cs.lastEventAt.Load())
		if time.Since(last) > 30*time.Second {
			return false
		}
	}
	return true
}

func joinInstruments(instruments []string) string {
	if len(instruments) == 0 {
		return ""
	}
	out := instruments[0]
	for _, s := range instruments[1:] {
		out += "," + s
	}
	return out
}

// parseDecimal parses a venue-supplied numeric string, defaulting to zero
// on malformed input rather than failing the whole event (the venue is
// expected to send well-formed decimals; this guards against a stray
// empty field rather than a real parse failure mode).
func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
