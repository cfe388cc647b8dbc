// Package events defines the typed events the ingest layer publishes and a
// bounded fan-out bus that delivers them to subscribers. Each subscriber owns its own bounded queue; a slow subscriber
// can never block ingest or any other subscriber — on overflow the oldest
// queued event is dropped and a counted warning is logged.
package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// EventType categorizes an Event for subscription filtering.
type EventType string

const (
	EventTypeBar        EventType = "bar"
	EventTypeTick       EventType = "tick"
	EventTypeSignal     EventType = "signal"
	EventTypeOrder      EventType = "order"
	EventTypeExecution  EventType = "execution"
	EventTypeRiskAlert  EventType = "risk_alert"
	EventTypePosition   EventType = "position"
	EventTypeStatus     EventType = "status"
)

// Event is the interface every published event satisfies.
type Event interface {
	GetType() EventType
	GetTimestamp() time.Time
	GetID() string
}

// BaseEvent carries the fields common to every event.
type BaseEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

func (e *BaseEvent) GetType() EventType      { return e.Type }
func (e *BaseEvent) GetTimestamp() time.Time { return e.Timestamp }
func (e *BaseEvent) GetID() string           { return e.ID }

var eventCounter atomic.Int64

// generateEventID returns a monotonic, collision-free event identifier. A
// counter is used instead of a timestamp string alone because multiple
// events can be generated within the same nanosecond under load.
func generateEventID() string {
	id := eventCounter.Add(1)
	return "evt_" + time.Now().UTC().Format("20060102150405.000000000") + "_" + itoa(id)
}

func itoa(i int64) string {
	if i == 0 {
		return "0"
	}
	var buf [20]byte
	pos := len(buf)
	neg := i < 0
	if neg {
		i = -i
	}
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}

func newBase(t EventType) BaseEvent {
	return BaseEvent{ID: generateEventID(), Type: t, Timestamp: time.Now().UTC()}
}

// BarEvent carries one closed or in-progress OHLCV bar.
type BarEvent struct {
	BaseEvent
	Instrument string          `json:"instrument"`
	OpenTimeMs int64           `json:"open_time_ms"`
	Open       decimal.Decimal `json:"open"`
	High       decimal.Decimal `json:"high"`
	Low        decimal.Decimal `json:"low"`
	Close      decimal.Decimal `json:"close"`
	Volume     decimal.Decimal `json:"volume"`
	IsClosed   bool            `json:"is_closed"`
}

// NewBarEvent wraps a bar for publication on the bus.
func NewBarEvent(instrument string, openTimeMs int64, open, high, low, close, volume decimal.Decimal, isClosed bool) *BarEvent {
	return &BarEvent{
		BaseEvent:  newBase(EventTypeBar),
		Instrument: instrument,
		OpenTimeMs: openTimeMs,
		Open:       open,
		High:       high,
		Low:        low,
		Close:      close,
		Volume:     volume,
		IsClosed:   isClosed,
	}
}

// TickEvent carries a book-ticker update (best bid/ask).
type TickEvent struct {
	BaseEvent
	Instrument string          `json:"instrument"`
	Bid        decimal.Decimal `json:"bid"`
	Ask        decimal.Decimal `json:"ask"`
}

// NewTickEvent wraps a book-ticker update for publication.
func NewTickEvent(instrument string, bid, ask decimal.Decimal) *TickEvent {
	return &TickEvent{BaseEvent: newBase(EventTypeTick), Instrument: instrument, Bid: bid, Ask: ask}
}

// SignalEvent carries a rule-engine decision. All money/price fields are
// decimal.Decimal end to end.
type SignalEvent struct {
	BaseEvent
	Instrument string          `json:"instrument"`
	Action     string          `json:"action"`
	Bias       decimal.Decimal `json:"bias"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	StopLoss   decimal.Decimal `json:"stop_loss"`
}

// NewSignalEvent wraps a signal decision for publication.
func NewSignalEvent(instrument, action string, bias, entryPrice, stopLoss decimal.Decimal) *SignalEvent {
	return &SignalEvent{
		BaseEvent:  newBase(EventTypeSignal),
		Instrument: instrument,
		Action:     action,
		Bias:       bias,
		EntryPrice: entryPrice,
		StopLoss:   stopLoss,
	}
}

// OrderEvent carries an order-lifecycle transition.
type OrderEvent struct {
	BaseEvent
	OrderID    string          `json:"order_id"`
	Instrument string          `json:"instrument"`
	Side       string          `json:"side"`
	Quantity   decimal.Decimal `json:"quantity"`
	Price      decimal.Decimal `json:"price"`
	Status     string          `json:"status"`
}

// NewOrderEvent wraps an order-lifecycle transition for publication.
func NewOrderEvent(orderID, instrument, side, status string, quantity, price decimal.Decimal) *OrderEvent {
	return &OrderEvent{
		BaseEvent:  newBase(EventTypeOrder),
		OrderID:    orderID,
		Instrument: instrument,
		Side:       side,
		Quantity:   quantity,
		Price:      price,
		Status:     status,
	}
}

// RiskAlertEvent carries a veto/reconciliation/kill-switch notice.
type RiskAlertEvent struct {
	BaseEvent
	Stage      string `json:"stage"`
	Severity   string `json:"severity"`
	Instrument string `json:"instrument,omitempty"`
	Message    string `json:"message"`
}

// NewRiskAlertEvent wraps a risk alert for publication.
func NewRiskAlertEvent(stage, severity, instrument, message string) *RiskAlertEvent {
	return &RiskAlertEvent{
		BaseEvent:  newBase(EventTypeRiskAlert),
		Stage:      stage,
		Severity:   severity,
		Instrument: instrument,
		Message:    message,
	}
}

// StatusEvent carries an orchestrator status-machine transition.
type StatusEvent struct {
	BaseEvent
	From   string `json:"from"`
	To     string `json:"to"`
	Reason string `json:"reason"`
}

// NewStatusEvent wraps a status transition for publication.
func NewStatusEvent(from, to, reason string) *StatusEvent {
	return &StatusEvent{BaseEvent: newBase(EventTypeStatus), From: from, To: to, Reason: reason}
}

// EventHandler processes one event; an error is logged but never aborts
// delivery to other subscribers.
type EventHandler func(event Event) error

// subscription owns one bounded per-sink queue and its drain goroutine.
type subscription struct {
	id        string
	eventType EventType // "" means "all types"
	handler   EventHandler
	queue     chan Event
	dropped   atomic.Int64
	active    atomic.Bool
}

// BusConfig configures queue sizing.
type BusConfig struct {
	SubscriberQueueSize int
}

// DefaultBusConfig returns the documented per-sink queue size.
func DefaultBusConfig() BusConfig {
	return BusConfig{SubscriberQueueSize: 1000}
}

// Bus fans out published events to independently-queued subscribers.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]*subscription
	all         []*subscription
	cfg         BusConfig
	logger      *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	published atomic.Int64
	dropped   atomic.Int64
}

// NewBus creates a Bus. Call Start before publishing.
func NewBus(logger *zap.Logger, cfg BusConfig) *Bus {
	if cfg.SubscriberQueueSize <= 0 {
		cfg.SubscriberQueueSize = 1000
	}
	return &Bus{
		subscribers: make(map[EventType][]*subscription),
		cfg:         cfg,
		logger:      logger,
	}
}

// Start begins accepting publishes. Subscriptions registered before Start
// have their drain goroutines launched here; subscriptions registered
// after Start launch immediately. Calling Start on a bus that has already
// been started has no effect.
func (b *Bus) Start(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ctx != nil {
		return
	}
	b.ctx, b.cancel = context.WithCancel(ctx)
	for _, subs := range b.subscribers {
		for _, s := range subs {
			b.launch(s)
		}
	}
	for _, s := range b.all {
		b.launch(s)
	}
}

func (b *Bus) launch(s *subscription) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			select {
			case <-b.ctx.Done():
				return
			case ev := <-s.queue:
				b.deliver(s, ev)
			}
		}
	}()
}

func (b *Bus) deliver(s *subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panic",
				zap.String("subscription_id", s.id),
				zap.String("event_type", string(ev.GetType())),
				zap.Any("panic", r),
			)
		}
	}()
	if err := s.handler(ev); err != nil {
		b.logger.Warn("event handler error",
			zap.String("subscription_id", s.id),
			zap.String("event_type", string(ev.GetType())),
			zap.Error(err),
		)
	}
}

var subCounter atomic.Int64

// Subscribe registers a handler for one event type.
func (b *Bus) Subscribe(eventType EventType, handler EventHandler) {
	s := &subscription{
		id:        "sub_" + itoa(subCounter.Add(1)),
		eventType: eventType,
		handler:   handler,
		queue:     make(chan Event, b.cfg.SubscriberQueueSize),
	}
	s.active.Store(true)

	b.mu.Lock()
	b.subscribers[eventType] = append(b.subscribers[eventType], s)
	running := b.ctx != nil
	b.mu.Unlock()

	if running {
		b.launch(s)
	}
}

// SubscribeAll registers a handler for every event type.
func (b *Bus) SubscribeAll(handler EventHandler) {
	s := &subscription{
		id:      "sub_" + itoa(subCounter.Add(1)),
		handler: handler,
		queue:   make(chan Event, b.cfg.SubscriberQueueSize),
	}
	s.active.Store(true)

	b.mu.Lock()
	b.all = append(b.all, s)
	running := b.ctx != nil
	b.mu.Unlock()

	if running {
		b.launch(s)
	}
}

// Publish enqueues an event on every matching subscriber's queue. A full
// queue drops its own oldest entry to make room, rather than dropping the
// new event or blocking the publisher.
func (b *Bus) Publish(event Event) {
	b.published.Add(1)

	b.mu.RLock()
	targets := append([]*subscription{}, b.subscribers[event.GetType()]...)
	targets = append(targets, b.all...)
	b.mu.RUnlock()

	for _, s := range targets {
		if !s.active.Load() {
			continue
		}
		b.enqueueDropOldest(s, event)
	}
}

func (b *Bus) enqueueDropOldest(s *subscription, event Event) {
	for {
		select {
		case s.queue <- event:
			return
		default:
		}
		select {
		case <-s.queue:
			s.dropped.Add(1)
			b.dropped.Add(1)
			b.logger.Warn("subscriber queue full, dropped oldest event",
				zap.String("subscription_id", s.id),
				zap.String("event_type", string(event.GetType())),
			)
		default:
			// Another goroutine drained it between the full-check and here; retry the send.
		}
	}
}

// Stats summarizes bus activity.
type Stats struct {
	Published int64
	Dropped   int64
}

// GetStats returns current publish/drop counters.
func (b *Bus) GetStats() Stats {
	return Stats{Published: b.published.Load(), Dropped: b.dropped.Load()}
}

// Stop cancels all drain goroutines and waits for them to exit.
func (b *Bus) Stop() {
	if b.cancel == nil {
		return
	}
	b.cancel()
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		b.logger.Warn("event bus shutdown timed out")
	}
}
