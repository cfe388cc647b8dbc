// Package events_test provides tests for the bounded fan-out event bus.
package events_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/atlas-desktop/trading-backend/internal/events"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestBus(t *testing.T) *events.Bus {
	t.Helper()
	bus := events.NewBus(zap.NewNop(), events.BusConfig{SubscriberQueueSize: 4})
	bus.Start(context.Background())
	t.Cleanup(bus.Stop)
	return bus
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition was never satisfied")
}

func TestSubscribeReceivesMatchingEventType(t *testing.T) {
	bus := newTestBus(t)

	var mu sync.Mutex
	var received []events.Event
	bus.Subscribe(events.EventTypeBar, func(ev events.Event) error {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, ev)
		return nil
	})

	bus.Publish(events.NewBarEvent("BTCUSDT", 1, decimal.Zero, decimal.Zero, decimal.Zero, decimal.Zero, decimal.Zero, true))
	bus.Publish(events.NewTickEvent("BTCUSDT", decimal.Zero, decimal.Zero))

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, events.EventTypeBar, received[0].GetType())
}

func TestSubscribeAllReceivesEveryEventType(t *testing.T) {
	bus := newTestBus(t)

	var count int
	var mu sync.Mutex
	bus.SubscribeAll(func(ev events.Event) error {
		mu.Lock()
		defer mu.Unlock()
		count++
		return nil
	})

	bus.Publish(events.NewBarEvent("BTCUSDT", 1, decimal.Zero, decimal.Zero, decimal.Zero, decimal.Zero, decimal.Zero, true))
	bus.Publish(events.NewTickEvent("BTCUSDT", decimal.Zero, decimal.Zero))
	bus.Publish(events.NewStatusEvent("RUNNING", "DEGRADED", "test"))

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 3
	})
}

func TestPublishDropsOldestOnFullQueue(t *testing.T) {
	bus := events.NewBus(zap.NewNop(), events.BusConfig{SubscriberQueueSize: 2})

	blocked := make(chan struct{})
	unblock := make(chan struct{})
	var handled int
	var mu sync.Mutex

	bus.Subscribe(events.EventTypeStatus, func(ev events.Event) error {
		mu.Lock()
		handled++
		first := handled == 1
		mu.Unlock()
		if first {
			close(blocked)
			<-unblock
		}
		return nil
	})
	bus.Start(context.Background())
	defer bus.Stop()

	bus.Publish(events.NewStatusEvent("a", "b", "1")) // picked up immediately, handler blocks
	<-blocked
	bus.Publish(events.NewStatusEvent("b", "c", "2")) // queued
	bus.Publish(events.NewStatusEvent("c", "d", "3")) // queued, fills capacity
	bus.Publish(events.NewStatusEvent("d", "e", "4")) // queue full: drops oldest queued ("2")

	close(unblock)

	waitFor(t, func() bool {
		return bus.GetStats().Dropped >= 1
	})
	assert.GreaterOrEqual(t, bus.GetStats().Dropped, int64(1))
}

func TestGetStatsTracksPublishedCount(t *testing.T) {
	bus := newTestBus(t)
	bus.Subscribe(events.EventTypeStatus, func(ev events.Event) error { return nil })

	for i := 0; i < 5; i++ {
		bus.Publish(events.NewStatusEvent("a", "b", "x"))
	}

	waitFor(t, func() bool { return bus.GetStats().Published == 5 })
}

func TestHandlerErrorDoesNotStopDelivery(t *testing.T) {
	bus := newTestBus(t)

	var mu sync.Mutex
	var delivered int
	bus.Subscribe(events.EventTypeStatus, func(ev events.Event) error {
		mu.Lock()
		delivered++
		mu.Unlock()
		return assertErr
	})

	bus.Publish(events.NewStatusEvent("a", "b", "1"))
	bus.Publish(events.NewStatusEvent("b", "c", "2"))

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return delivered == 2
	})
}

func TestHandlerPanicIsRecovered(t *testing.T) {
	bus := newTestBus(t)

	done := make(chan struct{})
	bus.Subscribe(events.EventTypeStatus, func(ev events.Event) error {
		defer close(done)
		panic("boom")
	})

	require.NotPanics(t, func() {
		bus.Publish(events.NewStatusEvent("a", "b", "1"))
		<-done
	})
}

var assertErr = &testHandlerError{}

type testHandlerError struct{}

func (e *testHandlerError) Error() string { return "handler failed" }
