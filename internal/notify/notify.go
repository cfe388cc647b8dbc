// Package notify implements the notification sink contract:
// priority-ranked messages with per-priority rate caps and a dedup latch
// for repeat CRITICAL alerts, backed by structured logging.
package notify

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Priority is the notification urgency level.
type Priority string

const (
	PriorityCritical  Priority = "CRITICAL"
	PriorityError     Priority = "ERROR"
	PriorityWarning   Priority = "WARNING"
	PriorityInfo      Priority = "INFO"
	PriorityHeartbeat Priority = "HEARTBEAT"
)

// Message is one structured notification.
type Message struct {
	Priority Priority
	Title    string
	Details  map[string]string
	Text     string
}

// rateCap is the per-priority allowance window.
type rateCap struct {
	limit  int
	window time.Duration
}

var caps = map[Priority]rateCap{
	PriorityCritical:  {limit: 6, window: time.Hour},
	PriorityError:     {limit: 5, window: time.Minute},
	PriorityWarning:   {limit: 10, window: time.Minute},
	PriorityInfo:      {limit: 60, window: time.Minute},
	PriorityHeartbeat: {limit: 24, window: 24 * time.Hour},
}

// Sink delivers rate-limited notifications. It never blocks the caller: a
// full allowance silently drops the message (counted), with five
// independently-capped priorities.
type Sink struct {
	mu       sync.Mutex
	logger   *zap.Logger
	sent     map[Priority][]time.Time
	latched  map[string]time.Time // CRITICAL dedup: title -> last-sent
	dropped  map[Priority]int64
}

// New creates a Sink backed by the given logger.
func New(logger *zap.Logger) *Sink {
	return &Sink{
		logger:  logger,
		sent:    make(map[Priority][]time.Time),
		latched: make(map[string]time.Time),
		dropped: make(map[Priority]int64),
	}
}

// Send delivers a message if its priority's rate cap has remaining budget.
// CRITICAL messages additionally obey a 24h per-title dedup latch so a
// repeating condition cannot page the operator every time it re-evaluates.
func (s *Sink) Send(msg Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()

	if msg.Priority == PriorityCritical {
		if last, ok := s.latched[msg.Title]; ok && now.Sub(last) < 24*time.Hour {
			return false
		}
	}

	cap, ok := caps[msg.Priority]
	if !ok {
		cap = rateCap{limit: 60, window: time.Minute}
	}

	history := s.sent[msg.Priority]
	cutoff := now.Add(-cap.window)
	kept := history[:0]
	for _, t := range history {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= cap.limit {
		s.sent[msg.Priority] = kept
		s.dropped[msg.Priority]++
		return false
	}

	kept = append(kept, now)
	s.sent[msg.Priority] = kept

	if msg.Priority == PriorityCritical {
		s.latched[msg.Title] = now
	}

	s.log(msg)
	return true
}

func (s *Sink) log(msg Message) {
	fields := make([]zap.Field, 0, len(msg.Details)+2)
	fields = append(fields, zap.String("priority", string(msg.Priority)), zap.String("title", msg.Title))
	for k, v := range msg.Details {
		fields = append(fields, zap.String(k, v))
	}

	switch msg.Priority {
	case PriorityCritical, PriorityError:
		s.logger.Error(msg.Text, fields...)
	case PriorityWarning:
		s.logger.Warn(msg.Text, fields...)
	default:
		s.logger.Info(msg.Text, fields...)
	}
}

// DroppedCount returns how many messages of a priority were suppressed by
// its rate cap since startup.
func (s *Sink) DroppedCount(p Priority) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped[p]
}
