// Package buffer provides a per-instrument bounded ring of closed bars:
// capacity 1000, append only on is_closed=true, oldest entries
// evicted on overflow, minimum 50 bars required before downstream
// computation begins.
package buffer

import (
	"sync"

	"github.com/atlas-desktop/trading-backend/pkg/types"
)

// MinBarsForComputation is the minimum populated-buffer size.
const MinBarsForComputation = 50

// Capacity is the fixed per-instrument ring size.
const Capacity = 1000

// Store holds one bounded FIFO of closed bars per instrument.
type Store struct {
	mu   sync.RWMutex
	bars map[string][]*types.Bar
}

// New creates an empty Store.
func New() *Store {
	return &Store{bars: make(map[string][]*types.Bar)}
}

// Append adds a closed bar to the instrument's ring, evicting the oldest
// entry on overflow. Non-closed bars are ignored.
func (s *Store) Append(b *types.Bar) {
	if b == nil || !b.IsClosed {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	bars := s.bars[b.Instrument]
	bars = append(bars, b)
	if len(bars) > Capacity {
		bars = bars[len(bars)-Capacity:]
	}
	s.bars[b.Instrument] = bars
}

// Snapshot returns a copy of the current bar window for an instrument,
// oldest first. The copy lets the indicator engine read a stable view while
// the orchestrator continues to append.
func (s *Store) Snapshot(instrument string) []*types.Bar {
	s.mu.RLock()
	defer s.mu.RUnlock()

	src := s.bars[instrument]
	out := make([]*types.Bar, len(src))
	copy(out, src)
	return out
}

// Ready reports whether an instrument has accumulated the minimum bar count
// required before any computation begins.
func (s *Store) Ready(instrument string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.bars[instrument]) >= MinBarsForComputation
}

// Len returns the current number of buffered bars for an instrument.
func (s *Store) Len(instrument string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.bars[instrument])
}
