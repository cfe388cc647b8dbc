// Package buffer_test provides tests for the per-instrument bar ring.
package buffer_test

import (
	"testing"

	"github.com/atlas-desktop/trading-backend/internal/buffer"
	"github.com/atlas-desktop/trading-backend/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mkBar(instrument string, openTimeMs int64, closed bool) *types.Bar {
	return &types.Bar{
		Instrument: instrument,
		OpenTimeMs: openTimeMs,
		Open:       decimal.NewFromInt(100),
		High:       decimal.NewFromInt(101),
		Low:        decimal.NewFromInt(99),
		Close:      decimal.NewFromInt(100),
		Volume:     decimal.NewFromInt(10),
		IsClosed:   closed,
	}
}

func TestAppendIgnoresUnclosedBars(t *testing.T) {
	s := buffer.New()
	s.Append(mkBar("BTCUSDT", 1, false))
	assert.Equal(t, 0, s.Len("BTCUSDT"))
	assert.False(t, s.Ready("BTCUSDT"))
}

func TestAppendIgnoresNilBar(t *testing.T) {
	s := buffer.New()
	require.NotPanics(t, func() { s.Append(nil) })
	assert.Equal(t, 0, s.Len("BTCUSDT"))
}

func TestReadyAtMinimumBarCount(t *testing.T) {
	s := buffer.New()
	for i := 0; i < buffer.MinBarsForComputation-1; i++ {
		s.Append(mkBar("BTCUSDT", int64(i), true))
	}
	assert.False(t, s.Ready("BTCUSDT"))

	s.Append(mkBar("BTCUSDT", int64(buffer.MinBarsForComputation), true))
	assert.True(t, s.Ready("BTCUSDT"))
}

func TestAppendEvictsOldestOnOverflow(t *testing.T) {
	s := buffer.New()
	for i := 0; i < buffer.Capacity+10; i++ {
		s.Append(mkBar("BTCUSDT", int64(i), true))
	}

	assert.Equal(t, buffer.Capacity, s.Len("BTCUSDT"))
	snap := s.Snapshot("BTCUSDT")
	assert.Equal(t, int64(10), snap[0].OpenTimeMs, "oldest 10 bars should have been evicted")
	assert.Equal(t, int64(buffer.Capacity+9), snap[len(snap)-1].OpenTimeMs)
}

func TestSnapshotIsIndependentCopy(t *testing.T) {
	s := buffer.New()
	s.Append(mkBar("BTCUSDT", 1, true))

	snap := s.Snapshot("BTCUSDT")
	snap[0] = mkBar("BTCUSDT", 999, true)

	fresh := s.Snapshot("BTCUSDT")
	assert.Equal(t, int64(1), fresh[0].OpenTimeMs)
}

func TestInstrumentsAreIndependent(t *testing.T) {
	s := buffer.New()
	s.Append(mkBar("BTCUSDT", 1, true))
	s.Append(mkBar("ETHUSDT", 1, true))
	s.Append(mkBar("ETHUSDT", 2, true))

	assert.Equal(t, 1, s.Len("BTCUSDT"))
	assert.Equal(t, 2, s.Len("ETHUSDT"))
}
