// Package workers_test provides tests for the bounded worker pool.
package workers_test

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/atlas-desktop/trading-backend/internal/workers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newPool(t *testing.T, cfg workers.Config) *workers.Pool {
	t.Helper()
	p := workers.NewPool(zap.NewNop(), cfg)
	p.Start()
	t.Cleanup(func() { p.Stop() })
	return p
}

func TestSubmitRunsTask(t *testing.T) {
	p := newPool(t, workers.DefaultConfig("test"))

	var ran atomic.Bool
	require.NoError(t, p.SubmitFunc(func() error {
		ran.Store(true)
		return nil
	}))

	assert.Eventually(t, ran.Load, time.Second, time.Millisecond)
}

func TestSubmitWaitBlocksUntilCompletion(t *testing.T) {
	p := newPool(t, workers.DefaultConfig("test"))

	var ran atomic.Bool
	err := p.SubmitWait(workers.TaskFunc(func() error {
		ran.Store(true)
		return nil
	}))
	require.NoError(t, err)
	assert.True(t, ran.Load(), "SubmitWait must not return before the task has run")
}

func TestSubmitWaitPropagatesTaskError(t *testing.T) {
	p := newPool(t, workers.DefaultConfig("test"))

	want := errors.New("task failed")
	err := p.SubmitWait(workers.TaskFunc(func() error { return want }))
	assert.ErrorIs(t, err, want)
}

func TestSubmitToStoppedPoolFails(t *testing.T) {
	p := workers.NewPool(zap.NewNop(), workers.DefaultConfig("test"))
	err := p.SubmitFunc(func() error { return nil })
	assert.ErrorIs(t, err, workers.ErrPoolStopped)
}

func TestSubmitRejectsWhenQueueFull(t *testing.T) {
	cfg := workers.DefaultConfig("test")
	cfg.NumWorkers = 1
	cfg.QueueSize = 1
	p := newPool(t, cfg)

	block := make(chan struct{})
	defer close(block)

	// Occupy the single worker, then fill the single queue slot.
	require.NoError(t, p.SubmitFunc(func() error { <-block; return nil }))
	for {
		if err := p.SubmitFunc(func() error { return nil }); err != nil {
			assert.ErrorIs(t, err, workers.ErrQueueFull)
			return
		}
	}
}

func TestPanickingTaskIsContained(t *testing.T) {
	p := newPool(t, workers.DefaultConfig("test"))

	require.NoError(t, p.SubmitFunc(func() error { panic("boom") }))

	assert.Eventually(t, func() bool {
		return p.Stats().Recovered == 1
	}, time.Second, time.Millisecond)

	// The pool still accepts and runs work afterwards.
	var ran atomic.Bool
	require.NoError(t, p.SubmitFunc(func() error { ran.Store(true); return nil }))
	assert.Eventually(t, ran.Load, time.Second, time.Millisecond)
}

func TestStatsCountCompletedAndFailed(t *testing.T) {
	p := newPool(t, workers.DefaultConfig("test"))

	require.NoError(t, p.SubmitWait(workers.TaskFunc(func() error { return nil })))
	_ = p.SubmitWait(workers.TaskFunc(func() error { return errors.New("x") }))

	stats := p.Stats()
	assert.EqualValues(t, 2, stats.Submitted)
	// SubmitWait's wrapper counts as the completed/failed task itself.
	assert.EqualValues(t, 1, stats.Failed)
}

func TestStopIsIdempotent(t *testing.T) {
	p := workers.NewPool(zap.NewNop(), workers.DefaultConfig("test"))
	p.Start()
	require.NoError(t, p.Stop())
	require.NoError(t, p.Stop())
	assert.False(t, p.IsRunning())
}
