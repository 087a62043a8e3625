package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerRestartsAfterPanic(t *testing.T) {
	w := New(nil)
	w.delay = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var runs atomic.Int32
	w.Go(ctx, "flaky", func(ctx context.Context) {
		if runs.Add(1) == 1 {
			panic("kiln exploded")
		}
		<-ctx.Done()
	})

	require.Eventually(t, func() bool { return runs.Load() >= 2 }, time.Second, 5*time.Millisecond)

	snap := w.Snapshot()
	require.Contains(t, snap, "flaky")
	assert.True(t, snap["flaky"].Alive)
	assert.Equal(t, 1, snap["flaky"].Restarts)
	assert.Contains(t, snap["flaky"].LastError, "panic: kiln exploded")
	assert.Contains(t, w.Summary(), "restarted 1x")

	cancel()
	w.Wait()
	assert.False(t, w.Snapshot()["flaky"].Alive)
}

func TestWorkerRestartOnUnexpectedReturn(t *testing.T) {
	w := New(nil)
	w.delay = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var runs atomic.Int32
	w.Go(ctx, "quitter", func(ctx context.Context) {
		if runs.Add(1) == 1 {
			return // returns without cancellation
		}
		<-ctx.Done()
	})

	require.Eventually(t, func() bool { return runs.Load() >= 2 }, time.Second, 5*time.Millisecond)
	assert.Contains(t, w.Snapshot()["quitter"].LastError, "returned unexpectedly")
}

func TestHealthySummary(t *testing.T) {
	w := New(nil)
	ctx, cancel := context.WithCancel(context.Background())

	w.Go(ctx, "steady", func(ctx context.Context) { <-ctx.Done() })
	assert.Equal(t, "ok", w.Summary())
	assert.True(t, w.Healthy())

	cancel()
	w.Wait()
	assert.False(t, w.Healthy())
}
