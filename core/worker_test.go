package core

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	testutil "harvester/util/testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestWorkerPool_StartStop(t *testing.T) {
	defer testutil.CheckGoroutineCleanup(t)()

	wp := NewWorkerPool(context.Background(), "test", 2, 10, zaptest.NewLogger(t).Sugar())

	require.NoError(t, wp.Start())
	require.NoError(t, wp.Start())

	stats := wp.Stats()
	assert.True(t, stats.Running)
	assert.Equal(t, 2, stats.Workers)
	assert.Equal(t, 10, stats.Capacity)

	wp.Stop()
	wp.Stop()
	assert.False(t, wp.Stats().Running)
}

func TestWorkerPool_RunsEveryTask(t *testing.T) {
	wp := NewWorkerPool(context.Background(), "test", 4, 100, zaptest.NewLogger(t).Sugar())
	require.NoError(t, wp.Start())

	var counter int64
	for i := 0; i < 50; i++ {
		require.NoError(t, wp.Submit(func(ctx context.Context) {
			atomic.AddInt64(&counter, 1)
		}))
	}

	// Stop drains the queue
	wp.Stop()
	assert.Equal(t, int64(50), atomic.LoadInt64(&counter))
}

func TestWorkerPool_QueueFull(t *testing.T) {
	wp := NewWorkerPool(context.Background(), "test", 1, 1, zaptest.NewLogger(t).Sugar())
	require.NoError(t, wp.Start())

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, wp.Submit(func(ctx context.Context) {
		close(started)
		<-release
	}))
	<-started

	require.NoError(t, wp.Submit(func(ctx context.Context) {}))
	assert.ErrorIs(t, wp.Submit(func(ctx context.Context) {}), ErrWorkerPoolQueueFull)

	close(release)
	wp.Stop()
}

func TestWorkerPool_SubmitWaitHonoursContext(t *testing.T) {
	wp := NewWorkerPool(context.Background(), "test", 1, 0, zaptest.NewLogger(t).Sugar())
	require.NoError(t, wp.Start())

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, wp.SubmitWait(context.Background(), func(ctx context.Context) {
		close(started)
		<-release
	}))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, wp.SubmitWait(ctx, func(ctx context.Context) {}), ErrWorkerPoolTimeout)

	close(release)
	wp.Stop()
}

func TestWorkerPool_SubmitAfterStop(t *testing.T) {
	wp := NewWorkerPool(context.Background(), "test", 1, 1, zaptest.NewLogger(t).Sugar())
	require.NoError(t, wp.Start())
	wp.Stop()

	assert.ErrorIs(t, wp.Submit(func(ctx context.Context) {}), ErrWorkerPoolNotRunning)
}

func TestWorkerPool_PanicDoesNotKillWorker(t *testing.T) {
	wp := NewWorkerPool(context.Background(), "test", 1, 10, zaptest.NewLogger(t).Sugar())
	require.NoError(t, wp.Start())

	var wg sync.WaitGroup
	wg.Add(1)
	require.NoError(t, wp.Submit(func(ctx context.Context) { panic("bad event") }))
	require.NoError(t, wp.Submit(func(ctx context.Context) { wg.Done() }))

	wg.Wait()
	wp.Stop()
}

func TestWorkerPool_StartAfterParentCancelled(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	cancel()

	wp := NewWorkerPool(parent, "test", 1, 1, zaptest.NewLogger(t).Sugar())
	assert.ErrorIs(t, wp.Start(), ErrWorkerPoolNotRunning)
}
