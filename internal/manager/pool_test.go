package manager

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolDeduplicatesKeys(t *testing.T) {
	p := newPool(4)
	release := make(chan struct{})
	var runs atomic.Int32
	task := func(context.Context) {
		runs.Add(1)
		<-release
	}
	require.True(t, p.submit("a", task))
	assert.False(t, p.submit("a", task))
	require.True(t, p.submit("b", task))
	assert.Equal(t, 2, p.pending())

	close(release)
	require.True(t, p.close(time.Second))
	assert.Equal(t, int32(2), runs.Load())
	assert.False(t, p.submit("c", task))
}

func TestPoolBoundsConcurrency(t *testing.T) {
	p := newPool(2)
	var cur, peak atomic.Int32
	for i := 0; i < 10; i++ {
		key := string(rune('a' + i))
		p.submit(key, func(context.Context) {
			n := cur.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			cur.Add(-1)
		})
	}
	require.True(t, p.close(5*time.Second))
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestPoolCloseTimesOut(t *testing.T) {
	p := newPool(1)
	release := make(chan struct{})
	defer close(release)
	p.submit("slow", func(context.Context) { <-release })
	assert.False(t, p.close(20*time.Millisecond))
}

func TestPoolCloseDropsWaitingTasks(t *testing.T) {
	p := newPool(1)
	release := make(chan struct{})
	p.submit("hold", func(context.Context) { <-release })

	var ran atomic.Bool
	p.submit("waiting", func(context.Context) { ran.Store(true) })
	closed := make(chan bool, 1)
	go func() { closed <- p.close(time.Second) }()
	require.Eventually(t, func() bool { return p.pending() == 1 }, time.Second, time.Millisecond)
	close(release)
	assert.True(t, <-closed)
	assert.False(t, ran.Load())
}

func TestPoolCloseLetsRunningTaskFinish(t *testing.T) {
	p := newPool(1)
	started := make(chan struct{})
	var taskErr atomic.Value
	p.submit("slow", func(ctx context.Context) {
		close(started)
		select {
		case <-time.After(50 * time.Millisecond):
			taskErr.Store("done")
		case <-ctx.Done():
			taskErr.Store("cancelled")
		}
	})
	<-started
	require.True(t, p.close(5*time.Second))
	assert.Equal(t, "done", taskErr.Load())
}

func TestPoolCloseCancelsTasksAtDeadline(t *testing.T) {
	p := newPool(1)
	cancelled := make(chan struct{})
	p.submit("stuck", func(ctx context.Context) {
		<-ctx.Done()
		close(cancelled)
	})
	require.Eventually(t, func() bool { return p.pending() == 1 }, time.Second, time.Millisecond)
	assert.False(t, p.close(20*time.Millisecond))
	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("task context was not cancelled")
	}
}
