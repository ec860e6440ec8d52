package cache

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The eviction listener sees automatic removals only; the removal listener sees all.
func TestNotify_ListenerRouting(t *testing.T) {
	t.Parallel()

	evictions := &recorder[string, int]{}
	removals := &recorder[string, int]{}
	c, err := New(Options[string, int]{
		MaximumSize:      1,
		EvictionListener: evictions.listen,
		RemovalListener:  removals.listen,
	})
	require.NoError(t, err)

	c.Put("a", 1)
	c.Put("a", 2) // replaced
	c.Put("b", 3) // a evicted by size
	c.Invalidate("b")

	require.NoError(t, c.Close())
	assert.Equal(t, []Notification[string, int]{{Key: "a", Value: 2, Cause: CauseSize}}, evictions.all())
	assert.ElementsMatch(t, []Notification[string, int]{
		{Key: "a", Value: 1, Cause: CauseReplaced},
		{Key: "a", Value: 2, Cause: CauseSize},
		{Key: "b", Value: 3, Cause: CauseExplicit},
	}, removals.all())
}

// A panicking listener is isolated: siblings still run and the cache keeps working.
func TestNotify_ListenerPanicIsolated(t *testing.T) {
	t.Parallel()

	var delivered atomic.Int64
	c, err := New(Options[int, int]{
		EvictionListener: func(context.Context, Notification[int, int]) { panic("listener bug") },
		RemovalListener:  func(context.Context, Notification[int, int]) { delivered.Add(1) },
		MaximumSize:      1,
	})
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		c.Put(i, i)
	}
	require.NoError(t, c.Close())
	assert.Equal(t, int64(9), delivered.Load())
	assert.Equal(t, int64(9), c.Stats().ListenerFailures)
}

// Listeners run on a caller-supplied pool; Close hands over everything queued.
func TestNotify_PoolExecutor(t *testing.T) {
	t.Parallel()

	pool := NewPoolExecutor(2, nil)
	var delivered atomic.Int64
	c, err := New(Options[int, int]{
		Executor:        pool,
		RemovalListener: func(context.Context, Notification[int, int]) { delivered.Add(1) },
	})
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		c.Put(i, i)
	}
	c.InvalidateAll()
	require.NoError(t, c.Close())
	pool.Close()
	assert.Equal(t, int64(100), delivered.Load())
}

// The listener context outlives Close so late notifications can still use it.
func TestNotify_ListenerContextNotCancelled(t *testing.T) {
	t.Parallel()

	var cancelled atomic.Bool
	c, err := New(Options[string, int]{
		RemovalListener: func(ctx context.Context, _ Notification[string, int]) {
			if ctx.Err() != nil {
				cancelled.Store(true)
			}
		},
	})
	require.NoError(t, err)
	c.Put("a", 1)
	c.Invalidate("a")
	require.NoError(t, c.Close())
	assert.False(t, cancelled.Load())
}

func TestExecutorFunc(t *testing.T) {
	t.Parallel()

	var ran atomic.Int64
	exec := ExecutorFunc(func(task func()) { task() })
	c, err := New(Options[string, int]{
		Executor: exec,
		Loader: func(context.Context, string) (int, error) {
			ran.Add(1)
			return 1, nil
		},
	})
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	v, err := c.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	assert.Equal(t, int64(1), ran.Load())
}
