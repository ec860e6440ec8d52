package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Refresh-after-write serves the stale value while the reload runs.
func TestRefresh_AfterWriteServesStale(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{}
	var version atomic.Int64
	reload := newGate()
	c := newCache(t, Options[string, int64]{
		RefreshAfterWrite: 10 * time.Millisecond,
		Clock:             clk,
		Loader: func(context.Context, string) (int64, error) {
			n := version.Add(1)
			if n > 1 {
				reload.wait()
			}
			return n, nil
		},
	})
	ctx := context.Background()

	v, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	clk.add(10 * time.Millisecond)
	v, err = c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v, "the due read returns the current value at once")
	eventually(t, func() bool { return reload.started.Load() == 1 }, "reload never started")

	v, err = c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v, "reads during the reload keep the old value")
	assert.Equal(t, int64(1), reload.started.Load(), "only one reload in flight")

	reload.open()
	eventually(t, func() bool {
		v, _ := c.GetIfPresent("k")
		return v == 2
	}, "reloaded value never installed")
	v, err = c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)
}

// A failed refresh leaves the current value in place; an initial failure
// leaves nothing.
func TestRefresh_FailureKeepsValue(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	var fail atomic.Bool
	c := newCache(t, Options[string, string]{
		Loader: func(context.Context, string) (string, error) {
			if fail.Load() {
				return "", boom
			}
			return "v1", nil
		},
	})
	ctx := context.Background()

	_, err := c.Get(ctx, "k")
	require.NoError(t, err)

	fail.Store(true)
	_, err = c.Refresh(ctx, "k")
	assert.ErrorIs(t, err, boom)

	v, ok := c.GetIfPresent("k")
	require.True(t, ok)
	assert.Equal(t, "v1", v)
}

// A refresh that finds the key gone removes the entry explicitly.
func TestRefresh_NotFoundRemoves(t *testing.T) {
	t.Parallel()

	rec := &recorder[string, string]{}
	var gone atomic.Bool
	c, err := New(Options[string, string]{
		RemovalListener: rec.listen,
		Loader: func(context.Context, string) (string, error) {
			if gone.Load() {
				return "", ErrNotFound
			}
			return "v", nil
		},
	})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = c.Get(ctx, "k")
	require.NoError(t, err)
	gone.Store(true)
	_, err = c.Refresh(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, c.Contains("k"))

	require.NoError(t, c.Close())
	assert.Equal(t, []Notification[string, string]{{Key: "k", Value: "v", Cause: CauseExplicit}}, rec.all())
}

// Refresh hands the current value to the Reloader and replaces it.
func TestRefresh_UsesReloader(t *testing.T) {
	t.Parallel()

	rec := &recorder[string, int]{}
	c, err := New(Options[string, int]{
		RemovalListener: rec.listen,
		Loader:          func(context.Context, string) (int, error) { return 1, nil },
		Reloader: func(_ context.Context, _ string, old int) (int, error) {
			return old * 10, nil
		},
	})
	require.NoError(t, err)
	ctx := context.Background()

	// Without a cached value the loader is used.
	v, err := c.Refresh(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	v, err = c.Refresh(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, 10, v)
	got, _ := c.GetIfPresent("k")
	assert.Equal(t, 10, got)

	require.NoError(t, c.Close())
	assert.Equal(t, []Notification[string, int]{{Key: "k", Value: 1, Cause: CauseReplaced}}, rec.all())
}

// A Put during a refresh wins over the refresh result.
func TestRefresh_LosesToNewerPut(t *testing.T) {
	t.Parallel()

	g := newGate()
	var calls atomic.Int64
	c := newCache(t, Options[string, string]{
		Loader: func(context.Context, string) (string, error) {
			if calls.Add(1) > 1 {
				g.wait()
				return "refreshed", nil
			}
			return "first", nil
		},
	})
	ctx := context.Background()
	_, err := c.Get(ctx, "k")
	require.NoError(t, err)

	res := make(chan string, 1)
	go func() {
		v, _ := c.Refresh(ctx, "k")
		res <- v
	}()
	eventually(t, func() bool { return g.started.Load() == 1 }, "refresh never started")
	c.Put("k", "put")
	g.open()

	assert.Equal(t, "refreshed", <-res)
	v, _ := c.GetIfPresent("k")
	assert.Equal(t, "put", v)
}

func TestRefreshAll_PerKey(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	c := newCache(t, Options[string, string]{
		Loader: func(_ context.Context, k string) (string, error) {
			switch k {
			case "bad":
				return "", boom
			case "gone":
				return "", ErrNotFound
			}
			return "v:" + k, nil
		},
	})
	m, err := c.RefreshAll(context.Background(), []string{"a", "b", "a", "gone"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "v:a", "b": "v:b"}, m)
	assert.True(t, c.Contains("a"))

	_, err = c.RefreshAll(context.Background(), []string{"x", "bad"})
	assert.ErrorIs(t, err, boom)
}

// One key failing does not cancel or drop the other keys' reloads.
func TestRefreshAll_FailureIsolatedPerKey(t *testing.T) {
	t.Parallel()

	for _, calling := range []bool{false, true} {
		boom := errors.New("boom")
		aFailed := make(chan struct{})
		var cancelled atomic.Int64
		c := newCache(t, Options[string, string]{
			UseCallingContext: calling,
			Loader: func(ctx context.Context, k string) (string, error) {
				if k == "a" {
					close(aFailed)
					return "", boom
				}
				<-aFailed
				select {
				case <-ctx.Done():
					cancelled.Add(1)
					return "", ctx.Err()
				case <-time.After(20 * time.Millisecond):
				}
				return "new-" + k, nil
			},
		})
		c.Put("a", "old-a")
		c.Put("b", "old-b")

		m, err := c.RefreshAll(context.Background(), []string{"a", "b"})
		require.ErrorIs(t, err, boom, "calling=%v", calling)
		assert.Equal(t, map[string]string{"b": "new-b"}, m, "calling=%v", calling)
		assert.Zero(t, cancelled.Load(), "calling=%v", calling)

		v, ok := c.GetIfPresent("b")
		require.True(t, ok)
		assert.Equal(t, "new-b", v)
		v, ok = c.GetIfPresent("a")
		require.True(t, ok)
		assert.Equal(t, "old-a", v, "a failed refresh keeps the old value")
	}
}

func TestRefreshAll_Batch(t *testing.T) {
	t.Parallel()

	var batches atomic.Int64
	var round atomic.Int64
	c := newCache(t, Options[string, int64]{
		BulkLoader: func(_ context.Context, keys []string) (map[string]int64, error) {
			batches.Add(1)
			r := round.Load()
			out := make(map[string]int64, len(keys))
			for _, k := range keys {
				out[k] = r
			}
			return out, nil
		},
	})
	ctx := context.Background()
	keys := []string{"a", "b", "c"}

	_, err := c.GetAll(ctx, keys)
	require.NoError(t, err)
	round.Store(1)
	m, err := c.RefreshAll(ctx, keys)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"a": 1, "b": 1, "c": 1}, m)
	assert.Equal(t, int64(2), batches.Load(), "one batch per call")
	assert.Equal(t, m, c.AsMap())
}
