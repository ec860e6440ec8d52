package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// expireAfterWrite: readable right after insert, absent once d has passed.
func TestExpiry_AfterWrite(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{}
	rec := &recorder[string, string]{}
	c, err := New(Options[string, string]{
		ExpireAfterWrite: 100 * time.Millisecond,
		Clock:            clk,
		EvictionListener: rec.listen,
		Loader:           func(_ context.Context, k string) (string, error) { return "v:" + k, nil },
	})
	require.NoError(t, err)

	v, err := c.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, "v:k", v)

	clk.add(50 * time.Millisecond)
	_, ok := c.GetIfPresent("k")
	assert.True(t, ok, "reads do not extend a write deadline, but 50ms is still fresh")

	clk.add(60 * time.Millisecond)
	_, ok = c.GetIfPresent("k")
	assert.False(t, ok)
	assert.Zero(t, c.Len(), "lazy expiration removes the entry")

	require.NoError(t, c.Close())
	assert.Equal(t, []Notification[string, string]{{Key: "k", Value: "v:k", Cause: CauseExpired}}, rec.all())
}

func TestExpiry_AfterAccess(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{}
	c := newCache(t, Options[string, int]{ExpireAfterAccess: 100 * time.Millisecond, Clock: clk})

	c.Put("a", 1)
	for i := 0; i < 5; i++ {
		clk.add(80 * time.Millisecond)
		_, ok := c.GetIfPresent("a")
		require.True(t, ok, "each read extends the lifetime (round %d)", i)
	}
	clk.add(100 * time.Millisecond)
	_, ok := c.GetIfPresent("a")
	assert.False(t, ok)
}

// Contains and AsMap never return expired entries, even before cleanup.
func TestExpiry_PeeksHideExpired(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{}
	c := newCache(t, Options[string, int]{ExpireAfterWrite: time.Second, Clock: clk})
	c.Put("a", 1)
	clk.add(time.Second)
	c.Put("b", 2)

	assert.False(t, c.Contains("a"))
	assert.Equal(t, map[string]int{"b": 2}, c.AsMap())
	assert.Equal(t, 2, c.Len(), "not yet cleaned up")

	c.CleanUp()
	assert.Equal(t, 1, c.Len())
}

type perKeyExpiry struct{}

func (perKeyExpiry) ExpireAfterCreate(_ string, v int, _ int64) time.Duration {
	return time.Duration(v) * time.Millisecond
}

func (perKeyExpiry) ExpireAfterUpdate(_ string, v int, _ int64, _ time.Duration) time.Duration {
	return time.Duration(v) * time.Millisecond
}

// Reads double the remaining lifetime.
func (perKeyExpiry) ExpireAfterRead(_ string, _ int, _ int64, current time.Duration) time.Duration {
	return 2 * current
}

func TestExpiry_Custom(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{}
	c := newCache(t, Options[string, int]{Expiry: perKeyExpiry{}, Clock: clk})

	c.Put("short", 10)
	c.Put("long", 1000)
	c.Put("now", 0)
	c.Put("negative", -5)

	assert.False(t, c.Contains("now"), "zero lifetime expires immediately")
	assert.False(t, c.Contains("negative"), "negative lifetime clamps to immediate expiry")

	clk.add(5 * time.Millisecond)
	_, ok := c.GetIfPresent("short") // 5ms left, doubled to 10ms
	require.True(t, ok)
	clk.add(8 * time.Millisecond)
	assert.True(t, c.Contains("short"), "read extended the deadline")
	clk.add(3 * time.Millisecond)
	assert.False(t, c.Contains("short"))
	assert.True(t, c.Contains("long"))

	c.Put("long", 1) // update recomputes the lifetime
	clk.add(2 * time.Millisecond)
	assert.False(t, c.Contains("long"))
}

func TestExpiry_FuncKeepsDeadlineOnRead(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{}
	c := newCache(t, Options[string, int]{
		Expiry: ExpiryFunc[string, int](func(string, int) time.Duration { return 10 * time.Millisecond }),
		Clock:  clk,
	})
	c.Put("a", 1)
	clk.add(9 * time.Millisecond)
	_, ok := c.GetIfPresent("a")
	require.True(t, ok)
	clk.add(time.Millisecond)
	assert.False(t, c.Contains("a"))
}

// A clock running backwards must not crash or expire fresh entries.
func TestExpiry_NonMonotonicClock(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{}
	clk.set(int64(time.Hour))
	c := newCache(t, Options[string, int]{
		ExpireAfterWrite:  time.Minute,
		ExpireAfterAccess: time.Minute,
		Clock:             clk,
	})
	c.Put("a", 1)

	clk.set(0)
	v, ok := c.GetIfPresent("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	clk.set(int64(time.Hour + 2*time.Minute))
	assert.False(t, c.Contains("a"))
}

func TestExpiry_CleanUpNotifies(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{}
	rec := &recorder[int, int]{}
	c, err := New(Options[int, int]{
		ExpireAfterWrite: time.Second,
		Clock:            clk,
		RemovalListener:  rec.listen,
		Shards:           4,
	})
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		c.Put(i, i)
	}
	clk.add(2 * time.Second)
	c.Put(100, 100)
	c.CleanUp()
	assert.Equal(t, 1, c.Len())

	require.NoError(t, c.Close())
	assert.Len(t, rec.withCause(CauseExpired), 10)
}

// The janitor sweeps expired entries without any reads.
func TestExpiry_Janitor(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{}
	c := newCache(t, Options[string, int]{
		ExpireAfterWrite: time.Second,
		CleanupInterval:  time.Millisecond,
		Clock:            clk,
	})
	c.Put("a", 1)
	clk.add(time.Hour)
	eventually(t, func() bool { return c.Len() == 0 }, "janitor never removed the expired entry")
}

// An expired entry that is overwritten reports expiry rather than replacement.
func TestExpiry_OverwriteExpiredEntry(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{}
	rec := &recorder[string, int]{}
	c, err := New(Options[string, int]{ExpireAfterWrite: time.Second, Clock: clk, RemovalListener: rec.listen})
	require.NoError(t, err)

	c.Put("a", 1)
	clk.add(2 * time.Second)
	c.Put("a", 2)
	clk.add(500 * time.Millisecond)
	assert.True(t, c.Contains("a"), "the new value gets a fresh lifetime")

	require.NoError(t, c.Close())
	assert.Equal(t, []Notification[string, int]{{Key: "a", Value: 1, Cause: CauseExpired}}, rec.all())
}
