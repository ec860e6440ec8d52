package cache

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IvanBrykalov/loadcache/internal/util"
	"github.com/IvanBrykalov/loadcache/policy/lru"
)

// cache is a sharded in-memory loading cache with a pluggable eviction policy.
type cache[K comparable, V any] struct {
	shards []*shard[K, V]
	hash   func(K) uint64
	closed atomic.Bool

	opt     Options[K, V]
	clock   Clock
	metrics Metrics
	logger  *slog.Logger

	exec  Executor
	owned *GoExecutor // exec, when the cache created it
	notes *dispatcher[K, V]

	// limit bounds weight (entry count in size mode); 0 = unbounded.
	limit    int64
	overflow RemovalCause
	evictMu  sync.Mutex // one evictor at a time

	// ctx is handed to background loads and cancelled by Close.
	ctx       context.Context
	cancel    context.CancelFunc
	listenCtx context.Context

	count  atomic.Int64
	weight atomic.Int64
	seq    atomic.Uint64
	gen    atomic.Uint64

	loadOK      atomic.Int64
	loadErr     atomic.Int64
	loadNanos   atomic.Int64
	listenerErr atomic.Int64

	stop      chan struct{}
	janitor   sync.WaitGroup
	closeOnce sync.Once
}

// New constructs a cache with the provided Options, or returns an error
// wrapping ErrInvalidConfig.
func New[K comparable, V any](opt Options[K, V]) (Cache[K, V], error) {
	if err := opt.validate(); err != nil {
		return nil, err
	}
	if opt.Policy == nil {
		opt.Policy = lru.New[K, V]()
	}

	c := &cache[K, V]{
		hash:    opt.Hash,
		opt:     opt,
		clock:   opt.Clock,
		metrics: opt.Metrics,
		logger:  opt.Logger,
		exec:    opt.Executor,
		stop:    make(chan struct{}),
	}
	if c.hash == nil {
		c.hash = util.NewHasher[K]()
	}
	if c.clock == nil {
		c.clock = monotonicClock{start: time.Now()}
	}
	if c.metrics == nil {
		c.metrics = NoopMetrics{}
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.exec == nil {
		c.owned = &GoExecutor{}
		c.exec = c.owned
	}

	switch {
	case opt.MaximumSize > 0:
		c.limit, c.overflow = opt.MaximumSize, CauseSize
	case opt.MaximumWeight > 0:
		c.limit, c.overflow = opt.MaximumWeight, CauseWeight
	}

	parent := opt.Context
	if parent == nil {
		parent = context.Background()
	}
	c.ctx, c.cancel = context.WithCancel(parent)
	c.listenCtx = context.WithoutCancel(c.ctx)

	if opt.EvictionListener != nil || opt.RemovalListener != nil {
		c.notes = newDispatcher[K, V](c.exec, c.deliver)
	}

	n := util.ShardCount(opt.Shards)
	c.shards = make([]*shard[K, V], n)
	for i := range c.shards {
		c.shards[i] = newShard(c, opt.InitialCapacity/n)
	}

	if opt.CleanupInterval > 0 {
		c.janitor.Add(1)
		go c.runJanitor(opt.CleanupInterval)
	}
	return c, nil
}

// MustNew is New that panics on invalid Options.
func MustNew[K comparable, V any](opt Options[K, V]) Cache[K, V] {
	c, err := New(opt)
	if err != nil {
		panic(err)
	}
	return c
}

// ---- Cache[K,V] implementation ----

func (c *cache[K, V]) Get(ctx context.Context, k K) (V, error) {
	return c.GetWith(ctx, k, nil)
}

func (c *cache[K, V]) GetWith(ctx context.Context, k K, fn LoaderFunc[K, V]) (V, error) {
	var zero V
	if c.closed.Load() {
		return zero, ErrClosed
	}
	if fn == nil {
		if fn = c.loader(); fn == nil {
			if v, ok := c.GetIfPresent(k); ok {
				return v, nil
			}
			return zero, ErrNoLoader
		}
	}
	return c.load(ctx, k, fn)
}

func (c *cache[K, V]) GetIfPresent(k K) (V, bool) {
	if c.closed.Load() {
		var zero V
		return zero, false
	}
	p := c.shardFor(k).acquire(k, c.now(), false)
	c.startRefresh(p.refresh)
	return p.val, p.hit
}

func (c *cache[K, V]) GetOptional(ctx context.Context, k K, fn LoaderFunc[K, V]) (V, bool, error) {
	v, err := c.GetWith(ctx, k, fn)
	switch {
	case err == nil:
		return v, true, nil
	case isNotFound(err):
		return v, false, nil
	}
	return v, false, err
}

func (c *cache[K, V]) Put(k K, v V) {
	if c.closed.Load() {
		return
	}
	c.shardFor(k).set(k, v, c.now())
	c.enforceLimits()
}

func (c *cache[K, V]) PutFunc(ctx context.Context, k K, fn func(ctx context.Context) (V, error)) error {
	if c.closed.Load() {
		return ErrClosed
	}
	cl := c.shardFor(k).supersede(k)
	c.run(ctx, cl, fn)
	_, err := cl.Wait(ctx)
	return err
}

func (c *cache[K, V]) GetAll(ctx context.Context, keys []K) (map[K]V, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	if c.opt.BulkLoader != nil {
		return c.getAll(ctx, keys, c.opt.BulkLoader, nil)
	}
	return c.getAll(ctx, keys, nil, c.opt.Loader)
}

func (c *cache[K, V]) GetAllWith(ctx context.Context, keys []K, fn BulkLoaderFunc[K, V]) (map[K]V, error) {
	if fn == nil {
		return c.GetAll(ctx, keys)
	}
	if c.closed.Load() {
		return nil, ErrClosed
	}
	return c.getAll(ctx, keys, fn, nil)
}

func (c *cache[K, V]) Invalidate(k K) bool {
	if c.closed.Load() {
		return false
	}
	return c.shardFor(k).remove(k)
}

func (c *cache[K, V]) InvalidateAll() {
	if c.closed.Load() {
		return
	}
	for _, s := range c.shards {
		s.clear()
	}
	c.reportSize()
}

func (c *cache[K, V]) Refresh(ctx context.Context, k K) (V, error) {
	var zero V
	if c.closed.Load() {
		return zero, ErrClosed
	}
	if !c.canLoad() {
		return zero, ErrNoLoader
	}
	return c.refresh(ctx, k)
}

func (c *cache[K, V]) RefreshAll(ctx context.Context, keys []K) (map[K]V, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	if !c.canLoad() {
		return nil, ErrNoLoader
	}
	return c.refreshAll(ctx, keys)
}

func (c *cache[K, V]) AsMap() map[K]V {
	out := make(map[K]V, c.count.Load())
	now := c.now()
	for _, s := range c.shards {
		s.copyTo(out, now)
	}
	return out
}

func (c *cache[K, V]) Contains(k K) bool {
	_, ok := c.shardFor(k).peek(k, c.now())
	return ok
}

func (c *cache[K, V]) Len() int {
	total := 0
	for _, s := range c.shards {
		total += s.Len()
	}
	return total
}

func (c *cache[K, V]) WeightedSize() int64 { return c.weight.Load() }

func (c *cache[K, V]) CleanUp() {
	now := c.now()
	for _, s := range c.shards {
		s.sweep(now)
	}
	c.enforceLimits()
}

// Close stops the janitor, cancels the cache context, waits for the
// cache's own background loads and delivers every pending notification.
// Tasks handed to a caller-supplied Executor are not awaited.
func (c *cache[K, V]) Close() error {
	err := ErrClosed
	c.closeOnce.Do(func() {
		err = nil
		c.closed.Store(true)
		close(c.stop)
		c.janitor.Wait()
		c.cancel()
		if c.owned != nil {
			c.owned.Wait()
		}
		if c.notes != nil {
			c.notes.close()
		}
		if c.owned != nil {
			c.owned.Wait()
		}
	})
	return err
}

// ---- helpers ----

// shardFor picks a shard by hashing the key.
func (c *cache[K, V]) shardFor(k K) *shard[K, V] {
	return c.shards[util.ShardIndex(c.hash(k), len(c.shards))]
}

func (c *cache[K, V]) now() int64 { return c.clock.NowUnixNano() }

// weigh computes an entry's weight. Without a Weigher every entry weighs 1.
func (c *cache[K, V]) weigh(k K, v V) int64 {
	if c.opt.Weigher == nil {
		return 1
	}
	if w := c.opt.Weigher(k, v); w > 0 {
		return w
	}
	return 0
}

func (c *cache[K, V]) runJanitor(every time.Duration) {
	defer c.janitor.Done()
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-t.C:
			c.CleanUp()
		}
	}
}

// monotonicClock reads nanoseconds elapsed since the cache was created,
// immune to wall-clock steps.
type monotonicClock struct{ start time.Time }

func (m monotonicClock) NowUnixNano() int64 { return int64(time.Since(m.start)) }
