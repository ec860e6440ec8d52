// Package cache provides a generic, sharded, bounded in-memory loading cache.
//
// Design
//
//   - Concurrency: the cache is split into shards, each protected by an
//     RWMutex. The shard count is a power of two (≈ 2*GOMAXPROCS by
//     default). There is no global lock.
//
//   - Storage: each shard keeps a map[K]*node for lookups, an intrusive
//     MRU↔LRU list for ordering and a map of computations in flight.
//
//   - Loading: a miss registers one computation per key; concurrent callers
//     wait on it and all observe the same value or error. Failed loads are
//     not cached. A computation finishing after a newer Put, PutFunc or
//     Invalidate of its key is discarded.
//
//   - Refresh: Refresh, RefreshAll and Options.RefreshAfterWrite reload a
//     key while readers keep getting the current value. A failed reload
//     keeps the current value; a reload reporting ErrNotFound removes it.
//
//   - Bounds: MaximumSize or MaximumWeight (with a Weigher) are global.
//     On overflow the cache evicts, across all shards, the policy victim
//     accessed longest ago. LRU is the default policy; 2Q is available.
//
//   - Expiration: ExpireAfterWrite, ExpireAfterAccess or a custom Expiry.
//     Expiration is lazy on read and also applied by CleanUp, by the
//     optional CleanupInterval janitor and while evicting.
//
//   - Notifications: every removal is queued and delivered on the Executor
//     to RemovalListener (all causes) and EvictionListener (expired, size,
//     weight). Listeners never run under a cache lock.
//
//   - Execution: background loads and listeners run on Options.Executor
//     (a goroutine per task by default, or NewPoolExecutor). With
//     UseCallingContext loads run on the caller's goroutine and ctx.
//
// Basic usage
//
//	c, err := cache.New(cache.Options[string, string]{
//	    MaximumSize: 10_000,
//	    Loader: func(ctx context.Context, k string) (string, error) {
//	        return fetch(ctx, k)
//	    },
//	})
//	if err != nil {
//	    return err
//	}
//	defer c.Close()
//	v, err := c.Get(ctx, "key")
//
// Weighted, expiring, with a listener
//
//	c, _ := cache.New(cache.Options[string, []byte]{
//	    MaximumWeight:    64 << 20,
//	    Weigher:          func(_ string, v []byte) int64 { return int64(len(v)) },
//	    ExpireAfterWrite: 5 * time.Minute,
//	    EvictionListener: func(ctx context.Context, n cache.Notification[string, []byte]) {
//	        log.Printf("evicted %s (%s)", n.Key, n.Cause)
//	    },
//	})
//
// Exporting metrics
//
//	m := prom.New(nil, "app", "users", nil) // implements cache.Metrics
//	c, _ := cache.New(cache.Options[string, []byte]{MaximumSize: 10_000, Metrics: m})
package cache
