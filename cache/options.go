package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/IvanBrykalov/loadcache/policy"
)

// RemovalCause explains why an entry left the cache.
type RemovalCause int

const (
	// CauseExplicit: removed by Invalidate/InvalidateAll, or a refresh found
	// the key no longer exists.
	CauseExplicit RemovalCause = iota
	// CauseReplaced: the value was overwritten by Put, PutFunc or a load.
	CauseReplaced
	// CauseExpired: an expiration rule deemed the entry stale.
	CauseExpired
	// CauseSize: evicted to satisfy MaximumSize.
	CauseSize
	// CauseWeight: evicted to satisfy MaximumWeight.
	CauseWeight
)

// WasEvicted reports whether the removal was automatic (expired, size or weight).
func (c RemovalCause) WasEvicted() bool { return c >= CauseExpired }

func (c RemovalCause) String() string {
	switch c {
	case CauseExplicit:
		return "explicit"
	case CauseReplaced:
		return "replaced"
	case CauseExpired:
		return "expired"
	case CauseSize:
		return "size"
	case CauseWeight:
		return "weight"
	}
	return fmt.Sprintf("RemovalCause(%d)", int(c))
}

// Clock provides time in nanoseconds; useful for deterministic tests.
// Values only need to be comparable with each other, not wall time.
type Clock interface{ NowUnixNano() int64 }

// ClockFunc adapts a plain function to Clock.
type ClockFunc func() int64

func (f ClockFunc) NowUnixNano() int64 { return f() }

// LoaderFunc computes the value of a missing key. Returning ErrNotFound (or
// an error wrapping it) means the key has no value.
type LoaderFunc[K comparable, V any] func(ctx context.Context, k K) (V, error)

// ReloaderFunc recomputes the value of a cached key given its current value.
type ReloaderFunc[K comparable, V any] func(ctx context.Context, k K, old V) (V, error)

// BulkLoaderFunc computes several keys in one call. Keys missing from the
// returned map have no value; extra keys are cached as well.
type BulkLoaderFunc[K comparable, V any] func(ctx context.Context, keys []K) (map[K]V, error)

// Notification describes one removal.
type Notification[K comparable, V any] struct {
	Key   K
	Value V
	Cause RemovalCause
}

// Listener receives removal notifications. It runs on the Executor, never
// under a cache lock; a panic is recovered and logged.
type Listener[K comparable, V any] func(ctx context.Context, n Notification[K, V])

// Options configures the cache. Zero values are safe; defaults are
// applied in New:
//   - nil Policy   => LRU
//   - Shards <= 0  => auto (rounded up to power of two)
//   - nil Metrics  => NoopMetrics
//   - nil Executor => GoExecutor owned by the cache
//   - nil Logger   => slog.Default()
//   - nil Clock    => monotonic clock
type Options[K comparable, V any] struct {
	// MaximumSize bounds the number of entries. 0 = unbounded.
	MaximumSize int64

	// MaximumWeight bounds the sum of Weigher(k, v). Requires Weigher and
	// excludes MaximumSize. 0 = unbounded.
	MaximumWeight int64
	// Weigher returns an entry's weight; negative results count as 0.
	Weigher func(k K, v V) int64

	// ExpireAfterWrite expires an entry this long after its last write.
	ExpireAfterWrite time.Duration
	// ExpireAfterAccess expires an entry this long after its last read or write.
	ExpireAfterAccess time.Duration
	// Expiry computes per-entry lifetimes. Excludes both fixed durations above.
	Expiry Expiry[K, V]

	// RefreshAfterWrite makes a read of an entry at least this old trigger a
	// background reload, while the read itself gets the current value.
	// Requires Loader or BulkLoader.
	RefreshAfterWrite time.Duration

	// InitialCapacity presizes the shard maps.
	InitialCapacity int

	// Shards defines the number of shards. If 0, an automatic value is chosen
	// (≈ 2*GOMAXPROCS) and rounded to the next power of two.
	Shards int

	// Policy orders entries within a shard (LRU/2Q/…); nil => LRU.
	Policy policy.Policy[K, V]

	// Hash maps keys onto shards. Nil uses xxhash for strings, byte slices
	// and integers and a seeded maphash for any other comparable key.
	Hash func(K) uint64

	// Loader computes missing keys for Get/GetAll/Refresh.
	Loader LoaderFunc[K, V]
	// Reloader, when set, is used instead of Loader to refresh a cached key.
	Reloader ReloaderFunc[K, V]
	// BulkLoader computes batches of missing keys for GetAll/RefreshAll.
	// Without Loader it also serves single keys.
	BulkLoader BulkLoaderFunc[K, V]

	// EvictionListener sees automatic removals (expired, size, weight).
	EvictionListener Listener[K, V]
	// RemovalListener sees every removal.
	RemovalListener Listener[K, V]

	// Executor runs background loads and listener tasks.
	Executor Executor
	// UseCallingContext runs loads on the caller's goroutine with the
	// caller's ctx instead of on the Executor with the cache context.
	UseCallingContext bool
	// Context is the parent of the cache context handed to background loads
	// and listeners. The cache context is cancelled by Close.
	Context context.Context

	// CleanupInterval, when positive, starts a janitor that removes expired
	// entries on that period. Expiration is otherwise lazy.
	CleanupInterval time.Duration

	Metrics Metrics
	Logger  *slog.Logger
	// Clock allows overriding the time source (tests).
	Clock Clock
}

// validate rejects contradictory or out-of-range settings.
func (o *Options[K, V]) validate() error {
	switch {
	case o.MaximumSize < 0:
		return fmt.Errorf("%w: MaximumSize must not be negative", ErrInvalidConfig)
	case o.MaximumWeight < 0:
		return fmt.Errorf("%w: MaximumWeight must not be negative", ErrInvalidConfig)
	case o.MaximumSize > 0 && o.MaximumWeight > 0:
		return fmt.Errorf("%w: MaximumSize and MaximumWeight are mutually exclusive", ErrInvalidConfig)
	case o.MaximumWeight > 0 && o.Weigher == nil:
		return fmt.Errorf("%w: MaximumWeight requires a Weigher", ErrInvalidConfig)
	case o.Weigher != nil && o.MaximumWeight == 0:
		return fmt.Errorf("%w: Weigher requires MaximumWeight", ErrInvalidConfig)
	case o.ExpireAfterWrite < 0, o.ExpireAfterAccess < 0, o.RefreshAfterWrite < 0:
		return fmt.Errorf("%w: durations must not be negative", ErrInvalidConfig)
	case o.Expiry != nil && (o.ExpireAfterWrite > 0 || o.ExpireAfterAccess > 0):
		return fmt.Errorf("%w: Expiry excludes ExpireAfterWrite and ExpireAfterAccess", ErrInvalidConfig)
	case o.RefreshAfterWrite > 0 && o.Loader == nil && o.BulkLoader == nil:
		return fmt.Errorf("%w: RefreshAfterWrite requires Loader or BulkLoader", ErrInvalidConfig)
	case o.InitialCapacity < 0:
		return fmt.Errorf("%w: InitialCapacity must not be negative", ErrInvalidConfig)
	case o.CleanupInterval < 0:
		return fmt.Errorf("%w: CleanupInterval must not be negative", ErrInvalidConfig)
	}
	return nil
}
