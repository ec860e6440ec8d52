package cache

import "context"

// Cache is a bounded, concurrent, loading key/value cache.
// All methods are safe for concurrent use by multiple goroutines.
//
// Methods taking a ctx block only while waiting on a computation and
// return ctx.Err() when it ends first; the computation keeps running for
// the other callers waiting on it.
type Cache[K comparable, V any] interface {
	// Get returns k's value, computing it with Options.Loader on a miss.
	// Concurrent misses for k share one computation. Without a loader it
	// returns ErrNoLoader.
	Get(ctx context.Context, k K) (V, error)

	// GetWith is Get with fn as the loader for this call.
	GetWith(ctx context.Context, k K, fn LoaderFunc[K, V]) (V, error)

	// GetIfPresent returns k's value without computing anything.
	GetIfPresent(k K) (V, bool)

	// GetOptional is GetWith that reports an absent key as ok == false
	// instead of ErrNotFound. A nil fn uses the cache-wide loader.
	GetOptional(ctx context.Context, k K, fn LoaderFunc[K, V]) (V, bool, error)

	// Put stores k→v. Any computation in flight for k loses to this write.
	Put(k K, v V)

	// PutFunc replaces k's entry with the result of fn. Until fn returns,
	// Get callers for k wait on it; if it fails the key is left absent.
	PutFunc(ctx context.Context, k K, fn func(ctx context.Context) (V, error)) error

	// GetAll returns the values of keys, loading the missing ones with
	// Options.BulkLoader in one batch (or Options.Loader per key). Absent
	// keys are omitted. The returned map holds every resolved key even when
	// an error is returned.
	GetAll(ctx context.Context, keys []K) (map[K]V, error)

	// GetAllWith is GetAll with fn as the batch loader for this call.
	GetAllWith(ctx context.Context, keys []K, fn BulkLoaderFunc[K, V]) (map[K]V, error)

	// Invalidate removes k and discards the result of any computation in
	// flight for it. It reports whether an entry was removed.
	Invalidate(k K) bool

	// InvalidateAll removes every entry.
	InvalidateAll()

	// Refresh recomputes k and returns the new value. Readers keep seeing
	// the current value meanwhile; a failure leaves it in place.
	Refresh(ctx context.Context, k K) (V, error)

	// RefreshAll refreshes every key and returns the values it obtained.
	RefreshAll(ctx context.Context, keys []K) (map[K]V, error)

	// AsMap returns a copy of all live entries, consistent per shard.
	AsMap() map[K]V

	// Contains reports whether k has a live entry, without touching it.
	Contains(k K) bool

	// Len returns the number of resident entries, including expired ones
	// not yet cleaned up.
	Len() int

	// WeightedSize returns the total weight of resident entries.
	WeightedSize() int64

	// Stats returns a snapshot of the built-in counters.
	Stats() Stats

	// CleanUp removes expired entries now instead of lazily.
	CleanUp()

	// Close stops background work, waits for tasks the cache started and
	// delivers pending notifications. Later calls return ErrClosed.
	Close() error
}
