package cache

import (
	"math"
	"time"
)

// noDeadline marks an entry without a custom expiration deadline.
const noDeadline = math.MaxInt64

// Expiry computes per-entry lifetimes. Each method returns how long the
// entry may live from now; current is the remaining lifetime before the
// event (math.MaxInt64 when unbounded). Returning current keeps the
// deadline, a negative or zero duration expires the entry immediately.
type Expiry[K comparable, V any] interface {
	ExpireAfterCreate(k K, v V, now int64) time.Duration
	ExpireAfterUpdate(k K, v V, now int64, current time.Duration) time.Duration
	ExpireAfterRead(k K, v V, now int64, current time.Duration) time.Duration
}

// ExpiryFunc is an Expiry whose lifetime is fixed at write time: creates
// and updates call the function, reads keep the deadline.
type ExpiryFunc[K comparable, V any] func(k K, v V) time.Duration

func (f ExpiryFunc[K, V]) ExpireAfterCreate(k K, v V, _ int64) time.Duration { return f(k, v) }

func (f ExpiryFunc[K, V]) ExpireAfterUpdate(k K, v V, _ int64, _ time.Duration) time.Duration {
	return f(k, v)
}

func (f ExpiryFunc[K, V]) ExpireAfterRead(_ K, _ V, _ int64, current time.Duration) time.Duration {
	return current
}

// expired reports whether n is stale at now. A clock running backwards
// yields negative ages, which never expire anything.
func (c *cache[K, V]) expired(n *node[K, V], now int64) bool {
	if d := c.opt.ExpireAfterWrite; d > 0 && now-n.writeAt >= int64(d) {
		return true
	}
	if d := c.opt.ExpireAfterAccess; d > 0 && now-n.accessAt >= int64(d) {
		return true
	}
	return n.expAt != noDeadline && now >= n.expAt
}

// refreshDue reports whether a read of n should start a background reload.
func (c *cache[K, V]) refreshDue(n *node[K, V], now int64) bool {
	d := c.opt.RefreshAfterWrite
	return d > 0 && now-n.writeAt >= int64(d)
}

// deadlineAt turns a lifetime into an absolute deadline. Negative lifetimes
// clamp to now; lifetimes past the int64 horizon mean no deadline.
func deadlineAt(now int64, d time.Duration) int64 {
	if d <= 0 {
		return now
	}
	if now > 0 && int64(d) > math.MaxInt64-now {
		return noDeadline
	}
	return now + int64(d)
}

func remaining[K comparable, V any](n *node[K, V], now int64) time.Duration {
	if n.expAt == noDeadline {
		return math.MaxInt64
	}
	return time.Duration(n.expAt - now)
}

// expireOnCreate sets n's deadline for a freshly created entry.
func (c *cache[K, V]) expireOnCreate(n *node[K, V], now int64) {
	if c.opt.Expiry == nil {
		n.expAt = noDeadline
		return
	}
	n.expAt = deadlineAt(now, c.opt.Expiry.ExpireAfterCreate(n.key, n.val, now))
}

// expireOnUpdate resets n's deadline after its value was replaced.
func (c *cache[K, V]) expireOnUpdate(n *node[K, V], now int64) {
	if c.opt.Expiry == nil {
		return
	}
	n.expAt = deadlineAt(now, c.opt.Expiry.ExpireAfterUpdate(n.key, n.val, now, remaining(n, now)))
}

// expireOnRead lets the Expiry extend or shorten n's deadline on a hit.
func (c *cache[K, V]) expireOnRead(n *node[K, V], now int64) {
	if c.opt.Expiry == nil {
		return
	}
	n.expAt = deadlineAt(now, c.opt.Expiry.ExpireAfterRead(n.key, n.val, now, remaining(n, now)))
}
