package cache

import "time"

// Metrics exposes cache-level observability hooks.
// Implementations must be safe for concurrent use; Hit, Miss and Evict may
// be called under a shard lock and should not block.
type Metrics interface {
	Hit()
	Miss()
	Evict(cause RemovalCause)
	Size(entries int, weight int64)
	LoadSuccess(d time.Duration)
	LoadFailure(d time.Duration)
	ListenerFailure()
}

// NoopMetrics is the default Metrics and does nothing.
type NoopMetrics struct{}

func (NoopMetrics) Hit()                      {}
func (NoopMetrics) Miss()                     {}
func (NoopMetrics) Evict(RemovalCause)        {}
func (NoopMetrics) Size(int, int64)           {}
func (NoopMetrics) LoadSuccess(time.Duration) {}
func (NoopMetrics) LoadFailure(time.Duration) {}
func (NoopMetrics) ListenerFailure()          {}

var _ Metrics = NoopMetrics{}

// Stats is a point-in-time snapshot of the cache's built-in counters.
type Stats struct {
	Hits             int64
	Misses           int64
	LoadSuccesses    int64
	LoadFailures     int64
	TotalLoadTime    time.Duration
	Evictions        int64
	ListenerFailures int64
}

// HitRatio returns hits / (hits + misses), or 1 with no requests.
func (s Stats) HitRatio() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 1
	}
	return float64(s.Hits) / float64(total)
}

// Stats sums the per-shard counters with the cache-wide ones.
func (c *cache[K, V]) Stats() Stats {
	st := Stats{
		LoadSuccesses:    c.loadOK.Load(),
		LoadFailures:     c.loadErr.Load(),
		TotalLoadTime:    time.Duration(c.loadNanos.Load()),
		ListenerFailures: c.listenerErr.Load(),
	}
	for _, s := range c.shards {
		st.Hits += s.hits.Load()
		st.Misses += s.misses.Load()
		st.Evictions += s.evicts.Load()
	}
	return st
}

func (c *cache[K, V]) recordLoad(d time.Duration, err error) {
	c.loadNanos.Add(int64(d))
	if err != nil && !isNotFound(err) {
		c.loadErr.Add(1)
		c.metrics.LoadFailure(d)
		return
	}
	c.loadOK.Add(1)
	c.metrics.LoadSuccess(d)
}

func (c *cache[K, V]) reportSize() {
	c.metrics.Size(int(c.count.Load()), c.weight.Load())
}
