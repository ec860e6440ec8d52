package cache

// enforceLimits evicts until the total weight is back within the bound.
// Each round asks every shard for its policy's victim and removes the one
// accessed longest ago, so the bound holds globally and ties resolve the
// same way on every run. The cost is O(shards) per evicted entry.
//
// Evictors are serialized: concurrent writers that all see the bound
// exceeded must not each remove an entry for the same overflow.
func (c *cache[K, V]) enforceLimits() {
	defer c.reportSize()
	if c.limit <= 0 || c.weight.Load() <= c.limit {
		return
	}
	c.evictMu.Lock()
	defer c.evictMu.Unlock()
	for c.weight.Load() > c.limit {
		s := c.victimShard()
		if s == nil {
			return
		}
		s.evictOne(c.overflow, c.now())
	}
}

func (c *cache[K, V]) victimShard() *shard[K, V] {
	if len(c.shards) == 1 {
		return c.shards[0]
	}
	var (
		best    *shard[K, V]
		bestSeq uint64
	)
	for _, s := range c.shards {
		seq, ok := s.victim()
		if ok && (best == nil || seq < bestSeq) {
			best, bestSeq = s, seq
		}
	}
	return best
}
