package cache

// node is an intrusive doubly linked list element owned by a shard.
// Every field is guarded by the owning shard's lock.
type node[K comparable, V any] struct {
	key K
	val V

	// Intrusive list links: head is MRU, tail is LRU.
	prev *node[K, V]
	next *node[K, V]

	weight int64

	// Clock readings of the last write and the last read or write.
	writeAt  int64
	accessAt int64
	// Deadline computed by Options.Expiry; noDeadline otherwise.
	expAt int64

	// seq orders accesses cache-wide; the smallest victim seq is evicted first.
	seq uint64
	// gen is the write generation that installed the current value.
	gen uint64
}

// Key returns the node key (part of policy.Node interface).
func (n *node[K, V]) Key() K { return n.key }

// Value returns a pointer to the stored value (part of policy.Node interface).
// Only valid while holding the shard lock.
func (n *node[K, V]) Value() *V { return &n.val }
