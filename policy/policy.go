// Package policy defines how a shard orders its entries for eviction.
//
// A policy never evicts anything itself. It keeps the shard's intrusive
// list in recency order through Hooks and, when asked, names the entry it
// would give up first. The cache compares those candidates across shards
// and performs the removal.
package policy

// Node is the minimal contract a cache entry must satisfy for a policy.
type Node[K comparable, V any] interface {
	Key() K
	Value() *V
}

// Hooks expose O(1) operations on the shard's MRU/LRU list.
// All hook calls happen under the shard lock; the shard owns the key->node map.
type Hooks[K comparable, V any] interface {
	// MoveToFront promotes the node to MRU.
	MoveToFront(Node[K, V])
	// PushFront inserts the node at MRU.
	PushFront(Node[K, V])
	// Remove detaches the node from the list.
	Remove(Node[K, V])
	// Back returns the current LRU node, or nil if the list is empty.
	Back() Node[K, V]
	// Len returns the number of resident nodes in the shard.
	Len() int
}

// ShardPolicy is a per-shard policy instance bound to shard hooks.
//
// OnAdd, OnGet, OnUpdate and OnRemove run under the shard's write lock.
// Victim runs under at least a read lock and must not mutate state: several
// goroutines may ask for the same shard's victim at once.
type ShardPolicy[K comparable, V any] interface {
	// OnAdd links a newly admitted node.
	OnAdd(Node[K, V])
	// OnGet records a read of the node.
	OnGet(Node[K, V])
	// OnUpdate records an in-place value replacement.
	OnUpdate(Node[K, V])
	// OnRemove is called before the shard unlinks and deletes the node.
	OnRemove(Node[K, V])
	// Victim names the node this shard would evict next, or nil when empty.
	Victim() Node[K, V]
}

// Policy is a factory that creates shard-local policy instances.
type Policy[K comparable, V any] interface {
	New(Hooks[K, V]) ShardPolicy[K, V]
}
