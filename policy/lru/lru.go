// Package lru implements the LRU eviction policy.
package lru

import "github.com/IvanBrykalov/loadcache/policy"

// lru is move-to-front Least-Recently-Used over the shard's own list.
type lru[K comparable, V any] struct {
	h policy.Hooks[K, V]
}

type lruPolicy[K comparable, V any] struct{}

// New returns a Policy factory that constructs per-shard LRU instances.
func New[K comparable, V any]() policy.Policy[K, V] { return lruPolicy[K, V]{} }

func (lruPolicy[K, V]) New(h policy.Hooks[K, V]) policy.ShardPolicy[K, V] {
	return &lru[K, V]{h: h}
}

func (p *lru[K, V]) OnAdd(n policy.Node[K, V])    { p.h.PushFront(n) }
func (p *lru[K, V]) OnGet(n policy.Node[K, V])    { p.h.MoveToFront(n) }
func (p *lru[K, V]) OnUpdate(n policy.Node[K, V]) { p.h.MoveToFront(n) }
func (p *lru[K, V]) OnRemove(policy.Node[K, V])   {}

// Victim is the least recently used node.
func (p *lru[K, V]) Victim() policy.Node[K, V] { return p.h.Back() }
