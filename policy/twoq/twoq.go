// Package twoq implements a 2Q eviction policy sized relative to the shard.
package twoq

import (
	"container/list"

	"github.com/IvanBrykalov/loadcache/policy"
)

// twoQ keeps first-time entries in a probation queue (A1in) and lets them
// graduate to the main queue (Am) on their second access. Keys pushed out
// of A1in are remembered in a ghost queue (A1out); a key readmitted while
// still a ghost skips probation.
//
// Am ordering is the shard's own list; A1in and A1out are kept here.
// Queue limits are percentages of the shard's current resident count, since
// the cache bounds total size globally rather than per shard.
type twoQ[K comparable, V any] struct {
	h policy.Hooks[K, V]

	inPct    int
	ghostPct int

	// A1in: MRU at Front() -> LRU at Back().
	inList *list.List
	inIdx  map[policy.Node[K, V]]*list.Element

	// A1out: keys only, MRU at Front() -> LRU at Back().
	ghostList *list.List
	ghostIdx  map[K]*list.Element
}

type twoQPolicy[K comparable, V any] struct {
	inPct    int
	ghostPct int
}

// New constructs a 2Q policy factory. inPct bounds A1in as a percentage of
// the shard's resident entries (typically 25); ghostPct does the same for
// remembered ghost keys (typically 50). Values are clamped to [1..100].
func New[K comparable, V any](inPct, ghostPct int) policy.Policy[K, V] {
	return twoQPolicy[K, V]{inPct: clampPct(inPct), ghostPct: clampPct(ghostPct)}
}

func clampPct(p int) int {
	switch {
	case p < 1:
		return 1
	case p > 100:
		return 100
	}
	return p
}

func (p twoQPolicy[K, V]) New(h policy.Hooks[K, V]) policy.ShardPolicy[K, V] {
	return &twoQ[K, V]{
		h:         h,
		inPct:     p.inPct,
		ghostPct:  p.ghostPct,
		inList:    list.New(),
		inIdx:     make(map[policy.Node[K, V]]*list.Element),
		ghostList: list.New(),
		ghostIdx:  make(map[K]*list.Element),
	}
}

func (q *twoQ[K, V]) limit(pct int) int {
	n := q.h.Len() * pct / 100
	if n < 1 {
		return 1
	}
	return n
}

// OnAdd admits a ghost straight into Am and anything else into A1in.
func (q *twoQ[K, V]) OnAdd(n policy.Node[K, V]) {
	k := n.Key()
	q.h.PushFront(n)
	if ge, ok := q.ghostIdx[k]; ok {
		q.ghostList.Remove(ge)
		delete(q.ghostIdx, k)
		return
	}
	q.inIdx[n] = q.inList.PushFront(n)
}

// OnGet graduates an A1in node to Am and promotes it.
func (q *twoQ[K, V]) OnGet(n policy.Node[K, V]) {
	if el, ok := q.inIdx[n]; ok {
		q.inList.Remove(el)
		delete(q.inIdx, n)
	}
	q.h.MoveToFront(n)
}

// OnUpdate counts as a use.
func (q *twoQ[K, V]) OnUpdate(n policy.Node[K, V]) { q.OnGet(n) }

// OnRemove turns an A1in node into a ghost. Removals from Am leave no trace.
func (q *twoQ[K, V]) OnRemove(n policy.Node[K, V]) {
	el, ok := q.inIdx[n]
	if !ok {
		return
	}
	q.inList.Remove(el)
	delete(q.inIdx, n)

	k := n.Key()
	if old := q.ghostIdx[k]; old != nil {
		q.ghostList.Remove(old)
	}
	q.ghostIdx[k] = q.ghostList.PushFront(k)

	for capGhost := q.limit(q.ghostPct); q.ghostList.Len() > capGhost; {
		tail := q.ghostList.Back()
		delete(q.ghostIdx, tail.Value.(K))
		q.ghostList.Remove(tail)
	}
}

// Victim prefers the oldest probation entry while A1in is over its share,
// otherwise the LRU end of the shard list.
func (q *twoQ[K, V]) Victim() policy.Node[K, V] {
	if q.inList.Len() > q.limit(q.inPct) {
		return q.inList.Back().Value.(policy.Node[K, V])
	}
	return q.h.Back()
}
