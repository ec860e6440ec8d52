package cache

import (
	"sync"

	"github.com/IvanBrykalov/loadcache/internal/util"
	"github.com/IvanBrykalov/loadcache/policy"
)

// shard is an independent partition of the cache with its own lock, map,
// pending computations and an intrusive doubly linked list (head=MRU, tail=LRU).
type shard[K comparable, V any] struct {
	// ---- guarded by mu ----
	mu      sync.RWMutex
	m       map[K]*node[K, V]
	flights map[K]*call[K, V] // at most one registered computation per key
	head    *node[K, V]       // MRU
	tail    *node[K, V]       // LRU
	len     int
	weight  int64

	pol policy.ShardPolicy[K, V]
	c   *cache[K, V]

	// ---- hot counters (separate cache lines to avoid false sharing) ----
	_      util.CacheLinePad
	hits   util.Counter
	misses util.Counter
	evicts util.Counter
}

func newShard[K comparable, V any](c *cache[K, V], capacity int) *shard[K, V] {
	s := &shard[K, V]{
		m:       make(map[K]*node[K, V], capacity),
		flights: make(map[K]*call[K, V]),
		c:       c,
	}
	s.pol = c.opt.Policy.New(shardHooks[K, V]{s: s})
	return s
}

// probe is the outcome of acquire.
type probe[K comparable, V any] struct {
	val V
	hit bool
	// call is the computation a missing key's caller must wait on.
	call *call[K, V]
	// leader is set when call was registered by this probe and must be run.
	leader bool
	// refresh is a reload claimed on a hit; the caller starts it in the background.
	refresh *call[K, V]
}

// acquire looks k up, recording the access. An expired entry is removed
// and counts as a miss. On a miss with claim set, the caller either joins
// the registered computation for k or registers a new one as its leader.
func (s *shard[K, V]) acquire(k K, now int64, claim bool) (p probe[K, V]) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n, ok := s.m[k]; ok {
		if !s.c.expired(n, now) {
			s.touchLocked(n, now)
			p.val, p.hit = n.val, true
			if s.c.refreshDue(n, now) && s.c.canLoad() && s.flights[k] == nil {
				p.refresh = s.c.newCall(k, n)
				s.flights[k] = p.refresh
			}
			s.hits.Add(1)
			s.c.metrics.Hit()
			return p
		}
		s.discardLocked(n, CauseExpired)
	}
	s.misses.Add(1)
	s.c.metrics.Miss()
	if !claim {
		return p
	}
	if cl, ok := s.flights[k]; ok {
		p.call = cl
		return p
	}
	p.call = s.c.newCall(k, nil)
	p.leader = true
	s.flights[k] = p.call
	return p
}

// claimRefresh registers a reload of k, or returns the computation already
// registered for it. A live entry's value is handed to the reload.
func (s *shard[K, V]) claimRefresh(k K, now int64) (*call[K, V], bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cl, ok := s.flights[k]; ok {
		return cl, false
	}
	var cur *node[K, V]
	if n, ok := s.m[k]; ok && !s.c.expired(n, now) {
		cur = n
	}
	cl := s.c.newCall(k, cur)
	s.flights[k] = cl
	return cl, true
}

// supersede drops k's entry and registers a new computation for it, taking
// over from any computation registered before.
func (s *shard[K, V]) supersede(k K) *call[K, V] {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n, ok := s.m[k]; ok {
		s.discardLocked(n, CauseReplaced)
	}
	cl := s.c.newCall(k, nil)
	s.flights[k] = cl
	return cl
}

// complete retires cl. Only the registered computation for the key may
// change the entry, and a success is installed only when no newer write
// happened since cl was claimed. It reports whether a value was installed.
func (s *shard[K, V]) complete(cl *call[K, V], v V, err error, now int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.flights[cl.key] != cl {
		return false
	}
	delete(s.flights, cl.key)

	cur := s.m[cl.key]
	if cur != nil && cur.gen > cl.gen {
		return false
	}
	if err != nil {
		// A reload that finds the key gone removes the stale entry; any other
		// failure leaves the entry as it was.
		if cl.refresh && cur != nil && isNotFound(err) {
			s.discardLocked(cur, CauseExplicit)
		}
		return false
	}
	s.storeLocked(cl.key, v, now, cl.gen)
	return true
}

// set stores k→v as a new write generation. A computation registered
// before it may no longer install; its waiters still get its result.
func (s *shard[K, V]) set(k K, v V, now int64) {
	s.mu.Lock()
	gen := s.c.gen.Add(1)
	if cl, ok := s.flights[k]; ok && cl.gen < gen {
		delete(s.flights, k)
	}
	s.storeLocked(k, v, now, gen)
	s.mu.Unlock()
}

// remove drops k's entry and forgets its registered computation, whose
// result will then be discarded. It reports whether an entry existed.
func (s *shard[K, V]) remove(k K) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.flights, k)
	n, ok := s.m[k]
	if !ok {
		return false
	}
	s.discardLocked(n, CauseExplicit)
	return true
}

// clear removes every entry and registered computation.
func (s *shard[K, V]) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	clear(s.flights)
	for _, n := range s.m {
		s.discardLocked(n, CauseExplicit)
	}
}

// sweep removes every expired entry.
func (s *shard[K, V]) sweep(now int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, n := range s.m {
		if s.c.expired(n, now) {
			s.discardLocked(n, CauseExpired)
		}
	}
}

// victim reports the access sequence of the node this shard would evict next.
func (s *shard[K, V]) victim() (uint64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v := s.pol.Victim()
	if v == nil {
		return 0, false
	}
	return v.(*node[K, V]).seq, true
}

// evictOne removes the policy's current victim. A victim that is already
// expired is reported as such rather than as an overflow eviction.
func (s *shard[K, V]) evictOne(cause RemovalCause, now int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := s.pol.Victim()
	if v == nil {
		return false
	}
	n := v.(*node[K, V])
	if s.c.expired(n, now) {
		cause = CauseExpired
	}
	s.discardLocked(n, cause)
	return true
}

// peek returns k's live value without recording an access.
func (s *shard[K, V]) peek(k K, now int64) (V, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if n, ok := s.m[k]; ok && !s.c.expired(n, now) {
		return n.val, true
	}
	var zero V
	return zero, false
}

// copyTo adds every live entry of the shard to dst.
func (s *shard[K, V]) copyTo(dst map[K]V, now int64) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for k, n := range s.m {
		if !s.c.expired(n, now) {
			dst[k] = n.val
		}
	}
}

// Len returns the number of resident entries in this shard.
func (s *shard[K, V]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.len
}

// -------------------- internals (mu held) --------------------

func (s *shard[K, V]) touchLocked(n *node[K, V], now int64) {
	n.accessAt = now
	n.seq = s.c.seq.Add(1)
	s.c.expireOnRead(n, now)
	s.pol.OnGet(n)
}

// storeLocked replaces k's value in place or admits a new node.
func (s *shard[K, V]) storeLocked(k K, v V, now int64, gen uint64) {
	w := s.c.weigh(k, v)
	if n, ok := s.m[k]; ok {
		old, cause := n.val, CauseReplaced
		if s.c.expired(n, now) {
			cause = CauseExpired
		}
		s.reweighLocked(n, w)
		n.val, n.gen = v, gen
		n.writeAt, n.accessAt = now, now
		n.seq = s.c.seq.Add(1)
		if cause == CauseExpired {
			s.c.expireOnCreate(n, now)
		} else {
			s.c.expireOnUpdate(n, now)
		}
		s.pol.OnUpdate(n)
		s.notifyLocked(k, old, cause)
		return
	}

	n := &node[K, V]{
		key:      k,
		val:      v,
		weight:   w,
		writeAt:  now,
		accessAt: now,
		seq:      s.c.seq.Add(1),
		gen:      gen,
	}
	s.c.expireOnCreate(n, now)
	s.m[k] = n
	s.pol.OnAdd(n)
}

// discardLocked unlinks n, deletes it from the map and reports the removal.
func (s *shard[K, V]) discardLocked(n *node[K, V], cause RemovalCause) {
	s.pol.OnRemove(n)
	s.removeNode(n)
	delete(s.m, n.key)
	if cause.WasEvicted() {
		s.evicts.Add(1)
		s.c.metrics.Evict(cause)
	}
	s.notifyLocked(n.key, n.val, cause)
}

func (s *shard[K, V]) notifyLocked(k K, v V, cause RemovalCause) {
	if d := s.c.notes; d != nil {
		d.enqueue(Notification[K, V]{Key: k, Value: v, Cause: cause})
	}
}

func (s *shard[K, V]) reweighLocked(n *node[K, V], w int64) {
	delta := w - n.weight
	n.weight = w
	s.weight += delta
	s.c.weight.Add(delta)
}

// insertFront inserts n at MRU in O(1).
func (s *shard[K, V]) insertFront(n *node[K, V]) {
	n.prev = nil
	n.next = s.head
	if s.head != nil {
		s.head.prev = n
	}
	s.head = n
	if s.tail == nil {
		s.tail = n
	}
	s.len++
	s.weight += n.weight
	s.c.count.Add(1)
	s.c.weight.Add(n.weight)
}

// moveToFront promotes n to MRU in O(1).
func (s *shard[K, V]) moveToFront(n *node[K, V]) {
	if n == s.head {
		return
	}
	if n.prev != nil {
		n.prev.next = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	}
	if s.tail == n {
		s.tail = n.prev
	}
	n.prev = nil
	n.next = s.head
	if s.head != nil {
		s.head.prev = n
	}
	s.head = n
	if s.tail == nil {
		s.tail = n
	}
}

// removeNode removes n from the list and updates counters in O(1).
func (s *shard[K, V]) removeNode(n *node[K, V]) {
	if n.prev != nil {
		n.prev.next = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	}
	if s.head == n {
		s.head = n.next
	}
	if s.tail == n {
		s.tail = n.prev
	}
	n.prev, n.next = nil, nil
	s.len--
	s.weight -= n.weight
	s.c.count.Add(-1)
	s.c.weight.Add(-n.weight)
}

// -------------------- policy hooks --------------------

// shardHooks adapts the shard's list operations to policy.Hooks.
type shardHooks[K comparable, V any] struct{ s *shard[K, V] }

func (h shardHooks[K, V]) MoveToFront(x policy.Node[K, V]) { h.s.moveToFront(x.(*node[K, V])) }
func (h shardHooks[K, V]) PushFront(x policy.Node[K, V])   { h.s.insertFront(x.(*node[K, V])) }
func (h shardHooks[K, V]) Remove(x policy.Node[K, V])      { h.s.removeNode(x.(*node[K, V])) }
func (h shardHooks[K, V]) Len() int                        { return h.s.len }

// Back returns the LRU node, or a nil interface for an empty list.
func (h shardHooks[K, V]) Back() policy.Node[K, V] {
	if t := h.s.tail; t != nil {
		return t
	}
	return nil
}
