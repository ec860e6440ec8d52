package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/IvanBrykalov/loadcache/internal/singleflight"
)

// call is a computation registered for one key. Every caller interested in
// the key waits on the same call and observes the same outcome.
type call[K comparable, V any] struct {
	*singleflight.Call[V]
	key K
	// gen orders the call against direct writes; see shard.complete.
	gen uint64
	// refresh marks a reload of a cached value, old being that value.
	refresh bool
	old     V
}

// newCall stamps a computation for k. cur is the live entry being
// reloaded, or nil for an initial load.
func (c *cache[K, V]) newCall(k K, cur *node[K, V]) *call[K, V] {
	cl := &call[K, V]{Call: singleflight.NewCall[V](), key: k, gen: c.gen.Add(1)}
	if cur != nil {
		cl.refresh, cl.old = true, cur.val
	}
	return cl
}

func isNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

func (c *cache[K, V]) canLoad() bool { return c.opt.Loader != nil || c.opt.BulkLoader != nil }

// loader returns the cache-wide single-key loader, built on BulkLoader when
// only that is configured. Nil when the cache cannot load.
func (c *cache[K, V]) loader() LoaderFunc[K, V] {
	if c.opt.Loader != nil {
		return c.opt.Loader
	}
	bulk := c.opt.BulkLoader
	if bulk == nil {
		return nil
	}
	return func(ctx context.Context, k K) (V, error) {
		m, err := bulk(ctx, []K{k})
		if err != nil {
			var zero V
			return zero, err
		}
		v, ok := m[k]
		if c.installExtra(m, map[K]struct{}{k: {}}) {
			c.enforceLimits()
		}
		if !ok {
			return v, ErrNotFound
		}
		return v, nil
	}
}

// reloadFn picks the computation for a refresh call.
func (c *cache[K, V]) reloadFn(cl *call[K, V]) func(context.Context) (V, error) {
	if cl.refresh && c.opt.Reloader != nil {
		return func(ctx context.Context) (V, error) { return c.opt.Reloader(ctx, cl.key, cl.old) }
	}
	load := c.loader()
	return func(ctx context.Context) (V, error) { return load(ctx, cl.key) }
}

// load returns k's value, computing it with fn on a miss. Concurrent
// callers for the same key share one computation.
func (c *cache[K, V]) load(ctx context.Context, k K, fn LoaderFunc[K, V]) (V, error) {
	p := c.shardFor(k).acquire(k, c.now(), true)
	if p.hit {
		c.startRefresh(p.refresh)
		return p.val, nil
	}
	if p.leader {
		c.run(ctx, p.call, func(ctx context.Context) (V, error) { return fn(ctx, k) })
	}
	return p.call.Wait(ctx)
}

// run executes fn for cl: inline with the caller's ctx in calling-context
// mode, otherwise on the Executor with the cache context.
func (c *cache[K, V]) run(ctx context.Context, cl *call[K, V], fn func(context.Context) (V, error)) {
	if c.opt.UseCallingContext {
		c.finish(ctx, cl, fn)
		return
	}
	c.exec.Execute(func() { c.finish(c.ctx, cl, fn) })
}

// startRefresh runs a reload claimed by a read. It always runs in the
// background so the read is never held up.
func (c *cache[K, V]) startRefresh(cl *call[K, V]) {
	if cl == nil {
		return
	}
	c.exec.Execute(func() { c.finish(c.ctx, cl, c.reloadFn(cl)) })
}

// finish computes cl's value, settles the entry and then wakes the waiters,
// so a waiter that returns sees the installed value.
func (c *cache[K, V]) finish(ctx context.Context, cl *call[K, V], fn func(context.Context) (V, error)) {
	v, err := c.invoke(ctx, fn)
	if c.shardFor(cl.key).complete(cl, v, err, c.now()) {
		c.enforceLimits()
	}
	if err != nil && cl.refresh && !isNotFound(err) {
		c.logger.Warn("cache: refresh failed, keeping the current value",
			slog.Any("key", cl.key), slog.Any("error", err))
	}
	cl.Resolve(v, err)
}

// invoke calls fn, turning a panic into an ErrLoadPanic error, and records
// the outcome in the load statistics.
func (c *cache[K, V]) invoke(ctx context.Context, fn func(context.Context) (V, error)) (v V, err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			var zero V
			v, err = zero, fmt.Errorf("%w: %v", ErrLoadPanic, r)
			c.logger.Error("cache: loader panic recovered", slog.Any("panic", r))
		}
		c.recordLoad(time.Since(start), err)
	}()
	return fn(ctx)
}

// getAll resolves keys, batching every missing key this call claims into
// one bulk computation (or one computation per key when only single is set).
func (c *cache[K, V]) getAll(ctx context.Context, keys []K, bulk BulkLoaderFunc[K, V], single LoaderFunc[K, V]) (map[K]V, error) {
	keys = dedupe(keys)
	result := make(map[K]V, len(keys))
	now := c.now()
	claim := bulk != nil || single != nil

	var claimed, joined []*call[K, V]
	var missing bool
	for _, k := range keys {
		p := c.shardFor(k).acquire(k, now, claim)
		switch {
		case p.hit:
			result[k] = p.val
			c.startRefresh(p.refresh)
		case p.leader:
			claimed = append(claimed, p.call)
		case p.call != nil:
			joined = append(joined, p.call)
		default:
			missing = true
		}
	}
	if missing {
		return result, ErrNoLoader
	}

	if len(claimed) > 0 {
		if bulk != nil {
			c.runBatch(ctx, claimed, bulk)
		} else {
			for _, cl := range claimed {
				k := cl.key
				c.run(ctx, cl, func(ctx context.Context) (V, error) { return single(ctx, k) })
			}
		}
	}
	return collect(ctx, result, append(claimed, joined...))
}

// collect waits for calls and merges their values into result. Absent keys
// are left out. Distinct failures are joined; a cancelled ctx stops early.
func collect[K comparable, V any](ctx context.Context, result map[K]V, calls []*call[K, V]) (map[K]V, error) {
	var errs []error
	for _, cl := range calls {
		v, err := cl.Wait(ctx)
		switch {
		case err == nil:
			result[cl.key] = v
		case isNotFound(err):
		case ctx.Err() != nil:
			return result, ctx.Err()
		default:
			errs = appendDistinct(errs, err)
		}
	}
	return result, joinErrors(errs)
}

// joinErrors returns nil, the only error, or all of them joined.
func joinErrors(errs []error) error {
	if len(errs) == 1 {
		return errs[0]
	}
	return errors.Join(errs...)
}

func appendDistinct(errs []error, err error) []error {
	for _, e := range errs {
		if e == err || errors.Is(e, err) {
			return errs
		}
	}
	return append(errs, err)
}

// runBatch computes every claimed key with one bulk call. A failed batch
// fails all of them with the same error.
func (c *cache[K, V]) runBatch(ctx context.Context, calls []*call[K, V], bulk BulkLoaderFunc[K, V]) {
	task := func(ctx context.Context) {
		keys := make([]K, len(calls))
		for i, cl := range calls {
			keys[i] = cl.key
		}
		var m map[K]V
		_, err := c.invoke(ctx, func(ctx context.Context) (V, error) {
			var zero V
			var err error
			m, err = bulk(ctx, keys)
			return zero, err
		})
		c.finishBatch(calls, m, err)
	}
	if c.opt.UseCallingContext {
		task(ctx)
		return
	}
	c.exec.Execute(func() { task(c.ctx) })
}

func (c *cache[K, V]) finishBatch(calls []*call[K, V], m map[K]V, err error) {
	type outcome struct {
		v   V
		err error
	}
	now := c.now()
	out := make([]outcome, len(calls))
	asked := make(map[K]struct{}, len(calls))
	installed := false
	for i, cl := range calls {
		asked[cl.key] = struct{}{}
		o := outcome{err: err}
		if err == nil {
			var ok bool
			if o.v, ok = m[cl.key]; !ok {
				o.err = ErrNotFound
			}
		}
		if c.shardFor(cl.key).complete(cl, o.v, o.err, now) {
			installed = true
		}
		out[i] = o
	}
	if err == nil && c.installExtra(m, asked) {
		installed = true
	}
	if installed {
		c.enforceLimits()
	}
	for i, cl := range calls {
		if o := out[i]; o.err != nil && cl.refresh && !isNotFound(o.err) {
			c.logger.Warn("cache: refresh failed, keeping the current value",
				slog.Any("key", cl.key), slog.Any("error", o.err))
		}
		cl.Resolve(out[i].v, out[i].err)
	}
}

// installExtra caches values a bulk loader returned beyond the asked keys.
// It reports whether anything was stored.
func (c *cache[K, V]) installExtra(m map[K]V, asked map[K]struct{}) bool {
	now := c.now()
	stored := false
	for k, v := range m {
		if _, ok := asked[k]; ok {
			continue
		}
		c.shardFor(k).set(k, v, now)
		stored = true
	}
	return stored
}

// refresh reloads k, joining any computation already registered for it.
func (c *cache[K, V]) refresh(ctx context.Context, k K) (V, error) {
	cl, leader := c.shardFor(k).claimRefresh(k, c.now())
	if leader {
		c.run(ctx, cl, c.reloadFn(cl))
	}
	return cl.Wait(ctx)
}

// refreshAll reloads keys. With a bulk loader and no Reloader the claimed
// keys share one batch; otherwise they are reloaded in parallel.
func (c *cache[K, V]) refreshAll(ctx context.Context, keys []K) (map[K]V, error) {
	keys = dedupe(keys)
	result := make(map[K]V, len(keys))

	if c.opt.BulkLoader != nil && c.opt.Reloader == nil {
		now := c.now()
		var claimed, joined []*call[K, V]
		for _, k := range keys {
			cl, leader := c.shardFor(k).claimRefresh(k, now)
			if leader {
				claimed = append(claimed, cl)
			} else {
				joined = append(joined, cl)
			}
		}
		if len(claimed) > 0 {
			c.runBatch(ctx, claimed, c.opt.BulkLoader)
		}
		return collect(ctx, result, append(claimed, joined...))
	}

	values := make([]V, len(keys))
	errs := make([]error, len(keys))
	// A failing key must not cancel its siblings, so the group carries no
	// derived context and its tasks never return an error.
	var g errgroup.Group
	g.SetLimit(refreshParallelism)
	for i, k := range keys {
		g.Go(func() error {
			values[i], errs[i] = c.refresh(ctx, k)
			return nil
		})
	}
	_ = g.Wait()
	var failed []error
	for i, k := range keys {
		switch err := errs[i]; {
		case err == nil:
			result[k] = values[i]
		case isNotFound(err):
		default:
			failed = appendDistinct(failed, err)
		}
	}
	if err := ctx.Err(); err != nil {
		return result, err
	}
	return result, joinErrors(failed)
}

// refreshParallelism bounds concurrent reloads started by RefreshAll.
const refreshParallelism = 16

func dedupe[K comparable](keys []K) []K {
	seen := make(map[K]struct{}, len(keys))
	out := make([]K, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
