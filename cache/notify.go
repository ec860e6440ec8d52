package cache

import (
	"context"
	"log/slog"
	"sync"
)

// dispatcher hands removal notifications to the Executor in FIFO order.
// enqueue is called under shard locks and never blocks: the queue is
// unbounded and drained by a single goroutine.
type dispatcher[K comparable, V any] struct {
	mu     sync.Mutex
	queue  []Notification[K, V]
	closed bool
	wake   chan struct{}
	done   chan struct{}

	exec    Executor
	deliver func(Notification[K, V])
}

func newDispatcher[K comparable, V any](exec Executor, deliver func(Notification[K, V])) *dispatcher[K, V] {
	d := &dispatcher[K, V]{
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		exec:    exec,
		deliver: deliver,
	}
	go d.run()
	return d
}

func (d *dispatcher[K, V]) enqueue(n Notification[K, V]) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.queue = append(d.queue, n)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *dispatcher[K, V]) run() {
	defer close(d.done)
	for {
		d.mu.Lock()
		batch, closed := d.queue, d.closed
		d.queue = nil
		d.mu.Unlock()

		for _, n := range batch {
			d.exec.Execute(func() { d.deliver(n) })
		}
		if len(batch) == 0 {
			if closed {
				return
			}
			<-d.wake
		}
	}
}

// close stops accepting notifications and returns once everything queued
// has been handed to the Executor.
func (d *dispatcher[K, V]) close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	select {
	case d.wake <- struct{}{}:
	default:
	}
	<-d.done
}

// deliver runs the configured listeners for one notification. Each
// listener is isolated: a panic in one is recovered, logged and counted,
// and does not keep the other from running.
func (c *cache[K, V]) deliver(n Notification[K, V]) {
	if l := c.opt.EvictionListener; l != nil && n.Cause.WasEvicted() {
		c.listen(c.listenCtx, "eviction", l, n)
	}
	if l := c.opt.RemovalListener; l != nil {
		c.listen(c.listenCtx, "removal", l, n)
	}
}

func (c *cache[K, V]) listen(ctx context.Context, kind string, l Listener[K, V], n Notification[K, V]) {
	defer func() {
		if r := recover(); r != nil {
			c.listenerErr.Add(1)
			c.metrics.ListenerFailure()
			c.logger.Error("cache: listener panic recovered",
				slog.String("listener", kind),
				slog.Any("key", n.Key),
				slog.String("cause", n.Cause.String()),
				slog.Any("panic", r))
		}
	}()
	l(ctx, n)
}
