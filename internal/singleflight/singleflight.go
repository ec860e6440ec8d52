// Package singleflight provides the promise a cache hands to every caller
// interested in one in-flight computation.
package singleflight

import (
	"context"
	"sync"
)

// Call is a single computation shared by any number of waiters.
//
// Concurrency notes:
//   - Resolve publishes (val, err) before closing done, so reads after
//     <-done observe the final values.
//   - Only the first Resolve wins; later ones are ignored.
//   - A waiter whose ctx ends stops waiting but does not cancel the
//     computation itself.
type Call[V any] struct {
	done chan struct{}
	once sync.Once
	val  V
	err  error
}

// NewCall returns an unresolved call.
func NewCall[V any]() *Call[V] {
	return &Call[V]{done: make(chan struct{})}
}

// Resolve publishes the outcome and wakes every waiter. It reports whether
// this invocation was the one that resolved the call.
func (c *Call[V]) Resolve(v V, err error) bool {
	won := false
	c.once.Do(func() {
		c.val, c.err = v, err
		close(c.done)
		won = true
	})
	return won
}

// Done is closed once the call is resolved.
func (c *Call[V]) Done() <-chan struct{} { return c.done }

// Wait blocks until the call is resolved or ctx ends. An already resolved
// call always reports its outcome, even with a cancelled ctx.
func (c *Call[V]) Wait(ctx context.Context) (V, error) {
	select {
	case <-c.done:
		return c.val, c.err
	default:
	}
	select {
	case <-c.done:
		return c.val, c.err
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}
