package cache

import (
	"log/slog"

	"github.com/IvanBrykalov/loadcache/internal/workerpool"
)

// Executor runs background loads and listener notifications.
// Execute must eventually run every task it is given; dropping one would
// leave callers waiting on a load forever.
type Executor interface {
	Execute(task func())
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(task func())

func (f ExecutorFunc) Execute(task func()) { f(task) }

// GoExecutor runs every task on its own goroutine. Wait blocks until all
// started tasks have returned. The zero value is ready to use.
type GoExecutor struct {
	t workerpool.Tracker
}

func (e *GoExecutor) Execute(task func()) { e.t.Go(task) }

// Wait blocks until every task started so far has returned.
func (e *GoExecutor) Wait() { e.t.Wait() }

// PoolExecutor runs tasks on a fixed number of workers with an unbounded
// queue. Panicking tasks are logged and do not kill the worker.
type PoolExecutor struct {
	p *workerpool.Pool
}

// NewPoolExecutor starts a pool of the given size. A nil logger uses slog.Default().
func NewPoolExecutor(workers int, logger *slog.Logger) *PoolExecutor {
	return &PoolExecutor{p: workerpool.New(workers, logger)}
}

// Execute queues task. After Close the task runs on its own goroutine so
// that no waiter is stranded.
func (e *PoolExecutor) Execute(task func()) {
	if !e.p.Submit(task) {
		go task()
	}
}

// Wait blocks until the queue is empty and no task is running.
func (e *PoolExecutor) Wait() { e.p.Wait() }

// Close drains queued tasks and stops the workers.
func (e *PoolExecutor) Close() { e.p.Stop() }

// waiter is implemented by executors whose in-flight tasks can be awaited.
type waiter interface{ Wait() }

var (
	_ Executor = (*GoExecutor)(nil)
	_ Executor = (*PoolExecutor)(nil)
	_ waiter   = (*GoExecutor)(nil)
	_ waiter   = (*PoolExecutor)(nil)
)
