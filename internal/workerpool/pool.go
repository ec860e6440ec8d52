// Package workerpool runs func() tasks on a fixed set of goroutines.
package workerpool

import (
	"log/slog"
	"sync"
)

// Pool is a fixed-size worker pool with an unbounded FIFO queue. Submit never
// blocks and never drops an accepted task; Stop drains what is queued before
// returning. A panicking task is recovered and logged, the worker survives.
type Pool struct {
	workers int
	logger  *slog.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []func()
	running int
	stopped bool

	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New starts a pool with the given number of workers (minimum 1).
// A nil logger falls back to slog.Default().
func New(workers int, logger *slog.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{workers: workers, logger: logger}
	p.cond = sync.NewCond(&p.mu)
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.stopped {
			p.cond.Wait()
		}
		if len(p.queue) == 0 {
			p.mu.Unlock()
			return
		}
		task := p.queue[0]
		p.queue[0] = nil
		p.queue = p.queue[1:]
		p.running++
		p.mu.Unlock()

		p.run(task)

		p.mu.Lock()
		p.running--
		if p.running == 0 && len(p.queue) == 0 {
			p.cond.Broadcast()
		}
		p.mu.Unlock()
	}
}

func (p *Pool) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("workerpool: task panic recovered", slog.Any("panic", r))
		}
	}()
	task()
}

// Submit queues task. It returns false once the pool is stopped.
func (p *Pool) Submit(task func()) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return false
	}
	p.queue = append(p.queue, task)
	p.cond.Signal()
	return true
}

// Wait blocks until the queue is empty and no task is running.
func (p *Pool) Wait() {
	p.mu.Lock()
	for len(p.queue) > 0 || p.running > 0 {
		p.cond.Wait()
	}
	p.mu.Unlock()
}

// Stop rejects new tasks, runs everything already queued and waits for the
// workers to exit. Safe to call more than once.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.stopped = true
		p.cond.Broadcast()
		p.mu.Unlock()
		p.wg.Wait()
	})
}

// Workers returns the number of worker goroutines.
func (p *Pool) Workers() int { return p.workers }

// Pending returns the number of queued, not yet started tasks.
func (p *Pool) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}
