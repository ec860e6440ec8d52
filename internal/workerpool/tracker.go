package workerpool

import "sync"

// Tracker counts goroutines started outside a Pool so they can be awaited.
// Unlike sync.WaitGroup, Add may race with Wait at a zero count.
type Tracker struct {
	mu   sync.Mutex
	cond *sync.Cond
	n    int
}

// Go runs task on a new goroutine and tracks it until it returns.
func (t *Tracker) Go(task func()) {
	t.mu.Lock()
	if t.cond == nil {
		t.cond = sync.NewCond(&t.mu)
	}
	t.n++
	t.mu.Unlock()

	go func() {
		defer t.done()
		task()
	}()
}

func (t *Tracker) done() {
	t.mu.Lock()
	t.n--
	if t.n == 0 {
		t.cond.Broadcast()
	}
	t.mu.Unlock()
}

// Wait blocks until every tracked goroutine has returned.
func (t *Tracker) Wait() {
	t.mu.Lock()
	for t.n > 0 {
		t.cond.Wait()
	}
	t.mu.Unlock()
}
