package filecache

import (
	"context"
	"sync"
)

type task struct {
	url    string
	path   string
	policy Policy
}

// queue is an unbounded FIFO drained by a fixed set of workers. A path that
// is already queued or downloading is not queued again.
type queue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	tasks   []task
	pending map[string]struct{}
	closed  bool
	active  int
	peak    int

	run     func(task)
	workers sync.WaitGroup
}

func newQueue(workers int, run func(task)) *queue {
	q := &queue{
		pending: map[string]struct{}{},
		run:     run,
	}
	q.cond = sync.NewCond(&q.mu)

	for range workers {
		q.workers.Go(q.work)
	}

	return q
}

// push appends t, reporting false if its path is already pending.
func (q *queue) push(t task) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false, ErrClosed
	}
	if _, ok := q.pending[t.path]; ok {
		return false, nil
	}

	q.pending[t.path] = struct{}{}
	q.tasks = append(q.tasks, t)
	q.cond.Signal()

	return true, nil
}

func (q *queue) work() {
	for {
		t, ok := q.next()
		if !ok {
			return
		}

		q.run(t)

		q.mu.Lock()
		q.active--
		delete(q.pending, t.path)
		q.mu.Unlock()
	}
}

// next blocks until a task is available. It returns false once the queue is
// closed and empty.
func (q *queue) next() (task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.tasks) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.tasks) == 0 {
		return task{}, false
	}

	t := q.tasks[0]
	q.tasks[0] = task{}
	q.tasks = q.tasks[1:]

	q.active++
	q.peak = max(q.peak, q.active)

	return t, true
}

// close lets the workers drain the remaining tasks and exit.
func (q *queue) close(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.workers.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// stats returns the downloads in progress and the most seen at once.
func (q *queue) stats() (active, peak int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.active, q.peak
}
