package coordinator

import "sync"

// queue runs jobs one at a time in push order on its own goroutine.
// Jobs already queued when the queue is closed still run; pushes after
// close are refused.
type queue struct {
	mu     sync.Mutex
	jobs   []func()
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

func newQueue() *queue {
	q := &queue{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}

	go q.run()

	return q
}

// push appends a job. It reports false when the queue is closed.
func (q *queue) push(job func()) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()

		return false
	}

	q.jobs = append(q.jobs, job)
	q.mu.Unlock()

	q.signal()

	return true
}

// close refuses further pushes. The worker exits once the backlog drains.
func (q *queue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	q.signal()
}

func (q *queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *queue) run() {
	defer close(q.done)

	for {
		q.mu.Lock()
		for len(q.jobs) == 0 {
			if q.closed {
				q.mu.Unlock()

				return
			}

			q.mu.Unlock()
			<-q.wake
			q.mu.Lock()
		}

		job := q.jobs[0]
		q.jobs[0] = nil
		q.jobs = q.jobs[1:]
		q.mu.Unlock()

		job()
	}
}
