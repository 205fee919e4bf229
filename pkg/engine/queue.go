package engine

import (
	"context"
	"errors"
	"sync"
)

// ErrQueueClosed is returned for jobs scheduled on a closed SerialQueue.
var ErrQueueClosed = errors.New("serial queue is closed")

// SerialQueue runs jobs one at a time in submission order. A single queue
// is shared by every caller that must not interleave, so two reconcile
// calls on the same reconciler never run upserts concurrently.
type SerialQueue struct {
	mu      sync.Mutex
	jobs    []serialJob
	running bool
	closed  bool
	idle    chan struct{}
}

type serialJob struct {
	ctx  context.Context
	fn   func(context.Context) error
	done chan error
}

// NewSerialQueue creates an empty queue. The worker goroutine only exists
// while jobs are pending.
func NewSerialQueue() *SerialQueue {
	return &SerialQueue{}
}

// Schedule enqueues fn and returns a channel that receives its result. If
// ctx is done by the time the job reaches the head of the queue, fn is not
// run and the channel receives ctx.Err().
func (q *SerialQueue) Schedule(ctx context.Context, fn func(context.Context) error) <-chan error {
	done := make(chan error, 1)

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		done <- ErrQueueClosed
		return done
	}
	q.jobs = append(q.jobs, serialJob{ctx: ctx, fn: fn, done: done})
	if !q.running {
		q.running = true
		q.idle = make(chan struct{})
		go q.run()
	}
	q.mu.Unlock()

	return done
}

// Len returns the number of jobs waiting to run.
func (q *SerialQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// Close rejects new jobs and waits for the pending ones to drain.
func (q *SerialQueue) Close() {
	q.mu.Lock()
	q.closed = true
	idle := q.idle
	running := q.running
	q.mu.Unlock()

	if running {
		<-idle
	}
}

func (q *SerialQueue) run() {
	for {
		q.mu.Lock()
		if len(q.jobs) == 0 {
			q.running = false
			close(q.idle)
			q.mu.Unlock()
			return
		}
		job := q.jobs[0]
		q.jobs[0] = serialJob{}
		q.jobs = q.jobs[1:]
		q.mu.Unlock()

		if err := job.ctx.Err(); err != nil {
			job.done <- err
			continue
		}
		job.done <- job.fn(job.ctx)
	}
}
