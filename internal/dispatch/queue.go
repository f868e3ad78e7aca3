// Package dispatch runs deferred work for one pipe in submission order.
package dispatch

import (
	"errors"
	"sync"
)

var ErrQueueClosed = errors.New("dispatch: queue closed")

// SerialQueue runs posted tasks one at a time on a single goroutine, in the
// order they were posted.
type SerialQueue struct {
	tasks chan func()
	done  chan struct{}

	mu     sync.Mutex
	closed bool
	quit   chan struct{}
}

// NewSerialQueue starts a queue buffering up to depth pending tasks. Post
// blocks while the buffer is full.
func NewSerialQueue(depth int) *SerialQueue {
	if depth < 1 {
		depth = 1
	}
	q := &SerialQueue{
		tasks: make(chan func(), depth),
		done:  make(chan struct{}),
		quit:  make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *SerialQueue) run() {
	defer close(q.done)
	for {
		select {
		case <-q.quit:
			return
		case task := <-q.tasks:
			select {
			case <-q.quit:
				return
			default:
			}
			task()
		}
	}
}

// Post enqueues task. It fails with ErrQueueClosed after Close.
func (q *SerialQueue) Post(task func()) error {
	if task == nil {
		return nil
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	q.mu.Unlock()

	select {
	case <-q.quit:
		return ErrQueueClosed
	case q.tasks <- task:
		return nil
	}
}

// Close stops the queue. Tasks still pending are dropped; a running task
// finishes first. Close waits for the worker to exit.
func (q *SerialQueue) Close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.quit)
	}
	q.mu.Unlock()
	<-q.done
}
