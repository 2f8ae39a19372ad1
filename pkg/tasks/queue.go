// Package tasks runs fire-and-forget downstream enrichment work on a
// bounded queue with its own error handling, detached from the request
// that submitted it.
package tasks

import (
	"context"
	"log"
	"sync"
)

// Task is one unit of background work.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Queue executes submitted tasks on a fixed worker pool. Task failures
// are logged and never surfaced to or retried for the submitter.
type Queue struct {
	ch     chan Task
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
}

// New starts a Queue with the given worker count and buffer size.
func New(workers, size int) *Queue {
	if workers <= 0 {
		workers = 1
	}
	if size <= 0 {
		size = 16
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{ch: make(chan Task, size), ctx: ctx, cancel: cancel}
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	return q
}

// Submit enqueues a task without blocking. When the queue is full the
// task is dropped with a log line; background enrichment is best-effort.
func (q *Queue) Submit(t Task) {
	select {
	case q.ch <- t:
	default:
		log.Printf("task queue full, dropping %s", t.Name)
	}
}

// Close stops accepting work, drains queued tasks, and waits for workers.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		close(q.ch)
		q.wg.Wait()
		q.cancel()
	})
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for t := range q.ch {
		q.run(t)
	}
}

func (q *Queue) run(t Task) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("task %s panicked: %v", t.Name, r)
		}
	}()
	if err := t.Run(q.ctx); err != nil {
		log.Printf("task %s failed: %v", t.Name, err)
	}
}
