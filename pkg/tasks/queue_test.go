package tasks

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestExecutesSubmittedTasks(t *testing.T) {
	q := New(2, 8)
	defer q.Close()

	var ran atomic.Int64
	done := make(chan struct{})
	for i := 0; i < 5; i++ {
		last := i == 4
		q.Submit(Task{Name: "count", Run: func(ctx context.Context) error {
			ran.Add(1)
			if last {
				close(done)
			}
			return nil
		}})
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("tasks did not run")
	}
}

func TestFailureIsAbsorbed(t *testing.T) {
	q := New(1, 4)

	ok := make(chan struct{})
	q.Submit(Task{Name: "fails", Run: func(ctx context.Context) error {
		return errors.New("boom")
	}})
	q.Submit(Task{Name: "panics", Run: func(ctx context.Context) error {
		panic("worker must survive this")
	}})
	q.Submit(Task{Name: "after", Run: func(ctx context.Context) error {
		close(ok)
		return nil
	}})

	select {
	case <-ok:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not survive earlier failures")
	}
	q.Close()
}

func TestCloseDrainsQueue(t *testing.T) {
	q := New(1, 8)

	var ran atomic.Int64
	for i := 0; i < 5; i++ {
		q.Submit(Task{Name: "drain", Run: func(ctx context.Context) error {
			ran.Add(1)
			return nil
		}})
	}
	q.Close()

	if got := ran.Load(); got != 5 {
		t.Errorf("expected all 5 queued tasks to run before close returned, got %d", got)
	}
}

func TestFullQueueDropsInsteadOfBlocking(t *testing.T) {
	q := New(1, 1)
	defer q.Close()

	block := make(chan struct{})
	q.Submit(Task{Name: "blocker", Run: func(ctx context.Context) error {
		<-block
		return nil
	}})

	// Fill the buffer, then overflow it; Submit must return promptly.
	doneSubmitting := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			q.Submit(Task{Name: "overflow", Run: func(ctx context.Context) error { return nil }})
		}
		close(doneSubmitting)
	}()

	select {
	case <-doneSubmitting:
	case <-time.After(time.Second):
		t.Fatal("Submit blocked on a full queue")
	}
	close(block)
}
