// Package memory provides the in-memory work queue feeding the sequencer.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/post-archiver/internal/archive"
)

// ErrClosed is returned by Dequeue once the queue is closed and drained.
var ErrClosed = errors.New("queue closed")

// Queue is a bounded FIFO of records with context-aware operations.
type Queue struct {
	ch      chan archive.Record
	closeMu sync.Mutex
	closed  bool
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue{
		ch: make(chan archive.Record, capacity),
	}
}

// Enqueue pushes a record into the queue or returns if the context ends.
func (q *Queue) Enqueue(ctx context.Context, rec archive.Record) error {
	q.closeMu.Lock()
	closed := q.closed
	q.closeMu.Unlock()
	if closed {
		return ErrClosed
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- rec:
		return nil
	}
}

// Dequeue pops the next record, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (archive.Record, error) {
	select {
	case <-ctx.Done():
		return archive.Record{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case rec, ok := <-q.ch:
		if !ok {
			return archive.Record{}, ErrClosed
		}
		return rec, nil
	}
}

// Len reports the number of records waiting.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close stops further enqueues; queued records can still be dequeued. Close
// must not race with a pending Enqueue.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
