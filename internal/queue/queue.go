package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

var ErrClosed = errors.New("queue closed")

// Queue hands job IDs from the intake side to the workers. The payload is
// only the ID; the job record in the store is the source of truth.
type Queue interface {
	Enqueue(ctx context.Context, jobID uuid.UUID) error
	// Dequeue blocks until a job ID is available, the context is canceled,
	// or the queue is closed.
	Dequeue(ctx context.Context) (uuid.UUID, error)
	Close() error
}

// memoryQueue is a buffered-channel queue for single-process deployments
// and tests.
type memoryQueue struct {
	ch        chan uuid.UUID
	done      chan struct{}
	closeOnce sync.Once
	log       *slog.Logger
}

// NewMemory builds an in-process queue with the given buffer size.
func NewMemory(size int, log *slog.Logger) Queue {
	if size <= 0 {
		size = 256
	}
	if log == nil {
		log = slog.Default()
	}
	return &memoryQueue{
		ch:   make(chan uuid.UUID, size),
		done: make(chan struct{}),
		log:  log,
	}
}

func (q *memoryQueue) Enqueue(ctx context.Context, jobID uuid.UUID) error {
	select {
	case <-q.done:
		return ErrClosed
	default:
	}

	select {
	case q.ch <- jobID:
		q.log.Debug("job enqueued", "job_id", jobID)
		return nil
	case <-q.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *memoryQueue) Dequeue(ctx context.Context) (uuid.UUID, error) {
	// Drain buffered IDs even after Close so shutdown does not drop work
	// that was already accepted.
	select {
	case id := <-q.ch:
		return id, nil
	default:
	}

	select {
	case id := <-q.ch:
		return id, nil
	case <-q.done:
		return uuid.Nil, ErrClosed
	case <-ctx.Done():
		return uuid.Nil, ctx.Err()
	}
}

func (q *memoryQueue) Close() error {
	q.closeOnce.Do(func() { close(q.done) })
	return nil
}
