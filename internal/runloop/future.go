package runloop

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrTimeout is returned when an awaited action did not complete within
	// its budget. The action itself may still run later; its effects apply
	// against state the caller has already given up on.
	ErrTimeout = errors.New("runloop: await timed out")
	// ErrQueueFull is returned when the action could not be enqueued.
	ErrQueueFull = errors.New("runloop: queue full")
)

const DefaultAwaitTimeout = 5 * time.Second

// Future carries the result of an action submitted to the queue.
type Future[T any] struct {
	once sync.Once
	done chan struct{}
	val  T
	err  error
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

func (f *Future[T]) resolve(v T, err error) {
	f.once.Do(func() {
		f.val = v
		f.err = err
		close(f.done)
	})
}

// Done reports completion without blocking.
func (f *Future[T]) Done() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Await blocks until the future resolves, the context is cancelled, or the
// timeout elapses. A non-positive timeout uses DefaultAwaitTimeout.
func (f *Future[T]) Await(ctx context.Context, timeout time.Duration) (T, error) {
	if timeout <= 0 {
		timeout = DefaultAwaitTimeout
	}
	tmr := time.NewTimer(timeout)
	defer tmr.Stop()

	var zero T
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-tmr.C:
		return zero, ErrTimeout
	}
}

// Submit enqueues fn and returns a future for its result.
//
// The returned future resolves when the queue eventually drains fn. If the
// caller stops awaiting (timeout/cancel) the action still runs harmlessly.
func Submit[T any](q *Queue, fn func() (T, error)) (*Future[T], error) {
	f := newFuture[T]()
	ok := q.Enqueue(func() {
		v, err := fn()
		f.resolve(v, err)
	})
	if !ok {
		return nil, ErrQueueFull
	}
	return f, nil
}

// Call is Submit + Await in one step: the common shape for async API methods.
func Call[T any](ctx context.Context, q *Queue, timeout time.Duration, fn func() (T, error)) (T, error) {
	f, err := Submit(q, fn)
	if err != nil {
		var zero T
		return zero, err
	}
	return f.Await(ctx, timeout)
}
