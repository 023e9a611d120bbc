package runloop

import (
	"context"
	"errors"
	"testing"
	"time"

	"notisched/pkg/logx"
)

func TestDrainFIFOOrder(t *testing.T) {
	q := NewQueue(Config{Capacity: 16}, logx.Nop())

	var got []int
	for i := 0; i < 5; i++ {
		i := i
		if !q.Enqueue(func() { got = append(got, i) }) {
			t.Fatalf("enqueue %d rejected", i)
		}
	}

	ran := q.Drain(0, time.Second)
	if ran != 5 {
		t.Fatalf("expected 5 executed, got %d", ran)
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("out of order at %d: %v", i, got)
		}
	}
}

func TestDrainRespectsMaxCount(t *testing.T) {
	q := NewQueue(Config{Capacity: 64}, logx.Nop())
	for i := 0; i < 10; i++ {
		q.Enqueue(func() {})
	}

	if ran := q.Drain(3, time.Second); ran != 3 {
		t.Fatalf("expected 3 executed, got %d", ran)
	}
	if q.Len() != 7 {
		t.Fatalf("expected 7 pending, got %d", q.Len())
	}
}

func TestOverflowReject(t *testing.T) {
	q := NewQueue(Config{Capacity: 2, Overflow: Reject}, logx.Nop())
	q.Enqueue(func() {})
	q.Enqueue(func() {})

	if q.Enqueue(func() {}) {
		t.Fatalf("expected rejection at capacity")
	}
	if q.Len() != 2 {
		t.Fatalf("rejected enqueue mutated the queue: len=%d", q.Len())
	}
	if q.Dropped() != 0 {
		t.Fatalf("reject policy must not count drops")
	}
}

func TestOverflowDropOldest(t *testing.T) {
	q := NewQueue(Config{Capacity: 2, Overflow: DropOldest}, logx.Nop())

	var got []string
	add := func(name string) { q.Enqueue(func() { got = append(got, name) }) }
	add("a")
	add("b")
	add("c") // evicts "a"

	if q.Dropped() != 1 {
		t.Fatalf("expected 1 drop, got %d", q.Dropped())
	}
	q.Drain(0, time.Second)
	if len(got) != 2 || got[0] != "b" || got[1] != "c" {
		t.Fatalf("unexpected execution order: %v", got)
	}
}

func TestPanicDoesNotAbortDrain(t *testing.T) {
	q := NewQueue(Config{Capacity: 8}, logx.Nop())

	ran := false
	q.Enqueue(func() { panic("boom") })
	q.Enqueue(func() { ran = true })

	if n := q.Drain(0, time.Second); n != 2 {
		t.Fatalf("expected both actions drained, got %d", n)
	}
	if !ran {
		t.Fatalf("action after panic did not run")
	}
	if q.Panicked() != 1 {
		t.Fatalf("expected 1 panic counted, got %d", q.Panicked())
	}
}

func TestFutureResolvesOnDrain(t *testing.T) {
	q := NewQueue(Config{Capacity: 8}, logx.Nop())

	f, err := Submit(q, func() (int, error) { return 42, nil })
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if f.Done() {
		t.Fatalf("future resolved before drain")
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		v, err := f.Await(context.Background(), time.Second)
		if err != nil || v != 42 {
			t.Errorf("await returned (%d, %v)", v, err)
		}
	}()

	// Give the awaiting goroutine a moment to block, then drain.
	time.Sleep(10 * time.Millisecond)
	q.Drain(0, time.Second)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("await did not complete after drain")
	}
}

func TestFutureTimeout(t *testing.T) {
	q := NewQueue(Config{Capacity: 8}, logx.Nop())

	f, err := Submit(q, func() (int, error) { return 1, nil })
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	// Never drained: await must time out, not block forever.
	if _, err := f.Await(context.Background(), 20*time.Millisecond); !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}

	// A late drain still completes the action harmlessly.
	q.Drain(0, time.Second)
	if !f.Done() {
		t.Fatalf("late drain should resolve the future")
	}
}

func TestFutureCancellation(t *testing.T) {
	q := NewQueue(Config{Capacity: 8}, logx.Nop())
	f, err := Submit(q, func() (int, error) { return 1, nil })
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := f.Await(ctx, time.Second); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestSubmitQueueFull(t *testing.T) {
	q := NewQueue(Config{Capacity: 1, Overflow: Reject}, logx.Nop())
	q.Enqueue(func() {})
	if _, err := Submit(q, func() (int, error) { return 0, nil }); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
}
