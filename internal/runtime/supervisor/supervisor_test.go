package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"notisched/pkg/logx"
)

func TestGoCancelOnFirstError(t *testing.T) {
	s := New(context.Background(), WithLogger(logx.Nop()), WithCancelOnError(true))

	boom := errors.New("boom")
	s.Go("failing", func(ctx context.Context) error { return boom })

	select {
	case <-s.Context().Done():
	case <-time.After(2 * time.Second):
		t.Fatal("context not cancelled after goroutine error")
	}
	if err := s.Err(); !errors.Is(err, boom) {
		t.Fatalf("Err() = %v, want wrapped boom", err)
	}
}

func TestGoRecoversPanic(t *testing.T) {
	s := New(context.Background(), WithLogger(logx.Nop()), WithCancelOnError(true))

	s.Go("panicking", func(ctx context.Context) error { panic("oops") })

	select {
	case <-s.Context().Done():
	case <-time.After(2 * time.Second):
		t.Fatal("context not cancelled after panic")
	}
	if s.Err() == nil {
		t.Fatal("panic not surfaced as the first error")
	}
}

func TestGoRestartRetriesUntilClean(t *testing.T) {
	s := New(context.Background(), WithLogger(logx.Nop()))

	var runs atomic.Int32
	s.GoRestart("flaky", func(ctx context.Context) error {
		if runs.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	})

	deadline := time.Now().Add(5 * time.Second)
	for runs.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := runs.Load(); got != 3 {
		t.Fatalf("runs = %d, want 3", got)
	}

	// A clean return ends the restart loop for good.
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if got := runs.Load(); got != 3 {
		t.Fatalf("restarted after clean return: runs = %d", got)
	}
}

func TestGoRestartStopsOnCancel(t *testing.T) {
	s := New(context.Background(), WithLogger(logx.Nop()))

	started := make(chan struct{}, 1)
	s.GoRestart("watcher", func(ctx context.Context) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-ctx.Done()
		return ctx.Err()
	})

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher never started")
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Stop(stopCtx); err != nil {
		t.Fatalf("stop did not drain the restart loop: %v", err)
	}
	if active, _ := s.Counters(); active != 0 {
		t.Fatalf("active goroutines after stop: %d", active)
	}
}
