package platform

import (
	"context"
	"sync"
	"testing"
	"time"

	"notisched/internal/kit"
	"notisched/pkg/logx"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []kit.Notification
}

func (r *recordingSender) Send(ctx context.Context, n *kit.Notification) error {
	r.mu.Lock()
	r.sent = append(r.sent, *n)
	r.mu.Unlock()
	return nil
}

func (r *recordingSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

func TestLocalScheduleFires(t *testing.T) {
	rs := &recordingSender{}
	l := NewLocal(LocalConfig{}, rs, nil, nil, logx.Nop())
	defer l.Stop()

	n := &kit.Notification{Identifier: "n-1", Title: "t", Body: "b", Delay: 10 * time.Millisecond}
	h, err := l.Schedule(n, "default")
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if h == "" {
		t.Fatalf("empty handle")
	}

	deadline := time.Now().Add(2 * time.Second)
	for rs.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if rs.count() != 1 {
		t.Fatalf("expected 1 delivery, got %d", rs.count())
	}
	if l.Pending() != 0 {
		t.Fatalf("one-shot should retire after firing, pending=%d", l.Pending())
	}
}

func TestLocalCancelStopsDelivery(t *testing.T) {
	rs := &recordingSender{}
	l := NewLocal(LocalConfig{}, rs, nil, nil, logx.Nop())
	defer l.Stop()

	n := &kit.Notification{Identifier: "n-2", Title: "t", Body: "b", Delay: 50 * time.Millisecond}
	h, err := l.Schedule(n, "")
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if err := l.Cancel(h); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	time.Sleep(120 * time.Millisecond)
	if rs.count() != 0 {
		t.Fatalf("cancelled notification delivered anyway")
	}

	if err := l.Cancel(h); err != ErrUnknownHandle {
		t.Fatalf("expected ErrUnknownHandle for stale handle, got %v", err)
	}
}

func TestLocalCustomSpecValidation(t *testing.T) {
	l := NewLocal(LocalConfig{}, &recordingSender{}, nil, nil, logx.Nop())
	defer l.Stop()

	if err := l.ParseRepeatSpec("*/5 * * * *"); err != nil {
		t.Fatalf("valid spec rejected: %v", err)
	}
	if err := l.ParseRepeatSpec("not a spec"); err == nil {
		t.Fatalf("invalid spec accepted")
	}

	n := &kit.Notification{Identifier: "n-3", Title: "t", Body: "b", Repeat: kit.RepeatCustom, RepeatSpec: "bogus"}
	if _, err := l.Schedule(n, ""); err == nil {
		t.Fatalf("schedule with bad spec must fail")
	}
}

func TestLocalStopRejectsSchedule(t *testing.T) {
	l := NewLocal(LocalConfig{}, &recordingSender{}, nil, nil, logx.Nop())
	l.Stop()

	n := &kit.Notification{Identifier: "n-4", Title: "t", Body: "b"}
	if _, err := l.Schedule(n, ""); err != ErrStopped {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
}

func TestNullNotifier(t *testing.T) {
	n := NewNull(64)
	if n.MaxPending() != 64 {
		t.Fatalf("max pending mismatch")
	}
	h1, _ := n.Schedule(&kit.Notification{Title: "a", Body: "b"}, "")
	h2, _ := n.Schedule(&kit.Notification{Title: "a", Body: "b"}, "")
	if h1 == h2 {
		t.Fatalf("handles must be unique")
	}
	if err := n.Cancel(h1); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	granted := false
	n.RequestPermission(func(g bool) { granted = g })
	if !granted {
		t.Fatalf("null notifier should grant permission")
	}
}
