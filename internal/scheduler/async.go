package scheduler

import (
	"context"
	"errors"
	"time"

	"notisched/internal/kit"
	"notisched/internal/runloop"
)

// Async variants run the operation on the run loop and block the caller on
// a future with a bounded wait. Unlike the synchronous API, they surface a
// reason when the operation cannot complete: runloop.ErrTimeout when the
// deadline passes, context.Canceled when the caller gives up, and
// ErrUnavailable when the service is stopped or the loop rejects the work.

func (s *Service) awaitTimeout() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.AwaitTimeout
}

// ScheduleAsync schedules via the run loop and waits for the identifier.
func (s *Service) ScheduleAsync(ctx context.Context, req kit.Notification) (string, error) {
	if s.isStopped() {
		return "", ErrUnavailable
	}
	id, err := runloop.Call(ctx, s.loop, s.awaitTimeout(), func() (string, error) {
		id, ok := s.schedule(req)
		if !ok {
			return "", ErrUnavailable
		}
		return id, nil
	})
	if errors.Is(err, runloop.ErrQueueFull) {
		return "", ErrUnavailable
	}
	return id, err
}

// CancelAsync cancels via the run loop and waits for completion.
func (s *Service) CancelAsync(ctx context.Context, id string) error {
	if s.isStopped() {
		return ErrUnavailable
	}
	_, err := runloop.Call(ctx, s.loop, s.awaitTimeout(), func() (struct{}, error) {
		s.Cancel(id)
		return struct{}{}, nil
	})
	if errors.Is(err, runloop.ErrQueueFull) {
		return ErrUnavailable
	}
	return err
}

// CountAsync reads the tracked count via the run loop, so the result is
// ordered after any schedule/cancel actions already queued.
func (s *Service) CountAsync(ctx context.Context) (int, error) {
	if s.isStopped() {
		return 0, ErrUnavailable
	}
	n, err := runloop.Call(ctx, s.loop, s.awaitTimeout(), func() (int, error) {
		return s.Count(), nil
	})
	if errors.Is(err, runloop.ErrQueueFull) {
		return 0, ErrUnavailable
	}
	return n, err
}

// ScheduleBatch schedules several notifications in request order and
// reports how many were accepted.
func (s *Service) ScheduleBatch(reqs []kit.Notification) int {
	if s.isStopped() {
		return 0
	}
	n := 0
	for _, req := range reqs {
		if _, ok := s.schedule(req); ok {
			n++
		}
	}
	return n
}

// ScheduleBatchAsync runs the whole batch as one run-loop action so its
// requests are scheduled back to back, and waits for the accepted count.
func (s *Service) ScheduleBatchAsync(ctx context.Context, reqs []kit.Notification) (int, error) {
	if s.isStopped() {
		return 0, ErrUnavailable
	}
	n, err := runloop.Call(ctx, s.loop, s.awaitTimeout(), func() (int, error) {
		return s.ScheduleBatch(reqs), nil
	})
	if errors.Is(err, runloop.ErrQueueFull) {
		return 0, ErrUnavailable
	}
	return n, err
}
