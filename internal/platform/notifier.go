// Package platform abstracts the native notification backend behind an
// injectable interface, selected at construction time.
//
// Variants:
//   - Local: in-process delivery engine firing one-shot timers into a Sender
//   - Null:  accepts and discards everything (tests, delivery disabled)
package platform

import (
	"errors"

	"notisched/internal/kit"
)

var (
	ErrUnknownHandle = errors.New("platform: unknown handle")
	ErrStopped       = errors.New("platform: notifier stopped")
)

// Notifier is the external collaborator the scheduler delegates delivery to.
//
// Schedule must copy the request: the scheduler returns its buffer to a pool
// immediately after the call.
type Notifier interface {
	// Schedule arms delivery and returns an opaque handle for cancellation.
	Schedule(req *kit.Notification, channel string) (kit.Handle, error)
	// Cancel revokes one scheduled notification by handle.
	Cancel(handle kit.Handle) error
	// CancelAllScheduled revokes every pending notification.
	CancelAllScheduled() error
	// CancelAllDisplayed clears already-delivered notifications where the
	// backend supports it; otherwise a no-op.
	CancelAllDisplayed() error
	CheckPermission() bool
	// RequestPermission resolves cb asynchronously with the grant decision.
	RequestPermission(cb func(granted bool))
	// MaxPending is the platform's cap on outstanding notifications
	// (e.g. 64 on one platform family, 500 on another).
	MaxPending() int
}
