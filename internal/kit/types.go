package kit

import (
	"errors"
	"strings"
	"time"
)

// Handle is the opaque value a platform notifier returns for a scheduled
// notification. It is only meaningful to the notifier that issued it.
type Handle string

// RepeatPolicy describes how a notification recurs after its first fire.
type RepeatPolicy int

const (
	RepeatNone RepeatPolicy = iota
	RepeatDaily
	RepeatWeekly
	// RepeatCustom uses a cron spec carried in Notification.RepeatSpec.
	RepeatCustom
)

func (p RepeatPolicy) String() string {
	switch p {
	case RepeatNone:
		return "none"
	case RepeatDaily:
		return "daily"
	case RepeatWeekly:
		return "weekly"
	case RepeatCustom:
		return "custom"
	default:
		return "unknown"
	}
}

// MaxDelay bounds how far in the future a notification may be scheduled.
const MaxDelay = 365 * 24 * time.Hour

// Notification is a scheduling request.
//
// Instances are pooled on hot paths; Reset must clear every field so a
// released buffer never leaks caller data into the next use.
type Notification struct {
	Identifier string
	Title      string
	Body       string
	Delay      time.Duration
	Repeat     RepeatPolicy
	RepeatSpec string
	Group      string

	// Optional presentation overrides; zero values mean platform defaults.
	Sound string
	Icon  string
	Badge int
}

// Reset clears all fields so the instance can be pooled safely.
func (n *Notification) Reset() {
	*n = Notification{}
}

var (
	ErrEmptyTitle    = errors.New("notification title is empty")
	ErrEmptyBody     = errors.New("notification body is empty")
	ErrNegativeDelay = errors.New("notification delay is negative")
	ErrDelayTooFar   = errors.New("notification delay exceeds one year")
	ErrMissingSpec   = errors.New("custom repeat requires a spec")
)

// Validate checks the request invariants shared by all platforms.
// Repeat spec syntax is checked by the scheduler (it owns the cron parser).
func (n *Notification) Validate() error {
	if strings.TrimSpace(n.Title) == "" {
		return ErrEmptyTitle
	}
	if strings.TrimSpace(n.Body) == "" {
		return ErrEmptyBody
	}
	if n.Delay < 0 {
		return ErrNegativeDelay
	}
	if n.Delay > MaxDelay {
		return ErrDelayTooFar
	}
	if n.Repeat == RepeatCustom && strings.TrimSpace(n.RepeatSpec) == "" {
		return ErrMissingSpec
	}
	return nil
}

// ReturnConfig is the "come back" notification shown when the app has been
// backgrounded for a while. It rides along in the persisted store.
type ReturnConfig struct {
	Enabled    bool
	Title      string
	Body       string
	AfterHours int
}
