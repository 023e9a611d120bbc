package platform

import (
	"strconv"
	"sync/atomic"

	"notisched/internal/kit"
)

// Null accepts every call and delivers nothing. Used when delivery is
// disabled and as the default notifier in tests.
type Null struct {
	seq atomic.Uint64
	max int
}

func NewNull(maxPending int) *Null {
	if maxPending <= 0 {
		maxPending = 500
	}
	return &Null{max: maxPending}
}

func (n *Null) Schedule(req *kit.Notification, channel string) (kit.Handle, error) {
	return kit.Handle("null-" + strconv.FormatUint(n.seq.Add(1), 10)), nil
}

func (n *Null) Cancel(handle kit.Handle) error      { return nil }
func (n *Null) CancelAllScheduled() error           { return nil }
func (n *Null) CancelAllDisplayed() error           { return nil }
func (n *Null) CheckPermission() bool               { return true }
func (n *Null) RequestPermission(cb func(bool)) {
	if cb != nil {
		cb(true)
	}
}
func (n *Null) MaxPending() int { return n.max }
