package platform

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"notisched/internal/eventbus"
	"notisched/internal/kit"
	"notisched/pkg/logx"
)

// LocalConfig configures the in-process delivery engine.
type LocalConfig struct {
	MaxPending int
	// Channel name recorded on deliveries when the request has none.
	DefaultChannel string
}

type localItem struct {
	n       kit.Notification
	channel string
	sched   cron.Schedule // nil unless Repeat is custom
}

// Local schedules an in-process one-shot timer per notification and hands
// fired notifications to a Sender. Repeating policies re-arm the timer after
// each fire (daily/weekly fixed intervals, custom via cron schedule).
type Local struct {
	log    logx.Logger
	sender Sender
	bus    *eventbus.Aggregator
	q      eventbus.Enqueuer
	parser cron.Parser

	mu      sync.Mutex
	cfg     LocalConfig
	seq     uint64
	timers  map[kit.Handle]*time.Timer
	items   map[kit.Handle]*localItem
	stopped bool

	permMu  sync.Mutex
	granted bool
}

func NewLocal(cfg LocalConfig, sender Sender, bus *eventbus.Aggregator, q eventbus.Enqueuer, log logx.Logger) *Local {
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = 500
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if sender == nil {
		sender = NewLogSender(log)
	}
	return &Local{
		log:    log,
		sender: sender,
		bus:    bus,
		q:      q,
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser:  cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		cfg:     cfg,
		timers:  map[kit.Handle]*time.Timer{},
		items:   map[kit.Handle]*localItem{},
		granted: true,
	}
}

// ParseRepeatSpec validates a custom repeat spec without scheduling anything.
func (l *Local) ParseRepeatSpec(spec string) error {
	_, err := l.parser.Parse(spec)
	return err
}

func (l *Local) Schedule(req *kit.Notification, channel string) (kit.Handle, error) {
	it := &localItem{n: *req, channel: channel}
	if channel == "" {
		it.channel = l.cfg.DefaultChannel
	}

	if req.Repeat == kit.RepeatCustom {
		sched, err := l.parser.Parse(req.RepeatSpec)
		if err != nil {
			return "", fmt.Errorf("parse repeat spec %q: %w", req.RepeatSpec, err)
		}
		it.sched = sched
	}

	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return "", ErrStopped
	}
	l.seq++
	handle := kit.Handle("local-" + strconv.FormatUint(l.seq, 10))
	l.items[handle] = it
	l.timers[handle] = time.AfterFunc(req.Delay, func() { l.fire(handle) })
	l.mu.Unlock()

	l.log.Debug("delivery armed",
		logx.String("handle", string(handle)),
		logx.String("id", it.n.Identifier),
		logx.Duration("delay", req.Delay),
		logx.String("repeat", req.Repeat.String()))
	return handle, nil
}

func (l *Local) fire(handle kit.Handle) {
	l.mu.Lock()
	it := l.items[handle]
	if it == nil || l.stopped {
		l.mu.Unlock()
		return
	}
	n := it.n
	l.mu.Unlock()

	if err := l.sender.Send(context.Background(), &n); err != nil {
		l.log.Warn("delivery failed", logx.String("id", n.Identifier), logx.Err(err))
		if l.bus != nil {
			l.bus.PublishError(l.q, "deliver", err)
		}
	} else if l.bus != nil {
		e := l.bus.NewEvent(eventbus.TypeDelivered)
		e.Identifier = n.Identifier
		e.Group = n.Group
		e.Data = n.Repeat
		l.bus.PublishVia(l.q, e)
	}

	// Re-arm or retire.
	next := l.nextFire(it, time.Now())
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped || l.items[handle] == nil {
		return
	}
	if next <= 0 {
		delete(l.items, handle)
		delete(l.timers, handle)
		return
	}
	l.timers[handle] = time.AfterFunc(next, func() { l.fire(handle) })
}

// nextFire returns the delay until the next occurrence, or 0 for one-shots.
func (l *Local) nextFire(it *localItem, now time.Time) time.Duration {
	switch it.n.Repeat {
	case kit.RepeatDaily:
		return 24 * time.Hour
	case kit.RepeatWeekly:
		return 7 * 24 * time.Hour
	case kit.RepeatCustom:
		if it.sched == nil {
			return 0
		}
		next := it.sched.Next(now)
		if next.IsZero() {
			return 0
		}
		return next.Sub(now)
	default:
		return 0
	}
}

func (l *Local) Cancel(handle kit.Handle) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	t, ok := l.timers[handle]
	if !ok {
		// Stale handles happen after a restart: persisted registry entries
		// outlive this process's timers. Treated as already-cancelled.
		return ErrUnknownHandle
	}
	t.Stop()
	delete(l.timers, handle)
	delete(l.items, handle)
	return nil
}

func (l *Local) CancelAllScheduled() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for h, t := range l.timers {
		t.Stop()
		delete(l.timers, h)
		delete(l.items, h)
	}
	return nil
}

// CancelAllDisplayed is a no-op: the local backend keeps no displayed list.
func (l *Local) CancelAllDisplayed() error { return nil }

func (l *Local) CheckPermission() bool {
	l.permMu.Lock()
	defer l.permMu.Unlock()
	return l.granted
}

// SetPermission flips the grant state and publishes a permission event.
func (l *Local) SetPermission(granted bool) {
	l.permMu.Lock()
	changed := l.granted != granted
	l.granted = granted
	l.permMu.Unlock()

	if changed && l.bus != nil {
		e := l.bus.NewEvent(eventbus.TypePermissionChanged)
		e.Data = granted
		l.bus.PublishVia(l.q, e)
	}
}

func (l *Local) RequestPermission(cb func(granted bool)) {
	if cb == nil {
		return
	}
	granted := l.CheckPermission()
	if l.q != nil && l.q.Enqueue(func() { cb(granted) }) {
		return
	}
	cb(granted)
}

func (l *Local) MaxPending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cfg.MaxPending
}

// Pending reports armed timers (diagnostics).
func (l *Local) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.timers)
}

// Stop disarms everything. Further Schedule calls fail with ErrStopped.
func (l *Local) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopped = true
	for h, t := range l.timers {
		t.Stop()
		delete(l.timers, h)
		delete(l.items, h)
	}
}

// SenderFromName builds the configured delivery backend.
func SenderFromName(name string, tg TelegramConfig, log logx.Logger) (Sender, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "log":
		return NewLogSender(log), nil
	case "telegram":
		return NewTelegramSender(tg, log)
	default:
		return nil, fmt.Errorf("unknown delivery sender %q", name)
	}
}
