// Package scheduler orchestrates notification scheduling: validation,
// limits, circuit state, the platform notifier, registry bookkeeping, and
// persistence dirty-marking.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"notisched/internal/breaker"
	"notisched/internal/eventbus"
	"notisched/internal/kit"
	"notisched/internal/metrics"
	"notisched/internal/platform"
	"notisched/internal/pool"
	"notisched/internal/registry"
	"notisched/internal/runloop"
	"notisched/internal/store"
	"notisched/pkg/logx"
)

type Service struct {
	log      logx.Logger
	notifier platform.Notifier
	reg      *registry.Registry
	groups   *registry.GroupIndex
	br       *breaker.Breaker
	bus      *eventbus.Aggregator
	loop     *runloop.Queue
	ctrl     *store.Controller
	ctr      *metrics.Counters

	reqPool *pool.Pool[*kit.Notification]
	parser  cron.Parser

	mu             sync.Mutex
	cfg            Config
	stopped        bool
	lastForeground int64

	// expiry tracks when one-shot entries are due, so the cleanup tick can
	// retire them after they fired.
	emu    sync.Mutex
	expiry map[string]time.Time

	hmu     sync.Mutex
	history []HistoryItem
}

// Deps collects the collaborators wired by the composition root.
type Deps struct {
	Notifier platform.Notifier
	Breaker  *breaker.Breaker
	Bus      *eventbus.Aggregator
	Loop     *runloop.Queue
	Counters *metrics.Counters
}

func New(cfg Config, d Deps, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	s := &Service{
		log:      log,
		notifier: d.Notifier,
		reg:      registry.New(cfg.Capacity),
		groups:   registry.NewGroupIndex(),
		br:       d.Breaker,
		bus:      d.Bus,
		loop:     d.Loop,
		ctr:      d.Counters,
		reqPool:  pool.New(64, func() *kit.Notification { return &kit.Notification{} }),
		parser:   cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		cfg:      cfg,
		expiry:   map[string]time.Time{},
	}
	return s
}

// SetController wires the persistence controller after construction (the
// controller needs the service's snapshot supplier, so the two are tied
// together by the composition root).
func (s *Service) SetController(c *store.Controller) {
	s.mu.Lock()
	s.ctrl = c
	s.mu.Unlock()
}

// Record builds the durable snapshot: registry entries in insertion order
// plus the return-notification config and last-foreground timestamp.
func (s *Service) Record() store.Record {
	s.mu.Lock()
	ret := s.cfg.Return
	lastFg := s.lastForeground
	s.mu.Unlock()

	entries := s.reg.Snapshot()
	rec := store.Record{
		Entries:        make([]store.Entry, 0, len(entries)),
		Return:         ret,
		LastForeground: lastFg,
	}
	for _, e := range entries {
		rec.Entries = append(rec.Entries, store.Entry{ID: e.ID, Handle: string(e.Handle)})
	}
	return rec
}

// Restore seeds the registry from a persisted record. Called once at
// startup, before any scheduling activity.
func (s *Service) Restore(rec store.Record) {
	for _, e := range rec.Entries {
		s.reg.Insert(e.ID, kit.Handle(e.Handle))
	}
	s.mu.Lock()
	if rec.Return != (kit.ReturnConfig{}) {
		s.cfg.Return = rec.Return
	}
	s.lastForeground = rec.LastForeground
	s.mu.Unlock()
	if len(rec.Entries) > 0 {
		s.log.Info("registry restored", logx.Int("entries", len(rec.Entries)))
	}
}

// TouchForeground stamps the last time the application was in front of the
// user. Persisted for return-notification decisions.
func (s *Service) TouchForeground(now time.Time) {
	s.mu.Lock()
	s.lastForeground = now.Unix()
	ctrl := s.ctrl
	s.mu.Unlock()
	if ctrl != nil {
		ctrl.MarkDirty()
	}
}

func (s *Service) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// Stop rejects further operations and performs a final synchronous flush.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	ctrl := s.ctrl
	s.mu.Unlock()

	if ctrl != nil {
		ctrl.MarkDirty()
		if err := ctrl.Flush(ctx); err != nil {
			s.log.Warn("final flush failed", logx.Err(err))
		}
	}
	s.log.Info("scheduler stopped")
}

func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	for _, id := range s.reg.SetCapacity(cfg.Capacity) {
		s.groups.RemoveMember(id)
		s.dropExpiry(id)
	}
}

// Schedule validates and schedules one notification. It reports false on
// any failure; errors never propagate to the caller.
func (s *Service) Schedule(req kit.Notification) bool {
	_, ok := s.schedule(req)
	return ok
}

// ScheduleID is Schedule but returns the (possibly auto-generated)
// identifier as well.
func (s *Service) ScheduleID(req kit.Notification) (string, bool) {
	return s.schedule(req)
}

func (s *Service) schedule(req kit.Notification) (string, bool) {
	if s.isStopped() {
		return "", false
	}

	// Validation failures are rejected synchronously, without side effects
	// beyond a debug log.
	if err := req.Validate(); err != nil {
		s.log.Debug("schedule rejected", logx.Err(err))
		return "", false
	}
	if req.Repeat == kit.RepeatCustom {
		if _, err := s.parser.Parse(req.RepeatSpec); err != nil {
			s.log.Debug("schedule rejected", logx.String("spec", req.RepeatSpec), logx.Err(err))
			return "", false
		}
	}
	if req.Identifier == "" {
		req.Identifier = uuid.NewString()
	}

	// The pending limit is a validation rejection like the checks above:
	// logged and remembered, but not an error-counter event.
	maxPending := s.notifier.MaxPending()
	if maxPending > 0 && s.reg.Count() >= maxPending {
		s.log.Warn("schedule rejected (platform pending limit)",
			logx.Int("pending", s.reg.Count()), logx.Int("max", maxPending))
		s.record("schedule", req.Identifier, false, ErrLimitExceeded.Error())
		return "", false
	}
	if s.br != nil && !s.br.Allow() {
		s.log.Debug("schedule short-circuited (circuit open)", logx.String("id", req.Identifier))
		s.record("schedule", req.Identifier, false, ErrCircuitOpen.Error())
		return "", false
	}

	s.mu.Lock()
	channel := s.cfg.DefaultChannel
	s.mu.Unlock()

	// Populate a pooled buffer for the platform call; the notifier copies
	// what it needs, so the buffer goes straight back afterwards.
	buf := s.reqPool.Acquire()
	*buf = req
	handle, err := s.notifier.Schedule(buf, channel)
	s.reqPool.Release(buf)

	if err != nil {
		if s.br != nil {
			s.br.RecordFailure()
		}
		s.log.Warn("platform schedule failed", logx.String("id", req.Identifier), logx.Err(err))
		s.fail("schedule", req.Identifier, err)
		return "", false
	}
	if s.br != nil {
		s.br.RecordSuccess()
	}

	evictedID, evicted := s.reg.Insert(req.Identifier, handle)
	if evicted {
		s.groups.RemoveMember(evictedID)
		s.dropExpiry(evictedID)
		s.log.Debug("capacity eviction", logx.String("evicted", evictedID))
	}
	if req.Group != "" {
		s.groups.AddMember(req.Group, req.Identifier)
	}
	if req.Repeat == kit.RepeatNone {
		s.setExpiry(req.Identifier, time.Now().Add(req.Delay))
	}

	s.markDirty()
	if s.ctr != nil {
		s.ctr.Scheduled.Add(1)
	}
	s.record("schedule", req.Identifier, true, "")

	if s.bus != nil {
		e := s.bus.NewEvent(eventbus.TypeScheduled)
		e.Identifier = req.Identifier
		e.Group = req.Group
		s.bus.PublishVia(s.loop, e)
	}
	return req.Identifier, true
}

// Cancel removes one notification. Missing identifiers are a no-op and do
// not touch the cancellation counters.
func (s *Service) Cancel(id string) {
	if s.isStopped() || id == "" {
		return
	}

	handle, ok := s.reg.Remove(id)
	if !ok {
		return
	}
	s.groups.RemoveMember(id)
	s.dropExpiry(id)

	s.cancelPlatform(handle, id)
	s.markDirty()
	if s.ctr != nil {
		s.ctr.Cancelled.Add(1)
	}
	s.record("cancel", id, true, "")

	if s.bus != nil {
		e := s.bus.NewEvent(eventbus.TypeCancelled)
		e.Identifier = id
		s.bus.PublishVia(s.loop, e)
	}
}

// CancelBatch removes several notifications with a single registry lock
// acquisition; platform cancellations run outside the lock.
func (s *Service) CancelBatch(ids []string) int {
	if s.isStopped() || len(ids) == 0 {
		return 0
	}

	removed := s.reg.RemoveBatch(ids)
	for _, e := range removed {
		s.groups.RemoveMember(e.ID)
		s.dropExpiry(e.ID)
	}
	for _, e := range removed {
		s.cancelPlatform(e.Handle, e.ID)
	}
	if len(removed) > 0 {
		s.markDirty()
		if s.ctr != nil {
			s.ctr.Cancelled.Add(uint64(len(removed)))
		}
	}
	return len(removed)
}

// CancelGroup removes every notification scheduled under the group key.
func (s *Service) CancelGroup(group string) int {
	if group == "" {
		return 0
	}
	return s.CancelBatch(s.groups.MembersOf(group))
}

// CancelAll clears everything, including the platform's displayed list.
func (s *Service) CancelAll() {
	if s.isStopped() {
		return
	}

	removed := s.reg.RemoveAll()
	s.groups.Clear()
	s.emu.Lock()
	s.expiry = map[string]time.Time{}
	s.emu.Unlock()

	if err := s.notifier.CancelAllScheduled(); err != nil {
		s.platformFailure("cancel_all", err)
	}
	if err := s.notifier.CancelAllDisplayed(); err != nil {
		s.platformFailure("cancel_all", err)
	}

	if len(removed) > 0 {
		s.markDirty()
		if s.ctr != nil {
			s.ctr.Cancelled.Add(uint64(len(removed)))
		}
	}
	s.record("cancel_all", "", true, "")
}

func (s *Service) Count() int { return s.reg.Count() }

func (s *Service) IsScheduled(id string) bool { return s.reg.Contains(id) }

// PoolStats exposes the request-buffer pool counters for metrics folding.
func (s *Service) PoolStats() (hits, misses uint64) {
	return s.reqPool.Hits(), s.reqPool.Misses()
}

// Retire removes a delivered one-shot entry without a platform cancel and
// without counting a cancellation. Wired to delivery events.
func (s *Service) Retire(id string) {
	if _, ok := s.reg.Remove(id); !ok {
		return
	}
	s.groups.RemoveMember(id)
	s.dropExpiry(id)
	s.markDirty()
}

// CleanupTick retires one-shot entries that fired longer than the grace
// period ago. Backstop for missed delivery events.
func (s *Service) CleanupTick(now time.Time) {
	s.mu.Lock()
	grace := s.cfg.CleanupGrace
	s.mu.Unlock()

	s.emu.Lock()
	var due []string
	for id, fireAt := range s.expiry {
		if now.Sub(fireAt) > grace {
			due = append(due, id)
		}
	}
	s.emu.Unlock()

	for _, id := range due {
		s.Retire(id)
	}
	if len(due) > 0 {
		s.log.Debug("expired entries retired", logx.Int("count", len(due)))
	}
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()

	s.hmu.Lock()
	hist := make([]HistoryItem, len(s.history))
	copy(hist, s.history)
	s.hmu.Unlock()

	snap := Snapshot{
		Tracked:    s.reg.Count(),
		Capacity:   s.reg.Capacity(),
		MaxPending: s.notifier.MaxPending(),
		Stopped:    stopped,
		History:    hist,
	}
	if s.br != nil {
		snap.Breaker = s.br.Snapshot()
	}
	return snap
}

// ---- internal helpers ----

func (s *Service) cancelPlatform(handle kit.Handle, id string) {
	err := s.notifier.Cancel(handle)
	if err == nil || errors.Is(err, platform.ErrUnknownHandle) {
		// Stale handles (entries restored from a previous process) are
		// already gone on the platform side.
		return
	}
	s.log.Warn("platform cancel failed", logx.String("id", id), logx.Err(err))
	s.platformFailure("cancel", err)
}

func (s *Service) platformFailure(op string, err error) {
	if s.br != nil {
		s.br.RecordFailure()
	}
	if s.ctr != nil {
		s.ctr.Errors.Add(1)
	}
	if s.bus != nil {
		s.bus.PublishError(s.loop, op, err)
	}
}

func (s *Service) fail(op, id string, err error) {
	if s.ctr != nil {
		s.ctr.Errors.Add(1)
	}
	if s.bus != nil {
		s.bus.PublishError(s.loop, op, err)
	}
	s.record(op, id, false, err.Error())
}

func (s *Service) markDirty() {
	s.mu.Lock()
	ctrl := s.ctrl
	s.mu.Unlock()
	if ctrl != nil {
		ctrl.MarkDirty()
	}
}

func (s *Service) setExpiry(id string, at time.Time) {
	s.emu.Lock()
	s.expiry[id] = at
	s.emu.Unlock()
}

func (s *Service) dropExpiry(id string) {
	s.emu.Lock()
	delete(s.expiry, id)
	s.emu.Unlock()
}

func (s *Service) record(op, id string, ok bool, errMsg string) {
	s.mu.Lock()
	size := s.cfg.HistorySize
	s.mu.Unlock()

	s.hmu.Lock()
	s.history = append(s.history, HistoryItem{At: time.Now(), Op: op, ID: id, OK: ok, Error: errMsg})
	if len(s.history) > size {
		s.history = s.history[len(s.history)-size:]
	}
	s.hmu.Unlock()
}
