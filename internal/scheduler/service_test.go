package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"notisched/internal/breaker"
	"notisched/internal/eventbus"
	"notisched/internal/kit"
	"notisched/internal/metrics"
	"notisched/internal/platform"
	"notisched/internal/runloop"
	"notisched/pkg/logx"
)

type fakeNotifier struct {
	mu        sync.Mutex
	seq       int
	scheduled map[kit.Handle]kit.Notification
	cancelled []kit.Handle
	failWith  error
	calls     int
	pendCap   int
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{scheduled: map[kit.Handle]kit.Notification{}, pendCap: 64}
}

func (f *fakeNotifier) Schedule(req *kit.Notification, channel string) (kit.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failWith != nil {
		return "", f.failWith
	}
	f.seq++
	h := kit.Handle(fmt.Sprintf("h-%d", f.seq))
	f.scheduled[h] = *req
	return h, nil
}

func (f *fakeNotifier) Cancel(h kit.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.scheduled[h]; !ok {
		return platform.ErrUnknownHandle
	}
	delete(f.scheduled, h)
	f.cancelled = append(f.cancelled, h)
	return nil
}

func (f *fakeNotifier) CancelAllScheduled() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scheduled = map[kit.Handle]kit.Notification{}
	return nil
}

func (f *fakeNotifier) CancelAllDisplayed() error      { return nil }
func (f *fakeNotifier) CheckPermission() bool          { return true }
func (f *fakeNotifier) RequestPermission(cb func(bool)) { cb(true) }

func (f *fakeNotifier) MaxPending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pendCap
}

func (f *fakeNotifier) scheduleCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeNotifier) setFailure(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failWith = err
}

type harness struct {
	svc  *Service
	fake *fakeNotifier
	loop *runloop.Queue
	br   *breaker.Breaker
	ctr  *metrics.Counters
	bus  *eventbus.Aggregator
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	fake := newFakeNotifier()
	loop := runloop.NewQueue(runloop.Config{}, logx.Nop())
	br := breaker.New(breaker.Config{}, logx.Nop())
	bus := eventbus.New(logx.Nop())
	ctr := &metrics.Counters{}
	svc := New(cfg, Deps{
		Notifier: fake,
		Breaker:  br,
		Bus:      bus,
		Loop:     loop,
		Counters: ctr,
	}, logx.Nop())
	return &harness{svc: svc, fake: fake, loop: loop, br: br, ctr: ctr, bus: bus}
}

func validRequest(id string) kit.Notification {
	return kit.Notification{
		Identifier: id,
		Title:      "title",
		Body:       "body",
		Delay:      time.Minute,
	}
}

func TestScheduleAndCancel(t *testing.T) {
	h := newHarness(t, Config{})

	if !h.svc.Schedule(validRequest("a")) {
		t.Fatal("schedule failed")
	}
	if !h.svc.IsScheduled("a") {
		t.Fatal("a not tracked")
	}
	if got := h.svc.Count(); got != 1 {
		t.Fatalf("count = %d, want 1", got)
	}

	h.svc.Cancel("a")
	if h.svc.IsScheduled("a") {
		t.Fatal("a still tracked after cancel")
	}
	if got := h.ctr.Cancelled.Load(); got != 1 {
		t.Fatalf("cancelled counter = %d, want 1", got)
	}
	if len(h.fake.cancelled) != 1 {
		t.Fatalf("platform cancels = %d, want 1", len(h.fake.cancelled))
	}
}

func TestScheduleValidation(t *testing.T) {
	h := newHarness(t, Config{})

	cases := []kit.Notification{
		{Body: "b", Delay: time.Minute},                              // empty title
		{Title: "t", Delay: time.Minute},                             // empty body
		{Title: "t", Body: "b", Delay: -time.Second},                 // negative delay
		{Title: "t", Body: "b", Delay: kit.MaxDelay + time.Hour},     // too far out
		{Title: "t", Body: "b", Delay: time.Minute, Repeat: kit.RepeatCustom}, // missing spec
	}
	for i, req := range cases {
		if h.svc.Schedule(req) {
			t.Fatalf("case %d: invalid request accepted", i)
		}
	}
	if h.fake.scheduleCalls() != 0 {
		t.Fatal("platform invoked for invalid requests")
	}
	if h.svc.Count() != 0 {
		t.Fatal("registry not empty")
	}
}

func TestScheduleBadCronSpec(t *testing.T) {
	h := newHarness(t, Config{})

	req := validRequest("a")
	req.Repeat = kit.RepeatCustom
	req.RepeatSpec = "not a cron expression"
	if h.svc.Schedule(req) {
		t.Fatal("bad spec accepted")
	}

	req.RepeatSpec = "0 9 * * *"
	if !h.svc.Schedule(req) {
		t.Fatal("valid spec rejected")
	}
}

func TestScheduleGeneratesIdentifier(t *testing.T) {
	h := newHarness(t, Config{})

	req := validRequest("")
	id, ok := h.svc.ScheduleID(req)
	if !ok {
		t.Fatal("schedule failed")
	}
	if id == "" {
		t.Fatal("no identifier generated")
	}
	if !h.svc.IsScheduled(id) {
		t.Fatal("generated id not tracked")
	}
}

func TestCancelMissingIsNoop(t *testing.T) {
	h := newHarness(t, Config{})

	h.svc.Cancel("ghost")
	if got := h.ctr.Cancelled.Load(); got != 0 {
		t.Fatalf("cancelled counter = %d, want 0", got)
	}
	if got := h.ctr.Errors.Load(); got != 0 {
		t.Fatalf("errors counter = %d, want 0", got)
	}
	if len(h.fake.cancelled) != 0 {
		t.Fatal("platform cancel issued for missing id")
	}
}

func TestCapacityEviction(t *testing.T) {
	h := newHarness(t, Config{Capacity: 100})
	h.fake.pendCap = 0 // no platform cap in this test

	for i := 0; i < 101; i++ {
		if !h.svc.Schedule(validRequest(fmt.Sprintf("n-%03d", i))) {
			t.Fatalf("schedule %d failed", i)
		}
	}
	if got := h.svc.Count(); got != 100 {
		t.Fatalf("count = %d, want 100", got)
	}
	if h.svc.IsScheduled("n-000") {
		t.Fatal("oldest entry survived eviction")
	}
	if !h.svc.IsScheduled("n-001") || !h.svc.IsScheduled("n-100") {
		t.Fatal("expected entries missing")
	}
}

func TestPlatformPendingLimit(t *testing.T) {
	h := newHarness(t, Config{Capacity: 500})
	h.fake.pendCap = 3

	for i := 0; i < 3; i++ {
		if !h.svc.Schedule(validRequest(fmt.Sprintf("n-%d", i))) {
			t.Fatalf("schedule %d failed", i)
		}
	}
	if h.svc.Schedule(validRequest("over")) {
		t.Fatal("schedule beyond platform limit accepted")
	}
	// A limit rejection is a validation failure, not a system error.
	if got := h.ctr.Errors.Load(); got != 0 {
		t.Fatalf("errors counter = %d, want 0", got)
	}
	if calls := h.fake.scheduleCalls(); calls != 3 {
		t.Fatalf("platform calls = %d, want 3", calls)
	}
}

func TestPoolStatsTrackRequestBuffers(t *testing.T) {
	h := newHarness(t, Config{})

	// First schedule allocates; the released buffer serves the second.
	if !h.svc.Schedule(validRequest("a")) {
		t.Fatal("schedule a failed")
	}
	if !h.svc.Schedule(validRequest("b")) {
		t.Fatal("schedule b failed")
	}
	hits, misses := h.svc.PoolStats()
	if misses != 1 {
		t.Fatalf("misses = %d, want 1", misses)
	}
	if hits != 1 {
		t.Fatalf("hits = %d, want 1", hits)
	}
}

func TestCircuitBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	h := newHarness(t, Config{})
	h.fake.setFailure(errors.New("platform down"))

	for i := 0; i < 5; i++ {
		if h.svc.Schedule(validRequest(fmt.Sprintf("f-%d", i))) {
			t.Fatalf("schedule %d succeeded against a failing platform", i)
		}
	}
	calls := h.fake.scheduleCalls()
	if calls != 5 {
		t.Fatalf("platform calls = %d, want 5", calls)
	}

	// Sixth attempt short-circuits without touching the platform.
	if h.svc.Schedule(validRequest("f-5")) {
		t.Fatal("schedule succeeded while circuit open")
	}
	if got := h.fake.scheduleCalls(); got != calls {
		t.Fatalf("platform invoked while circuit open (%d calls)", got)
	}

	// After the cooldown the breaker closes and attempts flow again.
	h.fake.setFailure(nil)
	h.br.Tick(time.Now().Add(61 * time.Second))
	if !h.svc.Schedule(validRequest("f-6")) {
		t.Fatal("schedule failed after circuit closed")
	}
}

func TestBreakerResetsOnSuccess(t *testing.T) {
	h := newHarness(t, Config{})

	h.fake.setFailure(errors.New("flaky"))
	for i := 0; i < 4; i++ {
		h.svc.Schedule(validRequest(fmt.Sprintf("f-%d", i)))
	}
	h.fake.setFailure(nil)
	if !h.svc.Schedule(validRequest("ok")) {
		t.Fatal("schedule failed")
	}

	// Four more failures must not open the breaker: the success reset it.
	h.fake.setFailure(errors.New("flaky"))
	for i := 0; i < 4; i++ {
		h.svc.Schedule(validRequest(fmt.Sprintf("g-%d", i)))
	}
	if snap := h.br.Snapshot(); snap.Open {
		t.Fatal("breaker open after interleaved success")
	}
}

func TestCancelGroup(t *testing.T) {
	h := newHarness(t, Config{})

	for i := 0; i < 3; i++ {
		req := validRequest(fmt.Sprintf("d-%d", i))
		req.Group = "daily"
		if !h.svc.Schedule(req) {
			t.Fatalf("schedule %d failed", i)
		}
	}
	other := validRequest("other")
	h.svc.Schedule(other)

	if got := h.svc.CancelGroup("daily"); got != 3 {
		t.Fatalf("cancelled = %d, want 3", got)
	}
	if h.svc.Count() != 1 || !h.svc.IsScheduled("other") {
		t.Fatal("unrelated entry affected")
	}
	if got := h.svc.CancelGroup("daily"); got != 0 {
		t.Fatalf("second cancel = %d, want 0", got)
	}
	if h.svc.CancelGroup("") != 0 {
		t.Fatal("empty group name cancelled something")
	}
}

func TestCancelAll(t *testing.T) {
	h := newHarness(t, Config{})

	for i := 0; i < 4; i++ {
		h.svc.Schedule(validRequest(fmt.Sprintf("n-%d", i)))
	}
	h.svc.CancelAll()
	if h.svc.Count() != 0 {
		t.Fatal("registry not empty after cancel all")
	}
	if got := h.ctr.Cancelled.Load(); got != 4 {
		t.Fatalf("cancelled counter = %d, want 4", got)
	}
	// Idempotent.
	h.svc.CancelAll()
	if got := h.ctr.Cancelled.Load(); got != 4 {
		t.Fatalf("cancelled counter after repeat = %d, want 4", got)
	}
}

func TestScheduleBatch(t *testing.T) {
	h := newHarness(t, Config{})

	reqs := []kit.Notification{
		validRequest("a"),
		{Title: "bad", Delay: time.Minute}, // empty body, rejected
		validRequest("c"),
	}
	if got := h.svc.ScheduleBatch(reqs); got != 2 {
		t.Fatalf("accepted = %d, want 2", got)
	}
	if !h.svc.IsScheduled("a") || !h.svc.IsScheduled("c") {
		t.Fatal("accepted entries missing")
	}
}

func TestStopRejectsOperations(t *testing.T) {
	h := newHarness(t, Config{})

	h.svc.Schedule(validRequest("a"))
	h.svc.Stop(context.Background())

	if h.svc.Schedule(validRequest("b")) {
		t.Fatal("schedule accepted after stop")
	}
	h.svc.Cancel("a")
	if !h.svc.IsScheduled("a") {
		t.Fatal("cancel ran after stop")
	}
	if _, err := h.svc.ScheduleAsync(context.Background(), validRequest("c")); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("async err = %v, want ErrUnavailable", err)
	}
}

func TestScheduledEventPublished(t *testing.T) {
	h := newHarness(t, Config{})

	var mu sync.Mutex
	var seen []string
	h.bus.Subscribe("test", func(e *eventbus.Event) {
		mu.Lock()
		seen = append(seen, e.Type+":"+e.Identifier)
		mu.Unlock()
	})

	h.svc.Schedule(validRequest("a"))
	h.svc.Cancel("a")
	h.loop.Drain(0, 0)

	mu.Lock()
	defer mu.Unlock()
	want := []string{eventbus.TypeScheduled + ":a", eventbus.TypeCancelled + ":a"}
	if len(seen) != len(want) {
		t.Fatalf("events = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("event %d = %q, want %q", i, seen[i], want[i])
		}
	}
}

func TestAsyncRoundTrip(t *testing.T) {
	h := newHarness(t, Config{AwaitTimeout: time.Second})

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
				h.loop.Drain(0, 0)
				time.Sleep(time.Millisecond)
			}
		}
	}()

	id, err := h.svc.ScheduleAsync(context.Background(), validRequest("a"))
	if err != nil {
		t.Fatalf("schedule async: %v", err)
	}
	if id != "a" {
		t.Fatalf("id = %q, want a", id)
	}
	if err := h.svc.CancelAsync(context.Background(), "a"); err != nil {
		t.Fatalf("cancel async: %v", err)
	}
	if h.svc.IsScheduled("a") {
		t.Fatal("a still tracked")
	}

	n, err := h.svc.ScheduleBatchAsync(context.Background(), []kit.Notification{
		validRequest("x"), validRequest("y"),
	})
	if err != nil {
		t.Fatalf("batch async: %v", err)
	}
	if n != 2 {
		t.Fatalf("accepted = %d, want 2", n)
	}

	count, err := h.svc.CountAsync(context.Background())
	if err != nil {
		t.Fatalf("count async: %v", err)
	}
	if count != 2 {
		t.Fatalf("count = %d, want 2", count)
	}
}

func TestAsyncTimeout(t *testing.T) {
	h := newHarness(t, Config{AwaitTimeout: 20 * time.Millisecond})

	// Nobody drains the loop, so the future never resolves.
	_, err := h.svc.ScheduleAsync(context.Background(), validRequest("a"))
	if !errors.Is(err, runloop.ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
}

func TestAsyncCancellation(t *testing.T) {
	h := newHarness(t, Config{AwaitTimeout: time.Minute})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := h.svc.ScheduleAsync(ctx, validRequest("a"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestRetireOneShot(t *testing.T) {
	h := newHarness(t, Config{})

	h.svc.Schedule(validRequest("a"))
	h.svc.Retire("a")
	if h.svc.IsScheduled("a") {
		t.Fatal("a still tracked after retire")
	}
	if got := h.ctr.Cancelled.Load(); got != 0 {
		t.Fatalf("retire counted as cancellation: %d", got)
	}
	if len(h.fake.cancelled) != 0 {
		t.Fatal("retire issued a platform cancel")
	}
}

func TestCleanupTickRetiresExpired(t *testing.T) {
	h := newHarness(t, Config{CleanupGrace: time.Minute})

	req := validRequest("short")
	req.Delay = time.Millisecond
	h.svc.Schedule(req)

	repeat := validRequest("daily")
	repeat.Repeat = kit.RepeatDaily
	h.svc.Schedule(repeat)

	// Within the grace period nothing is retired.
	h.svc.CleanupTick(time.Now())
	if !h.svc.IsScheduled("short") {
		t.Fatal("entry retired before grace expired")
	}

	h.svc.CleanupTick(time.Now().Add(2 * time.Minute))
	if h.svc.IsScheduled("short") {
		t.Fatal("expired one-shot not retired")
	}
	if !h.svc.IsScheduled("daily") {
		t.Fatal("repeating entry retired")
	}
}

func TestRecordRestoreRoundTrip(t *testing.T) {
	h := newHarness(t, Config{})
	for i := 0; i < 3; i++ {
		h.svc.Schedule(validRequest(fmt.Sprintf("n-%d", i)))
	}
	h.svc.TouchForeground(time.Unix(1700000000, 0))
	rec := h.svc.Record()
	if len(rec.Entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(rec.Entries))
	}
	if rec.LastForeground != 1700000000 {
		t.Fatalf("last foreground = %d", rec.LastForeground)
	}

	h2 := newHarness(t, Config{})
	h2.svc.Restore(rec)
	if h2.svc.Count() != 3 {
		t.Fatalf("restored count = %d, want 3", h2.svc.Count())
	}
	for i := 0; i < 3; i++ {
		if !h2.svc.IsScheduled(fmt.Sprintf("n-%d", i)) {
			t.Fatalf("n-%d not restored", i)
		}
	}

	// Cancelling a restored entry tolerates the stale platform handle.
	h2.svc.Cancel("n-0")
	if h2.svc.IsScheduled("n-0") {
		t.Fatal("restored entry not removed")
	}
	if got := h2.ctr.Errors.Load(); got != 0 {
		t.Fatalf("stale handle counted as error: %d", got)
	}
}

func TestSnapshot(t *testing.T) {
	h := newHarness(t, Config{Capacity: 10})
	h.svc.Schedule(validRequest("a"))
	h.svc.Cancel("missing-means-no-history")
	h.svc.Cancel("a")

	snap := h.svc.Snapshot()
	if snap.Tracked != 0 || snap.Capacity != 10 {
		t.Fatalf("snapshot = %+v", snap)
	}
	if len(snap.History) != 2 {
		t.Fatalf("history = %d entries, want 2", len(snap.History))
	}
	if snap.History[0].Op != "schedule" || snap.History[1].Op != "cancel" {
		t.Fatalf("history ops = %q, %q", snap.History[0].Op, snap.History[1].Op)
	}
}
