// Package eventbus fans notification domain events out to subscriber
// callbacks, isolating each subscriber from the failures of the others.
package eventbus

import (
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"notisched/internal/pool"
	"notisched/pkg/logx"
)

// Event types published by the scheduler and platform layers.
const (
	TypeScheduled         = "notification.scheduled"
	TypeCancelled         = "notification.cancelled"
	TypeDelivered         = "notification.delivered"
	TypeTapped            = "notification.tapped"
	TypePermissionChanged = "permission.changed"
	TypeError             = "operation.error"
)

// Event is a pooled payload. Publishers acquire it with NewEvent, fill it,
// and hand it to Publish; the bus returns it to the pool after every
// subscriber has run. Subscribers must not retain the pointer.
type Event struct {
	Type       string
	Time       time.Time
	Identifier string
	Group      string
	Op         string
	Err        error
	Data       any
}

func (e *Event) Reset() {
	*e = Event{}
}

type subscriber struct {
	name string
	fn   func(*Event)
}

// Aggregator delivers events to all subscribers independently: one panicking
// handler never prevents the rest from running.
type Aggregator struct {
	log  logx.Logger
	pool *pool.Pool[*Event]

	mu   sync.RWMutex
	subs map[uint64]subscriber
	seq  atomic.Uint64

	handlerFailures atomic.Uint64
}

func New(log logx.Logger) *Aggregator {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Aggregator{
		log:  log,
		pool: pool.New(128, func() *Event { return &Event{} }),
		subs: map[uint64]subscriber{},
	}
}

// Subscribe registers fn under a human-readable name (used to identify the
// handler in failure logs). The returned function unsubscribes; it is
// idempotent.
func (a *Aggregator) Subscribe(name string, fn func(*Event)) (unsubscribe func()) {
	id := a.seq.Add(1)
	a.mu.Lock()
	a.subs[id] = subscriber{name: name, fn: fn}
	a.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			a.mu.Lock()
			delete(a.subs, id)
			a.mu.Unlock()
		})
	}
}

// NewEvent loans a pooled event payload. Publish returns it to the pool.
func (a *Aggregator) NewEvent(typ string) *Event {
	e := a.pool.Acquire()
	e.Type = typ
	e.Time = time.Now()
	return e
}

// Publish fans e out to every subscriber and returns it to the pool.
//
// Callers must not hold internal component locks: subscriber callbacks are
// arbitrary user code.
func (a *Aggregator) Publish(e *Event) {
	if e == nil {
		return
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	// Snapshot subscribers so fanout runs without the lock.
	a.mu.RLock()
	subs := make([]subscriber, 0, len(a.subs))
	for _, s := range a.subs {
		subs = append(subs, s)
	}
	a.mu.RUnlock()

	for _, s := range subs {
		a.invoke(s, e)
	}
	a.pool.Release(e)
}

func (a *Aggregator) invoke(s subscriber, e *Event) {
	defer func() {
		if r := recover(); r != nil {
			a.handlerFailures.Add(1)
			a.log.Error("event handler failed",
				logx.String("handler", s.name),
				logx.String("event", e.Type),
				logx.Any("panic", r),
				logx.Stack(string(debug.Stack())))
		}
	}()
	s.fn(e)
}

// Enqueuer is the slice of the run loop's queue the bus needs for async
// dispatch. Satisfied by *runloop.Queue.
type Enqueuer interface {
	Enqueue(fn func()) bool
}

// PublishVia defers the fanout onto the run loop, so publishers holding
// internal locks never invoke user code directly (lock-reentrancy guard).
// If the queue rejects the action the event is dropped and returned to the
// pool.
func (a *Aggregator) PublishVia(q Enqueuer, e *Event) {
	if e == nil {
		return
	}
	if q == nil || !q.Enqueue(func() { a.Publish(e) }) {
		if q != nil {
			a.log.Debug("event dropped (queue full)", logx.String("event", e.Type))
		}
		a.pool.Release(e)
	}
}

// PublishError reports an operation failure on the error-event channel,
// dispatched asynchronously via the run loop.
func (a *Aggregator) PublishError(q Enqueuer, op string, err error) {
	e := a.NewEvent(TypeError)
	e.Op = op
	e.Err = err
	a.PublishVia(q, e)
}

// HandlerFailures reports how many subscriber invocations panicked.
func (a *Aggregator) HandlerFailures() uint64 { return a.handlerFailures.Load() }

// PoolStats exposes the event pool counters for metrics folding.
func (a *Aggregator) PoolStats() (hits, misses uint64) {
	return a.pool.Hits(), a.pool.Misses()
}
