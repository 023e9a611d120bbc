package runloop

import (
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"notisched/pkg/logx"
)

const (
	DefaultCapacity    = 1024
	DefaultMaxPerDrain = 128
	DefaultDrainBudget = 10 * time.Millisecond
)

// OverflowPolicy decides what Enqueue does when the queue is full.
type OverflowPolicy int

const (
	// Reject refuses the new action and leaves the queue untouched.
	Reject OverflowPolicy = iota
	// DropOldest evicts the head to make room for the new action.
	DropOldest
)

type Config struct {
	Capacity    int
	Overflow    OverflowPolicy
	MaxPerDrain int
	DrainBudget time.Duration
}

func (c Config) withDefaults() Config {
	if c.Capacity <= 0 {
		c.Capacity = DefaultCapacity
	}
	if c.MaxPerDrain <= 0 {
		c.MaxPerDrain = DefaultMaxPerDrain
	}
	if c.DrainBudget <= 0 {
		c.DrainBudget = DefaultDrainBudget
	}
	return c
}

// Queue is a bounded FIFO of pending actions.
//
// Any goroutine may Enqueue; exactly one goroutine calls Drain. Actions are
// popped in batches under the lock and executed outside it.
type Queue struct {
	log logx.Logger

	mu      sync.Mutex
	cfg     Config
	pending []func()

	dropped  atomic.Uint64
	panicked atomic.Uint64
	executed atomic.Uint64
}

func NewQueue(cfg Config, log logx.Logger) *Queue {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	return &Queue{log: log, cfg: cfg, pending: make([]func(), 0, cfg.Capacity)}
}

// Enqueue adds fn to the queue. It reports false when the queue is full and
// the overflow policy rejects new work.
func (q *Queue) Enqueue(fn func()) bool {
	if fn == nil {
		return false
	}
	q.mu.Lock()
	if len(q.pending) >= q.cfg.Capacity {
		if q.cfg.Overflow != DropOldest {
			q.mu.Unlock()
			return false
		}
		// Evict the head; the copy keeps the backing array from growing.
		copy(q.pending, q.pending[1:])
		q.pending = q.pending[:len(q.pending)-1]
		q.dropped.Add(1)
	}
	q.pending = append(q.pending, fn)
	q.mu.Unlock()
	return true
}

// Drain executes queued actions in FIFO order until maxCount actions ran or
// the time budget elapsed, whichever comes first. Zero arguments fall back to
// the configured defaults. It returns the number of executed actions.
func (q *Queue) Drain(maxCount int, budget time.Duration) int {
	q.mu.Lock()
	if maxCount <= 0 {
		maxCount = q.cfg.MaxPerDrain
	}
	if budget <= 0 {
		budget = q.cfg.DrainBudget
	}
	q.mu.Unlock()

	deadline := time.Now().Add(budget)
	ran := 0
	for ran < maxCount {
		// Pop a small batch under the lock, run outside it.
		batch := q.pop(min(maxCount-ran, 16))
		if len(batch) == 0 {
			break
		}
		for _, fn := range batch {
			q.runOne(fn)
			ran++
		}
		if time.Now().After(deadline) {
			break
		}
	}
	if ran > 0 {
		q.executed.Add(uint64(ran))
	}
	return ran
}

func (q *Queue) pop(n int) []func() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if n > len(q.pending) {
		n = len(q.pending)
	}
	if n == 0 {
		return nil
	}
	batch := make([]func(), n)
	copy(batch, q.pending[:n])
	rest := copy(q.pending, q.pending[n:])
	for i := rest; i < len(q.pending); i++ {
		q.pending[i] = nil
	}
	q.pending = q.pending[:rest]
	return batch
}

func (q *Queue) runOne(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			q.panicked.Add(1)
			q.log.Error("panic in queued action", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()
	fn()
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *Queue) Cap() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.cfg.Capacity
}

// Dropped reports actions evicted by the DropOldest overflow policy.
func (q *Queue) Dropped() uint64 { return q.dropped.Load() }

// Panicked reports actions that panicked during execution.
func (q *Queue) Panicked() uint64 { return q.panicked.Load() }

// Executed reports the lifetime count of completed actions.
func (q *Queue) Executed() uint64 { return q.executed.Load() }

// Apply updates capacity and drain limits. Shrinking capacity below the
// current backlog drops the oldest pending actions.
func (q *Queue) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	q.mu.Lock()
	q.cfg = cfg
	for len(q.pending) > cfg.Capacity {
		copy(q.pending, q.pending[1:])
		q.pending = q.pending[:len(q.pending)-1]
		q.dropped.Add(1)
	}
	q.mu.Unlock()
}
