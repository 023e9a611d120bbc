// Package breaker guards platform and persistence calls against error storms.
package breaker

import (
	"sync"
	"time"

	"notisched/pkg/logx"
)

const (
	DefaultThreshold = 5
	DefaultCooldown  = 60 * time.Second
)

type Config struct {
	// Threshold is the number of consecutive failures that opens the circuit.
	Threshold int
	// Cooldown is how long the circuit stays open before Tick closes it.
	// Measured on the wall clock, independent of any simulated time.
	Cooldown time.Duration
}

func (c Config) withDefaults() Config {
	if c.Threshold <= 0 {
		c.Threshold = DefaultThreshold
	}
	if c.Cooldown <= 0 {
		c.Cooldown = DefaultCooldown
	}
	return c
}

// Breaker is a consecutive-failure circuit breaker.
//
//	CLOSED -> OPEN   after Threshold consecutive failures
//	OPEN   -> CLOSED once Cooldown elapsed (via Tick)
//
// While open, callers must short-circuit instead of attempting the
// underlying operation.
type Breaker struct {
	log logx.Logger

	mu       sync.Mutex
	cfg      Config
	fails    int
	open     bool
	openedAt time.Time
}

func New(cfg Config, log logx.Logger) *Breaker {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Breaker{log: log, cfg: cfg.withDefaults()}
}

// Allow reports whether an attempt may proceed right now.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.open
}

// RecordFailure counts one failure; crossing the threshold opens the circuit.
func (b *Breaker) RecordFailure() {
	b.RecordFailureAt(time.Now())
}

func (b *Breaker) RecordFailureAt(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.fails++
	if b.open || b.fails < b.cfg.Threshold {
		return
	}
	b.open = true
	b.openedAt = now
	b.log.Warn("circuit opened",
		logx.Int("consecutive_failures", b.fails),
		logx.Duration("cooldown", b.cfg.Cooldown))
}

// RecordSuccess resets the consecutive-failure counter.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fails = 0
}

// Tick closes the circuit once the cooldown elapsed since the most recent
// open transition. It is called from the main tick loop.
func (b *Breaker) Tick(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.open || now.Sub(b.openedAt) < b.cfg.Cooldown {
		return
	}
	b.open = false
	b.fails = 0
	b.openedAt = time.Time{}
	b.log.Info("circuit closed after cooldown")
}

func (b *Breaker) Apply(cfg Config) {
	b.mu.Lock()
	b.cfg = cfg.withDefaults()
	b.mu.Unlock()
}

type Snapshot struct {
	Open     bool
	Failures int
	OpenedAt time.Time
}

func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{Open: b.open, Failures: b.fails, OpenedAt: b.openedAt}
}
