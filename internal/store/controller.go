package store

import (
	"context"
	"sync"
	"time"

	"notisched/internal/breaker"
	"notisched/internal/metrics"
	"notisched/pkg/logx"
)

const (
	DefaultDebounce   = 500 * time.Millisecond
	DefaultSaveRetry  = 3
	DefaultRetryDelay = 50 * time.Millisecond
)

// ControllerConfig tunes the flush pipeline.
type ControllerConfig struct {
	Debounce   time.Duration
	SaveRetry  int
	RetryDelay time.Duration
}

func (c ControllerConfig) withDefaults() ControllerConfig {
	if c.Debounce <= 0 {
		c.Debounce = DefaultDebounce
	}
	if c.SaveRetry <= 0 {
		c.SaveRetry = DefaultSaveRetry
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	return c
}

// Controller debounces dirty-state into coalesced flushes.
//
// MarkDirty may be called from any goroutine; Tick and Flush run on the
// single main loop that owns file/database writes. The snapshot supplier is
// invoked at flush time so the record reflects the latest state.
type Controller struct {
	log   logx.Logger
	store Store
	br    *breaker.Breaker
	ctr   *metrics.Counters

	snapshot func() Record

	mu       sync.Mutex
	cfg      ControllerConfig
	dirty    bool
	gen      uint64
	deadline time.Time
}

func NewController(cfg ControllerConfig, st Store, br *breaker.Breaker, ctr *metrics.Counters, snapshot func() Record, log logx.Logger) *Controller {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Controller{
		log:      log,
		store:    st,
		br:       br,
		ctr:      ctr,
		snapshot: snapshot,
		cfg:      cfg.withDefaults(),
	}
}

// MarkDirty starts (or restarts) the debounce window. Repeated calls inside
// the window coalesce into a single flush.
func (c *Controller) MarkDirty() {
	c.mu.Lock()
	c.dirty = true
	c.gen++
	c.deadline = time.Now().Add(c.cfg.Debounce)
	c.mu.Unlock()
}

// Dirty reports whether a flush is pending.
func (c *Controller) Dirty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dirty
}

// Tick flushes once the debounce window has elapsed. Driven by the main
// tick loop.
func (c *Controller) Tick(ctx context.Context, now time.Time) {
	c.mu.Lock()
	due := c.dirty && !now.Before(c.deadline)
	c.mu.Unlock()
	if due {
		_ = c.Flush(ctx)
	}
}

// Flush writes the current snapshot.
//
// Not dirty: no-op. Circuit open: skipped and logged, state stays dirty so a
// later tick retries after the circuit closes. Write failures are retried a
// bounded number of times, then recorded as a circuit-breaker failure.
func (c *Controller) Flush(ctx context.Context) error {
	c.mu.Lock()
	if !c.dirty {
		c.mu.Unlock()
		return nil
	}
	cfg := c.cfg
	gen := c.gen
	c.mu.Unlock()

	if c.store == nil {
		// Persistence disabled; nothing to do beyond clearing the flag.
		c.clearDirty(gen)
		return nil
	}
	if c.br != nil && !c.br.Allow() {
		c.log.Debug("flush skipped (circuit open)")
		return nil
	}

	rec := c.snapshot()
	start := time.Now()

	var err error
	for attempt := 1; attempt <= cfg.SaveRetry; attempt++ {
		err = c.store.Save(ctx, rec)
		if err == nil {
			break
		}
		if attempt < cfg.SaveRetry {
			time.Sleep(cfg.RetryDelay)
		}
	}

	if err != nil {
		c.log.Error("store flush failed", logx.Int("attempts", cfg.SaveRetry), logx.Err(err))
		if c.br != nil {
			c.br.RecordFailure()
		}
		if c.ctr != nil {
			c.ctr.Errors.Add(1)
		}
		return err
	}

	c.clearDirty(gen)
	if c.br != nil {
		c.br.RecordSuccess()
	}
	if c.ctr != nil {
		c.ctr.ObservePersistLatency(time.Since(start))
	}
	c.log.Debug("store flushed",
		logx.Int("entries", len(rec.Entries)),
		logx.Duration("took", time.Since(start)))
	return nil
}

// clearDirty drops the flag only if no MarkDirty landed after the snapshot
// for generation gen was taken; a later mutation keeps the state dirty so
// the next tick flushes it.
func (c *Controller) clearDirty(gen uint64) {
	c.mu.Lock()
	if c.gen == gen {
		c.dirty = false
	}
	c.mu.Unlock()
}

// Load reads the persisted record via the configured driver. With
// persistence disabled it reports a clean first run.
func (c *Controller) Load(ctx context.Context) (Record, bool, error) {
	if c.store == nil {
		return Record{}, false, nil
	}
	return c.store.Load(ctx)
}

func (c *Controller) Apply(cfg ControllerConfig) {
	c.mu.Lock()
	c.cfg = cfg.withDefaults()
	c.mu.Unlock()
}
