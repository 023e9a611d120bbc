package app

import (
	"strings"
	"time"

	"notisched/internal/breaker"
	"notisched/internal/config"
	"notisched/internal/kit"
	"notisched/internal/runloop"
	"notisched/internal/scheduler"
	"notisched/internal/store"
	"notisched/pkg/logx"
)

// Mapping from the file config (stringly durations, optional sections) to
// each component's native config. Durations were already validated by
// config.Validate, so parse errors here only happen on programmer error.

func mapLogConfig(c config.LoggingConfig) logx.Config {
	return logx.Config{
		Level:   c.Level,
		Console: c.Console,
		File: logx.FileConfig{
			Enabled: c.File.Enabled,
			Path:    c.File.Path,
		},
		Throttle: logx.ThrottleConfig{
			Enabled:     c.Throttle.Enabled,
			LinesPerSec: c.Throttle.LinesPerSec,
		},
	}
}

func mapQueueConfig(c config.QueueConfig) (runloop.Config, error) {
	budget, err := config.ParseDurationField("queue.drain_budget", c.DrainBudget)
	if err != nil {
		return runloop.Config{}, err
	}
	overflow := runloop.Reject
	if strings.EqualFold(strings.TrimSpace(c.Overflow), "drop_oldest") {
		overflow = runloop.DropOldest
	}
	return runloop.Config{
		Capacity:    c.Capacity,
		Overflow:    overflow,
		MaxPerDrain: c.MaxPerDrain,
		DrainBudget: budget,
	}, nil
}

func mapBreakerConfig(c config.BreakerConfig) (breaker.Config, error) {
	cooldown, err := config.ParseDurationField("breaker.cooldown", c.Cooldown)
	if err != nil {
		return breaker.Config{}, err
	}
	return breaker.Config{
		Threshold: c.Threshold,
		Cooldown:  cooldown,
	}, nil
}

func mapSchedulerConfig(c config.SchedulerConfig) (scheduler.Config, error) {
	await, err := config.ParseDurationField("scheduler.await_timeout", c.AwaitTimeout)
	if err != nil {
		return scheduler.Config{}, err
	}
	grace, err := config.ParseDurationField("scheduler.cleanup_grace", c.CleanupGrace)
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{
		Capacity:       c.Capacity,
		DefaultChannel: c.DefaultChannel,
		AwaitTimeout:   await,
		CleanupGrace:   grace,
		HistorySize:    c.HistorySize,
		Return: kit.ReturnConfig{
			Enabled:    c.Return.Enabled,
			Title:      c.Return.Title,
			Body:       c.Return.Body,
			AfterHours: c.Return.AfterHours,
		},
	}, nil
}

// mapStoreConfig returns enabled=false when persistence is omitted or the
// driver is "none".
func mapStoreConfig(c *config.PersistenceConfig) (store.Config, bool, error) {
	if c == nil {
		return store.Config{}, false, nil
	}
	driver := strings.ToLower(strings.TrimSpace(c.Driver))
	if driver == "" || driver == "none" {
		return store.Config{}, false, nil
	}
	busy, err := config.ParseDurationOrDefault("persistence.busy_timeout", c.BusyTimeout, time.Second)
	if err != nil {
		return store.Config{}, false, err
	}
	return store.Config{
		Driver:      driver,
		Path:        strings.TrimSpace(c.Path),
		BusyTimeout: int(busy / time.Millisecond),
	}, true, nil
}

func mapControllerConfig(c *config.PersistenceConfig) (store.ControllerConfig, error) {
	if c == nil {
		return store.ControllerConfig{}, nil
	}
	debounce, err := config.ParseDurationField("persistence.debounce", c.Debounce)
	if err != nil {
		return store.ControllerConfig{}, err
	}
	retryDelay, err := config.ParseDurationField("persistence.retry_delay", c.RetryDelay)
	if err != nil {
		return store.ControllerConfig{}, err
	}
	return store.ControllerConfig{
		Debounce:   debounce,
		SaveRetry:  c.SaveRetry,
		RetryDelay: retryDelay,
	}, nil
}
