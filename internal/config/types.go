package config

import "fmt"

type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`

	// Queue controls the main run loop's action queue.
	Queue QueueConfig `json:"queue,omitempty"`

	// Breaker controls the platform circuit breaker.
	Breaker BreakerConfig `json:"breaker,omitempty"`

	// Persistence is optional; nil disables the durable snapshot.
	Persistence *PersistenceConfig `json:"persistence,omitempty"`

	Delivery DeliveryConfig `json:"delivery"`

	// Metrics is optional; nil disables the periodic snapshot export.
	Metrics *MetricsConfig `json:"metrics,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Throttle LoggingThrottle `json:"throttle"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingThrottle caps warn-and-above lines per second; excess is dropped
// and counted.
type LoggingThrottle struct {
	Enabled     bool `json:"enabled"`
	LinesPerSec int  `json:"lines_per_sec"`
}

// SchedulerConfig controls tracking limits and async behavior.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type SchedulerConfig struct {
	// Capacity bounds tracked notifications; the oldest is evicted beyond it.
	Capacity int `json:"capacity,omitempty"`

	DefaultChannel string `json:"default_channel,omitempty"`

	// AwaitTimeout bounds async operations. Default "5s".
	AwaitTimeout string `json:"await_timeout,omitempty"`

	// CleanupGrace is how long a fired one-shot entry may linger before the
	// cleanup tick retires it. Default "1m".
	CleanupGrace string `json:"cleanup_grace,omitempty"`

	HistorySize int `json:"history_size,omitempty"`

	Return ReturnConfig `json:"return,omitempty"`
}

// ReturnConfig describes the come-back notification scheduled when the
// application leaves the foreground.
type ReturnConfig struct {
	Enabled    bool   `json:"enabled"`
	Title      string `json:"title,omitempty"`
	Body       string `json:"body,omitempty"`
	AfterHours int    `json:"after_hours,omitempty"`
}

type QueueConfig struct {
	Capacity int `json:"capacity,omitempty"`

	// Overflow is "reject" (default) or "drop_oldest".
	Overflow string `json:"overflow,omitempty"`

	MaxPerDrain int `json:"max_per_drain,omitempty"`

	// DrainBudget is a Go duration string. Default "10ms".
	DrainBudget string `json:"drain_budget,omitempty"`
}

type BreakerConfig struct {
	// Threshold is the consecutive-failure count that opens the circuit.
	Threshold int `json:"threshold,omitempty"`

	// Cooldown is a Go duration string. Default "60s".
	Cooldown string `json:"cooldown,omitempty"`
}

// PersistenceConfig controls the durable snapshot layer.
//
// Example:
//
//	"persistence": { "driver": "file", "path": "./notisched_state.json" }
type PersistenceConfig struct {
	Driver string `json:"driver"`
	Path   string `json:"path"`

	// BusyTimeout is a Go duration string (sqlite only).
	BusyTimeout string `json:"busy_timeout,omitempty"`

	// Debounce delays the write after a mutation so bursts coalesce.
	// Default "500ms".
	Debounce string `json:"debounce,omitempty"`

	SaveRetry int `json:"save_retry,omitempty"`

	// RetryDelay is a Go duration string. Default "50ms".
	RetryDelay string `json:"retry_delay,omitempty"`
}

// DeliveryConfig selects the platform notifier and its delivery sink.
type DeliveryConfig struct {
	// Notifier is "local" (default) or "null".
	Notifier string `json:"notifier,omitempty"`

	// Sender is "log" (default) or "telegram".
	Sender string `json:"sender,omitempty"`

	MaxPending int `json:"max_pending,omitempty"`

	Telegram *TelegramConfig `json:"telegram,omitempty"`
}

type TelegramConfig struct {
	Token      string `json:"token"`
	ChatID     int64  `json:"chat_id"`
	ThreadID   int    `json:"thread_id,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
	// SendTimeout is a Go duration string. Default "10s".
	SendTimeout string `json:"send_timeout,omitempty"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
	// Interval is a Go duration string. Default "1s".
	Interval string `json:"interval,omitempty"`
}

// Validate checks cross-field constraints and that every duration string
// parses, so a bad config is rejected before it reaches the components.
func (c *Config) Validate() error {
	fields := []struct{ path, raw string }{
		{"scheduler.await_timeout", c.Scheduler.AwaitTimeout},
		{"scheduler.cleanup_grace", c.Scheduler.CleanupGrace},
		{"queue.drain_budget", c.Queue.DrainBudget},
		{"breaker.cooldown", c.Breaker.Cooldown},
	}
	if p := c.Persistence; p != nil {
		fields = append(fields,
			struct{ path, raw string }{"persistence.busy_timeout", p.BusyTimeout},
			struct{ path, raw string }{"persistence.debounce", p.Debounce},
			struct{ path, raw string }{"persistence.retry_delay", p.RetryDelay},
		)
		switch p.Driver {
		case "", "none", "file", "sqlite":
		default:
			return fmt.Errorf("persistence.driver: unknown driver %q", p.Driver)
		}
		if (p.Driver == "file" || p.Driver == "sqlite") && p.Path == "" {
			return fmt.Errorf("persistence.path: required for driver %q", p.Driver)
		}
	}
	if m := c.Metrics; m != nil {
		fields = append(fields, struct{ path, raw string }{"metrics.interval", m.Interval})
		if m.Enabled && m.Path == "" {
			return fmt.Errorf("metrics.path: required when metrics are enabled")
		}
	}
	if tg := c.Delivery.Telegram; tg != nil {
		fields = append(fields, struct{ path, raw string }{"delivery.telegram.send_timeout", tg.SendTimeout})
	}
	for _, f := range fields {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}

	switch c.Queue.Overflow {
	case "", "reject", "drop_oldest":
	default:
		return fmt.Errorf("queue.overflow: unknown policy %q", c.Queue.Overflow)
	}
	switch c.Delivery.Notifier {
	case "", "local", "null":
	default:
		return fmt.Errorf("delivery.notifier: unknown notifier %q", c.Delivery.Notifier)
	}
	switch c.Delivery.Sender {
	case "", "log":
	case "telegram":
		if c.Delivery.Telegram == nil || c.Delivery.Telegram.Token == "" {
			return fmt.Errorf("delivery.telegram.token: required for the telegram sender")
		}
		if c.Delivery.Telegram.ChatID == 0 {
			return fmt.Errorf("delivery.telegram.chat_id: required for the telegram sender")
		}
	default:
		return fmt.Errorf("delivery.sender: unknown sender %q", c.Delivery.Sender)
	}
	if c.Scheduler.Return.Enabled && c.Scheduler.Return.AfterHours <= 0 {
		return fmt.Errorf("scheduler.return.after_hours: must be > 0 when enabled")
	}
	return nil
}
