package scheduler

import (
	"time"

	"notisched/internal/breaker"
	"notisched/internal/kit"
)

// Config controls the scheduling service.
type Config struct {
	// Capacity bounds the identifier registry; the oldest entry is evicted
	// beyond it.
	Capacity int
	// Channel passed to the platform notifier when a request has none.
	DefaultChannel string
	// AwaitTimeout bounds async operations (default 5s).
	AwaitTimeout time.Duration
	// CleanupGrace is how long a fired one-shot entry may linger in the
	// registry before the cleanup tick retires it.
	CleanupGrace time.Duration
	// HistorySize bounds the diagnostics ring (default 200).
	HistorySize int

	Return kit.ReturnConfig
}

func (c Config) withDefaults() Config {
	if c.Capacity <= 0 {
		c.Capacity = 100
	}
	if c.DefaultChannel == "" {
		c.DefaultChannel = "default"
	}
	if c.AwaitTimeout <= 0 {
		c.AwaitTimeout = 5 * time.Second
	}
	if c.CleanupGrace <= 0 {
		c.CleanupGrace = time.Minute
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 200
	}
	return c
}

// HistoryItem is one entry in the diagnostics ring.
type HistoryItem struct {
	At    time.Time
	Op    string
	ID    string
	OK    bool
	Error string
}

// Snapshot is a point-in-time diagnostics view.
type Snapshot struct {
	Tracked    int
	Capacity   int
	MaxPending int
	Stopped    bool

	Breaker breaker.Snapshot
	History []HistoryItem
}
