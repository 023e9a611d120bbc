package config

import (
	"reflect"
	"sort"
	"strings"

	"notisched/pkg/logx"
)

// SummarizeChange returns a compact list of changed sections plus safe
// structured attrs for logging (never includes secrets like tokens).
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logx.throttle_enabled", newCfg.Logging.Throttle.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler) {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Int("scheduler.capacity", newCfg.Scheduler.Capacity),
			logx.String("scheduler.default_channel", newCfg.Scheduler.DefaultChannel),
			logx.Int("scheduler.history_size", newCfg.Scheduler.HistorySize),
			logx.Bool("scheduler.return_enabled", newCfg.Scheduler.Return.Enabled),
		)
	}

	if oldCfg.Queue != newCfg.Queue {
		changed = append(changed, "queue")
		attrs = append(attrs,
			logx.Int("queue.capacity", newCfg.Queue.Capacity),
			logx.String("queue.overflow", newCfg.Queue.Overflow),
			logx.Int("queue.max_per_drain", newCfg.Queue.MaxPerDrain),
		)
	}

	if oldCfg.Breaker != newCfg.Breaker {
		changed = append(changed, "breaker")
		attrs = append(attrs,
			logx.Int("breaker.threshold", newCfg.Breaker.Threshold),
			logx.String("breaker.cooldown", strings.TrimSpace(newCfg.Breaker.Cooldown)),
		)
	}

	// Persistence. Nil means disabled.
	oldP, newP := oldCfg.Persistence, newCfg.Persistence
	if (oldP == nil) != (newP == nil) || (oldP != nil && *oldP != *newP) {
		changed = append(changed, "persistence")
		var driver string
		var pathSet bool
		if newP != nil {
			driver = strings.TrimSpace(newP.Driver)
			pathSet = strings.TrimSpace(newP.Path) != ""
		}
		attrs = append(attrs,
			logx.String("persistence.driver", driver),
			logx.Bool("persistence.path_set", pathSet),
		)
	}

	// Delivery (never log the telegram token).
	if !reflect.DeepEqual(oldCfg.Delivery, newCfg.Delivery) {
		changed = append(changed, "delivery")
		tokenSet := newCfg.Delivery.Telegram != nil && strings.TrimSpace(newCfg.Delivery.Telegram.Token) != ""
		attrs = append(attrs,
			logx.String("delivery.notifier", newCfg.Delivery.Notifier),
			logx.String("delivery.sender", newCfg.Delivery.Sender),
			logx.Int("delivery.max_pending", newCfg.Delivery.MaxPending),
			logx.Bool("delivery.telegram_token_set", tokenSet),
		)
	}

	oldM, newM := oldCfg.Metrics, newCfg.Metrics
	if (oldM == nil) != (newM == nil) || (oldM != nil && *oldM != *newM) {
		changed = append(changed, "metrics")
		var enabled bool
		var interval string
		if newM != nil {
			enabled = newM.Enabled
			interval = strings.TrimSpace(newM.Interval)
		}
		attrs = append(attrs,
			logx.Bool("metrics.enabled", enabled),
			logx.String("metrics.interval", interval),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}
