package config

import (
	"reflect"
	"sort"
	"strings"

	logx "checkinbot/pkg/logx"
)

// Sections whose changes only take effect after a restart.
var restartSections = map[string]bool{
	"telegram.token": true,
	"course":         true,
	"storage":        true,
	"redis":          true,
	"event_sink":     true,
}

// SummarizeConfigChange returns the changed section names, safe structured
// attrs for logging (never secrets) and the subset of changes that need a
// restart to apply.
func SummarizeConfigChange(oldCfg, newCfg *Config) (changed []string, attrs []logx.Field, restart []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	add := func(name string, fields ...logx.Field) {
		changed = append(changed, name)
		attrs = append(attrs, fields...)
		if restartSections[name] {
			restart = append(restart, name)
		}
	}

	if oldCfg.Telegram.Token != newCfg.Telegram.Token {
		add("telegram.token")
	}
	if strings.TrimSpace(oldCfg.Telegram.PollTimeout) != strings.TrimSpace(newCfg.Telegram.PollTimeout) ||
		!reflect.DeepEqual(oldCfg.Telegram.OwnerUserIDs, newCfg.Telegram.OwnerUserIDs) ||
		strings.TrimSpace(oldCfg.Telegram.GroupLog) != strings.TrimSpace(newCfg.Telegram.GroupLog) {
		add("telegram",
			logx.String("telegram.poll_timeout", strings.TrimSpace(newCfg.Telegram.PollTimeout)),
			logx.Int("telegram.owner_count", len(newCfg.Telegram.OwnerUserIDs)),
			logx.Bool("telegram.group_log_set", strings.TrimSpace(newCfg.Telegram.GroupLog) != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		add("logging",
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	if oldCfg.Course != newCfg.Course {
		add("course",
			logx.String("course.timezone", newCfg.Course.Timezone),
			logx.Int("course.grace_days", newCfg.Course.GraceDays),
			logx.Int("course.fine_amount", newCfg.Course.FineAmount),
		)
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		add("scheduler",
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.String("scheduler.job_timeout", newCfg.Scheduler.JobTimeout),
			logx.Int("scheduler.retry_max", newCfg.Scheduler.RetryMax),
		)
	}

	if oldCfg.TaskEngine != newCfg.TaskEngine {
		te := newCfg.TaskEngine
		add("task_engine",
			logx.Bool("task_engine.enabled", te.Enabled),
			logx.Int("task_engine.workers", te.Workers),
			logx.Int("task_engine.queue_size", te.QueueSize),
			logx.String("task_engine.default_timeout", strings.TrimSpace(te.DefaultTimeout)),
			logx.String("task_engine.max_queue_delay", strings.TrimSpace(te.MaxQueueDelay)),
			logx.Int("task_engine.retry_max", te.RetryMax),
		)
	}

	if oldCfg.Notifier != newCfg.Notifier {
		n := newCfg.Notifier
		add("notifier",
			logx.Bool("notifier.enabled", n.Enabled),
			logx.Int("notifier.workers", n.Workers),
			logx.Int("notifier.queue_size", n.QueueSize),
			logx.Int("notifier.rate_per_sec", n.RatePerSec),
			logx.Int("notifier.retry_max", n.RetryMax),
			logx.Bool("notifier.persist_dedup", n.PersistDedup),
		)
	}

	// Storage and redis: compare everything, log nothing secret.
	if oldCfg.Storage != newCfg.Storage {
		add("storage",
			logx.String("storage.driver", newCfg.Storage.Driver),
			logx.Bool("storage.path_set", newCfg.Storage.Path != ""),
			logx.Bool("storage.dsn_set", newCfg.Storage.DSN != ""),
		)
	}
	if oldCfg.Redis != newCfg.Redis {
		add("redis", logx.Bool("redis.enabled", newCfg.Redis.Enabled), logx.String("redis.addr", newCfg.Redis.Addr))
	}
	if !reflect.DeepEqual(oldCfg.EventSink, newCfg.EventSink) {
		add("event_sink", logx.String("event_sink.driver", newCfg.EventSink.Driver))
	}

	if oldCfg.HTTP != newCfg.HTTP {
		add("http",
			logx.Bool("http.enabled", newCfg.HTTP.Enabled),
			logx.String("http.addr", strings.TrimSpace(newCfg.HTTP.Addr)),
			logx.Bool("http.token_set", strings.TrimSpace(newCfg.HTTP.Token) != ""),
			logx.Bool("http.pprof", newCfg.HTTP.Pprof),
		)
	}

	sort.Strings(changed)
	sort.Strings(restart)
	return changed, attrs, restart
}
