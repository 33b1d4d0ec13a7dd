package app

import (
	"strings"
	"time"

	"checkinbot/internal/config"
	"checkinbot/internal/notifier"
	"checkinbot/internal/storage"
	"checkinbot/internal/task/engine"
	"checkinbot/internal/task/scheduler"
	logx "checkinbot/pkg/logx"
)

// Durations are already checked by config.Validate, so the mappers fall
// back to defaults instead of returning errors.

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		JSON:    cfg.Logging.JSON,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func mapStorageConfig(cfg *config.Config) storage.Config {
	sc := cfg.Storage
	return storage.Config{
		Driver:       strings.ToLower(strings.TrimSpace(sc.Driver)),
		Path:         strings.TrimSpace(sc.Path),
		DSN:          sc.DSN,
		BusyTimeout:  config.MustDuration(sc.BusyTimeout, time.Second),
		MaxOpenConns: sc.MaxOpenConns,
	}
}

func mapRedisConfig(cfg *config.Config) storage.RedisConfig {
	return storage.RedisConfig{
		Addr:      cfg.Redis.Addr,
		Password:  cfg.Redis.Password,
		DB:        cfg.Redis.DB,
		KeyPrefix: cfg.Redis.KeyPrefix,
	}
}

func mapTaskEngineConfig(cfg *config.Config) engine.Config {
	te := cfg.TaskEngine
	return engine.Config{
		// Firings run on the engine, so a scheduler without it is useless.
		Enabled:        te.Enabled || cfg.Scheduler.Enabled,
		Workers:        te.Workers,
		QueueSize:      te.QueueSize,
		DefaultTimeout: config.MustDuration(te.DefaultTimeout, 0),
		MaxQueueDelay:  config.MustDuration(te.MaxQueueDelay, 0),
		HistorySize:    te.HistorySize,
		RetryMax:       te.RetryMax,
	}
}

func mapSchedulerConfig(cfg *config.Config) scheduler.Config {
	return scheduler.Config{
		Enabled:  cfg.Scheduler.Enabled,
		Timezone: cfg.Course.Timezone,
	}
}

func mapNotifierConfig(cfg *config.Config) notifier.Config {
	n := cfg.Notifier
	return notifier.Config{
		Enabled:         n.Enabled,
		Workers:         n.Workers,
		QueueSize:       n.QueueSize,
		RatePerSec:      n.RatePerSec,
		RetryMax:        n.RetryMax,
		RetryBase:       config.MustDuration(n.RetryBase, 500*time.Millisecond),
		RetryMaxDelay:   config.MustDuration(n.RetryMaxDelay, 10*time.Second),
		SendTimeout:     10 * time.Second,
		DedupWindow:     config.MustDuration(n.DedupWindow, 0),
		DedupMaxEntries: n.DedupMaxEntries,
		PersistDedup:    n.PersistDedup,
	}
}
