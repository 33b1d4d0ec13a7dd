package app

import (
	"testing"
	"time"

	"checkinbot/internal/config"
)

func baseConfig(t *testing.T) *config.Config {
	t.Helper()
	c := &config.Config{Telegram: config.TelegramConfig{Token: "t"}}
	config.ApplyDefaults(c)
	if err := config.Validate(c); err != nil {
		t.Fatalf("Validate = %v", err)
	}
	return c
}

func TestEngineFollowsScheduler(t *testing.T) {
	c := baseConfig(t)
	c.TaskEngine.Enabled = false
	c.Scheduler.Enabled = true
	if !mapTaskEngineConfig(c).Enabled {
		t.Fatal("engine must run while the scheduler is enabled")
	}
	c.Scheduler.Enabled = false
	if mapTaskEngineConfig(c).Enabled {
		t.Fatal("engine enabled with both switches off")
	}
}

func TestSchedulerUsesCourseTimezone(t *testing.T) {
	c := baseConfig(t)
	c.Course.Timezone = "Asia/Yekaterinburg"
	if got := mapSchedulerConfig(c).Timezone; got != "Asia/Yekaterinburg" {
		t.Fatalf("timezone = %q", got)
	}
}

func TestNotifierDurations(t *testing.T) {
	c := baseConfig(t)
	c.Notifier.RetryBase = "2s"
	c.Notifier.DedupWindow = "1m"
	n := mapNotifierConfig(c)
	if n.RetryBase != 2*time.Second || n.DedupWindow != time.Minute {
		t.Fatalf("notifier = %+v", n)
	}
}

func TestStorageDriverNormalized(t *testing.T) {
	c := baseConfig(t)
	c.Storage.Driver = " SQLite "
	c.Storage.Path = " ./data/bot.db "
	sc := mapStorageConfig(c)
	if sc.Driver != "sqlite" || sc.Path != "./data/bot.db" {
		t.Fatalf("storage = %+v", sc)
	}
}
