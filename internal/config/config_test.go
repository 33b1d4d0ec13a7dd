package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"checkinbot/internal/domain"
)

const sampleYAML = `
telegram:
  token: "file-token"
  owner_user_ids: [42]
course:
  grace_days: 3
  morning_tag: "#утро"
task_engine:
  enabled: true
  workers: 4
notifier:
  enabled: true
  dedup_window: 30s
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoadYAMLWithDefaults(t *testing.T) {
	m := NewConfigManager(writeFile(t, "config.yaml", sampleYAML))
	m.SetEnviron(map[string]string{})
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load = %v", err)
	}
	if cfg.Telegram.Token != "file-token" || cfg.TaskEngine.Workers != 4 {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Course.Timezone != DefaultTimezone || cfg.Course.HorizonDays != 63 || cfg.Course.FineAmount != 250 {
		t.Fatalf("course defaults not applied: %+v", cfg.Course)
	}
	if cfg.Storage.Driver != "memory" {
		t.Fatalf("storage.driver = %q, want memory", cfg.Storage.Driver)
	}

	course, err := cfg.Course.BuildCourse()
	if err != nil {
		t.Fatal(err)
	}
	if course.GraceDays != 3 {
		t.Fatalf("grace = %d, want 3", course.GraceDays)
	}
	if got := course.Tag(domain.PeriodMorning, 4); got != "#утро4" {
		t.Fatalf("morning tag = %q", got)
	}
	if got := course.Tag(domain.PeriodWeekly, 15); got != "#неделя3" {
		t.Fatalf("weekly tag = %q", got)
	}
}

func TestUnknownFieldRejected(t *testing.T) {
	m := NewConfigManager(writeFile(t, "config.json", `{"telegram":{"token":"x"},"plugins":{}}`))
	if _, err := m.Parse(); err == nil || !strings.Contains(err.Error(), "unknown field") {
		t.Fatalf("Parse = %v, want unknown field error", err)
	}
}

func TestTrailingDataRejected(t *testing.T) {
	if _, err := Decode("c.json", []byte(`{} {}`)); err == nil {
		t.Fatal("trailing data should be rejected")
	}
}

func TestEnvOverridesFile(t *testing.T) {
	m := NewConfigManager(writeFile(t, "config.yaml", sampleYAML))
	m.SetEnviron(map[string]string{
		"CHECKINBOT_TELEGRAM_TOKEN":     "env-token",
		"CHECKINBOT_STORAGE_DRIVER":     "postgres",
		"CHECKINBOT_STORAGE_DSN":        "postgres://bot@db/checkin",
		"CHECKINBOT_EVENT_SINK_BROKERS": "k1:9092,k2:9092",
		"UNRELATED":                     "ignored",
	})
	cfg, err := m.Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Telegram.Token != "env-token" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
	if cfg.Storage.Driver != "postgres" || cfg.Storage.DSN == "" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
	if len(cfg.EventSink.Brokers) != 2 {
		t.Fatalf("brokers = %v", cfg.EventSink.Brokers)
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		c := &Config{Telegram: TelegramConfig{Token: "t"}}
		ApplyDefaults(c)
		return c
	}
	cases := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"ok", func(*Config) {}, ""},
		{"missing token", func(c *Config) { c.Telegram.Token = "" }, "telegram.token"},
		{"bad timezone", func(c *Config) { c.Course.Timezone = "Mars/Olympus" }, "course.timezone"},
		{"bad deadline", func(c *Config) { c.Course.EveningDeadline = "25:99" }, "course.evening_deadline"},
		{"duplicate tags", func(c *Config) { c.Course.EveningTag = "#ОУ" }, "already used"},
		{"bad duration", func(c *Config) { c.Notifier.RetryBase = "soon" }, "notifier.retry_base"},
		{"sqlite without path", func(c *Config) { c.Storage.Driver = "sqlite" }, "storage.path"},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "mongo" }, "storage.driver"},
		{"public http without token", func(c *Config) {
			c.HTTP.Enabled = true
			c.HTTP.Addr = "0.0.0.0:8080"
		}, "http.addr"},
		{"redis dedup without redis", func(c *Config) {
			c.Notifier.PersistDedup = true
			c.Notifier.DedupBackend = "redis"
		}, "redis requires"},
		{"bad group log", func(c *Config) { c.Telegram.GroupLog = "abc" }, "telegram.group_log"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := base()
			tc.mutate(c)
			err := Validate(c)
			if tc.want == "" {
				if err != nil {
					t.Fatalf("Validate = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("Validate = %v, want error containing %q", err, tc.want)
			}
		})
	}
}

func TestParseChatTarget(t *testing.T) {
	chat, thread, err := ParseChatTarget("-100123:7")
	if err != nil || chat != -100123 || thread != 7 {
		t.Fatalf("ParseChatTarget = %d, %d, %v", chat, thread, err)
	}
	if _, _, err := ParseChatTarget("x:1"); err == nil {
		t.Fatal("bad chat id accepted")
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	for addr, want := range map[string]bool{
		"127.0.0.1:8080": true,
		"localhost:80":   true,
		"[::1]:9000":     true,
		"0.0.0.0:8080":   false,
		":8080":          false,
	} {
		if got := IsLoopbackAddr(addr); got != want {
			t.Errorf("IsLoopbackAddr(%q) = %v, want %v", addr, got, want)
		}
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	a := &Config{Telegram: TelegramConfig{Token: "a"}}
	ApplyDefaults(a)
	b := *a
	b.Telegram.Token = "b"
	b.Notifier.Workers = 5
	b.Course.FineAmount = 500

	changed, attrs, restart := SummarizeConfigChange(a, &b)
	if strings.Join(changed, ",") != "course,notifier,telegram.token" {
		t.Fatalf("changed = %v", changed)
	}
	if strings.Join(restart, ",") != "course,telegram.token" {
		t.Fatalf("restart = %v", restart)
	}
	if len(attrs) == 0 {
		t.Fatal("no attrs")
	}
}

func TestWatchPublishesValidChange(t *testing.T) {
	path := writeFile(t, "config.yaml", sampleYAML)
	m := NewConfigManager(path)
	m.SetEnviron(map[string]string{})
	m.debounce = 20 * time.Millisecond
	if _, err := m.Load(); err != nil {
		t.Fatal(err)
	}
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()
	time.Sleep(100 * time.Millisecond)

	// An invalid edit is never published.
	if err := os.WriteFile(path, []byte(sampleYAML+"\nstorage:\n  driver: mongo\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	time.Sleep(150 * time.Millisecond)
	if err := os.WriteFile(path, []byte(strings.Replace(sampleYAML, "workers: 4", "workers: 6", 1)), 0o600); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-ch:
		if cfg.TaskEngine.Workers != 6 {
			t.Fatalf("published workers = %d, want 6", cfg.TaskEngine.Workers)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no config published")
	}
	if m.Get().TaskEngine.Workers != 6 {
		t.Fatal("config not committed")
	}
}
