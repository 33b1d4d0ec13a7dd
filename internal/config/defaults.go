package config

import "strings"

const (
	DefaultTimezone = "Europe/Moscow"
	DefaultHTTPAddr = "127.0.0.1:8080"
)

// ApplyDefaults fills omitted fields in place.
func ApplyDefaults(cfg *Config) {
	c := &cfg.Course
	if strings.TrimSpace(c.Timezone) == "" {
		c.Timezone = DefaultTimezone
	}
	if c.HorizonDays == 0 {
		c.HorizonDays = 63
	}
	if c.GraceDays == 0 {
		c.GraceDays = 5
	}
	if c.FineAmount == 0 {
		c.FineAmount = 250
	}
	def := func(p *string, v string) {
		if strings.TrimSpace(*p) == "" {
			*p = v
		}
	}
	def(&c.MorningDeadline, "10:00")
	def(&c.EveningDeadline, "23:59")
	def(&c.WeeklyDeadline, "23:59")
	def(&c.MorningTag, "#оу")
	def(&c.EveningTag, "#ов")
	def(&c.WeeklyTag, "#неделя")
	def(&c.CompletionTime, "18:00")
	if c.CompletionOffsetDays == 0 {
		c.CompletionOffsetDays = 62
	}

	def(&cfg.Logging.Level, "info")
	def(&cfg.Telegram.PollTimeout, "10s")
	def(&cfg.Scheduler.JobTimeout, "30s")
	def(&cfg.Notifier.DedupWindow, "1m")
	def(&cfg.Notifier.DedupBackend, "storage")
	def(&cfg.Storage.Driver, "memory")
	def(&cfg.EventSink.Driver, "none")
	def(&cfg.EventSink.Topic, "checkinbot.events")
	def(&cfg.EventSink.PublishTimeout, "5s")
	def(&cfg.HTTP.Addr, DefaultHTTPAddr)
	if cfg.EventSink.Buffer == 0 {
		cfg.EventSink.Buffer = 256
	}
	if cfg.Scheduler.RetryMax == 0 {
		cfg.Scheduler.RetryMax = 2
	}
}
