package config

// Config is the on-disk configuration. Durations are Go duration strings
// ("500ms", "10s", "1m"); times of day are "HH:MM".
type Config struct {
	Telegram   TelegramConfig   `json:"telegram"`
	Logging    LoggingConfig    `json:"logging"`
	Course     CourseConfig     `json:"course"`
	Scheduler  SchedulerConfig  `json:"scheduler"`
	TaskEngine TaskEngineConfig `json:"task_engine"`
	Notifier   NotifierConfig   `json:"notifier"`
	Storage    StorageConfig    `json:"storage"`
	Redis      RedisConfig      `json:"redis"`
	EventSink  EventSinkConfig  `json:"event_sink"`
	HTTP       HTTPConfig       `json:"http"`
}

type TelegramConfig struct {
	Token        string  `json:"token" validate:"required"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// GroupLog is "chat_id" or "chat_id:thread_id" of the log chat.
	GroupLog string `json:"group_log,omitempty"`
	// PollTimeout is the long-polling timeout.
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level" validate:"omitempty,oneof=trace debug info warn warning error"`
	Console  bool            `json:"console"`
	JSON     bool            `json:"json,omitempty"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path" validate:"required_if=Enabled true"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id,omitempty"`
	MinLevel   string `json:"min_level,omitempty" validate:"omitempty,oneof=trace debug info warn warning error"`
	RatePerSec int    `json:"rate_per_sec,omitempty" validate:"min=0"`
}

// CourseConfig is the deployment-wide course calendar.
//
// Defaults: Europe/Moscow, 63 day horizon, 5 grace days, fine 250,
// morning 10:00, evening 23:59, weekly (Sunday) 23:59, tags #оу/#ов/#неделя,
// completion 62 days after the start at 18:00.
type CourseConfig struct {
	Timezone    string `json:"timezone,omitempty"`
	HorizonDays int    `json:"horizon_days,omitempty" validate:"min=0,max=366"`
	GraceDays   int    `json:"grace_days,omitempty" validate:"min=0"`
	FineAmount  int    `json:"fine_amount,omitempty" validate:"min=0"`

	MorningDeadline string `json:"morning_deadline,omitempty"`
	EveningDeadline string `json:"evening_deadline,omitempty"`
	WeeklyDeadline  string `json:"weekly_deadline,omitempty"`

	MorningTag string `json:"morning_tag,omitempty"`
	EveningTag string `json:"evening_tag,omitempty"`
	WeeklyTag  string `json:"weekly_tag,omitempty"`

	CompletionOffsetDays int    `json:"completion_offset_days,omitempty" validate:"min=0"`
	CompletionTime       string `json:"completion_time,omitempty"`
}

// SchedulerConfig controls the cron timer facility.
type SchedulerConfig struct {
	Enabled bool `json:"enabled"`
	// JobTimeout bounds one firing.
	JobTimeout string `json:"job_timeout,omitempty"`
	// RetryMax is the retry budget of a firing that failed on storage.
	RetryMax int `json:"retry_max,omitempty" validate:"min=0,max=10"`
}

// TaskEngineConfig controls the worker pool executing firings.
//
// Defaults (when fields are omitted/zero):
//   - workers: 2
//   - queue_size: 256
//   - default_timeout: "0s" (disabled)
//   - max_queue_delay: "0s" (disabled)
//   - history_size: 200
type TaskEngineConfig struct {
	Enabled   bool `json:"enabled"`
	Workers   int  `json:"workers,omitempty" validate:"min=0,max=64"`
	QueueSize int  `json:"queue_size,omitempty" validate:"min=0"`

	DefaultTimeout string `json:"default_timeout,omitempty"`
	// MaxQueueDelay drops tasks that have been queued longer than this.
	MaxQueueDelay string `json:"max_queue_delay,omitempty"`

	HistorySize int `json:"history_size,omitempty" validate:"min=0"`
	RetryMax    int `json:"retry_max,omitempty" validate:"min=0,max=10"`
}

// NotifierConfig controls the async notification pipeline.
type NotifierConfig struct {
	Enabled         bool   `json:"enabled"`
	Workers         int    `json:"workers,omitempty" validate:"min=0,max=16"`
	QueueSize       int    `json:"queue_size,omitempty" validate:"min=0"`
	RatePerSec      int    `json:"rate_per_sec,omitempty" validate:"min=0"`
	RetryMax        int    `json:"retry_max,omitempty" validate:"min=0,max=10"`
	RetryBase       string `json:"retry_base,omitempty"`
	RetryMaxDelay   string `json:"retry_max_delay,omitempty"`
	DedupWindow     string `json:"dedup_window,omitempty"`
	DedupMaxEntries int    `json:"dedup_max_entries,omitempty" validate:"min=0"`
	PersistDedup    bool   `json:"persist_dedup,omitempty"`
	// DedupBackend selects where persisted dedup marks live.
	DedupBackend string `json:"dedup_backend,omitempty" validate:"omitempty,oneof=storage redis"`
}

// StorageConfig selects the persistence backend.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/checkinbot.db" }
type StorageConfig struct {
	Driver       string `json:"driver,omitempty" validate:"omitempty,oneof=memory file sqlite sqlite3 postgres pgx"`
	Path         string `json:"path,omitempty" validate:"required_if=Driver file,required_if=Driver sqlite,required_if=Driver sqlite3"`
	DSN          string `json:"dsn,omitempty" validate:"required_if=Driver postgres,required_if=Driver pgx"`
	BusyTimeout  string `json:"busy_timeout,omitempty"`
	MaxOpenConns int    `json:"max_open_conns,omitempty" validate:"min=0"`
}

type RedisConfig struct {
	Enabled   bool   `json:"enabled"`
	Addr      string `json:"addr,omitempty" validate:"required_if=Enabled true"`
	Password  string `json:"password,omitempty"`
	DB        int    `json:"db,omitempty" validate:"min=0"`
	KeyPrefix string `json:"key_prefix,omitempty"`
}

// EventSinkConfig forwards domain events to an external broker.
type EventSinkConfig struct {
	Driver         string   `json:"driver,omitempty" validate:"omitempty,oneof=none kafka amqp"`
	Brokers        []string `json:"brokers,omitempty" validate:"required_if=Driver kafka"`
	Topic          string   `json:"topic,omitempty"`
	AMQPURL        string   `json:"amqp_url,omitempty" validate:"required_if=Driver amqp"`
	Exchange       string   `json:"exchange,omitempty"`
	Queue          string   `json:"queue,omitempty"`
	PublishTimeout string   `json:"publish_timeout,omitempty"`
	Buffer         int      `json:"buffer,omitempty" validate:"min=0"`
}

// HTTPConfig controls the health/metrics/pprof/API server.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:8080").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type HTTPConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"` // bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}
