package notifier

import (
	"time"

	"checkinbot/internal/transport"
)

// Config controls the async notification pipeline.
type Config struct {
	Enabled         bool
	Workers         int
	QueueSize       int
	RatePerSec      int
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	SendTimeout     time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int
	PersistDedup    bool
}

// Notification is one outbound message.
type Notification struct {
	Target  transport.ChatTarget
	Text    string
	Options *transport.SendOptions
	// Kind labels the message in events, e.g. "escalation" or "reply".
	Kind string
}

type HistoryItem struct {
	At     time.Time `json:"at"`
	ChatID int64     `json:"chat_id"`
	Kind   string    `json:"kind,omitempty"`
	Text   string    `json:"text"`
}

// NotificationEvent is emitted on the event bus for notifier lifecycle events.
// Keep it small; Data may be logged/serialized by subscribers.
type NotificationEvent struct {
	Kind     string    `json:"kind,omitempty"`
	ChatID   int64     `json:"chat_id"`
	ThreadID int       `json:"thread_id,omitempty"`
	Key      string    `json:"key"`
	At       time.Time `json:"at"`
	Attempts int       `json:"attempts,omitempty"`
	Error    string    `json:"error,omitempty"`
}

type Stats struct {
	Enabled   bool   `json:"enabled"`
	Queued    int    `json:"queued"`
	QueueSize int    `json:"queue_size"`
	Sent      uint64 `json:"sent"`
	Failed    uint64 `json:"failed"`
	Deduped   uint64 `json:"deduped"`
	Dropped   uint64 `json:"dropped"`
}
