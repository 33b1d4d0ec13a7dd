package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"checkinbot/internal/eventbus"
	"checkinbot/internal/task/engine"
	"checkinbot/pkg/logx"
)

type Config struct {
	Enabled  bool
	Timezone string // IANA zone for specs without CRON_TZ
}

type (
	OverlapPolicy = engine.OverlapPolicy
	TaskOptions   = engine.TaskOptions
	HistoryItem   = engine.HistoryItem
)

const (
	OverlapAllow         = engine.OverlapAllow
	OverlapSkipIfRunning = engine.OverlapSkipIfRunning
)

// Entry describes one trigger. Name is its identity: registering a second
// entry under the same name replaces or keeps the first, never duplicates it.
type Entry struct {
	Name           string
	Spec           string // cron spec; empty for one-off entries
	Timeout        time.Duration
	Opt            TaskOptions
	ConcurrencyKey string
	Job            func(ctx context.Context) error
}

type scheduleDef struct {
	Entry
	entryID cron.EntryID
	state   *engine.RunState
}

type onceDef struct {
	Entry
	at    time.Time
	ver   uint64
	timer *time.Timer
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location
	bus eventbus.Bus

	engine *engine.Service

	parser cron.Parser
	c      *cron.Cron
	defs   map[string]*scheduleDef

	enqMu       sync.Mutex
	lastEnqWarn map[string]time.Time

	tmu     sync.Mutex
	once    map[string]*onceDef
	onceSeq uint64
}

type ScheduleInfo struct {
	Name    string        `json:"name"`
	Spec    string        `json:"spec,omitempty"`
	Once    bool          `json:"once,omitempty"`
	Timeout time.Duration `json:"timeout"`
	Next    time.Time     `json:"next"`
	Prev    time.Time     `json:"prev"`
}

type Snapshot struct {
	Enabled  bool   `json:"enabled"`
	Timezone string `json:"timezone"`

	Engine    engine.Snapshot `json:"engine"`
	RetryBase time.Duration   `json:"retry_base"`

	Schedules []ScheduleInfo `json:"schedules"`
}
