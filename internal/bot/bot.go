// Package bot implements the chat-facing side of the course bot: commands,
// tag ingestion and membership tracking.
package bot

import (
	"context"
	"time"

	"checkinbot/internal/clock"
	"checkinbot/internal/compliance"
	"checkinbot/internal/domain"
	"checkinbot/internal/eventbus"
	"checkinbot/internal/jobs"
	"checkinbot/internal/storage"
	"checkinbot/internal/transport/telegram/router"
	logx "checkinbot/pkg/logx"
)

type Store interface {
	UpsertGroup(ctx context.Context, g domain.Group) (domain.Group, error)
	SetStartDate(ctx context.Context, groupID int64, d domain.Date) (domain.Group, error)
	SetTagPrefix(ctx context.Context, groupID int64, p domain.PeriodType, prefix string) (domain.Group, error)
	GetGroup(ctx context.Context, id int64) (domain.Group, bool, error)
	UpsertMember(ctx context.Context, m domain.Member) (bool, error)
	GetMember(ctx context.Context, groupID, userID int64) (domain.Member, bool, error)
	RemoveMember(ctx context.Context, groupID, userID int64) (bool, error)
	ListMembers(ctx context.Context, groupID int64) ([]domain.Member, error)
	ListFines(ctx context.Context, groupID int64) ([]domain.Fine, error)
	AppendAudit(ctx context.Context, e storage.AuditEntry) error
}

type Tracker interface {
	IngestTagEvent(ctx context.Context, ev compliance.TagEvent) ([]compliance.Accepted, error)
	LateMembers(ctx context.Context, groupID int64, p domain.PeriodType, date domain.Date) ([]domain.Member, error)
	Excuse(ctx context.Context, inst domain.PeriodInstance, userID int64) error
	Course() domain.Course
}

type Reconciler interface {
	Reconcile(ctx context.Context, groupID int64) (jobs.Result, error)
}

// AdminChecker reports chat administrators. Their messages are not
// ingested as check-ins.
type AdminChecker interface {
	IsAdmin(ctx context.Context, chatID, userID int64) (bool, error)
}

// StatusFunc renders the operator status report.
type StatusFunc func(ctx context.Context) string

// MemberChange is the payload of member.joined and member.removed events.
type MemberChange struct {
	GroupID  int64  `json:"group_id"`
	UserID   int64  `json:"user_id"`
	Username string `json:"username,omitempty"`
	Source   string `json:"source"`
}

// StartDateChange is the payload of group.start_date_set.
type StartDateChange struct {
	GroupID   int64       `json:"group_id"`
	StartDate domain.Date `json:"start_date"`
	ActorID   int64       `json:"actor_id"`
}

type Deps struct {
	Store   Store
	Tracker Tracker
	Jobs    Reconciler
	Admins  AdminChecker
	Clock   clock.Clock
	Bus     eventbus.Bus
	Log     logx.Logger
	Status  StatusFunc
}

type Handlers struct {
	store   Store
	tracker Tracker
	jobs    Reconciler
	admins  AdminChecker
	clock   clock.Clock
	bus     eventbus.Bus
	log     logx.Logger
	status  StatusFunc
}

func New(d Deps) *Handlers {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	return &Handlers{
		store:   d.Store,
		tracker: d.Tracker,
		jobs:    d.Jobs,
		admins:  d.Admins,
		clock:   d.Clock,
		bus:     d.Bus,
		log:     d.Log.With(logx.String("comp", "bot")),
		status:  d.Status,
	}
}

// Register installs the commands and the message and member handlers.
func (h *Handlers) Register(ctx context.Context, r *router.Router) {
	r.SetCommands(ctx, h.Commands())
	r.OnMessage(h.HandleMessage)
	r.OnMember(h.HandleMember)
}

func (h *Handlers) publish(typ string, data any) {
	if h.bus == nil {
		return
	}
	h.bus.Publish(eventbus.Event{Type: typ, Time: h.clock.Now(), Data: data})
}

// audit records an admin action. Failures are logged only.
func (h *Handlers) audit(ctx context.Context, actor, group int64, action, target, detail string) {
	err := h.store.AppendAudit(ctx, storage.AuditEntry{
		At:      h.clock.Now().UTC().Truncate(time.Second),
		ActorID: actor,
		GroupID: group,
		Action:  action,
		Target:  target,
		Detail:  detail,
	})
	if err != nil {
		h.log.Warn("audit append failed", logx.String("action", action), logx.Err(err))
	}
}
