package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"checkinbot/internal/domain"
	logx "checkinbot/pkg/logx"
)

type GroupStore interface {
	// UpsertGroup creates g if absent. An existing group only takes a
	// non-empty title; its start date is left alone.
	UpsertGroup(ctx context.Context, g domain.Group) (domain.Group, error)
	SetStartDate(ctx context.Context, groupID int64, d domain.Date) (domain.Group, error)
	// SetTagPrefix sets the chat's tag prefix for p; an empty prefix
	// restores the course default.
	SetTagPrefix(ctx context.Context, groupID int64, p domain.PeriodType, prefix string) (domain.Group, error)
	GetGroup(ctx context.Context, id int64) (domain.Group, bool, error)
	ListGroups(ctx context.Context) ([]domain.Group, error)
}

type MemberStore interface {
	// UpsertMember inserts m or refreshes its username and full name.
	UpsertMember(ctx context.Context, m domain.Member) (created bool, err error)
	GetMember(ctx context.Context, groupID, userID int64) (domain.Member, bool, error)
	// RemoveMember deletes the member and its compliance records.
	RemoveMember(ctx context.Context, groupID, userID int64) (bool, error)
	// ListMembers returns members ordered by user id.
	ListMembers(ctx context.Context, groupID int64) ([]domain.Member, error)
}

type ComplianceStore interface {
	UpsertRecord(ctx context.Context, r domain.ComplianceRecord) error
	InsertRecordIfAbsent(ctx context.Context, r domain.ComplianceRecord) (bool, error)
	ListRecords(ctx context.Context, inst domain.PeriodInstance) ([]domain.ComplianceRecord, error)
}

type EscalationStore interface {
	// ClaimEscalation stores ev unless a marker for (instance, tier) exists.
	ClaimEscalation(ctx context.Context, ev domain.EscalationEvent) (bool, error)
	HasEscalation(ctx context.Context, inst domain.PeriodInstance, tier domain.Tier) (bool, error)
}

type FineStore interface {
	AddFine(ctx context.Context, f domain.Fine) (bool, error)
	ListFines(ctx context.Context, groupID int64) ([]domain.Fine, error)
}

type DedupStore interface {
	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)
}

type AuditLog interface {
	AppendAudit(ctx context.Context, e AuditEntry) error
}

// Store is the full persistence surface. Components take the narrow
// interfaces above.
type Store interface {
	GroupStore
	MemberStore
	ComplianceStore
	EscalationStore
	FineStore
	DedupStore
	AuditLog
	Ping(ctx context.Context) error
	Close() error
}

// Open initializes the configured store. An empty driver means memory.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "storage"))

	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "memory":
		return NewMemory(), nil
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "postgres", "pgx":
		return openPostgres(cfg, log)
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", driver)
	}
}
