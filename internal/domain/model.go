package domain

import (
	"strconv"
	"strings"
	"time"
)

// Group is one tracked chat.
type Group struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title,omitempty"`
	StartDate Date      `json:"start_date,omitempty"`
	CreatedAt time.Time `json:"created_at"`

	// TagPrefixes overrides the course tag prefix per period for this chat.
	TagPrefixes map[PeriodType]string `json:"tag_prefixes,omitempty"`
}

func (g Group) HasStart() bool { return !g.StartDate.IsZero() }

// WithTagPrefix returns a copy of g with the override for p set, or cleared
// when prefix is empty. The receiver's map is not modified.
func (g Group) WithTagPrefix(p PeriodType, prefix string) Group {
	next := make(map[PeriodType]string, len(g.TagPrefixes)+1)
	for k, v := range g.TagPrefixes {
		next[k] = v
	}
	if prefix == "" {
		delete(next, p)
	} else {
		next[p] = prefix
	}
	if len(next) == 0 {
		next = nil
	}
	g.TagPrefixes = next
	return g
}

type Member struct {
	GroupID  int64     `json:"group_id"`
	UserID   int64     `json:"user_id"`
	Username string    `json:"username,omitempty"`
	FullName string    `json:"full_name,omitempty"`
	JoinedAt time.Time `json:"joined_at"`
}

// DisplayName is the name used for ordering and plain text output.
func (m Member) DisplayName() string {
	if n := strings.TrimSpace(m.FullName); n != "" {
		return n
	}
	if m.Username != "" {
		return m.Username
	}
	return strconv.FormatInt(m.UserID, 10)
}

// ComplianceState is the tri-state of one member in one period instance.
type ComplianceState int

const (
	StateNotSubmitted ComplianceState = iota
	StateSubmitted
	StateNotApplicable
)

func (s ComplianceState) String() string {
	switch s {
	case StateSubmitted:
		return "submitted"
	case StateNotApplicable:
		return "not_applicable"
	default:
		return "not_submitted"
	}
}

func ParseComplianceState(s string) ComplianceState {
	switch s {
	case "submitted":
		return StateSubmitted
	case "not_applicable":
		return StateNotApplicable
	default:
		return StateNotSubmitted
	}
}

func (s ComplianceState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *ComplianceState) UnmarshalText(b []byte) error {
	*s = ParseComplianceState(string(b))
	return nil
}

// PeriodInstance is the unit of compliance.
type PeriodInstance struct {
	GroupID int64      `json:"group_id"`
	Period  PeriodType `json:"period"`
	Date    Date       `json:"date"`
}

func (p PeriodInstance) String() string {
	return strconv.FormatInt(p.GroupID, 10) + "/" + string(p.Period) + "/" + p.Date.String()
}

type ComplianceRecord struct {
	Instance  PeriodInstance  `json:"instance"`
	UserID    int64           `json:"user_id"`
	State     ComplianceState `json:"state"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// EscalationEvent marks that tier fired for an instance.
type EscalationEvent struct {
	Instance PeriodInstance `json:"instance"`
	Tier     Tier           `json:"tier"`
	At       time.Time      `json:"at"`
}

func (e EscalationEvent) Key() string { return e.Instance.String() + "/" + string(e.Tier) }

// Fine is one penalty entry, unique per (group, user, date, period).
type Fine struct {
	GroupID   int64      `json:"group_id"`
	UserID    int64      `json:"user_id"`
	Date      Date       `json:"date"`
	Period    PeriodType `json:"period"`
	Amount    int        `json:"amount"`
	CreatedAt time.Time  `json:"created_at"`
}

func (f Fine) Key() string {
	return strconv.FormatInt(f.GroupID, 10) + "/" + strconv.FormatInt(f.UserID, 10) + "/" + f.Date.String() + "/" + string(f.Period)
}
