package storage

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"checkinbot/internal/domain"
)

// state is the in-memory model shared by the memory and file backends.
type state struct {
	Groups      map[int64]domain.Group                       `json:"groups"`
	Members     map[int64]map[int64]domain.Member            `json:"members"`
	Records     map[string]map[int64]domain.ComplianceRecord `json:"records"`
	Escalations map[string]domain.EscalationEvent            `json:"escalations"`
	Fines       map[string]domain.Fine                       `json:"fines"`
	Dedup       map[string]int64                             `json:"dedup"`
}

func newState() *state {
	return &state{
		Groups:      map[int64]domain.Group{},
		Members:     map[int64]map[int64]domain.Member{},
		Records:     map[string]map[int64]domain.ComplianceRecord{},
		Escalations: map[string]domain.EscalationEvent{},
		Fines:       map[string]domain.Fine{},
		Dedup:       map[string]int64{},
	}
}

// op is one journaled mutation.
type op struct {
	Kind       string                   `json:"op"`
	Group      *domain.Group            `json:"group,omitempty"`
	Member     *domain.Member           `json:"member,omitempty"`
	Record     *domain.ComplianceRecord `json:"record,omitempty"`
	Escalation *domain.EscalationEvent  `json:"escalation,omitempty"`
	Fine       *domain.Fine             `json:"fine,omitempty"`
	GroupID    int64                    `json:"group_id,omitempty"`
	UserID     int64                    `json:"user_id,omitempty"`
	Key        string                   `json:"key,omitempty"`
	Until      int64                    `json:"until,omitempty"`
}

const (
	opGroup        = "group"
	opMember       = "member"
	opRemoveMember = "remove_member"
	opRecord       = "record"
	opEscalation   = "escalation"
	opFine         = "fine"
	opDedup        = "dedup"
)

func (s *state) apply(o op) {
	switch o.Kind {
	case opGroup:
		s.Groups[o.Group.ID] = *o.Group
	case opMember:
		m := *o.Member
		if s.Members[m.GroupID] == nil {
			s.Members[m.GroupID] = map[int64]domain.Member{}
		}
		s.Members[m.GroupID][m.UserID] = m
	case opRemoveMember:
		delete(s.Members[o.GroupID], o.UserID)
		prefix := instancePrefix(o.GroupID)
		for k, recs := range s.Records {
			if strings.HasPrefix(k, prefix) {
				delete(recs, o.UserID)
			}
		}
	case opRecord:
		r := *o.Record
		k := r.Instance.String()
		if s.Records[k] == nil {
			s.Records[k] = map[int64]domain.ComplianceRecord{}
		}
		s.Records[k][r.UserID] = r
	case opEscalation:
		s.Escalations[o.Escalation.Key()] = *o.Escalation
	case opFine:
		s.Fines[o.Fine.Key()] = *o.Fine
	case opDedup:
		s.Dedup[o.Key] = o.Until
	}
}

func instancePrefix(groupID int64) string {
	return strconv.FormatInt(groupID, 10) + "/"
}

func (s *state) pruneDedup(now time.Time) {
	ms := now.UnixMilli()
	for k, v := range s.Dedup {
		if v < ms {
			delete(s.Dedup, k)
		}
	}
}

// memStore is guarded by mu. When journal is set, every mutation is written
// to it before being applied.
type memStore struct {
	mu      sync.Mutex
	st      *state
	audit   []AuditEntry
	journal func(op) error
	closed  bool
	now     func() time.Time
}

const memAuditCap = 1000

// NewMemory returns a process-local Store.
func NewMemory() Store {
	return &memStore{st: newState(), now: time.Now}
}

func (s *memStore) commitLocked(o op) error {
	if s.closed {
		return ErrClosed
	}
	if s.journal != nil {
		if err := s.journal(o); err != nil {
			return domain.Persistence("journal "+o.Kind, err)
		}
	}
	s.st.apply(o)
	return nil
}

func (s *memStore) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

func (s *memStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *memStore) UpsertGroup(_ context.Context, g domain.Group) (domain.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.st.Groups[g.ID]
	if ok {
		if g.Title == "" || g.Title == cur.Title {
			return cur, nil
		}
		cur.Title = g.Title
	} else {
		cur = domain.Group{ID: g.ID, Title: g.Title, StartDate: g.StartDate, CreatedAt: g.CreatedAt}
		if cur.CreatedAt.IsZero() {
			cur.CreatedAt = s.now()
		}
	}
	if err := s.commitLocked(op{Kind: opGroup, Group: &cur}); err != nil {
		return domain.Group{}, err
	}
	return cur, nil
}

func (s *memStore) SetStartDate(_ context.Context, groupID int64, d domain.Date) (domain.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.st.Groups[groupID]
	if !ok {
		g = domain.Group{ID: groupID, CreatedAt: s.now()}
	}
	g.StartDate = d
	if err := s.commitLocked(op{Kind: opGroup, Group: &g}); err != nil {
		return domain.Group{}, err
	}
	return g, nil
}

func (s *memStore) SetTagPrefix(_ context.Context, groupID int64, p domain.PeriodType, prefix string) (domain.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.st.Groups[groupID]
	if !ok {
		g = domain.Group{ID: groupID, CreatedAt: s.now()}
	}
	g = g.WithTagPrefix(p, prefix)
	if err := s.commitLocked(op{Kind: opGroup, Group: &g}); err != nil {
		return domain.Group{}, err
	}
	return g, nil
}

func (s *memStore) GetGroup(_ context.Context, id int64) (domain.Group, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.st.Groups[id]
	return g, ok, nil
}

func (s *memStore) ListGroups(context.Context) ([]domain.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Group, 0, len(s.st.Groups))
	for _, g := range s.st.Groups {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) UpsertMember(_ context.Context, m domain.Member) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.st.Members[m.GroupID][m.UserID]
	if ok {
		if cur.Username == m.Username && cur.FullName == m.FullName {
			return false, nil
		}
		cur.Username, cur.FullName = m.Username, m.FullName
	} else {
		cur = m
		if cur.JoinedAt.IsZero() {
			cur.JoinedAt = s.now()
		}
	}
	if err := s.commitLocked(op{Kind: opMember, Member: &cur}); err != nil {
		return false, err
	}
	return !ok, nil
}

func (s *memStore) GetMember(_ context.Context, groupID, userID int64) (domain.Member, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.st.Members[groupID][userID]
	return m, ok, nil
}

func (s *memStore) RemoveMember(_ context.Context, groupID, userID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.st.Members[groupID][userID]; !ok {
		return false, nil
	}
	if err := s.commitLocked(op{Kind: opRemoveMember, GroupID: groupID, UserID: userID}); err != nil {
		return false, err
	}
	return true, nil
}

func (s *memStore) ListMembers(_ context.Context, groupID int64) ([]domain.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Member, 0, len(s.st.Members[groupID]))
	for _, m := range s.st.Members[groupID] {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (s *memStore) UpsertRecord(_ context.Context, r domain.ComplianceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = s.now()
	}
	return s.commitLocked(op{Kind: opRecord, Record: &r})
}

func (s *memStore) InsertRecordIfAbsent(_ context.Context, r domain.ComplianceRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.st.Records[r.Instance.String()][r.UserID]; ok {
		return false, nil
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = s.now()
	}
	if err := s.commitLocked(op{Kind: opRecord, Record: &r}); err != nil {
		return false, err
	}
	return true, nil
}

func (s *memStore) ListRecords(_ context.Context, inst domain.PeriodInstance) ([]domain.ComplianceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs := s.st.Records[inst.String()]
	out := make([]domain.ComplianceRecord, 0, len(recs))
	for _, r := range recs {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (s *memStore) ClaimEscalation(_ context.Context, ev domain.EscalationEvent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.st.Escalations[ev.Key()]; ok {
		return false, nil
	}
	if ev.At.IsZero() {
		ev.At = s.now()
	}
	if err := s.commitLocked(op{Kind: opEscalation, Escalation: &ev}); err != nil {
		return false, err
	}
	return true, nil
}

func (s *memStore) HasEscalation(_ context.Context, inst domain.PeriodInstance, tier domain.Tier) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.st.Escalations[domain.EscalationEvent{Instance: inst, Tier: tier}.Key()]
	return ok, nil
}

func (s *memStore) AddFine(_ context.Context, f domain.Fine) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.st.Fines[f.Key()]; ok {
		return false, nil
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = s.now()
	}
	if err := s.commitLocked(op{Kind: opFine, Fine: &f}); err != nil {
		return false, err
	}
	return true, nil
}

func (s *memStore) ListFines(_ context.Context, groupID int64) ([]domain.Fine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Fine, 0)
	for _, f := range s.st.Fines {
		if f.GroupID == groupID {
			out = append(out, f)
		}
	}
	sortFines(out)
	return out, nil
}

func sortFines(fs []domain.Fine) {
	sort.Slice(fs, func(i, j int) bool {
		if fs[i].Date != fs[j].Date {
			return fs[i].Date.Before(fs[j].Date)
		}
		if fs[i].Period != fs[j].Period {
			return fs[i].Period < fs[j].Period
		}
		return fs[i].UserID < fs[j].UserID
	})
}

func (s *memStore) PutDedup(_ context.Context, key string, until time.Time) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commitLocked(op{Kind: opDedup, Key: key, Until: until.UnixMilli()})
}

func (s *memStore) GetDedup(_ context.Context, key string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ms, ok := s.st.Dedup[strings.TrimSpace(key)]
	if !ok {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms), true, nil
}

func (s *memStore) AppendAudit(_ context.Context, e AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if e.At.IsZero() {
		e.At = s.now()
	}
	s.audit = append(s.audit, e)
	if len(s.audit) > memAuditCap {
		s.audit = append([]AuditEntry(nil), s.audit[len(s.audit)-memAuditCap:]...)
	}
	return nil
}
