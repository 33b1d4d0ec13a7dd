// Package compliance owns the submission state of every member for every
// period instance. Tag ingestion and deadline evaluation share one mutex per
// instance so neither can interleave with the other.
package compliance

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"checkinbot/internal/clock"
	"checkinbot/internal/domain"
	"checkinbot/internal/eventbus"
	"checkinbot/internal/metrics"
	logx "checkinbot/pkg/logx"
)

// Store is the persistence the tracker needs.
type Store interface {
	GetGroup(ctx context.Context, id int64) (domain.Group, bool, error)
	UpsertMember(ctx context.Context, m domain.Member) (bool, error)
	ListMembers(ctx context.Context, groupID int64) ([]domain.Member, error)
	UpsertRecord(ctx context.Context, r domain.ComplianceRecord) error
	InsertRecordIfAbsent(ctx context.Context, r domain.ComplianceRecord) (bool, error)
	ListRecords(ctx context.Context, inst domain.PeriodInstance) ([]domain.ComplianceRecord, error)
}

// TagEvent is one inbound message that may carry check-in tags.
type TagEvent struct {
	Member   domain.Member
	Text     string
	Observed time.Time
}

// Accepted describes one period instance a tag event satisfied.
type Accepted struct {
	Instance  domain.PeriodInstance `json:"instance"`
	UserID    int64                 `json:"user_id"`
	Tag       string                `json:"tag"`
	DayNumber int                   `json:"day_number"`
}

type Tracker struct {
	store  Store
	course domain.Course
	clock  clock.Clock
	bus    eventbus.Bus
	log    logx.Logger
	locks  *instanceLocks
}

func NewTracker(store Store, course domain.Course, clk clock.Clock, bus eventbus.Bus, log logx.Logger) *Tracker {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Tracker{
		store:  store,
		course: course,
		clock:  clk,
		bus:    bus,
		log:    log.With(logx.String("comp", "compliance")),
		locks:  newInstanceLocks(),
	}
}

func (t *Tracker) Course() domain.Course { return t.course }

// IngestTagEvent matches the event text against today's tags and marks every
// satisfied instance as submitted. ErrConfiguration and ErrOutOfRange are
// returned for events that cannot count; callers log and drop them.
func (t *Tracker) IngestTagEvent(ctx context.Context, ev TagEvent) ([]Accepted, error) {
	groupID := ev.Member.GroupID
	log := t.log.With(logx.Int64("group_id", groupID), logx.Int64("user_id", ev.Member.UserID))

	g, ok, err := t.store.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if !ok || !g.HasStart() {
		t.ignored(log, "no_start_date")
		return nil, fmt.Errorf("%w: group %d has no start date", domain.ErrConfiguration, groupID)
	}

	observed := ev.Observed
	if observed.IsZero() {
		observed = t.clock.Now()
	}
	observed = observed.In(t.course.Location)
	date := domain.DateOf(observed)
	day := t.course.DayNumber(g.StartDate, date)
	if !t.course.InRange(day) {
		t.ignored(log, "out_of_range")
		return nil, fmt.Errorf("%w: day %d", domain.ErrOutOfRange, day)
	}

	text := strings.ToLower(ev.Text)
	var (
		accepted []Accepted
		errs     []error
		matched  bool
	)
	for _, p := range t.course.Periods {
		if !p.AppliesOn(date.Weekday()) {
			continue
		}
		tag := strings.ToLower(t.course.TagFor(g, p.Type, day))
		if !containsTag(text, tag) {
			continue
		}
		matched = true
		deadline, _ := t.course.Deadline(p.Type, date)
		if !observed.Before(deadline) {
			t.ignored(log.With(logx.String("tag", tag), logx.Time("deadline", deadline)), "late")
			continue
		}

		if len(accepted) == 0 {
			if _, err := t.store.UpsertMember(ctx, ev.Member); err != nil {
				return nil, err
			}
		}
		inst := domain.PeriodInstance{GroupID: groupID, Period: p.Type, Date: date}
		ok, err := t.submit(ctx, inst, ev.Member.UserID, observed)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !ok {
			t.ignored(log.With(logx.String("tag", tag), logx.Stringer("instance", inst)), "evaluated")
			continue
		}
		a := Accepted{Instance: inst, UserID: ev.Member.UserID, Tag: tag, DayNumber: day}
		accepted = append(accepted, a)
		metrics.TagsTotal.WithLabelValues("accepted").Inc()
		t.publish(eventbus.TypeTagAccepted, a)
		log.Debug("tag accepted", logx.String("tag", tag), logx.Stringer("date", date))
	}
	if !matched {
		metrics.TagsTotal.WithLabelValues("no_match").Inc()
	}
	return accepted, errors.Join(errs...)
}

// submit records a submission unless the member was already closed as
// not-submitted by the deadline evaluation. A closed record is final: the
// escalation built on it has already been sent.
func (t *Tracker) submit(ctx context.Context, inst domain.PeriodInstance, userID int64, at time.Time) (bool, error) {
	unlock := t.locks.lock(inst.String())
	defer unlock()

	recs, err := t.store.ListRecords(ctx, inst)
	if err != nil {
		return false, err
	}
	for _, r := range recs {
		if r.UserID == userID && r.State == domain.StateNotSubmitted {
			return false, nil
		}
	}
	err = t.store.UpsertRecord(ctx, domain.ComplianceRecord{
		Instance:  inst,
		UserID:    userID,
		State:     domain.StateSubmitted,
		UpdatedAt: at,
	})
	return err == nil, err
}

func (t *Tracker) ignored(log logx.Logger, reason string) {
	metrics.TagsTotal.WithLabelValues(reason).Inc()
	log.Debug("tag event ignored", logx.String("reason", reason))
	t.publish(eventbus.TypeTagIgnored, map[string]string{"reason": reason})
}

// LateMembers returns members of the instance that are neither submitted
// nor excused, ordered by display name. A period that does not apply on
// date has no late members.
func (t *Tracker) LateMembers(ctx context.Context, groupID int64, p domain.PeriodType, date domain.Date) ([]domain.Member, error) {
	if !t.course.Applies(p, date) {
		return nil, nil
	}
	inst := domain.PeriodInstance{GroupID: groupID, Period: p, Date: date}
	unlock := t.locks.lock(inst.String())
	defer unlock()

	members, err := t.store.ListMembers(ctx, groupID)
	if err != nil {
		return nil, err
	}
	recs, err := t.store.ListRecords(ctx, inst)
	if err != nil {
		return nil, err
	}
	state := make(map[int64]domain.ComplianceState, len(recs))
	for _, r := range recs {
		state[r.UserID] = r.State
	}

	late := make([]domain.Member, 0, len(members))
	for _, m := range members {
		switch state[m.UserID] {
		case domain.StateSubmitted, domain.StateNotApplicable:
			continue
		}
		late = append(late, m)
	}
	sort.SliceStable(late, func(i, j int) bool {
		a, b := late[i].DisplayName(), late[j].DisplayName()
		if a != b {
			return a < b
		}
		return late[i].UserID < late[j].UserID
	})
	return late, nil
}

// MarkEvaluated closes the instance: every member without a record gets
// one in state not-submitted. Existing records are left as they are.
func (t *Tracker) MarkEvaluated(ctx context.Context, groupID int64, p domain.PeriodType, date domain.Date) error {
	if !t.course.Applies(p, date) {
		return nil
	}
	inst := domain.PeriodInstance{GroupID: groupID, Period: p, Date: date}
	unlock := t.locks.lock(inst.String())
	defer unlock()

	members, err := t.store.ListMembers(ctx, groupID)
	if err != nil {
		return err
	}
	now := t.clock.Now()
	created := 0
	for _, m := range members {
		ok, err := t.store.InsertRecordIfAbsent(ctx, domain.ComplianceRecord{
			Instance:  inst,
			UserID:    m.UserID,
			State:     domain.StateNotSubmitted,
			UpdatedAt: now,
		})
		if err != nil {
			return err
		}
		if ok {
			created++
		}
	}
	if created > 0 {
		t.log.Debug("instance evaluated", logx.Stringer("instance", inst), logx.Int("closed", created))
	}
	return nil
}

// Excuse sets the member's record for the instance to not-applicable.
func (t *Tracker) Excuse(ctx context.Context, inst domain.PeriodInstance, userID int64) error {
	if !t.course.Applies(inst.Period, inst.Date) {
		return fmt.Errorf("%s has no %s instance", inst.Date, inst.Period)
	}
	unlock := t.locks.lock(inst.String())
	defer unlock()
	return t.store.UpsertRecord(ctx, domain.ComplianceRecord{
		Instance:  inst,
		UserID:    userID,
		State:     domain.StateNotApplicable,
		UpdatedAt: t.clock.Now(),
	})
}

func (t *Tracker) publish(typ string, data any) {
	if t.bus == nil {
		return
	}
	t.bus.Publish(eventbus.Event{Type: typ, Time: t.clock.Now(), Data: data})
}
