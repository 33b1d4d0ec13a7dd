// Package jobs keeps the live trigger set converged with group
// configuration. Each group needs one recurring job per (period, tier) and,
// once its start date is known, a one-off completion job.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"checkinbot/internal/clock"
	"checkinbot/internal/domain"
	"checkinbot/internal/eventbus"
	"checkinbot/internal/metrics"
	"checkinbot/internal/task/engine"
	"checkinbot/pkg/logx"
)

// Firer runs the escalation for a fired job.
type Firer interface {
	Fire(ctx context.Context, groupID int64, p domain.PeriodType, t domain.Tier, date domain.Date) error
	FireCompletion(ctx context.Context, groupID int64) error
}

type GroupSource interface {
	GetGroup(ctx context.Context, id int64) (domain.Group, bool, error)
	ListGroups(ctx context.Context) ([]domain.Group, error)
}

// Job is one required trigger.
type Job struct {
	Key     domain.JobKey     `json:"key"`
	GroupID int64             `json:"group_id"`
	Period  domain.PeriodType `json:"period,omitempty"`
	Tier    domain.Tier       `json:"tier"`
	Rule    Rule              `json:"-"`
	Spec    string            `json:"spec,omitempty"`
	At      time.Time         `json:"at,omitzero"`
}

type Result struct {
	Registered int `json:"registered"`
	Existing   int `json:"existing"`
}

type Registry struct {
	groups GroupSource
	timer  Timer
	firer  Firer
	course domain.Course
	clock  clock.Clock
	bus    eventbus.Bus
	log    logx.Logger

	mu    sync.Mutex
	index map[domain.JobKey]Job
}

func NewRegistry(groups GroupSource, timer Timer, firer Firer, course domain.Course, clk clock.Clock, bus eventbus.Bus, log logx.Logger) *Registry {
	return &Registry{
		groups: groups,
		timer:  timer,
		firer:  firer,
		course: course,
		clock:  clk,
		bus:    bus,
		log:    log.With(logx.String("comp", "jobs")),
		index:  map[domain.JobKey]Job{},
	}
}

// RequiredJobs derives the recurring jobs of g. A tier whose offset crosses
// midnight fires on the previous weekday.
func (r *Registry) RequiredJobs(g domain.Group) []Job {
	out := make([]Job, 0, len(r.course.Periods)*len(domain.Tiers))
	for _, p := range r.course.Periods {
		for _, tier := range domain.Tiers {
			tod, back := p.Deadline.Minus(tier.Offset())
			rule := Rule{
				Weekdays: shiftBack(p.Weekdays, back),
				Hour:     tod.Hour,
				Minute:   tod.Minute,
				Second:   tod.Second,
				Location: r.course.Location,
			}
			out = append(out, Job{
				Key:     domain.NewJobKey(g.ID, p.Type, tier),
				GroupID: g.ID,
				Period:  p.Type,
				Tier:    tier,
				Rule:    rule,
				Spec:    rule.CronSpec(),
			})
		}
	}
	return out
}

// Reconcile registers every required job of the group that is not live yet
// and leaves live ones alone. Keys of removed groups are never cancelled.
func (r *Registry) Reconcile(ctx context.Context, groupID int64) (Result, error) {
	g, ok, err := r.groups.GetGroup(ctx, groupID)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{}, fmt.Errorf("%w: %d", domain.ErrUnknownGroup, groupID)
	}

	var res Result
	var errs []error
	for _, j := range r.RequiredJobs(g) {
		added, err := r.timer.Schedule(j.Key, j.Rule, r.callback(j.Key))
		if err != nil {
			errs = append(errs, fmt.Errorf("schedule %s: %w", j.Key, err))
			continue
		}
		r.track(j)
		if added {
			res.Registered++
		} else {
			res.Existing++
		}
	}

	if g.HasStart() {
		key := domain.CompletionKey(g.ID)
		at := r.course.CompletionAt(g.StartDate)
		if at.After(r.clock.Now()) {
			// A changed start date moves the armed instant.
			j := Job{Key: key, GroupID: g.ID, Tier: domain.TierCompletion, At: at}
			added, err := r.timer.ScheduleOnce(j.Key, at, r.callback(j.Key))
			switch {
			case err != nil:
				errs = append(errs, fmt.Errorf("schedule %s: %w", j.Key, err))
			case added:
				res.Registered++
				r.track(j)
			default:
				res.Existing++
				r.track(j)
			}
		} else if r.timer.Cancel(key) {
			r.untrack(key)
			r.log.Info("completion job cancelled", logx.Int64("group_id", g.ID), logx.Time("at", at))
		}
	}

	if err := errors.Join(errs...); err != nil {
		metrics.ReconcileTotal.WithLabelValues("error").Inc()
		return res, err
	}
	metrics.ReconcileTotal.WithLabelValues("ok").Inc()
	if res.Registered > 0 {
		r.log.Info("jobs reconciled", logx.Int64("group_id", groupID), logx.Int("registered", res.Registered), logx.Int("existing", res.Existing))
		r.publish(groupID, res)
	}
	return res, nil
}

// ReconcileSummary is the outcome of ReconcileAll.
type ReconcileSummary struct {
	Groups int
	Failed map[int64]error
}

// Err joins the per-group failures in group id order, or returns nil.
func (s ReconcileSummary) Err() error {
	if len(s.Failed) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(s.Failed))
	for id := range s.Failed {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	errs := make([]error, 0, len(ids))
	for _, id := range ids {
		errs = append(errs, fmt.Errorf("group %d: %w", id, s.Failed[id]))
	}
	return errors.Join(errs...)
}

// ReconcileAll reconciles every stored group. Per-group failures are logged
// and collected in the summary; the rest still run. The error is reserved
// for failing to list groups at all.
func (r *Registry) ReconcileAll(ctx context.Context) (ReconcileSummary, error) {
	groups, err := r.groups.ListGroups(ctx)
	if err != nil {
		return ReconcileSummary{}, fmt.Errorf("list groups: %w", err)
	}
	sum := ReconcileSummary{Groups: len(groups)}
	for _, g := range groups {
		if _, err := r.Reconcile(ctx, g.ID); err != nil {
			r.log.Error("reconcile failed", logx.Int64("group_id", g.ID), logx.Err(err))
			if sum.Failed == nil {
				sum.Failed = make(map[int64]error)
			}
			sum.Failed[g.ID] = err
		}
	}
	return sum, nil
}

// OnFire resolves key into the current period instance and runs its
// escalation. Errors that cannot succeed on retry are marked terminal.
func (r *Registry) OnFire(ctx context.Context, key domain.JobKey) error {
	groupID, p, tier, err := domain.ParseJobKey(key)
	if err != nil {
		return engine.NoRetry(err)
	}
	log := r.log.With(logx.String("job_key", string(key)))

	if tier == domain.TierCompletion {
		r.untrack(key)
		err = r.firer.FireCompletion(ctx, groupID)
	} else {
		// The instance is the one whose deadline this tier precedes.
		today := domain.DateOf(r.clock.Now().Add(tier.Offset()))
		date, ok := r.course.InstanceDate(p, today)
		if !ok {
			log.Debug("no instance today", logx.Stringer("date", today))
			return nil
		}
		err = r.firer.Fire(ctx, groupID, p, tier, date)
	}

	switch {
	case err == nil:
		return nil
	case domain.Ignorable(err):
		log.Debug("firing ignored", logx.Err(err))
		return nil
	}
	return engine.Classify(err)
}

// Snapshot returns the job index ordered by key.
func (r *Registry) Snapshot() []Job {
	r.mu.Lock()
	out := make([]Job, 0, len(r.index))
	for _, j := range r.index {
		out = append(out, j)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func (r *Registry) callback(key domain.JobKey) func(ctx context.Context) error {
	return func(ctx context.Context) error { return r.OnFire(ctx, key) }
}

func (r *Registry) track(j Job) {
	r.mu.Lock()
	r.index[j.Key] = j
	n := len(r.index)
	r.mu.Unlock()
	metrics.RegisteredJobs.Set(float64(n))
}

func (r *Registry) untrack(key domain.JobKey) {
	r.mu.Lock()
	delete(r.index, key)
	n := len(r.index)
	r.mu.Unlock()
	metrics.RegisteredJobs.Set(float64(n))
}

func (r *Registry) publish(groupID int64, res Result) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(eventbus.Event{
		Type: eventbus.TypeJobsReconciled,
		Time: r.clock.Now(),
		Data: map[string]any{"group_id": groupID, "registered": res.Registered, "existing": res.Existing},
	})
}
