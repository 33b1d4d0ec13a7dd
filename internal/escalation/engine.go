// Package escalation decides which message a firing tier sends for a period
// instance and makes sure it is sent at most once.
package escalation

import (
	"context"
	"errors"
	"fmt"

	"checkinbot/internal/clock"
	"checkinbot/internal/domain"
	"checkinbot/internal/eventbus"
	"checkinbot/internal/metrics"
	"checkinbot/pkg/logx"
)

// Dispatcher delivers rendered text to a group chat.
type Dispatcher interface {
	Send(ctx context.Context, groupID int64, text string) error
}

// Tracker is the compliance view the engine reads.
type Tracker interface {
	LateMembers(ctx context.Context, groupID int64, p domain.PeriodType, date domain.Date) ([]domain.Member, error)
	MarkEvaluated(ctx context.Context, groupID int64, p domain.PeriodType, date domain.Date) error
}

type Store interface {
	GetGroup(ctx context.Context, id int64) (domain.Group, bool, error)
	ClaimEscalation(ctx context.Context, ev domain.EscalationEvent) (bool, error)
	AddFine(ctx context.Context, f domain.Fine) (bool, error)
}

// Outcome of one firing, used as the metric label.
const (
	outcomeSent       = "sent"
	outcomeSilent     = "silent"
	outcomeSuppressed = "suppressed"
	outcomeFailed     = "failed"
	outcomeSkipped    = "skipped"
)

type Engine struct {
	store   Store
	tracker Tracker
	content ContentProvider
	out     Dispatcher
	course  domain.Course
	clock   clock.Clock
	bus     eventbus.Bus
	log     logx.Logger
}

func NewEngine(store Store, tracker Tracker, content ContentProvider, out Dispatcher, course domain.Course, clk clock.Clock, bus eventbus.Bus, log logx.Logger) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	if content == nil {
		content = NewRussianContent()
	}
	return &Engine{
		store:   store,
		tracker: tracker,
		content: content,
		out:     out,
		course:  course,
		clock:   clk,
		bus:     bus,
		log:     log.With(logx.String("comp", "escalation")),
	}
}

// Fire runs tier for the instance (groupID, p, date).
//
// Reminder tiers only speak when someone is late. The deadline tier closes
// the instance first and then sends praise, grace or penalty. The claim on
// (instance, tier) is taken before sending, so a replayed firing is a no-op
// returning ErrDuplicateSuppressed.
func (e *Engine) Fire(ctx context.Context, groupID int64, p domain.PeriodType, tier domain.Tier, date domain.Date) error {
	log := e.log.With(
		logx.Int64("group_id", groupID),
		logx.String("period", string(p)),
		logx.String("tier", string(tier)),
		logx.Stringer("date", date),
	)

	g, ok, err := e.store.GetGroup(ctx, groupID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %d", domain.ErrUnknownGroup, groupID)
	}
	if !g.HasStart() {
		e.count(p, tier, outcomeSkipped)
		return fmt.Errorf("group %d: %w", groupID, domain.ErrConfiguration)
	}
	day := e.course.DayNumber(g.StartDate, date)
	if !e.course.InRange(day) {
		e.count(p, tier, outcomeSkipped)
		return fmt.Errorf("day %d: %w", day, domain.ErrOutOfRange)
	}
	if !e.course.Applies(p, date) {
		e.count(p, tier, outcomeSkipped)
		log.Debug("period does not apply")
		return nil
	}

	if tier == domain.TierT0 {
		if err := e.tracker.MarkEvaluated(ctx, groupID, p, date); err != nil {
			return err
		}
	}
	late, err := e.tracker.LateMembers(ctx, groupID, p, date)
	if err != nil {
		return err
	}

	c := Content{
		Period:         p,
		Tier:           tier,
		Mentions:       domain.Mentions(late),
		DaysSinceStart: date.DaysSince(g.StartDate),
		DayNumber:      day,
		WeekNumber:     domain.WeekNumber(day),
		FineAmount:     e.course.FineAmount,
	}
	switch {
	case tier != domain.TierT0 && len(late) == 0:
		e.count(p, tier, outcomeSilent)
		log.Debug("nobody late")
		return nil
	case tier != domain.TierT0:
		c.Kind = KindReminder
	case len(late) == 0:
		c.Kind = KindPraise
	case c.DaysSinceStart >= e.course.GraceDays:
		c.Kind = KindPenalty
	default:
		c.Kind = KindGrace
	}
	text := e.content.Render(c)

	inst := domain.PeriodInstance{GroupID: groupID, Period: p, Date: date}
	if err := e.claim(ctx, domain.EscalationEvent{Instance: inst, Tier: tier, At: e.clock.Now()}); err != nil {
		if errors.Is(err, domain.ErrDuplicateSuppressed) {
			e.count(p, tier, outcomeSuppressed)
			e.publish(eventbus.TypeEscalationSuppressed, inst, tier, c.Kind, nil)
			log.Debug("duplicate firing suppressed")
		}
		return err
	}

	if err := e.out.Send(ctx, groupID, text); err != nil {
		e.count(p, tier, outcomeFailed)
		e.publish(eventbus.TypeEscalationFailed, inst, tier, c.Kind, err)
		log.Warn("dispatch failed", logx.String("kind", string(c.Kind)), logx.Err(err))
		return fmt.Errorf("%w: %w", domain.ErrDispatch, err)
	}

	if c.Kind == KindPenalty {
		if err := e.recordFines(ctx, inst, late); err != nil {
			log.Error("fine ledger write failed", logx.Err(err))
		}
	}
	e.count(p, tier, outcomeSent)
	e.publish(eventbus.TypeEscalationSent, inst, tier, c.Kind, nil)
	log.Info("escalation sent", logx.String("kind", string(c.Kind)), logx.Int("late", len(late)))
	return nil
}

// FireCompletion sends the course completion message once per group.
func (e *Engine) FireCompletion(ctx context.Context, groupID int64) error {
	log := e.log.With(logx.Int64("group_id", groupID), logx.String("tier", string(domain.TierCompletion)))
	g, ok, err := e.store.GetGroup(ctx, groupID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %d", domain.ErrUnknownGroup, groupID)
	}
	if !g.HasStart() {
		return fmt.Errorf("group %d: %w", groupID, domain.ErrConfiguration)
	}

	inst := domain.PeriodInstance{GroupID: groupID, Date: g.StartDate.AddDays(e.course.CompletionOffsetDays)}
	ev := domain.EscalationEvent{Instance: inst, Tier: domain.TierCompletion, At: e.clock.Now()}
	if err := e.claim(ctx, ev); err != nil {
		return err
	}
	if err := e.out.Send(ctx, groupID, e.content.Render(Content{Kind: KindCompletion, Tier: domain.TierCompletion})); err != nil {
		e.publish(eventbus.TypeEscalationFailed, inst, domain.TierCompletion, KindCompletion, err)
		log.Warn("dispatch failed", logx.Err(err))
		return fmt.Errorf("%w: %w", domain.ErrDispatch, err)
	}
	e.publish(eventbus.TypeEscalationSent, inst, domain.TierCompletion, KindCompletion, nil)
	log.Info("course completion sent")
	return nil
}

func (e *Engine) claim(ctx context.Context, ev domain.EscalationEvent) error {
	ok, err := e.store.ClaimEscalation(ctx, ev)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s: %w", ev.Key(), domain.ErrDuplicateSuppressed)
	}
	return nil
}

func (e *Engine) recordFines(ctx context.Context, inst domain.PeriodInstance, late []domain.Member) error {
	now := e.clock.Now()
	var errs []error
	for _, m := range late {
		f := domain.Fine{
			GroupID:   inst.GroupID,
			UserID:    m.UserID,
			Date:      inst.Date,
			Period:    inst.Period,
			Amount:    e.course.FineAmount,
			CreatedAt: now,
		}
		added, err := e.store.AddFine(ctx, f)
		if err != nil {
			errs = append(errs, fmt.Errorf("user %d: %w", m.UserID, err))
			continue
		}
		if added {
			metrics.FinesTotal.Inc()
			if e.bus != nil {
				e.bus.Publish(eventbus.Event{Type: eventbus.TypeFineRecorded, Time: now, Data: f})
			}
		}
	}
	return errors.Join(errs...)
}

func (e *Engine) count(p domain.PeriodType, tier domain.Tier, outcome string) {
	metrics.EscalationsTotal.WithLabelValues(string(p), string(tier), outcome).Inc()
}

func (e *Engine) publish(typ string, inst domain.PeriodInstance, tier domain.Tier, kind Kind, err error) {
	if e.bus == nil {
		return
	}
	data := map[string]any{
		"instance": inst,
		"tier":     tier,
		"kind":     kind,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	e.bus.Publish(eventbus.Event{Type: typ, Time: e.clock.Now(), Data: data})
}
