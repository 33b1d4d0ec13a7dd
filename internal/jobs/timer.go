package jobs

import (
	"context"
	"time"

	"checkinbot/internal/domain"
	"checkinbot/internal/task/engine"
	"checkinbot/internal/task/scheduler"
)

// Timer is the trigger facility the registry drives. Schedule is
// add-if-absent: it reports false and keeps the live job when the key is
// already registered. ScheduleOnce reports false only when the key is
// already armed at the same instant; a different instant moves it.
type Timer interface {
	Schedule(key domain.JobKey, rule Rule, fn func(ctx context.Context) error) (bool, error)
	ScheduleOnce(key domain.JobKey, at time.Time, fn func(ctx context.Context) error) (bool, error)
	IsRegistered(key domain.JobKey) bool
	Cancel(key domain.JobKey) bool
}

// CronTimer backs Timer with the cron scheduler. Firings run on the task
// engine, serialized per group and skipped while a previous firing of the
// same key is still in flight.
type CronTimer struct {
	sched    *scheduler.Service
	timeout  time.Duration
	retryMax int
}

func NewCronTimer(s *scheduler.Service, timeout time.Duration, retryMax int) *CronTimer {
	return &CronTimer{sched: s, timeout: timeout, retryMax: retryMax}
}

func (c *CronTimer) entry(key domain.JobKey, fn func(ctx context.Context) error) scheduler.Entry {
	e := scheduler.Entry{
		Name:    string(key),
		Timeout: c.timeout,
		Opt: scheduler.TaskOptions{
			Overlap:          scheduler.OverlapSkipIfRunning,
			RetryMax:         c.retryMax,
			ConcurrencyLimit: 1,
		},
		Job: fn,
	}
	if gid, _, _, err := domain.ParseJobKey(key); err == nil {
		e.ConcurrencyKey = engine.ChatKey(gid)
	}
	return e
}

func (c *CronTimer) Schedule(key domain.JobKey, rule Rule, fn func(ctx context.Context) error) (bool, error) {
	e := c.entry(key, fn)
	e.Spec = rule.CronSpec()
	return c.sched.AddCronEntry(e)
}

func (c *CronTimer) ScheduleOnce(key domain.JobKey, at time.Time, fn func(ctx context.Context) error) (bool, error) {
	return c.sched.AddOnce(c.entry(key, fn), at)
}

func (c *CronTimer) IsRegistered(key domain.JobKey) bool { return c.sched.Has(string(key)) }

func (c *CronTimer) Cancel(key domain.JobKey) bool { return c.sched.Remove(string(key)) }
