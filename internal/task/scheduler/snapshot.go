package scheduler

import (
	"sort"
	"time"

	"checkinbot/internal/task/engine"
)

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{Enabled: s.cfg.Enabled, Timezone: s.cfg.Timezone}
	items := make([]ScheduleInfo, 0, len(s.defs))
	for _, d := range s.defs {
		it := ScheduleInfo{Name: d.Name, Spec: d.Spec, Timeout: d.Timeout}
		if s.c != nil && d.entryID != 0 {
			e := s.c.Entry(d.entryID)
			it.Next, it.Prev = e.Next, e.Prev
		} else if sched, err := s.parser.Parse(d.Spec); err == nil {
			it.Next = sched.Next(time.Now())
		}
		items = append(items, it)
	}
	if snap.Timezone == "" && s.loc != nil {
		snap.Timezone = s.loc.String()
	}
	eng := s.engine
	s.mu.Unlock()

	s.tmu.Lock()
	for _, o := range s.once {
		items = append(items, ScheduleInfo{Name: o.Name, Once: true, Timeout: o.Timeout, Next: o.at})
	}
	s.tmu.Unlock()

	sort.Slice(items, func(i, j int) bool {
		if !items[i].Next.Equal(items[j].Next) {
			return items[i].Next.Before(items[j].Next)
		}
		return items[i].Name < items[j].Name
	})
	snap.Schedules = items

	if eng != nil {
		snap.Engine = eng.Snapshot()
	}
	snap.RetryBase = engine.DefaultTaskOptions(engine.Config{RetryMax: snap.Engine.RetryMax}).RetryBase
	return snap
}
