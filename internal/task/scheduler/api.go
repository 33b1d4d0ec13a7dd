package scheduler

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"checkinbot/internal/task/engine"
	"checkinbot/pkg/logx"
)

// AddCronEntry registers a recurring entry unless one with the same name
// already exists. added is false when the call changed nothing.
func (s *Service) AddCronEntry(e Entry) (added bool, err error) {
	return s.addCron(e, false)
}

// AddCronOpt registers e, replacing any entry with the same name.
func (s *Service) AddCronOpt(e Entry) error {
	_, err := s.addCron(e, true)
	return err
}

func (s *Service) addCron(e Entry, replace bool) (bool, error) {
	e.Name = strings.TrimSpace(e.Name)
	e.Spec = strings.TrimSpace(e.Spec)
	if e.Name == "" {
		return false, errors.New("name required")
	}
	if e.Job == nil {
		return false, errors.New("job required")
	}
	if _, err := s.parser.Parse(e.Spec); err != nil {
		return false, fmt.Errorf("parse %q: %w", e.Spec, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.defs[e.Name]; ok {
		if !replace {
			return false, nil
		}
		s.removeCronLocked(e.Name)
	}
	d := &scheduleDef{Entry: e, state: &engine.RunState{}}
	s.defs[e.Name] = d
	if s.c != nil {
		s.registerLocked(d)
	}
	return true, nil
}

// AddOnce registers a one-off entry firing at at. An entry with the same
// name and instant is kept; a different instant replaces it.
func (s *Service) AddOnce(e Entry, at time.Time) (added bool, err error) {
	e.Name = strings.TrimSpace(e.Name)
	if e.Name == "" {
		return false, errors.New("name required")
	}
	if at.IsZero() {
		return false, errors.New("at required")
	}
	if e.Job == nil {
		return false, errors.New("job required")
	}

	s.mu.Lock()
	running := s.c != nil
	s.mu.Unlock()

	s.tmu.Lock()
	defer s.tmu.Unlock()
	if o, ok := s.once[e.Name]; ok {
		if o.at.Equal(at) {
			return false, nil
		}
		if o.timer != nil {
			o.timer.Stop()
		}
	}
	s.onceSeq++
	o := &onceDef{Entry: e, at: at, ver: s.onceSeq}
	s.once[e.Name] = o
	if running {
		s.armLocked(o)
	}
	return true, nil
}

// Has reports whether an entry with this name is registered.
func (s *Service) Has(name string) bool {
	s.mu.Lock()
	_, ok := s.defs[name]
	s.mu.Unlock()
	if ok {
		return true
	}
	s.tmu.Lock()
	defer s.tmu.Unlock()
	_, ok = s.once[name]
	return ok
}

// Remove unregisters every entry with this name.
func (s *Service) Remove(name string) bool {
	name = strings.TrimSpace(name)
	s.mu.Lock()
	removed := s.removeCronLocked(name)
	s.mu.Unlock()

	s.tmu.Lock()
	if o, ok := s.once[name]; ok {
		if o.timer != nil {
			o.timer.Stop()
		}
		delete(s.once, name)
		removed = true
	}
	s.tmu.Unlock()

	if removed {
		s.log.Debug("schedule removed", logx.String("name", name))
	}
	return removed
}

func (s *Service) removeCronLocked(name string) bool {
	d, ok := s.defs[name]
	if !ok {
		return false
	}
	if s.c != nil && d.entryID != 0 {
		s.c.Remove(d.entryID)
	}
	delete(s.defs, name)
	return true
}

func (s *Service) registerLocked(d *scheduleDef) {
	job := cron.FuncJob(func() { s.fire(d.Entry, d.state) })
	id, err := s.c.AddJob(d.Spec, job)
	if err != nil {
		s.log.Error("schedule register failed", logx.String("name", d.Name), logx.String("spec", d.Spec), logx.Err(err))
		return
	}
	d.entryID = id
	if s.log.Enabled(logx.LevelDebug) {
		s.log.Debug("schedule registered", logx.String("name", d.Name), logx.String("spec", d.Spec), logx.String("next", s.previewNextRunsLocked(d.Spec, 3)))
	}
}

func (s *Service) fire(e Entry, state *engine.RunState) {
	if s.engine == nil {
		return
	}
	err := s.engine.Enqueue(engine.Task{
		Name:           e.Name,
		Timeout:        e.Timeout,
		Run:            e.Job,
		Opt:            e.Opt,
		ConcurrencyKey: e.ConcurrencyKey,
		State:          state,
	})
	if err != nil {
		s.reportEnqueueError(e.Name, err)
	}
}

// armOnceTimers starts timers for every stored one-off entry.
func (s *Service) armOnceTimers() {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	for _, o := range s.once {
		s.armLocked(o)
	}
}

// armLocked must be called with s.tmu held. A fired entry deletes itself
// before enqueueing so a restart cannot run it twice.
func (s *Service) armLocked(o *onceDef) {
	if o.timer != nil {
		o.timer.Stop()
	}
	name, ver := o.Name, o.ver
	o.timer = time.AfterFunc(max(time.Until(o.at), 0), func() {
		s.tmu.Lock()
		cur, ok := s.once[name]
		if !ok || cur.ver != ver {
			s.tmu.Unlock()
			return
		}
		delete(s.once, name)
		s.tmu.Unlock()
		s.fire(cur.Entry, nil)
	})
}

// previewNextRunsLocked lists upcoming runs of spec for debug logs.
func (s *Service) previewNextRunsLocked(spec string, n int) string {
	sched, err := s.parser.Parse(spec)
	if err != nil {
		return ""
	}
	t := time.Now().In(s.loc)
	parts := make([]string, 0, n)
	for range n {
		t = sched.Next(t)
		if t.IsZero() {
			break
		}
		parts = append(parts, t.Format("2006-01-02 15:04:05 MST"))
	}
	return strings.Join(parts, ", ")
}
