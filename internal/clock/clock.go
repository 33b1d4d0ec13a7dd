// Package clock is the single source of "now" for the scheduler core. Every
// instant it hands out is expressed in the deployment's reference zone.
package clock

import (
	"fmt"
	"sync"
	"time"

	"checkinbot/internal/domain"
)

type Clock interface {
	Now() time.Time
	Location() *time.Location
}

// Today returns the current civil date in c's zone.
func Today(c Clock) domain.Date { return domain.DateOf(c.Now()) }

// Reference reads the wall clock and converts it to a fixed zone.
type Reference struct {
	loc *time.Location
}

func NewReference(loc *time.Location) Reference {
	if loc == nil {
		loc = time.UTC
	}
	return Reference{loc: loc}
}

// Load builds a Reference clock for an IANA zone name.
func Load(tz string) (Reference, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return Reference{}, fmt.Errorf("%w: timezone %q: %v", domain.ErrConfiguration, tz, err)
	}
	return NewReference(loc), nil
}

func (r Reference) Now() time.Time           { return time.Now().In(r.loc) }
func (r Reference) Location() *time.Location { return r.loc }

// In converts t to the reference zone.
func (r Reference) In(t time.Time) time.Time { return t.In(r.loc) }

// Manual is a settable clock for tests and replays.
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

func NewManual(now time.Time) *Manual { return &Manual{now: now} }

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) Location() *time.Location {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now.Location()
}

func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	m.now = t
	m.mu.Unlock()
}

func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}
