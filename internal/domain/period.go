package domain

import (
	"fmt"
	"strings"
	"time"
	"unicode"
)

type PeriodType string

const (
	PeriodMorning PeriodType = "morning"
	PeriodEvening PeriodType = "evening"
	PeriodWeekly  PeriodType = "weekly"
)

// PeriodTypes lists every period type in firing order within a day.
var PeriodTypes = []PeriodType{PeriodMorning, PeriodEvening, PeriodWeekly}

func ParsePeriodType(s string) (PeriodType, error) {
	switch p := PeriodType(s); p {
	case PeriodMorning, PeriodEvening, PeriodWeekly:
		return p, nil
	}
	return "", fmt.Errorf("unknown period %q", s)
}

// Tier is one escalation step within a period instance.
type Tier string

const (
	TierT60        Tier = "t60"
	TierT15        Tier = "t15"
	TierT0         Tier = "t0"
	TierCompletion Tier = "completion"
)

// Tiers are the recurring tiers in wall clock order.
var Tiers = []Tier{TierT60, TierT15, TierT0}

// Offset is the lead time before the deadline.
func (t Tier) Offset() time.Duration {
	switch t {
	case TierT60:
		return 60 * time.Minute
	case TierT15:
		return 15 * time.Minute
	}
	return 0
}

func ParseTier(s string) (Tier, error) {
	switch t := Tier(s); t {
	case TierT60, TierT15, TierT0:
		return t, nil
	}
	return "", fmt.Errorf("unknown tier %q", s)
}

var (
	WorkWeek = []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday, time.Saturday}
	Sundays  = []time.Weekday{time.Sunday}
)

// PeriodSpec is the configuration of one period type.
type PeriodSpec struct {
	Type      PeriodType
	Deadline  TimeOfDay
	Weekdays  []time.Weekday
	TagPrefix string
	ByWeek    bool // tag carries the week number instead of the day number
}

func (p PeriodSpec) AppliesOn(wd time.Weekday) bool {
	for _, w := range p.Weekdays {
		if w == wd {
			return true
		}
	}
	return false
}

// Course is the deployment-wide calendar: one reference zone, the three
// period specs and the course horizon.
type Course struct {
	Location    *time.Location
	Periods     []PeriodSpec
	HorizonDays int
	GraceDays   int
	FineAmount  int

	CompletionOffsetDays int
	CompletionTime       TimeOfDay
}

// DefaultCourse returns the stock calendar in loc.
func DefaultCourse(loc *time.Location) Course {
	return Course{
		Location: loc,
		Periods: []PeriodSpec{
			{Type: PeriodMorning, Deadline: TimeOfDay{Hour: 10}, Weekdays: WorkWeek, TagPrefix: "#оу"},
			{Type: PeriodEvening, Deadline: TimeOfDay{Hour: 23, Minute: 59}, Weekdays: WorkWeek, TagPrefix: "#ов"},
			{Type: PeriodWeekly, Deadline: TimeOfDay{Hour: 23, Minute: 59}, Weekdays: Sundays, TagPrefix: "#неделя", ByWeek: true},
		},
		HorizonDays:          63,
		GraceDays:            5,
		FineAmount:           250,
		CompletionOffsetDays: 62,
		CompletionTime:       TimeOfDay{Hour: 18},
	}
}

func (c Course) Period(t PeriodType) (PeriodSpec, bool) {
	for _, p := range c.Periods {
		if p.Type == t {
			return p, true
		}
	}
	return PeriodSpec{}, false
}

// DayNumber is 1 on the start date.
func (c Course) DayNumber(start, d Date) int { return d.DaysSince(start) + 1 }

func WeekNumber(day int) int { return (day-1)/7 + 1 }

// InRange reports whether a day number falls inside the course horizon.
func (c Course) InRange(day int) bool { return day >= 1 && day <= c.HorizonDays }

// Applies reports whether period t has an instance on d.
func (c Course) Applies(t PeriodType, d Date) bool {
	p, ok := c.Period(t)
	return ok && p.AppliesOn(d.Weekday())
}

// Deadline returns the instant at which the instance (t, d) closes.
func (c Course) Deadline(t PeriodType, d Date) (time.Time, bool) {
	p, ok := c.Period(t)
	if !ok {
		return time.Time{}, false
	}
	return d.At(p.Deadline, c.Location), true
}

// Tag returns the tag that satisfies period t on day number day.
func (c Course) Tag(t PeriodType, day int) string {
	return c.TagFor(Group{}, t, day)
}

// TagFor is Tag with g's per-chat prefix override applied.
func (c Course) TagFor(g Group, t PeriodType, day int) string {
	p, ok := c.Period(t)
	if !ok {
		return ""
	}
	prefix := p.TagPrefix
	if o := g.TagPrefixes[t]; o != "" {
		prefix = o
	}
	n := day
	if p.ByWeek {
		n = WeekNumber(day)
	}
	return fmt.Sprintf("%s%d", prefix, n)
}

// ValidateTagPrefix checks a chat override: a single hashtag word that does
// not end in a digit, since the day number is appended to it.
func ValidateTagPrefix(prefix string) error {
	r := []rune(prefix)
	switch {
	case len(r) < 2 || r[0] != '#':
		return fmt.Errorf("tag prefix %q must start with # and have a name", prefix)
	case strings.ContainsFunc(prefix, unicode.IsSpace):
		return fmt.Errorf("tag prefix %q must not contain spaces", prefix)
	case unicode.IsDigit(r[len(r)-1]):
		return fmt.Errorf("tag prefix %q must not end in a digit", prefix)
	}
	return nil
}

// InstanceDate resolves the date of the current instance of t as seen on
// today. Daily periods resolve to today only when they apply; weekly
// resolves to the most recent applicable weekday on or before today.
func (c Course) InstanceDate(t PeriodType, today Date) (Date, bool) {
	p, ok := c.Period(t)
	if !ok {
		return Date{}, false
	}
	if p.AppliesOn(today.Weekday()) {
		return today, true
	}
	if !p.ByWeek {
		return Date{}, false
	}
	for i := 1; i < 7; i++ {
		d := today.AddDays(-i)
		if p.AppliesOn(d.Weekday()) {
			return d, true
		}
	}
	return Date{}, false
}

// CompletionAt is the instant of the course completion message.
func (c Course) CompletionAt(start Date) time.Time {
	return start.AddDays(c.CompletionOffsetDays).At(c.CompletionTime, c.Location)
}
