package config

import (
	"fmt"
	"strings"
	"time"

	"checkinbot/internal/domain"
)

// BuildCourse turns the course section into the calendar the core runs on.
// ApplyDefaults must have run first.
func (c CourseConfig) BuildCourse() (domain.Course, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return domain.Course{}, fmt.Errorf("course.timezone: %w", err)
	}
	tod := func(path, raw string) (domain.TimeOfDay, error) {
		t, err := domain.ParseTimeOfDay(raw)
		if err != nil {
			return t, fmt.Errorf("%s: %w", path, err)
		}
		return t, nil
	}
	morning, err := tod("course.morning_deadline", c.MorningDeadline)
	if err != nil {
		return domain.Course{}, err
	}
	evening, err := tod("course.evening_deadline", c.EveningDeadline)
	if err != nil {
		return domain.Course{}, err
	}
	weekly, err := tod("course.weekly_deadline", c.WeeklyDeadline)
	if err != nil {
		return domain.Course{}, err
	}
	completion, err := tod("course.completion_time", c.CompletionTime)
	if err != nil {
		return domain.Course{}, err
	}

	tags := map[string]string{}
	for path, tag := range map[string]string{
		"course.morning_tag": c.MorningTag,
		"course.evening_tag": c.EveningTag,
		"course.weekly_tag":  c.WeeklyTag,
	} {
		t := strings.ToLower(strings.TrimSpace(tag))
		if t == "" {
			return domain.Course{}, fmt.Errorf("%s: empty tag prefix", path)
		}
		if other, dup := tags[t]; dup {
			return domain.Course{}, fmt.Errorf("%s: tag prefix %q already used by %s", path, tag, other)
		}
		tags[t] = path
	}

	course := domain.DefaultCourse(loc)
	course.Periods = []domain.PeriodSpec{
		{Type: domain.PeriodMorning, Deadline: morning, Weekdays: domain.WorkWeek, TagPrefix: strings.TrimSpace(c.MorningTag)},
		{Type: domain.PeriodEvening, Deadline: evening, Weekdays: domain.WorkWeek, TagPrefix: strings.TrimSpace(c.EveningTag)},
		{Type: domain.PeriodWeekly, Deadline: weekly, Weekdays: domain.Sundays, TagPrefix: strings.TrimSpace(c.WeeklyTag), ByWeek: true},
	}
	course.HorizonDays = c.HorizonDays
	course.GraceDays = c.GraceDays
	course.FineAmount = c.FineAmount
	course.CompletionOffsetDays = c.CompletionOffsetDays
	course.CompletionTime = completion
	return course, nil
}
