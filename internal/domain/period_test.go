package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func moscow(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Moscow")
	require.NoError(t, err)
	return loc
}

func TestDayAndWeekNumbers(t *testing.T) {
	t.Parallel()

	c := DefaultCourse(time.UTC)
	start := Date{2024, time.January, 1}

	cases := []struct {
		date Date
		day  int
		week int
	}{
		{Date{2024, time.January, 1}, 1, 1},
		{Date{2024, time.January, 7}, 7, 1},
		{Date{2024, time.January, 8}, 8, 2},
		{Date{2024, time.March, 3}, 63, 9},
	}
	for _, tc := range cases {
		day := c.DayNumber(start, tc.date)
		require.Equal(t, tc.day, day, tc.date.String())
		require.Equal(t, tc.week, WeekNumber(day), tc.date.String())
		require.True(t, c.InRange(day))
	}
	require.False(t, c.InRange(c.DayNumber(start, Date{2024, time.March, 4})))
	require.False(t, c.InRange(c.DayNumber(start, Date{2023, time.December, 31})))
}

func TestTags(t *testing.T) {
	t.Parallel()

	c := DefaultCourse(time.UTC)
	require.Equal(t, "#оу2", c.Tag(PeriodMorning, 2))
	require.Equal(t, "#ов14", c.Tag(PeriodEvening, 14))
	require.Equal(t, "#неделя2", c.Tag(PeriodWeekly, 14))
	require.Equal(t, "#неделя3", c.Tag(PeriodWeekly, 15))
}

func TestTagForGroupOverride(t *testing.T) {
	t.Parallel()

	c := DefaultCourse(time.UTC)
	g := Group{ID: -1}.WithTagPrefix(PeriodMorning, "#утро")
	require.Equal(t, "#утро3", c.TagFor(g, PeriodMorning, 3))
	require.Equal(t, "#ов3", c.TagFor(g, PeriodEvening, 3))

	weekly := g.WithTagPrefix(PeriodWeekly, "#итоги")
	require.Equal(t, "#итоги2", c.TagFor(weekly, PeriodWeekly, 14))
	require.Len(t, g.TagPrefixes, 1, "WithTagPrefix must not modify the receiver")

	cleared := weekly.WithTagPrefix(PeriodMorning, "").WithTagPrefix(PeriodWeekly, "")
	require.Nil(t, cleared.TagPrefixes)
	require.Equal(t, "#оу3", c.TagFor(cleared, PeriodMorning, 3))
}

func TestValidateTagPrefix(t *testing.T) {
	t.Parallel()

	require.NoError(t, ValidateTagPrefix("#утро"))
	for _, bad := range []string{"", "#", "утро", "#утро вечер", "#day1"} {
		require.Error(t, ValidateTagPrefix(bad), bad)
	}
}

func TestAppliesIsMutuallyExclusiveOnSunday(t *testing.T) {
	t.Parallel()

	c := DefaultCourse(time.UTC)
	sunday := Date{2024, time.January, 7}
	monday := Date{2024, time.January, 8}

	require.False(t, c.Applies(PeriodMorning, sunday))
	require.False(t, c.Applies(PeriodEvening, sunday))
	require.True(t, c.Applies(PeriodWeekly, sunday))

	require.True(t, c.Applies(PeriodMorning, monday))
	require.False(t, c.Applies(PeriodWeekly, monday))
}

func TestInstanceDate(t *testing.T) {
	t.Parallel()

	c := DefaultCourse(time.UTC)
	monday := Date{2024, time.January, 8}

	d, ok := c.InstanceDate(PeriodWeekly, monday)
	require.True(t, ok)
	require.Equal(t, Date{2024, time.January, 7}, d)

	d, ok = c.InstanceDate(PeriodMorning, monday)
	require.True(t, ok)
	require.Equal(t, monday, d)

	_, ok = c.InstanceDate(PeriodEvening, Date{2024, time.January, 7})
	require.False(t, ok)
}

func TestDeadlineInReferenceZone(t *testing.T) {
	t.Parallel()

	loc := moscow(t)
	c := DefaultCourse(loc)
	dl, ok := c.Deadline(PeriodMorning, Date{2024, time.January, 2})
	require.True(t, ok)
	require.Equal(t, time.Date(2024, time.January, 2, 7, 0, 0, 0, time.UTC), dl.UTC())

	done := c.CompletionAt(Date{2024, time.January, 1})
	require.Equal(t, time.Date(2024, time.March, 3, 18, 0, 0, 0, loc), done)
}

func TestTimeOfDayMinus(t *testing.T) {
	t.Parallel()

	got, days := TimeOfDay{Hour: 23, Minute: 59}.Minus(60 * time.Minute)
	require.Equal(t, TimeOfDay{Hour: 22, Minute: 59}, got)
	require.Zero(t, days)

	got, days = TimeOfDay{Minute: 10}.Minus(15 * time.Minute)
	require.Equal(t, TimeOfDay{Hour: 23, Minute: 55}, got)
	require.Equal(t, 1, days)
}

func TestDateText(t *testing.T) {
	t.Parallel()

	d, err := ParseDate("2024-02-29")
	require.NoError(t, err)
	require.Equal(t, "2024-02-29", d.String())
	require.Equal(t, Date{2024, time.March, 1}, d.AddDays(1))
	require.Equal(t, 60, d.DaysSince(Date{2023, time.December, 31}))

	_, err = ParseDate("29.02.2024")
	require.Error(t, err)
}
