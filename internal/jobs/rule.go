package jobs

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Rule is a weekly recurrence: a set of weekdays and a wall clock time in
// one zone.
type Rule struct {
	Weekdays []time.Weekday
	Hour     int
	Minute   int
	Second   int
	Location *time.Location
}

// CronSpec renders the rule as a 6-field cron spec pinned with CRON_TZ.
func (r Rule) CronSpec() string {
	days := slices.Clone(r.Weekdays)
	slices.Sort(days)
	dow := make([]string, 0, len(days))
	for _, d := range days {
		dow = append(dow, strconv.Itoa(int(d)))
	}
	loc := r.Location
	if loc == nil {
		loc = time.UTC
	}
	return fmt.Sprintf("CRON_TZ=%s %d %d %d * * %s", loc.String(), r.Second, r.Minute, r.Hour, strings.Join(dow, ","))
}

func (r Rule) String() string { return r.CronSpec() }

// shiftBack moves every weekday n days earlier.
func shiftBack(days []time.Weekday, n int) []time.Weekday {
	out := make([]time.Weekday, 0, len(days))
	for _, d := range days {
		out = append(out, time.Weekday(((int(d)-n)%7+7)%7))
	}
	return out
}
