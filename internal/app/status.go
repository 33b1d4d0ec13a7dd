package app

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Status renders the operator report shown by /status and /api/status.
func (a *App) Status(ctx context.Context) string {
	var b strings.Builder
	fmt.Fprintf(&b, "uptime: %s\n", time.Since(a.started).Truncate(time.Second))

	if err := a.store.Ping(ctx); err != nil {
		fmt.Fprintf(&b, "storage: error: %v\n", err)
	} else {
		b.WriteString("storage: ok\n")
	}

	groups, err := a.store.ListGroups(ctx)
	if err == nil {
		started := 0
		for _, g := range groups {
			if g.HasStart() {
				started++
			}
		}
		fmt.Fprintf(&b, "groups: %d (with start date: %d)\n", len(groups), started)
	}
	fmt.Fprintf(&b, "jobs: %d\n", len(a.registry.Snapshot()))

	es := a.engine.Snapshot()
	fmt.Fprintf(&b, "engine: enabled=%t workers=%d queue=%d/%d in_flight=%d dropped=%d\n",
		es.Enabled, es.Workers, es.QueueLen, es.QueueCap, es.InFlight, es.Dropped)
	fmt.Fprintf(&b, "scheduler: enabled=%t\n", a.sched.Enabled())

	ns := a.notif.Stats()
	fmt.Fprintf(&b, "notifier: enabled=%t queue=%d/%d sent=%d failed=%d deduped=%d dropped=%d\n",
		ns.Enabled, ns.Queued, ns.QueueSize, ns.Sent, ns.Failed, ns.Deduped, ns.Dropped)
	if a.sink != nil {
		fmt.Fprintf(&b, "event sink: %s\n", a.sink.Driver())
	}
	fmt.Fprintf(&b, "bus dropped: %d\n", a.bus.Dropped())

	snaps := a.supervisors.Snapshot()
	names := make([]string, 0, len(snaps))
	for n := range snaps {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		s := snaps[n]
		fmt.Fprintf(&b, "sup %s: active=%d started=%d", n, s.Counters.Active, s.Counters.Started)
		if s.FirstError != "" {
			fmt.Fprintf(&b, " first_error=%q", s.FirstError)
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}
