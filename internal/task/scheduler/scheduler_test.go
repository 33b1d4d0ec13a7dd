package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"checkinbot/internal/eventbus"
	"checkinbot/internal/metrics"
	"checkinbot/internal/task/engine"
	"checkinbot/pkg/logx"
)

func noop(context.Context) error { return nil }

func newService(t *testing.T) (*Service, *eventbus.MemBus) {
	t.Helper()
	bus := eventbus.New()
	eng := engine.New(engine.Config{Enabled: true, Workers: 1}, logx.Nop(), bus)
	eng.Start(context.Background())
	s := New(Config{Enabled: true, Timezone: "Europe/Moscow"}, eng, logx.Nop(), bus)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
		eng.Stop(ctx)
	})
	return s, bus
}

func TestAddCronEntryIsIdempotent(t *testing.T) {
	s, _ := newService(t)
	e := Entry{Name: "morning_t0_-1", Spec: "CRON_TZ=Europe/Moscow 0 0 10 * * 1-6", Job: noop}

	added, err := s.AddCronEntry(e)
	if err != nil || !added {
		t.Fatalf("first add = %v, %v", added, err)
	}
	added, err = s.AddCronEntry(e)
	if err != nil || added {
		t.Fatalf("second add = %v, %v; want no-op", added, err)
	}

	e.Spec = "CRON_TZ=Europe/Moscow 0 30 10 * * 1-6"
	added, err = s.AddCronEntry(e)
	if err != nil || added {
		t.Fatalf("add with new spec = %v, %v; want existing entry kept", added, err)
	}
	if got := s.Snapshot().Schedules[0].Spec; got != "CRON_TZ=Europe/Moscow 0 0 10 * * 1-6" {
		t.Fatalf("spec = %q", got)
	}

	if err := s.AddCronOpt(e); err != nil {
		t.Fatal(err)
	}
	snap := s.Snapshot()
	if len(snap.Schedules) != 1 || snap.Schedules[0].Spec != e.Spec {
		t.Fatalf("schedules after upsert = %+v", snap.Schedules)
	}
}

func TestAddCronEntryRejectsBadSpec(t *testing.T) {
	s, _ := newService(t)
	if _, err := s.AddCronEntry(Entry{Name: "x", Spec: "0 10 * * *", Job: noop}); err == nil {
		t.Fatal("5-field spec should be rejected")
	}
	if _, err := s.AddCronEntry(Entry{Name: "", Spec: "0 0 10 * * *", Job: noop}); err == nil {
		t.Fatal("empty name should be rejected")
	}
}

func TestSnapshotComputesNextInZone(t *testing.T) {
	s, _ := newService(t)
	s.Start(context.Background())
	if _, err := s.AddCronEntry(Entry{Name: "weekly_t0_-1", Spec: "CRON_TZ=Europe/Moscow 0 59 23 * * 0", Job: noop}); err != nil {
		t.Fatal(err)
	}
	snap := s.Snapshot()
	if len(snap.Schedules) != 1 {
		t.Fatalf("schedules = %+v", snap.Schedules)
	}
	msk, _ := time.LoadLocation("Europe/Moscow")
	next := snap.Schedules[0].Next.In(msk)
	if next.Weekday() != time.Sunday || next.Hour() != 23 || next.Minute() != 59 {
		t.Fatalf("next = %s", next)
	}
}

func TestAddOnceFiresThroughEngine(t *testing.T) {
	s, bus := newService(t)
	events, unsub := bus.SubscribeTypes(8, eventbus.TypeTaskFinished)
	defer unsub()

	fired := make(chan struct{})
	added, err := s.AddOnce(Entry{Name: "completion_-5", Job: func(context.Context) error {
		close(fired)
		return nil
	}}, time.Now().Add(20*time.Millisecond))
	if err != nil || !added {
		t.Fatalf("AddOnce = %v, %v", added, err)
	}
	if !s.Has("completion_-5") {
		t.Fatal("Has should report pending once entry")
	}
	s.Start(context.Background())

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("once entry did not fire")
	}
	select {
	case <-events:
	case <-time.After(2 * time.Second):
		t.Fatal("no task.finished event")
	}
	if s.Has("completion_-5") {
		t.Fatal("fired once entry should be gone")
	}
}

func TestRemove(t *testing.T) {
	s, _ := newService(t)
	_, _ = s.AddCronEntry(Entry{Name: "a", Spec: "0 0 10 * * *", Job: noop})
	_, _ = s.AddOnce(Entry{Name: "b", Job: noop}, time.Now().Add(time.Hour))

	if !s.Remove("a") || !s.Remove("b") {
		t.Fatal("Remove should report removal")
	}
	if s.Remove("a") {
		t.Fatal("second Remove should be a no-op")
	}
	if s.Has("a") || s.Has("b") {
		t.Fatal("entries still registered")
	}
}

func TestReportEnqueueErrorCountsMisses(t *testing.T) {
	s, _ := newService(t)
	missed := func(tier, reason string) float64 {
		return testutil.ToFloat64(metrics.MissedTriggers.WithLabelValues(tier, reason))
	}
	beforeT0 := missed("t0", "queue_full")
	beforeSkip := missed("t15", "overlap")

	s.reportEnqueueError("morning_t0_-3", engine.ErrQueueFull)
	s.reportEnqueueError("morning_t0_-3", engine.ErrQueueFull)
	s.reportEnqueueError("evening_t15_-3", engine.ErrOverlapSkip)

	if got := missed("t0", "queue_full") - beforeT0; got != 2 {
		t.Fatalf("t0 queue_full misses = %v, want 2 (throttling must not hide counts)", got)
	}
	if got := missed("t15", "overlap") - beforeSkip; got != 1 {
		t.Fatalf("t15 overlap misses = %v, want 1", got)
	}
	if r := missReason(engine.ErrStopping); r != "stopped" {
		t.Fatalf("missReason(ErrStopping) = %q", r)
	}
}
