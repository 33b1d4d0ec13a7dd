package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync/atomic"
	"testing"
	"time"

	"checkinbot/internal/domain"
	"checkinbot/internal/eventbus"
	"checkinbot/pkg/logx"
)

func startEngine(t *testing.T, cfg Config) (*Service, *eventbus.MemBus) {
	t.Helper()
	bus := eventbus.New()
	cfg.Enabled = true
	s := New(cfg, logx.Nop(), bus)
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s, bus
}

func waitEvent(t *testing.T, ch <-chan eventbus.Event, typ string) eventbus.Event {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case e := <-ch:
			if e.Type == typ {
				return e
			}
		case <-timeout:
			t.Fatalf("no %s event", typ)
			return eventbus.Event{}
		}
	}
}

func TestEnqueueRunsTask(t *testing.T) {
	s, bus := startEngine(t, Config{Workers: 1})
	events, unsub := bus.SubscribeTypes(16, "task.")
	defer unsub()

	var ran atomic.Bool
	if err := s.Enqueue(Task{Name: "morning_t0_-100", Run: func(ctx context.Context) error {
		ran.Store(true)
		return nil
	}}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	e := waitEvent(t, events, eventbus.TypeTaskFinished)
	if !ran.Load() {
		t.Fatal("task did not run")
	}
	if ev := e.Data.(TaskEvent); ev.Name != "morning_t0_-100" || ev.Attempts != 1 {
		t.Fatalf("event = %+v", ev)
	}
}

func TestRetriesThenSucceeds(t *testing.T) {
	s, bus := startEngine(t, Config{Workers: 1})
	events, unsub := bus.SubscribeTypes(16, "task.")
	defer unsub()

	var calls atomic.Int32
	err := s.Enqueue(Task{
		Name: "flaky",
		Opt:  TaskOptions{RetryMax: 2, RetryBase: time.Millisecond, RetryMaxDelay: 2 * time.Millisecond},
		Run: func(ctx context.Context) error {
			if calls.Add(1) < 3 {
				return errors.New("transient")
			}
			return nil
		},
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	e := waitEvent(t, events, eventbus.TypeTaskFinished)
	if got := e.Data.(TaskEvent).Attempts; got != 3 {
		t.Fatalf("attempts = %d, want 3", got)
	}
}

func TestNoRetryStopsImmediately(t *testing.T) {
	s, bus := startEngine(t, Config{Workers: 1, RetryMax: 5})
	events, unsub := bus.SubscribeTypes(16, "task.")
	defer unsub()

	perm := errors.New("bad key")
	var calls atomic.Int32
	_ = s.Enqueue(Task{Name: "perm", Run: func(ctx context.Context) error {
		calls.Add(1)
		return NoRetry(perm)
	}})
	e := waitEvent(t, events, eventbus.TypeTaskFailed)
	if calls.Load() != 1 {
		t.Fatalf("calls = %d", calls.Load())
	}
	if e.Data.(TaskEvent).Error != perm.Error() {
		t.Fatalf("error = %q", e.Data.(TaskEvent).Error)
	}
}

func TestPanicBecomesFailure(t *testing.T) {
	s, bus := startEngine(t, Config{Workers: 1})
	events, unsub := bus.SubscribeTypes(16, "task.")
	defer unsub()

	_ = s.Enqueue(Task{Name: "panics", Opt: TaskOptions{RetryMax: 1, RetryBase: time.Millisecond}, Run: func(ctx context.Context) error { panic("boom") }})
	waitEvent(t, events, eventbus.TypeTaskFailed)
}

func TestOverlapSkip(t *testing.T) {
	s, _ := startEngine(t, Config{Workers: 1})

	release := make(chan struct{})
	started := make(chan struct{})
	block := Task{Name: "evening_t15_-7", Opt: TaskOptions{Overlap: OverlapSkipIfRunning}, Run: func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}}
	if err := s.Enqueue(block); err != nil {
		t.Fatalf("first Enqueue: %v", err)
	}
	<-started
	dup := block
	dup.Run = func(ctx context.Context) error { return nil }
	if err := s.Enqueue(dup); !errors.Is(err, ErrOverlapSkip) {
		t.Fatalf("second Enqueue err = %v, want ErrOverlapSkip", err)
	}
	close(release)
}

func TestEnqueueWhenDisabled(t *testing.T) {
	s := New(Config{}, logx.Nop(), nil)
	if err := s.Enqueue(Task{Name: "x", Run: func(context.Context) error { return nil }}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("err = %v", err)
	}
	s = New(Config{Enabled: true}, logx.Nop(), nil)
	if err := s.Enqueue(Task{Name: "x", Run: func(context.Context) error { return nil }}); !errors.Is(err, ErrStopped) {
		t.Fatalf("err = %v", err)
	}
}

func TestBackoffHonorsHintAndCap(t *testing.T) {
	opt := TaskOptions{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second, RetryJitter: 0.0001}
	rng := rand.New(rand.NewPCG(1, 2))

	if d := backoffDelay(opt, 3, rng); d < 390*time.Millisecond || d > 410*time.Millisecond {
		t.Fatalf("backoff(3) = %s", d)
	}
	if d := backoffDelay(opt, 20, rng); d > time.Second {
		t.Fatalf("backoff not capped: %s", d)
	}
	hinted := RetryAfter(errors.New("flood"), 5*time.Second)
	if d := backoffDelayWithHint(opt, 1, hinted, rng); d > time.Second || d < 990*time.Millisecond {
		t.Fatalf("hinted = %s", d)
	}
}

func TestClassify(t *testing.T) {
	if Classify(nil) != nil {
		t.Fatal("nil must stay nil")
	}
	if !IsNoRetry(Classify(fmt.Errorf("send: %w", domain.ErrDispatch))) {
		t.Fatal("dispatch failure must not be retried")
	}
	if !IsNoRetry(Classify(domain.ErrUnknownGroup)) {
		t.Fatal("unknown group must not be retried")
	}
	transient := RetryAfter(errors.New("flood"), 2*time.Second)
	got := Classify(transient)
	if IsNoRetry(got) {
		t.Fatal("transient error marked permanent")
	}
	if after, ok := RetryHint(got); !ok || after != 2*time.Second {
		t.Fatalf("RetryHint = %v, %v", after, ok)
	}
}

func TestChatLaneReportsBusyChat(t *testing.T) {
	s, _ := startEngine(t, Config{Workers: 2})

	release := make(chan struct{})
	started := make(chan struct{})
	key := ChatKey(-7)
	if key != "chat:-7" {
		t.Fatalf("ChatKey = %q", key)
	}
	err := s.Enqueue(Task{Name: "morning_t0_-7", ConcurrencyKey: key, Opt: TaskOptions{ConcurrencyLimit: 1}, Run: func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	<-started
	if busy := s.Snapshot().BusyChats; len(busy) != 1 || busy[0] != key {
		t.Fatalf("BusyChats = %v", busy)
	}
	close(release)

	deadline := time.Now().Add(2 * time.Second)
	for len(s.Snapshot().BusyChats) != 0 {
		if time.Now().After(deadline) {
			t.Fatal("lane still busy after task finished")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
