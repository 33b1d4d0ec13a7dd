package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"checkinbot/internal/eventbus"
	"checkinbot/internal/storage"
	"checkinbot/internal/transport"
	logx "checkinbot/pkg/logx"
)

type fakeSender struct {
	mu       sync.Mutex
	texts    []string
	failures int
	calls    int
}

func (f *fakeSender) SendText(_ context.Context, to transport.ChatTarget, text string, _ *transport.SendOptions) (transport.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failures > 0 {
		f.failures--
		return transport.MessageRef{}, errors.New("429 too many requests")
	}
	f.texts = append(f.texts, text)
	return transport.MessageRef{ChatID: to.ChatID, MessageID: len(f.texts)}, nil
}

func (f *fakeSender) snapshot() ([]string, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...), f.calls
}

func testConfig() Config {
	return Config{
		Enabled:     true,
		Workers:     1,
		QueueSize:   8,
		RatePerSec:  1000,
		RetryMax:    2,
		RetryBase:   time.Millisecond,
		DedupWindow: time.Minute,
	}
}

func start(t *testing.T, cfg Config, snd Sender, store DedupStore) (*Service, *eventbus.MemBus) {
	t.Helper()
	bus := eventbus.New()
	s := New(cfg, snd, logx.Nop(), bus, store)
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
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Type == typ {
				return ev
			}
		case <-timeout:
			t.Fatalf("no %s event", typ)
		}
	}
}

func TestSendDelivers(t *testing.T) {
	snd := &fakeSender{}
	s, bus := start(t, testConfig(), snd, nil)
	events, unsub := bus.SubscribeTypes(16, "notifier.")
	defer unsub()

	if err := s.Send(context.Background(), -1, "hello"); err != nil {
		t.Fatalf("Send = %v", err)
	}
	waitEvent(t, events, eventbus.TypeNotifierSent)

	texts, _ := snd.snapshot()
	if len(texts) != 1 || texts[0] != "hello" {
		t.Fatalf("texts = %v", texts)
	}
	if h := s.History(); len(h) != 1 || h[0].ChatID != -1 {
		t.Fatalf("history = %+v", h)
	}
}

func TestRetryThenSucceed(t *testing.T) {
	snd := &fakeSender{failures: 2}
	s, bus := start(t, testConfig(), snd, nil)
	events, unsub := bus.SubscribeTypes(16, eventbus.TypeNotifierSent)
	defer unsub()

	if err := s.Send(context.Background(), -1, "retry me"); err != nil {
		t.Fatal(err)
	}
	ev := waitEvent(t, events, eventbus.TypeNotifierSent)
	if got := ev.Data.(NotificationEvent).Attempts; got != 3 {
		t.Fatalf("attempts = %d, want 3", got)
	}
}

func TestRetryExhaustedPublishesFailure(t *testing.T) {
	snd := &fakeSender{failures: 10}
	s, bus := start(t, testConfig(), snd, nil)
	events, unsub := bus.SubscribeTypes(16, eventbus.TypeNotifierFailed)
	defer unsub()

	_ = s.Send(context.Background(), -1, "doomed")
	ev := waitEvent(t, events, eventbus.TypeNotifierFailed)
	if ev.Data.(NotificationEvent).Error == "" {
		t.Fatal("failure event without error")
	}
	if _, calls := snd.snapshot(); calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
	if st := s.Stats(); st.Failed != 1 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestDedupWindow(t *testing.T) {
	snd := &fakeSender{}
	s, bus := start(t, testConfig(), snd, nil)
	events, unsub := bus.SubscribeTypes(16, "notifier.")
	defer unsub()

	ctx := context.Background()
	_ = s.Send(ctx, -1, "same")
	_ = s.Send(ctx, -1, "same")
	_ = s.Send(ctx, -2, "same")
	waitEvent(t, events, eventbus.TypeNotifierDeduped)

	if st := s.Stats(); st.Deduped != 1 {
		t.Fatalf("deduped = %d, want 1", st.Deduped)
	}
}

func TestPersistentDedupSurvivesRestart(t *testing.T) {
	store := storage.NewMemory()
	cfg := testConfig()
	cfg.PersistDedup = true
	ctx := context.Background()

	first := New(cfg, &fakeSender{}, logx.Nop(), nil, store)
	first.Start(ctx)
	_ = first.Send(ctx, -1, "once")
	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	first.Stop(stopCtx)
	cancel()

	snd := &fakeSender{}
	second, _ := start(t, cfg, snd, store)
	if err := second.Send(ctx, -1, "once"); err != nil {
		t.Fatal(err)
	}
	if st := second.Stats(); st.Deduped != 1 {
		t.Fatalf("deduped after restart = %d, want 1", st.Deduped)
	}
}

func TestDisabledAndStopped(t *testing.T) {
	ctx := context.Background()
	off := New(Config{}, &fakeSender{}, logx.Nop(), nil, nil)
	if err := off.Send(ctx, -1, "x"); !errors.Is(err, ErrDisabled) {
		t.Fatalf("disabled Send = %v, want ErrDisabled", err)
	}

	s := New(testConfig(), &fakeSender{}, logx.Nop(), nil, nil)
	if err := s.Send(ctx, -1, "x"); !errors.Is(err, ErrStopped) {
		t.Fatalf("unstarted Send = %v, want ErrStopped", err)
	}
}

func TestRetryDelayBounds(t *testing.T) {
	cfg := Config{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second}
	for attempt := 1; attempt <= 8; attempt++ {
		d := retryDelay(cfg, attempt)
		if d <= 0 || d > time.Second {
			t.Fatalf("retryDelay(%d) = %v", attempt, d)
		}
	}
	if d := retryDelay(cfg, 1); d < 70*time.Millisecond || d > 130*time.Millisecond {
		t.Fatalf("first delay = %v, want 70ms..130ms", d)
	}
}

type hinted struct{ after time.Duration }

func (h hinted) Error() string             { return "flood" }
func (h hinted) RetryAfter() time.Duration { return h.after }

func TestRetryWaitHonoursFloodHint(t *testing.T) {
	cfg := Config{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second}
	if d := retryWait(cfg, 1, hinted{after: 3 * time.Second}); d != 3*time.Second {
		t.Fatalf("retryWait = %v, want 3s", d)
	}
	if d := retryWait(cfg, 1, hinted{after: time.Hour}); d != floodWaitCap {
		t.Fatalf("retryWait = %v, want cap %v", d, floodWaitCap)
	}
	if d := retryWait(cfg, 1, errors.New("plain")); d > 130*time.Millisecond {
		t.Fatalf("retryWait without hint = %v", d)
	}
}
