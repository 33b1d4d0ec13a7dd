package eventbus

import (
	"testing"
	"time"
)

func TestPublishFansOut(t *testing.T) {
	t.Parallel()

	b := New()
	a, unsubA := b.Subscribe(4)
	defer unsubA()
	c, unsubC := b.SubscribeTypes(4, "escalation.")
	defer unsubC()

	b.Publish(Event{Type: TypeTagAccepted})
	b.Publish(Event{Type: TypeEscalationSent})

	if got := (<-a).Type; got != TypeTagAccepted {
		t.Fatalf("first event = %q, want %q", got, TypeTagAccepted)
	}
	if got := (<-a).Type; got != TypeEscalationSent {
		t.Fatalf("second event = %q, want %q", got, TypeEscalationSent)
	}
	select {
	case e := <-c:
		if e.Type != TypeEscalationSent {
			t.Fatalf("filtered event = %q, want %q", e.Type, TypeEscalationSent)
		}
		if e.Time.IsZero() {
			t.Fatalf("event time not stamped")
		}
	case <-time.After(time.Second):
		t.Fatalf("filtered subscriber got nothing")
	}
	if len(c) != 0 {
		t.Fatalf("filtered subscriber has %d extra events", len(c))
	}
}

func TestPublishDropsWhenFull(t *testing.T) {
	t.Parallel()

	b := New()
	_, unsub := b.Subscribe(1)
	b.Publish(Event{Type: "x"})
	b.Publish(Event{Type: "x"})
	if got := b.Dropped(); got != 1 {
		t.Fatalf("Dropped = %d, want 1", got)
	}

	unsub()
	unsub()
	b.Publish(Event{Type: "x"})
}
