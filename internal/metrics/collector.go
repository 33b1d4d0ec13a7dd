package metrics

import (
	"context"
	"time"

	"checkinbot/internal/eventbus"
)

// TimedEvent is implemented by bus payloads that carry a run duration.
type TimedEvent interface {
	Elapsed() time.Duration
}

// Collect counts every bus event by type and observes task durations until
// ctx ends or the channel closes.
func Collect(ctx context.Context, events <-chan eventbus.Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-events:
			if !ok {
				return nil
			}
			Observe(e)
		}
	}
}

func Observe(e eventbus.Event) {
	BusEventsTotal.WithLabelValues(e.Type).Inc()
	te, ok := e.Data.(TimedEvent)
	if !ok {
		return
	}
	switch e.Type {
	case eventbus.TypeTaskFinished:
		TaskDuration.WithLabelValues("ok").Observe(te.Elapsed().Seconds())
	case eventbus.TypeTaskFailed:
		TaskDuration.WithLabelValues("error").Observe(te.Elapsed().Seconds())
	}
}
