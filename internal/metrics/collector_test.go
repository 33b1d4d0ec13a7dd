package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"checkinbot/internal/eventbus"
)

type timed time.Duration

func (d timed) Elapsed() time.Duration { return time.Duration(d) }

func TestCollectCountsEvents(t *testing.T) {
	before := testutil.ToFloat64(BusEventsTotal.WithLabelValues("test.collect"))

	ch := make(chan eventbus.Event, 3)
	ch <- eventbus.Event{Type: "test.collect"}
	ch <- eventbus.Event{Type: "test.collect"}
	ch <- eventbus.Event{Type: eventbus.TypeTaskFinished, Data: timed(20 * time.Millisecond)}
	close(ch)

	require.NoError(t, Collect(context.Background(), ch))
	require.Equal(t, before+2, testutil.ToFloat64(BusEventsTotal.WithLabelValues("test.collect")))
	require.Equal(t, 1, testutil.CollectAndCount(TaskDuration))
}
