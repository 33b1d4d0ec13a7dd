// Package metrics holds the Prometheus collectors of the bot. Collectors are
// registered with the default registry at init and served on /metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "checkinbot"

var (
	TagsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tags_total",
		Help:      "Tag events by outcome (accepted, late, no_match, no_start_date, out_of_range).",
	}, []string{"result"})

	EscalationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "escalations_total",
		Help:      "Escalation firings by period, tier and outcome.",
	}, []string{"period", "tier", "outcome"})

	ReconcileTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconcile_total",
		Help:      "Per-group job reconciliations by result.",
	}, []string{"result"})

	RegisteredJobs = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "registered_jobs",
		Help:      "Jobs currently held by the job registry.",
	})

	FinesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fines_recorded_total",
		Help:      "Fines written to the ledger.",
	})

	BusEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "bus",
		Name:      "events_total",
		Help:      "Events observed on the in-process bus, by type.",
	}, []string{"type"})

	TaskDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "task_duration_seconds",
		Help:      "Run time of engine tasks by outcome.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
	}, []string{"outcome"})

	SinkPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sink",
		Name:      "published_total",
		Help:      "Domain events forwarded to the external sink, by result.",
	}, []string{"driver", "result"})

	MissedTriggers = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scheduler",
		Name:      "missed_triggers_total",
		Help:      "Timer firings that never reached the task engine, by tier and reason.",
	}, []string{"tier", "reason"})

	CommandsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "router",
		Name:      "commands_total",
		Help:      "Handled chat commands by route and result (ok, error, denied, busy).",
	}, []string{"command", "result"})
)

func init() {
	prometheus.MustRegister(
		TagsTotal,
		EscalationsTotal,
		ReconcileTotal,
		RegisteredJobs,
		FinesTotal,
		BusEventsTotal,
		TaskDuration,
		SinkPublished,
		MissedTriggers,
		CommandsTotal,
	)
}
