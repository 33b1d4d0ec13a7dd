package app

import (
	"context"
	"fmt"

	"checkinbot/internal/jobs"
	logx "checkinbot/pkg/logx"
)

type groupReconciler interface {
	ReconcileAll(ctx context.Context) (jobs.ReconcileSummary, error)
	Snapshot() []jobs.Job
}

// reconcileGroups registers jobs for every stored group at startup. Groups
// that fail are logged and left for the next join or /setstartdate; only an
// unreadable group list stops startup.
func reconcileGroups(ctx context.Context, r groupReconciler, log logx.Logger) error {
	sum, err := r.ReconcileAll(ctx)
	if err != nil {
		return fmt.Errorf("reconcile jobs: %w", err)
	}
	if ferr := sum.Err(); ferr != nil {
		log.Error("some groups were not reconciled",
			logx.Int("groups", sum.Groups),
			logx.Int("failed", len(sum.Failed)),
			logx.Err(ferr))
	}
	log.Info("jobs reconciled", logx.Int("groups", sum.Groups), logx.Int("jobs", len(r.Snapshot())))
	return nil
}
