package scheduler

import (
	"errors"
	"time"

	"checkinbot/internal/domain"
	"checkinbot/internal/metrics"
	"checkinbot/internal/task/engine"
	"checkinbot/pkg/logx"
)

const enqueueWarnThrottle = 5 * time.Second

func missReason(err error) string {
	switch {
	case errors.Is(err, engine.ErrOverlapSkip):
		return "overlap"
	case errors.Is(err, engine.ErrQueueFull):
		return "queue_full"
	case errors.Is(err, engine.ErrStopped), errors.Is(err, engine.ErrStopping), errors.Is(err, engine.ErrDisabled):
		return "stopped"
	}
	return "other"
}

// reportEnqueueError counts every missed firing and logs it at most once
// per throttle window per entry. Overlap skips stay at debug; a missed
// deadline evaluation is an error since its call-out will not be sent.
func (s *Service) reportEnqueueError(name string, err error) {
	reason := missReason(err)
	tier := "other"
	if _, _, t, perr := domain.ParseJobKey(domain.JobKey(name)); perr == nil {
		tier = string(t)
	}
	metrics.MissedTriggers.WithLabelValues(tier, reason).Inc()

	log := s.log.With(logx.String("schedule", name), logx.String("reason", reason))
	if reason == "overlap" {
		log.Debug("schedule trigger skipped", logx.Err(err))
		return
	}

	now := time.Now()
	s.enqMu.Lock()
	last := s.lastEnqWarn[name]
	if !last.IsZero() && now.Sub(last) < enqueueWarnThrottle {
		s.enqMu.Unlock()
		return
	}
	s.lastEnqWarn[name] = now
	s.enqMu.Unlock()

	if tier == string(domain.TierT0) {
		log.Error("deadline evaluation not enqueued", logx.Err(err))
		return
	}
	log.Warn("schedule failed to enqueue task", logx.Err(err))
}
