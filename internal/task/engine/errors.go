package engine

import (
	"errors"
	"fmt"
	"time"

	"checkinbot/internal/domain"
)

var (
	ErrDisabled    = errors.New("task engine disabled")
	ErrStopped     = errors.New("task engine stopped")
	ErrStopping    = errors.New("task engine stopping")
	ErrQueueFull   = errors.New("task engine queue full")
	ErrOverlapSkip = errors.New("task skipped: already running")
)

// NoRetry marks err as permanent so the worker stops retrying it.
func NoRetry(err error) error {
	if err == nil {
		return nil
	}
	return noRetryError{err: err}
}

func IsNoRetry(err error) bool {
	var e noRetryError
	return errors.As(err, &e)
}

type noRetryError struct{ err error }

func (e noRetryError) Error() string { return fmt.Sprintf("no-retry: %v", e.err) }
func (e noRetryError) Unwrap() error { return e.err }

// RetryAfter attaches a delay hint to err. The worker waits at least that
// long, capped by RetryMaxDelay, before the next attempt.
func RetryAfter(err error, after time.Duration) error {
	if err == nil {
		return nil
	}
	return retryAfterError{err: err, after: max(after, 0)}
}

// RetryAfterError is implemented by any error carrying a wait hint, such as
// the Telegram adapter's flood-wait error.
type RetryAfterError interface {
	error
	RetryAfter() time.Duration
}

type retryAfterError struct {
	err   error
	after time.Duration
}

func (e retryAfterError) Error() string             { return fmt.Sprintf("retry-after(%s): %v", e.after, e.err) }
func (e retryAfterError) Unwrap() error             { return e.err }
func (e retryAfterError) RetryAfter() time.Duration { return e.after }

// RetryHint returns the wait hint carried anywhere in err's chain.
func RetryHint(err error) (time.Duration, bool) {
	var ra RetryAfterError
	if errors.As(err, &ra) {
		return ra.RetryAfter(), true
	}
	return 0, false
}

// Classify maps a firing error onto retry behaviour. Dispatch failures and
// unknown groups cannot succeed on a later attempt; everything else keeps
// its hint, if any, and is retried.
func Classify(err error) error {
	switch {
	case err == nil:
		return nil
	case IsNoRetry(err):
		return err
	case errors.Is(err, domain.ErrDispatch), errors.Is(err, domain.ErrUnknownGroup):
		return NoRetry(err)
	}
	return err
}
