package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration: the group lacks a course start date.
	ErrConfiguration = errors.New("group not configured")
	// ErrOutOfRange: the event falls outside the course horizon.
	ErrOutOfRange = errors.New("outside course horizon")
	// ErrDuplicateSuppressed is an idempotency hit, not a failure.
	ErrDuplicateSuppressed = errors.New("duplicate suppressed")
	ErrDispatch            = errors.New("dispatch failed")
	ErrPersistence         = errors.New("persistence failed")

	ErrUnknownGroup  = errors.New("unknown group")
	ErrInvalidJobKey = errors.New("invalid job key")
)

// Ignorable reports errors callers log and drop.
func Ignorable(err error) bool {
	return errors.Is(err, ErrConfiguration) || errors.Is(err, ErrOutOfRange) || errors.Is(err, ErrDuplicateSuppressed)
}

// Persistence wraps a storage failure for op.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrPersistence, err)
}
