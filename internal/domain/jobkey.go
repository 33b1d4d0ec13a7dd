package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// JobKey identifies one recurring trigger, e.g. "morning_t60_-1001234".
type JobKey string

func NewJobKey(groupID int64, p PeriodType, t Tier) JobKey {
	return JobKey(fmt.Sprintf("%s_%s_%d", p, t, groupID))
}

// CompletionKey identifies the one-off course completion trigger.
func CompletionKey(groupID int64) JobKey {
	return JobKey(fmt.Sprintf("%s_%d", TierCompletion, groupID))
}

// ParseJobKey is the inverse of NewJobKey and CompletionKey. Completion keys
// return an empty period.
func ParseJobKey(k JobKey) (groupID int64, p PeriodType, t Tier, err error) {
	parts := strings.Split(string(k), "_")
	switch {
	case len(parts) == 2 && Tier(parts[0]) == TierCompletion:
		t = TierCompletion
	case len(parts) == 3:
		if p, err = ParsePeriodType(parts[0]); err != nil {
			return 0, "", "", fmt.Errorf("%w: %q: %v", ErrInvalidJobKey, k, err)
		}
		if t, err = ParseTier(parts[1]); err != nil {
			return 0, "", "", fmt.Errorf("%w: %q: %v", ErrInvalidJobKey, k, err)
		}
	default:
		return 0, "", "", fmt.Errorf("%w: %q", ErrInvalidJobKey, k)
	}
	groupID, err = strconv.ParseInt(parts[len(parts)-1], 10, 64)
	if err != nil {
		return 0, "", "", fmt.Errorf("%w: %q: %v", ErrInvalidJobKey, k, err)
	}
	return groupID, p, t, nil
}
