package mail

import (
	"errors"
	"time"
)

// RetrySchedule holds the delays, in seconds, applied before each attempt.
// Index i is used once i attempts have been made; indexes past the end reuse
// the last entry.
type RetrySchedule []int

// DefaultRetrySchedule sends immediately, then after one and two minutes.
var DefaultRetrySchedule = RetrySchedule{0, 60, 120}

// Validate checks that the schedule is non-empty, non-negative and starts
// with an immediate attempt.
func (s RetrySchedule) Validate() error {
	if len(s) == 0 {
		return errors.New("retry schedule must not be empty")
	}
	for _, d := range s {
		if d < 0 {
			return errors.New("retry schedule must contain non-negative delays")
		}
	}
	if s[0] != 0 {
		return errors.New("retry schedule must start with 0")
	}
	return nil
}

// Delay returns the wait applied after attemptCount attempts.
func (s RetrySchedule) Delay(attemptCount int) time.Duration {
	if len(s) == 0 {
		return 0
	}
	idx := min(max(attemptCount, 0), len(s)-1)
	return time.Duration(s[idx]) * time.Second
}

// NextAttempt returns when the next attempt is due after attemptCount attempts.
func (s RetrySchedule) NextAttempt(now time.Time, attemptCount int) time.Time {
	return now.Add(s.Delay(attemptCount))
}
