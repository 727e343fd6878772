// Package ratelimit implements the sliding-window login attempt counter.
// It is a pure function of the stored attempt timestamps, so it is safe to
// evaluate inside a store's atomic update.
package ratelimit

import "time"

const (
	DefaultWindow      = 15 * time.Minute
	DefaultMaxAttempts = 5
)

// Result is the outcome of a limiter check
type Result struct {
	Limited           bool
	RemainingAttempts int
}

// Check counts attempts strictly after now-window and compares them to maxAttempts
func Check(attempts []time.Time, now time.Time, window time.Duration, maxAttempts int) Result {
	count := countSince(attempts, now.Add(-window))

	remaining := maxAttempts - count
	if remaining < 0 {
		remaining = 0
	}

	return Result{
		Limited:           count >= maxAttempts,
		RemainingAttempts: remaining,
	}
}

// Trim drops attempts that can no longer influence Check. Entries are kept in order.
func Trim(attempts []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	filtered := make([]time.Time, 0, len(attempts))
	for _, t := range attempts {
		if t.After(cutoff) {
			filtered = append(filtered, t)
		}
	}
	return filtered
}

// Record appends now to attempts and applies the retention policy
func Record(attempts []time.Time, now time.Time, window time.Duration) []time.Time {
	return append(Trim(attempts, now, window), now)
}

func countSince(attempts []time.Time, cutoff time.Time) int {
	n := 0
	for _, t := range attempts {
		if t.After(cutoff) {
			n++
		}
	}
	return n
}
