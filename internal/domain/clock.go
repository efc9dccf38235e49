package domain

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// clock is a package-level time source so tests can freeze time via SetClock.
var clock = clockwork.NewRealClock()

// SetClock swaps the time source for load stamps and recency checks. Pass nil
// to reset to real time.
func SetClock(c clockwork.Clock) {
	if c == nil {
		clock = clockwork.NewRealClock()
		return
	}
	clock = c
}

// Now returns the current time of the package clock in UTC.
func Now() time.Time {
	return clock.Now().UTC()
}

// IsRecentEnough reports whether loadedAt lies within window of now. A zero
// loadedAt is never recent.
func IsRecentEnough(loadedAt time.Time, window time.Duration) bool {
	if loadedAt.IsZero() || window <= 0 {
		return false
	}
	age := clock.Since(loadedAt)
	return age >= 0 && age < window
}
