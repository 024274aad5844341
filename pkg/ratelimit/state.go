// Package ratelimit tracks the search provider's per-credential rate-limit
// windows. It reads the x-rate-limit-limit, x-rate-limit-remaining and
// x-rate-limit-reset response headers so the collector can tell when an
// exhausted credential becomes usable again.
package ratelimit

import (
	"strconv"
	"time"
)

// Response headers carrying the rate-limit window.
const (
	HeaderLimit     = "X-Rate-Limit-Limit"
	HeaderRemaining = "X-Rate-Limit-Remaining"
	HeaderReset     = "X-Rate-Limit-Reset"
)

// DefaultWindow is assumed when a rate-limited response carries no usable reset header.
const DefaultWindow = 15 * time.Minute

// State is the rate-limit window of one credential.
type State struct {
	// Limit is the number of requests allowed per window.
	Limit int `json:"limit"`

	// Remaining is the number of requests left in the current window.
	Remaining int `json:"remaining"`

	// ResetAt is when the current window ends.
	ResetAt time.Time `json:"reset_at"`

	// LastUpdate is when this state was last refreshed from a response.
	LastUpdate time.Time `json:"last_update"`
}

// IsStale returns true if the state is older than maxAge.
func (s *State) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}

// Exhausted returns true while no requests remain and the window has not reset.
func (s *State) Exhausted() bool {
	return s.Remaining <= 0 && time.Now().Before(s.ResetAt)
}

// TimeUntilReset returns the duration until the window resets.
// Returns 0 if the reset time has already passed.
func (s *State) TimeUntilReset() time.Duration {
	d := time.Until(s.ResetAt)
	if d < 0 {
		return 0
	}
	return d
}

// parseReset parses the unix-seconds reset header.
// Falls back to now + DefaultWindow if missing or invalid.
func parseReset(v string, now time.Time) time.Time {
	if ts, err := strconv.ParseInt(v, 10, 64); err == nil && ts > 0 {
		return time.Unix(ts, 0)
	}
	return now.Add(DefaultWindow)
}
