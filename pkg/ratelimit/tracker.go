package ratelimit

import (
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var (
	rateLimitRemaining = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sonet_rate_limit_remaining",
		Help: "Requests remaining in the current provider rate-limit window by credential",
	}, []string{"credential"})

	rateLimitHitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sonet_rate_limit_hits_total",
		Help: "Total rate-limited provider responses by credential",
	}, []string{"credential"})
)

// Tracker records the rate-limit window of every credential it has seen.
// It is shared by the per-credential provider clients and is safe for concurrent use.
type Tracker struct {
	mu     sync.Mutex
	states map[string]State
	logger zerolog.Logger
	now    func() time.Time
}

// NewTracker creates an empty tracker.
func NewTracker(logger zerolog.Logger) *Tracker {
	return &Tracker{
		states: make(map[string]State),
		logger: logger,
		now:    time.Now,
	}
}

// UpdateFromHeaders refreshes the state of credential id from a provider response.
// Responses without rate-limit headers leave the state untouched.
func (t *Tracker) UpdateFromHeaders(id string, headers http.Header) error {
	remainStr := headers.Get(HeaderRemaining)
	if remainStr == "" {
		return nil
	}

	remain, err := strconv.Atoi(remainStr)
	if err != nil {
		return fmt.Errorf("parse %s header: %w", HeaderRemaining, err)
	}

	limit := 0
	if limitStr := headers.Get(HeaderLimit); limitStr != "" {
		if limit, err = strconv.Atoi(limitStr); err != nil {
			return fmt.Errorf("parse %s header: %w", HeaderLimit, err)
		}
	}

	now := t.now()
	state := State{
		Limit:      limit,
		Remaining:  remain,
		ResetAt:    parseReset(headers.Get(HeaderReset), now),
		LastUpdate: now,
	}

	t.mu.Lock()
	t.states[id] = state
	t.mu.Unlock()

	rateLimitRemaining.WithLabelValues(id).Set(float64(remain))

	t.logger.Debug().
		Str("credential", id).
		Int("remaining", remain).
		Time("reset_at", state.ResetAt).
		Msg("Rate limit window updated")

	return nil
}

// MarkLimited records that credential id was just rate-limited.
// The reset time comes from the headers when present.
func (t *Tracker) MarkLimited(id string, headers http.Header) State {
	now := t.now()
	state := State{
		Remaining:  0,
		ResetAt:    parseReset(headers.Get(HeaderReset), now),
		LastUpdate: now,
	}

	t.mu.Lock()
	if prev, ok := t.states[id]; ok {
		state.Limit = prev.Limit
	}
	t.states[id] = state
	t.mu.Unlock()

	rateLimitRemaining.WithLabelValues(id).Set(0)
	rateLimitHitsTotal.WithLabelValues(id).Inc()

	t.logger.Warn().
		Str("credential", id).
		Time("reset_at", state.ResetAt).
		Msg("Credential rate limited")

	return state
}

// State returns the last known state of credential id.
func (t *Tracker) State(id string) (State, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.states[id]
	return s, ok
}

// EarliestReset returns the soonest reset time among the given credentials
// that are currently exhausted. ok is false when none of them is known to be
// exhausted.
func (t *Tracker) EarliestReset(ids []string) (at time.Time, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	for _, id := range ids {
		s, known := t.states[id]
		if !known || s.Remaining > 0 || !now.Before(s.ResetAt) {
			continue
		}
		if !ok || s.ResetAt.Before(at) {
			at, ok = s.ResetAt, true
		}
	}
	return at, ok
}
