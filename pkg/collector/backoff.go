package collector

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Sternrassler/sonet/pkg/ratelimit"
)

// Prometheus metrics for the collect loop.
var (
	rotationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sonet_credential_rotations_total",
		Help: "Total credential rotations after a rate limit",
	})

	backoffsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sonet_backoffs_total",
		Help: "Total backoff sleeps after the whole credential pool was rate limited",
	})

	backoffSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sonet_backoff_seconds",
		Help:    "Backoff sleep duration in seconds",
		Buckets: []float64{1, 10, 60, 300, 600, 960, 1800},
	})

	batchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sonet_batches_total",
		Help: "Total batches emitted by the collector",
	})

	postsCollectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sonet_posts_collected_total",
		Help: "Total posts emitted by the collector",
	})
)

// resetMargin is added to a provider reset time before retrying.
const resetMargin = time.Second

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// sleepContext waits for d with context cancellation support.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// backoffDuration returns how long to sleep once every credential is rate limited.
// With WaitForReset it shortens the fixed backoff to the earliest known window reset.
func (c *Collector) backoffDuration() (time.Duration, string) {
	d := c.config.Backoff
	if !c.config.WaitForReset || c.config.Tracker == nil {
		return d, "fixed"
	}

	at, ok := c.config.Tracker.EarliestReset(c.pool.IDs())
	if !ok {
		return d, "fixed"
	}
	if until := time.Until(at) + resetMargin; until < d {
		return max(until, 0), "window_reset"
	}
	return d, "fixed"
}

// resetIn returns how long credential id stays exhausted, when the tracker
// holds a fresh exhausted state for it.
func (c *Collector) resetIn(id string) (time.Duration, bool) {
	if c.config.Tracker == nil {
		return 0, false
	}
	st, ok := c.config.Tracker.State(id)
	if !ok || st.IsStale(ratelimit.DefaultWindow) || !st.Exhausted() {
		return 0, false
	}
	return st.TimeUntilReset(), true
}

// backoff puts the collector in StateBackoff for the backoff duration.
func (c *Collector) backoff(ctx context.Context, job Job, number int) error {
	d, reason := c.backoffDuration()

	c.state.Store(int32(StateBackoff))
	defer c.state.Store(int32(StateActive))

	backoffsTotal.Inc()
	backoffSeconds.Observe(d.Seconds())

	c.logger.Warn().
		Str("query", job.Query).
		Int("credentials", c.pool.Len()).
		Int("backoff_number", number).
		Dur("backoff", d).
		Str("reason", reason).
		Msg("All credentials rate limited, backing off")

	if err := c.sleep(ctx, d); err != nil {
		c.logger.Warn().
			Err(err).
			Str("query", job.Query).
			Msg("Context cancelled during backoff")
		return err
	}

	c.logger.Info().
		Str("query", job.Query).
		Str("credential", c.pool.Current().ID()).
		Msg("Backoff finished, resuming")
	return nil
}
