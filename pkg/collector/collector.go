// Package collector drives paginated searches across a credential pool.
//
// Collect pulls posts page by page, emits them in page-sized batches and,
// when the provider rate-limits the current credential, rotates to the next
// one and restarts the query. When a full revolution of the pool yields
// nothing but rate limits, the collector sleeps (16 minutes by default)
// before starting over. CollectAndStore feeds every batch into a Sink.
package collector

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/sonet/pkg/checkpoint"
	"github.com/Sternrassler/sonet/pkg/credentials"
	"github.com/Sternrassler/sonet/pkg/logging"
	"github.com/Sternrassler/sonet/pkg/ratelimit"
	"github.com/Sternrassler/sonet/pkg/search"
)

// ErrBackoffExhausted is returned once Config.MaxBackoffs backoffs did not help.
var ErrBackoffExhausted = errors.New("backoff limit reached")

// State of the collect loop.
type State int32

const (
	// StateActive means a credential is being queried.
	StateActive State = iota
	// StateBackoff means every credential is rate limited and the collector is sleeping.
	StateBackoff
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateBackoff:
		return "backoff"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Config holds collector configuration.
type Config struct {
	// PageSize bounds batches and provider pages (max 100).
	PageSize int

	// Backoff is the sleep after a full revolution of rate-limited credentials.
	Backoff time.Duration

	// MaxBackoffs bounds the backoffs of one Collect call. 0 means unbounded.
	MaxBackoffs int

	// WaitForReset shortens Backoff to the earliest provider window reset
	// known to Tracker.
	WaitForReset bool
	Tracker      *ratelimit.Tracker

	// Resume continues an interrupted job that opted in (Job.Resume) from its
	// checkpoint instead of from the newest post. Requires Checkpoints.
	Resume      bool
	Checkpoints checkpoint.Store
}

// DefaultConfig returns the default collector configuration.
func DefaultConfig() Config {
	return Config{
		PageSize: search.MaxPageSize,
		Backoff:  16 * time.Minute,
	}
}

// Collector owns a credential pool and runs one Collect at a time.
type Collector struct {
	pool   *credentials.Pool
	open   search.Opener
	config Config
	state  atomic.Int32
	sleep  Sleeper
	logger zerolog.Logger
}

// New creates a collector rotating through pool and opening providers with open.
func New(pool *credentials.Pool, open search.Opener, cfg Config) (*Collector, error) {
	if pool == nil || pool.Len() == 0 {
		return nil, credentials.ErrEmptyPool
	}
	if open == nil {
		return nil, fmt.Errorf("opener is required")
	}
	if cfg.PageSize <= 0 || cfg.PageSize > search.MaxPageSize {
		return nil, fmt.Errorf("page_size must be in 1..%d (got %d)", search.MaxPageSize, cfg.PageSize)
	}
	if cfg.Backoff < 0 {
		return nil, fmt.Errorf("backoff must be >= 0 (got %s)", cfg.Backoff)
	}
	if cfg.Resume && cfg.Checkpoints == nil {
		return nil, fmt.Errorf("resume requires a checkpoint store")
	}

	return &Collector{
		pool:   pool,
		open:   open,
		config: cfg,
		sleep:  sleepContext,
		logger: logging.NewLogger("collector"),
	}, nil
}

// SetSleeper replaces the backoff sleep (for testing).
func (c *Collector) SetSleeper(s Sleeper) {
	c.sleep = s
}

// State returns the current state of the collect loop.
func (c *Collector) State() State {
	return State(c.state.Load())
}

type outcome int

const (
	outcomeDone outcome = iota
	outcomeStopped
	outcomeRateLimited
)

// Collect returns a lazy sequence of batches for job.
//
// Batches hold at most PageSize posts. The sequence ends after the batch that
// reaches job.Max, after the last page, or with an error. Rate limits are
// absorbed by rotation and backoff; any other error is yielded once and ends
// the sequence. Batches already yielded are never retracted.
func (c *Collector) Collect(ctx context.Context, job Job) iter.Seq2[Batch, error] {
	return func(yield func(Batch, error) bool) {
		job = job.withDefaults()
		key := job.checkpointKey()
		logger := c.logger.With().Str("query", job.Query).Logger()

		misses, backoffs := 0, 0
		for {
			cursor, collected := c.loadCheckpoint(ctx, job, key, logger)
			if job.Max > 0 && collected >= job.Max {
				// Only this job writes under key, so it already finished.
				c.clearCheckpoint(ctx, job, key, logger)
				return
			}

			cred := c.pool.Current()
			provider, err := c.open(cred)
			if err != nil {
				yield(nil, fmt.Errorf("open session for %s: %w", cred, err))
				return
			}
			session := search.NewSession(provider, cred.ID())

			logger.Info().
				Str("credential", cred.ID()).
				Int64("max_id", cursor).
				Int("collected", collected).
				Msg("Collecting")

			res, progressed, lastErr := c.attempt(ctx, session, job, cursor, collected, key, yield)
			switch res {
			case outcomeDone:
				c.clearCheckpoint(ctx, job, key, logger)
				return
			case outcomeStopped:
				return
			}

			next := c.pool.Advance()
			rotationsTotal.Inc()
			if progressed {
				misses = 0
			} else {
				misses++
			}

			event := logger.Warn().
				Err(lastErr).
				Str("credential", cred.ID()).
				Str("next_credential", next.ID()).
				Bool("progressed", progressed).
				Int("misses", misses)
			if reset, ok := c.resetIn(cred.ID()); ok {
				event = event.Dur("reset_in", reset)
			}
			event.Msg("Rate limited, rotating credential")

			if misses < c.pool.Len() {
				continue
			}

			backoffs++
			if c.config.MaxBackoffs > 0 && backoffs > c.config.MaxBackoffs {
				yield(nil, fmt.Errorf("%w after %d backoffs: %w", ErrBackoffExhausted, c.config.MaxBackoffs, lastErr))
				return
			}
			if err := c.backoff(ctx, job, backoffs); err != nil {
				yield(nil, err)
				return
			}
			misses = 0
		}
	}
}

// attempt runs one session from cursor until it is done, stopped or rate limited.
// progressed reports whether any post arrived.
func (c *Collector) attempt(ctx context.Context, session *search.Session, job Job, cursor int64, collected int,
	key checkpoint.Key, yield func(Batch, error) bool) (res outcome, progressed bool, lastErr error) {

	pageSize := c.config.PageSize
	batch := make(Batch, 0, pageSize)
	var lowest int64

	flush := func() bool {
		out := batch
		batch = make(Batch, 0, pageSize)

		batchesTotal.Inc()
		postsCollectedTotal.Add(float64(len(out)))
		if !yield(out, nil) {
			return false
		}
		if c.resumes(job) && lowest > 1 {
			c.saveCheckpoint(ctx, key, checkpoint.Entry{MaxID: lowest - 1, Collected: collected})
		}
		return true
	}

	for post, err := range session.Search(ctx, job.params(pageSize, cursor)) {
		if err != nil {
			if search.IsRateLimited(err) {
				return outcomeRateLimited, progressed, err
			}
			yield(nil, err)
			return outcomeStopped, progressed, err
		}

		progressed = true
		batch = append(batch, post)
		collected++
		if lowest == 0 || post.ID < lowest {
			lowest = post.ID
		}

		if job.Max > 0 && collected >= job.Max {
			if !flush() {
				return outcomeStopped, progressed, nil
			}
			return outcomeDone, progressed, nil
		}
		if len(batch) >= pageSize && !flush() {
			return outcomeStopped, progressed, nil
		}
	}

	if len(batch) > 0 && !flush() {
		return outcomeStopped, progressed, nil
	}
	return outcomeDone, progressed, nil
}

// CollectAndStore stores every batch of job through sink before pulling the
// next one. A nil error means the query completed. The job resumes from its
// checkpoint when the collector has a checkpoint store.
func (c *Collector) CollectAndStore(ctx context.Context, job Job, sink Sink) (Report, error) {
	job.Resume = true
	var report Report
	for {
		err := c.store(ctx, job, sink, &report)
		if err == nil {
			c.logger.Info().
				Str("query", job.Query).
				Int("batches", report.Batches).
				Int("inserted", report.Inserted).
				Int("skipped", report.Skipped).
				Int("failed", report.Failed).
				Msg("Collection complete")
			return report, nil
		}
		if search.IsRateLimited(err) && !errors.Is(err, ErrBackoffExhausted) {
			report.Restarts++
			c.logger.Warn().Err(err).Str("query", job.Query).Msg("Rate limit surfaced, restarting collection")
			continue
		}
		return report, err
	}
}

func (c *Collector) store(ctx context.Context, job Job, sink Sink, report *Report) error {
	for batch, err := range c.Collect(ctx, job) {
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			continue
		}

		result, err := sink.InsertMany(ctx, batch, job.Collection)
		if err != nil {
			return fmt.Errorf("store batch: %w", err)
		}
		report.Batches++
		report.Collected += len(batch)
		report.Inserted += len(result.Inserted)
		report.Skipped += result.Skipped
		report.Failed += result.Failed
	}
	return nil
}

// resumes reports whether job uses its checkpoint.
func (c *Collector) resumes(job Job) bool {
	return c.config.Resume && job.Resume
}

func (c *Collector) loadCheckpoint(ctx context.Context, job Job, key checkpoint.Key, logger zerolog.Logger) (int64, int) {
	if !c.resumes(job) {
		return 0, 0
	}
	entry, err := c.config.Checkpoints.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, checkpoint.ErrNotFound) {
			logger.Warn().Err(err).Msg("Checkpoint unreadable, starting from the newest post")
		}
		return 0, 0
	}
	logger.Debug().
		Int64("max_id", entry.MaxID).
		Int("collected", entry.Collected).
		Msg("Resuming from checkpoint")
	return entry.MaxID, entry.Collected
}

func (c *Collector) saveCheckpoint(ctx context.Context, key checkpoint.Key, entry checkpoint.Entry) {
	if err := c.config.Checkpoints.Set(ctx, key, entry); err != nil {
		c.logger.Warn().Err(err).Str("query", key.Query).Msg("Failed to save checkpoint")
	}
}

func (c *Collector) clearCheckpoint(ctx context.Context, job Job, key checkpoint.Key, logger zerolog.Logger) {
	if !c.resumes(job) {
		return
	}
	if err := c.config.Checkpoints.Delete(ctx, key); err != nil {
		logger.Warn().Err(err).Msg("Failed to delete checkpoint")
	}
}
