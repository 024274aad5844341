package pagination

import (
	"context"
	"iter"
	"time"

	"github.com/rs/zerolog/log"
)

// Config holds walker configuration
type Config struct {
	// Timeout per page fetch. Zero disables the per-page deadline.
	// A fetcher that retries must get a deadline above its whole retry budget.
	Timeout time.Duration
}

// DefaultConfig returns the default walker configuration: no per-page
// deadline, the fetcher bounds its own requests.
func DefaultConfig() Config {
	return Config{}
}

// PageFetcher fetches one page starting at cursor.
// It returns the page items and the cursor of the next page; a next cursor of 0
// means there are no more pages.
type PageFetcher[T any] interface {
	FetchPage(ctx context.Context, cursor int64) (items []T, next int64, err error)
}

// FetcherFunc adapts a plain function to PageFetcher.
type FetcherFunc[T any] func(ctx context.Context, cursor int64) ([]T, int64, error)

// FetchPage calls f.
func (f FetcherFunc[T]) FetchPage(ctx context.Context, cursor int64) ([]T, int64, error) {
	return f(ctx, cursor)
}

// Walk returns a lazy sequence over every item of every page, starting at cursor start.
//
// Pages are fetched one at a time and only when the consumer asks for the next
// item. A fetch error is yielded once as (zero, err) and ends the sequence.
// Breaking out of the range loop stops fetching immediately.
func Walk[T any](ctx context.Context, fetcher PageFetcher[T], start int64, cfg Config) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T
		began := time.Now()
		cursor := start
		pages, items := 0, 0

		defer func() {
			log.Debug().
				Int("pages", pages).
				Int("items", items).
				Dur("duration", time.Since(began)).
				Msg("Walk finished")
		}()

		for {
			if err := ctx.Err(); err != nil {
				yield(zero, err)
				return
			}

			pageCtx, cancel := ctx, context.CancelFunc(func() {})
			if cfg.Timeout > 0 {
				pageCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
			}
			batch, next, err := fetcher.FetchPage(pageCtx, cursor)
			cancel()

			if err != nil {
				log.Debug().
					Err(err).
					Int64("cursor", cursor).
					Int("page", pages+1).
					Msg("Page fetch failed")
				yield(zero, err)
				return
			}
			pages++

			for _, item := range batch {
				items++
				if !yield(item, nil) {
					return
				}
			}

			if next == 0 || len(batch) == 0 {
				return
			}

			// Progress logging every 50 pages
			if pages%50 == 0 {
				log.Info().
					Int("pages", pages).
					Int("items", items).
					Msg("Walk progress")
			}
			cursor = next
		}
	}
}
