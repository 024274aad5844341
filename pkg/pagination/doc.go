// Package pagination walks cursor-paginated search results as a lazy sequence.
//
// The search provider pages backwards through time: each page names the cursor
// (a max_id) of the page after it, so pages must be fetched strictly in order.
// Walk turns a single-page fetcher into an iter.Seq2 that fetches the next page
// only when the consumer has drained the previous one.
//
// Example usage:
//
//	fetch := pagination.FetcherFunc[search.Post](func(ctx context.Context, cursor int64) ([]search.Post, int64, error) {
//		page, err := provider.SearchPage(ctx, params.WithMaxID(cursor))
//		return page.Posts, page.NextMaxID, err
//	})
//	for post, err := range pagination.Walk(ctx, fetch, 0, pagination.DefaultConfig()) {
//		...
//	}
//
// The walker:
//   - Stops when a page reports no next cursor or comes back empty
//   - Yields a fetch error once and stops
//   - Checks context cancellation before every page
//   - Applies an optional per-page timeout (off by default)
package pagination
