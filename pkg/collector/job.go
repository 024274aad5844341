package collector

import (
	"context"

	"github.com/Sternrassler/sonet/pkg/checkpoint"
	"github.com/Sternrassler/sonet/pkg/search"
	"github.com/Sternrassler/sonet/pkg/store"
)

// Job is one query to collect.
type Job struct {
	Query string
	// Max stops collection after that many posts. 0 means unbounded.
	Max int
	// Collection is the target collection for CollectAndStore; empty means the sink's default.
	Collection string
	// Resume reads and writes the job's checkpoint when the collector has a
	// checkpoint store. CollectAndStore always sets it; print-only searches
	// leave it off so they never touch a storing job's position.
	Resume          bool
	ResultType      string
	Language        string
	IncludeEntities bool
}

// NewJob returns a job for query with the default search options.
func NewJob(query string) Job {
	return Job{
		Query:           query,
		ResultType:      search.ResultRecent,
		Language:        "en",
		IncludeEntities: true,
	}
}

func (j Job) withDefaults() Job {
	if j.ResultType == "" {
		j.ResultType = search.ResultRecent
	}
	if j.Language == "" {
		j.Language = "en"
	}
	return j
}

func (j Job) params(pageSize int, cursor int64) search.Params {
	return search.Params{
		Query:           j.Query,
		PageSize:        pageSize,
		ResultType:      j.ResultType,
		IncludeEntities: j.IncludeEntities,
		Language:        j.Language,
		MaxID:           cursor,
	}
}

func (j Job) checkpointKey() checkpoint.Key {
	return checkpoint.Key{
		Query:      j.Query,
		ResultType: j.ResultType,
		Language:   j.Language,
		Collection: j.Collection,
		Max:        j.Max,
	}
}

// Batch is an ordered group of posts, at most one page long.
type Batch []search.Post

// Sink receives batches from CollectAndStore.
type Sink interface {
	InsertMany(ctx context.Context, batch []search.Post, collection string) (store.Result, error)
}

// Report totals one CollectAndStore run.
type Report struct {
	Batches   int
	Collected int
	Inserted  int
	Skipped   int
	Failed    int
	// Restarts counts collect loops restarted after a rate-limit error surfaced.
	Restarts int
}
