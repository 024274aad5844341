// Package search defines the provider-neutral search model (posts, pages,
// query parameters) and the rate-limited search session the collector drives.
package search

import (
	"context"

	"github.com/Sternrassler/sonet/pkg/credentials"
)

// MaxPageSize is the largest page the provider serves.
const MaxPageSize = 100

// Result types accepted by the provider.
const (
	ResultRecent  = "recent"
	ResultPopular = "popular"
	ResultMixed   = "mixed"
)

// Post is one search result as returned by the provider.
type Post struct {
	// ID is the provider-assigned identifier, stored as the document _id.
	ID int64
	// Attributes holds the provider's post object as decoded from the response.
	Attributes map[string]any
}

// Params describes one search query.
type Params struct {
	Query           string
	PageSize        int
	ResultType      string
	IncludeEntities bool
	Language        string
	// MaxID is the pagination cursor: only posts with ID <= MaxID are returned.
	// Zero starts from the newest posts.
	MaxID int64
}

// WithMaxID returns a copy of p positioned at cursor.
func (p Params) WithMaxID(cursor int64) Params {
	p.MaxID = cursor
	return p
}

// Page is one page of results.
type Page struct {
	Posts []Post
	// NextMaxID is the cursor of the following page, 0 when exhausted.
	NextMaxID int64
}

// Provider executes single-page searches with one credential.
type Provider interface {
	SearchPage(ctx context.Context, params Params) (Page, error)
}

// Opener builds a Provider bound to a credential.
type Opener func(cred credentials.Credential) (Provider, error)
