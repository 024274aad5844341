package search

import (
	"context"
	"iter"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/sonet/pkg/logging"
	"github.com/Sternrassler/sonet/pkg/pagination"
)

// Session is a provider bound to one credential, paginating one query at a time.
// Rate-limit errors are surfaced to the caller; the session never retries.
type Session struct {
	provider     Provider
	credentialID string
	walk         pagination.Config
	logger       zerolog.Logger
}

// NewSession binds provider to the credential labelled credentialID.
func NewSession(provider Provider, credentialID string) *Session {
	return &Session{
		provider:     provider,
		credentialID: credentialID,
		walk:         pagination.DefaultConfig(),
		logger:       logging.NewLogger("search").With().Str("credential", credentialID).Logger(),
	}
}

// CredentialID returns the label of the bound credential.
func (s *Session) CredentialID() string {
	return s.credentialID
}

// Search returns a lazy sequence of every post matching params, newest first,
// starting at params.MaxID (0 = newest). Pages are requested only as the
// consumer drains them. The first error ends the sequence.
func (s *Session) Search(ctx context.Context, params Params) iter.Seq2[Post, error] {
	if params.PageSize <= 0 || params.PageSize > MaxPageSize {
		params.PageSize = MaxPageSize
	}

	s.logger.Debug().
		Str("query", params.Query).
		Int64("max_id", params.MaxID).
		Msg("Starting search")

	fetch := pagination.FetcherFunc[Post](func(ctx context.Context, cursor int64) ([]Post, int64, error) {
		page, err := s.provider.SearchPage(ctx, params.WithMaxID(cursor))
		if err != nil {
			return nil, 0, err
		}
		return page.Posts, page.NextMaxID, nil
	})

	return pagination.Walk[Post](ctx, fetch, params.MaxID, s.walk)
}
