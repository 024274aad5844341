package search

import (
	"context"
	"errors"
	"testing"
)

// pagedProvider serves posts with IDs total..1, pageSize per page, and fails
// with err once failAfter pages have been served (when failAfter > 0).
type pagedProvider struct {
	total     int64
	failAfter int
	err       error
	calls     []Params
	deadlines int
}

func (p *pagedProvider) SearchPage(ctx context.Context, params Params) (Page, error) {
	p.calls = append(p.calls, params)
	if _, ok := ctx.Deadline(); ok {
		p.deadlines++
	}
	if p.failAfter > 0 && len(p.calls) > p.failAfter {
		return Page{}, p.err
	}

	top := p.total
	if params.MaxID > 0 && params.MaxID < top {
		top = params.MaxID
	}

	var page Page
	for id := top; id > 0 && len(page.Posts) < params.PageSize; id-- {
		page.Posts = append(page.Posts, Post{ID: id})
	}
	if n := len(page.Posts); n > 0 && page.Posts[n-1].ID > 1 {
		page.NextMaxID = page.Posts[n-1].ID - 1
	}
	return page, nil
}

func drain(t *testing.T, s *Session, params Params) ([]int64, error) {
	t.Helper()
	var ids []int64
	for post, err := range s.Search(context.Background(), params) {
		if err != nil {
			return ids, err
		}
		ids = append(ids, post.ID)
	}
	return ids, nil
}

func TestSession_SearchFollowsCursor(t *testing.T) {
	p := &pagedProvider{total: 250}
	s := NewSession(p, "cred-1")

	ids, err := drain(t, s, Params{Query: "golang", PageSize: 100})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(ids) != 250 {
		t.Fatalf("Search() yielded %d posts, want 250", len(ids))
	}
	for i, id := range ids {
		if id != int64(250-i) {
			t.Fatalf("post %d has ID %d, want %d", i, id, 250-i)
		}
	}

	wantCursors := []int64{0, 150, 50}
	if len(p.calls) != len(wantCursors) {
		t.Fatalf("provider called %d times, want %d", len(p.calls), len(wantCursors))
	}
	for i, c := range wantCursors {
		if p.calls[i].MaxID != c {
			t.Errorf("call %d MaxID = %d, want %d", i, p.calls[i].MaxID, c)
		}
		if p.calls[i].Query != "golang" {
			t.Errorf("call %d Query = %q", i, p.calls[i].Query)
		}
	}
}

// The provider retries transient failures itself; a page deadline around it
// would cut the retries short.
func TestSession_NoPageDeadline(t *testing.T) {
	p := &pagedProvider{total: 150}
	s := NewSession(p, "cred-1")

	if _, err := drain(t, s, Params{Query: "golang", PageSize: 100}); err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if p.deadlines != 0 {
		t.Errorf("%d of %d page requests carried a deadline, want none", p.deadlines, len(p.calls))
	}
}

func TestSession_SearchStartsAtMaxID(t *testing.T) {
	p := &pagedProvider{total: 250}
	s := NewSession(p, "cred-1")

	ids, err := drain(t, s, Params{Query: "golang", PageSize: 100, MaxID: 120})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(ids) != 120 || ids[0] != 120 {
		t.Errorf("Search() from MaxID 120 yielded %d posts starting at %v", len(ids), ids[:1])
	}
}

func TestSession_PageSizeClamped(t *testing.T) {
	tests := []struct {
		name     string
		pageSize int
		expected int
	}{
		{"zero", 0, MaxPageSize},
		{"too large", 500, MaxPageSize},
		{"explicit", 20, 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &pagedProvider{total: 5}
			if _, err := drain(t, NewSession(p, "c"), Params{PageSize: tt.pageSize}); err != nil {
				t.Fatalf("Search() error = %v", err)
			}
			if got := p.calls[0].PageSize; got != tt.expected {
				t.Errorf("PageSize = %d, want %d", got, tt.expected)
			}
		})
	}
}

func TestSession_RateLimitSurfaces(t *testing.T) {
	limited := &ProviderError{StatusCode: 429, Code: RateLimitCode, Class: ClassRateLimit}
	p := &pagedProvider{total: 1000, failAfter: 2, err: limited}
	s := NewSession(p, "cred-1")

	ids, err := drain(t, s, Params{PageSize: 100})
	if !IsRateLimited(err) {
		t.Fatalf("Search() error = %v, want rate limit", err)
	}
	if len(ids) != 200 {
		t.Errorf("posts before rate limit = %d, want 200", len(ids))
	}
	if len(p.calls) != 3 {
		t.Errorf("provider called %d times, want 3 (no retry)", len(p.calls))
	}
}

func TestSession_ConsumerStops(t *testing.T) {
	p := &pagedProvider{total: 1000}
	s := NewSession(p, "cred-1")

	n := 0
	for _, err := range s.Search(context.Background(), Params{PageSize: 100}) {
		if err != nil {
			t.Fatal(err)
		}
		n++
		if n == 150 {
			break
		}
	}
	if len(p.calls) != 2 {
		t.Errorf("provider called %d times after stopping at 150 posts, want 2", len(p.calls))
	}
}

func TestSession_OtherErrorSurfaces(t *testing.T) {
	boom := &ProviderError{StatusCode: 401, Code: 32, Class: ClassClient, Message: "Could not authenticate you."}
	failing := &pagedProvider{total: 10, failAfter: 1, err: boom}
	_, err := drain(t, NewSession(failing, "c"), Params{PageSize: 5})

	var pe *ProviderError
	if !errors.As(err, &pe) || pe.Class != ClassClient {
		t.Fatalf("Search() error = %v, want client ProviderError", err)
	}
	if IsRateLimited(err) {
		t.Error("client error must not be reported as rate limited")
	}
}
