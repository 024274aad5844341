// Package testutil provides testing utilities for the sonet collector.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// SearchPath is the path go-twitter requests for standard search.
const SearchPath = "/1.1/search/tweets.json"

// MockTwitter is a configurable mock of the standard search endpoint.
//
// It serves a fixed corpus of posts with IDs total..1, honours count and
// max_id, and can rate-limit individual consumer keys.
type MockTwitter struct {
	server   *httptest.Server
	mu       sync.Mutex
	total    int64
	handlers map[string]http.HandlerFunc

	// limitAfter maps consumer key to the number of successful requests it
	// is granted before every further request is rejected with 429.
	limitAfter map[string]int
	served     map[string]int

	// Tracking
	RequestCount int
	LimitedCount int
	LastQuery    url.Values
}

// NewMockTwitter creates a mock serving total posts.
func NewMockTwitter(total int64) *MockTwitter {
	mock := &MockTwitter{
		total:      total,
		handlers:   make(map[string]http.HandlerFunc),
		limitAfter: make(map[string]int),
		served:     make(map[string]int),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.RequestCount++
		mock.LastQuery = r.URL.Query()
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.Unlock()

		if exists {
			handler(w, r)
			return
		}
		if r.URL.Path != SearchPath {
			http.NotFound(w, r)
			return
		}
		mock.searchHandler(w, r)
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockTwitter) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockTwitter) Close() {
	m.server.Close()
}

// Transport returns a round tripper that sends every request to the mock,
// whatever host the request names.
func (m *MockTwitter) Transport() http.RoundTripper {
	target, _ := url.Parse(m.server.URL)
	return &RedirectTransport{Target: target}
}

// SetHandler overrides the handler for a path.
func (m *MockTwitter) SetHandler(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse makes every search request answer with a fixed status and body.
func (m *MockTwitter) SetResponse(status int, body string) {
	m.SetHandler(SearchPath, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(status)
		if body != "" {
			w.Write([]byte(body))
		}
	})
}

// LimitAfter rate-limits consumerKey once it has been served n pages.
// n = 0 rejects every request made with that key.
func (m *MockTwitter) LimitAfter(consumerKey string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limitAfter[consumerKey] = n
	m.served[consumerKey] = 0
}

// Unlimit lifts the rate limit of consumerKey.
func (m *MockTwitter) Unlimit(consumerKey string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.limitAfter, consumerKey)
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockTwitter) GetRequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.RequestCount
}

// GetLimitedCount returns the number of rate-limited responses.
func (m *MockTwitter) GetLimitedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.LimitedCount
}

// Served returns the number of pages served to consumerKey.
func (m *MockTwitter) Served(consumerKey string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.served[consumerKey]
}

func (m *MockTwitter) searchHandler(w http.ResponseWriter, r *http.Request) {
	key := ConsumerKey(r)
	reset := strconv.FormatInt(time.Now().Add(15*time.Minute).Unix(), 10)

	m.mu.Lock()
	limit, limited := m.limitAfter[key]
	if limited && m.served[key] >= limit {
		m.LimitedCount++
		m.mu.Unlock()

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Header().Set("X-Rate-Limit-Limit", "180")
		w.Header().Set("X-Rate-Limit-Remaining", "0")
		w.Header().Set("X-Rate-Limit-Reset", reset)
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(RateLimitBody))
		return
	}
	m.served[key]++
	remaining := 180 - m.served[key]
	m.mu.Unlock()

	q := r.URL.Query()
	count := 15
	if c, err := strconv.Atoi(q.Get("count")); err == nil && c > 0 {
		count = min(c, 100)
	}
	top := m.total
	if maxID, err := strconv.ParseInt(q.Get("max_id"), 10, 64); err == nil && maxID > 0 && maxID < top {
		top = maxID
	}

	statuses := make([]map[string]any, 0, count)
	for id := top; id > 0 && len(statuses) < count; id-- {
		statuses = append(statuses, Post(id))
	}

	metadata := map[string]any{
		"count": count,
		"query": q.Get("q"),
	}
	if n := len(statuses); n > 0 {
		if last := top - int64(n); last > 0 {
			metadata["next_results"] = fmt.Sprintf("?max_id=%d&q=%s&count=%d", last, url.QueryEscape(q.Get("q")), count)
		}
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Rate-Limit-Limit", "180")
	w.Header().Set("X-Rate-Limit-Remaining", strconv.Itoa(max(remaining, 0)))
	w.Header().Set("X-Rate-Limit-Reset", reset)
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]any{
		"statuses":        statuses,
		"search_metadata": metadata,
	})
}

// RateLimitBody is the provider's rate-limit error document.
const RateLimitBody = `{"errors":[{"message":"Rate limit exceeded","code":88}]}`

// Post returns the mock status object for id.
func Post(id int64) map[string]any {
	return map[string]any{
		"id":         id,
		"id_str":     strconv.FormatInt(id, 10),
		"created_at": time.Unix(1_600_000_000+id*60, 0).UTC().Format(time.RubyDate),
		"text":       fmt.Sprintf("post number %d", id),
		"lang":       "en",
		"user": map[string]any{
			"id":          1000 + id%7,
			"screen_name": fmt.Sprintf("user%d", id%7),
			"location":    "Berlin",
		},
	}
}

// ConsumerKey extracts oauth_consumer_key from an OAuth1 Authorization header.
func ConsumerKey(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const field = `oauth_consumer_key="`
	i := strings.Index(auth, field)
	if i < 0 {
		return ""
	}
	rest := auth[i+len(field):]
	j := strings.IndexByte(rest, '"')
	if j < 0 {
		return ""
	}
	key, err := url.QueryUnescape(rest[:j])
	if err != nil {
		return rest[:j]
	}
	return key
}

// RedirectTransport rewrites every request to Target's scheme and host.
type RedirectTransport struct {
	Target *url.URL
	Base   http.RoundTripper
}

// RoundTrip implements http.RoundTripper.
func (t *RedirectTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	out := req.Clone(req.Context())
	out.URL.Scheme = t.Target.Scheme
	out.URL.Host = t.Target.Host
	out.Host = t.Target.Host

	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(out)
}
