// Package client provides the Twitter standard-search provider: OAuth1 signed
// requests through go-twitter, rate-limit header tracking, transient-error
// retries and error classification.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/dghubble/go-twitter/twitter"
	"github.com/dghubble/oauth1"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/Sternrassler/sonet/pkg/credentials"
	"github.com/Sternrassler/sonet/pkg/logging"
	"github.com/Sternrassler/sonet/pkg/ratelimit"
	"github.com/Sternrassler/sonet/pkg/search"
)

// Prometheus metrics for search requests.
var (
	searchRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sonet_search_requests_total",
		Help: "Total search requests by HTTP status",
	}, []string{"status"})

	searchRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sonet_search_request_duration_seconds",
		Help:    "Search request duration in seconds",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	})

	providerErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sonet_provider_errors_total",
		Help: "Total search provider errors by class",
	}, []string{"class"})
)

// Client searches with a single credential.
type Client struct {
	httpClient *http.Client
	tracker    *ratelimit.Tracker
	credential string
	config     Config
	logger     zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// Credential signs every request (REQUIRED).
	Credential credentials.Credential

	// Transport carries the signed requests. Nil means http.DefaultTransport.
	Transport http.RoundTripper

	// Timeout bounds a single HTTP request.
	Timeout time.Duration

	// Tracker receives the rate-limit headers of every response. Optional.
	Tracker *ratelimit.Tracker

	// Retry applies to server and network errors only.
	Retry RetryConfig
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(cred credentials.Credential) Config {
	return Config{
		Credential: cred,
		Timeout:    30 * time.Second,
		Retry:      DefaultRetryConfig(),
	}
}

// New creates a client for cfg.Credential.
func New(cfg Config) (*Client, error) {
	if err := cfg.Credential.Validate(); err != nil {
		return nil, fmt.Errorf("credential: %w", err)
	}
	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("timeout must be > 0 (got %s)", cfg.Timeout)
	}

	base := cfg.Transport
	if base == nil {
		base = http.DefaultTransport
	}

	// oauth1 builds its transport on top of the client found in the context.
	ctx := context.WithValue(context.Background(), oauth1.HTTPClient, &http.Client{Transport: base})
	oauthConfig := oauth1.NewConfig(cfg.Credential.ConsumerKey, cfg.Credential.ConsumerSecret)
	token := oauth1.NewToken(cfg.Credential.AccessToken, cfg.Credential.AccessTokenSecret)
	httpClient := oauthConfig.Client(ctx, token)
	httpClient.Timeout = cfg.Timeout

	id := cfg.Credential.ID()
	return &Client{
		httpClient: httpClient,
		tracker:    cfg.Tracker,
		credential: id,
		config:     cfg,
		logger:     logging.NewLogger("twitter-client").With().Str("credential", id).Logger(),
	}, nil
}

// NewOpener returns a search.Opener building a Client per credential from base.
func NewOpener(base Config) search.Opener {
	return func(cred credentials.Credential) (search.Provider, error) {
		cfg := base
		cfg.Credential = cred
		return New(cfg)
	}
}

// CredentialID returns the masked ID of the client's credential.
func (c *Client) CredentialID() string {
	return c.credential
}

// SearchPage fetches one page of results for params.
// Server and network errors are retried; rate-limit errors are returned at once.
func (c *Client) SearchPage(ctx context.Context, params search.Params) (search.Page, error) {
	var page search.Page
	err := retryWithBackoff(ctx, c.config.Retry, func() error {
		var err error
		page, err = c.searchOnce(ctx, params)
		return err
	})
	return page, err
}

func (c *Client) searchOnce(ctx context.Context, params search.Params) (search.Page, error) {
	if err := ctx.Err(); err != nil {
		return search.Page{}, err
	}

	// go-twitter takes no context; bind it to this call's transport instead.
	transport := &instrumentedTransport{ctx: ctx, base: c.httpClient.Transport}
	tw := twitter.NewClient(&http.Client{
		Transport: transport,
		Timeout:   c.httpClient.Timeout,
	})

	c.logger.Debug().
		Str("query", params.Query).
		Int64("max_id", params.MaxID).
		Int("count", params.PageSize).
		Msg("Executing search request")

	result, resp, err := tw.Search.Tweets(&twitter.SearchTweetParams{
		Query:           params.Query,
		Count:           params.PageSize,
		ResultType:      params.ResultType,
		Lang:            params.Language,
		MaxID:           params.MaxID,
		IncludeEntities: twitter.Bool(params.IncludeEntities),
	})

	if resp != nil && c.tracker != nil {
		if uerr := c.tracker.UpdateFromHeaders(c.credential, resp.Header); uerr != nil {
			c.logger.Warn().Err(uerr).Msg("Failed to update rate limit from headers")
		}
	}

	if cerr := classifyResponse(ctx, resp, err); cerr != nil {
		class := errorClass(cerr)
		if class != "" {
			providerErrorsTotal.WithLabelValues(string(class)).Inc()
		}
		if class == search.ClassRateLimit && c.tracker != nil {
			c.tracker.MarkLimited(c.credential, resp.Header)
		}
		c.logger.Warn().
			Err(cerr).
			Str("query", params.Query).
			Str("error_class", string(class)).
			Msg("Search request error")
		return search.Page{}, cerr
	}

	page, err := toPage(result, transport.body)
	if err != nil {
		providerErrorsTotal.WithLabelValues(string(search.ClassProtocol)).Inc()
	}
	return page, err
}

// rawSearch holds the status objects of a search response exactly as sent.
type rawSearch struct {
	Statuses []json.RawMessage `json:"statuses"`
}

// toPage converts a decoded search response into a provider-neutral page.
// IDs and paging come from the decoded response; attributes come from the raw
// status objects in body so fields go-twitter does not model are kept.
// The next cursor is one below the lowest ID on the page.
func toPage(result *twitter.Search, body []byte) (search.Page, error) {
	if result == nil {
		return search.Page{}, nil
	}

	var raw rawSearch
	if len(body) > 0 {
		if err := json.Unmarshal(body, &raw); err != nil {
			return search.Page{}, protocolError(fmt.Sprintf("decode statuses: %v", err), err)
		}
	}
	if len(raw.Statuses) != len(result.Statuses) {
		return search.Page{}, protocolError(
			fmt.Sprintf("response holds %d raw statuses for %d decoded", len(raw.Statuses), len(result.Statuses)), nil)
	}

	page := search.Page{Posts: make([]search.Post, 0, len(result.Statuses))}
	var minID int64
	for i := range result.Statuses {
		id := result.Statuses[i].ID
		attrs, err := attributes(raw.Statuses[i])
		if err != nil {
			return search.Page{}, protocolError(fmt.Sprintf("convert post %d: %v", id, err), err)
		}
		page.Posts = append(page.Posts, search.Post{ID: id, Attributes: attrs})
		if minID == 0 || id < minID {
			minID = id
		}
	}

	if len(page.Posts) > 0 && minID > 1 && result.Metadata != nil && result.Metadata.NextResults != "" {
		page.NextMaxID = minID - 1
	}
	return page, nil
}

func protocolError(msg string, err error) *search.ProviderError {
	return &search.ProviderError{
		StatusCode: http.StatusOK,
		Class:      search.ClassProtocol,
		Message:    msg,
		Err:        err,
	}
}

// attributes decodes one raw status object as a generic document. Decoding
// goes through BSON extended JSON so integer fields stay integers when stored.
func attributes(raw json.RawMessage) (map[string]any, error) {
	var attrs map[string]any
	if err := bson.UnmarshalExtJSON(raw, false, &attrs); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return attrs, nil
}

// instrumentedTransport binds a call's context to its requests, records
// request metrics and keeps the response body for raw decoding.
// One transport serves one call.
type instrumentedTransport struct {
	ctx  context.Context
	base http.RoundTripper
	body []byte
}

// RoundTrip implements http.RoundTripper.
func (t *instrumentedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// Cancel on either the call's context or the request's own, which carries
	// the http.Client timeout of this attempt.
	ctx, cancel := context.WithCancel(req.Context())
	stop := context.AfterFunc(t.ctx, cancel)
	defer func() {
		stop()
		cancel()
	}()

	start := time.Now()
	resp, err := t.base.RoundTrip(req.WithContext(ctx))
	if err == nil {
		err = t.buffer(resp)
	}
	searchRequestDuration.Observe(time.Since(start).Seconds())

	status := "network_error"
	if err == nil {
		status = strconv.Itoa(resp.StatusCode)
	}
	searchRequestsTotal.WithLabelValues(status).Inc()
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// buffer reads the whole body before the request context is released.
func (t *instrumentedTransport) buffer(resp *http.Response) error {
	data, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	t.body = data
	resp.Body = io.NopCloser(bytes.NewReader(data))
	return nil
}
