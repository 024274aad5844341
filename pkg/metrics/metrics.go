// Package metrics exposes the Prometheus metrics of all sonet packages.
// The metrics themselves are defined next to the code that records them
// (client, ratelimit, collector, store, checkpoint) and registered via promauto.
//
// This package provides the HTTP exposition and documents the available series.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Sternrassler/sonet/pkg/logging"
)

// Registry is the default Prometheus registry used by sonet.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// shutdownTimeout bounds the graceful shutdown of the metrics server.
const shutdownTimeout = 5 * time.Second

// Handler returns a mux serving /metrics and /health.
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", healthHandler)
	return mux
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

// Serve runs the metrics server on addr until ctx is done.
func Serve(ctx context.Context, addr string) error {
	logger := logging.NewLogger("metrics")
	srv := &http.Server{
		Addr:              addr,
		Handler:           Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("Serving metrics")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown metrics server: %w", err)
		}
		return nil
	}
}

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - sonet_search_requests_total{status} (Counter): Search requests by HTTP status
//   - sonet_search_request_duration_seconds (Histogram): Search request duration
//   - sonet_provider_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network, protocol)
//
// Retry Metrics (pkg/client):
//   - sonet_search_retries_total{error_class} (Counter): Retry attempts by error class
//   - sonet_search_retry_backoff_seconds{error_class} (Histogram): Retry backoff duration
//   - sonet_search_retry_exhausted_total{error_class} (Counter): Requests that exhausted max retries
//
// Rate Limit Metrics (pkg/ratelimit):
//   - sonet_rate_limit_remaining{credential} (Gauge): Requests left in the current window
//   - sonet_rate_limit_hits_total{credential} (Counter): Rate-limited responses
//
// Collector Metrics (pkg/collector):
//   - sonet_credential_rotations_total (Counter): Rotations after a rate limit
//   - sonet_backoffs_total (Counter): Sleeps after the whole pool was rate limited
//   - sonet_backoff_seconds (Histogram): Backoff sleep duration
//   - sonet_batches_total (Counter): Batches emitted
//   - sonet_posts_collected_total (Counter): Posts emitted
//
// Storage Metrics (pkg/store, pkg/checkpoint):
//   - sonet_documents_total{outcome} (Counter): Documents inserted, skipped or failed
//   - sonet_checkpoint_operations_total{operation, result} (Counter): Checkpoint reads and writes
//
// Example Prometheus Queries:
//
//   # Duplicate ratio of stored posts
//   rate(sonet_documents_total{outcome="skipped"}[5m]) / rate(sonet_documents_total[5m])
//
//   # Credentials close to their window limit
//   sonet_rate_limit_remaining < 10
//
//   # Time spent backing off per hour
//   increase(sonet_backoff_seconds_sum[1h])
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(sonet_search_request_duration_seconds_bucket[5m]))
