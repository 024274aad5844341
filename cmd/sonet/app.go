package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Sternrassler/sonet/pkg/checkpoint"
	"github.com/Sternrassler/sonet/pkg/client"
	"github.com/Sternrassler/sonet/pkg/collector"
	"github.com/Sternrassler/sonet/pkg/config"
	"github.com/Sternrassler/sonet/pkg/credentials"
	"github.com/Sternrassler/sonet/pkg/export"
	"github.com/Sternrassler/sonet/pkg/logging"
	"github.com/Sternrassler/sonet/pkg/metrics"
	"github.com/Sternrassler/sonet/pkg/ratelimit"
	"github.com/Sternrassler/sonet/pkg/search"
	"github.com/Sternrassler/sonet/pkg/store"
)

// BackendOpener connects to the document store.
type BackendOpener func(ctx context.Context, cfg store.DatabaseConfig) (store.Backend, error)

func openMongo(ctx context.Context, cfg store.DatabaseConfig) (store.Backend, error) {
	return store.Open(ctx, cfg)
}

// app holds the flag values and the replaceable dependencies of the commands.
type app struct {
	configPath  string
	authPath    string
	logLevel    string
	logPretty   bool
	metricsAddr string

	stdout      io.Writer
	logOutput   io.Writer
	transport   http.RoundTripper
	openBackend BackendOpener
	sleeper     collector.Sleeper
}

func newApp(stdout io.Writer) *app {
	return &app{
		stdout:      stdout,
		logOutput:   os.Stderr,
		openBackend: openMongo,
	}
}

// env is everything one command invocation needs.
type env struct {
	cfg       *config.Config
	collector *collector.Collector
	stdout    io.Writer
	logger    zerolog.Logger

	openBackend BackendOpener
	backend     store.Backend
	redis       *redis.Client
	stopMetrics context.CancelFunc
}

// setup loads the configuration and builds the collector. Configuration
// errors are returned before any network activity.
func (a *app) setup(cmd *cobra.Command) (*env, error) {
	ctx := cmd.Context()

	cfg, err := config.Load(a.configPath, a.authPath)
	if err != nil {
		return nil, err
	}

	logCfg := cfg.LoggingSettings()
	if a.logLevel != "" {
		if err := logging.ValidateLevel(a.logLevel); err != nil {
			return nil, fmt.Errorf("%w: --log-level: %w", config.ErrInvalid, err)
		}
		logCfg.Level = logging.LogLevel(strings.ToLower(a.logLevel))
	}
	if cmd.Flags().Changed("log-pretty") {
		logCfg.Pretty = a.logPretty
	}
	logCfg.Output = a.logOutput
	logging.Setup(logCfg)
	logger := logging.NewLogger("sonet")

	pool, err := credentials.NewPool(cfg.Auth)
	if err != nil {
		return nil, err
	}

	tracker := ratelimit.NewTracker(logging.NewLogger("ratelimit"))

	base := client.DefaultConfig(credentials.Credential{})
	base.Transport = a.transport
	base.Tracker = tracker

	ccfg := cfg.CollectorSettings()
	ccfg.Tracker = tracker

	e := &env{
		cfg:         cfg,
		stdout:      a.stdout,
		logger:      logger,
		openBackend: a.openBackend,
	}

	if ccfg.Resume {
		cp, err := e.checkpoints(ctx)
		if err != nil {
			return nil, err
		}
		ccfg.Checkpoints = cp
	}

	c, err := collector.New(pool, client.NewOpener(base), ccfg)
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("%w: %w", config.ErrInvalid, err)
	}
	if a.sleeper != nil {
		c.SetSleeper(a.sleeper)
	}
	e.collector = c

	if a.metricsAddr != "" {
		mctx, cancel := context.WithCancel(ctx)
		e.stopMetrics = cancel
		go func() {
			if err := metrics.Serve(mctx, a.metricsAddr); err != nil {
				logger.Error().Err(err).Str("addr", a.metricsAddr).Msg("Metrics server failed")
			}
		}()
	}

	logger.Debug().
		Int("credentials", pool.Len()).
		Bool("resume", ccfg.Resume).
		Dur("backoff", ccfg.Backoff).
		Msg("Collector ready")

	return e, nil
}

// checkpoints returns the Redis store when an address is configured and a
// process-local memory store otherwise.
func (e *env) checkpoints(ctx context.Context) (checkpoint.Store, error) {
	cc := e.cfg.Checkpoint
	if cc.Address == "" {
		e.logger.Info().Msg("No checkpoint address configured, checkpoints are kept in memory")
		return checkpoint.NewMemoryStore(cc.TTL), nil
	}

	rdb := redis.NewClient(&redis.Options{Addr: cc.Address, DB: cc.DB})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connect to checkpoint store %s: %w", cc.Address, err)
	}
	e.redis = rdb
	e.logger.Info().Str("address", cc.Address).Msg("Connected to checkpoint store")
	return checkpoint.NewRedisStore(rdb, cc.TTL), nil
}

// documents opens the document store on first use.
func (e *env) documents(ctx context.Context) (store.Backend, error) {
	if e.backend != nil {
		return e.backend, nil
	}
	b, err := e.openBackend(ctx, e.cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open document store: %w", err)
	}
	e.backend = b
	return b, nil
}

// Close releases every connection opened by the command.
func (e *env) Close() {
	if e.stopMetrics != nil {
		e.stopMetrics()
	}
	if e.backend != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.backend.Close(ctx); err != nil {
			e.logger.Warn().Err(err).Msg("Failed to close document store")
		}
	}
	if e.redis != nil {
		if err := e.redis.Close(); err != nil {
			e.logger.Warn().Err(err).Msg("Failed to close checkpoint store")
		}
	}
}

// runSearch prints up to n posts for query.
func (e *env) runSearch(ctx context.Context, query string, n int) error {
	job := collector.NewJob(query)
	job.Max = n

	var posts []search.Post
	for batch, err := range e.collector.Collect(ctx, job) {
		if err != nil {
			return fmt.Errorf("search %q: %w", query, err)
		}
		posts = append(posts, batch...)
	}

	e.logger.Info().Str("query", query).Int("posts", len(posts)).Msg("Search complete")
	return export.PrintPosts(e.stdout, posts)
}

// runInsert collects up to n posts (0 = all) for query into collection.
func (e *env) runInsert(ctx context.Context, query string, n int, collection string) error {
	backend, err := e.documents(ctx)
	if err != nil {
		return err
	}

	sink := store.NewSink(backend, e.cfg.Database.Collection)
	target := collection
	if target == "" {
		target = sink.DefaultCollection()
	}

	// The resolved name keys the checkpoint, so -c with the default
	// collection resumes the same run as no -c.
	job := collector.NewJob(query)
	job.Max = n
	job.Collection = target

	report, err := e.collector.CollectAndStore(ctx, job, sink)
	if err != nil {
		return fmt.Errorf("insert %q: %w", query, err)
	}

	fmt.Fprintf(e.stdout, "%s: %d inserted, %d skipped, %d failed into %s\n",
		query, report.Inserted, report.Skipped, report.Failed, target)
	return nil
}

// runExport writes up to num stored posts of collection to path.
func (e *env) runExport(ctx context.Context, path string, num int, collection string) error {
	backend, err := e.documents(ctx)
	if err != nil {
		return err
	}
	if collection == "" {
		collection = e.cfg.Database.Collection
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	rows, err := export.WriteCSV(ctx, backend.Documents(ctx, collection, num), f, num)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("export %s: %w", collection, err)
	}

	e.logger.Info().
		Str("collection", collection).
		Str("file", path).
		Int("rows", rows).
		Msg("Export complete")
	return nil
}

// readQueries returns the non-blank lines of path, trimmed.
func readQueries(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open query file: %w", err)
	}
	defer f.Close()

	var queries []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if q := strings.TrimSpace(scanner.Text()); q != "" {
			queries = append(queries, q)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read query file: %w", err)
	}
	return queries, nil
}
