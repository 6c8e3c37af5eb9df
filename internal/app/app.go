// Package app builds the orchestrator and the crawl worker from configuration
// and owns the lifecycle of the clients they share.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-orchestrator/internal/aggregator"
	"github.com/JakeFAU/crawl-orchestrator/internal/clock/system"
	"github.com/JakeFAU/crawl-orchestrator/internal/config"
	"github.com/JakeFAU/crawl-orchestrator/internal/crawler"
	"github.com/JakeFAU/crawl-orchestrator/internal/dispatcher"
	"github.com/JakeFAU/crawl-orchestrator/internal/frontier"
	"github.com/JakeFAU/crawl-orchestrator/internal/id/uuid"
	"github.com/JakeFAU/crawl-orchestrator/internal/invoker/httpinvoker"
	"github.com/JakeFAU/crawl-orchestrator/internal/metrics"
	"github.com/JakeFAU/crawl-orchestrator/internal/orchestrator"
	"github.com/JakeFAU/crawl-orchestrator/internal/policy/ratelimit"
	gcppublisher "github.com/JakeFAU/crawl-orchestrator/internal/publisher/pubsub"
	"github.com/JakeFAU/crawl-orchestrator/internal/report"
	"github.com/JakeFAU/crawl-orchestrator/internal/resume"
	"github.com/JakeFAU/crawl-orchestrator/internal/storage"
	filestate "github.com/JakeFAU/crawl-orchestrator/internal/storage/file"
	memorystate "github.com/JakeFAU/crawl-orchestrator/internal/storage/memory"
	pgstore "github.com/JakeFAU/crawl-orchestrator/internal/storage/postgres"
)

// Option customizes Build.
type Option func(*options)

type options struct {
	invoker  crawler.Invoker
	store    crawler.StateStore
	blobs    crawler.BlobStore
	clock    crawler.Clock
	registry *prometheus.Registry
}

// WithInvoker replaces the HTTP worker client.
func WithInvoker(inv crawler.Invoker) Option {
	return func(o *options) { o.invoker = inv }
}

// WithStateStore replaces the configured state backend.
func WithStateStore(store crawler.StateStore) Option {
	return func(o *options) { o.store = store }
}

// WithBlobStore replaces the configured blob backend.
func WithBlobStore(blobs crawler.BlobStore) Option {
	return func(o *options) { o.blobs = blobs }
}

// WithClock replaces the system clock.
func WithClock(clock crawler.Clock) Option {
	return func(o *options) { o.clock = clock }
}

// WithRegistry registers metrics on reg instead of a fresh registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *options) { o.registry = reg }
}

// App is a fully wired orchestrator session.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	runID    string
	clock    crawler.Clock
	registry *prometheus.Registry

	store        crawler.StateStore
	blobs        crawler.BlobStore
	orchestrator *orchestrator.Orchestrator
	reports      *report.Writer

	pool         *pgxpool.Pool
	pubsubClient *pubsub.Client
	publisher    *gcppublisher.Publisher
	blobClose    func() error
}

// Result is what a finished session reports back to the CLI.
type Result struct {
	Outcome orchestrator.Outcome
	Summary report.Summary
	Written report.Written
}

// Build wires every component of the orchestrator. Optional integrations
// (Postgres export, Pub/Sub notifications) are skipped when unconfigured.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	a := &App{cfg: cfg, logger: logger, clock: o.clock, registry: o.registry}
	if a.clock == nil {
		a.clock = system.New()
	}
	if a.registry == nil {
		a.registry = prometheus.NewRegistry()
		a.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	m := metrics.New(a.registry)

	runID, err := uuid.New().NewID()
	if err != nil {
		return nil, err
	}
	a.runID = runID
	logger = logger.With(zap.String("run_id", runID))
	a.logger = logger

	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	if err := a.setupState(o.store); err != nil {
		return nil, err
	}
	if err := a.setupBlobs(ctx, o.blobs); err != nil {
		return nil, err
	}
	exporter, recorder, err := a.setupDatabase(ctx)
	if err != nil {
		return nil, err
	}
	publisher, err := a.setupPublisher(ctx)
	if err != nil {
		return nil, err
	}

	filter := crawler.NewLinkFilter(crawler.LinkFilterOptions{
		KeepQuery:         cfg.Crawler.KeepQuery,
		SameSiteOnly:      cfg.Crawler.SameSiteOnly,
		AllowedDomains:    cfg.Crawler.AllowedDomains,
		BlockedExtensions: cfg.Crawler.BlockedExtensions,
	})

	front, err := frontier.New(a.store, a.clock, frontier.Limits{
		MaxLevels:    cfg.Crawler.MaxLevels,
		DebugMode:    cfg.Debug.Enabled,
		DebugMaxURLs: cfg.Debug.MaxURLs,
	}, logger.Named("frontier"))
	if err != nil {
		return nil, fmt.Errorf("frontier init failed: %w", err)
	}

	agg, err := aggregator.New(a.store, front, filter, exporter, publisher, a.clock, m, aggregator.Config{
		RunID:            runID,
		ExtractLinks:     cfg.Crawler.ExtractLinks,
		MaxLevels:        cfg.Crawler.MaxLevels,
		DebugMode:        cfg.Debug.Enabled,
		DebugMaxSublinks: cfg.Debug.MaxSublinks,
		Topic:            cfg.PubSub.TopicName,
	}, logger.Named("aggregator"))
	if err != nil {
		return nil, fmt.Errorf("aggregator init failed: %w", err)
	}

	inv := o.invoker
	if inv == nil {
		inv, err = httpinvoker.New(httpinvoker.Config{
			Endpoint:  cfg.Worker.Endpoint,
			UserAgent: cfg.Worker.UserAgent,
		}, logger.Named("invoker"))
		if err != nil {
			return nil, fmt.Errorf("invoker init failed: %w", err)
		}
		logger.Info("using http worker", zap.String("endpoint", cfg.Worker.Endpoint))
	}

	request := crawler.WorkerConfig{
		ExtractLinks:   cfg.Crawler.ExtractLinks,
		MaxLinks:       cfg.Crawler.MaxLinks,
		AnalyzeContent: cfg.Crawler.AnalyzeContent,
		TimeoutSeconds: cfg.Crawler.InvocationTimeoutSeconds(),
	}
	if cfg.Debug.Enabled {
		request.MaxLinks = cfg.Debug.MaxSublinks
	}

	throttle := ratelimit.New(ratelimit.Config{
		Delay:   cfg.Crawler.RateLimitDelay,
		OnDelay: m.ObserveThrottleDelay,
	})
	disp, err := dispatcher.New(front, inv, agg, throttle, m, dispatcher.Config{
		MaxConcurrency:   cfg.Crawler.MaxConcurrency,
		RetryAttempts:    cfg.Crawler.RetryAttempts,
		Timeout:          cfg.Crawler.Timeout,
		ProgressInterval: cfg.Crawler.ProgressInterval,
		Request:          request,
	}, logger.Named("dispatcher"))
	if err != nil {
		return nil, fmt.Errorf("dispatcher init failed: %w", err)
	}

	resumer, err := resume.New(a.store, front, logger.Named("resume"))
	if err != nil {
		return nil, fmt.Errorf("resume init failed: %w", err)
	}

	a.orchestrator, err = orchestrator.New(runID, orchestrator.Deps{
		Store:    a.store,
		Frontier: front,
		Resumer:  resumer,
		Runner:   disp,
		Filter:   filter,
		Recorder: recorder,
		Clock:    a.clock,
	}, logger.Named("orchestrator"))
	if err != nil {
		return nil, fmt.Errorf("orchestrator init failed: %w", err)
	}

	a.reports, err = report.NewWriter(a.blobs, cfg.Report.Prefix)
	if err != nil {
		return nil, fmt.Errorf("report writer init failed: %w", err)
	}

	logger.Info("orchestrator ready",
		zap.Int("max_levels", cfg.Crawler.MaxLevels),
		zap.Int("max_concurrency", cfg.Crawler.MaxConcurrency),
		zap.Int("retry_attempts", cfg.Crawler.RetryAttempts),
		zap.Duration("timeout", cfg.Crawler.Timeout),
		zap.Duration("rate_limit_delay", cfg.Crawler.RateLimitDelay),
		zap.Bool("debug", cfg.Debug.Enabled),
	)
	ok = true
	return a, nil
}

// RunID identifies this session.
func (a *App) RunID() string {
	return a.runID
}

// Registry exposes the metrics registry.
func (a *App) Registry() *prometheus.Registry {
	return a.registry
}

// Crawl runs the session to completion or until ctx is canceled, then writes
// the report. A report failure is logged, not returned: the crawl state is
// already durable.
func (a *App) Crawl(ctx context.Context, seeds []string) (Result, error) {
	stopMetrics := a.serveMetrics()
	defer stopMetrics()

	var res Result
	outcome, runErr := a.orchestrator.Run(ctx, seeds)
	res.Outcome = outcome
	if runErr != nil && outcome.Records == nil {
		return res, runErr
	}

	reportCtx := context.WithoutCancel(ctx)
	snap, err := a.store.Load(reportCtx)
	if err != nil {
		if runErr != nil {
			return res, runErr
		}
		return res, fmt.Errorf("load state for report: %w", err)
	}
	res.Summary = report.Build(a.runID, a.clock.Now(), snap.Statuses, snap.Results)
	res.Summary.Status = outcome.Status

	res.Written, err = a.reports.Write(reportCtx, res.Summary, snap.Statuses, snap.Results)
	if err != nil {
		a.logger.Warn("write report failed", zap.Error(err))
	} else {
		a.logger.Info("report written",
			zap.String("summary", res.Written.SummaryURI),
			zap.String("status", res.Written.StatusURI),
		)
	}
	return res, runErr
}

// serveMetrics exposes the registry on metrics.port for the session.
func (a *App) serveMetrics() func() {
	if a.cfg.Metrics.Port <= 0 {
		return func() {}
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Metrics.Port),
		Handler:           metrics.Handler(a.registry),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.logger.Info("metrics server started", zap.Int("port", a.cfg.Metrics.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server error", zap.Error(err))
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			a.logger.Warn("metrics server shutdown failed", zap.Error(err))
		}
	}
}

// Close releases stores and clients. It is safe to call more than once.
func (a *App) Close() {
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("pubsub publisher close failed", zap.Error(err))
		}
		a.publisher = nil
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
		a.pubsubClient = nil
	}
	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
	}
	if a.blobClose != nil {
		if err := a.blobClose(); err != nil {
			a.logger.Warn("blob store close failed", zap.Error(err))
		}
		a.blobClose = nil
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("state store close failed", zap.Error(err))
		}
		a.store = nil
	}
}

func (a *App) setupState(override crawler.StateStore) error {
	if override != nil {
		a.store = override
		return nil
	}
	store, err := OpenState(a.cfg.State, a.logger)
	if err != nil {
		return err
	}
	a.store = store
	return nil
}

// OpenState opens the configured state backend.
func OpenState(cfg config.StateConfig, logger *zap.Logger) (crawler.StateStore, error) {
	switch cfg.Backend {
	case config.StateBackendMemory:
		logger.Warn("using in-memory state; the run cannot be resumed")
		return memorystate.NewStateStore(), nil
	case config.StateBackendFile, "":
		store, err := filestate.New(cfg.Dir, logger.Named("state"))
		if err != nil {
			return nil, fmt.Errorf("state store init failed: %w", err)
		}
		logger.Info("using file state store", zap.String("dir", cfg.Dir))
		return store, nil
	default:
		return nil, fmt.Errorf("unknown state backend %q", cfg.Backend)
	}
}

func (a *App) setupBlobs(ctx context.Context, override crawler.BlobStore) error {
	if override != nil {
		a.blobs = override
		return nil
	}
	blobs, closeFn, err := storage.NewBlobStore(ctx, storage.Config{
		Backend:   a.cfg.Storage.Backend,
		LocalDir:  a.cfg.Storage.LocalDir,
		GCSBucket: a.cfg.Storage.GCSBucket,
	})
	if err != nil {
		return err
	}
	a.blobs = blobs
	a.blobClose = closeFn
	a.logger.Info("blob store ready", zap.String("backend", a.cfg.Storage.Backend))
	return nil
}

func (a *App) setupDatabase(ctx context.Context) (crawler.ResultExporter, orchestrator.RunRecorder, error) {
	if a.cfg.DB.DSN == "" {
		a.logger.Info("no db.dsn configured, skipping result export")
		return nil, nil, nil
	}
	pool, err := pgstore.Connect(ctx, pgstore.Config{DSN: a.cfg.DB.DSN, MaxConns: a.cfg.DB.MaxConns})
	if err != nil {
		return nil, nil, fmt.Errorf("postgres init failed: %w", err)
	}
	a.pool = pool

	results, err := pgstore.NewResultStore(pool, a.cfg.DB.Table, a.runID)
	if err != nil {
		return nil, nil, fmt.Errorf("result store init failed: %w", err)
	}
	runs, err := pgstore.NewRunStore(pool, a.cfg.DB.RunsTable)
	if err != nil {
		return nil, nil, fmt.Errorf("run store init failed: %w", err)
	}
	a.logger.Info("postgres export enabled",
		zap.String("table", a.cfg.DB.Table),
		zap.String("runs_table", a.cfg.DB.RunsTable),
	)
	return results, runs, nil
}

func (a *App) setupPublisher(ctx context.Context) (crawler.Publisher, error) {
	if a.cfg.PubSub.ProjectID == "" || a.cfg.PubSub.TopicName == "" {
		a.logger.Info("no Pub/Sub topic configured, skipping notifications")
		return nil, nil
	}
	client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.pubsubClient = client
	a.publisher, err = gcppublisher.New(client)
	if err != nil {
		return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return a.publisher, nil
}
