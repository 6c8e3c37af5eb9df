package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-orchestrator/internal/clock/system"
	"github.com/JakeFAU/crawl-orchestrator/internal/config"
	collyfetcher "github.com/JakeFAU/crawl-orchestrator/internal/fetcher/colly"
	"github.com/JakeFAU/crawl-orchestrator/internal/hash/sha256"
	"github.com/JakeFAU/crawl-orchestrator/internal/metrics"
	"github.com/JakeFAU/crawl-orchestrator/internal/storage"
	"github.com/JakeFAU/crawl-orchestrator/internal/worker"
)

const shutdownGrace = 10 * time.Second

// Worker is the crawl worker process: a colly fetcher behind the HTTP API.
type Worker struct {
	cfg       config.Config
	logger    *zap.Logger
	handler   http.Handler
	blobClose func() error
}

// BuildWorker wires the worker. WithBlobStore, WithClock and WithRegistry
// apply; other options are ignored.
func BuildWorker(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*Worker, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &Worker{cfg: cfg, logger: logger}

	reg := o.registry
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	m := metrics.New(reg)

	clock := o.clock
	if clock == nil {
		clock = system.New()
	}

	blobs := o.blobs
	if blobs == nil {
		var err error
		blobs, w.blobClose, err = storage.NewBlobStore(ctx, storage.Config{
			Backend:   cfg.Storage.Backend,
			LocalDir:  cfg.Storage.LocalDir,
			GCSBucket: cfg.Storage.GCSBucket,
		})
		if err != nil {
			return nil, err
		}
	}

	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.Worker.UserAgent,
		RespectRobots: cfg.Worker.RespectRobots,
		Timeout:       cfg.Worker.FetchTimeout,
		MaxBodyBytes:  cfg.Worker.MaxBodyBytes,
	}, m)
	logger.Info("using colly fetcher",
		zap.String("user_agent", cfg.Worker.UserAgent),
		zap.Bool("respect_robots", cfg.Worker.RespectRobots),
		zap.Duration("fetch_timeout", cfg.Worker.FetchTimeout),
	)

	svc, err := worker.New(fetcher, blobs, sha256.New(), clock, worker.Config{
		Prefix:      cfg.Storage.Prefix,
		ContentType: cfg.Storage.ContentType,
	}, logger.Named("worker"))
	if err != nil {
		w.Close()
		return nil, fmt.Errorf("worker init failed: %w", err)
	}
	w.handler = worker.NewServer(svc, m, reg, logger.Named("http")).Handler()
	return w, nil
}

// Handler returns the worker's HTTP routes.
func (w *Worker) Handler() http.Handler {
	return w.handler
}

// Serve listens on worker.port until ctx is canceled, then shuts down
// gracefully, letting in-flight crawls finish within the grace period.
func (w *Worker) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", w.cfg.Worker.Port),
		Handler:           w.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		w.logger.Info("worker server started", zap.Int("port", w.cfg.Worker.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("worker server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	w.logger.Info("shutdown initiated")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("worker shutdown: %w", err)
	}
	w.logger.Info("shutdown complete")
	return nil
}

// Close releases the blob store client.
func (w *Worker) Close() {
	if w.blobClose == nil {
		return
	}
	if err := w.blobClose(); err != nil {
		w.logger.Warn("blob store close failed", zap.Error(err))
	}
	w.blobClose = nil
}
