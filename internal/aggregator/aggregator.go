// Package aggregator records successful invocations and expands the frontier
// with the links they discovered.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-orchestrator/internal/crawler"
	"github.com/JakeFAU/crawl-orchestrator/internal/frontier"
	"github.com/JakeFAU/crawl-orchestrator/internal/metrics"
)

// Config controls link expansion and the side channels.
type Config struct {
	RunID            string
	ExtractLinks     bool
	MaxLevels        int
	DebugMode        bool
	DebugMaxSublinks int
	Topic            string
}

// Aggregator implements dispatcher.SuccessHandler.
type Aggregator struct {
	store     crawler.StateStore
	frontier  *frontier.Frontier
	filter    *crawler.LinkFilter
	exporter  crawler.ResultExporter
	publisher crawler.Publisher
	clock     crawler.Clock
	metrics   *metrics.Metrics
	logger    *zap.Logger
	cfg       Config
}

// New builds an Aggregator. exporter, publisher and m may be nil.
func New(
	store crawler.StateStore,
	f *frontier.Frontier,
	filter *crawler.LinkFilter,
	exporter crawler.ResultExporter,
	publisher crawler.Publisher,
	clock crawler.Clock,
	m *metrics.Metrics,
	cfg Config,
	logger *zap.Logger,
) (*Aggregator, error) {
	if store == nil || f == nil || filter == nil || clock == nil {
		return nil, errors.New("store, frontier, filter and clock are required")
	}
	if cfg.MaxLevels < 1 {
		return nil, fmt.Errorf("max levels must be >= 1, got %d", cfg.MaxLevels)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{
		store:     store,
		frontier:  f,
		filter:    filter,
		exporter:  exporter,
		publisher: publisher,
		clock:     clock,
		metrics:   m,
		logger:    logger,
		cfg:       cfg,
	}, nil
}

// Accept persists the result, completes the task and enqueues its children.
// Returned errors come from the state store only.
func (a *Aggregator) Accept(ctx context.Context, record crawler.TaskRecord, success crawler.WorkerSuccess) error {
	result := success.Result(record.URL, record.AttemptCount, a.clock.Now())
	if err := a.store.SaveResult(ctx, result); err != nil {
		return fmt.Errorf("save result: %w", err)
	}
	done, err := a.frontier.Settle(ctx, record.URL, crawler.StatusCompleted, "")
	if err != nil {
		return err
	}

	added := 0
	if a.cfg.ExtractLinks && record.Level < a.cfg.MaxLevels {
		added, err = a.expand(ctx, record, result.ExtractedLinks)
		if err != nil {
			return err
		}
	}
	a.logger.Info("url completed",
		zap.String("url", done.URL),
		zap.Int("level", done.Level),
		zap.Int("attempt", done.AttemptCount),
		zap.Int("links", len(result.ExtractedLinks)),
		zap.Int("enqueued", added),
	)

	a.export(ctx, result)
	a.publish(ctx, done, result)
	return nil
}

func (a *Aggregator) expand(ctx context.Context, record crawler.TaskRecord, links []string) (int, error) {
	if a.cfg.DebugMode && a.cfg.DebugMaxSublinks >= 0 && len(links) > a.cfg.DebugMaxSublinks {
		links = links[:a.cfg.DebugMaxSublinks]
	}
	kept := a.filter.Filter(record.URL, links)
	if len(kept) == 0 {
		return 0, nil
	}
	candidates := make([]frontier.Candidate, 0, len(kept))
	for _, link := range kept {
		candidates = append(candidates, frontier.Candidate{
			URL:       link,
			Level:     record.Level + 1,
			ParentURL: record.URL,
		})
	}
	added, err := a.frontier.EnqueueAll(ctx, candidates)
	a.metrics.ObserveEnqueued(added)
	if err != nil {
		return added, fmt.Errorf("enqueue links of %s: %w", record.URL, err)
	}
	return added, nil
}

func (a *Aggregator) export(ctx context.Context, result crawler.CrawlResult) {
	if a.exporter == nil {
		return
	}
	if err := a.exporter.ExportResult(ctx, result); err != nil {
		a.logger.Warn("export result failed", zap.String("url", result.URL), zap.Error(err))
	}
}

func (a *Aggregator) publish(ctx context.Context, record crawler.TaskRecord, result crawler.CrawlResult) {
	if a.publisher == nil || a.cfg.Topic == "" {
		return
	}
	payload := map[string]any{
		"run_id":            a.cfg.RunID,
		"url":               result.URL,
		"level":             record.Level,
		"parent_url":        record.ParentURL,
		"content_reference": result.ContentReference,
		"content_hash":      result.ContentHash,
		"links":             len(result.ExtractedLinks),
		"attempt_count":     result.AttemptCount,
		"timestamp":         result.CompletedAt.Format(time.RFC3339),
	}
	id, err := a.publisher.Publish(ctx, a.cfg.Topic, payload)
	if err != nil {
		a.logger.Warn("publish completion failed", zap.String("url", result.URL), zap.Error(err))
		return
	}
	a.logger.Debug("completion published", zap.String("url", result.URL), zap.String("message_id", id))
}
