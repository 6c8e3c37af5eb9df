// Package orchestrator runs one crawl session end to end: resume, seed,
// dispatch, and record the outcome.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-orchestrator/internal/crawler"
	"github.com/JakeFAU/crawl-orchestrator/internal/frontier"
	"github.com/JakeFAU/crawl-orchestrator/internal/resume"
	"github.com/JakeFAU/crawl-orchestrator/internal/storage/postgres"
)

// Runner drives dispatch until the frontier drains or ctx is cancelled.
type Runner interface {
	Run(ctx context.Context) error
}

// RunRecorder mirrors run lifecycle into an external system. Failures are
// logged and never stop the crawl.
type RunRecorder interface {
	StartRun(ctx context.Context, runID string, startedAt time.Time) error
	FinishRun(ctx context.Context, runID string, finishedAt time.Time, status string, stats crawler.SessionStats, errMsg *string) error
}

// Deps are the collaborators of an Orchestrator. Recorder may be nil.
type Deps struct {
	Store    crawler.StateStore
	Frontier *frontier.Frontier
	Resumer  *resume.Controller
	Runner   Runner
	Filter   *crawler.LinkFilter
	Recorder RunRecorder
	Clock    crawler.Clock
}

// Outcome summarizes a finished session.
type Outcome struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	Status     string
	Resume     resume.Summary
	Seeded     int
	Rejected   []string
	Stats      crawler.SessionStats
	Records    map[string]crawler.TaskRecord
}

// Stopped reports whether the session ended on a stop signal.
func (o Outcome) Stopped() bool {
	return o.Status == postgres.RunStopped
}

// Orchestrator owns the session lifecycle.
type Orchestrator struct {
	deps   Deps
	runID  string
	logger *zap.Logger
}

// New validates deps and returns an Orchestrator for runID.
func New(runID string, deps Deps, logger *zap.Logger) (*Orchestrator, error) {
	if deps.Store == nil || deps.Frontier == nil || deps.Resumer == nil || deps.Runner == nil {
		return nil, errors.New("store, frontier, resumer and runner are required")
	}
	if deps.Filter == nil || deps.Clock == nil {
		return nil, errors.New("filter and clock are required")
	}
	if runID == "" {
		return nil, errors.New("run id is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{deps: deps, runID: runID, logger: logger}, nil
}

// Run executes the session. A stop signal is not an error: the outcome is
// returned with status "stopped". Errors are state-store failures.
func (o *Orchestrator) Run(ctx context.Context, seeds []string) (Outcome, error) {
	out := Outcome{RunID: o.runID, StartedAt: o.deps.Clock.Now()}
	logger := o.logger.With(zap.String("run_id", o.runID))

	summary, err := o.deps.Resumer.Resume(ctx)
	if err != nil {
		return out, err
	}
	out.Resume = summary

	if compactor, ok := o.deps.Store.(crawler.Compactor); ok {
		if err := compactor.Compact(ctx); err != nil {
			return out, fmt.Errorf("compact state: %w", err)
		}
	}

	out.Seeded, out.Rejected, err = o.seed(ctx, seeds)
	if err != nil {
		return out, err
	}
	logger.Info("crawl starting",
		zap.Int("seeds", len(seeds)),
		zap.Int("seeded", out.Seeded),
		zap.Int("rejected", len(out.Rejected)),
		zap.Int("pending", o.deps.Frontier.Pending()),
		zap.Bool("resumed", !summary.Fresh()),
	)
	o.startRun(ctx, out.StartedAt, logger)

	runErr := o.deps.Runner.Run(ctx)

	out.FinishedAt = o.deps.Clock.Now()
	out.Records = o.deps.Frontier.Records()
	out.Stats = crawler.StatsOf(out.Records)
	switch {
	case runErr == nil:
		out.Status = postgres.RunFinished
	case errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded):
		if ctx.Err() != nil {
			out.Status = postgres.RunStopped
			runErr = nil
		} else {
			out.Status = postgres.RunAborted
		}
	default:
		out.Status = postgres.RunAborted
	}
	o.finishRun(ctx, out, runErr, logger)

	logger.Info("crawl finished",
		zap.String("status", out.Status),
		zap.Int("completed", out.Stats.Completed),
		zap.Int("failed", out.Stats.Failed),
		zap.Int("pending", out.Stats.Pending),
		zap.Duration("elapsed", out.FinishedAt.Sub(out.StartedAt)),
	)
	if runErr != nil {
		return out, fmt.Errorf("dispatch: %w", runErr)
	}
	return out, nil
}

func (o *Orchestrator) seed(ctx context.Context, seeds []string) (int, []string, error) {
	var rejected []string
	candidates := make([]frontier.Candidate, 0, len(seeds))
	for _, raw := range seeds {
		normalized, err := o.deps.Filter.Normalize(raw)
		if err != nil {
			o.logger.Warn("skipping seed", zap.String("url", raw), zap.Error(err))
			rejected = append(rejected, raw)
			continue
		}
		candidates = append(candidates, frontier.Candidate{URL: normalized, Level: 1})
	}
	added, err := o.deps.Frontier.EnqueueAll(ctx, candidates)
	if err != nil {
		return added, rejected, fmt.Errorf("enqueue seeds: %w", err)
	}
	return added, rejected, nil
}

func (o *Orchestrator) startRun(ctx context.Context, startedAt time.Time, logger *zap.Logger) {
	if o.deps.Recorder == nil {
		return
	}
	if err := o.deps.Recorder.StartRun(ctx, o.runID, startedAt); err != nil {
		logger.Warn("record run start failed", zap.Error(err))
	}
}

func (o *Orchestrator) finishRun(ctx context.Context, out Outcome, runErr error, logger *zap.Logger) {
	if o.deps.Recorder == nil {
		return
	}
	var msg *string
	if runErr != nil {
		text := runErr.Error()
		msg = &text
	}
	err := o.deps.Recorder.FinishRun(context.WithoutCancel(ctx), o.runID, out.FinishedAt, out.Status, out.Stats, msg)
	if err != nil {
		logger.Warn("record run finish failed", zap.Error(err))
	}
}
