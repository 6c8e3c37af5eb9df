// Package dispatcher drives worker invocations for pending frontier entries
// under a concurrency cap and a global throttle.
package dispatcher

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

// Config controls dispatch behavior.
type Config struct {
	MaxConcurrency   int
	RetryAttempts    int
	Timeout          time.Duration
	ProgressInterval time.Duration
	Request          crawler.WorkerConfig
}

// Throttle spaces dispatches.
type Throttle interface {
	Wait(ctx context.Context) (time.Duration, error)
}

// SuccessHandler consumes successful invocations. An error is a state-store
// failure and stops the run.
type SuccessHandler interface {
	Accept(ctx context.Context, record crawler.TaskRecord, success crawler.WorkerSuccess) error
}

// Dispatcher runs the control loop. Every status change happens on the
// goroutine that called Run.
type Dispatcher struct {
	frontier *frontier.Frontier
	invoker  crawler.Invoker
	handler  SuccessHandler
	throttle Throttle
	metrics  *metrics.Metrics
	logger   *zap.Logger
	cfg      Config
}

type outcome struct {
	record  crawler.TaskRecord
	success crawler.WorkerSuccess
	err     error
	took    time.Duration
}

// New creates a Dispatcher. throttle and m may be nil.
func New(
	f *frontier.Frontier,
	invoker crawler.Invoker,
	handler SuccessHandler,
	throttle Throttle,
	m *metrics.Metrics,
	cfg Config,
	logger *zap.Logger,
) (*Dispatcher, error) {
	if f == nil || invoker == nil || handler == nil {
		return nil, errors.New("frontier, invoker and handler are required")
	}
	if cfg.MaxConcurrency < 1 {
		return nil, fmt.Errorf("max concurrency must be >= 1, got %d", cfg.MaxConcurrency)
	}
	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("timeout must be positive, got %s", cfg.Timeout)
	}
	if cfg.RetryAttempts < 0 {
		cfg.RetryAttempts = 0
	}
	if cfg.Request.TimeoutSeconds == 0 {
		cfg.Request.TimeoutSeconds = int(cfg.Timeout / time.Second)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		frontier: f,
		invoker:  invoker,
		handler:  handler,
		throttle: throttle,
		metrics:  m,
		logger:   logger,
		cfg:      cfg,
	}, nil
}

// Run dispatches until the frontier is empty and nothing is outstanding.
// Cancelling ctx stops new dispatches; outstanding invocations are awaited
// (each bounded by the timeout) and settled, the frontier is flushed, and the
// context error is returned. A state-store failure is handled the same way and
// returned instead.
func (d *Dispatcher) Run(ctx context.Context) error {
	persistCtx := context.WithoutCancel(ctx)
	results := make(chan outcome, d.cfg.MaxConcurrency)
	inflight := 0
	var fatal error

	var tick <-chan time.Time
	if d.cfg.ProgressInterval > 0 {
		ticker := time.NewTicker(d.cfg.ProgressInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		stopping := fatal != nil || ctx.Err() != nil
		if !stopping {
			if err := d.fill(ctx, persistCtx, results, &inflight); err != nil {
				fatal = err
				stopping = true
			} else {
				stopping = ctx.Err() != nil
			}
		}
		d.metrics.SetFrontierPending(d.frontier.Pending())

		if inflight == 0 && (stopping || d.frontier.IsEmpty()) {
			break
		}

		done := ctx.Done()
		if stopping {
			done = nil
		}
		select {
		case out := <-results:
			inflight--
			if err := d.settle(persistCtx, out); err != nil && fatal == nil {
				d.logger.Error("state store write failed, stopping dispatch", zap.Error(err))
				fatal = err
			}
		case <-done:
			d.logger.Info("stop requested, draining in-flight invocations", zap.Int("in_flight", inflight))
		case <-tick:
			d.logProgress(inflight)
		}
	}

	flushErr := d.frontier.Flush(persistCtx)
	d.logProgress(0)
	switch {
	case fatal != nil:
		return errors.Join(fatal, flushErr)
	case flushErr != nil:
		return flushErr
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		return nil
	}
}

// fill claims one entry per free slot, waiting on the throttle before each.
func (d *Dispatcher) fill(ctx, persistCtx context.Context, results chan<- outcome, inflight *int) error {
	for ctx.Err() == nil && *inflight < d.cfg.MaxConcurrency && !d.frontier.IsEmpty() {
		if d.throttle != nil {
			if _, err := d.throttle.Wait(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("throttle: %w", err)
			}
		}
		claimed, err := d.frontier.DequeueReady(persistCtx, 1)
		if err != nil {
			return err
		}
		if len(claimed) == 0 {
			return nil
		}
		rec := claimed[0]
		*inflight++
		d.metrics.ObserveDispatch()
		d.logger.Debug("dispatching",
			zap.String("url", rec.URL),
			zap.Int("level", rec.Level),
			zap.Int("attempt", rec.AttemptCount),
		)
		go d.invoke(ctx, rec, results)
	}
	return nil
}

// invoke runs one attempt with its own deadline, detached from the stop
// signal. A response arriving after the deadline is discarded.
func (d *Dispatcher) invoke(ctx context.Context, rec crawler.TaskRecord, results chan<- outcome) {
	start := time.Now()
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.cfg.Timeout)
	defer cancel()

	type reply struct {
		success crawler.WorkerSuccess
		err     error
	}
	replies := make(chan reply, 1)
	go func() {
		success, err := d.invoker.Invoke(callCtx, crawler.WorkerRequest{URL: rec.URL, Config: d.cfg.Request})
		replies <- reply{success: success, err: err}
	}()

	out := outcome{record: rec}
	select {
	case r := <-replies:
		out.success, out.err = r.success, r.err
	case <-callCtx.Done():
		out.err = crawler.NewTransientError("invocation timed out", callCtx.Err())
	}
	out.took = time.Since(start)
	results <- out
}

func (d *Dispatcher) settle(ctx context.Context, out outcome) error {
	result := crawler.OutcomeOf(out.err)
	d.metrics.ObserveOutcome(result.String(), out.took)
	if result == crawler.OutcomeSuccess {
		if err := d.handler.Accept(ctx, out.record, out.success); err != nil {
			return fmt.Errorf("accept %s: %w", out.record.URL, err)
		}
		return nil
	}

	next := crawler.NextStatus(out.record.AttemptCount, result, d.cfg.RetryAttempts)
	rec, err := d.frontier.Settle(ctx, out.record.URL, next, out.err.Error())
	if err != nil {
		return err
	}
	fields := []zap.Field{
		zap.String("url", rec.URL),
		zap.Int("attempt", rec.AttemptCount),
		zap.String("kind", result.String()),
		zap.Error(out.err),
	}
	if next == crawler.StatusPending {
		d.logger.Warn("invocation failed, will retry", fields...)
	} else {
		d.logger.Error("invocation failed", fields...)
	}
	return nil
}

func (d *Dispatcher) logProgress(inflight int) {
	stats := d.frontier.Stats()
	d.logger.Info("crawl progress",
		zap.Int("completed", stats.Completed),
		zap.Int("failed", stats.Failed),
		zap.Int("total", stats.Total),
		zap.Int("active", inflight),
		zap.Int("pending", stats.Pending),
	)
}
