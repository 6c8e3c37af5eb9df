package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/crawl-orchestrator/internal/crawler"
)

// ErrRunNotFound is returned by GetRun for unknown IDs.
var ErrRunNotFound = errors.New("run not found")

// Run status values.
const (
	RunRunning  = "running"
	RunFinished = "finished"
	RunStopped  = "stopped"
	RunAborted  = "aborted"
)

// Run is one orchestrator execution as recorded in the runs table.
type Run struct {
	ID           string
	StartedAt    time.Time
	FinishedAt   *time.Time
	Status       string
	Stats        crawler.SessionStats
	ErrorMessage *string
}

// RunStore records orchestrator runs. It does not own the pool.
type RunStore struct {
	db    DB
	table string
}

// NewRunStore wraps an open pool. table defaults to crawl_runs.
func NewRunStore(db DB, table string) (*RunStore, error) {
	if db == nil {
		return nil, errors.New("pool is required")
	}
	table, err := checkTable(table, "crawl_runs")
	if err != nil {
		return nil, err
	}
	return &RunStore{db: db, table: table}, nil
}

// StartRun inserts a running row, or resets one left by an earlier attempt.
func (s *RunStore) StartRun(ctx context.Context, runID string, startedAt time.Time) error {
	query := fmt.Sprintf(`
INSERT INTO %s (id, started_at, status)
VALUES ($1, $2, $3)
ON CONFLICT (id) DO UPDATE
SET started_at = EXCLUDED.started_at, status = EXCLUDED.status`, s.table)
	if _, err := s.db.Exec(ctx, query, runID, startedAt, RunRunning); err != nil {
		return fmt.Errorf("start run: %w", err)
	}
	return nil
}

// FinishRun stores the final counters for a run.
func (s *RunStore) FinishRun(
	ctx context.Context,
	runID string,
	finishedAt time.Time,
	status string,
	stats crawler.SessionStats,
	errMsg *string,
) error {
	query := fmt.Sprintf(`
UPDATE %s
SET finished_at = $1, status = $2, total = $3, completed = $4, failed = $5, pending = $6, error_message = $7
WHERE id = $8`, s.table)
	tag, err := s.db.Exec(ctx, query,
		finishedAt, status, stats.Total, stats.Completed, stats.Failed, stats.Pending+stats.InProgress, errMsg, runID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("finish run %s: %w", runID, ErrRunNotFound)
	}
	return nil
}

// GetRun loads a single run.
func (s *RunStore) GetRun(ctx context.Context, runID string) (Run, error) {
	query := fmt.Sprintf(`
SELECT id, started_at, finished_at, status, total, completed, failed, pending, error_message
FROM %s
WHERE id = $1`, s.table)
	var run Run
	var pending int
	err := s.db.QueryRow(ctx, query, runID).Scan(
		&run.ID,
		&run.StartedAt,
		&run.FinishedAt,
		&run.Status,
		&run.Stats.Total,
		&run.Stats.Completed,
		&run.Stats.Failed,
		&pending,
		&run.ErrorMessage,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Run{}, ErrRunNotFound
		}
		return Run{}, fmt.Errorf("get run: %w", err)
	}
	run.Stats.Pending = pending
	return run, nil
}
