// Package frontier tracks every URL discovered during a run and hands out
// pending work in level-then-discovery order.
package frontier

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-orchestrator/internal/crawler"
)

// ErrUnknownURL is returned when settling a URL the frontier never saw.
var ErrUnknownURL = errors.New("unknown url")

// ErrInvalidTransition is returned for status changes the lifecycle forbids.
var ErrInvalidTransition = errors.New("invalid status transition")

// Limits bound what may be enqueued.
type Limits struct {
	MaxLevels    int
	DebugMode    bool
	DebugMaxURLs int
}

// Candidate is a URL offered to the frontier.
type Candidate struct {
	URL       string
	Level     int
	ParentURL string
}

// Frontier owns the status record of every URL seen in the run. Status changes
// are written to the store before they become visible in memory.
type Frontier struct {
	store  crawler.StateStore
	clock  crawler.Clock
	logger *zap.Logger
	limits Limits

	mu      sync.Mutex
	records map[string]crawler.TaskRecord
	order   []string
	ready   []crawler.FrontierEntry
}

// New builds an empty frontier.
func New(store crawler.StateStore, clock crawler.Clock, limits Limits, logger *zap.Logger) (*Frontier, error) {
	if store == nil {
		return nil, errors.New("state store is required")
	}
	if clock == nil {
		return nil, errors.New("clock is required")
	}
	if limits.MaxLevels < 1 {
		return nil, fmt.Errorf("max levels must be >= 1, got %d", limits.MaxLevels)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Frontier{
		store:   store,
		clock:   clock,
		logger:  logger,
		limits:  limits,
		records: make(map[string]crawler.TaskRecord),
	}, nil
}

// Restore replaces the in-memory view with a reconciled one. entries give the
// discovery order; only pending entries within MaxLevels become ready. Deeper
// pending entries stay in the persisted list for a later run with a higher
// limit.
func (f *Frontier) Restore(entries []crawler.FrontierEntry, records map[string]crawler.TaskRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = make(map[string]crawler.TaskRecord, len(records))
	for url, rec := range records {
		f.records[url] = rec
	}
	f.order = f.order[:0]
	f.ready = f.ready[:0]
	placed := make(map[string]struct{}, len(entries))
	held := 0
	for _, entry := range entries {
		rec, ok := f.records[entry.URL]
		if !ok || rec.Status.Terminal() {
			continue
		}
		if _, dup := placed[entry.URL]; dup {
			continue
		}
		placed[entry.URL] = struct{}{}
		f.order = append(f.order, entry.URL)
		if rec.Status != crawler.StatusPending {
			continue
		}
		if rec.Level > f.limits.MaxLevels {
			held++
			continue
		}
		f.ready = append(f.ready, rec.Entry())
	}
	if held > 0 {
		f.logger.Info("holding pending urls beyond max levels",
			zap.Int("count", held),
			zap.Int("max_levels", f.limits.MaxLevels),
		)
	}
	sort.SliceStable(f.ready, func(i, j int) bool {
		return f.ready[i].Level < f.ready[j].Level
	})
}

// Enqueue offers a single URL. See EnqueueAll.
func (f *Frontier) Enqueue(ctx context.Context, url string, level int, parent string) (bool, error) {
	added, err := f.EnqueueAll(ctx, []Candidate{{URL: url, Level: level, ParentURL: parent}})
	return added == 1, err
}

// EnqueueAll adds every candidate not seen before and within limits, returning
// how many were added. Out-of-bound candidates are dropped silently. New status
// records are persisted before the frontier list.
func (f *Frontier) EnqueueAll(ctx context.Context, candidates []Candidate) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	batch := make([]crawler.TaskRecord, 0, len(candidates))
	inBatch := make(map[string]struct{}, len(candidates))
	for _, c := range candidates {
		if c.URL == "" {
			continue
		}
		if _, seen := f.records[c.URL]; seen {
			continue
		}
		if _, seen := inBatch[c.URL]; seen {
			continue
		}
		if c.Level < 1 || c.Level > f.limits.MaxLevels {
			f.logger.Debug("dropping url beyond max levels",
				zap.String("url", c.URL),
				zap.Int("level", c.Level),
			)
			continue
		}
		if f.limits.DebugMode && len(f.records)+len(batch) >= f.limits.DebugMaxURLs {
			f.logger.Debug("dropping url beyond debug url cap", zap.String("url", c.URL))
			continue
		}
		inBatch[c.URL] = struct{}{}
		batch = append(batch, crawler.TaskRecord{
			URL:       c.URL,
			Level:     c.Level,
			Status:    crawler.StatusPending,
			ParentURL: c.ParentURL,
		})
	}
	if len(batch) == 0 {
		return 0, nil
	}
	if err := f.store.SaveStatuses(ctx, batch); err != nil {
		return 0, fmt.Errorf("persist new statuses: %w", err)
	}
	for _, rec := range batch {
		f.records[rec.URL] = rec
		f.order = append(f.order, rec.URL)
		f.insertReadyLocked(rec.Entry())
	}
	if err := f.store.SaveFrontier(ctx, f.entriesLocked()); err != nil {
		return len(batch), fmt.Errorf("persist frontier: %w", err)
	}
	return len(batch), nil
}

// DequeueReady claims up to n pending URLs. Each is marked in_progress with its
// attempt count incremented, and persisted before being returned.
func (f *Frontier) DequeueReady(ctx context.Context, n int) ([]crawler.TaskRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n <= 0 || len(f.ready) == 0 {
		return nil, nil
	}
	if n > len(f.ready) {
		n = len(f.ready)
	}
	now := f.clock.Now()
	claimed := make([]crawler.TaskRecord, 0, n)
	for _, entry := range f.ready[:n] {
		rec := f.records[entry.URL]
		if !crawler.CanTransition(rec.Status, crawler.StatusInProgress) {
			return nil, fmt.Errorf("claim %s: %w: %s -> %s", rec.URL, ErrInvalidTransition, rec.Status, crawler.StatusInProgress)
		}
		start := now
		rec.Status = crawler.StatusInProgress
		rec.AttemptCount++
		rec.StartTime = &start
		rec.EndTime = nil
		claimed = append(claimed, rec)
	}
	if err := f.store.SaveStatuses(ctx, claimed); err != nil {
		return nil, fmt.Errorf("persist claims: %w", err)
	}
	for _, rec := range claimed {
		f.records[rec.URL] = rec
	}
	f.ready = append(f.ready[:0], f.ready[n:]...)
	return claimed, nil
}

// Settle moves an in-progress URL to its next status. Pending re-enters the
// ready queue behind its level peers; terminal statuses record an end time.
// errMsg is kept as the last error unless the task completed.
func (f *Frontier) Settle(ctx context.Context, url string, to crawler.TaskStatus, errMsg string) (crawler.TaskRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[url]
	if !ok {
		return crawler.TaskRecord{}, fmt.Errorf("settle %s: %w", url, ErrUnknownURL)
	}
	if !crawler.CanTransition(rec.Status, to) || rec.Status != crawler.StatusInProgress {
		return crawler.TaskRecord{}, fmt.Errorf("settle %s: %w: %s -> %s", url, ErrInvalidTransition, rec.Status, to)
	}
	rec.Status = to
	switch to {
	case crawler.StatusCompleted:
		end := f.clock.Now()
		rec.EndTime = &end
		rec.Error = ""
	case crawler.StatusFailed:
		end := f.clock.Now()
		rec.EndTime = &end
		rec.Error = errMsg
	case crawler.StatusPending:
		rec.Error = errMsg
	}
	if err := f.store.SaveStatus(ctx, rec); err != nil {
		return crawler.TaskRecord{}, fmt.Errorf("persist settle: %w", err)
	}
	f.records[url] = rec
	if to == crawler.StatusPending {
		f.insertReadyLocked(rec.Entry())
	}
	return rec, nil
}

// Flush persists the non-terminal entries in discovery order.
func (f *Frontier) Flush(ctx context.Context) error {
	f.mu.Lock()
	entries := f.entriesLocked()
	f.mu.Unlock()
	if err := f.store.SaveFrontier(ctx, entries); err != nil {
		return fmt.Errorf("flush frontier: %w", err)
	}
	return nil
}

// IsEmpty reports whether nothing is ready to dispatch. In-flight URLs do not count.
func (f *Frontier) IsEmpty() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.ready) == 0
}

// Pending returns the number of URLs waiting to be dispatched.
func (f *Frontier) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.ready)
}

// Seen reports whether url was ever enqueued.
func (f *Frontier) Seen(url string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.records[url]
	return ok
}

// Record returns the current status record for url.
func (f *Frontier) Record(url string) (crawler.TaskRecord, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[url]
	return rec, ok
}

// Records returns a copy of every status record.
func (f *Frontier) Records() map[string]crawler.TaskRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]crawler.TaskRecord, len(f.records))
	for url, rec := range f.records {
		out[url] = rec
	}
	return out
}

// Stats derives session counters from the records.
func (f *Frontier) Stats() crawler.SessionStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return crawler.StatsOf(f.records)
}

func (f *Frontier) insertReadyLocked(entry crawler.FrontierEntry) {
	idx := sort.Search(len(f.ready), func(i int) bool {
		return f.ready[i].Level > entry.Level
	})
	f.ready = append(f.ready, crawler.FrontierEntry{})
	copy(f.ready[idx+1:], f.ready[idx:])
	f.ready[idx] = entry
}

func (f *Frontier) entriesLocked() []crawler.FrontierEntry {
	entries := make([]crawler.FrontierEntry, 0, len(f.order))
	kept := f.order[:0]
	for _, url := range f.order {
		rec := f.records[url]
		if rec.Status.Terminal() {
			continue
		}
		kept = append(kept, url)
		entries = append(entries, rec.Entry())
	}
	f.order = kept
	return entries
}
