package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/crawl-orchestrator/internal/crawler"
)

// StateStore keeps crawl state in maps. It satisfies crawler.StateStore for
// tests and throwaway runs; nothing survives the process.
type StateStore struct {
	mu       sync.RWMutex
	frontier []crawler.FrontierEntry
	statuses map[string]crawler.TaskRecord
	results  map[string]crawler.CrawlResult
	writes   int
}

var _ crawler.StateStore = (*StateStore)(nil)

// NewStateStore constructs an empty StateStore.
func NewStateStore() *StateStore {
	return &StateStore{
		statuses: make(map[string]crawler.TaskRecord),
		results:  make(map[string]crawler.CrawlResult),
	}
}

// Load returns a copy of the stored state.
func (s *StateStore) Load(ctx context.Context) (crawler.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return crawler.Snapshot{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := crawler.Snapshot{
		Frontier: append([]crawler.FrontierEntry(nil), s.frontier...),
		Statuses: make(map[string]crawler.TaskRecord, len(s.statuses)),
		Results:  make(map[string]crawler.CrawlResult, len(s.results)),
	}
	for k, v := range s.statuses {
		snap.Statuses[k] = v
	}
	for k, v := range s.results {
		snap.Results[k] = v
	}
	return snap, nil
}

// SaveStatus stores a single record.
func (s *StateStore) SaveStatus(ctx context.Context, record crawler.TaskRecord) error {
	return s.SaveStatuses(ctx, []crawler.TaskRecord{record})
}

// SaveStatuses stores a batch of records.
func (s *StateStore) SaveStatuses(ctx context.Context, records []crawler.TaskRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range records {
		s.statuses[rec.URL] = rec
	}
	s.writes++
	return nil
}

// SaveResult stores a result, replacing any earlier one for the URL.
func (s *StateStore) SaveResult(ctx context.Context, result crawler.CrawlResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	result.ExtractedLinks = append([]string{}, result.ExtractedLinks...)
	s.results[result.URL] = result
	s.writes++
	return nil
}

// SaveFrontier replaces the stored frontier list.
func (s *StateStore) SaveFrontier(ctx context.Context, entries []crawler.FrontierEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frontier = append([]crawler.FrontierEntry(nil), entries...)
	s.writes++
	return nil
}

// Close is a no-op.
func (s *StateStore) Close() error {
	return nil
}

// Status returns the stored record for url.
func (s *StateStore) Status(url string) (crawler.TaskRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.statuses[url]
	return rec, ok
}

// Writes reports how many save calls have succeeded.
func (s *StateStore) Writes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes
}
