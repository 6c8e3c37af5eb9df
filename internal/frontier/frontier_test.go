package frontier

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-orchestrator/internal/clock/fake"
	"github.com/JakeFAU/crawl-orchestrator/internal/crawler"
	"github.com/JakeFAU/crawl-orchestrator/internal/storage/memory"
)

type failingStore struct {
	*memory.StateStore
	failStatuses bool
	failFrontier bool
}

func (s *failingStore) SaveStatuses(ctx context.Context, records []crawler.TaskRecord) error {
	if s.failStatuses {
		return errors.New("disk full")
	}
	return s.StateStore.SaveStatuses(ctx, records)
}

func (s *failingStore) SaveStatus(ctx context.Context, record crawler.TaskRecord) error {
	return s.SaveStatuses(ctx, []crawler.TaskRecord{record})
}

func (s *failingStore) SaveFrontier(ctx context.Context, entries []crawler.FrontierEntry) error {
	if s.failFrontier {
		return errors.New("disk full")
	}
	return s.StateStore.SaveFrontier(ctx, entries)
}

var epoch = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestFrontier(t *testing.T, store crawler.StateStore, limits Limits) (*Frontier, *fake.Clock) {
	t.Helper()
	clk := fake.New(epoch)
	f, err := New(store, clk, limits, zap.NewNop())
	require.NoError(t, err)
	return f, clk
}

func urls(records []crawler.TaskRecord) []string {
	out := make([]string, 0, len(records))
	for _, rec := range records {
		out = append(out, rec.URL)
	}
	return out
}

func TestEnqueueDeduplicates(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewStateStore()
	f, _ := newTestFrontier(t, store, Limits{MaxLevels: 3})

	added, err := f.EnqueueAll(ctx, []Candidate{
		{URL: "https://a.example/", Level: 1},
		{URL: "https://a.example/", Level: 1},
		{URL: "https://b.example/", Level: 1},
	})
	require.NoError(t, err)
	require.Equal(t, 2, added)

	ok, err := f.Enqueue(ctx, "https://a.example/", 2, "https://b.example/")
	require.NoError(t, err)
	require.False(t, ok)

	claimed, err := f.DequeueReady(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, []string{"https://a.example/", "https://b.example/"}, urls(claimed))
	_, err = f.Settle(ctx, "https://a.example/", crawler.StatusCompleted, "")
	require.NoError(t, err)

	ok, err = f.Enqueue(ctx, "https://a.example/", 1, "")
	require.NoError(t, err)
	require.False(t, ok, "completed urls are never re-enqueued")
	require.Equal(t, 2, f.Stats().Total)

	snap, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Statuses, 2)
}

func TestEnqueueRespectsLevelBound(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f, _ := newTestFrontier(t, memory.NewStateStore(), Limits{MaxLevels: 2})

	added, err := f.EnqueueAll(ctx, []Candidate{
		{URL: "https://a.example/", Level: 1},
		{URL: "https://a.example/x", Level: 2},
		{URL: "https://a.example/y", Level: 3},
		{URL: "https://a.example/z", Level: 0},
	})
	require.NoError(t, err)
	require.Equal(t, 2, added)
	require.False(t, f.Seen("https://a.example/y"))
	require.False(t, f.Seen("https://a.example/z"))
}

func TestEnqueueDebugURLCap(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f, _ := newTestFrontier(t, memory.NewStateStore(), Limits{MaxLevels: 2, DebugMode: true, DebugMaxURLs: 3})

	var candidates []Candidate
	for i := 0; i < 5; i++ {
		candidates = append(candidates, Candidate{URL: fmt.Sprintf("https://a.example/%d", i), Level: 1})
	}
	added, err := f.EnqueueAll(ctx, candidates)
	require.NoError(t, err)
	require.Equal(t, 3, added)

	ok, err := f.Enqueue(ctx, "https://b.example/", 1, "")
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, 3, f.Stats().Total)
}

func TestDequeueOrdersByLevelThenDiscovery(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewStateStore()
	f, _ := newTestFrontier(t, store, Limits{MaxLevels: 3})

	_, err := f.EnqueueAll(ctx, []Candidate{
		{URL: "https://a.example/l2-first", Level: 2},
		{URL: "https://a.example/l1-first", Level: 1},
		{URL: "https://a.example/l3", Level: 3},
		{URL: "https://a.example/l1-second", Level: 1},
		{URL: "https://a.example/l2-second", Level: 2},
	})
	require.NoError(t, err)

	claimed, err := f.DequeueReady(ctx, 5)
	require.NoError(t, err)
	require.Equal(t, []string{
		"https://a.example/l1-first",
		"https://a.example/l1-second",
		"https://a.example/l2-first",
		"https://a.example/l2-second",
		"https://a.example/l3",
	}, urls(claimed))
	require.True(t, f.IsEmpty())
}

func TestDequeueMarksInProgressAndPersists(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewStateStore()
	f, _ := newTestFrontier(t, store, Limits{MaxLevels: 1})
	_, err := f.EnqueueAll(ctx, []Candidate{{URL: "https://a.example/", Level: 1}, {URL: "https://b.example/", Level: 1}})
	require.NoError(t, err)

	claimed, err := f.DequeueReady(ctx, 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.Equal(t, crawler.StatusInProgress, claimed[0].Status)
	require.Equal(t, 1, claimed[0].AttemptCount)
	require.Equal(t, epoch, *claimed[0].StartTime)

	persisted, ok := store.Status("https://a.example/")
	require.True(t, ok)
	require.Equal(t, crawler.StatusInProgress, persisted.Status)
	require.False(t, f.IsEmpty())
	require.Equal(t, 1, f.Pending())
}

func TestSettleRetryReinsertsAtEndOfLevelBand(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f, clk := newTestFrontier(t, memory.NewStateStore(), Limits{MaxLevels: 2})
	_, err := f.EnqueueAll(ctx, []Candidate{
		{URL: "https://a.example/1", Level: 1},
		{URL: "https://a.example/2", Level: 1},
		{URL: "https://a.example/3", Level: 2},
	})
	require.NoError(t, err)

	claimed, err := f.DequeueReady(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, "https://a.example/1", claimed[0].URL)

	clk.Advance(time.Second)
	rec, err := f.Settle(ctx, "https://a.example/1", crawler.StatusPending, "timeout")
	require.NoError(t, err)
	require.Equal(t, "timeout", rec.Error)
	require.Nil(t, rec.EndTime)

	claimed, err = f.DequeueReady(ctx, 3)
	require.NoError(t, err)
	require.Equal(t, []string{"https://a.example/2", "https://a.example/1", "https://a.example/3"}, urls(claimed))
	require.Equal(t, 2, claimed[1].AttemptCount)
	require.Equal(t, "timeout", claimed[1].Error)
}

func TestSettleTerminal(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewStateStore()
	f, clk := newTestFrontier(t, store, Limits{MaxLevels: 1})
	_, err := f.EnqueueAll(ctx, []Candidate{{URL: "https://a.example/", Level: 1}, {URL: "https://b.example/", Level: 1}})
	require.NoError(t, err)
	_, err = f.DequeueReady(ctx, 2)
	require.NoError(t, err)

	clk.Advance(time.Minute)
	done, err := f.Settle(ctx, "https://a.example/", crawler.StatusCompleted, "ignored")
	require.NoError(t, err)
	require.Empty(t, done.Error)
	require.Equal(t, epoch.Add(time.Minute), *done.EndTime)

	failed, err := f.Settle(ctx, "https://b.example/", crawler.StatusFailed, "404")
	require.NoError(t, err)
	require.Equal(t, "404", failed.Error)
	require.NotNil(t, failed.EndTime)

	_, err = f.Settle(ctx, "https://a.example/", crawler.StatusPending, "")
	require.ErrorIs(t, err, ErrInvalidTransition)
	_, err = f.Settle(ctx, "https://c.example/", crawler.StatusCompleted, "")
	require.ErrorIs(t, err, ErrUnknownURL)

	require.NoError(t, f.Flush(ctx))
	snap, err := store.Load(ctx)
	require.NoError(t, err)
	require.Empty(t, snap.Frontier)
	stats := f.Stats()
	require.Equal(t, crawler.SessionStats{Total: 2, Completed: 1, Failed: 1}, stats)
}

func TestSettleRequiresInProgress(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f, _ := newTestFrontier(t, memory.NewStateStore(), Limits{MaxLevels: 1})
	_, err := f.Enqueue(ctx, "https://a.example/", 1, "")
	require.NoError(t, err)
	_, err = f.Settle(ctx, "https://a.example/", crawler.StatusCompleted, "")
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestStoreFailuresSurface(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := &failingStore{StateStore: memory.NewStateStore(), failStatuses: true}
	f, _ := newTestFrontier(t, store, Limits{MaxLevels: 1})

	_, err := f.Enqueue(ctx, "https://a.example/", 1, "")
	require.Error(t, err)
	require.False(t, f.Seen("https://a.example/"), "nothing is visible until persisted")

	store.failStatuses = false
	_, err = f.Enqueue(ctx, "https://a.example/", 1, "")
	require.NoError(t, err)

	store.failStatuses = true
	_, err = f.DequeueReady(ctx, 1)
	require.Error(t, err)
	rec, _ := f.Record("https://a.example/")
	require.Equal(t, crawler.StatusPending, rec.Status)
	require.Equal(t, 1, f.Pending())

	store.failStatuses = false
	store.failFrontier = true
	_, err = f.Enqueue(ctx, "https://b.example/", 1, "")
	require.ErrorContains(t, err, "persist frontier")
}

func TestRestore(t *testing.T) {
	t.Parallel()

	f, _ := newTestFrontier(t, memory.NewStateStore(), Limits{MaxLevels: 2})
	records := map[string]crawler.TaskRecord{
		"https://a.example/": {URL: "https://a.example/", Level: 2, Status: crawler.StatusPending, AttemptCount: 1},
		"https://b.example/": {URL: "https://b.example/", Level: 1, Status: crawler.StatusPending},
		"https://c.example/": {URL: "https://c.example/", Level: 1, Status: crawler.StatusCompleted, AttemptCount: 1},
	}
	f.Restore([]crawler.FrontierEntry{
		{URL: "https://a.example/", Level: 2},
		{URL: "https://b.example/", Level: 1},
		{URL: "https://b.example/", Level: 1},
		{URL: "https://c.example/", Level: 1},
	}, records)

	require.Equal(t, 2, f.Pending())
	require.True(t, f.Seen("https://c.example/"))
	claimed, err := f.DequeueReady(context.Background(), 2)
	require.NoError(t, err)
	require.Equal(t, []string{"https://b.example/", "https://a.example/"}, urls(claimed))
	require.Equal(t, 2, claimed[1].AttemptCount)
}

func TestRestoreHoldsEntriesBeyondMaxLevels(t *testing.T) {
	t.Parallel()

	store := memory.NewStateStore()
	f, _ := newTestFrontier(t, store, Limits{MaxLevels: 1})
	records := map[string]crawler.TaskRecord{
		"https://a.example/":     {URL: "https://a.example/", Level: 1, Status: crawler.StatusPending},
		"https://a.example/deep": {URL: "https://a.example/deep", Level: 3, Status: crawler.StatusPending, ParentURL: "https://a.example/x"},
	}
	f.Restore([]crawler.FrontierEntry{
		{URL: "https://a.example/deep", Level: 3},
		{URL: "https://a.example/", Level: 1},
	}, records)

	ctx := context.Background()
	require.Equal(t, 1, f.Pending())
	claimed, err := f.DequeueReady(ctx, 5)
	require.NoError(t, err)
	require.Equal(t, []string{"https://a.example/"}, urls(claimed))
	require.True(t, f.IsEmpty())

	require.NoError(t, f.Flush(ctx))
	snap, err := store.Load(ctx)
	require.NoError(t, err)
	require.Contains(t, snap.Frontier, crawler.FrontierEntry{URL: "https://a.example/deep", Level: 3, ParentURL: "https://a.example/x"})
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	clk := fake.New(epoch)
	_, err := New(nil, clk, Limits{MaxLevels: 1}, nil)
	require.Error(t, err)
	_, err = New(memory.NewStateStore(), nil, Limits{MaxLevels: 1}, nil)
	require.Error(t, err)
	_, err = New(memory.NewStateStore(), clk, Limits{}, nil)
	require.Error(t, err)
}
