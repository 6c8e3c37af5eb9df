package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawl-orchestrator/internal/crawler"
)

func TestStateStoreLifecycle(t *testing.T) {
	t.Parallel()

	store := NewStateStore()
	ctx := context.Background()

	require.NoError(t, store.SaveStatuses(ctx, []crawler.TaskRecord{
		{URL: "https://example.com/", Level: 1, Status: crawler.StatusPending},
	}))
	require.NoError(t, store.SaveStatus(ctx, crawler.TaskRecord{URL: "https://example.com/", Level: 1, Status: crawler.StatusCompleted, AttemptCount: 1}))
	require.NoError(t, store.SaveFrontier(ctx, []crawler.FrontierEntry{{URL: "https://example.com/", Level: 1}}))
	require.NoError(t, store.SaveResult(ctx, crawler.CrawlResult{URL: "https://example.com/", ExtractedLinks: []string{"a"}}))

	snap, err := store.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, crawler.StatusCompleted, snap.Statuses["https://example.com/"].Status)
	require.Len(t, snap.Frontier, 1)
	require.Equal(t, 4, store.Writes())

	snap.Frontier[0].URL = "modified"
	snap.Statuses["https://example.com/"] = crawler.TaskRecord{}
	again, err := store.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, "https://example.com/", again.Frontier[0].URL)
	rec, ok := store.Status("https://example.com/")
	require.True(t, ok)
	require.Equal(t, 1, rec.AttemptCount)
}

func TestStateStoreHonoursContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	store := NewStateStore()
	require.ErrorIs(t, store.SaveFrontier(ctx, nil), context.Canceled)
	_, err := store.Load(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
