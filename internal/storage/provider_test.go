package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawl-orchestrator/internal/storage/local"
	"github.com/JakeFAU/crawl-orchestrator/internal/storage/memory"
)

func TestNewBlobStoreBackends(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	store, closeFn, err := NewBlobStore(ctx, Config{Backend: "local", LocalDir: t.TempDir()})
	require.NoError(t, err)
	require.IsType(t, &local.BlobStore{}, store)
	require.NoError(t, closeFn())

	store, closeFn, err = NewBlobStore(ctx, Config{Backend: "MEMORY"})
	require.NoError(t, err)
	require.IsType(t, &memory.BlobStore{}, store)
	require.NoError(t, closeFn())

	_, closeFn, err = NewBlobStore(ctx, Config{Backend: "s3"})
	require.ErrorContains(t, err, "unknown storage backend")
	require.NotNil(t, closeFn)

	_, _, err = NewBlobStore(ctx, Config{Backend: "local"})
	require.Error(t, err)
}
