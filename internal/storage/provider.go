// Package storage selects the blob store backend used for page artifacts and
// run reports.
package storage

import (
	"context"
	"fmt"
	"strings"

	gcsapi "cloud.google.com/go/storage"

	"github.com/JakeFAU/crawl-orchestrator/internal/crawler"
	"github.com/JakeFAU/crawl-orchestrator/internal/storage/gcs"
	"github.com/JakeFAU/crawl-orchestrator/internal/storage/local"
	"github.com/JakeFAU/crawl-orchestrator/internal/storage/memory"
)

// Supported blob backends.
const (
	BackendLocal  = "local"
	BackendGCS    = "gcs"
	BackendMemory = "memory"
)

// Config selects and configures a blob backend.
type Config struct {
	Backend   string
	LocalDir  string
	GCSBucket string
}

// NewBlobStore builds the configured backend. The returned close function
// releases any client the backend holds and is never nil.
func NewBlobStore(ctx context.Context, cfg Config) (crawler.BlobStore, func() error, error) {
	noop := func() error { return nil }
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", BackendLocal:
		store, err := local.New(local.Config{BaseDir: cfg.LocalDir})
		if err != nil {
			return nil, noop, fmt.Errorf("init local blob store: %w", err)
		}
		return store, noop, nil
	case BackendMemory:
		return memory.NewBlobStore(), noop, nil
	case BackendGCS:
		client, err := gcsapi.NewClient(ctx)
		if err != nil {
			return nil, noop, fmt.Errorf("create gcs client: %w", err)
		}
		store, err := gcs.New(client, gcs.Config{Bucket: cfg.GCSBucket})
		if err != nil {
			_ = client.Close()
			return nil, noop, fmt.Errorf("init gcs blob store: %w", err)
		}
		return store, client.Close, nil
	default:
		return nil, noop, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
