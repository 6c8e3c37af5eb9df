package crawler

import (
	"context"
	"io"
	"time"
)

// StateStore persists frontier, status and result state durably.
// Implementations assume a single writer per backing location.
type StateStore interface {
	Load(ctx context.Context) (Snapshot, error)
	SaveStatus(ctx context.Context, record TaskRecord) error
	SaveStatuses(ctx context.Context, records []TaskRecord) error
	SaveResult(ctx context.Context, result CrawlResult) error
	SaveFrontier(ctx context.Context, entries []FrontierEntry) error
	Close() error
}

// Compactor is implemented by stores that can rewrite their logs.
type Compactor interface {
	Compact(ctx context.Context) error
}

// Invoker calls the remote crawl worker for a single URL. Failures are
// reported as *InvocationError where the kind is known.
type Invoker interface {
	Invoke(ctx context.Context, request WorkerRequest) (WorkerSuccess, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// ResultExporter mirrors completed results into an external system.
type ResultExporter interface {
	ExportResult(ctx context.Context, result CrawlResult) error
}

// Fetcher fetches a page for the crawl worker.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Hasher computes content digests.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}

// FetchRequest describes a single worker-side fetch.
type FetchRequest struct {
	URL          string
	ExtractLinks bool
	Timeout      time.Duration
}

// FetchResponse is what the worker learned about a page.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Body         []byte
	Headers      map[string][]string
	Links        []string
	Title        string
	Duration     time.Duration
	LastModified string
	RobotsNote   string
}
