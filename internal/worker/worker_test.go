package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-orchestrator/internal/clock/fake"
	"github.com/JakeFAU/crawl-orchestrator/internal/crawler"
	"github.com/JakeFAU/crawl-orchestrator/internal/storage/memory"
)

type fakeFetcher struct {
	mu        sync.Mutex
	responses map[string]crawler.FetchResponse
	err       error
	requests  []crawler.FetchRequest
	deadline  bool
}

func (f *fakeFetcher) Fetch(ctx context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	_, f.deadline = ctx.Deadline()
	if f.err != nil {
		return crawler.FetchResponse{}, f.err
	}
	resp, ok := f.responses[req.URL]
	if !ok {
		return crawler.FetchResponse{}, crawler.NewPermanentError("http 404", nil)
	}
	return resp, nil
}

type fakeHasher struct {
	hash string
	err  error
}

func (h fakeHasher) Hash([]byte) (string, error) {
	return h.hash, h.err
}

type failingBlobStore struct{}

func (failingBlobStore) PutObject(context.Context, string, string, io.Reader) (string, error) {
	return "", errors.New("bucket unavailable")
}

const page = `<html lang="en"><head><title>Prices</title></head>
<body><h1>Monthly prices</h1><p>Bread and milk went up again.</p>
<a href="/a">a</a><a href="/b">b</a></body></html>`

func newService(t *testing.T, fetcher crawler.Fetcher, blobs crawler.BlobStore, hasher crawler.Hasher) *Service {
	t.Helper()
	svc, err := New(fetcher, blobs, hasher, fake.New(time.Unix(100, 0)), Config{Prefix: "/pages/"}, zap.NewNop())
	require.NoError(t, err)
	return svc
}

func okFetcher() *fakeFetcher {
	return &fakeFetcher{responses: map[string]crawler.FetchResponse{
		"https://Example.com/prices": {
			URL:          "https://example.com/prices",
			StatusCode:   http.StatusOK,
			Body:         []byte(page),
			Headers:      map[string][]string{"Content-Type": {"text/html"}},
			Links:        []string{"https://example.com/a", "https://example.com/b", "https://example.com/a", "https://example.com/c"},
			Title:        "Prices",
			Duration:     40 * time.Millisecond,
			LastModified: "Mon, 01 Jul 2024 10:00:00 GMT",
		},
	}}
}

func TestCrawlStoresPageAndReportsLinks(t *testing.T) {
	t.Parallel()

	fetcher := okFetcher()
	blobs := memory.NewBlobStore()
	svc := newService(t, fetcher, blobs, fakeHasher{hash: "abc123"})

	resp, err := svc.Crawl(context.Background(), crawler.WorkerRequest{
		URL:    " https://Example.com/prices ",
		Config: crawler.WorkerConfig{ExtractLinks: true, MaxLinks: 2, TimeoutSeconds: 30},
	})
	require.NoError(t, err)

	require.True(t, resp.Success)
	require.Equal(t, "memory://pages/example.com/abc123.html", resp.ContentReference)
	require.Equal(t, "abc123", resp.ContentHash)
	require.Equal(t, []string{"https://example.com/a", "https://example.com/b"}, resp.ExtractedLinks)
	require.Nil(t, resp.Analysis)

	require.Equal(t, http.StatusOK, resp.Metadata["status_code"])
	require.Equal(t, len(page), resp.Metadata["content_length"])
	require.Equal(t, "text/html", resp.Metadata["content_type"])
	require.Equal(t, "Prices", resp.Metadata["title"])
	require.Equal(t, "Mon, 01 Jul 2024 10:00:00 GMT", resp.Metadata["last_modified"])
	require.Equal(t, int64(40), resp.Metadata["duration_ms"])

	stored, ok := blobs.Get("pages/example.com/abc123.html")
	require.True(t, ok)
	require.Equal(t, page, string(stored))

	require.Len(t, fetcher.requests, 1)
	require.True(t, fetcher.requests[0].ExtractLinks)
	require.Equal(t, 30*time.Second, fetcher.requests[0].Timeout)
	require.True(t, fetcher.deadline)
}

func TestCrawlWithoutLimitKeepsAllUniqueLinks(t *testing.T) {
	t.Parallel()

	svc := newService(t, okFetcher(), memory.NewBlobStore(), fakeHasher{hash: "h"})
	resp, err := svc.Crawl(context.Background(), crawler.WorkerRequest{
		URL:    "https://Example.com/prices",
		Config: crawler.WorkerConfig{ExtractLinks: true},
	})
	require.NoError(t, err)
	require.Equal(t, []string{
		"https://example.com/a",
		"https://example.com/b",
		"https://example.com/c",
	}, resp.ExtractedLinks)
}

func TestCrawlAnalyzesContentWhenAsked(t *testing.T) {
	t.Parallel()

	svc := newService(t, okFetcher(), memory.NewBlobStore(), fakeHasher{hash: "h"})
	resp, err := svc.Crawl(context.Background(), crawler.WorkerRequest{
		URL:    "https://Example.com/prices",
		Config: crawler.WorkerConfig{AnalyzeContent: true},
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Analysis)

	var analysis Analysis
	require.NoError(t, json.Unmarshal(resp.Analysis, &analysis))
	require.Equal(t, "Prices", analysis.Title)
	require.Equal(t, "en", analysis.Language)
	require.Equal(t, []string{"Monthly prices"}, analysis.Headings)
	require.False(t, analysis.NeedsJS)
}

func TestCrawlRejectsMalformedURL(t *testing.T) {
	t.Parallel()

	fetcher := okFetcher()
	svc := newService(t, fetcher, memory.NewBlobStore(), fakeHasher{hash: "h"})

	for _, raw := range []string{"", "ftp://example.com/file", "https://", "://nope"} {
		_, err := svc.Crawl(context.Background(), crawler.WorkerRequest{URL: raw})
		require.Error(t, err, raw)
		require.Equal(t, crawler.ErrorKindPermanent, crawler.KindOf(err), raw)
	}
	require.Empty(t, fetcher.requests)
}

func TestCrawlPropagatesFetchClassification(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{err: crawler.NewPermanentError("http 404", nil)}
	svc := newService(t, fetcher, memory.NewBlobStore(), fakeHasher{hash: "h"})
	_, err := svc.Crawl(context.Background(), crawler.WorkerRequest{URL: "https://example.com/"})
	require.Equal(t, crawler.ErrorKindPermanent, crawler.KindOf(err))

	fetcher.err = errors.New("connection reset")
	_, err = svc.Crawl(context.Background(), crawler.WorkerRequest{URL: "https://example.com/"})
	var invErr *crawler.InvocationError
	require.ErrorAs(t, err, &invErr)
	require.Equal(t, crawler.ErrorKindTransient, invErr.Kind)
}

func TestCrawlStorageFailuresAreTransient(t *testing.T) {
	t.Parallel()

	svc := newService(t, okFetcher(), failingBlobStore{}, fakeHasher{hash: "h"})
	_, err := svc.Crawl(context.Background(), crawler.WorkerRequest{URL: "https://Example.com/prices"})
	require.ErrorContains(t, err, "store content")
	require.Equal(t, crawler.ErrorKindTransient, crawler.KindOf(err))

	svc = newService(t, okFetcher(), memory.NewBlobStore(), fakeHasher{err: errors.New("boom")})
	_, err = svc.Crawl(context.Background(), crawler.WorkerRequest{URL: "https://Example.com/prices"})
	require.ErrorContains(t, err, "hash content")
	require.Equal(t, crawler.ErrorKindTransient, crawler.KindOf(err))
}

func TestNewValidatesDependencies(t *testing.T) {
	t.Parallel()

	clock := fake.New(time.Unix(0, 0))
	blobs := memory.NewBlobStore()
	_, err := New(nil, blobs, fakeHasher{}, clock, Config{}, nil)
	require.Error(t, err)
	_, err = New(okFetcher(), nil, fakeHasher{}, clock, Config{}, nil)
	require.Error(t, err)
	_, err = New(okFetcher(), blobs, nil, clock, Config{}, nil)
	require.Error(t, err)
	_, err = New(okFetcher(), blobs, fakeHasher{}, nil, Config{}, nil)
	require.Error(t, err)

	svc, err := New(okFetcher(), blobs, fakeHasher{}, clock, Config{}, nil)
	require.NoError(t, err)
	require.Equal(t, "pages/example.com/x.html", svc.blobPath("example.com", "x"))
}
