package collyfetcher

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawl-orchestrator/internal/crawler"
	"github.com/JakeFAU/crawl-orchestrator/internal/metrics"
)

type scriptedTransport struct {
	results []roundTripResult
	calls   int
}

type roundTripResult struct {
	resp *http.Response
	err  error
}

func (s *scriptedTransport) RoundTrip(_ *http.Request) (*http.Response, error) {
	idx := s.calls
	s.calls++
	if idx >= len(s.results) {
		idx = len(s.results) - 1
	}
	return s.results[idx].resp, s.results[idx].err
}

func fastGuard(next http.RoundTripper, m *metrics.Metrics) *robotsGuard {
	g := newRobotsGuard(next, m)
	g.backoff = []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond}
	return g
}

func TestRobotsGuardFallsBackAfterTimeouts(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	next := &scriptedTransport{results: []roundTripResult{{err: context.DeadlineExceeded}}}
	guard := fastGuard(next, metrics.New(reg))

	resp, err := guard.RoundTrip(httptest.NewRequest(http.MethodGet, "https://example.com/robots.txt", nil))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, allowAllRobots, string(body))
	require.Equal(t, 4, next.calls)

	var out crawler.FetchResponse
	guard.annotate(&out)
	require.Equal(t, "robots.txt timed out after 4 attempts; fetched as allowed", out.RobotsNote)

	expected := `# HELP crawler_worker_robots_fallbacks_total Fetches that went ahead without robots.txt because every request for it timed out.
# TYPE crawler_worker_robots_fallbacks_total counter
crawler_worker_robots_fallbacks_total 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "crawler_worker_robots_fallbacks_total"))
}

func TestRobotsGuardStopsRetryingOnSuccess(t *testing.T) {
	t.Parallel()

	next := &scriptedTransport{results: []roundTripResult{
		{err: context.DeadlineExceeded},
		{resp: httptest.NewRecorder().Result()},
	}}
	guard := fastGuard(next, nil)

	resp, err := guard.RoundTrip(httptest.NewRequest(http.MethodGet, "https://example.com/ROBOTS.TXT", nil))
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, 2, next.calls)

	var out crawler.FetchResponse
	guard.annotate(&out)
	require.Empty(t, out.RobotsNote)
}

func TestRobotsGuardReturnsOtherErrors(t *testing.T) {
	t.Parallel()

	next := &scriptedTransport{results: []roundTripResult{{err: errors.New("connection refused")}}}
	guard := fastGuard(next, nil)

	_, err := guard.RoundTrip(httptest.NewRequest(http.MethodGet, "https://example.com/robots.txt", nil))
	require.ErrorContains(t, err, "connection refused")
	require.Equal(t, 1, next.calls)
}

func TestRobotsGuardHonoursCancelDuringBackoff(t *testing.T) {
	t.Parallel()

	next := &scriptedTransport{results: []roundTripResult{{err: context.DeadlineExceeded}}}
	guard := newRobotsGuard(next, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	req := httptest.NewRequest(http.MethodGet, "https://example.com/robots.txt", nil).WithContext(ctx)
	_, err := guard.RoundTrip(req)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, next.calls)
}

func TestRobotsGuardPassesPagesThrough(t *testing.T) {
	t.Parallel()

	next := &scriptedTransport{results: []roundTripResult{{err: context.DeadlineExceeded}}}
	guard := fastGuard(next, nil)

	_, err := guard.RoundTrip(httptest.NewRequest(http.MethodGet, "https://example.com/page", nil))
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, 1, next.calls)

	var nilGuard *robotsGuard
	out := crawler.FetchResponse{RobotsNote: "kept"}
	nilGuard.annotate(&out)
	require.Equal(t, "kept", out.RobotsNote)
}
