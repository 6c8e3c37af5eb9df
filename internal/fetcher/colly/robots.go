package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/crawl-orchestrator/internal/crawler"
	"github.com/JakeFAU/crawl-orchestrator/internal/metrics"
)

const allowAllRobots = "User-agent: *\nAllow: /"

// defaultRobotsBackoff spaces the retries of a robots.txt request that timed out.
var defaultRobotsBackoff = []time.Duration{
	250 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
}

// robotsGuard is the transport of one fetch when robots.txt is honoured.
// Page requests pass straight through. A robots.txt request that keeps timing
// out is answered with an allow-all file so the page is still fetched; the
// worker response then carries a note saying robots.txt was not read.
type robotsGuard struct {
	next    http.RoundTripper
	backoff []time.Duration
	metrics *metrics.Metrics

	mu   sync.Mutex
	note string
}

func newRobotsGuard(next http.RoundTripper, m *metrics.Metrics) *robotsGuard {
	return &robotsGuard{next: next, backoff: defaultRobotsBackoff, metrics: m}
}

func (g *robotsGuard) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil || req.URL == nil {
		return nil, errors.New("robots guard: request without url")
	}
	if !strings.EqualFold(req.URL.Path, "/robots.txt") {
		return g.next.RoundTrip(req)
	}

	attempts := len(g.backoff) + 1
	for attempt := 1; ; attempt++ {
		resp, err := g.next.RoundTrip(req.Clone(req.Context()))
		switch {
		case err == nil:
			return resp, nil
		case !timedOut(err):
			return nil, fmt.Errorf("fetch robots.txt: %w", err)
		case attempt == attempts:
			g.fallBack(fmt.Sprintf("robots.txt timed out after %d attempts; fetched as allowed", attempts))
			return allowAll(req), nil
		}
		if err := pause(req.Context(), g.backoff[attempt-1]); err != nil {
			return nil, fmt.Errorf("fetch robots.txt: %w", err)
		}
	}
}

func (g *robotsGuard) fallBack(note string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.note != "" {
		return
	}
	g.note = note
	g.metrics.ObserveRobotsFallback()
}

// annotate copies the fallback note, if any, onto resp. A nil guard is a
// fetch that ignores robots.txt.
func (g *robotsGuard) annotate(resp *crawler.FetchResponse) {
	if g == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	resp.RobotsNote = g.note
}

func pause(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func allowAll(req *http.Request) *http.Response {
	return &http.Response{
		StatusCode:    http.StatusOK,
		Status:        "200 OK",
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        http.Header{"Content-Type": []string{"text/plain"}},
		Body:          io.NopCloser(strings.NewReader(allowAllRobots)),
		ContentLength: int64(len(allowAllRobots)),
		Request:       req,
	}
}

// timedOut matches dial, TLS handshake and deadline timeouts.
func timedOut(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(err.Error(), "handshake timeout")
}
