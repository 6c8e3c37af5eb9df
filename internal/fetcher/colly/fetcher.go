// Package collyfetcher implements crawler.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/crawl-orchestrator/internal/crawler"
	"github.com/JakeFAU/crawl-orchestrator/internal/metrics"
)

const defaultTimeout = 30 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
	MaxBodyBytes  int
}

// Fetcher implements crawler.Fetcher. Each fetch gets its own collector over a
// shared connection pool.
type Fetcher struct {
	cfg       Config
	transport http.RoundTripper
	metrics   *metrics.Metrics
}

var _ crawler.Fetcher = (*Fetcher)(nil)

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnHTML(string, colly.HTMLCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher. m may be nil.
func New(cfg Config, m *metrics.Metrics) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Fetcher{cfg: cfg, transport: newHTTPTransport(), metrics: m}
}

// Fetch GETs one page, collecting absolute links when asked. Failures are
// classified: client errors other than 408 and 429, robots blocks and invalid
// URLs are permanent; everything else is transient.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	var (
		result   crawler.FetchResponse
		fetchErr error
		failCode int
	)
	start := time.Now()
	collector, guard := f.buildCollector(request)
	f.configureCollectorHooks(collector, request, start, &result, &fetchErr, &failCode)

	finished, err := f.runCollector(ctx, collector, request.URL, &fetchErr)
	if !finished {
		f.metrics.ObserveFetch(request.URL, 0, 0)
		return crawler.FetchResponse{}, crawler.NewTransientError("fetch canceled", err)
	}
	f.metrics.ObserveFetch(request.URL, statusOf(result.StatusCode, failCode), len(result.Body))
	if err != nil {
		return crawler.FetchResponse{}, classify(err, failCode)
	}
	if result.StatusCode == 0 {
		return crawler.FetchResponse{}, crawler.NewTransientError("fetch", errors.New("no response received"))
	}
	guard.annotate(&result)
	return result, nil
}

func (f *Fetcher) buildCollector(request crawler.FetchRequest) (*colly.Collector, *robotsGuard) {
	opts := []colly.CollectorOption{colly.AllowURLRevisit()}
	if f.cfg.MaxBodyBytes > 0 {
		opts = append(opts, colly.MaxBodySize(f.cfg.MaxBodyBytes))
	}
	collector := colly.NewCollector(opts...)
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = !f.cfg.RespectRobots

	timeout := f.cfg.Timeout
	if request.Timeout > 0 && request.Timeout < timeout {
		timeout = request.Timeout
	}
	collector.SetRequestTimeout(timeout)

	if !f.cfg.RespectRobots {
		collector.WithTransport(f.transport)
		return collector, nil
	}
	guard := newRobotsGuard(f.transport, f.metrics)
	collector.WithTransport(guard)
	return collector, guard
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	request crawler.FetchRequest,
	start time.Time,
	result *crawler.FetchResponse,
	fetchErr *error,
	failCode *int,
) {
	hooks.OnResponse(func(r *colly.Response) {
		headers := http.Header{}
		if r.Headers != nil {
			headers = r.Headers.Clone()
		}
		*result = crawler.FetchResponse{
			URL:          r.Request.URL.String(),
			StatusCode:   r.StatusCode,
			Headers:      headers,
			Body:         append([]byte(nil), r.Body...),
			Duration:     time.Since(start),
			LastModified: headers.Get("Last-Modified"),
			Links:        []string{},
		}
	})

	hooks.OnHTML("title", func(e *colly.HTMLElement) {
		if result.Title == "" {
			result.Title = strings.TrimSpace(e.Text)
		}
	})

	if request.ExtractLinks {
		hooks.OnHTML("a[href]", func(e *colly.HTMLElement) {
			link := e.Request.AbsoluteURL(e.Attr("href"))
			if link != "" {
				result.Links = append(result.Links, link)
			}
		})
	}

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil {
			*failCode = r.StatusCode
		}
		*fetchErr = err
	})
}

// runCollector visits url. It reports false when ctx ended first; the
// collector goroutine may then still be writing to the hook targets.
func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) (bool, error) {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case err := <-done:
		if err != nil {
			return true, fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return true, fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return true, nil
	}
}

func classify(err error, code int) error {
	switch {
	case errors.Is(err, colly.ErrRobotsTxtBlocked):
		return crawler.NewPermanentError("blocked by robots.txt", err)
	case errors.Is(err, colly.ErrMissingURL),
		errors.Is(err, colly.ErrForbiddenURL),
		errors.Is(err, colly.ErrForbiddenDomain):
		return crawler.NewPermanentError("fetch refused", err)
	case code >= 400 && code < 500 && code != http.StatusRequestTimeout && code != http.StatusTooManyRequests:
		return crawler.NewPermanentError(fmt.Sprintf("http %d", code), err)
	case code != 0:
		return crawler.NewTransientError(fmt.Sprintf("http %d", code), err)
	default:
		return crawler.NewTransientError("fetch", err)
	}
}

func statusOf(code, failCode int) int {
	if code != 0 {
		return code
	}
	return failCode
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
