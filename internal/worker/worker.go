// Package worker implements the crawl worker: the stateless capability the
// orchestrator invokes once per URL. It fetches the page, stores the body in a
// blob store and reports links, metadata and an optional content analysis.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-orchestrator/internal/crawler"
)

const (
	defaultPrefix      = "pages"
	defaultContentType = "text/html; charset=utf-8"
)

// Config controls where artifacts are written.
type Config struct {
	Prefix      string
	ContentType string
}

// Service handles single-URL crawl requests.
type Service struct {
	fetcher crawler.Fetcher
	blobs   crawler.BlobStore
	hasher  crawler.Hasher
	clock   crawler.Clock
	cfg     Config
	logger  *zap.Logger
}

// New wires a Service.
func New(
	fetcher crawler.Fetcher,
	blobs crawler.BlobStore,
	hasher crawler.Hasher,
	clock crawler.Clock,
	cfg Config,
	logger *zap.Logger,
) (*Service, error) {
	switch {
	case fetcher == nil:
		return nil, errors.New("fetcher is required")
	case blobs == nil:
		return nil, errors.New("blob store is required")
	case hasher == nil:
		return nil, errors.New("hasher is required")
	case clock == nil:
		return nil, errors.New("clock is required")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = defaultPrefix
	}
	if cfg.ContentType == "" {
		cfg.ContentType = defaultContentType
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		fetcher: fetcher,
		blobs:   blobs,
		hasher:  hasher,
		clock:   clock,
		cfg:     cfg,
		logger:  logger,
	}, nil
}

// Crawl processes one request. Failures are returned as *crawler.InvocationError
// so callers can render them with crawler.FailureResponse.
func (s *Service) Crawl(ctx context.Context, req crawler.WorkerRequest) (crawler.WorkerResponse, error) {
	target := strings.TrimSpace(req.URL)
	host, err := validateURL(target)
	if err != nil {
		return crawler.WorkerResponse{}, crawler.NewPermanentError("invalid url", err)
	}

	if timeout := req.Config.Timeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	resp, err := s.fetcher.Fetch(ctx, crawler.FetchRequest{
		URL:          target,
		ExtractLinks: req.Config.ExtractLinks,
		Timeout:      req.Config.Timeout(),
	})
	if err != nil {
		s.logger.Warn("fetch failed", zap.String("url", target), zap.Error(err))
		var invErr *crawler.InvocationError
		if errors.As(err, &invErr) {
			return crawler.WorkerResponse{}, err
		}
		return crawler.WorkerResponse{}, crawler.NewTransientError("fetch", err)
	}

	hash, err := s.hasher.Hash(resp.Body)
	if err != nil {
		return crawler.WorkerResponse{}, crawler.NewTransientError("hash content", err)
	}
	uri, err := s.blobs.PutObject(ctx, s.blobPath(host, hash), s.cfg.ContentType, bytes.NewReader(resp.Body))
	if err != nil {
		return crawler.WorkerResponse{}, crawler.NewTransientError("store content", err)
	}

	out := crawler.WorkerResponse{
		Success:          true,
		URL:              target,
		ContentReference: uri,
		ContentHash:      hash,
		ExtractedLinks:   limitLinks(resp.Links, req.Config.MaxLinks),
		Metadata:         s.metadata(resp),
	}
	if req.Config.AnalyzeContent {
		out.Analysis = s.analyze(target, resp.Body)
	}

	s.logger.Debug("page stored",
		zap.String("url", target),
		zap.String("content_reference", uri),
		zap.Int("links", len(out.ExtractedLinks)),
	)
	return out, nil
}

func (s *Service) blobPath(host, hash string) string {
	prefix := strings.Trim(s.cfg.Prefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%s.html", host, hash)
	}
	return fmt.Sprintf("%s/%s/%s.html", prefix, host, hash)
}

func (s *Service) metadata(resp crawler.FetchResponse) map[string]any {
	md := map[string]any{
		"status_code":    resp.StatusCode,
		"content_length": len(resp.Body),
		"duration_ms":    resp.Duration.Milliseconds(),
		"fetched_at":     s.clock.Now().UTC(),
	}
	if ct := firstHeader(resp.Headers, "Content-Type"); ct != "" {
		md["content_type"] = ct
	}
	if resp.LastModified != "" {
		md["last_modified"] = resp.LastModified
	}
	if resp.Title != "" {
		md["title"] = resp.Title
	}
	if resp.URL != "" {
		md["final_url"] = resp.URL
	}
	if resp.RobotsNote != "" {
		md["robots"] = resp.RobotsNote
	}
	return md
}

// analyze never fails the crawl; a page that cannot be analyzed is still stored.
func (s *Service) analyze(target string, body []byte) json.RawMessage {
	analysis, err := Analyze(body)
	if err != nil {
		s.logger.Warn("content analysis failed", zap.String("url", target), zap.Error(err))
		return nil
	}
	raw, err := json.Marshal(analysis)
	if err != nil {
		s.logger.Warn("encode analysis failed", zap.String("url", target), zap.Error(err))
		return nil
	}
	return raw
}

func validateURL(raw string) (string, error) {
	if raw == "" {
		return "", errors.New("empty url")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: scheme %q", crawler.ErrUnsupportedURL, u.Scheme)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("%w: missing host", crawler.ErrUnsupportedURL)
	}
	return strings.ToLower(u.Hostname()), nil
}

// limitLinks drops duplicates, keeping first-seen order, then truncates to
// limit when limit is positive.
func limitLinks(links []string, limit int) []string {
	out := make([]string, 0, len(links))
	seen := make(map[string]struct{}, len(links))
	for _, link := range links {
		if _, ok := seen[link]; ok {
			continue
		}
		seen[link] = struct{}{}
		out = append(out, link)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func firstHeader(headers map[string][]string, key string) string {
	for k, values := range headers {
		if strings.EqualFold(k, key) && len(values) > 0 {
			return values[0]
		}
	}
	return ""
}
