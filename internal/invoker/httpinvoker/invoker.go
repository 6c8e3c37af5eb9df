// Package httpinvoker calls the crawl worker over HTTP with a JSON body.
package httpinvoker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-orchestrator/internal/crawler"
)

const defaultMaxBodyBytes = 8 << 20

// Config configures the HTTP invoker.
type Config struct {
	Endpoint     string
	UserAgent    string
	MaxBodyBytes int64
	Client       *http.Client
}

// Invoker implements crawler.Invoker against the worker's POST endpoint.
type Invoker struct {
	endpoint  string
	userAgent string
	maxBody   int64
	client    *http.Client
	logger    *zap.Logger
}

var _ crawler.Invoker = (*Invoker)(nil)

// New validates cfg and builds an Invoker. The call deadline comes from the
// context, so the default client carries no timeout of its own.
func New(cfg Config, logger *zap.Logger) (*Invoker, error) {
	u, err := url.Parse(cfg.Endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid worker endpoint %q", cfg.Endpoint)
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Invoker{
		endpoint:  u.String(),
		userAgent: cfg.UserAgent,
		maxBody:   cfg.MaxBodyBytes,
		client:    cfg.Client,
		logger:    logger,
	}, nil
}

// Invoke posts one request. Transport failures, 5xx and 429 are transient;
// a failure body with error_kind decides the kind otherwise.
func (i *Invoker) Invoke(ctx context.Context, request crawler.WorkerRequest) (crawler.WorkerSuccess, error) {
	payload, err := json.Marshal(request)
	if err != nil {
		return crawler.WorkerSuccess{}, crawler.NewPermanentError("encode worker request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.endpoint, bytes.NewReader(payload))
	if err != nil {
		return crawler.WorkerSuccess{}, crawler.NewPermanentError("build worker request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if i.userAgent != "" {
		req.Header.Set("User-Agent", i.userAgent)
	}

	resp, err := i.client.Do(req)
	if err != nil {
		return crawler.WorkerSuccess{}, crawler.NewTransientError("call worker", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, i.maxBody+1))
	if err != nil {
		return crawler.WorkerSuccess{}, crawler.NewTransientError("read worker response", err)
	}
	if int64(len(body)) > i.maxBody {
		return crawler.WorkerSuccess{}, crawler.NewTransientError("read worker response",
			fmt.Errorf("body exceeds %d bytes", i.maxBody))
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return crawler.DecodeWorkerResponse(body)
	}
	return crawler.WorkerSuccess{}, i.statusError(request.URL, resp.StatusCode, body)
}

func (i *Invoker) statusError(target string, code int, body []byte) error {
	var wire crawler.WorkerResponse
	if err := json.Unmarshal(body, &wire); err == nil && !wire.Success && wire.ErrorKind != "" {
		_, decoded := wire.Decode()
		return decoded
	}
	i.logger.Debug("worker returned unclassified status",
		zap.String("url", target),
		zap.Int("status", code),
	)
	return crawler.NewTransientError(fmt.Sprintf("worker returned http %d", code), errors.New(http.StatusText(code)))
}
