package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-orchestrator/internal/crawler"
	"github.com/JakeFAU/crawl-orchestrator/internal/metrics"
)

const maxRequestBytes = 1 << 20

// Crawler is the capability served over HTTP.
type Crawler interface {
	Crawl(ctx context.Context, req crawler.WorkerRequest) (crawler.WorkerResponse, error)
}

// Server exposes a Crawler on POST /v1/crawl.
type Server struct {
	router  chi.Router
	crawler Crawler
	logger  *zap.Logger
}

// NewServer builds the router. m and gatherer may be nil, in which case
// /metrics is not mounted.
func NewServer(c Crawler, m *metrics.Metrics, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{crawler: c, logger: logger}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.recoverMiddleware)
	if m != nil {
		r.Use(m.Middleware)
	}
	r.Use(s.loggingMiddleware)

	r.Get("/healthz", s.healthz)
	if gatherer != nil {
		r.Handle("/metrics", metrics.Handler(gatherer))
	}
	r.Post("/v1/crawl", s.crawl)

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) crawl(w http.ResponseWriter, r *http.Request) {
	var req crawler.WorkerRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes))
	if err := dec.Decode(&req); err != nil {
		resp := crawler.FailureResponse("", crawler.NewPermanentError("invalid request body", err))
		writeJSON(w, http.StatusBadRequest, resp)
		return
	}

	resp, err := s.crawler.Crawl(r.Context(), req)
	if err != nil {
		writeJSON(w, statusFor(err), crawler.FailureResponse(req.URL, err))
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// statusFor maps a failure to the HTTP status the invoker classifies the same
// way as the body: 422 for permanent failures, 503 for everything else.
func statusFor(err error) int {
	if crawler.KindOf(err) == crawler.ErrorKindPermanent {
		return http.StatusUnprocessableEntity
	}
	return http.StatusServiceUnavailable
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type requestIDKey struct{}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("request_id", requestID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("panic", rec))
				err := crawler.NewTransientError("internal server error", errors.New("panic"))
				writeJSON(w, http.StatusInternalServerError, crawler.FailureResponse("", err))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}
