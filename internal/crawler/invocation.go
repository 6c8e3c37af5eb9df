package crawler

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// WorkerRequest is the payload sent to the crawl worker for one URL.
type WorkerRequest struct {
	URL    string       `json:"url"`
	Config WorkerConfig `json:"config"`
}

// WorkerConfig carries per-invocation options.
type WorkerConfig struct {
	ExtractLinks   bool `json:"extract_links"`
	MaxLinks       int  `json:"max_links"`
	AnalyzeContent bool `json:"analyze_content"`
	TimeoutSeconds int  `json:"timeout"`
}

// Timeout returns the worker-side budget as a duration.
func (c WorkerConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// WorkerResponse is the wire shape returned by the worker, success or not.
type WorkerResponse struct {
	Success          bool            `json:"success"`
	URL              string          `json:"url,omitempty"`
	ContentReference string          `json:"content_reference,omitempty"`
	ContentHash      string          `json:"content_hash,omitempty"`
	ExtractedLinks   []string        `json:"extracted_links,omitempty"`
	Metadata         map[string]any  `json:"metadata,omitempty"`
	Analysis         json.RawMessage `json:"analysis,omitempty"`
	ErrorKind        string          `json:"error_kind,omitempty"`
	Message          string          `json:"message,omitempty"`
}

// WorkerSuccess is the decoded success payload.
type WorkerSuccess struct {
	ContentReference string
	ContentHash      string
	ExtractedLinks   []string
	Metadata         map[string]any
	Analysis         json.RawMessage
}

// Result builds the persisted result for a successful invocation.
func (s WorkerSuccess) Result(url string, attempts int, completedAt time.Time) CrawlResult {
	links := s.ExtractedLinks
	if links == nil {
		links = []string{}
	}
	return CrawlResult{
		URL:              url,
		ContentReference: s.ContentReference,
		ContentHash:      s.ContentHash,
		ExtractedLinks:   links,
		Metadata:         s.Metadata,
		Analysis:         s.Analysis,
		CompletedAt:      completedAt,
		AttemptCount:     attempts,
	}
}

// Decode validates a worker response once at the boundary. A failure becomes an
// *InvocationError; a missing or unknown error_kind is transient.
func (r WorkerResponse) Decode() (WorkerSuccess, error) {
	if !r.Success {
		msg := r.Message
		if msg == "" {
			msg = "worker reported failure"
		}
		return WorkerSuccess{}, &InvocationError{Kind: ParseErrorKind(r.ErrorKind), Message: msg}
	}
	if r.ContentReference == "" {
		return WorkerSuccess{}, NewTransientError("malformed worker response", errors.New("missing content_reference"))
	}
	return WorkerSuccess{
		ContentReference: r.ContentReference,
		ContentHash:      r.ContentHash,
		ExtractedLinks:   r.ExtractedLinks,
		Metadata:         r.Metadata,
		Analysis:         r.Analysis,
	}, nil
}

// DecodeWorkerResponse parses raw JSON into a success or an *InvocationError.
// Unparseable bodies are transient.
func DecodeWorkerResponse(body []byte) (WorkerSuccess, error) {
	var resp WorkerResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return WorkerSuccess{}, NewTransientError("decode worker response", fmt.Errorf("unmarshal: %w", err))
	}
	return resp.Decode()
}

// FailureResponse renders err as the worker's failure body.
func FailureResponse(url string, err error) WorkerResponse {
	kind := KindOf(err)
	msg := err.Error()
	var invErr *InvocationError
	if errors.As(err, &invErr) && invErr.Message != "" {
		msg = invErr.Message
		if invErr.Err != nil {
			msg = fmt.Sprintf("%s: %v", invErr.Message, invErr.Err)
		}
	}
	return WorkerResponse{Success: false, URL: url, ErrorKind: string(kind), Message: msg}
}
