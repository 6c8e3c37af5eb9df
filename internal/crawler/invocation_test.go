package crawler

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWorkerRequestWireShape(t *testing.T) {
	t.Parallel()

	req := WorkerRequest{
		URL:    "https://example.com/",
		Config: WorkerConfig{ExtractLinks: true, MaxLinks: 5, AnalyzeContent: true, TimeoutSeconds: 900},
	}
	raw, err := json.Marshal(req)
	require.NoError(t, err)
	require.JSONEq(t, `{"url":"https://example.com/","config":{"extract_links":true,"max_links":5,"analyze_content":true,"timeout":900}}`, string(raw))
	require.Equal(t, 15*time.Minute, req.Config.Timeout())
}

func TestDecodeWorkerResponse(t *testing.T) {
	t.Parallel()

	t.Run("success", func(t *testing.T) {
		body := `{"success":true,"content_reference":"gs://b/pages/x.html","content_hash":"abc","extracted_links":["https://example.com/a"],"metadata":{"status_code":200},"analysis":{"topic":"cpi"}}`
		got, err := DecodeWorkerResponse([]byte(body))
		require.NoError(t, err)
		require.Equal(t, "gs://b/pages/x.html", got.ContentReference)
		require.Equal(t, []string{"https://example.com/a"}, got.ExtractedLinks)
		require.JSONEq(t, `{"topic":"cpi"}`, string(got.Analysis))
	})

	t.Run("permanent failure", func(t *testing.T) {
		_, err := DecodeWorkerResponse([]byte(`{"success":false,"error_kind":"permanent","message":"404"}`))
		require.Error(t, err)
		require.Equal(t, ErrorKindPermanent, KindOf(err))
	})

	t.Run("unknown kind is transient", func(t *testing.T) {
		_, err := DecodeWorkerResponse([]byte(`{"success":false,"error_kind":"weird","message":"x"}`))
		require.Equal(t, ErrorKindTransient, KindOf(err))
	})

	t.Run("missing kind is transient", func(t *testing.T) {
		_, err := DecodeWorkerResponse([]byte(`{"success":false}`))
		require.Equal(t, ErrorKindTransient, KindOf(err))
	})

	t.Run("garbage is transient", func(t *testing.T) {
		_, err := DecodeWorkerResponse([]byte(`<html>`))
		require.Equal(t, ErrorKindTransient, KindOf(err))
	})

	t.Run("success without reference is rejected", func(t *testing.T) {
		_, err := DecodeWorkerResponse([]byte(`{"success":true}`))
		require.Equal(t, ErrorKindTransient, KindOf(err))
	})
}

func TestWorkerSuccessResult(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	res := WorkerSuccess{ContentReference: "file:///tmp/x"}.Result("https://example.com/", 2, now)
	require.Equal(t, "https://example.com/", res.URL)
	require.Equal(t, 2, res.AttemptCount)
	require.Equal(t, now, res.CompletedAt)
	require.NotNil(t, res.ExtractedLinks)
}

func TestFailureResponse(t *testing.T) {
	t.Parallel()

	resp := FailureResponse("https://example.com/", NewPermanentError("fetch", errors.New("not found")))
	require.False(t, resp.Success)
	require.Equal(t, "permanent", resp.ErrorKind)
	require.Equal(t, "fetch: not found", resp.Message)
}
