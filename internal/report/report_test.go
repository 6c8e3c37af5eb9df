package report

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawl-orchestrator/internal/crawler"
	"github.com/JakeFAU/crawl-orchestrator/internal/storage/memory"
)

var generated = time.Date(2024, 7, 1, 10, 0, 0, 0, time.UTC)

func fixture() (map[string]crawler.TaskRecord, map[string]crawler.CrawlResult) {
	end := generated.Add(-time.Minute)
	longErr := "upstream returned an unexpectedly long diagnostic message that keeps going"
	records := map[string]crawler.TaskRecord{
		"https://a.example/": {URL: "https://a.example/", Level: 1, Status: crawler.StatusCompleted, AttemptCount: 1, EndTime: &end},
		"https://b.example/": {URL: "https://b.example/", Level: 2, Status: crawler.StatusCompleted, AttemptCount: 2, ParentURL: "https://a.example/"},
		"https://c.example/": {URL: "https://c.example/", Level: 2, Status: crawler.StatusFailed, AttemptCount: 4, Error: longErr},
		"https://d.example/": {URL: "https://d.example/", Level: 2, Status: crawler.StatusFailed, AttemptCount: 4, Error: longErr + " (again)"},
		"https://e.example/": {URL: "https://e.example/", Level: 2, Status: crawler.StatusPending},
		"https://f.example/": {URL: "https://f.example/", Level: 1, Status: crawler.StatusFailed, AttemptCount: 1, Error: "http 404"},
	}
	results := map[string]crawler.CrawlResult{
		"https://a.example/": {
			URL:              "https://a.example/",
			ContentReference: "memory://a",
			ContentHash:      "h-a",
			ExtractedLinks:   []string{"https://b.example/"},
			Metadata:         map[string]any{"content_length": float64(300)},
		},
		"https://b.example/": {
			URL:              "https://b.example/",
			ContentReference: "memory://b",
			Metadata:         map[string]any{"content_length": 100},
		},
	}
	return records, results
}

func TestBuildSummary(t *testing.T) {
	t.Parallel()

	records, results := fixture()
	s := Build("run-9", generated, records, results)

	require.Equal(t, 6, s.Stats.Total)
	require.Equal(t, 2, s.Stats.Completed)
	require.Equal(t, 3, s.Stats.Failed)
	require.InDelta(t, 33.33, s.SuccessRate, 0.01)

	require.Equal(t, []LevelStats{
		{Level: 1, Total: 2, Completed: 1, Failed: 1},
		{Level: 2, Total: 4, Completed: 1, Failed: 2, Pending: 1},
	}, s.Levels)

	require.Len(t, s.Errors, 2)
	require.Equal(t, 2, s.Errors[0].Count)
	require.Len(t, []rune(s.Errors[0].Message), 50)
	require.Equal(t, ErrorStat{Message: "http 404", Count: 1}, s.Errors[1])

	require.Equal(t, ContentStats{
		Pages:         2,
		TotalBytes:    400,
		AverageBytes:  200,
		LargestBytes:  300,
		SmallestBytes: 100,
		TotalLinks:    1,
	}, s.Content)
}

func TestBuildEmpty(t *testing.T) {
	t.Parallel()

	s := Build("run", generated, nil, nil)
	require.Zero(t, s.SuccessRate)
	require.NotNil(t, s.Levels)
	require.NotNil(t, s.Errors)

	data, err := json.Marshal(s)
	require.NoError(t, err)
	require.Contains(t, string(data), `"levels":[]`)
}

func TestWriteCSV(t *testing.T) {
	t.Parallel()

	records, results := fixture()
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, records, results))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 7)
	require.Equal(t, csvHeader, rows[0])
	require.Equal(t, "https://a.example/", rows[1][0])
	require.Equal(t, "completed", rows[1][1])
	require.Equal(t, generated.Add(-time.Minute).Format(time.RFC3339), rows[1][5])
	require.Equal(t, "h-a", rows[1][7])
	require.Equal(t, "https://f.example/", rows[2][0])
	require.Equal(t, "https://a.example/", rows[3][9])
}

func TestWriterStoresUnderRunPrefix(t *testing.T) {
	t.Parallel()

	blobs := memory.NewBlobStore()
	w, err := NewWriter(blobs, "/reports/")
	require.NoError(t, err)

	records, results := fixture()
	s := Build("run-9", generated, records, results)
	written, err := w.Write(context.Background(), s, records, results)
	require.NoError(t, err)
	require.Equal(t, "memory://reports/run-9/summary.json", written.SummaryURI)
	require.Equal(t, "memory://reports/run-9/status.csv", written.StatusURI)

	data, ok := blobs.Get("reports/run-9/summary.json")
	require.True(t, ok)
	var decoded Summary
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, s.Stats, decoded.Stats)

	_, err = NewWriter(nil, "x")
	require.Error(t, err)
}

func TestPrint(t *testing.T) {
	t.Parallel()

	records, results := fixture()
	s := Build("run-9", generated, records, results)
	s.Status = "finished"
	var buf bytes.Buffer
	require.NoError(t, Print(&buf, s))

	out := buf.String()
	require.Contains(t, out, "run-9")
	require.Contains(t, out, "Success rate  33.3%")
	require.Contains(t, out, "http 404")
	require.Contains(t, out, "Level")
}
