package report

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/JakeFAU/crawl-orchestrator/internal/crawler"
)

var csvHeader = []string{
	"url", "status", "level", "attempts", "start_time", "end_time",
	"error", "content_hash", "content_reference", "parent_url",
}

// Writer stores reports in a blob store under prefix/<run-id>/.
type Writer struct {
	blobs  crawler.BlobStore
	prefix string
}

// Written lists the URIs of stored report files.
type Written struct {
	SummaryURI string
	StatusURI  string
}

// NewWriter builds a Writer.
func NewWriter(blobs crawler.BlobStore, prefix string) (*Writer, error) {
	if blobs == nil {
		return nil, errors.New("blob store is required")
	}
	return &Writer{blobs: blobs, prefix: strings.Trim(prefix, "/")}, nil
}

// Write stores summary.json and status.csv for the run.
func (w *Writer) Write(ctx context.Context, s Summary, records map[string]crawler.TaskRecord, results map[string]crawler.CrawlResult) (Written, error) {
	var out Written
	base := path.Join(w.prefix, s.RunID)

	summary, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return out, fmt.Errorf("marshal summary: %w", err)
	}
	out.SummaryURI, err = w.blobs.PutObject(ctx, path.Join(base, "summary.json"), "application/json", bytes.NewReader(summary))
	if err != nil {
		return out, fmt.Errorf("put summary: %w", err)
	}

	var buf bytes.Buffer
	if err := WriteCSV(&buf, records, results); err != nil {
		return out, err
	}
	out.StatusURI, err = w.blobs.PutObject(ctx, path.Join(base, "status.csv"), "text/csv", &buf)
	if err != nil {
		return out, fmt.Errorf("put status export: %w", err)
	}
	return out, nil
}

// WriteCSV renders one row per record, ordered by level then URL.
func WriteCSV(dst io.Writer, records map[string]crawler.TaskRecord, results map[string]crawler.CrawlResult) error {
	rows := make([]crawler.TaskRecord, 0, len(records))
	for _, rec := range records {
		rows = append(rows, rec)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Level != rows[j].Level {
			return rows[i].Level < rows[j].Level
		}
		return rows[i].URL < rows[j].URL
	})

	cw := csv.NewWriter(dst)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, rec := range rows {
		res := results[rec.URL]
		if err := cw.Write([]string{
			rec.URL,
			string(rec.Status),
			strconv.Itoa(rec.Level),
			strconv.Itoa(rec.AttemptCount),
			formatTime(rec.StartTime),
			formatTime(rec.EndTime),
			rec.Error,
			res.ContentHash,
			res.ContentReference,
			rec.ParentURL,
		}); err != nil {
			return fmt.Errorf("write csv row %q: %w", rec.URL, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
