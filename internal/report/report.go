// Package report summarizes a crawl session for humans and downstream tools.
package report

import (
	"sort"
	"strconv"
	"time"

	"github.com/JakeFAU/crawl-orchestrator/internal/crawler"
)

const errorKeyLength = 50

// LevelStats counts records at one crawl level.
type LevelStats struct {
	Level     int `json:"level"`
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Pending   int `json:"pending"`
}

// ErrorStat groups failed records by the head of their error message.
type ErrorStat struct {
	Message string `json:"message"`
	Count   int    `json:"count"`
}

// ContentStats describes the size of fetched content.
type ContentStats struct {
	Pages         int     `json:"pages"`
	TotalBytes    int64   `json:"total_bytes"`
	AverageBytes  float64 `json:"average_bytes"`
	LargestBytes  int64   `json:"largest_bytes"`
	SmallestBytes int64   `json:"smallest_bytes"`
	TotalLinks    int     `json:"total_links"`
}

// Summary is the aggregate view of a session.
type Summary struct {
	RunID       string               `json:"run_id"`
	Status      string               `json:"status,omitempty"`
	GeneratedAt time.Time            `json:"generated_at"`
	Stats       crawler.SessionStats `json:"stats"`
	SuccessRate float64              `json:"success_rate"`
	Levels      []LevelStats         `json:"levels"`
	Errors      []ErrorStat          `json:"errors"`
	Content     ContentStats         `json:"content"`
}

// Build derives a Summary from status records and results.
func Build(runID string, generatedAt time.Time, records map[string]crawler.TaskRecord, results map[string]crawler.CrawlResult) Summary {
	s := Summary{
		RunID:       runID,
		GeneratedAt: generatedAt,
		Stats:       crawler.StatsOf(records),
		Levels:      []LevelStats{},
		Errors:      []ErrorStat{},
	}
	if s.Stats.Total > 0 {
		s.SuccessRate = float64(s.Stats.Completed) / float64(s.Stats.Total) * 100
	}

	levels := make(map[int]*LevelStats)
	errs := make(map[string]int)
	for _, rec := range records {
		ls, ok := levels[rec.Level]
		if !ok {
			ls = &LevelStats{Level: rec.Level}
			levels[rec.Level] = ls
		}
		ls.Total++
		switch rec.Status {
		case crawler.StatusCompleted:
			ls.Completed++
		case crawler.StatusFailed:
			ls.Failed++
			if rec.Error != "" {
				errs[truncate(rec.Error, errorKeyLength)]++
			}
		default:
			ls.Pending++
		}
	}
	for _, ls := range levels {
		s.Levels = append(s.Levels, *ls)
	}
	sort.Slice(s.Levels, func(i, j int) bool { return s.Levels[i].Level < s.Levels[j].Level })

	for msg, n := range errs {
		s.Errors = append(s.Errors, ErrorStat{Message: msg, Count: n})
	}
	sort.Slice(s.Errors, func(i, j int) bool {
		if s.Errors[i].Count != s.Errors[j].Count {
			return s.Errors[i].Count > s.Errors[j].Count
		}
		return s.Errors[i].Message < s.Errors[j].Message
	})

	s.Content = contentStats(results)
	return s
}

func contentStats(results map[string]crawler.CrawlResult) ContentStats {
	var cs ContentStats
	for _, res := range results {
		cs.TotalLinks += len(res.ExtractedLinks)
		size, ok := contentLength(res.Metadata)
		if !ok || size <= 0 {
			continue
		}
		cs.Pages++
		cs.TotalBytes += size
		if size > cs.LargestBytes {
			cs.LargestBytes = size
		}
		if cs.SmallestBytes == 0 || size < cs.SmallestBytes {
			cs.SmallestBytes = size
		}
	}
	if cs.Pages > 0 {
		cs.AverageBytes = float64(cs.TotalBytes) / float64(cs.Pages)
	}
	return cs
}

// contentLength reads metadata["content_length"], which is a float64 after a
// JSON round trip and an int when set in process.
func contentLength(metadata map[string]any) (int64, bool) {
	switch v := metadata["content_length"].(type) {
	case int:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		return int64(v), true
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
