package crawler

import (
	"encoding/json"
	"time"
)

// TaskStatus represents the lifecycle state of a single URL.
type TaskStatus string

// Task status values persisted in the state store.
const (
	StatusPending    TaskStatus = "pending"
	StatusInProgress TaskStatus = "in_progress"
	StatusCompleted  TaskStatus = "completed"
	StatusFailed     TaskStatus = "failed"
)

// Valid reports whether s is one of the known statuses.
func (s TaskStatus) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further automatic transition happens within a run.
func (s TaskStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// TaskRecord is the persisted status of one URL. The URL is its identity.
type TaskRecord struct {
	URL          string     `json:"url"`
	Level        int        `json:"level"`
	Status       TaskStatus `json:"status"`
	AttemptCount int        `json:"attempt_count"`
	StartTime    *time.Time `json:"start_time,omitempty"`
	EndTime      *time.Time `json:"end_time,omitempty"`
	Error        string     `json:"error,omitempty"`
	ParentURL    string     `json:"parent_url,omitempty"`
}

// FrontierEntry is one discovered URL awaiting a terminal status. Level is fixed
// at enqueue time.
type FrontierEntry struct {
	URL       string `json:"url"`
	Level     int    `json:"level"`
	ParentURL string `json:"parent_url,omitempty"`
}

// Entry projects the record onto its frontier entry.
func (r TaskRecord) Entry() FrontierEntry {
	return FrontierEntry{URL: r.URL, Level: r.Level, ParentURL: r.ParentURL}
}

// CrawlResult is the final worker payload for a URL plus orchestrator fields.
type CrawlResult struct {
	URL              string          `json:"url"`
	ContentReference string          `json:"content_reference"`
	ContentHash      string          `json:"content_hash,omitempty"`
	ExtractedLinks   []string        `json:"extracted_links"`
	Metadata         map[string]any  `json:"metadata,omitempty"`
	Analysis         json.RawMessage `json:"analysis,omitempty"`
	CompletedAt      time.Time       `json:"completed_at"`
	AttemptCount     int             `json:"attempt_count"`
}

// Snapshot is everything the state store holds.
type Snapshot struct {
	Frontier []FrontierEntry
	Statuses map[string]TaskRecord
	Results  map[string]CrawlResult
}

// SessionStats aggregates status counters for reporting.
type SessionStats struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// Add counts one record.
func (s *SessionStats) Add(status TaskStatus) {
	s.Total++
	switch status {
	case StatusPending:
		s.Pending++
	case StatusInProgress:
		s.InProgress++
	case StatusCompleted:
		s.Completed++
	case StatusFailed:
		s.Failed++
	}
}

// StatsOf counts the records in a status map.
func StatsOf(records map[string]TaskRecord) SessionStats {
	var stats SessionStats
	for _, rec := range records {
		stats.Add(rec.Status)
	}
	return stats
}
