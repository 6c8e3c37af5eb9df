package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/JakeFAU/crawl-orchestrator/internal/crawler"
)

// ResultStore upserts completed crawl results, one row per URL.
type ResultStore struct {
	db    DB
	table string
	runID string
}

var _ crawler.ResultExporter = (*ResultStore)(nil)

// NewResultStore wraps an open pool. table defaults to crawl_results.
func NewResultStore(db DB, table, runID string) (*ResultStore, error) {
	if db == nil {
		return nil, errors.New("pool is required")
	}
	table, err := checkTable(table, "crawl_results")
	if err != nil {
		return nil, err
	}
	return &ResultStore{db: db, table: table, runID: runID}, nil
}

// ExportResult writes result, replacing the row from any earlier run.
func (s *ResultStore) ExportResult(ctx context.Context, result crawler.CrawlResult) error {
	if result.URL == "" {
		return errors.New("result url is required")
	}
	links := result.ExtractedLinks
	if links == nil {
		links = []string{}
	}
	linksJSON, err := json.Marshal(links)
	if err != nil {
		return fmt.Errorf("marshal links: %w", err)
	}
	metadata := result.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	var analysis []byte
	if len(result.Analysis) > 0 {
		analysis = []byte(result.Analysis)
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	url,
	run_id,
	content_reference,
	content_hash,
	extracted_links,
	metadata,
	analysis,
	attempt_count,
	completed_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9
)
ON CONFLICT (url) DO UPDATE SET
	run_id = EXCLUDED.run_id,
	content_reference = EXCLUDED.content_reference,
	content_hash = EXCLUDED.content_hash,
	extracted_links = EXCLUDED.extracted_links,
	metadata = EXCLUDED.metadata,
	analysis = EXCLUDED.analysis,
	attempt_count = EXCLUDED.attempt_count,
	completed_at = EXCLUDED.completed_at`, s.table)

	if _, err := s.db.Exec(ctx, query,
		result.URL,
		s.runID,
		result.ContentReference,
		result.ContentHash,
		linksJSON,
		metadataJSON,
		analysis,
		result.AttemptCount,
		result.CompletedAt,
	); err != nil {
		return fmt.Errorf("upsert result: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *ResultStore) Close() {
	if s == nil || s.db == nil {
		return
	}
	s.db.Close()
}
