// Package file persists crawl state in a local directory.
//
// Layout under the state dir:
//
//	frontier.json  ordered non-terminal entries, replaced atomically
//	status.log     JSON lines of TaskRecord, replayed last-write-wins
//	results.log    JSON lines of CrawlResult, replayed last-write-wins
//
// Appends are fsynced once per batch. An unterminated final line is a write
// that never landed and is ignored; every other malformed line fails Load
// with *crawler.CorruptStateError.
package file

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-orchestrator/internal/crawler"
)

// File names inside the state directory.
const (
	FrontierFile = "frontier.json"
	StatusLog    = "status.log"
	ResultsLog   = "results.log"

	frontierVersion = 1
)

type frontierDoc struct {
	Version int                     `json:"version"`
	Entries []crawler.FrontierEntry `json:"entries"`
}

// Store is a crawler.StateStore backed by files. It is safe for concurrent use
// but assumes a single process owns the directory.
type Store struct {
	dir    string
	logger *zap.Logger

	mu       sync.Mutex
	loaded   bool
	torn     map[string]bool
	frontier []crawler.FrontierEntry
	statuses map[string]crawler.TaskRecord
	results  map[string]crawler.CrawlResult
	handles  map[string]*os.File
	sizes    map[string]int64
}

var _ crawler.StateStore = (*Store)(nil)

// New prepares the state directory. Nothing is read until Load or the first write.
func New(dir string, logger *zap.Logger) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("state dir is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := ensureDirDurable(dir); err != nil {
		return nil, fmt.Errorf("prepare state dir: %w", err)
	}
	return &Store{
		dir:     dir,
		logger:  logger,
		torn:    make(map[string]bool),
		handles: make(map[string]*os.File),
		sizes:   make(map[string]int64),
	}, nil
}

// Dir returns the state directory.
func (s *Store) Dir() string {
	return s.dir
}

// Load reads all state from disk and returns a copy of it.
func (s *Store) Load(ctx context.Context) (crawler.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return crawler.Snapshot{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(); err != nil {
		return crawler.Snapshot{}, err
	}
	return s.snapshotLocked(), nil
}

// SaveStatus appends one record to the status log.
func (s *Store) SaveStatus(ctx context.Context, record crawler.TaskRecord) error {
	return s.SaveStatuses(ctx, []crawler.TaskRecord{record})
}

// SaveStatuses appends a batch of records with a single fsync.
func (s *Store) SaveStatuses(ctx context.Context, records []crawler.TaskRecord) error {
	if len(records) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	var buf bytes.Buffer
	for _, rec := range records {
		if err := validateRecord(rec); err != nil {
			return fmt.Errorf("save status %q: %w", rec.URL, err)
		}
		if err := appendJSONLine(&buf, rec); err != nil {
			return fmt.Errorf("marshal status %q: %w", rec.URL, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.prepareAppendLocked(ctx); err != nil {
		return err
	}
	if err := s.appendLocked(StatusLog, buf.Bytes()); err != nil {
		return fmt.Errorf("append status log: %w", err)
	}
	for _, rec := range records {
		s.statuses[rec.URL] = rec
	}
	return nil
}

// SaveResult appends one result to the results log.
func (s *Store) SaveResult(ctx context.Context, result crawler.CrawlResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateResult(result); err != nil {
		return fmt.Errorf("save result %q: %w", result.URL, err)
	}
	var buf bytes.Buffer
	if err := appendJSONLine(&buf, result); err != nil {
		return fmt.Errorf("marshal result %q: %w", result.URL, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.prepareAppendLocked(ctx); err != nil {
		return err
	}
	if err := s.appendLocked(ResultsLog, buf.Bytes()); err != nil {
		return fmt.Errorf("append results log: %w", err)
	}
	s.results[result.URL] = result
	return nil
}

// SaveFrontier atomically replaces the persisted frontier list.
func (s *Store) SaveFrontier(ctx context.Context, entries []crawler.FrontierEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, entry := range entries {
		if err := validateEntry(entry); err != nil {
			return fmt.Errorf("save frontier %q: %w", entry.URL, err)
		}
	}
	doc := frontierDoc{Version: frontierVersion, Entries: append([]crawler.FrontierEntry{}, entries...)}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal frontier: %w", err)
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := writeFileAtomicDurable(s.path(FrontierFile), data, 0o644); err != nil {
		return fmt.Errorf("write frontier: %w", err)
	}
	s.frontier = doc.Entries
	return nil
}

// Compact rewrites both logs from the current view, one line per URL. It also
// drops a torn tail left by an interrupted append.
func (s *Store) Compact(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoadedLocked(); err != nil {
		return err
	}
	return s.compactLocked()
}

// Close releases open log handles.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeHandlesLocked()
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name)
}

func (s *Store) ensureLoadedLocked() error {
	if s.loaded {
		return nil
	}
	return s.loadLocked()
}

func (s *Store) prepareAppendLocked(ctx context.Context) error {
	if err := s.ensureLoadedLocked(); err != nil {
		return err
	}
	if s.torn[StatusLog] || s.torn[ResultsLog] {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.compactLocked(); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) loadLocked() error {
	if err := s.closeHandlesLocked(); err != nil {
		return err
	}
	frontier, err := s.readFrontier()
	if err != nil {
		return err
	}
	statuses := make(map[string]crawler.TaskRecord)
	statusTorn, err := s.replayLog(StatusLog, func(line []byte) error {
		var rec crawler.TaskRecord
		if err := decodeStrict(line, &rec); err != nil {
			return err
		}
		if err := validateRecord(rec); err != nil {
			return err
		}
		statuses[rec.URL] = rec
		return nil
	})
	if err != nil {
		return err
	}
	results := make(map[string]crawler.CrawlResult)
	resultsTorn, err := s.replayLog(ResultsLog, func(line []byte) error {
		var res crawler.CrawlResult
		if err := decodeStrict(line, &res); err != nil {
			return err
		}
		if err := validateResult(res); err != nil {
			return err
		}
		results[res.URL] = res
		return nil
	})
	if err != nil {
		return err
	}

	s.frontier = frontier
	s.statuses = statuses
	s.results = results
	s.torn = map[string]bool{StatusLog: statusTorn, ResultsLog: resultsTorn}
	s.loaded = true
	s.logger.Debug("state loaded",
		zap.String("dir", s.dir),
		zap.Int("frontier", len(frontier)),
		zap.Int("statuses", len(statuses)),
		zap.Int("results", len(results)),
	)
	return nil
}

func (s *Store) readFrontier() ([]crawler.FrontierEntry, error) {
	path := s.path(FrontierFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read frontier: %w", err)
	}
	var doc frontierDoc
	if err := decodeStrict(data, &doc); err != nil {
		return nil, &crawler.CorruptStateError{Path: path, Err: err}
	}
	if doc.Version != frontierVersion {
		return nil, &crawler.CorruptStateError{Path: path, Err: fmt.Errorf("unsupported version %d", doc.Version)}
	}
	for _, entry := range doc.Entries {
		if err := validateEntry(entry); err != nil {
			return nil, &crawler.CorruptStateError{Path: path, Err: err}
		}
	}
	return doc.Entries, nil
}

// replayLog feeds every complete line to apply. It reports whether the file
// ended in an unterminated line, which is skipped when it does not decode.
func (s *Store) replayLog(name string, apply func([]byte) error) (bool, error) {
	path := s.path(name)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("read %s: %w", name, err)
	}
	torn := len(data) > 0 && data[len(data)-1] != '\n'
	lines := bytes.Split(data, []byte{'\n'})
	for i, line := range lines {
		last := i == len(lines)-1
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		if err := apply(line); err != nil {
			if last && torn {
				s.logger.Warn("ignoring torn tail in state log",
					zap.String("file", path),
					zap.Int("line", i+1),
					zap.Error(err),
				)
				continue
			}
			return false, &crawler.CorruptStateError{Path: path, Line: i + 1, Err: err}
		}
	}
	return torn, nil
}

// appendLocked writes data at the end of a log. The log is first cut back to
// the size left by the last completed append, so bytes from a failed or
// interrupted write never end up in front of a good line.
func (s *Store) appendLocked(name string, data []byte) error {
	f, size, err := s.handleLocked(name)
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		s.abandonLocked(name, f, size)
		return fmt.Errorf("stat %s: %w", name, err)
	}
	if info.Size() != size {
		s.logger.Warn("discarding incomplete write in state log",
			zap.String("file", name),
			zap.Int64("size", info.Size()),
			zap.Int64("want", size),
		)
		if err := f.Truncate(size); err != nil {
			s.abandonLocked(name, f, size)
			return fmt.Errorf("truncate %s: %w", name, err)
		}
	}
	if _, err := f.Write(data); err != nil {
		s.abandonLocked(name, f, size)
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := f.Sync(); err != nil {
		s.abandonLocked(name, f, size)
		return fmt.Errorf("sync %s: %w", name, err)
	}
	s.sizes[name] = size + int64(len(data))
	return nil
}

func (s *Store) handleLocked(name string) (*os.File, int64, error) {
	if f, ok := s.handles[name]; ok {
		return f, s.sizes[name], nil
	}
	path := s.path(name)
	_, statErr := os.Stat(path)
	created := errors.Is(statErr, os.ErrNotExist)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return nil, 0, fmt.Errorf("open %s: %w", name, err)
	}
	if created {
		if err := fsyncDir(s.dir); err != nil {
			_ = f.Close()
			return nil, 0, err
		}
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, fmt.Errorf("stat %s: %w", name, err)
	}
	s.handles[name] = f
	s.sizes[name] = info.Size()
	return f, info.Size(), nil
}

// abandonLocked rolls a log back after a failed append and drops its handle.
// The log is marked torn so the next append rewrites it from memory, which
// holds only writes that completed.
func (s *Store) abandonLocked(name string, f *os.File, size int64) {
	if err := f.Truncate(size); err != nil {
		s.logger.Warn("truncate after failed append", zap.String("file", name), zap.Error(err))
	}
	if err := f.Close(); err != nil {
		s.logger.Debug("close after failed append", zap.String("file", name), zap.Error(err))
	}
	delete(s.handles, name)
	delete(s.sizes, name)
	s.torn[name] = true
}

func (s *Store) compactLocked() error {
	if err := s.closeHandlesLocked(); err != nil {
		return err
	}

	urls := make([]string, 0, len(s.statuses))
	for url := range s.statuses {
		urls = append(urls, url)
	}
	sort.Strings(urls)
	var statusBuf bytes.Buffer
	for _, url := range urls {
		if err := appendJSONLine(&statusBuf, s.statuses[url]); err != nil {
			return fmt.Errorf("marshal status %q: %w", url, err)
		}
	}

	urls = urls[:0]
	for url := range s.results {
		urls = append(urls, url)
	}
	sort.Strings(urls)
	var resultBuf bytes.Buffer
	for _, url := range urls {
		if err := appendJSONLine(&resultBuf, s.results[url]); err != nil {
			return fmt.Errorf("marshal result %q: %w", url, err)
		}
	}

	if err := writeFileAtomicDurable(s.path(StatusLog), statusBuf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("compact status log: %w", err)
	}
	if err := writeFileAtomicDurable(s.path(ResultsLog), resultBuf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("compact results log: %w", err)
	}
	s.torn = make(map[string]bool)
	s.logger.Debug("state logs compacted",
		zap.Int("statuses", len(s.statuses)),
		zap.Int("results", len(s.results)),
	)
	return nil
}

func (s *Store) closeHandlesLocked() error {
	var errs []error
	for name, f := range s.handles {
		if err := f.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
		delete(s.handles, name)
		delete(s.sizes, name)
	}
	return errors.Join(errs...)
}

func (s *Store) snapshotLocked() crawler.Snapshot {
	snap := crawler.Snapshot{
		Frontier: append([]crawler.FrontierEntry(nil), s.frontier...),
		Statuses: make(map[string]crawler.TaskRecord, len(s.statuses)),
		Results:  make(map[string]crawler.CrawlResult, len(s.results)),
	}
	for k, v := range s.statuses {
		snap.Statuses[k] = v
	}
	for k, v := range s.results {
		snap.Results[k] = v
	}
	return snap
}

func appendJSONLine(buf *bytes.Buffer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	buf.Write(data)
	buf.WriteByte('\n')
	return nil
}

func validateRecord(rec crawler.TaskRecord) error {
	switch {
	case strings.TrimSpace(rec.URL) == "":
		return errors.New("empty url")
	case !rec.Status.Valid():
		return fmt.Errorf("invalid status %q", rec.Status)
	case rec.Level < 1:
		return fmt.Errorf("invalid level %d", rec.Level)
	case rec.AttemptCount < 0:
		return fmt.Errorf("negative attempt count %d", rec.AttemptCount)
	}
	return nil
}

func validateResult(res crawler.CrawlResult) error {
	switch {
	case strings.TrimSpace(res.URL) == "":
		return errors.New("empty url")
	case res.AttemptCount < 0:
		return fmt.Errorf("negative attempt count %d", res.AttemptCount)
	}
	return nil
}

func validateEntry(entry crawler.FrontierEntry) error {
	switch {
	case strings.TrimSpace(entry.URL) == "":
		return errors.New("empty url")
	case entry.Level < 1:
		return fmt.Errorf("invalid level %d", entry.Level)
	}
	return nil
}
