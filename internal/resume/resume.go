// Package resume reconciles persisted crawl state at startup so an interrupted
// run continues without redoing completed work or losing pending work.
package resume

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-orchestrator/internal/crawler"
	"github.com/JakeFAU/crawl-orchestrator/internal/frontier"
)

// Summary describes what reconciliation found.
type Summary struct {
	Records        int
	Results        int
	Reset          int
	DroppedEntries int
	AddedEntries   int
	Stats          crawler.SessionStats
}

// Fresh reports whether there was no prior state.
func (s Summary) Fresh() bool {
	return s.Records == 0
}

// Controller loads the store and installs the reconciled view into a frontier.
type Controller struct {
	store    crawler.StateStore
	frontier *frontier.Frontier
	logger   *zap.Logger
}

// New creates a Controller.
func New(store crawler.StateStore, f *frontier.Frontier, logger *zap.Logger) (*Controller, error) {
	if store == nil || f == nil {
		return nil, errors.New("store and frontier are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{store: store, frontier: f, logger: logger}, nil
}

// Resume runs reconciliation once. Corrupt state is returned unchanged so the
// caller can match crawler.ErrCorruptState.
func (c *Controller) Resume(ctx context.Context) (Summary, error) {
	snap, err := c.store.Load(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("load state: %w", err)
	}
	records, reset := resetInProgress(snap.Statuses)
	entries, dropped, added := Reconcile(snap.Frontier, records)

	for _, rec := range reset {
		c.logger.Warn("resetting interrupted url to pending",
			zap.String("url", rec.URL),
			zap.Int("attempt", rec.AttemptCount),
		)
	}
	if len(reset) > 0 {
		if err := c.store.SaveStatuses(ctx, reset); err != nil {
			return Summary{}, fmt.Errorf("persist reset statuses: %w", err)
		}
	}
	if !slices.Equal(entries, snap.Frontier) {
		if err := c.store.SaveFrontier(ctx, entries); err != nil {
			return Summary{}, fmt.Errorf("persist reconciled frontier: %w", err)
		}
	}
	c.frontier.Restore(entries, records)

	summary := Summary{
		Records:        len(records),
		Results:        len(snap.Results),
		Reset:          len(reset),
		DroppedEntries: dropped,
		AddedEntries:   added,
		Stats:          crawler.StatsOf(records),
	}
	if !summary.Fresh() {
		c.logger.Info("resumed previous state",
			zap.Int("records", summary.Records),
			zap.Int("results", summary.Results),
			zap.Int("reset", summary.Reset),
			zap.Int("pending", summary.Stats.Pending),
			zap.Int("completed", summary.Stats.Completed),
			zap.Int("failed", summary.Stats.Failed),
			zap.Int("frontier_dropped", dropped),
			zap.Int("frontier_added", added),
		)
	}
	return summary, nil
}

func resetInProgress(statuses map[string]crawler.TaskRecord) (map[string]crawler.TaskRecord, []crawler.TaskRecord) {
	records := make(map[string]crawler.TaskRecord, len(statuses))
	var reset []crawler.TaskRecord
	for url, rec := range statuses {
		if rec.Status == crawler.StatusInProgress {
			rec.Status = crawler.StatusPending
			rec.EndTime = nil
			reset = append(reset, rec)
		}
		records[url] = rec
	}
	sort.Slice(reset, func(i, j int) bool { return reset[i].URL < reset[j].URL })
	return records, reset
}

// Reconcile rebuilds the frontier list against the authoritative status map.
// Entries with a missing or terminal record, and repeats, are dropped.
// Non-terminal records absent from the list are appended by (level, url).
// Entry fields are taken from the record.
func Reconcile(persisted []crawler.FrontierEntry, records map[string]crawler.TaskRecord) ([]crawler.FrontierEntry, int, int) {
	out := make([]crawler.FrontierEntry, 0, len(persisted))
	placed := make(map[string]struct{}, len(persisted))
	dropped := 0
	for _, entry := range persisted {
		rec, ok := records[entry.URL]
		if !ok || rec.Status.Terminal() {
			dropped++
			continue
		}
		if _, dup := placed[entry.URL]; dup {
			dropped++
			continue
		}
		placed[entry.URL] = struct{}{}
		out = append(out, rec.Entry())
	}

	var missing []crawler.FrontierEntry
	for url, rec := range records {
		if rec.Status.Terminal() {
			continue
		}
		if _, ok := placed[url]; ok {
			continue
		}
		missing = append(missing, rec.Entry())
	}
	sort.Slice(missing, func(i, j int) bool {
		if missing[i].Level != missing[j].Level {
			return missing[i].Level < missing[j].Level
		}
		return missing[i].URL < missing[j].URL
	})
	return append(out, missing...), dropped, len(missing)
}
