// Package tracker decides which fetched entries are new for a source and
// records progress once they have been delivered.
package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"time"

	"github.com/samber/lo"

	"feed_relay/internal/domain"
)

// Store persists one SyncState per source. Get returns an empty state for a
// source that was never committed.
type Store interface {
	Get(ctx context.Context, sourceID string) (*domain.SyncState, error)
	Update(ctx context.Context, state *domain.SyncState) error
}

// FirstRunPolicy controls what happens when a source has no stored state.
type FirstRunPolicy string

const (
	// FirstRunAll treats every fetched entry as new.
	FirstRunAll FirstRunPolicy = "all"
	// FirstRunBaseline records the newest entry without delivering anything.
	FirstRunBaseline FirstRunPolicy = "baseline"
)

func ParseFirstRunPolicy(s string) (FirstRunPolicy, error) {
	switch p := FirstRunPolicy(s); p {
	case FirstRunAll, FirstRunBaseline:
		return p, nil
	}
	return "", fmt.Errorf("unknown first run policy %q", s)
}

type Config struct {
	FirstRun FirstRunPolicy
	// FirstRunMaxAge drops entries older than this on a first run. Zero
	// keeps everything.
	FirstRunMaxAge time.Duration
}

type Tracker struct {
	store  Store
	cfg    Config
	now    func() time.Time
	logger *slog.Logger
}

func New(store Store, cfg Config, logger *slog.Logger) *Tracker {
	if cfg.FirstRun == "" {
		cfg.FirstRun = FirstRunAll
	}
	return &Tracker{
		store:  store,
		cfg:    cfg,
		now:    time.Now,
		logger: logger,
	}
}

// Result is the outcome of a diff.
type Result struct {
	// New holds the entries to deliver, oldest first.
	New []domain.Entry
	// Baseline is set when a first run should only record progress.
	Baseline *domain.Entry
	// FirstRun reports that no state existed for the source.
	FirstRun bool
}

// Diff returns the entries newer than the stored high-water mark. It never
// writes, so calling it twice without a commit yields the same result.
func (t *Tracker) Diff(ctx context.Context, src domain.Source, entries []domain.Entry) (*Result, error) {
	state, err := t.store.Get(ctx, src.ID)
	if err != nil {
		return nil, fmt.Errorf("load sync state: %w", err)
	}

	sorted := slices.Clone(entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.After(sorted[j].Timestamp)
	})

	if state.Empty() {
		return t.firstRun(src, sorted), nil
	}

	var fresh []domain.Entry
	for _, e := range sorted {
		if state.LastIdentifier != "" && e.Identifier == state.LastIdentifier {
			break
		}
		if !state.LastTimestamp.IsZero() && !e.Timestamp.After(state.LastTimestamp) {
			break
		}
		fresh = append(fresh, e)
	}
	slices.Reverse(fresh)

	t.logger.Debug("diffed entries",
		"source", src.ID,
		"fetched", len(entries),
		"new", len(fresh),
		"last_identifier", state.LastIdentifier,
	)

	return &Result{New: fresh}, nil
}

func (t *Tracker) firstRun(src domain.Source, newestFirst []domain.Entry) *Result {
	res := &Result{FirstRun: true}
	if len(newestFirst) == 0 {
		return res
	}

	if t.cfg.FirstRun == FirstRunBaseline {
		newest := newestFirst[0]
		res.Baseline = &newest
		t.logger.Info("first run, adopting baseline",
			"source", src.ID,
			"identifier", newest.Identifier,
		)
		return res
	}

	fresh := newestFirst
	if t.cfg.FirstRunMaxAge > 0 {
		cutoff := t.now().Add(-t.cfg.FirstRunMaxAge)
		fresh = lo.Filter(fresh, func(e domain.Entry, _ int) bool {
			return e.Timestamp.After(cutoff)
		})
	}
	fresh = slices.Clone(fresh)
	slices.Reverse(fresh)
	res.New = fresh

	t.logger.Info("first run, delivering backlog", "source", src.ID, "count", len(fresh))
	return res
}

// Commit advances the high-water mark to the newest delivered entry. The
// stored timestamp never moves backwards.
func (t *Tracker) Commit(ctx context.Context, src domain.Source, delivered []domain.Entry) (*domain.SyncState, error) {
	if len(delivered) == 0 {
		return nil, nil
	}
	return t.advance(ctx, src, newest(delivered), int64(len(delivered)))
}

// AdoptBaseline records e as already seen without counting it as delivered.
func (t *Tracker) AdoptBaseline(ctx context.Context, src domain.Source, e domain.Entry) (*domain.SyncState, error) {
	return t.advance(ctx, src, e, 0)
}

func (t *Tracker) advance(ctx context.Context, src domain.Source, e domain.Entry, count int64) (*domain.SyncState, error) {
	state, err := t.store.Get(ctx, src.ID)
	if err != nil {
		return nil, fmt.Errorf("load sync state: %w", err)
	}

	next := &domain.SyncState{
		SourceID:       src.ID,
		LastIdentifier: e.Identifier,
		LastTimestamp:  e.Timestamp,
		TotalDelivered: state.TotalDelivered + count,
		UpdatedAt:      t.now().UTC(),
	}

	if !state.Empty() && e.Timestamp.Before(state.LastTimestamp) {
		t.logger.Warn("refusing to move sync state backwards",
			"source", src.ID,
			"stored", state.LastTimestamp,
			"candidate", e.Timestamp,
		)
		next.LastIdentifier = state.LastIdentifier
		next.LastTimestamp = state.LastTimestamp
	}

	if err := t.store.Update(ctx, next); err != nil {
		return nil, fmt.Errorf("update sync state: %w", err)
	}
	return next, nil
}

// newest picks the entry with the latest timestamp, preferring the later
// one in delivery order on ties.
func newest(entries []domain.Entry) domain.Entry {
	best := entries[0]
	for _, e := range entries[1:] {
		if !e.Timestamp.Before(best.Timestamp) {
			best = e
		}
	}
	return best
}
