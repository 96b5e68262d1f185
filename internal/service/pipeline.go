package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"feed_relay/internal/chunk"
	"feed_relay/internal/delivery"
	"feed_relay/internal/domain"
	"feed_relay/internal/publisher"
	"feed_relay/internal/source"
)

const (
	DefaultParallelism     = 5
	DefaultMaxMessageBytes = 4096
)

type Config struct {
	Parallelism     int
	MaxMessageBytes int
}

// Pipeline runs fetch, diff, render, chunk, deliver and commit for every
// configured source. Sources are isolated from each other: an error or a
// panic in one never affects the rest of the run.
type Pipeline struct {
	sources    []domain.Source
	fetchers   map[domain.SourceKind]Fetcher
	normalizer Normalizer
	tracker    SyncTracker
	renderer   Renderer
	deliverer  Deliverer
	deliveries DeliveryLog
	publisher  Publisher
	logger     *slog.Logger
	config     Config

	mu   sync.RWMutex
	last *domain.RunStats
	now  func() time.Time
}

// NewPipeline wires the pipeline. deliveries and publisher may be nil.
func NewPipeline(
	sources []domain.Source,
	fetchers map[domain.SourceKind]Fetcher,
	normalizer Normalizer,
	tracker SyncTracker,
	renderer Renderer,
	deliverer Deliverer,
	deliveries DeliveryLog,
	publisher Publisher,
	logger *slog.Logger,
	cfg Config,
) *Pipeline {
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = DefaultParallelism
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = DefaultMaxMessageBytes
	}
	return &Pipeline{
		sources:    sources,
		fetchers:   fetchers,
		normalizer: normalizer,
		tracker:    tracker,
		renderer:   renderer,
		deliverer:  deliverer,
		deliveries: deliveries,
		publisher:  publisher,
		logger:     logger,
		config:     cfg,
		now:        time.Now,
	}
}

func (p *Pipeline) Sources() []domain.Source {
	return p.sources
}

// LastRun returns the stats of the most recent completed run, or nil.
func (p *Pipeline) LastRun() *domain.RunStats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.last
}

// Run performs one pass over all sources. The returned error reports how
// many sources did not finish cleanly; stats are always returned.
func (p *Pipeline) Run(ctx context.Context) (*domain.RunStats, error) {
	stats := &domain.RunStats{
		RunID:     uuid.NewString(),
		StartedAt: p.now().UTC(),
		Sources:   make([]domain.SourceResult, len(p.sources)),
	}
	logger := p.logger.With("run_id", stats.RunID)

	logger.Info("starting sync",
		"sources", len(p.sources),
		"parallelism", p.config.Parallelism,
	)

	var g errgroup.Group
	g.SetLimit(p.config.Parallelism)
	for i, src := range p.sources {
		g.Go(func() error {
			stats.Sources[i] = p.syncSource(ctx, stats.RunID, src)
			return nil
		})
	}
	_ = g.Wait()

	stats.Duration = p.now().Sub(stats.StartedAt)

	p.mu.Lock()
	p.last = stats
	p.mu.Unlock()

	failed := stats.Failed()
	logger.Info("sync completed",
		"sources", len(stats.Sources),
		"failed", failed,
		"duration", stats.Duration,
	)

	if err := ctx.Err(); err != nil {
		return stats, fmt.Errorf("sync interrupted: %w", err)
	}
	if failed > 0 {
		return stats, fmt.Errorf("%d of %d sources did not complete", failed, len(stats.Sources))
	}
	return stats, nil
}

func (p *Pipeline) syncSource(ctx context.Context, runID string, src domain.Source) (res domain.SourceResult) {
	start := p.now()
	logger := p.logger.With("source", src.ID, "run_id", runID)
	res.SourceID = src.ID

	fail := func(status domain.SourceStatus, err error) domain.SourceResult {
		res.Status = status
		res.Error = err.Error()
		res.Duration = p.now().Sub(start)
		return res
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("source pipeline panicked", "panic", r)
			res = fail(domain.StatusFailed, fmt.Errorf("panic: %v", r))
		}
	}()

	fetcher, ok := p.fetchers[src.Kind]
	if !ok {
		err := fmt.Errorf("no fetcher for source kind %q", src.Kind)
		logger.Error("sync source failed", "error", err)
		return fail(domain.StatusFailed, err)
	}

	raws, err := fetcher.Fetch(ctx, src)
	if err != nil {
		logger.Error("fetch failed", "transient", source.IsTransient(err), "error", err)
		return fail(domain.StatusFailed, fmt.Errorf("fetch: %w", err))
	}

	entries := p.normalizer.Normalize(raws)
	res.Fetched = len(entries)

	diff, err := p.tracker.Diff(ctx, src, entries)
	if err != nil {
		logger.Error("diff failed", "error", err)
		return fail(domain.StatusFailed, fmt.Errorf("diff: %w", err))
	}

	if diff.Baseline != nil {
		if _, err := p.tracker.AdoptBaseline(ctx, src, *diff.Baseline); err != nil {
			logger.Error("baseline commit failed", "error", err)
			return fail(domain.StatusCommitFailed, fmt.Errorf("commit baseline: %w", err))
		}
		res.Committed = true
		res.Status = domain.StatusDone
		res.Duration = p.now().Sub(start)
		return res
	}

	res.New = len(diff.New)
	if res.New == 0 {
		logger.Info("nothing new", "fetched", res.Fetched)
		res.Status = domain.StatusDone
		res.Duration = p.now().Sub(start)
		return res
	}

	messages := p.renderer.Render(ctx, src, diff.New)

	allDelivered := true
	var (
		records   []domain.DeliveryRecord
		published []publisher.DeliveredMessage
	)
	for _, msg := range messages {
		chunks := chunk.Texts(chunk.Split(msg.Body, p.config.MaxMessageBytes))

		report := p.deliverer.Deliver(ctx, delivery.Request{
			SourceID:       src.ID,
			Channel:        src.Channel,
			Recipients:     src.Recipients,
			Chunks:         chunks,
			DisablePreview: src.DisablePreview,
		})

		sent := report.Count(domain.OutcomeSent)
		degraded := report.Count(domain.OutcomeSentDegraded)
		res.Messages++
		res.Chunks += len(chunks)
		res.Sent += sent
		res.Degraded += degraded
		res.Failed += len(report.Results) - sent - degraded
		if !report.OK() {
			allDelivered = false
		}

		outcome := worstOutcome(report)
		at := p.now().UTC()
		for _, e := range msg.Entries {
			records = append(records, domain.DeliveryRecord{
				SourceID:    src.ID,
				Identifier:  e.Identifier,
				Title:       e.Title,
				Link:        e.Link,
				Outcome:     outcome,
				DeliveredAt: at,
			})
			if outcome.Delivered() {
				published = append(published, publisher.DeliveredMessage{
					RunID:    runID,
					SourceID: src.ID,
					Entry:    e,
					Outcome:  outcome,
				})
			}
		}
	}

	if p.deliveries != nil {
		if err := p.deliveries.Record(ctx, records); err != nil {
			logger.Warn("failed to record deliveries", "error", err)
		}
	}

	if !allDelivered {
		logger.Warn("delivery incomplete, keeping sync state",
			"new", res.New,
			"failed_chunks", res.Failed,
		)
		return fail(domain.StatusSkippedCommit, fmt.Errorf("%d chunk deliveries failed", res.Failed))
	}

	state, err := p.tracker.Commit(ctx, src, diff.New)
	if err != nil {
		logger.Error("commit failed after delivery", "error", err)
		return fail(domain.StatusCommitFailed, fmt.Errorf("commit: %w", err))
	}
	res.Committed = true
	res.Status = domain.StatusDone
	res.Duration = p.now().Sub(start)

	p.publish(ctx, logger, published)

	var lastID string
	if state != nil {
		lastID = state.LastIdentifier
	}
	logger.Info("source synced",
		"fetched", res.Fetched,
		"new", res.New,
		"messages", res.Messages,
		"chunks", res.Chunks,
		"degraded", res.Degraded,
		"last_identifier", lastID,
		"duration", res.Duration,
	)
	return res
}

func (p *Pipeline) publish(ctx context.Context, logger *slog.Logger, msgs []publisher.DeliveredMessage) {
	if p.publisher == nil {
		return
	}
	for _, m := range msgs {
		if err := p.publisher.Publish(ctx, m); err != nil {
			logger.Warn("failed to publish delivery event", "identifier", m.Entry.Identifier, "error", err)
		}
	}
}

var outcomeRank = map[domain.DeliveryOutcome]int{
	domain.OutcomeSent:               0,
	domain.OutcomeSentDegraded:       1,
	domain.OutcomeFailedAfterRetries: 2,
	domain.OutcomeFailedPermanent:    3,
}

func worstOutcome(report *delivery.Report) domain.DeliveryOutcome {
	worst := domain.OutcomeSent
	for _, r := range report.Results {
		if outcomeRank[r.Outcome] > outcomeRank[worst] {
			worst = r.Outcome
		}
	}
	return worst
}
