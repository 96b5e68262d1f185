package service

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"feed_relay/internal/delivery"
	"feed_relay/internal/domain"
	"feed_relay/internal/publisher"
	"feed_relay/internal/service/mocks"
	"feed_relay/internal/tracker"
)

type PipelineTestSuite struct {
	suite.Suite
	ctrl *gomock.Controller

	fetcher    *mocks.MockFetcher
	normalizer *mocks.MockNormalizer
	tracker    *mocks.MockSyncTracker
	renderer   *mocks.MockRenderer
	deliverer  *mocks.MockDeliverer
	deliveries *mocks.MockDeliveryLog
	publisher  *mocks.MockPublisher

	source domain.Source
	logger *slog.Logger
}

func (s *PipelineTestSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())

	s.fetcher = mocks.NewMockFetcher(s.ctrl)
	s.normalizer = mocks.NewMockNormalizer(s.ctrl)
	s.tracker = mocks.NewMockSyncTracker(s.ctrl)
	s.renderer = mocks.NewMockRenderer(s.ctrl)
	s.deliverer = mocks.NewMockDeliverer(s.ctrl)
	s.deliveries = mocks.NewMockDeliveryLog(s.ctrl)
	s.publisher = mocks.NewMockPublisher(s.ctrl)

	s.source = domain.Source{
		ID:         "news",
		Name:       "News",
		Kind:       domain.SourceKindFeed,
		URL:        "https://example.com/feed",
		Policy:     domain.PolicyFull,
		Recipients: []string{"@news"},
		Channel:    "main",
	}

	s.logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func (s *PipelineTestSuite) TearDownTest() {
	s.ctrl.Finish()
}

func TestPipelineTestSuite(t *testing.T) {
	suite.Run(t, new(PipelineTestSuite))
}

func (s *PipelineTestSuite) newPipeline(sources ...domain.Source) *Pipeline {
	if len(sources) == 0 {
		sources = []domain.Source{s.source}
	}
	return NewPipeline(
		sources,
		map[domain.SourceKind]Fetcher{domain.SourceKindFeed: s.fetcher},
		s.normalizer,
		s.tracker,
		s.renderer,
		s.deliverer,
		s.deliveries,
		s.publisher,
		s.logger,
		Config{Parallelism: 2, MaxMessageBytes: 4096},
	)
}

func testEntries(now time.Time) []domain.Entry {
	return []domain.Entry{
		{Identifier: "a", Timestamp: now.Add(-2 * time.Hour), Title: "A", Link: "https://example.com/a"},
		{Identifier: "b", Timestamp: now.Add(-time.Hour), Title: "B", Link: "https://example.com/b"},
	}
}

func report(outcomes ...domain.DeliveryOutcome) *delivery.Report {
	r := &delivery.Report{}
	for i, o := range outcomes {
		r.Results = append(r.Results, delivery.Result{Chunk: i, Recipient: "@news", Outcome: o, Attempts: 1})
	}
	return r
}

func (s *PipelineTestSuite) TestRun_DeliversAndCommits() {
	ctx := context.Background()
	entries := testEntries(time.Now())
	raws := []domain.RawEntry{{GUID: "a"}, {GUID: "b"}}

	s.fetcher.EXPECT().Fetch(gomock.Any(), s.source).Return(raws, nil)
	s.normalizer.EXPECT().Normalize(raws).Return(entries)
	s.tracker.EXPECT().Diff(gomock.Any(), s.source, entries).Return(&tracker.Result{New: entries}, nil)
	s.renderer.EXPECT().Render(gomock.Any(), s.source, entries).Return([]domain.Message{
		{Body: "*A*", Entries: entries[:1]},
		{Body: "*B*", Entries: entries[1:]},
	})

	var bodies []string
	s.deliverer.EXPECT().Deliver(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, req delivery.Request) *delivery.Report {
			s.Equal("main", req.Channel)
			s.Equal([]string{"@news"}, req.Recipients)
			bodies = append(bodies, req.Chunks...)
			return report(domain.OutcomeSent)
		}).Times(2)

	s.deliveries.EXPECT().Record(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, records []domain.DeliveryRecord) error {
			s.Require().Len(records, 2)
			s.Equal("a", records[0].Identifier)
			s.Equal(domain.OutcomeSent, records[1].Outcome)
			return nil
		})
	s.tracker.EXPECT().Commit(gomock.Any(), s.source, entries).
		Return(&domain.SyncState{SourceID: "news", LastIdentifier: "b"}, nil)

	var published []string
	s.publisher.EXPECT().Publish(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, msg publisher.DeliveredMessage) error {
			published = append(published, msg.Entry.Identifier)
			return nil
		}).Times(2)

	p := s.newPipeline()
	stats, err := p.Run(ctx)

	s.Require().NoError(err)
	s.Require().Len(stats.Sources, 1)
	res := stats.Sources[0]
	s.Equal(domain.StatusDone, res.Status)
	s.True(res.Committed)
	s.Equal(2, res.Fetched)
	s.Equal(2, res.New)
	s.Equal(2, res.Messages)
	s.Equal(2, res.Sent)
	s.Equal([]string{"*A*", "*B*"}, bodies)
	s.Equal([]string{"a", "b"}, published)
	s.NotEmpty(stats.RunID)
	s.Same(stats, p.LastRun())
}

func (s *PipelineTestSuite) TestRun_PartialFailureSkipsCommit() {
	ctx := context.Background()
	entries := testEntries(time.Now())

	s.fetcher.EXPECT().Fetch(gomock.Any(), s.source).Return(nil, nil)
	s.normalizer.EXPECT().Normalize(gomock.Any()).Return(entries)
	s.tracker.EXPECT().Diff(gomock.Any(), s.source, entries).Return(&tracker.Result{New: entries}, nil)
	s.renderer.EXPECT().Render(gomock.Any(), s.source, entries).Return([]domain.Message{
		{Body: "*A*", Entries: entries[:1]},
		{Body: "*B*", Entries: entries[1:]},
	})
	gomock.InOrder(
		s.deliverer.EXPECT().Deliver(gomock.Any(), gomock.Any()).Return(report(domain.OutcomeSent)),
		s.deliverer.EXPECT().Deliver(gomock.Any(), gomock.Any()).Return(report(domain.OutcomeFailedAfterRetries)),
	)
	s.deliveries.EXPECT().Record(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, records []domain.DeliveryRecord) error {
			s.Require().Len(records, 2)
			s.Equal(domain.OutcomeSent, records[0].Outcome)
			s.Equal(domain.OutcomeFailedAfterRetries, records[1].Outcome)
			return nil
		})
	s.tracker.EXPECT().Commit(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)
	s.publisher.EXPECT().Publish(gomock.Any(), gomock.Any()).Times(0)

	stats, err := s.newPipeline().Run(ctx)

	s.Require().Error(err)
	res := stats.Sources[0]
	s.Equal(domain.StatusSkippedCommit, res.Status)
	s.False(res.Committed)
	s.Equal(1, res.Sent)
	s.Equal(1, res.Failed)
}

func (s *PipelineTestSuite) TestRun_DegradedDeliveryCommits() {
	ctx := context.Background()
	entries := testEntries(time.Now())[:1]

	s.fetcher.EXPECT().Fetch(gomock.Any(), s.source).Return(nil, nil)
	s.normalizer.EXPECT().Normalize(gomock.Any()).Return(entries)
	s.tracker.EXPECT().Diff(gomock.Any(), s.source, entries).Return(&tracker.Result{New: entries}, nil)
	s.renderer.EXPECT().Render(gomock.Any(), s.source, entries).
		Return([]domain.Message{{Body: "*A*", Entries: entries}})
	s.deliverer.EXPECT().Deliver(gomock.Any(), gomock.Any()).Return(report(domain.OutcomeSentDegraded))
	s.deliveries.EXPECT().Record(gomock.Any(), gomock.Any()).Return(nil)
	s.tracker.EXPECT().Commit(gomock.Any(), s.source, entries).Return(&domain.SyncState{}, nil)
	s.publisher.EXPECT().Publish(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, msg publisher.DeliveredMessage) error {
			s.Equal(domain.OutcomeSentDegraded, msg.Outcome)
			return nil
		})

	stats, err := s.newPipeline().Run(ctx)

	s.Require().NoError(err)
	s.Equal(1, stats.Sources[0].Degraded)
	s.True(stats.Sources[0].Committed)
}

func (s *PipelineTestSuite) TestRun_SplitsLongMessages() {
	ctx := context.Background()
	entries := testEntries(time.Now())[:1]
	body := strings.Repeat("para\n\n", 30)

	s.fetcher.EXPECT().Fetch(gomock.Any(), s.source).Return(nil, nil)
	s.normalizer.EXPECT().Normalize(gomock.Any()).Return(entries)
	s.tracker.EXPECT().Diff(gomock.Any(), s.source, entries).Return(&tracker.Result{New: entries}, nil)
	s.renderer.EXPECT().Render(gomock.Any(), s.source, entries).
		Return([]domain.Message{{Body: body, Entries: entries}})
	s.deliverer.EXPECT().Deliver(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, req delivery.Request) *delivery.Report {
			s.Greater(len(req.Chunks), 1)
			for _, c := range req.Chunks {
				s.LessOrEqual(len(c), 40)
			}
			outcomes := make([]domain.DeliveryOutcome, len(req.Chunks))
			for i := range outcomes {
				outcomes[i] = domain.OutcomeSent
			}
			return report(outcomes...)
		})
	s.deliveries.EXPECT().Record(gomock.Any(), gomock.Any()).Return(nil)
	s.tracker.EXPECT().Commit(gomock.Any(), s.source, entries).Return(&domain.SyncState{}, nil)
	s.publisher.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(nil)

	p := NewPipeline(
		[]domain.Source{s.source},
		map[domain.SourceKind]Fetcher{domain.SourceKindFeed: s.fetcher},
		s.normalizer, s.tracker, s.renderer, s.deliverer, s.deliveries, s.publisher,
		s.logger,
		Config{Parallelism: 1, MaxMessageBytes: 40},
	)
	stats, err := p.Run(ctx)

	s.Require().NoError(err)
	s.Equal(1, stats.Sources[0].Messages)
	s.Greater(stats.Sources[0].Chunks, 1)
}

func (s *PipelineTestSuite) TestRun_NothingNew() {
	ctx := context.Background()
	entries := testEntries(time.Now())

	s.fetcher.EXPECT().Fetch(gomock.Any(), s.source).Return(nil, nil)
	s.normalizer.EXPECT().Normalize(gomock.Any()).Return(entries)
	s.tracker.EXPECT().Diff(gomock.Any(), s.source, entries).Return(&tracker.Result{}, nil)

	stats, err := s.newPipeline().Run(ctx)

	s.Require().NoError(err)
	s.Equal(domain.StatusDone, stats.Sources[0].Status)
	s.False(stats.Sources[0].Committed)
	s.Equal(0, stats.Sources[0].New)
}

func (s *PipelineTestSuite) TestRun_AdoptsBaseline() {
	ctx := context.Background()
	entries := testEntries(time.Now())

	s.fetcher.EXPECT().Fetch(gomock.Any(), s.source).Return(nil, nil)
	s.normalizer.EXPECT().Normalize(gomock.Any()).Return(entries)
	s.tracker.EXPECT().Diff(gomock.Any(), s.source, entries).
		Return(&tracker.Result{Baseline: &entries[1], FirstRun: true}, nil)
	s.tracker.EXPECT().AdoptBaseline(gomock.Any(), s.source, entries[1]).
		Return(&domain.SyncState{LastIdentifier: "b"}, nil)

	stats, err := s.newPipeline().Run(ctx)

	s.Require().NoError(err)
	s.Equal(domain.StatusDone, stats.Sources[0].Status)
	s.True(stats.Sources[0].Committed)
	s.Equal(0, stats.Sources[0].Messages)
}

func (s *PipelineTestSuite) TestRun_CommitFailure() {
	ctx := context.Background()
	entries := testEntries(time.Now())[:1]

	s.fetcher.EXPECT().Fetch(gomock.Any(), s.source).Return(nil, nil)
	s.normalizer.EXPECT().Normalize(gomock.Any()).Return(entries)
	s.tracker.EXPECT().Diff(gomock.Any(), s.source, entries).Return(&tracker.Result{New: entries}, nil)
	s.renderer.EXPECT().Render(gomock.Any(), s.source, entries).
		Return([]domain.Message{{Body: "*A*", Entries: entries}})
	s.deliverer.EXPECT().Deliver(gomock.Any(), gomock.Any()).Return(report(domain.OutcomeSent))
	s.deliveries.EXPECT().Record(gomock.Any(), gomock.Any()).Return(errors.New("disk full"))
	s.tracker.EXPECT().Commit(gomock.Any(), s.source, entries).Return(nil, errors.New("db down"))
	s.publisher.EXPECT().Publish(gomock.Any(), gomock.Any()).Times(0)

	stats, err := s.newPipeline().Run(ctx)

	s.Require().Error(err)
	s.Equal(domain.StatusCommitFailed, stats.Sources[0].Status)
	s.Contains(stats.Sources[0].Error, "db down")
}

func (s *PipelineTestSuite) TestRun_SourcesAreIsolated() {
	ctx := context.Background()
	broken := s.source
	broken.ID = "broken"
	panicky := s.source
	panicky.ID = "panicky"
	unknown := s.source
	unknown.ID = "unknown"
	unknown.Kind = "carrier-pigeon"

	entries := testEntries(time.Now())[:1]

	s.fetcher.EXPECT().Fetch(gomock.Any(), broken).
		Return(nil, errors.New("connection refused"))
	s.fetcher.EXPECT().Fetch(gomock.Any(), panicky).
		DoAndReturn(func(context.Context, domain.Source) ([]domain.RawEntry, error) {
			panic("boom")
		})
	s.fetcher.EXPECT().Fetch(gomock.Any(), s.source).Return(nil, nil)
	s.normalizer.EXPECT().Normalize(gomock.Any()).Return(entries)
	s.tracker.EXPECT().Diff(gomock.Any(), s.source, entries).Return(&tracker.Result{}, nil)

	stats, err := s.newPipeline(broken, panicky, unknown, s.source).Run(ctx)

	s.Require().Error(err)
	s.Require().Len(stats.Sources, 4)
	s.Equal(3, stats.Failed())

	byID := make(map[string]domain.SourceResult)
	for _, r := range stats.Sources {
		byID[r.SourceID] = r
	}
	s.Equal(domain.StatusFailed, byID["broken"].Status)
	s.Contains(byID["broken"].Error, "connection refused")
	s.Equal(domain.StatusFailed, byID["panicky"].Status)
	s.Contains(byID["panicky"].Error, "boom")
	s.Equal(domain.StatusFailed, byID["unknown"].Status)
	s.Equal(domain.StatusDone, byID["news"].Status)
}

func (s *PipelineTestSuite) TestRun_WithoutOptionalSinks() {
	ctx := context.Background()
	entries := testEntries(time.Now())[:1]

	s.fetcher.EXPECT().Fetch(gomock.Any(), s.source).Return(nil, nil)
	s.normalizer.EXPECT().Normalize(gomock.Any()).Return(entries)
	s.tracker.EXPECT().Diff(gomock.Any(), s.source, entries).Return(&tracker.Result{New: entries}, nil)
	s.renderer.EXPECT().Render(gomock.Any(), s.source, entries).
		Return([]domain.Message{{Body: "*A*", Entries: entries}})
	s.deliverer.EXPECT().Deliver(gomock.Any(), gomock.Any()).Return(report(domain.OutcomeSent))
	s.tracker.EXPECT().Commit(gomock.Any(), s.source, entries).Return(&domain.SyncState{}, nil)

	p := NewPipeline(
		[]domain.Source{s.source},
		map[domain.SourceKind]Fetcher{domain.SourceKindFeed: s.fetcher},
		s.normalizer, s.tracker, s.renderer, s.deliverer, nil, nil,
		s.logger,
		Config{},
	)
	stats, err := p.Run(ctx)

	s.Require().NoError(err)
	s.True(stats.Sources[0].Committed)
}

func (s *PipelineTestSuite) TestRun_CancelledContext() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s.fetcher.EXPECT().Fetch(gomock.Any(), s.source).Return(nil, context.Canceled)

	stats, err := s.newPipeline().Run(ctx)

	s.Require().ErrorIs(err, context.Canceled)
	s.Equal(domain.StatusFailed, stats.Sources[0].Status)
}

func TestWorstOutcome(t *testing.T) {
	r := report(domain.OutcomeSent, domain.OutcomeFailedPermanent, domain.OutcomeSentDegraded)
	if got := worstOutcome(r); got != domain.OutcomeFailedPermanent {
		t.Fatalf("worstOutcome = %s", got)
	}
	if got := worstOutcome(&delivery.Report{}); got != domain.OutcomeSent {
		t.Fatalf("empty report = %s", got)
	}
}
