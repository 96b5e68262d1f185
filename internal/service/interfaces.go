package service

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

import (
	"context"

	"feed_relay/internal/delivery"
	"feed_relay/internal/domain"
	"feed_relay/internal/publisher"
	"feed_relay/internal/tracker"
)

type Fetcher interface {
	Fetch(ctx context.Context, src domain.Source) ([]domain.RawEntry, error)
}

type Normalizer interface {
	Normalize(raws []domain.RawEntry) []domain.Entry
}

type SyncTracker interface {
	Diff(ctx context.Context, src domain.Source, entries []domain.Entry) (*tracker.Result, error)
	Commit(ctx context.Context, src domain.Source, delivered []domain.Entry) (*domain.SyncState, error)
	AdoptBaseline(ctx context.Context, src domain.Source, e domain.Entry) (*domain.SyncState, error)
}

type Renderer interface {
	Render(ctx context.Context, src domain.Source, entries []domain.Entry) []domain.Message
}

type Deliverer interface {
	Deliver(ctx context.Context, req delivery.Request) *delivery.Report
}

type DeliveryLog interface {
	Record(ctx context.Context, records []domain.DeliveryRecord) error
}

type Publisher interface {
	Publish(ctx context.Context, msg publisher.DeliveredMessage) error
	Close() error
}
