package cli

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"feed_relay/internal/config"
	"feed_relay/internal/domain"
	"feed_relay/internal/storage/file"
	"feed_relay/internal/storage/postgres"
	"feed_relay/internal/storage/sqlite"
)

type stateStore interface {
	Get(ctx context.Context, sourceID string) (*domain.SyncState, error)
	Update(ctx context.Context, state *domain.SyncState) error
	List(ctx context.Context) ([]domain.SyncState, error)
	Delete(ctx context.Context, sourceID string) (bool, error)
}

type deliveryLog interface {
	Record(ctx context.Context, records []domain.DeliveryRecord) error
	Recent(ctx context.Context, sourceID string, limit int) ([]domain.DeliveryRecord, error)
}

type storage struct {
	states     stateStore
	deliveries deliveryLog
	close      func() error
}

// openStorage opens the configured driver. The file driver keeps no
// delivery log, so deliveries is nil for it.
func openStorage(cfg config.StorageConfig, db config.DatabaseConfig) (*storage, error) {
	switch cfg.Driver {
	case "file":
		store, err := file.Open(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open state file: %w", err)
		}
		return &storage{states: store, close: func() error { return nil }}, nil

	case "sqlite":
		store, err := sqlite.Open(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		return &storage{states: store, deliveries: store, close: store.Close}, nil

	case "postgres":
		conn, err := sqlx.Connect("postgres", db.DSN())
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		if err := conn.Ping(); err != nil {
			conn.Close()
			return nil, fmt.Errorf("ping database: %w", err)
		}
		txManager := postgres.NewTransactionManager(conn)
		return &storage{
			states:     postgres.NewSyncStateStore(conn),
			deliveries: postgres.NewDeliveryLog(conn, txManager),
			close:      conn.Close,
		}, nil
	}
	return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
}
