//go:build integration

package postgres

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"feed_relay/internal/domain"
)

type PostgresIntegrationSuite struct {
	suite.Suite
	ctx       context.Context
	container *postgres.PostgresContainer
	db        *sqlx.DB
}

func (s *PostgresIntegrationSuite) SetupSuite() {
	s.ctx = context.Background()

	migrationsPath, err := filepath.Abs("../../../migrations")
	s.Require().NoError(err)

	container, err := postgres.Run(s.ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("test_db"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		postgres.WithInitScripts(
			filepath.Join(migrationsPath, "001_create_sync_state.up.sql"),
			filepath.Join(migrationsPath, "002_create_deliveries.up.sql"),
		),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	s.Require().NoError(err)
	s.container = container

	connStr, err := container.ConnectionString(s.ctx, "sslmode=disable")
	s.Require().NoError(err)

	db, err := sqlx.Connect("postgres", connStr)
	s.Require().NoError(err)
	s.db = db
}

func (s *PostgresIntegrationSuite) TearDownSuite() {
	if s.db != nil {
		s.db.Close()
	}
	if s.container != nil {
		_ = s.container.Terminate(s.ctx)
	}
}

func (s *PostgresIntegrationSuite) SetupTest() {
	_, _ = s.db.ExecContext(s.ctx, "DELETE FROM deliveries")
	_, _ = s.db.ExecContext(s.ctx, "DELETE FROM sync_state")
}

func TestPostgresIntegrationSuite(t *testing.T) {
	suite.Run(t, new(PostgresIntegrationSuite))
}

func (s *PostgresIntegrationSuite) TestSyncState_GetMissingReturnsEmpty() {
	store := NewSyncStateStore(s.db)

	state, err := store.Get(s.ctx, "nope")

	s.NoError(err)
	s.Equal("nope", state.SourceID)
	s.True(state.Empty())
}

func (s *PostgresIntegrationSuite) TestSyncState_UpdateAndGet() {
	store := NewSyncStateStore(s.db)
	now := time.Now().UTC().Truncate(time.Microsecond)

	err := store.Update(s.ctx, &domain.SyncState{
		SourceID:       "bbc",
		LastIdentifier: "guid-1",
		LastTimestamp:  now,
		TotalDelivered: 3,
		UpdatedAt:      now,
	})
	s.Require().NoError(err)

	state, err := store.Get(s.ctx, "bbc")
	s.Require().NoError(err)
	s.Equal("guid-1", state.LastIdentifier)
	s.True(now.Equal(state.LastTimestamp))
	s.Equal(int64(3), state.TotalDelivered)
}

func (s *PostgresIntegrationSuite) TestSyncState_UpdateNeverRegresses() {
	store := NewSyncStateStore(s.db)
	now := time.Now().UTC().Truncate(time.Microsecond)

	s.Require().NoError(store.Update(s.ctx, &domain.SyncState{SourceID: "bbc", LastIdentifier: "new", LastTimestamp: now, UpdatedAt: now}))
	s.Require().NoError(store.Update(s.ctx, &domain.SyncState{SourceID: "bbc", LastIdentifier: "old", LastTimestamp: now.Add(-time.Hour), UpdatedAt: now}))

	state, err := store.Get(s.ctx, "bbc")
	s.Require().NoError(err)
	s.Equal("new", state.LastIdentifier)
}

func (s *PostgresIntegrationSuite) TestSyncState_ListAndDelete() {
	store := NewSyncStateStore(s.db)
	now := time.Now().UTC().Truncate(time.Microsecond)

	for _, id := range []string{"b", "a"} {
		s.Require().NoError(store.Update(s.ctx, &domain.SyncState{SourceID: id, LastIdentifier: id, LastTimestamp: now, UpdatedAt: now}))
	}

	states, err := store.List(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(states, 2)
	s.Equal("a", states[0].SourceID)

	deleted, err := store.Delete(s.ctx, "a")
	s.NoError(err)
	s.True(deleted)

	deleted, err = store.Delete(s.ctx, "a")
	s.NoError(err)
	s.False(deleted)
}

func (s *PostgresIntegrationSuite) TestDeliveryLog_RecordAndRecent() {
	log := NewDeliveryLog(s.db, NewTransactionManager(s.db))
	now := time.Now().UTC().Truncate(time.Microsecond)

	err := log.Record(s.ctx, []domain.DeliveryRecord{
		{SourceID: "bbc", Identifier: "1", Title: "one", Outcome: domain.OutcomeSent, DeliveredAt: now.Add(-time.Minute)},
		{SourceID: "bbc", Identifier: "2", Title: "two", Outcome: domain.OutcomeSentDegraded, DeliveredAt: now},
		{SourceID: "cnn", Identifier: "3", Title: "three", Outcome: domain.OutcomeSent, DeliveredAt: now},
	})
	s.Require().NoError(err)

	records, err := log.Recent(s.ctx, "bbc", 10)
	s.Require().NoError(err)
	s.Require().Len(records, 2)
	s.Equal("2", records[0].Identifier)
	s.Equal(domain.OutcomeSentDegraded, records[0].Outcome)
}

func (s *PostgresIntegrationSuite) TestDeliveryLog_RecordIsAtomic() {
	log := NewDeliveryLog(s.db, NewTransactionManager(s.db))
	now := time.Now().UTC()

	// the second outcome is wider than the column, which rolls back the first row
	err := log.Record(s.ctx, []domain.DeliveryRecord{
		{SourceID: "bbc", Identifier: "1", Outcome: domain.OutcomeSent, DeliveredAt: now},
		{SourceID: "bbc", Identifier: "2", Outcome: domain.DeliveryOutcome(strings.Repeat("x", 64)), DeliveredAt: now},
	})
	s.Error(err)

	var count int
	s.Require().NoError(s.db.GetContext(s.ctx, &count, "SELECT COUNT(*) FROM deliveries"))
	s.Zero(count)
}
