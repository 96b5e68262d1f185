package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"feed_relay/internal/domain"
)

type SyncStateStore struct {
	db *sqlx.DB
}

func NewSyncStateStore(db *sqlx.DB) *SyncStateStore {
	return &SyncStateStore{db: db}
}

func (s *SyncStateStore) Get(ctx context.Context, sourceID string) (*domain.SyncState, error) {
	var state domain.SyncState
	query := `
		SELECT source_id, last_identifier, last_timestamp, total_delivered, updated_at
		FROM sync_state
		WHERE source_id = $1`

	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &state, query, sourceID)
	if errors.Is(err, sql.ErrNoRows) {
		// Return empty state for new sources
		return &domain.SyncState{SourceID: sourceID}, nil
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

// Update upserts the state. A row whose last_timestamp is newer than the
// incoming one is left untouched.
func (s *SyncStateStore) Update(ctx context.Context, state *domain.SyncState) error {
	query := `
		INSERT INTO sync_state (source_id, last_identifier, last_timestamp, total_delivered, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (source_id) DO UPDATE SET
			last_identifier = EXCLUDED.last_identifier,
			last_timestamp = EXCLUDED.last_timestamp,
			total_delivered = EXCLUDED.total_delivered,
			updated_at = EXCLUDED.updated_at
		WHERE sync_state.last_timestamp <= EXCLUDED.last_timestamp`

	_, err := GetExecutor(ctx, s.db).ExecContext(ctx, query,
		state.SourceID,
		state.LastIdentifier,
		state.LastTimestamp,
		state.TotalDelivered,
		state.UpdatedAt,
	)
	return err
}

func (s *SyncStateStore) List(ctx context.Context) ([]domain.SyncState, error) {
	var states []domain.SyncState
	query := `
		SELECT source_id, last_identifier, last_timestamp, total_delivered, updated_at
		FROM sync_state
		ORDER BY source_id`

	if err := sqlx.SelectContext(ctx, s.db, &states, query); err != nil {
		return nil, err
	}
	return states, nil
}

// Delete removes the state of one source and reports whether it existed.
func (s *SyncStateStore) Delete(ctx context.Context, sourceID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sync_state WHERE source_id = $1`, sourceID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
