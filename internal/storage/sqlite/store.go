// Package sqlite keeps sync state and the delivery log in an embedded
// SQLite database. Timestamps are stored as Unix nanoseconds.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"feed_relay/internal/domain"
)

//go:embed schema.sql
var schemaSQL string

type Store struct {
	db *sqlx.DB
}

func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("path is required")
	}

	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type stateRow struct {
	SourceID       string `db:"source_id"`
	LastIdentifier string `db:"last_identifier"`
	LastTimestamp  int64  `db:"last_timestamp"`
	TotalDelivered int64  `db:"total_delivered"`
	UpdatedAt      int64  `db:"updated_at"`
}

func (r stateRow) toDomain() domain.SyncState {
	return domain.SyncState{
		SourceID:       r.SourceID,
		LastIdentifier: r.LastIdentifier,
		LastTimestamp:  fromNanos(r.LastTimestamp),
		TotalDelivered: r.TotalDelivered,
		UpdatedAt:      fromNanos(r.UpdatedAt),
	}
}

func (s *Store) Get(ctx context.Context, sourceID string) (*domain.SyncState, error) {
	var row stateRow
	err := s.db.GetContext(ctx, &row, `
		SELECT source_id, last_identifier, last_timestamp, total_delivered, updated_at
		FROM sync_state
		WHERE source_id = ?`, sourceID)
	if errors.Is(err, sql.ErrNoRows) {
		return &domain.SyncState{SourceID: sourceID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get sync state: %w", err)
	}
	state := row.toDomain()
	return &state, nil
}

// Update upserts the state unless the stored timestamp is newer.
func (s *Store) Update(ctx context.Context, state *domain.SyncState) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_state (source_id, last_identifier, last_timestamp, total_delivered, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(source_id) DO UPDATE SET
			last_identifier = excluded.last_identifier,
			last_timestamp = excluded.last_timestamp,
			total_delivered = excluded.total_delivered,
			updated_at = excluded.updated_at
		WHERE excluded.last_timestamp >= sync_state.last_timestamp`,
		state.SourceID,
		state.LastIdentifier,
		toNanos(state.LastTimestamp),
		state.TotalDelivered,
		toNanos(state.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("update sync state: %w", err)
	}
	return nil
}

func (s *Store) List(ctx context.Context) ([]domain.SyncState, error) {
	var rows []stateRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT source_id, last_identifier, last_timestamp, total_delivered, updated_at
		FROM sync_state
		ORDER BY source_id`)
	if err != nil {
		return nil, fmt.Errorf("list sync state: %w", err)
	}

	states := make([]domain.SyncState, 0, len(rows))
	for _, r := range rows {
		states = append(states, r.toDomain())
	}
	return states, nil
}

func (s *Store) Delete(ctx context.Context, sourceID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sync_state WHERE source_id = ?`, sourceID)
	if err != nil {
		return false, fmt.Errorf("delete sync state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) Record(ctx context.Context, records []domain.DeliveryRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	for _, r := range records {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO deliveries (source_id, identifier, title, link, outcome, delivered_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(source_id, identifier) DO UPDATE SET
				title = excluded.title,
				link = excluded.link,
				outcome = excluded.outcome,
				delivered_at = excluded.delivered_at`,
			r.SourceID, r.Identifier, r.Title, r.Link, string(r.Outcome), toNanos(r.DeliveredAt),
		)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert delivery %s: %w", r.Identifier, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit deliveries: %w", err)
	}
	return nil
}

type deliveryRow struct {
	SourceID    string `db:"source_id"`
	Identifier  string `db:"identifier"`
	Title       string `db:"title"`
	Link        string `db:"link"`
	Outcome     string `db:"outcome"`
	DeliveredAt int64  `db:"delivered_at"`
}

func (s *Store) Recent(ctx context.Context, sourceID string, limit int) ([]domain.DeliveryRecord, error) {
	var rows []deliveryRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT source_id, identifier, title, link, outcome, delivered_at
		FROM deliveries
		WHERE source_id = ?
		ORDER BY delivered_at DESC
		LIMIT ?`, sourceID, limit)
	if err != nil {
		return nil, fmt.Errorf("list deliveries: %w", err)
	}

	records := make([]domain.DeliveryRecord, 0, len(rows))
	for _, r := range rows {
		records = append(records, domain.DeliveryRecord{
			SourceID:    r.SourceID,
			Identifier:  r.Identifier,
			Title:       r.Title,
			Link:        r.Link,
			Outcome:     domain.DeliveryOutcome(r.Outcome),
			DeliveredAt: fromNanos(r.DeliveredAt),
		})
	}
	return records, nil
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
