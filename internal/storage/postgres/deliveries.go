package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"feed_relay/internal/domain"
)

// DeliveryLog keeps one row per delivered entry, overwritten on redelivery.
type DeliveryLog struct {
	db *sqlx.DB
	tx *TransactionManager
}

func NewDeliveryLog(db *sqlx.DB, tx *TransactionManager) *DeliveryLog {
	return &DeliveryLog{db: db, tx: tx}
}

// Record stores a batch atomically.
func (l *DeliveryLog) Record(ctx context.Context, records []domain.DeliveryRecord) error {
	if len(records) == 0 {
		return nil
	}

	query := `
		INSERT INTO deliveries (source_id, identifier, title, link, outcome, delivered_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (source_id, identifier) DO UPDATE SET
			title = EXCLUDED.title,
			link = EXCLUDED.link,
			outcome = EXCLUDED.outcome,
			delivered_at = EXCLUDED.delivered_at`

	return l.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		exec := GetExecutor(txCtx, l.db)
		for _, r := range records {
			if _, err := exec.ExecContext(txCtx, query,
				r.SourceID,
				r.Identifier,
				r.Title,
				r.Link,
				string(r.Outcome),
				r.DeliveredAt,
			); err != nil {
				return fmt.Errorf("insert delivery %s: %w", r.Identifier, err)
			}
		}
		return nil
	})
}

// Recent returns the latest records of a source, newest first.
func (l *DeliveryLog) Recent(ctx context.Context, sourceID string, limit int) ([]domain.DeliveryRecord, error) {
	var records []domain.DeliveryRecord
	query := `
		SELECT source_id, identifier, title, link, outcome, delivered_at
		FROM deliveries
		WHERE source_id = $1
		ORDER BY delivered_at DESC
		LIMIT $2`

	if err := sqlx.SelectContext(ctx, l.db, &records, query, sourceID, limit); err != nil {
		return nil, err
	}
	return records, nil
}
