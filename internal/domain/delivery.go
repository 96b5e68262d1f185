package domain

import "time"

type DeliveryOutcome string

const (
	OutcomeSent               DeliveryOutcome = "sent"
	OutcomeSentDegraded       DeliveryOutcome = "sent_degraded"
	OutcomeFailedPermanent    DeliveryOutcome = "failed_permanent"
	OutcomeFailedAfterRetries DeliveryOutcome = "failed_after_retries"
)

// Delivered reports whether the chunk reached the recipient in some form.
func (o DeliveryOutcome) Delivered() bool {
	return o == OutcomeSent || o == OutcomeSentDegraded
}

// DeliveryRecord is the audit entry kept for every entry handed to the
// delivery client.
type DeliveryRecord struct {
	SourceID    string          `db:"source_id" json:"source_id"`
	Identifier  string          `db:"identifier" json:"identifier"`
	Title       string          `db:"title" json:"title"`
	Link        string          `db:"link" json:"link,omitempty"`
	Outcome     DeliveryOutcome `db:"outcome" json:"outcome"`
	DeliveredAt time.Time       `db:"delivered_at" json:"delivered_at"`
}
