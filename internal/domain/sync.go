package domain

import "time"

// SyncState is the per-source high-water mark.
type SyncState struct {
	SourceID       string    `db:"source_id" json:"source_id"`
	LastIdentifier string    `db:"last_identifier" json:"last_identifier"`
	LastTimestamp  time.Time `db:"last_timestamp" json:"last_timestamp"`
	TotalDelivered int64     `db:"total_delivered" json:"total_delivered"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// Empty reports whether nothing was ever committed for the source.
func (s *SyncState) Empty() bool {
	return s == nil || (s.LastIdentifier == "" && s.LastTimestamp.IsZero())
}

type SourceStatus string

const (
	StatusDone          SourceStatus = "done"
	StatusFailed        SourceStatus = "failed"
	StatusSkippedCommit SourceStatus = "skipped_commit"
	StatusCommitFailed  SourceStatus = "commit_failed"
)

// SourceResult summarises one source within a run.
type SourceResult struct {
	SourceID  string        `json:"source_id"`
	Status    SourceStatus  `json:"status"`
	Fetched   int           `json:"fetched"`
	New       int           `json:"new"`
	Messages  int           `json:"messages"`
	Chunks    int           `json:"chunks"`
	Sent      int           `json:"sent"`
	Degraded  int           `json:"degraded"`
	Failed    int           `json:"failed"`
	Committed bool          `json:"committed"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
}

type RunStats struct {
	RunID     string         `json:"run_id"`
	StartedAt time.Time      `json:"started_at"`
	Duration  time.Duration  `json:"duration"`
	Sources   []SourceResult `json:"sources"`
}

// Failed counts sources that did not reach StatusDone.
func (r *RunStats) Failed() int {
	n := 0
	for _, s := range r.Sources {
		if s.Status != StatusDone {
			n++
		}
	}
	return n
}
