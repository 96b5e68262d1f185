// Package normalize turns raw source items into canonical entries.
package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/samber/lo"

	"feed_relay/internal/domain"
)

type Normalizer struct {
	now func() time.Time
}

func New() *Normalizer {
	return &Normalizer{now: time.Now}
}

// Normalize converts a batch fetched in one go. Entries without any timestamp
// share the same fallback instant so their relative order is stable.
func (n *Normalizer) Normalize(raws []domain.RawEntry) []domain.Entry {
	now := n.now().UTC()
	return lo.Map(raws, func(raw domain.RawEntry, _ int) domain.Entry {
		return Entry(raw, now)
	})
}

// Entry normalizes a single raw item, using fallback when it carries no
// timestamp of its own.
func Entry(raw domain.RawEntry, fallback time.Time) domain.Entry {
	ts := timestamp(raw)

	body := raw.Summary
	if strings.TrimSpace(body) == "" {
		body = raw.Content
	}
	if raw.PlainText {
		body = Whitespace(body)
	} else {
		body = Text(body)
	}

	e := domain.Entry{
		Identifier: Identifier(raw, ts),
		Title:      Title(raw.Title),
		Body:       body,
		Link:       strings.TrimSpace(raw.Link),
		Author:     strings.TrimSpace(raw.Author),
	}
	if ts != nil {
		e.Timestamp = ts.UTC()
	} else {
		e.Timestamp = fallback
	}
	return e
}

// Identifier prefers an explicit unique id, then the entry's own timestamp,
// then a digest of title and link.
func Identifier(raw domain.RawEntry, ts *time.Time) string {
	if id := strings.TrimSpace(raw.GUID); id != "" {
		return id
	}
	if ts != nil {
		return ts.UTC().Format(time.RFC3339)
	}
	sum := sha256.Sum256([]byte(raw.Title + raw.Link))
	return hex.EncodeToString(sum[:])
}

func timestamp(raw domain.RawEntry) *time.Time {
	if raw.Published != nil && !raw.Published.IsZero() {
		return raw.Published
	}
	if raw.Updated != nil && !raw.Updated.IsZero() {
		return raw.Updated
	}
	return nil
}
