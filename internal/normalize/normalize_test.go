package normalize

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feed_relay/internal/domain"
)

func TestIdentifier_Fallbacks(t *testing.T) {
	published := time.Date(2024, 3, 1, 10, 0, 0, 0, time.FixedZone("CET", 3600))

	tests := []struct {
		name string
		raw  domain.RawEntry
		ts   *time.Time
		want string
	}{
		{
			name: "explicit guid",
			raw:  domain.RawEntry{GUID: " urn:uuid:42 ", Title: "t", Link: "l"},
			ts:   &published,
			want: "urn:uuid:42",
		},
		{
			name: "timestamp when guid missing",
			raw:  domain.RawEntry{Title: "t", Link: "l"},
			ts:   &published,
			want: "2024-03-01T09:00:00Z",
		},
		{
			name: "digest of title and link",
			raw:  domain.RawEntry{Title: "t", Link: "l"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Identifier(tt.raw, tt.ts)
			if tt.ts == nil {
				assert.Len(t, got, 64)
				assert.Equal(t, got, Identifier(tt.raw, nil))
				assert.NotEqual(t, got, Identifier(domain.RawEntry{Title: "t", Link: "other"}, nil))
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEntry_TimestampPreference(t *testing.T) {
	fallback := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	published := time.Date(2023, 5, 5, 5, 5, 5, 0, time.UTC)
	updated := time.Date(2023, 6, 6, 6, 6, 6, 0, time.UTC)

	e := Entry(domain.RawEntry{Title: "a", Published: &published, Updated: &updated}, fallback)
	assert.Equal(t, published, e.Timestamp)

	e = Entry(domain.RawEntry{Title: "a", Updated: &updated}, fallback)
	assert.Equal(t, updated, e.Timestamp)

	e = Entry(domain.RawEntry{Title: "a"}, fallback)
	assert.Equal(t, fallback, e.Timestamp)
	assert.Len(t, e.Identifier, 64)
}

func TestNormalize_SharesFallbackInstant(t *testing.T) {
	now := time.Date(2024, 2, 2, 2, 2, 2, 0, time.UTC)
	n := &Normalizer{now: func() time.Time { return now }}

	entries := n.Normalize([]domain.RawEntry{
		{Title: "first", Link: "https://example.com/1"},
		{Title: "second", Link: "https://example.com/2"},
	})

	require.Len(t, entries, 2)
	assert.Equal(t, now, entries[0].Timestamp)
	assert.Equal(t, now, entries[1].Timestamp)
	assert.NotEqual(t, entries[0].Identifier, entries[1].Identifier)
}

func TestEntry_BodyFromSummaryOrContent(t *testing.T) {
	e := Entry(domain.RawEntry{Title: "x", Summary: "  ", Content: "<p>from content</p>"}, time.Now())
	assert.Equal(t, "from content", e.Body)

	e = Entry(domain.RawEntry{Title: "x", Summary: "<b>short</b>", Content: "long"}, time.Now())
	assert.Equal(t, "short", e.Body)

	e = Entry(domain.RawEntry{Title: "x", Content: "Jane <jane@example.com>\r\n\r\n\r\nbye", PlainText: true}, time.Now())
	assert.Equal(t, "Jane <jane@example.com>\n\nbye", e.Body)
}

func TestText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain passthrough", "hello   world", "hello world"},
		{"entities", "Tom &amp; Jerry", "Tom & Jerry"},
		{"paragraphs", "<p>one</p><p>two</p>", "one\n\ntwo"},
		{"line breaks", "a<br>b<br/>c", "a\nb\nc"},
		{"scripts dropped", "<p>keep</p><script>alert(1)</script>", "keep"},
		{"inline tags", "<p>a <a href=\"x\">link</a> here</p>", "a link here"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Text(tt.in))
		})
	}
}

func TestWhitespace(t *testing.T) {
	in := "  first line  \r\n\r\n\r\n\r\nsecond\t\tline\n\n\n"
	assert.Equal(t, "first line\n\nsecond line", Whitespace(in))
}

func TestTitle_SingleLine(t *testing.T) {
	assert.Equal(t, "Breaking: a & b", Title("<b>Breaking:</b>\n a &amp; b "))
}
