package domain

import "time"

// RawEntry is what a source hands over before normalization. Every field
// except Title may be empty.
type RawEntry struct {
	GUID      string
	Title     string
	Link      string
	Summary   string
	Content   string
	Author    string
	PlainText bool
	Published *time.Time
	Updated   *time.Time
}

// Entry is a single normalized item from a source.
type Entry struct {
	Identifier string    `json:"identifier"`
	Timestamp  time.Time `json:"timestamp"`
	Title      string    `json:"title"`
	Body       string    `json:"body,omitempty"`
	Link       string    `json:"link,omitempty"`
	Author     string    `json:"author,omitempty"`
}

// Message is a rendered MarkdownV2 body together with the entries it covers.
type Message struct {
	Body    string
	Entries []Entry
}
