package mailbox

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/go-shiori/go-readability"

	"feed_relay/internal/domain"
	"feed_relay/internal/normalize"
)

// parseMessage extracts subject, sender, date and readable text from an
// RFC 5322 message. HTML bodies are reduced to their main content.
func parseMessage(r io.Reader) (domain.RawEntry, error) {
	mr, err := mail.CreateReader(r)
	if err != nil && !message.IsUnknownCharset(err) {
		return domain.RawEntry{}, fmt.Errorf("read message: %w", err)
	}
	defer mr.Close()

	entry := domain.RawEntry{PlainText: true}

	entry.Title, _ = mr.Header.Subject()
	if id, err := mr.Header.MessageID(); err == nil {
		entry.GUID = id
	}
	if date, err := mr.Header.Date(); err == nil && !date.IsZero() {
		entry.Published = &date
	}
	if from, err := mr.Header.AddressList("From"); err == nil && len(from) > 0 {
		entry.Author = from[0].Name
		if entry.Author == "" {
			entry.Author = from[0].Address
		}
	}

	var plain, html string
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil && !message.IsUnknownCharset(err) {
			return domain.RawEntry{}, fmt.Errorf("read part: %w", err)
		}
		if part == nil {
			break
		}

		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, _ := h.ContentType()

		data, err := io.ReadAll(part.Body)
		if err != nil {
			return domain.RawEntry{}, fmt.Errorf("read part body: %w", err)
		}

		switch contentType {
		case "text/html":
			if html == "" {
				html = string(data)
			}
		case "text/plain", "":
			if plain == "" {
				plain = string(data)
			}
		}
	}

	switch {
	case html != "":
		entry.Content = htmlText(html)
		if entry.Content == "" {
			entry.Content = plain
		}
	default:
		entry.Content = plain
	}

	return entry, nil
}

func htmlText(html string) string {
	article, err := readability.FromReader(strings.NewReader(html), nil)
	if err == nil {
		if text := normalize.Whitespace(article.TextContent); text != "" {
			return text
		}
	}
	return normalize.Text(html)
}
