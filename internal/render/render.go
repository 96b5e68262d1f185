// Package render turns entries into MarkdownV2 message bodies.
package render

import (
	"context"
	"log/slog"
	"strings"

	"feed_relay/internal/domain"
	"feed_relay/internal/normalize"
)

const (
	DefaultMergeThreshold = 333
	untitled              = "(untitled)"
	entrySeparator        = "\n\n"
)

// Translator rewrites text into the target language. Implementations return
// the input unchanged when they cannot translate it.
type Translator interface {
	Translate(ctx context.Context, text string) string
}

type Renderer struct {
	translator     Translator
	mergeThreshold int
	logger         *slog.Logger
}

// New creates a renderer. translator may be nil when no source asks for
// translation.
func New(translator Translator, mergeThreshold int, logger *slog.Logger) *Renderer {
	if mergeThreshold <= 0 {
		mergeThreshold = DefaultMergeThreshold
	}
	return &Renderer{
		translator:     translator,
		mergeThreshold: mergeThreshold,
		logger:         logger,
	}
}

// Render produces one message per entry for the full and title-only policies
// and a single message for merge. Entries are expected oldest first.
func (r *Renderer) Render(ctx context.Context, src domain.Source, entries []domain.Entry) []domain.Message {
	if len(entries) == 0 {
		return nil
	}

	header := ""
	if src.Header != "" {
		header = Sanitize(src.Header) + entrySeparator
	}

	if src.Policy == domain.PolicyMerge {
		threshold := src.MergeThreshold
		if threshold <= 0 {
			threshold = r.mergeThreshold
		}

		blocks := make([]string, 0, len(entries))
		for _, e := range entries {
			title, body := r.content(ctx, src, e)
			if len(title)+len(body) <= threshold {
				blocks = append(blocks, full(src, e, title, body))
			} else {
				blocks = append(blocks, titleOnly(src, e, title))
			}
		}

		r.logger.Debug("rendered merged message", "source", src.ID, "entries", len(entries))
		return []domain.Message{{
			Body:    header + strings.Join(blocks, entrySeparator),
			Entries: entries,
		}}
	}

	messages := make([]domain.Message, 0, len(entries))
	for _, e := range entries {
		title, body := r.content(ctx, src, e)

		var block string
		if src.Policy == domain.PolicyTitleOnly {
			block = titleOnly(src, e, title)
		} else {
			block = full(src, e, title, body)
		}

		messages = append(messages, domain.Message{
			Body:    header + block,
			Entries: []domain.Entry{e},
		})
	}
	return messages
}

// content returns the raw title and body of e, translated when the source
// asks for it.
func (r *Renderer) content(ctx context.Context, src domain.Source, e domain.Entry) (string, string) {
	title := singleLine(e.Title)
	body := normalize.Whitespace(e.Body)

	if src.Translate && r.translator != nil {
		title = singleLine(r.translator.Translate(ctx, title))
		if body != "" {
			body = normalize.Whitespace(r.translator.Translate(ctx, body))
		}
	}

	if title == "" {
		title = untitled
	}
	return title, body
}

func full(src domain.Source, e domain.Entry, title, body string) string {
	var b strings.Builder
	b.WriteString(Bold(title))
	if body != "" {
		b.WriteByte('\n')
		b.WriteString(Escape(body))
	}
	b.WriteByte('\n')
	b.WriteString(attribution(src, e))
	return b.String()
}

func titleOnly(src domain.Source, e domain.Entry, title string) string {
	return Bold(title) + "\n" + attribution(src, e)
}

// attribution links the source name to the entry, or names the author when
// there is nothing to link to.
func attribution(src domain.Source, e domain.Entry) string {
	name := src.Name
	if name == "" {
		name = src.ID
	}
	if e.Link != "" {
		return Link(name, e.Link)
	}
	if e.Author != "" {
		return Escape(name + " · " + e.Author)
	}
	return Escape(name)
}

func singleLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
