// Package mailbox reads the latest messages of an IMAP mailbox.
package mailbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"

	"feed_relay/internal/domain"
	"feed_relay/internal/source"
)

const (
	DefaultMailbox  = "INBOX"
	DefaultPageSize = 20
)

type Config struct {
	Addr     string
	Username string
	Password string
	// Insecure dials without TLS, for local test servers only.
	Insecure bool
	Timeout  time.Duration
}

type Source struct {
	cfg    Config
	logger *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Source {
	return &Source{
		cfg:    cfg,
		logger: logger.With("fetcher", "mailbox"),
	}
}

// Fetch returns the newest src.PageSize messages of the mailbox named by
// src.URL without marking them as read.
func (s *Source) Fetch(ctx context.Context, src domain.Source) ([]domain.RawEntry, error) {
	c, err := s.dial()
	if err != nil {
		return nil, source.Transient(fmt.Errorf("dial %s: %w", s.cfg.Addr, err))
	}
	defer c.Logout()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = c.Terminate()
		case <-stop:
		}
	}()

	if s.cfg.Timeout > 0 {
		c.Timeout = s.cfg.Timeout
	}

	if err := c.Login(s.cfg.Username, s.cfg.Password); err != nil {
		return nil, source.Fatal(fmt.Errorf("login: %w", err))
	}

	name := src.URL
	if name == "" {
		name = DefaultMailbox
	}
	status, err := c.Select(name, true)
	if err != nil {
		return nil, source.Fatal(fmt.Errorf("select %s: %w", name, err))
	}
	if status.Messages == 0 {
		return nil, nil
	}

	pageSize := src.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	from := uint32(1)
	if status.Messages > uint32(pageSize) {
		from = status.Messages - uint32(pageSize) + 1
	}
	seqset := new(imap.SeqSet)
	seqset.AddRange(from, status.Messages)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchUid, section.FetchItem()}

	messages := make(chan *imap.Message, pageSize)
	done := make(chan error, 1)
	go func() {
		done <- c.Fetch(seqset, items, messages)
	}()

	var entries []domain.RawEntry
	for msg := range messages {
		body := msg.GetBody(section)
		if body == nil {
			s.logger.Warn("message without body", "source", src.ID, "uid", msg.Uid)
			continue
		}

		entry, err := parseMessage(body)
		if err != nil {
			s.logger.Warn("failed to parse message", "source", src.ID, "uid", msg.Uid, "error", err)
			continue
		}
		if entry.GUID == "" {
			entry.GUID = fmt.Sprintf("%s/%d", name, msg.Uid)
		}
		entries = append(entries, entry)
	}

	if err := <-done; err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, source.Fatal(errors.Join(err, ctxErr))
		}
		return nil, source.Transient(fmt.Errorf("fetch messages: %w", err))
	}

	// IMAP sequence numbers grow with arrival, newest last.
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}

	s.logger.Debug("fetched mailbox", "source", src.ID, "mailbox", name, "messages", len(entries))
	return entries, nil
}

func (s *Source) dial() (*client.Client, error) {
	if s.cfg.Insecure {
		return client.Dial(s.cfg.Addr)
	}
	return client.DialTLS(s.cfg.Addr, nil)
}
