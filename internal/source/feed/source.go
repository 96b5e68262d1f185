// Package feed fetches RSS, Atom and JSON feeds over HTTP.
package feed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/mmcdole/gofeed"

	"feed_relay/internal/domain"
	"feed_relay/internal/source"
)

const (
	DefaultUserAgent = "FeedRelay/1.0"
	maxBodyBytes     = 10 << 20
)

type Config struct {
	Timeout        time.Duration
	UserAgent      string
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Source implements the feed fetcher used for sources of kind "feed".
type Source struct {
	httpClient     *http.Client
	parser         *gofeed.Parser
	userAgent      string
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	sleep          func(ctx context.Context, d time.Duration) error
	logger         *slog.Logger
}

// New creates a new feed source.
func New(cfg Config, logger *slog.Logger) *Source {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	return &Source{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		parser:         gofeed.NewParser(),
		userAgent:      cfg.UserAgent,
		maxAttempts:    cfg.MaxAttempts,
		initialBackoff: cfg.InitialBackoff,
		maxBackoff:     cfg.MaxBackoff,
		sleep:          sleepContext,
		logger:         logger.With("fetcher", "feed"),
	}
}

// Fetch downloads and parses the feed behind src.URL. At most src.PageSize
// items are returned when it is set, in feed order.
func (s *Source) Fetch(ctx context.Context, src domain.Source) ([]domain.RawEntry, error) {
	body, err := s.fetchWithRetry(ctx, src)
	if err != nil {
		return nil, err
	}

	parsed, err := s.parser.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, source.Fatal(fmt.Errorf("parse feed: %w", err))
	}

	items := parsed.Items
	if src.PageSize > 0 && len(items) > src.PageSize {
		items = items[:src.PageSize]
	}

	s.logger.Debug("fetched feed",
		"source", src.ID,
		"title", parsed.Title,
		"items", len(items),
	)

	return transform(items), nil
}

func (s *Source) fetchWithRetry(ctx context.Context, src domain.Source) ([]byte, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.initialBackoff
	b.MaxInterval = s.maxBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	var err error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		var body []byte
		body, err = s.doRequest(ctx, src.URL)
		if err == nil {
			return body, nil
		}

		if !source.IsTransient(err) || attempt == s.maxAttempts {
			break
		}

		wait := b.NextBackOff()
		s.logger.Warn("request failed, retrying",
			"source", src.ID,
			"attempt", attempt,
			"backoff", wait,
			"error", err,
		)

		if err := s.sleep(ctx, wait); err != nil {
			return nil, source.Fatal(err)
		}
	}

	return nil, fmt.Errorf("fetch %s: %w", src.URL, err)
}

func (s *Source) doRequest(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, source.Fatal(fmt.Errorf("create request: %w", err))
	}

	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/feed+json, application/xml;q=0.9, */*;q=0.8")
	req.Header.Set("User-Agent", s.userAgent)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, source.Fatal(err)
		}
		return nil, source.Transient(fmt.Errorf("execute request: %w", err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError:
		return nil, source.Transient(fmt.Errorf("unexpected status: %d", resp.StatusCode))
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, source.Fatal(fmt.Errorf("unexpected status: %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, source.Transient(fmt.Errorf("read body: %w", err))
	}
	return body, nil
}

func transform(items []*gofeed.Item) []domain.RawEntry {
	entries := make([]domain.RawEntry, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}

		e := domain.RawEntry{
			GUID:      item.GUID,
			Title:     item.Title,
			Link:      item.Link,
			Summary:   item.Description,
			Content:   item.Content,
			Published: item.PublishedParsed,
			Updated:   item.UpdatedParsed,
		}
		if item.Author != nil {
			e.Author = item.Author.Name
		} else if len(item.Authors) > 0 && item.Authors[0] != nil {
			e.Author = item.Authors[0].Name
		}

		entries = append(entries, e)
	}
	return entries
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
