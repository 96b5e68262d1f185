// Package delivery sends rendered chunks to recipients with retries,
// markup degradation and global throttling.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"feed_relay/internal/domain"
	"feed_relay/internal/render"
)

type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// SendDelay is the minimum spacing between consecutive sends across
	// all sources.
	SendDelay   time.Duration
	Concurrency int
}

// Request describes the chunks of one message and who should receive them.
type Request struct {
	SourceID       string
	Channel        string
	Recipients     []string
	Chunks         []string
	DisablePreview bool
}

type Result struct {
	Chunk     int
	Recipient string
	Outcome   domain.DeliveryOutcome
	Attempts  int
	Err       error
}

type Report struct {
	Results []Result
}

// OK reports whether every chunk reached every recipient.
func (r *Report) OK() bool {
	for _, res := range r.Results {
		if !res.Outcome.Delivered() {
			return false
		}
	}
	return true
}

func (r *Report) Count(outcome domain.DeliveryOutcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == outcome {
			n++
		}
	}
	return n
}

type Client struct {
	senders map[string]Sender
	cfg     Config
	sem     *semaphore.Weighted
	limiter *rate.Limiter
	sleep   func(ctx context.Context, d time.Duration) error
	logger  *slog.Logger
}

// NewClient creates a client. senders maps channel handles to the sender
// used for sources bound to that channel.
func NewClient(senders map[string]Sender, cfg Config, logger *slog.Logger) *Client {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 30 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}

	limit := rate.Inf
	if cfg.SendDelay > 0 {
		limit = rate.Every(cfg.SendDelay)
	}

	return &Client{
		senders: senders,
		cfg:     cfg,
		sem:     semaphore.NewWeighted(int64(cfg.Concurrency)),
		limiter: rate.NewLimiter(limit, 1),
		sleep:   sleepContext,
		logger:  logger,
	}
}

// Deliver sends every chunk to every recipient in order. A failure for one
// chunk or recipient never stops the others.
func (c *Client) Deliver(ctx context.Context, req Request) *Report {
	report := &Report{}
	logger := c.logger.With("source", req.SourceID, "channel", req.Channel)

	sender, ok := c.senders[req.Channel]
	for i, text := range req.Chunks {
		if strings.TrimSpace(text) == "" {
			continue
		}
		for _, recipient := range req.Recipients {
			var res Result
			if !ok {
				res = Result{
					Outcome: domain.OutcomeFailedPermanent,
					Err:     fmt.Errorf("unknown channel %q", req.Channel),
				}
			} else {
				res = c.send(ctx, sender, Outbound{
					Recipient:      recipient,
					Text:           text,
					Mode:           ModeMarkdownV2,
					DisablePreview: req.DisablePreview,
				})
			}
			res.Chunk = i
			res.Recipient = recipient

			switch res.Outcome {
			case domain.OutcomeSent:
				logger.Debug("chunk sent", "chunk", i, "recipient", recipient)
			case domain.OutcomeSentDegraded:
				logger.Warn("chunk sent as plain text", "chunk", i, "recipient", recipient)
			default:
				logger.Error("chunk delivery failed",
					"chunk", i,
					"recipient", recipient,
					"outcome", res.Outcome,
					"attempts", res.Attempts,
					"error", res.Err,
				)
			}
			report.Results = append(report.Results, res)
		}
	}

	return report
}

func (c *Client) send(ctx context.Context, sender Sender, msg Outbound) Result {
	b := c.newBackOff()
	degraded := false
	failures := 0
	res := Result{}

	for {
		res.Attempts++
		err := c.sendOnce(ctx, sender, msg)
		if err == nil {
			res.Outcome = domain.OutcomeSent
			if degraded {
				res.Outcome = domain.OutcomeSentDegraded
			}
			return res
		}
		res.Err = err

		se := classify(err)
		switch {
		case se.Kind == KindMarkup && !degraded:
			degraded = true
			msg.Text = render.Plain(msg.Text)
			msg.Mode = ModePlain
			continue
		case se.Kind == KindFatal, se.Kind == KindMarkup:
			res.Outcome = domain.OutcomeFailedPermanent
			return res
		}

		failures++
		if failures >= c.cfg.MaxAttempts {
			res.Outcome = domain.OutcomeFailedAfterRetries
			return res
		}

		wait := b.NextBackOff()
		if se.RetryAfter > wait {
			wait = se.RetryAfter
		}
		c.logger.Warn("send failed, retrying",
			"recipient", msg.Recipient,
			"attempt", failures,
			"backoff", wait,
			"error", err,
		)
		if err := c.sleep(ctx, wait); err != nil {
			res.Err = errors.Join(res.Err, err)
			res.Outcome = domain.OutcomeFailedAfterRetries
			return res
		}
	}
}

func (c *Client) sendOnce(ctx context.Context, sender Sender, msg Outbound) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer c.sem.Release(1)

	return sender.Send(ctx, msg)
}

// newBackOff yields BaseDelay, 2×BaseDelay, 4×BaseDelay... capped at MaxDelay.
func (c *Client) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.BaseDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = c.cfg.MaxDelay
	b.MaxElapsedTime = 0
	b.Reset()
	return b
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
