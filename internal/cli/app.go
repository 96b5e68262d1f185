package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"

	"github.com/samber/lo"

	"feed_relay/internal/config"
	"feed_relay/internal/delivery"
	"feed_relay/internal/domain"
	"feed_relay/internal/normalize"
	"feed_relay/internal/publisher"
	"feed_relay/internal/render"
	"feed_relay/internal/service"
	"feed_relay/internal/source/feed"
	"feed_relay/internal/source/mailbox"
	"feed_relay/internal/tracker"
	"feed_relay/internal/translate"
)

// app holds the wired pipeline and everything that must be closed with it.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	storage  *storage
	pipeline *service.Pipeline
	closers  []func() error
}

func loadConfig() (*config.Config, *slog.Logger, error) {
	logger := setupLogger("info")

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, logger, fmt.Errorf("load config: %w", err)
	}

	return cfg, setupLogger(cfg.LogLevel), nil
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	store, err := openStorage(cfg.Storage, cfg.Database)
	if err != nil {
		return nil, err
	}
	a.storage = store
	a.closers = append(a.closers, store.close)

	senders, err := newSenders(cfg.Telegram, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	var translator render.Translator
	if cfg.NeedsTranslation() {
		gemini, err := translate.NewGemini(ctx, cfg.Translate.APIKey, cfg.Translate.Model, cfg.Translate.Target)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("create translator: %w", err)
		}
		a.closers = append(a.closers, gemini.Close)
		translator = translate.NewService(gemini, cfg.Translate.Timeout, logger)
	}

	var pub service.Publisher
	if cfg.RabbitMQ.Enabled {
		rabbitMQ, err := publisher.NewRabbitMQ(publisher.Config{
			URL:        cfg.RabbitMQ.URL,
			Exchange:   cfg.RabbitMQ.Exchange,
			RoutingKey: cfg.RabbitMQ.RoutingKey,
			QueueName:  cfg.RabbitMQ.QueueName,
		}, logger)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connect to rabbitmq: %w", err)
		}
		a.closers = append(a.closers, rabbitMQ.Close)
		pub = rabbitMQ
	}

	fetchers := map[domain.SourceKind]service.Fetcher{
		domain.SourceKindFeed: feed.New(feed.Config{
			Timeout:        cfg.Fetch.Timeout,
			UserAgent:      cfg.Fetch.UserAgent,
			MaxAttempts:    cfg.Fetch.Retry.MaxAttempts,
			InitialBackoff: cfg.Fetch.Retry.InitialBackoff,
			MaxBackoff:     cfg.Fetch.Retry.MaxBackoff,
		}, logger),
	}
	if cfg.Mailbox.Addr != "" {
		fetchers[domain.SourceKindMailbox] = mailbox.New(mailbox.Config{
			Addr:     cfg.Mailbox.Addr,
			Username: cfg.Mailbox.Username,
			Password: cfg.Mailbox.Password,
			Insecure: cfg.Mailbox.Insecure,
			Timeout:  cfg.Mailbox.Timeout,
		}, logger)
	}

	syncTracker := tracker.New(store.states, tracker.Config{
		FirstRun:       tracker.FirstRunPolicy(cfg.Sync.FirstRun),
		FirstRunMaxAge: cfg.Sync.FirstRunMaxAge,
	}, logger)

	deliverer := delivery.NewClient(senders, delivery.Config{
		MaxAttempts: cfg.Delivery.MaxAttempts,
		BaseDelay:   cfg.Delivery.BaseDelay,
		MaxDelay:    cfg.Delivery.MaxDelay,
		SendDelay:   cfg.Delivery.SendDelay,
		Concurrency: cfg.Delivery.Concurrency,
	}, logger)

	a.pipeline = service.NewPipeline(
		cfg.DomainSources(),
		fetchers,
		normalize.New(),
		syncTracker,
		render.New(translator, cfg.Render.MergeThreshold, logger),
		deliverer,
		store.deliveries,
		pub,
		logger,
		service.Config{
			Parallelism:     cfg.Sync.Parallelism,
			MaxMessageBytes: cfg.Delivery.MaxMessageBytes,
		},
	)

	return a, nil
}

// newSenders creates one Telegram bot per configured channel.
func newSenders(cfg config.TelegramConfig, logger *slog.Logger) (map[string]delivery.Sender, error) {
	channels := lo.Keys(cfg.Bots)
	slices.Sort(channels)

	senders := make(map[string]delivery.Sender, len(channels))
	for _, channel := range channels {
		token := cfg.Bots[channel]
		botLogger := logger.With("channel", channel)

		var (
			bot *delivery.Telegram
			err error
		)
		if cfg.Endpoint != "" {
			bot, err = delivery.NewTelegramWithEndpoint(token, cfg.Endpoint, &http.Client{Timeout: cfg.Timeout}, botLogger)
		} else {
			bot, err = delivery.NewTelegram(token, cfg.Timeout, botLogger)
		}
		if err != nil {
			return nil, fmt.Errorf("create telegram bot for channel %q: %w", channel, err)
		}
		senders[channel] = bot
	}

	logger.Info("telegram bots ready", "channels", channels)
	return senders, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for _, c := range slices.Backward(a.closers) {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
