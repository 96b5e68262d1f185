package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type ParseMode string

const (
	ModeMarkdownV2 ParseMode = tgbotapi.ModeMarkdownV2
	ModePlain      ParseMode = ""
)

// Outbound is a single message for a single recipient.
type Outbound struct {
	Recipient      string
	Text           string
	Mode           ParseMode
	DisablePreview bool
}

// Sender delivers one message. Errors should be *SendError so the client
// can tell markup rejections, rate limits and permanent failures apart.
type Sender interface {
	Send(ctx context.Context, msg Outbound) error
}

// Telegram sends through the Bot API.
type Telegram struct {
	bot    *tgbotapi.BotAPI
	logger *slog.Logger
}

func NewTelegram(token string, timeout time.Duration, logger *slog.Logger) (*Telegram, error) {
	return NewTelegramWithEndpoint(token, tgbotapi.APIEndpoint, &http.Client{Timeout: timeout}, logger)
}

// NewTelegramWithEndpoint targets a custom Bot API server. endpoint is a
// format string taking the token and the method name.
func NewTelegramWithEndpoint(token, endpoint string, client *http.Client, logger *slog.Logger) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPIWithClient(token, endpoint, client)
	if err != nil {
		return nil, fmt.Errorf("connect to telegram: %w", err)
	}

	logger.Info("connected to telegram", "bot", bot.Self.UserName)

	return &Telegram{bot: bot, logger: logger}, nil
}

// Send posts msg. Numeric recipients are chat ids, anything else is treated
// as a channel username such as "@news".
func (t *Telegram) Send(ctx context.Context, msg Outbound) error {
	if err := ctx.Err(); err != nil {
		return &SendError{Kind: KindTransient, Err: err}
	}

	var cfg tgbotapi.MessageConfig
	if chatID, err := strconv.ParseInt(msg.Recipient, 10, 64); err == nil {
		cfg = tgbotapi.NewMessage(chatID, msg.Text)
	} else {
		cfg = tgbotapi.NewMessageToChannel(msg.Recipient, msg.Text)
	}
	cfg.ParseMode = string(msg.Mode)
	cfg.DisableWebPagePreview = msg.DisablePreview

	if _, err := t.bot.Send(cfg); err != nil {
		return classifyTelegram(err)
	}
	return nil
}

func classifyTelegram(err error) *SendError {
	var apiErr *tgbotapi.Error
	if !errors.As(err, &apiErr) {
		return &SendError{Kind: KindTransient, Err: err}
	}

	switch {
	case apiErr.Code == http.StatusTooManyRequests:
		return &SendError{
			Kind:       KindRateLimited,
			RetryAfter: time.Duration(apiErr.RetryAfter) * time.Second,
			Err:        err,
		}
	case apiErr.Code == http.StatusBadRequest && strings.Contains(strings.ToLower(apiErr.Message), "can't parse entities"):
		return &SendError{Kind: KindMarkup, Err: err}
	case apiErr.Code >= http.StatusInternalServerError:
		return &SendError{Kind: KindTransient, Err: err}
	default:
		return &SendError{Kind: KindFatal, Err: err}
	}
}
