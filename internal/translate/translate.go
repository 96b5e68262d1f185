// Package translate provides best-effort machine translation.
package translate

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// Backend performs the actual translation call.
type Backend interface {
	Translate(ctx context.Context, text string) (string, error)
}

// Service never fails: when the backend errors or returns nothing the
// original text is used.
type Service struct {
	backend Backend
	timeout time.Duration
	logger  *slog.Logger
}

func NewService(backend Backend, timeout time.Duration, logger *slog.Logger) *Service {
	return &Service{
		backend: backend,
		timeout: timeout,
		logger:  logger,
	}
}

func (s *Service) Translate(ctx context.Context, text string) string {
	if strings.TrimSpace(text) == "" {
		return text
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	out, err := s.backend.Translate(ctx, text)
	if err != nil {
		s.logger.Warn("translation failed, keeping original", "error", err, "length", len(text))
		return text
	}
	if strings.TrimSpace(out) == "" {
		s.logger.Warn("translation returned empty text, keeping original", "length", len(text))
		return text
	}
	return out
}
