// Package httpapi exposes a read-only status API for operators.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"feed_relay/internal/domain"
)

const defaultDeliveryLimit = 20

type StateLister interface {
	List(ctx context.Context) ([]domain.SyncState, error)
}

type DeliveryReader interface {
	Recent(ctx context.Context, sourceID string, limit int) ([]domain.DeliveryRecord, error)
}

type RunReporter interface {
	Sources() []domain.Source
	LastRun() *domain.RunStats
}

type Server struct {
	states     StateLister
	deliveries DeliveryReader
	runs       RunReporter
	logger     *slog.Logger
	router     chi.Router
}

// New builds the router. deliveries may be nil when the storage driver
// keeps no delivery log.
func New(states StateLister, deliveries DeliveryReader, runs RunReporter, logger *slog.Logger) *Server {
	s := &Server{
		states:     states,
		deliveries: deliveries,
		runs:       runs,
		logger:     logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Get("/healthz", s.health)
	r.Route("/api", func(r chi.Router) {
		r.Get("/sources", s.listSources)
		r.Get("/sources/{id}/deliveries", s.listDeliveries)
		r.Get("/runs/last", s.lastRun)
	})

	s.router = r
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("status server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

type sourceView struct {
	ID     string              `json:"id"`
	Name   string              `json:"name"`
	Kind   domain.SourceKind   `json:"kind"`
	Policy domain.RenderPolicy `json:"policy"`
	State  *domain.SyncState   `json:"state,omitempty"`
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) listSources(w http.ResponseWriter, r *http.Request) {
	states, err := s.states.List(r.Context())
	if err != nil {
		s.logger.Error("failed to list sync states", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	byID := make(map[string]domain.SyncState, len(states))
	for _, st := range states {
		byID[st.SourceID] = st
	}

	views := make([]sourceView, 0, len(s.runs.Sources()))
	for _, src := range s.runs.Sources() {
		v := sourceView{ID: src.ID, Name: src.Name, Kind: src.Kind, Policy: src.Policy}
		if st, ok := byID[src.ID]; ok {
			v.State = &st
		}
		views = append(views, v)
	}

	writeJSON(w, http.StatusOK, map[string]any{"sources": views})
}

func (s *Server) listDeliveries(w http.ResponseWriter, r *http.Request) {
	if s.deliveries == nil {
		http.Error(w, "delivery log not available for this storage driver", http.StatusNotImplemented)
		return
	}

	limit := defaultDeliveryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "Bad Request", http.StatusBadRequest)
			return
		}
		limit = n
	}

	id := chi.URLParam(r, "id")
	records, err := s.deliveries.Recent(r.Context(), id, limit)
	if err != nil {
		s.logger.Error("failed to read deliveries", "source", id, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []domain.DeliveryRecord{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"deliveries": records})
}

func (s *Server) lastRun(w http.ResponseWriter, _ *http.Request) {
	stats := s.runs.LastRun()
	if stats == nil {
		http.Error(w, "no run completed yet", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
