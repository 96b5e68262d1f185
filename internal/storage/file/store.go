// Package file keeps sync state in a single JSON document keyed by source.
package file

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/natefinch/atomic"

	"feed_relay/internal/domain"
)

type Store struct {
	path   string
	mu     sync.Mutex
	states map[string]domain.SyncState
}

// Open loads path, treating a missing file as empty state.
func Open(path string) (*Store, error) {
	s := &Store{path: path, states: make(map[string]domain.SyncState)}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state file: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(data, &s.states); err != nil {
		return nil, fmt.Errorf("parse state file: %w", err)
	}
	for id, st := range s.states {
		st.SourceID = id
		s.states[id] = st
	}
	return s, nil
}

func (s *Store) Get(_ context.Context, sourceID string) (*domain.SyncState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[sourceID]
	if !ok {
		return &domain.SyncState{SourceID: sourceID}, nil
	}
	return &st, nil
}

// Update replaces the state of one source and rewrites the file atomically.
// A stored timestamp newer than the incoming one is kept.
func (s *Store) Update(_ context.Context, state *domain.SyncState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.states[state.SourceID]; ok && cur.LastTimestamp.After(state.LastTimestamp) {
		return nil
	}

	prev, had := s.states[state.SourceID]
	s.states[state.SourceID] = *state
	if err := s.flush(); err != nil {
		if had {
			s.states[state.SourceID] = prev
		} else {
			delete(s.states, state.SourceID)
		}
		return err
	}
	return nil
}

func (s *Store) List(_ context.Context) ([]domain.SyncState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	states := make([]domain.SyncState, 0, len(s.states))
	for _, st := range s.states {
		states = append(states, st)
	}
	sort.Slice(states, func(i, j int) bool { return states[i].SourceID < states[j].SourceID })
	return states, nil
}

func (s *Store) Delete(_ context.Context, sourceID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.states[sourceID]
	if !ok {
		return false, nil
	}
	delete(s.states, sourceID)
	if err := s.flush(); err != nil {
		s.states[sourceID] = prev
		return false, err
	}
	return true, nil
}

func (s *Store) flush() error {
	data, err := json.MarshalIndent(s.states, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create state dir: %w", err)
		}
	}
	if err := atomic.WriteFile(s.path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}
	return nil
}
