// Package persistence provides debounced, atomic JSON snapshots of
// in-memory coordination state so it survives process restarts.
package persistence

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/castarena/castarena_service/pkg/logger"
)

// Store writes one JSON document per logical component under DataDir.
// Saves are debounced: bursts of updates coalesce into a single write after
// a quiet period. Writes go through a temp file and rename so a crash never
// leaves a partially written snapshot.
type Store struct {
	dataDir  string
	debounce time.Duration
	logger   *logger.Logger

	mu      sync.Mutex
	pending map[string]interface{}
	timers  map[string]*time.Timer
	closed  bool
}

// NewStore creates a snapshot store rooted at dataDir.
func NewStore(dataDir string, debounce time.Duration, logger *logger.Logger) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	return &Store{
		dataDir:  dataDir,
		debounce: debounce,
		logger:   logger,
		pending:  make(map[string]interface{}),
		timers:   make(map[string]*time.Timer),
	}, nil
}

// Save schedules a debounced snapshot write for name. The latest payload
// wins; earlier payloads scheduled within the quiet period are dropped.
func (s *Store) Save(name string, payload interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	s.pending[name] = payload

	if timer, ok := s.timers[name]; ok {
		timer.Reset(s.debounce)
		return
	}
	s.timers[name] = time.AfterFunc(s.debounce, func() {
		s.flushOne(name)
	})
}

// Load reads a snapshot into dest. Returns false without error when no
// snapshot exists yet.
func (s *Store) Load(name string, dest interface{}) (bool, error) {
	data, err := os.ReadFile(s.path(name))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read snapshot %s: %w", name, err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("failed to decode snapshot %s: %w", name, err)
	}
	return true, nil
}

// Flush writes all pending snapshots immediately.
func (s *Store) Flush() {
	s.mu.Lock()
	names := make([]string, 0, len(s.pending))
	for name := range s.pending {
		names = append(names, name)
	}
	s.mu.Unlock()

	for _, name := range names {
		s.flushOne(name)
	}
}

// Shutdown stops pending timers and forces a final flush.
func (s *Store) Shutdown(timeout time.Duration) error {
	s.mu.Lock()
	s.closed = true
	for _, timer := range s.timers {
		timer.Stop()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.Flush()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("snapshot flush timed out")
	}
}

func (s *Store) flushOne(name string) {
	s.mu.Lock()
	payload, ok := s.pending[name]
	delete(s.pending, name)
	delete(s.timers, name)
	s.mu.Unlock()

	if !ok {
		return
	}

	if err := s.writeAtomic(name, payload); err != nil {
		s.logger.Error("Snapshot write failed", "name", name, "error", err)
		return
	}
	s.logger.Debug("Snapshot written", "name", name)
}

func (s *Store) writeAtomic(name string, payload interface{}) error {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	target := s.path(name)
	tmp, err := os.CreateTemp(s.dataDir, name+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to rename snapshot: %w", err)
	}
	return nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dataDir, name+".json")
}
