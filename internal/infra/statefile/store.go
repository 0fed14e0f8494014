// Package statefile persists the session accumulators between runs.
package statefile

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/rs/zerolog"

	"github.com/tutu-network/vpcsim/internal/domain"
	xlog "github.com/tutu-network/vpcsim/internal/log"
)

// FileName is the state file's name inside the vpcsim home directory.
const FileName = "state.json"

// document is the on-disk shape. PIDs are object keys, so they are strings.
type document struct {
	WaitTimes    map[string]float64 `json:"wait_times"`
	UsageHistory map[string]int     `json:"usage_history"`
}

// Store reads and writes a SessionState as a JSON file. Writes replace the
// file atomically. Missing or unreadable files load as an empty session.
type Store struct {
	mu              sync.Mutex
	path            string
	refreshInterval float64
	log             zerolog.Logger
}

// New creates a store at path. refreshInterval is stamped on loaded sessions.
func New(path string, refreshInterval float64) *Store {
	return &Store{
		path:            path,
		refreshInterval: refreshInterval,
		log:             xlog.WithComponent("statefile"),
	}
}

// Path returns the file location.
func (s *Store) Path() string { return s.path }

// Load reads the session. It never fails on a missing or corrupt file.
func (s *Store) Load() (*domain.SessionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := domain.NewSessionState(s.refreshInterval)
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return state, nil
	}
	if err != nil {
		s.log.Warn().Err(err).Str(xlog.FieldPath, s.path).Msg("state file unreadable, starting empty")
		return state, nil
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		s.log.Warn().Err(err).Str(xlog.FieldPath, s.path).Msg("state file corrupt, starting empty")
		return state, nil
	}

	for key, w := range doc.WaitTimes {
		pid, err := strconv.Atoi(key)
		if err != nil {
			continue
		}
		if w < 0 {
			w = 0
		}
		state.WaitTimes[pid] = w
	}
	for name, n := range doc.UsageHistory {
		if n > 0 {
			state.UsageHistory[name] = n
		}
	}
	return state, nil
}

// Save writes the session atomically, creating the parent directory.
func (s *Store) Save(state *domain.SessionState) error {
	if state == nil {
		return nil
	}
	doc := document{
		WaitTimes:    make(map[string]float64, len(state.WaitTimes)),
		UsageHistory: make(map[string]int, len(state.UsageHistory)),
	}
	for pid, w := range state.WaitTimes {
		doc.WaitTimes[strconv.Itoa(pid)] = w
	}
	for name, n := range state.UsageHistory {
		doc.UsageHistory[name] = n
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	return writeAtomic(s.path, buf.Bytes(), s.log)
}

// Reset deletes the state file. A missing file is not an error.
func (s *Store) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove state file: %w", err)
	}
	return nil
}

// MemoryStore keeps the session in memory. Used for ephemeral runs and tests.
type MemoryStore struct {
	mu              sync.Mutex
	state           *domain.SessionState
	refreshInterval float64
	saves           int
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(refreshInterval float64) *MemoryStore {
	return &MemoryStore{refreshInterval: refreshInterval}
}

// Load returns a copy of the last saved session, or an empty one.
func (m *MemoryStore) Load() (*domain.SessionState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		return domain.NewSessionState(m.refreshInterval), nil
	}
	return m.state.Clone(), nil
}

// Save stores a copy of state.
func (m *MemoryStore) Save(state *domain.SessionState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if state != nil {
		m.state = state.Clone()
	}
	m.saves++
	return nil
}

// Saves returns how many times Save was called.
func (m *MemoryStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}
