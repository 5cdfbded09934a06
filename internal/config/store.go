package config

import (
	"sync"
)

// Store holds the live configuration behind a lock.
// The pipeline takes a snapshot at the start of each run; a concurrent
// settings update takes effect on the next run only.
type Store struct {
	mu   sync.RWMutex
	cfg  Config
	path string
}

// NewStore creates a Store around an initial configuration.
// path is where updates are persisted; empty disables persistence.
func NewStore(cfg *Config, path string) *Store {
	return &Store{cfg: *cfg, path: path}
}

// Snapshot returns a copy of the current configuration.
func (s *Store) Snapshot() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cfg := s.cfg
	cfg.Indexing.Folders = append([]Folder(nil), s.cfg.Indexing.Folders...)
	return cfg
}

// Update validates, persists, and swaps in a new configuration.
func (s *Store) Update(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path != "" {
		if err := cfg.Save(s.path); err != nil {
			return err
		}
	}
	s.cfg = cfg
	return nil
}
