// Package settings persists runtime-modifiable settings to a YAML file
// under the data dir. Unlike environment configuration, these survive
// restarts and change through the admin API.
package settings

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Well-known setting keys.
const (
	KeyCoreURL      = "orac_core_url"
	KeyCoreTimeoutS = "orac_core_timeout_s"
)

// Store holds key-value settings with write-through YAML persistence.
type Store struct {
	path string
	log  zerolog.Logger

	mu     sync.Mutex
	values map[string]any

	// fileMu serializes file writes. The value map mutex is never held
	// across disk I/O; writers snapshot under mu and write outside it.
	fileMu sync.Mutex
}

// NewStore creates a store persisting to dataDir/settings.yaml and
// loads any existing file. Defaults seed missing keys; a corrupt file
// falls back to defaults.
func NewStore(dataDir string, defaults map[string]any, log zerolog.Logger) *Store {
	s := &Store{
		path:   filepath.Join(dataDir, "settings.yaml"),
		log:    log,
		values: make(map[string]any),
	}
	s.load(defaults)
	return s
}

func (s *Store) load(defaults map[string]any) {
	data, err := os.ReadFile(s.path)
	if err == nil {
		if uerr := yaml.Unmarshal(data, &s.values); uerr != nil {
			s.log.Error().Err(uerr).Str("path", s.path).Msg("failed to parse settings, using defaults")
			s.values = make(map[string]any)
		}
	} else if !os.IsNotExist(err) {
		s.log.Error().Err(err).Str("path", s.path).Msg("failed to read settings, using defaults")
	}
	if s.values == nil {
		s.values = make(map[string]any)
	}

	changed := false
	for k, v := range defaults {
		if _, ok := s.values[k]; !ok {
			s.values[k] = v
			changed = true
		}
	}
	if changed {
		s.fileMu.Lock()
		err := s.persist(s.snapshot())
		s.fileMu.Unlock()
		if err != nil {
			s.log.Error().Err(err).Msg("failed to persist default settings")
		}
	}
}

// Get returns the value for key, or nil when unset.
func (s *Store) Get(key string) any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[key]
}

// GetString returns the value for key as a string, or fallback when
// unset or not a string.
func (s *Store) GetString(key, fallback string) string {
	if v, ok := s.Get(key).(string); ok && v != "" {
		return v
	}
	return fallback
}

// Set stores one value and persists.
func (s *Store) Set(key string, value any) error {
	s.fileMu.Lock()
	defer s.fileMu.Unlock()

	s.mu.Lock()
	s.values[key] = value
	snap := s.snapshotLocked()
	s.mu.Unlock()

	return s.persist(snap)
}

// Update merges several values and persists once.
func (s *Store) Update(values map[string]any) error {
	s.fileMu.Lock()
	defer s.fileMu.Unlock()

	s.mu.Lock()
	for k, v := range values {
		s.values[k] = v
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	return s.persist(snap)
}

// All returns a copy of every setting.
func (s *Store) All() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]any, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

func (s *Store) snapshot() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// snapshotLocked copies the value map. Callers hold s.mu.
func (s *Store) snapshotLocked() map[string]any {
	out := make(map[string]any, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// persist writes the snapshot atomically. Callers hold s.fileMu, never
// s.mu.
func (s *Store) persist(values map[string]any) error {
	data, err := yaml.Marshal(values)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace settings: %w", err)
	}
	return nil
}
