package history

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/orac-stt/internal/audio"
)

// Snapshots keeps the last few transcribed utterances on disk as WAV
// files for debugging. Saving past the keep limit prunes the oldest
// files.
type Snapshots struct {
	dir  string
	keep int
	log  zerolog.Logger

	mu  sync.Mutex
	seq uint64
}

// NewSnapshots creates a snapshot store under dir keeping at most keep
// files.
func NewSnapshots(dir string, keep int, log zerolog.Logger) *Snapshots {
	if keep <= 0 {
		keep = 5
	}
	return &Snapshots{dir: dir, keep: keep, log: log}
}

// Save writes samples as a mono 16 kHz WAV named after the timestamp
// and a slug of the transcription, prunes old files, and returns the
// filename.
func (s *Snapshots) Save(samples []float32, text string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("create recordings dir: %w", err)
	}

	// The sequence keeps names unique and chronologically sortable even
	// for saves within the same second.
	s.seq++
	name := fmt.Sprintf("debug_%s_%06d_%s.wav", time.Now().UTC().Format("20060102_150405"), s.seq, slug(text))
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, audio.EncodeWAV(samples, audio.SampleRate), 0o644); err != nil {
		return "", fmt.Errorf("write snapshot: %w", err)
	}

	s.prune()
	return name, nil
}

// Path resolves a snapshot filename to its on-disk path, rejecting
// anything that would escape the recordings dir.
func (s *Snapshots) Path(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("invalid snapshot name %q", name)
	}
	path := filepath.Join(s.dir, name)
	if _, err := os.Stat(path); err != nil {
		return "", err
	}
	return path, nil
}

// List returns snapshot filenames, oldest first.
func (s *Snapshots) List() []string {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), "debug_") && strings.HasSuffix(e.Name(), ".wav") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names
}

// prune removes the oldest snapshots beyond the keep limit. Filenames
// sort chronologically by construction.
func (s *Snapshots) prune() {
	names := s.List()
	for len(names) > s.keep {
		victim := names[0]
		names = names[1:]
		if err := os.Remove(filepath.Join(s.dir, victim)); err != nil {
			s.log.Warn().Err(err).Str("file", victim).Msg("failed to prune snapshot")
		}
	}
}

// slug reduces text to a short filesystem-safe fragment.
func slug(text string) string {
	text = strings.ToLower(strings.TrimSpace(text))
	var b strings.Builder
	for _, r := range text {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '_' || r == '-':
			b.WriteByte('_')
		}
		if b.Len() >= 32 {
			break
		}
	}
	out := strings.Trim(b.String(), "_")
	if out == "" {
		return "empty"
	}
	return out
}
