package topics

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Registry is the process-scoped topic map with a YAML snapshot on
// disk. Mutations persist before returning; loads are best-effort.
type Registry struct {
	path string
	log  zerolog.Logger

	mu     sync.Mutex
	topics map[string]*Config

	// fileMu serializes snapshot writes. The topic map mutex is never
	// held across disk I/O; writers race last-writer-wins on a full
	// overwrite, which the format tolerates.
	fileMu sync.Mutex
}

type snapshotFile struct {
	Topics []Config `yaml:"topics"`
}

// NewRegistry creates a registry persisting to dataDir/topics.yaml and
// loads any existing snapshot. A corrupt or missing file starts empty.
func NewRegistry(dataDir string, log zerolog.Logger) *Registry {
	r := &Registry{
		path:   filepath.Join(dataDir, "topics.yaml"),
		log:    log,
		topics: make(map[string]*Config),
	}
	r.load()
	return r
}

func (r *Registry) load() {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if !os.IsNotExist(err) {
			r.log.Error().Err(err).Str("path", r.path).Msg("failed to read topics file, starting empty")
		}
		return
	}

	var snap snapshotFile
	if err := yaml.Unmarshal(data, &snap); err != nil {
		r.log.Error().Err(err).Str("path", r.path).Msg("failed to parse topics file, starting empty")
		return
	}

	for i := range snap.Topics {
		t := snap.Topics[i]
		if t.Name == "" {
			continue
		}
		r.topics[t.Name] = &t
	}
	r.log.Info().Int("topics", len(r.topics)).Str("path", r.path).Msg("loaded topic registry")
}

// save snapshots the map under the lock, then writes outside it via
// temp-file-and-rename.
func (r *Registry) save() {
	r.mu.Lock()
	snap := snapshotFile{Topics: make([]Config, 0, len(r.topics))}
	for _, t := range r.topics {
		snap.Topics = append(snap.Topics, t.clone())
	}
	r.mu.Unlock()

	sort.Slice(snap.Topics, func(i, j int) bool { return snap.Topics[i].Name < snap.Topics[j].Name })

	if err := writeYAML(r.path, &snap); err != nil {
		r.log.Error().Err(err).Str("path", r.path).Msg("failed to persist topics")
	}
}

// writeYAML marshals v and atomically replaces path.
func writeYAML(path string, v any) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

// AutoRegister creates the topic if absent, refreshes its activity
// timestamp, and merges metadata. Returns a copy of the entry.
func (r *Registry) AutoRegister(name string, metadata map[string]any) Config {
	r.fileMu.Lock()
	defer r.fileMu.Unlock()

	r.mu.Lock()
	t, ok := r.topics[name]
	if !ok {
		r.log.Info().Str("topic", name).Msg("auto-registering new topic")
		t = &Config{Name: name, Metadata: map[string]any{}}
		r.topics[name] = t
	}
	t.touch(metadata)
	out := t.clone()
	r.mu.Unlock()

	r.save()
	return out
}

// UpdateActivity refreshes a topic's timestamp and metadata,
// registering it implicitly when unknown.
func (r *Registry) UpdateActivity(name string, metadata map[string]any) {
	r.AutoRegister(name, metadata)
}

// CoreURL returns the topic's Core URL override, or nil for the default.
func (r *Registry) CoreURL(name string) *string {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.topics[name]
	if !ok || t.CoreURL == nil {
		return nil
	}
	url := *t.CoreURL
	return &url
}

// WakeWordsToStrip returns the topic's strip list, or empty when unset.
func (r *Registry) WakeWordsToStrip(name string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.topics[name]
	if !ok || t.WakeWordsToStrip == nil {
		return ""
	}
	return *t.WakeWordsToStrip
}

// SetCoreURL sets or clears a topic's Core URL override, registering
// the topic when unknown, and persists.
func (r *Registry) SetCoreURL(name string, url *string) {
	r.fileMu.Lock()
	defer r.fileMu.Unlock()

	r.mu.Lock()
	t, ok := r.topics[name]
	if !ok {
		t = &Config{Name: name, Metadata: map[string]any{}}
		t.touch(nil)
		r.topics[name] = t
	}
	t.CoreURL = url
	r.mu.Unlock()

	r.save()
}

// SetWakeWordsToStrip sets or clears a topic's wake-word strip list and
// persists.
func (r *Registry) SetWakeWordsToStrip(name string, csv *string) {
	r.fileMu.Lock()
	defer r.fileMu.Unlock()

	r.mu.Lock()
	t, ok := r.topics[name]
	if !ok {
		t = &Config{Name: name, Metadata: map[string]any{}}
		t.touch(nil)
		r.topics[name] = t
	}
	t.WakeWordsToStrip = csv
	r.mu.Unlock()

	r.save()
}

// Get returns a copy of the topic entry.
func (r *Registry) Get(name string) (Config, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.topics[name]
	if !ok {
		return Config{}, false
	}
	return t.clone(), true
}

// All returns copies of every registered topic, name-sorted.
func (r *Registry) All() []Config {
	r.mu.Lock()
	out := make([]Config, 0, len(r.topics))
	for _, t := range r.topics {
		out = append(out, t.clone())
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Active returns topics seen within the activity window.
func (r *Registry) Active() []Config {
	var out []Config
	for _, t := range r.All() {
		if t.Active() {
			out = append(out, t)
		}
	}
	return out
}

// Remove deletes a topic and persists. Reports whether it existed.
func (r *Registry) Remove(name string) bool {
	r.fileMu.Lock()
	defer r.fileMu.Unlock()

	r.mu.Lock()
	_, ok := r.topics[name]
	if ok {
		delete(r.topics, name)
	}
	r.mu.Unlock()

	if ok {
		r.save()
	}
	return ok
}

// GroupByCoreURL partitions topic names by their effective Core URL.
// The empty key collects topics using the process default.
func (r *Registry) GroupByCoreURL(names []string) map[string][]string {
	grouped := make(map[string][]string)
	r.mu.Lock()
	for _, name := range names {
		key := ""
		if t, ok := r.topics[name]; ok && t.CoreURL != nil {
			key = *t.CoreURL
		}
		grouped[key] = append(grouped[key], name)
	}
	r.mu.Unlock()
	return grouped
}

// Touch is a test hook setting an explicit last-seen time.
func (r *Registry) Touch(name string, at time.Time) {
	r.mu.Lock()
	if t, ok := r.topics[name]; ok {
		t.LastSeen = at
	}
	r.mu.Unlock()
}
