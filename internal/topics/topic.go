// Package topics maintains the registry of wake-word topics: lazy
// registration from heartbeats, per-topic Core URL overrides, wake-word
// strip lists, and the durable YAML snapshot.
package topics

import (
	"regexp"
	"time"
)

// activeWindow is how recently a topic must have been seen to count as
// active.
const activeWindow = 120 * time.Second

var nameRe = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// DefaultTopic is the route used when a producer names no topic, or an
// invalid one.
const DefaultTopic = "general"

// ValidName reports whether name is a legal topic identifier.
func ValidName(name string) bool {
	return nameRe.MatchString(name)
}

// Sanitize coerces invalid topic names to DefaultTopic on the forward
// path.
func Sanitize(name string) string {
	if ValidName(name) {
		return name
	}
	return DefaultTopic
}

// Config is the registry entry for one topic.
type Config struct {
	Name string `yaml:"name" json:"name"`

	// CoreURL overrides the default downstream Core; nil uses the default.
	CoreURL *string `yaml:"orac_core_url" json:"orac_core_url"`

	// WakeWordsToStrip is a comma-separated list of phrases removed from
	// the front of forwarded transcriptions.
	WakeWordsToStrip *string `yaml:"wake_words_to_strip" json:"wake_words_to_strip"`

	LastSeen time.Time      `yaml:"last_seen" json:"last_seen"`
	Metadata map[string]any `yaml:"metadata" json:"metadata"`
}

// Active reports whether the topic has been seen within the activity
// window.
func (c *Config) Active() bool {
	if c.LastSeen.IsZero() {
		return false
	}
	return time.Since(c.LastSeen) < activeWindow
}

// touch updates the activity timestamp and merges metadata. Existing
// metadata keys are overwritten, never dropped.
func (c *Config) touch(metadata map[string]any) {
	c.LastSeen = time.Now().UTC()
	if len(metadata) == 0 {
		return
	}
	if c.Metadata == nil {
		c.Metadata = make(map[string]any, len(metadata))
	}
	for k, v := range metadata {
		c.Metadata[k] = v
	}
}

// clone returns a deep-enough copy for read snapshots.
func (c *Config) clone() Config {
	out := *c
	if c.Metadata != nil {
		out.Metadata = make(map[string]any, len(c.Metadata))
		for k, v := range c.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}
