// Package history keeps the short ring of recent transcriptions, their
// debug audio snapshots, and the event bus that pushes new commands to
// admin subscribers.
package history

import (
	"time"

	"github.com/google/uuid"
)

// Command is one completed transcription attempt, successful or not.
type Command struct {
	ID              string    `json:"id"`
	Text            string    `json:"text"`
	Topic           string    `json:"topic"`
	Timestamp       time.Time `json:"timestamp"`
	DurationSeconds float64   `json:"duration_seconds"`
	ProcessingMs    int64     `json:"processing_ms"`
	Confidence      float64   `json:"confidence"`
	Language        string    `json:"language,omitempty"`
	Failed          bool      `json:"failed"`

	// AudioFile is the snapshot filename under the recordings dir, empty
	// when no snapshot was kept.
	AudioFile string `json:"audio_file,omitempty"`
}

// NewCommand stamps a fresh ID and UTC timestamp on cmd.
func NewCommand(cmd Command) Command {
	cmd.ID = uuid.NewString()
	cmd.Timestamp = time.Now().UTC()
	return cmd
}
