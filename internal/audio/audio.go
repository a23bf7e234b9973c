// Package audio holds the PCM plumbing between edge producers and the
// whisper engine: chunk accumulation for streaming sessions, WAV decode
// and encode, and normalization to mono 16 kHz float32.
package audio

import (
	"errors"
	"fmt"
	"math"
)

// SampleRate is the only rate the engine accepts.
const SampleRate = 16000

// MaxDuration is the hard cap on a single utterance.
const MaxDuration = 15.0

// ErrBadAudio is the kind for malformed or out-of-contract audio input.
var ErrBadAudio = errors.New("bad audio")

func badAudio(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrBadAudio, fmt.Sprintf(format, args...))
}

// Prepare normalizes samples for the engine: if the peak magnitude
// exceeds 1, the whole signal is divided by it. In-range audio is
// returned untouched.
func Prepare(samples []float32) []float32 {
	var peak float32
	for _, s := range samples {
		if a := float32(math.Abs(float64(s))); a > peak {
			peak = a
		}
	}
	if peak <= 1 {
		return samples
	}
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = s / peak
	}
	return out
}

// Duration returns the length in seconds of samples at the given rate.
func Duration(samples []float32, rate int) float64 {
	if rate <= 0 {
		return 0
	}
	return float64(len(samples)) / float64(rate)
}
