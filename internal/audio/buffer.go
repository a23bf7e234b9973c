package audio

import (
	"encoding/binary"
	"math"
)

// Buffer accumulates PCM chunks for one streaming session. Chunks
// arrive as little-endian int16 or float32 bytes; samples leave as
// mono 16 kHz float32 in [-1, 1]. A Buffer is owned by a single
// session goroutine and is not safe for concurrent use.
type Buffer struct {
	thresholdMs  int
	samples      []float32
	totalSamples int64
}

// maxBufferSamples bounds a session at the engine's utterance cap so a
// client cannot grow memory indefinitely before sending "end".
const maxBufferSamples = int(MaxDuration * SampleRate)

// NewBuffer creates a session buffer. thresholdMs is the minimum
// buffered audio before a transcription attempt is permitted.
func NewBuffer(thresholdMs int) *Buffer {
	return &Buffer{thresholdMs: thresholdMs}
}

// AppendInt16 appends a chunk of little-endian 16-bit PCM.
// A trailing odd byte is rejected rather than silently dropped.
func (b *Buffer) AppendInt16(chunk []byte) error {
	if len(chunk)%2 != 0 {
		return badAudio("int16 chunk has odd length %d", len(chunk))
	}
	if len(b.samples)+len(chunk)/2 > maxBufferSamples {
		return badAudio("buffered audio exceeds maximum %.0fs", MaxDuration)
	}
	for i := 0; i < len(chunk); i += 2 {
		v := int16(binary.LittleEndian.Uint16(chunk[i:]))
		b.samples = append(b.samples, float32(v)/32768.0)
	}
	b.totalSamples += int64(len(chunk) / 2)
	return nil
}

// AppendFloat32 appends a chunk of little-endian float32 PCM.
func (b *Buffer) AppendFloat32(chunk []byte) error {
	if len(chunk)%4 != 0 {
		return badAudio("float32 chunk has length %d, not a multiple of 4", len(chunk))
	}
	if len(b.samples)+len(chunk)/4 > maxBufferSamples {
		return badAudio("buffered audio exceeds maximum %.0fs", MaxDuration)
	}
	for i := 0; i < len(chunk); i += 4 {
		bits := binary.LittleEndian.Uint32(chunk[i:])
		b.samples = append(b.samples, math.Float32frombits(bits))
	}
	b.totalSamples += int64(len(chunk) / 4)
	return nil
}

// Duration returns the buffered audio length in seconds.
func (b *Buffer) Duration() float64 {
	return float64(len(b.samples)) / float64(SampleRate)
}

// TotalSamples returns the running count of samples received since the
// last Reset. It never decreases between resets.
func (b *Buffer) TotalSamples() int64 {
	return b.totalSamples
}

// HasMinimum reports whether enough audio is buffered to attempt a
// transcription.
func (b *Buffer) HasMinimum() bool {
	return b.Duration()*1000 >= float64(b.thresholdMs)
}

// Drain returns the accumulated samples and resets the buffer.
func (b *Buffer) Drain() []float32 {
	out := b.samples
	b.samples = nil
	b.totalSamples = 0
	return out
}

// Reset discards buffered samples and the running counter.
func (b *Buffer) Reset() {
	b.samples = nil
	b.totalSamples = 0
}
