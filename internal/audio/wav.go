package audio

import (
	"bytes"
	"encoding/binary"
	"math"
)

const (
	formatPCM       = 1
	formatIEEEFloat = 3
)

// DecodeWAV parses a RIFF/WAVE payload and returns mono 16 kHz float32
// samples. Multi-channel input is downmixed by arithmetic mean; other
// sample rates are resampled. 16-bit PCM and 32-bit float data are
// accepted. Anything else, and any decoded clip longer than
// MaxDuration, fails with ErrBadAudio.
func DecodeWAV(data []byte) ([]float32, error) {
	if len(data) < 44 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, badAudio("not a RIFF/WAVE file")
	}

	var (
		format     uint16
		channels   uint16
		rate       uint32
		bits       uint16
		sampleData []byte
		haveFmt    bool
	)

	// Walk chunks; tolerate extra chunks (LIST, fact) between fmt and data.
	off := 12
	for off+8 <= len(data) {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		if size < 0 || body+size > len(data) {
			return nil, badAudio("truncated %q chunk", id)
		}
		switch id {
		case "fmt ":
			if size < 16 {
				return nil, badAudio("fmt chunk too short (%d bytes)", size)
			}
			format = binary.LittleEndian.Uint16(data[body:])
			channels = binary.LittleEndian.Uint16(data[body+2:])
			rate = binary.LittleEndian.Uint32(data[body+4:])
			bits = binary.LittleEndian.Uint16(data[body+14:])
			haveFmt = true
		case "data":
			sampleData = data[body : body+size]
		}
		// Chunks are word-aligned.
		off = body + size + size%2
	}

	if !haveFmt {
		return nil, badAudio("missing fmt chunk")
	}
	if sampleData == nil {
		return nil, badAudio("missing data chunk")
	}
	if channels == 0 {
		return nil, badAudio("zero channels")
	}
	if rate == 0 {
		return nil, badAudio("zero sample rate")
	}

	var samples []float32
	switch {
	case format == formatPCM && bits == 16:
		n := len(sampleData) / 2
		samples = make([]float32, n)
		for i := 0; i < n; i++ {
			v := int16(binary.LittleEndian.Uint16(sampleData[2*i:]))
			samples[i] = float32(v) / 32768.0
		}
	case format == formatIEEEFloat && bits == 32:
		n := len(sampleData) / 4
		samples = make([]float32, n)
		for i := 0; i < n; i++ {
			samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(sampleData[4*i:]))
		}
	default:
		return nil, badAudio("unsupported format %d / %d-bit", format, bits)
	}

	// Downmix interleaved channels to mono.
	if channels > 1 {
		nc := int(channels)
		mono := make([]float32, len(samples)/nc)
		for i := range mono {
			var sum float32
			for c := 0; c < nc; c++ {
				sum += samples[i*nc+c]
			}
			mono[i] = sum / float32(nc)
		}
		samples = mono
	}

	if int(rate) != SampleRate {
		samples = Resample(samples, int(rate), SampleRate)
	}

	if d := Duration(samples, SampleRate); d > MaxDuration {
		return nil, badAudio("duration %.1fs exceeds maximum %.0fs", d, MaxDuration)
	}

	return samples, nil
}

// EncodeWAV wraps samples in a mono 16-bit PCM WAV container,
// clipping to the int16 range.
func EncodeWAV(samples []float32, rate int) []byte {
	if rate <= 0 {
		rate = SampleRate
	}

	dataSize := uint32(len(samples) * 2)
	byteRate := uint32(rate * 2)

	var buf bytes.Buffer
	buf.Grow(44 + int(dataSize))

	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36)+dataSize)
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(formatPCM))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // mono
	binary.Write(&buf, binary.LittleEndian, uint32(rate))
	binary.Write(&buf, binary.LittleEndian, byteRate)
	binary.Write(&buf, binary.LittleEndian, uint16(2)) // block align
	binary.Write(&buf, binary.LittleEndian, uint16(16))

	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, dataSize)
	for _, s := range samples {
		v := math.Round(float64(s) * 32767)
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		binary.Write(&buf, binary.LittleEndian, int16(v))
	}

	return buf.Bytes()
}
