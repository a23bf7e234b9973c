package audio

import (
	"encoding/binary"
	"math"
	"strings"
	"testing"
)

func int16Bytes(samples []int16) []byte {
	b := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(b[2*i:], uint16(s))
	}
	return b
}

func TestBuffer(t *testing.T) {
	t.Run("append_int16_scales_to_unit_range", func(t *testing.T) {
		b := NewBuffer(0)
		if err := b.AppendInt16(int16Bytes([]int16{0, 16384, -32768, 32767})); err != nil {
			t.Fatalf("AppendInt16: %v", err)
		}
		got := b.Drain()
		want := []float32{0, 0.5, -1, 32767.0 / 32768.0}
		if len(got) != len(want) {
			t.Fatalf("got %d samples, want %d", len(got), len(want))
		}
		for i := range want {
			if math.Abs(float64(got[i]-want[i])) > 1e-6 {
				t.Errorf("sample %d = %v, want %v", i, got[i], want[i])
			}
		}
	})

	t.Run("append_float32_passthrough", func(t *testing.T) {
		b := NewBuffer(0)
		chunk := make([]byte, 8)
		binary.LittleEndian.PutUint32(chunk[0:], math.Float32bits(0.25))
		binary.LittleEndian.PutUint32(chunk[4:], math.Float32bits(-0.75))
		if err := b.AppendFloat32(chunk); err != nil {
			t.Fatalf("AppendFloat32: %v", err)
		}
		got := b.Drain()
		if got[0] != 0.25 || got[1] != -0.75 {
			t.Errorf("samples = %v, want [0.25 -0.75]", got)
		}
	})

	t.Run("odd_chunk_rejected", func(t *testing.T) {
		b := NewBuffer(0)
		if err := b.AppendInt16([]byte{1, 2, 3}); err == nil {
			t.Error("expected error for odd-length int16 chunk")
		}
	})

	t.Run("append_past_duration_cap_rejected", func(t *testing.T) {
		b := NewBuffer(0)
		// Fill to exactly the cap, then one more sample.
		chunk := int16Bytes(make([]int16, SampleRate))
		for i := 0.0; i < MaxDuration; i++ {
			if err := b.AppendInt16(chunk); err != nil {
				t.Fatalf("append second %.0f: %v", i, err)
			}
		}
		if err := b.AppendInt16(int16Bytes([]int16{0})); err == nil {
			t.Error("expected error past the duration cap")
		}
		if b.Duration() != MaxDuration {
			t.Errorf("Duration = %v, want %v (rejected chunk must not be buffered)", b.Duration(), MaxDuration)
		}

		f := NewBuffer(0)
		big := make([]byte, (maxBufferSamples+1)*4)
		if err := f.AppendFloat32(big); err == nil {
			t.Error("expected error for oversized float32 chunk")
		}
	})

	t.Run("total_samples_monotonic_until_reset", func(t *testing.T) {
		b := NewBuffer(0)
		b.AppendInt16(int16Bytes(make([]int16, 100)))
		b.AppendInt16(int16Bytes(make([]int16, 50)))
		if b.TotalSamples() != 150 {
			t.Errorf("TotalSamples = %d, want 150", b.TotalSamples())
		}
		b.Reset()
		if b.TotalSamples() != 0 {
			t.Errorf("TotalSamples after reset = %d, want 0", b.TotalSamples())
		}
	})

	t.Run("threshold", func(t *testing.T) {
		b := NewBuffer(100) // 100ms => 1600 samples at 16k
		b.AppendInt16(int16Bytes(make([]int16, 800)))
		if b.HasMinimum() {
			t.Error("HasMinimum = true at 50ms, want false")
		}
		b.AppendInt16(int16Bytes(make([]int16, 800)))
		if !b.HasMinimum() {
			t.Error("HasMinimum = false at 100ms, want true")
		}
	})
}

func TestPrepare(t *testing.T) {
	t.Run("in_range_untouched", func(t *testing.T) {
		in := []float32{0.5, -0.9, 1.0}
		out := Prepare(in)
		for i := range in {
			if out[i] != in[i] {
				t.Errorf("sample %d changed: %v -> %v", i, in[i], out[i])
			}
		}
	})

	t.Run("clipped_divided_by_peak", func(t *testing.T) {
		out := Prepare([]float32{2.0, -1.0, 0.5})
		if out[0] != 1.0 {
			t.Errorf("peak sample = %v, want 1.0", out[0])
		}
		if out[1] != -0.5 {
			t.Errorf("sample 1 = %v, want -0.5", out[1])
		}
	})
}

func TestDecodeWAV(t *testing.T) {
	t.Run("roundtrip_within_one_lsb", func(t *testing.T) {
		src := make([]int16, 1600)
		for i := range src {
			src[i] = int16(3000 * math.Sin(float64(i)/20))
		}
		b := NewBuffer(0)
		b.AppendInt16(int16Bytes(src))
		samples := b.Drain()

		decoded, err := DecodeWAV(EncodeWAV(samples, SampleRate))
		if err != nil {
			t.Fatalf("DecodeWAV: %v", err)
		}
		if len(decoded) != len(src) {
			t.Fatalf("decoded %d samples, want %d", len(decoded), len(src))
		}
		for i := range src {
			got := int16(math.Round(float64(decoded[i]) * 32768))
			diff := int(got) - int(src[i])
			if diff < -1 || diff > 1 {
				t.Fatalf("sample %d: got %d, want %d (±1)", i, got, src[i])
			}
		}
	})

	t.Run("stereo_downmixed", func(t *testing.T) {
		// Hand-build a 2-channel PCM16 WAV: L=1000, R=3000.
		frames := 160
		data := make([]byte, frames*4)
		for i := 0; i < frames; i++ {
			binary.LittleEndian.PutUint16(data[4*i:], uint16(int16(1000)))
			binary.LittleEndian.PutUint16(data[4*i+2:], uint16(int16(3000)))
		}
		wav := buildWAV(t, 2, SampleRate, 16, 1, data)

		samples, err := DecodeWAV(wav)
		if err != nil {
			t.Fatalf("DecodeWAV: %v", err)
		}
		if len(samples) != frames {
			t.Fatalf("got %d samples, want %d", len(samples), frames)
		}
		want := float32(2000) / 32768.0
		if math.Abs(float64(samples[0]-want)) > 1e-6 {
			t.Errorf("downmixed sample = %v, want %v", samples[0], want)
		}
	})

	t.Run("resamples_other_rates", func(t *testing.T) {
		src := make([]float32, 8000) // 1s at 8kHz
		for i := range src {
			src[i] = float32(0.5 * math.Sin(2*math.Pi*200*float64(i)/8000))
		}
		samples, err := DecodeWAV(EncodeWAV(src, 8000))
		if err != nil {
			t.Fatalf("DecodeWAV: %v", err)
		}
		got := Duration(samples, SampleRate)
		if math.Abs(got-1.0) > 0.01 {
			t.Errorf("resampled duration = %v, want ~1.0s", got)
		}
	})

	t.Run("too_long_rejected", func(t *testing.T) {
		long := make([]float32, SampleRate*16)
		_, err := DecodeWAV(EncodeWAV(long, SampleRate))
		if err == nil {
			t.Fatal("expected error for 16s clip")
		}
		if !strings.Contains(err.Error(), "exceeds maximum") {
			t.Errorf("err = %v, want duration message", err)
		}
	})

	t.Run("garbage_rejected", func(t *testing.T) {
		if _, err := DecodeWAV([]byte("definitely not a wav file, not even close")); err == nil {
			t.Error("expected error for non-WAV payload")
		}
	})

	t.Run("unsupported_width_rejected", func(t *testing.T) {
		wav := buildWAV(t, 1, SampleRate, 8, 1, make([]byte, 100))
		if _, err := DecodeWAV(wav); err == nil {
			t.Error("expected error for 8-bit PCM")
		}
	})
}

func TestResample(t *testing.T) {
	t.Run("identity_when_rates_equal", func(t *testing.T) {
		in := []float32{1, 2, 3}
		out := Resample(in, SampleRate, SampleRate)
		if &out[0] != &in[0] {
			t.Error("expected same slice back for equal rates")
		}
	})

	t.Run("preserves_tone_through_downsample", func(t *testing.T) {
		// 440Hz tone at 48k downsampled to 16k should keep its RMS.
		in := make([]float32, 48000)
		for i := range in {
			in[i] = float32(0.5 * math.Sin(2*math.Pi*440*float64(i)/48000))
		}
		out := Resample(in, 48000, 16000)

		rms := func(s []float32) float64 {
			var sum float64
			for _, v := range s {
				sum += float64(v) * float64(v)
			}
			return math.Sqrt(sum / float64(len(s)))
		}
		inRMS, outRMS := rms(in), rms(out)
		if math.Abs(inRMS-outRMS) > 0.02 {
			t.Errorf("RMS drifted: in=%v out=%v", inRMS, outRMS)
		}
	})
}

// buildWAV assembles a WAV container with explicit header fields so tests
// can produce shapes EncodeWAV never emits.
func buildWAV(t *testing.T, channels, rate, bits, format int, data []byte) []byte {
	t.Helper()
	b := make([]byte, 0, 44+len(data))
	u32 := func(v uint32) []byte {
		x := make([]byte, 4)
		binary.LittleEndian.PutUint32(x, v)
		return x
	}
	u16 := func(v uint16) []byte {
		x := make([]byte, 2)
		binary.LittleEndian.PutUint16(x, v)
		return x
	}
	b = append(b, "RIFF"...)
	b = append(b, u32(uint32(36+len(data)))...)
	b = append(b, "WAVE"...)
	b = append(b, "fmt "...)
	b = append(b, u32(16)...)
	b = append(b, u16(uint16(format))...)
	b = append(b, u16(uint16(channels))...)
	b = append(b, u32(uint32(rate))...)
	b = append(b, u32(uint32(rate*channels*bits/8))...)
	b = append(b, u16(uint16(channels*bits/8))...)
	b = append(b, u16(uint16(bits))...)
	b = append(b, "data"...)
	b = append(b, u32(uint32(len(data)))...)
	b = append(b, data...)
	return b
}
