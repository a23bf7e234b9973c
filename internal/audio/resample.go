package audio

import "math"

// Taps per side of the windowed-sinc kernel. 16 keeps aliasing below
// the noise floor of 16-bit speech audio.
const resampleTaps = 16

// Resample converts samples from one rate to another with a
// Hann-windowed sinc interpolator, low-passed at the Nyquist frequency
// of the slower rate.
func Resample(in []float32, from, to int) []float32 {
	if from == to || len(in) == 0 || from <= 0 || to <= 0 {
		return in
	}

	ratio := float64(to) / float64(from)
	outLen := int(math.Ceil(float64(len(in)) * ratio))
	out := make([]float32, outLen)

	// Cutoff relative to the input rate.
	cutoff := 1.0
	if ratio < 1 {
		cutoff = ratio
	}

	for i := range out {
		center := float64(i) / ratio

		lo := int(math.Floor(center)) - resampleTaps + 1
		hi := int(math.Floor(center)) + resampleTaps

		var acc, norm float64
		for j := lo; j <= hi; j++ {
			if j < 0 || j >= len(in) {
				continue
			}
			x := (center - float64(j)) * cutoff
			w := sinc(x) * hann(center-float64(j))
			acc += float64(in[j]) * w
			norm += w
		}
		if norm != 0 {
			out[i] = float32(acc / norm)
		}
	}

	return out
}

func sinc(x float64) float64 {
	if x == 0 {
		return 1
	}
	px := math.Pi * x
	return math.Sin(px) / px
}

func hann(x float64) float64 {
	if math.Abs(x) >= resampleTaps {
		return 0
	}
	return 0.5 + 0.5*math.Cos(math.Pi*x/resampleTaps)
}
