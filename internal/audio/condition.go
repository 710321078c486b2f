package audio

import "math"

// Resample converts samples from one rate to another with linear
// interpolation. The output has round(len*to/from) samples.
func Resample(in []float64, from, to int) []float64 {
	if from <= 0 || to <= 0 || from == to || len(in) == 0 {
		out := make([]float64, len(in))
		copy(out, in)
		return out
	}

	n := int(math.Round(float64(len(in)) * float64(to) / float64(from)))
	out := make([]float64, n)
	ratio := float64(from) / float64(to)
	last := len(in) - 1
	for i := range out {
		pos := float64(i) * ratio
		j := int(pos)
		if j >= last {
			out[i] = in[last]
			continue
		}
		frac := pos - float64(j)
		out[i] = in[j]*(1-frac) + in[j+1]*frac
	}
	return out
}

// TrimSilence drops the leading and trailing runs of samples whose absolute
// amplitude is below threshold. Interior quiet stretches are kept, so the
// result is unchanged when trimmed again.
func TrimSilence(in []float64, threshold float64) []float64 {
	start := 0
	for start < len(in) && math.Abs(in[start]) < threshold {
		start++
	}
	end := len(in)
	for end > start && math.Abs(in[end-1]) < threshold {
		end--
	}
	return in[start:end]
}

// ToInt16 maps float samples to signed 16-bit with round(clamp(x)*32767)
func ToInt16(in []float64) []int16 {
	out := make([]int16, len(in))
	for i, v := range in {
		if math.IsNaN(v) {
			continue
		}
		v = math.Max(-1, math.Min(1, v))
		out[i] = int16(math.Round(v * 32767))
	}
	return out
}
