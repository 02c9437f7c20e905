package dsp

import "math"

// LowPass is a second-order Butterworth low-pass biquad, direct-form II
// transposed. State persists across frames per channel, mirroring the
// shape of the AEC port's post-cancellation high-pass.
type LowPass struct {
	b0, b1, b2 float64
	a1, a2     float64
	z1, z2     float64
}

// NewLowPass builds a Butterworth low-pass at cutoffHz, clamped to
// [2000, rateHz/2 - 100] per the post-processor contract.
func NewLowPass(cutoffHz, rateHz float64) *LowPass {
	maxCutoff := rateHz/2 - 100
	if cutoffHz > maxCutoff {
		cutoffHz = maxCutoff
	}
	if cutoffHz < 2000 {
		cutoffHz = 2000
	}

	w0 := 2 * math.Pi * cutoffHz / rateHz
	cosW0 := math.Cos(w0)
	sinW0 := math.Sin(w0)
	alpha := sinW0 / math.Sqrt2

	b0 := (1 - cosW0) / 2
	b1 := 1 - cosW0
	b2 := (1 - cosW0) / 2
	a0 := 1 + alpha
	a1 := -2 * cosW0
	a2 := 1 - alpha

	return &LowPass{
		b0: b0 / a0, b1: b1 / a0, b2: b2 / a0,
		a1: a1 / a0, a2: a2 / a0,
	}
}

// Process filters frame in-place.
func (f *LowPass) Process(frame []float32) {
	for i, x := range frame {
		in := float64(x)
		out := f.b0*in + f.z1
		f.z1 = f.b1*in + f.z2 - f.a1*out
		f.z2 = f.b2*in - f.a2*out
		frame[i] = float32(out)
	}
}
