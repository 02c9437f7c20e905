package aec

import "math"

// highPass is a second-order Butterworth high-pass biquad, used after
// linear echo cancellation to remove DC/rumble the NLMS filter leaves
// behind in the residual. Direct-form II transposed, same shape as the
// post-processor's low-pass in internal/dsp.
type highPass struct {
	b0, b1, b2 float64
	a1, a2     float64
	z1, z2     float64
}

func newHighPass(cutoffHz, rateHz float64) *highPass {
	w0 := 2 * math.Pi * cutoffHz / rateHz
	cosW0 := math.Cos(w0)
	sinW0 := math.Sin(w0)
	alpha := sinW0 / math.Sqrt2

	b0 := (1 + cosW0) / 2
	b1 := -(1 + cosW0)
	b2 := (1 + cosW0) / 2
	a0 := 1 + alpha
	a1 := -2 * cosW0
	a2 := 1 - alpha

	return &highPass{
		b0: b0 / a0, b1: b1 / a0, b2: b2 / a0,
		a1: a1 / a0, a2: a2 / a0,
	}
}

// Process filters frame in-place.
func (f *highPass) Process(frame []float32) {
	for i, x := range frame {
		in := float64(x)
		out := f.b0*in + f.z1
		f.z1 = f.b1*in + f.z2 - f.a1*out
		f.z2 = f.b2*in - f.a2*out
		frame[i] = float32(out)
	}
}

// residualSuppress applies an energy-gated spectral-subtraction-style
// attenuation to the AEC residual, scaled by how strong the far-end
// reference still is at each sample: a crude single-band subtraction
// since a full FFT-based suppressor has no grounding in the reference
// material and isn't warranted at VeryHigh suppression alone.
func residualSuppress(residual []float32, farRef []float32, level SuppressionLevel) {
	var gate float64
	switch level {
	case VeryHigh:
		gate = 0.6
	case High:
		gate = 0.35
	case Moderate:
		gate = 0.15
	default:
		gate = 0
	}
	if gate == 0 {
		return
	}
	n := len(residual)
	if len(farRef) < n {
		n = len(farRef)
	}
	for i := 0; i < n; i++ {
		farEnergy := float64(farRef[i]) * float64(farRef[i])
		atten := 1.0 - gate*math.Min(1, farEnergy*8)
		if atten < 1-gate {
			atten = 1 - gate
		}
		residual[i] = float32(float64(residual[i]) * atten)
	}
}
