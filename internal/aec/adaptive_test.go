package aec

import "testing"

func TestIdentityPassthrough(t *testing.T) {
	p := New(Config{Enabled: false}, 480)
	in := []float32{0.1, -0.2, 0.3}
	out := make([]float32, 3)
	p.ProcessNear(in, out)
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("identity out[%d] = %v, want %v", i, out[i], in[i])
		}
	}
}

func TestAdaptiveConvergesOnPureEcho(t *testing.T) {
	p := newAdaptive(480)
	p.Configure(Config{Enabled: true, InitialDelayMs: 0}, 48000, 10)

	far := make([]float32, 480)
	for i := range far {
		far[i] = float32(0.3) // constant far-end level
	}
	near := make([]float32, 480)
	copy(near, far) // pure echo, no near-end content

	out := make([]float32, 480)
	var lastAbs float64
	for iter := 0; iter < 50; iter++ {
		p.FeedFar(far)
		p.ProcessNear(near, out)
		var sum float64
		for _, s := range out {
			sum += float64(s) * float64(s)
		}
		lastAbs = sum
	}
	if lastAbs > 0.01 {
		t.Errorf("residual energy after convergence = %v, expected near zero", lastAbs)
	}
}

func TestSetStreamDelayMsClamped(t *testing.T) {
	p := newAdaptive(480)
	p.SetStreamDelayMs(-50)
	if p.streamDelayMs != 0 {
		t.Errorf("streamDelayMs = %d, want clamped to 0", p.streamDelayMs)
	}
	p.SetStreamDelayMs(5000)
	if p.streamDelayMs != 200 {
		t.Errorf("streamDelayMs = %d, want clamped to 200", p.streamDelayMs)
	}
}

func TestFeedFarBeforeProcessNearOrdering(t *testing.T) {
	p := newAdaptive(160)
	p.Configure(Config{Enabled: true}, 16000, 10)
	far := make([]float32, 160)
	for i := range far {
		far[i] = 0.5
	}
	p.FeedFar(far)
	out := make([]float32, 160)
	p.ProcessNear(far, out)
	// Should not panic and should produce finite output.
	for _, s := range out {
		if s != s { // NaN check
			t.Fatal("NaN in output")
		}
	}
}

func TestHighPassRemovesDC(t *testing.T) {
	hp := newHighPass(80, 48000)
	frame := make([]float32, 4800)
	for i := range frame {
		frame[i] = 1.0 // constant DC offset
	}
	hp.Process(frame)
	// After settling, a high-pass should drive DC toward zero.
	tail := frame[len(frame)-100:]
	var sum float64
	for _, s := range tail {
		sum += float64(s)
	}
	avg := sum / float64(len(tail))
	if avg > 0.05 || avg < -0.05 {
		t.Errorf("average residual DC = %v, want near 0", avg)
	}
}

func TestResidualSuppressNoopAtLow(t *testing.T) {
	residual := []float32{0.5, 0.5}
	far := []float32{1, 1}
	before := append([]float32(nil), residual...)
	residualSuppress(residual, far, Low)
	for i := range residual {
		if residual[i] != before[i] {
			t.Errorf("Low suppression should be a no-op, changed sample %d", i)
		}
	}
}

func TestResidualSuppressAttenuatesAtVeryHigh(t *testing.T) {
	residual := []float32{0.5, 0.5}
	far := []float32{1, 1}
	residualSuppress(residual, far, VeryHigh)
	for i, s := range residual {
		if s >= 0.5 {
			t.Errorf("VeryHigh suppression should attenuate sample %d, got %v", i, s)
		}
	}
}
