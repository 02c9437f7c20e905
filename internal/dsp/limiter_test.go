package dsp

import (
	"math"
	"testing"
)

func TestLimiterNeverExceedsCeiling(t *testing.T) {
	l := NewLimiter(-1, 5, 50, 48000, false, 0)
	frame := make([]float32, 480)
	for i := range frame {
		frame[i] = 1.5 // well above ceiling
	}
	for iter := 0; iter < 20; iter++ {
		l.Process(frame)
	}
	ceiling := float32(math.Pow(10, -1.0/20))
	for _, s := range frame {
		if s > ceiling+1e-4 || s < -ceiling-1e-4 {
			t.Fatalf("sample %v exceeds ceiling %v", s, ceiling)
		}
	}
}

func TestLimiterPassesQuietSignalUnchanged(t *testing.T) {
	l := NewLimiter(-1, 5, 50, 48000, false, 0)
	frame := make([]float32, 480)
	for i := range frame {
		frame[i] = 0.01
	}
	out := make([]float32, len(frame))
	copy(out, frame)
	l.Process(out)
	// After the initial lookahead delay settles, a quiet signal should pass
	// through essentially unattenuated.
	if math.Abs(float64(out[len(out)-1]-frame[0])) > 0.01 {
		t.Errorf("quiet tail sample = %v, want ~%v", out[len(out)-1], frame[0])
	}
}

func TestLimiterClipHitsCounted(t *testing.T) {
	l := NewLimiter(-1, 3, 30, 48000, false, 0)
	frame := make([]float32, 480)
	for i := range frame {
		frame[i] = 2.0
	}
	for i := 0; i < 10; i++ {
		l.Process(frame)
	}
	if l.ClipHits() == 0 {
		t.Error("expected clip hits to be counted for sustained overs")
	}
}

func TestLimiterSoftKneeOutputIsFinite(t *testing.T) {
	hard := NewLimiter(-1, 5, 50, 48000, false, 0)
	soft := NewLimiter(-1, 5, 50, 48000, true, 2.0)
	frame := []float32{1.2}
	hf := append([]float32(nil), frame...)
	sf := append([]float32(nil), frame...)
	for i := 0; i < 5; i++ {
		hard.Process(hf)
		soft.Process(sf)
	}
	// Both should be bounded; just confirm no panic and finite output.
	if hf[0] != hf[0] || sf[0] != sf[0] {
		t.Fatal("NaN in limiter output")
	}
}
