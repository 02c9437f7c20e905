package dsp

import (
	"math"
	"testing"
)

func TestGainStageStaticOnly(t *testing.T) {
	g := NewGainStage(6.0, false, 0, 0, 0, 0, 10)
	frame := []float32{0.1, -0.1}
	g.Process(frame)
	want := float32(0.1 * math.Pow(10, 6.0/20))
	if math.Abs(float64(frame[0]-want)) > 1e-4 {
		t.Errorf("frame[0] = %v, want ~%v", frame[0], want)
	}
}

func TestGainStageNormalizeMovesTowardTarget(t *testing.T) {
	g := NewGainStage(0, true, -20, 24, 5, 50, 10)
	frame := make([]float32, 480)
	for i := range frame {
		frame[i] = 0.01
	}
	for i := 0; i < 50; i++ {
		f := make([]float32, len(frame))
		copy(f, frame)
		g.Process(f)
		frame = f
	}
	// After many iterations the smoothed gain should have pushed level up
	// toward -20 dBFS from the very quiet starting point.
	var sum float64
	for _, s := range frame {
		sum += float64(s) * float64(s)
	}
	rms := math.Sqrt(sum / float64(len(frame)))
	db := 20 * math.Log10(rms)
	if db < -30 {
		t.Errorf("level after normalization = %v dBFS, expected closer to -20", db)
	}
}

func TestGainStageZeroFrameNoPanic(t *testing.T) {
	g := NewGainStage(0, true, -20, 24, 5, 50, 10)
	g.Process(nil)
}
