package pcm

import (
	"encoding/binary"
	"math"
	"testing"
)

func TestToMonoF32Float32PassThrough(t *testing.T) {
	samples := []float32{0.1, -0.2, 0.3, -0.4}
	buf := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(s))
	}
	out := ToMonoF32(buf, SourceFormat{Encoding: EncodingFloat32, SampleRateHz: 48000, Channels: 1}, 48000)
	if len(out) != len(samples) {
		t.Fatalf("len = %d, want %d", len(out), len(samples))
	}
	for i := range samples {
		if math.Abs(float64(out[i]-samples[i])) > 1e-6 {
			t.Errorf("sample %d: got %v want %v", i, out[i], samples[i])
		}
	}
}

func TestToMonoF32PCM16Scale(t *testing.T) {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint16(buf[0:2], uint16(int16(16384)))
	neg := int16(-16384)
	binary.LittleEndian.PutUint16(buf[2:4], uint16(neg))
	out := ToMonoF32(buf, SourceFormat{Encoding: EncodingPCM16, SampleRateHz: 48000, Channels: 1}, 48000)
	if len(out) != 2 {
		t.Fatalf("len = %d, want 2", len(out))
	}
	if math.Abs(float64(out[0]-0.5)) > 1e-4 {
		t.Errorf("sample 0 = %v, want ~0.5", out[0])
	}
	if math.Abs(float64(out[1]+0.5)) > 1e-4 {
		t.Errorf("sample 1 = %v, want ~-0.5", out[1])
	}
}

func TestToMonoF32Downmix(t *testing.T) {
	// Stereo PCM16: left=1.0, right=0.0 -> mono average 0.5
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint16(buf[0:2], uint16(int16(32767)))
	binary.LittleEndian.PutUint16(buf[2:4], uint16(int16(0)))
	out := ToMonoF32(buf, SourceFormat{Encoding: EncodingPCM16, SampleRateHz: 48000, Channels: 2}, 48000)
	if len(out) != 1 {
		t.Fatalf("len = %d, want 1", len(out))
	}
	if math.Abs(float64(out[0]-0.5)) > 0.01 {
		t.Errorf("downmixed sample = %v, want ~0.5", out[0])
	}
}

func TestToMonoF32EmptyInput(t *testing.T) {
	out := ToMonoF32(nil, SourceFormat{Encoding: EncodingFloat32, SampleRateHz: 48000, Channels: 1}, 48000)
	if len(out) != 0 {
		t.Errorf("expected empty output, got %d samples", len(out))
	}
}

func TestResampleLinearLength(t *testing.T) {
	samples := make([]float32, 16000) // 1 second @ 16kHz
	out := resampleLinear(samples, 16000, 48000)
	want := 48000
	if abs(len(out)-want) > 2 {
		t.Errorf("resampled length = %d, want ~%d", len(out), want)
	}
}

func TestResampleLinearIdentity(t *testing.T) {
	samples := []float32{0.1, 0.2, 0.3}
	out := resampleLinear(samples, 48000, 48000)
	for i := range samples {
		if out[i] != samples[i] {
			t.Errorf("identity resample changed sample %d", i)
		}
	}
}

func TestResampleLinearInterpolates(t *testing.T) {
	// Doubling the rate should roughly interpolate between neighboring samples.
	samples := []float32{0.0, 1.0, 0.0, -1.0}
	out := resampleLinear(samples, 1, 2)
	if len(out) != 8 {
		t.Fatalf("len = %d, want 8", len(out))
	}
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
