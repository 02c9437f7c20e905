package wav

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWriterWritesHeaderAndData(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.wav")
	w, err := New(path, Format{SampleRateHz: 48000, Channels: 2, Float32: false})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	frame := make([]byte, 4*480) // 480 stereo PCM16 frames
	w.Enqueue(frame)
	w.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(data) != headerSize+len(frame) {
		t.Fatalf("file length = %d, want %d", len(data), headerSize+len(frame))
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		t.Error("missing RIFF/WAVE markers")
	}
	if string(data[36:40]) != "data" {
		t.Error("missing data chunk marker")
	}
	dataLen := binary.LittleEndian.Uint32(data[40:44])
	if int(dataLen) != len(frame) {
		t.Errorf("data chunk length = %d, want %d", dataLen, len(frame))
	}
	riffLen := binary.LittleEndian.Uint32(data[4:8])
	if int(riffLen) != 36+len(frame) {
		t.Errorf("RIFF length = %d, want %d", riffLen, 36+len(frame))
	}
}

func TestWriterFloat32FormatCode(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.wav")
	w, err := New(path, Format{SampleRateHz: 48000, Channels: 2, Float32: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	w.Close()
	data, _ := os.ReadFile(path)
	code := binary.LittleEndian.Uint16(data[20:22])
	if code != floatFormatCode {
		t.Errorf("format code = %d, want %d (IEEE float)", code, floatFormatCode)
	}
	bits := binary.LittleEndian.Uint16(data[34:36])
	if bits != 32 {
		t.Errorf("bits per sample = %d, want 32", bits)
	}
}

func TestEnqueueDropsWhenQueueFull(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.wav")
	w, err := New(path, Format{SampleRateHz: 48000, Channels: 2, Float32: false})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	// Flood far more frames than the queue depth before the drain goroutine
	// can keep up; how many drop depends on scheduling, so this checks only
	// that flooding does not panic and the counter stays non-negative.
	for i := 0; i < queueDepth*4; i++ {
		w.Enqueue(make([]byte, 4))
	}
	w.Close()
	if w.EnqueueDrops() < 0 {
		t.Error("drop counter should never be negative")
	}
}

func TestSegmentPathLayout(t *testing.T) {
	ts := time.Date(2026, 7, 31, 12, 34, 56, 0, time.UTC)
	path := SegmentPath("/data", "My Call!!", ts)
	want := filepath.Join("/data", "Calls", "2026", "07", "31", "20260731_123456_mycall.wav")
	if path != want {
		t.Errorf("SegmentPath = %q, want %q", path, want)
	}
}

func TestSegmentPathEmptyLabelDefaultsUnknown(t *testing.T) {
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	path := SegmentPath("/data", "", ts)
	if filepath.Base(path) != "20260101_000000_unknown.wav" {
		t.Errorf("SegmentPath base = %q, want unknown label", filepath.Base(path))
	}
}

func TestSegmentsListStartsWithInitialPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.wav")
	w, err := New(path, Format{SampleRateHz: 48000, Channels: 2, Float32: false})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if len(w.Segments()) != 1 {
		t.Fatalf("expected 1 initial segment, got %d", len(w.Segments()))
	}
	w.Close()
}
