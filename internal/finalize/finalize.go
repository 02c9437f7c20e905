// Package finalize implements the Finalizer (C9): draining the aligner and
// writer, merging multi-segment recordings, and optional two-pass offline
// normalization. Its bounded drain-with-timeout shape follows the reference
// client's AudioEngine.Stop() sequencing (wg.Wait() bounded before closing
// native handles), generalized here to a channel-close-then-timeout wait on
// the writer's Done() signal.
package finalize

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"time"
)

const drainTimeout = 5 * time.Second

// WaitForDrain blocks until done is closed or drainTimeout elapses,
// whichever comes first. Returns false if the timeout was hit.
func WaitForDrain(done <-chan struct{}) bool {
	select {
	case <-done:
		return true
	case <-time.After(drainTimeout):
		return false
	}
}

// SegmentFormat is the subset of a WAV header needed to verify that
// segments share an identical format before merging.
type SegmentFormat struct {
	SampleRateHz  int
	Channels      int
	BitsPerSample int
}

// MergeSegments concatenates the PCM payload of each segment (in order)
// into the first segment's path, verifying all segments share an
// identical format. Returns an error without modifying any file if the
// formats disagree, per the "fail loudly on mismatch" policy. On success,
// every segment after the first is removed and the final path is the
// first segment's original path.
func MergeSegments(segments []string, headerSize int) (string, error) {
	if len(segments) == 0 {
		return "", fmt.Errorf("finalize: no segments to merge")
	}
	if len(segments) == 1 {
		return segments[0], nil
	}

	formats := make([]SegmentFormat, len(segments))
	for i, path := range segments {
		f, err := readFormat(path, headerSize)
		if err != nil {
			return "", fmt.Errorf("finalize: read format of %s: %w", path, err)
		}
		formats[i] = f
	}
	for i := 1; i < len(formats); i++ {
		if formats[i] != formats[0] {
			return "", fmt.Errorf("finalize: segment %s format %+v does not match %s format %+v; refusing to merge",
				segments[i], formats[i], segments[0], formats[0])
		}
	}

	hdr, err := os.ReadFile(segments[0])
	if err != nil || len(hdr) < headerSize {
		return "", fmt.Errorf("finalize: read header of %s: %v", segments[0], err)
	}

	tmpPath := segments[0] + ".merge.tmp"
	tmp, err := os.Create(tmpPath)
	if err != nil {
		return "", fmt.Errorf("finalize: create merge temp: %w", err)
	}
	if _, err := tmp.Write(hdr[:headerSize]); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("finalize: write merged header: %w", err)
	}

	var totalData uint32
	for _, path := range segments {
		n, err := copyDataChunk(tmp, path, headerSize)
		if err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return "", fmt.Errorf("finalize: copy data from %s: %w", path, err)
		}
		totalData += n
	}
	tmp.Close()

	if err := rewriteHeaderLengths(tmpPath, headerSize, totalData); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("finalize: rewrite merged header: %w", err)
	}

	if err := os.Rename(tmpPath, segments[0]); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("finalize: replace final path: %w", err)
	}
	for _, path := range segments[1:] {
		os.Remove(path)
	}
	return segments[0], nil
}

func readFormat(path string, headerSize int) (SegmentFormat, error) {
	f, err := os.Open(path)
	if err != nil {
		return SegmentFormat{}, err
	}
	defer f.Close()
	hdr := make([]byte, headerSize)
	if _, err := f.Read(hdr); err != nil {
		return SegmentFormat{}, err
	}
	return SegmentFormat{
		SampleRateHz:  int(le32(hdr[24:28])),
		Channels:      int(le16(hdr[22:24])),
		BitsPerSample: int(le16(hdr[34:36])),
	}, nil
}

func copyDataChunk(dst *os.File, srcPath string, headerSize int) (uint32, error) {
	src, err := os.Open(srcPath)
	if err != nil {
		return 0, err
	}
	defer src.Close()
	if _, err := src.Seek(int64(headerSize), 0); err != nil {
		return 0, err
	}
	n, err := copyAll(dst, src)
	return uint32(n), err
}

func copyAll(dst *os.File, src *os.File) (int64, error) {
	buf := make([]byte, 64*1024)
	var total int64
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return total, werr
			}
			total += int64(n)
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				return total, nil
			}
			return total, rerr
		}
	}
}

func rewriteHeaderLengths(path string, headerSize int, dataLen uint32) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	defer f.Close()
	buf := make([]byte, 4)
	putLE32(buf, uint32(headerSize-8)+dataLen)
	if _, err := f.WriteAt(buf, 4); err != nil {
		return err
	}
	putLE32(buf, dataLen)
	_, err = f.WriteAt(buf, int64(headerSize-4))
	return err
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
func le16(b []byte) uint16 {
	return uint16(b[0]) | uint16(b[1])<<8
}
func putLE32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

// NormalizationPass1 holds the measured integrated RMS and peak needed to
// compute pass 2's gain.
type NormalizationPass1 struct {
	RMS  float64
	Peak float64
}

// MeasurePass1 computes the integrated RMS and peak of a mono float32
// channel, for offline two-pass normalization.
func MeasurePass1(samples []float32) NormalizationPass1 {
	if len(samples) == 0 {
		return NormalizationPass1{}
	}
	var sumSq float64
	var peak float64
	for _, s := range samples {
		v := float64(s)
		sumSq += v * v
		if math.Abs(v) > peak {
			peak = math.Abs(v)
		}
	}
	return NormalizationPass1{
		RMS:  math.Sqrt(sumSq / float64(len(samples))),
		Peak: peak,
	}
}

// ApplyPass2 applies the gain derived from pass 1 (clamped to the
// available headroom to ceilingLinear), a hard ceiling clamp, and a
// tanh-based soft clip scaled to the ceiling, in-place. Output never
// exceeds ±ceilingLinear.
func ApplyPass2(samples []float32, pass1 NormalizationPass1, targetRMSDBFS, ceilingLinear float64) {
	if pass1.RMS <= 0 {
		return
	}
	targetLinear := math.Pow(10, targetRMSDBFS/20)
	needed := targetLinear / pass1.RMS

	var headroom float64
	if pass1.Peak > 0 {
		headroom = ceilingLinear / pass1.Peak
	} else {
		headroom = needed
	}
	gain := math.Min(needed, headroom)

	const kneeK = 1.5
	tanhK := math.Tanh(kneeK)
	for i, s := range samples {
		v := float64(s) * gain
		if v > ceilingLinear {
			v = ceilingLinear
		} else if v < -ceilingLinear {
			v = -ceilingLinear
		}
		v = ceilingLinear * math.Tanh(kneeK*v/ceilingLinear) / tanhK
		samples[i] = float32(v)
	}
}

// NormalizeFile runs the two-pass offline normalization over an entire
// canonical-header WAV file in place: decode every sample (PCM16 or
// float32, any channel count), measure pass 1 and apply pass 2 separately
// for each channel of the interleaved stream, and re-encode over the same
// data chunk. The file's length and header are unchanged; only sample
// values move.
func NormalizeFile(path string, headerSize int, targetRMSDBFS, ceilingDBFS float64) error {
	format, samples, err := readSamples(path, headerSize)
	if err != nil {
		return fmt.Errorf("finalize: read samples from %s: %w", path, err)
	}
	if len(samples) == 0 {
		return nil
	}

	ceilingLinear := math.Pow(10, ceilingDBFS/20)
	channels := format.Channels
	if channels < 1 {
		channels = 1
	}
	for c := 0; c < channels; c++ {
		var ch []float32
		for i := c; i < len(samples); i += channels {
			ch = append(ch, samples[i])
		}
		ApplyPass2(ch, MeasurePass1(ch), targetRMSDBFS, ceilingLinear)
		for i, j := c, 0; i < len(samples); i, j = i+channels, j+1 {
			samples[i] = ch[j]
		}
	}

	if err := writeSamples(path, headerSize, format, samples); err != nil {
		return fmt.Errorf("finalize: write normalized samples to %s: %w", path, err)
	}
	return nil
}

// readSamples decodes every interleaved sample in a canonical-header WAV
// file's data chunk to float32, regardless of channel count.
func readSamples(path string, headerSize int) (SegmentFormat, []float32, error) {
	format, err := readFormat(path, headerSize)
	if err != nil {
		return SegmentFormat{}, nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return SegmentFormat{}, nil, err
	}
	defer f.Close()
	if _, err := f.Seek(int64(headerSize), 0); err != nil {
		return SegmentFormat{}, nil, err
	}
	raw, err := io.ReadAll(f)
	if err != nil {
		return SegmentFormat{}, nil, err
	}

	switch format.BitsPerSample {
	case 32:
		n := len(raw) / 4
		samples := make([]float32, n)
		for i := 0; i < n; i++ {
			bits := binary.LittleEndian.Uint32(raw[i*4 : i*4+4])
			samples[i] = math.Float32frombits(bits)
		}
		return format, samples, nil
	default:
		n := len(raw) / 2
		samples := make([]float32, n)
		const scale = 1.0 / 32768.0
		for i := 0; i < n; i++ {
			v := int16(binary.LittleEndian.Uint16(raw[i*2 : i*2+2]))
			samples[i] = float32(v) * scale
		}
		return format, samples, nil
	}
}

// writeSamples re-encodes samples over an existing file's data chunk,
// leaving the header untouched; the sample count must match what was
// read, so the data length (and therefore the header) never changes.
func writeSamples(path string, headerSize int, format SegmentFormat, samples []float32) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Seek(int64(headerSize), 0); err != nil {
		return err
	}

	switch format.BitsPerSample {
	case 32:
		buf := make([]byte, len(samples)*4)
		for i, s := range samples {
			binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(s))
		}
		_, err = f.Write(buf)
	default:
		buf := make([]byte, len(samples)*2)
		for i, s := range samples {
			v := s
			if v > 1 {
				v = 1
			} else if v < -1 {
				v = -1
			}
			iv := int16(math.Round(float64(v) * 32767))
			binary.LittleEndian.PutUint16(buf[i*2:], uint16(iv))
		}
		_, err = f.Write(buf)
	}
	return err
}
