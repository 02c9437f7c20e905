// Package pcm converts raw device capture bytes into mono float32 PCM at the
// pipeline's internal sample rate. It is the first stage any captured byte
// span passes through before reaching the frame aligner.
package pcm

import (
	"encoding/binary"
	"math"
)

// Encoding identifies the sample layout of a raw capture buffer.
type Encoding int

const (
	// EncodingFloat32 is 32-bit IEEE-754 little-endian float samples.
	EncodingFloat32 Encoding = iota
	// EncodingPCM16 is 16-bit little-endian signed integer samples.
	EncodingPCM16
)

// SourceFormat describes the layout of a raw capture buffer handed to
// ToMonoF32: its sample encoding, its sample rate, and its channel count.
type SourceFormat struct {
	Encoding     Encoding
	SampleRateHz int
	Channels     int
}

// ToMonoF32 decodes raw bytes in src.Encoding, downmixes multi-channel audio
// to mono by arithmetic mean, and resamples to rateHz if src.SampleRateHz
// differs. Unknown encodings fall back to float32 decoding with a
// best-effort downmix rather than erroring, matching the pipeline's general
// policy of coercing unsafe configuration instead of rejecting it.
func ToMonoF32(data []byte, src SourceFormat, rateHz int) []float32 {
	if len(data) == 0 {
		return nil
	}
	channels := src.Channels
	if channels < 1 {
		channels = 1
	}

	mono := decodeMono(data, src.Encoding, channels)
	if src.SampleRateHz <= 0 || src.SampleRateHz == rateHz {
		return mono
	}
	return resampleLinear(mono, src.SampleRateHz, rateHz)
}

// decodeMono reinterprets data per encoding and downmixes per-frame channels
// to a single mono sample via arithmetic mean.
func decodeMono(data []byte, enc Encoding, channels int) []float32 {
	switch enc {
	case EncodingPCM16:
		return downmixPCM16(data, channels)
	default:
		// Float32 and any unrecognized encoding: best-effort float32 decode.
		return downmixFloat32(data, channels)
	}
}

func downmixFloat32(data []byte, channels int) []float32 {
	frameBytes := 4 * channels
	nFrames := len(data) / frameBytes
	out := make([]float32, nFrames)
	for i := 0; i < nFrames; i++ {
		var sum float32
		base := i * frameBytes
		for c := 0; c < channels; c++ {
			bits := binary.LittleEndian.Uint32(data[base+c*4 : base+c*4+4])
			sum += math.Float32frombits(bits)
		}
		out[i] = sum / float32(channels)
	}
	return out
}

func downmixPCM16(data []byte, channels int) []float32 {
	frameBytes := 2 * channels
	nFrames := len(data) / frameBytes
	out := make([]float32, nFrames)
	const scale = 1.0 / 32768.0
	for i := 0; i < nFrames; i++ {
		var sum float32
		base := i * frameBytes
		for c := 0; c < channels; c++ {
			v := int16(binary.LittleEndian.Uint16(data[base+c*2 : base+c*2+2]))
			sum += float32(v) * scale
		}
		out[i] = sum / float32(channels)
	}
	return out
}

// resampleLinear converts samples from srcRate to dstRate using linear
// interpolation between neighboring source samples. No anti-aliasing filter
// is applied; the pipeline's post-processor low-pass (internal/dsp) covers
// that role when downsampling is involved, and upsampling never aliases.
func resampleLinear(samples []float32, srcRate, dstRate int) []float32 {
	if len(samples) == 0 || srcRate <= 0 || dstRate <= 0 {
		return nil
	}
	if srcRate == dstRate {
		out := make([]float32, len(samples))
		copy(out, samples)
		return out
	}

	ratio := float64(srcRate) / float64(dstRate)
	outLen := int(math.Round(float64(len(samples)) * float64(dstRate) / float64(srcRate)))
	if outLen <= 0 {
		return nil
	}
	out := make([]float32, outLen)
	lastIdx := len(samples) - 1
	for i := 0; i < outLen; i++ {
		pos := float64(i) * ratio
		idx := int(math.Floor(pos))
		frac := float32(pos - float64(idx))
		if idx >= lastIdx {
			out[i] = samples[lastIdx]
			continue
		}
		a, b := samples[idx], samples[idx+1]
		out[i] = a + (b-a)*frac
	}
	return out
}
