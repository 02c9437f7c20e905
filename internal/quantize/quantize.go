// Package quantize implements the Dither + Quantizer stage (C6): TPDF or
// rectangular dithering followed by round-half-away-from-zero 16-bit PCM
// quantization, or float32 passthrough. The dither RNG is owned per
// instance (never global/package-level state), the same per-instance
// design the reference client's AEC canceller uses for its filter state.
package quantize

import (
	"crypto/rand"
	"encoding/binary"
	"math"
	mrand "math/rand"
)

// DitherType selects the dither noise shape.
type DitherType int

const (
	TPDF DitherType = iota
	Rectangular
)

// DefaultDitherDB is the normative default dither amplitude.
const DefaultDitherDB = -96.0

// Quantizer converts float32 samples to interleaved little-endian PCM16 (or
// passes float32 through verbatim), applying dither before rounding. Not
// safe for concurrent use; one instance per session.
type Quantizer struct {
	enabled    bool
	ditherType DitherType
	amplitude  float64 // A = 10^(dither_db/20)
	rng        *mrand.Rand
}

// New builds a Quantizer. When ditherEnabled is false, no dither is added
// before rounding (still round-half-away-from-zero). seed should come from
// crypto/rand at session creation.
func New(ditherEnabled bool, ditherType DitherType, ditherDB float64, seed int64) *Quantizer {
	return &Quantizer{
		enabled:    ditherEnabled,
		ditherType: ditherType,
		amplitude:  math.Pow(10, ditherDB/20),
		rng:        mrand.New(mrand.NewSource(seed)),
	}
}

// NewSeed draws a fresh int64 seed from crypto/rand, for per-session RNG
// construction (no global RNG, no module-level state).
func NewSeed() int64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 1 // crypto/rand failure is effectively unreachable; any nonzero fallback keeps New usable.
	}
	v := int64(binary.LittleEndian.Uint64(buf[:]))
	if v < 0 {
		v = -v
	}
	if v == 0 {
		v = 1
	}
	return v
}

// QuantizePCM16 writes frame as little-endian signed 16-bit PCM into dst,
// which must be len(frame)*2 bytes.
func (q *Quantizer) QuantizePCM16(frame []float32, dst []byte) {
	for i, s := range frame {
		v := float64(s)
		if q.enabled {
			v += q.dither()
		}
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		scaled := v * 32767
		sample := int16(roundHalfAwayFromZero(scaled))
		binary.LittleEndian.PutUint16(dst[i*2:], uint16(sample))
	}
}

// WriteFloat32 writes frame as little-endian IEEE-754 float32 into dst,
// which must be len(frame)*4 bytes. No dither is applied to float32 output.
func WriteFloat32(frame []float32, dst []byte) {
	for i, s := range frame {
		binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(s))
	}
}

func (q *Quantizer) dither() float64 {
	switch q.ditherType {
	case Rectangular:
		u := q.rng.Float64()
		return (u - 0.5) * 2 * q.amplitude
	default: // TPDF
		u1 := q.rng.Float64()
		u2 := q.rng.Float64()
		return (u1 - u2) * q.amplitude
	}
}

func roundHalfAwayFromZero(v float64) float64 {
	if v >= 0 {
		return math.Floor(v + 0.5)
	}
	return math.Ceil(v - 0.5)
}
