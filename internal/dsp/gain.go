// Package dsp implements the per-frame post-processing chain applied
// independently to the near and far channels: static gain, dynamic
// normalization, low-pass filtering, lookahead limiting, and a hard
// ceiling clamp. It generalizes the reference client's fixed-constant
// AGC (internal/agc in the reference tree) into the spec's
// exp(-frame_ms/tau) one-pole smoothing driven by configured attack/
// release time constants instead of empirical coefficients.
package dsp

import (
	"math"

	"github.com/AmjadDardouk/cs-audio-recorder/internal/level"
)

// GainStage applies static gain plus optional dynamic RMS-based
// normalization with asymmetric attack/release smoothing. Not safe for
// concurrent use; one instance per channel per session.
type GainStage struct {
	staticLinear float64

	normalize    bool
	targetDBFS   float64
	maxGainDB    float64
	attackMs     float64
	releaseMs    float64
	frameMs      float64

	dynGainDB float64 // current smoothed dynamic gain, dB
}

// NewGainStage builds a gain stage. staticDB is the configured per-channel
// static gain in dB; the remaining parameters configure the dynamic
// normalization stage (used only when normalize is true).
func NewGainStage(staticDB float64, normalize bool, targetRMSDBFS, maxGainDB, attackMs, releaseMs, frameMs float64) *GainStage {
	return &GainStage{
		staticLinear: level.LinearFromDB(staticDB),
		normalize:    normalize,
		targetDBFS:   targetRMSDBFS,
		maxGainDB:    maxGainDB,
		attackMs:     attackMs,
		releaseMs:    releaseMs,
		frameMs:      frameMs,
	}
}

// Process applies static gain then, if enabled, dynamic normalization to
// frame in-place.
func (g *GainStage) Process(frame []float32) {
	for i := range frame {
		frame[i] = float32(float64(frame[i]) * g.staticLinear)
	}
	if !g.normalize {
		return
	}

	rms := level.RMS(frame)
	currentDB := level.DBFS(rms)
	needed := g.targetDBFS - currentDB
	needed = clamp(needed, 0, g.maxGainDB)

	var tau float64
	if needed > g.dynGainDB {
		tau = g.attackMs
	} else {
		tau = g.releaseMs
	}
	coeff := math.Exp(-g.frameMs / tau)
	g.dynGainDB = coeff*g.dynGainDB + (1-coeff)*needed

	linear := level.LinearFromDB(g.dynGainDB)
	for i := range frame {
		frame[i] = float32(float64(frame[i]) * linear)
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
