package dsp

import (
	"math"

	"github.com/AmjadDardouk/cs-audio-recorder/internal/level"
)

// Params configures one channel's processing chain. LowPassEnabled and
// LimiterEnabled left false make the corresponding lowPass/limiter fields
// on Processor nil; the gain stage is always built and, with Normalize
// false, applies only the static gain.
type Params struct {
	StaticGainDB float64

	Normalize     bool
	TargetRMSDBFS float64
	MaxGainDB     float64
	AttackMs      float64
	ReleaseMs     float64

	LowPassEnabled bool
	LowPassHz      float64

	LimiterEnabled     bool
	LimiterCeilingDBFS float64
	LimiterLookaheadMs float64
	LimiterReleaseMs   float64
	SoftKnee           bool
	KneeRatio          float64

	CeilingDBFS float64 // hard clamp, defaults to -1 dBFS
	RateHz      float64
	FrameMs     float64
}

// Processor runs the full post-processing chain for one channel (near or
// far): static gain, dynamic normalization, low-pass, lookahead limiter,
// hard ceiling clamp. All state is per-instance; callers hold one Processor
// per channel per session.
type Processor struct {
	gain    *GainStage
	lowPass *LowPass
	limiter *Limiter

	ceilingLinear float64
	clipHits      int
}

// NewProcessor builds a Processor from Params, defaulting CeilingDBFS to -1
// dBFS when unset.
func NewProcessor(p Params) *Processor {
	ceilingDB := p.CeilingDBFS
	if ceilingDB == 0 {
		ceilingDB = -1
	}

	proc := &Processor{
		gain: NewGainStage(p.StaticGainDB, p.Normalize, p.TargetRMSDBFS, p.MaxGainDB, p.AttackMs, p.ReleaseMs, p.FrameMs),
		ceilingLinear: level.LinearFromDB(ceilingDB),
	}
	if p.LowPassEnabled {
		proc.lowPass = NewLowPass(p.LowPassHz, p.RateHz)
	}
	if p.LimiterEnabled {
		proc.limiter = NewLimiter(p.LimiterCeilingDBFS, p.LimiterLookaheadMs, p.LimiterReleaseMs, p.RateHz, p.SoftKnee, p.KneeRatio)
	}
	return proc
}

// Process runs the chain over frame in-place.
func (p *Processor) Process(frame []float32) {
	p.gain.Process(frame)
	if p.lowPass != nil {
		p.lowPass.Process(frame)
	}
	if p.limiter != nil {
		p.limiter.Process(frame)
	}
	for i, x := range frame {
		ax := math.Abs(float64(x))
		if ax >= 0.999*p.ceilingLinear {
			p.clipHits++
		}
		if ax > p.ceilingLinear {
			if x > 0 {
				frame[i] = float32(p.ceilingLinear)
			} else {
				frame[i] = float32(-p.ceilingLinear)
			}
		}
	}
}

// ClipHits returns the cumulative count of hard-ceiling near-clip events.
func (p *Processor) ClipHits() int { return p.clipHits }
