package dsp

import (
	"math"

	"github.com/AmjadDardouk/cs-audio-recorder/internal/level"
)

// Limiter is a lookahead peak limiter: a fixed delay line holds each sample
// for the lookahead duration while a smoothed gain envelope, driven by the
// not-yet-delayed sample ahead of it, ducks in time to catch the peak when
// it reaches the output.
type Limiter struct {
	ceilingLinear float64
	softKnee      bool
	kneeRatio     float64

	delay    []float32
	writePos int

	envelope     float64 // current smoothed gain, linear, in (0, 1]
	attackCoeff  float64
	releaseCoeff float64

	clipHits int
}

// NewLimiter builds a lookahead limiter.
//
// ceilingDBFS is the hard output ceiling; lookaheadMs sizes the delay line;
// releaseMs controls how quickly gain reduction relaxes after a peak passes;
// attack is tied to the lookahead window itself so gain reduction can always
// complete within it. softKnee enables an exponential knee of kneeRatio
// instead of a hard min().
func NewLimiter(ceilingDBFS, lookaheadMs, releaseMs, rateHz float64, softKnee bool, kneeRatio float64) *Limiter {
	lookaheadSamples := int(lookaheadMs * rateHz / 1000)
	if lookaheadSamples < 1 {
		lookaheadSamples = 1
	}
	if kneeRatio <= 0 {
		kneeRatio = 2.0
	}
	attackMs := lookaheadMs
	return &Limiter{
		ceilingLinear: level.LinearFromDB(ceilingDBFS),
		softKnee:      softKnee,
		kneeRatio:     kneeRatio,
		delay:         make([]float32, lookaheadSamples),
		envelope:      1.0,
		attackCoeff:   math.Exp(-1.0 / (attackMs * rateHz / 1000)),
		releaseCoeff:  math.Exp(-1.0 / (releaseMs * rateHz / 1000)),
	}
}

// Process limits frame in-place, introducing len(l.delay) samples of
// latency across the session (constant, absorbed by the lookahead buffer).
func (l *Limiter) Process(frame []float32) {
	n := len(l.delay)
	for i, x := range frame {
		ax := math.Abs(float64(x))

		var desired float64
		if ax <= l.ceilingLinear {
			desired = 1.0
		} else if l.softKnee {
			desired = math.Pow(l.ceilingLinear/ax, l.kneeRatio)
		} else {
			desired = l.ceilingLinear / ax
		}

		if desired < l.envelope {
			l.envelope = l.attackCoeff*l.envelope + (1-l.attackCoeff)*desired
		} else {
			l.envelope = l.releaseCoeff*l.envelope + (1-l.releaseCoeff)*desired
		}

		delayed := l.delay[l.writePos]
		out := float64(delayed) * l.envelope
		if out >= 0.999*l.ceilingLinear {
			l.clipHits++
		} else if out <= -0.999*l.ceilingLinear {
			l.clipHits++
		}
		if out > l.ceilingLinear {
			out = l.ceilingLinear
		} else if out < -l.ceilingLinear {
			out = -l.ceilingLinear
		}

		l.delay[l.writePos] = x
		l.writePos = (l.writePos + 1) % n
		frame[i] = float32(out)
	}
}

// ClipHits returns the cumulative count of near-ceiling output samples.
func (l *Limiter) ClipHits() int { return l.clipHits }
