package aec

import (
	"math"
	"sync"
)

const (
	// tapsMs is the adaptive filter length expressed as a duration; the
	// actual tap count is derived from the configured sample rate so the
	// filter always covers ~45 ms of room response, per the reference
	// client's DefaultTaps/DefaultDelay sizing but generalized to M.
	tapsMs = 45.0

	// defaultStep is the NLMS step size mu, per §4.3: larger than the
	// reference client's conservative 0.1 because double-talk gating now
	// protects convergence instead of a small fixed mu alone.
	defaultStep = 0.25

	// epsilon regularizes the NLMS normalization denominator.
	epsilon = 1e-8

	// weightClip and gradClip bound per-sample filter state to keep a
	// misbehaving reference signal from diverging the adaptation.
	weightClip = 2.0
	gradClip   = 0.5

	// erleFreezeThreshold/erleFastThreshold gate the adaptation rate by the
	// running estimate of E[e²]/E[x²]: above erleFreezeThreshold looks like
	// double-talk (near-end speech dominating), so updates freeze; below
	// erleFastThreshold the echo path is well matched, so updates accelerate.
	erleFreezeThreshold = 0.5
	erleFastThreshold    = 0.1

	// delayBufSlackMs covers typical system latency beyond the configured
	// initial delay, mirroring the reference client's DefaultDelay slack.
	delayBufSlackMs = 40
)

// adaptivePort is the normative NLMS fallback AEC, extending the reference
// client's canceller (originally aec.go's AEC type) with stream-delay
// tracking, double-talk gating, a post-cancellation high-pass, and an
// optional residual suppressor.
type adaptivePort struct {
	mu sync.Mutex

	rateHz    int
	frameMs   int
	frameSize int

	tapLen int
	step   float64
	weights []float64

	farBuf    []float32
	farHead   int
	bufLen    int
	delayLen  int // bulk delay in samples, derived from stream delay estimate

	streamDelayMs int

	// running power estimates for double-talk / ERLE gating
	errPower float64
	refPower float64

	hp *highPass

	suppress     bool
	suppressLvl  SuppressionLevel
	noiseFloor   float64
}

func newAdaptive(frameSize int) *adaptivePort {
	a := &adaptivePort{
		frameSize: frameSize,
		rateHz:    48000,
		frameMs:   10,
		step:      defaultStep,
	}
	a.resize()
	return a
}

// Configure applies the AEC config group and (re)sizes internal buffers for
// the session's sample rate and frame duration.
func (a *adaptivePort) Configure(cfg Config, rateHz, frameMs int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if rateHz > 0 {
		a.rateHz = rateHz
	}
	if frameMs > 0 {
		a.frameMs = frameMs
	}
	a.streamDelayMs = clampInt(cfg.InitialDelayMs, 0, 200)
	a.suppress = cfg.SuppressionLevel == VeryHigh
	a.suppressLvl = cfg.SuppressionLevel
	if cfg.HighPass {
		hz := cfg.HighPassHz
		if hz <= 0 {
			hz = 80
		}
		a.hp = newHighPass(hz, float64(a.rateHz))
	} else {
		a.hp = nil
	}
	a.resize()
}

func (a *adaptivePort) resize() {
	a.tapLen = int(tapsMs * float64(a.rateHz) / 1000.0)
	if a.tapLen < 1 {
		a.tapLen = 1
	}
	a.weights = make([]float64, a.tapLen)
	a.delayLen = clampInt(a.streamDelayMs, 0, 200) * a.rateHz / 1000
	slack := delayBufSlackMs * a.rateHz / 1000
	a.bufLen = a.frameSize + a.delayLen + slack + a.tapLen
	if a.bufLen < a.tapLen+a.frameSize {
		a.bufLen = a.tapLen + a.frameSize
	}
	a.farBuf = make([]float32, a.bufLen)
	a.farHead = 0
}

// FeedFar stores the most recent far-end reference frame.
func (a *adaptivePort) FeedFar(frame []float32) {
	a.mu.Lock()
	for _, s := range frame {
		a.farBuf[a.farHead] = s
		a.farHead = (a.farHead + 1) % a.bufLen
	}
	a.mu.Unlock()
}

// SetStreamDelayMs updates the bulk delay assumed between far-end playback
// and its arrival at the microphone, clamped to [0, 200].
func (a *adaptivePort) SetStreamDelayMs(ms int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.streamDelayMs = clampInt(ms, 0, 200)
	a.delayLen = a.streamDelayMs * a.rateHz / 1000
	slack := delayBufSlackMs * a.rateHz / 1000
	need := a.frameSize + a.delayLen + slack + a.tapLen
	if need > a.bufLen {
		a.bufLen = need
		a.farBuf = make([]float32, a.bufLen)
		a.farHead = 0
	}
}

// ProcessNear fills out with the echo-cancelled near signal. in and out may
// alias; out is always fully overwritten.
func (a *adaptivePort) ProcessNear(in, out []float32) {
	a.mu.Lock()
	refLen := a.frameSize + a.tapLen - 1
	ref := make([]float32, refLen)
	startIdx := a.farHead - a.frameSize - a.delayLen - a.tapLen + 1
	for j := 0; j < refLen; j++ {
		idx := ((startIdx+j)%a.bufLen + 3*a.bufLen) % a.bufLen
		ref[j] = a.farBuf[idx]
	}
	tapLen := a.tapLen
	weights := a.weights
	step := a.step
	hp := a.hp
	suppress := a.suppress
	a.mu.Unlock()

	for i := range in {
		refBase := i + tapLen - 1
		var y, powerSum float64
		for k := 0; k < tapLen; k++ {
			x := float64(ref[refBase-k])
			y += weights[k] * x
			powerSum += x * x
		}

		e := float64(in[i]) - y
		x := float64(ref[refBase])

		a.errPower = 0.99*a.errPower + 0.01*e*e
		a.refPower = 0.99*a.refPower + 0.01*x*x
		erle := 0.0
		if a.refPower > 1e-12 {
			erle = a.errPower / a.refPower
		}

		if erle <= erleFreezeThreshold {
			mu := step
			if erle < erleFastThreshold {
				mu = step * 1.5
			}
			if powerSum > epsilon {
				upd := mu * e / (powerSum + epsilon)
				for k := 0; k < tapLen; k++ {
					grad := upd * float64(ref[refBase-k])
					grad = clampF(grad, -gradClip, gradClip)
					weights[k] = clampF(weights[k]+grad, -weightClip, weightClip)
				}
			}
		}

		out[i] = float32(e)
	}

	if hp != nil {
		hp.Process(out)
	}
	if suppress {
		residualSuppress(out, ref[tapLen-1:], a.suppressLvl)
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampF(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
