// Package leakage implements the Leakage Guard (C4): a startup-phase
// correlation check that catches sidetone/monitoring leakage before a
// recording ever begins, and a runtime-phase guard that grows the AEC
// stream-delay estimate when correlation stays suspiciously high, blocking
// the recording outright if growth runs away. Its hysteresis shape follows
// the reference client's noise gate state machine, generalized from a
// simple threshold/hold gate into a two-phase correlation guard.
package leakage

import (
	"fmt"
	"math"

	"github.com/AmjadDardouk/cs-audio-recorder/internal/level"
)

const (
	nearSilentDBFS = -45
	farActiveDBFS  = -35

	startupCorrThreshold = 0.2
	leakageThresholdDB   = -25
	highFramesWindow     = 100
	highFramesLimit      = 70
	delayBumpStepMs      = 15
	delayBumpBlockMs     = 45
)

// Guard tracks the two-phase leakage check across a session's frames.
type Guard struct {
	frameMs     int
	startupN    int
	startupSeen int
	startupSumAbsR float64
	startupQualifying int

	highFrames    int
	framesInWindow int
	delayBumpMs   int
	blocked       bool

	// BlockedReason is set once when recording_blocked transitions true.
	BlockedReason string
}

// New creates a Guard. startupSec is T_startup in seconds (spec default 4).
func New(frameMs int, startupSec float64) *Guard {
	if frameMs <= 0 {
		frameMs = 10
	}
	n := int(startupSec * 1000 / float64(frameMs))
	if n < 1 {
		n = 1
	}
	return &Guard{frameMs: frameMs, startupN: n}
}

// Blocked reports whether recording_blocked is currently set.
func (g *Guard) Blocked() bool { return g.blocked }

// DelayBumpMs returns the current additive stream-delay contribution.
func (g *Guard) DelayBumpMs() int { return g.delayBumpMs }

// Observe processes one near/far frame pair and updates guard state.
// Returns the delay bump in effect after this observation.
func (g *Guard) Observe(near, far []float32) int {
	if g.blocked {
		return g.delayBumpMs
	}

	nearDB := level.DBFS(level.RMS(near))
	farDB := level.DBFS(level.RMS(far))
	qualifies := nearDB < nearSilentDBFS && farDB > farActiveDBFS

	if g.startupSeen < g.startupN {
		g.startupSeen++
		if qualifies {
			r := pearson(far, near)
			g.startupSumAbsR += math.Abs(r)
			g.startupQualifying++
		}
		if g.startupSeen == g.startupN {
			g.finishStartup()
		}
		return g.delayBumpMs
	}

	if qualifies {
		r := pearson(far, near)
		if r != 0 {
			corrDB := 20 * math.Log10(math.Abs(r))
			if corrDB > leakageThresholdDB {
				g.highFrames++
			}
		}
	}
	g.framesInWindow++
	if g.framesInWindow >= highFramesWindow {
		if g.highFrames > highFramesLimit {
			g.delayBumpMs += delayBumpStepMs
			if g.delayBumpMs >= delayBumpBlockMs {
				g.blocked = true
				g.BlockedReason = "persistent far/near correlation after delay compensation; check for sidetone or monitoring leakage"
			}
		}
		g.highFrames = 0
		g.framesInWindow = 0
	}

	return g.delayBumpMs
}

func (g *Guard) finishStartup() {
	if g.startupQualifying == 0 {
		return
	}
	mean := g.startupSumAbsR / float64(g.startupQualifying)
	if mean > startupCorrThreshold {
		g.blocked = true
		g.BlockedReason = fmt.Sprintf(
			"startup correlation check failed (mean |r|=%.3f > %.1f): far-end audio appears to be leaking directly into the microphone path; check monitoring/sidetone routing before recording",
			mean, startupCorrThreshold)
	}
}

// pearson computes the zero-lag Pearson correlation coefficient between two
// equal-length frames. Returns 0 if both frames are flat (no signal at all),
// and 1 if exactly one frame is flat while the other carries energy (the
// degenerate maximal-correlation case, not "uncorrelated").
func pearson(a, b []float32) float64 {
	n := len(a)
	if n == 0 || len(b) != n {
		return 0
	}
	var meanA, meanB float64
	for i := 0; i < n; i++ {
		meanA += float64(a[i])
		meanB += float64(b[i])
	}
	meanA /= float64(n)
	meanB /= float64(n)

	var cov, varA, varB float64
	for i := 0; i < n; i++ {
		da := float64(a[i]) - meanA
		db := float64(b[i]) - meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	if varA <= 0 && varB <= 0 {
		return 0 // both sides flat (true silence on both): no signal to correlate
	}
	if varA <= 0 || varB <= 0 {
		// One side is exactly flat while the other carries real energy — a
		// literally-zero near channel during an active far channel is the
		// degenerate maximal-leakage case (spec.md S1), not "uncorrelated";
		// returning 0 here would let a flat channel dodge the startup check.
		return 1
	}
	return cov / math.Sqrt(varA*varB)
}
