// Package align accumulates near-end and far-end mono sample streams and
// drains them into frame-synchronized pairs, bounding how far one side may
// lead the other. It is the sole point of mutual exclusion between the mic
// and speaker producers: Feed runs the full accumulate-and-drain sequence
// under one mutex, the same cooperative-single-lock shape the reference
// client uses for its AEC far-end ring buffer.
package align

import "sync"

// Side identifies which accumulator a Feed call appends to.
type Side int

const (
	Near Side = iota // microphone (left channel)
	Far              // loopback / program audio (right channel)
)

// Config controls framing and reverse-buffer sizing. New replaces zero or
// negative fields with defaults (480-sample, 10 ms frames, lead 2, target 20,
// max twice the target); DefaultConfig/FramedConfig derive them from a rate.
type Config struct {
	FrameSize int // F: samples per frame at the pipeline rate
	FrameMs   int // frame duration in ms, used for the delay-estimate formula
	// LeadMaxFrames bounds how many full near frames may be emitted with a
	// zero-padded far side before the aligner stalls waiting for far data.
	LeadMaxFrames int
	// TargetOccupancyFrames is the desired reverse-buffer depth (~200ms).
	TargetOccupancyFrames int
	// MaxOccupancyFrames is the hard cap before oldest far frames are dropped.
	MaxOccupancyFrames int
}

// DefaultConfig returns the normative framing parameters for rate at the
// default 10 ms frame size.
func DefaultConfig(rateHz int) Config {
	return FramedConfig(rateHz, 10)
}

// FramedConfig returns framing parameters for rate at the given frame_ms.
func FramedConfig(rateHz, frameMs int) Config {
	if frameMs <= 0 {
		frameMs = 10
	}
	frameSize := rateHz * frameMs / 1000
	target := int(200 / frameMs) // ~200ms worth of frames
	if target < 1 {
		target = 1
	}
	return Config{
		FrameSize:             frameSize,
		FrameMs:               frameMs,
		LeadMaxFrames:         2,
		TargetOccupancyFrames: target,
		MaxOccupancyFrames:    2 * target,
	}
}

// Pair is one frame-synchronized near/far sample pair plus the stream-delay
// estimate computed when it was emitted.
type Pair struct {
	Near         []float32
	Far          []float32
	StreamDelay  int // ms, clamped [0,200]
	FarUnderrun  bool
	ReverseDrops int // cumulative, for convenience in callers/tests
}

// Stats exposes the aligner's running counters for diagnostics.
type Stats struct {
	ReverseDrops     int
	ReverseUnderruns int
}

// Aligner owns the two sample accumulators and the reverse-buffer delay
// estimate. Safe for concurrent Feed calls from distinct producers.
type Aligner struct {
	mu  sync.Mutex
	cfg Config

	left  []float32
	right []float32

	// leftFramesTaken/rightFramesTaken count whole frames emitted from each
	// side since session start (not the transient backlog depth), so the
	// lead bound holds across many small Feed calls instead of resetting
	// toward zero every time a side's accumulator fully drains.
	leftFramesTaken  int
	rightFramesTaken int

	delayBumpMs int // externally supplied by the leakage guard

	stats Stats
}

// New creates an Aligner with the given configuration.
func New(cfg Config) *Aligner {
	if cfg.FrameSize <= 0 {
		cfg.FrameSize = 480
	}
	if cfg.FrameMs <= 0 {
		cfg.FrameMs = 10
	}
	if cfg.LeadMaxFrames <= 0 {
		cfg.LeadMaxFrames = 2
	}
	if cfg.TargetOccupancyFrames <= 0 {
		cfg.TargetOccupancyFrames = 20
	}
	if cfg.MaxOccupancyFrames <= cfg.TargetOccupancyFrames {
		cfg.MaxOccupancyFrames = 2 * cfg.TargetOccupancyFrames
	}
	return &Aligner{cfg: cfg}
}

// SetDelayBump sets the leakage guard's additive delay-bump contribution
// (ms) to the stream-delay estimate. Safe to call concurrently with Feed.
func (a *Aligner) SetDelayBump(ms int) {
	a.mu.Lock()
	a.delayBumpMs = ms
	a.mu.Unlock()
}

// Feed appends samples to the given side's accumulator and drains as many
// aligned pairs as the pacing rule allows. It returns zero or more pairs in
// emission order.
func (a *Aligner) Feed(side Side, samples []float32) []Pair {
	if len(samples) == 0 {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	switch side {
	case Near:
		a.left = append(a.left, samples...)
	case Far:
		a.right = append(a.right, samples...)
	}

	return a.drainLocked()
}

// Drain forces a drain pass without appending new samples. Used by the
// finalizer after zero-padding both accumulators to a frame boundary.
func (a *Aligner) Drain() []Pair {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.drainLocked()
}

// PadToFrameBoundary zero-pads both accumulators up to the next multiple of
// the frame size. Returns the number of samples appended to each side.
func (a *Aligner) PadToFrameBoundary() (leftPad, rightPad int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	F := a.cfg.FrameSize
	leftPad = padLen(len(a.left), F)
	rightPad = padLen(len(a.right), F)
	a.left = append(a.left, make([]float32, leftPad)...)
	a.right = append(a.right, make([]float32, rightPad)...)
	return leftPad, rightPad
}

func padLen(n, f int) int {
	rem := n % f
	if rem == 0 {
		return 0
	}
	return f - rem
}

// Stats returns a snapshot of the running counters.
func (a *Aligner) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

// OccupancyFrames returns the reverse buffer's current depth in whole
// frames, for diagnostics' reverse_fill metric.
func (a *Aligner) OccupancyFrames() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.right) / a.cfg.FrameSize
}

func (a *Aligner) drainLocked() []Pair {
	F := a.cfg.FrameSize
	var pairs []Pair

	for len(a.left) >= F || len(a.right) >= F {
		// lead tracks total frames taken from the near side minus the far
		// side since session start, not the transient backlog depth: the
		// backlog resets toward zero every time a side fully drains (the
		// realistic one-~10ms-buffer-per-callback capture pattern), so
		// deriving lead from len(a.left)/len(a.right) alone would never
		// observe more than one frame of lead and the stall below would
		// never trigger.
		lead := a.leftFramesTaken - a.rightFramesTaken

		if len(a.right) < F && lead >= a.cfg.LeadMaxFrames {
			break // wait for far to catch up
		}

		// Trim reverse buffer before emitting: drop oldest whole frames past max occupancy.
		for len(a.right)/F > a.cfg.MaxOccupancyFrames {
			a.right = a.right[F:]
			a.stats.ReverseDrops++
		}

		var near, far []float32
		if len(a.left) >= F {
			near = a.left[:F]
			a.left = a.left[F:]
			a.leftFramesTaken++
		} else {
			near = make([]float32, F)
		}

		underrun := false
		if len(a.right) >= F {
			far = a.right[:F]
			a.right = a.right[F:]
			a.rightFramesTaken++
		} else {
			far = make([]float32, F)
			underrun = true
			a.stats.ReverseUnderruns++
		}

		delay := a.streamDelayLocked()

		pairs = append(pairs, Pair{
			Near:         append([]float32(nil), near...),
			Far:          append([]float32(nil), far...),
			StreamDelay:  delay,
			FarUnderrun:  underrun,
			ReverseDrops: a.stats.ReverseDrops,
		})
	}

	return pairs
}

// streamDelayLocked computes (occupancy - target) * frame_ms + bump, clamped
// to [0, 200]. Caller must hold a.mu.
func (a *Aligner) streamDelayLocked() int {
	F := a.cfg.FrameSize
	occupancyFrames := len(a.right) / F
	delay := (occupancyFrames-a.cfg.TargetOccupancyFrames)*a.cfg.FrameMs + a.delayBumpMs
	if delay < 0 {
		delay = 0
	}
	if delay > 200 {
		delay = 200
	}
	return delay
}
