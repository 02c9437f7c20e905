// Package aec implements the AEC Port abstraction: a pluggable acoustic
// echo canceller with native, adaptive, and identity arms. The adaptive
// arm extends the reference client's NLMS canceller (aec.go) with
// stream-delay awareness, double-talk gating, a post-cancellation
// high-pass, and an optional residual suppressor, per the pipeline spec.
package aec

// SuppressionLevel selects how aggressively the adaptive arm suppresses
// residual echo after linear cancellation.
type SuppressionLevel int

const (
	Low SuppressionLevel = iota
	Moderate
	High
	VeryHigh
)

// Config carries the AEC-relevant fields out of the recorder configuration.
type Config struct {
	Enabled          bool
	SuppressionLevel SuppressionLevel
	InitialDelayMs   int
	HighPass         bool
	HighPassHz       float64
}

// Port is the abstract AEC processor. Implementations MAY be stateful and
// are not safe for concurrent use by more than one producer; the pipeline
// coordinator serializes all calls under its session mutex.
//
// Call order contract: FeedFar MUST be called before ProcessNear for the
// same logical frame index. ProcessNear MUST fill exactly len(out) == F
// samples and MUST NOT reference a far frame not yet supplied via FeedFar.
// SetStreamDelayMs clamps its argument to [0, 200].
type Port interface {
	Configure(cfg Config, rateHz, frameMs int)
	FeedFar(far []float32)
	ProcessNear(in, out []float32)
	SetStreamDelayMs(ms int)
}

// nativeFactory is the registration hook for a build-tag-gated platform
// implementation. None ships in this tree, so New always falls through to
// the adaptive arm (or identity when disabled).
var nativeFactory func() Port

// RegisterNative lets a platform-specific build register a native AEC
// implementation. Intended to be called from an init() in a build-tagged
// file; not used by this tree.
func RegisterNative(factory func() Port) {
	nativeFactory = factory
}

// New selects native (if registered) else adaptive, or identity when cfg
// disables echo cancellation entirely.
func New(cfg Config, frameSize int) Port {
	if !cfg.Enabled {
		return &identityPort{}
	}
	if nativeFactory != nil {
		return nativeFactory()
	}
	return newAdaptive(frameSize)
}

// identityPort passes the near signal through unchanged. Used when echo
// cancellation is disabled or as the safe fallback for call-order
// violations a Port implementation chooses to detect.
type identityPort struct{}

func (identityPort) Configure(Config, int, int)     {}
func (identityPort) FeedFar([]float32)               {}
func (identityPort) ProcessNear(in, out []float32) {
	copy(out, in)
}
func (identityPort) SetStreamDelayMs(int) {}
