// Package pipeline implements the Pipeline Coordinator (C10): the
// top-level session object that wires the Format Normalizer, Frame
// Aligner, AEC Port, Leakage Guard, Post-Processor, Dither+Quantizer, and
// Durable Writer into the append_mic/append_speaker/finalize/dispose
// lifecycle. Producer calls are serialized under one session mutex, the
// same cooperative-single-lock shape internal/align uses for its
// accumulators; the writer alone runs on its own goroutine.
package pipeline

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/AmjadDardouk/cs-audio-recorder/internal/aec"
	"github.com/AmjadDardouk/cs-audio-recorder/internal/align"
	"github.com/AmjadDardouk/cs-audio-recorder/internal/config"
	"github.com/AmjadDardouk/cs-audio-recorder/internal/diagnostics"
	"github.com/AmjadDardouk/cs-audio-recorder/internal/dsp"
	"github.com/AmjadDardouk/cs-audio-recorder/internal/finalize"
	"github.com/AmjadDardouk/cs-audio-recorder/internal/leakage"
	"github.com/AmjadDardouk/cs-audio-recorder/internal/pcm"
	"github.com/AmjadDardouk/cs-audio-recorder/internal/quantize"
	"github.com/AmjadDardouk/cs-audio-recorder/internal/wav"
)

const startupSeconds = 4.0

// FinalizeResult is returned by Session.Finalize.
type FinalizeResult struct {
	FinalPath    string
	SegmentPaths []string
	Diagnostics  diagnostics.Snapshot
}

// Session owns the full recording pipeline for one call. Safe for
// concurrent AppendMic/AppendSpeaker calls from distinct producers; all
// other methods are not meant to overlap with Finalize/Dispose.
type Session struct {
	mu sync.Mutex

	cfg    config.Config
	rateHz int
	frameMs int

	aligner *align.Aligner
	aecPort aec.Port
	guard   *leakage.Guard

	nearProc *dsp.Processor
	farProc  *dsp.Processor

	quantizer *quantize.Quantizer
	writer    *wav.Writer

	diag *diagnostics.Accumulator

	disposed    bool
	once        sync.Once
	finalResult *FinalizeResult
}

// NewSession creates and wires a full pipeline session, including the
// output directory/segment path and the background writer goroutine.
func NewSession(outDir, label string, micFmt, spkFmt pcm.SourceFormat, cfg config.Config) (*Session, error) {
	cfg = config.Sanitize(cfg)

	rateHz := cfg.Recording.SampleRateHz
	frameMs := cfg.DSP.FrameMs
	frameSize := rateHz * frameMs / 1000

	path := wav.SegmentPath(outDir, label, time.Now())
	writer, err := wav.New(path, wav.Format{
		SampleRateHz: rateHz,
		Channels:     2,
		Float32:      cfg.Recording.BitsPerSample == 32,
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline: create session writer: %w", err)
	}

	aecCfg := aec.Config{
		Enabled:          cfg.AEC.EchoCancellation,
		SuppressionLevel: mapSuppression(cfg.AEC.SuppressionLevel),
		InitialDelayMs:   cfg.AEC.InitialDelayMs,
		HighPass:         cfg.AEC.HighPass,
		HighPassHz:       cfg.AEC.HighPassHz,
	}
	port := aec.New(aecCfg, frameSize)
	port.Configure(aecCfg, rateHz, frameMs)

	nearProc := dsp.NewProcessor(dsp.Params{
		StaticGainDB: cfg.DSP.NearGainDB,
		Normalize:    cfg.DSP.Normalize, TargetRMSDBFS: cfg.DSP.TargetRMSDBFS, MaxGainDB: cfg.DSP.MaxGainDB,
		AttackMs: cfg.DSP.AttackMs, ReleaseMs: cfg.DSP.ReleaseMs,
		LowPassEnabled: cfg.Filter.LowPass, LowPassHz: cfg.Filter.LowPassHz,
		LimiterEnabled: cfg.Limiter.EnableLimiter, LimiterCeilingDBFS: cfg.Limiter.LimiterCeilingDBFS,
		LimiterLookaheadMs: cfg.Limiter.LimiterLookaheadMs, LimiterReleaseMs: cfg.Limiter.LimiterReleaseMs,
		SoftKnee: cfg.Limiter.SoftKneeLimiter,
		RateHz:   float64(rateHz), FrameMs: float64(frameMs),
	})
	farProc := dsp.NewProcessor(dsp.Params{
		StaticGainDB: cfg.DSP.FarGainDB,
		Normalize:    cfg.DSP.Normalize, TargetRMSDBFS: cfg.DSP.TargetRMSDBFS, MaxGainDB: cfg.DSP.MaxGainDB,
		AttackMs: cfg.DSP.AttackMs, ReleaseMs: cfg.DSP.ReleaseMs,
		LowPassEnabled: cfg.Filter.LowPass, LowPassHz: cfg.Filter.LowPassHz,
		LimiterEnabled: cfg.Limiter.EnableLimiter, LimiterCeilingDBFS: cfg.Limiter.LimiterCeilingDBFS,
		LimiterLookaheadMs: cfg.Limiter.LimiterLookaheadMs, LimiterReleaseMs: cfg.Limiter.LimiterReleaseMs,
		SoftKnee: cfg.Limiter.SoftKneeLimiter,
		RateHz:   float64(rateHz), FrameMs: float64(frameMs),
	})

	qz := quantize.New(cfg.Dither.EnableDithering, mapDitherType(cfg.Dither.DitherType), cfg.Dither.DitherAmountDB, quantize.NewSeed())

	s := &Session{
		cfg:      cfg,
		rateHz:   rateHz,
		frameMs:  frameMs,
		aligner:  align.New(align.FramedConfig(rateHz, frameMs)),
		aecPort:  port,
		guard:    leakage.New(frameMs, startupSeconds),
		nearProc: nearProc,
		farProc:  farProc,
		quantizer: qz,
		writer:    writer,
		diag:      diagnostics.New(true), // periodic diagnostics logging is always-on ambient behavior
	}
	return s, nil
}

// AppendMic feeds microphone bytes (in the given source format) into the
// near-end accumulator and drains any resulting pairs through the chain.
func (s *Session) AppendMic(data []byte, srcFmt pcm.SourceFormat) error {
	samples := pcm.ToMonoF32(data, srcFmt, s.rateHz)
	s.mu.Lock()
	defer s.mu.Unlock()
	pairs := s.aligner.Feed(align.Near, samples)
	s.drainPairsLocked(pairs)
	return nil
}

// AppendSpeaker feeds far-end (loopback) bytes into the far-end
// accumulator and drains any resulting pairs through the chain.
func (s *Session) AppendSpeaker(data []byte, srcFmt pcm.SourceFormat) error {
	samples := pcm.ToMonoF32(data, srcFmt, s.rateHz)
	s.mu.Lock()
	defer s.mu.Unlock()
	pairs := s.aligner.Feed(align.Far, samples)
	s.drainPairsLocked(pairs)
	return nil
}

// drainPairsLocked runs the AEC/leakage/post/quantize/enqueue sequence for
// each pair. Caller must hold s.mu.
func (s *Session) drainPairsLocked(pairs []align.Pair) {
	frameSize := s.rateHz * s.frameMs / 1000
	for _, p := range pairs {
		s.aecPort.SetStreamDelayMs(p.StreamDelay)
		s.aecPort.FeedFar(p.Far)

		nearRaw := append([]float32(nil), p.Near...)
		nearProc := make([]float32, frameSize)
		s.aecPort.ProcessNear(nearRaw, nearProc)

		delayBump := s.guard.Observe(nearRaw, p.Far)
		s.aligner.SetDelayBump(delayBump)

		if s.guard.Blocked() {
			continue // drop the pair; AEC/guard state above still advanced
		}

		far := append([]float32(nil), p.Far...)
		s.nearProc.Process(nearProc)
		s.farProc.Process(far)

		alignStats := s.aligner.Stats()
		snap := s.diag.Observe(nearRaw, nearProc, far, s.aligner.OccupancyFrames(), p.StreamDelay,
			s.nearProc.ClipHits(), s.farProc.ClipHits(), alignStats.ReverseDrops, alignStats.ReverseUnderruns)
		_ = snap

		s.enqueueFrame(nearProc, far)
	}
}

func (s *Session) enqueueFrame(near, far []float32) {
	n := len(near)
	bitsPerSample := s.cfg.Recording.BitsPerSample
	if bitsPerSample == 32 {
		buf := make([]byte, n*2*4)
		interleaved := make([]float32, n*2)
		for i := 0; i < n; i++ {
			interleaved[2*i] = near[i]
			interleaved[2*i+1] = far[i]
		}
		quantize.WriteFloat32(interleaved, buf)
		s.writer.Enqueue(buf)
		return
	}

	interleaved := make([]float32, n*2)
	for i := 0; i < n; i++ {
		interleaved[2*i] = near[i]
		interleaved[2*i+1] = far[i]
	}
	buf := make([]byte, n*2*2)
	s.quantizer.QuantizePCM16(interleaved, buf)
	s.writer.Enqueue(buf)
}

// Finalize drains remaining samples, waits for the writer queue to empty
// (with no time limit), merges segments, optionally normalizes, and returns
// the final result. Only the first call does this work; subsequent calls
// are no-ops returning the first call's result.
func (s *Session) Finalize() (FinalizeResult, error) {
	s.mu.Lock()
	if s.finalResult != nil {
		result := *s.finalResult
		s.mu.Unlock()
		return result, nil
	}
	_, _ = s.aligner.PadToFrameBoundary()
	pairs := s.aligner.Drain()
	s.drainPairsLocked(pairs)
	s.mu.Unlock()

	s.writer.Close()

	segments := s.writer.Segments()
	finalPath := segments[0]
	if len(segments) > 1 {
		merged, err := finalize.MergeSegments(segments, 44)
		if err != nil {
			log.Printf("[pipeline] segment merge failed, keeping segments separate: %v", err)
		} else {
			finalPath = merged
			segments = []string{merged}
		}
	}

	if s.cfg.Finalize.PostNormalize {
		const ceilingDBFS = -1.0 // matches dsp.Processor's default hard ceiling
		if err := finalize.NormalizeFile(finalPath, 44, s.cfg.DSP.TargetRMSDBFS, ceilingDBFS); err != nil {
			log.Printf("[pipeline] post-normalize failed, leaving output unnormalized: %v", err)
		}
	}

	alignStats := s.aligner.Stats()
	snap := s.diag.Snapshot(s.aligner.OccupancyFrames(), 0,
		s.nearProc.ClipHits(), s.farProc.ClipHits(), alignStats.ReverseDrops, alignStats.ReverseUnderruns)
	result := FinalizeResult{
		FinalPath:    finalPath,
		SegmentPaths: segments,
		Diagnostics:  snap,
	}
	s.mu.Lock()
	s.finalResult = &result
	s.mu.Unlock()
	return result, nil
}

// Dispose ensures finalize+close has run. Safe to call multiple times.
func (s *Session) Dispose() {
	s.once.Do(func() {
		s.mu.Lock()
		already := s.disposed
		s.disposed = true
		s.mu.Unlock()
		if !already {
			_, _ = s.Finalize()
		}
	})
}

func mapSuppression(s config.SuppressionLevel) aec.SuppressionLevel {
	switch s {
	case config.Low:
		return aec.Low
	case config.High:
		return aec.High
	case config.VeryHigh:
		return aec.VeryHigh
	default:
		return aec.Moderate
	}
}

func mapDitherType(t config.DitherType) quantize.DitherType {
	if t == config.RectangularPDF {
		return quantize.Rectangular
	}
	return quantize.TPDF
}
