// Package config manages the recorder's persistent configuration: the
// nested Recording/DSP/Filter/Limiter/Dither/AEC/Diagnostics/Finalize
// option groups, coerced to safe defaults where a value is unsafe. It
// keeps the reference client's config package's JSON Load/Save/Default/
// Path idiom (os.UserConfigDir()-relative path, 0600/0750 perms) but for
// an entirely different option surface: the recorder never persists UI
// preferences, only its own pipeline behavior, and the core itself never
// reads this path implicitly — only a host binary like cmd/livecapture
// does.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// DitherType mirrors the on-wire string values recognized by the Dither
// group (kept as a string type so JSON round-trips stay human-readable).
type DitherType string

const (
	TriangularPDF DitherType = "TriangularPDF"
	RectangularPDF DitherType = "RectangularPDF"
)

// SuppressionLevel mirrors the AEC group's SuppressionLevel enum.
type SuppressionLevel string

const (
	Low      SuppressionLevel = "Low"
	Moderate SuppressionLevel = "Moderate"
	High     SuppressionLevel = "High"
	VeryHigh SuppressionLevel = "VeryHigh"
)

// Recording controls sink location, output format, and the initial
// discard window.
type Recording struct {
	OutputDir        string `json:"output_dir"`
	SampleRateHz     int    `json:"sample_rate_hz"`
	BitsPerSample    int    `json:"bits_per_sample"` // 16 or 32
	PreBufferS       float64 `json:"pre_buffer_s"`
	DiscardInitialMs int    `json:"discard_initial_ms"`
}

// DSP controls framing and the per-channel gain stages.
type DSP struct {
	FrameMs       int     `json:"frame_ms"`
	NearGainDB    float64 `json:"near_gain_db"`
	FarGainDB     float64 `json:"far_gain_db"`
	Normalize     bool    `json:"normalize"`
	TargetRMSDBFS float64 `json:"target_rms_dbfs"`
	MaxGainDB     float64 `json:"max_gain_db"`
	AttackMs      float64 `json:"attack_ms"`
	ReleaseMs     float64 `json:"release_ms"`
}

// Filter controls the post-processor's low-pass stage.
type Filter struct {
	LowPass   bool    `json:"low_pass"`
	LowPassHz float64 `json:"low_pass_hz"`
}

// Limiter controls the lookahead peak limiter.
type Limiter struct {
	EnableLimiter      bool    `json:"enable_limiter"`
	LimiterCeilingDBFS float64 `json:"limiter_ceiling_dbfs"`
	LimiterLookaheadMs float64 `json:"limiter_lookahead_ms"`
	LimiterReleaseMs   float64 `json:"limiter_release_ms"`
	SoftKneeLimiter    bool    `json:"soft_knee_limiter"`
}

// Dither controls the quantization dither stage.
type Dither struct {
	EnableDithering bool       `json:"enable_dithering"`
	DitherType      DitherType `json:"dither_type"`
	DitherAmountDB  float64    `json:"dither_amount_db"`
}

// AEC controls echo cancellation, delegated to the AEC port.
type AEC struct {
	EchoCancellation bool             `json:"echo_cancellation"`
	SuppressionLevel SuppressionLevel `json:"suppression_level"`
	InitialDelayMs   int              `json:"initial_delay_ms"`
	HighPass         bool             `json:"high_pass"`
	HighPassHz       float64          `json:"high_pass_hz"`
}

// Diagnostics controls optional per-stream dump files and the tone
// verdict check.
type Diagnostics struct {
	DiagEnableMonoDumps bool `json:"diag_enable_mono_dumps"`
	DiagTestToneCheck   bool `json:"diag_test_tone_check"`
}

// Finalize controls offline two-pass normalization at session close.
type Finalize struct {
	PostNormalize bool `json:"post_normalize"`
}

// Config is the recorder's full persistent configuration: nested option
// groups mirroring the external-interfaces table.
type Config struct {
	Recording   Recording   `json:"recording"`
	DSP         DSP         `json:"dsp"`
	Filter      Filter      `json:"filter"`
	Limiter     Limiter     `json:"limiter"`
	Dither      Dither      `json:"dither"`
	AEC         AEC         `json:"aec"`
	Diagnostics Diagnostics `json:"diagnostics"`
	Finalize    Finalize    `json:"finalize"`
}

// Default returns a Config populated with the spec's normative defaults.
func Default() Config {
	return Config{
		Recording: Recording{
			OutputDir:     "",
			SampleRateHz:  48000,
			BitsPerSample: 16,
		},
		DSP: DSP{
			FrameMs:       10,
			Normalize:     false,
			TargetRMSDBFS: -20,
			MaxGainDB:     24,
			AttackMs:      5,
			ReleaseMs:     50,
		},
		Filter: Filter{
			LowPass:   false,
			LowPassHz: 9000,
		},
		Limiter: Limiter{
			EnableLimiter:      false,
			LimiterCeilingDBFS: -1,
			LimiterLookaheadMs: 4,
			LimiterReleaseMs:   50,
		},
		Dither: Dither{
			EnableDithering: true,
			DitherType:      TriangularPDF,
			DitherAmountDB:  -96,
		},
		AEC: AEC{
			EchoCancellation: true,
			SuppressionLevel: Moderate,
			HighPass:         true,
			HighPassHz:       80,
		},
		Diagnostics: Diagnostics{},
		Finalize:    Finalize{},
	}
}

// Sanitize coerces unsupported or unsafe values to safe defaults, as
// required of configuration errors: unsupported sample rate or bits,
// negative sizes. Returns the sanitized copy.
func Sanitize(cfg Config) Config {
	if cfg.Recording.SampleRateHz != 48000 && cfg.Recording.SampleRateHz != 44100 {
		cfg.Recording.SampleRateHz = 48000
	}
	if cfg.Recording.BitsPerSample != 16 && cfg.Recording.BitsPerSample != 32 {
		cfg.Recording.BitsPerSample = 16
	}
	if cfg.Recording.DiscardInitialMs < 0 {
		cfg.Recording.DiscardInitialMs = 0
	}
	if cfg.DSP.FrameMs < 1 {
		cfg.DSP.FrameMs = 10
	}
	if cfg.DSP.MaxGainDB < 0 {
		cfg.DSP.MaxGainDB = 24
	}
	if cfg.Limiter.LimiterLookaheadMs <= 0 {
		cfg.Limiter.LimiterLookaheadMs = 4
	}
	if cfg.Dither.DitherAmountDB == 0 {
		cfg.Dither.DitherAmountDB = -96
	}
	if cfg.AEC.InitialDelayMs < 0 {
		cfg.AEC.InitialDelayMs = 0
	}
	if cfg.AEC.InitialDelayMs > 200 {
		cfg.AEC.InitialDelayMs = 200
	}
	return cfg
}

// Path returns the absolute path to the config file under the OS user
// config directory, namespaced by appName (e.g. "cs-audio-recorder").
func Path(appName string) (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, appName, "config.json"), nil
}

// Load reads the config file at path and returns it, sanitized. If the
// file is missing or unreadable, the default config is returned — never
// an error, matching the reference client's config package's fail-soft
// load behavior.
func Load(path string) Config {
	data, err := os.ReadFile(path)
	if err != nil {
		return Default()
	}
	cfg := Default()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Default()
	}
	return Sanitize(cfg)
}

// Save writes cfg to disk at path, creating the directory if needed.
func Save(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
