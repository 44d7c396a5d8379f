package eventgpt

import (
	"github.com/randalmurphal/eventgpt/pkg/eventgpt/config"
)

// ModelConfig sizes a Model.
type ModelConfig struct {
	HiddenSize int
	NumLayers  int
	NumHeads   int
	// FFSize is the feed-forward inner width. Zero means 4 * HiddenSize.
	FFSize int

	// LogVarMin and LogVarMax clamp head log-variances.
	LogVarMin float64
	LogVarMax float64

	// TimeScale is the longest wavelength, in minutes, of the time encoding.
	TimeScale float64

	InitStd float64

	// Seed drives parameter initialization.
	Seed uint64
}

// DefaultModelConfig returns a small model suitable for tests and examples.
func DefaultModelConfig() ModelConfig {
	return ModelConfig{
		HiddenSize: 16,
		NumLayers:  2,
		NumHeads:   2,
		LogVarMin:  -10,
		LogVarMax:  10,
		TimeScale:  10000,
		InitStd:    0.02,
		Seed:       1,
	}
}

// ModelConfigFrom reads a ModelConfig from cfg, falling back to
// DefaultModelConfig for absent keys.
//
//	hidden_size: 32
//	num_layers: 2
//	num_heads: 4
//	ff_size: 128
//	log_var_min: -10
//	log_var_max: 10
//	time_scale: 10000
//	init_std: 0.02
//	seed: 7
func ModelConfigFrom(cfg config.Config) ModelConfig {
	d := DefaultModelConfig()
	return ModelConfig{
		HiddenSize: cfg.Int("hidden_size", d.HiddenSize),
		NumLayers:  cfg.Int("num_layers", d.NumLayers),
		NumHeads:   cfg.Int("num_heads", d.NumHeads),
		FFSize:     cfg.Int("ff_size", d.FFSize),
		LogVarMin:  cfg.Float("log_var_min", d.LogVarMin),
		LogVarMax:  cfg.Float("log_var_max", d.LogVarMax),
		TimeScale:  cfg.Float("time_scale", d.TimeScale),
		InitStd:    cfg.Float("init_std", d.InitStd),
		Seed:       uint64(cfg.Int("seed", int(d.Seed))),
	}
}

// SamplingPolicyFrom reads a SamplingPolicy from cfg. Absent keys sample
// at temperature 1 with no top-k cut and seed 0.
//
//	temperature: 0.8
//	top_k: 5
//	deterministic: false
//	seed: 42
//
// The result is not validated; Generate rejects unusable policies.
func SamplingPolicyFrom(cfg config.Config) SamplingPolicy {
	return SamplingPolicy{
		Temperature:   cfg.Float("temperature", 1),
		TopK:          cfg.Int("top_k", 0),
		Deterministic: cfg.Bool("deterministic", false),
		Seed:          uint64(cfg.Int("seed", 0)),
	}
}
