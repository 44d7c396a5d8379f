package train

import (
	"time"

	"github.com/randalmurphal/eventgpt/pkg/eventgpt/autograd"
	"github.com/randalmurphal/eventgpt/pkg/eventgpt/config"
	egerrors "github.com/randalmurphal/eventgpt/pkg/eventgpt/errors"
)

// Config controls a training run.
type Config struct {
	// LearningRate is the initial Adam step size.
	LearningRate float64

	Adam autograd.AdamConfig

	// MaxSteps bounds the number of optimizer steps. Zero runs until the
	// provider is exhausted.
	MaxSteps int

	// MaxDuration bounds the wall time of one Run call. The budget is
	// checked between steps, so at least one step is always attempted.
	// Zero disables.
	MaxDuration time.Duration

	// CheckpointEvery saves a checkpoint every N steps. Zero saves only at
	// the end of the run. Ignored without a store.
	CheckpointEvery int

	// KeepCheckpoints prunes all but the N most recent checkpoints of the
	// run. Zero keeps everything.
	KeepCheckpoints int

	// Retry governs retries after numeric failures.
	Retry egerrors.RetryConfig
}

// DefaultConfig returns the defaults used by ConfigFrom.
func DefaultConfig() Config {
	return Config{
		LearningRate:    1e-3,
		Adam:            autograd.DefaultAdam,
		CheckpointEvery: 100,
		KeepCheckpoints: 3,
		Retry:           egerrors.DefaultRetry,
	}
}

// ConfigFrom reads a Config from cfg, falling back to DefaultConfig for
// absent keys.
//
//	learning_rate: 0.001
//	beta1: 0.9
//	beta2: 0.999
//	eps: 1e-8
//	grad_clip: 1.0
//	max_steps: 1000
//	max_duration: 30m
//	checkpoint_every: 100
//	keep_checkpoints: 3
//	retry:
//	  max_attempts: 3
//	  lr_factor: 0.5
//	  min_learning_rate: 1e-6
func ConfigFrom(cfg config.Config) Config {
	d := DefaultConfig()
	retry := cfg.Sub("retry")
	return Config{
		LearningRate: cfg.Float("learning_rate", d.LearningRate),
		Adam: autograd.AdamConfig{
			Beta1:    cfg.Float("beta1", d.Adam.Beta1),
			Beta2:    cfg.Float("beta2", d.Adam.Beta2),
			Eps:      cfg.Float("eps", d.Adam.Eps),
			GradClip: cfg.Float("grad_clip", d.Adam.GradClip),
		},
		MaxSteps:        cfg.Int("max_steps", d.MaxSteps),
		MaxDuration:     cfg.Duration("max_duration", d.MaxDuration),
		CheckpointEvery: cfg.Int("checkpoint_every", d.CheckpointEvery),
		KeepCheckpoints: cfg.Int("keep_checkpoints", d.KeepCheckpoints),
		Retry: egerrors.NewRetryConfig(
			egerrors.WithMaxAttempts(retry.Int("max_attempts", d.Retry.MaxAttempts)),
			egerrors.WithLRFactor(retry.Float("lr_factor", d.Retry.LRFactor)),
			egerrors.WithMinLearningRate(retry.Float("min_learning_rate", d.Retry.MinLearningRate)),
		),
	}
}
