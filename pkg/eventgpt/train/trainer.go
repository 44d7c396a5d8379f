// Package train runs maximum-likelihood pretraining of an eventgpt.Model.
//
// A Trainer pulls batches from a BatchProvider and applies one Adam step per
// batch. Failures are routed through the errors package:
//   - non-finite distribution parameters, losses or gradients roll back the
//     previous update and retry the batch with a lower learning rate; the
//     undone update no longer counts as a step
//   - unknown measurements and shape mismatches skip the batch
//   - configuration errors and exhausted retries abort the run
//
// With a checkpoint store the trainer saves parameters periodically and can
// resume a run from its latest checkpoint.
package train

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/randalmurphal/eventgpt/pkg/eventgpt"
	"github.com/randalmurphal/eventgpt/pkg/eventgpt/autograd"
	"github.com/randalmurphal/eventgpt/pkg/eventgpt/checkpoint"
	egerrors "github.com/randalmurphal/eventgpt/pkg/eventgpt/errors"
	"github.com/randalmurphal/eventgpt/pkg/eventgpt/event"
	"github.com/randalmurphal/eventgpt/pkg/eventgpt/observability"
)

// ErrNoStore indicates a checkpoint operation on a trainer without a store.
var ErrNoStore = errors.New("trainer has no checkpoint store")

// Report summarizes a run.
type Report struct {
	RunID string

	// Steps counts optimizer steps applied by this call.
	Steps int

	// Skipped counts batches dropped as unusable.
	Skipped int

	// Retries counts extra attempts after numeric failures.
	Retries int

	// Rewound counts earlier updates undone by a retry. Each one has been
	// subtracted from Steps.
	Rewound int

	FinalLoss    float64
	LearningRate float64
}

// Trainer owns the optimizer state of one training run.
// Not safe for concurrent use.
//
// The first retry of a failing batch restores the parameters from before
// the most recent successful update, on the assumption that the update
// caused the failure. The step counter moves back by one. Adam moments are
// not rewound and keep that update's gradient.
type Trainer struct {
	model  *eventgpt.Model
	cfg    Config
	params []autograd.NamedMatrix
	adam   *autograd.Adam

	handler *egerrors.Handler
	logger  *slog.Logger
	metrics observability.MetricsRecorder
	spans   observability.SpanManager
	store   checkpoint.Store
	runID   string

	step     int
	lr       float64
	rollback map[string][][]float64
}

// New creates a trainer for model.
func New(model *eventgpt.Model, cfg Config, opts ...Option) (*Trainer, error) {
	if model == nil {
		return nil, &egerrors.ConfigurationError{Reason: "model is nil"}
	}
	if cfg.LearningRate <= 0 || math.IsNaN(cfg.LearningRate) {
		return nil, &egerrors.ConfigurationError{Reason: fmt.Sprintf("learning rate must be positive, got %v", cfg.LearningRate)}
	}
	if cfg.MaxSteps < 0 || cfg.CheckpointEvery < 0 || cfg.KeepCheckpoints < 0 {
		return nil, &egerrors.ConfigurationError{Reason: "step counts must be non-negative"}
	}

	t := &Trainer{
		model:   model,
		cfg:     cfg,
		params:  model.Params(),
		adam:    autograd.NewAdam(cfg.Adam),
		metrics: observability.NoopMetrics{},
		spans:   observability.NoopSpanManager{},
		lr:      cfg.LearningRate,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.runID == "" {
		t.runID = uuid.NewString()
	}

	handlerLogger := t.logger
	if handlerLogger == nil {
		handlerLogger = slog.New(slog.DiscardHandler)
	}
	t.handler = egerrors.NewHandler(
		egerrors.WithRetryConfig(cfg.Retry),
		egerrors.WithLogger(handlerLogger),
		egerrors.WithOnRetry(func(from, to float64, err error) {
			observability.LogTrainRetry(t.logger, t.step+1, from, to, err)
		}),
	)
	return t, nil
}

// RunID returns the run ID.
func (t *Trainer) RunID() string { return t.runID }

// Step returns the number of optimizer steps applied, including steps
// restored by Resume.
func (t *Trainer) Step() int { return t.step }

// LearningRate returns the current learning rate. It only decreases, after
// numeric failures.
func (t *Trainer) LearningRate() float64 { return t.lr }

// Run trains until the provider is exhausted or Config.MaxSteps total steps
// have been applied.
//
// The returned Report is valid even when err is non-nil and describes the
// work done before the failure.
func (t *Trainer) Run(ctx context.Context, provider BatchProvider) (*Report, error) {
	report := &Report{RunID: t.runID, LearningRate: t.lr}
	lastLoss := math.NaN()
	began := time.Now()

	for t.cfg.MaxSteps == 0 || t.step < t.cfg.MaxSteps {
		if t.cfg.MaxDuration > 0 && report.Steps > 0 && time.Since(began) >= t.cfg.MaxDuration {
			break
		}
		batch, err := provider.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return report, err
		}

		stepCtx, span := t.spans.StartTrainStepSpan(ctx, t.runID, t.step+1)
		res, rewound := t.execute(stepCtx, batch)
		t.spans.EndSpanWithError(span, res.Err)

		if res.Attempts > 1 {
			report.Retries += res.Attempts - 1
		}
		if rewound {
			t.step--
			report.Rewound++
			if report.Steps > 0 {
				report.Steps--
			}
		}
		t.lr = res.LearningRate
		report.LearningRate = t.lr

		switch {
		case res.Err != nil:
			t.metrics.RecordTrainStep(ctx, observability.OutcomeFailed, t.lr)
			return report, res.Err
		case res.Skipped:
			report.Skipped++
			observability.LogTrainSkip(t.logger, t.step+1, res.SkipReason)
			t.metrics.RecordTrainStep(ctx, observability.OutcomeSkipped, t.lr)
			continue
		}

		t.step++
		report.Steps++
		report.FinalLoss = res.Value
		lastLoss = res.Value

		outcome := observability.OutcomeOK
		if res.Attempts > 1 {
			outcome = observability.OutcomeRetried
		}
		t.metrics.RecordTrainStep(ctx, outcome, t.lr)
		observability.LogTrainStep(t.logger, t.step, res.Value, t.lr)

		if t.store != nil && t.cfg.CheckpointEvery > 0 && t.step%t.cfg.CheckpointEvery == 0 {
			if err := t.Checkpoint(ctx, res.Value); err != nil {
				return report, err
			}
		}
	}

	if t.store != nil && report.Steps > 0 && (t.cfg.CheckpointEvery == 0 || t.step%t.cfg.CheckpointEvery != 0) {
		if err := t.Checkpoint(ctx, lastLoss); err != nil {
			return report, err
		}
	}
	return report, nil
}

// execute runs one batch under the retry and skip policy. It reports
// whether a retry undid the previous update.
func (t *Trainer) execute(ctx context.Context, batch *event.Batch) (egerrors.ExecuteResult[float64], bool) {
	attempt := 0
	rewound := false
	res := egerrors.Execute(ctx, t.handler, t.lr, func(ctx context.Context, lr float64) (float64, error) {
		attempt++
		if attempt > 1 && t.rollback != nil {
			if err := t.model.LoadParams(t.rollback); err != nil {
				return 0, err
			}
			t.rollback = nil
			rewound = true
		}
		return t.apply(ctx, batch, lr)
	})
	return res, rewound
}

// apply computes the loss of batch and takes one Adam step. The parameters
// before the step are kept so a later numeric failure can undo it.
func (t *Trainer) apply(ctx context.Context, batch *event.Batch, lr float64) (float64, error) {
	res, err := t.model.ForwardAndLoss(ctx, batch)
	if err != nil {
		return 0, err
	}
	loss := res.Value()
	if math.IsNaN(loss) || math.IsInf(loss, 0) {
		return 0, &egerrors.InvalidDistributionParameterError{Parameter: "loss", Index: -1, Value: loss}
	}

	res.Backward()
	flat := autograd.Flatten(t.params)
	for _, p := range flat {
		for i, g := range p.Grad {
			if math.IsNaN(g) || math.IsInf(g, 0) {
				autograd.ZeroGrad(flat)
				return 0, &egerrors.InvalidDistributionParameterError{Parameter: "gradient", Index: i, Value: g}
			}
		}
	}

	before := t.model.SnapshotParams()
	t.adam.Step(flat, lr)
	t.rollback = before
	return loss, nil
}

// Checkpoint saves the current parameters and progress under the step tag
// and prunes old checkpoints.
func (t *Trainer) Checkpoint(ctx context.Context, loss float64) error {
	if t.store == nil {
		return ErrNoStore
	}
	cp := checkpoint.New(t.runID, t.step, t.model.SnapshotParams()).
		WithProgress(loss, t.lr).
		WithMeasurements(t.model.Schema().Names())
	if math.IsNaN(loss) {
		cp.Loss = 0
	}

	data, err := cp.Marshal()
	if err != nil {
		observability.LogCheckpointError(t.logger, t.runID, "marshal", err)
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	if err := t.store.Save(t.runID, checkpoint.Tag(t.step), data); err != nil {
		observability.LogCheckpointError(t.logger, t.runID, "save", err)
		return fmt.Errorf("save checkpoint: %w", err)
	}
	observability.LogCheckpoint(t.logger, t.runID, t.step, len(data))
	t.metrics.RecordCheckpoint(ctx, t.runID, int64(len(data)))

	if err := checkpoint.Prune(t.store, t.runID, t.cfg.KeepCheckpoints); err != nil {
		observability.LogCheckpointError(t.logger, t.runID, "prune", err)
		return fmt.Errorf("prune checkpoints: %w", err)
	}
	return nil
}

// Resume restores parameters, step count and learning rate from the latest
// checkpoint of the run. Optimizer moments are not checkpointed and restart
// from zero.
func (t *Trainer) Resume() (*checkpoint.Checkpoint, error) {
	if t.store == nil {
		return nil, ErrNoStore
	}
	cp, err := LoadLatest(t.store, t.runID, t.model)
	if err != nil {
		observability.LogCheckpointError(t.logger, t.runID, "load", err)
		return nil, err
	}
	t.step = cp.Step
	if cp.LearningRate > 0 {
		t.lr = cp.LearningRate
	}
	t.rollback = nil
	return cp, nil
}

// LoadLatest loads the latest checkpoint of runID into model.
func LoadLatest(store checkpoint.Store, runID string, model *eventgpt.Model) (*checkpoint.Checkpoint, error) {
	_, data, err := store.Latest(runID)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint for run %s: %w", runID, err)
	}
	return restore(data, runID, model)
}

// Load loads the checkpoint of runID saved under tag into model. Periodic
// checkpoints are tagged with checkpoint.Tag(step).
func Load(store checkpoint.Store, runID, tag string, model *eventgpt.Model) (*checkpoint.Checkpoint, error) {
	data, err := store.Load(runID, tag)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint %s for run %s: %w", tag, runID, err)
	}
	return restore(data, runID, model)
}

func restore(data []byte, runID string, model *eventgpt.Model) (*checkpoint.Checkpoint, error) {
	cp, err := checkpoint.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("decode checkpoint for run %s: %w", runID, err)
	}
	if names := model.Schema().Names(); len(cp.Measurements) > 0 && !slices.Equal(cp.Measurements, names) {
		return nil, &egerrors.ConfigurationError{
			Reason: fmt.Sprintf("checkpoint measurements %v do not match schema %v", cp.Measurements, names),
		}
	}
	if err := model.LoadParams(cp.Params); err != nil {
		return nil, err
	}
	return cp, nil
}
