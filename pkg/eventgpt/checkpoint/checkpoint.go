package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Version is the current checkpoint format version.
// Increment when making breaking changes to checkpoint structure.
const Version = 1

// ErrVersionMismatch indicates a checkpoint written by an incompatible format.
var ErrVersionMismatch = errors.New("checkpoint version mismatch")

// Checkpoint is a persisted snapshot of model parameters and trainer
// progress. It contains everything needed to resume training.
type Checkpoint struct {
	// Metadata
	Version   int       `json:"version"`
	RunID     string    `json:"run_id"`
	Step      int       `json:"step"`
	Timestamp time.Time `json:"timestamp"`

	// Trainer progress
	Loss         float64 `json:"loss"`
	LearningRate float64 `json:"learning_rate"`

	// Measurements lists the schema the parameters were trained for, in
	// declaration order.
	Measurements []string `json:"measurements,omitempty"`

	// Params maps parameter names to matrix rows.
	Params map[string][][]float64 `json:"params"`
}

// Marshal serializes a checkpoint to JSON.
func (c *Checkpoint) Marshal() ([]byte, error) {
	return json.Marshal(c)
}

// Unmarshal deserializes a checkpoint from JSON and rejects other format
// versions.
func Unmarshal(data []byte) (*Checkpoint, error) {
	var c Checkpoint
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	if c.Version != Version {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrVersionMismatch, c.Version, Version)
	}
	return &c, nil
}

// New creates a checkpoint of params at step. params is retained, not copied.
func New(runID string, step int, params map[string][][]float64) *Checkpoint {
	return &Checkpoint{
		Version:   Version,
		RunID:     runID,
		Step:      step,
		Timestamp: time.Now().UTC(),
		Params:    params,
	}
}

// WithProgress records the loss and learning rate at the checkpoint.
func (c *Checkpoint) WithProgress(loss, lr float64) *Checkpoint {
	c.Loss = loss
	c.LearningRate = lr
	return c
}

// WithMeasurements records the schema measurement names.
func (c *Checkpoint) WithMeasurements(names []string) *Checkpoint {
	c.Measurements = names
	return c
}

// Tag returns the store key for a checkpoint at step. Tags sort by step.
func Tag(step int) string {
	return fmt.Sprintf("step-%09d", step)
}
