// Package checkpoint provides persistent parameter checkpoints for resuming
// training and loading models for generation.
package checkpoint

import (
	"errors"
	"time"
)

// Store persists checkpoints.
// Implementations must be safe for concurrent use.
type Store interface {
	// Save stores a checkpoint for a run under tag.
	// Overwrites if checkpoint for (runID, tag) already exists; the
	// overwritten checkpoint becomes the latest.
	Save(runID, tag string, data []byte) error

	// Load retrieves a checkpoint.
	// Returns ErrNotFound if checkpoint doesn't exist.
	Load(runID, tag string) ([]byte, error)

	// Latest retrieves the most recently saved checkpoint of a run.
	// Returns ErrNotFound if the run has no checkpoints.
	Latest(runID string) (Info, []byte, error)

	// List returns all checkpoints for a run, ordered by sequence.
	// Returns empty slice (not error) if run has no checkpoints.
	List(runID string) ([]Info, error)

	// Delete removes a specific checkpoint.
	// Returns nil if checkpoint doesn't exist.
	Delete(runID, tag string) error

	// Close releases any resources (connections, files).
	Close() error
}

// Info provides metadata without loading the parameters.
type Info struct {
	RunID     string
	Tag       string
	Sequence  int
	Timestamp time.Time
	Size      int64
}

// Sentinel errors for checkpoint operations.
var (
	// ErrNotFound indicates a checkpoint doesn't exist.
	ErrNotFound = errors.New("checkpoint not found")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("checkpoint store closed")
)

// Prune deletes all but the keep most recent checkpoints of a run.
// keep <= 0 keeps everything.
func Prune(s Store, runID string, keep int) error {
	if keep <= 0 {
		return nil
	}
	infos, err := s.List(runID)
	if err != nil {
		return err
	}
	for i := 0; i < len(infos)-keep; i++ {
		if err := s.Delete(runID, infos[i].Tag); err != nil {
			return err
		}
	}
	return nil
}
