package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// RunStatus is the run lifecycle state.
type RunStatus string

const (
	RunCreated   RunStatus = "created"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// DefaultSeed is used when a run is created without an explicit seed.
const DefaultSeed int64 = 42

// Run is one immutable execution attempt: a pipeline snapshot, a locked
// dataset content hash, and a fixed seed. Once a run reaches completed or
// failed it accepts no further mutation.
type Run struct {
	ID               string
	ExperimentID     string
	PipelineSnapshot Pipeline
	DatasetSHA256    string
	Seed             int64
	Status           RunStatus

	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time

	ErrorMessage  string
	FailedBlockID string
}

func (r Run) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return errors.New("run id is required")
	}
	if strings.TrimSpace(r.ExperimentID) == "" {
		return errors.New("experiment id is required")
	}
	if strings.TrimSpace(r.DatasetSHA256) == "" {
		return errors.New("dataset sha256 is required")
	}
	switch r.Status {
	case RunCreated, RunRunning, RunCompleted, RunFailed:
	default:
		return errors.New("unknown run status")
	}
	return r.PipelineSnapshot.Validate()
}

// Start transitions the run from created to running.
func (r *Run) Start() error {
	if r.Status != RunCreated {
		return fmt.Errorf("cannot start run in status %s", r.Status)
	}
	now := time.Now().UTC()
	r.Status = RunRunning
	r.StartedAt = &now
	return nil
}

// Complete transitions the run from running to completed.
func (r *Run) Complete() error {
	if r.Status != RunRunning {
		return fmt.Errorf("cannot complete run in status %s", r.Status)
	}
	now := time.Now().UTC()
	r.Status = RunCompleted
	r.CompletedAt = &now
	return nil
}

// Fail transitions the run to failed from created or running, recording
// the error message and optionally the failing block.
func (r *Run) Fail(message, failedBlockID string) error {
	if r.Status != RunCreated && r.Status != RunRunning {
		return fmt.Errorf("cannot fail run in status %s", r.Status)
	}
	now := time.Now().UTC()
	r.Status = RunFailed
	r.CompletedAt = &now
	r.ErrorMessage = message
	r.FailedBlockID = failedBlockID
	return nil
}

// Terminal reports whether the run has reached an immutable state.
func (r Run) Terminal() bool {
	return r.Status == RunCompleted || r.Status == RunFailed
}
