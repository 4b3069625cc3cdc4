package domain

import (
	"errors"
	"strings"
	"time"
)

// TaskType is the requested ML task for an experiment. AutoDetect defers
// the decision to the task-resolution stage at run time.
type TaskType string

const (
	TaskAutoDetect     TaskType = "auto_detect"
	TaskClassification TaskType = "classification"
	TaskRegression     TaskType = "regression"
)

// Experiment is the editable setup for running workflows on a dataset. It
// owns the draft pipeline; runs own immutable snapshots of it.
type Experiment struct {
	ID          string
	WorkspaceID string
	Name        string
	DatasetID   string
	TaskType    TaskType
	Pipeline    Pipeline
	CreatedAt   time.Time
}

func (e Experiment) Validate() error {
	if strings.TrimSpace(e.ID) == "" {
		return errors.New("experiment id is required")
	}
	if strings.TrimSpace(e.WorkspaceID) == "" {
		return errors.New("workspace id is required")
	}
	if strings.TrimSpace(e.Name) == "" {
		return errors.New("experiment name is required")
	}
	if strings.TrimSpace(e.DatasetID) == "" {
		return errors.New("dataset id is required")
	}
	switch e.TaskType {
	case TaskAutoDetect, TaskClassification, TaskRegression:
	default:
		return errors.New("unknown task type")
	}
	return e.Pipeline.Validate()
}
