package domain

import (
	"errors"
	"strings"
	"time"
)

// ArtifactType classifies run outputs.
type ArtifactType string

const (
	ArtifactModel          ArtifactType = "model"
	ArtifactMetrics        ArtifactType = "metrics"
	ArtifactPlot           ArtifactType = "plot"
	ArtifactExplainability ArtifactType = "explainability"
	ArtifactLog            ArtifactType = "log"
	ArtifactOther          ArtifactType = "other"
)

// Artifact is an immutable, run-scoped output record. Artifacts are
// produced only after a run completes and never mutated afterward.
type Artifact struct {
	ID        string
	RunID     string
	Type      ArtifactType
	ObjectKey string
	Metadata  Metadata
	CreatedAt time.Time
}

func (a Artifact) Validate() error {
	if strings.TrimSpace(a.ID) == "" {
		return errors.New("artifact id is required")
	}
	if strings.TrimSpace(a.RunID) == "" {
		return errors.New("run id is required")
	}
	if strings.TrimSpace(string(a.Type)) == "" {
		return errors.New("artifact type is required")
	}
	return nil
}
