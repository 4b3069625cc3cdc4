package repo

import (
	"context"
	"errors"

	"github.com/butterfly-labs/butterfly-go/internal/domain"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrRunImmutable is returned when a save targets a run that has already
// reached a terminal state. Completed and failed runs accept no mutation.
var ErrRunImmutable = errors.New("run is immutable")

type RunFilter struct {
	ExperimentID string
	Status       string
	Limit        int
}

type ArtifactFilter struct {
	RunID string
	Type  string
	Limit int
}

// WorkspaceRepository manages workspaces.
type WorkspaceRepository interface {
	Create(ctx context.Context, workspace domain.Workspace) error
	Get(ctx context.Context, id string) (domain.Workspace, error)
	List(ctx context.Context) ([]domain.Workspace, error)
}

// DatasetRepository manages immutable dataset records.
type DatasetRepository interface {
	Create(ctx context.Context, dataset domain.Dataset) error
	Get(ctx context.Context, id string) (domain.Dataset, error)
	List(ctx context.Context, workspaceID string) ([]domain.Dataset, error)
}

// ExperimentRepository manages experiments, their draft pipelines, and
// their registered hooks.
type ExperimentRepository interface {
	Create(ctx context.Context, experiment domain.Experiment) error
	Get(ctx context.Context, id string) (domain.Experiment, error)
	List(ctx context.Context, workspaceID string) ([]domain.Experiment, error)
	SaveDraftPipeline(ctx context.Context, experimentID string, pipeline domain.Pipeline) error

	CreateHook(ctx context.Context, hook domain.Hook) error
	// ListHooks returns the experiment's hooks in registration order. The
	// order is the tie-break for multiple hooks of the same role on one
	// block, so implementations must preserve it.
	ListHooks(ctx context.Context, experimentID string) ([]domain.Hook, error)
}

// RunRepository manages run state and run logs.
type RunRepository interface {
	Create(ctx context.Context, run domain.Run) error
	// Save persists run mutations. Saves over a run already in a terminal
	// state are rejected with ErrRunImmutable.
	Save(ctx context.Context, run domain.Run) error
	Get(ctx context.Context, id string) (domain.Run, error)
	List(ctx context.Context, filter RunFilter) ([]domain.Run, error)
	AppendLog(ctx context.Context, runID, line string) error
	GetLogs(ctx context.Context, runID string) ([]string, error)
}

// ArtifactRepository manages immutable run artifact records.
type ArtifactRepository interface {
	Create(ctx context.Context, artifact domain.Artifact) error
	Get(ctx context.Context, id string) (domain.Artifact, error)
	List(ctx context.Context, filter ArtifactFilter) ([]domain.Artifact, error)
}
