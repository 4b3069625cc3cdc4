package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/butterfly-labs/butterfly-go/internal/domain"
)

type ExperimentStore struct {
	db DB
}

func NewExperimentStore(db DB) *ExperimentStore {
	if db == nil {
		return nil
	}
	return &ExperimentStore{db: db}
}

func (s *ExperimentStore) Create(ctx context.Context, experiment domain.Experiment) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("experiment store not initialized")
	}
	if err := experiment.Validate(); err != nil {
		return err
	}
	pipelineJSON, err := encodePipeline(experiment.Pipeline)
	if err != nil {
		return fmt.Errorf("encode pipeline: %w", err)
	}
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO experiments (
			experiment_id,
			workspace_id,
			name,
			dataset_id,
			task_type,
			pipeline,
			created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		strings.TrimSpace(experiment.ID),
		strings.TrimSpace(experiment.WorkspaceID),
		strings.TrimSpace(experiment.Name),
		strings.TrimSpace(experiment.DatasetID),
		string(experiment.TaskType),
		pipelineJSON,
		normalizeTime(experiment.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert experiment: %w", err)
	}
	return nil
}

func (s *ExperimentStore) Get(ctx context.Context, id string) (domain.Experiment, error) {
	if s == nil || s.db == nil {
		return domain.Experiment{}, fmt.Errorf("experiment store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Experiment{}, fmt.Errorf("experiment id is required")
	}
	var experiment domain.Experiment
	var pipelineJSON []byte
	row := s.db.QueryRowContext(
		ctx,
		`SELECT experiment_id, workspace_id, name, dataset_id, task_type, pipeline, created_at
		 FROM experiments
		 WHERE experiment_id = $1`,
		id,
	)
	if err := row.Scan(&experiment.ID, &experiment.WorkspaceID, &experiment.Name, &experiment.DatasetID,
		&experiment.TaskType, &pipelineJSON, &experiment.CreatedAt); err != nil {
		return domain.Experiment{}, handleNotFound(err)
	}
	pipeline, err := decodePipeline(pipelineJSON)
	if err != nil {
		return domain.Experiment{}, fmt.Errorf("decode pipeline: %w", err)
	}
	experiment.Pipeline = pipeline
	return experiment, nil
}

func (s *ExperimentStore) List(ctx context.Context, workspaceID string) ([]domain.Experiment, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("experiment store not initialized")
	}
	workspaceID = strings.TrimSpace(workspaceID)
	if workspaceID == "" {
		return nil, fmt.Errorf("workspace id is required")
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT experiment_id, workspace_id, name, dataset_id, task_type, pipeline, created_at
		 FROM experiments
		 WHERE workspace_id = $1
		 ORDER BY created_at DESC`,
		workspaceID,
	)
	if err != nil {
		return nil, fmt.Errorf("list experiments: %w", err)
	}
	defer rows.Close()

	experiments := make([]domain.Experiment, 0)
	for rows.Next() {
		var experiment domain.Experiment
		var pipelineJSON []byte
		if err := rows.Scan(&experiment.ID, &experiment.WorkspaceID, &experiment.Name, &experiment.DatasetID,
			&experiment.TaskType, &pipelineJSON, &experiment.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan experiment: %w", err)
		}
		pipeline, err := decodePipeline(pipelineJSON)
		if err != nil {
			return nil, fmt.Errorf("decode pipeline: %w", err)
		}
		experiment.Pipeline = pipeline
		experiments = append(experiments, experiment)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list experiments: %w", err)
	}
	return experiments, nil
}

// SaveDraftPipeline replaces the experiment's editable pipeline. Run
// snapshots are unaffected.
func (s *ExperimentStore) SaveDraftPipeline(ctx context.Context, experimentID string, pipeline domain.Pipeline) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("experiment store not initialized")
	}
	experimentID = strings.TrimSpace(experimentID)
	if experimentID == "" {
		return fmt.Errorf("experiment id is required")
	}
	if err := pipeline.Validate(); err != nil {
		return err
	}
	pipelineJSON, err := encodePipeline(pipeline)
	if err != nil {
		return fmt.Errorf("encode pipeline: %w", err)
	}
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE experiments SET pipeline = $1 WHERE experiment_id = $2`,
		pipelineJSON,
		experimentID,
	)
	if err != nil {
		return fmt.Errorf("update pipeline: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update pipeline: %w", err)
	}
	if rows == 0 {
		return handleNotFound(sql.ErrNoRows)
	}
	return nil
}

func (s *ExperimentStore) CreateHook(ctx context.Context, hook domain.Hook) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("experiment store not initialized")
	}
	if err := hook.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO hooks (
			hook_id,
			experiment_id,
			block_id,
			role,
			source,
			code,
			code_hash,
			file_path,
			created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		strings.TrimSpace(hook.ID),
		strings.TrimSpace(hook.ExperimentID),
		strings.TrimSpace(hook.BlockID),
		string(hook.Role),
		string(hook.Source),
		hook.Code,
		strings.TrimSpace(hook.CodeHash),
		nullIfEmpty(hook.FilePath),
		normalizeTime(hook.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert hook: %w", err)
	}
	return nil
}

// ListHooks returns hooks in registration order. The serial ordinal
// column preserves insertion order across restarts.
func (s *ExperimentStore) ListHooks(ctx context.Context, experimentID string) ([]domain.Hook, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("experiment store not initialized")
	}
	experimentID = strings.TrimSpace(experimentID)
	if experimentID == "" {
		return nil, fmt.Errorf("experiment id is required")
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT hook_id, experiment_id, block_id, role, source, code, code_hash, file_path, created_at
		 FROM hooks
		 WHERE experiment_id = $1
		 ORDER BY ordinal ASC`,
		experimentID,
	)
	if err != nil {
		return nil, fmt.Errorf("list hooks: %w", err)
	}
	defer rows.Close()

	hooks := make([]domain.Hook, 0)
	for rows.Next() {
		var hook domain.Hook
		var filePath sql.NullString
		if err := rows.Scan(&hook.ID, &hook.ExperimentID, &hook.BlockID, &hook.Role, &hook.Source,
			&hook.Code, &hook.CodeHash, &filePath, &hook.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan hook: %w", err)
		}
		if filePath.Valid {
			hook.FilePath = filePath.String
		}
		hooks = append(hooks, hook)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list hooks: %w", err)
	}
	return hooks, nil
}
