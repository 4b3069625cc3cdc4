package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/butterfly-labs/butterfly-go/internal/domain"
	"github.com/butterfly-labs/butterfly-go/internal/repo"
)

type RunStore struct {
	db DB
}

func NewRunStore(db DB) *RunStore {
	if db == nil {
		return nil
	}
	return &RunStore{db: db}
}

func (s *RunStore) Create(ctx context.Context, run domain.Run) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("run store not initialized")
	}
	if err := run.Validate(); err != nil {
		return err
	}
	snapshotJSON, err := encodePipeline(run.PipelineSnapshot)
	if err != nil {
		return fmt.Errorf("encode pipeline snapshot: %w", err)
	}
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO runs (
			run_id,
			experiment_id,
			pipeline_snapshot,
			dataset_sha256,
			seed,
			status,
			created_at,
			started_at,
			completed_at,
			error_message,
			failed_block_id
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		strings.TrimSpace(run.ID),
		strings.TrimSpace(run.ExperimentID),
		snapshotJSON,
		strings.TrimSpace(run.DatasetSHA256),
		run.Seed,
		string(run.Status),
		normalizeTime(run.CreatedAt),
		nullableTime(run.StartedAt),
		nullableTime(run.CompletedAt),
		nullIfEmpty(run.ErrorMessage),
		nullIfEmpty(run.FailedBlockID),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// Save persists run mutations. The status guard in the WHERE clause keeps
// terminal runs immutable at the storage layer regardless of caller
// behavior.
func (s *RunStore) Save(ctx context.Context, run domain.Run) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("run store not initialized")
	}
	if err := run.Validate(); err != nil {
		return err
	}
	snapshotJSON, err := encodePipeline(run.PipelineSnapshot)
	if err != nil {
		return fmt.Errorf("encode pipeline snapshot: %w", err)
	}
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE runs SET
			pipeline_snapshot = $1,
			status = $2,
			started_at = $3,
			completed_at = $4,
			error_message = $5,
			failed_block_id = $6
		 WHERE run_id = $7 AND status NOT IN ('completed', 'failed')`,
		snapshotJSON,
		string(run.Status),
		nullableTime(run.StartedAt),
		nullableTime(run.CompletedAt),
		nullIfEmpty(run.ErrorMessage),
		nullIfEmpty(run.FailedBlockID),
		strings.TrimSpace(run.ID),
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if rows == 0 {
		if _, err := s.Get(ctx, run.ID); err != nil {
			return err
		}
		return repo.ErrRunImmutable
	}
	return nil
}

func (s *RunStore) Get(ctx context.Context, id string) (domain.Run, error) {
	if s == nil || s.db == nil {
		return domain.Run{}, fmt.Errorf("run store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Run{}, fmt.Errorf("run id is required")
	}
	row := s.db.QueryRowContext(
		ctx,
		`SELECT run_id, experiment_id, pipeline_snapshot, dataset_sha256, seed, status,
			created_at, started_at, completed_at, error_message, failed_block_id
		 FROM runs
		 WHERE run_id = $1`,
		id,
	)
	return scanRun(row.Scan)
}

func (s *RunStore) List(ctx context.Context, filter repo.RunFilter) ([]domain.Run, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("run store not initialized")
	}
	clauses := make([]string, 0, 2)
	args := make([]any, 0, 3)

	if strings.TrimSpace(filter.ExperimentID) != "" {
		args = append(args, strings.TrimSpace(filter.ExperimentID))
		clauses = append(clauses, fmt.Sprintf("experiment_id = $%d", len(args)))
	}
	if strings.TrimSpace(filter.Status) != "" {
		args = append(args, strings.TrimSpace(filter.Status))
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}

	query := `SELECT run_id, experiment_id, pipeline_snapshot, dataset_sha256, seed, status,
		created_at, started_at, completed_at, error_message, failed_block_id
		FROM runs`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := make([]domain.Run, 0)
	for rows.Next() {
		run, err := scanRun(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

func (s *RunStore) AppendLog(ctx context.Context, runID, line string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("run store not initialized")
	}
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return fmt.Errorf("run id is required")
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO run_logs (run_id, line, created_at) VALUES ($1,$2,$3)`,
		runID,
		line,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert run log: %w", err)
	}
	return nil
}

func (s *RunStore) GetLogs(ctx context.Context, runID string) ([]string, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("run store not initialized")
	}
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return nil, fmt.Errorf("run id is required")
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT line FROM run_logs WHERE run_id = $1 ORDER BY ordinal ASC`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("get run logs: %w", err)
	}
	defer rows.Close()

	lines := make([]string, 0)
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return nil, fmt.Errorf("scan run log: %w", err)
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get run logs: %w", err)
	}
	return lines, nil
}

func scanRun(scan func(dest ...any) error) (domain.Run, error) {
	var run domain.Run
	var snapshotJSON []byte
	var startedAt, completedAt sql.NullTime
	var errorMessage, failedBlockID sql.NullString
	if err := scan(&run.ID, &run.ExperimentID, &snapshotJSON, &run.DatasetSHA256, &run.Seed, &run.Status,
		&run.CreatedAt, &startedAt, &completedAt, &errorMessage, &failedBlockID); err != nil {
		return domain.Run{}, handleNotFound(err)
	}
	snapshot, err := decodePipeline(snapshotJSON)
	if err != nil {
		return domain.Run{}, fmt.Errorf("decode pipeline snapshot: %w", err)
	}
	run.PipelineSnapshot = snapshot
	if startedAt.Valid {
		started := startedAt.Time.UTC()
		run.StartedAt = &started
	}
	if completedAt.Valid {
		completed := completedAt.Time.UTC()
		run.CompletedAt = &completed
	}
	if errorMessage.Valid {
		run.ErrorMessage = errorMessage.String
	}
	if failedBlockID.Valid {
		run.FailedBlockID = failedBlockID.String
	}
	return run, nil
}

func nullableTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
