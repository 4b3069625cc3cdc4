package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/butterfly-labs/butterfly-go/internal/domain"
	"github.com/butterfly-labs/butterfly-go/internal/repo"
)

type ArtifactStore struct {
	db DB
}

func NewArtifactStore(db DB) *ArtifactStore {
	if db == nil {
		return nil
	}
	return &ArtifactStore{db: db}
}

func (s *ArtifactStore) Create(ctx context.Context, artifact domain.Artifact) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("artifact store not initialized")
	}
	if err := artifact.Validate(); err != nil {
		return err
	}
	metadataJSON, err := encodeMetadata(artifact.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO artifacts (
			artifact_id,
			run_id,
			artifact_type,
			object_key,
			metadata,
			created_at
		) VALUES ($1,$2,$3,$4,$5,$6)`,
		strings.TrimSpace(artifact.ID),
		strings.TrimSpace(artifact.RunID),
		string(artifact.Type),
		nullIfEmpty(artifact.ObjectKey),
		metadataJSON,
		normalizeTime(artifact.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert artifact: %w", err)
	}
	return nil
}

func (s *ArtifactStore) Get(ctx context.Context, id string) (domain.Artifact, error) {
	if s == nil || s.db == nil {
		return domain.Artifact{}, fmt.Errorf("artifact store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Artifact{}, fmt.Errorf("artifact id is required")
	}
	row := s.db.QueryRowContext(
		ctx,
		`SELECT artifact_id, run_id, artifact_type, object_key, metadata, created_at
		 FROM artifacts
		 WHERE artifact_id = $1`,
		id,
	)
	return scanArtifact(row.Scan)
}

func (s *ArtifactStore) List(ctx context.Context, filter repo.ArtifactFilter) ([]domain.Artifact, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("artifact store not initialized")
	}
	clauses := make([]string, 0, 2)
	args := make([]any, 0, 3)

	if strings.TrimSpace(filter.RunID) != "" {
		args = append(args, strings.TrimSpace(filter.RunID))
		clauses = append(clauses, fmt.Sprintf("run_id = $%d", len(args)))
	}
	if strings.TrimSpace(filter.Type) != "" {
		args = append(args, strings.TrimSpace(filter.Type))
		clauses = append(clauses, fmt.Sprintf("artifact_type = $%d", len(args)))
	}

	query := `SELECT artifact_id, run_id, artifact_type, object_key, metadata, created_at FROM artifacts`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at ASC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()

	artifacts := make([]domain.Artifact, 0)
	for rows.Next() {
		artifact, err := scanArtifact(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		artifacts = append(artifacts, artifact)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	return artifacts, nil
}

func scanArtifact(scan func(dest ...any) error) (domain.Artifact, error) {
	var artifact domain.Artifact
	var objectKey sql.NullString
	var metadataJSON []byte
	if err := scan(&artifact.ID, &artifact.RunID, &artifact.Type, &objectKey, &metadataJSON, &artifact.CreatedAt); err != nil {
		return domain.Artifact{}, handleNotFound(err)
	}
	if objectKey.Valid {
		artifact.ObjectKey = objectKey.String
	}
	metadata, err := decodeMetadata(metadataJSON)
	if err != nil {
		return domain.Artifact{}, fmt.Errorf("decode metadata: %w", err)
	}
	artifact.Metadata = metadata
	return artifact, nil
}
