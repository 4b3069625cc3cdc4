package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/butterfly-labs/butterfly-go/internal/domain"
)

type DatasetStore struct {
	db DB
}

func NewDatasetStore(db DB) *DatasetStore {
	if db == nil {
		return nil
	}
	return &DatasetStore{db: db}
}

func (s *DatasetStore) Create(ctx context.Context, dataset domain.Dataset) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("dataset store not initialized")
	}
	if err := dataset.Validate(); err != nil {
		return err
	}
	schemaJSON, err := encodeSchema(dataset.Schema)
	if err != nil {
		return fmt.Errorf("encode schema: %w", err)
	}
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO datasets (
			dataset_id,
			workspace_id,
			name,
			object_key,
			schema,
			row_count,
			content_sha256,
			created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		strings.TrimSpace(dataset.ID),
		strings.TrimSpace(dataset.WorkspaceID),
		strings.TrimSpace(dataset.Name),
		nullIfEmpty(dataset.ObjectKey),
		schemaJSON,
		dataset.RowCount,
		strings.TrimSpace(dataset.ContentSHA256),
		normalizeTime(dataset.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert dataset: %w", err)
	}
	return nil
}

func (s *DatasetStore) Get(ctx context.Context, id string) (domain.Dataset, error) {
	if s == nil || s.db == nil {
		return domain.Dataset{}, fmt.Errorf("dataset store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Dataset{}, fmt.Errorf("dataset id is required")
	}
	row := s.db.QueryRowContext(
		ctx,
		`SELECT dataset_id, workspace_id, name, object_key, schema, row_count, content_sha256, created_at
		 FROM datasets
		 WHERE dataset_id = $1`,
		id,
	)
	return scanDataset(row.Scan)
}

func (s *DatasetStore) List(ctx context.Context, workspaceID string) ([]domain.Dataset, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("dataset store not initialized")
	}
	workspaceID = strings.TrimSpace(workspaceID)
	if workspaceID == "" {
		return nil, fmt.Errorf("workspace id is required")
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT dataset_id, workspace_id, name, object_key, schema, row_count, content_sha256, created_at
		 FROM datasets
		 WHERE workspace_id = $1
		 ORDER BY created_at DESC`,
		workspaceID,
	)
	if err != nil {
		return nil, fmt.Errorf("list datasets: %w", err)
	}
	defer rows.Close()

	datasets := make([]domain.Dataset, 0)
	for rows.Next() {
		dataset, err := scanDataset(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan dataset: %w", err)
		}
		datasets = append(datasets, dataset)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list datasets: %w", err)
	}
	return datasets, nil
}

func scanDataset(scan func(dest ...any) error) (domain.Dataset, error) {
	var dataset domain.Dataset
	var objectKey sql.NullString
	var schemaJSON []byte
	if err := scan(&dataset.ID, &dataset.WorkspaceID, &dataset.Name, &objectKey, &schemaJSON,
		&dataset.RowCount, &dataset.ContentSHA256, &dataset.CreatedAt); err != nil {
		return domain.Dataset{}, handleNotFound(err)
	}
	if objectKey.Valid {
		dataset.ObjectKey = objectKey.String
	}
	schema, err := decodeSchema(schemaJSON)
	if err != nil {
		return domain.Dataset{}, fmt.Errorf("decode schema: %w", err)
	}
	dataset.Schema = schema
	return dataset, nil
}

func encodeSchema(schema map[string]string) ([]byte, error) {
	if schema == nil {
		schema = map[string]string{}
	}
	return json.Marshal(schema)
}

func decodeSchema(raw []byte) (map[string]string, error) {
	if len(raw) == 0 {
		return map[string]string{}, nil
	}
	var out map[string]string
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = map[string]string{}
	}
	return out, nil
}
