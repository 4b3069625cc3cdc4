package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/butterfly-labs/butterfly-go/internal/domain"
)

type WorkspaceStore struct {
	db DB
}

func NewWorkspaceStore(db DB) *WorkspaceStore {
	if db == nil {
		return nil
	}
	return &WorkspaceStore{db: db}
}

func (s *WorkspaceStore) Create(ctx context.Context, workspace domain.Workspace) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("workspace store not initialized")
	}
	if err := workspace.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO workspaces (workspace_id, name, created_at) VALUES ($1,$2,$3)`,
		strings.TrimSpace(workspace.ID),
		strings.TrimSpace(workspace.Name),
		normalizeTime(workspace.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert workspace: %w", err)
	}
	return nil
}

func (s *WorkspaceStore) Get(ctx context.Context, id string) (domain.Workspace, error) {
	if s == nil || s.db == nil {
		return domain.Workspace{}, fmt.Errorf("workspace store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Workspace{}, fmt.Errorf("workspace id is required")
	}
	var workspace domain.Workspace
	row := s.db.QueryRowContext(
		ctx,
		`SELECT workspace_id, name, created_at FROM workspaces WHERE workspace_id = $1`,
		id,
	)
	if err := row.Scan(&workspace.ID, &workspace.Name, &workspace.CreatedAt); err != nil {
		return domain.Workspace{}, handleNotFound(err)
	}
	return workspace, nil
}

func (s *WorkspaceStore) List(ctx context.Context) ([]domain.Workspace, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("workspace store not initialized")
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT workspace_id, name, created_at FROM workspaces ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list workspaces: %w", err)
	}
	defer rows.Close()

	workspaces := make([]domain.Workspace, 0)
	for rows.Next() {
		var workspace domain.Workspace
		if err := rows.Scan(&workspace.ID, &workspace.Name, &workspace.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan workspace: %w", err)
		}
		workspaces = append(workspaces, workspace)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list workspaces: %w", err)
	}
	return workspaces, nil
}
