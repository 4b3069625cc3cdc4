package domain

import (
	"errors"
	"strings"
	"time"
)

// Workspace is the top-level container for datasets, experiments, and runs.
type Workspace struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

func (w Workspace) Validate() error {
	if strings.TrimSpace(w.ID) == "" {
		return errors.New("workspace id is required")
	}
	if strings.TrimSpace(w.Name) == "" {
		return errors.New("workspace name is required")
	}
	return nil
}
