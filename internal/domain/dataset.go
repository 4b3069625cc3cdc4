package domain

import (
	"errors"
	"strings"
	"time"
)

// Dataset is a versioned input data source. The content hash uniquely
// identifies the imported payload and is what runs lock at creation time.
type Dataset struct {
	ID            string
	WorkspaceID   string
	Name          string
	ObjectKey     string
	Schema        map[string]string
	RowCount      int64
	ContentSHA256 string
	CreatedAt     time.Time
}

func (d Dataset) Validate() error {
	if strings.TrimSpace(d.ID) == "" {
		return errors.New("dataset id is required")
	}
	if strings.TrimSpace(d.WorkspaceID) == "" {
		return errors.New("workspace id is required")
	}
	if strings.TrimSpace(d.Name) == "" {
		return errors.New("dataset name is required")
	}
	if strings.TrimSpace(d.ContentSHA256) == "" {
		return errors.New("content sha256 is required")
	}
	return nil
}
