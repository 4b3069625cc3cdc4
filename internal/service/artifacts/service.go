// Package artifacts persists run outputs: content goes to object
// storage, the record goes to the artifact repository.
package artifacts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/butterfly-labs/butterfly-go/internal/domain"
	"github.com/butterfly-labs/butterfly-go/internal/repo"
	store "github.com/butterfly-labs/butterfly-go/internal/storage/objectstore"
)

// DownloadResult returns the artifact and a pre-signed download URL.
type DownloadResult struct {
	Artifact    domain.Artifact
	DownloadURL string
}

// Service coordinates artifact persistence and object storage links.
type Service struct {
	repo       repo.ArtifactRepository
	store      store.Store
	bucket     string
	presignTTL time.Duration
	now        func() time.Time
}

func NewService(artifactRepo repo.ArtifactRepository, objStore store.Store, bucket string, presignTTL time.Duration) (*Service, error) {
	if artifactRepo == nil {
		return nil, errors.New("artifact repository is required")
	}
	if objStore == nil {
		return nil, errors.New("object store is required")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("bucket is required")
	}
	if presignTTL <= 0 {
		presignTTL = 10 * time.Minute
	}
	return &Service{
		repo:       artifactRepo,
		store:      objStore,
		bucket:     bucket,
		presignTTL: presignTTL,
		now:        time.Now,
	}, nil
}

// Save uploads the content and registers the artifact record. Used by the
// run executor to persist final run outputs.
func (s *Service) Save(ctx context.Context, runID string, artifactType domain.ArtifactType, name string, content []byte, metadata domain.Metadata) (domain.Artifact, error) {
	if s == nil || s.repo == nil || s.store == nil {
		return domain.Artifact{}, errors.New("artifact service not initialized")
	}
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return domain.Artifact{}, errors.New("run id is required")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Artifact{}, errors.New("artifact name is required")
	}
	if metadata == nil {
		metadata = domain.Metadata{}
	}

	artifactID := uuid.NewString()
	objectKey := fmt.Sprintf("runs/%s/artifacts/%s", runID, name)

	if err := s.store.Put(ctx, s.bucket, objectKey, bytes.NewReader(content), int64(len(content)), "application/json"); err != nil {
		return domain.Artifact{}, fmt.Errorf("upload artifact: %w", err)
	}

	artifact := domain.Artifact{
		ID:        artifactID,
		RunID:     runID,
		Type:      artifactType,
		ObjectKey: objectKey,
		Metadata:  metadata,
		CreatedAt: s.now().UTC(),
	}
	if err := s.repo.Create(ctx, artifact); err != nil {
		return domain.Artifact{}, err
	}
	return artifact, nil
}

func (s *Service) Get(ctx context.Context, artifactID string) (domain.Artifact, error) {
	if s == nil || s.repo == nil {
		return domain.Artifact{}, errors.New("artifact service not initialized")
	}
	artifactID = strings.TrimSpace(artifactID)
	if artifactID == "" {
		return domain.Artifact{}, errors.New("artifact id is required")
	}
	return s.repo.Get(ctx, artifactID)
}

func (s *Service) List(ctx context.Context, filter repo.ArtifactFilter) ([]domain.Artifact, error) {
	if s == nil || s.repo == nil {
		return nil, errors.New("artifact service not initialized")
	}
	return s.repo.List(ctx, filter)
}

// GetDownload resolves the artifact and issues a pre-signed download URL.
func (s *Service) GetDownload(ctx context.Context, artifactID string) (DownloadResult, error) {
	if s == nil || s.repo == nil || s.store == nil {
		return DownloadResult{}, errors.New("artifact service not initialized")
	}
	artifact, err := s.Get(ctx, artifactID)
	if err != nil {
		return DownloadResult{}, err
	}
	if strings.TrimSpace(artifact.ObjectKey) == "" {
		return DownloadResult{}, errors.New("object key is required")
	}
	url, err := s.store.PresignGet(ctx, s.bucket, artifact.ObjectKey, s.presignTTL)
	if err != nil {
		return DownloadResult{}, fmt.Errorf("presign download: %w", err)
	}
	return DownloadResult{Artifact: artifact, DownloadURL: url}, nil
}
