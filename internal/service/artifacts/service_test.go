package artifacts

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/butterfly-labs/butterfly-go/internal/domain"
	"github.com/butterfly-labs/butterfly-go/internal/repo"
	store "github.com/butterfly-labs/butterfly-go/internal/storage/objectstore"
)

type fakeArtifactRepo struct {
	artifacts map[string]domain.Artifact
	createErr error
}

func newFakeArtifactRepo() *fakeArtifactRepo {
	return &fakeArtifactRepo{artifacts: map[string]domain.Artifact{}}
}

func (f *fakeArtifactRepo) Create(ctx context.Context, artifact domain.Artifact) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.artifacts[artifact.ID] = artifact
	return nil
}

func (f *fakeArtifactRepo) Get(ctx context.Context, id string) (domain.Artifact, error) {
	artifact, ok := f.artifacts[id]
	if !ok {
		return domain.Artifact{}, repo.ErrNotFound
	}
	return artifact, nil
}

func (f *fakeArtifactRepo) List(ctx context.Context, filter repo.ArtifactFilter) ([]domain.Artifact, error) {
	var out []domain.Artifact
	for _, artifact := range f.artifacts {
		out = append(out, artifact)
	}
	return out, nil
}

type fakeStore struct {
	objects map[string][]byte
	putErr  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: map[string][]byte{}}
}

func (f *fakeStore) Put(ctx context.Context, bucket, key string, body io.Reader, size int64, contentType string) error {
	if f.putErr != nil {
		return f.putErr
	}
	content, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	f.objects[bucket+"/"+key] = content
	return nil
}

func (f *fakeStore) Get(ctx context.Context, bucket, key string) (io.ReadCloser, store.ObjectInfo, error) {
	content, ok := f.objects[bucket+"/"+key]
	if !ok {
		return nil, store.ObjectInfo{}, errors.New("no such object")
	}
	return io.NopCloser(bytes.NewReader(content)), store.ObjectInfo{Key: key, Size: int64(len(content))}, nil
}

func (f *fakeStore) Stat(ctx context.Context, bucket, key string) (store.ObjectInfo, error) {
	content, ok := f.objects[bucket+"/"+key]
	if !ok {
		return store.ObjectInfo{}, errors.New("no such object")
	}
	return store.ObjectInfo{Key: key, Size: int64(len(content))}, nil
}

func (f *fakeStore) Delete(ctx context.Context, bucket, key string) error {
	delete(f.objects, bucket+"/"+key)
	return nil
}

func (f *fakeStore) PresignGet(ctx context.Context, bucket, key string, ttl time.Duration) (string, error) {
	return "https://minio.local/" + bucket + "/" + key + "?ttl=" + ttl.String(), nil
}

func newTestService(t *testing.T) (*Service, *fakeArtifactRepo, *fakeStore) {
	t.Helper()
	artifactRepo := newFakeArtifactRepo()
	objStore := newFakeStore()
	svc, err := NewService(artifactRepo, objStore, "artifacts", time.Minute)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc, artifactRepo, objStore
}

func TestNewServiceValidation(t *testing.T) {
	if _, err := NewService(nil, newFakeStore(), "artifacts", time.Minute); err == nil {
		t.Fatalf("expected error for nil repo")
	}
	if _, err := NewService(newFakeArtifactRepo(), nil, "artifacts", time.Minute); err == nil {
		t.Fatalf("expected error for nil store")
	}
	if _, err := NewService(newFakeArtifactRepo(), newFakeStore(), "  ", time.Minute); err == nil {
		t.Fatalf("expected error for blank bucket")
	}
}

func TestSave(t *testing.T) {
	svc, artifactRepo, objStore := newTestService(t)

	artifact, err := svc.Save(context.Background(), "run-1", domain.ArtifactMetrics, "metrics.json", []byte(`{"accuracy":0.9}`), nil)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if artifact.ObjectKey != "runs/run-1/artifacts/metrics.json" {
		t.Fatalf("object key = %q", artifact.ObjectKey)
	}
	if _, ok := artifactRepo.artifacts[artifact.ID]; !ok {
		t.Fatalf("record not persisted")
	}
	if got := objStore.objects["artifacts/"+artifact.ObjectKey]; string(got) != `{"accuracy":0.9}` {
		t.Fatalf("content not uploaded: %q", got)
	}
}

func TestSaveValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	if _, err := svc.Save(context.Background(), "", domain.ArtifactMetrics, "metrics.json", nil, nil); err == nil {
		t.Fatalf("expected error for blank run id")
	}
	if _, err := svc.Save(context.Background(), "run-1", domain.ArtifactMetrics, " ", nil, nil); err == nil {
		t.Fatalf("expected error for blank name")
	}
}

func TestSaveUploadFailureSkipsRecord(t *testing.T) {
	svc, artifactRepo, objStore := newTestService(t)
	objStore.putErr = errors.New("bucket gone")

	if _, err := svc.Save(context.Background(), "run-1", domain.ArtifactMetrics, "metrics.json", []byte("{}"), nil); err == nil {
		t.Fatalf("expected upload error")
	}
	if len(artifactRepo.artifacts) != 0 {
		t.Fatalf("record persisted despite failed upload")
	}
}

func TestGetDownload(t *testing.T) {
	svc, _, _ := newTestService(t)
	artifact, err := svc.Save(context.Background(), "run-1", domain.ArtifactModel, "model.json", []byte("{}"), nil)
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	result, err := svc.GetDownload(context.Background(), artifact.ID)
	if err != nil {
		t.Fatalf("get download: %v", err)
	}
	if result.Artifact.ID != artifact.ID {
		t.Fatalf("wrong artifact: %+v", result.Artifact)
	}
	if result.DownloadURL == "" {
		t.Fatalf("missing download url")
	}

	if _, err := svc.GetDownload(context.Background(), "missing"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
