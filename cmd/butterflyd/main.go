package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/butterfly-labs/butterfly-go/internal/blocks"
	"github.com/butterfly-labs/butterfly-go/internal/execution/runexec"
	"github.com/butterfly-labs/butterfly-go/internal/platform/auditlog"
	"github.com/butterfly-labs/butterfly-go/internal/platform/env"
	"github.com/butterfly-labs/butterfly-go/internal/platform/httpserver"
	"github.com/butterfly-labs/butterfly-go/internal/platform/objectstore"
	"github.com/butterfly-labs/butterfly-go/internal/platform/postgres"
	repopg "github.com/butterfly-labs/butterfly-go/internal/repo/postgres"
	artifactsvc "github.com/butterfly-labs/butterfly-go/internal/service/artifacts"
	storageobjectstore "github.com/butterfly-labs/butterfly-go/internal/storage/objectstore"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx := context.Background()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := env.String("BUTTERFLYD_HTTP_ADDR", ":8080")
	shutdownTimeout, err := env.Duration("BUTTERFLYD_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}

	dbCfg, err := postgres.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid database config", "error", err)
		os.Exit(2)
	}
	db, err := postgres.Open(ctx, dbCfg)
	if err != nil {
		logger.Error("database unavailable", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	storeCfg, err := objectstore.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid object store config", "error", err)
		os.Exit(2)
	}
	storeClient, err := objectstore.NewMinIOClient(storeCfg)
	if err != nil {
		logger.Error("object store client init failed", "error", err)
		os.Exit(2)
	}
	startupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := objectstore.EnsureBuckets(startupCtx, storeClient, storeCfg); err != nil {
		cancel()
		logger.Error("object store unavailable", "error", err)
		os.Exit(1)
	}
	cancel()

	uploadMaxMiB, err := env.Int("BUTTERFLYD_UPLOAD_MAX_MIB", 512)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	presignTTL, err := env.Duration("BUTTERFLYD_ARTIFACT_PRESIGN_TTL", 10*time.Minute)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}

	workspaceStore := repopg.NewWorkspaceStore(db)
	datasetStore := repopg.NewDatasetStore(db)
	experimentStore := repopg.NewExperimentStore(db)
	runStore := repopg.NewRunStore(db)
	artifactStore := repopg.NewArtifactStore(db)

	objStore, err := storageobjectstore.NewMinioStoreWithClient(storeClient)
	if err != nil {
		logger.Error("object store init failed", "error", err)
		os.Exit(2)
	}
	artifactService, err := artifactsvc.NewService(artifactStore, objStore, storeCfg.BucketArtifacts, presignTTL)
	if err != nil {
		logger.Error("artifact service init failed", "error", err)
		os.Exit(2)
	}

	registry := runexec.NewRegistry()
	blocks.RegisterAll(registry, &bucketSource{store: objStore, bucket: storeCfg.BucketDatasets})

	executor := runexec.New(logger, runStore, experimentStore, datasetStore, artifactService, registry)
	if executor == nil {
		logger.Error("run executor init failed")
		os.Exit(2)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", httpserver.Healthz("butterflyd"))
	mux.HandleFunc(
		"/readyz",
		httpserver.ReadyzWithChecks(
			"butterflyd",
			httpserver.ReadinessCheck{
				Name: "postgres",
				Check: func(ctx context.Context) error {
					checkCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
					defer cancel()
					return db.PingContext(checkCtx)
				},
			},
			httpserver.ReadinessCheck{
				Name: "minio",
				Check: func(ctx context.Context) error {
					checkCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
					defer cancel()
					return objectstore.CheckBuckets(checkCtx, storeClient, storeCfg)
				},
			},
		),
	)

	api := newButterflyAPI(logger, apiDeps{
		workspaces:     workspaceStore,
		datasets:       datasetStore,
		experiments:    experimentStore,
		runs:           runStore,
		artifacts:      artifactService,
		executor:       executor,
		store:          objStore,
		audit:          auditlog.NewRecorder(db, logger),
		datasetsBucket: storeCfg.BucketDatasets,
		uploadMaxBytes: int64(uploadMaxMiB) << 20,
	})
	api.register(mux)

	cfg := httpserver.Config{
		Service:         "butterflyd",
		Addr:            addr,
		ShutdownTimeout: shutdownTimeout,
	}

	if err := httpserver.Run(ctx, logger, cfg, httpserver.Wrap(logger, "butterflyd", mux)); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

// bucketSource adapts the object store to the dataset source consumed by
// the data ingestion stage.
type bucketSource struct {
	store  storageobjectstore.Store
	bucket string
}

func (s *bucketSource) Fetch(ctx context.Context, key string) (io.ReadCloser, error) {
	body, _, err := s.store.Get(ctx, s.bucket, key)
	if err != nil {
		return nil, err
	}
	return body, nil
}
