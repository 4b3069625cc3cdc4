package main

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/butterfly-labs/butterfly-go/internal/domain"
	"github.com/butterfly-labs/butterfly-go/internal/execution/hookrt"
	"github.com/butterfly-labs/butterfly-go/internal/execution/runexec"
	"github.com/butterfly-labs/butterfly-go/internal/pipelineoverlay"
	"github.com/butterfly-labs/butterfly-go/internal/platform/auditlog"
	"github.com/butterfly-labs/butterfly-go/internal/platform/httpserver"
	"github.com/butterfly-labs/butterfly-go/internal/repo"
	artifactsvc "github.com/butterfly-labs/butterfly-go/internal/service/artifacts"
	storageobjectstore "github.com/butterfly-labs/butterfly-go/internal/storage/objectstore"
	"github.com/butterfly-labs/butterfly-go/internal/tabular"
)

type apiDeps struct {
	workspaces     repo.WorkspaceRepository
	datasets       repo.DatasetRepository
	experiments    repo.ExperimentRepository
	runs           repo.RunRepository
	artifacts      *artifactsvc.Service
	executor       *runexec.Executor
	store          storageobjectstore.Store
	audit          *auditlog.Recorder
	datasetsBucket string
	uploadMaxBytes int64
}

type butterflyAPI struct {
	logger *slog.Logger
	deps   apiDeps
}

func newButterflyAPI(logger *slog.Logger, deps apiDeps) *butterflyAPI {
	if deps.uploadMaxBytes <= 0 {
		deps.uploadMaxBytes = int64(512) << 20
	}
	return &butterflyAPI{logger: logger, deps: deps}
}

func (api *butterflyAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("POST /workspaces", api.handleCreateWorkspace)
	mux.HandleFunc("GET /workspaces", api.handleListWorkspaces)
	mux.HandleFunc("GET /workspaces/{workspace_id}", api.handleGetWorkspace)

	mux.HandleFunc("POST /workspaces/{workspace_id}/datasets/upload", api.handleUploadDataset)
	mux.HandleFunc("GET /workspaces/{workspace_id}/datasets", api.handleListDatasets)
	mux.HandleFunc("GET /datasets/{dataset_id}", api.handleGetDataset)

	mux.HandleFunc("POST /workspaces/{workspace_id}/experiments", api.handleCreateExperiment)
	mux.HandleFunc("GET /workspaces/{workspace_id}/experiments", api.handleListExperiments)
	mux.HandleFunc("GET /experiments/{experiment_id}", api.handleGetExperiment)
	mux.HandleFunc("PUT /experiments/{experiment_id}/pipeline", api.handleUpdatePipeline)

	mux.HandleFunc("POST /experiments/{experiment_id}/hooks", api.handleCreateHook)
	mux.HandleFunc("GET /experiments/{experiment_id}/hooks", api.handleListHooks)

	mux.HandleFunc("POST /experiments/{experiment_id}/runs", api.handleCreateRun)
	mux.HandleFunc("GET /experiments/{experiment_id}/runs", api.handleListRuns)
	mux.HandleFunc("POST /runs/{run_id}/execute", api.handleExecuteRun)
	mux.HandleFunc("GET /runs/{run_id}", api.handleGetRun)
	mux.HandleFunc("GET /runs/{run_id}/logs", api.handleGetRunLogs)
	mux.HandleFunc("GET /runs/{run_id}/artifacts", api.handleListRunArtifacts)
	mux.HandleFunc("GET /artifacts/{artifact_id}/download", api.handleDownloadArtifact)
}

type workspaceResponse struct {
	WorkspaceID string    `json:"workspace_id"`
	Name        string    `json:"name"`
	CreatedAt   time.Time `json:"created_at"`
}

type datasetResponse struct {
	DatasetID     string            `json:"dataset_id"`
	WorkspaceID   string            `json:"workspace_id"`
	Name          string            `json:"name"`
	ObjectKey     string            `json:"object_key"`
	Schema        map[string]string `json:"schema"`
	RowCount      int64             `json:"row_count"`
	ContentSHA256 string            `json:"content_sha256"`
	CreatedAt     time.Time         `json:"created_at"`
}

type experimentResponse struct {
	ExperimentID string          `json:"experiment_id"`
	WorkspaceID  string          `json:"workspace_id"`
	Name         string          `json:"name"`
	DatasetID    string          `json:"dataset_id"`
	TaskType     string          `json:"task_type"`
	Pipeline     pipelineSummary `json:"pipeline"`
	CreatedAt    time.Time       `json:"created_at"`
}

type pipelineSummary struct {
	PipelineID  string         `json:"pipeline_id"`
	VersionHash string         `json:"version_hash"`
	Blocks      []blockSummary `json:"blocks"`
}

type blockSummary struct {
	BlockID  string `json:"block_id"`
	Type     string `json:"type"`
	Position int    `json:"position"`
	Enabled  bool   `json:"enabled"`
	Status   string `json:"status"`
}

type hookResponse struct {
	HookID       string    `json:"hook_id"`
	ExperimentID string    `json:"experiment_id"`
	BlockID      string    `json:"block_id"`
	Role         string    `json:"role"`
	Source       string    `json:"source"`
	CodeHash     string    `json:"code_hash"`
	FilePath     string    `json:"file_path,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

type runResponse struct {
	RunID         string     `json:"run_id"`
	ExperimentID  string     `json:"experiment_id"`
	Status        string     `json:"status"`
	Seed          int64      `json:"seed"`
	DatasetSHA256 string     `json:"dataset_sha256"`
	SnapshotHash  string     `json:"snapshot_hash"`
	CreatedAt     time.Time  `json:"created_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	FailedBlockID string     `json:"failed_block_id,omitempty"`
}

type artifactResponse struct {
	ArtifactID string          `json:"artifact_id"`
	RunID      string          `json:"run_id"`
	Type       string          `json:"type"`
	ObjectKey  string          `json:"object_key"`
	Metadata   json.RawMessage `json:"metadata"`
	CreatedAt  time.Time       `json:"created_at"`
}

func toRunResponse(run domain.Run) runResponse {
	return runResponse{
		RunID:         run.ID,
		ExperimentID:  run.ExperimentID,
		Status:        string(run.Status),
		Seed:          run.Seed,
		DatasetSHA256: run.DatasetSHA256,
		SnapshotHash:  run.PipelineSnapshot.VersionHash,
		CreatedAt:     run.CreatedAt,
		StartedAt:     run.StartedAt,
		CompletedAt:   run.CompletedAt,
		ErrorMessage:  run.ErrorMessage,
		FailedBlockID: run.FailedBlockID,
	}
}

func toPipelineSummary(pipeline domain.Pipeline) pipelineSummary {
	blocks := make([]blockSummary, 0, len(pipeline.Blocks))
	for _, block := range pipeline.OrderedBlocks() {
		blocks = append(blocks, blockSummary{
			BlockID:  block.ID,
			Type:     string(block.Type),
			Position: block.Position,
			Enabled:  block.Enabled,
			Status:   string(block.Status),
		})
	}
	return pipelineSummary{
		PipelineID:  pipeline.ID,
		VersionHash: pipeline.VersionHash,
		Blocks:      blocks,
	}
}

func toExperimentResponse(experiment domain.Experiment) experimentResponse {
	return experimentResponse{
		ExperimentID: experiment.ID,
		WorkspaceID:  experiment.WorkspaceID,
		Name:         experiment.Name,
		DatasetID:    experiment.DatasetID,
		TaskType:     string(experiment.TaskType),
		Pipeline:     toPipelineSummary(experiment.Pipeline),
		CreatedAt:    experiment.CreatedAt,
	}
}

// audit records a mutating operation. Best effort: the recorder logs its
// own failures and the handler response is never affected.
func (api *butterflyAPI) audit(r *http.Request, action, resourceType, resourceID string, payload map[string]any) {
	if api.deps.audit == nil {
		return
	}
	requestID, _ := httpserver.RequestIDFromContext(r.Context())
	actor := strings.TrimSpace(r.Header.Get("X-Actor"))
	if actor == "" {
		actor = "anonymous"
	}
	api.deps.audit.Record(r.Context(), auditlog.Event{
		OccurredAt:   time.Now().UTC(),
		Actor:        actor,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		RequestID:    requestID,
		IP:           requestIP(r.RemoteAddr),
		UserAgent:    r.UserAgent(),
		Payload:      payload,
	})
}

func requestIP(remoteAddr string) net.IP {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	return net.ParseIP(strings.TrimSpace(host))
}

type createWorkspaceRequest struct {
	Name string `json:"name"`
}

func (api *butterflyAPI) handleCreateWorkspace(w http.ResponseWriter, r *http.Request) {
	var req createWorkspaceRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		api.writeError(w, r, http.StatusBadRequest, "name_required")
		return
	}

	workspace := domain.Workspace{
		ID:        uuid.NewString(),
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
	if err := api.deps.workspaces.Create(r.Context(), workspace); err != nil {
		if isUniqueViolation(err) {
			api.writeError(w, r, http.StatusConflict, "workspace_name_exists")
			return
		}
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	api.audit(r, "workspace.create", "workspace", workspace.ID, map[string]any{
		"name": workspace.Name,
	})
	w.Header().Set("Location", "/workspaces/"+workspace.ID)
	api.writeJSON(w, http.StatusCreated, workspaceResponse{
		WorkspaceID: workspace.ID,
		Name:        workspace.Name,
		CreatedAt:   workspace.CreatedAt,
	})
}

func (api *butterflyAPI) handleListWorkspaces(w http.ResponseWriter, r *http.Request) {
	workspaces, err := api.deps.workspaces.List(r.Context())
	if err != nil {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	out := make([]workspaceResponse, 0, len(workspaces))
	for _, workspace := range workspaces {
		out = append(out, workspaceResponse{
			WorkspaceID: workspace.ID,
			Name:        workspace.Name,
			CreatedAt:   workspace.CreatedAt,
		})
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"workspaces": out})
}

func (api *butterflyAPI) handleGetWorkspace(w http.ResponseWriter, r *http.Request) {
	workspaceID := strings.TrimSpace(r.PathValue("workspace_id"))
	if workspaceID == "" {
		api.writeError(w, r, http.StatusBadRequest, "workspace_id_required")
		return
	}
	workspace, err := api.deps.workspaces.Get(r.Context(), workspaceID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			api.writeError(w, r, http.StatusNotFound, "not_found")
			return
		}
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	api.writeJSON(w, http.StatusOK, workspaceResponse{
		WorkspaceID: workspace.ID,
		Name:        workspace.Name,
		CreatedAt:   workspace.CreatedAt,
	})
}

// handleUploadDataset accepts a multipart CSV upload, derives the schema
// and row count, hashes the content, and stores payload plus record.
func (api *butterflyAPI) handleUploadDataset(w http.ResponseWriter, r *http.Request) {
	workspaceID := strings.TrimSpace(r.PathValue("workspace_id"))
	if workspaceID == "" {
		api.writeError(w, r, http.StatusBadRequest, "workspace_id_required")
		return
	}
	if _, err := api.deps.workspaces.Get(r.Context(), workspaceID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			api.writeError(w, r, http.StatusNotFound, "not_found")
			return
		}
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, api.deps.uploadMaxBytes)
	mr, err := r.MultipartReader()
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			api.writeError(w, r, http.StatusRequestEntityTooLarge, "upload_too_large")
			return
		}
		api.writeError(w, r, http.StatusBadRequest, "invalid_multipart")
		return
	}

	var (
		content  []byte
		filename string
		name     string
	)
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				api.writeError(w, r, http.StatusRequestEntityTooLarge, "upload_too_large")
				return
			}
			api.writeError(w, r, http.StatusBadRequest, "invalid_multipart")
			return
		}
		switch part.FormName() {
		case "name":
			raw, err := io.ReadAll(io.LimitReader(part, 4096))
			_ = part.Close()
			if err != nil {
				api.writeError(w, r, http.StatusBadRequest, "invalid_name")
				return
			}
			name = strings.TrimSpace(string(raw))
		case "file":
			if content != nil {
				_ = part.Close()
				api.writeError(w, r, http.StatusBadRequest, "multiple_files_not_supported")
				return
			}
			filename = sanitizeFilename(part.FileName())
			raw, err := io.ReadAll(part)
			_ = part.Close()
			if err != nil {
				var maxErr *http.MaxBytesError
				if errors.As(err, &maxErr) {
					api.writeError(w, r, http.StatusRequestEntityTooLarge, "upload_too_large")
					return
				}
				api.writeError(w, r, http.StatusBadRequest, "invalid_multipart")
				return
			}
			content = raw
		default:
			_ = part.Close()
		}
	}

	if content == nil {
		api.writeError(w, r, http.StatusBadRequest, "file_required")
		return
	}
	if name == "" {
		name = strings.TrimSuffix(filename, path.Ext(filename))
	}
	if name == "" {
		api.writeError(w, r, http.StatusBadRequest, "name_required")
		return
	}

	frame, err := tabular.ReadCSV(bytes.NewReader(content))
	if err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_csv")
		return
	}

	schema := make(map[string]string, len(frame.Columns))
	for _, col := range frame.Columns {
		if frame.IsNumericColumn(col) {
			schema[col] = "numeric"
		} else {
			schema[col] = "categorical"
		}
	}

	sum := sha256.Sum256(content)
	datasetID := uuid.NewString()
	objectKey := fmt.Sprintf("%s/%s/%s", workspaceID, datasetID, filename)

	if err := api.deps.store.Put(r.Context(), api.deps.datasetsBucket, objectKey, bytes.NewReader(content), int64(len(content)), "text/csv"); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "upload_failed")
		return
	}

	dataset := domain.Dataset{
		ID:            datasetID,
		WorkspaceID:   workspaceID,
		Name:          name,
		ObjectKey:     objectKey,
		Schema:        schema,
		RowCount:      int64(frame.NumRows()),
		ContentSHA256: hex.EncodeToString(sum[:]),
		CreatedAt:     time.Now().UTC(),
	}
	if err := api.deps.datasets.Create(r.Context(), dataset); err != nil {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	api.audit(r, "dataset.upload", "dataset", dataset.ID, map[string]any{
		"workspace_id":   workspaceID,
		"name":           dataset.Name,
		"row_count":      dataset.RowCount,
		"content_sha256": dataset.ContentSHA256,
	})
	w.Header().Set("Location", "/datasets/"+dataset.ID)
	api.writeJSON(w, http.StatusCreated, toDatasetResponse(dataset))
}

func toDatasetResponse(dataset domain.Dataset) datasetResponse {
	return datasetResponse{
		DatasetID:     dataset.ID,
		WorkspaceID:   dataset.WorkspaceID,
		Name:          dataset.Name,
		ObjectKey:     dataset.ObjectKey,
		Schema:        dataset.Schema,
		RowCount:      dataset.RowCount,
		ContentSHA256: dataset.ContentSHA256,
		CreatedAt:     dataset.CreatedAt,
	}
}

func (api *butterflyAPI) handleListDatasets(w http.ResponseWriter, r *http.Request) {
	workspaceID := strings.TrimSpace(r.PathValue("workspace_id"))
	if workspaceID == "" {
		api.writeError(w, r, http.StatusBadRequest, "workspace_id_required")
		return
	}
	datasets, err := api.deps.datasets.List(r.Context(), workspaceID)
	if err != nil {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	out := make([]datasetResponse, 0, len(datasets))
	for _, dataset := range datasets {
		out = append(out, toDatasetResponse(dataset))
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"datasets": out})
}

func (api *butterflyAPI) handleGetDataset(w http.ResponseWriter, r *http.Request) {
	datasetID := strings.TrimSpace(r.PathValue("dataset_id"))
	if datasetID == "" {
		api.writeError(w, r, http.StatusBadRequest, "dataset_id_required")
		return
	}
	dataset, err := api.deps.datasets.Get(r.Context(), datasetID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			api.writeError(w, r, http.StatusNotFound, "not_found")
			return
		}
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	api.writeJSON(w, http.StatusOK, toDatasetResponse(dataset))
}

type createExperimentRequest struct {
	Name            string `json:"name"`
	DatasetID       string `json:"dataset_id"`
	TaskType        string `json:"task_type,omitempty"`
	PipelineOverlay string `json:"pipeline_overlay,omitempty"`
}

func (api *butterflyAPI) handleCreateExperiment(w http.ResponseWriter, r *http.Request) {
	workspaceID := strings.TrimSpace(r.PathValue("workspace_id"))
	if workspaceID == "" {
		api.writeError(w, r, http.StatusBadRequest, "workspace_id_required")
		return
	}

	var req createExperimentRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		api.writeError(w, r, http.StatusBadRequest, "name_required")
		return
	}
	datasetID := strings.TrimSpace(req.DatasetID)
	if datasetID == "" {
		api.writeError(w, r, http.StatusBadRequest, "dataset_id_required")
		return
	}
	taskType := domain.TaskType(strings.TrimSpace(req.TaskType))
	if taskType == "" {
		taskType = domain.TaskAutoDetect
	}

	if _, err := api.deps.datasets.Get(r.Context(), datasetID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			api.writeError(w, r, http.StatusNotFound, "dataset_not_found")
			return
		}
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	pipeline := domain.NewPipeline()
	if strings.TrimSpace(req.PipelineOverlay) != "" {
		overlay, err := pipelineoverlay.Parse([]byte(req.PipelineOverlay))
		if err != nil {
			api.writeErrorWithDetails(w, r, http.StatusBadRequest, "invalid_pipeline_overlay", err.Error())
			return
		}
		if err := pipelineoverlay.Apply(&pipeline, overlay); err != nil {
			api.writeErrorWithDetails(w, r, http.StatusBadRequest, "invalid_pipeline_overlay", err.Error())
			return
		}
	}

	experiment := domain.Experiment{
		ID:          uuid.NewString(),
		WorkspaceID: workspaceID,
		Name:        name,
		DatasetID:   datasetID,
		TaskType:    taskType,
		Pipeline:    pipeline,
		CreatedAt:   time.Now().UTC(),
	}
	if err := experiment.Validate(); err != nil {
		api.writeErrorWithDetails(w, r, http.StatusBadRequest, "invalid_experiment", err.Error())
		return
	}
	if err := api.deps.experiments.Create(r.Context(), experiment); err != nil {
		if isUniqueViolation(err) {
			api.writeError(w, r, http.StatusConflict, "experiment_name_exists")
			return
		}
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	api.audit(r, "experiment.create", "experiment", experiment.ID, map[string]any{
		"workspace_id": workspaceID,
		"name":         experiment.Name,
		"dataset_id":   experiment.DatasetID,
		"task_type":    string(experiment.TaskType),
	})
	w.Header().Set("Location", "/experiments/"+experiment.ID)
	api.writeJSON(w, http.StatusCreated, toExperimentResponse(experiment))
}

func (api *butterflyAPI) handleListExperiments(w http.ResponseWriter, r *http.Request) {
	workspaceID := strings.TrimSpace(r.PathValue("workspace_id"))
	if workspaceID == "" {
		api.writeError(w, r, http.StatusBadRequest, "workspace_id_required")
		return
	}
	experiments, err := api.deps.experiments.List(r.Context(), workspaceID)
	if err != nil {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	out := make([]experimentResponse, 0, len(experiments))
	for _, experiment := range experiments {
		out = append(out, toExperimentResponse(experiment))
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"experiments": out})
}

func (api *butterflyAPI) handleGetExperiment(w http.ResponseWriter, r *http.Request) {
	experimentID := strings.TrimSpace(r.PathValue("experiment_id"))
	if experimentID == "" {
		api.writeError(w, r, http.StatusBadRequest, "experiment_id_required")
		return
	}
	experiment, err := api.deps.experiments.Get(r.Context(), experimentID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			api.writeError(w, r, http.StatusNotFound, "not_found")
			return
		}
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	api.writeJSON(w, http.StatusOK, toExperimentResponse(experiment))
}

type updatePipelineRequest struct {
	PipelineOverlay string `json:"pipeline_overlay"`
}

// handleUpdatePipeline applies an overlay to the draft pipeline. Existing
// run snapshots are not touched.
func (api *butterflyAPI) handleUpdatePipeline(w http.ResponseWriter, r *http.Request) {
	experimentID := strings.TrimSpace(r.PathValue("experiment_id"))
	if experimentID == "" {
		api.writeError(w, r, http.StatusBadRequest, "experiment_id_required")
		return
	}

	var req updatePipelineRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	if strings.TrimSpace(req.PipelineOverlay) == "" {
		api.writeError(w, r, http.StatusBadRequest, "pipeline_overlay_required")
		return
	}

	experiment, err := api.deps.experiments.Get(r.Context(), experimentID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			api.writeError(w, r, http.StatusNotFound, "not_found")
			return
		}
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	overlay, err := pipelineoverlay.Parse([]byte(req.PipelineOverlay))
	if err != nil {
		api.writeErrorWithDetails(w, r, http.StatusBadRequest, "invalid_pipeline_overlay", err.Error())
		return
	}
	if err := pipelineoverlay.Apply(&experiment.Pipeline, overlay); err != nil {
		api.writeErrorWithDetails(w, r, http.StatusBadRequest, "invalid_pipeline_overlay", err.Error())
		return
	}
	if err := api.deps.experiments.SaveDraftPipeline(r.Context(), experimentID, experiment.Pipeline); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			api.writeError(w, r, http.StatusNotFound, "not_found")
			return
		}
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	api.audit(r, "experiment.update_pipeline", "experiment", experimentID, map[string]any{
		"version_hash": experiment.Pipeline.VersionHash,
	})
	api.writeJSON(w, http.StatusOK, toPipelineSummary(experiment.Pipeline))
}

type createHookRequest struct {
	BlockID   string `json:"block_id,omitempty"`
	BlockType string `json:"block_type,omitempty"`
	Role      string `json:"role"`
	Code      string `json:"code"`
	FilePath  string `json:"file_path,omitempty"`
}

func (api *butterflyAPI) handleCreateHook(w http.ResponseWriter, r *http.Request) {
	experimentID := strings.TrimSpace(r.PathValue("experiment_id"))
	if experimentID == "" {
		api.writeError(w, r, http.StatusBadRequest, "experiment_id_required")
		return
	}

	var req createHookRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	if strings.TrimSpace(req.Code) == "" {
		api.writeError(w, r, http.StatusBadRequest, "code_required")
		return
	}

	experiment, err := api.deps.experiments.Get(r.Context(), experimentID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			api.writeError(w, r, http.StatusNotFound, "not_found")
			return
		}
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	blockID := strings.TrimSpace(req.BlockID)
	if blockID == "" {
		blockType := domain.BlockType(strings.TrimSpace(req.BlockType))
		block, ok := experiment.Pipeline.BlockByType(blockType)
		if !ok {
			api.writeError(w, r, http.StatusBadRequest, "block_not_found")
			return
		}
		blockID = block.ID
	} else {
		found := false
		for _, block := range experiment.Pipeline.Blocks {
			if block.ID == blockID {
				found = true
				break
			}
		}
		if !found {
			api.writeError(w, r, http.StatusBadRequest, "block_not_found")
			return
		}
	}

	if ok, reason := hookrt.ValidateCode(req.Code); !ok {
		api.writeErrorWithDetails(w, r, http.StatusBadRequest, "invalid_hook_code", reason)
		return
	}

	source := domain.HookInline
	if strings.TrimSpace(req.FilePath) != "" {
		source = domain.HookFile
	}

	hook := domain.Hook{
		ID:           uuid.NewString(),
		ExperimentID: experimentID,
		BlockID:      blockID,
		Role:         domain.HookRole(strings.TrimSpace(req.Role)),
		Source:       source,
		Code:         req.Code,
		CodeHash:     domain.HashCode(req.Code),
		FilePath:     strings.TrimSpace(req.FilePath),
		CreatedAt:    time.Now().UTC(),
	}
	if err := hook.Validate(); err != nil {
		api.writeErrorWithDetails(w, r, http.StatusBadRequest, "invalid_hook", err.Error())
		return
	}
	if err := api.deps.experiments.CreateHook(r.Context(), hook); err != nil {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	api.audit(r, "hook.create", "hook", hook.ID, map[string]any{
		"experiment_id": experimentID,
		"block_id":      hook.BlockID,
		"role":          string(hook.Role),
		"code_hash":     hook.CodeHash,
	})
	api.writeJSON(w, http.StatusCreated, toHookResponse(hook))
}

func toHookResponse(hook domain.Hook) hookResponse {
	return hookResponse{
		HookID:       hook.ID,
		ExperimentID: hook.ExperimentID,
		BlockID:      hook.BlockID,
		Role:         string(hook.Role),
		Source:       string(hook.Source),
		CodeHash:     hook.CodeHash,
		FilePath:     hook.FilePath,
		CreatedAt:    hook.CreatedAt,
	}
}

func (api *butterflyAPI) handleListHooks(w http.ResponseWriter, r *http.Request) {
	experimentID := strings.TrimSpace(r.PathValue("experiment_id"))
	if experimentID == "" {
		api.writeError(w, r, http.StatusBadRequest, "experiment_id_required")
		return
	}
	hooks, err := api.deps.experiments.ListHooks(r.Context(), experimentID)
	if err != nil {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	out := make([]hookResponse, 0, len(hooks))
	for _, hook := range hooks {
		out = append(out, toHookResponse(hook))
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"hooks": out})
}

type createRunRequest struct {
	Seed *int64 `json:"seed,omitempty"`
}

func (api *butterflyAPI) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	experimentID := strings.TrimSpace(r.PathValue("experiment_id"))
	if experimentID == "" {
		api.writeError(w, r, http.StatusBadRequest, "experiment_id_required")
		return
	}

	var req createRunRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			api.writeError(w, r, http.StatusBadRequest, "invalid_json")
			return
		}
	}

	experiment, err := api.deps.experiments.Get(r.Context(), experimentID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			api.writeError(w, r, http.StatusNotFound, "not_found")
			return
		}
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	dataset, err := api.deps.datasets.Get(r.Context(), experiment.DatasetID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			api.writeError(w, r, http.StatusNotFound, "dataset_not_found")
			return
		}
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	run, err := api.deps.executor.CreateRun(r.Context(), experiment, dataset, req.Seed)
	if err != nil {
		api.writeErrorWithDetails(w, r, http.StatusBadRequest, "run_creation_failed", err.Error())
		return
	}

	api.audit(r, "run.create", "run", run.ID, map[string]any{
		"experiment_id":  experimentID,
		"seed":           run.Seed,
		"snapshot_hash":  run.PipelineSnapshot.VersionHash,
		"dataset_sha256": run.DatasetSHA256,
	})
	w.Header().Set("Location", "/runs/"+run.ID)
	api.writeJSON(w, http.StatusCreated, toRunResponse(run))
}

// handleExecuteRun drives the run synchronously to a terminal state and
// returns it.
func (api *butterflyAPI) handleExecuteRun(w http.ResponseWriter, r *http.Request) {
	runID := strings.TrimSpace(r.PathValue("run_id"))
	if runID == "" {
		api.writeError(w, r, http.StatusBadRequest, "run_id_required")
		return
	}

	run, err := api.deps.runs.Get(r.Context(), runID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			api.writeError(w, r, http.StatusNotFound, "not_found")
			return
		}
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	if run.Status != domain.RunCreated {
		api.writeError(w, r, http.StatusConflict, "run_not_executable")
		return
	}

	success, err := api.deps.executor.ExecuteRun(r.Context(), &run)
	if err != nil {
		api.writeErrorWithDetails(w, r, http.StatusConflict, "run_execution_rejected", err.Error())
		return
	}

	api.audit(r, "run.execute", "run", run.ID, map[string]any{
		"status":          string(run.Status),
		"failed_block_id": run.FailedBlockID,
	})
	api.writeJSON(w, http.StatusOK, map[string]any{
		"success": success,
		"run":     toRunResponse(run),
	})
}

func (api *butterflyAPI) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := strings.TrimSpace(r.PathValue("run_id"))
	if runID == "" {
		api.writeError(w, r, http.StatusBadRequest, "run_id_required")
		return
	}
	run, err := api.deps.runs.Get(r.Context(), runID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			api.writeError(w, r, http.StatusNotFound, "not_found")
			return
		}
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	api.writeJSON(w, http.StatusOK, toRunResponse(run))
}

func (api *butterflyAPI) handleListRuns(w http.ResponseWriter, r *http.Request) {
	experimentID := strings.TrimSpace(r.PathValue("experiment_id"))
	if experimentID == "" {
		api.writeError(w, r, http.StatusBadRequest, "experiment_id_required")
		return
	}
	limit := clampInt(parseIntQuery(r, "limit", 100), 1, 500)
	runs, err := api.deps.runs.List(r.Context(), repo.RunFilter{
		ExperimentID: experimentID,
		Status:       strings.TrimSpace(r.URL.Query().Get("status")),
		Limit:        limit,
	})
	if err != nil {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	out := make([]runResponse, 0, len(runs))
	for _, run := range runs {
		out = append(out, toRunResponse(run))
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"runs": out})
}

func (api *butterflyAPI) handleGetRunLogs(w http.ResponseWriter, r *http.Request) {
	runID := strings.TrimSpace(r.PathValue("run_id"))
	if runID == "" {
		api.writeError(w, r, http.StatusBadRequest, "run_id_required")
		return
	}
	if _, err := api.deps.runs.Get(r.Context(), runID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			api.writeError(w, r, http.StatusNotFound, "not_found")
			return
		}
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	lines, err := api.deps.runs.GetLogs(r.Context(), runID)
	if err != nil {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"logs": lines})
}

func (api *butterflyAPI) handleListRunArtifacts(w http.ResponseWriter, r *http.Request) {
	runID := strings.TrimSpace(r.PathValue("run_id"))
	if runID == "" {
		api.writeError(w, r, http.StatusBadRequest, "run_id_required")
		return
	}
	limit := clampInt(parseIntQuery(r, "limit", 100), 1, 500)
	artifacts, err := api.deps.artifacts.List(r.Context(), repo.ArtifactFilter{
		RunID: runID,
		Type:  strings.TrimSpace(r.URL.Query().Get("type")),
		Limit: limit,
	})
	if err != nil {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	out := make([]artifactResponse, 0, len(artifacts))
	for _, artifact := range artifacts {
		metaJSON, _ := json.Marshal(artifact.Metadata)
		out = append(out, artifactResponse{
			ArtifactID: artifact.ID,
			RunID:      artifact.RunID,
			Type:       string(artifact.Type),
			ObjectKey:  artifact.ObjectKey,
			Metadata:   metaJSON,
			CreatedAt:  artifact.CreatedAt,
		})
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"artifacts": out})
}

func (api *butterflyAPI) handleDownloadArtifact(w http.ResponseWriter, r *http.Request) {
	artifactID := strings.TrimSpace(r.PathValue("artifact_id"))
	if artifactID == "" {
		api.writeError(w, r, http.StatusBadRequest, "artifact_id_required")
		return
	}
	result, err := api.deps.artifacts.GetDownload(r.Context(), artifactID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			api.writeError(w, r, http.StatusNotFound, "not_found")
			return
		}
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	api.writeJSON(w, http.StatusOK, map[string]any{
		"artifact_id":  result.Artifact.ID,
		"download_url": result.DownloadURL,
	})
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("multiple JSON values")
	}
	return nil
}

func (api *butterflyAPI) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	_ = enc.Encode(body)
}

func (api *butterflyAPI) writeError(w http.ResponseWriter, r *http.Request, status int, code string) {
	api.writeJSON(w, status, map[string]any{
		"error":      code,
		"request_id": r.Header.Get("X-Request-Id"),
	})
}

func (api *butterflyAPI) writeErrorWithDetails(w http.ResponseWriter, r *http.Request, status int, code string, details any) {
	api.writeJSON(w, status, map[string]any{
		"error":      code,
		"request_id": r.Header.Get("X-Request-Id"),
		"details":    details,
	})
}

func sanitizeFilename(name string) string {
	base := path.Base(strings.TrimSpace(name))
	if base == "" || base == "." || base == "/" {
		return "dataset.csv"
	}
	return base
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func parseIntQuery(r *http.Request, key string, def int) int {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return parsed
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
