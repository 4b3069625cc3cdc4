// Package runexec orchestrates runs: it creates immutable runs from a
// draft pipeline and dataset, then drives block execution across all
// stages in canonical position order, persisting state transitions and
// logs and assembling final artifacts.
package runexec

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/butterfly-labs/butterfly-go/internal/domain"
	"github.com/butterfly-labs/butterfly-go/internal/execution/blockexec"
	"github.com/butterfly-labs/butterfly-go/internal/execution/ctxmanager"
	"github.com/butterfly-labs/butterfly-go/internal/repo"
)

// ArtifactSink persists one run-scoped output: the content goes to
// artifact storage and a fully-populated artifact record is written.
type ArtifactSink interface {
	Save(ctx context.Context, runID string, artifactType domain.ArtifactType, name string, content []byte, metadata domain.Metadata) (domain.Artifact, error)
}

// Executor is the run orchestrator.
type Executor struct {
	logger      *slog.Logger
	runs        repo.RunRepository
	experiments repo.ExperimentRepository
	datasets    repo.DatasetRepository
	artifacts   ArtifactSink
	registry    *Registry
	blocks      *blockexec.Executor
}

func New(
	logger *slog.Logger,
	runs repo.RunRepository,
	experiments repo.ExperimentRepository,
	datasets repo.DatasetRepository,
	artifacts ArtifactSink,
	registry *Registry,
) *Executor {
	if logger == nil || runs == nil || experiments == nil || datasets == nil || registry == nil {
		return nil
	}
	return &Executor{
		logger:      logger,
		runs:        runs,
		experiments: experiments,
		datasets:    datasets,
		artifacts:   artifacts,
		registry:    registry,
		blocks:      blockexec.New(experiments),
	}
}

// CreateRun snapshots the experiment's draft pipeline, locks the
// dataset's content hash, fixes the seed, and persists the run in created
// state. This is the only place a run is constructed.
func (e *Executor) CreateRun(ctx context.Context, experiment domain.Experiment, dataset domain.Dataset, seed *int64) (domain.Run, error) {
	if err := experiment.Validate(); err != nil {
		return domain.Run{}, fmt.Errorf("invalid experiment: %w", err)
	}
	if err := dataset.Validate(); err != nil {
		return domain.Run{}, fmt.Errorf("invalid dataset: %w", err)
	}

	runSeed := domain.DefaultSeed
	if seed != nil {
		runSeed = *seed
	}

	run := domain.Run{
		ID:               uuid.NewString(),
		ExperimentID:     experiment.ID,
		PipelineSnapshot: experiment.Pipeline.Snapshot(),
		DatasetSHA256:    dataset.ContentSHA256,
		Seed:             runSeed,
		Status:           domain.RunCreated,
		CreatedAt:        time.Now().UTC(),
	}
	if err := e.runs.Create(ctx, run); err != nil {
		return domain.Run{}, fmt.Errorf("persist run: %w", err)
	}
	return run, nil
}

// ExecuteRun drives the run to a terminal, persisted state and reports
// success. The returned error is non-nil only for a programming-contract
// violation (executing a run that is not in created state); every other
// failure is translated into a failed, persisted run and a false result.
func (e *Executor) ExecuteRun(ctx context.Context, run *domain.Run) (bool, error) {
	if run.Status != domain.RunCreated {
		return false, fmt.Errorf("cannot execute run in status %s", run.Status)
	}

	if err := run.Start(); err != nil {
		return false, err
	}
	if err := e.runs.Save(ctx, *run); err != nil {
		return false, fmt.Errorf("persist run start: %w", err)
	}
	e.appendLog(ctx, run.ID, fmt.Sprintf("Run %s started", run.ID))

	experiment, err := e.experiments.Get(ctx, run.ExperimentID)
	if err != nil {
		return e.failRun(ctx, run, "Experiment not found", ""), nil
	}
	dataset, err := e.datasets.Get(ctx, experiment.DatasetID)
	if err != nil {
		return e.failRun(ctx, run, "Dataset not found", ""), nil
	}

	ec := ctxmanager.Create(run, dataset.ObjectKey)
	ec.TaskType = experiment.TaskType
	e.drainLogs(ctx, run.ID, ec)

	outcome := e.runBlockLoop(ctx, run, ec)
	if !outcome.ok {
		return e.failRun(ctx, run, outcome.errMsg, outcome.failedBlockID), nil
	}

	if err := run.Complete(); err != nil {
		return e.failRun(ctx, run, fmt.Sprintf("Run execution failed: %v", err), ""), nil
	}
	if err := e.runs.Save(ctx, *run); err != nil {
		e.logger.Error("persist completed run", "run_id", run.ID, "error", err)
		return false, fmt.Errorf("persist run completion: %w", err)
	}
	e.appendLog(ctx, run.ID, fmt.Sprintf("Run %s completed successfully", run.ID))

	e.saveRunArtifacts(ctx, run, ec)

	ctxmanager.Destroy(ec)
	e.drainLogs(ctx, run.ID, ec)
	return true, nil
}

type blockLoopOutcome struct {
	ok            bool
	errMsg        string
	failedBlockID string
}

// runBlockLoop executes the snapshot's blocks in ascending position
// order. Anything unexpected escaping the loop is caught here once and
// converted into a failed outcome, so the orchestrator always reaches a
// terminal persisted state.
func (e *Executor) runBlockLoop(ctx context.Context, run *domain.Run, ec *domain.ExecutionContext) (outcome blockLoopOutcome) {
	defer func() {
		if r := recover(); r != nil {
			outcome = blockLoopOutcome{
				ok:     false,
				errMsg: fmt.Sprintf("Run execution failed: %v\n%s", r, debug.Stack()),
			}
		}
	}()

	order := make([]int, 0, len(run.PipelineSnapshot.Blocks))
	for i := range run.PipelineSnapshot.Blocks {
		order = append(order, i)
	}
	sort.Slice(order, func(a, b int) bool {
		return run.PipelineSnapshot.Blocks[order[a]].Position < run.PipelineSnapshot.Blocks[order[b]].Position
	})

	for _, idx := range order {
		block := &run.PipelineSnapshot.Blocks[idx]
		system := e.registry.Resolve(block.Type)

		ok, errMsg := e.blocks.ExecuteBlock(ctx, block, ec, system, run.ExperimentID)

		e.drainLogs(ctx, run.ID, ec)

		if !ok {
			if errMsg == "" {
				errMsg = "Unknown error"
			}
			e.appendLog(ctx, run.ID, fmt.Sprintf("Run failed at block %s", block.Type))
			return blockLoopOutcome{ok: false, errMsg: errMsg, failedBlockID: block.ID}
		}
	}
	return blockLoopOutcome{ok: true}
}

// failRun transitions the run to failed and persists it. Always returns
// false for use as the ExecuteRun result.
func (e *Executor) failRun(ctx context.Context, run *domain.Run, message, failedBlockID string) bool {
	if err := run.Fail(message, failedBlockID); err != nil {
		e.logger.Error("fail transition rejected", "run_id", run.ID, "error", err)
		return false
	}
	if err := e.runs.Save(ctx, *run); err != nil {
		e.logger.Error("persist failed run", "run_id", run.ID, "error", err)
	}
	e.appendLog(ctx, run.ID, message)
	return false
}

// saveRunArtifacts extracts metrics, feature importance, and the best
// model from the final context state and hands them to the artifact sink.
// Sink errors are logged against the run but do not fail a completed run.
func (e *Executor) saveRunArtifacts(ctx context.Context, run *domain.Run, ec *domain.ExecutionContext) {
	if e.artifacts == nil {
		return
	}

	if len(ec.Metrics) > 0 {
		content, err := json.MarshalIndent(ec.Metrics, "", "  ")
		if err == nil {
			_, err = e.artifacts.Save(ctx, run.ID, domain.ArtifactMetrics, "metrics.json", content, domain.Metadata{
				"metrics": ec.Metrics,
			})
		}
		if err != nil {
			e.appendLog(ctx, run.ID, fmt.Sprintf("Warning: could not save metrics artifact: %v", err))
		}
	}

	if len(ec.FeatureImportance) > 0 {
		content, err := json.MarshalIndent(ec.FeatureImportance, "", "  ")
		if err == nil {
			_, err = e.artifacts.Save(ctx, run.ID, domain.ArtifactExplainability, "feature_importance.json", content, domain.Metadata{
				"type": "feature_importance",
			})
		}
		if err != nil {
			e.appendLog(ctx, run.ID, fmt.Sprintf("Warning: could not save feature importance artifact: %v", err))
		}
	}

	if ec.BestModel != nil {
		doc := domain.Metadata{
			"name":   ec.BestModel.Name(),
			"params": ec.BestModel.Params(),
		}
		content, err := json.MarshalIndent(doc, "", "  ")
		if err == nil {
			_, err = e.artifacts.Save(ctx, run.ID, domain.ArtifactModel, "model.json", content, domain.Metadata{
				"model_type": ec.BestModel.Name(),
			})
		}
		if err != nil {
			e.appendLog(ctx, run.ID, fmt.Sprintf("Warning: could not save model artifact: %v", err))
		}
	}
}

// drainLogs moves buffered context log lines into durable run logs.
func (e *Executor) drainLogs(ctx context.Context, runID string, ec *domain.ExecutionContext) {
	for _, line := range ec.DrainLogs() {
		e.appendLog(ctx, runID, line)
	}
}

func (e *Executor) appendLog(ctx context.Context, runID, line string) {
	if err := e.runs.AppendLog(ctx, runID, line); err != nil {
		e.logger.Error("append run log", "run_id", runID, "error", err)
	}
}
