// Package ctxmanager owns the execution-context lifecycle: creation
// (binding a run's seed and dataset reference), validation, and teardown.
package ctxmanager

import (
	"fmt"
	"strings"

	"github.com/butterfly-labs/butterfly-go/internal/domain"
	"github.com/butterfly-labs/butterfly-go/internal/execution/determinism"
)

// Create builds a fresh context for the run: seeds every randomness
// source, stamps run identity, seed, and dataset reference, and records
// creation in the context log. No context is ever reused across runs.
func Create(run *domain.Run, datasetPath string) *domain.ExecutionContext {
	determinism.SeedAll(run.Seed)

	ec := domain.NewExecutionContext(run.ID, run.Seed, datasetPath)
	ec.RNG = determinism.Generator(run.Seed)

	ec.Log(fmt.Sprintf("Execution context created for run %s", run.ID))
	ec.Log(fmt.Sprintf("Global seed set to %d", run.Seed))
	return ec
}

// Validate is a precondition check, not a deep consistency audit: the
// context is usable iff run identity and dataset reference are set.
func Validate(ec *domain.ExecutionContext) bool {
	if ec == nil {
		return false
	}
	if strings.TrimSpace(ec.RunID) == "" {
		return false
	}
	if strings.TrimSpace(ec.DatasetPath) == "" {
		return false
	}
	return true
}

// Destroy clears the large data and model references so they become
// eligible for collection once the run reaches a terminal state.
func Destroy(ec *domain.ExecutionContext) {
	if ec == nil {
		return
	}
	ec.Log(fmt.Sprintf("Execution context destroyed for run %s", ec.RunID))
	ec.RawData = nil
	ec.ProcessedData = nil
	ec.TrainData = nil
	ec.TestData = nil
	ec.CandidateModels = nil
	ec.TrainedModels = nil
	ec.BestModel = nil
}
