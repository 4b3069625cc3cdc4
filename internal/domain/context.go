package domain

import (
	"math/rand"

	"github.com/butterfly-labs/butterfly-go/internal/tabular"
)

// ExecutionContext is the single mutable value threaded through one run's
// block sequence. It is created once per run by the context manager,
// mutated in place by every stage and hook of that run, and torn down when
// the run reaches a terminal state. Two runs never share a context.
//
// One run executes its blocks on a single goroutine, so no locking guards
// these fields.
type ExecutionContext struct {
	RunID       string
	Seed        int64
	RNG         *rand.Rand
	DatasetPath string

	RawData       *tabular.Frame
	ProcessedData *tabular.Frame
	TrainData     *tabular.Frame
	TestData      *tabular.Frame

	FeatureNames []string
	TargetColumn string

	TaskType     TaskType
	DetectedTask string

	CandidateModels []ModelSpec
	TrainedModels   []Model
	BestModel       Model

	Metrics           Metadata
	FeatureImportance map[string]float64
	Metadata          Metadata

	logs            []string
	completedBlocks []string
	currentBlock    string
}

// NewExecutionContext constructs an empty context for the given run
// identity. Callers normally go through the context manager instead.
func NewExecutionContext(runID string, seed int64, datasetPath string) *ExecutionContext {
	return &ExecutionContext{
		RunID:             runID,
		Seed:              seed,
		DatasetPath:       datasetPath,
		TaskType:          TaskAutoDetect,
		Metrics:           Metadata{},
		FeatureImportance: map[string]float64{},
		Metadata:          Metadata{},
	}
}

// Log appends a message to the context's log buffer.
func (ec *ExecutionContext) Log(message string) {
	ec.logs = append(ec.logs, message)
}

// DrainLogs returns the buffered log lines and clears the buffer. The run
// executor drains after every block so logs are not held unbounded.
func (ec *ExecutionContext) DrainLogs() []string {
	drained := ec.logs
	ec.logs = nil
	return drained
}

// SetCurrentBlock records the block about to execute.
func (ec *ExecutionContext) SetCurrentBlock(blockID string) {
	ec.currentBlock = blockID
}

// CurrentBlock returns the identifier of the block currently executing.
func (ec *ExecutionContext) CurrentBlock() string {
	return ec.currentBlock
}

// MarkBlockComplete records the block as completed and clears the current
// block marker.
func (ec *ExecutionContext) MarkBlockComplete(blockID string) {
	for _, id := range ec.completedBlocks {
		if id == blockID {
			ec.currentBlock = ""
			return
		}
	}
	ec.completedBlocks = append(ec.completedBlocks, blockID)
	ec.currentBlock = ""
}

// CompletedBlocks returns the identifiers of completed blocks in order.
func (ec *ExecutionContext) CompletedBlocks() []string {
	return append([]string(nil), ec.completedBlocks...)
}

// BlockCompleted reports whether the block has been recorded as complete.
func (ec *ExecutionContext) BlockCompleted(blockID string) bool {
	for _, id := range ec.completedBlocks {
		if id == blockID {
			return true
		}
	}
	return false
}
