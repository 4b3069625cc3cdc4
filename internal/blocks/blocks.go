// Package blocks provides the system implementations for the ten
// canonical pipeline stages. Each implementation mutates the execution
// context and returns an error on failure; the block executor contains
// failures at the block boundary.
package blocks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/butterfly-labs/butterfly-go/internal/domain"
	"github.com/butterfly-labs/butterfly-go/internal/execution/runexec"
	"github.com/butterfly-labs/butterfly-go/internal/tabular"
)

// DataSource fetches a dataset payload by its storage key.
type DataSource interface {
	Fetch(ctx context.Context, key string) (io.ReadCloser, error)
}

// RegisterAll binds every canonical stage to the registry.
func RegisterAll(registry *runexec.Registry, source DataSource) {
	registry.Register(domain.BlockDataIngestion, DataIngestion(source))
	registry.Register(domain.BlockTaskResolution, TaskResolution)
	registry.Register(domain.BlockPreprocessing, Preprocessing)
	registry.Register(domain.BlockFeatureEngineering, FeatureEngineering)
	registry.Register(domain.BlockModelSelection, ModelSelection)
	registry.Register(domain.BlockHyperparameterTuning, HyperparameterTuning)
	registry.Register(domain.BlockTraining, Training)
	registry.Register(domain.BlockEvaluation, Evaluation)
	registry.Register(domain.BlockExplainability, Explainability)
	registry.Register(domain.BlockOutputPackaging, OutputPackaging)
}

// DataIngestion loads the dataset payload into the context as a frame.
func DataIngestion(source DataSource) func(*domain.ExecutionContext) error {
	return func(ec *domain.ExecutionContext) error {
		ec.Log(fmt.Sprintf("Loading dataset from %s", ec.DatasetPath))

		body, err := source.Fetch(context.Background(), ec.DatasetPath)
		if err != nil {
			return fmt.Errorf("fetch dataset: %w", err)
		}
		defer func() { _ = body.Close() }()

		frame, err := tabular.ReadCSV(body)
		if err != nil {
			return err
		}
		if frame.NumRows() == 0 {
			return errors.New("dataset is empty")
		}
		ec.RawData = frame

		ec.Log(fmt.Sprintf("Loaded %d rows, %d columns", frame.NumRows(), len(frame.Columns)))
		ec.Log(fmt.Sprintf("Columns: %s", strings.Join(frame.Columns, ", ")))
		ec.Log("Data ingestion completed")
		return nil
	}
}

// Task detection treats a target as categorical when its distinct values
// are few relative to the row count.
const (
	maxClassCount      = 20
	maxClassRowRatio   = 0.5
	defaultTestHoldout = 0.2
)

// TaskResolution determines the ML task (classification vs regression)
// and resolves the target column and feature names.
func TaskResolution(ec *domain.ExecutionContext) error {
	frame := ec.RawData
	if frame == nil {
		return errors.New("no raw data available; data ingestion must run first")
	}
	if len(frame.Columns) < 2 {
		return errors.New("dataset needs at least one feature and one target column")
	}

	if ec.TaskType == domain.TaskAutoDetect {
		ec.Log("Auto-detecting task type...")

		// Last column as target, by convention.
		target := frame.Columns[len(frame.Columns)-1]
		ec.TargetColumn = target

		unique, err := frame.UniqueCount(target)
		if err != nil {
			return err
		}
		total := frame.NumRows()

		if !frame.IsNumericColumn(target) || (unique < maxClassCount && float64(unique)/float64(total) < maxClassRowRatio) {
			ec.DetectedTask = string(domain.TaskClassification)
			ec.Log(fmt.Sprintf("Detected classification task (target: %s, %d classes)", target, unique))
		} else {
			ec.DetectedTask = string(domain.TaskRegression)
			ec.Log(fmt.Sprintf("Detected regression task (target: %s)", target))
		}
	} else {
		ec.DetectedTask = string(ec.TaskType)
		ec.Log(fmt.Sprintf("Using manual task type: %s", ec.TaskType))

		if ec.TargetColumn == "" {
			ec.TargetColumn = frame.Columns[len(frame.Columns)-1]
			ec.Log(fmt.Sprintf("Using last column as target: %s", ec.TargetColumn))
		}
	}

	ec.FeatureNames = ec.FeatureNames[:0]
	for _, col := range frame.Columns {
		if col != ec.TargetColumn {
			ec.FeatureNames = append(ec.FeatureNames, col)
		}
	}
	ec.Log(fmt.Sprintf("Features: %s", strings.Join(ec.FeatureNames, ", ")))
	ec.Log("Task resolution completed")
	return nil
}

// FeatureEngineering keeps all preprocessed features. Advanced feature
// work is the province of hooks.
func FeatureEngineering(ec *domain.ExecutionContext) error {
	ec.Log("Starting feature engineering...")
	ec.Log(fmt.Sprintf("Using %d features", len(ec.FeatureNames)))
	ec.Log("Feature engineering completed (using all preprocessed features)")
	return nil
}

// OutputPackaging records the run summary into context metadata.
func OutputPackaging(ec *domain.ExecutionContext) error {
	ec.Log("Starting output packaging...")

	bestModel := "N/A"
	if name, ok := ec.Metrics["best_model"].(string); ok {
		bestModel = name
	}

	ec.Log("=== Run Summary ===")
	ec.Log(fmt.Sprintf("Task: %s", ec.DetectedTask))
	ec.Log(fmt.Sprintf("Dataset: %s", ec.DatasetPath))
	ec.Log(fmt.Sprintf("Features: %d", len(ec.FeatureNames)))
	ec.Log(fmt.Sprintf("Best Model: %s", bestModel))

	ec.Metadata["summary"] = domain.Metadata{
		"task":          ec.DetectedTask,
		"dataset":       ec.DatasetPath,
		"feature_count": len(ec.FeatureNames),
		"best_model":    bestModel,
	}

	ec.Log("Output packaging completed")
	return nil
}
