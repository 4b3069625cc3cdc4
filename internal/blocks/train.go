package blocks

import (
	"errors"
	"fmt"
	"strings"

	"github.com/butterfly-labs/butterfly-go/internal/domain"
)

// ModelSelection chooses the candidate model families for the resolved
// task.
func ModelSelection(ec *domain.ExecutionContext) error {
	ec.Log("Starting model selection...")

	switch ec.DetectedTask {
	case string(domain.TaskClassification):
		ec.CandidateModels = []domain.ModelSpec{
			{Name: modelMajorityClassifier, Params: domain.Metadata{}},
			{Name: modelCentroidClassifier, Params: domain.Metadata{}},
		}
	case string(domain.TaskRegression):
		ec.CandidateModels = []domain.ModelSpec{
			{Name: modelMeanRegressor, Params: domain.Metadata{}},
			{Name: modelLinearRegression, Params: domain.Metadata{"ridge_lambda": 0.0}},
		}
	default:
		return fmt.Errorf("unknown task type: %s", ec.DetectedTask)
	}

	names := make([]string, len(ec.CandidateModels))
	for i, spec := range ec.CandidateModels {
		names[i] = spec.Name
	}
	ec.Log(fmt.Sprintf("Selected %d candidate models: %s", len(names), strings.Join(names, ", ")))
	ec.Log("Model selection completed")
	return nil
}

var ridgeLambdaGrid = []float64{0.0, 0.01, 0.1, 1.0, 10.0}

// HyperparameterTuning samples candidate hyperparameters with the run's
// seeded generator so repeated runs draw identical settings.
func HyperparameterTuning(ec *domain.ExecutionContext) error {
	if len(ec.CandidateModels) == 0 {
		return errors.New("no candidate models; model selection must run first")
	}
	ec.Log("Starting hyperparameter tuning...")

	for i := range ec.CandidateModels {
		spec := &ec.CandidateModels[i]
		switch spec.Name {
		case modelLinearRegression:
			lambda := ridgeLambdaGrid[ec.RNG.Intn(len(ridgeLambdaGrid))]
			spec.Params["ridge_lambda"] = lambda
			ec.Log(fmt.Sprintf("Tuned %s: ridge_lambda=%g", spec.Name, lambda))
		default:
			ec.Log(fmt.Sprintf("No tunable hyperparameters for %s", spec.Name))
		}
	}

	ec.Log("Hyperparameter tuning completed")
	return nil
}

// Training fits every candidate on the train split. A candidate that
// fails to fit is logged and skipped; the stage fails only when no
// candidate trains.
func Training(ec *domain.ExecutionContext) error {
	if ec.TrainData == nil {
		return errors.New("no training data; preprocessing must run first")
	}
	if len(ec.CandidateModels) == 0 {
		return errors.New("no candidate models; model selection must run first")
	}
	ec.Log("Starting training...")

	features, targets, err := featureMatrix(ec.TrainData, ec.FeatureNames, ec.TargetColumn)
	if err != nil {
		return fmt.Errorf("prepare training matrix: %w", err)
	}

	ec.TrainedModels = ec.TrainedModels[:0]
	for _, spec := range ec.CandidateModels {
		model, err := fitModel(spec, features, targets)
		if err != nil {
			ec.Log(fmt.Sprintf("Training %s failed: %v", spec.Name, err))
			continue
		}
		ec.TrainedModels = append(ec.TrainedModels, model)
		ec.Log(fmt.Sprintf("Trained %s on %d samples", model.Name(), len(features)))
	}

	if len(ec.TrainedModels) == 0 {
		return errors.New("all model training failed")
	}
	ec.Log(fmt.Sprintf("Training completed: %d/%d models trained", len(ec.TrainedModels), len(ec.CandidateModels)))
	return nil
}
