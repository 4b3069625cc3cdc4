package blocks

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/butterfly-labs/butterfly-go/internal/domain"
)

// Evaluation scores every trained model on the held-out test split and
// picks the best by the task's primary metric (accuracy for
// classification, r2 for regression; higher is better for both).
func Evaluation(ec *domain.ExecutionContext) error {
	if ec.TestData == nil {
		return errors.New("no test data; preprocessing must run first")
	}
	if len(ec.TrainedModels) == 0 {
		return errors.New("no trained models; training must run first")
	}
	ec.Log("Starting evaluation...")

	features, targets, err := featureMatrix(ec.TestData, ec.FeatureNames, ec.TargetColumn)
	if err != nil {
		return fmt.Errorf("prepare evaluation matrix: %w", err)
	}

	primaryMetric := "accuracy"
	if ec.DetectedTask == string(domain.TaskRegression) {
		primaryMetric = "r2"
	}

	allResults := domain.Metadata{}
	var best domain.Model
	var bestMetrics domain.Metadata
	bestScore := math.Inf(-1)

	for _, model := range ec.TrainedModels {
		predictions := make([]float64, len(features))
		for i, row := range features {
			predictions[i] = model.Predict(row)
		}

		var metrics domain.Metadata
		if ec.DetectedTask == string(domain.TaskClassification) {
			metrics = classificationMetrics(predictions, targets)
		} else {
			metrics = regressionMetrics(predictions, targets)
		}
		allResults[model.Name()] = metrics
		ec.Log(fmt.Sprintf("%s: %s=%.4f", model.Name(), primaryMetric, metrics[primaryMetric]))

		if score := metrics[primaryMetric].(float64); score > bestScore {
			bestScore = score
			best = model
			bestMetrics = metrics
		}
	}

	ec.BestModel = best
	ec.Metrics = domain.Metadata{
		"best_model":     best.Name(),
		"best_metrics":   bestMetrics,
		"all_results":    allResults,
		"primary_metric": primaryMetric,
	}

	ec.Log(fmt.Sprintf("Best model: %s (%s=%.4f)", best.Name(), primaryMetric, bestScore))
	ec.Log("Evaluation completed")
	return nil
}

// classificationMetrics computes accuracy plus weighted precision,
// recall, and f1 across classes. Classes are weighted by their support
// in the true labels.
func classificationMetrics(predictions, targets []float64) domain.Metadata {
	total := len(targets)
	correct := 0
	support := make(map[float64]int)
	truePos := make(map[float64]int)
	falsePos := make(map[float64]int)
	falseNeg := make(map[float64]int)

	for i, truth := range targets {
		pred := predictions[i]
		support[truth]++
		if pred == truth {
			correct++
			truePos[truth]++
		} else {
			falsePos[pred]++
			falseNeg[truth]++
		}
	}

	classes := make([]float64, 0, len(support))
	for class := range support {
		classes = append(classes, class)
	}
	sort.Float64s(classes)

	var precision, recall, f1 float64
	for _, class := range classes {
		tp := float64(truePos[class])
		fp := float64(falsePos[class])
		fn := float64(falseNeg[class])

		var p, r float64
		if tp+fp > 0 {
			p = tp / (tp + fp)
		}
		if tp+fn > 0 {
			r = tp / (tp + fn)
		}
		var f float64
		if p+r > 0 {
			f = 2 * p * r / (p + r)
		}

		weight := float64(support[class]) / float64(total)
		precision += weight * p
		recall += weight * r
		f1 += weight * f
	}

	return domain.Metadata{
		"accuracy":  float64(correct) / float64(total),
		"precision": precision,
		"recall":    recall,
		"f1":        f1,
	}
}

// regressionMetrics computes mse, mae, and r2 against the true targets.
func regressionMetrics(predictions, targets []float64) domain.Metadata {
	n := float64(len(targets))

	mean := 0.0
	for _, t := range targets {
		mean += t
	}
	mean /= n

	var sse, sae, sst float64
	for i, truth := range targets {
		diff := predictions[i] - truth
		sse += diff * diff
		sae += math.Abs(diff)
		sst += (truth - mean) * (truth - mean)
	}

	r2 := 0.0
	if sst > 0 {
		r2 = 1 - sse/sst
	}

	return domain.Metadata{
		"mse": sse / n,
		"mae": sae / n,
		"r2":  r2,
	}
}

// Explainability derives per-feature importance from the best model
// when it exposes importances, normalized to sum to one.
func Explainability(ec *domain.ExecutionContext) error {
	if ec.BestModel == nil {
		return errors.New("no best model; evaluation must run first")
	}
	ec.Log("Starting explainability analysis...")

	importer, ok := ec.BestModel.(featureImporter)
	if !ok {
		ec.Log(fmt.Sprintf("Model %s does not expose feature importances", ec.BestModel.Name()))
		ec.Log("Explainability completed")
		return nil
	}

	raw := importer.Importances()
	total := 0.0
	for _, v := range raw {
		total += v
	}

	importance := make(map[string]float64, len(ec.FeatureNames))
	for i, name := range ec.FeatureNames {
		if i >= len(raw) {
			break
		}
		if total > 0 {
			importance[name] = raw[i] / total
		} else {
			importance[name] = 0
		}
	}
	ec.FeatureImportance = importance

	names := make([]string, 0, len(importance))
	for name := range importance {
		names = append(names, name)
	}
	sort.Slice(names, func(a, b int) bool {
		if importance[names[a]] != importance[names[b]] {
			return importance[names[a]] > importance[names[b]]
		}
		return names[a] < names[b]
	})
	for _, name := range names {
		ec.Log(fmt.Sprintf("  %s: %.4f", name, importance[name]))
	}

	ec.Log("Explainability completed")
	return nil
}
