package blocks

import (
	"math"
	"strings"
	"testing"

	"github.com/butterfly-labs/butterfly-go/internal/domain"
)

func TestClassificationMetricsPerfect(t *testing.T) {
	targets := []float64{0, 1, 0, 1}
	metrics := classificationMetrics(targets, targets)
	for _, key := range []string{"accuracy", "precision", "recall", "f1"} {
		if got := metrics[key].(float64); got != 1 {
			t.Fatalf("%s = %v, want 1", key, got)
		}
	}
}

func TestClassificationMetricsWeighted(t *testing.T) {
	// One of four predictions wrong.
	predictions := []float64{0, 1, 0, 0}
	targets := []float64{0, 1, 0, 1}
	metrics := classificationMetrics(predictions, targets)
	if got := metrics["accuracy"].(float64); got != 0.75 {
		t.Fatalf("accuracy = %v, want 0.75", got)
	}
	// Class 0: p=2/3 r=1; class 1: p=1 r=1/2; weights 0.5 each.
	wantPrecision := 0.5*(2.0/3.0) + 0.5*1.0
	if got := metrics["precision"].(float64); math.Abs(got-wantPrecision) > 1e-9 {
		t.Fatalf("precision = %v, want %v", got, wantPrecision)
	}
	wantRecall := 0.5*1.0 + 0.5*0.5
	if got := metrics["recall"].(float64); math.Abs(got-wantRecall) > 1e-9 {
		t.Fatalf("recall = %v, want %v", got, wantRecall)
	}
}

func TestRegressionMetrics(t *testing.T) {
	predictions := []float64{1.5, 2.5, 3.5}
	targets := []float64{1, 3, 5}
	metrics := regressionMetrics(predictions, targets)

	wantMSE := (0.25 + 0.25 + 2.25) / 3
	if got := metrics["mse"].(float64); math.Abs(got-wantMSE) > 1e-9 {
		t.Fatalf("mse = %v, want %v", got, wantMSE)
	}
	wantMAE := (0.5 + 0.5 + 1.5) / 3
	if got := metrics["mae"].(float64); math.Abs(got-wantMAE) > 1e-9 {
		t.Fatalf("mae = %v, want %v", got, wantMAE)
	}
	if got := metrics["r2"].(float64); got >= 1 || got <= 0 {
		t.Fatalf("r2 = %v, want in (0, 1)", got)
	}
}

func TestRegressionMetricsConstantTarget(t *testing.T) {
	metrics := regressionMetrics([]float64{2, 2}, []float64{2, 2})
	if got := metrics["r2"].(float64); got != 0 {
		t.Fatalf("r2 for zero-variance target = %v, want 0", got)
	}
}

func TestEvaluationPicksBestModel(t *testing.T) {
	ec := preparedClassificationContext(t, 42)
	if err := ModelSelection(ec); err != nil {
		t.Fatalf("model selection: %v", err)
	}
	if err := Training(ec); err != nil {
		t.Fatalf("training: %v", err)
	}
	if err := Evaluation(ec); err != nil {
		t.Fatalf("evaluation: %v", err)
	}

	if ec.BestModel == nil {
		t.Fatalf("no best model chosen")
	}
	if ec.Metrics["primary_metric"] != "accuracy" {
		t.Fatalf("primary metric = %v, want accuracy", ec.Metrics["primary_metric"])
	}
	if ec.Metrics["best_model"] != ec.BestModel.Name() {
		t.Fatalf("metrics disagree with best model: %v vs %s", ec.Metrics["best_model"], ec.BestModel.Name())
	}
	allResults, ok := ec.Metrics["all_results"].(domain.Metadata)
	if !ok || len(allResults) != 2 {
		t.Fatalf("all_results = %v", ec.Metrics["all_results"])
	}

	best := ec.Metrics["best_metrics"].(domain.Metadata)["accuracy"].(float64)
	for name, raw := range allResults {
		score := raw.(domain.Metadata)["accuracy"].(float64)
		if score > best {
			t.Fatalf("%s scored %v above the chosen best %v", name, score, best)
		}
	}
}

func TestEvaluationRequiresTraining(t *testing.T) {
	ec := preparedClassificationContext(t, 42)
	if err := Evaluation(ec); err == nil {
		t.Fatalf("expected missing trained models error")
	}
}

func TestExplainabilityNormalizesImportances(t *testing.T) {
	ec := contextForRun(42)
	ec.FeatureNames = []string{"a", "b"}
	ec.BestModel = fitCentroidClassifier([][]float64{{0, 0}, {2, 1}}, []float64{0, 1})

	if err := Explainability(ec); err != nil {
		t.Fatalf("explainability: %v", err)
	}
	total := 0.0
	for _, v := range ec.FeatureImportance {
		total += v
	}
	if math.Abs(total-1) > 1e-9 {
		t.Fatalf("importances sum = %v, want 1", total)
	}
	if ec.FeatureImportance["a"] <= ec.FeatureImportance["b"] {
		t.Fatalf("importance ordering wrong: %v", ec.FeatureImportance)
	}
}

func TestExplainabilityWithoutImporter(t *testing.T) {
	ec := contextForRun(42)
	ec.FeatureNames = []string{"a"}
	ec.BestModel = fitMajorityClassifier([]float64{0, 0, 1})

	if err := Explainability(ec); err != nil {
		t.Fatalf("explainability: %v", err)
	}
	if len(ec.FeatureImportance) != 0 {
		t.Fatalf("importances should stay empty: %v", ec.FeatureImportance)
	}
	logs := strings.Join(ec.DrainLogs(), "\n")
	if !strings.Contains(logs, "does not expose feature importances") {
		t.Fatalf("missing log: %q", logs)
	}
}

func TestExplainabilityRequiresBestModel(t *testing.T) {
	ec := contextForRun(42)
	if err := Explainability(ec); err == nil {
		t.Fatalf("expected missing best model error")
	}
}
