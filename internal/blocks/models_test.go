package blocks

import (
	"math"
	"testing"

	"github.com/butterfly-labs/butterfly-go/internal/domain"
)

func TestFitMajorityClassifier(t *testing.T) {
	m := fitMajorityClassifier([]float64{0, 1, 1, 1, 0})
	if got := m.Predict([]float64{9, 9}); got != 1 {
		t.Fatalf("majority = %v, want 1", got)
	}

	// Ties resolve to the smaller class.
	tied := fitMajorityClassifier([]float64{0, 1, 0, 1})
	if got := tied.Predict(nil); got != 0 {
		t.Fatalf("tie-break = %v, want 0", got)
	}
}

func TestFitCentroidClassifier(t *testing.T) {
	features := [][]float64{
		{0, 0}, {0.2, -0.1}, {0.1, 0.1},
		{5, 5}, {4.8, 5.2}, {5.1, 4.9},
	}
	targets := []float64{0, 0, 0, 1, 1, 1}
	m := fitCentroidClassifier(features, targets)

	if got := m.Predict([]float64{0.1, 0}); got != 0 {
		t.Fatalf("near-origin point = %v, want class 0", got)
	}
	if got := m.Predict([]float64{5, 5.1}); got != 1 {
		t.Fatalf("far point = %v, want class 1", got)
	}

	importances := m.Importances()
	if len(importances) != 2 {
		t.Fatalf("importances = %v", importances)
	}
	for i, v := range importances {
		if v <= 0 {
			t.Fatalf("feature %d has non-positive spread %v", i, v)
		}
	}
}

func TestFitMeanRegressor(t *testing.T) {
	m := fitMeanRegressor([]float64{1, 2, 3, 4})
	if got := m.Predict([]float64{100}); got != 2.5 {
		t.Fatalf("mean = %v, want 2.5", got)
	}
}

func TestFitLinearRegressionExact(t *testing.T) {
	// y = 2x + 1, no noise: an unregularized fit recovers the line.
	features := [][]float64{{0}, {1}, {2}, {3}}
	targets := []float64{1, 3, 5, 7}

	m, err := fitLinearRegression(features, targets, 0)
	if err != nil {
		t.Fatalf("fit: %v", err)
	}
	if math.Abs(m.intercept-1) > 1e-9 {
		t.Fatalf("intercept = %v, want 1", m.intercept)
	}
	if math.Abs(m.weights[0]-2) > 1e-9 {
		t.Fatalf("weight = %v, want 2", m.weights[0])
	}
	if got := m.Predict([]float64{10}); math.Abs(got-21) > 1e-9 {
		t.Fatalf("predict(10) = %v, want 21", got)
	}

	importances := m.Importances()
	if len(importances) != 1 || math.Abs(importances[0]-2) > 1e-9 {
		t.Fatalf("importances = %v", importances)
	}
}

func TestFitLinearRegressionRidgeShrinks(t *testing.T) {
	features := [][]float64{{0}, {1}, {2}, {3}}
	targets := []float64{1, 3, 5, 7}

	plain, err := fitLinearRegression(features, targets, 0)
	if err != nil {
		t.Fatalf("fit: %v", err)
	}
	ridged, err := fitLinearRegression(features, targets, 10)
	if err != nil {
		t.Fatalf("ridge fit: %v", err)
	}
	if math.Abs(ridged.weights[0]) >= math.Abs(plain.weights[0]) {
		t.Fatalf("ridge did not shrink the weight: %v vs %v", ridged.weights[0], plain.weights[0])
	}
}

func TestFitLinearRegressionSingular(t *testing.T) {
	// A constant feature column makes the system singular without
	// regularization.
	features := [][]float64{{1, 1}, {1, 1}, {1, 1}}
	targets := []float64{1, 2, 3}
	if _, err := fitLinearRegression(features, targets, 0); err == nil {
		t.Fatalf("expected singular system error")
	}
}

func TestFitModelDispatch(t *testing.T) {
	features := [][]float64{{0}, {1}}
	targets := []float64{0, 1}

	model, err := fitModel(domain.ModelSpec{Name: modelMajorityClassifier}, features, targets)
	if err != nil || model.Name() != modelMajorityClassifier {
		t.Fatalf("dispatch majority: %v %v", model, err)
	}

	if _, err := fitModel(domain.ModelSpec{Name: "gradient_boosting"}, features, targets); err == nil {
		t.Fatalf("expected unknown family error")
	}
	if _, err := fitModel(domain.ModelSpec{Name: modelMeanRegressor}, nil, nil); err == nil {
		t.Fatalf("expected empty data error")
	}
}
