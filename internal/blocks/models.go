package blocks

import (
	"errors"
	"fmt"
	"math"

	"github.com/butterfly-labs/butterfly-go/internal/domain"
)

// Model family names used by model selection and tuning.
const (
	modelMajorityClassifier = "majority_classifier"
	modelCentroidClassifier = "centroid_classifier"
	modelMeanRegressor      = "mean_regressor"
	modelLinearRegression   = "linear_regression"
)

// featureImporter is implemented by models that can attribute their
// predictions to input features.
type featureImporter interface {
	Importances() []float64
}

func fitModel(spec domain.ModelSpec, features [][]float64, targets []float64) (domain.Model, error) {
	if len(features) == 0 || len(features) != len(targets) {
		return nil, errors.New("training data is empty or misaligned")
	}
	switch spec.Name {
	case modelMajorityClassifier:
		return fitMajorityClassifier(targets), nil
	case modelCentroidClassifier:
		return fitCentroidClassifier(features, targets), nil
	case modelMeanRegressor:
		return fitMeanRegressor(targets), nil
	case modelLinearRegression:
		lambda := 0.0
		if v, ok := spec.Params["ridge_lambda"].(float64); ok {
			lambda = v
		}
		return fitLinearRegression(features, targets, lambda)
	default:
		return nil, fmt.Errorf("unknown model family %q", spec.Name)
	}
}

// majorityClassifier predicts the most frequent training class.
type majorityClassifier struct {
	class  float64
	counts map[float64]int
}

func fitMajorityClassifier(targets []float64) *majorityClassifier {
	counts := make(map[float64]int)
	for _, t := range targets {
		counts[t]++
	}
	best := targets[0]
	for class, n := range counts {
		if n > counts[best] || (n == counts[best] && class < best) {
			best = class
		}
	}
	return &majorityClassifier{class: best, counts: counts}
}

func (m *majorityClassifier) Name() string { return modelMajorityClassifier }

func (m *majorityClassifier) Predict([]float64) float64 { return m.class }

func (m *majorityClassifier) Params() domain.Metadata {
	return domain.Metadata{"class": m.class, "class_count": len(m.counts)}
}

// centroidClassifier predicts the class whose training centroid is
// nearest in Euclidean distance.
type centroidClassifier struct {
	classes   []float64
	centroids [][]float64
}

func fitCentroidClassifier(features [][]float64, targets []float64) *centroidClassifier {
	sums := make(map[float64][]float64)
	counts := make(map[float64]int)
	for i, row := range features {
		class := targets[i]
		if sums[class] == nil {
			sums[class] = make([]float64, len(row))
		}
		for j, v := range row {
			sums[class][j] += v
		}
		counts[class]++
	}

	classes := make([]float64, 0, len(sums))
	for class := range sums {
		classes = append(classes, class)
	}
	// Stable class order for deterministic tie-breaks.
	for i := 0; i < len(classes); i++ {
		for j := i + 1; j < len(classes); j++ {
			if classes[j] < classes[i] {
				classes[i], classes[j] = classes[j], classes[i]
			}
		}
	}

	centroids := make([][]float64, len(classes))
	for i, class := range classes {
		centroid := make([]float64, len(sums[class]))
		for j, sum := range sums[class] {
			centroid[j] = sum / float64(counts[class])
		}
		centroids[i] = centroid
	}
	return &centroidClassifier{classes: classes, centroids: centroids}
}

func (m *centroidClassifier) Name() string { return modelCentroidClassifier }

func (m *centroidClassifier) Predict(features []float64) float64 {
	bestClass := m.classes[0]
	bestDist := math.Inf(1)
	for i, centroid := range m.centroids {
		dist := 0.0
		for j := range centroid {
			if j >= len(features) {
				break
			}
			d := features[j] - centroid[j]
			dist += d * d
		}
		if dist < bestDist {
			bestDist = dist
			bestClass = m.classes[i]
		}
	}
	return bestClass
}

func (m *centroidClassifier) Params() domain.Metadata {
	return domain.Metadata{"classes": len(m.classes)}
}

// Importances measure how far class centroids spread per feature: a
// feature along which centroids differ carries discriminative weight.
func (m *centroidClassifier) Importances() []float64 {
	if len(m.centroids) == 0 {
		return nil
	}
	dims := len(m.centroids[0])
	importances := make([]float64, dims)
	for j := 0; j < dims; j++ {
		lo, hi := math.Inf(1), math.Inf(-1)
		for _, centroid := range m.centroids {
			lo = math.Min(lo, centroid[j])
			hi = math.Max(hi, centroid[j])
		}
		importances[j] = hi - lo
	}
	return importances
}

// meanRegressor predicts the training mean.
type meanRegressor struct {
	mean float64
}

func fitMeanRegressor(targets []float64) *meanRegressor {
	sum := 0.0
	for _, t := range targets {
		sum += t
	}
	return &meanRegressor{mean: sum / float64(len(targets))}
}

func (m *meanRegressor) Name() string { return modelMeanRegressor }

func (m *meanRegressor) Predict([]float64) float64 { return m.mean }

func (m *meanRegressor) Params() domain.Metadata {
	return domain.Metadata{"mean": m.mean}
}

// linearRegression is a ridge-regularized least-squares fit solved via
// the normal equations.
type linearRegression struct {
	intercept float64
	weights   []float64
	lambda    float64
}

func fitLinearRegression(features [][]float64, targets []float64, lambda float64) (*linearRegression, error) {
	n := len(features)
	dims := len(features[0])

	// Augment with a bias column; the bias is not regularized.
	size := dims + 1
	gram := make([][]float64, size)
	for i := range gram {
		gram[i] = make([]float64, size+1)
	}
	for r := 0; r < n; r++ {
		row := make([]float64, size)
		row[0] = 1
		copy(row[1:], features[r])
		for i := 0; i < size; i++ {
			for j := 0; j < size; j++ {
				gram[i][j] += row[i] * row[j]
			}
			gram[i][size] += row[i] * targets[r]
		}
	}
	for i := 1; i < size; i++ {
		gram[i][i] += lambda
	}

	solution, err := solveLinearSystem(gram)
	if err != nil {
		return nil, err
	}
	return &linearRegression{intercept: solution[0], weights: solution[1:], lambda: lambda}, nil
}

func (m *linearRegression) Name() string { return modelLinearRegression }

func (m *linearRegression) Predict(features []float64) float64 {
	out := m.intercept
	for i, w := range m.weights {
		if i >= len(features) {
			break
		}
		out += w * features[i]
	}
	return out
}

func (m *linearRegression) Params() domain.Metadata {
	return domain.Metadata{
		"intercept":    m.intercept,
		"weights":      append([]float64(nil), m.weights...),
		"ridge_lambda": m.lambda,
	}
}

func (m *linearRegression) Importances() []float64 {
	importances := make([]float64, len(m.weights))
	for i, w := range m.weights {
		importances[i] = math.Abs(w)
	}
	return importances
}

// solveLinearSystem performs Gaussian elimination with partial pivoting
// on an augmented matrix [A|b].
func solveLinearSystem(augmented [][]float64) ([]float64, error) {
	size := len(augmented)
	for col := 0; col < size; col++ {
		pivot := col
		for r := col + 1; r < size; r++ {
			if math.Abs(augmented[r][col]) > math.Abs(augmented[pivot][col]) {
				pivot = r
			}
		}
		if math.Abs(augmented[pivot][col]) < 1e-12 {
			return nil, errors.New("linear system is singular")
		}
		augmented[col], augmented[pivot] = augmented[pivot], augmented[col]

		for r := col + 1; r < size; r++ {
			factor := augmented[r][col] / augmented[col][col]
			for c := col; c <= size; c++ {
				augmented[r][c] -= factor * augmented[col][c]
			}
		}
	}

	solution := make([]float64, size)
	for r := size - 1; r >= 0; r-- {
		sum := augmented[r][size]
		for c := r + 1; c < size; c++ {
			sum -= augmented[r][c] * solution[c]
		}
		solution[r] = sum / augmented[r][r]
	}
	return solution, nil
}
