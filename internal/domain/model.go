package domain

// Model is a trained predictor produced by the training stage. Concrete
// models live in internal/blocks; the engine only moves them between
// stages and serializes their descriptions into artifacts.
type Model interface {
	// Name identifies the model family (e.g. "centroid_classifier").
	Name() string
	// Predict maps a feature vector to a prediction. For classifiers the
	// result is a class index encoded as a float.
	Predict(features []float64) float64
	// Params describes the fitted model for artifact packaging.
	Params() Metadata
}

// ModelSpec is a candidate model before training: a family name plus the
// hyperparameters chosen for it.
type ModelSpec struct {
	Name   string
	Params Metadata
}
