package blocks

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/butterfly-labs/butterfly-go/internal/domain"
	"github.com/butterfly-labs/butterfly-go/internal/tabular"
)

// Preprocessing drops rows with missing cells, label-encodes categorical
// columns, standardizes features, and splits train/test with the run's
// seeded generator.
func Preprocessing(ec *domain.ExecutionContext) error {
	if ec.RawData == nil {
		return errors.New("no raw data available; data ingestion must run first")
	}
	if ec.TargetColumn == "" {
		return errors.New("target column not resolved; task resolution must run first")
	}
	ec.Log("Starting preprocessing...")

	frame := ec.RawData.Clone()

	dropped := dropIncompleteRows(frame)
	if dropped > 0 {
		ec.Log(fmt.Sprintf("Dropped %d rows with missing values, %d rows remaining", dropped, frame.NumRows()))
	}
	if frame.NumRows() < 2 {
		return errors.New("not enough complete rows to train and test")
	}

	for _, col := range ec.FeatureNames {
		if frame.IsNumericColumn(col) {
			continue
		}
		classes := encodeColumn(frame, col)
		ec.Log(fmt.Sprintf("Encoded categorical column %s (%d levels)", col, len(classes)))
	}

	if ec.DetectedTask == string(domain.TaskClassification) && !frame.IsNumericColumn(ec.TargetColumn) {
		classes := encodeColumn(frame, ec.TargetColumn)
		ec.Metadata["target_classes"] = classes
		ec.Log(fmt.Sprintf("Encoded target column, classes: %s", strings.Join(classes, ", ")))
	}

	for _, col := range ec.FeatureNames {
		if err := standardizeColumn(frame, col); err != nil {
			return fmt.Errorf("standardize %s: %w", col, err)
		}
	}
	ec.Log("Features scaled to zero mean and unit variance")

	train, test := frame.Split(ec.RNG, defaultTestHoldout)
	ec.Log(fmt.Sprintf("Train/test split: %d train, %d test", train.NumRows(), test.NumRows()))

	ec.ProcessedData = frame
	ec.TrainData = train
	ec.TestData = test

	ec.Log("Preprocessing completed")
	return nil
}

func dropIncompleteRows(frame *tabular.Frame) int {
	kept := frame.Rows[:0]
	dropped := 0
	for _, row := range frame.Rows {
		complete := len(row) == len(frame.Columns)
		for _, cell := range row {
			if strings.TrimSpace(cell) == "" {
				complete = false
				break
			}
		}
		if complete {
			kept = append(kept, row)
		} else {
			dropped++
		}
	}
	frame.Rows = kept
	return dropped
}

// encodeColumn replaces each value with the index of that value in the
// sorted set of distinct values. Sorting keeps the encoding independent
// of row order.
func encodeColumn(frame *tabular.Frame, name string) []string {
	idx := frame.ColumnIndex(name)
	if idx < 0 {
		return nil
	}
	seen := map[string]struct{}{}
	for _, row := range frame.Rows {
		seen[strings.TrimSpace(row[idx])] = struct{}{}
	}
	classes := make([]string, 0, len(seen))
	for v := range seen {
		classes = append(classes, v)
	}
	sort.Strings(classes)

	codes := make(map[string]int, len(classes))
	for i, v := range classes {
		codes[v] = i
	}
	for _, row := range frame.Rows {
		row[idx] = strconv.Itoa(codes[strings.TrimSpace(row[idx])])
	}
	return classes
}

func standardizeColumn(frame *tabular.Frame, name string) error {
	values, err := frame.NumericColumn(name)
	if err != nil {
		return err
	}
	if len(values) == 0 {
		return nil
	}

	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	variance := 0.0
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(values))
	std := math.Sqrt(variance)
	if std == 0 {
		std = 1
	}

	idx := frame.ColumnIndex(name)
	for i, row := range frame.Rows {
		row[idx] = strconv.FormatFloat((values[i]-mean)/std, 'g', -1, 64)
	}
	return nil
}

// featureMatrix extracts the numeric feature matrix and target vector
// from a preprocessed frame.
func featureMatrix(frame *tabular.Frame, featureNames []string, target string) ([][]float64, []float64, error) {
	cols := make([][]float64, len(featureNames))
	for i, name := range featureNames {
		values, err := frame.NumericColumn(name)
		if err != nil {
			return nil, nil, err
		}
		cols[i] = values
	}
	y, err := frame.NumericColumn(target)
	if err != nil {
		return nil, nil, err
	}

	rows := make([][]float64, frame.NumRows())
	for r := range rows {
		row := make([]float64, len(featureNames))
		for c := range featureNames {
			row[c] = cols[c][r]
		}
		rows[r] = row
	}
	return rows, y, nil
}
