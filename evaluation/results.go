package evaluation

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/geowatch/cropseg/dataset"
)

const (
	metricsFileName = "test_metrics.json"
	confMatFileName = "conf_mat.json"
	overallFileName = "overall_performance.json"
)

// OverallPerformance is the cross-fold summary computed from the five
// per-fold confusion matrices.
type OverallPerformance struct {
	Accuracy float64 `json:"overall_accuracy"`
	MeanIoU  float64 `json:"overall_IoU"`
	Folds    int     `json:"folds"`
}

// SaveFoldResults persists one fold's metrics and confusion matrix under
// the fold's weight folder.
func SaveFoldResults(weightFolder string, fold int, metrics Metrics, cm *ConfusionMatrix) error {
	dir := filepath.Join(weightFolder, fmt.Sprintf("Fold_%d", fold))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create results directory: %w", err)
	}

	if err := writeJSON(filepath.Join(dir, metricsFileName), metrics); err != nil {
		return fmt.Errorf("failed to save fold %d metrics: %w", fold, err)
	}
	if err := writeJSON(filepath.Join(dir, confMatFileName), cm); err != nil {
		return fmt.Errorf("failed to save fold %d confusion matrix: %w", fold, err)
	}
	return nil
}

// ComputeOverallPerformance merges the confusion matrices of all folds,
// derives the cross-fold accuracy and mean IoU, and writes the summary to
// the weight folder.
func ComputeOverallPerformance(weightFolder string) (*OverallPerformance, error) {
	var merged *ConfusionMatrix

	for fold := 1; fold <= dataset.NumFolds; fold++ {
		path := filepath.Join(weightFolder, fmt.Sprintf("Fold_%d", fold), confMatFileName)

		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read fold %d confusion matrix: %w", fold, err)
		}

		var cm ConfusionMatrix
		if err := json.Unmarshal(raw, &cm); err != nil {
			return nil, fmt.Errorf("failed to decode fold %d confusion matrix: %w", fold, err)
		}

		if merged == nil {
			merged = &cm
			continue
		}
		if err := merged.Merge(&cm); err != nil {
			return nil, fmt.Errorf("fold %d: %w", fold, err)
		}
	}

	perf := &OverallPerformance{
		Accuracy: merged.OverallAccuracy() * 100,
		MeanIoU:  merged.MeanIoU(),
		Folds:    dataset.NumFolds,
	}

	if err := writeJSON(filepath.Join(weightFolder, overallFileName), perf); err != nil {
		return nil, fmt.Errorf("failed to save overall performance: %w", err)
	}
	return perf, nil
}

func writeJSON(path string, v interface{}) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
