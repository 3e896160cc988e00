// Package checkpoints loads and saves serialized model weights. Weights are
// stored one file per cross-validation fold, following the Fold_<k>/
// folder naming convention of the training pipeline.
package checkpoints

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// WeightFileName is the checkpoint file inside each fold folder.
const WeightFileName = "model.json"

// Checkpoint is a complete serialized model state.
type Checkpoint struct {
	Weights  []WeightTensor     `json:"weights"`
	Metadata CheckpointMetadata `json:"metadata"`
}

// WeightTensor is one named model parameter with its data.
type WeightTensor struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

// NumElements returns the element count implied by the declared shape.
func (w *WeightTensor) NumElements() int {
	n := 1
	for _, dim := range w.Shape {
		n *= dim
	}
	return n
}

// Validate checks that the data length matches the declared shape.
func (w *WeightTensor) Validate() error {
	if len(w.Shape) == 0 {
		return fmt.Errorf("weight %s has no shape", w.Name)
	}
	for i, dim := range w.Shape {
		if dim <= 0 {
			return fmt.Errorf("weight %s: dimension %d has size %d, must be positive", w.Name, i, dim)
		}
	}
	if len(w.Data) != w.NumElements() {
		return fmt.Errorf("weight %s: data length %d does not match shape %v", w.Name, len(w.Data), w.Shape)
	}
	return nil
}

// CheckpointMetadata carries provenance information.
type CheckpointMetadata struct {
	Version   string    `json:"version"`
	Framework string    `json:"framework"`
	CreatedAt time.Time `json:"created_at"`
	Fold      int       `json:"fold,omitempty"`
}

// FoldPath returns the checkpoint path for a 1-based fold under the weight
// folder.
func FoldPath(weightFolder string, fold int) string {
	return filepath.Join(weightFolder, fmt.Sprintf("Fold_%d", fold), WeightFileName)
}

// LoadFold reads and validates the checkpoint of one fold. A missing file
// for a requested fold is fatal to the run.
func LoadFold(weightFolder string, fold int) (*Checkpoint, error) {
	return Load(FoldPath(weightFolder, fold))
}

// Load reads a checkpoint file.
func Load(path string) (*Checkpoint, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint file: %w", err)
	}
	defer file.Close()

	var checkpoint Checkpoint
	if err := json.NewDecoder(file).Decode(&checkpoint); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint %s: %w", path, err)
	}

	for i := range checkpoint.Weights {
		if err := checkpoint.Weights[i].Validate(); err != nil {
			return nil, fmt.Errorf("invalid checkpoint %s: %w", path, err)
		}
	}

	return &checkpoint, nil
}

// Save writes a checkpoint file, creating parent directories as needed.
func Save(checkpoint *Checkpoint, path string) error {
	if checkpoint.Metadata.Framework == "" {
		checkpoint.Metadata.Framework = "cropseg"
		checkpoint.Metadata.Version = "1.0.0"
		checkpoint.Metadata.CreatedAt = time.Now()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create checkpoint directory: %w", err)
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create checkpoint file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(checkpoint); err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}

	return nil
}
