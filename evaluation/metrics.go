package evaluation

import (
	"fmt"

	"github.com/geowatch/cropseg/tensor"
)

// ConfusionMatrix accumulates predicted-vs-true label counts over an
// evaluation pass. The ignore class is counted in the matrix but excluded
// from accuracy and mean IoU.
type ConfusionMatrix struct {
	NumClasses   int     `json:"num_classes"`
	IgnoreIndex  int     `json:"ignore_index"`
	Matrix       [][]int `json:"matrix"` // [true_class][predicted_class]
	TotalSamples int     `json:"total_samples"`
}

// NewConfusionMatrix creates an empty matrix.
func NewConfusionMatrix(numClasses, ignoreIndex int) (*ConfusionMatrix, error) {
	if numClasses < 2 {
		return nil, fmt.Errorf("num classes must be at least 2, got %d", numClasses)
	}
	if ignoreIndex < 0 || ignoreIndex >= numClasses {
		return nil, fmt.Errorf("ignore index %d out of range [0, %d)", ignoreIndex, numClasses)
	}

	matrix := make([][]int, numClasses)
	for i := range matrix {
		matrix[i] = make([]int, numClasses)
	}

	return &ConfusionMatrix{
		NumClasses:  numClasses,
		IgnoreIndex: ignoreIndex,
		Matrix:      matrix,
	}, nil
}

// Reset clears all counts.
func (cm *ConfusionMatrix) Reset() {
	for i := range cm.Matrix {
		for j := range cm.Matrix[i] {
			cm.Matrix[i][j] = 0
		}
	}
	cm.TotalSamples = 0
}

// Update accumulates a batch of [B, K, H, W] logits against [B, H, W]
// targets, taking the argmax over the class axis per pixel.
func (cm *ConfusionMatrix) Update(logits, target *tensor.Tensor) error {
	if len(logits.Shape) != 4 || len(target.Shape) != 3 {
		return fmt.Errorf("expected [B,K,H,W] logits and [B,H,W] target, got %v and %v", logits.Shape, target.Shape)
	}

	b, k, h, w := logits.Shape[0], logits.Shape[1], logits.Shape[2], logits.Shape[3]
	if k != cm.NumClasses {
		return fmt.Errorf("logits have %d classes, matrix expects %d", k, cm.NumClasses)
	}

	logitsData, err := logits.Float32s()
	if err != nil {
		return err
	}
	targetData, err := target.Int32s()
	if err != nil {
		return err
	}

	plane := h * w
	for bi := 0; bi < b; bi++ {
		base := bi * k * plane
		for p := 0; p < plane; p++ {
			trueClass := int(targetData[bi*plane+p])
			// same policy as the loss: a label outside the class range is
			// corrupt data, not something to skip
			if trueClass < 0 || trueClass >= cm.NumClasses {
				return fmt.Errorf("target class %d out of range [0, %d)", trueClass, cm.NumClasses)
			}

			predClass := 0
			maxVal := logitsData[base+p]
			for c := 1; c < k; c++ {
				if v := logitsData[base+c*plane+p]; v > maxVal {
					maxVal = v
					predClass = c
				}
			}

			cm.Matrix[trueClass][predClass]++
			cm.TotalSamples++
		}
	}

	return nil
}

// Merge adds another matrix's counts into this one. Both matrices must
// agree on the class count and the ignore class, otherwise the merged
// accuracy and mean IoU would silently exclude the wrong class.
func (cm *ConfusionMatrix) Merge(other *ConfusionMatrix) error {
	if other.NumClasses != cm.NumClasses {
		return fmt.Errorf("cannot merge matrix with %d classes into one with %d", other.NumClasses, cm.NumClasses)
	}
	if other.IgnoreIndex != cm.IgnoreIndex {
		return fmt.Errorf("cannot merge matrix with ignore index %d into one with %d", other.IgnoreIndex, cm.IgnoreIndex)
	}
	for i := range cm.Matrix {
		for j := range cm.Matrix[i] {
			cm.Matrix[i][j] += other.Matrix[i][j]
		}
	}
	cm.TotalSamples += other.TotalSamples
	return nil
}

// OverallAccuracy returns the fraction of correctly classified pixels,
// excluding pixels whose true label is the ignore class.
func (cm *ConfusionMatrix) OverallAccuracy() float64 {
	correct := 0
	total := 0
	for i := range cm.Matrix {
		if i == cm.IgnoreIndex {
			continue
		}
		for j, count := range cm.Matrix[i] {
			total += count
			if i == j {
				correct += count
			}
		}
	}

	if total == 0 {
		return 0
	}
	return float64(correct) / float64(total)
}

// IoUPerClass returns intersection-over-union per class. Classes with no
// presence in either predictions or targets report zero.
func (cm *ConfusionMatrix) IoUPerClass() []float64 {
	ious := make([]float64, cm.NumClasses)
	for c := 0; c < cm.NumClasses; c++ {
		tp := cm.Matrix[c][c]
		fn := 0
		fp := 0
		for j := 0; j < cm.NumClasses; j++ {
			if j != c {
				fn += cm.Matrix[c][j]
				fp += cm.Matrix[j][c]
			}
		}
		union := tp + fn + fp
		if union > 0 {
			ious[c] = float64(tp) / float64(union)
		}
	}
	return ious
}

// MeanIoU averages per-class IoU over every class except the ignore class.
func (cm *ConfusionMatrix) MeanIoU() float64 {
	ious := cm.IoUPerClass()

	var sum float64
	count := 0
	for c, iou := range ious {
		if c == cm.IgnoreIndex {
			continue
		}
		sum += iou
		count++
	}

	if count == 0 {
		return 0
	}
	return sum / float64(count)
}
