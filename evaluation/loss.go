// Package evaluation runs inference-only passes over held-out folds,
// accumulating loss, accuracy, intersection-over-union and a per-class
// confusion matrix, and persists the per-fold and cross-fold results.
package evaluation

import (
	"fmt"
	"math"

	"github.com/geowatch/cropseg/tensor"
)

// WeightedCrossEntropy computes per-pixel cross entropy over class logits
// with a fixed class weighting. The ignored class carries weight zero and
// therefore never contributes to the loss.
type WeightedCrossEntropy struct {
	weights     []float32
	ignoreIndex int
}

// NewWeightedCrossEntropy builds the criterion with unit weights for every
// class except the ignore index, which is zeroed.
func NewWeightedCrossEntropy(numClasses, ignoreIndex int) (*WeightedCrossEntropy, error) {
	if numClasses < 2 {
		return nil, fmt.Errorf("num classes must be at least 2, got %d", numClasses)
	}
	if ignoreIndex < 0 || ignoreIndex >= numClasses {
		return nil, fmt.Errorf("ignore index %d out of range [0, %d)", ignoreIndex, numClasses)
	}

	weights := make([]float32, numClasses)
	for i := range weights {
		weights[i] = 1
	}
	weights[ignoreIndex] = 0

	return &WeightedCrossEntropy{weights: weights, ignoreIndex: ignoreIndex}, nil
}

// Weights returns a copy of the class weight vector.
func (ce *WeightedCrossEntropy) Weights() []float32 {
	return append([]float32(nil), ce.weights...)
}

// Forward computes the weighted mean cross entropy of [B, K, H, W] logits
// against [B, H, W] integer targets. The mean is taken over the summed
// class weights of the contributing pixels, so zero-weight pixels neither
// add loss nor dilute the normalizer.
func (ce *WeightedCrossEntropy) Forward(logits, target *tensor.Tensor) (float64, error) {
	if len(logits.Shape) != 4 {
		return 0, fmt.Errorf("logits must be [B, K, H, W], got shape %v", logits.Shape)
	}
	if len(target.Shape) != 3 {
		return 0, fmt.Errorf("target must be [B, H, W], got shape %v", target.Shape)
	}

	b, k, h, w := logits.Shape[0], logits.Shape[1], logits.Shape[2], logits.Shape[3]
	if k != len(ce.weights) {
		return 0, fmt.Errorf("logits have %d classes, criterion expects %d", k, len(ce.weights))
	}
	if target.Shape[0] != b || target.Shape[1] != h || target.Shape[2] != w {
		return 0, fmt.Errorf("target shape %v does not match logits shape %v", target.Shape, logits.Shape)
	}

	logitsData, err := logits.Float32s()
	if err != nil {
		return 0, err
	}
	targetData, err := target.Int32s()
	if err != nil {
		return 0, err
	}

	plane := h * w
	var lossSum, weightSum float64

	for bi := 0; bi < b; bi++ {
		base := bi * k * plane
		for p := 0; p < plane; p++ {
			cls := int(targetData[bi*plane+p])
			if cls < 0 || cls >= k {
				return 0, fmt.Errorf("target class %d out of range [0, %d)", cls, k)
			}
			weight := float64(ce.weights[cls])
			if weight == 0 {
				continue
			}

			// log-softmax over the class axis at this pixel
			maxVal := logitsData[base+p]
			for c := 1; c < k; c++ {
				if v := logitsData[base+c*plane+p]; v > maxVal {
					maxVal = v
				}
			}
			var sumExp float64
			for c := 0; c < k; c++ {
				sumExp += math.Exp(float64(logitsData[base+c*plane+p] - maxVal))
			}
			logProb := float64(logitsData[base+cls*plane+p]-maxVal) - math.Log(sumExp)

			lossSum += -weight * logProb
			weightSum += weight
		}
	}

	if weightSum == 0 {
		return 0, nil
	}
	return lossSum / weightSum, nil
}
