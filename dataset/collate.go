package dataset

import (
	"fmt"

	"github.com/geowatch/cropseg/tensor"
)

// Batch is a collated set of samples with the time axis padded to the
// longest series in the batch.
type Batch struct {
	Series  *tensor.Tensor // [B, T, C, H, W] float32
	Target  *tensor.Tensor // [B, H, W] int32
	Lengths []int          // valid (unpadded) frame count per sample
	Dates   [][]int32      // acquisition day offsets per sample
	Patches []string
}

// Size returns the number of samples in the batch.
func (b *Batch) Size() int {
	return len(b.Lengths)
}

// PadCollate stacks samples into batch tensors, padding shorter time series
// with padValue. All samples must share channel count and spatial size.
func PadCollate(samples []*Sample, padValue float32) (*Batch, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("cannot collate an empty batch")
	}

	first := samples[0].Series.Shape
	c, h, w := first[1], first[2], first[3]

	maxT := 0
	for _, s := range samples {
		shape := s.Series.Shape
		if shape[1] != c || shape[2] != h || shape[3] != w {
			return nil, fmt.Errorf("patch %s: shape %v incompatible with batch shape [*,%d,%d,%d]",
				s.Patch, shape, c, h, w)
		}
		if shape[0] > maxT {
			maxT = shape[0]
		}
	}

	b := len(samples)
	series, err := tensor.Full([]int{b, maxT, c, h, w}, padValue)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate batch series: %w", err)
	}
	target, err := tensor.Zeros([]int{b, h, w}, tensor.Int32)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate batch target: %w", err)
	}

	seriesData := series.Data.([]float32)
	targetData := target.Data.([]int32)
	sampleStride := maxT * c * h * w

	batch := &Batch{
		Series:  series,
		Target:  target,
		Lengths: make([]int, b),
		Dates:   make([][]int32, b),
		Patches: make([]string, b),
	}

	for i, s := range samples {
		src, err := s.Series.Float32s()
		if err != nil {
			return nil, err
		}
		copy(seriesData[i*sampleStride:], src)

		mask, err := s.Target.Int32s()
		if err != nil {
			return nil, err
		}
		copy(targetData[i*h*w:(i+1)*h*w], mask)

		batch.Lengths[i] = s.Series.Shape[0]
		batch.Dates[i] = append([]int32(nil), s.Dates...)
		batch.Patches[i] = s.Patch
	}

	return batch, nil
}
