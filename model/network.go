package model

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/geowatch/cropseg/checkpoints"
	"github.com/geowatch/cropseg/dataset"
	"github.com/geowatch/cropseg/tensor"
)

// Canonical parameter names used in checkpoint files.
const (
	encoderConvWeight = "encoder.conv.weight"
	encoderConvBias   = "encoder.conv.bias"
	temporalKeyWeight = "temporal.key.weight"
	temporalQuery     = "temporal.query"
	decoderConvWeight = "decoder.conv.weight"
	decoderConvBias   = "decoder.conv.bias"
	decoderHeadWeight = "decoder.head.weight"
	decoderHeadBias   = "decoder.head.bias"
)

const (
	encoderKernel = 3
	decoderKernel = 3
)

// Network is the concrete segmentation model: weights plus a CPU forward
// pass. Weights are zero until LoadWeights is called.
type Network struct {
	spec      *ModelSpec
	attention bool
	dropout   float64
	training  bool
	rng       *rand.Rand

	inChannels int
	hiddenDim  int
	numClasses int

	encW []float32 // [D, C, 3, 3]
	encB []float32 // [D]

	attnKey   *mat.Dense    // [D, D]
	attnQuery *mat.VecDense // [D]

	decW  []float32 // [D, D, 3, 3]
	decB  []float32 // [D]
	headW []float32 // [K, D, 1, 1]
	headB []float32 // [K]
}

// Spec returns the architecture specification.
func (n *Network) Spec() *ModelSpec {
	return n.spec
}

// TrainableParameters returns the total learnable parameter count.
func (n *Network) TrainableParameters() int64 {
	return n.spec.TotalParameters
}

// Train switches stochastic regularization on.
func (n *Network) Train() {
	n.training = true
}

// Eval switches the network to inference mode, disabling dropout.
func (n *Network) Eval() {
	n.training = false
}

// LoadWeights installs checkpoint weights, validating every name and shape
// against the architecture.
func (n *Network) LoadWeights(weights []checkpoints.WeightTensor) error {
	byName := make(map[string]checkpoints.WeightTensor, len(weights))
	for _, w := range weights {
		if _, dup := byName[w.Name]; dup {
			return fmt.Errorf("duplicate weight %s in checkpoint", w.Name)
		}
		byName[w.Name] = w
	}

	d, c, k := n.hiddenDim, n.inChannels, n.numClasses

	encW, err := take(byName, encoderConvWeight, []int{d, c, encoderKernel, encoderKernel})
	if err != nil {
		return err
	}
	encB, err := take(byName, encoderConvBias, []int{d})
	if err != nil {
		return err
	}
	decW, err := take(byName, decoderConvWeight, []int{d, d, decoderKernel, decoderKernel})
	if err != nil {
		return err
	}
	decB, err := take(byName, decoderConvBias, []int{d})
	if err != nil {
		return err
	}
	headW, err := take(byName, decoderHeadWeight, []int{k, d, 1, 1})
	if err != nil {
		return err
	}
	headB, err := take(byName, decoderHeadBias, []int{k})
	if err != nil {
		return err
	}

	if n.attention {
		keyW, err := take(byName, temporalKeyWeight, []int{d, d})
		if err != nil {
			return err
		}
		query, err := take(byName, temporalQuery, []int{d})
		if err != nil {
			return err
		}
		n.attnKey = mat.NewDense(d, d, toFloat64(keyW))
		n.attnQuery = mat.NewVecDense(d, toFloat64(query))
	}

	n.encW, n.encB = encW, encB
	n.decW, n.decB = decW, decB
	n.headW, n.headB = headW, headB
	return nil
}

func take(byName map[string]checkpoints.WeightTensor, name string, shape []int) ([]float32, error) {
	w, ok := byName[name]
	if !ok {
		return nil, fmt.Errorf("checkpoint is missing weight %s", name)
	}
	if len(w.Shape) != len(shape) {
		return nil, fmt.Errorf("weight %s: expected rank %d, got shape %v", name, len(shape), w.Shape)
	}
	for i, dim := range shape {
		if w.Shape[i] != dim {
			return nil, fmt.Errorf("weight %s: expected shape %v, got %v", name, shape, w.Shape)
		}
	}
	return w.Data, nil
}

func toFloat64(src []float32) []float64 {
	out := make([]float64, len(src))
	for i, v := range src {
		out[i] = float64(v)
	}
	return out
}

// Forward runs an inference pass over a padded batch and returns per-pixel
// class logits of shape [B, K, H, W].
func (n *Network) Forward(batch *dataset.Batch) (*tensor.Tensor, error) {
	if n.encW == nil {
		return nil, fmt.Errorf("model weights not loaded")
	}

	shape := batch.Series.Shape
	b, t, c, h, w := shape[0], shape[1], shape[2], shape[3], shape[4]
	if c != n.inChannels {
		return nil, fmt.Errorf("batch has %d channels, model expects %d", c, n.inChannels)
	}

	series, err := batch.Series.Float32s()
	if err != nil {
		return nil, err
	}

	d := n.hiddenDim
	plane := h * w
	frameSize := c * plane

	logits, err := tensor.Zeros([]int{b, n.numClasses, h, w}, tensor.Float32)
	if err != nil {
		return nil, err
	}
	logitsData := logits.Data.([]float32)

	encoded := make([][]float32, t)
	for i := range encoded {
		encoded[i] = make([]float32, d*plane)
	}
	pooled := make([]float32, d*plane)
	decoded := make([]float32, d*plane)

	for bi := 0; bi < b; bi++ {
		valid := batch.Lengths[bi]
		if valid <= 0 || valid > t {
			return nil, fmt.Errorf("sample %d: invalid frame count %d for padded length %d", bi, valid, t)
		}

		// Shared spatial encoder over the valid frames only; padded
		// frames never reach the encoder.
		for ti := 0; ti < valid; ti++ {
			frame := series[bi*t*frameSize+ti*frameSize:]
			conv2d(frame[:frameSize], c, h, w, n.encW, n.encB, d, encoderKernel, encoded[ti])
			reluInPlace(encoded[ti])
		}

		weights := n.temporalWeights(encoded[:valid], d, h, w)

		for i := range pooled {
			pooled[i] = 0
		}
		for ti := 0; ti < valid; ti++ {
			alpha := float32(weights[ti])
			src := encoded[ti]
			for i := range pooled {
				pooled[i] += alpha * src[i]
			}
		}

		n.applyDropout(pooled)

		conv2d(pooled, d, h, w, n.decW, n.decB, d, decoderKernel, decoded)
		reluInPlace(decoded)
		conv2d(decoded, d, h, w, n.headW, n.headB, n.numClasses, 1, logitsData[bi*n.numClasses*plane:(bi+1)*n.numClasses*plane])
	}

	return logits, nil
}

// temporalWeights returns pooling weights over the valid frames: attention
// scores from a learned query against projected frame descriptors, or a
// uniform mean for the baseline architecture.
func (n *Network) temporalWeights(encoded [][]float32, d, h, w int) []float64 {
	valid := len(encoded)
	weights := make([]float64, valid)

	if !n.attention {
		for i := range weights {
			weights[i] = 1.0 / float64(valid)
		}
		return weights
	}

	scale := math.Sqrt(float64(d))
	projected := mat.NewVecDense(d, nil)
	for ti, frame := range encoded {
		descriptor := mat.NewVecDense(d, spatialMean(frame, d, h, w))
		projected.MulVec(n.attnKey, descriptor)
		weights[ti] = mat.Dot(n.attnQuery, projected) / scale
	}
	softmaxInPlace(weights)
	return weights
}

// applyDropout zeroes feature units during training with rescaling of the
// survivors. Inference mode is a no-op.
func (n *Network) applyDropout(features []float32) {
	if !n.training || n.dropout <= 0 {
		return
	}

	keep := float32(1.0 - n.dropout)
	for i := range features {
		if n.rng.Float64() < n.dropout {
			features[i] = 0
		} else {
			features[i] /= keep
		}
	}
}
