// Package model builds the segmentation network evaluated by the harness:
// a shared per-frame spatial encoder, temporal pooling over the valid frames
// of each series, and a convolutional decoder head producing per-pixel class
// logits.
package model

import (
	"fmt"
	"strings"
)

// LayerType identifies a layer in a model specification.
type LayerType int

const (
	Conv2D LayerType = iota
	ReLU
	TemporalAttention
	TemporalMean
	Dropout
)

func (lt LayerType) String() string {
	switch lt {
	case Conv2D:
		return "Conv2D"
	case ReLU:
		return "ReLU"
	case TemporalAttention:
		return "TemporalAttention"
	case TemporalMean:
		return "TemporalMean"
	case Dropout:
		return "Dropout"
	default:
		return "Unknown"
	}
}

// LayerSpec is pure layer configuration, no execution logic.
type LayerSpec struct {
	Type       LayerType              `json:"type"`
	Name       string                 `json:"name"`
	Parameters map[string]interface{} `json:"parameters"`

	ParameterCount int64 `json:"parameter_count,omitempty"`
}

// ModelSpec describes a complete network as an ordered layer configuration.
type ModelSpec struct {
	Name            string      `json:"name"`
	Layers          []LayerSpec `json:"layers"`
	TotalParameters int64       `json:"total_parameters"`
	InputChannels   int         `json:"input_channels"`
	NumClasses      int         `json:"num_classes"`
}

// SpecBuilder assembles a ModelSpec layer by layer.
type SpecBuilder struct {
	spec ModelSpec
}

// NewSpecBuilder creates a builder for a named architecture.
func NewSpecBuilder(name string, inputChannels, numClasses int) *SpecBuilder {
	return &SpecBuilder{spec: ModelSpec{
		Name:          name,
		InputChannels: inputChannels,
		NumClasses:    numClasses,
	}}
}

// AddConv2D appends a same-padded square convolution.
func (b *SpecBuilder) AddConv2D(inChannels, outChannels, kernelSize int, name string) *SpecBuilder {
	params := int64(outChannels*inChannels*kernelSize*kernelSize + outChannels)
	b.spec.Layers = append(b.spec.Layers, LayerSpec{
		Type: Conv2D,
		Name: name,
		Parameters: map[string]interface{}{
			"input_channels":  inChannels,
			"output_channels": outChannels,
			"kernel_size":     kernelSize,
		},
		ParameterCount: params,
	})
	return b
}

// AddReLU appends a ReLU activation.
func (b *SpecBuilder) AddReLU(name string) *SpecBuilder {
	b.spec.Layers = append(b.spec.Layers, LayerSpec{
		Type:       ReLU,
		Name:       name,
		Parameters: map[string]interface{}{},
	})
	return b
}

// AddTemporalAttention appends masked attention pooling over the time axis.
func (b *SpecBuilder) AddTemporalAttention(dim int, name string) *SpecBuilder {
	b.spec.Layers = append(b.spec.Layers, LayerSpec{
		Type: TemporalAttention,
		Name: name,
		Parameters: map[string]interface{}{
			"dim": dim,
		},
		ParameterCount: int64(dim*dim + dim),
	})
	return b
}

// AddTemporalMean appends masked mean pooling over the time axis.
func (b *SpecBuilder) AddTemporalMean(name string) *SpecBuilder {
	b.spec.Layers = append(b.spec.Layers, LayerSpec{
		Type:       TemporalMean,
		Name:       name,
		Parameters: map[string]interface{}{},
	})
	return b
}

// AddDropout appends a dropout layer, active only in training mode.
func (b *SpecBuilder) AddDropout(rate float64, name string) *SpecBuilder {
	b.spec.Layers = append(b.spec.Layers, LayerSpec{
		Type: Dropout,
		Name: name,
		Parameters: map[string]interface{}{
			"rate": rate,
		},
	})
	return b
}

// Build finalizes the specification and computes the parameter total.
func (b *SpecBuilder) Build() *ModelSpec {
	spec := b.spec
	spec.TotalParameters = 0
	for _, layer := range spec.Layers {
		spec.TotalParameters += layer.ParameterCount
	}
	return &spec
}

// Summary renders the architecture for the startup banner.
func (s *ModelSpec) Summary() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s(\n", s.Name)
	for _, layer := range s.Layers {
		fmt.Fprintf(&sb, "  (%s): %s\n", layer.Name, formatLayer(layer))
	}
	sb.WriteString(")")
	return sb.String()
}

func formatLayer(layer LayerSpec) string {
	switch layer.Type {
	case Conv2D:
		in := layer.Parameters["input_channels"].(int)
		out := layer.Parameters["output_channels"].(int)
		k := layer.Parameters["kernel_size"].(int)
		return fmt.Sprintf("Conv2d(%d, %d, kernel_size=(%d, %d))", in, out, k, k)
	case TemporalAttention:
		dim := layer.Parameters["dim"].(int)
		return fmt.Sprintf("TemporalAttention(dim=%d)", dim)
	case Dropout:
		rate := layer.Parameters["rate"].(float64)
		return fmt.Sprintf("Dropout(p=%.2f)", rate)
	default:
		return fmt.Sprintf("%s()", layer.Type)
	}
}
