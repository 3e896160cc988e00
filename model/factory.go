package model

import (
	"fmt"
	"math/rand"

	"github.com/geowatch/cropseg/config"
)

// Architecture names accepted in the run configuration.
const (
	ArchUTAE = "utae" // temporal attention pooling
	ArchMean = "mean" // masked temporal mean baseline
)

// FromConfig constructs the network described by the run configuration.
// Weights are uninitialized until LoadWeights installs a fold checkpoint.
func FromConfig(cfg *config.Config) (*Network, error) {
	hidden := cfg.HiddenDim
	if hidden <= 0 {
		hidden = 64
	}

	attention := false
	switch cfg.Model {
	case ArchUTAE:
		attention = true
	case ArchMean:
	default:
		return nil, fmt.Errorf("unknown model architecture %q", cfg.Model)
	}

	builder := NewSpecBuilder(cfg.Model, cfg.InChannels, cfg.NumClasses).
		AddConv2D(cfg.InChannels, hidden, encoderKernel, "encoder_conv").
		AddReLU("encoder_relu")

	if attention {
		builder.AddTemporalAttention(hidden, "temporal_attention")
	} else {
		builder.AddTemporalMean("temporal_mean")
	}

	if cfg.Dropout > 0 {
		builder.AddDropout(cfg.Dropout, "dropout")
	}

	spec := builder.
		AddConv2D(hidden, hidden, decoderKernel, "decoder_conv").
		AddReLU("decoder_relu").
		AddConv2D(hidden, cfg.NumClasses, 1, "decoder_head").
		Build()

	return &Network{
		spec:       spec,
		attention:  attention,
		dropout:    cfg.Dropout,
		rng:        rand.New(rand.NewSource(cfg.RandomSeed)),
		inChannels: cfg.InChannels,
		hiddenDim:  hidden,
		numClasses: cfg.NumClasses,
	}, nil
}
