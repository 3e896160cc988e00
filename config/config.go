// Package config assembles the evaluation run configuration by merging the
// training configuration saved beside the pre-trained weights with
// command-line overrides.
package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// ConfFileName is the training configuration file expected inside the
// weight folder.
const ConfFileName = "conf.json"

// Config holds every setting of an evaluation run. Fields tagged with
// mapstructure names match both the conf.json keys and the CLI flag names,
// so explicitly-set flags override same-named JSON fields while JSON-only
// fields are preserved.
type Config struct {
	// Model parameters (from conf.json)
	Model       string  `mapstructure:"model" json:"model"`
	NumClasses  int     `mapstructure:"num_classes" json:"num_classes"`
	IgnoreIndex int     `mapstructure:"ignore_index" json:"ignore_index"`
	InChannels  int     `mapstructure:"in_channels" json:"in_channels"`
	HiddenDim   int     `mapstructure:"hidden_dim" json:"hidden_dim"`
	Dropout     float64 `mapstructure:"dropout" json:"dropout"`

	// Dataset parameters (from conf.json)
	PadValue   float64 `mapstructure:"pad_value" json:"pad_value"`
	BatchSize  int     `mapstructure:"batch_size" json:"batch_size"`
	RefDate    string  `mapstructure:"ref_date" json:"ref_date"`
	MonoDate   string  `mapstructure:"mono_date" json:"mono_date"`
	RandomSeed int64   `mapstructure:"rdm_seed" json:"rdm_seed"`

	// Evaluation parameters (CLI)
	WeightFolder  string `mapstructure:"weight_folder" json:"weight_folder"`
	DatasetFolder string `mapstructure:"dataset_folder" json:"dataset_folder"`
	NumWorkers    int    `mapstructure:"num_workers" json:"num_workers"`
	Fold          int    `mapstructure:"fold" json:"fold"`
	Device        string `mapstructure:"device" json:"device"`
	DisplayStep   int    `mapstructure:"display_step" json:"display_step"`
}

// Load reads <weight-folder>/conf.json and overlays the given flag set.
// Flag values that were explicitly set take precedence over the JSON file;
// flag defaults apply only where the file is silent.
func Load(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	if err := v.BindPFlags(flags); err != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", err)
	}

	weightFolder := v.GetString("weight_folder")
	if weightFolder == "" {
		return nil, fmt.Errorf("weight_folder must be provided")
	}

	v.SetConfigFile(filepath.Join(weightFolder, ConfFileName))
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read training configuration: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}

	// conf.json is a dump of the training arguments and can carry
	// operational keys like fold or device. Fold selection and device
	// placement always come from the command line, never from the file.
	fold, err := flags.GetInt("fold")
	if err != nil {
		return nil, fmt.Errorf("failed to read fold flag: %w", err)
	}
	device, err := flags.GetString("device")
	if err != nil {
		return nil, fmt.Errorf("failed to read device flag: %w", err)
	}
	cfg.Fold = fold
	cfg.Device = device

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the merged configuration for values the run cannot
// proceed without.
func (c *Config) Validate() error {
	if c.WeightFolder == "" {
		return fmt.Errorf("weight folder must not be empty")
	}
	if c.DatasetFolder == "" {
		return fmt.Errorf("dataset folder must not be empty")
	}
	if c.Model == "" {
		return fmt.Errorf("model name missing from configuration")
	}
	if c.NumClasses < 2 {
		return fmt.Errorf("num_classes must be at least 2, got %d", c.NumClasses)
	}
	if c.IgnoreIndex < -c.NumClasses || c.IgnoreIndex >= c.NumClasses {
		return fmt.Errorf("ignore_index %d out of range [-%d, %d)", c.IgnoreIndex, c.NumClasses, c.NumClasses)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", c.BatchSize)
	}
	if c.Fold != 0 && (c.Fold < 1 || c.Fold > 5) {
		return fmt.Errorf("fold must be between 1 and 5, got %d", c.Fold)
	}
	if c.Device != "cpu" {
		return fmt.Errorf("unsupported device %q, only cpu is available", c.Device)
	}
	if c.NumWorkers < 0 {
		return fmt.Errorf("num_workers must not be negative, got %d", c.NumWorkers)
	}
	if c.DisplayStep <= 0 {
		return fmt.Errorf("display_step must be positive, got %d", c.DisplayStep)
	}
	if c.InChannels <= 0 {
		return fmt.Errorf("in_channels must be positive, got %d", c.InChannels)
	}
	return nil
}

// EffectiveIgnoreIndex resolves a negative ignore index the way the training
// pipeline does: -1 addresses the last class.
func (c *Config) EffectiveIgnoreIndex() int {
	if c.IgnoreIndex < 0 {
		return c.NumClasses + c.IgnoreIndex
	}
	return c.IgnoreIndex
}

// SingleFold reports whether the run evaluates exactly one fold, in which
// case the cross-fold aggregation step is skipped.
func (c *Config) SingleFold() bool {
	return c.Fold != 0
}

// String renders the merged configuration as indented JSON for the startup
// banner.
func (c *Config) String() string {
	out, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Sprintf("Config(%+v)", *c)
	}
	return string(out)
}
