// Command eval-semantic evaluates a pre-trained semantic segmentation model
// over satellite image time series on the held-out test partition of each
// cross-validation fold.
package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/geowatch/cropseg/checkpoints"
	"github.com/geowatch/cropseg/config"
	"github.com/geowatch/cropseg/dataloader"
	"github.com/geowatch/cropseg/dataset"
	"github.com/geowatch/cropseg/evaluation"
	"github.com/geowatch/cropseg/model"
	"github.com/geowatch/cropseg/tracking"
)

const (
	trackingProject = "cropseg-semantic"
	sampleTableSize = 10
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "eval-semantic",
		Short:         "Evaluate a pre-trained segmentation model on held-out folds",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}

	flags := cmd.Flags()
	flags.String("weight_folder", "", "path to the main folder containing the pre-trained weights")
	flags.String("dataset_folder", "", "path to the dataset folder")
	flags.Int("num_workers", 8, "number of data loading workers")
	flags.Int("fold", 0, "do only one of the five folds (between 1 and 5)")
	flags.String("device", "cpu", "name of device to use for tensor computations")
	flags.Int("display_step", 50, "interval in batches between display of evaluation metrics")

	return cmd
}

func run(cmd *cobra.Command, args []string) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}

	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return err
	}
	fmt.Println(cfg)

	if err := logProvenance(cfg); err != nil {
		return err
	}

	banner, err := model.FromConfig(cfg)
	if err != nil {
		return err
	}
	fmt.Println(banner.Spec().Summary())
	fmt.Println("TOTAL TRAINABLE PARAMETERS :", banner.TrainableParameters())

	for _, fold := range requestedFolds(cfg) {
		if err := evaluateFold(cfg, fold); err != nil {
			return fmt.Errorf("fold %d: %w", fold, err)
		}
	}

	return summarize(cfg)
}

// requestedFolds resolves the fold selector: one specific fold, or the full
// five-fold sequence when none was requested.
func requestedFolds(cfg *config.Config) []int {
	if cfg.SingleFold() {
		return []int{cfg.Fold}
	}
	folds := make([]int, 0, dataset.NumFolds)
	for f := 1; f <= dataset.NumFolds; f++ {
		folds = append(folds, f)
	}
	return folds
}

// summarize aggregates the cross-fold performance. Single-fold runs skip
// aggregation and leave no overall_performance.json behind.
func summarize(cfg *config.Config) error {
	if cfg.SingleFold() {
		return nil
	}
	perf, err := evaluation.ComputeOverallPerformance(cfg.WeightFolder)
	if err != nil {
		return err
	}
	fmt.Printf("Overall: Acc %.2f,  IoU %.4f\n", perf.Accuracy, perf.MeanIoU)
	return nil
}

// logProvenance uploads the raw dataset directories as versioned artifacts
// and logs a preview table of the first sample images.
func logProvenance(cfg *config.Config) error {
	client, err := tracking.NewClientFromEnv()
	if err != nil {
		return err
	}

	run, err := client.StartRun(trackingProject, "load")
	if err != nil {
		return err
	}
	if err := run.LogArtifact("test_annotations", "dataset", filepath.Join(cfg.DatasetFolder, dataset.AnnotationDirName)); err != nil {
		return err
	}
	if err := run.LogArtifact("test_images", "dataset", filepath.Join(cfg.DatasetFolder, dataset.DataDirName)); err != nil {
		return err
	}
	if err := run.Finish(); err != nil {
		return err
	}

	tableRun, err := client.StartRun(trackingProject, "sample_table")
	if err != nil {
		return err
	}
	table, err := tracking.SampleTable(cfg.DatasetFolder, sampleTableSize)
	if err != nil {
		return err
	}
	if err := tableRun.LogTable("sample-test-data", table); err != nil {
		return err
	}
	if err := tableRun.LogTable("fold_sequence", foldSequenceTable()); err != nil {
		return err
	}
	return tableRun.Finish()
}

// foldSequenceTable renders the fixed fold rotation as a provenance table.
func foldSequenceTable() *tracking.Table {
	table := tracking.NewTable("fold", "train", "val", "test")
	for i, a := range dataset.FoldSequence() {
		// rows cannot be ragged, so AddRow only fails on a programming error
		_ = table.AddRow(i+1, fmt.Sprint(a.Train), fmt.Sprint(a.Val), fmt.Sprint(a.Test))
	}
	return table
}

// evaluateFold runs the inference-only pass over one fold's test partition
// and persists its metrics and confusion matrix. Each fold gets a fresh
// network so no model state carries over between folds.
func evaluateFold(cfg *config.Config, fold int) error {
	assignment, err := dataset.Assignment(fold)
	if err != nil {
		return err
	}

	net, err := model.FromConfig(cfg)
	if err != nil {
		return err
	}

	ds, err := dataset.New(dataset.Options{
		Folder:    cfg.DatasetFolder,
		Folds:     assignment.Test,
		Normalize: true,
		RefDate:   cfg.RefDate,
		MonoDate:  cfg.MonoDate,
	})
	if err != nil {
		return err
	}

	// Shuffle stays enabled to mirror the training pipeline's test loader
	// settings, at the cost of batch-order reproducibility.
	loader, err := dataloader.New(ds, cfg.BatchSize, true, true, cfg.NumWorkers, float32(cfg.PadValue), cfg.RandomSeed)
	if err != nil {
		return err
	}

	ckpt, err := checkpoints.LoadFold(cfg.WeightFolder, fold)
	if err != nil {
		return err
	}
	if err := net.LoadWeights(ckpt.Weights); err != nil {
		return err
	}
	net.Eval()

	criterion, err := evaluation.NewWeightedCrossEntropy(cfg.NumClasses, cfg.EffectiveIgnoreIndex())
	if err != nil {
		return err
	}
	cm, err := evaluation.NewConfusionMatrix(cfg.NumClasses, cfg.EffectiveIgnoreIndex())
	if err != nil {
		return err
	}

	fmt.Println("Testing . . .")
	metrics, err := evaluation.Iterate(net, loader, criterion, cm, cfg.DisplayStep)
	if err != nil {
		return err
	}

	fmt.Printf("Loss %.4f,  Acc %.2f,  IoU %.4f\n", metrics.Loss, metrics.Accuracy, metrics.MeanIoU)
	return evaluation.SaveFoldResults(cfg.WeightFolder, fold, metrics, cm)
}
