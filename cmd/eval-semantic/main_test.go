package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/geowatch/cropseg/config"
	"github.com/geowatch/cropseg/evaluation"
)

func TestRequestedFolds(t *testing.T) {
	single := requestedFolds(&config.Config{Fold: 3})
	if len(single) != 1 || single[0] != 3 {
		t.Errorf("Expected fold selector to yield [3], got %v", single)
	}

	all := requestedFolds(&config.Config{})
	if len(all) != 5 {
		t.Fatalf("Expected 5 folds without a selector, got %v", all)
	}
	for i, f := range all {
		if f != i+1 {
			t.Errorf("Fold %d: expected %d, got %d", i, i+1, f)
		}
	}
}

func seedFoldResults(t *testing.T, dir string) {
	t.Helper()
	for fold := 1; fold <= 5; fold++ {
		cm, err := evaluation.NewConfusionMatrix(3, 2)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		cm.Matrix[0][0] = 4
		cm.TotalSamples = 4
		if err := evaluation.SaveFoldResults(dir, fold, evaluation.Metrics{}, cm); err != nil {
			t.Fatalf("SaveFoldResults failed for fold %d: %v", fold, err)
		}
	}
}

func TestSummarizeAggregatesFullRun(t *testing.T) {
	dir := t.TempDir()
	seedFoldResults(t, dir)

	if err := summarize(&config.Config{WeightFolder: dir}); err != nil {
		t.Fatalf("summarize failed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "overall_performance.json")); err != nil {
		t.Errorf("Expected overall_performance.json after a full run: %v", err)
	}
}

func TestSummarizeSkipsSingleFoldRun(t *testing.T) {
	dir := t.TempDir()
	seedFoldResults(t, dir)

	if err := summarize(&config.Config{WeightFolder: dir, Fold: 2}); err != nil {
		t.Fatalf("summarize failed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "overall_performance.json")); !os.IsNotExist(err) {
		t.Errorf("Single-fold run must not write overall_performance.json, stat err=%v", err)
	}
}
