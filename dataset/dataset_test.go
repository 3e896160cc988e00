package dataset

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

// writeNpy writes a minimal NumPy v1.0 array file for test fixtures.
func writeNpy(t *testing.T, path, descr string, shape []int, data interface{}) {
	t.Helper()

	dims := make([]string, len(shape))
	for i, d := range shape {
		dims[i] = strconv.Itoa(d)
	}
	shapeStr := strings.Join(dims, ", ")
	if len(shape) == 1 {
		shapeStr += ","
	}

	header := fmt.Sprintf("{'descr': '%s', 'fortran_order': False, 'shape': (%s), }", descr, shapeStr)
	pad := 64 - (10+len(header)+1)%64
	if pad == 64 {
		pad = 0
	}
	header += strings.Repeat(" ", pad) + "\n"

	var buf bytes.Buffer
	buf.WriteString("\x93NUMPY")
	buf.WriteByte(1)
	buf.WriteByte(0)
	if err := binary.Write(&buf, binary.LittleEndian, uint16(len(header))); err != nil {
		t.Fatalf("Failed to write npy header length: %v", err)
	}
	buf.WriteString(header)
	if err := binary.Write(&buf, binary.LittleEndian, data); err != nil {
		t.Fatalf("Failed to write npy data: %v", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("Failed to create fixture directory: %v", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("Failed to write fixture %s: %v", path, err)
	}
}

// fixtureDataset builds a two-patch dataset with 2 channels and 2x2 patches.
// Patch "0001" (fold 1) has 2 frames, patch "0002" (fold 2) has 3 frames.
func fixtureDataset(t *testing.T) string {
	t.Helper()
	root := t.TempDir()

	meta := `{
	  "patches": [
	    {"id": "0001", "fold": 1, "dates": [20180901, 20180911]},
	    {"id": "0002", "fold": 2, "dates": [20180901, 20180906, 20180921]}
	  ]
	}`
	if err := os.WriteFile(filepath.Join(root, "metadata.json"), []byte(meta), 0o644); err != nil {
		t.Fatalf("Failed to write metadata: %v", err)
	}

	norm := `{
	  "Fold_1": {"mean": [1, 2], "std": [2, 4]},
	  "Fold_2": {"mean": [3, 4], "std": [2, 4]}
	}`
	if err := os.WriteFile(filepath.Join(root, "NORM_S2_patch.json"), []byte(norm), 0o644); err != nil {
		t.Fatalf("Failed to write norm stats: %v", err)
	}

	series1 := make([]float32, 2*2*2*2)
	for i := range series1 {
		series1[i] = float32(i)
	}
	writeNpy(t, filepath.Join(root, DataDirName, "S2_0001.npy"), "<f4", []int{2, 2, 2, 2}, series1)

	series2 := make([]float32, 3*2*2*2)
	for i := range series2 {
		series2[i] = float32(i) * 0.5
	}
	writeNpy(t, filepath.Join(root, DataDirName, "S2_0002.npy"), "<f4", []int{3, 2, 2, 2}, series2)

	// Semantic labels in the first plane of a 3-plane target stack.
	target1 := []int64{
		0, 1, 2, 3, // semantic
		9, 9, 9, 9,
		9, 9, 9, 9,
	}
	writeNpy(t, filepath.Join(root, AnnotationDirName, "TARGET_0001.npy"), "<i8", []int{3, 2, 2}, target1)

	target2 := []int32{1, 1, 0, 2}
	writeNpy(t, filepath.Join(root, AnnotationDirName, "TARGET_0002.npy"), "<i4", []int{2, 2}, target2)

	return root
}

func TestDatasetFoldFiltering(t *testing.T) {
	root := fixtureDataset(t)

	ds, err := New(Options{Folder: root, Folds: []int{1}, RefDate: "2018-09-01"})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if ds.Len() != 1 {
		t.Fatalf("Expected 1 patch in fold 1, got %d", ds.Len())
	}
	if ds.Patches()[0] != "0001" {
		t.Errorf("Expected patch 0001, got %s", ds.Patches()[0])
	}

	both, err := New(Options{Folder: root, Folds: []int{1, 2}, RefDate: "2018-09-01"})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if both.Len() != 2 {
		t.Errorf("Expected 2 patches in folds 1+2, got %d", both.Len())
	}
}

func TestDatasetGet(t *testing.T) {
	root := fixtureDataset(t)

	ds, err := New(Options{Folder: root, Folds: []int{1}, RefDate: "2018-09-01"})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	sample, err := ds.Get(0)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	wantShape := []int{2, 2, 2, 2}
	for i, d := range wantShape {
		if sample.Series.Shape[i] != d {
			t.Fatalf("Unexpected series shape %v", sample.Series.Shape)
		}
	}

	// Target comes from the first plane of the 3-plane stack.
	mask, err := sample.Target.Int32s()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	for i, want := range []int32{0, 1, 2, 3} {
		if mask[i] != want {
			t.Errorf("Target[%d]: expected %d, got %d", i, want, mask[i])
		}
	}

	// Dates as day offsets from the reference date.
	if sample.Dates[0] != 0 || sample.Dates[1] != 10 {
		t.Errorf("Unexpected date offsets %v", sample.Dates)
	}
}

func TestDatasetNormalization(t *testing.T) {
	root := fixtureDataset(t)

	ds, err := New(Options{Folder: root, Folds: []int{1}, Normalize: true, RefDate: "2018-09-01"})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	sample, err := ds.Get(0)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	data, err := sample.Series.Float32s()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	// Channel 0 of frame 0 holds raw values 0..3; fold-1 stats are
	// mean=1, std=2.
	for i, raw := range []float32{0, 1, 2, 3} {
		want := (raw - 1) / 2
		if math.Abs(float64(data[i]-want)) > 1e-6 {
			t.Errorf("Normalized value %d: expected %f, got %f", i, want, data[i])
		}
	}
}

func TestDatasetMonoDate(t *testing.T) {
	root := fixtureDataset(t)

	t.Run("ByIndex", func(t *testing.T) {
		ds, err := New(Options{Folder: root, Folds: []int{2}, RefDate: "2018-09-01", MonoDate: "1"})
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		sample, err := ds.Get(0)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if sample.Series.Shape[0] != 1 {
			t.Errorf("Expected mono series, got %d frames", sample.Series.Shape[0])
		}
		if len(sample.Dates) != 1 || sample.Dates[0] != 5 {
			t.Errorf("Expected date offset [5], got %v", sample.Dates)
		}
	})

	t.Run("ByClosestDate", func(t *testing.T) {
		ds, err := New(Options{Folder: root, Folds: []int{2}, RefDate: "2018-09-01", MonoDate: "2018-09-18"})
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		sample, err := ds.Get(0)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		// 2018-09-21 (offset 20) is the closest acquisition to 09-18.
		if len(sample.Dates) != 1 || sample.Dates[0] != 20 {
			t.Errorf("Expected date offset [20], got %v", sample.Dates)
		}
	})
}

func TestDatasetErrors(t *testing.T) {
	root := fixtureDataset(t)

	if _, err := New(Options{Folder: root, Folds: []int{4}, RefDate: "2018-09-01"}); err == nil {
		t.Error("Expected error for a fold with no patches")
	}
	if _, err := New(Options{Folder: t.TempDir(), Folds: []int{1}, RefDate: "2018-09-01"}); err == nil {
		t.Error("Expected error for a folder without metadata")
	}
	if _, err := New(Options{Folder: root, Folds: []int{1}, RefDate: "not-a-date"}); err == nil {
		t.Error("Expected error for an invalid reference date")
	}

	ds, err := New(Options{Folder: root, Folds: []int{1}, RefDate: "2018-09-01"})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if _, err := ds.Get(5); err == nil {
		t.Error("Expected error for out of range index")
	}
}

func TestPadCollate(t *testing.T) {
	root := fixtureDataset(t)

	ds, err := New(Options{Folder: root, Folds: []int{1, 2}, RefDate: "2018-09-01"})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	s0, err := ds.Get(0)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	s1, err := ds.Get(1)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	batch, err := PadCollate([]*Sample{s0, s1}, -7)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	wantShape := []int{2, 3, 2, 2, 2}
	for i, d := range wantShape {
		if batch.Series.Shape[i] != d {
			t.Fatalf("Unexpected batch shape %v", batch.Series.Shape)
		}
	}
	if batch.Lengths[0] != 2 || batch.Lengths[1] != 3 {
		t.Errorf("Unexpected lengths %v", batch.Lengths)
	}

	// The short sample's third frame must hold the pad value.
	data, err := batch.Series.Float32s()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	frame := 2 * 2 * 2
	padFrame := data[2*frame : 3*frame]
	for i, v := range padFrame {
		if v != -7 {
			t.Errorf("Pad frame element %d: expected -7, got %f", i, v)
		}
	}
}

func TestPadCollateEmpty(t *testing.T) {
	if _, err := PadCollate(nil, 0); err == nil {
		t.Error("Expected error for empty batch")
	}
}
