// Package dataset provides the satellite image time-series dataset used for
// semantic segmentation evaluation: patch indexing by fold, per-channel
// normalization, optional mono-date slicing, and pad-collation of
// variable-length series into batches.
package dataset

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/geowatch/cropseg/tensor"
)

const (
	// DataDirName holds one Sentinel-2 time-series array per patch.
	DataDirName = "DATA_S2"
	// AnnotationDirName holds one target mask array per patch.
	AnnotationDirName = "ANNOTATIONS"

	metadataFileName = "metadata.json"
	normFileName     = "NORM_S2_patch.json"

	dateLayout = "2006-01-02"
)

// Sample is one dataset item: a padded-ready image time series, its
// segmentation target, and auxiliary acquisition metadata.
type Sample struct {
	Patch  string
	Series *tensor.Tensor // [T, C, H, W] float32
	Target *tensor.Tensor // [H, W] int32
	Dates  []int32        // days since the reference date, length T
}

// Options configures a TimeSeriesDataset.
type Options struct {
	Folder    string
	Folds     []int  // dataset regions to include
	Normalize bool   // apply fold-averaged channel statistics
	RefDate   string // reference date for acquisition day offsets
	MonoDate  string // optional: single date selection, index or YYYY-MM-DD
}

type patchEntry struct {
	ID    string `json:"id"`
	Fold  int    `json:"fold"`
	Dates []int  `json:"dates"` // acquisition dates as YYYYMMDD integers
}

type metadataFile struct {
	Patches []patchEntry `json:"patches"`
}

type normStats struct {
	Mean []float64 `json:"mean"`
	Std  []float64 `json:"std"`
}

// TimeSeriesDataset indexes the patches of the requested folds and loads
// samples on demand.
type TimeSeriesDataset struct {
	folder  string
	patches []patchEntry
	refDate time.Time
	mono    string
	mean    []float32
	std     []float32
}

// New builds a dataset over the patches belonging to opts.Folds.
func New(opts Options) (*TimeSeriesDataset, error) {
	if opts.Folder == "" {
		return nil, fmt.Errorf("dataset folder must not be empty")
	}
	if len(opts.Folds) == 0 {
		return nil, fmt.Errorf("at least one fold must be selected")
	}

	refDate, err := time.Parse(dateLayout, opts.RefDate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse reference date %q: %w", opts.RefDate, err)
	}

	meta, err := readMetadata(filepath.Join(opts.Folder, metadataFileName))
	if err != nil {
		return nil, err
	}

	wanted := make(map[int]bool, len(opts.Folds))
	for _, f := range opts.Folds {
		wanted[f] = true
	}

	ds := &TimeSeriesDataset{
		folder:  opts.Folder,
		refDate: refDate,
		mono:    opts.MonoDate,
	}
	for _, p := range meta.Patches {
		if wanted[p.Fold] {
			ds.patches = append(ds.patches, p)
		}
	}
	if len(ds.patches) == 0 {
		return nil, fmt.Errorf("no patches found for folds %v in %s", opts.Folds, opts.Folder)
	}
	sort.Slice(ds.patches, func(i, j int) bool { return ds.patches[i].ID < ds.patches[j].ID })

	if opts.Normalize {
		mean, std, err := loadNormStats(filepath.Join(opts.Folder, normFileName), opts.Folds)
		if err != nil {
			return nil, err
		}
		ds.mean, ds.std = mean, std
	}

	return ds, nil
}

// Len returns the number of patches in the selected folds.
func (ds *TimeSeriesDataset) Len() int {
	return len(ds.patches)
}

// Patches returns the ordered patch identifiers.
func (ds *TimeSeriesDataset) Patches() []string {
	out := make([]string, len(ds.patches))
	for i, p := range ds.patches {
		out[i] = p.ID
	}
	return out
}

// Get loads the sample at the given index.
func (ds *TimeSeriesDataset) Get(idx int) (*Sample, error) {
	if idx < 0 || idx >= len(ds.patches) {
		return nil, fmt.Errorf("index %d out of range [0, %d)", idx, len(ds.patches))
	}
	entry := ds.patches[idx]

	series, err := ReadFloat32Tensor(filepath.Join(ds.folder, DataDirName, fmt.Sprintf("S2_%s.npy", entry.ID)))
	if err != nil {
		return nil, fmt.Errorf("failed to load series for patch %s: %w", entry.ID, err)
	}
	if len(series.Shape) != 4 {
		return nil, fmt.Errorf("patch %s: expected series of rank 4 [T,C,H,W], got shape %v", entry.ID, series.Shape)
	}
	if series.Shape[0] != len(entry.Dates) {
		return nil, fmt.Errorf("patch %s: series has %d frames but metadata lists %d dates", entry.ID, series.Shape[0], len(entry.Dates))
	}

	target, err := ds.loadTarget(entry.ID)
	if err != nil {
		return nil, err
	}
	if target.Shape[0] != series.Shape[2] || target.Shape[1] != series.Shape[3] {
		return nil, fmt.Errorf("patch %s: target shape %v does not match series spatial size %dx%d",
			entry.ID, target.Shape, series.Shape[2], series.Shape[3])
	}

	dates, err := ds.dayOffsets(entry)
	if err != nil {
		return nil, err
	}

	if ds.mean != nil {
		if err := ds.normalize(series); err != nil {
			return nil, fmt.Errorf("failed to normalize patch %s: %w", entry.ID, err)
		}
	}

	sample := &Sample{Patch: entry.ID, Series: series, Target: target, Dates: dates}
	if ds.mono != "" {
		if err := sample.sliceMonoDate(ds.mono, ds.refDate); err != nil {
			return nil, err
		}
	}

	return sample, nil
}

// loadTarget reads the annotation mask. Masks may be stored as [H, W] or as
// a stack whose first plane carries the semantic labels.
func (ds *TimeSeriesDataset) loadTarget(patch string) (*tensor.Tensor, error) {
	t, err := ReadInt32Tensor(filepath.Join(ds.folder, AnnotationDirName, fmt.Sprintf("TARGET_%s.npy", patch)))
	if err != nil {
		return nil, fmt.Errorf("failed to load target for patch %s: %w", patch, err)
	}

	switch len(t.Shape) {
	case 2:
		return t, nil
	case 3:
		h, w := t.Shape[1], t.Shape[2]
		data, err := t.Int32s()
		if err != nil {
			return nil, err
		}
		plane := make([]int32, h*w)
		copy(plane, data[:h*w])
		return tensor.NewTensor([]int{h, w}, tensor.Int32, plane)
	default:
		return nil, fmt.Errorf("patch %s: unexpected target rank %d", patch, len(t.Shape))
	}
}

// dayOffsets converts YYYYMMDD acquisition dates to day offsets from the
// reference date.
func (ds *TimeSeriesDataset) dayOffsets(entry patchEntry) ([]int32, error) {
	out := make([]int32, len(entry.Dates))
	for i, d := range entry.Dates {
		day, err := parseCompactDate(d)
		if err != nil {
			return nil, fmt.Errorf("patch %s: %w", entry.ID, err)
		}
		out[i] = int32(day.Sub(ds.refDate).Hours() / 24)
	}
	return out, nil
}

func (ds *TimeSeriesDataset) normalize(series *tensor.Tensor) error {
	c := series.Shape[1]
	if len(ds.mean) != c {
		return fmt.Errorf("normalization statistics cover %d channels, series has %d", len(ds.mean), c)
	}

	data, err := series.Float32s()
	if err != nil {
		return err
	}

	frameSize := series.Shape[2] * series.Shape[3]
	for t := 0; t < series.Shape[0]; t++ {
		for ch := 0; ch < c; ch++ {
			base := (t*c + ch) * frameSize
			m, s := ds.mean[ch], ds.std[ch]
			for i := base; i < base+frameSize; i++ {
				data[i] = (data[i] - m) / s
			}
		}
	}
	return nil
}

// sliceMonoDate reduces the series to a single frame: an explicit time index
// or the acquisition closest to a YYYY-MM-DD date.
func (s *Sample) sliceMonoDate(mono string, refDate time.Time) error {
	var idx int
	if n, err := strconv.Atoi(mono); err == nil {
		idx = n
	} else {
		target, err := time.Parse(dateLayout, mono)
		if err != nil {
			return fmt.Errorf("mono_date %q is neither an index nor a %s date", mono, dateLayout)
		}
		want := int32(target.Sub(refDate).Hours() / 24)
		best := 0
		for i, d := range s.Dates {
			if abs32(d-want) < abs32(s.Dates[best]-want) {
				best = i
			}
		}
		idx = best
	}

	if idx < 0 || idx >= s.Series.Shape[0] {
		return fmt.Errorf("mono_date index %d out of range [0, %d)", idx, s.Series.Shape[0])
	}

	data, err := s.Series.Float32s()
	if err != nil {
		return err
	}
	frame := s.Series.Shape[1] * s.Series.Shape[2] * s.Series.Shape[3]
	sliced := make([]float32, frame)
	copy(sliced, data[idx*frame:(idx+1)*frame])

	series, err := tensor.NewTensor(append([]int{1}, s.Series.Shape[1:]...), tensor.Float32, sliced)
	if err != nil {
		return err
	}
	s.Series = series
	s.Dates = []int32{s.Dates[idx]}
	return nil
}

func readMetadata(path string) (*metadataFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset metadata: %w", err)
	}
	var meta metadataFile
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("failed to decode dataset metadata: %w", err)
	}
	return &meta, nil
}

// loadNormStats averages the per-fold channel statistics over the selected
// folds, mirroring how the training pipeline normalizes multi-fold loads.
func loadNormStats(path string, folds []int) ([]float32, []float32, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read normalization statistics: %w", err)
	}

	perFold := map[string]normStats{}
	if err := json.Unmarshal(raw, &perFold); err != nil {
		return nil, nil, fmt.Errorf("failed to decode normalization statistics: %w", err)
	}

	var mean, std []float64
	for _, f := range folds {
		stats, ok := perFold[fmt.Sprintf("Fold_%d", f)]
		if !ok {
			return nil, nil, fmt.Errorf("normalization statistics missing for fold %d", f)
		}
		if mean == nil {
			mean = make([]float64, len(stats.Mean))
			std = make([]float64, len(stats.Std))
		}
		if len(stats.Mean) != len(mean) || len(stats.Std) != len(std) {
			return nil, nil, fmt.Errorf("inconsistent channel count in normalization statistics for fold %d", f)
		}
		for i := range stats.Mean {
			mean[i] += stats.Mean[i]
			std[i] += stats.Std[i]
		}
	}

	n := float64(len(folds))
	mean32 := make([]float32, len(mean))
	std32 := make([]float32, len(std))
	for i := range mean {
		mean32[i] = float32(mean[i] / n)
		std32[i] = float32(std[i] / n)
	}
	return mean32, std32, nil
}

func parseCompactDate(d int) (time.Time, error) {
	t, err := time.Parse("20060102", strconv.Itoa(d))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid acquisition date %d: %w", d, err)
	}
	return t, nil
}

func abs32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}
