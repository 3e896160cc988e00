package tracking

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"path/filepath"
	"sort"

	"github.com/geowatch/cropseg/dataset"
	"github.com/geowatch/cropseg/tensor"
)

// Band selections for the composite previews, as spectral channel indices
// of the first acquisition in each series.
var (
	// TrueColorChannels maps red, green, blue to the visible bands.
	TrueColorChannels = [3]int{3, 2, 1}
	// FalseColorChannels is the near-infrared false-color composite.
	FalseColorChannels = [3]int{7, 3, 4}
)

// SampleTableColumns are the columns of the sample preview table.
var SampleTableColumns = []string{"filename", "true_color", "false_color_ir"}

// SampleTable builds a preview table from the first limit image series of
// the dataset folder: a true-color and a false-color composite per patch.
func SampleTable(datasetFolder string, limit int) (*Table, error) {
	pattern := filepath.Join(datasetFolder, dataset.DataDirName, "*.npy")
	files, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to list dataset images: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no image series found under %s", pattern)
	}

	sort.Strings(files)
	if limit > 0 && len(files) > limit {
		files = files[:limit]
	}

	table := NewTable(SampleTableColumns...)
	for _, path := range files {
		series, err := dataset.ReadFloat32Tensor(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load preview series: %w", err)
		}

		trueColor, err := CompositePNG(series, TrueColorChannels)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
		falseColor, err := CompositePNG(series, FalseColorChannels)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
		}

		if err := table.AddRow(filepath.Base(path), trueColor, falseColor); err != nil {
			return nil, err
		}
	}

	return table, nil
}

// CompositeHWC extracts the selected channels of the first acquisition of a
// [T, C, H, W] series and rearranges them to HWC order.
func CompositeHWC(series *tensor.Tensor, channels [3]int) ([]float32, int, int, error) {
	if len(series.Shape) != 4 {
		return nil, 0, 0, fmt.Errorf("expected series of rank 4 [T,C,H,W], got shape %v", series.Shape)
	}

	c, h, w := series.Shape[1], series.Shape[2], series.Shape[3]
	for _, ch := range channels {
		if ch < 0 || ch >= c {
			return nil, 0, 0, fmt.Errorf("composite channel %d out of range [0, %d)", ch, c)
		}
	}

	data, err := series.Float32s()
	if err != nil {
		return nil, 0, 0, err
	}

	plane := h * w
	out := make([]float32, plane*3)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			for i, ch := range channels {
				out[(y*w+x)*3+i] = data[ch*plane+y*w+x]
			}
		}
	}
	return out, h, w, nil
}

// CompositePNG renders a composite as a base64 data URL for table cells.
// Pixel values are min-max scaled over the whole composite.
func CompositePNG(series *tensor.Tensor, channels [3]int) (string, error) {
	hwc, h, w, err := CompositeHWC(series, channels)
	if err != nil {
		return "", err
	}

	minVal, maxVal := hwc[0], hwc[0]
	for _, v := range hwc {
		if v < minVal {
			minVal = v
		}
		if v > maxVal {
			maxVal = v
		}
	}
	scale := maxVal - minVal
	if scale == 0 {
		scale = 1
	}

	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			base := (y*w + x) * 3
			img.SetNRGBA(x, y, color.NRGBA{
				R: uint8((hwc[base] - minVal) / scale * 255),
				G: uint8((hwc[base+1] - minVal) / scale * 255),
				B: uint8((hwc[base+2] - minVal) / scale * 255),
				A: 255,
			})
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("failed to encode composite: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
