package dataset

import (
	"fmt"
	"os"

	"github.com/sbinet/npyio"

	"github.com/geowatch/cropseg/tensor"
)

// ReadFloat32Tensor loads a NumPy array stored as float32 or float64 into a
// Float32 tensor.
func ReadFloat32Tensor(path string) (*tensor.Tensor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open array file: %w", err)
	}
	defer f.Close()

	r, err := npyio.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	shape := append([]int(nil), r.Header.Descr.Shape...)

	var data []float32
	switch r.Header.Descr.Type {
	case "<f4", "|f4":
		if err := r.Read(&data); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	case "<f8", "|f8":
		var raw []float64
		if err := r.Read(&raw); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		data = make([]float32, len(raw))
		for i, v := range raw {
			data[i] = float32(v)
		}
	default:
		return nil, fmt.Errorf("unsupported array dtype %q in %s", r.Header.Descr.Type, path)
	}

	return tensor.NewTensor(shape, tensor.Float32, data)
}

// ReadInt32Tensor loads a NumPy integer array into an Int32 tensor.
func ReadInt32Tensor(path string) (*tensor.Tensor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open array file: %w", err)
	}
	defer f.Close()

	r, err := npyio.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	shape := append([]int(nil), r.Header.Descr.Shape...)

	var data []int32
	switch r.Header.Descr.Type {
	case "<i4", "|i4":
		if err := r.Read(&data); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	case "<i8", "|i8":
		var raw []int64
		if err := r.Read(&raw); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		data = make([]int32, len(raw))
		for i, v := range raw {
			data[i] = int32(v)
		}
	case "|u1":
		var raw []uint8
		if err := r.Read(&raw); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		data = make([]int32, len(raw))
		for i, v := range raw {
			data[i] = int32(v)
		}
	default:
		return nil, fmt.Errorf("unsupported array dtype %q in %s", r.Header.Descr.Type, path)
	}

	return tensor.NewTensor(shape, tensor.Int32, data)
}
