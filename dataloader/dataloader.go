// Package dataloader provides batching and shuffling over a sample dataset.
package dataloader

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/geowatch/cropseg/dataset"
)

// Dataset is the minimal interface a sample source must implement.
type Dataset interface {
	Len() int
	Get(idx int) (*dataset.Sample, error)
}

// Loader batches samples from a Dataset, optionally shuffling between
// epochs and dropping the trailing incomplete batch.
type Loader struct {
	dataset    Dataset
	batchSize  int
	shuffle    bool
	dropLast   bool
	numWorkers int
	padValue   float32
	rng        *rand.Rand

	indices  []int
	position int
	mutex    sync.Mutex
}

// New creates a Loader. numWorkers bounds the number of samples loaded
// concurrently within one batch; values below 1 load sequentially.
func New(ds Dataset, batchSize int, shuffle, dropLast bool, numWorkers int, padValue float32, seed int64) (*Loader, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	if ds.Len() == 0 {
		return nil, fmt.Errorf("dataset is empty")
	}

	if numWorkers < 1 {
		numWorkers = 1
	}

	indices := make([]int, ds.Len())
	for i := range indices {
		indices[i] = i
	}

	return &Loader{
		dataset:    ds,
		batchSize:  batchSize,
		shuffle:    shuffle,
		dropLast:   dropLast,
		numWorkers: numWorkers,
		padValue:   padValue,
		rng:        rand.New(rand.NewSource(seed)),
		indices:    indices,
	}, nil
}

// Len returns the number of batches in an epoch.
func (l *Loader) Len() int {
	n := len(l.indices)
	if l.dropLast {
		return n / l.batchSize
	}
	return (n + l.batchSize - 1) / l.batchSize
}

// Reset rewinds the loader for a new epoch, reshuffling if enabled.
func (l *Loader) Reset() {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	l.position = 0

	if l.shuffle {
		l.rng.Shuffle(len(l.indices), func(i, j int) {
			l.indices[i], l.indices[j] = l.indices[j], l.indices[i]
		})
	}
}

// HasNext reports whether another batch remains in the current epoch.
func (l *Loader) HasNext() bool {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return l.remaining() >= l.minBatch()
}

// Next returns the next batch, or nil at the end of the epoch.
func (l *Loader) Next() (*dataset.Batch, error) {
	l.mutex.Lock()

	if l.remaining() < l.minBatch() {
		l.mutex.Unlock()
		return nil, nil
	}

	end := l.position + l.batchSize
	if end > len(l.indices) {
		end = len(l.indices)
	}
	batchIndices := append([]int(nil), l.indices[l.position:end]...)
	l.position = end
	l.mutex.Unlock()

	samples, err := l.loadSamples(batchIndices)
	if err != nil {
		return nil, fmt.Errorf("failed to load batch: %w", err)
	}

	return dataset.PadCollate(samples, l.padValue)
}

// loadSamples fetches the batch samples, at most numWorkers at a time.
func (l *Loader) loadSamples(indices []int) ([]*dataset.Sample, error) {
	samples := make([]*dataset.Sample, len(indices))
	errs := make([]error, len(indices))

	var wg sync.WaitGroup
	sem := make(chan struct{}, l.numWorkers)

	for i, idx := range indices {
		wg.Add(1)
		go func(slot, sampleIdx int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			s, err := l.dataset.Get(sampleIdx)
			if err != nil {
				errs[slot] = fmt.Errorf("failed to load sample %d: %w", sampleIdx, err)
				return
			}
			samples[slot] = s
		}(i, idx)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return samples, nil
}

func (l *Loader) remaining() int {
	return len(l.indices) - l.position
}

func (l *Loader) minBatch() int {
	if l.dropLast {
		return l.batchSize
	}
	return 1
}
