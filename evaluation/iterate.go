package evaluation

import (
	"fmt"
	"time"

	"github.com/geowatch/cropseg/dataset"
	"github.com/geowatch/cropseg/tensor"
)

// Model is the forward-pass surface the evaluation loop needs.
type Model interface {
	Forward(batch *dataset.Batch) (*tensor.Tensor, error)
}

// Loader yields collated batches for one epoch.
type Loader interface {
	Len() int
	Reset()
	Next() (*dataset.Batch, error)
}

// Metrics are the aggregate results of one evaluation pass.
type Metrics struct {
	Loss     float64 `json:"test_loss"`
	Accuracy float64 `json:"test_accuracy"`
	MeanIoU  float64 `json:"test_IoU"`
}

// Iterate runs an inference-only pass over every batch of the loader,
// accumulating loss, accuracy, mean IoU and the confusion matrix. Progress
// is printed every displayStep batches.
func Iterate(model Model, loader Loader, criterion *WeightedCrossEntropy, cm *ConfusionMatrix, displayStep int) (Metrics, error) {
	loader.Reset()
	cm.Reset()

	start := time.Now()
	totalBatches := loader.Len()
	var lossSum float64
	step := 0

	for {
		batch, err := loader.Next()
		if err != nil {
			return Metrics{}, fmt.Errorf("failed to fetch batch %d: %w", step, err)
		}
		if batch == nil {
			break
		}
		step++

		logits, err := model.Forward(batch)
		if err != nil {
			return Metrics{}, fmt.Errorf("forward pass failed on batch %d: %w", step, err)
		}

		loss, err := criterion.Forward(logits, batch.Target)
		if err != nil {
			return Metrics{}, fmt.Errorf("loss computation failed on batch %d: %w", step, err)
		}
		lossSum += loss

		if err := cm.Update(logits, batch.Target); err != nil {
			return Metrics{}, fmt.Errorf("metric update failed on batch %d: %w", step, err)
		}

		if displayStep > 0 && step%displayStep == 0 {
			fmt.Printf("Step [%d/%d], Loss: %.4f, Acc: %.2f, IoU: %.4f, %.2f batch/s\n",
				step, totalBatches, lossSum/float64(step),
				cm.OverallAccuracy()*100, cm.MeanIoU(),
				float64(step)/time.Since(start).Seconds())
		}
	}

	if step == 0 {
		return Metrics{}, fmt.Errorf("loader produced no batches")
	}

	return Metrics{
		Loss:     lossSum / float64(step),
		Accuracy: cm.OverallAccuracy() * 100,
		MeanIoU:  cm.MeanIoU(),
	}, nil
}
