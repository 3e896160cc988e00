package model

import "math"

// conv2d applies a stride-1, same-padded square convolution to one CHW
// frame. Kernel size must be odd.
func conv2d(src []float32, cIn, h, w int, weight, bias []float32, cOut, k int, dst []float32) {
	pad := (k - 1) / 2
	plane := h * w

	for oc := 0; oc < cOut; oc++ {
		base := oc * plane
		wBase := oc * cIn * k * k
		b := bias[oc]

		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				acc := b
				for ic := 0; ic < cIn; ic++ {
					srcBase := ic * plane
					kBase := wBase + ic*k*k
					for ky := 0; ky < k; ky++ {
						sy := y + ky - pad
						if sy < 0 || sy >= h {
							continue
						}
						for kx := 0; kx < k; kx++ {
							sx := x + kx - pad
							if sx < 0 || sx >= w {
								continue
							}
							acc += weight[kBase+ky*k+kx] * src[srcBase+sy*w+sx]
						}
					}
				}
				dst[base+y*w+x] = acc
			}
		}
	}
}

// reluInPlace clamps negative activations to zero.
func reluInPlace(data []float32) {
	for i, v := range data {
		if v < 0 {
			data[i] = 0
		}
	}
}

// softmaxInPlace normalizes scores to a probability distribution.
func softmaxInPlace(scores []float64) {
	maxVal := scores[0]
	for _, v := range scores[1:] {
		if v > maxVal {
			maxVal = v
		}
	}

	var sum float64
	for i, v := range scores {
		e := math.Exp(v - maxVal)
		scores[i] = e
		sum += e
	}
	for i := range scores {
		scores[i] /= sum
	}
}

// spatialMean reduces a CHW feature map to a per-channel descriptor.
func spatialMean(src []float32, c, h, w int) []float64 {
	plane := h * w
	out := make([]float64, c)
	for ch := 0; ch < c; ch++ {
		var sum float64
		base := ch * plane
		for i := base; i < base+plane; i++ {
			sum += float64(src[i])
		}
		out[ch] = sum / float64(plane)
	}
	return out
}
