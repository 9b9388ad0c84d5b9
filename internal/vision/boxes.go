// Package vision implements the detection kernels shared by the eager
// operators and the graph executor. Keeping a single implementation of the
// order-sensitive kernels (NMS, top-k driven pooling) guarantees that both
// execution paths agree on tie-breaking.
package vision

import (
	"fmt"

	"github.com/retina-ml/retina/internal/tensor"
)

// Area returns the areas of boxes given in (x1, y1, x2, y2) form.
func Area(boxes []float32) []float32 {
	n := len(boxes) / 4
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		out[i] = (boxes[i*4+2] - boxes[i*4]) * (boxes[i*4+3] - boxes[i*4+1])
	}
	return out
}

// IoU computes the intersection-over-union of two (x1, y1, x2, y2) boxes.
func IoU(a, b []float32) float32 {
	x1 := max32(a[0], b[0])
	y1 := max32(a[1], b[1])
	x2 := min32(a[2], b[2])
	y2 := min32(a[3], b[3])

	iw := x2 - x1
	ih := y2 - y1
	if iw <= 0 || ih <= 0 {
		return 0
	}
	inter := iw * ih
	areaA := (a[2] - a[0]) * (a[3] - a[1])
	areaB := (b[2] - b[0]) * (b[3] - b[1])
	union := areaA + areaB - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// ClipBoxes clamps box coordinates in place to [0, width] x [0, height].
func ClipBoxes(boxes []float32, height, width float32) {
	n := len(boxes) / 4
	for i := 0; i < n; i++ {
		boxes[i*4] = clamp(boxes[i*4], 0, width)
		boxes[i*4+1] = clamp(boxes[i*4+1], 0, height)
		boxes[i*4+2] = clamp(boxes[i*4+2], 0, width)
		boxes[i*4+3] = clamp(boxes[i*4+3], 0, height)
	}
}

// SmallBoxMask reports which boxes have both sides strictly larger than
// minSize. Strict comparison matches the exported Greater test.
func SmallBoxMask(boxes []float32, minSize float32) []bool {
	n := len(boxes) / 4
	keep := make([]bool, n)
	for i := 0; i < n; i++ {
		w := boxes[i*4+2] - boxes[i*4]
		h := boxes[i*4+3] - boxes[i*4+1]
		keep[i] = w > minSize && h > minSize
	}
	return keep
}

// CheckBoxTensor validates a [K, 4] float32 box tensor.
func CheckBoxTensor(boxes *tensor.RawTensor) error {
	s := boxes.Shape()
	if boxes.DType() != tensor.Float32 || len(s) != 2 || s[1] != 4 {
		return fmt.Errorf("expected [K, 4] float32 boxes, got %s %v", boxes.DType(), s)
	}
	return nil
}

func clamp(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func min32(a, b float32) float32 {
	if a < b {
		return a
	}
	return b
}

func max32(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}
