package vision

import (
	"math"
	"testing"
)

func TestIoUKnownValues(t *testing.T) {
	a := []float32{0, 0, 10, 10}
	if got := IoU(a, a); got != 1 {
		t.Fatalf("IoU(a, a) = %v, want 1", got)
	}
	b := []float32{20, 20, 30, 30}
	if got := IoU(a, b); got != 0 {
		t.Fatalf("disjoint IoU = %v, want 0", got)
	}
	// Half-width overlap: inter 50, union 150.
	c := []float32{5, 0, 15, 10}
	if got, want := IoU(a, c), float32(50.0/150.0); math.Abs(float64(got-want)) > 1e-6 {
		t.Fatalf("IoU = %v, want %v", got, want)
	}
}

func TestNMSSuppressesByScoreOrder(t *testing.T) {
	boxes := []float32{
		0, 0, 10, 10,
		1, 1, 11, 11,
		50, 50, 60, 60,
	}
	scores := []float32{0.8, 0.9, 0.7}
	keep := NMS(boxes, scores, 0.5)
	want := []int64{1, 2}
	if len(keep) != len(want) {
		t.Fatalf("keep = %v, want %v", keep, want)
	}
	for i := range want {
		if keep[i] != want[i] {
			t.Fatalf("keep = %v, want %v", keep, want)
		}
	}
}

func TestNMSTiesKeepLowerIndex(t *testing.T) {
	boxes := []float32{
		0, 0, 10, 10,
		0, 0, 10, 10,
	}
	scores := []float32{0.5, 0.5}
	keep := NMS(boxes, scores, 0.5)
	if len(keep) != 1 || keep[0] != 0 {
		t.Fatalf("keep = %v, want [0]", keep)
	}
}

func TestBatchedNMSIsolatesGroups(t *testing.T) {
	boxes := []float32{
		0, 0, 10, 10,
		0, 0, 10, 10,
	}
	scores := []float32{0.9, 0.8}
	keep := BatchedNMS(boxes, scores, []int64{0, 1}, 0.5)
	if len(keep) != 2 {
		t.Fatalf("keep = %v, want both boxes across groups", keep)
	}
	if keep[0] != 0 || keep[1] != 1 {
		t.Fatalf("keep = %v, want score order [0 1]", keep)
	}
}

func TestClipBoxesClampsInPlace(t *testing.T) {
	boxes := []float32{-5, -5, 120, 80}
	ClipBoxes(boxes, 100, 110)
	want := []float32{0, 0, 110, 80}
	for i := range want {
		if boxes[i] != want[i] {
			t.Fatalf("boxes = %v, want %v", boxes, want)
		}
	}
}

func TestSmallBoxMaskIsStrict(t *testing.T) {
	boxes := []float32{
		0, 0, 1, 1,
		0, 0, 1.5, 1.5,
		0, 0, 2, 0.5,
	}
	mask := SmallBoxMask(boxes, 1)
	want := []bool{false, true, false}
	for i := range want {
		if mask[i] != want[i] {
			t.Fatalf("mask = %v, want %v", mask, want)
		}
	}
}

func TestRoIAlignConstantPlane(t *testing.T) {
	const h, w = 8, 8
	x := make([]float32, h*w)
	for i := range x {
		x[i] = 3
	}
	rois := []float32{1, 1, 6, 6}
	out := RoIAlign(x, 1, h, w, rois, []int64{0}, 1, 2, 2, 2)
	for i, v := range out {
		if math.Abs(float64(v-3)) > 1e-5 {
			t.Fatalf("bin %d = %v, want 3 everywhere on a constant plane", i, v)
		}
	}
}

func TestRoIAlignOutsideRegionIsZero(t *testing.T) {
	const h, w = 4, 4
	x := make([]float32, h*w)
	for i := range x {
		x[i] = 1
	}
	// Region entirely more than a pixel outside the map samples zeros.
	rois := []float32{10, 10, 14, 14}
	out := RoIAlign(x, 1, h, w, rois, []int64{0}, 1, 2, 2, 2)
	for i, v := range out {
		if v != 0 {
			t.Fatalf("bin %d = %v, want 0 outside the map", i, v)
		}
	}
}

func TestRoIPoolPicksBinMaximum(t *testing.T) {
	const h, w = 6, 6
	x := make([]float32, h*w)
	for i := range x {
		x[i] = float32(i)
	}
	rois := []float32{0, 0, 5, 5}
	out := RoIPool(x, 1, h, w, rois, []int64{0}, 1, 2, 2)
	// Bottom-right bin covers the global maximum.
	if out[3] != float32(h*w-1) {
		t.Fatalf("bottom-right bin = %v, want %v", out[3], h*w-1)
	}
	// Row maxima increase down the output grid.
	if !(out[2] > out[0] && out[3] > out[1]) {
		t.Fatalf("pooled grid not monotone down rows: %v", out)
	}
}

func TestAreaMatchesWidthTimesHeight(t *testing.T) {
	boxes := []float32{
		0, 0, 4, 5,
		1, 1, 3, 2,
	}
	areas := Area(boxes)
	want := []float32{20, 2}
	for i := range want {
		if areas[i] != want[i] {
			t.Fatalf("areas = %v, want %v", areas, want)
		}
	}
}
