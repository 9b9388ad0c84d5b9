package ops

import (
	"math"
	"testing"

	"github.com/retina-ml/retina/internal/tensor"
)

// rampFeature builds a 1x1xHxW map whose value at (y, x) is y*W + x.
func rampFeature(t *testing.T, h, w int) *tensor.RawTensor {
	t.Helper()
	vals := make([]float32, h*w)
	for i := range vals {
		vals[i] = float32(i)
	}
	x, err := tensor.FromFloat32(vals, tensor.Shape{1, 1, h, w})
	if err != nil {
		t.Fatal(err)
	}
	return x
}

func roiTensor(t *testing.T, vals []float32) *tensor.RawTensor {
	t.Helper()
	r, err := tensor.FromFloat32(vals, tensor.Shape{len(vals) / 5, 5})
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func TestRoIAlignShapeAndRange(t *testing.T) {
	m := &RoIAlign{OutputH: 5, OutputW: 5, SpatialScale: 1, SamplingRatio: 2}
	x := rampFeature(t, 10, 10)
	rois := roiTensor(t, []float32{0, 0, 0, 4, 4})

	out, err := m.Apply(x, rois)
	if err != nil {
		t.Fatal(err)
	}
	if !out.Shape().Equal(tensor.Shape{1, 1, 5, 5}) {
		t.Fatalf("shape = %v, want [1 1 5 5]", out.Shape())
	}
	// Averaged bilinear samples stay inside the region's value range.
	for i, v := range out.AsFloat32() {
		if v < 0 || v > 44 {
			t.Fatalf("out[%d] = %v outside sampled region range", i, v)
		}
	}
}

func TestRoIAlignMonotoneAlongRamp(t *testing.T) {
	m := &RoIAlign{OutputH: 4, OutputW: 4, SpatialScale: 1, SamplingRatio: 2}
	x := rampFeature(t, 8, 8)
	rois := roiTensor(t, []float32{0, 1, 1, 6, 6})

	out, err := m.Apply(x, rois)
	if err != nil {
		t.Fatal(err)
	}
	ov := out.AsFloat32()
	// Each pooled row of a linear ramp increases left to right.
	for r := 0; r < 4; r++ {
		for c := 1; c < 4; c++ {
			if ov[r*4+c] <= ov[r*4+c-1] {
				t.Fatalf("row %d not increasing: %v", r, ov[r*4:r*4+4])
			}
		}
	}
}

func TestRoIAlignBoundaryRoiIsFinite(t *testing.T) {
	// A region hanging past the map border must pool to finite values.
	m := &RoIAlign{OutputH: 3, OutputW: 3, SpatialScale: 1, SamplingRatio: 2}
	x := rampFeature(t, 6, 6)
	rois := roiTensor(t, []float32{0, -2, -2, 8, 8})

	out, err := m.Apply(x, rois)
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range out.AsFloat32() {
		if math.IsInf(float64(v), 0) || math.IsNaN(float64(v)) {
			t.Fatalf("out[%d] not finite: %v", i, v)
		}
	}
}

func TestRoIPoolPicksRegionMaximum(t *testing.T) {
	m := &RoIPool{OutputH: 1, OutputW: 1, SpatialScale: 1}
	x := rampFeature(t, 6, 6)
	rois := roiTensor(t, []float32{0, 0, 0, 3, 3})

	out, err := m.Apply(x, rois)
	if err != nil {
		t.Fatal(err)
	}
	ov := out.AsFloat32()
	// Max over rows 0..3, cols 0..3 of the ramp is at (3, 3).
	if len(ov) != 1 || ov[0] != 3*6+3 {
		t.Fatalf("out = %v, want [21]", ov)
	}
}

func TestRoIPoolRejectsBadRois(t *testing.T) {
	m := &RoIPool{OutputH: 2, OutputW: 2, SpatialScale: 1}
	x := rampFeature(t, 4, 4)
	bad, err := tensor.FromFloat32([]float32{0, 0, 3, 3}, tensor.Shape{1, 4})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.Apply(x, bad); err == nil {
		t.Fatal("expected error for rois without batch column")
	}
}
