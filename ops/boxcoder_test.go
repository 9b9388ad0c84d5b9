package ops

import (
	"math"
	"testing"

	"github.com/retina-ml/retina/internal/tensor"
)

func TestBoxCoderRoundTrip(t *testing.T) {
	c := BoxCoder{Weights: [4]float32{10, 10, 5, 5}}
	reference := boxTensor(t, []float32{
		2, 3, 20, 33,
		5, 5, 15, 25,
	})
	proposals := boxTensor(t, []float32{
		0, 0, 16, 30,
		4, 6, 18, 22,
	})

	codes, err := c.Encode(reference, proposals)
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := c.Decode(codes, proposals)
	if err != nil {
		t.Fatal(err)
	}

	ref := reference.AsFloat32()
	got := decoded.AsFloat32()
	for i := range ref {
		if math.Abs(float64(got[i]-ref[i])) > 1e-3 {
			t.Fatalf("decoded[%d] = %v, want %v", i, got[i], ref[i])
		}
	}
}

func TestBoxCoderZeroDeltasIdentity(t *testing.T) {
	c := DefaultBoxCoder()
	boxes := boxTensor(t, []float32{1, 2, 9, 12})
	codes, err := tensor.FromFloat32([]float32{0, 0, 0, 0}, tensor.Shape{1, 4})
	if err != nil {
		t.Fatal(err)
	}

	decoded, err := c.Decode(codes, boxes)
	if err != nil {
		t.Fatal(err)
	}
	bv, dv := boxes.AsFloat32(), decoded.AsFloat32()
	for i := range bv {
		if math.Abs(float64(dv[i]-bv[i])) > 1e-5 {
			t.Fatalf("decoded[%d] = %v, want %v", i, dv[i], bv[i])
		}
	}
}

func TestBoxCoderClampsExtremeDeltas(t *testing.T) {
	c := DefaultBoxCoder()
	boxes := boxTensor(t, []float32{0, 0, 10, 10})
	codes, err := tensor.FromFloat32([]float32{0, 0, 100, 100}, tensor.Shape{1, 4})
	if err != nil {
		t.Fatal(err)
	}

	decoded, err := c.Decode(codes, boxes)
	if err != nil {
		t.Fatal(err)
	}
	dv := decoded.AsFloat32()
	maxW := float32(math.Exp(float64(BBoxXformClip))) * 10
	if got := dv[2] - dv[0]; got > maxW+1e-2 {
		t.Fatalf("decoded width %v exceeds clamp limit %v", got, maxW)
	}
	for i, v := range dv {
		if math.IsInf(float64(v), 0) || math.IsNaN(float64(v)) {
			t.Fatalf("decoded[%d] is not finite: %v", i, v)
		}
	}
}
