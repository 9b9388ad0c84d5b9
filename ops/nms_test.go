package ops

import (
	"testing"

	"github.com/retina-ml/retina/internal/tensor"
)

func boxTensor(t *testing.T, vals []float32) *tensor.RawTensor {
	t.Helper()
	bt, err := tensor.FromFloat32(vals, tensor.Shape{len(vals) / 4, 4})
	if err != nil {
		t.Fatal(err)
	}
	return bt
}

func scoreTensor(t *testing.T, vals []float32) *tensor.RawTensor {
	t.Helper()
	st, err := tensor.FromFloat32(vals, tensor.Shape{len(vals)})
	if err != nil {
		t.Fatal(err)
	}
	return st
}

func TestNMSSuppressesOverlaps(t *testing.T) {
	boxes := boxTensor(t, []float32{
		0, 0, 10, 10,
		1, 1, 11, 11,
		50, 50, 60, 60,
	})
	scores := scoreTensor(t, []float32{0.9, 0.8, 0.7})

	keep, err := NMS(boxes, scores, 0.5)
	if err != nil {
		t.Fatal(err)
	}
	got := keep.AsInt64()
	want := []int64{0, 2}
	if len(got) != len(want) {
		t.Fatalf("keep = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("keep = %v, want %v", got, want)
		}
	}
}

func TestNMSEqualScoresKeepLowerIndexFirst(t *testing.T) {
	// Identical boxes with identical scores: the lower index wins and
	// suppresses the rest.
	boxes := boxTensor(t, []float32{
		0, 0, 10, 10,
		0, 0, 10, 10,
		0, 0, 10, 10,
	})
	scores := scoreTensor(t, []float32{0.5, 0.5, 0.5})

	keep, err := NMS(boxes, scores, 0.5)
	if err != nil {
		t.Fatal(err)
	}
	got := keep.AsInt64()
	if len(got) != 1 || got[0] != 0 {
		t.Fatalf("keep = %v, want [0]", got)
	}
}

func TestNMSRejectsBadShapes(t *testing.T) {
	boxes := boxTensor(t, []float32{0, 0, 1, 1})
	scores := scoreTensor(t, []float32{0.5, 0.5})
	if _, err := NMS(boxes, scores, 0.5); err == nil {
		t.Fatal("expected shape mismatch error")
	}
}

func TestBatchedNMSKeepsSeparateGroups(t *testing.T) {
	// Same geometry in two groups: suppression must not cross groups.
	boxes := boxTensor(t, []float32{
		0, 0, 10, 10,
		1, 1, 11, 11,
		0, 0, 10, 10,
	})
	scores := scoreTensor(t, []float32{0.9, 0.8, 0.85})
	idxs, err := tensor.FromInt64([]int64{0, 0, 1}, tensor.Shape{3})
	if err != nil {
		t.Fatal(err)
	}

	keep, err := BatchedNMS(boxes, scores, idxs, 0.5)
	if err != nil {
		t.Fatal(err)
	}
	got := keep.AsInt64()
	want := []int64{0, 2}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("keep = %v, want %v", got, want)
	}
}

func TestNMSModuleForward(t *testing.T) {
	m := &NMSModule{IoUThreshold: 0.5}
	boxes := boxTensor(t, []float32{
		0, 0, 10, 10,
		0.5, 0.5, 10.5, 10.5,
	})
	scores := scoreTensor(t, []float32{0.6, 0.9})

	outs, err := m.Forward([]*tensor.RawTensor{boxes, scores})
	if err != nil {
		t.Fatal(err)
	}
	got := outs[0].AsInt64()
	if len(got) != 1 || got[0] != 1 {
		t.Fatalf("keep = %v, want [1]", got)
	}
}
