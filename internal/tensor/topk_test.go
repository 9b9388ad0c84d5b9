package tensor

import (
	"math"
	"testing"
)

func TestTopKOrdersDescending(t *testing.T) {
	x := f32(t, []float32{3, 1, 4, 1, 5}, Shape{5})
	vals, idx, err := TopK(x, 3, 0)
	if err != nil {
		t.Fatal(err)
	}
	wantFloats(t, vals, []float32{5, 4, 3})
	wantIdx := []int64{4, 2, 0}
	for i, v := range idx.AsInt64() {
		if v != wantIdx[i] {
			t.Fatalf("indices = %v, want %v", idx.AsInt64(), wantIdx)
		}
	}
}

func TestTopKTiesPreferLowerIndex(t *testing.T) {
	x := f32(t, []float32{2, 7, 7, 7, 1}, Shape{5})
	_, idx, err := TopK(x, 3, 0)
	if err != nil {
		t.Fatal(err)
	}
	want := []int64{1, 2, 3}
	for i, v := range idx.AsInt64() {
		if v != want[i] {
			t.Fatalf("indices = %v, want %v", idx.AsInt64(), want)
		}
	}
}

func TestTopKAlongInnerAxis(t *testing.T) {
	x := f32(t, []float32{
		1, 9, 3,
		8, 2, 4,
	}, Shape{2, 3})
	vals, idx, err := TopK(x, 1, 1)
	if err != nil {
		t.Fatal(err)
	}
	wantFloats(t, vals, []float32{9, 8})
	wantIdx := []int64{1, 0}
	for i, v := range idx.AsInt64() {
		if v != wantIdx[i] {
			t.Fatalf("indices = %v, want %v", idx.AsInt64(), wantIdx)
		}
	}
}

func TestTopKRejectsOversizedK(t *testing.T) {
	x := f32(t, []float32{1, 2}, Shape{2})
	if _, _, err := TopK(x, 3, 0); err == nil {
		t.Fatal("expected error for k larger than axis")
	}
}

func TestArgsortStableAscending(t *testing.T) {
	x := f32(t, []float32{3, 1, 3, 0}, Shape{4})
	idx, err := Argsort(x)
	if err != nil {
		t.Fatal(err)
	}
	want := []int64{3, 1, 0, 2}
	for i, v := range idx.AsInt64() {
		if v != want[i] {
			t.Fatalf("order = %v, want %v", idx.AsInt64(), want)
		}
	}
}

func TestSoftmaxRowsSumToOne(t *testing.T) {
	x := f32(t, []float32{
		1, 2, 3,
		-1, 0, 1,
	}, Shape{2, 3})
	y, err := Softmax(x, -1)
	if err != nil {
		t.Fatal(err)
	}
	v := y.AsFloat32()
	for r := 0; r < 2; r++ {
		sum := float64(0)
		for c := 0; c < 3; c++ {
			sum += float64(v[r*3+c])
		}
		if math.Abs(sum-1) > 1e-5 {
			t.Fatalf("row %d sums to %v, want 1", r, sum)
		}
		if !(v[r*3+2] > v[r*3+1] && v[r*3+1] > v[r*3]) {
			t.Fatalf("row %d not monotone: %v", r, v[r*3:r*3+3])
		}
	}
}

func TestSoftmaxHandlesLargeInputs(t *testing.T) {
	x := f32(t, []float32{1000, 1001}, Shape{2})
	y, err := Softmax(x, 0)
	if err != nil {
		t.Fatal(err)
	}
	for _, v := range y.AsFloat32() {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			t.Fatalf("softmax overflowed: %v", y.AsFloat32())
		}
	}
}
