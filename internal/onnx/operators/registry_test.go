package operators

import (
	"math"
	"testing"

	"github.com/retina-ml/retina/internal/tensor"
)

func floats(t *testing.T, data []float32, shape ...int) *tensor.RawTensor {
	t.Helper()
	out, err := tensor.FromFloat32(data, tensor.Shape(shape))
	if err != nil {
		t.Fatal(err)
	}
	return out
}

func ints(t *testing.T, data []int64, shape ...int) *tensor.RawTensor {
	t.Helper()
	out, err := tensor.FromInt64(data, tensor.Shape(shape))
	if err != nil {
		t.Fatal(err)
	}
	return out
}

func TestNewRegistry(t *testing.T) {
	r := NewRegistry()

	essentialOps := []string{
		"Add", "Sub", "Mul", "Div", "Min", "Max", "MatMul", "Gemm", "Conv",
		"Relu", "Sigmoid", "Softmax",
		"Reshape", "Transpose", "Concat", "Slice", "Gather", "Shape",
		"Clip", "Where", "Greater", "NonZero", "TopK", "Resize",
		"NonMaxSuppression", "RoiAlign", "MaxRoiPool",
	}

	for _, op := range essentialOps {
		if _, ok := r.Get(op); !ok {
			t.Errorf("expected operator %s to be registered", op)
		}
	}
}

func TestRegistryGetUnknown(t *testing.T) {
	r := NewRegistry()

	if _, ok := r.Get("UnknownOp"); ok {
		t.Error("expected unknown operator to not be found")
	}
}

func TestRegisterCustomOp(t *testing.T) {
	r := NewRegistry()

	r.Register("MyCustomOp", func(_ *Node, _ []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
		return nil, nil
	})

	if _, ok := r.Get("MyCustomOp"); !ok {
		t.Error("expected custom operator to be registered")
	}
}

func TestGemmTransB(t *testing.T) {
	r := NewRegistry()
	node := &Node{OpType: "Gemm", Attributes: []Attribute{
		{Name: "transB", Type: 2, I: 1},
	}}

	a := floats(t, []float32{1, 2}, 1, 2)
	w := floats(t, []float32{3, 4, 5, 6}, 2, 2) // rows are output units
	c := floats(t, []float32{10, 20}, 2)

	outs, err := r.Execute(node, []*tensor.RawTensor{a, w, c})
	if err != nil {
		t.Fatalf("Gemm failed: %v", err)
	}
	got := outs[0].AsFloat32()
	// [1*3+2*4+10, 1*5+2*6+20] = [21, 37]
	if got[0] != 21 || got[1] != 37 {
		t.Errorf("gemm = %v, want [21 37]", got)
	}
}

func TestSliceClampsEnds(t *testing.T) {
	r := NewRegistry()
	node := &Node{OpType: "Slice"}

	x := floats(t, []float32{0, 1, 2, 3, 4}, 5)
	outs, err := r.Execute(node, []*tensor.RawTensor{
		x, ints(t, []int64{2}, 1), ints(t, []int64{1000}, 1), ints(t, []int64{0}, 1),
	})
	if err != nil {
		t.Fatalf("Slice failed: %v", err)
	}
	got := outs[0].AsFloat32()
	if len(got) != 3 || got[0] != 2 || got[2] != 4 {
		t.Errorf("slice = %v, want [2 3 4]", got)
	}
}

func TestTopKBreaksTiesTowardLowerIndex(t *testing.T) {
	r := NewRegistry()
	node := &Node{OpType: "TopK", Attributes: []Attribute{{Name: "axis", Type: 2, I: 0}}}

	x := floats(t, []float32{0.5, 0.9, 0.9, 0.1}, 4)
	outs, err := r.Execute(node, []*tensor.RawTensor{x, ints(t, []int64{3}, 1)})
	if err != nil {
		t.Fatalf("TopK failed: %v", err)
	}
	idx := outs[1].AsInt64()
	if idx[0] != 1 || idx[1] != 2 || idx[2] != 0 {
		t.Errorf("topk indices = %v, want [1 2 0]", idx)
	}
}

func TestNonMaxSuppressionSelectsTriples(t *testing.T) {
	r := NewRegistry()
	node := &Node{OpType: "NonMaxSuppression"}

	// Two heavily overlapping boxes and one separate box.
	boxes := floats(t, []float32{
		0, 0, 10, 10,
		1, 1, 11, 11,
		50, 50, 60, 60,
	}, 1, 3, 4)
	scores := floats(t, []float32{0.9, 0.8, 0.7}, 1, 1, 3)

	outs, err := r.Execute(node, []*tensor.RawTensor{
		boxes, scores, ints(t, []int64{10}, 1),
		floats(t, []float32{0.5}, 1), floats(t, []float32{0}, 1),
	})
	if err != nil {
		t.Fatalf("NonMaxSuppression failed: %v", err)
	}

	sel := outs[0].AsInt64()
	if outs[0].Shape()[0] != 2 || outs[0].Shape()[1] != 3 {
		t.Fatalf("selection shape = %v, want [2 3]", outs[0].Shape())
	}
	// Rows are (batch, class, box); box 1 is suppressed by box 0.
	if sel[2] != 0 || sel[5] != 2 {
		t.Errorf("selected boxes = [%d %d], want [0 2]", sel[2], sel[5])
	}
}

func TestRoiAlignWholeMapAverage(t *testing.T) {
	r := NewRegistry()
	node := &Node{OpType: "RoiAlign", Attributes: []Attribute{
		{Name: "output_height", Type: 2, I: 1},
		{Name: "output_width", Type: 2, I: 1},
		{Name: "sampling_ratio", Type: 2, I: 2},
		{Name: "spatial_scale", Type: 1, F: 1.0},
	}}

	// 1x1x2x2 map of a constant value: any pooled cell averages to it.
	x := floats(t, []float32{3, 3, 3, 3}, 1, 1, 2, 2)
	rois := floats(t, []float32{0, 0, 1, 1}, 1, 4)
	batchIdx := ints(t, []int64{0}, 1)

	outs, err := r.Execute(node, []*tensor.RawTensor{x, rois, batchIdx})
	if err != nil {
		t.Fatalf("RoiAlign failed: %v", err)
	}
	got := outs[0].AsFloat32()[0]
	if math.Abs(float64(got-3)) > 1e-6 {
		t.Errorf("pooled = %v, want 3", got)
	}
}

func TestMaxRoiPoolPicksMaximum(t *testing.T) {
	r := NewRegistry()
	node := &Node{OpType: "MaxRoiPool", Attributes: []Attribute{
		{Name: "pooled_shape", Type: 7, Ints: []int64{1, 1}},
		{Name: "spatial_scale", Type: 1, F: 1.0},
	}}

	x := floats(t, []float32{1, 2, 3, 9}, 1, 1, 2, 2)
	rois := floats(t, []float32{0, 0, 0, 1, 1}, 1, 5)

	outs, err := r.Execute(node, []*tensor.RawTensor{x, rois})
	if err != nil {
		t.Fatalf("MaxRoiPool failed: %v", err)
	}
	if got := outs[0].AsFloat32()[0]; got != 9 {
		t.Errorf("pooled = %v, want 9", got)
	}
}

func TestResizeRequiresAsymmetricLinear(t *testing.T) {
	r := NewRegistry()
	x := floats(t, []float32{1, 2, 3, 4}, 1, 1, 2, 2)
	sizes := ints(t, []int64{1, 1, 4, 4}, 4)

	node := &Node{OpType: "Resize", Attributes: []Attribute{
		{Name: "mode", Type: 3, S: []byte("linear")},
		{Name: "coordinate_transformation_mode", Type: 3, S: []byte("asymmetric")},
	}}
	outs, err := r.Execute(node, []*tensor.RawTensor{x, nil, nil, sizes})
	if err != nil {
		t.Fatalf("Resize failed: %v", err)
	}
	if got := outs[0].Shape(); got[2] != 4 || got[3] != 4 {
		t.Errorf("resized shape = %v, want [1 1 4 4]", got)
	}
	if got := outs[0].AsFloat32()[0]; got != 1 {
		t.Errorf("corner = %v, want 1 (asymmetric keeps origin)", got)
	}

	bad := &Node{OpType: "Resize", Attributes: []Attribute{
		{Name: "mode", Type: 3, S: []byte("nearest")},
	}}
	if _, err := r.Execute(bad, []*tensor.RawTensor{x, nil, nil, sizes}); err == nil {
		t.Error("expected error for nearest mode")
	}
}

func TestNonZeroLayout(t *testing.T) {
	r := NewRegistry()
	node := &Node{OpType: "NonZero"}

	x := floats(t, []float32{0, 5, 0, 7}, 2, 2)
	outs, err := r.Execute(node, []*tensor.RawTensor{x})
	if err != nil {
		t.Fatalf("NonZero failed: %v", err)
	}
	if got := outs[0].Shape(); got[0] != 2 || got[1] != 2 {
		t.Fatalf("nonzero shape = %v, want [2 2]", got)
	}
	got := outs[0].AsInt64()
	// Coordinates (0,1) and (1,1) in [rank, count] layout.
	if got[0] != 0 || got[1] != 1 || got[2] != 1 || got[3] != 1 {
		t.Errorf("nonzero = %v, want [0 1 1 1]", got)
	}
}
