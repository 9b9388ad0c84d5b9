package detection

import (
	"math/rand"
	"testing"

	"github.com/retina-ml/retina/internal/tensor"
)

func testRPN(t *testing.T, channels int, levels int) *RegionProposalNetwork {
	t.Helper()
	g := rand.New(rand.NewSource(3))
	sizes := make([][]float32, levels)
	ratios := make([][]float32, levels)
	for i := range sizes {
		sizes[i] = []float32{float32(int(32) << i)}
		ratios[i] = []float32{0.5, 1, 2}
	}
	anchors := &AnchorGenerator{Sizes: sizes, AspectRatios: ratios}
	head := NewRPNHead(g, channels, 3)
	return NewRegionProposalNetwork(anchors, head, 200, 50, 0.7)
}

func testPyramidBatch(t *testing.T, n, channels, imgSize, levels int) (*ImageList, []*tensor.RawTensor) {
	t.Helper()
	g := rand.New(rand.NewSource(7))
	images := tensor.Rand(g, tensor.Shape{n, 3, imgSize, imgSize})
	feats := make([]*tensor.RawTensor, levels)
	for l := range feats {
		s := imgSize / (4 << l)
		feats[l] = tensor.Rand(g, tensor.Shape{n, channels, s, s})
	}
	return NewImageList(images, nil), feats
}

func TestRPNForwardShapes(t *testing.T) {
	rpn := testRPN(t, 16, 3)
	images, feats := testPyramidBatch(t, 2, 16, 128, 3)

	boxes, scores, err := rpn.Forward(images, feats)
	if err != nil {
		t.Fatal(err)
	}
	if len(boxes) != 2 || len(scores) != 2 {
		t.Fatalf("got %d/%d outputs, want 2/2", len(boxes), len(scores))
	}
	for i := range boxes {
		bs := boxes[i].Shape()
		if len(bs) != 2 || bs[1] != 4 {
			t.Fatalf("image %d boxes shape = %v", i, bs)
		}
		if bs[0] > rpn.PostNMSTopN {
			t.Fatalf("image %d proposals = %d, above cap %d", i, bs[0], rpn.PostNMSTopN)
		}
		if scores[i].Shape()[0] != bs[0] {
			t.Fatalf("image %d scores %v do not match boxes %v", i, scores[i].Shape(), bs)
		}
	}
}

func TestRPNProposalsInsideImage(t *testing.T) {
	rpn := testRPN(t, 16, 3)
	images, feats := testPyramidBatch(t, 1, 16, 128, 3)

	boxes, _, err := rpn.Forward(images, feats)
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range boxes[0].AsFloat32() {
		if v < 0 || v > 128 {
			t.Fatalf("coordinate %d = %v outside [0, 128]", i, v)
		}
	}
}

func TestRPNScoresDescendAndValid(t *testing.T) {
	rpn := testRPN(t, 16, 3)
	images, feats := testPyramidBatch(t, 1, 16, 128, 3)

	_, scores, err := rpn.Forward(images, feats)
	if err != nil {
		t.Fatal(err)
	}
	sv := scores[0].AsFloat32()
	for i, v := range sv {
		if v <= 0 || v >= 1 {
			t.Fatalf("score %d = %v outside (0, 1)", i, v)
		}
		if i > 0 && sv[i] > sv[i-1] {
			t.Fatalf("scores not descending at %d: %v > %v", i, sv[i], sv[i-1])
		}
	}
}

func TestRPNProposalsHavePositiveExtent(t *testing.T) {
	rpn := testRPN(t, 16, 3)
	images, feats := testPyramidBatch(t, 1, 16, 128, 3)

	boxes, _, err := rpn.Forward(images, feats)
	if err != nil {
		t.Fatal(err)
	}
	bv := boxes[0].AsFloat32()
	for i := 0; i < len(bv)/4; i++ {
		if bv[i*4+2]-bv[i*4] <= rpn.MinSize || bv[i*4+3]-bv[i*4+1] <= rpn.MinSize {
			t.Fatalf("proposal %d too small: %v", i, bv[i*4:i*4+4])
		}
	}
}

func TestRPNEmitRequiresSetup(t *testing.T) {
	rpn := testRPN(t, 16, 3)
	if _, _, err := rpn.Emit(nil, nil); err == nil {
		t.Fatal("expected error before Setup")
	}
}

func TestTopKIndicesClampsAndOrders(t *testing.T) {
	idx, err := topKIndices([]float32{0.2, 0.9, 0.5}, 10)
	if err != nil {
		t.Fatal(err)
	}
	want := []int{1, 2, 0}
	if len(idx) != len(want) {
		t.Fatalf("indices = %v, want %v", idx, want)
	}
	for i := range want {
		if idx[i] != want[i] {
			t.Fatalf("indices = %v, want %v", idx, want)
		}
	}
}
