package detection

import (
	"math/rand"
	"testing"

	"github.com/retina-ml/retina/internal/tensor"
	"github.com/retina-ml/retina/ops"
)

func testRoIHeads(t *testing.T, channels, numClasses int, imageSize [2]int) *RoIHeads {
	t.Helper()
	g := rand.New(rand.NewSource(5))
	pool := &ops.MultiScaleRoIAlign{
		OutputSize:    7,
		SamplingRatio: 2,
		ImageSize:     imageSize,
	}
	head := NewTwoMLPHead(g, channels*7*7, 128)
	pred := NewFastRCNNPredictor(g, 128, numClasses)
	return NewRoIHeads(pool, head, pred, numClasses)
}

func TestRoIHeadsForwardWellFormed(t *testing.T) {
	heads := testRoIHeads(t, 8, 11, [2]int{256, 256})
	g := rand.New(rand.NewSource(9))
	feats := []*tensor.RawTensor{
		tensor.Rand(g, tensor.Shape{1, 8, 64, 64}),
		tensor.Rand(g, tensor.Shape{1, 8, 16, 16}),
	}
	proposals, err := tensor.FromFloat32([]float32{
		10, 10, 60, 60,
		30, 40, 200, 220,
		0, 0, 250, 250,
		100, 100, 130, 140,
	}, tensor.Shape{4, 4})
	if err != nil {
		t.Fatal(err)
	}

	det, err := heads.Forward(feats, proposals, [2]int{256, 256})
	if err != nil {
		t.Fatal(err)
	}

	k := det.Boxes.Shape()[0]
	if k > heads.DetectionsCap {
		t.Fatalf("detections = %d, above cap %d", k, heads.DetectionsCap)
	}
	if det.Scores.Shape()[0] != k || det.Labels.Shape()[0] != k {
		t.Fatalf("mismatched output sizes: boxes %d scores %v labels %v",
			k, det.Scores.Shape(), det.Labels.Shape())
	}
	for i, s := range det.Scores.AsFloat32() {
		if s <= heads.ScoreThresh {
			t.Fatalf("score %d = %v at or below threshold %v", i, s, heads.ScoreThresh)
		}
		if i > 0 && s > det.Scores.AsFloat32()[i-1] {
			t.Fatalf("scores not descending at %d", i)
		}
	}
	for i, l := range det.Labels.AsInt64() {
		if l < 1 || l >= 11 {
			t.Fatalf("label %d = %d outside [1, 10]", i, l)
		}
	}
	for i, v := range det.Boxes.AsFloat32() {
		if v < 0 || v > 256 {
			t.Fatalf("coordinate %d = %v outside image", i, v)
		}
	}
}

func TestRoIHeadsBackgroundNeverPredicted(t *testing.T) {
	heads := testRoIHeads(t, 8, 3, [2]int{128, 128})
	g := rand.New(rand.NewSource(13))
	feats := []*tensor.RawTensor{
		tensor.Rand(g, tensor.Shape{1, 8, 32, 32}),
	}
	proposals, err := tensor.FromFloat32([]float32{
		5, 5, 100, 100,
		20, 20, 90, 110,
	}, tensor.Shape{2, 4})
	if err != nil {
		t.Fatal(err)
	}

	det, err := heads.Forward(feats, proposals, [2]int{128, 128})
	if err != nil {
		t.Fatal(err)
	}
	for _, l := range det.Labels.AsInt64() {
		if l == 0 {
			t.Fatal("background label in detections")
		}
	}
}

func TestTwoMLPHeadShapes(t *testing.T) {
	g := rand.New(rand.NewSource(1))
	head := NewTwoMLPHead(g, 8*7*7, 64)
	x := tensor.Rand(g, tensor.Shape{5, 8, 7, 7})

	y, err := head.Apply(x)
	if err != nil {
		t.Fatal(err)
	}
	if !y.Shape().Equal(tensor.Shape{5, 64}) {
		t.Fatalf("shape = %v, want [5 64]", y.Shape())
	}
	for i, v := range y.AsFloat32() {
		if v < 0 {
			t.Fatalf("relu output %d negative: %v", i, v)
		}
	}
}

func TestFastRCNNPredictorShapes(t *testing.T) {
	g := rand.New(rand.NewSource(2))
	pred := NewFastRCNNPredictor(g, 64, 91)
	x := tensor.Rand(g, tensor.Shape{3, 64})

	logits, deltas, err := pred.Apply(x)
	if err != nil {
		t.Fatal(err)
	}
	if !logits.Shape().Equal(tensor.Shape{3, 91}) {
		t.Fatalf("logits shape = %v, want [3 91]", logits.Shape())
	}
	if !deltas.Shape().Equal(tensor.Shape{3, 364}) {
		t.Fatalf("deltas shape = %v, want [3 364]", deltas.Shape())
	}
}
