package detection

import (
	"math"
	"math/rand"
	"testing"

	"github.com/retina-ml/retina/internal/tensor"
)

func TestTransformResizedSize(t *testing.T) {
	tr := NewGeneralizedRCNNTransform()

	// Short side reaches 800 when the long side stays under 1333.
	h, w := tr.ResizedSize(400, 500)
	if h != 800 || w != 1000 {
		t.Fatalf("resized = %dx%d, want 800x1000", h, w)
	}

	// Long side caps at 1333 when scaling the short side would pass it.
	h, w = tr.ResizedSize(200, 600)
	if w < 1332 || w > 1333 {
		t.Fatalf("long side = %d, want about 1333", w)
	}
	if h > 800 {
		t.Fatalf("short side = %d, must stay below 800 under the cap", h)
	}
}

func TestTransformOutputDivisibleBy32(t *testing.T) {
	tr := NewGeneralizedRCNNTransform()
	g := rand.New(rand.NewSource(21))
	x := tensor.Rand(g, tensor.Shape{1, 3, 100, 200})

	il, err := tr.Forward(x)
	if err != nil {
		t.Fatal(err)
	}
	s := il.Tensors.Shape()
	if s[2]%32 != 0 || s[3]%32 != 0 {
		t.Fatalf("padded extent %dx%d not divisible by 32", s[2], s[3])
	}
	if il.Sizes[0][0] > s[2] || il.Sizes[0][1] > s[3] {
		t.Fatalf("resized size %v larger than padded %v", il.Sizes[0], s)
	}
}

func TestTransformNormalization(t *testing.T) {
	tr := NewGeneralizedRCNNTransform()
	// Constant image equal to the channel means normalizes to zero.
	x := tensor.Zeros(tensor.Shape{1, 3, 64, 64})
	xv := x.AsFloat32()
	plane := 64 * 64
	for c := 0; c < 3; c++ {
		for i := 0; i < plane; i++ {
			xv[c*plane+i] = tr.ImageMean[c]
		}
	}

	norm := tr.normalize(x)
	for i, v := range norm.AsFloat32() {
		if math.Abs(float64(v)) > 1e-6 {
			t.Fatalf("normalized[%d] = %v, want 0", i, v)
		}
	}
}

func TestTransformPostprocessRescales(t *testing.T) {
	tr := NewGeneralizedRCNNTransform()
	boxes, err := tensor.FromFloat32([]float32{10, 20, 110, 220}, tensor.Shape{1, 4})
	if err != nil {
		t.Fatal(err)
	}

	tr.Postprocess(boxes, [2]int{800, 800}, [2]int{400, 400})
	bv := boxes.AsFloat32()
	want := []float32{5, 10, 55, 110}
	for i := range want {
		if bv[i] != want[i] {
			t.Fatalf("boxes = %v, want %v", bv, want)
		}
	}
}

func TestTransformRejectsNonImageInput(t *testing.T) {
	tr := NewGeneralizedRCNNTransform()
	x := tensor.Zeros(tensor.Shape{1, 4, 32, 32})
	if _, err := tr.Forward(x); err == nil {
		t.Fatal("expected channel count error")
	}
}
