package detection

import (
	"testing"

	"github.com/retina-ml/retina/internal/tensor"
)

func TestAnchorCountsPerLocation(t *testing.T) {
	a := DefaultAnchorGenerator()
	counts := a.NumAnchorsPerLocation()
	if len(counts) != 5 {
		t.Fatalf("levels = %d, want 5", len(counts))
	}
	for i, c := range counts {
		if c != 3 {
			t.Fatalf("level %d anchors per location = %d, want 3", i, c)
		}
	}
}

func TestCellAnchorsZeroCentered(t *testing.T) {
	a := DefaultAnchorGenerator()
	base := a.cellAnchors(0)
	if len(base) != 3*4 {
		t.Fatalf("cell anchors = %d values, want 12", len(base))
	}
	for i := 0; i < 3; i++ {
		x1, y1, x2, y2 := base[i*4], base[i*4+1], base[i*4+2], base[i*4+3]
		if x1 != -x2 || y1 != -y2 {
			t.Fatalf("anchor %d not centered: %v", i, base[i*4:i*4+4])
		}
		if x2 <= 0 || y2 <= 0 {
			t.Fatalf("anchor %d degenerate: %v", i, base[i*4:i*4+4])
		}
	}
}

func TestCellAnchorsAspectRatios(t *testing.T) {
	a := DefaultAnchorGenerator()
	// Ratio 1 anchors of the 32 level are exactly 32x32.
	base := a.cellAnchors(0)
	w := base[1*4+2] - base[1*4]
	h := base[1*4+3] - base[1*4+1]
	if w != 32 || h != 32 {
		t.Fatalf("square anchor = %vx%v, want 32x32", w, h)
	}
	// Ratio 0.5 is wider than tall, ratio 2 the transpose.
	w0 := base[2] - base[0]
	h0 := base[3] - base[1]
	if w0 <= h0 {
		t.Fatalf("ratio 0.5 anchor not wide: %vx%v", w0, h0)
	}
	w2 := base[2*4+2] - base[2*4]
	h2 := base[2*4+3] - base[2*4+1]
	if w0 != h2 || h0 != w2 {
		t.Fatalf("ratio 2 anchor %vx%v is not the transpose of %vx%v", w2, h2, w0, h0)
	}
}

func TestGridAnchorsLayout(t *testing.T) {
	a := &AnchorGenerator{
		Sizes:        [][]float32{{32}},
		AspectRatios: [][]float32{{1}},
	}
	grids, err := a.GridAnchors(16, 16, []tensor.Shape{{1, 8, 4, 4}})
	if err != nil {
		t.Fatal(err)
	}
	g := grids[0]
	if !g.Shape().Equal(tensor.Shape{16, 4}) {
		t.Fatalf("shape = %v, want [16 4]", g.Shape())
	}
	v := g.AsFloat32()
	// Stride 4: the second anchor sits one cell to the right of the first.
	if v[4]-v[0] != 4 || v[5] != v[1] {
		t.Fatalf("x stride wrong: first %v second %v", v[0:4], v[4:8])
	}
	// Row stride: anchor at position (1, 0) shifts down by 4.
	if v[4*4+1]-v[1] != 4 || v[4*4] != v[0] {
		t.Fatalf("y stride wrong: first %v row2 %v", v[0:4], v[16:20])
	}
}

func TestGridAnchorsLevelMismatch(t *testing.T) {
	a := DefaultAnchorGenerator()
	if _, err := a.GridAnchors(64, 64, []tensor.Shape{{1, 8, 4, 4}}); err == nil {
		t.Fatal("expected level count mismatch error")
	}
}
