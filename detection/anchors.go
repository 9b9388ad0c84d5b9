package detection

import (
	"fmt"
	"math"

	"github.com/retina-ml/retina/internal/tensor"
)

// AnchorGenerator produces reference boxes over feature map grids. Each
// pyramid level gets its own anchor sizes; aspect ratios are shared per
// level. Anchors are expressed in input-image coordinates.
type AnchorGenerator struct {
	Sizes        [][]float32
	AspectRatios [][]float32
}

// DefaultAnchorGenerator matches the standard FPN configuration: one size
// per level doubling from 32, three aspect ratios everywhere.
func DefaultAnchorGenerator() *AnchorGenerator {
	sizes := [][]float32{{32}, {64}, {128}, {256}, {512}}
	ratios := make([][]float32, len(sizes))
	for i := range ratios {
		ratios[i] = []float32{0.5, 1, 2}
	}
	return &AnchorGenerator{Sizes: sizes, AspectRatios: ratios}
}

// NumAnchorsPerLocation returns the anchor count at a single grid cell of
// each level.
func (a *AnchorGenerator) NumAnchorsPerLocation() []int {
	out := make([]int, len(a.Sizes))
	for i := range a.Sizes {
		out[i] = len(a.Sizes[i]) * len(a.AspectRatios[i])
	}
	return out
}

// cellAnchors builds the zero-centered anchors for one level, rounded to
// whole pixels.
func (a *AnchorGenerator) cellAnchors(level int) []float32 {
	sizes := a.Sizes[level]
	ratios := a.AspectRatios[level]
	out := make([]float32, 0, len(sizes)*len(ratios)*4)
	for _, r := range ratios {
		hr := float32(math.Sqrt(float64(r)))
		wr := 1 / hr
		for _, s := range sizes {
			w := float32(math.Round(float64(wr * s / 2)))
			h := float32(math.Round(float64(hr * s / 2)))
			out = append(out, -w, -h, w, h)
		}
	}
	return out
}

// GridAnchors returns one [H*W*A, 4] anchor tensor per level. The grid
// walks rows first, columns second, anchors innermost; strides are derived
// from the image extent and each level's feature extent.
func (a *AnchorGenerator) GridAnchors(imageH, imageW int, featShapes []tensor.Shape) ([]*tensor.RawTensor, error) {
	if len(featShapes) != len(a.Sizes) {
		return nil, fmt.Errorf("anchors: %d feature maps for %d levels", len(featShapes), len(a.Sizes))
	}
	out := make([]*tensor.RawTensor, len(featShapes))
	for l, fs := range featShapes {
		if len(fs) != 4 {
			return nil, fmt.Errorf("anchors: feature %d is not NCHW: %v", l, fs)
		}
		h, w := fs[2], fs[3]
		strideY := float32(imageH / h)
		strideX := float32(imageW / w)
		base := a.cellAnchors(l)
		na := len(base) / 4

		vals := make([]float32, h*w*na*4)
		i := 0
		for y := 0; y < h; y++ {
			sy := float32(y) * strideY
			for x := 0; x < w; x++ {
				sx := float32(x) * strideX
				for k := 0; k < na; k++ {
					vals[i] = base[k*4] + sx
					vals[i+1] = base[k*4+1] + sy
					vals[i+2] = base[k*4+2] + sx
					vals[i+3] = base[k*4+3] + sy
					i += 4
				}
			}
		}
		t, err := tensor.FromFloat32(vals, tensor.Shape{h * w * na, 4})
		if err != nil {
			return nil, err
		}
		out[l] = t
	}
	return out, nil
}
