package ops

import (
	"fmt"
	"math"

	"github.com/retina-ml/retina/internal/onnx"
	"github.com/retina-ml/retina/internal/tensor"
	"github.com/retina-ml/retina/internal/vision"
)

const (
	// canonicalScale and canonicalLevel anchor the FPN level assignment:
	// a box of roughly 224x224 pixels maps onto pyramid level 4.
	canonicalScale = 224
	canonicalLevel = 4
	levelEps       = 1e-6
)

// MultiScaleRoIAlign pools boxes from a feature pyramid, assigning each box
// to a level by its area and aligning against that level's feature map.
// Inputs are the per-level NCHW feature maps followed by boxes [K, 4] for a
// single image.
type MultiScaleRoIAlign struct {
	OutputSize    int
	SamplingRatio int
	// ImageSize is the (height, width) the boxes are expressed in; level
	// scales are inferred from it and the feature map extents.
	ImageSize [2]int

	scales []float32
	lvlMin int
	lvlMax int
}

// inferScale snaps the feature/image size ratio onto the nearest power of
// two, per spatial dimension, and requires both dimensions to agree.
func (m *MultiScaleRoIAlign) inferScale(featH, featW int) (float32, error) {
	snap := func(feat, orig int) float32 {
		approx := float64(feat) / float64(orig)
		return float32(math.Pow(2, math.Round(math.Log2(approx))))
	}
	sh := snap(featH, m.ImageSize[0])
	sw := snap(featW, m.ImageSize[1])
	if sh != sw {
		return 0, fmt.Errorf("multiscale roi align: anisotropic scale %v x %v for feature %dx%d", sh, sw, featH, featW)
	}
	return sh, nil
}

// SetupScales fixes the per-level spatial scales from the feature map
// shapes. It must run before Emit; Forward calls it on its actual inputs.
func (m *MultiScaleRoIAlign) SetupScales(featShapes []tensor.Shape) error {
	if len(featShapes) == 0 {
		return fmt.Errorf("multiscale roi align: no feature maps")
	}
	scales := make([]float32, len(featShapes))
	for i, fs := range featShapes {
		if len(fs) != 4 {
			return fmt.Errorf("multiscale roi align: feature %d is not NCHW: %v", i, fs)
		}
		s, err := m.inferScale(fs[2], fs[3])
		if err != nil {
			return err
		}
		scales[i] = s
	}
	m.scales = scales
	m.lvlMin = -int(math.Log2(float64(scales[0])))
	// Levels are indexed consecutively from the finest map, so every box
	// lands on an existing feature map.
	m.lvlMax = m.lvlMin + len(scales) - 1
	return nil
}

// log2f mirrors the graph-side Log/Mul pair so eager and exported level
// assignment agree bit for bit on the boundary cases.
func log2f(x float32) float32 {
	return float32(math.Log(float64(x))) * float32(1/math.Ln2)
}

// boxLevels maps each box area onto a pyramid level index in
// [0, len(scales)).
func (m *MultiScaleRoIAlign) boxLevels(boxes []float32) []int {
	k := len(boxes) / 4
	lvls := make([]int, k)
	for i := 0; i < k; i++ {
		w := boxes[i*4+2] - boxes[i*4]
		h := boxes[i*4+3] - boxes[i*4+1]
		s := float32(math.Sqrt(float64(w * h)))
		lvl := float32(math.Floor(float64(canonicalLevel + log2f(s/canonicalScale+levelEps))))
		if lvl < float32(m.lvlMin) {
			lvl = float32(m.lvlMin)
		}
		if lvl > float32(m.lvlMax) {
			lvl = float32(m.lvlMax)
		}
		lvls[i] = int(lvl) - m.lvlMin
	}
	return lvls
}

// Forward implements nn.Module. The last input is the [K, 4] box tensor;
// everything before it is a pyramid level.
func (m *MultiScaleRoIAlign) Forward(xs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(xs) < 2 {
		return nil, fmt.Errorf("multiscale roi align: expected feature maps plus boxes, got %d inputs", len(xs))
	}
	feats := xs[:len(xs)-1]
	boxes := xs[len(xs)-1]
	if err := vision.CheckBoxTensor(boxes); err != nil {
		return nil, err
	}

	featShapes := make([]tensor.Shape, len(feats))
	for i, f := range feats {
		featShapes[i] = f.Shape()
	}
	if err := m.SetupScales(featShapes); err != nil {
		return nil, err
	}

	bv := boxes.AsFloat32()
	k := boxes.Shape()[0]
	channels := featShapes[0][1]
	lvls := m.boxLevels(bv)

	out := tensor.Zeros(tensor.Shape{k, channels, m.OutputSize, m.OutputSize})
	ov := out.AsFloat32()
	grid := channels * m.OutputSize * m.OutputSize

	for l, f := range feats {
		var idx []int
		for i, lv := range lvls {
			if lv == l {
				idx = append(idx, i)
			}
		}
		if len(idx) == 0 {
			continue
		}
		coords := make([]float32, len(idx)*4)
		batchIdx := make([]int64, len(idx))
		for j, i := range idx {
			copy(coords[j*4:j*4+4], bv[i*4:i*4+4])
		}
		fs := featShapes[l]
		pooled := vision.RoIAlign(f.AsFloat32(), fs[1], fs[2], fs[3], coords, batchIdx,
			m.scales[l], m.OutputSize, m.OutputSize, m.SamplingRatio)
		for j, i := range idx {
			copy(ov[i*grid:(i+1)*grid], pooled[j*grid:(j+1)*grid])
		}
	}
	return []*tensor.RawTensor{out}, nil
}

// Emit implements nn.Module. SetupScales must have run; the trace unrolls
// one suppression-free pooling branch per pyramid level and restores the
// original box order afterwards.
func (m *MultiScaleRoIAlign) Emit(g *onnx.GraphBuilder, ins []*onnx.Value) ([]*onnx.Value, error) {
	if m.scales == nil {
		return nil, fmt.Errorf("multiscale roi align: SetupScales has not run")
	}
	if len(ins) != len(m.scales)+1 {
		return nil, fmt.Errorf("multiscale roi align: expected %d inputs, got %d", len(m.scales)+1, len(ins))
	}
	feats := ins[:len(ins)-1]
	boxes := ins[len(ins)-1]

	col := func(i int64) *onnx.Value {
		return g.Slice(boxes, []int64{i}, []int64{i + 1}, []int64{1})
	}
	w := g.Sub(col(2), col(0))
	h := g.Sub(col(3), col(1))
	area := g.Squeeze(g.Mul(w, h), []int64{1}) // [K]

	invLn2 := g.ConstScalar(float32(1 / math.Ln2))
	s := g.Sqrt(area)
	lvl := g.Floor(g.Add(
		g.ConstScalar(canonicalLevel),
		g.Mul(g.Log(g.Add(g.Div(s, g.ConstScalar(canonicalScale)), g.ConstScalar(levelEps))), invLn2),
	))
	lvl = g.Min(g.Max(lvl, g.ConstScalar(float32(m.lvlMin))), g.ConstScalar(float32(m.lvlMax)))

	var pooledParts, idxParts []*onnx.Value
	for l, feat := range feats {
		mask := g.Equal(lvl, g.ConstScalar(float32(m.lvlMin+l)))
		idx := g.Squeeze(g.NonZero(mask), []int64{0}) // [c] int64
		lvlBoxes := g.Gather(boxes, idx, 0)
		// Single image: every pooled box targets batch entry zero.
		zeros := g.Cast(g.Mul(g.Cast(idx, tensor.Float32), g.ConstScalar(0)), tensor.Int64)
		pooled := g.RoiAlign(feat, lvlBoxes, zeros, m.OutputSize, m.OutputSize,
			m.SamplingRatio, m.scales[l])
		pooledParts = append(pooledParts, pooled)
		idxParts = append(idxParts, idx)
	}

	pooledAll := g.Concat(0, pooledParts...)
	idxAll := g.Concat(0, idxParts...)

	// Argsort the gathered indices ascending to undo the level grouping.
	idxF := g.Cast(idxAll, tensor.Float32)
	k := g.Slice(g.Shape(idxAll), []int64{0}, []int64{1}, []int64{0})
	_, order := g.TopK(g.Neg(idxF), k, 0)
	return []*onnx.Value{g.Gather(pooledAll, order, 0)}, nil
}
