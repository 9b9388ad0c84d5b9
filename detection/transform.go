package detection

import (
	"fmt"
	"math"

	"github.com/retina-ml/retina/internal/onnx"
	"github.com/retina-ml/retina/internal/tensor"
)

// GeneralizedRCNNTransform normalizes an image batch, resizes it so the
// short side reaches MinSize without the long side passing MaxSize, and
// pads the result to a SizeDivisible multiple.
type GeneralizedRCNNTransform struct {
	MinSize       int
	MaxSize       int
	ImageMean     [3]float32
	ImageStd      [3]float32
	SizeDivisible int
}

// NewGeneralizedRCNNTransform returns the standard 800/1333 transform with
// ImageNet statistics.
func NewGeneralizedRCNNTransform() *GeneralizedRCNNTransform {
	return &GeneralizedRCNNTransform{
		MinSize:       800,
		MaxSize:       1333,
		ImageMean:     [3]float32{0.485, 0.456, 0.406},
		ImageStd:      [3]float32{0.229, 0.224, 0.225},
		SizeDivisible: 32,
	}
}

// scaleFor returns the resize factor for an image extent.
func (t *GeneralizedRCNNTransform) scaleFor(h, w int) float32 {
	minDim := float32(h)
	maxDim := float32(w)
	if w < h {
		minDim, maxDim = maxDim, minDim
	}
	scale := float32(t.MinSize) / minDim
	if s := float32(t.MaxSize) / maxDim; s < scale {
		scale = s
	}
	return scale
}

// ResizedSize returns the post-resize extent for an image extent, floor of
// the scaled dimensions.
func (t *GeneralizedRCNNTransform) ResizedSize(h, w int) (int, int) {
	scale := t.scaleFor(h, w)
	return int(float32(math.Floor(float64(float32(h) * scale)))),
		int(float32(math.Floor(float64(float32(w) * scale))))
}

// paddedSize rounds an extent up to the next SizeDivisible multiple.
func (t *GeneralizedRCNNTransform) paddedSize(v int) int {
	d := t.SizeDivisible
	return (v + d - 1) / d * d
}

// normalize subtracts the channel mean and divides by the channel std.
func (t *GeneralizedRCNNTransform) normalize(x *tensor.RawTensor) *tensor.RawTensor {
	s := x.Shape()
	out := x.Clone()
	ov := out.AsFloat32()
	plane := s[2] * s[3]
	for n := 0; n < s[0]; n++ {
		for c := 0; c < s[1]; c++ {
			mean, std := t.ImageMean[c], t.ImageStd[c]
			base := (n*s[1] + c) * plane
			for i := 0; i < plane; i++ {
				ov[base+i] = (ov[base+i] - mean) / std
			}
		}
	}
	return out
}

// Forward transforms a [N, 3, H, W] batch. The returned ImageList carries
// the padded tensor and the resized (pre-padding) sizes.
func (t *GeneralizedRCNNTransform) Forward(x *tensor.RawTensor) (*ImageList, error) {
	s := x.Shape()
	if len(s) != 4 || s[1] != 3 {
		return nil, fmt.Errorf("transform: expected [N, 3, H, W] input, got %v", s)
	}
	norm := t.normalize(x)

	newH, newW := t.ResizedSize(s[2], s[3])
	resized, err := tensor.ResizeBilinear(norm, newH, newW)
	if err != nil {
		return nil, err
	}

	padH := t.paddedSize(newH) - newH
	padW := t.paddedSize(newW) - newW
	padded, err := tensor.Pad(resized, []int64{0, 0, 0, 0, 0, 0, int64(padH), int64(padW)})
	if err != nil {
		return nil, err
	}

	sizes := make([][2]int, s[0])
	for i := range sizes {
		sizes[i] = [2]int{newH, newW}
	}
	return &ImageList{Tensors: padded, Sizes: sizes}, nil
}

// Postprocess rescales detection boxes from the resized extent back to the
// original image extent, in place.
func (t *GeneralizedRCNNTransform) Postprocess(boxes *tensor.RawTensor, resized, original [2]int) {
	rh := float32(original[0]) / float32(resized[0])
	rw := float32(original[1]) / float32(resized[1])
	bv := boxes.AsFloat32()
	for i := 0; i < len(bv)/4; i++ {
		bv[i*4] *= rw
		bv[i*4+1] *= rh
		bv[i*4+2] *= rw
		bv[i*4+3] *= rh
	}
}

// emitNormalize traces the channel normalization.
func (t *GeneralizedRCNNTransform) emitNormalize(g *onnx.GraphBuilder, x *onnx.Value) *onnx.Value {
	mk := func(vals [3]float32) *tensor.RawTensor {
		m, _ := tensor.FromFloat32(vals[:], tensor.Shape{3, 1, 1})
		return m
	}
	return g.Div(g.Sub(x, g.Const(mk(t.ImageMean))), g.Const(mk(t.ImageStd)))
}

// Emit traces the transform with runtime size computation, so the exported
// graph handles any input extent.
func (t *GeneralizedRCNNTransform) Emit(g *onnx.GraphBuilder, x *onnx.Value) *onnx.Value {
	norm := t.emitNormalize(g, x)

	shape := g.Shape(x)
	nc := g.Slice(shape, []int64{0}, []int64{2}, []int64{0})
	hw := g.Cast(g.Slice(shape, []int64{2}, []int64{4}, []int64{0}), tensor.Float32)
	h := g.Slice(hw, []int64{0}, []int64{1}, []int64{0})
	w := g.Slice(hw, []int64{1}, []int64{2}, []int64{0})

	minDim := g.Min(h, w)
	maxDim := g.Max(h, w)
	scale := g.Min(
		g.Div(g.ConstScalar(float32(t.MinSize)), minDim),
		g.Div(g.ConstScalar(float32(t.MaxSize)), maxDim))

	newHW := g.Floor(g.Mul(hw, scale)) // [2] float
	sizes := g.Concat(0, nc, g.Cast(newHW, tensor.Int64))
	resized := g.Resize(norm, sizes)

	div := g.ConstScalar(float32(t.SizeDivisible))
	padTo := g.Mul(g.Floor(g.Div(g.Add(newHW, g.ConstScalar(float32(t.SizeDivisible-1))), div)), div)
	pad := g.Cast(g.Sub(padTo, newHW), tensor.Int64)
	pads := g.Concat(0, g.ConstInts([]int64{0, 0, 0, 0, 0, 0}), pad)
	return g.PadDynamic(resized, pads)
}

// EmitStatic traces the transform for a known input extent, baking the
// resize target and padding. Returns the padded value and the resized
// (pre-padding) extent.
func (t *GeneralizedRCNNTransform) EmitStatic(g *onnx.GraphBuilder, x *onnx.Value, h, w int) (*onnx.Value, [2]int) {
	norm := t.emitNormalize(g, x)

	newH, newW := t.ResizedSize(h, w)
	shape := g.Shape(x)
	nc := g.Slice(shape, []int64{0}, []int64{2}, []int64{0})
	sizes := g.Concat(0, nc, g.ConstInts([]int64{int64(newH), int64(newW)}))
	resized := g.Resize(norm, sizes)

	padH := t.paddedSize(newH) - newH
	padW := t.paddedSize(newW) - newW
	padded := g.Pad(resized, []int64{0, 0, 0, 0, 0, 0, int64(padH), int64(padW)})
	return padded, [2]int{newH, newW}
}

// emitRescaleBoxes traces Postprocess for static sizes.
func emitRescaleBoxes(g *onnx.GraphBuilder, boxes *onnx.Value, resized, original [2]int) *onnx.Value {
	rh := float32(original[0]) / float32(resized[0])
	rw := float32(original[1]) / float32(resized[1])
	ratios, _ := tensor.FromFloat32([]float32{rw, rh, rw, rh}, tensor.Shape{4})
	return g.Mul(boxes, g.Const(ratios))
}

// TransformModule adapts the transform to the export module contract with
// the padded batch as its single output.
type TransformModule struct {
	Transform *GeneralizedRCNNTransform
}

// Forward implements nn.Module.
func (m *TransformModule) Forward(xs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(xs) != 1 {
		return nil, fmt.Errorf("transform: expected 1 input, got %d", len(xs))
	}
	il, err := m.Transform.Forward(xs[0])
	if err != nil {
		return nil, err
	}
	return []*tensor.RawTensor{il.Tensors}, nil
}

// Emit implements nn.Module.
func (m *TransformModule) Emit(g *onnx.GraphBuilder, ins []*onnx.Value) ([]*onnx.Value, error) {
	if len(ins) != 1 {
		return nil, fmt.Errorf("transform: expected 1 input, got %d", len(ins))
	}
	return []*onnx.Value{m.Transform.Emit(g, ins[0])}, nil
}
