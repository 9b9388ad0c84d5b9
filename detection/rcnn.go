package detection

import (
	"fmt"
	"math/rand"

	"github.com/retina-ml/retina/internal/nn"
	"github.com/retina-ml/retina/internal/onnx"
	"github.com/retina-ml/retina/internal/tensor"
)

// TinyBackbone is a small strided convolution pyramid: a stem reducing the
// input by 4, then one halving stage per additional level. It stands in
// for a full FPN while keeping the detector end to end exportable.
type TinyBackbone struct {
	OutChannels int
	Stem        *nn.Conv2d
	Stages      []*nn.Conv2d
}

// NewTinyBackbone builds a pyramid with numLevels maps at strides
// 4, 8, ..., 4*2^(numLevels-1).
func NewTinyBackbone(g *rand.Rand, outChannels, numLevels int) *TinyBackbone {
	b := &TinyBackbone{
		OutChannels: outChannels,
		Stem:        nn.NewConv2d(g, 3, outChannels, 4, 4, 0),
	}
	for i := 1; i < numLevels; i++ {
		b.Stages = append(b.Stages, nn.NewConv2d(g, outChannels, outChannels, 2, 2, 0))
	}
	return b
}

func convOut(in, k, s, p int) int {
	return (in+2*p-k)/s + 1
}

// Shapes returns the per-level output shapes for an input extent.
func (b *TinyBackbone) Shapes(n, h, w int) []tensor.Shape {
	shapes := make([]tensor.Shape, 0, len(b.Stages)+1)
	h, w = convOut(h, 4, 4, 0), convOut(w, 4, 4, 0)
	shapes = append(shapes, tensor.Shape{n, b.OutChannels, h, w})
	for range b.Stages {
		h, w = convOut(h, 2, 2, 0), convOut(w, 2, 2, 0)
		shapes = append(shapes, tensor.Shape{n, b.OutChannels, h, w})
	}
	return shapes
}

// Apply produces the feature pyramid for a [N, 3, H, W] batch.
func (b *TinyBackbone) Apply(x *tensor.RawTensor) ([]*tensor.RawTensor, error) {
	f, err := b.Stem.Apply(x)
	if err != nil {
		return nil, err
	}
	f, err = tensor.ReLU(f)
	if err != nil {
		return nil, err
	}
	feats := []*tensor.RawTensor{f}
	for _, st := range b.Stages {
		f, err = st.Apply(f)
		if err != nil {
			return nil, err
		}
		f, err = tensor.ReLU(f)
		if err != nil {
			return nil, err
		}
		feats = append(feats, f)
	}
	return feats, nil
}

// EmitApply traces the pyramid.
func (b *TinyBackbone) EmitApply(g *onnx.GraphBuilder, x *onnx.Value) []*onnx.Value {
	f := g.Relu(b.Stem.EmitValue(g, x))
	feats := []*onnx.Value{f}
	for _, st := range b.Stages {
		f = g.Relu(st.EmitValue(g, f))
		feats = append(feats, f)
	}
	return feats
}

// GeneralizedRCNN composes the full two-stage detector: transform,
// backbone pyramid, proposal network and box heads, with detections
// rescaled back to the original image extent.
type GeneralizedRCNN struct {
	Transform *GeneralizedRCNNTransform
	Backbone  *TinyBackbone
	RPN       *RegionProposalNetwork
	Heads     *RoIHeads
}

// sliceImage extracts batch entry i as a [1, C, H, W] view copy.
func sliceImage(f *tensor.RawTensor, i int) (*tensor.RawTensor, error) {
	return tensor.Slice(f,
		[]int64{int64(i)}, []int64{int64(i + 1)}, []int64{0}, []int64{1})
}

// Forward runs detection over a [N, 3, H, W] batch and returns one
// Detections per image, boxes in original image coordinates.
func (m *GeneralizedRCNN) Forward(x *tensor.RawTensor) ([]*Detections, error) {
	s := x.Shape()
	orig := [2]int{s[2], s[3]}

	il, err := m.Transform.Forward(x)
	if err != nil {
		return nil, err
	}
	feats, err := m.Backbone.Apply(il.Tensors)
	if err != nil {
		return nil, err
	}
	proposals, _, err := m.RPN.Forward(il, feats)
	if err != nil {
		return nil, err
	}

	m.Heads.Pool.ImageSize = il.Sizes[0]
	var out []*Detections
	for img := range proposals {
		featsImg := make([]*tensor.RawTensor, len(feats))
		for l, f := range feats {
			if featsImg[l], err = sliceImage(f, img); err != nil {
				return nil, err
			}
		}
		det, err := m.Heads.Forward(featsImg, proposals[img], il.Sizes[img])
		if err != nil {
			return nil, err
		}
		m.Transform.Postprocess(det.Boxes, il.Sizes[img], orig)
		out = append(out, det)
	}
	return out, nil
}

// Emit traces the detector for a single image of static extent.
// Outputs are (boxes, scores, labels).
func (m *GeneralizedRCNN) Emit(g *onnx.GraphBuilder, x *onnx.Value, h, w int) ([]*onnx.Value, error) {
	padded, resized := m.Transform.EmitStatic(g, x, h, w)

	ph := m.Transform.paddedSize(resized[0])
	pw := m.Transform.paddedSize(resized[1])
	featShapes := m.Backbone.Shapes(1, ph, pw)
	feats := m.Backbone.EmitApply(g, padded)

	if err := m.RPN.Setup([][2]int{resized}, featShapes); err != nil {
		return nil, err
	}
	propBoxes, _, err := m.RPN.Emit(g, feats)
	if err != nil {
		return nil, err
	}

	m.Heads.Pool.ImageSize = resized
	if err := m.Heads.Pool.SetupScales(featShapes); err != nil {
		return nil, err
	}
	dets, err := m.Heads.Emit(g, feats, propBoxes[0], resized)
	if err != nil {
		return nil, err
	}
	dets[0] = emitRescaleBoxes(g, dets[0], resized, [2]int{h, w})
	return dets, nil
}

// RCNNModule adapts the detector to the export module contract for a
// static input extent.
type RCNNModule struct {
	Model     *GeneralizedRCNN
	ImageSize [2]int
}

// Forward implements nn.Module for a single-image batch.
func (m *RCNNModule) Forward(xs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(xs) != 1 {
		return nil, fmt.Errorf("rcnn: expected 1 input, got %d", len(xs))
	}
	dets, err := m.Model.Forward(xs[0])
	if err != nil {
		return nil, err
	}
	if len(dets) != 1 {
		return nil, fmt.Errorf("rcnn: expected single-image batch, got %d", len(dets))
	}
	return []*tensor.RawTensor{dets[0].Boxes, dets[0].Scores, dets[0].Labels}, nil
}

// Emit implements nn.Module.
func (m *RCNNModule) Emit(g *onnx.GraphBuilder, ins []*onnx.Value) ([]*onnx.Value, error) {
	if len(ins) != 1 {
		return nil, fmt.Errorf("rcnn: expected 1 input, got %d", len(ins))
	}
	return m.Model.Emit(g, ins[0], m.ImageSize[0], m.ImageSize[1])
}
