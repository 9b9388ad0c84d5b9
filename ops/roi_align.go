package ops

import (
	"fmt"

	"github.com/retina-ml/retina/internal/onnx"
	"github.com/retina-ml/retina/internal/tensor"
	"github.com/retina-ml/retina/internal/vision"
)

// RoIAlign pools fixed-size feature grids from box regions with average
// bilinear sampling. Inputs are an NCHW feature map and rois [K, 5] whose
// first column is the batch index.
type RoIAlign struct {
	OutputH       int
	OutputW       int
	SpatialScale  float32
	SamplingRatio int
}

// splitRois separates a [K, 5] roi tensor into int64 batch indices and
// [K*4] box coordinates.
func splitRois(rois *tensor.RawTensor) ([]int64, []float32, error) {
	rs := rois.Shape()
	if len(rs) != 2 || rs[1] != 5 {
		return nil, nil, fmt.Errorf("rois: expected [K, 5], got %v", rs)
	}
	k := rs[0]
	rv := rois.AsFloat32()
	batchIdx := make([]int64, k)
	coords := make([]float32, k*4)
	for i := 0; i < k; i++ {
		batchIdx[i] = int64(rv[i*5])
		copy(coords[i*4:i*4+4], rv[i*5+1:i*5+5])
	}
	return batchIdx, coords, nil
}

// Apply pools a [N, C, H, W] feature map over [K, 5] rois, producing
// [K, C, OutputH, OutputW].
func (m *RoIAlign) Apply(x, rois *tensor.RawTensor) (*tensor.RawTensor, error) {
	xs := x.Shape()
	if len(xs) != 4 {
		return nil, fmt.Errorf("roi align: expected NCHW input, got %v", xs)
	}
	batchIdx, coords, err := splitRois(rois)
	if err != nil {
		return nil, err
	}
	out := vision.RoIAlign(x.AsFloat32(), xs[1], xs[2], xs[3], coords, batchIdx,
		m.SpatialScale, m.OutputH, m.OutputW, m.SamplingRatio)
	return tensor.FromFloat32(out, tensor.Shape{len(batchIdx), xs[1], m.OutputH, m.OutputW})
}

// Forward implements nn.Module.
func (m *RoIAlign) Forward(xs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(xs) != 2 {
		return nil, fmt.Errorf("roi align: expected 2 inputs, got %d", len(xs))
	}
	y, err := m.Apply(xs[0], xs[1])
	if err != nil {
		return nil, err
	}
	return []*tensor.RawTensor{y}, nil
}

// EmitValue traces pooling of the NCHW input x over [K, 5] rois.
func (m *RoIAlign) EmitValue(g *onnx.GraphBuilder, x, rois *onnx.Value) *onnx.Value {
	batchIdx := g.Cast(
		g.Squeeze(g.Slice(rois, []int64{0}, []int64{1}, []int64{1}), []int64{1}),
		tensor.Int64)
	coords := g.Slice(rois, []int64{1}, []int64{5}, []int64{1})
	return g.RoiAlign(x, coords, batchIdx, m.OutputH, m.OutputW, m.SamplingRatio, m.SpatialScale)
}

// Emit implements nn.Module.
func (m *RoIAlign) Emit(g *onnx.GraphBuilder, ins []*onnx.Value) ([]*onnx.Value, error) {
	if len(ins) != 2 {
		return nil, fmt.Errorf("roi align: expected 2 inputs, got %d", len(ins))
	}
	return []*onnx.Value{m.EmitValue(g, ins[0], ins[1])}, nil
}
