package ops

import (
	"fmt"

	"github.com/retina-ml/retina/internal/onnx"
	"github.com/retina-ml/retina/internal/tensor"
	"github.com/retina-ml/retina/internal/vision"
)

// RoIPool pools fixed-size grids by max-pooling over quantized box bins.
// Inputs match RoIAlign: an NCHW feature map and rois [K, 5].
type RoIPool struct {
	OutputH      int
	OutputW      int
	SpatialScale float32
}

// Apply pools a [N, C, H, W] feature map over [K, 5] rois, producing
// [K, C, OutputH, OutputW].
func (m *RoIPool) Apply(x, rois *tensor.RawTensor) (*tensor.RawTensor, error) {
	xs := x.Shape()
	if len(xs) != 4 {
		return nil, fmt.Errorf("roi pool: expected NCHW input, got %v", xs)
	}
	batchIdx, coords, err := splitRois(rois)
	if err != nil {
		return nil, err
	}
	out := vision.RoIPool(x.AsFloat32(), xs[1], xs[2], xs[3], coords, batchIdx,
		m.SpatialScale, m.OutputH, m.OutputW)
	return tensor.FromFloat32(out, tensor.Shape{len(batchIdx), xs[1], m.OutputH, m.OutputW})
}

// Forward implements nn.Module.
func (m *RoIPool) Forward(xs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(xs) != 2 {
		return nil, fmt.Errorf("roi pool: expected 2 inputs, got %d", len(xs))
	}
	y, err := m.Apply(xs[0], xs[1])
	if err != nil {
		return nil, err
	}
	return []*tensor.RawTensor{y}, nil
}

// EmitValue traces pooling; MaxRoiPool consumes [K, 5] rois directly.
func (m *RoIPool) EmitValue(g *onnx.GraphBuilder, x, rois *onnx.Value) *onnx.Value {
	return g.MaxRoiPool(x, rois, m.OutputH, m.OutputW, m.SpatialScale)
}

// Emit implements nn.Module.
func (m *RoIPool) Emit(g *onnx.GraphBuilder, ins []*onnx.Value) ([]*onnx.Value, error) {
	if len(ins) != 2 {
		return nil, fmt.Errorf("roi pool: expected 2 inputs, got %d", len(ins))
	}
	return []*onnx.Value{m.EmitValue(g, ins[0], ins[1])}, nil
}
