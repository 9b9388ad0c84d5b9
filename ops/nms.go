package ops

import (
	"fmt"
	"math"

	"github.com/retina-ml/retina/internal/onnx"
	"github.com/retina-ml/retina/internal/tensor"
	"github.com/retina-ml/retina/internal/vision"
)

// maxOutputBoxes is the per-class selection cap passed to the graph-side
// NonMaxSuppression when the caller imposes no limit.
const maxOutputBoxes = 1 << 30

// NMS performs non-maximum suppression on [N, 4] boxes with [N] scores and
// returns the kept indices as a 1-D int64 tensor, score-descending.
func NMS(boxes, scores *tensor.RawTensor, iouThreshold float32) (*tensor.RawTensor, error) {
	if err := checkNMSInputs(boxes, scores); err != nil {
		return nil, err
	}
	keep := vision.NMS(boxes.AsFloat32(), scores.AsFloat32(), iouThreshold)
	return tensor.FromInt64(keep, tensor.Shape{len(keep)})
}

// BatchedNMS suppresses only within groups identified by the int64 idxs
// tensor; boxes in different groups never suppress each other.
func BatchedNMS(boxes, scores, idxs *tensor.RawTensor, iouThreshold float32) (*tensor.RawTensor, error) {
	if err := checkNMSInputs(boxes, scores); err != nil {
		return nil, err
	}
	if idxs.DType() != tensor.Int64 || idxs.NumElements() != scores.NumElements() {
		return nil, fmt.Errorf("batched nms: idxs must be int64 with one entry per box")
	}
	keep := vision.BatchedNMS(boxes.AsFloat32(), scores.AsFloat32(), idxs.AsInt64(), iouThreshold)
	return tensor.FromInt64(keep, tensor.Shape{len(keep)})
}

func checkNMSInputs(boxes, scores *tensor.RawTensor) error {
	bs := boxes.Shape()
	if len(bs) != 2 || bs[1] != 4 {
		return fmt.Errorf("nms: expected boxes [N, 4], got %v", bs)
	}
	ss := scores.Shape()
	if len(ss) != 1 || ss[0] != bs[0] {
		return fmt.Errorf("nms: scores %v incompatible with boxes %v", ss, bs)
	}
	return nil
}

// EmitNMS traces single-class suppression: boxes [N, 4] and scores [N] in,
// kept box indices [K] int64 out. maxOut <= 0 means unlimited.
func EmitNMS(g *onnx.GraphBuilder, boxes, scores *onnx.Value, iouThreshold float32, maxOut int64) *onnx.Value {
	if maxOut <= 0 {
		maxOut = maxOutputBoxes
	}
	b3 := g.Unsqueeze(boxes, []int64{0})     // [1, N, 4]
	s3 := g.Unsqueeze(scores, []int64{0, 1}) // [1, 1, N]
	sel := g.NonMaxSuppression(b3, s3, maxOut, iouThreshold, float32(math.Inf(-1)))
	// Column 2 of the (batch, class, box) triples.
	return g.Gather(sel, g.ConstScalarInt(2), 1)
}

// NMSModule wraps suppression as an exportable module with a fixed
// threshold. Inputs are (boxes, scores); the output is the kept indices.
type NMSModule struct {
	IoUThreshold float32
}

// Forward implements nn.Module.
func (m *NMSModule) Forward(xs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(xs) != 2 {
		return nil, fmt.Errorf("nms: expected 2 inputs, got %d", len(xs))
	}
	keep, err := NMS(xs[0], xs[1], m.IoUThreshold)
	if err != nil {
		return nil, err
	}
	return []*tensor.RawTensor{keep}, nil
}

// Emit implements nn.Module.
func (m *NMSModule) Emit(g *onnx.GraphBuilder, ins []*onnx.Value) ([]*onnx.Value, error) {
	if len(ins) != 2 {
		return nil, fmt.Errorf("nms: expected 2 inputs, got %d", len(ins))
	}
	return []*onnx.Value{EmitNMS(g, ins[0], ins[1], m.IoUThreshold, 0)}, nil
}
