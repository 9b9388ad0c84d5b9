// Package nn implements the module abstraction shared by the eager path
// and the graph exporter.
//
// A Module computes its outputs twice over: Forward runs the eager
// reference implementation on raw tensors, Emit traces the same
// computation into a graph under construction. Keeping both on one type
// is what makes export validation possible; the two paths share kernels
// so their results agree bit for bit wherever the operators are exact.
package nn

import (
	"github.com/retina-ml/retina/internal/onnx"
	"github.com/retina-ml/retina/internal/tensor"
)

// Module is the base interface for all exportable components.
type Module interface {
	// Forward computes outputs from inputs eagerly.
	Forward(xs []*tensor.RawTensor) ([]*tensor.RawTensor, error)

	// Emit traces the module into the graph builder, returning the
	// symbolic outputs.
	Emit(g *onnx.GraphBuilder, ins []*onnx.Value) ([]*onnx.Value, error)
}

// Func adapts a pair of closures into a Module. It is the generic export
// adapter: any computation expressible as eager-plus-trace closures can be
// exported and validated without a dedicated wrapper type.
type Func struct {
	ForwardFn func(xs []*tensor.RawTensor) ([]*tensor.RawTensor, error)
	EmitFn    func(g *onnx.GraphBuilder, ins []*onnx.Value) ([]*onnx.Value, error)
}

// Forward calls ForwardFn.
func (f *Func) Forward(xs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	return f.ForwardFn(xs)
}

// Emit calls EmitFn.
func (f *Func) Emit(g *onnx.GraphBuilder, ins []*onnx.Value) ([]*onnx.Value, error) {
	return f.EmitFn(g, ins)
}
