package nn

import (
	"fmt"
	"math/rand"

	"github.com/retina-ml/retina/internal/onnx"
	"github.com/retina-ml/retina/internal/tensor"
)

// Linear implements a fully connected layer: y = x @ W.T + b.
//
// The weight matrix has shape [out_features, in_features], the bias
// [out_features]. Weights use Xavier uniform initialization, biases zeros.
type Linear struct {
	InFeatures  int
	OutFeatures int
	Weight      *tensor.RawTensor // [out_features, in_features]
	Bias        *tensor.RawTensor // [out_features]
}

// NewLinear creates a Linear layer with seeded initialization.
func NewLinear(g *rand.Rand, inFeatures, outFeatures int) *Linear {
	return &Linear{
		InFeatures:  inFeatures,
		OutFeatures: outFeatures,
		Weight:      XavierUniform(g, tensor.Shape{outFeatures, inFeatures}, inFeatures, outFeatures),
		Bias:        tensor.Zeros(tensor.Shape{outFeatures}),
	}
}

// Apply computes y = x @ W.T + b for a [batch, in_features] input.
func (l *Linear) Apply(x *tensor.RawTensor) (*tensor.RawTensor, error) {
	shape := x.Shape()
	if len(shape) != 2 || shape[1] != l.InFeatures {
		return nil, fmt.Errorf("linear: expected input [batch, %d], got %v", l.InFeatures, shape)
	}
	wT, err := tensor.Transpose(l.Weight)
	if err != nil {
		return nil, err
	}
	y, err := tensor.MatMul(x, wT)
	if err != nil {
		return nil, err
	}
	return tensor.Add(y, l.Bias)
}

// Forward implements Module.
func (l *Linear) Forward(xs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(xs) != 1 {
		return nil, fmt.Errorf("linear: expected 1 input, got %d", len(xs))
	}
	y, err := l.Apply(xs[0])
	if err != nil {
		return nil, err
	}
	return []*tensor.RawTensor{y}, nil
}

// EmitValue traces the layer onto a single symbolic input.
func (l *Linear) EmitValue(g *onnx.GraphBuilder, x *onnx.Value) *onnx.Value {
	w := g.Const(l.Weight)
	b := g.Const(l.Bias)
	return g.Gemm(x, w, b, true)
}

// Emit implements Module.
func (l *Linear) Emit(g *onnx.GraphBuilder, ins []*onnx.Value) ([]*onnx.Value, error) {
	if len(ins) != 1 {
		return nil, fmt.Errorf("linear: expected 1 input, got %d", len(ins))
	}
	return []*onnx.Value{l.EmitValue(g, ins[0])}, nil
}
