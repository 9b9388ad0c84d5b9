package nn

import (
	"fmt"
	"math/rand"

	"github.com/retina-ml/retina/internal/onnx"
	"github.com/retina-ml/retina/internal/tensor"
)

// Conv2d implements a 2-D convolution over NCHW input with OIHW weights,
// uniform stride and symmetric padding.
type Conv2d struct {
	InChannels  int
	OutChannels int
	KernelSize  int
	Stride      int
	Padding     int
	Weight      *tensor.RawTensor // [out, in, k, k]
	Bias        *tensor.RawTensor // [out]
}

// NewConv2d creates a Conv2d layer with Kaiming-normal weights and zero
// biases.
func NewConv2d(g *rand.Rand, inChannels, outChannels, kernelSize, stride, padding int) *Conv2d {
	fanIn := inChannels * kernelSize * kernelSize
	return &Conv2d{
		InChannels:  inChannels,
		OutChannels: outChannels,
		KernelSize:  kernelSize,
		Stride:      stride,
		Padding:     padding,
		Weight:      KaimingNormal(g, tensor.Shape{outChannels, inChannels, kernelSize, kernelSize}, fanIn),
		Bias:        tensor.Zeros(tensor.Shape{outChannels}),
	}
}

// Apply convolves a [N, C, H, W] input.
func (c *Conv2d) Apply(x *tensor.RawTensor) (*tensor.RawTensor, error) {
	return tensor.Conv2D(x, c.Weight, c.Bias, c.Stride, c.Padding)
}

// Forward implements Module.
func (c *Conv2d) Forward(xs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(xs) != 1 {
		return nil, fmt.Errorf("conv2d: expected 1 input, got %d", len(xs))
	}
	y, err := c.Apply(xs[0])
	if err != nil {
		return nil, err
	}
	return []*tensor.RawTensor{y}, nil
}

// EmitValue traces the layer onto a single symbolic input.
func (c *Conv2d) EmitValue(g *onnx.GraphBuilder, x *onnx.Value) *onnx.Value {
	w := g.Const(c.Weight)
	b := g.Const(c.Bias)
	return g.Conv(x, w, b, c.Stride, c.Padding)
}

// Emit implements Module.
func (c *Conv2d) Emit(g *onnx.GraphBuilder, ins []*onnx.Value) ([]*onnx.Value, error) {
	if len(ins) != 1 {
		return nil, fmt.Errorf("conv2d: expected 1 input, got %d", len(ins))
	}
	return []*onnx.Value{c.EmitValue(g, ins[0])}, nil
}
