package operators

import (
	"fmt"

	"github.com/retina-ml/retina/internal/tensor"
)

// registerMathOps adds math operators to the registry.
func (r *Registry) registerMathOps() {
	r.Register("Add", binaryHandler("add", tensor.Add))
	r.Register("Sub", binaryHandler("sub", tensor.Sub))
	r.Register("Mul", binaryHandler("mul", tensor.Mul))
	r.Register("Div", binaryHandler("div", tensor.Div))
	r.Register("Min", binaryHandler("min", tensor.Minimum))
	r.Register("Max", binaryHandler("max", tensor.Maximum))
	r.Register("Exp", unaryHandler("exp", tensor.Exp))
	r.Register("Log", unaryHandler("log", tensor.Log))
	r.Register("Sqrt", unaryHandler("sqrt", tensor.Sqrt))
	r.Register("Floor", unaryHandler("floor", tensor.Floor))
	r.Register("Neg", unaryHandler("neg", tensor.Neg))
	r.Register("MatMul", binaryHandler("matmul", tensor.MatMul))
	r.Register("Gemm", handleGemm)
	r.Register("Conv", handleConv)
}

func binaryHandler(name string, fn func(a, b *tensor.RawTensor) (*tensor.RawTensor, error)) OpHandler {
	return func(_ *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
		if len(inputs) != 2 {
			return nil, fmt.Errorf("%s requires 2 inputs, got %d", name, len(inputs))
		}
		result, err := fn(inputs[0], inputs[1])
		if err != nil {
			return nil, err
		}
		return []*tensor.RawTensor{result}, nil
	}
}

func unaryHandler(name string, fn func(x *tensor.RawTensor) (*tensor.RawTensor, error)) OpHandler {
	return func(_ *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
		if len(inputs) != 1 {
			return nil, fmt.Errorf("%s requires 1 input, got %d", name, len(inputs))
		}
		result, err := fn(inputs[0])
		if err != nil {
			return nil, err
		}
		return []*tensor.RawTensor{result}, nil
	}
}

// handleGemm implements Y = alpha*A'*B' + beta*C with optional transposes.
func handleGemm(node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(inputs) < 2 {
		return nil, fmt.Errorf("gemm requires at least 2 inputs, got %d", len(inputs))
	}

	alpha := GetAttrFloat(node, "alpha", 1.0)
	beta := GetAttrFloat(node, "beta", 1.0)
	transA := GetAttrInt(node, "transA", 0) != 0
	transB := GetAttrInt(node, "transB", 0) != 0

	a := inputs[0]
	b := inputs[1]

	var err error
	if transA {
		if a, err = tensor.Transpose(a); err != nil {
			return nil, fmt.Errorf("gemm: %w", err)
		}
	}
	if transB {
		if b, err = tensor.Transpose(b); err != nil {
			return nil, fmt.Errorf("gemm: %w", err)
		}
	}

	result, err := tensor.MatMul(a, b)
	if err != nil {
		return nil, fmt.Errorf("gemm: %w", err)
	}
	if alpha != 1.0 {
		if result, err = tensor.MulScalar(result, alpha); err != nil {
			return nil, fmt.Errorf("gemm: %w", err)
		}
	}

	if len(inputs) >= 3 && inputs[2] != nil {
		c := inputs[2]
		if beta != 1.0 {
			if c, err = tensor.MulScalar(c, beta); err != nil {
				return nil, fmt.Errorf("gemm: %w", err)
			}
		}
		if result, err = tensor.Add(result, c); err != nil {
			return nil, fmt.Errorf("gemm: %w", err)
		}
	}

	return []*tensor.RawTensor{result}, nil
}

// handleConv implements 2-D convolution with uniform stride and symmetric
// padding, the only layout this toolkit emits.
func handleConv(node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(inputs) < 2 {
		return nil, fmt.Errorf("conv requires at least 2 inputs, got %d", len(inputs))
	}
	if group := GetAttrInt(node, "group", 1); group != 1 {
		return nil, fmt.Errorf("conv: unsupported group %d", group)
	}
	for _, d := range GetAttrInts(node, "dilations") {
		if d != 1 {
			return nil, fmt.Errorf("conv: unsupported dilation %d", d)
		}
	}

	stride := 1
	if strides := GetAttrInts(node, "strides"); len(strides) > 0 {
		stride = int(strides[0])
		for _, s := range strides {
			if int(s) != stride {
				return nil, fmt.Errorf("conv: non-uniform strides %v", strides)
			}
		}
	}
	padding := 0
	if pads := GetAttrInts(node, "pads"); len(pads) > 0 {
		padding = int(pads[0])
		for _, p := range pads {
			if int(p) != padding {
				return nil, fmt.Errorf("conv: asymmetric pads %v", pads)
			}
		}
	}

	var bias *tensor.RawTensor
	if len(inputs) >= 3 {
		bias = inputs[2]
	}
	result, err := tensor.Conv2D(inputs[0], inputs[1], bias, stride, padding)
	if err != nil {
		return nil, err
	}
	return []*tensor.RawTensor{result}, nil
}
