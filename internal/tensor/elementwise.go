package tensor

import (
	"fmt"
	"math"
)

// broadcastStrides returns strides for iterating src under the broadcast
// target shape: size-1 source dimensions get stride 0.
func broadcastStrides(src, target Shape) []int {
	srcStrides := src.ComputeStrides()
	out := make([]int, len(target))
	offset := len(target) - len(src)
	for i := range target {
		si := i - offset
		if si < 0 || src[si] == 1 {
			out[i] = 0
		} else {
			out[i] = srcStrides[si]
		}
	}
	return out
}

// broadcastIndex maps a flat output index to a source offset.
func broadcastIndex(flat int, outShape Shape, outStrides, srcStrides []int) int {
	off := 0
	for i := range outShape {
		coord := 0
		if outStrides[i] > 0 {
			coord = (flat / outStrides[i]) % outShape[i]
		}
		off += coord * srcStrides[i]
	}
	return off
}

func binaryOp(a, b *RawTensor, name string, fn func(x, y float32) float32) (*RawTensor, error) {
	if a.DType() != Float32 || b.DType() != Float32 {
		return nil, fmt.Errorf("%s: expected float32 operands, got %s and %s", name, a.DType(), b.DType())
	}
	outShape, err := BroadcastShapes(a.Shape(), b.Shape())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	out := Zeros(outShape)
	av, bv, ov := a.AsFloat32(), b.AsFloat32(), out.AsFloat32()

	// Fast path: identical shapes.
	if a.Shape().Equal(b.Shape()) {
		for i := range ov {
			ov[i] = fn(av[i], bv[i])
		}
		return out, nil
	}

	outStrides := outShape.ComputeStrides()
	as := broadcastStrides(a.Shape(), outShape)
	bs := broadcastStrides(b.Shape(), outShape)
	for i := range ov {
		ov[i] = fn(av[broadcastIndex(i, outShape, outStrides, as)], bv[broadcastIndex(i, outShape, outStrides, bs)])
	}
	return out, nil
}

func unaryOp(x *RawTensor, name string, fn func(v float32) float32) (*RawTensor, error) {
	if x.DType() != Float32 {
		return nil, fmt.Errorf("%s: expected float32 operand, got %s", name, x.DType())
	}
	out := Zeros(x.Shape())
	in, ov := x.AsFloat32(), out.AsFloat32()
	for i := range ov {
		ov[i] = fn(in[i])
	}
	return out, nil
}

// Add computes a + b with broadcasting.
func Add(a, b *RawTensor) (*RawTensor, error) {
	return binaryOp(a, b, "add", func(x, y float32) float32 { return x + y })
}

// Sub computes a - b with broadcasting.
func Sub(a, b *RawTensor) (*RawTensor, error) {
	return binaryOp(a, b, "sub", func(x, y float32) float32 { return x - y })
}

// Mul computes a * b with broadcasting.
func Mul(a, b *RawTensor) (*RawTensor, error) {
	return binaryOp(a, b, "mul", func(x, y float32) float32 { return x * y })
}

// Div computes a / b with broadcasting.
func Div(a, b *RawTensor) (*RawTensor, error) {
	return binaryOp(a, b, "div", func(x, y float32) float32 { return x / y })
}

// Minimum computes the element-wise minimum with broadcasting.
func Minimum(a, b *RawTensor) (*RawTensor, error) {
	return binaryOp(a, b, "min", func(x, y float32) float32 {
		if x < y {
			return x
		}
		return y
	})
}

// Maximum computes the element-wise maximum with broadcasting.
func Maximum(a, b *RawTensor) (*RawTensor, error) {
	return binaryOp(a, b, "max", func(x, y float32) float32 {
		if x > y {
			return x
		}
		return y
	})
}

// Exp computes e^x element-wise.
func Exp(x *RawTensor) (*RawTensor, error) {
	return unaryOp(x, "exp", func(v float32) float32 { return float32(math.Exp(float64(v))) })
}

// Log computes the natural logarithm element-wise.
func Log(x *RawTensor) (*RawTensor, error) {
	return unaryOp(x, "log", func(v float32) float32 { return float32(math.Log(float64(v))) })
}

// Sqrt computes the square root element-wise.
func Sqrt(x *RawTensor) (*RawTensor, error) {
	return unaryOp(x, "sqrt", func(v float32) float32 { return float32(math.Sqrt(float64(v))) })
}

// Floor computes the floor element-wise.
func Floor(x *RawTensor) (*RawTensor, error) {
	return unaryOp(x, "floor", func(v float32) float32 { return float32(math.Floor(float64(v))) })
}

// Neg computes -x element-wise.
func Neg(x *RawTensor) (*RawTensor, error) {
	return unaryOp(x, "neg", func(v float32) float32 { return -v })
}

// ReLU computes max(x, 0) element-wise.
func ReLU(x *RawTensor) (*RawTensor, error) {
	return unaryOp(x, "relu", func(v float32) float32 {
		if v > 0 {
			return v
		}
		return 0
	})
}

// Sigmoid computes 1/(1+e^-x) element-wise.
func Sigmoid(x *RawTensor) (*RawTensor, error) {
	return unaryOp(x, "sigmoid", func(v float32) float32 {
		return float32(1.0 / (1.0 + math.Exp(-float64(v))))
	})
}

// AddScalar computes x + s element-wise.
func AddScalar(x *RawTensor, s float32) (*RawTensor, error) {
	return unaryOp(x, "add_scalar", func(v float32) float32 { return v + s })
}

// MulScalar computes x * s element-wise.
func MulScalar(x *RawTensor, s float32) (*RawTensor, error) {
	return unaryOp(x, "mul_scalar", func(v float32) float32 { return v * s })
}

// Clip clamps every element into [minVal, maxVal].
func Clip(x *RawTensor, minVal, maxVal float32) (*RawTensor, error) {
	return unaryOp(x, "clip", func(v float32) float32 {
		if v < minVal {
			return minVal
		}
		if v > maxVal {
			return maxVal
		}
		return v
	})
}

// Softmax computes the softmax along the given axis (negative axes count
// from the end). Uses the max-subtraction trick for numeric stability.
func Softmax(x *RawTensor, axis int) (*RawTensor, error) {
	if x.DType() != Float32 {
		return nil, fmt.Errorf("softmax: expected float32 operand, got %s", x.DType())
	}
	shape := x.Shape()
	if axis < 0 {
		axis += len(shape)
	}
	if axis < 0 || axis >= len(shape) {
		return nil, fmt.Errorf("softmax: axis %d out of range for shape %v", axis, shape)
	}

	out := Zeros(shape)
	in, ov := x.AsFloat32(), out.AsFloat32()

	axisSize := shape[axis]
	inner := 1
	for i := axis + 1; i < len(shape); i++ {
		inner *= shape[i]
	}
	outer := x.NumElements() / (axisSize * inner)

	for o := 0; o < outer; o++ {
		for in2 := 0; in2 < inner; in2++ {
			base := o*axisSize*inner + in2
			maxVal := float32(math.Inf(-1))
			for k := 0; k < axisSize; k++ {
				if v := in[base+k*inner]; v > maxVal {
					maxVal = v
				}
			}
			var sum float64
			for k := 0; k < axisSize; k++ {
				e := math.Exp(float64(in[base+k*inner] - maxVal))
				ov[base+k*inner] = float32(e)
				sum += e
			}
			for k := 0; k < axisSize; k++ {
				ov[base+k*inner] = float32(float64(ov[base+k*inner]) / sum)
			}
		}
	}
	return out, nil
}
