package tensor

import (
	"fmt"
	"math/rand"
)

// FromFloat32 creates a Float32 tensor from a slice. The data is copied.
func FromFloat32(data []float32, shape Shape) (*RawTensor, error) {
	if shape.NumElements() != len(data) {
		return nil, fmt.Errorf("shape %v requires %d elements, got %d", shape, shape.NumElements(), len(data))
	}
	t, err := NewRaw(shape, Float32)
	if err != nil {
		return nil, err
	}
	copy(t.AsFloat32(), data)
	return t, nil
}

// FromInt64 creates an Int64 tensor from a slice. The data is copied.
func FromInt64(data []int64, shape Shape) (*RawTensor, error) {
	if shape.NumElements() != len(data) {
		return nil, fmt.Errorf("shape %v requires %d elements, got %d", shape, shape.NumElements(), len(data))
	}
	t, err := NewRaw(shape, Int64)
	if err != nil {
		return nil, err
	}
	copy(t.AsInt64(), data)
	return t, nil
}

// Scalar creates a rank-0 Float32 tensor.
func Scalar(v float32) *RawTensor {
	t, _ := NewRaw(Shape{}, Float32)
	t.AsFloat32()[0] = v
	return t
}

// ScalarInt64 creates a rank-0 Int64 tensor.
func ScalarInt64(v int64) *RawTensor {
	t, _ := NewRaw(Shape{}, Int64)
	t.AsInt64()[0] = v
	return t
}

// Zeros creates a Float32 tensor filled with zeros.
func Zeros(shape Shape) *RawTensor {
	t, err := NewRaw(shape, Float32)
	if err != nil {
		panic(err)
	}
	return t
}

// Full creates a Float32 tensor filled with a specific value.
func Full(shape Shape, value float32) *RawTensor {
	t := Zeros(shape)
	data := t.AsFloat32()
	for i := range data {
		data[i] = value
	}
	return t
}

// Rand creates a Float32 tensor with values uniformly distributed in [0, 1).
// The generator is explicit so fixtures stay reproducible and order-independent.
func Rand(g *rand.Rand, shape Shape) *RawTensor {
	t := Zeros(shape)
	data := t.AsFloat32()
	for i := range data {
		data[i] = float32(g.Float64())
	}
	return t
}

// Randn creates a Float32 tensor with values from a standard normal distribution.
func Randn(g *rand.Rand, shape Shape) *RawTensor {
	t := Zeros(shape)
	data := t.AsFloat32()
	for i := range data {
		data[i] = float32(g.NormFloat64())
	}
	return t
}

// Arange creates a 1D Float32 tensor with values start, start+1, ..., end-1.
func Arange(start, end int) *RawTensor {
	if end < start {
		panic("end must be >= start")
	}
	t := Zeros(Shape{end - start})
	data := t.AsFloat32()
	for i := range data {
		data[i] = float32(start + i)
	}
	return t
}
