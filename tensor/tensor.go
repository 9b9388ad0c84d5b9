// Copyright 2025 Retina Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package tensor exposes the raw tensor type used throughout Retina.
//
// A RawTensor is a dense, contiguous buffer with a shape and a data type
// (float32, int64 or bool). The package re-exports the constructors and
// the element-wise, shaping and linear-algebra helpers from the internal
// implementation so applications can build inputs and inspect outputs
// without importing internal packages.
//
// Example:
//
//	x, err := tensor.FromFloat32([]float32{1, 2, 3, 4}, tensor.Shape{2, 2})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(x.Shape(), x.AsFloat32())
package tensor

import (
	"math/rand"

	internal "github.com/retina-ml/retina/internal/tensor"
)

// Shape describes tensor dimensions.
type Shape = internal.Shape

// DataType identifies the element type of a tensor.
type DataType = internal.DataType

// Supported element types.
const (
	Float32 = internal.Float32
	Int64   = internal.Int64
	Bool    = internal.Bool
)

// RawTensor is a dense tensor over a byte buffer with typed views.
type RawTensor = internal.RawTensor

// FromFloat32 builds a float32 tensor from a slice; the slice length must
// match the shape's element count.
func FromFloat32(data []float32, shape Shape) (*RawTensor, error) {
	return internal.FromFloat32(data, shape)
}

// FromInt64 builds an int64 tensor from a slice.
func FromInt64(data []int64, shape Shape) (*RawTensor, error) {
	return internal.FromInt64(data, shape)
}

// Zeros returns a zero-filled float32 tensor.
func Zeros(shape Shape) *RawTensor {
	return internal.Zeros(shape)
}

// Full returns a float32 tensor filled with value.
func Full(shape Shape, value float32) *RawTensor {
	return internal.Full(shape, value)
}

// Rand returns a float32 tensor with uniform values in [0, 1) drawn from
// the given source.
func Rand(g *rand.Rand, shape Shape) *RawTensor {
	return internal.Rand(g, shape)
}

// Randn returns a float32 tensor with standard normal values drawn from
// the given source.
func Randn(g *rand.Rand, shape Shape) *RawTensor {
	return internal.Randn(g, shape)
}
