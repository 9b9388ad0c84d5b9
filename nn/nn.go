// Copyright 2025 Retina Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package nn exposes the module contract shared by every exportable
// component, together with the basic layers.
//
// A Module runs eagerly over raw tensors through Forward and traces
// itself into an ONNX graph through Emit. The detection components in
// the detection package and the operators in ops all implement it, which
// is what lets the validate package compare eager execution against an
// exported graph for any of them.
package nn

import (
	"math/rand"

	internal "github.com/retina-ml/retina/internal/nn"
	"github.com/retina-ml/retina/internal/tensor"
)

// Module is an exportable computation: eager Forward plus graph Emit.
type Module = internal.Module

// Func adapts a pair of functions to the Module interface. Useful for
// exporting ad hoc compositions without declaring a type:
//
//	m := &nn.Func{
//	    ForwardFn: func(xs []*tensor.RawTensor) ([]*tensor.RawTensor, error) { ... },
//	    EmitFn:    func(g *onnx.GraphBuilder, ins []*onnx.Value) ([]*onnx.Value, error) { ... },
//	}
type Func = internal.Func

// Linear is a fully connected layer with weight [out, in] and bias [out].
type Linear = internal.Linear

// Conv2d is a 2-D convolution over NCHW input.
type Conv2d = internal.Conv2d

// NewLinear creates a Linear layer with Xavier-uniform weights drawn from
// the given source.
func NewLinear(g *rand.Rand, inFeatures, outFeatures int) *Linear {
	return internal.NewLinear(g, inFeatures, outFeatures)
}

// NewConv2d creates a Conv2d layer with Kaiming-normal weights drawn
// from the given source.
func NewConv2d(g *rand.Rand, inChannels, outChannels, kernelSize, stride, padding int) *Conv2d {
	return internal.NewConv2d(g, inChannels, outChannels, kernelSize, stride, padding)
}

// XavierUniform fills a new tensor with Xavier/Glorot uniform values.
func XavierUniform(g *rand.Rand, shape tensor.Shape, fanIn, fanOut int) *tensor.RawTensor {
	return internal.XavierUniform(g, shape, fanIn, fanOut)
}

// KaimingNormal fills a new tensor with Kaiming-normal values.
func KaimingNormal(g *rand.Rand, shape tensor.Shape, fanIn int) *tensor.RawTensor {
	return internal.KaimingNormal(g, shape, fanIn)
}
