// Copyright 2025 Retina Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package onnx exposes ONNX export, loading and execution.
//
// Retina speaks ONNX in both directions: modules trace themselves into a
// graph through [Export], and serialized models run on the built-in
// executor through [Load] or [LoadFromBytes]. The two directions share
// one operator registry, so an exported graph always runs natively.
//
// Exporting a module:
//
//	blob, err := onnx.Export(module, exampleInputs, onnx.DefaultExportOptions())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	os.WriteFile("model.onnx", blob, 0o644)
//
// Running a model:
//
//	model, err := onnx.Load("model.onnx")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	outputs, err := model.Run(inputs)
//
// Graphs are shape-specialized: the example inputs passed to Export fix
// the input shapes recorded in the model.
package onnx

import (
	internal "github.com/retina-ml/retina/internal/onnx"
	"github.com/retina-ml/retina/internal/tensor"
)

// DefaultOpset is the opset version exported graphs declare.
const DefaultOpset = internal.DefaultOpset

// Model is a loaded ONNX model ready for inference.
type Model = internal.Model

// LoadOptions configures model loading.
type LoadOptions = internal.LoadOptions

// ModelInfo is model metadata extracted without compiling the graph.
type ModelInfo = internal.ModelInfo

// GraphBuilder accumulates a graph during module tracing.
type GraphBuilder = internal.GraphBuilder

// Value is a symbolic tensor inside a graph under construction.
type Value = internal.Value

// Exportable is anything that can emit itself into a graph.
type Exportable = internal.Exportable

// ExportOptions configures graph export.
type ExportOptions = internal.ExportOptions

// DefaultExportOptions returns the standard export configuration: the
// default opset with constant folding enabled.
func DefaultExportOptions() ExportOptions {
	return internal.DefaultExportOptions()
}

// Export traces the module with the example inputs and serializes the
// resulting model.
func Export(m Exportable, exampleInputs []*tensor.RawTensor, opts ExportOptions) ([]byte, error) {
	return internal.Export(m, exampleInputs, opts)
}

// Load parses and compiles a model from a file.
func Load(path string, opts ...LoadOptions) (*Model, error) {
	return internal.Load(path, opts...)
}

// LoadFromBytes parses and compiles a model from raw bytes.
func LoadFromBytes(data []byte, opts ...LoadOptions) (*Model, error) {
	return internal.LoadFromBytes(data, opts...)
}

// GetModelInfo extracts metadata from a model file without compiling it.
func GetModelInfo(path string) (*ModelInfo, error) {
	return internal.GetModelInfo(path)
}

// GetModelInfoFromBytes extracts metadata from model bytes.
func GetModelInfoFromBytes(data []byte) (*ModelInfo, error) {
	return internal.GetModelInfoFromBytes(data)
}

// ListSupportedOps returns the operators the executor implements, sorted.
func ListSupportedOps() []string {
	return internal.ListSupportedOps()
}
