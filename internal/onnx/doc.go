// Package onnx provides ONNX model import, export and execution.
//
// The package implements a hand-written protobuf parser and encoder for
// .onnx files without external dependencies, a graph builder used when
// tracing modules into graphs, and a reference executor that runs graphs
// node by node through the operator registry.
//
// Key components:
//   - ModelProto: Top-level ONNX model structure with metadata and graph
//   - GraphBuilder: Incremental graph construction during tracing
//   - Model: Compiled graph ready for execution
//   - Serialize / Parse: Wire format encoder and decoder
//
// Example usage:
//
//	blob, err := onnx.Export(module, inputs, onnx.DefaultExportOptions())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	model, err := onnx.LoadFromBytes(blob)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	outputs, err := model.Run(inputs)
package onnx

// Version is the producer version stamped on exported models.
const Version = "0.1.0"
