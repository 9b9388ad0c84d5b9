package onnx

import (
	"testing"

	"github.com/retina-ml/retina/internal/tensor"
)

type emitFunc func(g *GraphBuilder, ins []*Value) ([]*Value, error)

func (f emitFunc) Emit(g *GraphBuilder, ins []*Value) ([]*Value, error) { return f(g, ins) }

func TestExportProducesRunnableModel(t *testing.T) {
	m := emitFunc(func(g *GraphBuilder, ins []*Value) ([]*Value, error) {
		return []*Value{g.Relu(ins[0])}, nil
	})

	example, err := tensor.FromFloat32([]float32{-1, 2, -3}, tensor.Shape{3})
	if err != nil {
		t.Fatal(err)
	}
	blob, err := Export(m, []*tensor.RawTensor{example}, DefaultExportOptions())
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	model, err := LoadFromBytes(blob)
	if err != nil {
		t.Fatalf("LoadFromBytes failed: %v", err)
	}
	outputs, err := model.Run([]*tensor.RawTensor{example})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	got := outputs[0].AsFloat32()
	want := []float32{0, 2, 0}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("output[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestExportNamesAndOpset(t *testing.T) {
	m := emitFunc(func(g *GraphBuilder, ins []*Value) ([]*Value, error) {
		return []*Value{g.Sigmoid(ins[0])}, nil
	})
	example, err := tensor.FromFloat32([]float32{0}, tensor.Shape{1})
	if err != nil {
		t.Fatal(err)
	}

	opts := DefaultExportOptions()
	opts.GraphName = "sig"
	opts.InputNames = []string{"scores"}
	opts.OutputNames = []string{"probs"}
	proto, err := ExportProto(m, []*tensor.RawTensor{example}, opts)
	if err != nil {
		t.Fatalf("ExportProto failed: %v", err)
	}

	if proto.Graph.Name != "sig" {
		t.Errorf("graph name = %q, want sig", proto.Graph.Name)
	}
	if proto.Graph.Inputs[0].Name != "scores" {
		t.Errorf("input name = %q, want scores", proto.Graph.Inputs[0].Name)
	}
	if proto.Graph.Outputs[0].Name != "probs" {
		t.Errorf("output name = %q, want probs", proto.Graph.Outputs[0].Name)
	}
	if len(proto.OpsetImport) != 1 || proto.OpsetImport[0].Version != DefaultOpset {
		t.Errorf("opset = %v, want %d", proto.OpsetImport, DefaultOpset)
	}
	if proto.ProducerName != "retina" {
		t.Errorf("producer = %q, want retina", proto.ProducerName)
	}
}

func TestExportFoldsConstantSubgraphs(t *testing.T) {
	// x + (c1 + c2): the inner Add has constant-only inputs and must fold.
	m := emitFunc(func(g *GraphBuilder, ins []*Value) ([]*Value, error) {
		c1 := g.ConstFloats([]float32{1, 1})
		c2 := g.ConstFloats([]float32{2, 3})
		return []*Value{g.Add(ins[0], g.Add(c1, c2))}, nil
	})
	example, err := tensor.FromFloat32([]float32{10, 20}, tensor.Shape{2})
	if err != nil {
		t.Fatal(err)
	}

	proto, err := ExportProto(m, []*tensor.RawTensor{example}, DefaultExportOptions())
	if err != nil {
		t.Fatalf("ExportProto failed: %v", err)
	}

	// Outer Add plus the output Identity; the inner Add is gone.
	if len(proto.Graph.Nodes) != 2 {
		t.Errorf("got %d nodes after folding, want 2", len(proto.Graph.Nodes))
	}
	for _, n := range proto.Graph.Nodes {
		if n.OpType == "Add" && len(n.Inputs) == 2 {
			continue
		}
		if n.OpType != "Identity" && n.OpType != "Add" {
			t.Errorf("unexpected node %s after folding", n.OpType)
		}
	}
	// The folded sum is an initializer; the two source constants are pruned.
	if len(proto.Graph.Initializers) != 1 {
		t.Fatalf("got %d initializers, want 1", len(proto.Graph.Initializers))
	}
	folded, err := TensorFromProto(&proto.Graph.Initializers[0])
	if err != nil {
		t.Fatal(err)
	}
	if v := folded.AsFloat32(); v[0] != 3 || v[1] != 4 {
		t.Errorf("folded constant = %v, want [3 4]", v)
	}

	model, err := LoadFromBytes(Serialize(proto))
	if err != nil {
		t.Fatalf("LoadFromBytes failed: %v", err)
	}
	outputs, err := model.Run([]*tensor.RawTensor{example})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got := outputs[0].AsFloat32(); got[0] != 13 || got[1] != 24 {
		t.Errorf("output = %v, want [13 24]", got)
	}
}

func TestExportIsDeterministic(t *testing.T) {
	m := emitFunc(func(g *GraphBuilder, ins []*Value) ([]*Value, error) {
		return []*Value{g.Relu(g.Add(ins[0], g.ConstFloats([]float32{1})))}, nil
	})
	example, err := tensor.FromFloat32([]float32{5}, tensor.Shape{1})
	if err != nil {
		t.Fatal(err)
	}

	a, err := Export(m, []*tensor.RawTensor{example}, DefaultExportOptions())
	if err != nil {
		t.Fatal(err)
	}
	b, err := Export(m, []*tensor.RawTensor{example}, DefaultExportOptions())
	if err != nil {
		t.Fatal(err)
	}
	if string(a) != string(b) {
		t.Error("repeated export produced different bytes")
	}
}

func TestExportRequiresInputs(t *testing.T) {
	m := emitFunc(func(g *GraphBuilder, ins []*Value) ([]*Value, error) {
		return nil, nil
	})
	if _, err := Export(m, nil, DefaultExportOptions()); err == nil {
		t.Error("expected error for missing example inputs")
	}
}
