package onnx

import (
	"testing"

	"github.com/retina-ml/retina/internal/tensor"
)

// buildAddModel builds a minimal Z = X + Y model through the builder.
func buildAddModel(t *testing.T) *ModelProto {
	t.Helper()
	b := NewGraphBuilder("add_graph")
	x := b.Input("X", tensor.Float32, tensor.Shape{2, 3})
	y := b.Input("Y", tensor.Float32, tensor.Shape{2, 3})
	b.Output(b.Add(x, y), "Z")
	return &ModelProto{
		IRVersion:   ExportIRVersion,
		Graph:       b.Graph(),
		OpsetImport: []OperatorSetID{{Version: DefaultOpset}},
	}
}

func TestRoundTripModel(t *testing.T) {
	proto := buildAddModel(t)
	data := Serialize(proto)

	parsed, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if parsed.IRVersion != ExportIRVersion {
		t.Errorf("IR version = %d, want %d", parsed.IRVersion, ExportIRVersion)
	}
	if parsed.Graph == nil {
		t.Fatal("Graph is nil")
	}
	if parsed.Graph.Name != "add_graph" {
		t.Errorf("graph name = %q, want %q", parsed.Graph.Name, "add_graph")
	}
	if len(parsed.Graph.Inputs) != 2 {
		t.Errorf("got %d inputs, want 2", len(parsed.Graph.Inputs))
	}
	if len(parsed.Graph.Outputs) != 1 {
		t.Errorf("got %d outputs, want 1", len(parsed.Graph.Outputs))
	}
	if len(parsed.OpsetImport) != 1 || parsed.OpsetImport[0].Version != DefaultOpset {
		t.Errorf("opset import = %v, want version %d", parsed.OpsetImport, DefaultOpset)
	}

	// Add node plus the Identity feeding the output.
	if len(parsed.Graph.Nodes) != 2 {
		t.Fatalf("got %d nodes, want 2", len(parsed.Graph.Nodes))
	}
	if parsed.Graph.Nodes[0].OpType != "Add" {
		t.Errorf("first op = %q, want Add", parsed.Graph.Nodes[0].OpType)
	}
}

func TestRoundTripInputTypeInfo(t *testing.T) {
	data := Serialize(buildAddModel(t))
	parsed, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	input := parsed.Graph.Inputs[0]
	if input.Name != "X" {
		t.Errorf("input name = %q, want X", input.Name)
	}
	if input.Type == nil || input.Type.TensorType == nil {
		t.Fatal("input type info is nil")
	}
	if input.Type.TensorType.ElemType != TensorProtoFloat {
		t.Errorf("elem type = %d, want %d", input.Type.TensorType.ElemType, TensorProtoFloat)
	}
	shape := input.Type.TensorType.Shape
	if shape == nil || len(shape.Dims) != 2 {
		t.Fatalf("shape dims = %v, want 2 dims", shape)
	}
	if shape.Dims[0].DimValue != 2 || shape.Dims[1].DimValue != 3 {
		t.Errorf("dims = [%d, %d], want [2, 3]", shape.Dims[0].DimValue, shape.Dims[1].DimValue)
	}
}

func TestRoundTripInitializer(t *testing.T) {
	b := NewGraphBuilder("g")
	x := b.Input("X", tensor.Float32, tensor.Shape{1, 4})
	w, err := tensor.FromFloat32([]float32{1, 2, 3, 4, 5, 6, 7, 8}, tensor.Shape{4, 2})
	if err != nil {
		t.Fatal(err)
	}
	b.Output(b.MatMul(x, b.Initializer("W", w)), "Y")

	data := Serialize(&ModelProto{IRVersion: ExportIRVersion, Graph: b.Graph()})
	parsed, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if len(parsed.Graph.Initializers) != 1 {
		t.Fatalf("got %d initializers, want 1", len(parsed.Graph.Initializers))
	}
	init := &parsed.Graph.Initializers[0]
	if init.Name != "W" {
		t.Errorf("initializer name = %q, want W", init.Name)
	}
	if init.DataType != TensorProtoFloat {
		t.Errorf("initializer dtype = %d, want float", init.DataType)
	}
	if len(init.RawData) != 8*4 {
		t.Errorf("raw data size = %d, want %d", len(init.RawData), 8*4)
	}

	got, err := TensorFromProto(init)
	if err != nil {
		t.Fatalf("TensorFromProto failed: %v", err)
	}
	for i, want := range []float32{1, 2, 3, 4, 5, 6, 7, 8} {
		if got.AsFloat32()[i] != want {
			t.Errorf("initializer[%d] = %v, want %v", i, got.AsFloat32()[i], want)
		}
	}
}

func TestRoundTripAttributes(t *testing.T) {
	node := NodeProto{
		Name:    "n0",
		OpType:  "Custom",
		Inputs:  []string{"a"},
		Outputs: []string{"b"},
		Attributes: []AttributeProto{
			{Name: "f", Type: AttributeProtoFloat, F: 0.25},
			{Name: "i", Type: AttributeProtoInt, I: -3},
			{Name: "s", Type: AttributeProtoString, S: []byte("avg")},
			{Name: "ints", Type: AttributeProtoInts, Ints: []int64{7, 7}},
			{Name: "floats", Type: AttributeProtoFloats, Floats: []float32{0.5, 1.5}},
			{Name: "t", Type: AttributeProtoTensor, T: &TensorProto{
				Name: "tv", DataType: TensorProtoInt64, Dims: []int64{2},
				RawData: []byte{1, 0, 0, 0, 0, 0, 0, 0, 2, 0, 0, 0, 0, 0, 0, 0},
			}},
		},
	}
	data := Serialize(&ModelProto{Graph: &GraphProto{Nodes: []NodeProto{node}}})

	parsed, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	attrs := parsed.Graph.Nodes[0].Attributes
	if len(attrs) != 6 {
		t.Fatalf("got %d attributes, want 6", len(attrs))
	}

	byName := make(map[string]*AttributeProto)
	for i := range attrs {
		byName[attrs[i].Name] = &attrs[i]
	}
	if byName["f"].F != 0.25 || byName["f"].Type != AttributeProtoFloat {
		t.Errorf("float attr = %+v", byName["f"])
	}
	if byName["i"].I != -3 {
		t.Errorf("int attr = %d, want -3", byName["i"].I)
	}
	if string(byName["s"].S) != "avg" {
		t.Errorf("string attr = %q, want avg", byName["s"].S)
	}
	if len(byName["ints"].Ints) != 2 || byName["ints"].Ints[0] != 7 {
		t.Errorf("ints attr = %v, want [7 7]", byName["ints"].Ints)
	}
	if len(byName["floats"].Floats) != 2 || byName["floats"].Floats[1] != 1.5 {
		t.Errorf("floats attr = %v, want [0.5 1.5]", byName["floats"].Floats)
	}
	tv := byName["t"].T
	if tv == nil || tv.DataType != TensorProtoInt64 || len(tv.RawData) != 16 {
		t.Errorf("tensor attr = %+v", tv)
	}
}

func TestRoundTripMetadata(t *testing.T) {
	proto := buildAddModel(t)
	proto.ProducerName = "retina"
	proto.ProducerVersion = Version
	proto.MetadataProps = []StringStringEntry{{Key: "task", Value: "detection"}}

	parsed, err := Parse(Serialize(proto))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if parsed.ProducerName != "retina" {
		t.Errorf("producer = %q, want retina", parsed.ProducerName)
	}
	if len(parsed.MetadataProps) != 1 || parsed.MetadataProps[0].Value != "detection" {
		t.Errorf("metadata = %v", parsed.MetadataProps)
	}
}

func TestParseRejectsTruncated(t *testing.T) {
	data := Serialize(buildAddModel(t))
	if _, err := Parse(data[:len(data)-5]); err == nil {
		t.Error("expected error for truncated data")
	}
}

func TestSerializeNegativeVarint(t *testing.T) {
	node := NodeProto{
		OpType:     "Custom",
		Attributes: []AttributeProto{{Name: "axis", Type: AttributeProtoInt, I: -1}},
	}
	parsed, err := Parse(Serialize(&ModelProto{Graph: &GraphProto{Nodes: []NodeProto{node}}}))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if got := parsed.Graph.Nodes[0].Attributes[0].I; got != -1 {
		t.Errorf("attr = %d, want -1", got)
	}
}
