package onnx

// In-memory forms of the ONNX protobuf messages, restricted to the
// subset the parser reads and the writer emits. Field numbers live in
// parser.go and writer.go, which must stay in agreement.

// ModelProto is the top-level model: versioning, metadata and the graph.
type ModelProto struct {
	IRVersion       int64
	OpsetImport     []OperatorSetID
	ProducerName    string
	ProducerVersion string
	Domain          string
	ModelVersion    int64
	DocString       string
	Graph           *GraphProto
	MetadataProps   []StringStringEntry
}

// GraphProto holds the nodes, the declared IO and the baked weights.
type GraphProto struct {
	Name         string
	Nodes        []NodeProto
	Inputs       []ValueInfoProto
	Outputs      []ValueInfoProto
	Initializers []TensorProto
	DocString    string
	ValueInfo    []ValueInfoProto
}

// NodeProto is one operator invocation: op type, tensor names in and
// out, and its attributes.
type NodeProto struct {
	Name       string
	OpType     string
	Inputs     []string
	Outputs    []string
	Attributes []AttributeProto
	Domain     string
	DocString  string
}

// TensorProto carries constant tensor data. Exported graphs always use
// RawData; the typed fields cover models from producers that still emit
// the per-type arrays.
type TensorProto struct {
	Name      string
	DataType  int32
	Dims      []int64
	RawData   []byte
	FloatData []float32
	Int32Data []int32
	Int64Data []int64
}

// ValueInfoProto names a graph input, output or intermediate value and
// optionally its type.
type ValueInfoProto struct {
	Name string
	Type *TypeProto
}

// TypeProto wraps the tensor type; other ONNX type kinds (sequences,
// maps) are not represented.
type TypeProto struct {
	TensorType *TensorTypeProto
}

// TensorTypeProto pairs an element type with an optional shape.
type TensorTypeProto struct {
	ElemType int32
	Shape    *TensorShapeProto
}

// TensorShapeProto lists the dimensions of a declared value.
type TensorShapeProto struct {
	Dims []DimensionProto
}

// DimensionProto is one dimension: a static value or a symbolic name.
type DimensionProto struct {
	DimValue int64
	DimParam string
}

// AttributeProto is a typed node attribute. Type selects which value
// field is meaningful.
type AttributeProto struct {
	Name    string
	Type    int32
	F       float32
	I       int64
	S       []byte
	T       *TensorProto
	Floats  []float32
	Ints    []int64
	Strings [][]byte
}

// OperatorSetID declares the opset a model requires for a domain.
type OperatorSetID struct {
	Domain  string
	Version int64
}

// StringStringEntry is one metadata key-value pair.
type StringStringEntry struct {
	Key   string
	Value string
}

// Element types (TensorProto.DataType wire values). The executor runs
// float32, int64 and bool; int32 appears only in legacy initializer
// data, which the loader widens.
const (
	TensorProtoUndefined = 0
	TensorProtoFloat     = 1
	TensorProtoInt32     = 6
	TensorProtoInt64     = 7
	TensorProtoBool      = 9
)

// Attribute types (AttributeProto.Type wire values).
const (
	AttributeProtoUndefined = 0
	AttributeProtoFloat     = 1
	AttributeProtoInt       = 2
	AttributeProtoString    = 3
	AttributeProtoTensor    = 4
	AttributeProtoFloats    = 6
	AttributeProtoInts      = 7
	AttributeProtoStrings   = 8
)
