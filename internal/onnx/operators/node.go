// Package operators provides the operator implementations behind the
// graph executor.
package operators

// ONNX element types (TensorProto.DataType) understood by the executor.
const (
	TensorProtoFloat = 1 // float32
	TensorProtoInt64 = 7 // int64
	TensorProtoBool  = 9 // bool
)

// Node represents a single operation inside a graph. This is a local copy
// of the relevant fields from onnx.NodeProto to avoid an import cycle
// between the onnx and operators packages.
type Node struct {
	Name       string      // Node name (optional)
	OpType     string      // Operation type (e.g., "TopK", "RoiAlign")
	Inputs     []string    // Input tensor names
	Outputs    []string    // Output tensor names
	Attributes []Attribute // Operation attributes
	Domain     string      // Custom domain (empty for default)
}

// Attribute represents a node attribute.
type Attribute struct {
	Name    string      // Attribute name
	Type    int32       // Attribute type
	F       float32     // FLOAT value
	I       int64       // INT value
	S       []byte      // STRING value
	T       *TensorAttr // TENSOR value
	Floats  []float32   // FLOATS array
	Ints    []int64     // INTS array
	Strings [][]byte    // STRINGS array
}

// TensorAttr is a flattened tensor-valued attribute.
type TensorAttr struct {
	Dims     []int64
	DataType int32
	Raw      []byte
	Floats   []float32
	Ints     []int64
}

// GetAttrInt returns an integer attribute or default value.
func GetAttrInt(node *Node, name string, defaultVal int64) int64 {
	for i := range node.Attributes {
		if node.Attributes[i].Name == name {
			return node.Attributes[i].I
		}
	}
	return defaultVal
}

// GetAttrInts returns an integer array attribute.
func GetAttrInts(node *Node, name string) []int64 {
	for i := range node.Attributes {
		if node.Attributes[i].Name == name {
			return node.Attributes[i].Ints
		}
	}
	return nil
}

// GetAttrFloat returns a float attribute or default value.
func GetAttrFloat(node *Node, name string, defaultVal float32) float32 {
	for i := range node.Attributes {
		if node.Attributes[i].Name == name {
			return node.Attributes[i].F
		}
	}
	return defaultVal
}

// GetAttrString returns a string attribute or default value.
func GetAttrString(node *Node, name, defaultVal string) string {
	for i := range node.Attributes {
		if node.Attributes[i].Name == name {
			return string(node.Attributes[i].S)
		}
	}
	return defaultVal
}

// GetAttrTensor returns a tensor attribute or nil.
func GetAttrTensor(node *Node, name string) *TensorAttr {
	for i := range node.Attributes {
		if node.Attributes[i].Name == name {
			return node.Attributes[i].T
		}
	}
	return nil
}
