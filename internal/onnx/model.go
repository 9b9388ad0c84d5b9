package onnx

import (
	"fmt"

	"github.com/retina-ml/retina/internal/onnx/operators"
	"github.com/retina-ml/retina/internal/tensor"
)

// Model is a loaded graph ready for execution.
type Model struct {
	proto        *ModelProto
	registry     *operators.Registry
	tensors      map[string]*tensor.RawTensor // Weights
	inputNames   []string
	outputNames  []string
	sortedNodes  []NodeProto
	opsetVersion int64
}

// InputNames returns the names of model inputs in graph order.
func (m *Model) InputNames() []string {
	return m.inputNames
}

// OutputNames returns the names of model outputs in graph order.
func (m *Model) OutputNames() []string {
	return m.outputNames
}

// OpsetVersion returns the ONNX opset version.
func (m *Model) OpsetVersion() int64 {
	return m.opsetVersion
}

// Proto exposes the underlying model proto.
func (m *Model) Proto() *ModelProto {
	return m.proto
}

// Metadata returns model metadata as key-value pairs.
func (m *Model) Metadata() map[string]string {
	meta := make(map[string]string)
	for _, prop := range m.proto.MetadataProps {
		meta[prop.Key] = prop.Value
	}
	meta["producer_name"] = m.proto.ProducerName
	meta["producer_version"] = m.proto.ProducerVersion
	meta["domain"] = m.proto.Domain
	return meta
}

// Run executes the graph with positional inputs and returns outputs in
// graph order.
func (m *Model) Run(inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(inputs) != len(m.inputNames) {
		return nil, fmt.Errorf("model has %d inputs, got %d", len(m.inputNames), len(inputs))
	}
	named := make(map[string]*tensor.RawTensor, len(inputs))
	for i, t := range inputs {
		named[m.inputNames[i]] = t
	}
	byName, err := m.ForwardNamed(named)
	if err != nil {
		return nil, err
	}
	outputs := make([]*tensor.RawTensor, len(m.outputNames))
	for i, name := range m.outputNames {
		outputs[i] = byName[name]
	}
	return outputs, nil
}

// ForwardNamed executes the graph with named inputs and returns a map of
// output name to tensor.
func (m *Model) ForwardNamed(inputs map[string]*tensor.RawTensor) (map[string]*tensor.RawTensor, error) {
	tensors := make(map[string]*tensor.RawTensor, len(m.tensors)+len(inputs))
	for name, t := range m.tensors {
		tensors[name] = t
	}
	for name, t := range inputs {
		tensors[name] = t
	}

	for _, inputName := range m.inputNames {
		if _, ok := tensors[inputName]; !ok {
			return nil, fmt.Errorf("missing input: %s", inputName)
		}
	}

	for nodeIdx := range m.sortedNodes {
		node := &m.sortedNodes[nodeIdx]
		nodeInputs := make([]*tensor.RawTensor, len(node.Inputs))
		for i, inputName := range node.Inputs {
			if inputName == "" {
				// Optional input not provided
				nodeInputs[i] = nil
				continue
			}
			t, ok := tensors[inputName]
			if !ok {
				return nil, fmt.Errorf("node %s: missing input %s", node.Name, inputName)
			}
			nodeInputs[i] = t
		}

		opNode := nodeProtoToOperatorNode(node)
		outputs, err := m.registry.Execute(opNode, nodeInputs)
		if err != nil {
			return nil, fmt.Errorf("node %s (%s): %w", node.Name, node.OpType, err)
		}

		for i, outputName := range node.Outputs {
			if i < len(outputs) {
				tensors[outputName] = outputs[i]
			}
		}
	}

	result := make(map[string]*tensor.RawTensor, len(m.outputNames))
	for _, outputName := range m.outputNames {
		t, ok := tensors[outputName]
		if !ok {
			return nil, fmt.Errorf("missing output: %s", outputName)
		}
		result[outputName] = t
	}

	return result, nil
}

// compile prepares the model for execution.
func (m *Model) compile() error {
	graph := m.proto.Graph
	if graph == nil {
		return fmt.Errorf("model has no graph")
	}

	m.tensors = make(map[string]*tensor.RawTensor)
	for i := range graph.Initializers {
		init := &graph.Initializers[i]
		t, err := TensorFromProto(init)
		if err != nil {
			return fmt.Errorf("failed to load initializer %s: %w", init.Name, err)
		}
		m.tensors[init.Name] = t
	}

	initNames := make(map[string]bool)
	for i := range graph.Initializers {
		initNames[graph.Initializers[i].Name] = true
	}

	// Inputs are graph inputs minus initializers
	for i := range graph.Inputs {
		if !initNames[graph.Inputs[i].Name] {
			m.inputNames = append(m.inputNames, graph.Inputs[i].Name)
		}
	}

	for i := range graph.Outputs {
		m.outputNames = append(m.outputNames, graph.Outputs[i].Name)
	}

	m.sortedNodes = topologicalSort(graph.Nodes)

	for _, opset := range m.proto.OpsetImport {
		if opset.Domain == "" || opset.Domain == "ai.onnx" {
			m.opsetVersion = opset.Version
			break
		}
	}

	return nil
}

// TensorFromProto converts a TensorProto into a RawTensor.
func TensorFromProto(proto *TensorProto) (*tensor.RawTensor, error) {
	shape := make(tensor.Shape, len(proto.Dims))
	for i, dim := range proto.Dims {
		shape[i] = int(dim)
	}

	dtype, err := protoTypeToTensorType(proto.DataType)
	if err != nil {
		return nil, err
	}

	t, err := tensor.NewRaw(shape, dtype)
	if err != nil {
		return nil, err
	}

	// The data fields are mutually exclusive; raw data is what this
	// toolkit writes, the typed fields cover models from other producers.
	switch {
	case len(proto.RawData) > 0:
		copy(t.Data(), proto.RawData)
	case len(proto.FloatData) > 0:
		copy(t.AsFloat32(), proto.FloatData)
	case len(proto.Int64Data) > 0:
		copy(t.AsInt64(), proto.Int64Data)
	}

	return t, nil
}

// protoTypeToTensorType converts an ONNX element type to tensor.DataType.
func protoTypeToTensorType(onnxType int32) (tensor.DataType, error) {
	switch onnxType {
	case TensorProtoFloat:
		return tensor.Float32, nil
	case TensorProtoInt64:
		return tensor.Int64, nil
	case TensorProtoBool:
		return tensor.Bool, nil
	default:
		return 0, fmt.Errorf("unsupported tensor element type %d", onnxType)
	}
}

// nodeProtoToOperatorNode converts NodeProto to operators.Node.
func nodeProtoToOperatorNode(proto *NodeProto) *operators.Node {
	attrs := make([]operators.Attribute, len(proto.Attributes))
	for i := range proto.Attributes {
		attr := &proto.Attributes[i]
		attrs[i] = operators.Attribute{
			Name:    attr.Name,
			Type:    attr.Type,
			F:       attr.F,
			I:       attr.I,
			S:       attr.S,
			Floats:  attr.Floats,
			Ints:    attr.Ints,
			Strings: attr.Strings,
		}
		if attr.T != nil {
			attrs[i].T = &operators.TensorAttr{
				Dims:     attr.T.Dims,
				DataType: attr.T.DataType,
				Raw:      attr.T.RawData,
				Floats:   attr.T.FloatData,
				Ints:     attr.T.Int64Data,
			}
		}
	}
	return &operators.Node{
		Name:       proto.Name,
		OpType:     proto.OpType,
		Inputs:     proto.Inputs,
		Outputs:    proto.Outputs,
		Attributes: attrs,
		Domain:     proto.Domain,
	}
}

// topologicalSort sorts nodes in execution order.
// Ensures dependencies are executed before dependents.
func topologicalSort(nodes []NodeProto) []NodeProto {
	outputToNode := make(map[string]int)
	for i := range nodes {
		for _, output := range nodes[i].Outputs {
			outputToNode[output] = i
		}
	}

	visited := make([]bool, len(nodes))
	result := make([]NodeProto, 0, len(nodes))

	var visit func(i int)
	visit = func(i int) {
		if visited[i] {
			return
		}
		visited[i] = true

		// Visit dependencies first
		for _, input := range nodes[i].Inputs {
			if depIdx, ok := outputToNode[input]; ok {
				visit(depIdx)
			}
		}

		result = append(result, nodes[i])
	}

	for i := range nodes {
		visit(i)
	}

	return result
}
