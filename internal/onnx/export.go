package onnx

import (
	"fmt"

	"github.com/retina-ml/retina/internal/onnx/operators"
	"github.com/retina-ml/retina/internal/tensor"
)

// DefaultOpset is the opset version exported graphs declare. Opset 11 is
// the earliest version covering TopK with a runtime k, Slice with input
// bounds and RoiAlign.
const DefaultOpset = 11

// ExportIRVersion is the IR version stamped on exported models.
const ExportIRVersion = 7

// Exportable is anything that can emit itself into a graph under
// construction. The example inputs fix the input shapes; graphs are
// shape-specialized to them.
type Exportable interface {
	Emit(g *GraphBuilder, ins []*Value) ([]*Value, error)
}

// ExportOptions configures graph export.
type ExportOptions struct {
	// GraphName names the exported graph (default "graph").
	GraphName string

	// InputNames / OutputNames override the generated IO names. Missing
	// entries fall back to input_N / output_N.
	InputNames  []string
	OutputNames []string

	// OpsetVersion selects the declared opset (default DefaultOpset).
	OpsetVersion int64

	// ConstantFolding evaluates nodes whose inputs are all constants and
	// bakes the results as initializers (default on via DefaultExportOptions).
	ConstantFolding bool
}

// DefaultExportOptions returns the standard export configuration.
func DefaultExportOptions() ExportOptions {
	return ExportOptions{
		OpsetVersion:    DefaultOpset,
		ConstantFolding: true,
	}
}

// Export traces the module with the example inputs and serializes the
// resulting graph.
func Export(m Exportable, exampleInputs []*tensor.RawTensor, opts ExportOptions) ([]byte, error) {
	proto, err := ExportProto(m, exampleInputs, opts)
	if err != nil {
		return nil, err
	}
	return Serialize(proto), nil
}

// ExportProto traces the module and returns the model proto without
// serializing it.
func ExportProto(m Exportable, exampleInputs []*tensor.RawTensor, opts ExportOptions) (*ModelProto, error) {
	if len(exampleInputs) == 0 {
		return nil, fmt.Errorf("export requires at least one example input")
	}
	if opts.GraphName == "" {
		opts.GraphName = "graph"
	}
	if opts.OpsetVersion == 0 {
		opts.OpsetVersion = DefaultOpset
	}

	b := NewGraphBuilder(opts.GraphName)
	ins := make([]*Value, len(exampleInputs))
	for i, t := range exampleInputs {
		name := fmt.Sprintf("input_%d", i)
		if i < len(opts.InputNames) && opts.InputNames[i] != "" {
			name = opts.InputNames[i]
		}
		ins[i] = b.Input(name, t.DType(), t.Shape())
	}

	outs, err := m.Emit(b, ins)
	if err != nil {
		return nil, fmt.Errorf("emit failed: %w", err)
	}
	if len(outs) == 0 {
		return nil, fmt.Errorf("module emitted no outputs")
	}
	for i, out := range outs {
		name := fmt.Sprintf("output_%d", i)
		if i < len(opts.OutputNames) && opts.OutputNames[i] != "" {
			name = opts.OutputNames[i]
		}
		b.Output(out, name)
	}

	graph := b.Graph()
	if opts.ConstantFolding {
		if err := foldConstants(graph); err != nil {
			return nil, fmt.Errorf("constant folding failed: %w", err)
		}
	}
	pruneInitializers(graph)

	return &ModelProto{
		IRVersion:       ExportIRVersion,
		ProducerName:    "retina",
		ProducerVersion: Version,
		Graph:           graph,
		OpsetImport:     []OperatorSetID{{Domain: "", Version: opts.OpsetVersion}},
	}, nil
}

// foldConstants evaluates nodes whose inputs are all initializers and
// replaces them with initializers. Nodes feeding graph outputs directly
// are left in place so every output is still produced by a node.
func foldConstants(g *GraphProto) error {
	known := make(map[string]*tensor.RawTensor, len(g.Initializers))
	for i := range g.Initializers {
		t, err := TensorFromProto(&g.Initializers[i])
		if err != nil {
			return err
		}
		known[g.Initializers[i].Name] = t
	}

	isGraphInput := make(map[string]bool, len(g.Inputs))
	for i := range g.Inputs {
		isGraphInput[g.Inputs[i].Name] = true
	}
	isGraphOutput := make(map[string]bool, len(g.Outputs))
	for i := range g.Outputs {
		isGraphOutput[g.Outputs[i].Name] = true
	}

	registry := operators.NewRegistry()
	kept := g.Nodes[:0]
	for i := range g.Nodes {
		node := &g.Nodes[i]

		foldable := true
		for _, in := range node.Inputs {
			if in == "" {
				continue
			}
			if isGraphInput[in] {
				foldable = false
				break
			}
			if _, ok := known[in]; !ok {
				foldable = false
				break
			}
		}
		for _, out := range node.Outputs {
			if isGraphOutput[out] {
				foldable = false
				break
			}
		}
		if !foldable {
			kept = append(kept, *node)
			continue
		}

		inputs := make([]*tensor.RawTensor, len(node.Inputs))
		for j, in := range node.Inputs {
			if in != "" {
				inputs[j] = known[in]
			}
		}
		outputs, err := registry.Execute(nodeProtoToOperatorNode(node), inputs)
		if err != nil {
			return fmt.Errorf("node %s (%s): %w", node.Name, node.OpType, err)
		}
		for j, out := range node.Outputs {
			if j < len(outputs) {
				known[out] = outputs[j]
				g.Initializers = append(g.Initializers, tensorToProto(out, outputs[j]))
			}
		}
	}
	g.Nodes = kept
	return nil
}

// pruneInitializers drops initializers no remaining node or output uses.
func pruneInitializers(g *GraphProto) {
	used := make(map[string]bool)
	for i := range g.Nodes {
		for _, in := range g.Nodes[i].Inputs {
			used[in] = true
		}
	}
	for i := range g.Outputs {
		used[g.Outputs[i].Name] = true
	}

	kept := g.Initializers[:0]
	for i := range g.Initializers {
		if used[g.Initializers[i].Name] {
			kept = append(kept, g.Initializers[i])
		}
	}
	g.Initializers = kept
}
