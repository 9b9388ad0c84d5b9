package onnx

import (
	"fmt"

	"github.com/retina-ml/retina/internal/onnx/operators"
)

// LoadOptions configures model loading behavior.
type LoadOptions struct {
	// StrictMode fails on unsupported operators (default: false = fail at
	// execution time instead).
	StrictMode bool

	// CustomOps provides custom operator handlers.
	CustomOps map[string]operators.OpHandler
}

// DefaultLoadOptions returns default loading options.
func DefaultLoadOptions() LoadOptions {
	return LoadOptions{
		StrictMode: false,
		CustomOps:  nil,
	}
}

// Load loads a model from file and prepares it for execution.
func Load(path string, opts ...LoadOptions) (*Model, error) {
	opt := DefaultLoadOptions()
	if len(opts) > 0 {
		opt = opts[0]
	}

	proto, err := ParseFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ONNX file: %w", err)
	}

	return LoadFromProto(proto, opt)
}

// LoadFromBytes loads a model from serialized bytes.
func LoadFromBytes(data []byte, opts ...LoadOptions) (*Model, error) {
	opt := DefaultLoadOptions()
	if len(opts) > 0 {
		opt = opts[0]
	}

	proto, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ONNX data: %w", err)
	}

	return LoadFromProto(proto, opt)
}

// LoadFromProto loads a model from a parsed ModelProto.
func LoadFromProto(proto *ModelProto, opt LoadOptions) (*Model, error) {
	registry := operators.NewRegistry()

	for opType, handler := range opt.CustomOps {
		registry.Register(opType, handler)
	}

	if opt.StrictMode {
		if err := validateOperators(proto.Graph, registry); err != nil {
			return nil, err
		}
	}

	model := &Model{
		proto:    proto,
		registry: registry,
	}

	if err := model.compile(); err != nil {
		return nil, fmt.Errorf("failed to compile model: %w", err)
	}

	return model, nil
}

// validateOperators checks that all operators are supported.
func validateOperators(graph *GraphProto, registry *operators.Registry) error {
	if graph == nil {
		return fmt.Errorf("model has no graph")
	}
	if registry == nil {
		return fmt.Errorf("registry is nil")
	}

	unsupported := make([]string, 0)
	for i := range graph.Nodes {
		if _, ok := registry.Get(graph.Nodes[i].OpType); !ok {
			unsupported = append(unsupported, graph.Nodes[i].OpType)
		}
	}

	if len(unsupported) > 0 {
		return fmt.Errorf("unsupported operators: %v", unsupported)
	}

	return nil
}

// ModelInfo contains basic information about a model without fully loading it.
type ModelInfo struct {
	IRVersion       int64
	OpsetVersion    int64
	ProducerName    string
	ProducerVersion string
	InputNames      []string
	OutputNames     []string
	NodeCount       int
	WeightCount     int
}

// GetModelInfo extracts basic info from a model file.
func GetModelInfo(path string) (*ModelInfo, error) {
	proto, err := ParseFile(path)
	if err != nil {
		return nil, err
	}
	return infoFromProto(proto), nil
}

// GetModelInfoFromBytes extracts basic info from serialized model bytes.
func GetModelInfoFromBytes(data []byte) (*ModelInfo, error) {
	proto, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return infoFromProto(proto), nil
}

func infoFromProto(proto *ModelProto) *ModelInfo {
	info := &ModelInfo{
		IRVersion:       proto.IRVersion,
		ProducerName:    proto.ProducerName,
		ProducerVersion: proto.ProducerVersion,
	}

	for _, opset := range proto.OpsetImport {
		if opset.Domain == "" || opset.Domain == "ai.onnx" {
			info.OpsetVersion = opset.Version
			break
		}
	}

	if proto.Graph != nil {
		initNames := make(map[string]bool)
		for i := range proto.Graph.Initializers {
			initNames[proto.Graph.Initializers[i].Name] = true
		}
		for i := range proto.Graph.Inputs {
			if !initNames[proto.Graph.Inputs[i].Name] {
				info.InputNames = append(info.InputNames, proto.Graph.Inputs[i].Name)
			}
		}

		for _, output := range proto.Graph.Outputs {
			info.OutputNames = append(info.OutputNames, output.Name)
		}

		info.NodeCount = len(proto.Graph.Nodes)
		info.WeightCount = len(proto.Graph.Initializers)
	}

	return info
}

// ListSupportedOps returns all supported operator types.
func ListSupportedOps() []string {
	registry := operators.NewRegistry()
	return registry.SupportedOps()
}
