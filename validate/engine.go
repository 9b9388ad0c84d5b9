package validate

import (
	"fmt"

	"github.com/retina-ml/retina/internal/onnx"
	"github.com/retina-ml/retina/internal/tensor"
)

// Engine executes a serialized model on some backend.
type Engine interface {
	Name() string
	Run(blob []byte, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error)
}

// NativeEngine runs models on the built-in graph executor.
type NativeEngine struct{}

// Name implements Engine.
func (NativeEngine) Name() string { return "native" }

// Run implements Engine.
func (NativeEngine) Run(blob []byte, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	model, err := onnx.LoadFromBytes(blob)
	if err != nil {
		return nil, fmt.Errorf("native: %w", err)
	}
	return model.Run(inputs)
}
