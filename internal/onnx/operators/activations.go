package operators

import (
	"fmt"

	"github.com/retina-ml/retina/internal/tensor"
)

// registerActivations adds activation operators to the registry.
func (r *Registry) registerActivations() {
	r.Register("Relu", unaryHandler("relu", tensor.ReLU))
	r.Register("Sigmoid", unaryHandler("sigmoid", tensor.Sigmoid))
	r.Register("Softmax", handleSoftmax)
}

func handleSoftmax(node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("softmax requires 1 input, got %d", len(inputs))
	}
	axis := int(GetAttrInt(node, "axis", -1))
	result, err := tensor.Softmax(inputs[0], axis)
	if err != nil {
		return nil, err
	}
	return []*tensor.RawTensor{result}, nil
}
