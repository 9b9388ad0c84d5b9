package operators

import (
	"fmt"

	"github.com/retina-ml/retina/internal/tensor"
)

// registerShapeOps adds shape manipulation operators to the registry.
func (r *Registry) registerShapeOps() {
	r.Register("Reshape", handleReshape)
	r.Register("Flatten", handleFlatten)
	r.Register("Transpose", handleTranspose)
	r.Register("Squeeze", handleSqueeze)
	r.Register("Unsqueeze", handleUnsqueeze)
	r.Register("Concat", handleConcat)
	r.Register("Slice", handleSlice)
	r.Register("Gather", handleGather)
	r.Register("Expand", handleExpand)
	r.Register("Cast", handleCast)
	r.Register("Shape", handleShape)
}

func handleReshape(_ *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(inputs) != 2 {
		return nil, fmt.Errorf("reshape requires 2 inputs (data, shape), got %d", len(inputs))
	}

	shapeData := inputs[1].AsInt64()
	newShape := make(tensor.Shape, len(shapeData))
	for i, v := range shapeData {
		newShape[i] = int(v)
	}

	result, err := tensor.Reshape(inputs[0], newShape)
	if err != nil {
		return nil, err
	}
	return []*tensor.RawTensor{result}, nil
}

func handleFlatten(node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("flatten requires 1 input, got %d", len(inputs))
	}
	axis := int(GetAttrInt(node, "axis", 1))
	result, err := tensor.Flatten(inputs[0], axis)
	if err != nil {
		return nil, err
	}
	return []*tensor.RawTensor{result}, nil
}

func handleTranspose(node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("transpose requires 1 input, got %d", len(inputs))
	}

	perm := GetAttrInts(node, "perm")
	axes := make([]int, len(perm))
	for i, v := range perm {
		axes[i] = int(v)
	}

	result, err := tensor.Transpose(inputs[0], axes...)
	if err != nil {
		return nil, err
	}
	return []*tensor.RawTensor{result}, nil
}

func handleSqueeze(node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(inputs) < 1 {
		return nil, fmt.Errorf("squeeze requires at least 1 input, got %d", len(inputs))
	}

	// Opset 13 moved axes to a second input; opset 11 keeps the attribute.
	var axes []int
	if len(inputs) >= 2 && inputs[1] != nil {
		for _, v := range inputs[1].AsInt64() {
			axes = append(axes, int(v))
		}
	} else {
		for _, v := range GetAttrInts(node, "axes") {
			axes = append(axes, int(v))
		}
	}

	result, err := tensor.Squeeze(inputs[0], axes...)
	if err != nil {
		return nil, err
	}
	return []*tensor.RawTensor{result}, nil
}

func handleUnsqueeze(node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(inputs) < 1 {
		return nil, fmt.Errorf("unsqueeze requires at least 1 input, got %d", len(inputs))
	}

	var axes []int
	if len(inputs) >= 2 && inputs[1] != nil {
		for _, v := range inputs[1].AsInt64() {
			axes = append(axes, int(v))
		}
	} else {
		for _, v := range GetAttrInts(node, "axes") {
			axes = append(axes, int(v))
		}
	}

	result, err := tensor.Unsqueeze(inputs[0], axes...)
	if err != nil {
		return nil, err
	}
	return []*tensor.RawTensor{result}, nil
}

func handleConcat(node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(inputs) < 1 {
		return nil, fmt.Errorf("concat requires at least 1 input, got %d", len(inputs))
	}
	axis := int(GetAttrInt(node, "axis", 0))
	result, err := tensor.Concat(inputs, axis)
	if err != nil {
		return nil, err
	}
	return []*tensor.RawTensor{result}, nil
}

// handleSlice implements the opset 11 form with starts/ends/axes/steps as
// inputs.
func handleSlice(_ *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(inputs) < 3 {
		return nil, fmt.Errorf("slice requires at least 3 inputs, got %d", len(inputs))
	}

	starts := inputs[1].AsInt64()
	ends := inputs[2].AsInt64()
	var axes, steps []int64
	if len(inputs) >= 4 && inputs[3] != nil {
		axes = inputs[3].AsInt64()
	}
	if len(inputs) >= 5 && inputs[4] != nil {
		steps = inputs[4].AsInt64()
	}

	result, err := tensor.Slice(inputs[0], starts, ends, axes, steps)
	if err != nil {
		return nil, err
	}
	return []*tensor.RawTensor{result}, nil
}

func handleGather(node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(inputs) != 2 {
		return nil, fmt.Errorf("gather requires 2 inputs, got %d", len(inputs))
	}
	axis := int(GetAttrInt(node, "axis", 0))
	result, err := tensor.Gather(inputs[0], inputs[1], axis)
	if err != nil {
		return nil, err
	}
	return []*tensor.RawTensor{result}, nil
}

func handleExpand(_ *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(inputs) != 2 {
		return nil, fmt.Errorf("expand requires 2 inputs, got %d", len(inputs))
	}

	shapeData := inputs[1].AsInt64()
	target := make(tensor.Shape, len(shapeData))
	for i, v := range shapeData {
		target[i] = int(v)
	}

	// Expand broadcasts both ways: a target dimension of 1 keeps the
	// input's size.
	outShape, err := tensor.BroadcastShapes(inputs[0].Shape(), target)
	if err != nil {
		return nil, fmt.Errorf("expand: %w", err)
	}
	result, err := tensor.Expand(inputs[0], outShape)
	if err != nil {
		return nil, err
	}
	return []*tensor.RawTensor{result}, nil
}

func handleCast(node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("cast requires 1 input, got %d", len(inputs))
	}
	dtype, err := dtypeFromElemType(int32(GetAttrInt(node, "to", 0)))
	if err != nil {
		return nil, fmt.Errorf("cast: %w", err)
	}
	result, err := tensor.Cast(inputs[0], dtype)
	if err != nil {
		return nil, err
	}
	return []*tensor.RawTensor{result}, nil
}

func handleShape(_ *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("shape requires 1 input, got %d", len(inputs))
	}
	shape := inputs[0].Shape()
	dims := make([]int64, len(shape))
	for i, d := range shape {
		dims[i] = int64(d)
	}
	result, err := tensor.FromInt64(dims, tensor.Shape{len(dims)})
	if err != nil {
		return nil, err
	}
	return []*tensor.RawTensor{result}, nil
}

func dtypeFromElemType(elemType int32) (tensor.DataType, error) {
	switch elemType {
	case TensorProtoFloat:
		return tensor.Float32, nil
	case TensorProtoInt64:
		return tensor.Int64, nil
	case TensorProtoBool:
		return tensor.Bool, nil
	default:
		return 0, fmt.Errorf("unsupported element type %d", elemType)
	}
}
