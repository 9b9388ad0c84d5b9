package operators

import (
	"fmt"
	"math"

	"github.com/retina-ml/retina/internal/tensor"
)

// registerUtilityOps adds utility and control operators to the registry.
func (r *Registry) registerUtilityOps() {
	r.Register("Identity", handleIdentity)
	r.Register("Constant", handleConstant)
	r.Register("Clip", handleClip)
	r.Register("Where", handleWhere)
	r.Register("Equal", binaryHandler("equal", tensor.Equal))
	r.Register("Greater", binaryHandler("greater", tensor.Greater))
	r.Register("And", binaryHandler("and", tensor.And))
	r.Register("NonZero", handleNonZero)
	r.Register("Pad", handlePad)
	r.Register("Resize", handleResize)
	r.Register("TopK", handleTopK)
}

func handleIdentity(_ *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("identity requires 1 input, got %d", len(inputs))
	}
	return inputs, nil
}

func handleConstant(node *Node, _ []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	attr := GetAttrTensor(node, "value")
	if attr == nil {
		return nil, fmt.Errorf("constant: missing value attribute")
	}
	t, err := tensorFromAttr(attr)
	if err != nil {
		return nil, fmt.Errorf("constant: %w", err)
	}
	return []*tensor.RawTensor{t}, nil
}

// tensorFromAttr materializes a tensor-valued attribute.
func tensorFromAttr(attr *TensorAttr) (*tensor.RawTensor, error) {
	shape := make(tensor.Shape, len(attr.Dims))
	for i, d := range attr.Dims {
		shape[i] = int(d)
	}
	dtype, err := dtypeFromElemType(attr.DataType)
	if err != nil {
		return nil, err
	}
	t, err := tensor.NewRaw(shape, dtype)
	if err != nil {
		return nil, err
	}
	switch {
	case len(attr.Raw) > 0:
		copy(t.Data(), attr.Raw)
	case len(attr.Floats) > 0:
		copy(t.AsFloat32(), attr.Floats)
	case len(attr.Ints) > 0:
		copy(t.AsInt64(), attr.Ints)
	}
	return t, nil
}

// handleClip implements the opset 11 form with min/max as optional inputs.
func handleClip(_ *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(inputs) < 1 {
		return nil, fmt.Errorf("clip requires at least 1 input, got %d", len(inputs))
	}
	minVal := float32(math.Inf(-1))
	maxVal := float32(math.Inf(1))
	if len(inputs) >= 2 && inputs[1] != nil {
		minVal = inputs[1].AsFloat32()[0]
	}
	if len(inputs) >= 3 && inputs[2] != nil {
		maxVal = inputs[2].AsFloat32()[0]
	}
	result, err := tensor.Clip(inputs[0], minVal, maxVal)
	if err != nil {
		return nil, err
	}
	return []*tensor.RawTensor{result}, nil
}

func handleWhere(_ *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(inputs) != 3 {
		return nil, fmt.Errorf("where requires 3 inputs, got %d", len(inputs))
	}
	result, err := tensor.Where(inputs[0], inputs[1], inputs[2])
	if err != nil {
		return nil, err
	}
	return []*tensor.RawTensor{result}, nil
}

func handleNonZero(_ *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("nonzero requires 1 input, got %d", len(inputs))
	}
	result, err := tensor.NonZero(inputs[0])
	if err != nil {
		return nil, err
	}
	return []*tensor.RawTensor{result}, nil
}

// handlePad implements constant-mode zero padding with pads as an input.
func handlePad(node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(inputs) < 2 {
		return nil, fmt.Errorf("pad requires at least 2 inputs, got %d", len(inputs))
	}
	if mode := GetAttrString(node, "mode", "constant"); mode != "constant" {
		return nil, fmt.Errorf("pad: unsupported mode %q", mode)
	}
	if len(inputs) >= 3 && inputs[2] != nil {
		if v := inputs[2].AsFloat32()[0]; v != 0 {
			return nil, fmt.Errorf("pad: unsupported constant value %v", v)
		}
	}
	result, err := tensor.Pad(inputs[0], inputs[1].AsInt64())
	if err != nil {
		return nil, err
	}
	return []*tensor.RawTensor{result}, nil
}

// handleResize implements bilinear resize with asymmetric coordinates and a
// runtime sizes tensor, the only combination detection graphs emit.
func handleResize(node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(inputs) < 4 || inputs[3] == nil {
		return nil, fmt.Errorf("resize requires a sizes input")
	}
	if mode := GetAttrString(node, "mode", "nearest"); mode != "linear" {
		return nil, fmt.Errorf("resize: unsupported mode %q", mode)
	}
	if ct := GetAttrString(node, "coordinate_transformation_mode", "half_pixel"); ct != "asymmetric" {
		return nil, fmt.Errorf("resize: unsupported coordinate transformation %q", ct)
	}

	sizes := inputs[3].AsInt64()
	if len(sizes) != 4 {
		return nil, fmt.Errorf("resize: expected 4 sizes, got %d", len(sizes))
	}
	result, err := tensor.ResizeBilinear(inputs[0], int(sizes[2]), int(sizes[3]))
	if err != nil {
		return nil, err
	}
	return []*tensor.RawTensor{result}, nil
}

func handleTopK(node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(inputs) != 2 {
		return nil, fmt.Errorf("topk requires 2 inputs, got %d", len(inputs))
	}
	if largest := GetAttrInt(node, "largest", 1); largest != 1 {
		return nil, fmt.Errorf("topk: only largest=1 is supported")
	}
	axis := int(GetAttrInt(node, "axis", -1))
	k := int(inputs[1].AsInt64()[0])

	values, indices, err := tensor.TopK(inputs[0], k, axis)
	if err != nil {
		return nil, err
	}
	return []*tensor.RawTensor{values, indices}, nil
}
