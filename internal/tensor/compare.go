package tensor

import "fmt"

func compareOp(a, b *RawTensor, name string, fn func(x, y float32) bool) (*RawTensor, error) {
	if a.DType() != Float32 || b.DType() != Float32 {
		return nil, fmt.Errorf("%s: expected float32 operands, got %s and %s", name, a.DType(), b.DType())
	}
	outShape, err := BroadcastShapes(a.Shape(), b.Shape())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	out, err := NewRaw(outShape, Bool)
	if err != nil {
		return nil, err
	}
	av, bv, ov := a.AsFloat32(), b.AsFloat32(), out.AsBool()
	outStrides := outShape.ComputeStrides()
	as := broadcastStrides(a.Shape(), outShape)
	bs := broadcastStrides(b.Shape(), outShape)
	for i := range ov {
		ov[i] = fn(av[broadcastIndex(i, outShape, outStrides, as)], bv[broadcastIndex(i, outShape, outStrides, bs)])
	}
	return out, nil
}

// Greater computes a > b element-wise with broadcasting.
func Greater(a, b *RawTensor) (*RawTensor, error) {
	return compareOp(a, b, "greater", func(x, y float32) bool { return x > y })
}

// GreaterOrEqual computes a >= b element-wise with broadcasting.
func GreaterOrEqual(a, b *RawTensor) (*RawTensor, error) {
	return compareOp(a, b, "greater_or_equal", func(x, y float32) bool { return x >= y })
}

// Equal computes a == b element-wise with broadcasting.
func Equal(a, b *RawTensor) (*RawTensor, error) {
	return compareOp(a, b, "equal", func(x, y float32) bool { return x == y })
}

// And computes the element-wise conjunction of two bool tensors.
func And(a, b *RawTensor) (*RawTensor, error) {
	if a.DType() != Bool || b.DType() != Bool {
		return nil, fmt.Errorf("and: expected bool operands, got %s and %s", a.DType(), b.DType())
	}
	outShape, err := BroadcastShapes(a.Shape(), b.Shape())
	if err != nil {
		return nil, fmt.Errorf("and: %w", err)
	}
	out, err := NewRaw(outShape, Bool)
	if err != nil {
		return nil, err
	}
	av, bv, ov := a.AsBool(), b.AsBool(), out.AsBool()
	outStrides := outShape.ComputeStrides()
	as := broadcastStrides(a.Shape(), outShape)
	bs := broadcastStrides(b.Shape(), outShape)
	for i := range ov {
		ov[i] = av[broadcastIndex(i, outShape, outStrides, as)] && bv[broadcastIndex(i, outShape, outStrides, bs)]
	}
	return out, nil
}

// NonZero returns the coordinates of true/non-zero elements as an int64
// tensor of shape [rank, count], matching the ONNX NonZero layout.
// Coordinates are emitted in row-major order.
func NonZero(x *RawTensor) (*RawTensor, error) {
	shape := x.Shape()
	rank := len(shape)
	strides := shape.ComputeStrides()

	truthy := func(i int) bool {
		switch x.DType() {
		case Bool:
			return x.AsBool()[i]
		case Float32:
			return x.AsFloat32()[i] != 0
		case Int64:
			return x.AsInt64()[i] != 0
		}
		return false
	}

	var flat []int
	n := x.NumElements()
	for i := 0; i < n; i++ {
		if truthy(i) {
			flat = append(flat, i)
		}
	}

	outRank := rank
	if outRank == 0 {
		outRank = 1
	}
	out, err := NewRaw(Shape{outRank, len(flat)}, Int64)
	if err != nil {
		return nil, err
	}
	ov := out.AsInt64()
	for k, f := range flat {
		for d := 0; d < rank; d++ {
			ov[d*len(flat)+k] = int64((f / strides[d]) % shape[d])
		}
	}
	return out, nil
}

// MaskIndices returns the positions of true elements of a 1D bool mask as a
// 1D int64 tensor. Convenience over NonZero for the common filtering case.
func MaskIndices(mask *RawTensor) (*RawTensor, error) {
	if mask.DType() != Bool || len(mask.Shape()) != 1 {
		return nil, fmt.Errorf("mask_indices: expected 1D bool mask, got %s %v", mask.DType(), mask.Shape())
	}
	var idx []int64
	for i, v := range mask.AsBool() {
		if v {
			idx = append(idx, int64(i))
		}
	}
	return FromInt64(idx, Shape{len(idx)})
}
