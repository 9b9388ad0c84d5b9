package tensor

import (
	"fmt"
	"math"
)

// copyElem copies element si of src to element di of dst. Both tensors must
// share a dtype; the copy works on raw bytes so every dtype is covered.
func copyElem(dst, src *RawTensor, di, si int) {
	size := src.DType().Size()
	copy(dst.data[di*size:(di+1)*size], src.data[si*size:(si+1)*size])
}

// Reshape returns a copy of x with a new shape. One dimension may be -1 and
// is inferred from the element count.
func Reshape(x *RawTensor, newShape Shape) (*RawTensor, error) {
	shape := newShape.Clone()
	inferred := -1
	known := 1
	for i, d := range shape {
		if d == -1 {
			if inferred >= 0 {
				return nil, fmt.Errorf("reshape: multiple -1 dimensions in %v", newShape)
			}
			inferred = i
		} else {
			known *= d
		}
	}
	if inferred >= 0 {
		if known == 0 || x.NumElements()%known != 0 {
			return nil, fmt.Errorf("reshape: cannot infer dimension for %v from %v", newShape, x.Shape())
		}
		shape[inferred] = x.NumElements() / known
	}
	return x.WithShape(shape)
}

// Flatten collapses dimensions into 2D: [prod(dims[:axis]), prod(dims[axis:])].
func Flatten(x *RawTensor, axis int) (*RawTensor, error) {
	shape := x.Shape()
	if axis < 0 || axis > len(shape) {
		return nil, fmt.Errorf("flatten: axis %d out of range for shape %v", axis, shape)
	}
	outer := 1
	for _, d := range shape[:axis] {
		outer *= d
	}
	inner := 1
	for _, d := range shape[axis:] {
		inner *= d
	}
	return x.WithShape(Shape{outer, inner})
}

// Transpose permutes the axes of x. With no axes given, the order is reversed.
func Transpose(x *RawTensor, axes ...int) (*RawTensor, error) {
	shape := x.Shape()
	rank := len(shape)
	if len(axes) == 0 {
		axes = make([]int, rank)
		for i := range axes {
			axes[i] = rank - 1 - i
		}
	}
	if len(axes) != rank {
		return nil, fmt.Errorf("transpose: got %d axes for rank %d", len(axes), rank)
	}
	seen := make([]bool, rank)
	outShape := make(Shape, rank)
	for i, a := range axes {
		if a < 0 || a >= rank || seen[a] {
			return nil, fmt.Errorf("transpose: invalid axes %v for rank %d", axes, rank)
		}
		seen[a] = true
		outShape[i] = shape[a]
	}

	out, err := NewRaw(outShape, x.DType())
	if err != nil {
		return nil, err
	}
	inStrides := shape.ComputeStrides()
	outStrides := outShape.ComputeStrides()
	n := x.NumElements()
	for i := 0; i < n; i++ {
		src := 0
		for d := 0; d < rank; d++ {
			coord := (i / outStrides[d]) % outShape[d]
			src += coord * inStrides[axes[d]]
		}
		copyElem(out, x, i, src)
	}
	return out, nil
}

// Squeeze removes size-1 dimensions. With axes given, only those are removed.
func Squeeze(x *RawTensor, axes ...int) (*RawTensor, error) {
	shape := x.Shape()
	drop := make(map[int]bool, len(axes))
	for _, a := range axes {
		if a < 0 {
			a += len(shape)
		}
		if a < 0 || a >= len(shape) || shape[a] != 1 {
			return nil, fmt.Errorf("squeeze: cannot squeeze axis %d of shape %v", a, shape)
		}
		drop[a] = true
	}
	outShape := make(Shape, 0, len(shape))
	for i, d := range shape {
		if len(axes) == 0 {
			if d == 1 {
				continue
			}
		} else if drop[i] {
			continue
		}
		outShape = append(outShape, d)
	}
	return x.WithShape(outShape)
}

// Unsqueeze inserts size-1 dimensions at the given axes of the result shape.
func Unsqueeze(x *RawTensor, axes ...int) (*RawTensor, error) {
	if len(axes) == 0 {
		return nil, fmt.Errorf("unsqueeze: no axes")
	}
	outRank := len(x.Shape()) + len(axes)
	insert := make(map[int]bool, len(axes))
	for _, a := range axes {
		if a < 0 {
			a += outRank
		}
		if a < 0 || a >= outRank || insert[a] {
			return nil, fmt.Errorf("unsqueeze: invalid axes %v for result rank %d", axes, outRank)
		}
		insert[a] = true
	}
	outShape := make(Shape, 0, outRank)
	src := 0
	for i := 0; i < outRank; i++ {
		if insert[i] {
			outShape = append(outShape, 1)
		} else {
			outShape = append(outShape, x.Shape()[src])
			src++
		}
	}
	return x.WithShape(outShape)
}

// Concat joins tensors along the given axis. All other dimensions must match.
func Concat(tensors []*RawTensor, axis int) (*RawTensor, error) {
	if len(tensors) == 0 {
		return nil, fmt.Errorf("concat: no inputs")
	}
	first := tensors[0]
	rank := len(first.Shape())
	if axis < 0 {
		axis += rank
	}
	if axis < 0 || axis >= rank {
		return nil, fmt.Errorf("concat: axis %d out of range for rank %d", axis, rank)
	}

	outShape := first.Shape().Clone()
	outShape[axis] = 0
	for _, t := range tensors {
		if t.DType() != first.DType() || len(t.Shape()) != rank {
			return nil, fmt.Errorf("concat: mismatched inputs")
		}
		for d := 0; d < rank; d++ {
			if d != axis && t.Shape()[d] != first.Shape()[d] {
				return nil, fmt.Errorf("concat: shape %v incompatible with %v on axis %d", t.Shape(), first.Shape(), axis)
			}
		}
		outShape[axis] += t.Shape()[axis]
	}

	out, err := NewRaw(outShape, first.DType())
	if err != nil {
		return nil, err
	}

	elemSize := first.DType().Size()
	inner := 1
	for d := axis + 1; d < rank; d++ {
		inner *= outShape[d]
	}
	outer := 1
	for d := 0; d < axis; d++ {
		outer *= outShape[d]
	}

	rowBytes := outShape[axis] * inner * elemSize
	offset := 0
	for _, t := range tensors {
		tRowBytes := t.Shape()[axis] * inner * elemSize
		for o := 0; o < outer; o++ {
			dst := o*rowBytes + offset
			src := o * tRowBytes
			copy(out.data[dst:dst+tRowBytes], t.data[src:src+tRowBytes])
		}
		offset += tRowBytes
	}
	return out, nil
}

// Slice extracts a strided sub-tensor following ONNX Slice semantics:
// negative starts/ends count from the end, out-of-range bounds are clamped.
func Slice(x *RawTensor, starts, ends, axes, steps []int64) (*RawTensor, error) {
	shape := x.Shape()
	rank := len(shape)
	if len(axes) == 0 {
		axes = make([]int64, len(starts))
		for i := range axes {
			axes[i] = int64(i)
		}
	}
	if len(steps) == 0 {
		steps = make([]int64, len(starts))
		for i := range steps {
			steps[i] = 1
		}
	}
	if len(starts) != len(ends) || len(starts) != len(axes) || len(starts) != len(steps) {
		return nil, fmt.Errorf("slice: mismatched starts/ends/axes/steps lengths")
	}

	begin := make([]int, rank)
	step := make([]int, rank)
	outShape := shape.Clone()
	for i := range step {
		step[i] = 1
	}
	for i, a64 := range axes {
		a := int(a64)
		if a < 0 {
			a += rank
		}
		if a < 0 || a >= rank {
			return nil, fmt.Errorf("slice: axis %d out of range for rank %d", a, rank)
		}
		dim := int64(shape[a])
		st, en, sp := starts[i], ends[i], steps[i]
		if sp == 0 {
			return nil, fmt.Errorf("slice: zero step on axis %d", a)
		}
		if sp != 1 {
			return nil, fmt.Errorf("slice: only step 1 is supported, got %d", sp)
		}
		if st < 0 {
			st += dim
		}
		if en < 0 {
			en += dim
		}
		if st < 0 {
			st = 0
		}
		if st > dim {
			st = dim
		}
		if en > dim {
			en = dim
		}
		if en < st {
			en = st
		}
		begin[a] = int(st)
		outShape[a] = int(en - st)
	}

	out, err := NewRaw(outShape, x.DType())
	if err != nil {
		return nil, err
	}
	inStrides := shape.ComputeStrides()
	outStrides := outShape.ComputeStrides()
	n := out.NumElements()
	for i := 0; i < n; i++ {
		src := 0
		for d := 0; d < rank; d++ {
			coord := 0
			if outShape[d] > 0 {
				coord = (i / outStrides[d]) % outShape[d]
			}
			src += (begin[d] + coord*step[d]) * inStrides[d]
		}
		copyElem(out, x, i, src)
	}
	return out, nil
}

// Gather selects entries from x along the given axis using int64 indices.
// The output shape is x.shape[:axis] + indices.shape + x.shape[axis+1:].
func Gather(x, indices *RawTensor, axis int) (*RawTensor, error) {
	if indices.DType() != Int64 {
		return nil, fmt.Errorf("gather: indices must be int64, got %s", indices.DType())
	}
	shape := x.Shape()
	rank := len(shape)
	if axis < 0 {
		axis += rank
	}
	if axis < 0 || axis >= rank {
		return nil, fmt.Errorf("gather: axis %d out of range for rank %d", axis, rank)
	}

	idx := indices.AsInt64()
	dim := shape[axis]
	for _, v := range idx {
		j := v
		if j < 0 {
			j += int64(dim)
		}
		if j < 0 || j >= int64(dim) {
			return nil, fmt.Errorf("gather: index %d out of range for axis size %d", v, dim)
		}
	}

	outShape := make(Shape, 0, rank-1+len(indices.Shape()))
	outShape = append(outShape, shape[:axis]...)
	outShape = append(outShape, indices.Shape()...)
	outShape = append(outShape, shape[axis+1:]...)

	out, err := NewRaw(outShape, x.DType())
	if err != nil {
		return nil, err
	}

	inner := 1
	for d := axis + 1; d < rank; d++ {
		inner *= shape[d]
	}
	outer := 1
	for d := 0; d < axis; d++ {
		outer *= shape[d]
	}

	elemSize := x.DType().Size()
	blockBytes := inner * elemSize
	for o := 0; o < outer; o++ {
		for k, v := range idx {
			j := int(v)
			if j < 0 {
				j += dim
			}
			src := (o*dim + j) * blockBytes
			dst := (o*len(idx) + k) * blockBytes
			copy(out.data[dst:dst+blockBytes], x.data[src:src+blockBytes])
		}
	}
	return out, nil
}

// Expand broadcasts x to the target shape.
func Expand(x *RawTensor, target Shape) (*RawTensor, error) {
	outShape, err := BroadcastShapes(x.Shape(), target)
	if err != nil {
		return nil, fmt.Errorf("expand: %w", err)
	}
	if !outShape.Equal(target) {
		return nil, fmt.Errorf("expand: cannot expand %v to %v", x.Shape(), target)
	}
	out, err := NewRaw(outShape, x.DType())
	if err != nil {
		return nil, err
	}
	outStrides := outShape.ComputeStrides()
	srcStrides := broadcastStrides(x.Shape(), outShape)
	n := out.NumElements()
	for i := 0; i < n; i++ {
		copyElem(out, x, i, broadcastIndex(i, outShape, outStrides, srcStrides))
	}
	return out, nil
}

// Cast converts x to the given dtype.
func Cast(x *RawTensor, dtype DataType) (*RawTensor, error) {
	if x.DType() == dtype {
		return x.Clone(), nil
	}
	out, err := NewRaw(x.Shape(), dtype)
	if err != nil {
		return nil, err
	}
	n := x.NumElements()
	for i := 0; i < n; i++ {
		var v float64
		switch x.DType() {
		case Float32:
			v = float64(x.AsFloat32()[i])
		case Int64:
			v = float64(x.AsInt64()[i])
		case Bool:
			if x.AsBool()[i] {
				v = 1
			}
		}
		switch dtype {
		case Float32:
			out.AsFloat32()[i] = float32(v)
		case Int64:
			out.AsInt64()[i] = int64(math.Trunc(v))
		case Bool:
			out.AsBool()[i] = v != 0
		}
	}
	return out, nil
}

// Where selects elements from x where cond is true, otherwise from y.
// All three operands are broadcast to a common shape.
func Where(cond, x, y *RawTensor) (*RawTensor, error) {
	if cond.DType() != Bool {
		return nil, fmt.Errorf("where: condition must be bool, got %s", cond.DType())
	}
	if x.DType() != y.DType() {
		return nil, fmt.Errorf("where: mismatched branch dtypes %s vs %s", x.DType(), y.DType())
	}
	shape, err := BroadcastShapes(cond.Shape(), x.Shape())
	if err != nil {
		return nil, fmt.Errorf("where: %w", err)
	}
	shape, err = BroadcastShapes(shape, y.Shape())
	if err != nil {
		return nil, fmt.Errorf("where: %w", err)
	}

	out, err := NewRaw(shape, x.DType())
	if err != nil {
		return nil, err
	}
	outStrides := shape.ComputeStrides()
	cs := broadcastStrides(cond.Shape(), shape)
	xs := broadcastStrides(x.Shape(), shape)
	ys := broadcastStrides(y.Shape(), shape)
	cv := cond.AsBool()
	n := out.NumElements()
	for i := 0; i < n; i++ {
		if cv[broadcastIndex(i, shape, outStrides, cs)] {
			copyElem(out, x, i, broadcastIndex(i, shape, outStrides, xs))
		} else {
			copyElem(out, y, i, broadcastIndex(i, shape, outStrides, ys))
		}
	}
	return out, nil
}
