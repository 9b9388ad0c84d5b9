package tensor

import (
	"fmt"
	"sort"
)

// TopK returns the k largest values along the given axis together with
// their int64 indices. Ties are broken toward the lower index, which keeps
// the eager operators and the graph executor in agreement on ordering.
func TopK(x *RawTensor, k, axis int) (values, indices *RawTensor, err error) {
	if x.DType() != Float32 {
		return nil, nil, fmt.Errorf("topk: expected float32 operand, got %s", x.DType())
	}
	shape := x.Shape()
	if axis < 0 {
		axis += len(shape)
	}
	if axis < 0 || axis >= len(shape) {
		return nil, nil, fmt.Errorf("topk: axis %d out of range for shape %v", axis, shape)
	}
	dim := shape[axis]
	if k < 0 || k > dim {
		return nil, nil, fmt.Errorf("topk: k=%d out of range for axis size %d", k, dim)
	}

	outShape := shape.Clone()
	outShape[axis] = k
	values = Zeros(outShape)
	indices, err = NewRaw(outShape, Int64)
	if err != nil {
		return nil, nil, err
	}

	in := x.AsFloat32()
	vv := values.AsFloat32()
	iv := indices.AsInt64()

	inner := 1
	for d := axis + 1; d < len(shape); d++ {
		inner *= shape[d]
	}
	outer := x.NumElements() / maxIntT(dim*inner, 1)

	order := make([]int, dim)
	for o := 0; o < outer; o++ {
		for in2 := 0; in2 < inner; in2++ {
			base := o*dim*inner + in2
			for j := range order {
				order[j] = j
			}
			sort.SliceStable(order, func(a, b int) bool {
				return in[base+order[a]*inner] > in[base+order[b]*inner]
			})
			outBase := o*k*inner + in2
			for j := 0; j < k; j++ {
				vv[outBase+j*inner] = in[base+order[j]*inner]
				iv[outBase+j*inner] = int64(order[j])
			}
		}
	}
	return values, indices, nil
}

// Argsort returns the indices that sort a 1D float32 tensor ascending,
// ties broken toward the lower index.
func Argsort(x *RawTensor) (*RawTensor, error) {
	if x.DType() != Float32 || len(x.Shape()) != 1 {
		return nil, fmt.Errorf("argsort: expected 1D float32 tensor, got %s %v", x.DType(), x.Shape())
	}
	in := x.AsFloat32()
	order := make([]int64, len(in))
	for i := range order {
		order[i] = int64(i)
	}
	sort.SliceStable(order, func(a, b int) bool { return in[order[a]] < in[order[b]] })
	return FromInt64(order, Shape{len(order)})
}

func maxIntT(a, b int) int {
	if a > b {
		return a
	}
	return b
}
