package onnx

import (
	"fmt"

	"github.com/retina-ml/retina/internal/tensor"
)

// Value is a symbolic tensor inside a graph under construction. It carries
// the wire name and the element type so downstream emitters can pick the
// right casts without re-deriving types from the graph.
type Value struct {
	Name  string
	DType tensor.DataType
}

// GraphBuilder accumulates nodes, initializers and graph IO while a model
// is traced, and produces the final GraphProto.
type GraphBuilder struct {
	name         string
	nodes        []NodeProto
	initializers []TensorProto
	inputs       []ValueInfoProto
	outputs      []ValueInfoProto
	counter      int
}

// NewGraphBuilder creates an empty builder for a graph with the given name.
func NewGraphBuilder(name string) *GraphBuilder {
	return &GraphBuilder{name: name}
}

// Input registers a graph input with a fully static shape.
func (b *GraphBuilder) Input(name string, dt tensor.DataType, shape tensor.Shape) *Value {
	dims := make([]DimensionProto, len(shape))
	for i, d := range shape {
		dims[i] = DimensionProto{DimValue: int64(d)}
	}
	b.inputs = append(b.inputs, ValueInfoProto{
		Name: name,
		Type: &TypeProto{TensorType: &TensorTypeProto{
			ElemType: elemType(dt),
			Shape:    &TensorShapeProto{Dims: dims},
		}},
	})
	return &Value{Name: name, DType: dt}
}

// Output registers a graph output. Only the element type is declared; the
// shape is left open since several operators produce data-dependent sizes.
func (b *GraphBuilder) Output(v *Value, name string) {
	b.nodes = append(b.nodes, NodeProto{
		Name:    b.genName("Identity"),
		OpType:  "Identity",
		Inputs:  []string{v.Name},
		Outputs: []string{name},
	})
	b.outputs = append(b.outputs, ValueInfoProto{
		Name: name,
		Type: &TypeProto{TensorType: &TensorTypeProto{ElemType: elemType(v.DType)}},
	})
}

// Initializer bakes a tensor into the graph as a named constant.
func (b *GraphBuilder) Initializer(name string, t *tensor.RawTensor) *Value {
	b.initializers = append(b.initializers, tensorToProto(name, t))
	return &Value{Name: name, DType: t.DType()}
}

// Const bakes an anonymous constant tensor into the graph.
func (b *GraphBuilder) Const(t *tensor.RawTensor) *Value {
	return b.Initializer(b.genName("const"), t)
}

// ConstFloats bakes a 1-D float32 constant.
func (b *GraphBuilder) ConstFloats(vals []float32) *Value {
	t, err := tensor.FromFloat32(vals, tensor.Shape{len(vals)})
	if err != nil {
		panic(err)
	}
	return b.Const(t)
}

// ConstInts bakes a 1-D int64 constant.
func (b *GraphBuilder) ConstInts(vals []int64) *Value {
	t, err := tensor.FromInt64(vals, tensor.Shape{len(vals)})
	if err != nil {
		panic(err)
	}
	return b.Const(t)
}

// ConstScalar bakes a rank-0 float32 constant.
func (b *GraphBuilder) ConstScalar(v float32) *Value {
	return b.Const(tensor.Scalar(v))
}

// ConstScalarInt bakes a rank-0 int64 constant.
func (b *GraphBuilder) ConstScalarInt(v int64) *Value {
	return b.Const(tensor.ScalarInt64(v))
}

// Node appends an operator node. Optional inputs may be nil, which encodes
// as the empty tensor name. Output dtypes are given per output.
func (b *GraphBuilder) Node(opType string, ins []*Value, outDTs []tensor.DataType, attrs ...AttributeProto) []*Value {
	name := b.genName(opType)
	inNames := make([]string, len(ins))
	for i, in := range ins {
		if in != nil {
			inNames[i] = in.Name
		}
	}
	outs := make([]*Value, len(outDTs))
	outNames := make([]string, len(outDTs))
	for i, dt := range outDTs {
		outNames[i] = fmt.Sprintf("%s_out%d", name, i)
		outs[i] = &Value{Name: outNames[i], DType: dt}
	}
	b.nodes = append(b.nodes, NodeProto{
		Name:       name,
		OpType:     opType,
		Inputs:     inNames,
		Outputs:    outNames,
		Attributes: attrs,
	})
	return outs
}

func (b *GraphBuilder) unary(op string, x *Value, attrs ...AttributeProto) *Value {
	return b.Node(op, []*Value{x}, []tensor.DataType{x.DType}, attrs...)[0]
}

func (b *GraphBuilder) binary(op string, x, y *Value, attrs ...AttributeProto) *Value {
	return b.Node(op, []*Value{x, y}, []tensor.DataType{x.DType}, attrs...)[0]
}

// Arithmetic.

func (b *GraphBuilder) Add(x, y *Value) *Value { return b.binary("Add", x, y) }
func (b *GraphBuilder) Sub(x, y *Value) *Value { return b.binary("Sub", x, y) }
func (b *GraphBuilder) Mul(x, y *Value) *Value { return b.binary("Mul", x, y) }
func (b *GraphBuilder) Div(x, y *Value) *Value { return b.binary("Div", x, y) }
func (b *GraphBuilder) Min(x, y *Value) *Value { return b.binary("Min", x, y) }
func (b *GraphBuilder) Max(x, y *Value) *Value { return b.binary("Max", x, y) }

func (b *GraphBuilder) Exp(x *Value) *Value     { return b.unary("Exp", x) }
func (b *GraphBuilder) Log(x *Value) *Value     { return b.unary("Log", x) }
func (b *GraphBuilder) Sqrt(x *Value) *Value    { return b.unary("Sqrt", x) }
func (b *GraphBuilder) Floor(x *Value) *Value   { return b.unary("Floor", x) }
func (b *GraphBuilder) Neg(x *Value) *Value     { return b.unary("Neg", x) }
func (b *GraphBuilder) Relu(x *Value) *Value    { return b.unary("Relu", x) }
func (b *GraphBuilder) Sigmoid(x *Value) *Value { return b.unary("Sigmoid", x) }

func (b *GraphBuilder) Softmax(x *Value, axis int64) *Value {
	return b.unary("Softmax", x, AttrInt("axis", axis))
}

func (b *GraphBuilder) MatMul(x, y *Value) *Value { return b.binary("MatMul", x, y) }

// Gemm emits y = x*w^T + bias when transB is set, the usual linear layout.
func (b *GraphBuilder) Gemm(x, w, bias *Value, transB bool) *Value {
	tb := int64(0)
	if transB {
		tb = 1
	}
	return b.Node("Gemm", []*Value{x, w, bias}, []tensor.DataType{x.DType},
		AttrInt("transB", tb))[0]
}

// Conv emits a 2-D convolution with symmetric padding. bias may be nil.
func (b *GraphBuilder) Conv(x, w, bias *Value, stride, pad int) *Value {
	return b.Node("Conv", []*Value{x, w, bias}, []tensor.DataType{x.DType},
		AttrInts("strides", []int64{int64(stride), int64(stride)}),
		AttrInts("pads", []int64{int64(pad), int64(pad), int64(pad), int64(pad)}),
	)[0]
}

// Shape manipulation.

func (b *GraphBuilder) Reshape(x *Value, shape []int64) *Value {
	return b.binary("Reshape", x, b.ConstInts(shape))
}

func (b *GraphBuilder) ReshapeTo(x, shape *Value) *Value {
	return b.binary("Reshape", x, shape)
}

func (b *GraphBuilder) Flatten(x *Value, axis int64) *Value {
	return b.unary("Flatten", x, AttrInt("axis", axis))
}

func (b *GraphBuilder) Transpose(x *Value, perm []int64) *Value {
	return b.unary("Transpose", x, AttrInts("perm", perm))
}

func (b *GraphBuilder) Squeeze(x *Value, axes []int64) *Value {
	return b.unary("Squeeze", x, AttrInts("axes", axes))
}

func (b *GraphBuilder) Unsqueeze(x *Value, axes []int64) *Value {
	return b.unary("Unsqueeze", x, AttrInts("axes", axes))
}

func (b *GraphBuilder) Concat(axis int64, xs ...*Value) *Value {
	return b.Node("Concat", xs, []tensor.DataType{xs[0].DType}, AttrInt("axis", axis))[0]
}

// Slice emits an opset 11 slice with starts/ends/axes baked as constants.
func (b *GraphBuilder) Slice(x *Value, starts, ends, axes []int64) *Value {
	return b.Node("Slice",
		[]*Value{x, b.ConstInts(starts), b.ConstInts(ends), b.ConstInts(axes)},
		[]tensor.DataType{x.DType})[0]
}

// SliceDynamic slices with runtime starts/ends values along the given axes.
func (b *GraphBuilder) SliceDynamic(x, starts, ends *Value, axes []int64) *Value {
	return b.Node("Slice",
		[]*Value{x, starts, ends, b.ConstInts(axes)},
		[]tensor.DataType{x.DType})[0]
}

func (b *GraphBuilder) Gather(x, indices *Value, axis int64) *Value {
	return b.Node("Gather", []*Value{x, indices}, []tensor.DataType{x.DType},
		AttrInt("axis", axis))[0]
}

func (b *GraphBuilder) Expand(x, shape *Value) *Value {
	return b.binary("Expand", x, shape)
}

func (b *GraphBuilder) Cast(x *Value, to tensor.DataType) *Value {
	return b.Node("Cast", []*Value{x}, []tensor.DataType{to},
		AttrInt("to", int64(elemType(to))))[0]
}

func (b *GraphBuilder) Shape(x *Value) *Value {
	return b.Node("Shape", []*Value{x}, []tensor.DataType{tensor.Int64})[0]
}

// Misc.

func (b *GraphBuilder) Identity(x *Value) *Value { return b.unary("Identity", x) }

// Clip emits an opset 11 clip; min or max may be nil for one-sided clipping.
func (b *GraphBuilder) Clip(x, min, max *Value) *Value {
	return b.Node("Clip", []*Value{x, min, max}, []tensor.DataType{x.DType})[0]
}

func (b *GraphBuilder) Where(cond, x, y *Value) *Value {
	return b.Node("Where", []*Value{cond, x, y}, []tensor.DataType{x.DType})[0]
}

func (b *GraphBuilder) Equal(x, y *Value) *Value {
	return b.Node("Equal", []*Value{x, y}, []tensor.DataType{tensor.Bool})[0]
}

func (b *GraphBuilder) Greater(x, y *Value) *Value {
	return b.Node("Greater", []*Value{x, y}, []tensor.DataType{tensor.Bool})[0]
}

func (b *GraphBuilder) And(x, y *Value) *Value {
	return b.Node("And", []*Value{x, y}, []tensor.DataType{tensor.Bool})[0]
}

// NonZero returns the indices of true/nonzero elements as [rank, count].
func (b *GraphBuilder) NonZero(x *Value) *Value {
	return b.Node("NonZero", []*Value{x}, []tensor.DataType{tensor.Int64})[0]
}

// Pad emits an opset 11 constant-mode pad; pads is [x1_begin.. xn_begin,
// x1_end.. xn_end].
func (b *GraphBuilder) Pad(x *Value, pads []int64) *Value {
	return b.Node("Pad", []*Value{x, b.ConstInts(pads)}, []tensor.DataType{x.DType},
		AttrString("mode", "constant"))[0]
}

// PadDynamic pads with a runtime pads tensor in the same layout as Pad.
func (b *GraphBuilder) PadDynamic(x, pads *Value) *Value {
	return b.Node("Pad", []*Value{x, pads}, []tensor.DataType{x.DType},
		AttrString("mode", "constant"))[0]
}

// Resize emits a bilinear resize with asymmetric coordinates driven by a
// runtime sizes tensor. The roi and scales inputs are left empty.
func (b *GraphBuilder) Resize(x, sizes *Value) *Value {
	return b.Node("Resize", []*Value{x, nil, nil, sizes}, []tensor.DataType{x.DType},
		AttrString("mode", "linear"),
		AttrString("coordinate_transformation_mode", "asymmetric"),
	)[0]
}

// TopK returns the k largest entries along axis with their indices. k is a
// runtime 1-D int64 tensor so data-dependent sizes work.
func (b *GraphBuilder) TopK(x, k *Value, axis int64) (values, indices *Value) {
	outs := b.Node("TopK", []*Value{x, k},
		[]tensor.DataType{x.DType, tensor.Int64},
		AttrInt("axis", axis), AttrInt("largest", 1), AttrInt("sorted", 1))
	return outs[0], outs[1]
}

// NonMaxSuppression takes boxes [B, M, 4] and scores [B, C, M] and returns
// selected (batch, class, box) triples as [N, 3] int64.
func (b *GraphBuilder) NonMaxSuppression(boxes, scores *Value, maxPerClass int64, iouThreshold, scoreThreshold float32) *Value {
	return b.Node("NonMaxSuppression",
		[]*Value{boxes, scores,
			b.ConstInts([]int64{maxPerClass}),
			b.ConstFloats([]float32{iouThreshold}),
			b.ConstFloats([]float32{scoreThreshold})},
		[]tensor.DataType{tensor.Int64})[0]
}

// RoiAlign pools [K, C, outH, outW] regions via average bilinear sampling.
func (b *GraphBuilder) RoiAlign(x, rois, batchIdx *Value, outH, outW, samplingRatio int, spatialScale float32) *Value {
	return b.Node("RoiAlign", []*Value{x, rois, batchIdx}, []tensor.DataType{x.DType},
		AttrString("mode", "avg"),
		AttrInt("output_height", int64(outH)),
		AttrInt("output_width", int64(outW)),
		AttrInt("sampling_ratio", int64(samplingRatio)),
		AttrFloat("spatial_scale", spatialScale),
	)[0]
}

// MaxRoiPool pools [K, C, pH, pW] regions with quantized max pooling; rois
// carry the batch index in column 0.
func (b *GraphBuilder) MaxRoiPool(x, rois *Value, pooledH, pooledW int, spatialScale float32) *Value {
	return b.Node("MaxRoiPool", []*Value{x, rois}, []tensor.DataType{x.DType},
		AttrInts("pooled_shape", []int64{int64(pooledH), int64(pooledW)}),
		AttrFloat("spatial_scale", spatialScale),
	)[0]
}

// Graph assembles the accumulated state into a GraphProto.
func (b *GraphBuilder) Graph() *GraphProto {
	return &GraphProto{
		Name:         b.name,
		Nodes:        b.nodes,
		Inputs:       b.inputs,
		Outputs:      b.outputs,
		Initializers: b.initializers,
	}
}

func (b *GraphBuilder) genName(prefix string) string {
	b.counter++
	return fmt.Sprintf("%s_%d", prefix, b.counter)
}

// Attribute constructors.

func AttrFloat(name string, v float32) AttributeProto {
	return AttributeProto{Name: name, Type: AttributeProtoFloat, F: v}
}

func AttrInt(name string, v int64) AttributeProto {
	return AttributeProto{Name: name, Type: AttributeProtoInt, I: v}
}

func AttrString(name, v string) AttributeProto {
	return AttributeProto{Name: name, Type: AttributeProtoString, S: []byte(v)}
}

func AttrInts(name string, v []int64) AttributeProto {
	return AttributeProto{Name: name, Type: AttributeProtoInts, Ints: v}
}

func AttrFloats(name string, v []float32) AttributeProto {
	return AttributeProto{Name: name, Type: AttributeProtoFloats, Floats: v}
}

// elemType maps a tensor data type onto the ONNX element type enum.
func elemType(dt tensor.DataType) int32 {
	switch dt {
	case tensor.Float32:
		return TensorProtoFloat
	case tensor.Int64:
		return TensorProtoInt64
	case tensor.Bool:
		return TensorProtoBool
	default:
		return TensorProtoUndefined
	}
}

// tensorToProto encodes a tensor as an initializer with raw data.
func tensorToProto(name string, t *tensor.RawTensor) TensorProto {
	dims := make([]int64, len(t.Shape()))
	for i, d := range t.Shape() {
		dims[i] = int64(d)
	}
	raw := make([]byte, len(t.Data()))
	copy(raw, t.Data())
	return TensorProto{
		Name:     name,
		DataType: elemType(t.DType()),
		Dims:     dims,
		RawData:  raw,
	}
}
