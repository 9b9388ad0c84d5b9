package onnx

import (
	"encoding/binary"
	"math"
)

// Serialize encodes a ModelProto into the ONNX protobuf wire format.
// It is the mirror of the parser: a minimal hand-rolled encoder covering
// the message subset this toolkit produces.
func Serialize(m *ModelProto) []byte {
	w := &writer{}
	w.writeModelProto(m)
	return w.buf
}

// writer implements a minimal protobuf wire format encoder.
type writer struct {
	buf []byte
}

func (w *writer) writeModelProto(m *ModelProto) {
	if m.IRVersion != 0 {
		w.writeVarintField(1, m.IRVersion)
	}
	if m.ProducerName != "" {
		w.writeStringField(2, m.ProducerName)
	}
	if m.ProducerVersion != "" {
		w.writeStringField(3, m.ProducerVersion)
	}
	if m.Domain != "" {
		w.writeStringField(4, m.Domain)
	}
	if m.ModelVersion != 0 {
		w.writeVarintField(5, m.ModelVersion)
	}
	if m.DocString != "" {
		w.writeStringField(6, m.DocString)
	}
	if m.Graph != nil {
		sub := &writer{}
		sub.writeGraphProto(m.Graph)
		w.writeBytesField(7, sub.buf)
	}
	for i := range m.OpsetImport {
		sub := &writer{}
		sub.writeOperatorSetID(&m.OpsetImport[i])
		w.writeBytesField(8, sub.buf)
	}
	for i := range m.MetadataProps {
		sub := &writer{}
		sub.writeStringField(1, m.MetadataProps[i].Key)
		sub.writeStringField(2, m.MetadataProps[i].Value)
		w.writeBytesField(14, sub.buf)
	}
}

func (w *writer) writeGraphProto(g *GraphProto) {
	for i := range g.Nodes {
		sub := &writer{}
		sub.writeNodeProto(&g.Nodes[i])
		w.writeBytesField(1, sub.buf)
	}
	if g.Name != "" {
		w.writeStringField(2, g.Name)
	}
	for i := range g.Initializers {
		sub := &writer{}
		sub.writeTensorProto(&g.Initializers[i])
		w.writeBytesField(5, sub.buf)
	}
	if g.DocString != "" {
		w.writeStringField(10, g.DocString)
	}
	for i := range g.Inputs {
		sub := &writer{}
		sub.writeValueInfoProto(&g.Inputs[i])
		w.writeBytesField(11, sub.buf)
	}
	for i := range g.Outputs {
		sub := &writer{}
		sub.writeValueInfoProto(&g.Outputs[i])
		w.writeBytesField(12, sub.buf)
	}
	for i := range g.ValueInfo {
		sub := &writer{}
		sub.writeValueInfoProto(&g.ValueInfo[i])
		w.writeBytesField(13, sub.buf)
	}
}

func (w *writer) writeNodeProto(n *NodeProto) {
	for _, in := range n.Inputs {
		w.writeStringField(1, in)
	}
	for _, out := range n.Outputs {
		w.writeStringField(2, out)
	}
	if n.Name != "" {
		w.writeStringField(3, n.Name)
	}
	if n.OpType != "" {
		w.writeStringField(4, n.OpType)
	}
	for i := range n.Attributes {
		sub := &writer{}
		sub.writeAttributeProto(&n.Attributes[i])
		w.writeBytesField(5, sub.buf)
	}
	if n.DocString != "" {
		w.writeStringField(6, n.DocString)
	}
	if n.Domain != "" {
		w.writeStringField(7, n.Domain)
	}
}

func (w *writer) writeTensorProto(t *TensorProto) {
	for _, d := range t.Dims {
		w.writeVarintField(1, d)
	}
	if t.DataType != 0 {
		w.writeVarintField(2, int64(t.DataType))
	}
	if len(t.FloatData) > 0 {
		packed := make([]byte, 4*len(t.FloatData))
		for i, f := range t.FloatData {
			binary.LittleEndian.PutUint32(packed[i*4:], math.Float32bits(f))
		}
		w.writeBytesField(4, packed)
	}
	if len(t.Int32Data) > 0 {
		sub := &writer{}
		for _, v := range t.Int32Data {
			sub.writeVarint(int64(v))
		}
		w.writeBytesField(5, sub.buf)
	}
	if len(t.Int64Data) > 0 {
		sub := &writer{}
		for _, v := range t.Int64Data {
			sub.writeVarint(v)
		}
		w.writeBytesField(7, sub.buf)
	}
	if t.Name != "" {
		w.writeStringField(8, t.Name)
	}
	if len(t.RawData) > 0 {
		w.writeBytesField(9, t.RawData)
	}
}

func (w *writer) writeValueInfoProto(v *ValueInfoProto) {
	if v.Name != "" {
		w.writeStringField(1, v.Name)
	}
	if v.Type != nil {
		sub := &writer{}
		sub.writeTypeProto(v.Type)
		w.writeBytesField(2, sub.buf)
	}
}

func (w *writer) writeTypeProto(t *TypeProto) {
	if t.TensorType != nil {
		sub := &writer{}
		sub.writeTensorTypeProto(t.TensorType)
		w.writeBytesField(1, sub.buf)
	}
}

func (w *writer) writeTensorTypeProto(t *TensorTypeProto) {
	if t.ElemType != 0 {
		w.writeVarintField(1, int64(t.ElemType))
	}
	if t.Shape != nil {
		sub := &writer{}
		sub.writeTensorShapeProto(t.Shape)
		w.writeBytesField(2, sub.buf)
	}
}

func (w *writer) writeTensorShapeProto(t *TensorShapeProto) {
	for i := range t.Dims {
		sub := &writer{}
		if t.Dims[i].DimParam != "" {
			sub.writeStringField(2, t.Dims[i].DimParam)
		} else {
			sub.writeVarintField(1, t.Dims[i].DimValue)
		}
		w.writeBytesField(1, sub.buf)
	}
}

func (w *writer) writeAttributeProto(a *AttributeProto) {
	if a.Name != "" {
		w.writeStringField(1, a.Name)
	}
	switch a.Type {
	case AttributeProtoFloat:
		w.writeFloat32Field(2, a.F)
	case AttributeProtoInt:
		w.writeVarintField(3, a.I)
	case AttributeProtoString:
		w.writeBytesField(4, a.S)
	case AttributeProtoTensor:
		if a.T != nil {
			sub := &writer{}
			sub.writeTensorProto(a.T)
			w.writeBytesField(5, sub.buf)
		}
	case AttributeProtoFloats:
		packed := make([]byte, 4*len(a.Floats))
		for i, f := range a.Floats {
			binary.LittleEndian.PutUint32(packed[i*4:], math.Float32bits(f))
		}
		w.writeBytesField(7, packed)
	case AttributeProtoInts:
		sub := &writer{}
		for _, v := range a.Ints {
			sub.writeVarint(v)
		}
		w.writeBytesField(8, sub.buf)
	case AttributeProtoStrings:
		for _, s := range a.Strings {
			w.writeBytesField(9, s)
		}
	}
	w.writeVarintField(20, int64(a.Type))
}

func (w *writer) writeOperatorSetID(o *OperatorSetID) {
	if o.Domain != "" {
		w.writeStringField(1, o.Domain)
	}
	w.writeVarintField(2, o.Version)
}

// Wire-level helpers.

func (w *writer) writeTag(fieldNum, wireType int) {
	w.writeVarint(int64(fieldNum)<<3 | int64(wireType))
}

func (w *writer) writeVarint(v int64) {
	u := uint64(v)
	for u >= 0x80 {
		w.buf = append(w.buf, byte(u)|0x80)
		u >>= 7
	}
	w.buf = append(w.buf, byte(u))
}

func (w *writer) writeVarintField(fieldNum int, v int64) {
	w.writeTag(fieldNum, wireVarint)
	w.writeVarint(v)
}

func (w *writer) writeBytesField(fieldNum int, data []byte) {
	w.writeTag(fieldNum, wireBytes)
	w.writeVarint(int64(len(data)))
	w.buf = append(w.buf, data...)
}

func (w *writer) writeStringField(fieldNum int, s string) {
	w.writeBytesField(fieldNum, []byte(s))
}

func (w *writer) writeFloat32Field(fieldNum int, f float32) {
	w.writeTag(fieldNum, wire32Bit)
	var scratch [4]byte
	binary.LittleEndian.PutUint32(scratch[:], math.Float32bits(f))
	w.buf = append(w.buf, scratch[:]...)
}
