package detection

import (
	"fmt"
	"math/rand"

	"github.com/retina-ml/retina/internal/nn"
	"github.com/retina-ml/retina/internal/onnx"
	"github.com/retina-ml/retina/internal/tensor"
	"github.com/retina-ml/retina/internal/vision"
	"github.com/retina-ml/retina/ops"
)

// RPNHead predicts objectness and box deltas at every anchor position. A
// shared 3x3 convolution feeds a pair of 1x1 heads per level.
type RPNHead struct {
	Conv      *nn.Conv2d
	ClsLogits *nn.Conv2d
	BboxPred  *nn.Conv2d
}

// NewRPNHead builds a head for the given channel count and anchors per
// location, with normal(0.01) weights and zero biases.
func NewRPNHead(g *rand.Rand, inChannels, numAnchors int) *RPNHead {
	conv := func(out, k, pad int) *nn.Conv2d {
		return &nn.Conv2d{
			InChannels:  inChannels,
			OutChannels: out,
			KernelSize:  k,
			Stride:      1,
			Padding:     pad,
			Weight:      nn.NormalInit(g, tensor.Shape{out, inChannels, k, k}, 0.01),
			Bias:        tensor.Zeros(tensor.Shape{out}),
		}
	}
	return &RPNHead{
		Conv:      conv(inChannels, 3, 1),
		ClsLogits: conv(numAnchors, 1, 0),
		BboxPred:  conv(4*numAnchors, 1, 0),
	}
}

// Apply runs the head over one level, returning objectness [N, A, H, W]
// and deltas [N, 4A, H, W].
func (h *RPNHead) Apply(x *tensor.RawTensor) (obj, deltas *tensor.RawTensor, err error) {
	t, err := h.Conv.Apply(x)
	if err != nil {
		return nil, nil, err
	}
	t, err = tensor.ReLU(t)
	if err != nil {
		return nil, nil, err
	}
	obj, err = h.ClsLogits.Apply(t)
	if err != nil {
		return nil, nil, err
	}
	deltas, err = h.BboxPred.Apply(t)
	if err != nil {
		return nil, nil, err
	}
	return obj, deltas, nil
}

// EmitApply traces the head over one level.
func (h *RPNHead) EmitApply(g *onnx.GraphBuilder, x *onnx.Value) (obj, deltas *onnx.Value) {
	t := g.Relu(h.Conv.EmitValue(g, x))
	return h.ClsLogits.EmitValue(g, t), h.BboxPred.EmitValue(g, t)
}

// RegionProposalNetwork turns per-level head outputs into scored box
// proposals: per-level top-k by objectness, delta decoding against the
// anchors, clipping, small-box removal and level-batched suppression.
type RegionProposalNetwork struct {
	Anchors *AnchorGenerator
	Head    *RPNHead

	PreNMSTopN  int
	PostNMSTopN int
	NMSThresh   float32
	// ScoreThresh filters proposals with probability strictly above the
	// threshold; zero disables the filter.
	ScoreThresh float32
	MinSize     float32

	coder ops.BoxCoder

	imageSizes [][2]int
	featShapes []tensor.Shape
	anchors    []*tensor.RawTensor
}

// NewRegionProposalNetwork wires a proposal network with unit box weights.
func NewRegionProposalNetwork(anchors *AnchorGenerator, head *RPNHead, preNMS, postNMS int, nmsThresh float32) *RegionProposalNetwork {
	return &RegionProposalNetwork{
		Anchors:     anchors,
		Head:        head,
		PreNMSTopN:  preNMS,
		PostNMSTopN: postNMS,
		NMSThresh:   nmsThresh,
		MinSize:     1e-3,
		coder:       ops.DefaultBoxCoder(),
	}
}

// Setup fixes the static geometry used by Emit: per-image sizes and the
// per-level feature shapes. Forward derives the same state from its actual
// inputs.
func (r *RegionProposalNetwork) Setup(imageSizes [][2]int, featShapes []tensor.Shape) error {
	if len(imageSizes) == 0 || len(featShapes) == 0 {
		return fmt.Errorf("rpn: empty geometry")
	}
	anchors, err := r.Anchors.GridAnchors(imageSizes[0][0], imageSizes[0][1], featShapes)
	if err != nil {
		return err
	}
	r.imageSizes = imageSizes
	r.featShapes = featShapes
	r.anchors = anchors
	return nil
}

// flattenLevel reorders [N, A, H, W] objectness and [N, 4A, H, W] deltas
// into per-image (position, anchor) order matching the anchor grid.
func flattenLevel(obj, deltas *tensor.RawTensor) (objFlat [][]float32, dFlat [][]float32) {
	s := obj.Shape()
	n, a, h, w := s[0], s[1], s[2], s[3]
	ov, dv := obj.AsFloat32(), deltas.AsFloat32()

	objFlat = make([][]float32, n)
	dFlat = make([][]float32, n)
	for img := 0; img < n; img++ {
		of := make([]float32, a*h*w)
		df := make([]float32, 4*a*h*w)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				for an := 0; an < a; an++ {
					pos := (y*w+x)*a + an
					of[pos] = ov[((img*a+an)*h+y)*w+x]
					for c := 0; c < 4; c++ {
						df[pos*4+c] = dv[((img*4*a+an*4+c)*h+y)*w+x]
					}
				}
			}
		}
		objFlat[img] = of
		dFlat[img] = df
	}
	return objFlat, dFlat
}

// topKIndices returns the k highest-scoring positions, ties toward the
// lower index, matching the graph-side TopK.
func topKIndices(scores []float32, k int) ([]int, error) {
	if k > len(scores) {
		k = len(scores)
	}
	t, err := tensor.FromFloat32(scores, tensor.Shape{len(scores)})
	if err != nil {
		return nil, err
	}
	_, idx, err := tensor.TopK(t, k, 0)
	if err != nil {
		return nil, err
	}
	out := make([]int, k)
	for i, v := range idx.AsInt64() {
		out[i] = int(v)
	}
	return out, nil
}

func gatherRows(src []float32, idx []int, width int) []float32 {
	out := make([]float32, len(idx)*width)
	for i, j := range idx {
		copy(out[i*width:(i+1)*width], src[j*width:(j+1)*width])
	}
	return out
}

// sigmoidAll runs the shared sigmoid kernel over a plain slice.
func sigmoidAll(vals []float32) ([]float32, error) {
	t, err := tensor.FromFloat32(vals, tensor.Shape{len(vals)})
	if err != nil {
		return nil, err
	}
	s, err := tensor.Sigmoid(t)
	if err != nil {
		return nil, err
	}
	return s.AsFloat32(), nil
}

// Forward runs proposal generation over an image batch. Returns per-image
// proposal boxes [Ki, 4] and their scores [Ki].
func (r *RegionProposalNetwork) Forward(images *ImageList, feats []*tensor.RawTensor) ([]*tensor.RawTensor, []*tensor.RawTensor, error) {
	featShapes := make([]tensor.Shape, len(feats))
	for i, f := range feats {
		featShapes[i] = f.Shape()
	}
	if err := r.Setup(images.Sizes, featShapes); err != nil {
		return nil, nil, err
	}
	numImages := images.Tensors.Shape()[0]

	// Head pass and per-image flattening, one level at a time.
	type levelOut struct {
		obj    [][]float32
		deltas [][]float32
	}
	levels := make([]levelOut, len(feats))
	for l, f := range feats {
		obj, deltas, err := r.Head.Apply(f)
		if err != nil {
			return nil, nil, err
		}
		of, df := flattenLevel(obj, deltas)
		levels[l] = levelOut{obj: of, deltas: df}
	}

	var outBoxes, outScores []*tensor.RawTensor
	for img := 0; img < numImages; img++ {
		var boxes, scores, lvls []float32
		for l := range levels {
			of := levels[l].obj[img]
			df := levels[l].deltas[img]
			idx, err := topKIndices(of, r.PreNMSTopN)
			if err != nil {
				return nil, nil, err
			}

			dk, err := tensor.FromFloat32(gatherRows(df, idx, 4), tensor.Shape{len(idx), 4})
			if err != nil {
				return nil, nil, err
			}
			ak, err := tensor.FromFloat32(gatherRows(r.anchors[l].AsFloat32(), idx, 4), tensor.Shape{len(idx), 4})
			if err != nil {
				return nil, nil, err
			}
			decoded, err := r.coder.Decode(dk, ak)
			if err != nil {
				return nil, nil, err
			}
			boxes = append(boxes, decoded.AsFloat32()...)
			for _, j := range idx {
				scores = append(scores, of[j])
				lvls = append(lvls, float32(l))
			}
		}
		scores, err := sigmoidAll(scores)
		if err != nil {
			return nil, nil, err
		}

		h := float32(images.Sizes[img][0])
		w := float32(images.Sizes[img][1])
		vision.ClipBoxes(boxes, h, w)

		mask := vision.SmallBoxMask(boxes, r.MinSize)
		var kept []int
		for i, ok := range mask {
			if ok && (r.ScoreThresh <= 0 || scores[i] > r.ScoreThresh) {
				kept = append(kept, i)
			}
		}
		boxes = gatherRows(boxes, kept, 4)
		scores = gatherRows(scores, kept, 1)
		lvls = gatherRows(lvls, kept, 1)

		groups := make([]int64, len(lvls))
		for i, v := range lvls {
			groups[i] = int64(v)
		}
		keep := vision.BatchedNMS(boxes, scores, groups, r.NMSThresh)
		if len(keep) > r.PostNMSTopN {
			keep = keep[:r.PostNMSTopN]
		}
		ki := make([]int, len(keep))
		for i, v := range keep {
			ki[i] = int(v)
		}

		bt, err := tensor.FromFloat32(gatherRows(boxes, ki, 4), tensor.Shape{len(ki), 4})
		if err != nil {
			return nil, nil, err
		}
		st, err := tensor.FromFloat32(gatherRows(scores, ki, 1), tensor.Shape{len(ki)})
		if err != nil {
			return nil, nil, err
		}
		outBoxes = append(outBoxes, bt)
		outScores = append(outScores, st)
	}
	return outBoxes, outScores, nil
}

// emitColumn slices column i of a [K, 4] box value.
func emitColumn(g *onnx.GraphBuilder, boxes *onnx.Value, i int64) *onnx.Value {
	return g.Slice(boxes, []int64{i}, []int64{i + 1}, []int64{1})
}

// emitClipBoxes clamps box columns to [0, width] x [0, height].
func emitClipBoxes(g *onnx.GraphBuilder, boxes *onnx.Value, height, width float32) *onnx.Value {
	zero := g.ConstScalar(0)
	hc := g.ConstScalar(height)
	wc := g.ConstScalar(width)
	return g.Concat(1,
		g.Clip(emitColumn(g, boxes, 0), zero, wc),
		g.Clip(emitColumn(g, boxes, 1), zero, hc),
		g.Clip(emitColumn(g, boxes, 2), zero, wc),
		g.Clip(emitColumn(g, boxes, 3), zero, hc),
	)
}

// emitKeepMask turns a [K] boolean mask into gather indices.
func emitKeepMask(g *onnx.GraphBuilder, mask *onnx.Value) *onnx.Value {
	return g.Squeeze(g.NonZero(mask), []int64{0})
}

// emitSmallBoxMask tests both box sides strictly against minSize.
func emitSmallBoxMask(g *onnx.GraphBuilder, boxes *onnx.Value, minSize float32) *onnx.Value {
	w := g.Squeeze(g.Sub(emitColumn(g, boxes, 2), emitColumn(g, boxes, 0)), []int64{1})
	h := g.Squeeze(g.Sub(emitColumn(g, boxes, 3), emitColumn(g, boxes, 1)), []int64{1})
	m := g.ConstScalar(minSize)
	return g.And(g.Greater(w, m), g.Greater(h, m))
}

// emitBatchedNMS shifts boxes per group by a static offset larger than any
// coordinate, then runs a single-class suppression pass.
func emitBatchedNMS(g *onnx.GraphBuilder, boxes, scores, groups *onnx.Value, offset, iouThresh float32, maxOut int64) *onnx.Value {
	shift := g.Mul(g.Unsqueeze(groups, []int64{1}), g.ConstScalar(offset))
	shifted := g.Add(boxes, shift)
	return ops.EmitNMS(g, shifted, scores, iouThresh, maxOut)
}

// Emit traces proposal generation. Setup must have run; the trace unrolls
// per image over the static batch size.
func (r *RegionProposalNetwork) Emit(g *onnx.GraphBuilder, feats []*onnx.Value) (boxes, scores []*onnx.Value, err error) {
	if r.anchors == nil {
		return nil, nil, fmt.Errorf("rpn: Setup has not run")
	}
	if len(feats) != len(r.featShapes) {
		return nil, nil, fmt.Errorf("rpn: expected %d feature maps, got %d", len(r.featShapes), len(feats))
	}
	numImages := len(r.imageSizes)

	type levelTrace struct {
		obj     *onnx.Value // [N, HWA]
		deltas  *onnx.Value // [N, HWA, 4]
		anchors *onnx.Value // [HWA, 4]
		count   int
	}
	levels := make([]levelTrace, len(feats))
	for l, f := range feats {
		fs := r.featShapes[l]
		n, h, w := fs[0], fs[2], fs[3]
		a := r.Anchors.NumAnchorsPerLocation()[l]

		obj, deltas := r.Head.EmitApply(g, f)
		objFlat := g.Reshape(
			g.Transpose(obj, []int64{0, 2, 3, 1}),
			[]int64{int64(n), int64(h * w * a)})
		dFlat := g.Reshape(
			g.Transpose(g.Reshape(deltas, []int64{int64(n), int64(a), 4, int64(h), int64(w)}),
				[]int64{0, 3, 4, 1, 2}),
			[]int64{int64(n), int64(h * w * a), 4})

		levels[l] = levelTrace{
			obj:     objFlat,
			deltas:  dFlat,
			anchors: g.Const(r.anchors[l]),
			count:   h * w * a,
		}
	}

	for img := 0; img < numImages; img++ {
		imgIdx := g.ConstScalarInt(int64(img))
		var lvlBoxes, lvlScores, lvlIds []*onnx.Value
		for l, lt := range levels {
			objN := g.Gather(lt.obj, imgIdx, 0)       // [HWA]
			deltasN := g.Gather(lt.deltas, imgIdx, 0) // [HWA, 4]

			k := r.PreNMSTopN
			if k > lt.count {
				k = lt.count
			}
			vals, idx := g.TopK(objN, g.ConstInts([]int64{int64(k)}), 0)
			lvlScores = append(lvlScores, g.Sigmoid(vals))
			lvlBoxes = append(lvlBoxes, r.coder.EmitDecode(g,
				g.Gather(deltasN, idx, 0),
				g.Gather(lt.anchors, idx, 0)))

			ids := make([]float32, k)
			for i := range ids {
				ids[i] = float32(l)
			}
			lvlIds = append(lvlIds, g.ConstFloats(ids))
		}

		b := g.Concat(0, lvlBoxes...)
		s := g.Concat(0, lvlScores...)
		ids := g.Concat(0, lvlIds...)

		h := float32(r.imageSizes[img][0])
		w := float32(r.imageSizes[img][1])
		b = emitClipBoxes(g, b, h, w)

		mask := emitSmallBoxMask(g, b, r.MinSize)
		if r.ScoreThresh > 0 {
			mask = g.And(mask, g.Greater(s, g.ConstScalar(r.ScoreThresh)))
		}
		keep := emitKeepMask(g, mask)
		b = g.Gather(b, keep, 0)
		s = g.Gather(s, keep, 0)
		ids = g.Gather(ids, keep, 0)

		offset := w + 1
		if h > w {
			offset = h + 1
		}
		sel := emitBatchedNMS(g, b, s, ids, offset, r.NMSThresh, int64(r.PostNMSTopN))
		boxes = append(boxes, g.Gather(b, sel, 0))
		scores = append(scores, g.Gather(s, sel, 0))
	}
	return boxes, scores, nil
}

// RPNModule adapts the proposal network to the export module contract.
// Input 0 is the image batch, the rest are the pyramid levels; outputs
// alternate boxes and scores per image.
type RPNModule struct {
	RPN *RegionProposalNetwork
}

// Forward implements nn.Module.
func (m *RPNModule) Forward(xs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(xs) < 2 {
		return nil, fmt.Errorf("rpn: expected images plus feature maps, got %d inputs", len(xs))
	}
	images := NewImageList(xs[0], nil)
	boxes, scores, err := m.RPN.Forward(images, xs[1:])
	if err != nil {
		return nil, err
	}
	var out []*tensor.RawTensor
	for i := range boxes {
		out = append(out, boxes[i], scores[i])
	}
	return out, nil
}

// Emit implements nn.Module. The RPN must be Setup beforehand, or have run
// Forward on matching shapes.
func (m *RPNModule) Emit(g *onnx.GraphBuilder, ins []*onnx.Value) ([]*onnx.Value, error) {
	if len(ins) < 2 {
		return nil, fmt.Errorf("rpn: expected images plus feature maps, got %d inputs", len(ins))
	}
	boxes, scores, err := m.RPN.Emit(g, ins[1:])
	if err != nil {
		return nil, err
	}
	var out []*onnx.Value
	for i := range boxes {
		out = append(out, boxes[i], scores[i])
	}
	return out, nil
}
