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

// TwoMLPHead flattens pooled region features and runs them through two
// fully connected layers with ReLU.
type TwoMLPHead struct {
	FC6 *nn.Linear
	FC7 *nn.Linear
}

// NewTwoMLPHead builds the head for pooled features of inFeatures total
// size per region.
func NewTwoMLPHead(g *rand.Rand, inFeatures, representation int) *TwoMLPHead {
	return &TwoMLPHead{
		FC6: nn.NewLinear(g, inFeatures, representation),
		FC7: nn.NewLinear(g, representation, representation),
	}
}

// Apply maps [K, C, H, W] pooled features to [K, representation].
func (h *TwoMLPHead) Apply(x *tensor.RawTensor) (*tensor.RawTensor, error) {
	flat, err := tensor.Flatten(x, 1)
	if err != nil {
		return nil, err
	}
	y, err := h.FC6.Apply(flat)
	if err != nil {
		return nil, err
	}
	y, err = tensor.ReLU(y)
	if err != nil {
		return nil, err
	}
	y, err = h.FC7.Apply(y)
	if err != nil {
		return nil, err
	}
	return tensor.ReLU(y)
}

// EmitApply traces the head.
func (h *TwoMLPHead) EmitApply(g *onnx.GraphBuilder, x *onnx.Value) *onnx.Value {
	y := g.Relu(h.FC6.EmitValue(g, g.Flatten(x, 1)))
	return g.Relu(h.FC7.EmitValue(g, y))
}

// FastRCNNPredictor produces classification logits and per-class box
// deltas from the head representation.
type FastRCNNPredictor struct {
	ClsScore *nn.Linear // [numClasses, rep]
	BboxPred *nn.Linear // [numClasses*4, rep]
}

// NewFastRCNNPredictor builds the predictor for the given class count,
// background included as class zero.
func NewFastRCNNPredictor(g *rand.Rand, representation, numClasses int) *FastRCNNPredictor {
	return &FastRCNNPredictor{
		ClsScore: nn.NewLinear(g, representation, numClasses),
		BboxPred: nn.NewLinear(g, representation, numClasses*4),
	}
}

// Apply returns logits [K, numClasses] and deltas [K, numClasses*4].
func (p *FastRCNNPredictor) Apply(x *tensor.RawTensor) (logits, deltas *tensor.RawTensor, err error) {
	logits, err = p.ClsScore.Apply(x)
	if err != nil {
		return nil, nil, err
	}
	deltas, err = p.BboxPred.Apply(x)
	if err != nil {
		return nil, nil, err
	}
	return logits, deltas, nil
}

// EmitApply traces the predictor.
func (p *FastRCNNPredictor) EmitApply(g *onnx.GraphBuilder, x *onnx.Value) (logits, deltas *onnx.Value) {
	return p.ClsScore.EmitValue(g, x), p.BboxPred.EmitValue(g, x)
}

// Detections holds the final per-image outputs.
type Detections struct {
	Boxes  *tensor.RawTensor // [K, 4]
	Labels *tensor.RawTensor // [K] int64
	Scores *tensor.RawTensor // [K]
}

// RoIHeads runs the second detector stage: multi-scale pooling of the
// proposals, the box head and predictor, then per-class decoding, score
// and size filtering, class-batched suppression and the detection cap.
type RoIHeads struct {
	Pool      *ops.MultiScaleRoIAlign
	Head      *TwoMLPHead
	Predictor *FastRCNNPredictor

	NumClasses    int
	ScoreThresh   float32 // strictly greater
	NMSThresh     float32
	DetectionsCap int
	MinSize       float32

	coder ops.BoxCoder
}

// NewRoIHeads wires the second stage with the Fast R-CNN box weights.
func NewRoIHeads(pool *ops.MultiScaleRoIAlign, head *TwoMLPHead, predictor *FastRCNNPredictor, numClasses int) *RoIHeads {
	return &RoIHeads{
		Pool:          pool,
		Head:          head,
		Predictor:     predictor,
		NumClasses:    numClasses,
		ScoreThresh:   0.05,
		NMSThresh:     0.5,
		DetectionsCap: 100,
		MinSize:       1e-2,
		coder:         ops.BoxCoder{Weights: [4]float32{10, 10, 5, 5}},
	}
}

// Forward runs the second stage for one image. feats are the pyramid
// levels, proposals is [P, 4], imageSize the (height, width) the proposals
// live in.
func (r *RoIHeads) Forward(feats []*tensor.RawTensor, proposals *tensor.RawTensor, imageSize [2]int) (*Detections, error) {
	if err := vision.CheckBoxTensor(proposals); err != nil {
		return nil, err
	}
	pooled, err := r.Pool.Forward(append(append([]*tensor.RawTensor{}, feats...), proposals))
	if err != nil {
		return nil, err
	}
	rep, err := r.Head.Apply(pooled[0])
	if err != nil {
		return nil, err
	}
	logits, deltas, err := r.Predictor.Apply(rep)
	if err != nil {
		return nil, err
	}
	return r.postprocess(logits, deltas, proposals, imageSize)
}

// postprocess turns raw predictor outputs into final detections.
func (r *RoIHeads) postprocess(logits, deltas, proposals *tensor.RawTensor, imageSize [2]int) (*Detections, error) {
	p := proposals.Shape()[0]
	nc := r.NumClasses

	probsT, err := tensor.Softmax(logits, -1)
	if err != nil {
		return nil, err
	}
	probs := probsT.AsFloat32()

	// Decode every class column against its proposal.
	tiled := make([]float32, p*nc*4)
	pv := proposals.AsFloat32()
	for i := 0; i < p; i++ {
		for c := 0; c < nc; c++ {
			copy(tiled[(i*nc+c)*4:(i*nc+c+1)*4], pv[i*4:i*4+4])
		}
	}
	tiledT, err := tensor.FromFloat32(tiled, tensor.Shape{p * nc, 4})
	if err != nil {
		return nil, err
	}
	deltasT, err := deltas.WithShape(tensor.Shape{p * nc, 4})
	if err != nil {
		return nil, err
	}
	decodedT, err := r.coder.Decode(deltasT, tiledT)
	if err != nil {
		return nil, err
	}
	decoded := decodedT.AsFloat32()

	// Drop the background column and flatten to per-(proposal, class) rows.
	boxes := make([]float32, 0, p*(nc-1)*4)
	scores := make([]float32, 0, p*(nc-1))
	labels := make([]float32, 0, p*(nc-1))
	for i := 0; i < p; i++ {
		for c := 1; c < nc; c++ {
			boxes = append(boxes, decoded[(i*nc+c)*4:(i*nc+c+1)*4]...)
			scores = append(scores, probs[i*nc+c])
			labels = append(labels, float32(c))
		}
	}

	vision.ClipBoxes(boxes, float32(imageSize[0]), float32(imageSize[1]))

	small := vision.SmallBoxMask(boxes, r.MinSize)
	var kept []int
	for i := range scores {
		if scores[i] > r.ScoreThresh && small[i] {
			kept = append(kept, i)
		}
	}
	boxes = gatherRows(boxes, kept, 4)
	scores = gatherRows(scores, kept, 1)
	labels = gatherRows(labels, kept, 1)

	groups := make([]int64, len(labels))
	for i, v := range labels {
		groups[i] = int64(v)
	}
	keep := vision.BatchedNMS(boxes, scores, groups, r.NMSThresh)
	if len(keep) > r.DetectionsCap {
		keep = keep[:r.DetectionsCap]
	}
	ki := make([]int, len(keep))
	for i, v := range keep {
		ki[i] = int(v)
	}

	bt, err := tensor.FromFloat32(gatherRows(boxes, ki, 4), tensor.Shape{len(ki), 4})
	if err != nil {
		return nil, err
	}
	st, err := tensor.FromFloat32(gatherRows(scores, ki, 1), tensor.Shape{len(ki)})
	if err != nil {
		return nil, err
	}
	lv := make([]int64, len(ki))
	for i, j := range ki {
		lv[i] = int64(labels[j])
	}
	lt, err := tensor.FromInt64(lv, tensor.Shape{len(ki)})
	if err != nil {
		return nil, err
	}
	return &Detections{Boxes: bt, Labels: lt, Scores: st}, nil
}

// Emit traces the second stage for one image. The pool must have its
// scales set up. Returns (boxes, scores, labels).
func (r *RoIHeads) Emit(g *onnx.GraphBuilder, feats []*onnx.Value, proposals *onnx.Value, imageSize [2]int) ([]*onnx.Value, error) {
	pooled, err := r.Pool.Emit(g, append(append([]*onnx.Value{}, feats...), proposals))
	if err != nil {
		return nil, err
	}
	rep := r.Head.EmitApply(g, pooled[0])
	logits, deltas := r.Predictor.EmitApply(g, rep)

	nc := int64(r.NumClasses)
	probs := g.Softmax(logits, -1) // [P, nc]

	// Tile each proposal across the classes and decode [P*nc, 4] deltas.
	pCount := g.Slice(g.Shape(proposals), []int64{0}, []int64{1}, []int64{0})
	target := g.Concat(0, pCount, g.ConstInts([]int64{nc}), g.ConstInts([]int64{4}))
	tiled := g.Reshape(
		g.Expand(g.Unsqueeze(proposals, []int64{1}), target),
		[]int64{-1, 4})
	decoded := r.coder.EmitDecode(g, g.Reshape(deltas, []int64{-1, 4}), tiled)

	// Drop background: reshape to [P, nc, 4], slice class axis from 1.
	boxes := g.Reshape(
		g.Slice(g.Reshape(decoded, []int64{-1, nc, 4}), []int64{1}, []int64{nc}, []int64{1}),
		[]int64{-1, 4}) // [P*(nc-1), 4]
	scores := g.Reshape(
		g.Slice(probs, []int64{1}, []int64{nc}, []int64{1}),
		[]int64{-1}) // [P*(nc-1)]

	// Class labels 1..nc-1 repeated per proposal.
	row := make([]float32, nc-1)
	for i := range row {
		row[i] = float32(i + 1)
	}
	labelTarget := g.Concat(0, pCount, g.ConstInts([]int64{nc - 1}))
	labels := g.Reshape(
		g.Expand(g.Unsqueeze(g.ConstFloats(row), []int64{0}), labelTarget),
		[]int64{-1}) // [P*(nc-1)] float

	h := float32(imageSize[0])
	w := float32(imageSize[1])
	boxes = emitClipBoxes(g, boxes, h, w)

	mask := g.And(
		g.Greater(scores, g.ConstScalar(r.ScoreThresh)),
		emitSmallBoxMask(g, boxes, r.MinSize))
	keep := emitKeepMask(g, mask)
	boxes = g.Gather(boxes, keep, 0)
	scores = g.Gather(scores, keep, 0)
	labels = g.Gather(labels, keep, 0)

	offset := w + 1
	if h > w {
		offset = h + 1
	}
	sel := emitBatchedNMS(g, boxes, scores, labels, offset, r.NMSThresh, int64(r.DetectionsCap))
	return []*onnx.Value{
		g.Gather(boxes, sel, 0),
		g.Gather(scores, sel, 0),
		g.Cast(g.Gather(labels, sel, 0), tensor.Int64),
	}, nil
}

// RoIHeadsModule adapts the second stage to the export module contract.
// Inputs are the pyramid levels followed by the proposals; outputs are
// (boxes, scores, labels).
type RoIHeadsModule struct {
	Heads     *RoIHeads
	ImageSize [2]int
}

// Forward implements nn.Module.
func (m *RoIHeadsModule) Forward(xs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(xs) < 2 {
		return nil, fmt.Errorf("roi heads: expected feature maps plus proposals, got %d inputs", len(xs))
	}
	det, err := m.Heads.Forward(xs[:len(xs)-1], xs[len(xs)-1], m.ImageSize)
	if err != nil {
		return nil, err
	}
	return []*tensor.RawTensor{det.Boxes, det.Scores, det.Labels}, nil
}

// Emit implements nn.Module. The pool scales must be set up beforehand.
func (m *RoIHeadsModule) Emit(g *onnx.GraphBuilder, ins []*onnx.Value) ([]*onnx.Value, error) {
	if len(ins) < 2 {
		return nil, fmt.Errorf("roi heads: expected feature maps plus proposals, got %d inputs", len(ins))
	}
	return m.Heads.Emit(g, ins[:len(ins)-1], ins[len(ins)-1], m.ImageSize)
}
