package operators

import (
	"fmt"

	"github.com/retina-ml/retina/internal/tensor"
	"github.com/retina-ml/retina/internal/vision"
)

// registerVisionOps adds the detection operators to the registry.
func (r *Registry) registerVisionOps() {
	r.Register("NonMaxSuppression", handleNonMaxSuppression)
	r.Register("RoiAlign", handleRoiAlign)
	r.Register("MaxRoiPool", handleMaxRoiPool)
}

// handleNonMaxSuppression takes boxes [B, M, 4] and scores [B, C, M] and
// returns selected (batch, class, box) triples as [N, 3] int64, batches and
// classes visited in order.
func handleNonMaxSuppression(_ *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(inputs) < 2 {
		return nil, fmt.Errorf("nonmaxsuppression requires at least 2 inputs, got %d", len(inputs))
	}
	boxes, scores := inputs[0], inputs[1]
	bs, ss := boxes.Shape(), scores.Shape()
	if len(bs) != 3 || bs[2] != 4 {
		return nil, fmt.Errorf("nonmaxsuppression: expected boxes [B, M, 4], got %v", bs)
	}
	if len(ss) != 3 || ss[0] != bs[0] || ss[2] != bs[1] {
		return nil, fmt.Errorf("nonmaxsuppression: scores %v incompatible with boxes %v", ss, bs)
	}
	batch, classes, m := ss[0], ss[1], ss[2]

	maxPerClass := int64(0)
	if len(inputs) >= 3 && inputs[2] != nil {
		maxPerClass = inputs[2].AsInt64()[0]
	}
	var iouThreshold float32
	if len(inputs) >= 4 && inputs[3] != nil {
		iouThreshold = inputs[3].AsFloat32()[0]
	}
	hasScoreThreshold := len(inputs) >= 5 && inputs[4] != nil
	var scoreThreshold float32
	if hasScoreThreshold {
		scoreThreshold = inputs[4].AsFloat32()[0]
	}

	bv, sv := boxes.AsFloat32(), scores.AsFloat32()
	var selected []int64
	for b := 0; b < batch; b++ {
		batchBoxes := bv[b*m*4 : (b+1)*m*4]
		for c := 0; c < classes; c++ {
			classScores := sv[(b*classes+c)*m : (b*classes+c+1)*m]

			var candIdx []int
			candBoxes := make([]float32, 0, m*4)
			candScores := make([]float32, 0, m)
			for i := 0; i < m; i++ {
				if hasScoreThreshold && classScores[i] <= scoreThreshold {
					continue
				}
				candIdx = append(candIdx, i)
				candBoxes = append(candBoxes, batchBoxes[i*4:i*4+4]...)
				candScores = append(candScores, classScores[i])
			}

			keep := vision.NMS(candBoxes, candScores, iouThreshold)
			if maxPerClass > 0 && int64(len(keep)) > maxPerClass {
				keep = keep[:maxPerClass]
			}
			for _, k := range keep {
				selected = append(selected, int64(b), int64(c), int64(candIdx[k]))
			}
		}
	}

	return wrapSingle(tensor.FromInt64(selected, tensor.Shape{len(selected) / 3, 3}))
}

// handleRoiAlign pools [K, C, outH, outW] regions with average bilinear
// sampling. Inputs are X [N, C, H, W], rois [K, 4] and batch indices [K].
func handleRoiAlign(node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(inputs) != 3 {
		return nil, fmt.Errorf("roialign requires 3 inputs, got %d", len(inputs))
	}
	if mode := GetAttrString(node, "mode", "avg"); mode != "avg" {
		return nil, fmt.Errorf("roialign: unsupported mode %q", mode)
	}
	x, rois, batchIdx := inputs[0], inputs[1], inputs[2]
	xs, rs := x.Shape(), rois.Shape()
	if len(xs) != 4 {
		return nil, fmt.Errorf("roialign: expected 4D input, got %v", xs)
	}
	if len(rs) != 2 || rs[1] != 4 {
		return nil, fmt.Errorf("roialign: expected rois [K, 4], got %v", rs)
	}

	outH := int(GetAttrInt(node, "output_height", 1))
	outW := int(GetAttrInt(node, "output_width", 1))
	samplingRatio := int(GetAttrInt(node, "sampling_ratio", 0))
	spatialScale := GetAttrFloat(node, "spatial_scale", 1.0)

	out := vision.RoIAlign(x.AsFloat32(), xs[1], xs[2], xs[3],
		rois.AsFloat32(), batchIdx.AsInt64(), spatialScale, outH, outW, samplingRatio)
	return wrapSingle(tensor.FromFloat32(out, tensor.Shape{rs[0], xs[1], outH, outW}))
}

// handleMaxRoiPool pools [K, C, pH, pW] regions with quantized max pooling.
// The rois input is [K, 5] with the batch index in column 0.
func handleMaxRoiPool(node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(inputs) != 2 {
		return nil, fmt.Errorf("maxroipool requires 2 inputs, got %d", len(inputs))
	}
	x, rois := inputs[0], inputs[1]
	xs, rs := x.Shape(), rois.Shape()
	if len(xs) != 4 {
		return nil, fmt.Errorf("maxroipool: expected 4D input, got %v", xs)
	}
	if len(rs) != 2 || rs[1] != 5 {
		return nil, fmt.Errorf("maxroipool: expected rois [K, 5], got %v", rs)
	}

	pooled := GetAttrInts(node, "pooled_shape")
	if len(pooled) != 2 {
		return nil, fmt.Errorf("maxroipool: expected pooled_shape of length 2, got %v", pooled)
	}
	spatialScale := GetAttrFloat(node, "spatial_scale", 1.0)

	k := rs[0]
	rv := rois.AsFloat32()
	coords := make([]float32, k*4)
	batchIdx := make([]int64, k)
	for i := 0; i < k; i++ {
		batchIdx[i] = int64(rv[i*5])
		copy(coords[i*4:i*4+4], rv[i*5+1:i*5+5])
	}

	out := vision.RoIPool(x.AsFloat32(), xs[1], xs[2], xs[3],
		coords, batchIdx, spatialScale, int(pooled[0]), int(pooled[1]))
	return wrapSingle(tensor.FromFloat32(out, tensor.Shape{k, xs[1], int(pooled[0]), int(pooled[1])}))
}

func wrapSingle(t *tensor.RawTensor, err error) ([]*tensor.RawTensor, error) {
	if err != nil {
		return nil, err
	}
	return []*tensor.RawTensor{t}, nil
}
