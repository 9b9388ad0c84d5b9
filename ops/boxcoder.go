package ops

import (
	"fmt"
	"math"

	"github.com/retina-ml/retina/internal/onnx"
	"github.com/retina-ml/retina/internal/tensor"
)

// BBoxXformClip caps log-space size deltas so exp() cannot blow boxes up
// past 1000/16 of the anchor extent.
var BBoxXformClip = float32(math.Log(1000.0 / 16.0))

// BoxCoder converts between boxes and regression deltas (dx, dy, dw, dh)
// relative to reference boxes, with per-coordinate weights.
type BoxCoder struct {
	Weights [4]float32
}

// DefaultBoxCoder returns a coder with unit weights, the RPN setting.
func DefaultBoxCoder() BoxCoder {
	return BoxCoder{Weights: [4]float32{1, 1, 1, 1}}
}

// Encode computes the regression targets that would transform proposals
// into the reference boxes. Both inputs are [N, 4].
func (c BoxCoder) Encode(reference, proposals *tensor.RawTensor) (*tensor.RawTensor, error) {
	rs, ps := reference.Shape(), proposals.Shape()
	if len(rs) != 2 || rs[1] != 4 || !rs.Equal(ps) {
		return nil, fmt.Errorf("box encode: expected matching [N, 4] inputs, got %v and %v", rs, ps)
	}
	n := rs[0]
	rv, pv := reference.AsFloat32(), proposals.AsFloat32()
	out := tensor.Zeros(tensor.Shape{n, 4})
	ov := out.AsFloat32()

	wx, wy, ww, wh := c.Weights[0], c.Weights[1], c.Weights[2], c.Weights[3]
	for i := 0; i < n; i++ {
		pw := pv[i*4+2] - pv[i*4]
		ph := pv[i*4+3] - pv[i*4+1]
		pcx := pv[i*4] + 0.5*pw
		pcy := pv[i*4+1] + 0.5*ph

		gw := rv[i*4+2] - rv[i*4]
		gh := rv[i*4+3] - rv[i*4+1]
		gcx := rv[i*4] + 0.5*gw
		gcy := rv[i*4+1] + 0.5*gh

		ov[i*4] = wx * (gcx - pcx) / pw
		ov[i*4+1] = wy * (gcy - pcy) / ph
		ov[i*4+2] = ww * float32(math.Log(float64(gw/pw)))
		ov[i*4+3] = wh * float32(math.Log(float64(gh/ph)))
	}
	return out, nil
}

// Decode applies [N, 4] regression deltas to [N, 4] reference boxes and
// returns the predicted boxes.
func (c BoxCoder) Decode(codes, boxes *tensor.RawTensor) (*tensor.RawTensor, error) {
	cs, bs := codes.Shape(), boxes.Shape()
	if len(cs) != 2 || cs[1] != 4 || !cs.Equal(bs) {
		return nil, fmt.Errorf("box decode: expected matching [N, 4] inputs, got %v and %v", cs, bs)
	}
	n := cs[0]
	cv, bv := codes.AsFloat32(), boxes.AsFloat32()
	out := tensor.Zeros(tensor.Shape{n, 4})
	ov := out.AsFloat32()

	wx, wy, ww, wh := c.Weights[0], c.Weights[1], c.Weights[2], c.Weights[3]
	for i := 0; i < n; i++ {
		w := bv[i*4+2] - bv[i*4]
		h := bv[i*4+3] - bv[i*4+1]
		cx := bv[i*4] + 0.5*w
		cy := bv[i*4+1] + 0.5*h

		dx := cv[i*4] / wx
		dy := cv[i*4+1] / wy
		dw := cv[i*4+2] / ww
		dh := cv[i*4+3] / wh
		if dw > BBoxXformClip {
			dw = BBoxXformClip
		}
		if dh > BBoxXformClip {
			dh = BBoxXformClip
		}

		pcx := dx*w + cx
		pcy := dy*h + cy
		pw := float32(math.Exp(float64(dw))) * w
		ph := float32(math.Exp(float64(dh))) * h

		ov[i*4] = pcx - 0.5*pw
		ov[i*4+1] = pcy - 0.5*ph
		ov[i*4+2] = pcx + 0.5*pw
		ov[i*4+3] = pcy + 0.5*ph
	}
	return out, nil
}

// EmitDecode traces Decode: codes [N, 4] and boxes [N, 4] in, predicted
// boxes [N, 4] out.
func (c BoxCoder) EmitDecode(g *onnx.GraphBuilder, codes, boxes *onnx.Value) *onnx.Value {
	col := func(x *onnx.Value, i int64) *onnx.Value {
		return g.Slice(x, []int64{i}, []int64{i + 1}, []int64{1}) // [N, 1]
	}
	half := g.ConstScalar(0.5)

	x1, y1 := col(boxes, 0), col(boxes, 1)
	w := g.Sub(col(boxes, 2), x1)
	h := g.Sub(col(boxes, 3), y1)
	cx := g.Add(x1, g.Mul(half, w))
	cy := g.Add(y1, g.Mul(half, h))

	dx := g.Div(col(codes, 0), g.ConstScalar(c.Weights[0]))
	dy := g.Div(col(codes, 1), g.ConstScalar(c.Weights[1]))
	dw := g.Div(col(codes, 2), g.ConstScalar(c.Weights[2]))
	dh := g.Div(col(codes, 3), g.ConstScalar(c.Weights[3]))

	clip := g.ConstScalar(BBoxXformClip)
	dw = g.Min(dw, clip)
	dh = g.Min(dh, clip)

	pcx := g.Add(g.Mul(dx, w), cx)
	pcy := g.Add(g.Mul(dy, h), cy)
	pw := g.Mul(g.Exp(dw), w)
	ph := g.Mul(g.Exp(dh), h)

	return g.Concat(1,
		g.Sub(pcx, g.Mul(half, pw)),
		g.Sub(pcy, g.Mul(half, ph)),
		g.Add(pcx, g.Mul(half, pw)),
		g.Add(pcy, g.Mul(half, ph)),
	)
}
