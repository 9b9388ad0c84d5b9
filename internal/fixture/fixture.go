// Package fixture builds the seeded modules and inputs used to exercise
// export validation, both in tests and from the command line. Every
// constructor takes an explicit seed so runs are reproducible, and every
// scenario carries two independently drawn input sets: the first is what
// the graph is exported with, the second checks the graph on data it was
// not traced on.
package fixture

import (
	"math/rand"

	"github.com/retina-ml/retina/detection"
	"github.com/retina-ml/retina/internal/nn"
	"github.com/retina-ml/retina/internal/tensor"
	"github.com/retina-ml/retina/ops"
)

// Scenario pairs an exportable module with input sets for validation.
type Scenario struct {
	Name      string
	Module    nn.Module
	InputSets [][]*tensor.RawTensor

	// NativeOnly marks scenarios whose exported graph is only checked on
	// the built-in executor.
	NativeOnly bool

	// Tolerated allows a small fraction of mismatched elements. Stages
	// whose outputs shift discretely under tiny numeric differences
	// (proposal ranking in the RPN and RoI heads, and the detector built
	// from them) run tolerated; everything else requires zero mismatches.
	Tolerated bool
}

// randBoxes draws k valid (x1, y1, x2, y2) boxes inside a bound x bound
// image.
func randBoxes(g *rand.Rand, k int, bound float32) *tensor.RawTensor {
	vals := make([]float32, k*4)
	for i := 0; i < k; i++ {
		x1 := g.Float32() * bound * 0.7
		y1 := g.Float32() * bound * 0.7
		w := g.Float32()*bound*0.3 + 1
		h := g.Float32()*bound*0.3 + 1
		vals[i*4] = x1
		vals[i*4+1] = y1
		vals[i*4+2] = x1 + w
		vals[i*4+3] = y1 + h
	}
	t, _ := tensor.FromFloat32(vals, tensor.Shape{k, 4})
	return t
}

// drawTwice builds the export-time input set and a second independent
// draw with the same shapes.
func drawTwice(draw func() []*tensor.RawTensor) [][]*tensor.RawTensor {
	return [][]*tensor.RawTensor{draw(), draw()}
}

// NMS suppresses five random boxes at IoU 0.5.
func NMS(seed int64) Scenario {
	g := rand.New(rand.NewSource(seed))
	return Scenario{
		Name:   "nms",
		Module: &ops.NMSModule{IoUThreshold: 0.5},
		InputSets: drawTwice(func() []*tensor.RawTensor {
			boxes := randBoxes(g, 5, 256)
			scores := tensor.Rand(g, tensor.Shape{5})
			return []*tensor.RawTensor{boxes, scores}
		}),
	}
}

// RoIAlign pools a single region from a 10x10 map to 5x5.
func RoIAlign(seed int64) Scenario {
	g := rand.New(rand.NewSource(seed))
	return Scenario{
		Name: "roi_align",
		Module: &ops.RoIAlign{
			OutputH: 5, OutputW: 5,
			SpatialScale:  1,
			SamplingRatio: 2,
		},
		InputSets: drawTwice(func() []*tensor.RawTensor {
			x := tensor.Rand(g, tensor.Shape{1, 1, 10, 10})
			roi, _ := tensor.FromFloat32([]float32{0, 0, 0, 4, 4}, tensor.Shape{1, 5})
			return []*tensor.RawTensor{x, roi}
		}),
	}
}

// RoIAlignBoundary pools a region hanging past the feature map border.
func RoIAlignBoundary(seed int64) Scenario {
	g := rand.New(rand.NewSource(seed))
	return Scenario{
		Name: "roi_align_boundary",
		Module: &ops.RoIAlign{
			OutputH: 5, OutputW: 5,
			SpatialScale:  1,
			SamplingRatio: 2,
		},
		InputSets: drawTwice(func() []*tensor.RawTensor {
			x := tensor.Rand(g, tensor.Shape{1, 1, 10, 10})
			roi, _ := tensor.FromFloat32([]float32{0, -2, -2, 12, 12}, tensor.Shape{1, 5})
			return []*tensor.RawTensor{x, roi}
		}),
	}
}

// RoIPool max-pools a single region from a 10x10 map to 5x5.
func RoIPool(seed int64) Scenario {
	g := rand.New(rand.NewSource(seed))
	return Scenario{
		Name: "roi_pool",
		Module: &ops.RoIPool{
			OutputH: 5, OutputW: 5,
			SpatialScale: 1,
		},
		InputSets: drawTwice(func() []*tensor.RawTensor {
			x := tensor.Rand(g, tensor.Shape{1, 1, 10, 10})
			roi, _ := tensor.FromFloat32([]float32{0, 0, 0, 4, 4}, tensor.Shape{1, 5})
			return []*tensor.RawTensor{x, roi}
		}),
	}
}

// MultiScale pools six boxes from a two-level pyramid of a 512x512
// image. Level assignment and pooling are deterministic, so both draws
// run with no mismatch tolerance.
func MultiScale(seed int64) Scenario {
	g := rand.New(rand.NewSource(seed))
	shape1 := tensor.Shape{1, 5, 64, 64}
	shape2 := tensor.Shape{1, 5, 16, 16}

	m := &ops.MultiScaleRoIAlign{
		OutputSize:    3,
		SamplingRatio: 2,
		ImageSize:     [2]int{512, 512},
	}
	// Fix the scales so Emit works without a prior Forward.
	_ = m.SetupScales([]tensor.Shape{shape1, shape2})
	return Scenario{
		Name:   "multiscale_roi_align",
		Module: m,
		InputSets: drawTwice(func() []*tensor.RawTensor {
			return []*tensor.RawTensor{
				tensor.Rand(g, shape1),
				tensor.Rand(g, shape2),
				randBoxes(g, 6, 256),
			}
		}),
	}
}

// RPN runs proposal generation over a two-image batch with a five-level
// pyramid.
func RPN(seed int64) Scenario {
	g := rand.New(rand.NewSource(seed))
	const (
		channels = 16
		imgSize  = 128
		levels   = 5
	)
	featShapes := make([]tensor.Shape, levels)
	for l := 0; l < levels; l++ {
		s := imgSize / (4 << l)
		featShapes[l] = tensor.Shape{2, channels, s, s}
	}

	anchors := detection.DefaultAnchorGenerator()
	head := detection.NewRPNHead(g, channels, 3)
	rpn := detection.NewRegionProposalNetwork(anchors, head, 1000, 1000, 0.7)
	_ = rpn.Setup([][2]int{{imgSize, imgSize}, {imgSize, imgSize}}, featShapes)

	return Scenario{
		Name:   "rpn",
		Module: &detection.RPNModule{RPN: rpn},
		InputSets: drawTwice(func() []*tensor.RawTensor {
			inputs := []*tensor.RawTensor{tensor.Rand(g, tensor.Shape{2, 3, imgSize, imgSize})}
			for l := 0; l < levels; l++ {
				inputs = append(inputs, tensor.Rand(g, featShapes[l]))
			}
			return inputs
		}),
		Tolerated: true,
	}
}

// RoIHeads runs the second stage over a four-level pyramid with 91
// classes.
func RoIHeads(seed int64) Scenario {
	g := rand.New(rand.NewSource(seed))
	const (
		channels  = 16
		imgSize   = 128
		levels    = 4
		classes   = 91
		represent = 128
	)
	featShapes := make([]tensor.Shape, levels)
	for l := 0; l < levels; l++ {
		s := imgSize / (4 << l)
		featShapes[l] = tensor.Shape{1, channels, s, s}
	}

	pool := &ops.MultiScaleRoIAlign{
		OutputSize:    7,
		SamplingRatio: 2,
		ImageSize:     [2]int{imgSize, imgSize},
	}
	_ = pool.SetupScales(featShapes)
	head := detection.NewTwoMLPHead(g, channels*7*7, represent)
	pred := detection.NewFastRCNNPredictor(g, represent, classes)
	heads := detection.NewRoIHeads(pool, head, pred, classes)

	return Scenario{
		Name:   "roi_heads",
		Module: &detection.RoIHeadsModule{Heads: heads, ImageSize: [2]int{imgSize, imgSize}},
		InputSets: drawTwice(func() []*tensor.RawTensor {
			inputs := make([]*tensor.RawTensor, 0, levels+1)
			for l := 0; l < levels; l++ {
				inputs = append(inputs, tensor.Rand(g, featShapes[l]))
			}
			return append(inputs, randBoxes(g, 50, imgSize))
		}),
		Tolerated: true,
	}
}

// Transform normalizes, resizes and pads a single image. The dynamic
// resize graph is checked on the native executor only.
func Transform(seed int64) Scenario {
	g := rand.New(rand.NewSource(seed))
	return Scenario{
		Name:   "transform",
		Module: &detection.TransformModule{Transform: detection.NewGeneralizedRCNNTransform()},
		InputSets: drawTwice(func() []*tensor.RawTensor {
			return []*tensor.RawTensor{tensor.Rand(g, tensor.Shape{1, 3, 100, 200})}
		}),
		NativeOnly: true,
	}
}

// RCNN runs the full detector end to end on a small configuration.
func RCNN(seed int64) Scenario {
	g := rand.New(rand.NewSource(seed))
	const (
		channels = 8
		levels   = 3
	)
	backbone := detection.NewTinyBackbone(g, channels, levels)
	sizes := make([][]float32, levels)
	ratios := make([][]float32, levels)
	for i := range sizes {
		size := 32 << i
		sizes[i] = []float32{float32(size)}
		ratios[i] = []float32{0.5, 1, 2}
	}
	anchors := &detection.AnchorGenerator{Sizes: sizes, AspectRatios: ratios}
	rpn := detection.NewRegionProposalNetwork(anchors, detection.NewRPNHead(g, channels, 3), 100, 20, 0.7)

	pool := &ops.MultiScaleRoIAlign{OutputSize: 7, SamplingRatio: 2}
	head := detection.NewTwoMLPHead(g, channels*7*7, 64)
	pred := detection.NewFastRCNNPredictor(g, 64, 5)
	heads := detection.NewRoIHeads(pool, head, pred, 5)
	heads.DetectionsCap = 10

	tr := detection.NewGeneralizedRCNNTransform()
	tr.MinSize = 128
	tr.MaxSize = 256

	model := &detection.GeneralizedRCNN{
		Transform: tr,
		Backbone:  backbone,
		RPN:       rpn,
		Heads:     heads,
	}
	return Scenario{
		Name:   "rcnn",
		Module: &detection.RCNNModule{Model: model, ImageSize: [2]int{96, 128}},
		InputSets: drawTwice(func() []*tensor.RawTensor {
			return []*tensor.RawTensor{tensor.Rand(g, tensor.Shape{1, 3, 96, 128})}
		}),
		Tolerated: true,
	}
}

// Scenarios returns every validation scenario with the given seed.
func Scenarios(seed int64) []Scenario {
	return []Scenario{
		NMS(seed),
		RoIAlign(seed),
		RoIAlignBoundary(seed),
		RoIPool(seed),
		MultiScale(seed),
		RPN(seed),
		RoIHeads(seed),
		Transform(seed),
		RCNN(seed),
	}
}

// MismatchBudget returns the allowed mismatch fraction for a scenario:
// zero for strict scenarios, the given tolerated fraction otherwise.
func (s Scenario) MismatchBudget(tolerated float64) float64 {
	if s.Tolerated {
		return tolerated
	}
	return 0
}
