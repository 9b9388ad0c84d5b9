package nn

import (
	"math"
	"math/rand"

	"github.com/retina-ml/retina/internal/tensor"
)

// XavierUniform fills a new tensor with Xavier/Glorot uniform values,
// bounds +-sqrt(6 / (fanIn + fanOut)).
func XavierUniform(g *rand.Rand, shape tensor.Shape, fanIn, fanOut int) *tensor.RawTensor {
	bound := math.Sqrt(6.0 / float64(fanIn+fanOut))
	t := tensor.Zeros(shape)
	data := t.AsFloat32()
	for i := range data {
		data[i] = float32((g.Float64()*2 - 1) * bound)
	}
	return t
}

// KaimingNormal fills a new tensor with Kaiming-normal values,
// std sqrt(2 / fanIn). The usual choice ahead of a ReLU.
func KaimingNormal(g *rand.Rand, shape tensor.Shape, fanIn int) *tensor.RawTensor {
	std := math.Sqrt(2.0 / float64(fanIn))
	t := tensor.Zeros(shape)
	data := t.AsFloat32()
	for i := range data {
		data[i] = float32(g.NormFloat64() * std)
	}
	return t
}

// NormalInit fills a new tensor with normal values of the given std.
func NormalInit(g *rand.Rand, shape tensor.Shape, std float64) *tensor.RawTensor {
	t := tensor.Zeros(shape)
	data := t.AsFloat32()
	for i := range data {
		data[i] = float32(g.NormFloat64() * std)
	}
	return t
}
