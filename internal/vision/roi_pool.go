package vision

import (
	"math"

	"github.com/retina-ml/retina/internal/parallel"
)

// RoIPool extracts pooledH x pooledW grids by max-pooling over quantized
// bins of the box region. Boxes are (x1, y1, x2, y2) in input-image
// coordinates scaled by spatialScale with coordinate rounding, the classic
// RoI pooling quantization. Output layout is [K, C, pooledH, pooledW].
func RoIPool(x []float32, channels, height, width int, rois []float32, batchIdx []int64,
	spatialScale float32, pooledH, pooledW int) []float32 {
	k := len(rois) / 4
	out := make([]float32, k*channels*pooledH*pooledW)

	parallel.For(k, func(r int) {
		b := int(batchIdx[r])
		x1 := int(math.Round(float64(rois[r*4] * spatialScale)))
		y1 := int(math.Round(float64(rois[r*4+1] * spatialScale)))
		x2 := int(math.Round(float64(rois[r*4+2] * spatialScale)))
		y2 := int(math.Round(float64(rois[r*4+3] * spatialScale)))

		roiW := maxInt(x2-x1+1, 1)
		roiH := maxInt(y2-y1+1, 1)
		binW := float64(roiW) / float64(pooledW)
		binH := float64(roiH) / float64(pooledH)

		for c := 0; c < channels; c++ {
			plane := x[(b*channels+c)*height*width : (b*channels+c+1)*height*width]
			dst := out[(r*channels+c)*pooledH*pooledW : (r*channels+c+1)*pooledH*pooledW]
			for ph := 0; ph < pooledH; ph++ {
				hStart := clampInt(y1+int(math.Floor(float64(ph)*binH)), 0, height)
				hEnd := clampInt(y1+int(math.Ceil(float64(ph+1)*binH)), 0, height)
				for pw := 0; pw < pooledW; pw++ {
					wStart := clampInt(x1+int(math.Floor(float64(pw)*binW)), 0, width)
					wEnd := clampInt(x1+int(math.Ceil(float64(pw+1)*binW)), 0, width)

					empty := hEnd <= hStart || wEnd <= wStart
					val := float32(0)
					if !empty {
						val = float32(math.Inf(-1))
						for y := hStart; y < hEnd; y++ {
							for xx := wStart; xx < wEnd; xx++ {
								if v := plane[y*width+xx]; v > val {
									val = v
								}
							}
						}
					}
					dst[ph*pooledW+pw] = val
				}
			}
		}
	})
	return out
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
