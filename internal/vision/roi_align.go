package vision

import (
	"math"

	"github.com/retina-ml/retina/internal/parallel"
)

// RoIAlign extracts pooledH x pooledW feature grids from box regions of an
// NCHW feature map using bilinear sampling. Boxes are (x1, y1, x2, y2) in
// input-image coordinates and are scaled by spatialScale; batchIdx selects
// the image each box belongs to. samplingRatio <= 0 derives the sampling
// grid from the bin size. Output layout is [K, C, pooledH, pooledW].
func RoIAlign(x []float32, channels, height, width int, rois []float32, batchIdx []int64,
	spatialScale float32, pooledH, pooledW, samplingRatio int) []float32 {
	k := len(rois) / 4
	out := make([]float32, k*channels*pooledH*pooledW)

	// Regions write disjoint output slices.
	parallel.For(k, func(r int) {
		b := int(batchIdx[r])
		x1 := rois[r*4] * spatialScale
		y1 := rois[r*4+1] * spatialScale
		x2 := rois[r*4+2] * spatialScale
		y2 := rois[r*4+3] * spatialScale

		roiW := max32(x2-x1, 1)
		roiH := max32(y2-y1, 1)
		binW := roiW / float32(pooledW)
		binH := roiH / float32(pooledH)

		gridH := samplingRatio
		if gridH <= 0 {
			gridH = int(math.Ceil(float64(roiH) / float64(pooledH)))
		}
		gridW := samplingRatio
		if gridW <= 0 {
			gridW = int(math.Ceil(float64(roiW) / float64(pooledW)))
		}
		count := float32(gridH * gridW)

		for c := 0; c < channels; c++ {
			plane := x[(b*channels+c)*height*width : (b*channels+c+1)*height*width]
			dst := out[(r*channels+c)*pooledH*pooledW : (r*channels+c+1)*pooledH*pooledW]
			for ph := 0; ph < pooledH; ph++ {
				for pw := 0; pw < pooledW; pw++ {
					var sum float32
					for iy := 0; iy < gridH; iy++ {
						sy := y1 + float32(ph)*binH + (float32(iy)+0.5)*binH/float32(gridH)
						for ix := 0; ix < gridW; ix++ {
							sx := x1 + float32(pw)*binW + (float32(ix)+0.5)*binW/float32(gridW)
							sum += bilinear(plane, height, width, sy, sx)
						}
					}
					dst[ph*pooledW+pw] = sum / count
				}
			}
		}
	})
	return out
}

// bilinear samples a single point with bilinear interpolation. Points more
// than one pixel outside the map contribute zero; points slightly outside
// are clamped to the border, matching the reference RoI align behavior.
func bilinear(plane []float32, height, width int, y, x float32) float32 {
	if y < -1 || y > float32(height) || x < -1 || x > float32(width) {
		return 0
	}
	if y <= 0 {
		y = 0
	}
	if x <= 0 {
		x = 0
	}

	y0 := int(y)
	x0 := int(x)
	y1, x1 := y0+1, x0+1
	ly := y - float32(y0)
	lx := x - float32(x0)

	if y0 >= height-1 {
		y0, y1 = height-1, height-1
		ly = 0
	}
	if x0 >= width-1 {
		x0, x1 = width-1, width-1
		lx = 0
	}

	hy, hx := 1-ly, 1-lx
	return hy*hx*plane[y0*width+x0] +
		hy*lx*plane[y0*width+x1] +
		ly*hx*plane[y1*width+x0] +
		ly*lx*plane[y1*width+x1]
}
