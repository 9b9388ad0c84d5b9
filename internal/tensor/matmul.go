package tensor

import (
	"fmt"
	"math"

	"github.com/retina-ml/retina/internal/parallel"
)

// MatMul computes the 2D matrix product a @ b.
func MatMul(a, b *RawTensor) (*RawTensor, error) {
	if a.DType() != Float32 || b.DType() != Float32 {
		return nil, fmt.Errorf("matmul: expected float32 operands")
	}
	as, bs := a.Shape(), b.Shape()
	if len(as) != 2 || len(bs) != 2 {
		return nil, fmt.Errorf("matmul: expected 2D operands, got %v and %v", as, bs)
	}
	if as[1] != bs[0] {
		return nil, fmt.Errorf("matmul: inner dimensions mismatch: %v @ %v", as, bs)
	}
	m, k, n := as[0], as[1], bs[1]

	out := Zeros(Shape{m, n})
	av, bv, ov := a.AsFloat32(), b.AsFloat32(), out.AsFloat32()
	for i := 0; i < m; i++ {
		for l := 0; l < k; l++ {
			x := av[i*k+l]
			if x == 0 {
				continue
			}
			row := bv[l*n : (l+1)*n]
			dst := ov[i*n : (i+1)*n]
			for j := range row {
				dst[j] += x * row[j]
			}
		}
	}
	return out, nil
}

// Conv2D computes a 2D convolution over NCHW input with OIHW weights,
// symmetric zero padding and a single stride for both spatial dimensions.
// Bias may be nil.
func Conv2D(x, weight, bias *RawTensor, stride, padding int) (*RawTensor, error) {
	xs, ws := x.Shape(), weight.Shape()
	if len(xs) != 4 || len(ws) != 4 {
		return nil, fmt.Errorf("conv2d: expected 4D input and weight, got %v and %v", xs, ws)
	}
	n, c, h, w := xs[0], xs[1], xs[2], xs[3]
	oc, ic, kh, kw := ws[0], ws[1], ws[2], ws[3]
	if ic != c {
		return nil, fmt.Errorf("conv2d: input channels %d do not match weight channels %d", c, ic)
	}
	if stride < 1 {
		return nil, fmt.Errorf("conv2d: invalid stride %d", stride)
	}
	oh := (h+2*padding-kh)/stride + 1
	ow := (w+2*padding-kw)/stride + 1
	if oh < 1 || ow < 1 {
		return nil, fmt.Errorf("conv2d: kernel %dx%d too large for input %dx%d", kh, kw, h, w)
	}

	out := Zeros(Shape{n, oc, oh, ow})
	xv, wv, ov := x.AsFloat32(), weight.AsFloat32(), out.AsFloat32()
	var bv []float32
	if bias != nil {
		bv = bias.AsFloat32()
	}

	// Output planes are independent, so each (batch, out-channel) pair
	// can run on its own worker.
	parallel.ForPlanes(n, oc, func(b, o int) {
		base := 0.0
		if bv != nil {
			base = float64(bv[o])
		}
		for oy := 0; oy < oh; oy++ {
			for ox := 0; ox < ow; ox++ {
				sum := base
				for i := 0; i < c; i++ {
					for ky := 0; ky < kh; ky++ {
						iy := oy*stride - padding + ky
						if iy < 0 || iy >= h {
							continue
						}
						for kx := 0; kx < kw; kx++ {
							ix := ox*stride - padding + kx
							if ix < 0 || ix >= w {
								continue
							}
							xi := ((b*c+i)*h+iy)*w + ix
							wi := ((o*c+i)*kh+ky)*kw + kx
							sum += float64(xv[xi]) * float64(wv[wi])
						}
					}
				}
				ov[((b*oc+o)*oh+oy)*ow+ox] = float32(sum)
			}
		}
	})
	return out, nil
}

// Pad zero-pads a tensor. pads holds per-axis begin values followed by
// per-axis end values, ONNX layout.
func Pad(x *RawTensor, pads []int64) (*RawTensor, error) {
	shape := x.Shape()
	rank := len(shape)
	if len(pads) != 2*rank {
		return nil, fmt.Errorf("pad: expected %d pad values for rank %d, got %d", 2*rank, rank, len(pads))
	}
	outShape := make(Shape, rank)
	begin := make([]int, rank)
	for d := 0; d < rank; d++ {
		b, e := int(pads[d]), int(pads[rank+d])
		if b < 0 || e < 0 {
			return nil, fmt.Errorf("pad: negative pad on axis %d", d)
		}
		begin[d] = b
		outShape[d] = shape[d] + b + e
	}

	out, err := NewRaw(outShape, x.DType())
	if err != nil {
		return nil, err
	}
	inStrides := shape.ComputeStrides()
	outStrides := outShape.ComputeStrides()
	n := x.NumElements()
	for i := 0; i < n; i++ {
		dst := 0
		for d := 0; d < rank; d++ {
			coord := (i / inStrides[d]) % shape[d]
			dst += (coord + begin[d]) * outStrides[d]
		}
		copyElem(out, x, dst, i)
	}
	return out, nil
}

// ResizeBilinear resizes the spatial dimensions of an NCHW tensor to the
// given output size with bilinear interpolation, half-pixel alignment off
// (coordinates scaled by in/out ratio, the asymmetric mode).
func ResizeBilinear(x *RawTensor, outH, outW int) (*RawTensor, error) {
	xs := x.Shape()
	if len(xs) != 4 {
		return nil, fmt.Errorf("resize: expected 4D input, got %v", xs)
	}
	if outH < 1 || outW < 1 {
		return nil, fmt.Errorf("resize: invalid output size %dx%d", outH, outW)
	}
	n, c, h, w := xs[0], xs[1], xs[2], xs[3]

	out := Zeros(Shape{n, c, outH, outW})
	xv, ov := x.AsFloat32(), out.AsFloat32()
	scaleH := float64(h) / float64(outH)
	scaleW := float64(w) / float64(outW)

	for b := 0; b < n; b++ {
		for i := 0; i < c; i++ {
			plane := xv[(b*c+i)*h*w : (b*c+i+1)*h*w]
			dst := ov[(b*c+i)*outH*outW : (b*c+i+1)*outH*outW]
			for oy := 0; oy < outH; oy++ {
				fy := float64(oy) * scaleH
				y0 := int(math.Floor(fy))
				if y0 > h-1 {
					y0 = h - 1
				}
				y1 := y0 + 1
				if y1 > h-1 {
					y1 = h - 1
				}
				wy := float32(fy - float64(y0))
				for ox := 0; ox < outW; ox++ {
					fx := float64(ox) * scaleW
					x0 := int(math.Floor(fx))
					if x0 > w-1 {
						x0 = w - 1
					}
					x1 := x0 + 1
					if x1 > w-1 {
						x1 = w - 1
					}
					wx := float32(fx - float64(x0))

					top := plane[y0*w+x0]*(1-wx) + plane[y0*w+x1]*wx
					bot := plane[y1*w+x0]*(1-wx) + plane[y1*w+x1]*wx
					dst[oy*outW+ox] = top*(1-wy) + bot*wy
				}
			}
		}
	}
	return out, nil
}
