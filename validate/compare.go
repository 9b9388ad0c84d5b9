package validate

import (
	"fmt"
	"math"

	"github.com/retina-ml/retina/internal/tensor"
)

// Default tolerances for float comparison.
const (
	DefaultRTol = 1e-3
	DefaultATol = 1e-5

	// DefaultMismatchFraction is the share of elements allowed to miss the
	// tolerance before a comparison fails.
	DefaultMismatchFraction = 0.005
)

// Result summarizes an element-wise comparison.
type Result struct {
	Total      int
	Mismatched int
	MaxAbsDiff float64
	MaxRelDiff float64
	WorstIndex int
}

// MismatchFraction returns the share of elements outside tolerance.
func (r Result) MismatchFraction() float64 {
	if r.Total == 0 {
		return 0
	}
	return float64(r.Mismatched) / float64(r.Total)
}

// Within reports whether the mismatch share stays under maxFraction.
func (r Result) Within(maxFraction float64) bool {
	return r.MismatchFraction() <= maxFraction
}

func (r Result) String() string {
	return fmt.Sprintf("%d/%d mismatched (%.4f%%), max abs %.3g, max rel %.3g",
		r.Mismatched, r.Total, r.MismatchFraction()*100, r.MaxAbsDiff, r.MaxRelDiff)
}

// Compare checks got against want element-wise. An element matches when
// |got-want| <= atol + rtol*|want|. Shapes must carry the same element
// count; int64 tensors compare exactly.
func Compare(got, want *tensor.RawTensor, rtol, atol float64) (Result, error) {
	if got.NumElements() != want.NumElements() {
		return Result{}, fmt.Errorf("compare: size mismatch: %v vs %v", got.Shape(), want.Shape())
	}
	if got.DType() != want.DType() {
		return Result{}, fmt.Errorf("compare: dtype mismatch: %s vs %s", got.DType(), want.DType())
	}

	res := Result{Total: got.NumElements(), WorstIndex: -1}
	switch got.DType() {
	case tensor.Int64:
		gv, wv := got.AsInt64(), want.AsInt64()
		for i := range gv {
			if gv[i] != wv[i] {
				res.Mismatched++
				if d := math.Abs(float64(gv[i] - wv[i])); d > res.MaxAbsDiff {
					res.MaxAbsDiff = d
					res.WorstIndex = i
				}
			}
		}
	case tensor.Float32:
		gv, wv := got.AsFloat32(), want.AsFloat32()
		for i := range gv {
			g, w := float64(gv[i]), float64(wv[i])
			diff := math.Abs(g - w)
			if diff > res.MaxAbsDiff {
				res.MaxAbsDiff = diff
				res.WorstIndex = i
			}
			if w != 0 {
				if rel := diff / math.Abs(w); rel > res.MaxRelDiff {
					res.MaxRelDiff = rel
				}
			}
			if diff > atol+rtol*math.Abs(w) {
				res.Mismatched++
			}
		}
	default:
		return Result{}, fmt.Errorf("compare: unsupported dtype %s", got.DType())
	}
	return res, nil
}
