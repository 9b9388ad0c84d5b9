package detection

import "github.com/retina-ml/retina/internal/tensor"

// ImageList pairs a padded image batch with the per-image sizes before
// padding. Coordinates produced by the detector refer to these sizes, not
// to the padded tensor extent.
type ImageList struct {
	Tensors *tensor.RawTensor // [N, C, H, W], padded to a common size
	Sizes   [][2]int          // per image (height, width)
}

// NewImageList wraps a padded batch. When sizes is nil every image is
// assumed to fill the tensor.
func NewImageList(t *tensor.RawTensor, sizes [][2]int) *ImageList {
	if sizes == nil {
		s := t.Shape()
		sizes = make([][2]int, s[0])
		for i := range sizes {
			sizes[i] = [2]int{s[2], s[3]}
		}
	}
	return &ImageList{Tensors: t, Sizes: sizes}
}
