// Copyright 2025 Retina Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package ops provides object-detection operator primitives: non-maximum
// suppression, RoI align and pool, multi-scale RoI align over feature
// pyramids, and the box delta coder.
//
// Every operator exists in two forms that share the same kernels: an
// eager function or module over raw tensors, and a graph emission used
// when exporting to ONNX. Sharing the kernels keeps the two execution
// paths in agreement on ordering and tie-breaking, which is what the
// export validation harness relies on.
package ops
