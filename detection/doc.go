// Copyright 2025 Retina Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package detection implements the two-stage detector components: anchor
// generation, the region proposal network, the box heads with their
// post-processing, and the input transform. Like the operators in ops,
// each component runs eagerly over raw tensors and can trace itself into
// an ONNX graph, with the post-processing steps built from the same
// kernels on both paths.
package detection
