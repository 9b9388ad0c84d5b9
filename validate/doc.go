// Copyright 2025 Retina Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package validate checks exported models against their eager reference.
// A module is exported to ONNX bytes, executed on one or more engines,
// and the outputs are compared element-wise against the module's own
// Forward under relative and absolute tolerances. A small fraction of
// mismatched elements can be tolerated for operators whose ordering is
// sensitive to floating point ties.
package validate
