// Package operators implements the operator handlers behind the graph
// executor.
//
// The package provides a registry of handlers that map graph nodes onto
// tensor kernels. Each handler validates inputs and attributes, then
// delegates to the corresponding kernel. The set covers the arithmetic,
// shape and control operators that detection graphs use, plus the
// detection-specific NonMaxSuppression, RoiAlign and MaxRoiPool.
package operators
