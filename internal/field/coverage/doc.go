// Package coverage owns Layer 2 of the field engine: the per-level
// CoverageGrid mapping every global voxel to a short, capped list of
// candidate anchors whose influence box covers the voxel center, and the
// derived any/all coverage filter used to skip empty space.
//
// Dependency rule: coverage may depend on geom, anchors and parallel only.
package coverage
