// Package march owns Layer 4 of the field engine: the RaySampler.
//
// A ray is clipped against the index AABB and the [near, far] interval,
// then marched at the fixed step size of the grid geometry. Only steps that
// land in a covered voxel are emitted, so empty space costs one filter
// lookup per step and nothing downstream. Sequences are exposed as
// iter.Seq values: lazy, finite and restartable.
//
// Dependency rule: march may depend on geom, anchors and parallel only.
// It consumes the coverage filter as a plain []bool so that it does not need
// the coverage package.
package march
