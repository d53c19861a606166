// Package geom owns Layer 0 of the field engine: vectors, axis-aligned
// boxes, rays and the global voxel grid geometry derived from them.
//
// Responsibilities: slab intersection, voxel addressing, units/step-size
// derivation, and the error taxonomy shared by every layer above.
// Key types: Vec, AABB, Ray, GridGeometry.
//
// Dependency rule: geom depends on nothing else in internal/field.
package geom
