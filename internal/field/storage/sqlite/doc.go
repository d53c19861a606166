// Package sqlite persists field snapshots (anchor positions, per-level
// resolutions and the bounding box) so a field can be rebuilt without
// re-reading the source point cloud. Coverage grids and alpha masks are
// derived state and are never stored.
//
// The schema is managed by golang-migrate from the embedded migrations
// directory.
//
// Dependency rule: sqlite may import engine and lower field layers. Nothing
// in the field layers imports sqlite.
package sqlite
