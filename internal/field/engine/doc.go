// Package engine is the composition root of the field engine. It wires the
// layers together:
//
//	geom → anchors → coverage → query → march → aggregate → alphamask
//
// into an immutable Index (geometry, per-level coverage grids, coverage
// filter) and a Field that owns the live Index and AlphaMask, serialising
// shrink, upsample and alpha-mask rebuilds against concurrent queries.
//
// Dependency rule: engine may import every field layer. No layer imports
// engine; storage and monitor sit above it.
package engine

import "github.com/banshee-data/pointfield/internal/field/geom"

// Error sentinels re-exported for callers that only import engine.
var (
	ErrConfiguration      = geom.ErrConfiguration
	ErrInvariantViolation = geom.ErrInvariantViolation
)
