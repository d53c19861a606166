// Package anchors owns Layer 1 of the field engine: the immutable anchor
// point sets ("tensoRF anchors") grouped into resolution levels.
//
// Responsibilities: level validation, influence boxes, and point-cloud
// providers that hand anchor positions to the engine at construction.
// Key types: Anchor, Level, Provider.
//
// Dependency rule: anchors may depend on geom only.
package anchors
