package geom

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Error taxonomy shared by the engine layers. Callers match with errors.Is.
var (
	// ErrConfiguration reports an unimplemented or unknown option requested at
	// build time (for example the sphere shape policy).
	ErrConfiguration = errors.New("configuration error")
	// ErrInvariantViolation reports a structural invariant that cannot hold,
	// such as an inverted bounding box.
	ErrInvariantViolation = errors.New("invariant violation")
)

// parallelEps is the direction magnitude below which a ray is treated as
// parallel to a slab.
const parallelEps = 1e-12

// Vec is a 3D point or direction.
type Vec = r3.Vec

// Axis returns component i (0=x, 1=y, 2=z) of v.
func Axis(v Vec, i int) float64 {
	switch i {
	case 0:
		return v.X
	case 1:
		return v.Y
	default:
		return v.Z
	}
}

// Array returns v as [x, y, z].
func Array(v Vec) [3]float64 { return [3]float64{v.X, v.Y, v.Z} }

// FromArray builds a Vec from [x, y, z].
func FromArray(a [3]float64) Vec { return Vec{X: a[0], Y: a[1], Z: a[2]} }

// AABB is an axis-aligned bounding box. Min and Max are inclusive.
type AABB struct {
	Min Vec
	Max Vec
}

// NewAABB creates a box from two corners.
func NewAABB(min, max Vec) AABB {
	return AABB{Min: min, Max: max}
}

// Size returns the extent along each axis.
func (b AABB) Size() Vec { return r3.Sub(b.Max, b.Min) }

// Center returns the box center.
func (b AABB) Center() Vec { return r3.Scale(0.5, r3.Add(b.Min, b.Max)) }

// Diagonal returns the length of the main diagonal.
func (b AABB) Diagonal() float64 { return r3.Norm(b.Size()) }

// Valid reports whether Max is strictly greater than Min on every axis.
func (b AABB) Valid() bool {
	return b.Max.X > b.Min.X && b.Max.Y > b.Min.Y && b.Max.Z > b.Min.Z
}

// Contains reports whether p lies inside the box (boundaries included).
func (b AABB) Contains(p Vec) bool {
	return p.X >= b.Min.X && p.X <= b.Max.X &&
		p.Y >= b.Min.Y && p.Y <= b.Max.Y &&
		p.Z >= b.Min.Z && p.Z <= b.Max.Z
}

// Extend returns the smallest box containing b and p.
func (b AABB) Extend(p Vec) AABB {
	return AABB{
		Min: Vec{X: math.Min(b.Min.X, p.X), Y: math.Min(b.Min.Y, p.Y), Z: math.Min(b.Min.Z, p.Z)},
		Max: Vec{X: math.Max(b.Max.X, p.X), Y: math.Max(b.Max.Y, p.Y), Z: math.Max(b.Max.Z, p.Z)},
	}
}

// Pad grows the box by d on every side.
func (b AABB) Pad(d float64) AABB {
	off := Vec{X: d, Y: d, Z: d}
	return AABB{Min: r3.Sub(b.Min, off), Max: r3.Add(b.Max, off)}
}

// String implements fmt.Stringer.
func (b AABB) String() string {
	return fmt.Sprintf("[(%.4g, %.4g, %.4g) .. (%.4g, %.4g, %.4g)]",
		b.Min.X, b.Min.Y, b.Min.Z, b.Max.X, b.Max.Y, b.Max.Z)
}

// IntersectRay clips the parametric line origin + t*dir against the box
// using the slab method. It returns the entry and exit parameters; ok is
// false when the line misses the box. Axes where dir is (near) zero only
// constrain the origin.
func (b AABB) IntersectRay(origin, dir Vec) (tNear, tFar float64, ok bool) {
	tNear = math.Inf(-1)
	tFar = math.Inf(1)
	for axis := 0; axis < 3; axis++ {
		lo, hi := Axis(b.Min, axis), Axis(b.Max, axis)
		o, d := Axis(origin, axis), Axis(dir, axis)

		if math.Abs(d) < parallelEps {
			if o < lo || o > hi {
				return 0, 0, false
			}
			continue
		}

		inv := 1.0 / d
		t1 := (lo - o) * inv
		t2 := (hi - o) * inv
		if t1 > t2 {
			t1, t2 = t2, t1
		}
		tNear = math.Max(tNear, t1)
		tFar = math.Min(tFar, t2)
		if tNear > tFar {
			return tNear, tFar, false
		}
	}
	return tNear, tFar, true
}

// Ray is a camera ray. Direction need not be normalised.
type Ray struct {
	Origin    Vec
	Direction Vec
}

// At returns the point at parameter t along the ray.
func (r Ray) At(t float64) Vec { return r3.Add(r.Origin, r3.Scale(t, r.Direction)) }

// Normalized returns the ray with a unit-length direction and false if the
// direction is degenerate.
func (r Ray) Normalized() (Ray, bool) {
	n := r3.Norm(r.Direction)
	if n < parallelEps || math.IsNaN(n) || math.IsInf(n, 0) {
		return r, false
	}
	return Ray{Origin: r.Origin, Direction: r3.Scale(1/n, r.Direction)}, true
}
