package geom

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

// ceilSlack absorbs floating error when the box extent is an exact multiple
// of the voxel edge (e.g. 0.3/0.1).
const ceilSlack = 1e-9

// LevelUnits returns the voxel edge implied by an anchor level:
// 2*localRange/localDims per axis.
func LevelUnits(localRange Vec, localDims [3]int) Vec {
	return Vec{
		X: 2 * localRange.X / float64(localDims[0]),
		Y: 2 * localRange.Y / float64(localDims[1]),
		Z: 2 * localRange.Z / float64(localDims[2]),
	}
}

// GridGeometry is the global voxel discretisation of an AABB. It is a value:
// any AABB or resolution change produces a new GridGeometry.
type GridGeometry struct {
	AABB     AABB
	Units    Vec    // voxel edge length per axis
	GridSize [3]int // voxel count per axis
	StepSize float64
}

// NewGridGeometry derives grid size and ray-march step from a box, a voxel
// edge and a step ratio: gridSize = ceil(size/units), stepSize =
// mean(units)*stepRatio.
func NewGridGeometry(box AABB, units Vec, stepRatio float64) (GridGeometry, error) {
	if !box.Valid() {
		return GridGeometry{}, fmt.Errorf("%w: box %s is empty or inverted", ErrInvariantViolation, box)
	}
	u := Array(units)
	for i, v := range u {
		if !(v > 0) || math.IsInf(v, 0) {
			return GridGeometry{}, fmt.Errorf("%w: unit[%d]=%g must be positive", ErrInvariantViolation, i, v)
		}
	}
	if !(stepRatio > 0) {
		return GridGeometry{}, fmt.Errorf("%w: step ratio %g must be positive", ErrInvariantViolation, stepRatio)
	}

	size := Array(box.Size())
	var gs [3]int
	for i := range gs {
		gs[i] = int(math.Ceil(size[i]/u[i] - ceilSlack))
		if gs[i] < 1 {
			gs[i] = 1
		}
	}

	return GridGeometry{
		AABB:     box,
		Units:    units,
		GridSize: gs,
		StepSize: stat.Mean(u[:], nil) * stepRatio,
	}, nil
}

// NumVoxels returns the total voxel count.
func (g GridGeometry) NumVoxels() int {
	return g.GridSize[0] * g.GridSize[1] * g.GridSize[2]
}

// NumSamples is the maximum number of steps a ray can take through the box.
func (g GridGeometry) NumSamples() int {
	return int(g.AABB.Diagonal()/g.StepSize) + 1
}

// Linear flattens a voxel coordinate (x-major).
func (g GridGeometry) Linear(ijk [3]int) int {
	return (ijk[0]*g.GridSize[1]+ijk[1])*g.GridSize[2] + ijk[2]
}

// Voxel unflattens a linear voxel index.
func (g GridGeometry) Voxel(idx int) [3]int {
	k := idx % g.GridSize[2]
	idx /= g.GridSize[2]
	j := idx % g.GridSize[1]
	return [3]int{idx / g.GridSize[1], j, k}
}

// VoxelCenter returns the world position of a voxel center.
func (g GridGeometry) VoxelCenter(ijk [3]int) Vec {
	return Vec{
		X: g.AABB.Min.X + (float64(ijk[0])+0.5)*g.Units.X,
		Y: g.AABB.Min.Y + (float64(ijk[1])+0.5)*g.Units.Y,
		Z: g.AABB.Min.Z + (float64(ijk[2])+0.5)*g.Units.Z,
	}
}

// VoxelOf returns the voxel containing p. ok is false when p lies outside
// the AABB. Points on the max face map to the last voxel.
func (g GridGeometry) VoxelOf(p Vec) (ijk [3]int, ok bool) {
	if !g.AABB.Contains(p) {
		return ijk, false
	}
	pa, mn, u := Array(p), Array(g.AABB.Min), Array(g.Units)
	for i := range ijk {
		v := int(math.Floor((pa[i] - mn[i]) / u[i]))
		if v < 0 {
			v = 0
		}
		if v >= g.GridSize[i] {
			v = g.GridSize[i] - 1
		}
		ijk[i] = v
	}
	return ijk, true
}

// LinearOf is VoxelOf followed by Linear; it returns -1 outside the box.
func (g GridGeometry) LinearOf(p Vec) int {
	ijk, ok := g.VoxelOf(p)
	if !ok {
		return -1
	}
	return g.Linear(ijk)
}
