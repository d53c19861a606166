package coverage

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync/atomic"

	"github.com/banshee-data/pointfield/internal/field/anchors"
	"github.com/banshee-data/pointfield/internal/field/geom"
	"github.com/banshee-data/pointfield/internal/field/parallel"
)

// Empty marks a voxel with no candidate row.
const Empty int32 = -1

// Shape selects the influence-region test used when assigning anchors to
// voxels.
type Shape int

const (
	// ShapeCube assigns a voxel when its center lies within LocalRange of
	// the anchor on every axis.
	ShapeCube Shape = iota
	// ShapeSphere is a named radius-test variant that is not implemented.
	// Requesting it fails with geom.ErrConfiguration.
	ShapeSphere
)

func (s Shape) String() string {
	switch s {
	case ShapeCube:
		return "cube"
	case ShapeSphere:
		return "sphere"
	default:
		return fmt.Sprintf("Shape(%d)", int(s))
	}
}

// ParseShape maps a config string to a Shape.
func ParseShape(s string) (Shape, error) {
	switch strings.ToLower(s) {
	case "", "cube":
		return ShapeCube, nil
	case "sphere":
		return ShapeSphere, nil
	default:
		return 0, fmt.Errorf("%w: unknown shape %q", geom.ErrConfiguration, s)
	}
}

// Grid is the coverage structure of one level. Voxel v has a candidate row
// when CellIndex[v] >= 0; the row holds CellCount[v] anchor ids in build
// order followed by Empty padding up to MaxCandidates.
type Grid struct {
	Level         int
	Geometry      geom.GridGeometry
	MaxCandidates int

	CellIndex []int32
	CellCount []int32
	Table     []int32

	// Dropped counts anchor-voxel pairs discarded by the MaxCandidates cap.
	Dropped int64
}

// anchorSpan is the inclusive voxel range an anchor covers on each axis.
type anchorSpan struct {
	lo, hi [3]int
	ok     bool
}

// Build assigns every anchor of level to the voxels of g it covers.
//
// Each voxel keeps at most maxCandidates anchors. When more anchors cover a
// voxel, the ones later in build (index) order are dropped; there is no
// distance or quality tie-break. The build is parallel over x-slabs, each
// slab visiting anchors in index order, so the result is deterministic.
func Build(ctx context.Context, level anchors.Level, g geom.GridGeometry, maxCandidates int, shape Shape, workers int) (*Grid, error) {
	switch shape {
	case ShapeCube:
	case ShapeSphere:
		return nil, fmt.Errorf("%w: shape %q is not implemented", geom.ErrConfiguration, shape)
	default:
		return nil, fmt.Errorf("%w: unknown shape %v", geom.ErrConfiguration, shape)
	}
	if level.Len() == 0 {
		return nil, fmt.Errorf("%w: level %d has no anchors", geom.ErrConfiguration, level.ID)
	}
	if maxCandidates < 1 {
		return nil, fmt.Errorf("%w: level %d max candidates %d must be >= 1", geom.ErrConfiguration, level.ID, maxCandidates)
	}

	spans := make([]anchorSpan, level.Len())
	err := parallel.Map(ctx, len(spans), workers, func(_ context.Context, lo, hi int) error {
		for i := lo; i < hi; i++ {
			spans[i] = cubeSpan(level.Positions[i], level.LocalRange, g)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	nv := g.NumVoxels()
	m := int32(maxCandidates)
	grid := &Grid{
		Level:         level.ID,
		Geometry:      g,
		MaxCandidates: maxCandidates,
		CellIndex:     make([]int32, nv),
		CellCount:     make([]int32, nv),
	}
	slabs := parallel.Ranges(g.GridSize[0], parallel.Workers(workers))

	// Pass 1: capped per-voxel counts.
	var dropped int64
	err = forEachSlab(ctx, slabs, func(x0, x1 int) {
		var local int64
		visitSlab(spans, g, x0, x1, func(_ int, v int) {
			if grid.CellCount[v] < m {
				grid.CellCount[v]++
			} else {
				local++
			}
		})
		atomic.AddInt64(&dropped, local)
	})
	if err != nil {
		return nil, err
	}
	grid.Dropped = dropped

	// Compaction in voxel order.
	rows := int32(0)
	for v, c := range grid.CellCount {
		if c > 0 {
			grid.CellIndex[v] = rows
			rows++
		} else {
			grid.CellIndex[v] = Empty
		}
		grid.CellCount[v] = 0
	}
	grid.Table = make([]int32, int(rows)*maxCandidates)
	for i := range grid.Table {
		grid.Table[i] = Empty
	}

	// Pass 2: fill rows in anchor order.
	err = forEachSlab(ctx, slabs, func(x0, x1 int) {
		visitSlab(spans, g, x0, x1, func(anchor int, v int) {
			c := grid.CellCount[v]
			if c >= m {
				return
			}
			grid.Table[int(grid.CellIndex[v])*maxCandidates+int(c)] = int32(anchor)
			grid.CellCount[v] = c + 1
		})
	})
	if err != nil {
		return nil, err
	}

	diagf("level %d: grid=%v anchors=%d occupied=%d cap=%d dropped=%d",
		level.ID, g.GridSize, level.Len(), rows, maxCandidates, dropped)
	if dropped > 0 {
		tracef("level %d: %d anchor-voxel pairs exceeded the %d-candidate cap", level.ID, dropped, maxCandidates)
	}
	return grid, nil
}

func forEachSlab(ctx context.Context, slabs [][2]int, fn func(x0, x1 int)) error {
	return parallel.Map(ctx, len(slabs), len(slabs), func(_ context.Context, lo, hi int) error {
		for s := lo; s < hi; s++ {
			fn(slabs[s][0], slabs[s][1])
		}
		return nil
	})
}

// visitSlab calls fn(anchor, voxel) for every covered voxel whose x index
// is in [x0, x1), anchors in index order.
func visitSlab(spans []anchorSpan, g geom.GridGeometry, x0, x1 int, fn func(anchor, voxel int)) {
	for a, sp := range spans {
		if !sp.ok || sp.hi[0] < x0 || sp.lo[0] >= x1 {
			continue
		}
		xl, xh := max(sp.lo[0], x0), min(sp.hi[0], x1-1)
		for x := xl; x <= xh; x++ {
			for y := sp.lo[1]; y <= sp.hi[1]; y++ {
				for z := sp.lo[2]; z <= sp.hi[2]; z++ {
					fn(a, g.Linear([3]int{x, y, z}))
				}
			}
		}
	}
}

// cubeSpan returns the voxel index range whose centers lie within r of a
// on each axis.
func cubeSpan(a, r geom.Vec, g geom.GridGeometry) anchorSpan {
	var sp anchorSpan
	pa, pr := geom.Array(a), geom.Array(r)
	mn, u := geom.Array(g.AABB.Min), geom.Array(g.Units)
	for i := 0; i < 3; i++ {
		lo, hi, ok := axisSpan(pa[i], pr[i], mn[i], u[i], g.GridSize[i])
		if !ok {
			return sp
		}
		sp.lo[i], sp.hi[i] = lo, hi
	}
	sp.ok = true
	return sp
}

func axisSpan(a, r, mn, u float64, n int) (lo, hi int, ok bool) {
	lof := math.Ceil((a-r-mn)/u-0.5) - 1
	hif := math.Floor((a+r-mn)/u-0.5) + 1
	if math.IsNaN(lof) || math.IsNaN(hif) || hif < 0 || lof > float64(n-1) {
		return 0, 0, false
	}
	lo = int(math.Max(lof, 0))
	hi = int(math.Min(hif, float64(n-1)))

	inside := func(i int) bool { return math.Abs(mn+(float64(i)+0.5)*u-a) <= r }
	for lo <= hi && !inside(lo) {
		lo++
	}
	for hi >= lo && !inside(hi) {
		hi--
	}
	return lo, hi, lo <= hi
}

// Candidates returns the candidate anchor ids of voxel v in table order, or
// nil for an uncovered voxel. The slice aliases the table; do not modify.
func (g *Grid) Candidates(v int) []int32 {
	if v < 0 || v >= len(g.CellIndex) {
		return nil
	}
	row := g.CellIndex[v]
	if row == Empty {
		return nil
	}
	off := int(row) * g.MaxCandidates
	return g.Table[off : off+int(g.CellCount[v])]
}

// Covered reports whether voxel v has at least one candidate.
func (g *Grid) Covered(v int) bool {
	return v >= 0 && v < len(g.CellIndex) && g.CellIndex[v] != Empty
}

// Occupied returns the number of voxels with a candidate row.
func (g *Grid) Occupied() int {
	return len(g.Table) / g.MaxCandidates
}
