// Package query owns Layer 3 of the field engine: the AnchorIndex ball
// query. For a sample point it narrows the point's voxel candidates to at
// most K anchors and computes trilinear local-grid coordinates inside each
// anchor's sub-grid plus a kernel distance for cross-anchor weighting.
//
// Dependency rule: query may depend on geom, anchors, coverage and parallel.
package query

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"slices"

	"github.com/banshee-data/pointfield/internal/field/anchors"
	"github.com/banshee-data/pointfield/internal/field/coverage"
	"github.com/banshee-data/pointfield/internal/field/geom"
	"github.com/banshee-data/pointfield/internal/field/parallel"
	"gonum.org/v1/gonum/spatial/r3"
)

// Neighbor is one anchor retained for a sample point.
type Neighbor struct {
	Level  int
	Anchor int

	// Small and Large are the floor and ceil local sub-grid indices per
	// axis, clamped to [0, LocalDims-1].
	Small [3]int
	Large [3]int
	// WeightSmall = 1-frac and WeightLarge = frac per axis.
	WeightSmall [3]float64
	WeightLarge [3]float64

	// Dist is the Euclidean kernel distance between point and anchor.
	Dist float64
}

// Assignment ties a Neighbor to the aggregation id of the sample it was
// retrieved for.
type Assignment struct {
	Neighbor
	AggID int
}

// LevelIndex answers ball queries against one level's coverage grid.
type LevelIndex struct {
	Level anchors.Level
	Grid  *coverage.Grid
	K     int
	KNN   bool
}

// NewLevelIndex wraps a built coverage grid. k is the maximum number of
// anchors returned per query.
func NewLevelIndex(level anchors.Level, grid *coverage.Grid, k int, knn bool) (*LevelIndex, error) {
	if grid == nil {
		return nil, fmt.Errorf("%w: level %d has no coverage grid", geom.ErrConfiguration, level.ID)
	}
	if k < 1 {
		return nil, fmt.Errorf("%w: level %d k=%d must be >= 1", geom.ErrConfiguration, level.ID, k)
	}
	if k > grid.MaxCandidates {
		diagf("level %d: k=%d exceeds candidate cap %d; queries return at most %d", level.ID, k, grid.MaxCandidates, grid.MaxCandidates)
	}
	return &LevelIndex{Level: level, Grid: grid, K: k, KNN: knn}, nil
}

// Query returns up to K anchors for p. It returns nil when p is outside the
// AABB or its voxel is uncovered; callers treat that as no contribution.
//
// In KNN mode candidates are ordered by distance, ties broken by candidate
// table order. Otherwise the first K table entries are returned verbatim.
func (li *LevelIndex) Query(p geom.Vec) []Neighbor {
	return li.QueryInto(p, nil)
}

// QueryInto is Query appending into buf.
func (li *LevelIndex) QueryInto(p geom.Vec, buf []Neighbor) []Neighbor {
	v := li.Grid.Geometry.LinearOf(p)
	if v < 0 {
		return buf
	}
	cands := li.Grid.Candidates(v)
	if len(cands) == 0 {
		return buf
	}

	start := len(buf)
	for _, a := range cands {
		pos := li.Level.Positions[a]
		n := Neighbor{Level: li.Level.ID, Anchor: int(a), Dist: r3.Norm(r3.Sub(p, pos))}
		n.Small, n.Large, n.WeightSmall, n.WeightLarge = LocalCoord(p, pos, li.Level.LocalRange, li.Level.LocalDims)
		buf = append(buf, n)
		if !li.KNN && len(buf)-start == li.K {
			return buf
		}
	}
	if li.KNN {
		slices.SortStableFunc(buf[start:], func(a, b Neighbor) int { return cmp.Compare(a.Dist, b.Dist) })
		if len(buf)-start > li.K {
			buf = buf[:start+li.K]
		}
	}
	return buf
}

// LocalCoord maps p into the sub-grid of an anchor at a with half-extent r
// and resolution dims. The sub-grid's corner samples span [a-r, a+r], so
// the fractional index per axis is ((p-a)/r + 1)/2 * (dims-1), clamped to
// [0, dims-1].
func LocalCoord(p, a, r geom.Vec, dims [3]int) (small, large [3]int, wSmall, wLarge [3]float64) {
	pp, pa, pr := geom.Array(p), geom.Array(a), geom.Array(r)
	for i := 0; i < 3; i++ {
		hi := float64(dims[i] - 1)
		f := ((pp[i]-pa[i])/pr[i] + 1) / 2 * hi
		if math.IsNaN(f) || f < 0 {
			f = 0
		}
		if f > hi {
			f = hi
		}
		fl := math.Floor(f)
		small[i] = int(fl)
		large[i] = int(math.Ceil(f))
		frac := f - fl
		wSmall[i] = 1 - frac
		wLarge[i] = frac
	}
	return small, large, wSmall, wLarge
}

// Interpolate evaluates a trilinear blend of the eight sub-grid corners
// selected by n. lookup returns the stored value at local index (i, j, k).
func Interpolate(n Neighbor, lookup func(i, j, k int) float64) float64 {
	var sum float64
	for c := 0; c < 8; c++ {
		w := 1.0
		var idx [3]int
		for axis := 0; axis < 3; axis++ {
			if c&(1<<axis) == 0 {
				idx[axis], w = n.Small[axis], w*n.WeightSmall[axis]
			} else {
				idx[axis], w = n.Large[axis], w*n.WeightLarge[axis]
			}
		}
		if w == 0 {
			continue
		}
		sum += w * lookup(idx[0], idx[1], idx[2])
	}
	return sum
}

// QueryBatch queries every point against every level. The result holds one
// assignment slice per level, ordered by point then neighbor rank, with
// AggID set to the point index. Points are processed in parallel; the call
// returns once every level's output is complete.
func QueryBatch(ctx context.Context, levels []*LevelIndex, points []geom.Vec, workers int) ([][]Assignment, error) {
	out := make([][]Assignment, len(levels))
	for l, li := range levels {
		per := make([][]Neighbor, len(points))
		err := parallel.Map(ctx, len(points), workers, func(_ context.Context, lo, hi int) error {
			for i := lo; i < hi; i++ {
				per[i] = li.Query(points[i])
			}
			return nil
		})
		if err != nil {
			return nil, err
		}

		total, empty := 0, 0
		for _, ns := range per {
			total += len(ns)
			if len(ns) == 0 {
				empty++
			}
		}
		flat := make([]Assignment, 0, total)
		for i, ns := range per {
			for _, n := range ns {
				flat = append(flat, Assignment{Neighbor: n, AggID: i})
			}
		}
		out[l] = flat
		tracef("level %d: %d points → %d assignments (%d without coverage)", li.Level.ID, len(points), total, empty)
	}
	return out, nil
}
