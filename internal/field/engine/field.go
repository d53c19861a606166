package engine

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/banshee-data/pointfield/internal/field/aggregate"
	"github.com/banshee-data/pointfield/internal/field/alphamask"
	"github.com/banshee-data/pointfield/internal/field/anchors"
	"github.com/banshee-data/pointfield/internal/field/coverage"
	"github.com/banshee-data/pointfield/internal/field/geom"
	"github.com/banshee-data/pointfield/internal/field/march"
	"github.com/banshee-data/pointfield/internal/field/parallel"
	"github.com/banshee-data/pointfield/internal/field/query"
)

// FeatureFunc returns the per-anchor value of one neighbor, typically by
// interpolating the anchor's local sub-grid with query.Interpolate. It must
// be safe for concurrent use.
type FeatureFunc func(n query.Neighbor) []float64

// Field is the bounding-box manager: it owns the live Index and AlphaMask
// and serialises structural changes against queries. Query methods hold a
// read lock for their whole duration; Shrink, UpsampleLocalDims and
// RebuildAlphaMask hold the write lock, so in-flight queries drain before
// the swap.
type Field struct {
	mu   sync.RWMutex
	idx  *Index
	mask *alphamask.Mask
}

// NewField builds the initial index.
func NewField(ctx context.Context, positions [][]geom.Vec, box geom.AABB, cfg *Config) (*Field, error) {
	idx, err := BuildIndex(ctx, positions, box, cfg)
	if err != nil {
		return nil, err
	}
	coveredVoxels.Set(float64(coverage.CountTrue(idx.Filter)))
	return &Field{idx: idx}, nil
}

// Index returns the live index. The value is immutable; a later shrink
// replaces it rather than changing it.
func (f *Field) Index() *Index {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.idx
}

// AlphaMask returns the live alpha mask, or nil if none is built.
func (f *Field) AlphaMask() *alphamask.Mask {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.mask
}

// AABB returns the live bounding box.
func (f *Field) AABB() geom.AABB {
	return f.Index().Geometry.AABB
}

// SampleRays marches every ray through the coverage filter and, when an
// alpha mask exists, drops samples the mask rejects.
func (f *Field) SampleRays(ctx context.Context, rays []geom.Ray) ([]march.Sample, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return sampleRays(ctx, f.idx, f.mask, rays)
}

func sampleRays(ctx context.Context, idx *Index, mask *alphamask.Mask, rays []geom.Ray) ([]march.Sample, error) {
	start := time.Now()
	samples, err := idx.Sampler().SampleBatch(ctx, rays, idx.Config.Workers)
	if err != nil {
		return nil, err
	}
	if mask != nil {
		kept := samples[:0]
		for _, s := range samples {
			if mask.Sample(s.Point) {
				kept = append(kept, s)
			}
		}
		tracef("alpha mask kept %d/%d samples", len(kept), len(samples))
		samples = kept
	}
	samplesEmitted.Add(float64(len(samples)))
	observeStage(stageSample, start)
	return samples, nil
}

// QueryAnchors returns, per level, the anchors retained for every point
// with AggID set to the point's index.
func (f *Field) QueryAnchors(ctx context.Context, points []geom.Vec) ([][]query.Assignment, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return queryAnchors(ctx, f.idx, points)
}

func queryAnchors(ctx context.Context, idx *Index, points []geom.Vec) ([][]query.Assignment, error) {
	start := time.Now()
	out, err := query.QueryBatch(ctx, idx.Queries, points, idx.Config.Workers)
	if err != nil {
		return nil, err
	}
	hit := make([]bool, len(points))
	for _, level := range out {
		for _, a := range level {
			hit[a.AggID] = true
		}
	}
	empty := 0
	for _, h := range hit {
		if !h {
			empty++
		}
	}
	emptyQueries.Add(float64(empty))
	observeStage(stageQuery, start)
	return out, nil
}

// Aggregate folds per-level assignments for n samples into one feature per
// sample: a weighted reduction per level under Config.Interpolation, then
// a level merge under Config.LevelMerge. feature supplies each neighbor's
// value of width dim.
func (f *Field) Aggregate(ctx context.Context, assigns [][]query.Assignment, n int, feature FeatureFunc, dim int) ([][]float64, []bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return aggregateFeatures(ctx, f.idx.Config, assigns, n, feature, dim, nil)
}

// aggregateFeatures runs Reduce per level and merges. keep, when non-nil,
// restricts contributions to samples with keep[id] set.
func aggregateFeatures(ctx context.Context, cfg *Config, assigns [][]query.Assignment, n int, feature FeatureFunc, dim int, keep []bool) ([][]float64, []bool, error) {
	start := time.Now()
	perLevel := make([][][]float64, len(assigns))
	perHas := make([][]bool, len(assigns))
	for l, level := range assigns {
		c := aggregate.Contributions{Dim: dim}
		for _, a := range level {
			if keep != nil && !keep[a.AggID] {
				continue
			}
			c.IDs = append(c.IDs, a.AggID)
			c.Dist = append(c.Dist, a.Dist)
			c.Values = append(c.Values, feature(a.Neighbor))
		}
		out, has, err := aggregate.Reduce(ctx, c, n, cfg.Interpolation, cfg.Workers)
		if err != nil {
			return nil, nil, fmt.Errorf("aggregate level %d: %w", l, err)
		}
		perLevel[l], perHas[l] = out, has
	}
	merged, has, err := aggregate.MergeLevels(perLevel, perHas, cfg.LevelMerge)
	if err != nil {
		return nil, nil, err
	}
	observeStage(stageAggregate, start)
	return merged, has, nil
}

// DenseAlpha evaluates alpha over a corner-aligned size grid spanning the
// live AABB. Samples outside the coverage filter are 0.
func (f *Field) DenseAlpha(ctx context.Context, density alphamask.DensityFunc, size [3]int) ([]float64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	idx := f.idx
	return alphamask.Dense(ctx, idx.Geometry.AABB, size, density, idx.Geometry.StepSize*idx.Config.DistanceScale, idx.Covered, idx.Config.Workers)
}

// RebuildAlphaMask replaces the alpha mask with one evaluated from density
// at the live grid resolution, and returns it with the tight box of the
// retained samples. ok is false when nothing was retained.
func (f *Field) RebuildAlphaMask(ctx context.Context, density alphamask.DensityFunc) (mask *alphamask.Mask, tight geom.AABB, ok bool, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	start := time.Now()

	idx := f.idx
	mask, tight, ok, err = alphamask.Rebuild(ctx, idx.Geometry.AABB, idx.Geometry.GridSize, density,
		idx.Geometry.StepSize*idx.Config.DistanceScale, idx.Config.AlphaMaskThreshold, idx.Covered, idx.Config.Workers)
	if err != nil {
		return nil, idx.Geometry.AABB, false, err
	}
	f.mask = mask
	observeStage(stageAlpha, start)
	return mask, tight, ok, nil
}

// ShrinkBox computes the box Shrink would install for req without
// changing anything.
//
// Requested corners are rounded to voxel indices of the live grid and
// clamped to it (the min corner at index 0, the max corner one voxel past
// its rounded index and capped at the grid size), so the box never grows.
// When an alpha mask exists at a different resolution the indices are
// turned into fractions of the grid and interpolated between the live
// corners; otherwise the corners snap to voxel boundaries, the max corner
// clamped to the live box.
func ShrinkBox(g geom.GridGeometry, maskSize *[3]int, req geom.AABB) (geom.AABB, error) {
	mn, mx := geom.Array(g.AABB.Min), geom.Array(g.AABB.Max)
	u := geom.Array(g.Units)
	rmn, rmx := geom.Array(req.Min), geom.Array(req.Max)
	remap := maskSize != nil && *maskSize != g.GridSize

	var lo, hi [3]float64
	for a := 0; a < 3; a++ {
		tl := math.Max(math.Round((rmn[a]-mn[a])/u[a]), 0)
		br := math.Min(math.Round((rmx[a]-mn[a])/u[a])+1, float64(g.GridSize[a]))
		if remap {
			den := float64(g.GridSize[a] - 1)
			fl, fr := 0.0, 1.0
			if den > 0 {
				fl, fr = tl/den, (br-1)/den
			}
			lo[a] = (1-fl)*mn[a] + fl*mx[a]
			hi[a] = (1-fr)*mn[a] + fr*mx[a]
		} else {
			lo[a] = mn[a] + tl*u[a]
			hi[a] = math.Min(mn[a]+br*u[a], mx[a])
		}
	}
	box := geom.NewAABB(geom.FromArray(lo), geom.FromArray(hi))
	if !box.Valid() {
		return box, fmt.Errorf("%w: shrink to %s yields inverted box %s", geom.ErrInvariantViolation, req, box)
	}
	return box, nil
}

// Shrink replaces the AABB with req snapped to the live grid, recomputes
// units, step size and grid size, and rebuilds every coverage grid. The
// alpha mask is dropped because its samples no longer line up with the
// grid. On error the live state is unchanged.
func (f *Field) Shrink(ctx context.Context, req geom.AABB) (geom.AABB, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	start := time.Now()

	var maskSize *[3]int
	if f.mask != nil {
		maskSize = &f.mask.Size
	}
	box, err := ShrinkBox(f.idx.Geometry, maskSize, req)
	if err != nil {
		opsf("shrink rejected: %v", err)
		return f.idx.Geometry.AABB, err
	}
	idx, err := buildIndex(ctx, f.idx.Levels, box, f.idx.Config)
	if err != nil {
		return f.idx.Geometry.AABB, err
	}

	diagf("shrink: %s → %s grid %v → %v", f.idx.Geometry.AABB, box, f.idx.Geometry.GridSize, idx.Geometry.GridSize)
	f.idx, f.mask = idx, nil
	coveredVoxels.Set(float64(coverage.CountTrue(idx.Filter)))
	observeStage(stageShrink, start)
	return box, nil
}

// UpsampleLocalDims sets new local sub-grid resolutions (one per level),
// which changes the per-level units, the global grid and step size, and
// rebuilds every coverage grid. The alpha mask is kept: it lives in world
// space, and a later shrink detects the resolution mismatch.
func (f *Field) UpsampleLocalDims(ctx context.Context, dims [][3]int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(dims) != len(f.idx.Levels) {
		return fmt.Errorf("%w: %d local dims for %d levels", geom.ErrConfiguration, len(dims), len(f.idx.Levels))
	}
	levels := make([]anchors.Level, len(dims))
	for l, d := range dims {
		lvl, err := f.idx.Levels[l].WithLocalDims(d)
		if err != nil {
			return err
		}
		levels[l] = lvl
	}
	cfg := f.idx.Config.Clone()
	cfg.LocalDims = dims
	idx, err := buildIndex(ctx, levels, f.idx.Geometry.AABB, cfg)
	if err != nil {
		return err
	}

	diagf("upsample: local dims %v → %v, step %.4g → %.4g", f.idx.Config.LocalDims, dims, f.idx.Geometry.StepSize, idx.Geometry.StepSize)
	f.idx = idx
	coveredVoxels.Set(float64(coverage.CountTrue(idx.Filter)))
	return nil
}

// FilterRays reports which rays can contribute. With bboxOnly a ray passes
// when its clipped interval is non-empty; otherwise it must also emit at
// least one sample through the coverage filter and the alpha mask.
func (f *Field) FilterRays(ctx context.Context, rays []geom.Ray, bboxOnly bool) ([]bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	s := f.idx.Sampler()
	mask := f.mask
	keep := make([]bool, len(rays))
	err := parallel.Map(ctx, len(rays), f.idx.Config.Workers, func(_ context.Context, lo, hi int) error {
		for i := lo; i < hi; i++ {
			if bboxOnly {
				_, _, _, keep[i] = s.Interval(rays[i])
				continue
			}
			for smp := range s.Sample(i, rays[i]) {
				if mask == nil || mask.Sample(smp.Point) {
					keep[i] = true
					break
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	kept := 0
	for _, k := range keep {
		if k {
			kept++
		}
	}
	diagf("ray filtering kept %d/%d rays (bbox only: %v)", kept, len(rays), bboxOnly)
	return keep, nil
}
