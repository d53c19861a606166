package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/banshee-data/pointfield/internal/field/anchors"
	"github.com/banshee-data/pointfield/internal/field/coverage"
	"github.com/banshee-data/pointfield/internal/field/geom"
	"github.com/banshee-data/pointfield/internal/field/march"
	"github.com/banshee-data/pointfield/internal/field/query"
)

// Index owns every structure derived from the anchor levels and the AABB:
// the grid geometry, one coverage grid and query index per level, and the
// coverage filter. It is immutable; shrink and upsample build a new Index
// and swap it in whole.
type Index struct {
	Levels   []anchors.Level
	Geometry geom.GridGeometry
	Grids    []*coverage.Grid
	Queries  []*query.LevelIndex
	// Filter is the coverage filter under Config.CoveragePolicy. It gates
	// both ray marching and alpha-mask point masking.
	Filter []bool
	Config *Config

	influence []geom.AABB
}

// BuildIndex creates levels from raw anchor positions and builds the index
// over box. len(positions) must match cfg.Levels().
func BuildIndex(ctx context.Context, positions [][]geom.Vec, box geom.AABB, cfg *Config) (*Index, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(positions) != cfg.Levels() {
		return nil, fmt.Errorf("%w: %d anchor levels, config describes %d", geom.ErrConfiguration, len(positions), cfg.Levels())
	}
	levels := make([]anchors.Level, len(positions))
	for l, pts := range positions {
		lvl, err := anchors.NewLevel(l, pts, cfg.LocalRange[l], cfg.LocalDims[l])
		if err != nil {
			return nil, err
		}
		levels[l] = lvl
	}
	return buildIndex(ctx, levels, box, cfg)
}

// buildIndex derives geometry from the unit level and rebuilds every grid.
// Nothing is returned unless every level built.
func buildIndex(ctx context.Context, levels []anchors.Level, box geom.AABB, cfg *Config) (*Index, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()

	g, err := geom.NewGridGeometry(box, levels[cfg.UnitLevel].Units(), cfg.StepRatio)
	if err != nil {
		return nil, err
	}

	ix := &Index{
		Levels:   levels,
		Geometry: g,
		Grids:    make([]*coverage.Grid, len(levels)),
		Queries:  make([]*query.LevelIndex, len(levels)),
		Config:   cfg.Clone(),
	}
	for l, lvl := range levels {
		grid, err := coverage.Build(ctx, lvl, g, cfg.MaxCandidates[l], cfg.Shape, cfg.Workers)
		if err != nil {
			return nil, fmt.Errorf("build level %d: %w", l, err)
		}
		qi, err := query.NewLevelIndex(lvl, grid, cfg.KPerQuery[l], cfg.KNN)
		if err != nil {
			return nil, err
		}
		ix.Grids[l], ix.Queries[l] = grid, qi
	}
	if ix.Filter, err = coverage.Filter(ix.Grids, cfg.CoveragePolicy); err != nil {
		return nil, err
	}
	if cfg.RayPrefilter {
		for _, lvl := range levels {
			for i := range lvl.Positions {
				ix.influence = append(ix.influence, lvl.InfluenceBox(i))
			}
		}
	}

	observeStage(stageBuild, start)
	diagf("index built: box=%s units=%v grid=%v step=%.4g levels=%d covered=%d/%d (%s)",
		box, g.Units, g.GridSize, g.StepSize, len(levels), coverage.CountTrue(ix.Filter), g.NumVoxels(), time.Since(start))
	return ix, nil
}

// Sampler returns the ray sampler for this index.
func (ix *Index) Sampler() *march.Sampler {
	return &march.Sampler{
		Geometry:  ix.Geometry,
		Filter:    ix.Filter,
		Near:      ix.Config.Near,
		Far:       ix.Config.Far,
		Influence: ix.influence,
	}
}

// Covered reports whether p lies in a voxel the coverage filter keeps.
func (ix *Index) Covered(p geom.Vec) bool {
	v := ix.Geometry.LinearOf(p)
	return v >= 0 && ix.Filter[v]
}

// AnchorPositions returns the positions of every level.
func (ix *Index) AnchorPositions() [][]geom.Vec {
	out := make([][]geom.Vec, len(ix.Levels))
	for l, lvl := range ix.Levels {
		out[l] = lvl.Positions
	}
	return out
}
