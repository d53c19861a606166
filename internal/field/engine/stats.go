package engine

import (
	"github.com/banshee-data/pointfield/internal/field/coverage"
	"github.com/banshee-data/pointfield/internal/field/geom"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// LevelStats summarises one level's coverage grid.
type LevelStats struct {
	Level          int
	Anchors        int
	LocalDims      [3]int
	Occupied       int
	MeanCandidates float64
	MaxCandidates  int
	Saturated      int // voxels at the candidate cap
	Dropped        int64
}

// Stats summarises the live field.
type Stats struct {
	AABB          geom.AABB
	GridSize      [3]int
	Units         geom.Vec
	StepSize      float64
	Voxels        int
	Covered       int
	Levels        []LevelStats
	MaskOccupancy float64 // 0 without an alpha mask
	HasMask       bool
}

// Stats computes coverage statistics of the live index.
func (f *Field) Stats() Stats {
	f.mu.RLock()
	defer f.mu.RUnlock()

	idx := f.idx
	s := Stats{
		AABB:     idx.Geometry.AABB,
		GridSize: idx.Geometry.GridSize,
		Units:    idx.Geometry.Units,
		StepSize: idx.Geometry.StepSize,
		Voxels:   idx.Geometry.NumVoxels(),
		Covered:  coverage.CountTrue(idx.Filter),
	}
	for l, g := range idx.Grids {
		s.Levels = append(s.Levels, levelStats(l, idx, g))
	}
	if f.mask != nil {
		s.HasMask = true
		s.MaskOccupancy = f.mask.Occupancy()
	}
	return s
}

func levelStats(l int, idx *Index, g *coverage.Grid) LevelStats {
	ls := LevelStats{
		Level:         l,
		Anchors:       idx.Levels[l].Len(),
		LocalDims:     idx.Levels[l].LocalDims,
		Occupied:      g.Occupied(),
		MaxCandidates: g.MaxCandidates,
		Dropped:       g.Dropped,
	}
	counts := make([]float64, 0, ls.Occupied)
	for _, c := range g.CellCount {
		if c > 0 {
			counts = append(counts, float64(c))
			if int(c) == g.MaxCandidates {
				ls.Saturated++
			}
		}
	}
	if len(counts) > 0 {
		ls.MeanCandidates = stat.Mean(counts, nil)
		if floats.Max(counts) > float64(g.MaxCandidates) {
			opsf("level %d: candidate count exceeds cap %d", l, g.MaxCandidates)
		}
	}
	return ls
}
