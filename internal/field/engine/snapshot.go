package engine

import (
	"context"
	"fmt"
	"slices"

	"github.com/banshee-data/pointfield/internal/field/geom"
)

// LevelSnapshot is the persisted state of one level.
type LevelSnapshot struct {
	Positions  []geom.Vec
	LocalRange geom.Vec
	LocalDims  [3]int
}

// Snapshot is the opaque state a surrounding application persists to
// recreate a field: anchor positions, per-level resolutions and the AABB.
// Coverage grids and the alpha mask are derived and not included.
type Snapshot struct {
	AABB   geom.AABB
	Levels []LevelSnapshot
}

// Snapshot captures the live field state.
func (f *Field) Snapshot() *Snapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()

	s := &Snapshot{AABB: f.idx.Geometry.AABB}
	for _, lvl := range f.idx.Levels {
		s.Levels = append(s.Levels, LevelSnapshot{
			Positions:  slices.Clone(lvl.Positions),
			LocalRange: lvl.LocalRange,
			LocalDims:  lvl.LocalDims,
		})
	}
	return s
}

// Restore builds a field from a snapshot. Per-level ranges and resolutions
// come from the snapshot; everything else from cfg.
func Restore(ctx context.Context, s *Snapshot, cfg *Config) (*Field, error) {
	if s == nil || len(s.Levels) == 0 {
		return nil, fmt.Errorf("%w: empty snapshot", geom.ErrConfiguration)
	}
	c := cfg.Clone()
	positions := make([][]geom.Vec, len(s.Levels))
	for l, ls := range s.Levels {
		k, m := 8, 8
		if l < len(cfg.KPerQuery) {
			k = cfg.KPerQuery[l]
		}
		if l < len(cfg.MaxCandidates) {
			m = cfg.MaxCandidates[l]
		}
		c.WithLevel(l, ls.LocalRange, ls.LocalDims, m, k)
		positions[l] = ls.Positions
	}
	c.LocalRange = c.LocalRange[:len(s.Levels)]
	c.LocalDims = c.LocalDims[:len(s.Levels)]
	c.MaxCandidates = c.MaxCandidates[:len(s.Levels)]
	c.KPerQuery = c.KPerQuery[:len(s.Levels)]
	if c.UnitLevel >= len(s.Levels) {
		c.UnitLevel = 0
	}
	return NewField(ctx, positions, s.AABB, c)
}
