package anchors

import (
	"fmt"

	"github.com/banshee-data/pointfield/internal/field/geom"
	"gonum.org/v1/gonum/spatial/r3"
)

// Anchor is one immutable anchor position identified by (Level, Index).
type Anchor struct {
	Level    int
	Index    int
	Position geom.Vec
}

// Level is a homogeneous anchor set sharing an influence half-extent
// (LocalRange) and a local sub-grid resolution (LocalDims).
// Positions must not be mutated after the level is handed to the engine.
type Level struct {
	ID         int
	Positions  []geom.Vec
	LocalRange geom.Vec
	LocalDims  [3]int
}

// NewLevel validates and creates a level. A level with zero anchors is
// accepted here; index builders reject it when it participates in a build.
func NewLevel(id int, positions []geom.Vec, localRange geom.Vec, localDims [3]int) (Level, error) {
	if localRange.X <= 0 || localRange.Y <= 0 || localRange.Z <= 0 {
		return Level{}, fmt.Errorf("%w: level %d local range %v must be positive", geom.ErrConfiguration, id, localRange)
	}
	for i, d := range localDims {
		if d < 1 {
			return Level{}, fmt.Errorf("%w: level %d local dims[%d]=%d must be >= 1", geom.ErrConfiguration, id, i, d)
		}
	}
	return Level{ID: id, Positions: positions, LocalRange: localRange, LocalDims: localDims}, nil
}

// Len returns the number of anchors in the level.
func (l Level) Len() int { return len(l.Positions) }

// Anchor returns the i'th anchor.
func (l Level) Anchor(i int) Anchor {
	return Anchor{Level: l.ID, Index: i, Position: l.Positions[i]}
}

// Units returns the local voxel edge 2*LocalRange/LocalDims.
func (l Level) Units() geom.Vec { return geom.LevelUnits(l.LocalRange, l.LocalDims) }

// InfluenceBox returns the cube of half-extent LocalRange around anchor i.
func (l Level) InfluenceBox(i int) geom.AABB {
	p := l.Positions[i]
	return geom.NewAABB(r3.Sub(p, l.LocalRange), r3.Add(p, l.LocalRange))
}

// WithLocalDims returns a copy of the level with a new local resolution.
// Positions are shared; they are immutable.
func (l Level) WithLocalDims(dims [3]int) (Level, error) {
	return NewLevel(l.ID, l.Positions, l.LocalRange, dims)
}

// Bounds returns the box enclosing every anchor's influence box across the
// given levels, grown by pad. ok is false if no level holds anchors.
func Bounds(levels []Level, pad float64) (box geom.AABB, ok bool) {
	for _, l := range levels {
		for i := range l.Positions {
			ib := l.InfluenceBox(i)
			if !ok {
				box, ok = ib, true
				continue
			}
			box = box.Extend(ib.Min).Extend(ib.Max)
		}
	}
	if ok && pad > 0 {
		box = box.Pad(pad)
	}
	return box, ok
}
