package coverage

import (
	"fmt"
	"strings"

	"github.com/banshee-data/pointfield/internal/field/geom"
)

// Policy combines per-level occupancy into the coverage filter.
type Policy int

const (
	// PolicyAny marks a voxel covered when any level covers it.
	PolicyAny Policy = iota
	// PolicyAll marks a voxel covered only when every level covers it.
	PolicyAll
)

func (p Policy) String() string {
	switch p {
	case PolicyAny:
		return "any"
	case PolicyAll:
		return "all"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// ParsePolicy maps a config string to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(s) {
	case "", "any":
		return PolicyAny, nil
	case "all":
		return PolicyAll, nil
	default:
		return 0, fmt.Errorf("%w: unknown coverage policy %q", geom.ErrConfiguration, s)
	}
}

// Filter derives the boolean coverage grid from per-level grids. All grids
// must share the same geometry.
func Filter(grids []*Grid, policy Policy) ([]bool, error) {
	if len(grids) == 0 {
		return nil, fmt.Errorf("%w: coverage filter needs at least one level", geom.ErrConfiguration)
	}
	if policy != PolicyAny && policy != PolicyAll {
		return nil, fmt.Errorf("%w: unknown coverage policy %v", geom.ErrConfiguration, policy)
	}
	nv := len(grids[0].CellIndex)
	for _, g := range grids[1:] {
		if len(g.CellIndex) != nv {
			return nil, fmt.Errorf("%w: level %d has %d voxels, level %d has %d",
				geom.ErrInvariantViolation, grids[0].Level, nv, g.Level, len(g.CellIndex))
		}
	}

	out := make([]bool, nv)
	for v := range out {
		covered := policy == PolicyAll
		for _, g := range grids {
			c := g.CellIndex[v] != Empty
			if policy == PolicyAny && c {
				covered = true
				break
			}
			if policy == PolicyAll && !c {
				covered = false
				break
			}
		}
		out[v] = covered
	}
	return out, nil
}

// CountTrue returns how many voxels a filter marks covered.
func CountTrue(filter []bool) int {
	n := 0
	for _, b := range filter {
		if b {
			n++
		}
	}
	return n
}
