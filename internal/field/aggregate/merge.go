package aggregate

import (
	"fmt"
	"strings"

	"github.com/banshee-data/pointfield/internal/field/geom"
)

// MergeMode selects how per-level results are combined.
type MergeMode int

const (
	// MergeConcat lays levels side by side as a per-tier feature bank.
	// Tiers without a contribution keep their zero rows.
	MergeConcat MergeMode = iota
	// MergeMean averages only the tiers that contributed, dividing by
	// max(count, 1).
	MergeMean
)

func (m MergeMode) String() string {
	switch m {
	case MergeConcat:
		return "concat"
	case MergeMean:
		return "mean"
	default:
		return fmt.Sprintf("MergeMode(%d)", int(m))
	}
}

// ParseMergeMode maps a config string to a MergeMode.
func ParseMergeMode(s string) (MergeMode, error) {
	switch strings.ToLower(s) {
	case "", "concat":
		return MergeConcat, nil
	case "mean":
		return MergeMean, nil
	default:
		return 0, fmt.Errorf("%w: unknown level merge %q", geom.ErrConfiguration, s)
	}
}

// MergeLevels combines per-level Reduce outputs for the same n samples.
// perLevel[l][i] is level l's row for sample i and perLevelHas[l][i]
// whether it had any contribution. The merged has[i] is true when any level
// contributed.
func MergeLevels(perLevel [][][]float64, perLevelHas [][]bool, mode MergeMode) ([][]float64, []bool, error) {
	if len(perLevel) == 0 || len(perLevel) != len(perLevelHas) {
		return nil, nil, fmt.Errorf("%w: %d level results, %d coverage masks", geom.ErrInvariantViolation, len(perLevel), len(perLevelHas))
	}
	n := len(perLevel[0])
	for l := range perLevel {
		if len(perLevel[l]) != n || len(perLevelHas[l]) != n {
			return nil, nil, fmt.Errorf("%w: level %d has %d rows, want %d", geom.ErrInvariantViolation, l, len(perLevel[l]), n)
		}
	}

	has := make([]bool, n)
	out := make([][]float64, n)
	switch mode {
	case MergeConcat:
		for i := 0; i < n; i++ {
			var row []float64
			for l := range perLevel {
				row = append(row, perLevel[l][i]...)
				has[i] = has[i] || perLevelHas[l][i]
			}
			out[i] = row
		}
	case MergeMean:
		for i := 0; i < n; i++ {
			dim := len(perLevel[0][i])
			row := make([]float64, dim)
			count := 0
			for l := range perLevel {
				if len(perLevel[l][i]) != dim {
					return nil, nil, fmt.Errorf("%w: mean merge needs equal widths, level %d has %d want %d",
						geom.ErrConfiguration, l, len(perLevel[l][i]), dim)
				}
				if !perLevelHas[l][i] {
					continue
				}
				for j, v := range perLevel[l][i] {
					row[j] += v
				}
				count++
			}
			den := float64(max(count, 1))
			for j := range row {
				row[j] /= den
			}
			out[i] = row
			has[i] = count > 0
		}
	default:
		return nil, nil, fmt.Errorf("%w: unknown level merge %v", geom.ErrConfiguration, mode)
	}
	return out, has, nil
}
