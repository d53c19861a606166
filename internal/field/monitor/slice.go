package monitor

import (
	"fmt"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/pointfield/internal/field/coverage"
	"github.com/banshee-data/pointfield/internal/field/engine"
	"github.com/banshee-data/pointfield/internal/field/geom"
)

var axisNames = [3]string{"X", "Y", "Z"}

// CoverageSlice is a plotter.GridXYZ view of one axis-aligned slice of a
// coverage grid. Z values are per-voxel candidate counts.
type CoverageSlice struct {
	grid  *coverage.Grid
	axis  int
	slice int
	cols  int // axis mapped to plot columns
	rows  int // axis mapped to plot rows
}

// NewCoverageSlice selects voxel layer slice along axis (0=X, 1=Y, 2=Z).
func NewCoverageSlice(g *coverage.Grid, axis, slice int) (*CoverageSlice, error) {
	if g == nil {
		return nil, fmt.Errorf("%w: nil coverage grid", geom.ErrConfiguration)
	}
	if axis < 0 || axis > 2 {
		return nil, fmt.Errorf("%w: axis %d out of range", geom.ErrConfiguration, axis)
	}
	if slice < 0 || slice >= g.Geometry.GridSize[axis] {
		return nil, fmt.Errorf("%w: slice %d outside [0,%d)", geom.ErrConfiguration, slice, g.Geometry.GridSize[axis])
	}
	cols, rows := 0, 1
	switch axis {
	case 0:
		cols, rows = 1, 2
	case 1:
		cols, rows = 0, 2
	}
	return &CoverageSlice{grid: g, axis: axis, slice: slice, cols: cols, rows: rows}, nil
}

func (s *CoverageSlice) voxel(c, r int) [3]int {
	var ijk [3]int
	ijk[s.axis] = s.slice
	ijk[s.cols] = c
	ijk[s.rows] = r
	return ijk
}

// Dims implements plotter.GridXYZ.
func (s *CoverageSlice) Dims() (c, r int) {
	gs := s.grid.Geometry.GridSize
	return gs[s.cols], gs[s.rows]
}

// Z implements plotter.GridXYZ.
func (s *CoverageSlice) Z(c, r int) float64 {
	return float64(s.grid.CellCount[s.grid.Geometry.Linear(s.voxel(c, r))])
}

// X implements plotter.GridXYZ.
func (s *CoverageSlice) X(c int) float64 {
	return geom.Array(s.grid.Geometry.VoxelCenter(s.voxel(c, 0)))[s.cols]
}

// Y implements plotter.GridXYZ.
func (s *CoverageSlice) Y(r int) float64 {
	return geom.Array(s.grid.Geometry.VoxelCenter(s.voxel(0, r)))[s.rows]
}

// PlotCoverageSlice writes a PNG heat map of candidate counts for one slice
// of level's coverage grid. The file type follows the path extension.
func PlotCoverageSlice(idx *engine.Index, level, axis, slice int, path string) error {
	if idx == nil || level < 0 || level >= len(idx.Grids) {
		return fmt.Errorf("%w: level %d has no coverage grid", geom.ErrConfiguration, level)
	}
	s, err := NewCoverageSlice(idx.Grids[level], axis, slice)
	if err != nil {
		return err
	}

	hm := plotter.NewHeatMap(s, palette.Heat(12, 1))
	if hm.Min == hm.Max {
		hm.Max = hm.Min + 1
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("level %d candidates, %s = %d", level, axisNames[axis], slice)
	p.X.Label.Text = axisNames[s.cols] + " (m)"
	p.Y.Label.Text = axisNames[s.rows] + " (m)"
	p.Add(hm)

	if err := p.Save(8*vg.Inch, 8*vg.Inch, path); err != nil {
		return fmt.Errorf("save %s: %w", filepath.Base(path), err)
	}
	return nil
}

// PlotAllSlices writes one heat map per slice of level along axis into dir
// and returns the written paths.
func PlotAllSlices(idx *engine.Index, level, axis int, dir string) ([]string, error) {
	if idx == nil || level < 0 || level >= len(idx.Grids) {
		return nil, fmt.Errorf("%w: level %d has no coverage grid", geom.ErrConfiguration, level)
	}
	if axis < 0 || axis > 2 {
		return nil, fmt.Errorf("%w: axis %d out of range", geom.ErrConfiguration, axis)
	}
	n := idx.Geometry.GridSize[axis]
	paths := make([]string, 0, n)
	for i := 0; i < n; i++ {
		path := filepath.Join(dir, fmt.Sprintf("level%d_%s%03d.png", level, axisNames[axis], i))
		if err := PlotCoverageSlice(idx, level, axis, i, path); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}
