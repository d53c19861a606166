package monitor

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/pointfield/internal/field/engine"
	"github.com/banshee-data/pointfield/internal/field/geom"
)

// newTestField builds a 4x4x4 grid of 0.5 voxels over [-1,1]^3 with anchors
// at the origin and at (0.75, 0.75, 0.75).
func newTestField(t *testing.T) *engine.Field {
	t.Helper()
	cfg := engine.DefaultConfig(1).WithLevel(0, geom.Vec{X: 0.5, Y: 0.5, Z: 0.5}, [3]int{2, 2, 2}, 8, 8)
	box := geom.NewAABB(geom.Vec{X: -1, Y: -1, Z: -1}, geom.Vec{X: 1, Y: 1, Z: 1})
	f, err := engine.NewField(context.Background(), [][]geom.Vec{{{}, {X: 0.75, Y: 0.75, Z: 0.75}}}, box, cfg)
	require.NoError(t, err)
	return f
}

func TestCoverageSlice(t *testing.T) {
	f := newTestField(t)
	g := f.Index().Grids[0]

	s, err := NewCoverageSlice(g, 2, 2)
	require.NoError(t, err)

	c, r := s.Dims()
	assert.Equal(t, 4, c)
	assert.Equal(t, 4, r)
	assert.Equal(t, 0.0, s.Z(0, 0))
	assert.Equal(t, 1.0, s.Z(1, 1))
	assert.Equal(t, 2.0, s.Z(2, 2))
	assert.Equal(t, 1.0, s.Z(3, 3))
	assert.InDelta(t, -0.75, s.X(0), 1e-12)
	assert.InDelta(t, 0.75, s.Y(3), 1e-12)
}

func TestCoverageSlice_AxisMapping(t *testing.T) {
	f := newTestField(t)
	g := f.Index().Grids[0]

	tests := []struct {
		axis       int
		cols, rows int
	}{
		{0, 1, 2},
		{1, 0, 2},
		{2, 0, 1},
	}
	for _, tt := range tests {
		s, err := NewCoverageSlice(g, tt.axis, 0)
		require.NoError(t, err)
		if s.cols != tt.cols || s.rows != tt.rows {
			t.Errorf("axis %d: cols/rows = %d/%d, want %d/%d", tt.axis, s.cols, s.rows, tt.cols, tt.rows)
		}
	}
}

func TestCoverageSlice_Errors(t *testing.T) {
	f := newTestField(t)
	g := f.Index().Grids[0]

	for _, tc := range []struct {
		name        string
		axis, slice int
	}{
		{"negative axis", -1, 0},
		{"axis too large", 3, 0},
		{"slice too large", 0, 4},
		{"negative slice", 1, -1},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewCoverageSlice(g, tc.axis, tc.slice)
			assert.True(t, errors.Is(err, engine.ErrConfiguration))
		})
	}
	_, err := NewCoverageSlice(nil, 0, 0)
	assert.True(t, errors.Is(err, engine.ErrConfiguration))
}

func TestPlotCoverageSlice(t *testing.T) {
	f := newTestField(t)
	path := filepath.Join(t.TempDir(), "slice.png")

	require.NoError(t, PlotCoverageSlice(f.Index(), 0, 2, 2, path))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))

	err = PlotCoverageSlice(f.Index(), 1, 2, 2, path)
	assert.True(t, errors.Is(err, engine.ErrConfiguration))
}

func TestPlotCoverageSlice_EmptySlice(t *testing.T) {
	f := newTestField(t)
	path := filepath.Join(t.TempDir(), "empty.png")

	// Slice 0 along X holds no candidates at all.
	require.NoError(t, PlotCoverageSlice(f.Index(), 0, 0, 0, path))
	_, err := os.Stat(path)
	require.NoError(t, err)
}

func TestPlotAllSlices(t *testing.T) {
	f := newTestField(t)
	dir := t.TempDir()

	paths, err := PlotAllSlices(f.Index(), 0, 1, dir)
	require.NoError(t, err)
	assert.Len(t, paths, 4)
	for _, p := range paths {
		_, err := os.Stat(p)
		assert.NoError(t, err)
	}
}

func TestRenderOccupancyReport(t *testing.T) {
	f := newTestField(t)

	var buf bytes.Buffer
	require.NoError(t, RenderOccupancyReport(&buf, f.Stats()))
	out := buf.String()
	assert.True(t, strings.Contains(out, "Occupied voxels"), "missing occupancy chart title")
	assert.True(t, strings.Contains(out, "Candidates per voxel"), "missing candidates chart title")
	assert.True(t, strings.Contains(out, "L0"), "missing level label")
}
