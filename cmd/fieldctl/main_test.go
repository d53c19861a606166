package main

import (
	"context"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/pointfield/internal/field/engine"
	"github.com/banshee-data/pointfield/internal/field/geom"
	"github.com/banshee-data/pointfield/internal/monitoring"
)

func TestShellCloud(t *testing.T) {
	levels := shellCloud(100, 2)
	require.Len(t, levels, 2)
	assert.Len(t, levels[0], 100)
	assert.Len(t, levels[1], 25)
	for _, p := range levels[0] {
		assert.InDelta(t, 2, r3.Norm(p), 1e-9)
	}
}

func TestOrbitRays(t *testing.T) {
	box := geom.NewAABB(geom.Vec{X: -1, Y: -1, Z: -1}, geom.Vec{X: 1, Y: 1, Z: 1})
	rays := orbitRays(box, 8, 4)
	require.Len(t, rays, 8)
	for _, r := range rays {
		_, _, ok := box.IntersectRay(r.Origin, r.Direction)
		assert.True(t, ok, "ray from %v misses the box", r.Origin)
	}
}

func TestOrbitDistance(t *testing.T) {
	box := geom.NewAABB(geom.Vec{X: -1, Y: -1, Z: -1}, geom.Vec{X: 1, Y: 1, Z: 1})
	cfg := engine.DefaultConfig(1).WithNearFar(2, 6)
	assert.Equal(t, 4.0, orbitDistance(cfg, box))
	cfg.WithNearFar(1, 0)
	assert.InDelta(t, 1+2*math.Sqrt(3), orbitDistance(cfg, box), 1e-12)
}

func TestDemoRender(t *testing.T) {
	monitoring.SetLogger(nil)
	ctx := context.Background()

	positions := shellCloud(512, 1)
	cfg := engine.DefaultConfig(2)
	box := geom.NewAABB(geom.Vec{X: -1.7, Y: -1.7, Z: -1.7}, geom.Vec{X: 1.7, Y: 1.7, Z: 1.7})
	f, err := engine.NewField(ctx, positions, box, cfg)
	require.NoError(t, err)

	demo := newDemoField(cfg)
	res, err := f.Render(ctx, orbitRays(box, 16, orbitDistance(cfg, box)), demo, demoDecoder{gain: densityGain})
	require.NoError(t, err)
	require.Len(t, res.Opacity, 16)
	assert.Greater(t, res.Samples, 0)
	for i, o := range res.Opacity {
		if o < 0 || o > 1+1e-9 || math.IsNaN(o) {
			t.Errorf("ray %d opacity %g out of range", i, o)
		}
	}

	d := demo.density(f.Index(), densityGain)
	assert.Greater(t, d(positions[0][0]), 0.0)
	assert.Equal(t, 0.0, d(geom.Vec{}))
}

func TestMetricsMux(t *testing.T) {
	monitoring.SetLogger(nil)
	ctx := context.Background()

	cfg := engine.DefaultConfig(1)
	box := geom.NewAABB(geom.Vec{X: -1, Y: -1, Z: -1}, geom.Vec{X: 1, Y: 1, Z: 1})
	f, err := engine.NewField(ctx, [][]geom.Vec{{{}}}, box, cfg)
	require.NoError(t, err)
	_, err = f.SampleRays(ctx, []geom.Ray{{Origin: geom.Vec{X: -2}, Direction: geom.Vec{X: 1}}})
	require.NoError(t, err)

	srv := httptest.NewServer(metricsMux())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	out := string(body)
	for _, name := range []string{
		"pointfield_engine_samples_emitted_total",
		"pointfield_engine_covered_voxels",
		`pointfield_engine_stage_duration_seconds_count{stage="build"}`,
		`pointfield_engine_stage_duration_seconds_count{stage="sample"}`,
	} {
		assert.True(t, strings.Contains(out, name), "metrics output missing %s", name)
	}
}
