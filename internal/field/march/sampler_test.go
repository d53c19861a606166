package march

import (
	"context"
	"testing"

	"github.com/banshee-data/pointfield/internal/field/geom"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// originSampler covers the voxels whose centers lie within 1 of the origin
// in a [-2,2]^3 box with 0.5 voxels and step.
func originSampler(t *testing.T) *Sampler {
	t.Helper()
	box := geom.NewAABB(geom.Vec{X: -2, Y: -2, Z: -2}, geom.Vec{X: 2, Y: 2, Z: 2})
	g, err := geom.NewGridGeometry(box, geom.Vec{X: 0.5, Y: 0.5, Z: 0.5}, 1)
	require.NoError(t, err)

	filter := make([]bool, g.NumVoxels())
	for v := range filter {
		c := g.VoxelCenter(g.Voxel(v))
		filter[v] = abs(c.X) <= 1 && abs(c.Y) <= 1 && abs(c.Z) <= 1
	}
	return &Sampler{Geometry: g, Filter: filter}
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

func collect(s *Sampler, id int, r geom.Ray) []Sample {
	var out []Sample
	for smp := range s.Sample(id, r) {
		out = append(out, smp)
	}
	return out
}

func TestSample_AxisRayThroughSingleAnchor(t *testing.T) {
	t.Parallel()
	s := originSampler(t)
	ray := geom.Ray{Origin: geom.Vec{X: -2}, Direction: geom.Vec{X: 1}}

	got := collect(s, 3, ray)
	require.NotEmpty(t, got)
	assert.LessOrEqual(t, len(got), 5)
	for i, smp := range got {
		assert.GreaterOrEqual(t, smp.Point.X, -1.0)
		assert.LessOrEqual(t, smp.Point.X, 1.0)
		assert.Equal(t, 3, smp.RayID)
		if i > 0 {
			assert.Greater(t, smp.T, got[i-1].T)
			assert.Greater(t, smp.Step, got[i-1].Step)
		}
	}
}

func TestSample_Restartable(t *testing.T) {
	t.Parallel()
	s := originSampler(t)
	seq := s.Sample(0, geom.Ray{Origin: geom.Vec{X: -3, Y: 0.1}, Direction: geom.Vec{X: 2}})

	var a, b []Sample
	for smp := range seq {
		a = append(a, smp)
	}
	for smp := range seq {
		b = append(b, smp)
	}
	assert.Equal(t, a, b)

	// Early break stops the march.
	n := 0
	for range seq {
		n++
		break
	}
	assert.Equal(t, 1, n)
}

func TestSample_EmptyIntervals(t *testing.T) {
	t.Parallel()
	s := originSampler(t)

	cases := []struct {
		name string
		s    func() *Sampler
		ray  geom.Ray
	}{
		{"misses box", func() *Sampler { return s }, geom.Ray{Origin: geom.Vec{X: -3, Y: 5}, Direction: geom.Vec{X: 1}}},
		{"zero direction", func() *Sampler { return s }, geom.Ray{Origin: geom.Vec{}, Direction: geom.Vec{}}},
		{"near beyond far", func() *Sampler {
			c := *s
			c.Near, c.Far = 3, 2
			return &c
		}, geom.Ray{Origin: geom.Vec{X: -2}, Direction: geom.Vec{X: 1}}},
		{"box behind ray", func() *Sampler { return s }, geom.Ray{Origin: geom.Vec{X: 5}, Direction: geom.Vec{X: 1}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Empty(t, collect(tc.s(), 0, tc.ray))
		})
	}
}

func TestSample_Prefilter(t *testing.T) {
	t.Parallel()
	s := originSampler(t)
	s.Influence = []geom.AABB{geom.NewAABB(geom.Vec{X: -1, Y: -1, Z: -1}, geom.Vec{X: 1, Y: 1, Z: 1})}

	assert.NotEmpty(t, collect(s, 0, geom.Ray{Origin: geom.Vec{X: -2}, Direction: geom.Vec{X: 1}}))
	// Passes through the box corner region, well clear of the influence box.
	assert.Empty(t, collect(s, 0, geom.Ray{Origin: geom.Vec{X: -2, Y: 1.8, Z: 1.8}, Direction: geom.Vec{X: 1}}))
}

func TestSampleBatch_RayMajor(t *testing.T) {
	t.Parallel()
	s := originSampler(t)
	rays := []geom.Ray{
		{Origin: geom.Vec{X: -2}, Direction: geom.Vec{X: 1}},
		{Origin: geom.Vec{X: -2, Y: 5}, Direction: geom.Vec{X: 1}},
		{Origin: geom.Vec{Y: -2}, Direction: geom.Vec{Y: 1}},
	}
	got, err := s.SampleBatch(context.Background(), rays, 2)
	require.NoError(t, err)

	want := append(collect(s, 0, rays[0]), collect(s, 2, rays[2])...)
	assert.Equal(t, want, got)

	lo, hi, ok := s.Intervals(rays)
	assert.Equal(t, []bool{true, false, true}, ok)
	assert.InDelta(t, 0, lo[0], 1e-12)
	assert.InDelta(t, 4, hi[0], 1e-12)
}
