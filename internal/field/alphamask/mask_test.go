package alphamask

import (
	"context"
	"errors"
	"testing"

	"github.com/banshee-data/pointfield/internal/field/geom"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unitBox() geom.AABB {
	return geom.NewAABB(geom.Vec{}, geom.Vec{X: 4, Y: 4, Z: 4})
}

// pointDensity is dense only at the sample nearest (2,2,2).
func pointDensity(p geom.Vec) float64 {
	if p.X == 2 && p.Y == 2 && p.Z == 2 {
		return 100
	}
	return 0
}

func TestRebuild_MaxPoolDilatesByOneSample(t *testing.T) {
	t.Parallel()
	size := [3]int{5, 5, 5} // samples at 0,1,2,3,4
	m, tight, ok, err := Rebuild(context.Background(), unitBox(), size, pointDensity, 1, 0.5, nil, 3)
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, geom.Vec{X: 1, Y: 1, Z: 1}, tight.Min)
	assert.Equal(t, geom.Vec{X: 3, Y: 3, Z: 3}, tight.Max)
	assert.InDelta(t, 27.0/125.0, m.Occupancy(), 1e-12)
	for _, a := range m.Alpha {
		assert.True(t, a == 0 || a == 1, "alpha %v not binary", a)
	}
}

func TestRebuild_GateSuppressesDensity(t *testing.T) {
	t.Parallel()
	m, tight, ok, err := Rebuild(context.Background(), unitBox(), [3]int{5, 5, 5}, pointDensity, 1, 0.5,
		func(geom.Vec) bool { return false }, 1)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, unitBox(), tight)
	assert.Zero(t, m.Occupancy())
}

func TestRebuild_Errors(t *testing.T) {
	t.Parallel()
	_, _, _, err := Rebuild(context.Background(), unitBox(), [3]int{2, 2, 2}, nil, 1, 0.5, nil, 1)
	assert.True(t, errors.Is(err, geom.ErrConfiguration))
	_, _, _, err = Rebuild(context.Background(), unitBox(), [3]int{0, 2, 2}, pointDensity, 1, 0.5, nil, 1)
	assert.True(t, errors.Is(err, geom.ErrConfiguration))
}

func TestSample_Trilinear(t *testing.T) {
	t.Parallel()
	box := geom.NewAABB(geom.Vec{}, geom.Vec{X: 1, Y: 1, Z: 1})
	alpha := make([]float64, 8)
	// Only the (1,1,1) corner is set.
	alpha[7] = 1
	m, err := New(box, [3]int{2, 2, 2}, alpha, 0.5)
	require.NoError(t, err)

	assert.InDelta(t, 0.125, m.Value(geom.Vec{X: 0.5, Y: 0.5, Z: 0.5}), 1e-12)
	assert.InDelta(t, 1, m.Value(geom.Vec{X: 1, Y: 1, Z: 1}), 1e-12)
	assert.Zero(t, m.Value(geom.Vec{}))

	got := m.SampleBatch([]geom.Vec{
		{X: 0.5, Y: 0.5, Z: 0.5},
		{},
		{X: 2, Y: 2, Z: 2},
	})
	assert.Equal(t, []bool{true, false, false}, got)
}

func TestNew_Errors(t *testing.T) {
	t.Parallel()
	_, err := New(unitBox(), [3]int{2, 2, 2}, make([]float64, 7), 0.1)
	assert.ErrorIs(t, err, geom.ErrInvariantViolation)
	_, err = New(geom.NewAABB(geom.Vec{X: 1}, geom.Vec{}), [3]int{1, 1, 1}, make([]float64, 1), 0.1)
	assert.ErrorIs(t, err, geom.ErrInvariantViolation)
}
