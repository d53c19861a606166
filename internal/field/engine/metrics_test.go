package engine

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/pointfield/internal/field/coverage"
	"github.com/banshee-data/pointfield/internal/field/geom"
)

// Not parallel: the collectors are process-wide.
func TestMetrics_SampleAndQueryCounters(t *testing.T) {
	f := newSingleAnchorField(t)
	ctx := context.Background()

	assert.Equal(t, float64(coverage.CountTrue(f.Index().Filter)), testutil.ToFloat64(coveredVoxels))

	before := testutil.ToFloat64(samplesEmitted)
	samples, err := f.SampleRays(ctx, []geom.Ray{xRay()})
	require.NoError(t, err)
	require.NotEmpty(t, samples)
	assert.Equal(t, before+float64(len(samples)), testutil.ToFloat64(samplesEmitted))

	beforeEmpty := testutil.ToFloat64(emptyQueries)
	_, err = f.QueryAnchors(ctx, []geom.Vec{{}, {X: 1.9, Y: 1.9, Z: 1.9}})
	require.NoError(t, err)
	assert.Equal(t, beforeEmpty+1, testutil.ToFloat64(emptyQueries))
}

func TestMetrics_StageDurations(t *testing.T) {
	f := newSingleAnchorField(t)
	_, err := f.SampleRays(context.Background(), []geom.Ray{xRay()})
	require.NoError(t, err)

	// One series per stage seen so far: at least build and sample.
	assert.GreaterOrEqual(t, testutil.CollectAndCount(stageDuration), 2)
	assert.GreaterOrEqual(t, testutil.CollectAndCount(stageDuration, "pointfield_engine_stage_duration_seconds"), 2)
}
