package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Stage labels.
const (
	stageBuild     = "build"
	stageSample    = "sample"
	stageQuery     = "query"
	stageAggregate = "aggregate"
	stageAlpha     = "alpha_rebuild"
	stageShrink    = "shrink"
	stageRender    = "render"
)

var (
	// stageDuration measures wall time of each bulk stage.
	// Labels: stage
	stageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "pointfield",
		Subsystem: "engine",
		Name:      "stage_duration_seconds",
		Help:      "Wall time of engine stages in seconds",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 10),
	}, []string{"stage"})

	// samplesEmitted counts ray-march samples that survived coverage and
	// alpha-mask pruning.
	samplesEmitted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pointfield",
		Subsystem: "engine",
		Name:      "samples_emitted_total",
		Help:      "Ray-march samples emitted after pruning",
	})

	// emptyQueries counts sample points for which no level returned an
	// anchor.
	emptyQueries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pointfield",
		Subsystem: "engine",
		Name:      "empty_queries_total",
		Help:      "Anchor queries that returned no neighbors on any level",
	})

	// coveredVoxels reports the coverage filter size of the live index.
	coveredVoxels = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "pointfield",
		Subsystem: "engine",
		Name:      "covered_voxels",
		Help:      "Voxels kept by the coverage filter of the live index",
	})
)

func observeStage(stage string, start time.Time) {
	stageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}
