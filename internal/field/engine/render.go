package engine

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/banshee-data/pointfield/internal/field/geom"
	"github.com/banshee-data/pointfield/internal/field/query"
)

// FeatureField supplies per-anchor features. Implementations usually hold
// one local sub-grid per anchor and blend it with query.Interpolate.
// Methods must be safe for concurrent use.
type FeatureField interface {
	DensityFeature(n query.Neighbor) []float64
	AppearanceFeature(n query.Neighbor) []float64
	DensityDim() int
	AppearanceDim() int
}

// Decoder turns aggregated features into density and color. It is treated
// as a pure function.
type Decoder interface {
	Density(feature []float64) float64
	Color(feature []float64, viewDir geom.Vec) [3]float64
}

// RenderResult holds one entry per input ray.
type RenderResult struct {
	RGB     [][3]float64
	Depth   []float64
	Opacity []float64
	// Samples is the number of march samples that reached the decoder.
	Samples int
}

// Render composites rays through the field.
//
// Samples are marched and pruned, neighbors are queried and density
// features aggregated and decoded. Per-sample alpha is
// 1 - exp(-σ·step·DistanceScale) and compositing weights follow front to
// back transmittance. Appearance is only aggregated and decoded for samples
// whose weight exceeds RayMarchWeightThreshold. Colors are clamped to
// [0, 1]; the uncovered remainder of each ray takes the background (white
// when configured) and the ray's far distance as depth.
func (f *Field) Render(ctx context.Context, rays []geom.Ray, ff FeatureField, dec Decoder) (*RenderResult, error) {
	if ff == nil || dec == nil {
		return nil, fmt.Errorf("%w: render needs a feature field and a decoder", geom.ErrConfiguration)
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	start := time.Now()

	idx := f.idx
	cfg := idx.Config
	samples, err := sampleRays(ctx, idx, f.mask, rays)
	if err != nil {
		return nil, err
	}
	points := make([]geom.Vec, len(samples))
	for i, s := range samples {
		points[i] = s.Point
	}
	assigns, err := queryAnchors(ctx, idx, points)
	if err != nil {
		return nil, err
	}

	densFeat, densHas, err := aggregateFeatures(ctx, cfg, assigns, len(samples), ff.DensityFeature, ff.DensityDim(), nil)
	if err != nil {
		return nil, err
	}
	alpha := make([]float64, len(samples))
	delta := idx.Geometry.StepSize * cfg.DistanceScale
	for i := range samples {
		if !densHas[i] {
			continue
		}
		sigma := dec.Density(densFeat[i])
		alpha[i] = 1 - math.Exp(-sigma*delta)
	}

	// Samples are ray-major in increasing T, so one pass accumulates
	// transmittance per ray.
	weight := make([]float64, len(samples))
	transmit := 1.0
	for i, s := range samples {
		if i == 0 || s.RayID != samples[i-1].RayID {
			transmit = 1
		}
		weight[i] = alpha[i] * transmit
		transmit *= 1 - alpha[i] + 1e-10
	}
	appMask := make([]bool, len(samples))
	decoded := 0
	for i, w := range weight {
		if w > cfg.RayMarchWeightThreshold {
			appMask[i] = true
			decoded++
		}
	}

	appFeat, appHas, err := aggregateFeatures(ctx, cfg, assigns, len(samples), ff.AppearanceFeature, ff.AppearanceDim(), appMask)
	if err != nil {
		return nil, err
	}

	res := &RenderResult{
		RGB:     make([][3]float64, len(rays)),
		Depth:   make([]float64, len(rays)),
		Opacity: make([]float64, len(rays)),
		Samples: decoded,
	}
	for i, s := range samples {
		if !appMask[i] || !appHas[i] {
			continue
		}
		c := dec.Color(appFeat[i], s.Dir)
		w := weight[i]
		for k := 0; k < 3; k++ {
			res.RGB[s.RayID][k] += w * clamp01(c[k])
		}
		res.Opacity[s.RayID] += w
		res.Depth[s.RayID] += w * s.T
	}

	_, tMax, ok := idx.Sampler().Intervals(rays)
	for r := range rays {
		rest := 1 - res.Opacity[r]
		if cfg.WhiteBackground {
			for k := 0; k < 3; k++ {
				res.RGB[r][k] += rest
			}
		}
		for k := 0; k < 3; k++ {
			res.RGB[r][k] = clamp01(res.RGB[r][k])
		}
		far := cfg.Far
		if ok[r] {
			far = tMax[r]
		}
		res.Depth[r] += rest * far
	}

	observeStage(stageRender, start)
	tracef("render: %d rays, %d samples, %d decoded", len(rays), len(samples), decoded)
	return res, nil
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(v, 1))
}
