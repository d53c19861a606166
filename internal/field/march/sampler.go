package march

import (
	"context"
	"iter"
	"math"

	"github.com/banshee-data/pointfield/internal/field/geom"
	"github.com/banshee-data/pointfield/internal/field/parallel"
)

// Sample is one emitted ray-march step.
type Sample struct {
	Point geom.Vec
	// Dir is the normalised ray direction, carried for view-dependent
	// decoding.
	Dir   geom.Vec
	RayID int
	Step  int
	T     float64
}

// Sampler marches rays through a grid geometry. Far = 0 means no far clip;
// a positive Far clips at that distance. Configs reject negative values.
type Sampler struct {
	Geometry geom.GridGeometry
	// Filter marks covered voxels (linear index). Nil treats every voxel
	// as covered.
	Filter []bool
	Near   float64
	Far    float64
	// Influence holds per-anchor influence boxes for the coarse whole-ray
	// rejection test. Nil disables the test.
	Influence []geom.AABB
}

// Interval returns the clipped march interval [tMin, tMax) of a ray in
// normalised-direction units. ok is false for degenerate directions, rays
// missing the box, or an empty interval after clipping.
func (s *Sampler) Interval(ray geom.Ray) (nr geom.Ray, tMin, tMax float64, ok bool) {
	nr, ok = ray.Normalized()
	if !ok {
		return nr, 0, 0, false
	}
	tMin, tMax, ok = s.Geometry.AABB.IntersectRay(nr.Origin, nr.Direction)
	if !ok {
		return nr, 0, 0, false
	}
	tMin = math.Max(tMin, s.Near)
	if s.Far > 0 {
		tMax = math.Min(tMax, s.Far)
	}
	if tMin >= tMax {
		return nr, tMin, tMax, false
	}
	return nr, tMin, tMax, true
}

// Rejects reports whether the coarse test proves the ray meets no anchor
// influence box inside its march interval.
func (s *Sampler) Rejects(ray geom.Ray, tMin, tMax float64) bool {
	if s.Influence == nil {
		return false
	}
	for _, b := range s.Influence {
		n, f, ok := b.IntersectRay(ray.Origin, ray.Direction)
		if ok && f >= tMin && n < tMax {
			return false
		}
	}
	return true
}

// Sample returns the covered march steps of one ray in increasing T. Each
// range over the sequence re-runs the march from the start.
func (s *Sampler) Sample(rayID int, ray geom.Ray) iter.Seq[Sample] {
	return func(yield func(Sample) bool) {
		nr, tMin, tMax, ok := s.Interval(ray)
		if !ok || s.Rejects(nr, tMin, tMax) {
			return
		}
		step := s.Geometry.StepSize
		for i := 0; ; i++ {
			t := tMin + float64(i)*step
			if t >= tMax {
				return
			}
			p := nr.At(t)
			v := s.Geometry.LinearOf(p)
			if v < 0 || (s.Filter != nil && !s.Filter[v]) {
				continue
			}
			if !yield(Sample{Point: p, Dir: nr.Direction, RayID: rayID, Step: i, T: t}) {
				return
			}
		}
	}
}

// SampleBatch marches every ray and materialises the result ray-major, ray
// id equal to the ray's index. Rays are marched in parallel; per-ray output
// order is preserved.
func (s *Sampler) SampleBatch(ctx context.Context, rays []geom.Ray, workers int) ([]Sample, error) {
	per := make([][]Sample, len(rays))
	err := parallel.Map(ctx, len(rays), workers, func(_ context.Context, lo, hi int) error {
		for i := lo; i < hi; i++ {
			var out []Sample
			for smp := range s.Sample(i, rays[i]) {
				out = append(out, smp)
			}
			per[i] = out
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	total, hit := 0, 0
	for _, ss := range per {
		total += len(ss)
		if len(ss) > 0 {
			hit++
		}
	}
	flat := make([]Sample, 0, total)
	for _, ss := range per {
		flat = append(flat, ss...)
	}
	tracef("%d rays → %d samples (%d rays with coverage, step %.4g)", len(rays), total, hit, s.Geometry.StepSize)
	return flat, nil
}

// Intervals returns the clipped [tMin, tMax) of each ray; rays that would
// emit nothing report ok=false. Renderers use it to place the background
// depth.
func (s *Sampler) Intervals(rays []geom.Ray) (tMin, tMax []float64, ok []bool) {
	tMin = make([]float64, len(rays))
	tMax = make([]float64, len(rays))
	ok = make([]bool, len(rays))
	for i, r := range rays {
		_, tMin[i], tMax[i], ok[i] = s.Interval(r)
	}
	return tMin, tMax, ok
}
