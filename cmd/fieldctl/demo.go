package main

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/pointfield/internal/field/alphamask"
	"github.com/banshee-data/pointfield/internal/field/engine"
	"github.com/banshee-data/pointfield/internal/field/geom"
	"github.com/banshee-data/pointfield/internal/field/query"
)

// shellCloud returns n points on a sphere of radius r around the origin,
// spread with a golden-angle spiral, and a coarser copy for a second level.
func shellCloud(n int, r float64) [][]geom.Vec {
	fine := make([]geom.Vec, n)
	golden := math.Pi * (3 - math.Sqrt(5))
	for i := range fine {
		y := 1 - 2*(float64(i)+0.5)/float64(n)
		rad := math.Sqrt(1 - y*y)
		theta := golden * float64(i)
		fine[i] = geom.Vec{X: r * rad * math.Cos(theta), Y: r * y, Z: r * rad * math.Sin(theta)}
	}
	coarse := make([]geom.Vec, 0, n/4+1)
	for i := 0; i < n; i += 4 {
		coarse = append(coarse, fine[i])
	}
	return [][]geom.Vec{fine, coarse}
}

// orbitRays aims n rays at the box center from a ring of radius dist.
func orbitRays(box geom.AABB, n int, dist float64) []geom.Ray {
	c := box.Center()
	rays := make([]geom.Ray, n)
	for i := range rays {
		a := 2 * math.Pi * float64(i) / float64(n)
		o := r3.Add(c, geom.Vec{X: dist * math.Cos(a), Y: 0.2 * dist, Z: dist * math.Sin(a)})
		rays[i] = geom.Ray{Origin: o, Direction: r3.Sub(c, o)}
	}
	return rays
}

// orbitDistance places the camera midway through the clip interval, or
// outside the box when there is no far clip.
func orbitDistance(cfg *engine.Config, box geom.AABB) float64 {
	if cfg.Far > 0 {
		return (cfg.Near + cfg.Far) / 2
	}
	return cfg.Near + box.Diagonal()
}

// demoField is a procedural feature field: density falls off with distance
// to the anchor and appearance is a checker pattern over each anchor's
// local sub-grid.
type demoField struct {
	ranges []float64 // mean local range per level
}

func newDemoField(cfg *engine.Config) *demoField {
	d := &demoField{ranges: make([]float64, cfg.Levels())}
	for l, r := range cfg.LocalRange {
		d.ranges[l] = (r.X + r.Y + r.Z) / 3
	}
	return d
}

func (d *demoField) falloff(n query.Neighbor) float64 {
	x := n.Dist / d.ranges[n.Level]
	return math.Exp(-x * x)
}

func (d *demoField) DensityFeature(n query.Neighbor) []float64 {
	return []float64{d.falloff(n)}
}

func (d *demoField) AppearanceFeature(n query.Neighbor) []float64 {
	checker := func(i, j, k int) float64 { return float64((i + j + k) % 2) }
	return []float64{
		query.Interpolate(n, checker),
		n.WeightLarge[1],
		0.5 * (1 + math.Cos(float64(n.Anchor))),
	}
}

func (d *demoField) DensityDim() int    { return 1 }
func (d *demoField) AppearanceDim() int { return 3 }

// density evaluates the demo field directly against an index for alpha
// mask rebuilds.
func (d *demoField) density(idx *engine.Index, gain float64) alphamask.DensityFunc {
	return func(p geom.Vec) float64 {
		var s float64
		for _, li := range idx.Queries {
			for _, n := range li.Query(p) {
				s += d.falloff(n)
			}
		}
		return gain * s
	}
}

type demoDecoder struct {
	gain float64
}

func (dd demoDecoder) Density(f []float64) float64 {
	return dd.gain * f[0]
}

func (dd demoDecoder) Color(f []float64, dir geom.Vec) [3]float64 {
	shade := 0.8 + 0.2*math.Abs(dir.Y)
	return [3]float64{shade * f[0], shade * f[1], shade * f[2]}
}
