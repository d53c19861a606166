// Package alphamask holds the cached coarse occupancy grid used to prune
// empty space before anchor queries.
//
// The mask is a dense grid of Size samples laid corner-aligned over its
// AABB: sample (0,0,0) sits on AABB.Min and sample Size-1 on AABB.Max.
package alphamask

import (
	"context"
	"fmt"
	"math"

	"github.com/banshee-data/pointfield/internal/field/geom"
	"github.com/banshee-data/pointfield/internal/field/parallel"
)

// DensityFunc returns the volume density σ at a world position. It must be
// safe for concurrent use.
type DensityFunc func(p geom.Vec) float64

// GateFunc reports whether a dense sample is eligible at all (for example,
// covered by some anchor). Ungated samples get alpha 0.
type GateFunc func(p geom.Vec) bool

// Mask is a thresholded dense alpha grid. Alpha is x-major like
// geom.GridGeometry.Linear and, after Rebuild, holds only 0 or 1.
type Mask struct {
	AABB      geom.AABB
	Size      [3]int
	Alpha     []float64
	Threshold float64
}

// New wraps an existing alpha grid.
func New(box geom.AABB, size [3]int, alpha []float64, threshold float64) (*Mask, error) {
	for i, s := range size {
		if s < 1 {
			return nil, fmt.Errorf("%w: alpha mask size[%d]=%d", geom.ErrConfiguration, i, s)
		}
	}
	if len(alpha) != size[0]*size[1]*size[2] {
		return nil, fmt.Errorf("%w: alpha grid has %d samples, size %v needs %d",
			geom.ErrInvariantViolation, len(alpha), size, size[0]*size[1]*size[2])
	}
	if !box.Valid() {
		return nil, fmt.Errorf("%w: alpha mask box %s", geom.ErrInvariantViolation, box)
	}
	return &Mask{AABB: box, Size: size, Alpha: alpha, Threshold: threshold}, nil
}

func (m *Mask) linear(i, j, k int) int {
	return (i*m.Size[1]+j)*m.Size[2] + k
}

// SamplePosition returns the world position of dense sample (i, j, k).
func (m *Mask) SamplePosition(i, j, k int) geom.Vec {
	return samplePosition(m.AABB, m.Size, [3]int{i, j, k})
}

func samplePosition(box geom.AABB, size [3]int, ijk [3]int) geom.Vec {
	mn, mx := geom.Array(box.Min), geom.Array(box.Max)
	var p [3]float64
	for a := 0; a < 3; a++ {
		if size[a] == 1 {
			p[a] = mn[a]
			continue
		}
		f := float64(ijk[a]) / float64(size[a]-1)
		p[a] = mn[a]*(1-f) + mx[a]*f
	}
	return geom.FromArray(p)
}

// Value returns the trilinearly interpolated alpha at p, or 0 outside the
// mask AABB.
func (m *Mask) Value(p geom.Vec) float64 {
	if !m.AABB.Contains(p) {
		return 0
	}
	pp, mn, mx := geom.Array(p), geom.Array(m.AABB.Min), geom.Array(m.AABB.Max)
	var lo, hi [3]int
	var frac [3]float64
	for a := 0; a < 3; a++ {
		n := m.Size[a] - 1
		if n == 0 {
			continue
		}
		f := (pp[a] - mn[a]) / (mx[a] - mn[a]) * float64(n)
		f = math.Max(0, math.Min(f, float64(n)))
		fl := math.Floor(f)
		lo[a] = int(fl)
		hi[a] = min(lo[a]+1, n)
		frac[a] = f - fl
	}

	var sum float64
	for c := 0; c < 8; c++ {
		w := 1.0
		var idx [3]int
		for a := 0; a < 3; a++ {
			if c&(1<<a) == 0 {
				idx[a], w = lo[a], w*(1-frac[a])
			} else {
				idx[a], w = hi[a], w*frac[a]
			}
		}
		if w == 0 {
			continue
		}
		sum += w * m.Alpha[m.linear(idx[0], idx[1], idx[2])]
	}
	return sum
}

// Sample reports whether p lies in retained space: inside the mask AABB
// with a positive interpolated alpha.
func (m *Mask) Sample(p geom.Vec) bool {
	return m.Value(p) > 0
}

// SampleBatch evaluates Sample for every point.
func (m *Mask) SampleBatch(points []geom.Vec) []bool {
	out := make([]bool, len(points))
	for i, p := range points {
		out[i] = m.Sample(p)
	}
	return out
}

// Occupancy returns the fraction of dense samples set.
func (m *Mask) Occupancy() float64 {
	if len(m.Alpha) == 0 {
		return 0
	}
	n := 0
	for _, a := range m.Alpha {
		if a > 0.5 {
			n++
		}
	}
	return float64(n) / float64(len(m.Alpha))
}

// Dense evaluates alpha = 1 - exp(-σ·length), clamped to [0, 1], at every
// corner-aligned sample of size over box. Samples failing gate are 0; a
// nil gate admits every sample.
func Dense(ctx context.Context, box geom.AABB, size [3]int, density DensityFunc, length float64, gate GateFunc, workers int) ([]float64, error) {
	alpha := make([]float64, size[0]*size[1]*size[2])
	// One x-layer per task bounds peak working memory for large grids.
	err := parallel.Map(ctx, size[0], workers, func(_ context.Context, lo, hi int) error {
		for i := lo; i < hi; i++ {
			for j := 0; j < size[1]; j++ {
				for k := 0; k < size[2]; k++ {
					p := samplePosition(box, size, [3]int{i, j, k})
					if gate != nil && !gate(p) {
						continue
					}
					a := 1 - math.Exp(-density(p)*length)
					if math.IsNaN(a) {
						a = 0
					}
					alpha[(i*size[1]+j)*size[2]+k] = math.Max(0, math.Min(a, 1))
				}
			}
		}
		return nil
	})
	return alpha, err
}

// Rebuild computes a fresh mask over box: dense alpha, a 3×3×3 max-pool for
// conservative coverage, then thresholding to {0, 1} at threshold. It also
// returns the tight box enclosing every retained sample position; ok is
// false when nothing survives, in which case tight is box.
func Rebuild(ctx context.Context, box geom.AABB, size [3]int, density DensityFunc, length, threshold float64, gate GateFunc, workers int) (mask *Mask, tight geom.AABB, ok bool, err error) {
	if density == nil {
		return nil, box, false, fmt.Errorf("%w: alpha mask rebuild needs a density function", geom.ErrConfiguration)
	}
	if _, err := New(box, size, make([]float64, size[0]*size[1]*size[2]), threshold); err != nil {
		return nil, box, false, err
	}

	alpha, err := Dense(ctx, box, size, density, length, gate, workers)
	if err != nil {
		return nil, box, false, err
	}
	pooled := maxPool3(alpha, size)

	kept := 0
	for idx, a := range pooled {
		if a >= threshold {
			pooled[idx] = 1
		} else {
			pooled[idx] = 0
			continue
		}
		i, j, k := idx/(size[1]*size[2]), (idx/size[2])%size[1], idx%size[2]
		p := samplePosition(box, size, [3]int{i, j, k})
		if kept == 0 {
			tight = geom.NewAABB(p, p)
		} else {
			tight = tight.Extend(p)
		}
		kept++
	}

	mask = &Mask{AABB: box, Size: size, Alpha: pooled, Threshold: threshold}
	diagf("rebuilt %v mask over %s: %d/%d samples kept (%.2f%%)", size, box, kept, len(pooled),
		100*float64(kept)/float64(len(pooled)))
	if kept == 0 {
		opsf("alpha mask rebuild kept no samples (threshold %g)", threshold)
		return mask, box, false, nil
	}
	return mask, tight, true, nil
}

// maxPool3 is a stride-1 3×3×3 max filter with edge-clamped windows.
func maxPool3(in []float64, size [3]int) []float64 {
	out := make([]float64, len(in))
	at := func(i, j, k int) float64 { return in[(i*size[1]+j)*size[2]+k] }
	for i := 0; i < size[0]; i++ {
		for j := 0; j < size[1]; j++ {
			for k := 0; k < size[2]; k++ {
				m := 0.0
				for di := max(i-1, 0); di <= min(i+1, size[0]-1); di++ {
					for dj := max(j-1, 0); dj <= min(j+1, size[1]-1); dj++ {
						for dk := max(k-1, 0); dk <= min(k+1, size[2]-1); dk++ {
							m = math.Max(m, at(di, dj, dk))
						}
					}
				}
				out[(i*size[1]+j)*size[2]+k] = m
			}
		}
	}
	return out
}
