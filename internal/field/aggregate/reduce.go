package aggregate

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strings"
	"sync/atomic"

	"github.com/banshee-data/pointfield/internal/field/geom"
	"github.com/banshee-data/pointfield/internal/field/parallel"
)

// Epsilon keeps inverse-distance weights finite at zero distance.
const Epsilon = 1e-6

// Policy selects how a contribution is weighted by its kernel distance.
type Policy int

const (
	PolicyLinear  Policy = iota // 1/(d+ε)
	PolicyQuadric               // 1/(d²+ε)
	PolicyAvg                   // 1
)

func (p Policy) String() string {
	switch p {
	case PolicyLinear:
		return "linear"
	case PolicyQuadric:
		return "quadric"
	case PolicyAvg:
		return "avg"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// ParsePolicy maps a config string to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(s) {
	case "", "linear":
		return PolicyLinear, nil
	case "quadric":
		return PolicyQuadric, nil
	case "avg":
		return PolicyAvg, nil
	default:
		return 0, fmt.Errorf("%w: unknown interpolation policy %q", geom.ErrConfiguration, s)
	}
}

// Weight returns the weight of a contribution at kernel distance d.
func (p Policy) Weight(d float64) float64 {
	switch p {
	case PolicyQuadric:
		return 1 / (d*d + Epsilon)
	case PolicyAvg:
		return 1
	default:
		return 1 / (d + Epsilon)
	}
}

// Contributions is the input of a reduction: row i of Values, at kernel
// distance Dist[i], belongs to aggregation id IDs[i]. Every row has Dim
// entries.
type Contributions struct {
	Values [][]float64
	Dist   []float64
	IDs    []int
	Dim    int
}

// Len returns the number of contributions.
func (c Contributions) Len() int { return len(c.IDs) }

func (c Contributions) validate(n int) error {
	if len(c.Values) != len(c.IDs) || len(c.Dist) != len(c.IDs) {
		return fmt.Errorf("%w: %d values, %d distances, %d ids",
			geom.ErrInvariantViolation, len(c.Values), len(c.Dist), len(c.IDs))
	}
	for i, id := range c.IDs {
		if id < 0 || id >= n {
			return fmt.Errorf("%w: contribution %d has id %d outside [0,%d)", geom.ErrInvariantViolation, i, id, n)
		}
		if len(c.Values[i]) != c.Dim {
			return fmt.Errorf("%w: contribution %d has %d values, want %d", geom.ErrInvariantViolation, i, len(c.Values[i]), c.Dim)
		}
	}
	return nil
}

// Reduce computes, for each of n aggregation ids,
//
//	Σ w·v / max(Σ w, 1)
//
// An id without contributions yields a zero row and has[id] = false. A
// single contribution returns its value unchanged under every policy.
//
// Sorted ids take a segmented path where each id's run is owned by one
// worker and summed in input order. Unsorted ids fall back to an atomic
// scatter-add whose float summation order is unspecified.
func Reduce(ctx context.Context, c Contributions, n int, policy Policy, workers int) ([][]float64, []bool, error) {
	if policy != PolicyLinear && policy != PolicyQuadric && policy != PolicyAvg {
		return nil, nil, fmt.Errorf("%w: unknown interpolation policy %v", geom.ErrConfiguration, policy)
	}
	if err := c.validate(n); err != nil {
		return nil, nil, err
	}

	r := &reduction{
		stride: c.Dim + 1, // values then weight sum
		count:  make([]int32, n),
		last:   make([]int, n),
	}
	r.acc = make([]float64, n*r.stride)
	var err error
	if slices.IsSorted(c.IDs) {
		err = r.segmented(ctx, c, policy, workers)
	} else {
		err = r.scatter(ctx, c, policy, workers)
	}
	if err != nil {
		return nil, nil, err
	}

	out := make([][]float64, n)
	has := make([]bool, n)
	for id := 0; id < n; id++ {
		off := id * r.stride
		row := r.acc[off : off+c.Dim : off+c.Dim]
		switch r.count[id] {
		case 0:
		case 1:
			// w·v/w is not always v in floating point.
			copy(row, c.Values[r.last[id]])
			has[id] = true
		default:
			den := max(r.acc[off+c.Dim], 1)
			for j := range row {
				row[j] /= den
			}
			has[id] = true
		}
		out[id] = row
	}
	return out, has, nil
}

type reduction struct {
	stride int
	acc    []float64
	count  []int32
	last   []int
}

func (r *reduction) segmented(ctx context.Context, c Contributions, policy Policy, workers int) error {
	var starts []int
	for i, id := range c.IDs {
		if i == 0 || id != c.IDs[i-1] {
			starts = append(starts, i)
		}
	}
	starts = append(starts, len(c.IDs))
	segs := len(starts) - 1
	tracef("segmented reduce: %d contributions in %d segments", len(c.IDs), segs)

	return parallel.Map(ctx, segs, workers, func(_ context.Context, lo, hi int) error {
		for s := lo; s < hi; s++ {
			a, b := starts[s], starts[s+1]
			id := c.IDs[a]
			base := id * r.stride
			for i := a; i < b; i++ {
				w := policy.Weight(c.Dist[i])
				for j, v := range c.Values[i] {
					r.acc[base+j] += w * v
				}
				r.acc[base+r.stride-1] += w
			}
			r.count[id] = int32(b - a)
			r.last[id] = b - 1
		}
		return nil
	})
}

func (r *reduction) scatter(ctx context.Context, c Contributions, policy Policy, workers int) error {
	bits := make([]atomic.Uint64, len(r.acc))
	count := make([]atomic.Int32, len(r.count))
	last := make([]atomic.Int64, len(r.last))
	tracef("scatter reduce: %d contributions", len(c.IDs))
	err := parallel.Map(ctx, len(c.IDs), workers, func(_ context.Context, lo, hi int) error {
		for i := lo; i < hi; i++ {
			id := c.IDs[i]
			w := policy.Weight(c.Dist[i])
			base := id * r.stride
			for j, v := range c.Values[i] {
				atomicAdd(&bits[base+j], w*v)
			}
			atomicAdd(&bits[base+r.stride-1], w)
			count[id].Add(1)
			last[id].Store(int64(i))
		}
		return nil
	})
	if err != nil {
		return err
	}
	for i := range bits {
		r.acc[i] = math.Float64frombits(bits[i].Load())
	}
	for id := range count {
		r.count[id] = count[id].Load()
		r.last[id] = int(last[id].Load())
	}
	return nil
}

func atomicAdd(a *atomic.Uint64, delta float64) {
	for {
		old := a.Load()
		next := math.Float64bits(math.Float64frombits(old) + delta)
		if a.CompareAndSwap(old, next) {
			return
		}
	}
}
