package engine

import (
	"fmt"
	"slices"

	"github.com/banshee-data/pointfield/internal/config"
	"github.com/banshee-data/pointfield/internal/field/aggregate"
	"github.com/banshee-data/pointfield/internal/field/coverage"
	"github.com/banshee-data/pointfield/internal/field/geom"
)

// Config is the typed engine configuration. Per-level slices hold one entry
// per anchor level. Switching modes (shape, KNN, policies) means building a
// new Config and a new Index; a Config is never mutated under a live Field.
type Config struct {
	Shape          coverage.Shape
	CoveragePolicy coverage.Policy
	KNN            bool
	Interpolation  aggregate.Policy
	LevelMerge     aggregate.MergeMode

	MaxCandidates []int
	KPerQuery     []int
	LocalRange    []geom.Vec
	LocalDims     [][3]int
	UnitLevel     int // level whose local voxel defines the global grid

	StepRatio               float64
	Near                    float64
	Far                     float64 // 0 disables the far clip
	RayPrefilter            bool
	AlphaMaskThreshold      float64
	DistanceScale           float64
	RayMarchWeightThreshold float64
	WhiteBackground         bool

	Workers int // 0 means GOMAXPROCS
}

// DefaultConfig returns a Config for the given number of levels loaded from
// the canonical defaults file (config/engine.defaults.json).
// Panics if the file cannot be found or holds unknown enum values; intended
// for tests and binaries that have already validated config availability.
func DefaultConfig(levels int) *Config {
	cfg, err := ConfigFromEngine(config.MustLoadDefaultConfig(), levels)
	if err != nil {
		panic(err)
	}
	return cfg
}

// ConfigFromEngine builds a Config for the given number of levels from a
// loaded EngineConfig, parsing its enum strings.
func ConfigFromEngine(ec *config.EngineConfig, levels int) (*Config, error) {
	shape, err := coverage.ParseShape(ec.GetShape())
	if err != nil {
		return nil, err
	}
	cov, err := coverage.ParsePolicy(ec.GetCoveragePolicy())
	if err != nil {
		return nil, err
	}
	interp, err := aggregate.ParsePolicy(ec.GetInterpolation())
	if err != nil {
		return nil, err
	}
	merge, err := aggregate.ParseMergeMode(ec.GetLevelMerge())
	if err != nil {
		return nil, err
	}

	c := &Config{
		Shape:                   shape,
		CoveragePolicy:          cov,
		KNN:                     ec.GetKNN(),
		Interpolation:           interp,
		LevelMerge:              merge,
		UnitLevel:               ec.GetUnitLevel(),
		StepRatio:               ec.GetStepRatio(),
		Near:                    ec.GetNear(),
		Far:                     ec.GetFar(),
		RayPrefilter:            ec.GetRayPrefilter(),
		AlphaMaskThreshold:      ec.GetAlphaMaskThreshold(),
		DistanceScale:           ec.GetDistanceScale(),
		RayMarchWeightThreshold: ec.GetRayMarchWeightThreshold(),
		WhiteBackground:         ec.GetWhiteBackground(),
		Workers:                 ec.GetWorkers(),
	}
	for l := 0; l < levels; l++ {
		c.MaxCandidates = append(c.MaxCandidates, ec.GetMaxCandidates(l))
		c.KPerQuery = append(c.KPerQuery, ec.GetKPerQuery(l))
		c.LocalRange = append(c.LocalRange, geom.FromArray(ec.GetLocalRange(l)))
		c.LocalDims = append(c.LocalDims, ec.GetLocalDims(l))
	}
	return c, nil
}

// Levels returns the number of levels the config describes.
func (c *Config) Levels() int { return len(c.LocalRange) }

// Validate checks the configuration is complete and buildable.
func (c *Config) Validate() error {
	if c.Shape == coverage.ShapeSphere {
		return fmt.Errorf("%w: shape %q is not implemented", geom.ErrConfiguration, c.Shape)
	}
	if c.Shape != coverage.ShapeCube {
		return fmt.Errorf("%w: unknown shape %v", geom.ErrConfiguration, c.Shape)
	}
	if c.CoveragePolicy != coverage.PolicyAny && c.CoveragePolicy != coverage.PolicyAll {
		return fmt.Errorf("%w: unknown coverage policy %v", geom.ErrConfiguration, c.CoveragePolicy)
	}
	if c.Interpolation < aggregate.PolicyLinear || c.Interpolation > aggregate.PolicyAvg {
		return fmt.Errorf("%w: unknown interpolation policy %v", geom.ErrConfiguration, c.Interpolation)
	}
	if c.LevelMerge != aggregate.MergeConcat && c.LevelMerge != aggregate.MergeMean {
		return fmt.Errorf("%w: unknown level merge %v", geom.ErrConfiguration, c.LevelMerge)
	}

	n := c.Levels()
	if n == 0 {
		return fmt.Errorf("%w: no levels configured", geom.ErrConfiguration)
	}
	if len(c.LocalDims) != n || len(c.MaxCandidates) != n || len(c.KPerQuery) != n {
		return fmt.Errorf("%w: per-level settings disagree: range=%d dims=%d max_candidates=%d k=%d",
			geom.ErrConfiguration, n, len(c.LocalDims), len(c.MaxCandidates), len(c.KPerQuery))
	}
	for l := 0; l < n; l++ {
		if c.MaxCandidates[l] < 1 {
			return fmt.Errorf("%w: level %d max candidates %d must be >= 1", geom.ErrConfiguration, l, c.MaxCandidates[l])
		}
		if c.KPerQuery[l] < 1 {
			return fmt.Errorf("%w: level %d k %d must be >= 1", geom.ErrConfiguration, l, c.KPerQuery[l])
		}
	}
	if c.UnitLevel < 0 || c.UnitLevel >= n {
		return fmt.Errorf("%w: unit level %d outside [0,%d)", geom.ErrConfiguration, c.UnitLevel, n)
	}
	if !(c.StepRatio > 0) {
		return fmt.Errorf("%w: step ratio %g must be positive", geom.ErrConfiguration, c.StepRatio)
	}
	if c.Near < 0 || c.Far < 0 || (c.Far > 0 && c.Far <= c.Near) {
		return fmt.Errorf("%w: near/far %g/%g", geom.ErrConfiguration, c.Near, c.Far)
	}
	if !(c.DistanceScale > 0) {
		return fmt.Errorf("%w: distance scale %g must be positive", geom.ErrConfiguration, c.DistanceScale)
	}
	return nil
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	cp := *c
	cp.MaxCandidates = slices.Clone(c.MaxCandidates)
	cp.KPerQuery = slices.Clone(c.KPerQuery)
	cp.LocalRange = slices.Clone(c.LocalRange)
	cp.LocalDims = slices.Clone(c.LocalDims)
	return &cp
}

// WithShape sets the influence shape.
func (c *Config) WithShape(s coverage.Shape) *Config {
	c.Shape = s
	return c
}

// WithKNN enables or disables distance-ordered neighbor selection.
func (c *Config) WithKNN(enabled bool) *Config {
	c.KNN = enabled
	return c
}

// WithCoveragePolicy sets how levels combine into the coverage filter.
func (c *Config) WithCoveragePolicy(p coverage.Policy) *Config {
	c.CoveragePolicy = p
	return c
}

// WithInterpolation sets the aggregation weight policy.
func (c *Config) WithInterpolation(p aggregate.Policy) *Config {
	c.Interpolation = p
	return c
}

// WithLevelMerge sets how per-level features combine.
func (c *Config) WithLevelMerge(m aggregate.MergeMode) *Config {
	c.LevelMerge = m
	return c
}

// WithLevel sets every per-level parameter of level l, growing the
// per-level slices as needed.
func (c *Config) WithLevel(l int, localRange geom.Vec, localDims [3]int, maxCandidates, k int) *Config {
	for c.Levels() <= l {
		c.LocalRange = append(c.LocalRange, localRange)
		c.LocalDims = append(c.LocalDims, localDims)
		c.MaxCandidates = append(c.MaxCandidates, maxCandidates)
		c.KPerQuery = append(c.KPerQuery, k)
	}
	c.LocalRange[l] = localRange
	c.LocalDims[l] = localDims
	c.MaxCandidates[l] = maxCandidates
	c.KPerQuery[l] = k
	return c
}

// WithNearFar sets the ray clip interval. far = 0 disables the far clip.
func (c *Config) WithNearFar(near, far float64) *Config {
	c.Near, c.Far = near, far
	return c
}

// WithStepRatio sets the march step as a fraction of the mean voxel edge.
func (c *Config) WithStepRatio(r float64) *Config {
	c.StepRatio = r
	return c
}

// WithRayPrefilter enables the coarse whole-ray rejection test.
func (c *Config) WithRayPrefilter(enabled bool) *Config {
	c.RayPrefilter = enabled
	return c
}

// WithWorkers sets the parallel worker count.
func (c *Config) WithWorkers(n int) *Config {
	c.Workers = n
	return c
}
