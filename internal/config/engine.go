package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is the path to the canonical engine defaults file.
// This is the single source of truth for all default engine values.
const DefaultConfigPath = "config/engine.defaults.json"

// EngineConfig represents the root configuration of the field engine.
// Per-level lists are indexed by level; a list shorter than the number of
// levels repeats its last entry.
type EngineConfig struct {
	// Index construction
	Shape                 *string      `json:"shape,omitempty" yaml:"shape,omitempty"`
	CoveragePolicy        *string      `json:"coverage_policy,omitempty" yaml:"coverage_policy,omitempty"`
	KNN                   *bool        `json:"knn,omitempty" yaml:"knn,omitempty"`
	MaxCandidatesPerVoxel []int        `json:"max_candidates_per_voxel,omitempty" yaml:"max_candidates_per_voxel,omitempty"`
	KPerQuery             []int        `json:"k_per_query,omitempty" yaml:"k_per_query,omitempty"`
	LocalRange            [][3]float64 `json:"local_range,omitempty" yaml:"local_range,omitempty"`
	LocalDims             [][3]int     `json:"local_dims,omitempty" yaml:"local_dims,omitempty"`
	UnitLevel             *int         `json:"unit_level,omitempty" yaml:"unit_level,omitempty"`

	// Aggregation
	Interpolation *string `json:"interpolation,omitempty" yaml:"interpolation,omitempty"`
	LevelMerge    *string `json:"level_merge,omitempty" yaml:"level_merge,omitempty"`

	// Ray marching and rendering
	StepRatio               *float64 `json:"step_ratio,omitempty" yaml:"step_ratio,omitempty"`
	Near *float64 `json:"near,omitempty" yaml:"near,omitempty"`
	// Far is the far clip distance along each ray. 0 disables the far clip;
	// a clip at distance 0 would leave no interval, so it has no other use.
	Far                     *float64 `json:"far,omitempty" yaml:"far,omitempty"`
	RayPrefilter            *bool    `json:"ray_prefilter,omitempty" yaml:"ray_prefilter,omitempty"`
	AlphaMaskThreshold      *float64 `json:"alpha_mask_threshold,omitempty" yaml:"alpha_mask_threshold,omitempty"`
	DistanceScale           *float64 `json:"distance_scale,omitempty" yaml:"distance_scale,omitempty"`
	RayMarchWeightThreshold *float64 `json:"ray_march_weight_threshold,omitempty" yaml:"ray_march_weight_threshold,omitempty"`
	WhiteBackground         *bool    `json:"white_background,omitempty" yaml:"white_background,omitempty"`

	// Execution
	Workers *int `json:"workers,omitempty" yaml:"workers,omitempty"`
}

// EmptyEngineConfig returns an EngineConfig with all fields unset.
// Use LoadEngineConfig to load actual values from the defaults file.
func EmptyEngineConfig() *EngineConfig {
	return &EngineConfig{}
}

// LoadEngineConfig loads an EngineConfig from a JSON or YAML file.
// The file is validated to ensure it has a known extension and is under
// the max file size. Fields omitted from the file fall back to the Get*
// defaults, so partial configs are safe.
func LoadEngineConfig(path string) (*EngineConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyEngineConfig()
	if ext == ".json" {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical engine defaults from
// DefaultConfigPath. It searches the current directory and common parent
// directories. Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *EngineConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,       // from internal/config/
		"../../../" + DefaultConfigPath,    // from internal/field/engine/
		"../../../../" + DefaultConfigPath, // from internal/field/storage/sqlite/
	}
	for _, path := range candidates {
		if cfg, err := LoadEngineConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configured values are in range. Enum strings
// are parsed by the engine, which owns their meaning.
func (c *EngineConfig) Validate() error {
	for i, m := range c.MaxCandidatesPerVoxel {
		if m < 1 {
			return fmt.Errorf("max_candidates_per_voxel[%d] must be >= 1, got %d", i, m)
		}
	}
	for i, k := range c.KPerQuery {
		if k < 1 {
			return fmt.Errorf("k_per_query[%d] must be >= 1, got %d", i, k)
		}
	}
	for i, r := range c.LocalRange {
		if r[0] <= 0 || r[1] <= 0 || r[2] <= 0 {
			return fmt.Errorf("local_range[%d] must be positive, got %v", i, r)
		}
	}
	for i, d := range c.LocalDims {
		if d[0] < 1 || d[1] < 1 || d[2] < 1 {
			return fmt.Errorf("local_dims[%d] must be >= 1, got %v", i, d)
		}
	}
	if c.UnitLevel != nil && *c.UnitLevel < 0 {
		return fmt.Errorf("unit_level must be non-negative, got %d", *c.UnitLevel)
	}
	if c.StepRatio != nil && *c.StepRatio <= 0 {
		return fmt.Errorf("step_ratio must be positive, got %f", *c.StepRatio)
	}
	if c.Near != nil && *c.Near < 0 {
		return fmt.Errorf("near must be non-negative, got %f", *c.Near)
	}
	if c.Far != nil && *c.Far < 0 {
		return fmt.Errorf("far must be non-negative (0 disables the far clip), got %f", *c.Far)
	}
	if c.Near != nil && c.Far != nil && *c.Far > 0 && *c.Far <= *c.Near {
		return fmt.Errorf("far (%f) must exceed near (%f)", *c.Far, *c.Near)
	}
	if c.AlphaMaskThreshold != nil && (*c.AlphaMaskThreshold < 0 || *c.AlphaMaskThreshold > 1) {
		return fmt.Errorf("alpha_mask_threshold must be between 0 and 1, got %f", *c.AlphaMaskThreshold)
	}
	if c.DistanceScale != nil && *c.DistanceScale <= 0 {
		return fmt.Errorf("distance_scale must be positive, got %f", *c.DistanceScale)
	}
	if c.RayMarchWeightThreshold != nil && *c.RayMarchWeightThreshold < 0 {
		return fmt.Errorf("ray_march_weight_threshold must be non-negative, got %f", *c.RayMarchWeightThreshold)
	}
	if c.Workers != nil && *c.Workers < 0 {
		return fmt.Errorf("workers must be non-negative, got %d", *c.Workers)
	}
	return nil
}

func perLevel[T any](list []T, level int, def T) T {
	if len(list) == 0 {
		return def
	}
	if level >= len(list) {
		return list[len(list)-1]
	}
	return list[level]
}

// GetShape returns the shape value or the default.
func (c *EngineConfig) GetShape() string {
	if c.Shape == nil {
		return "cube" // default
	}
	return *c.Shape
}

// GetCoveragePolicy returns the coverage_policy value or the default.
func (c *EngineConfig) GetCoveragePolicy() string {
	if c.CoveragePolicy == nil {
		return "any" // default
	}
	return *c.CoveragePolicy
}

// GetKNN returns the knn value or the default.
func (c *EngineConfig) GetKNN() bool {
	if c.KNN == nil {
		return true // default
	}
	return *c.KNN
}

// GetMaxCandidates returns the candidate cap of a level.
func (c *EngineConfig) GetMaxCandidates(level int) int {
	return perLevel(c.MaxCandidatesPerVoxel, level, 8)
}

// GetKPerQuery returns the per-query anchor limit of a level.
func (c *EngineConfig) GetKPerQuery(level int) int {
	return perLevel(c.KPerQuery, level, 8)
}

// GetLocalRange returns the influence half-extent of a level.
func (c *EngineConfig) GetLocalRange(level int) [3]float64 {
	return perLevel(c.LocalRange, level, [3]float64{0.3, 0.3, 0.3})
}

// GetLocalDims returns the local sub-grid resolution of a level.
func (c *EngineConfig) GetLocalDims(level int) [3]int {
	return perLevel(c.LocalDims, level, [3]int{8, 8, 8})
}

// GetUnitLevel returns the level whose local voxel defines the global grid.
func (c *EngineConfig) GetUnitLevel() int {
	if c.UnitLevel == nil {
		return 0
	}
	return *c.UnitLevel
}

// GetInterpolation returns the interpolation value or the default.
func (c *EngineConfig) GetInterpolation() string {
	if c.Interpolation == nil {
		return "linear" // default
	}
	return *c.Interpolation
}

// GetLevelMerge returns the level_merge value or the default.
func (c *EngineConfig) GetLevelMerge() string {
	if c.LevelMerge == nil {
		return "concat" // default
	}
	return *c.LevelMerge
}

// GetStepRatio returns the step_ratio value or the default.
func (c *EngineConfig) GetStepRatio() float64 {
	if c.StepRatio == nil {
		return 0.5 // default
	}
	return *c.StepRatio
}

// GetNear returns the near clip distance or the default.
func (c *EngineConfig) GetNear() float64 {
	if c.Near == nil {
		return 2.0 // default
	}
	return *c.Near
}

// GetFar returns the far clip distance or the default. 0 means no far clip.
func (c *EngineConfig) GetFar() float64 {
	if c.Far == nil {
		return 6.0 // default
	}
	return *c.Far
}

// GetRayPrefilter returns the ray_prefilter value or the default.
func (c *EngineConfig) GetRayPrefilter() bool {
	if c.RayPrefilter == nil {
		return false // default
	}
	return *c.RayPrefilter
}

// GetAlphaMaskThreshold returns the alpha_mask_threshold value or the default.
func (c *EngineConfig) GetAlphaMaskThreshold() float64 {
	if c.AlphaMaskThreshold == nil {
		return 0.001 // default
	}
	return *c.AlphaMaskThreshold
}

// GetDistanceScale returns the distance_scale value or the default.
func (c *EngineConfig) GetDistanceScale() float64 {
	if c.DistanceScale == nil {
		return 25 // default
	}
	return *c.DistanceScale
}

// GetRayMarchWeightThreshold returns the ray_march_weight_threshold value or the default.
func (c *EngineConfig) GetRayMarchWeightThreshold() float64 {
	if c.RayMarchWeightThreshold == nil {
		return 0.0001 // default
	}
	return *c.RayMarchWeightThreshold
}

// GetWhiteBackground returns the white_background value or the default.
func (c *EngineConfig) GetWhiteBackground() bool {
	if c.WhiteBackground == nil {
		return false // default
	}
	return *c.WhiteBackground
}

// GetWorkers returns the worker count; 0 means GOMAXPROCS.
func (c *EngineConfig) GetWorkers() int {
	if c.Workers == nil {
		return 0
	}
	return *c.Workers
}
