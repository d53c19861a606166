package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultEngineConfig(t *testing.T) {
	cfg := MustLoadDefaultConfig()

	if cfg.Shape == nil || *cfg.Shape != "cube" {
		t.Errorf("Expected Shape 'cube', got %v", cfg.Shape)
	}
	if len(cfg.LocalRange) != 2 {
		t.Fatalf("Expected 2 local_range entries, got %d", len(cfg.LocalRange))
	}

	if cfg.GetKPerQuery(0) != 8 || cfg.GetKPerQuery(1) != 4 {
		t.Errorf("GetKPerQuery = %d,%d, want 8,4", cfg.GetKPerQuery(0), cfg.GetKPerQuery(1))
	}
	if got := cfg.GetLocalRange(1); got != [3]float64{0.6, 0.6, 0.6} {
		t.Errorf("GetLocalRange(1) = %v", got)
	}
	if cfg.GetAlphaMaskThreshold() != 0.001 {
		t.Errorf("GetAlphaMaskThreshold() = %f, want 0.001", cfg.GetAlphaMaskThreshold())
	}
	if cfg.GetDistanceScale() != 25 {
		t.Errorf("GetDistanceScale() = %f, want 25", cfg.GetDistanceScale())
	}
}

func TestEmptyEngineConfigDefaults(t *testing.T) {
	cfg := EmptyEngineConfig()

	if cfg.GetShape() != "cube" {
		t.Errorf("GetShape() = %q", cfg.GetShape())
	}
	if cfg.GetInterpolation() != "linear" || cfg.GetLevelMerge() != "concat" || cfg.GetCoveragePolicy() != "any" {
		t.Errorf("enum defaults: %q %q %q", cfg.GetInterpolation(), cfg.GetLevelMerge(), cfg.GetCoveragePolicy())
	}
	if !cfg.GetKNN() {
		t.Error("GetKNN() default should be true")
	}
	if cfg.GetMaxCandidates(3) != 8 {
		t.Errorf("GetMaxCandidates(3) = %d, want 8", cfg.GetMaxCandidates(3))
	}
	if cfg.GetLocalDims(0) != [3]int{8, 8, 8} {
		t.Errorf("GetLocalDims(0) = %v", cfg.GetLocalDims(0))
	}
	if cfg.GetNear() != 2 || cfg.GetFar() != 6 {
		t.Errorf("near/far = %f/%f", cfg.GetNear(), cfg.GetFar())
	}
	if cfg.GetWorkers() != 0 {
		t.Errorf("GetWorkers() = %d", cfg.GetWorkers())
	}
}

func TestPerLevelRepeatsLastEntry(t *testing.T) {
	cfg := &EngineConfig{KPerQuery: []int{6, 3}}
	for level, want := range []int{6, 3, 3, 3} {
		if got := cfg.GetKPerQuery(level); got != want {
			t.Errorf("GetKPerQuery(%d) = %d, want %d", level, got, want)
		}
	}
}

func TestLoadEngineConfig(t *testing.T) {
	tmpDir := t.TempDir()

	tests := []struct {
		name    string
		file    string
		content string
	}{
		{
			name: "json",
			file: "engine.json",
			content: `{
  "shape": "cube",
  "interpolation": "quadric",
  "k_per_query": [4],
  "local_range": [[0.5, 0.5, 0.25]],
  "near": 0.1,
  "far": 10
}`,
		},
		{
			name: "yaml",
			file: "engine.yaml",
			content: `shape: cube
interpolation: quadric
k_per_query: [4]
local_range:
  - [0.5, 0.5, 0.25]
near: 0.1
far: 10
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(tmpDir, tt.file)
			if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
				t.Fatalf("Failed to write test config: %v", err)
			}
			cfg, err := LoadEngineConfig(path)
			if err != nil {
				t.Fatalf("Failed to load config: %v", err)
			}
			if cfg.GetInterpolation() != "quadric" {
				t.Errorf("GetInterpolation() = %q", cfg.GetInterpolation())
			}
			if cfg.GetKPerQuery(2) != 4 {
				t.Errorf("GetKPerQuery(2) = %d", cfg.GetKPerQuery(2))
			}
			if cfg.GetLocalRange(0) != [3]float64{0.5, 0.5, 0.25} {
				t.Errorf("GetLocalRange(0) = %v", cfg.GetLocalRange(0))
			}
			if cfg.GetNear() != 0.1 || cfg.GetFar() != 10 {
				t.Errorf("near/far = %f/%f", cfg.GetNear(), cfg.GetFar())
			}
			// Unset fields fall back to defaults.
			if cfg.GetStepRatio() != 0.5 {
				t.Errorf("GetStepRatio() = %f", cfg.GetStepRatio())
			}
		})
	}
}

func TestLoadEngineConfig_Errors(t *testing.T) {
	tmpDir := t.TempDir()

	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"bad extension", "engine.toml", `shape = "cube"`},
		{"malformed json", "bad.json", `{"shape": `},
		{"negative k", "k.json", `{"k_per_query": [0]}`},
		{"far before near", "nf.json", `{"near": 3, "far": 2}`},
		{"negative far", "nfar.json", `{"far": -1}`},
		{"threshold range", "th.yaml", "alpha_mask_threshold: 2\n"},
		{"bad local range", "lr.json", `{"local_range": [[0.1, 0, 0.1]]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(tmpDir, tt.file)
			if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
				t.Fatalf("Failed to write test config: %v", err)
			}
			if _, err := LoadEngineConfig(path); err == nil {
				t.Errorf("expected error for %s", tt.name)
			}
		})
	}

	if _, err := LoadEngineConfig(filepath.Join(tmpDir, "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadEngineConfig_FarZeroDisablesClip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "noclip.yaml")
	if err := os.WriteFile(path, []byte("near: 3\nfar: 0\n"), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	cfg, err := LoadEngineConfig(path)
	if err != nil {
		t.Fatalf("far 0 with near 3 should be accepted: %v", err)
	}
	if got := cfg.GetFar(); got != 0 {
		t.Errorf("GetFar() = %v, want 0", got)
	}
}

func TestLoadEngineConfig_TooLarge(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big.json")
	big := make([]byte, 1024*1024+1)
	for i := range big {
		big[i] = ' '
	}
	if err := os.WriteFile(path, big, 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadEngineConfig(path); err == nil {
		t.Error("expected size limit error")
	}
}
