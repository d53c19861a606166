package geom

import (
	"errors"
	"math"
	"testing"
)

func TestIntersectRay(t *testing.T) {
	box := NewAABB(Vec{X: -1, Y: -1, Z: -1}, Vec{X: 1, Y: 1, Z: 1})

	tests := []struct {
		name     string
		origin   Vec
		dir      Vec
		wantOK   bool
		wantNear float64
		wantFar  float64
	}{
		{"through x", Vec{X: -3}, Vec{X: 1}, true, 2, 4},
		{"reverse x", Vec{X: 3}, Vec{X: -1}, true, 2, 4},
		{"parallel inside", Vec{X: -3, Y: 0.5}, Vec{X: 1}, true, 2, 4},
		{"parallel outside", Vec{X: -3, Y: 1.5}, Vec{X: 1}, false, 0, 0},
		{"miss", Vec{X: -3, Y: 3}, Vec{X: 1, Y: 0.1}, false, 0, 0},
		{"origin inside", Vec{}, Vec{Z: 1}, true, -1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tn, tf, ok := box.IntersectRay(tt.origin, tt.dir)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if math.Abs(tn-tt.wantNear) > 1e-12 || math.Abs(tf-tt.wantFar) > 1e-12 {
				t.Errorf("t = (%g, %g), want (%g, %g)", tn, tf, tt.wantNear, tt.wantFar)
			}
		})
	}
}

func TestRayNormalized(t *testing.T) {
	r, ok := Ray{Direction: Vec{X: 3, Y: 4}}.Normalized()
	if !ok {
		t.Fatal("expected ok")
	}
	if math.Abs(r.Direction.X-0.6) > 1e-12 || math.Abs(r.Direction.Y-0.8) > 1e-12 {
		t.Errorf("direction = %v", r.Direction)
	}
	if _, ok := (Ray{}).Normalized(); ok {
		t.Error("zero direction should not normalise")
	}
}

func TestNewGridGeometry(t *testing.T) {
	box := NewAABB(Vec{X: -2, Y: -2, Z: -2}, Vec{X: 2, Y: 2, Z: 2})
	units := LevelUnits(Vec{X: 1, Y: 1, Z: 1}, [3]int{4, 4, 4})
	if units.X != 0.5 {
		t.Fatalf("units = %v, want 0.5", units)
	}

	g, err := NewGridGeometry(box, units, 1.0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if g.GridSize != [3]int{8, 8, 8} {
		t.Errorf("grid size = %v, want [8 8 8]", g.GridSize)
	}
	if g.StepSize != 0.5 {
		t.Errorf("step size = %g, want 0.5", g.StepSize)
	}
	if g.NumVoxels() != 512 {
		t.Errorf("voxels = %d", g.NumVoxels())
	}
}

func TestNewGridGeometry_ExactMultiple(t *testing.T) {
	box := NewAABB(Vec{}, Vec{X: 0.3, Y: 0.3, Z: 0.3})
	g, err := NewGridGeometry(box, Vec{X: 0.1, Y: 0.1, Z: 0.1}, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if g.GridSize != [3]int{3, 3, 3} {
		t.Errorf("grid size = %v, want [3 3 3]", g.GridSize)
	}
}

func TestNewGridGeometry_Errors(t *testing.T) {
	good := NewAABB(Vec{}, Vec{X: 1, Y: 1, Z: 1})
	cases := []struct {
		name  string
		box   AABB
		units Vec
		ratio float64
	}{
		{"inverted", NewAABB(Vec{X: 1}, Vec{Y: 1, Z: 1}), Vec{X: 1, Y: 1, Z: 1}, 1},
		{"zero unit", good, Vec{X: 0, Y: 1, Z: 1}, 1},
		{"zero ratio", good, Vec{X: 1, Y: 1, Z: 1}, 0},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := NewGridGeometry(c.box, c.units, c.ratio)
			if !errors.Is(err, ErrInvariantViolation) {
				t.Errorf("err = %v, want ErrInvariantViolation", err)
			}
		})
	}
}

func TestVoxelAddressing(t *testing.T) {
	box := NewAABB(Vec{X: -2, Y: -2, Z: -2}, Vec{X: 2, Y: 2, Z: 2})
	g, err := NewGridGeometry(box, Vec{X: 0.5, Y: 0.5, Z: 0.5}, 1)
	if err != nil {
		t.Fatal(err)
	}

	ijk, ok := g.VoxelOf(Vec{X: 0, Y: 0, Z: 0})
	if !ok || ijk != [3]int{4, 4, 4} {
		t.Errorf("VoxelOf(origin) = %v %v", ijk, ok)
	}
	if ijk, ok := g.VoxelOf(Vec{X: 2, Y: 2, Z: 2}); !ok || ijk != [3]int{7, 7, 7} {
		t.Errorf("max corner should map to last voxel, got %v %v", ijk, ok)
	}
	if _, ok := g.VoxelOf(Vec{X: 2.01}); ok {
		t.Error("point outside box should not map")
	}
	if g.LinearOf(Vec{X: -5}) != -1 {
		t.Error("LinearOf outside should be -1")
	}

	for _, idx := range []int{0, 1, 63, 100, 511} {
		if got := g.Linear(g.Voxel(idx)); got != idx {
			t.Errorf("Linear(Voxel(%d)) = %d", idx, got)
		}
	}

	c := g.VoxelCenter([3]int{4, 4, 4})
	if c.X != 0.25 || c.Y != 0.25 || c.Z != 0.25 {
		t.Errorf("center = %v", c)
	}
}
