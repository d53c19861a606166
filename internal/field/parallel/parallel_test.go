package parallel

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
)

func TestMap_CoversEveryIndexOnce(t *testing.T) {
	for _, n := range []int{0, 1, 7, 100, 1001} {
		hits := make([]int32, n)
		err := Map(context.Background(), n, 3, func(_ context.Context, lo, hi int) error {
			for i := lo; i < hi; i++ {
				atomic.AddInt32(&hits[i], 1)
			}
			return nil
		})
		if err != nil {
			t.Fatalf("n=%d: unexpected error: %v", n, err)
		}
		for i, h := range hits {
			if h != 1 {
				t.Fatalf("n=%d: index %d visited %d times", n, i, h)
			}
		}
	}
}

func TestMap_PropagatesError(t *testing.T) {
	boom := errors.New("boom")
	err := Map(context.Background(), 50, 4, func(_ context.Context, lo, hi int) error {
		if lo == 0 {
			return boom
		}
		return nil
	})
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
}

func TestRanges(t *testing.T) {
	r := Ranges(10, 3)
	if len(r) != 3 {
		t.Fatalf("len = %d", len(r))
	}
	want := [][2]int{{0, 4}, {4, 7}, {7, 10}}
	for i := range want {
		if r[i] != want[i] {
			t.Errorf("range %d = %v, want %v", i, r[i], want[i])
		}
	}
	if got := Ranges(2, 8); len(got) != 2 {
		t.Errorf("Ranges(2, 8) len = %d, want 2", len(got))
	}
	if Ranges(0, 4) != nil {
		t.Error("Ranges(0, 4) should be nil")
	}
	if Workers(0) < 1 || Workers(3) != 3 {
		t.Error("Workers resolution")
	}
}
