// Package parallel provides the bulk-synchronous parallel-map primitive the
// engine stages are built on. Every call returns only after all chunks have
// completed, so a stage's output is fully materialised before the next stage
// reads it.
package parallel

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// chunksPerWorker oversubscribes chunks so uneven work (rays that hit
// nothing vs. rays that cross the whole volume) still balances.
const chunksPerWorker = 4

// Workers resolves a configured worker count; w <= 0 means GOMAXPROCS.
func Workers(w int) int {
	if w <= 0 {
		return runtime.GOMAXPROCS(0)
	}
	return w
}

// Map runs fn over contiguous half-open chunks [lo, hi) covering [0, n)
// with at most workers goroutines, and waits for all of them. The first
// error cancels ctx for the remaining chunks and is returned.
func Map(ctx context.Context, n, workers int, fn func(ctx context.Context, lo, hi int) error) error {
	if n <= 0 {
		return nil
	}
	workers = Workers(workers)

	chunks := workers * chunksPerWorker
	if chunks > n {
		chunks = n
	}
	size := (n + chunks - 1) / chunks

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for lo := 0; lo < n; lo += size {
		hi := lo + size
		if hi > n {
			hi = n
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return fn(gctx, lo, hi)
		})
	}
	return g.Wait()
}

// Ranges splits [0, n) into exactly parts contiguous ranges (fewer when n is
// small). It is used where each worker must own a fixed slab.
func Ranges(n, parts int) [][2]int {
	if n <= 0 {
		return nil
	}
	if parts <= 0 || parts > n {
		parts = n
	}
	out := make([][2]int, 0, parts)
	size := n / parts
	rem := n % parts
	lo := 0
	for i := 0; i < parts; i++ {
		hi := lo + size
		if i < rem {
			hi++
		}
		out = append(out, [2]int{lo, hi})
		lo = hi
	}
	return out
}
