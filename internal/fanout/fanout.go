// Package fanout runs bounded bursts of I/O-bound work and collects results
// aligned to input order.
package fanout

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Result holds the outcome of a single item. Exactly one of Value or Err is
// meaningful; callers that tolerate per-item failures inspect Err and skip.
type Result[R any] struct {
	Value R
	Err   error
}

// Map executes fn over items with at most workers goroutines and returns
// results positionally aligned with the input: out[i] corresponds to
// items[i] regardless of completion order. The pool is sized
// min(len(items), workers); an empty input returns an empty slice without
// spawning anything. Map blocks until every submitted item finishes — it is
// a batch join barrier, not a streaming interface. A failed item is captured
// in its Result and never aborts the batch.
func Map[T, R any](ctx context.Context, items []T, workers int, fn func(ctx context.Context, item T) (R, error)) []Result[R] {
	if len(items) == 0 {
		return []Result[R]{}
	}

	if workers <= 0 {
		workers = 1
	}
	if workers > len(items) {
		workers = len(items)
	}

	out := make([]Result[R], len(items))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, item := range items {
		g.Go(func() error {
			val, err := fn(gCtx, item)
			// Each goroutine owns exactly one slot, so no mutex is needed.
			out[i] = Result[R]{Value: val, Err: err}
			return nil
		})
	}

	_ = g.Wait()
	return out
}
