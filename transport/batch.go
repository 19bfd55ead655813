package transport

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// FetchMany fans out concurrent Http calls to resolve several whole
// documents at once -- used to prefetch multiple queries ahead of
// render.
//
// maxConcurrency bounds how many requests are in flight at once; 0 or
// negative means unbounded.
func FetchMany(ctx context.Context, http HttpFunc, requests []HttpContext, maxConcurrency int) []Result {
	results := make([]Result, len(requests))

	g, gctx := errgroup.WithContext(ctx)
	var sem chan struct{}
	if maxConcurrency > 0 {
		sem = make(chan struct{}, maxConcurrency)
	}

	for i, req := range requests {
		i, req := i, req
		g.Go(func() error {
			if sem != nil {
				select {
				case sem <- struct{}{}:
					defer func() { <-sem }()
				case <-gctx.Done():
					results[i] = Result{Error: gctx.Err()}
					return nil
				}
			}
			results[i] = http(gctx, req)
			return nil
		})
	}
	// Http never returns a raised error (spec §7) and every goroutine
	// returns nil, so g.Wait() always returns nil; a context cancellation
	// is already reflected per-result above.
	_ = g.Wait()

	return results
}
