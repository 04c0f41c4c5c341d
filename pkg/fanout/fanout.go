// Package fanout runs one upstream call per input concurrently, with a bound
// on how many run at once.
package fanout

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency is used when a non-positive limit is given.
const DefaultConcurrency = 5

// Map calls fn for every input with at most limit calls in flight and returns
// the results in input order. The first error cancels the context passed to
// the remaining calls and is returned; partial results are discarded.
func Map[In, Out any](ctx context.Context, inputs []In, limit int, fn func(ctx context.Context, in In) (Out, error)) ([]Out, error) {
	if limit <= 0 {
		limit = DefaultConcurrency
	}

	start := time.Now()
	results := make([]Out, len(inputs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i, in := range inputs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			out, err := fn(gctx, in)
			if err != nil {
				return fmt.Errorf("item %d: %w", i, err)
			}
			results[i] = out
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		log.Debug().
			Err(err).
			Int("items", len(inputs)).
			Dur("duration", time.Since(start)).
			Msg("Fan-out aborted")
		return nil, err
	}

	log.Debug().
		Int("items", len(inputs)).
		Int("concurrency", limit).
		Dur("duration", time.Since(start)).
		Msg("Fan-out complete")

	return results, nil
}
