// Package transport coordinates the lifecycle of the relay's and
// agent's independent components — listeners, pools, metrics servers —
// using an errgroup so a failure or cancellation in one tears down
// the rest.
package transport

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"
)

// shutdownTimeout bounds how long Serve waits for every component's
// Stop to return once shutdown begins.
const shutdownTimeout = 15 * time.Second

// Component is anything Serve can run and later stop: Start should
// block until the component finishes or ctx is cancelled; Stop
// performs graceful shutdown within the deadline of the context it is
// given.
type Component interface {
	Start(context.Context) error
	Stop(context.Context) error
}

// Serve runs every component concurrently. When ctx is cancelled, or
// any component's Start returns (successfully or not), a single
// goroutine stops every component in turn within shutdownTimeout and
// Serve returns the combined result.
func Serve(ctx context.Context, components ...Component) error {
	eg, egCtx := errgroup.WithContext(ctx)
	egCtx, cancel := context.WithCancel(egCtx)
	defer cancel()

	for _, c := range components {
		eg.Go(func() error {
			defer cancel()
			return c.Start(egCtx)
		})
	}

	eg.Go(func() error {
		<-egCtx.Done()

		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		for _, c := range components {
			if err := c.Stop(stopCtx); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})

	return eg.Wait()
}
