package eigenoc

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// WorkerFunc runs one worker until ctx is done or it fails
type WorkerFunc func(ctx context.Context, id int, n *Network) error

// RunWorkers builds n worker Networks synchronised with g and runs fn
// for each of them concurrently. Cancelling ctx is the shared stop
// signal. The first worker error cancels the others and is returned.
func RunWorkers(ctx context.Context, g *Global, n int, fn WorkerFunc) error {
	if n <= 0 {
		return fmt.Errorf("runWorkers: number of workers must be > 0")
	}

	// Workers are built before any of them runs since building draws
	// from the shared weight initializer
	workers := make([]*Network, n)
	for i := range workers {
		w, err := g.NewWorker(fmt.Sprintf("worker_%d", i))
		if err != nil {
			for _, built := range workers[:i] {
				built.Close()
			}
			return fmt.Errorf("runWorkers: %w", err)
		}
		workers[i] = w
	}

	eg, ctx := errgroup.WithContext(ctx)
	for i, w := range workers {
		i, w := i, w
		eg.Go(func() error {
			defer w.Close()
			g.logger.Debug("worker started", zap.Int("worker", i))
			if err := fn(ctx, i, w); err != nil {
				g.logger.Error("worker failed", zap.Int("worker", i),
					zap.Error(err))
				return fmt.Errorf("worker %d: %w", i, err)
			}
			g.logger.Debug("worker stopped", zap.Int("worker", i))
			return nil
		})
	}
	return eg.Wait()
}

// Loop calls step until ctx is done or step fails. A step in progress
// when ctx is cancelled is finished before Loop returns.
func Loop(ctx context.Context, step func() error) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		if err := step(); err != nil {
			return err
		}
	}
}
