package research

import (
	"context"
	"sync"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

// RunFunc executes one fold. Implementations must build their own engine,
// clock, and seeded generator per call; folds share nothing.
type RunFunc func(ctx context.Context, fold Fold) error

// RunFolds executes folds concurrently with at most workers in flight.
// The first error cancels the remaining folds and is returned; fold order in
// the slice does not imply execution order.
func RunFolds(ctx context.Context, folds []Fold, workers int, run RunFunc) error {
	if workers <= 0 {
		workers = 1
	}
	if workers > len(folds) {
		workers = len(folds)
	}

	parent := ctx
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan Fold)
	errs := make(chan error, len(folds))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for fold := range jobs {
				if err := run(ctx, fold); err != nil {
					errs <- errors.Wrapf(err, "fold test %s", fold.Test.Start)
					cancel()
					return
				}
			}
		}()
	}

	for _, fold := range folds {
		select {
		case jobs <- fold:
		case <-ctx.Done():
		}
	}
	close(jobs)
	wg.Wait()
	close(errs)

	for err := range errs {
		return err
	}
	if err := parent.Err(); err != nil {
		return err
	}
	logs.Infof("completed %d folds", len(folds))
	return nil
}
