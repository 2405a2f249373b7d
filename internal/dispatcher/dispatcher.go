// Package dispatcher runs several crawl engines side by side.
package dispatcher

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// Runner is a crawl engine. Run blocks until ctx ends and returns an error
// only when the engine could not start.
type Runner interface {
	Name() string
	Run(ctx context.Context) error
}

// Dispatcher fans the root context out to a set of engines.
type Dispatcher struct {
	runners []Runner
	logger  *zap.Logger
}

// New creates a Dispatcher.
func New(runners []Runner, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		runners: runners,
		logger:  logger,
	}
}

// Run starts every engine and blocks until all of them return. The first
// startup failure stops the remaining engines and is returned. Cancellation
// of ctx is a clean shutdown.
func (d *Dispatcher) Run(ctx context.Context) error {
	if len(d.runners) == 0 {
		return errors.New("no crawlers enabled")
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
	)
	for _, r := range d.runners {
		wg.Add(1)
		go func(r Runner) {
			defer wg.Done()
			err := r.Run(ctx)
			if err == nil {
				return
			}
			if ctx.Err() != nil && errors.Is(err, context.Canceled) {
				return
			}
			once.Do(func() {
				d.logger.Error("Crawler failed to start, stopping the others",
					zap.String("crawler", r.Name()),
					zap.Error(err),
				)
				firstErr = err
				cancel()
			})
		}(r)
	}
	wg.Wait()
	return firstErr
}
