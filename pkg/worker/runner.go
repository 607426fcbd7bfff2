package worker

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cuemby/pindex/pkg/log"
)

// Task is one periodic background job.
type Task interface {
	Name() string
	Run(ctx context.Context) error
}

// Runner drives a Task on a fixed interval. An iteration that overruns its
// interval is not stacked: the next tick is skipped while one is in flight.
type Runner struct {
	task     Task
	interval time.Duration

	running int32
	stopCh  chan struct{}
	done    chan struct{}
}

// NewRunner creates a runner for task at the given interval.
func NewRunner(task Task, interval time.Duration) *Runner {
	return &Runner{
		task:     task,
		interval: interval,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start begins the loop. The task runs once immediately, then on every tick.
func (r *Runner) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	go func() {
		defer close(r.done)
		defer ticker.Stop()

		r.runOnce(ctx)

		for {
			select {
			case <-ticker.C:
				r.runOnce(ctx)
			case <-r.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop signals the loop to exit and waits for the in-flight iteration.
func (r *Runner) Stop() {
	close(r.stopCh)
	<-r.done
}

func (r *Runner) runOnce(ctx context.Context) {
	logger := log.WithTask(r.task.Name())
	if !atomic.CompareAndSwapInt32(&r.running, 0, 1) {
		logger.Warn().Msg("previous iteration still running, skipping tick")
		return
	}
	defer atomic.StoreInt32(&r.running, 0)

	start := time.Now()
	if err := r.task.Run(ctx); err != nil {
		logger.Error().
			Err(err).
			Dur("elapsed", time.Since(start)).
			Msg("task iteration failed")
		return
	}
	logger.Debug().
		Dur("elapsed", time.Since(start)).
		Msg("task iteration complete")
}
