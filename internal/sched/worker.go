// Package sched runs the scheduled sweep jobs on in-process tickers.
package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// SweepFunc is one sweep invocation, returning the number of records it
// expired.
type SweepFunc func(ctx context.Context) (int, error)

// Worker invokes a sweep function on a fixed interval until its context
// is cancelled.
type Worker struct {
	name     string
	interval time.Duration
	sweep    SweepFunc
	log      zerolog.Logger
}

// NewWorker creates a worker running sweep every interval.
func NewWorker(name string, interval time.Duration, sweep SweepFunc, logger zerolog.Logger) *Worker {
	return &Worker{
		name:     name,
		interval: interval,
		sweep:    sweep,
		log:      logger.With().Str("worker", name).Logger(),
	}
}

// Run blocks until ctx is cancelled. Sweep errors are logged and the
// worker keeps ticking: the jobs are idempotent and the next run picks up
// whatever the failed one left behind.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Msg("starting sweep worker")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("stopping sweep worker")
			return ctx.Err()
		case <-ticker.C:
			n, err := w.sweep(ctx)
			if err != nil {
				w.log.Error().Err(err).Msg("sweep failed")
				continue
			}
			if n > 0 {
				w.log.Info().Int("expired", n).Msg("sweep expired records")
			}
		}
	}
}
