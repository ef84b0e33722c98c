package smartmailer

import (
	"context"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Scheduler drives recipients through rendering and delivery in fixed-size
// batches, pausing between batches to stay under relay rate limits.
type Scheduler struct {
	sleep Sleeper
	log   zerolog.Logger
}

// NewScheduler creates a scheduler. A nil sleeper uses a timer-based sleep
// that returns early when the context is cancelled.
func NewScheduler(sleep Sleeper, log zerolog.Logger) *Scheduler {
	if sleep == nil {
		sleep = sleepContext
	}
	return &Scheduler{sleep: sleep, log: log}
}

// Run returns one outcome per recipient, in input order. A failed delivery
// never stops the run.
//
// After every full batch that is followed by more recipients the scheduler
// pauses for policy.InterBatchDelay. With policy.Workers > 1 recipients inside
// a batch are delivered concurrently by at most Workers goroutines.
//
// Cancelling ctx stops new recipients from entering delivery; they are
// reported as skipped. Deliveries already started run to completion.
func (s *Scheduler) Run(ctx context.Context, recipients []Recipient, render RenderFunc, deliver DeliverFunc, policy DeliveryPolicy) []DeliveryOutcome {
	outcomes := make([]DeliveryOutcome, len(recipients))

	batchSize := policy.BatchSize
	if batchSize < 1 {
		batchSize = len(recipients)
	}

	batch := 0
	for start := 0; start < len(recipients); start += batchSize {
		end := min(start+batchSize, len(recipients))
		batch++

		s.log.Info().
			Int("batch", batch).
			Int("from", start+1).
			Int("to", end).
			Int("total", len(recipients)).
			Msg("processing batch")

		if policy.Workers > 1 {
			s.runConcurrent(ctx, recipients, outcomes, start, end, render, deliver, policy.Workers)
		} else {
			s.runSequential(ctx, recipients, outcomes, start, end, render, deliver)
		}

		if end == len(recipients) {
			break
		}

		if ctx.Err() != nil {
			markSkipped(recipients, outcomes, end)
			break
		}

		s.log.Info().
			Int("batch", batch).
			Dur("delay", policy.InterBatchDelay).
			Msg("batch complete, pausing")

		if err := s.sleep(ctx, policy.InterBatchDelay); err != nil {
			s.log.Warn().Err(err).Msg("inter-batch pause interrupted")
			markSkipped(recipients, outcomes, end)
			break
		}
	}

	return outcomes
}

func (s *Scheduler) runSequential(ctx context.Context, recipients []Recipient, outcomes []DeliveryOutcome, start, end int, render RenderFunc, deliver DeliverFunc) {
	for i := start; i < end; i++ {
		if ctx.Err() != nil {
			markSkipped(recipients[:end], outcomes, i)
			return
		}
		outcomes[i] = s.process(ctx, i, recipients[i], render, deliver)
	}
}

func (s *Scheduler) runConcurrent(ctx context.Context, recipients []Recipient, outcomes []DeliveryOutcome, start, end int, render RenderFunc, deliver DeliverFunc, workers int) {
	var g errgroup.Group
	g.SetLimit(workers)

	for i := start; i < end; i++ {
		if ctx.Err() != nil {
			outcomes[i] = skippedOutcome(recipients[i])
			continue
		}

		// Go may block until a worker is free; the run can be cancelled
		// while it waits, so the check is repeated once the worker starts.
		g.Go(func() error {
			if ctx.Err() != nil {
				outcomes[i] = skippedOutcome(recipients[i])
				return nil
			}
			outcomes[i] = s.process(ctx, i, recipients[i], render, deliver)
			return nil
		})
	}

	_ = g.Wait()
}

func (s *Scheduler) process(ctx context.Context, i int, r Recipient, render RenderFunc, deliver DeliverFunc) DeliveryOutcome {
	s.log.Debug().
		Int("index", i).
		Str("recipient", r.Email).
		Msg("delivering")

	return deliver(ctx, r, render(r))
}

func markSkipped(recipients []Recipient, outcomes []DeliveryOutcome, from int) {
	for i := from; i < len(recipients); i++ {
		outcomes[i] = skippedOutcome(recipients[i])
	}
}

func skippedOutcome(r Recipient) DeliveryOutcome {
	return DeliveryOutcome{
		Recipient: r,
		Skipped:   true,
		LastError: ErrCancelled.Error(),
	}
}
