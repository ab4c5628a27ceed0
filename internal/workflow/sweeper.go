package workflow

import (
	"context"
	"time"

	"github.com/pesio-ai/be-procure-requests/internal/logger"
)

// Sweeper periodically fires deadline triggers for requests that have been
// soliciting quotes longer than the configured deadline. It only delivers
// triggers; what an elapsed deadline means is the threshold policy's call.
type Sweeper struct {
	executor *Executor
	deadline time.Duration
	interval time.Duration
	log      *logger.Logger
}

// NewSweeper creates a deadline sweeper.
func NewSweeper(executor *Executor, deadline, interval time.Duration, log *logger.Logger) *Sweeper {
	return &Sweeper{
		executor: executor,
		deadline: deadline,
		interval: interval,
		log:      log,
	}
}

// Run blocks until ctx is cancelled, sweeping once per interval.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	cutoff := s.executor.clock.Now().Add(-s.deadline)
	ids, err := s.executor.store.Read().Requests().ListStaleQuoteSolicitations(ctx, cutoff)
	if err != nil {
		s.log.Error().Err(err).Msg("Deadline sweep query failed")
		return
	}

	for _, id := range ids {
		outcome, err := s.executor.Advance(ctx, id, &Trigger{Kind: TriggerQuoteDeadline})
		if err != nil {
			s.log.Warn().Err(err).Str("request_id", id).Msg("Deadline trigger delivery failed")
			continue
		}
		s.log.Info().
			Str("request_id", id).
			Str("outcome", string(outcome.Kind)).
			Msg("Quote deadline processed")
	}
}
