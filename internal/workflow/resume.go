package workflow

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/pesio-ai/be-procure-requests/internal/repository"
)

// ResumeRunning re-loads every RUNNING execution and re-delivers its last
// known trigger through a bounded worker pool. Safe to call on every process
// start: steps are idempotent and replaying a trigger that no longer applies
// is an Ignored no-op.
func (e *Executor) ResumeRunning(ctx context.Context, concurrency int) error {
	if concurrency < 1 {
		concurrency = 1
	}

	execs, err := e.store.Read().Executions().ListByStatus(ctx, TypeProcurement, repository.WorkflowRunning)
	if err != nil {
		return err
	}
	if len(execs) == 0 {
		return nil
	}

	e.log.Info().Int("count", len(execs)).Msg("Resuming running workflow executions")

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for _, exec := range execs {
		g.Go(func() error {
			trigger, err := UnmarshalTrigger(exec.LastTrigger)
			if err != nil {
				e.log.Error().Err(err).
					Str("execution_id", exec.ID).
					Msg("Corrupt persisted trigger; skipping resume for execution")
				return nil
			}
			if trigger == nil {
				// Created but never delivered; start from the top.
				trigger = &Trigger{Kind: TriggerRequestSubmitted}
			}

			outcome, err := e.Advance(ctx, exec.EntityID, trigger)
			if err != nil {
				// Transient; the sweep or the next external trigger will
				// pick the execution up again.
				e.log.Warn().Err(err).
					Str("entity_id", exec.EntityID).
					Msg("Resume delivery failed")
				return nil
			}

			e.log.Info().
				Str("entity_id", exec.EntityID).
				Str("outcome", string(outcome.Kind)).
				Str("state", outcome.State).
				Msg("Execution resumed")
			return nil
		})
	}

	return g.Wait()
}
