package workflow

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-procure-requests/internal/errors"
	"github.com/pesio-ai/be-procure-requests/internal/logger"
	"github.com/pesio-ai/be-procure-requests/internal/repository"
)

type testEnv struct {
	store    *memStore
	gateway  *fakeGateway
	executor *Executor
}

func newTestEnv(t *testing.T, minVendors, retryLimit int) *testEnv {
	t.Helper()
	store := newMemStore()
	gateway := &fakeGateway{}
	executor := NewExecutor(
		store,
		NewReconciler(VendorCountPolicy{MinVendors: minVendors}),
		NewPaymentCoordinator(gateway),
		Config{StepRetryLimit: retryLimit},
		logger.Nop(),
	)
	return &testEnv{store: store, gateway: gateway, executor: executor}
}

func (env *testEnv) createRequest(t *testing.T) *repository.ProcurementRequest {
	t.Helper()
	req := &repository.ProcurementRequest{
		ID:       uuid.NewString(),
		OrgID:    "org-1",
		Status:   repository.RequestCreated,
		Priority: "normal",
		Currency: "USD",
		Items:    []repository.RequestItem{{LineNumber: 1, Description: "laptops", Quantity: decimal.NewFromInt(10)}},
	}
	err := env.store.InTransaction(context.Background(), func(tx repository.Tx) error {
		if err := tx.Requests().Create(context.Background(), req); err != nil {
			return err
		}
		_, err := env.executor.CreateExecution(context.Background(), tx, req.ID)
		return err
	})
	require.NoError(t, err)
	return req
}

func (env *testEnv) advance(t *testing.T, requestID string, trigger *Trigger) *StepOutcome {
	t.Helper()
	outcome, err := env.executor.Advance(context.Background(), requestID, trigger)
	require.NoError(t, err)
	return outcome
}

func (env *testEnv) request(t *testing.T, id string) *repository.ProcurementRequest {
	t.Helper()
	req, err := env.store.Read().Requests().Get(context.Background(), id)
	require.NoError(t, err)
	return req
}

func (env *testEnv) execution(t *testing.T, requestID string) *repository.WorkflowExecution {
	t.Helper()
	for _, e := range env.store.data.executions {
		if e.EntityID == requestID {
			return cloneExecution(e)
		}
	}
	t.Fatalf("no execution for request %s", requestID)
	return nil
}

func (env *testEnv) payments(requestID string) []*repository.Payment {
	var out []*repository.Payment
	for _, p := range env.store.data.payments {
		if p.RequestID == requestID {
			out = append(out, clonePayment(p))
		}
	}
	return out
}

// quoteTrigger delivers a vendor quote.
func quoteTrigger(vendor, amount string) *Trigger {
	return &Trigger{Kind: TriggerQuoteReceived, Quote: &QuoteCandidate{
		VendorID:    vendor,
		TotalAmount: decimal.RequireFromString(amount),
		Currency:    "USD",
		Source:      repository.SourceManual,
	}}
}

// runToReview drives a fresh request to await_review with two quotes and
// returns the request and the quote to approve.
func (env *testEnv) runToReview(t *testing.T) (*repository.ProcurementRequest, *repository.Quote) {
	t.Helper()
	req := env.createRequest(t)

	outcome := env.advance(t, req.ID, &Trigger{Kind: TriggerRequestSubmitted})
	require.Equal(t, OutcomeAdvanced, outcome.Kind)
	require.Equal(t, StateCollectQuotes, outcome.State)

	outcome = env.advance(t, req.ID, quoteTrigger("vendor-a", "1200.00"))
	require.Equal(t, OutcomeAdvanced, outcome.Kind)

	outcome = env.advance(t, req.ID, quoteTrigger("vendor-b", "1100.00"))
	require.Equal(t, OutcomeAdvanced, outcome.Kind)
	require.Equal(t, StateAwaitReview, outcome.State)

	quotes, err := env.store.Read().Quotes().ListByRequest(context.Background(), req.ID)
	require.NoError(t, err)
	for _, q := range quotes {
		if q.VendorID == "vendor-b" {
			return env.request(t, req.ID), q
		}
	}
	t.Fatal("vendor-b quote not found")
	return nil, nil
}

// runToAwaitPayment additionally approves the winning quote, which
// auto-continues through initiate_payment.
func (env *testEnv) runToAwaitPayment(t *testing.T) (*repository.ProcurementRequest, *repository.Payment) {
	t.Helper()
	req, winner := env.runToReview(t)

	outcome := env.advance(t, req.ID, &Trigger{Kind: TriggerReviewApproved, QuoteID: winner.ID})
	require.Equal(t, OutcomeAdvanced, outcome.Kind)
	require.Equal(t, StateAwaitPayment, outcome.State)
	require.Equal(t, repository.RequestPaymentPending, outcome.RequestState)

	payments := env.payments(req.ID)
	require.Len(t, payments, 1)
	return env.request(t, req.ID), payments[0]
}

func TestExecutor_HappyPath(t *testing.T) {
	env := newTestEnv(t, 2, 3)
	req := env.createRequest(t)

	// Submission solicits quotes.
	outcome := env.advance(t, req.ID, &Trigger{Kind: TriggerRequestSubmitted})
	assert.Equal(t, OutcomeAdvanced, outcome.Kind)
	assert.Equal(t, repository.RequestQuotesRequested, outcome.RequestState)

	exec := env.execution(t, req.ID)
	assert.Equal(t, repository.WorkflowRunning, exec.Status)
	require.Len(t, exec.Checkpoints, 1)
	assert.Equal(t, StateSolicitQuotes, exec.Checkpoints[0].State)
	assert.NotNil(t, env.request(t, req.ID).RequestedAt)

	// First quote is stored but the workflow keeps collecting.
	outcome = env.advance(t, req.ID, quoteTrigger("vendor-a", "1200.00"))
	assert.Equal(t, OutcomeAdvanced, outcome.Kind)
	assert.Equal(t, StateCollectQuotes, outcome.State)

	// Second distinct vendor satisfies the threshold.
	outcome = env.advance(t, req.ID, quoteTrigger("vendor-b", "1100.00"))
	assert.Equal(t, OutcomeAdvanced, outcome.Kind)
	assert.Equal(t, StateAwaitReview, outcome.State)
	assert.Equal(t, repository.RequestQuotesReceived, outcome.RequestState)

	// Approval auto-continues through payment initiation.
	quotes, err := env.store.Read().Quotes().ListByRequest(context.Background(), req.ID)
	require.NoError(t, err)
	var winner *repository.Quote
	for _, q := range quotes {
		if q.VendorID == "vendor-b" {
			winner = q
		}
	}
	require.NotNil(t, winner)

	outcome = env.advance(t, req.ID, &Trigger{Kind: TriggerReviewApproved, QuoteID: winner.ID})
	assert.Equal(t, OutcomeAdvanced, outcome.Kind)
	assert.Equal(t, StateAwaitPayment, outcome.State)
	assert.Equal(t, repository.RequestPaymentPending, outcome.RequestState)
	assert.Equal(t, 1, env.gateway.callCount())

	stored := env.request(t, req.ID)
	require.NotNil(t, stored.ApprovedQuoteID)
	assert.Equal(t, winner.ID, *stored.ApprovedQuoteID)

	// The losing quote was rejected, the winner approved.
	quotes, err = env.store.Read().Quotes().ListByRequest(context.Background(), req.ID)
	require.NoError(t, err)
	for _, q := range quotes {
		if q.ID == winner.ID {
			assert.Equal(t, repository.QuoteApproved, q.Status)
		} else {
			assert.Equal(t, repository.QuoteRejected, q.Status)
		}
	}

	// Gateway success auto-continues through finalize.
	payments := env.payments(req.ID)
	require.Len(t, payments, 1)
	outcome = env.advance(t, req.ID, &Trigger{
		Kind: TriggerGatewayEvent, PaymentID: payments[0].ID, PaymentStatus: repository.PaymentSucceeded,
	})
	assert.Equal(t, OutcomeAdvanced, outcome.Kind)
	assert.Equal(t, StateCompleted, outcome.State)
	assert.Equal(t, repository.RequestCompleted, outcome.RequestState)

	stored = env.request(t, req.ID)
	assert.Equal(t, repository.RequestCompleted, stored.Status)
	assert.NotNil(t, stored.CompletedAt)

	exec = env.execution(t, req.ID)
	assert.Equal(t, repository.WorkflowCompleted, exec.Status)

	// Checkpoints record every finished step in order.
	var states []string
	for _, cp := range exec.Checkpoints {
		states = append(states, cp.State)
	}
	assert.Equal(t, []string{
		StateSolicitQuotes, StateCollectQuotes, StateAwaitReview,
		StateInitiatePayment, StateAwaitPayment, StateFinalize,
	}, states)

	// The audit trail documents the whole lifecycle.
	entries, err := env.store.Read().Audit().ListByRequest(context.Background(), req.ID)
	require.NoError(t, err)
	var actions []string
	for _, e := range entries {
		actions = append(actions, e.Action)
	}
	assert.Equal(t, []string{
		"quotes_solicited", "quote_received", "quote_received", "quote_threshold_met",
		"request_approved", "payment_initiated", "payment_succeeded", "request_completed",
	}, actions)
}

func TestExecutor_DuplicateQuoteIgnored(t *testing.T) {
	env := newTestEnv(t, 3, 3)
	req := env.createRequest(t)
	env.advance(t, req.ID, &Trigger{Kind: TriggerRequestSubmitted})
	env.advance(t, req.ID, quoteTrigger("vendor-a", "1200.00"))

	before := env.execution(t, req.ID)

	outcome := env.advance(t, req.ID, quoteTrigger("vendor-a", "1200.00"))
	assert.Equal(t, OutcomeIgnored, outcome.Kind)
	assert.Equal(t, "duplicate quote", outcome.Detail)

	quotes, err := env.store.Read().Quotes().ListByRequest(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Len(t, quotes, 1)

	// An ignored delivery leaves the execution untouched.
	after := env.execution(t, req.ID)
	assert.Equal(t, before.Version, after.Version)
	assert.Len(t, after.Checkpoints, len(before.Checkpoints))
}

func TestExecutor_OutOfOrderTriggerIgnored(t *testing.T) {
	env := newTestEnv(t, 2, 3)
	req := env.createRequest(t)
	env.advance(t, req.ID, &Trigger{Kind: TriggerRequestSubmitted})

	// A gateway event while still collecting quotes does not apply.
	outcome := env.advance(t, req.ID, &Trigger{
		Kind: TriggerGatewayEvent, PaymentID: uuid.NewString(), PaymentStatus: repository.PaymentSucceeded,
	})
	assert.Equal(t, OutcomeIgnored, outcome.Kind)
	assert.Contains(t, outcome.Detail, "does not apply")

	// So does an approval before the threshold is met.
	outcome = env.advance(t, req.ID, &Trigger{Kind: TriggerReviewApproved, QuoteID: uuid.NewString()})
	assert.Equal(t, OutcomeIgnored, outcome.Kind)

	exec := env.execution(t, req.ID)
	assert.Equal(t, StateCollectQuotes, exec.CurrentState)
}

func TestExecutor_PaymentFailureAndRetry(t *testing.T) {
	env := newTestEnv(t, 2, 3)
	req, payment := env.runToAwaitPayment(t)

	// A failed gateway attempt returns the request to APPROVED. No new
	// attempt starts until an explicit retry.
	reason := "card declined"
	outcome := env.advance(t, req.ID, &Trigger{
		Kind: TriggerGatewayEvent, PaymentID: payment.ID,
		PaymentStatus: repository.PaymentFailed, FailureReason: &reason,
	})
	assert.Equal(t, OutcomeAdvanced, outcome.Kind)
	assert.Equal(t, StateInitiatePayment, outcome.State)
	assert.Equal(t, repository.RequestApproved, outcome.RequestState)
	assert.Equal(t, 1, env.gateway.callCount())
	assert.Len(t, env.payments(req.ID), 1)

	// Explicit retry starts a fresh payment attempt.
	outcome = env.advance(t, req.ID, &Trigger{Kind: TriggerPaymentRequested})
	assert.Equal(t, OutcomeAdvanced, outcome.Kind)
	assert.Equal(t, StateAwaitPayment, outcome.State)
	assert.Equal(t, 2, env.gateway.callCount())

	payments := env.payments(req.ID)
	require.Len(t, payments, 2)
	var second *repository.Payment
	for _, p := range payments {
		if p.ID != payment.ID {
			second = p
		}
	}
	require.NotNil(t, second)
	assert.NotEqual(t, payment.IdempotencyKey, second.IdempotencyKey)

	outcome = env.advance(t, req.ID, &Trigger{
		Kind: TriggerGatewayEvent, PaymentID: second.ID, PaymentStatus: repository.PaymentSucceeded,
	})
	assert.Equal(t, OutcomeAdvanced, outcome.Kind)
	assert.Equal(t, repository.RequestCompleted, outcome.RequestState)

	// Exactly one payment succeeded.
	succeeded := 0
	for _, p := range env.payments(req.ID) {
		if p.Status == repository.PaymentSucceeded {
			succeeded++
		}
	}
	assert.Equal(t, 1, succeeded)
}

func TestExecutor_ReplayedGatewayEventIgnored(t *testing.T) {
	env := newTestEnv(t, 2, 3)
	req, payment := env.runToAwaitPayment(t)

	env.advance(t, req.ID, &Trigger{
		Kind: TriggerGatewayEvent, PaymentID: payment.ID, PaymentStatus: repository.PaymentSucceeded,
	})

	// The workflow finished; a replay of the terminal event finds no active
	// execution.
	outcome := env.advance(t, req.ID, &Trigger{
		Kind: TriggerGatewayEvent, PaymentID: payment.ID, PaymentStatus: repository.PaymentSucceeded,
	})
	assert.Equal(t, OutcomeIgnored, outcome.Kind)
	assert.Equal(t, "no active workflow execution", outcome.Detail)
}

func TestExecutor_RefundAfterCompletion(t *testing.T) {
	env := newTestEnv(t, 2, 3)
	req, payment := env.runToAwaitPayment(t)

	env.advance(t, req.ID, &Trigger{
		Kind: TriggerGatewayEvent, PaymentID: payment.ID, PaymentStatus: repository.PaymentSucceeded,
	})
	require.Equal(t, repository.RequestCompleted, env.request(t, req.ID).Status)

	// A refund reported after the workflow finished still lands on the
	// payment row, without touching the request.
	outcome := env.advance(t, req.ID, &Trigger{
		Kind: TriggerGatewayEvent, PaymentID: payment.ID, PaymentStatus: repository.PaymentRefunded,
	})
	assert.Equal(t, OutcomeAdvanced, outcome.Kind)
	assert.Equal(t, "refund recorded", outcome.Detail)

	stored, err := env.store.Read().Payments().Get(context.Background(), payment.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.PaymentRefunded, stored.Status)
	assert.Equal(t, repository.RequestCompleted, env.request(t, req.ID).Status)

	entries, err := env.store.Read().Audit().ListByRequest(context.Background(), req.ID)
	require.NoError(t, err)
	var actions []string
	for _, e := range entries {
		actions = append(actions, e.Action)
	}
	assert.Contains(t, actions, "payment_refunded")

	// Replaying the refund is a no-op.
	outcome = env.advance(t, req.ID, &Trigger{
		Kind: TriggerGatewayEvent, PaymentID: payment.ID, PaymentStatus: repository.PaymentRefunded,
	})
	assert.Equal(t, OutcomeIgnored, outcome.Kind)
	assert.Equal(t, "refund already recorded", outcome.Detail)
}

func TestExecutor_QuoteAfterCancelRejected(t *testing.T) {
	env := newTestEnv(t, 2, 3)
	req := env.createRequest(t)
	env.advance(t, req.ID, &Trigger{Kind: TriggerRequestSubmitted})
	env.advance(t, req.ID, &Trigger{Kind: TriggerCancel, Reason: "budget pulled"})

	// A vendor quote after cancellation gets the explicit rejection rather
	// than a silent no-op.
	_, err := env.executor.Advance(context.Background(), req.ID, quoteTrigger("vendor-a", "1200.00"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeConflict))
	assert.Contains(t, err.Error(), "not accepting quotes")

	quotes, listErr := env.store.Read().Quotes().ListByRequest(context.Background(), req.ID)
	require.NoError(t, listErr)
	assert.Empty(t, quotes)
}

func TestExecutor_ApprovalRejectsReviewedQuotes(t *testing.T) {
	env := newTestEnv(t, 2, 3)
	req, winner := env.runToReview(t)

	// Mark the losing quote as already looked at; approval must still
	// reject every non-winning, non-terminal quote.
	quotes, err := env.store.Read().Quotes().ListByRequest(context.Background(), req.ID)
	require.NoError(t, err)
	for _, q := range quotes {
		if q.ID != winner.ID {
			require.NoError(t, env.store.Read().Quotes().UpdateStatus(context.Background(), q.ID, repository.QuoteReviewed))
		}
	}

	outcome := env.advance(t, req.ID, &Trigger{Kind: TriggerReviewApproved, QuoteID: winner.ID})
	require.Equal(t, OutcomeAdvanced, outcome.Kind)

	quotes, err = env.store.Read().Quotes().ListByRequest(context.Background(), req.ID)
	require.NoError(t, err)
	for _, q := range quotes {
		if q.ID == winner.ID {
			assert.Equal(t, repository.QuoteApproved, q.Status)
		} else {
			assert.Equal(t, repository.QuoteRejected, q.Status)
		}
	}
}

func TestExecutor_TransientErrorRetries(t *testing.T) {
	env := newTestEnv(t, 2, 3)
	req, winner := env.runToReview(t)

	// The approval commits, but the auto-continued payment initiation hits a
	// gateway outage. The error surfaces so the transport redelivers.
	env.gateway.err = fmt.Errorf("connection refused")
	_, err := env.executor.Advance(context.Background(), req.ID, &Trigger{Kind: TriggerReviewApproved, QuoteID: winner.ID})
	require.Error(t, err)

	exec := env.execution(t, req.ID)
	assert.Equal(t, repository.WorkflowRunning, exec.Status)
	assert.Equal(t, StateInitiatePayment, exec.CurrentState)
	assert.Equal(t, 1, exec.StateData.Step(StateInitiatePayment).Attempts)
	assert.Equal(t, repository.RequestApproved, env.request(t, req.ID).Status)

	// Once the gateway recovers, a redelivered retry succeeds and the
	// attempt counter for the step resets.
	env.gateway.err = nil
	outcome := env.advance(t, req.ID, &Trigger{Kind: TriggerPaymentRequested})
	assert.Equal(t, OutcomeAdvanced, outcome.Kind)
	assert.Equal(t, StateAwaitPayment, outcome.State)

	exec = env.execution(t, req.ID)
	assert.Equal(t, 0, exec.StateData.Step(StateInitiatePayment).Attempts)
}

func TestExecutor_TransientErrorExhaustsRetries(t *testing.T) {
	env := newTestEnv(t, 2, 2)
	req, winner := env.runToReview(t)

	env.gateway.err = fmt.Errorf("connection refused")
	_, err := env.executor.Advance(context.Background(), req.ID, &Trigger{Kind: TriggerReviewApproved, QuoteID: winner.ID})
	require.Error(t, err)

	outcome, err := env.executor.Advance(context.Background(), req.ID, &Trigger{Kind: TriggerPaymentRequested})
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, outcome.Kind)

	exec := env.execution(t, req.ID)
	assert.Equal(t, repository.WorkflowFailed, exec.Status)
	require.NotNil(t, exec.ErrorMessage)

	// The request keeps its last valid status for an operator to act on.
	assert.Equal(t, repository.RequestApproved, env.request(t, req.ID).Status)
}

func TestExecutor_FatalErrorFailsImmediately(t *testing.T) {
	env := newTestEnv(t, 2, 3)
	req, _ := env.runToReview(t)

	other := env.createRequest(t)
	env.advance(t, other.ID, &Trigger{Kind: TriggerRequestSubmitted})
	env.advance(t, other.ID, quoteTrigger("vendor-x", "500.00"))
	quotes, err := env.store.Read().Quotes().ListByRequest(context.Background(), other.ID)
	require.NoError(t, err)
	require.Len(t, quotes, 1)

	// Approving with a quote that belongs to a different request is an
	// integrity violation, not a retryable condition.
	outcome, err := env.executor.Advance(context.Background(), req.ID, &Trigger{Kind: TriggerReviewApproved, QuoteID: quotes[0].ID})
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, outcome.Kind)
	assert.Equal(t, repository.WorkflowFailed, env.execution(t, req.ID).Status)
}

func TestExecutor_CancelIsIdempotent(t *testing.T) {
	env := newTestEnv(t, 2, 3)
	req := env.createRequest(t)
	env.advance(t, req.ID, &Trigger{Kind: TriggerRequestSubmitted})
	env.advance(t, req.ID, quoteTrigger("vendor-a", "1200.00"))

	outcome := env.advance(t, req.ID, &Trigger{Kind: TriggerCancel, Reason: "budget withdrawn"})
	assert.Equal(t, OutcomeAdvanced, outcome.Kind)
	assert.Equal(t, repository.RequestCancelled, outcome.RequestState)
	assert.Equal(t, repository.WorkflowCancelled, env.execution(t, req.ID).Status)

	outcome = env.advance(t, req.ID, &Trigger{Kind: TriggerCancel})
	assert.Equal(t, OutcomeIgnored, outcome.Kind)

	// Quotes arriving after cancellation are ignored as well.
	outcome = env.advance(t, req.ID, quoteTrigger("vendor-b", "1000.00"))
	assert.Equal(t, OutcomeIgnored, outcome.Kind)
}

func TestExecutor_QuoteDeadline(t *testing.T) {
	t.Run("proceeds with at least one quote", func(t *testing.T) {
		env := newTestEnv(t, 3, 3)
		req := env.createRequest(t)
		env.advance(t, req.ID, &Trigger{Kind: TriggerRequestSubmitted})
		env.advance(t, req.ID, quoteTrigger("vendor-a", "1200.00"))

		outcome := env.advance(t, req.ID, &Trigger{Kind: TriggerQuoteDeadline})
		assert.Equal(t, OutcomeAdvanced, outcome.Kind)
		assert.Equal(t, StateAwaitReview, outcome.State)
		assert.Equal(t, repository.RequestQuotesReceived, outcome.RequestState)
	})

	t.Run("cancels an empty solicitation", func(t *testing.T) {
		env := newTestEnv(t, 3, 3)
		req := env.createRequest(t)
		env.advance(t, req.ID, &Trigger{Kind: TriggerRequestSubmitted})

		outcome := env.advance(t, req.ID, &Trigger{Kind: TriggerQuoteDeadline})
		assert.Equal(t, OutcomeAdvanced, outcome.Kind)
		assert.Equal(t, repository.RequestCancelled, outcome.RequestState)
		assert.Equal(t, repository.WorkflowCancelled, env.execution(t, req.ID).Status)
	})
}

func TestExecutor_SingleActiveExecutionPerRequest(t *testing.T) {
	env := newTestEnv(t, 2, 3)
	req := env.createRequest(t)

	err := env.store.InTransaction(context.Background(), func(tx repository.Tx) error {
		_, err := env.executor.CreateExecution(context.Background(), tx, req.ID)
		return err
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeConflict))
}

func TestExecutor_ResumeRunning(t *testing.T) {
	env := newTestEnv(t, 2, 3)
	req, payment := env.runToAwaitPayment(t)

	// Apply the success event without the auto-continue loop, simulating a
	// crash after the await_payment commit but before finalize ran.
	outcome, err := env.executor.advanceLocked(context.Background(), req.ID, &Trigger{
		Kind: TriggerGatewayEvent, PaymentID: payment.ID, PaymentStatus: repository.PaymentSucceeded,
	})
	require.NoError(t, err)
	require.Equal(t, StateFinalize, outcome.State)
	require.Equal(t, repository.RequestPaid, env.request(t, req.ID).Status)

	require.NoError(t, env.executor.ResumeRunning(context.Background(), 2))

	assert.Equal(t, repository.RequestCompleted, env.request(t, req.ID).Status)
	assert.Equal(t, repository.WorkflowCompleted, env.execution(t, req.ID).Status)
}

func TestExecutor_ResumeWhileCollectingQuotesIsNoOp(t *testing.T) {
	env := newTestEnv(t, 3, 3)
	req := env.createRequest(t)
	env.advance(t, req.ID, &Trigger{Kind: TriggerRequestSubmitted})
	env.advance(t, req.ID, quoteTrigger("vendor-a", "1200.00"))

	before := env.execution(t, req.ID)
	require.Equal(t, StateCollectQuotes, before.CurrentState)

	// Resume re-delivers the stored quote trigger; the reconciler sees a
	// duplicate and nothing moves.
	require.NoError(t, env.executor.ResumeRunning(context.Background(), 2))

	after := env.execution(t, req.ID)
	assert.Equal(t, StateCollectQuotes, after.CurrentState)
	assert.Equal(t, repository.WorkflowRunning, after.Status)
	assert.Equal(t, before.Version, after.Version)

	quotes, err := env.store.Read().Quotes().ListByRequest(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Len(t, quotes, 1)
}
