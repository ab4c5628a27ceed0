package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pesio-ai/be-procure-requests/internal/errors"
	"github.com/pesio-ai/be-procure-requests/internal/logger"
	"github.com/pesio-ai/be-procure-requests/internal/metrics"
	"github.com/pesio-ai/be-procure-requests/internal/repository"
)

// Workflow and entity type identifiers persisted on execution rows.
const (
	TypeProcurement   = "procurement"
	EntityTypeRequest = "procurement_request"
)

// Step names. These are persisted as WorkflowExecution.currentState and as
// StateData keys, so they must stay stable.
const (
	StateSolicitQuotes   = "solicit_quotes"
	StateCollectQuotes   = "collect_quotes"
	StateAwaitReview     = "await_review"
	StateInitiatePayment = "initiate_payment"
	StateAwaitPayment    = "await_payment"
	StateFinalize        = "finalize"
	StateCompleted       = "completed"
)

// stepTriggers lists which trigger kinds apply to each step. A trigger
// outside this set is Ignored, not an error: late and duplicate deliveries
// are normal in an async system.
var stepTriggers = map[string]map[TriggerKind]bool{
	StateSolicitQuotes:   {TriggerRequestSubmitted: true, triggerContinue: true},
	StateCollectQuotes:   {TriggerQuoteReceived: true, TriggerQuoteDeadline: true},
	StateAwaitReview:     {TriggerReviewApproved: true},
	StateInitiatePayment: {TriggerPaymentRequested: true, triggerContinue: true},
	StateAwaitPayment:    {TriggerGatewayEvent: true},
	StateFinalize:        {triggerContinue: true},
}

// Clock is the time collaborator, swappable in tests.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

// Config tunes the executor.
type Config struct {
	// StepRetryLimit is how many times one step may fail transiently before
	// the execution moves to FAILED.
	StepRetryLimit int
}

// Executor drives procurement workflow executions step by step. Each step
// commits its domain mutation, checkpoint and audit entry in one
// transaction; per-entity serialization comes from an in-process keyed lock
// plus the optimistic version token on the execution row.
type Executor struct {
	store       repository.Store
	machine     *StateMachine
	reconciler  *Reconciler
	coordinator *PaymentCoordinator
	recorder    *Recorder
	clock       Clock
	cfg         Config
	log         *logger.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewExecutor creates a workflow executor.
func NewExecutor(store repository.Store, reconciler *Reconciler, coordinator *PaymentCoordinator, cfg Config, log *logger.Logger) *Executor {
	if cfg.StepRetryLimit < 1 {
		cfg.StepRetryLimit = 3
	}
	return &Executor{
		store:       store,
		machine:     NewStateMachine(),
		reconciler:  reconciler,
		coordinator: coordinator,
		recorder:    NewRecorder(),
		clock:       realClock{},
		cfg:         cfg,
		log:         log,
		locks:       map[string]*sync.Mutex{},
	}
}

// WithClock replaces the clock. Test hook.
func (e *Executor) WithClock(c Clock) *Executor {
	e.clock = c
	return e
}

// entityLock returns the mutex serializing advances for one entity.
func (e *Executor) entityLock(entityID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	key := TypeProcurement + "/" + entityID
	if e.locks[key] == nil {
		e.locks[key] = &sync.Mutex{}
	}
	return e.locks[key]
}

// CreateExecution inserts the execution row for a freshly created request.
// Called inside the same transaction that creates the request itself.
func (e *Executor) CreateExecution(ctx context.Context, tx repository.Tx, requestID string) (*repository.WorkflowExecution, error) {
	exec := &repository.WorkflowExecution{
		ID:           uuid.NewString(),
		WorkflowType: TypeProcurement,
		EntityID:     requestID,
		EntityType:   EntityTypeRequest,
		CurrentState: StateSolicitQuotes,
		StateData:    repository.StateData{},
		Status:       repository.WorkflowPending,
		Checkpoints:  []repository.Checkpoint{},
	}
	if err := tx.Executions().Insert(ctx, exec); err != nil {
		return nil, err
	}
	return exec, nil
}

// Advance delivers one trigger to the workflow for an entity. The result is
// always a typed outcome for expected conditions; an error is returned only
// for transient infrastructure failures that the transport should redeliver.
func (e *Executor) Advance(ctx context.Context, entityID string, trigger *Trigger) (*StepOutcome, error) {
	lock := e.entityLock(entityID)
	lock.Lock()
	defer lock.Unlock()

	outcome, err := e.advanceLocked(ctx, entityID, trigger)
	if err != nil {
		return outcome, err
	}

	// Auto steps carry no external wait: run them immediately, one
	// transaction each, while still holding the entity lock.
	for outcome.Kind == OutcomeAdvanced && outcome.autoContinue {
		next, err := e.advanceLocked(ctx, entityID, &Trigger{Kind: triggerContinue})
		if err != nil {
			return next, err
		}
		if next.Kind == OutcomeIgnored {
			break
		}
		outcome = next
	}
	return outcome, nil
}

func (e *Executor) advanceLocked(ctx context.Context, entityID string, trigger *Trigger) (*StepOutcome, error) {
	exec, err := e.store.Read().Executions().GetActive(ctx, TypeProcurement, entityID)
	if err != nil {
		return nil, err
	}
	if exec == nil {
		// A refund reported after the workflow finished is still applied to
		// the payment row.
		if trigger.Kind == TriggerGatewayEvent && trigger.PaymentStatus == repository.PaymentRefunded {
			return e.applyLateRefund(ctx, entityID, trigger)
		}
		// A quote for a request that left the collection phase gets the
		// explicit rejection, not a silent no-op, so the submitter learns
		// the request is closed.
		if trigger.Kind == TriggerQuoteReceived {
			req, err := e.store.Read().Requests().Get(ctx, entityID)
			if err != nil {
				return nil, err
			}
			if req.Status != repository.RequestQuotesRequested && req.Status != repository.RequestQuotesReceived {
				return nil, ErrRequestNotAcceptingQuotes
			}
		}
		// No active execution: either the entity is unknown or its workflow
		// already reached a terminal status. Both are expected late traffic.
		metrics.WorkflowSteps.WithLabelValues(string(OutcomeIgnored)).Inc()
		return &StepOutcome{Kind: OutcomeIgnored, Detail: "no active workflow execution"}, nil
	}

	if trigger.Kind == TriggerCancel {
		return e.cancel(ctx, exec, trigger)
	}

	if !stepTriggers[exec.CurrentState][trigger.Kind] {
		metrics.WorkflowSteps.WithLabelValues(string(OutcomeIgnored)).Inc()
		return &StepOutcome{
			Kind:   OutcomeIgnored,
			State:  exec.CurrentState,
			Detail: fmt.Sprintf("trigger %s does not apply to state %s", trigger.Kind, exec.CurrentState),
		}, nil
	}

	outcome, stepErr := e.runStep(ctx, exec, trigger)
	if stepErr == nil {
		metrics.WorkflowSteps.WithLabelValues(string(outcome.Kind)).Inc()
		return outcome, nil
	}

	return e.handleStepError(ctx, exec, trigger, stepErr)
}

// runStep executes the body for the execution's current state inside one
// transaction. The domain mutation, the checkpoint append and the audit
// entry all commit or roll back together.
func (e *Executor) runStep(ctx context.Context, exec *repository.WorkflowExecution, trigger *Trigger) (*StepOutcome, error) {
	var outcome *StepOutcome

	err := e.store.InTransaction(ctx, func(tx repository.Tx) error {
		req, err := tx.Requests().Get(ctx, exec.EntityID)
		if err != nil {
			return err
		}

		res, err := e.executeBody(ctx, tx, exec, req, trigger)
		if err != nil {
			return err
		}
		if res.ignored {
			outcome = &StepOutcome{Kind: OutcomeIgnored, State: exec.CurrentState, RequestState: req.Status, Detail: res.detail}
			return nil
		}

		// Checkpoint the finished step before moving the state pointer.
		if res.nextState != "" && res.nextState != exec.CurrentState {
			exec.Checkpoints = append(exec.Checkpoints, repository.Checkpoint{
				State:     exec.CurrentState,
				EnteredAt: e.clock.Now(),
			})
			exec.StateData.Step(exec.CurrentState).Attempts = 0
			exec.CurrentState = res.nextState
		}
		if exec.Status == repository.WorkflowPending {
			exec.Status = repository.WorkflowRunning
		}
		if res.executionStatus != "" {
			exec.Status = res.executionStatus
		}

		// Persist the trigger that will be re-delivered after a restart.
		// When the next step runs automatically, persist a continue trigger
		// so resume re-runs it instead of replaying a stale external one.
		if res.auto && !exec.Status.IsTerminal() {
			exec.LastTrigger = (&Trigger{Kind: triggerContinue}).Marshal()
		} else {
			exec.LastTrigger = trigger.Marshal()
		}

		if err := tx.Executions().Update(ctx, exec); err != nil {
			return err
		}

		outcome = &StepOutcome{
			Kind:         OutcomeAdvanced,
			State:        exec.CurrentState,
			RequestState: res.requestStatus,
			Detail:       res.detail,
			autoContinue: res.auto,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

// stepResult is what one step body reports back to runStep.
type stepResult struct {
	ignored         bool
	detail          string
	nextState       string
	requestStatus   repository.RequestStatus
	executionStatus repository.WorkflowStatus
	// auto asks the executor to immediately run the next step on a
	// synthetic continue trigger.
	auto bool
}

func (e *Executor) executeBody(ctx context.Context, tx repository.Tx, exec *repository.WorkflowExecution, req *repository.ProcurementRequest, trigger *Trigger) (*stepResult, error) {
	switch exec.CurrentState {
	case StateSolicitQuotes:
		return e.stepSolicitQuotes(ctx, tx, req, trigger)
	case StateCollectQuotes:
		return e.stepCollectQuotes(ctx, tx, exec, req, trigger)
	case StateAwaitReview:
		return e.stepAwaitReview(ctx, tx, req, trigger)
	case StateInitiatePayment:
		return e.stepInitiatePayment(ctx, tx, req, trigger)
	case StateAwaitPayment:
		return e.stepAwaitPayment(ctx, tx, req, trigger)
	case StateFinalize:
		return e.stepFinalize(ctx, tx, req, trigger)
	default:
		return nil, errors.New(errors.ErrCodeInternal,
			fmt.Sprintf("unknown workflow state %q", exec.CurrentState))
	}
}

// ── step bodies ──────────────────────────────────────────────────────────────

func (e *Executor) stepSolicitQuotes(ctx context.Context, tx repository.Tx, req *repository.ProcurementRequest, trigger *Trigger) (*stepResult, error) {
	next, err := e.machine.Transition(req.Status, EventQuotesSolicited)
	if err != nil {
		return nil, err
	}
	if err := tx.Requests().UpdateStatus(ctx, req.ID, next, trigger.ActorUserID); err != nil {
		return nil, err
	}
	if err := tx.Requests().MarkRequested(ctx, req.ID, e.clock.Now()); err != nil {
		return nil, err
	}

	old, new := statusChange(string(req.Status), string(next))
	if err := e.recorder.Record(ctx, tx, "quotes_solicited", EntityTypeRequest, req.ID, old, new, trigger.ActorUserID, &req.ID); err != nil {
		return nil, err
	}

	return &stepResult{nextState: StateCollectQuotes, requestStatus: next}, nil
}

func (e *Executor) stepCollectQuotes(ctx context.Context, tx repository.Tx, exec *repository.WorkflowExecution, req *repository.ProcurementRequest, trigger *Trigger) (*stepResult, error) {
	if trigger.Kind == TriggerQuoteDeadline {
		return e.resolveQuoteDeadline(ctx, tx, req, trigger)
	}

	if trigger.Quote == nil {
		return nil, errors.InvalidInput("quote", "quote payload is required")
	}

	rec, quote, err := e.reconciler.Ingest(ctx, tx, req, trigger.Quote)
	if err != nil {
		if errors.Is(err, errors.ErrCodeConflict) {
			// Request stopped collecting between delivery and execution.
			return &stepResult{ignored: true, detail: err.Error()}, nil
		}
		return nil, err
	}

	switch rec {
	case ReconcileDuplicate:
		return &stepResult{ignored: true, detail: "duplicate quote"}, nil

	case ReconcileAccepted:
		if err := e.recorder.Record(ctx, tx, "quote_received", "quote", quote.ID,
			nil, map[string]interface{}{
				"vendor_id":    quote.VendorID,
				"total_amount": quote.TotalAmount.String(),
				"source":       string(quote.Source),
			}, trigger.ActorUserID, &req.ID); err != nil {
			return nil, err
		}
		return &stepResult{requestStatus: req.Status, detail: "quote stored; awaiting more"}, nil

	case ReconcileThresholdMet:
		if err := e.recorder.Record(ctx, tx, "quote_received", "quote", quote.ID,
			nil, map[string]interface{}{
				"vendor_id":    quote.VendorID,
				"total_amount": quote.TotalAmount.String(),
				"source":       string(quote.Source),
			}, trigger.ActorUserID, &req.ID); err != nil {
			return nil, err
		}
		return e.fireThresholdMet(ctx, tx, req, trigger)

	default:
		return nil, errors.New(errors.ErrCodeInternal, fmt.Sprintf("unknown reconcile outcome %q", rec))
	}
}

func (e *Executor) resolveQuoteDeadline(ctx context.Context, tx repository.Tx, req *repository.ProcurementRequest, trigger *Trigger) (*stepResult, error) {
	decision, err := e.reconciler.ResolveDeadline(ctx, tx, req.ID)
	if err != nil {
		return nil, err
	}
	switch decision {
	case DeadlineProceed:
		return e.fireThresholdMet(ctx, tx, req, trigger)
	case DeadlineCancel:
		return e.cancelInTx(ctx, tx, req, trigger, "quote deadline elapsed with no quotes")
	default:
		return &stepResult{ignored: true, detail: "policy elected to keep waiting"}, nil
	}
}

func (e *Executor) fireThresholdMet(ctx context.Context, tx repository.Tx, req *repository.ProcurementRequest, trigger *Trigger) (*stepResult, error) {
	next, err := e.machine.Transition(req.Status, EventQuoteThresholdMet)
	if err != nil {
		return nil, err
	}
	if err := tx.Requests().UpdateStatus(ctx, req.ID, next, trigger.ActorUserID); err != nil {
		return nil, err
	}
	old, new := statusChange(string(req.Status), string(next))
	if err := e.recorder.Record(ctx, tx, "quote_threshold_met", EntityTypeRequest, req.ID, old, new, trigger.ActorUserID, &req.ID); err != nil {
		return nil, err
	}
	return &stepResult{nextState: StateAwaitReview, requestStatus: next}, nil
}

func (e *Executor) stepAwaitReview(ctx context.Context, tx repository.Tx, req *repository.ProcurementRequest, trigger *Trigger) (*stepResult, error) {
	if trigger.QuoteID == "" {
		return nil, errors.InvalidInput("quote_id", "approved quote id is required")
	}
	quote, err := tx.Quotes().Get(ctx, trigger.QuoteID)
	if err != nil {
		return nil, err
	}
	if quote.RequestID != req.ID {
		return nil, errors.New(errors.ErrCodeUnprocessable, "quote does not belong to this request")
	}
	if quote.Status != repository.QuotePending && quote.Status != repository.QuoteReviewed {
		return nil, errors.Conflict(fmt.Sprintf("cannot approve quote with status %s", quote.Status))
	}

	// The review happens in one delivery: the request passes through
	// UNDER_REVIEW on its way to APPROVED.
	reviewing, err := e.machine.Transition(req.Status, EventReviewStarted)
	if err != nil {
		return nil, err
	}
	approved, err := e.machine.Transition(reviewing, EventReviewApproved)
	if err != nil {
		return nil, err
	}

	if err := tx.Requests().UpdateStatus(ctx, req.ID, approved, trigger.ActorUserID); err != nil {
		return nil, err
	}
	if err := tx.Requests().MarkApproved(ctx, req.ID, quote.VendorID, quote.ID, e.clock.Now()); err != nil {
		return nil, err
	}
	if err := tx.Quotes().UpdateStatus(ctx, quote.ID, repository.QuoteApproved); err != nil {
		return nil, err
	}
	if err := tx.Quotes().RejectAllExcept(ctx, req.ID, quote.ID); err != nil {
		return nil, err
	}

	old := map[string]interface{}{"status": string(req.Status)}
	new := map[string]interface{}{
		"status":             string(approved),
		"approved_quote_id":  quote.ID,
		"approved_vendor_id": quote.VendorID,
	}
	if err := e.recorder.Record(ctx, tx, "request_approved", EntityTypeRequest, req.ID, old, new, trigger.ActorUserID, &req.ID); err != nil {
		return nil, err
	}

	return &stepResult{nextState: StateInitiatePayment, requestStatus: approved, auto: true}, nil
}

func (e *Executor) stepInitiatePayment(ctx context.Context, tx repository.Tx, req *repository.ProcurementRequest, trigger *Trigger) (*stepResult, error) {
	if req.ApprovedQuoteID == nil {
		return nil, errors.New(errors.ErrCodeUnprocessable, "request has no approved quote")
	}
	quote, err := tx.Quotes().Get(ctx, *req.ApprovedQuoteID)
	if err != nil {
		return nil, err
	}

	payment, err := e.coordinator.Initiate(ctx, tx, req, quote)
	if err != nil {
		return nil, err
	}

	next, err := e.machine.Transition(req.Status, EventPaymentInitiated)
	if err != nil {
		return nil, err
	}
	if err := tx.Requests().UpdateStatus(ctx, req.ID, next, trigger.ActorUserID); err != nil {
		return nil, err
	}

	if err := e.recorder.Record(ctx, tx, "payment_initiated", "payment", payment.ID,
		nil, map[string]interface{}{
			"quote_id": quote.ID,
			"amount":   payment.Amount.String(),
			"currency": payment.Currency,
			"status":   string(payment.Status),
		}, trigger.ActorUserID, &req.ID); err != nil {
		return nil, err
	}

	return &stepResult{nextState: StateAwaitPayment, requestStatus: next}, nil
}

func (e *Executor) stepAwaitPayment(ctx context.Context, tx repository.Tx, req *repository.ProcurementRequest, trigger *Trigger) (*stepResult, error) {
	if trigger.PaymentID == "" {
		return nil, errors.InvalidInput("payment_id", "payment id is required")
	}

	res, err := e.coordinator.ApplyGatewayEvent(ctx, tx, trigger.PaymentID, trigger.PaymentStatus, trigger.GatewayRef, trigger.FailureReason)
	if err != nil {
		return nil, err
	}
	if res.Payment.RequestID != req.ID {
		return nil, errors.New(errors.ErrCodeUnprocessable, "payment does not belong to this request")
	}
	if !res.Applied {
		return &stepResult{ignored: true, detail: "gateway event already applied"}, nil
	}

	switch trigger.PaymentStatus {
	case repository.PaymentSucceeded:
		next, err := e.machine.Transition(req.Status, EventPaymentConfirmed)
		if err != nil {
			return nil, err
		}
		if err := tx.Requests().UpdateStatus(ctx, req.ID, next, nil); err != nil {
			return nil, err
		}
		old, new := statusChange(string(req.Status), string(next))
		if err := e.recorder.Record(ctx, tx, "payment_succeeded", "payment", res.Payment.ID, old, new, nil, &req.ID); err != nil {
			return nil, err
		}
		return &stepResult{nextState: StateFinalize, requestStatus: next, auto: true}, nil

	case repository.PaymentFailed, repository.PaymentCancelled:
		next, err := e.machine.Transition(req.Status, EventPaymentFailed)
		if err != nil {
			return nil, err
		}
		if err := tx.Requests().UpdateStatus(ctx, req.ID, next, nil); err != nil {
			return nil, err
		}
		old, new := statusChange(string(req.Status), string(next))
		if err := e.recorder.Record(ctx, tx, "payment_failed", "payment", res.Payment.ID, old, new, nil, &req.ID); err != nil {
			return nil, err
		}
		// Back to initiate_payment, but only an explicit retry trigger
		// starts a new attempt.
		return &stepResult{nextState: StateInitiatePayment, requestStatus: next}, nil

	case repository.PaymentRefunded:
		// Recorded on the payment only; refunds are an operator concern and
		// do not drive the request lifecycle.
		if err := e.recorder.Record(ctx, tx, "payment_refunded", "payment", res.Payment.ID, nil,
			map[string]interface{}{"status": string(repository.PaymentRefunded)}, nil, &req.ID); err != nil {
			return nil, err
		}
		return &stepResult{requestStatus: req.Status, detail: "refund recorded"}, nil

	default:
		// PROCESSING and other intermediate updates carry no workflow
		// consequence.
		return &stepResult{requestStatus: req.Status, detail: "intermediate gateway status recorded"}, nil
	}
}

// applyLateRefund records a REFUNDED status arriving after the workflow
// reached a terminal status. The refund touches only the payment row; what
// follows a refund on a finished request is an operator concern, not a
// workflow step.
func (e *Executor) applyLateRefund(ctx context.Context, entityID string, trigger *Trigger) (*StepOutcome, error) {
	if trigger.PaymentID == "" {
		return nil, errors.InvalidInput("payment_id", "payment id is required")
	}

	var res *GatewayEventResult
	err := e.store.InTransaction(ctx, func(tx repository.Tx) error {
		payment, err := tx.Payments().Get(ctx, trigger.PaymentID)
		if err != nil {
			return err
		}
		if payment.RequestID != entityID {
			return errors.New(errors.ErrCodeUnprocessable, "payment does not belong to this request")
		}
		prior := payment.Status

		res, err = e.coordinator.ApplyGatewayEvent(ctx, tx, trigger.PaymentID, trigger.PaymentStatus, trigger.GatewayRef, trigger.FailureReason)
		if err != nil {
			return err
		}
		if !res.Applied {
			return nil
		}

		old, new := statusChange(string(prior), string(repository.PaymentRefunded))
		return e.recorder.Record(ctx, tx, "payment_refunded", "payment", payment.ID, old, new, trigger.ActorUserID, &entityID)
	})
	if err != nil {
		return nil, err
	}

	if !res.Applied {
		metrics.WorkflowSteps.WithLabelValues(string(OutcomeIgnored)).Inc()
		return &StepOutcome{Kind: OutcomeIgnored, Detail: "refund already recorded"}, nil
	}
	metrics.WorkflowSteps.WithLabelValues(string(OutcomeAdvanced)).Inc()
	return &StepOutcome{Kind: OutcomeAdvanced, State: StateCompleted, Detail: "refund recorded"}, nil
}

func (e *Executor) stepFinalize(ctx context.Context, tx repository.Tx, req *repository.ProcurementRequest, trigger *Trigger) (*stepResult, error) {
	next, err := e.machine.Transition(req.Status, EventComplete)
	if err != nil {
		return nil, err
	}
	if err := tx.Requests().UpdateStatus(ctx, req.ID, next, nil); err != nil {
		return nil, err
	}
	if err := tx.Requests().MarkCompleted(ctx, req.ID, e.clock.Now()); err != nil {
		return nil, err
	}
	old, new := statusChange(string(req.Status), string(next))
	if err := e.recorder.Record(ctx, tx, "request_completed", EntityTypeRequest, req.ID, old, new, nil, &req.ID); err != nil {
		return nil, err
	}
	return &stepResult{
		nextState:       StateCompleted,
		requestStatus:   next,
		executionStatus: repository.WorkflowCompleted,
	}, nil
}

// ── cancellation ─────────────────────────────────────────────────────────────

// cancel applies a Cancel trigger: request and execution become CANCELLED in
// the same transaction. Cancelling twice is a no-op.
func (e *Executor) cancel(ctx context.Context, exec *repository.WorkflowExecution, trigger *Trigger) (*StepOutcome, error) {
	var outcome *StepOutcome
	err := e.store.InTransaction(ctx, func(tx repository.Tx) error {
		req, err := tx.Requests().Get(ctx, exec.EntityID)
		if err != nil {
			return err
		}
		if req.Status.IsTerminal() {
			outcome = &StepOutcome{Kind: OutcomeIgnored, State: exec.CurrentState, RequestState: req.Status, Detail: "already terminal"}
			return nil
		}

		res, err := e.cancelInTx(ctx, tx, req, trigger, trigger.Reason)
		if err != nil {
			return err
		}

		exec.Status = repository.WorkflowCancelled
		exec.LastTrigger = trigger.Marshal()
		if err := tx.Executions().Update(ctx, exec); err != nil {
			return err
		}

		outcome = &StepOutcome{Kind: OutcomeAdvanced, State: exec.CurrentState, RequestState: res.requestStatus, Detail: "cancelled"}
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.WorkflowSteps.WithLabelValues(string(outcome.Kind)).Inc()
	return outcome, nil
}

// cancelInTx moves the request to CANCELLED and records the audit entry,
// without touching the execution row (the caller owns that).
func (e *Executor) cancelInTx(ctx context.Context, tx repository.Tx, req *repository.ProcurementRequest, trigger *Trigger, reason string) (*stepResult, error) {
	next, err := e.machine.Transition(req.Status, EventCancel)
	if err != nil {
		return nil, err
	}
	if err := tx.Requests().UpdateStatus(ctx, req.ID, next, trigger.ActorUserID); err != nil {
		return nil, err
	}
	old := map[string]interface{}{"status": string(req.Status)}
	new := map[string]interface{}{"status": string(next)}
	if reason != "" {
		new["reason"] = reason
	}
	if err := e.recorder.Record(ctx, tx, "request_cancelled", EntityTypeRequest, req.ID, old, new, trigger.ActorUserID, &req.ID); err != nil {
		return nil, err
	}
	return &stepResult{requestStatus: next, executionStatus: repository.WorkflowCancelled}, nil
}

// ── failure handling ─────────────────────────────────────────────────────────

// handleStepError classifies a step failure. Ordering/integrity errors fail
// the execution immediately; transient errors bump the per-step retry
// counter and either leave the execution RUNNING (so a redelivery re-runs
// the same step) or, at the limit, fail it.
func (e *Executor) handleStepError(ctx context.Context, exec *repository.WorkflowExecution, trigger *Trigger, stepErr error) (*StepOutcome, error) {
	code := errors.CodeOf(stepErr)

	fatal := code == errors.ErrCodeUnprocessable || code == errors.ErrCodeInvalidInput
	if !fatal {
		attempts := e.bumpAttempts(ctx, exec, stepErr)
		if attempts < e.cfg.StepRetryLimit {
			e.log.Warn().Err(stepErr).
				Str("entity_id", exec.EntityID).
				Str("state", exec.CurrentState).
				Int("attempts", attempts).
				Msg("Workflow step failed; will retry on redelivery")
			// Surface the error so the transport redelivers; the execution
			// stays RUNNING on the same step.
			return nil, stepErr
		}
	}

	// Exhausted or fatal: park the execution, leave the request in its last
	// valid status for an operator.
	msg := stepErr.Error()
	exec.Status = repository.WorkflowFailed
	exec.ErrorMessage = &msg
	if err := e.store.Read().Executions().Update(ctx, exec); err != nil {
		e.log.Error().Err(err).Str("entity_id", exec.EntityID).Msg("Failed to persist FAILED execution status")
		return nil, err
	}

	metrics.WorkflowFailures.Inc()
	e.log.Error().Err(stepErr).
		Str("entity_id", exec.EntityID).
		Str("state", exec.CurrentState).
		Bool("fatal", fatal).
		Msg("Workflow execution failed")

	return &StepOutcome{Kind: OutcomeFailed, State: exec.CurrentState, Detail: msg}, nil
}

// bumpAttempts persists an incremented retry counter for the current step
// and returns the new count. Persisting outside the (rolled back) step
// transaction is deliberate.
func (e *Executor) bumpAttempts(ctx context.Context, exec *repository.WorkflowExecution, stepErr error) int {
	step := exec.StateData.Step(exec.CurrentState)
	step.Attempts++
	step.LastError = stepErr.Error()

	if err := e.store.Read().Executions().Update(ctx, exec); err != nil {
		e.log.Warn().Err(err).Str("entity_id", exec.EntityID).Msg("Failed to persist retry counter")
	}
	return step.Attempts
}
