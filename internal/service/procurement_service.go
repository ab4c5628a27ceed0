package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-procure-requests/internal/client"
	"github.com/pesio-ai/be-procure-requests/internal/errors"
	"github.com/pesio-ai/be-procure-requests/internal/logger"
	"github.com/pesio-ai/be-procure-requests/internal/metrics"
	"github.com/pesio-ai/be-procure-requests/internal/repository"
	"github.com/pesio-ai/be-procure-requests/internal/workflow"
)

// validPriorities is the closed set of request priorities.
var validPriorities = map[string]bool{
	"low":    true,
	"normal": true,
	"high":   true,
	"urgent": true,
}

// ProcurementService handles procurement request business logic. State
// transitions themselves are owned by the workflow executor; the service
// validates input, creates requests, and translates API calls and broker
// messages into workflow triggers.
type ProcurementService struct {
	store    repository.Store
	executor *workflow.Executor
	recorder *workflow.Recorder
	notifier *client.NotificationPublisher
	log      *logger.Logger
}

// NewProcurementService creates a new procurement service.
func NewProcurementService(
	store repository.Store,
	executor *workflow.Executor,
	notifier *client.NotificationPublisher,
	log *logger.Logger,
) *ProcurementService {
	return &ProcurementService{
		store:    store,
		executor: executor,
		recorder: workflow.NewRecorder(),
		notifier: notifier,
		log:      log,
	}
}

// CreateRequestRequest represents a create procurement request call.
type CreateRequestRequest struct {
	OrgID     string
	Priority  string
	Currency  string
	Items     []*RequestItemRequest
	CreatedBy string
}

// RequestItemRequest represents one requested line item.
type RequestItemRequest struct {
	Description string
	Quantity    decimal.Decimal
	Unit        *string
	ItemCode    *string
}

// CreateRequest creates a procurement request together with its workflow
// execution, then delivers the submission trigger that solicits quotes.
func (s *ProcurementService) CreateRequest(ctx context.Context, in *CreateRequestRequest) (*repository.ProcurementRequest, error) {
	if err := s.validateCreateRequest(in); err != nil {
		return nil, err
	}

	req := &repository.ProcurementRequest{
		ID:       uuid.NewString(),
		OrgID:    in.OrgID,
		Status:   repository.RequestCreated,
		Priority: in.Priority,
		Currency: strings.ToUpper(in.Currency),
	}
	if in.CreatedBy != "" {
		req.CreatedBy = &in.CreatedBy
	}
	for i, item := range in.Items {
		req.Items = append(req.Items, repository.RequestItem{
			LineNumber:  i + 1,
			Description: item.Description,
			Quantity:    item.Quantity,
			Unit:        item.Unit,
			ItemCode:    item.ItemCode,
		})
	}

	// Request, execution and the creation audit entry commit together.
	err := s.store.InTransaction(ctx, func(tx repository.Tx) error {
		if err := tx.Requests().Create(ctx, req); err != nil {
			return err
		}
		if _, err := s.executor.CreateExecution(ctx, tx, req.ID); err != nil {
			return err
		}
		return s.recorder.Record(ctx, tx, "request_created", "procurement_request", req.ID,
			nil, map[string]interface{}{"status": string(req.Status), "priority": req.Priority},
			req.CreatedBy, &req.ID)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("request_id", req.ID).
		Str("org_id", req.OrgID).
		Msg("procurement request created")

	outcome, err := s.executor.Advance(ctx, req.ID, &workflow.Trigger{
		Kind:        workflow.TriggerRequestSubmitted,
		ActorUserID: req.CreatedBy,
	})
	if err != nil {
		// The request exists; the submission step will be retried on
		// redelivery or resume. Surface the request with its stored state.
		s.log.Warn().Err(err).Str("request_id", req.ID).Msg("submission step did not complete")
		stored, getErr := s.store.Read().Requests().Get(ctx, req.ID)
		if getErr != nil {
			return nil, getErr
		}
		return stored, nil
	}

	s.notify(ctx, "request_created", req.ID, req.OrgID, in.CreatedBy, map[string]interface{}{
		"status":   string(outcome.RequestState),
		"priority": req.Priority,
	})

	return s.store.Read().Requests().Get(ctx, req.ID)
}

func (s *ProcurementService) validateCreateRequest(in *CreateRequestRequest) error {
	if in.OrgID == "" {
		return errors.InvalidInput("org_id", "required")
	}
	if !validPriorities[in.Priority] {
		return errors.InvalidInput("priority", fmt.Sprintf("invalid value %q", in.Priority))
	}
	if len(in.Currency) != 3 {
		return errors.InvalidInput("currency", "must be a 3-letter ISO code")
	}
	if len(in.Items) == 0 {
		return errors.InvalidInput("items", "at least one item is required")
	}
	for i, item := range in.Items {
		if strings.TrimSpace(item.Description) == "" {
			return errors.InvalidInput(fmt.Sprintf("items[%d].description", i), "required")
		}
		if !item.Quantity.IsPositive() {
			return errors.InvalidInput(fmt.Sprintf("items[%d].quantity", i), "must be positive")
		}
	}
	return nil
}

// SubmitQuote delivers a vendor quote into the request's workflow. Duplicates
// are absorbed without error; the outcome says whether the quote advanced the
// workflow past the collection threshold.
func (s *ProcurementService) SubmitQuote(ctx context.Context, requestID string, cand *workflow.QuoteCandidate, actorUserID *string) (*workflow.StepOutcome, error) {
	if requestID == "" {
		return nil, errors.InvalidInput("request_id", "required")
	}
	if cand == nil || cand.VendorID == "" {
		return nil, errors.InvalidInput("vendor_id", "required")
	}
	if !cand.TotalAmount.IsPositive() {
		return nil, errors.InvalidInput("total_amount", "must be positive")
	}
	if !cand.Source.IsValid() {
		return nil, errors.InvalidInput("source", fmt.Sprintf("invalid value %q", cand.Source))
	}

	outcome, err := s.executor.Advance(ctx, requestID, &workflow.Trigger{
		Kind:        workflow.TriggerQuoteReceived,
		Quote:       cand,
		ActorUserID: actorUserID,
	})
	if err != nil {
		return nil, err
	}

	if outcome.Kind == workflow.OutcomeAdvanced {
		metrics.QuotesIngested.WithLabelValues(string(cand.Source)).Inc()
		req, getErr := s.store.Read().Requests().Get(ctx, requestID)
		if getErr == nil {
			s.notify(ctx, "quote_received", requestID, req.OrgID, cand.VendorID, map[string]interface{}{
				"vendor_id": cand.VendorID,
				"source":    string(cand.Source),
				"status":    string(outcome.RequestState),
			})
		}
	}
	return outcome, nil
}

// ApproveQuote records a reviewer's decision for a request under review.
func (s *ProcurementService) ApproveQuote(ctx context.Context, requestID, quoteID string, actorUserID *string) (*workflow.StepOutcome, error) {
	if requestID == "" || quoteID == "" {
		return nil, errors.InvalidInput("request_id/quote_id", "both are required")
	}

	outcome, err := s.executor.Advance(ctx, requestID, &workflow.Trigger{
		Kind:        workflow.TriggerReviewApproved,
		QuoteID:     quoteID,
		ActorUserID: actorUserID,
	})
	if err != nil {
		return nil, err
	}

	if outcome.Kind == workflow.OutcomeAdvanced {
		s.notifyForRequest(ctx, "request_approved", requestID, actorUserID, map[string]interface{}{
			"quote_id": quoteID,
			"status":   string(outcome.RequestState),
		})
	}
	return outcome, nil
}

// RetryPayment re-initiates payment for a request that fell back to APPROVED
// after a failed payment attempt.
func (s *ProcurementService) RetryPayment(ctx context.Context, requestID string, actorUserID *string) (*workflow.StepOutcome, error) {
	if requestID == "" {
		return nil, errors.InvalidInput("request_id", "required")
	}

	outcome, err := s.executor.Advance(ctx, requestID, &workflow.Trigger{
		Kind:        workflow.TriggerPaymentRequested,
		ActorUserID: actorUserID,
	})
	if err != nil {
		return nil, err
	}

	if outcome.Kind == workflow.OutcomeAdvanced {
		s.notifyForRequest(ctx, "payment_initiated", requestID, actorUserID, map[string]interface{}{
			"status": string(outcome.RequestState),
		})
	}
	return outcome, nil
}

// CancelRequest cancels a request from any non-terminal state. Cancelling an
// already cancelled request is a no-op.
func (s *ProcurementService) CancelRequest(ctx context.Context, requestID, reason string, actorUserID *string) (*workflow.StepOutcome, error) {
	if requestID == "" {
		return nil, errors.InvalidInput("request_id", "required")
	}

	outcome, err := s.executor.Advance(ctx, requestID, &workflow.Trigger{
		Kind:        workflow.TriggerCancel,
		Reason:      reason,
		ActorUserID: actorUserID,
	})
	if err != nil {
		return nil, err
	}

	if outcome.Kind == workflow.OutcomeAdvanced {
		s.notifyForRequest(ctx, "request_cancelled", requestID, actorUserID, map[string]interface{}{
			"reason": reason,
		})
	}
	return outcome, nil
}

// ApplyGatewayUpdate routes a payment gateway status update to the owning
// request's workflow. Repeated deliveries of the same terminal status are
// absorbed as no-ops.
func (s *ProcurementService) ApplyGatewayUpdate(ctx context.Context, paymentID string, status repository.PaymentStatus, gatewayRef, failureReason *string) (*workflow.StepOutcome, error) {
	if paymentID == "" {
		return nil, errors.InvalidInput("payment_id", "required")
	}
	switch status {
	case repository.PaymentProcessing, repository.PaymentSucceeded, repository.PaymentFailed,
		repository.PaymentCancelled, repository.PaymentRefunded:
	default:
		return nil, errors.InvalidInput("status", fmt.Sprintf("invalid value %q", status))
	}

	metrics.GatewayEvents.WithLabelValues(string(status)).Inc()

	payment, err := s.store.Read().Payments().Get(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	outcome, err := s.executor.Advance(ctx, payment.RequestID, &workflow.Trigger{
		Kind:          workflow.TriggerGatewayEvent,
		PaymentID:     paymentID,
		PaymentStatus: status,
		GatewayRef:    gatewayRef,
		FailureReason: failureReason,
	})
	if err != nil {
		return nil, err
	}

	if outcome.Kind == workflow.OutcomeAdvanced {
		event := "payment_confirmed"
		switch status {
		case repository.PaymentFailed, repository.PaymentCancelled:
			event = "payment_failed"
		case repository.PaymentRefunded:
			event = "payment_refunded"
		}
		s.notifyForRequest(ctx, event, payment.RequestID, nil, map[string]interface{}{
			"payment_id": paymentID,
			"status":     string(status),
		})
	}
	return outcome, nil
}

// GetRequest returns a request scoped to the caller's organization.
func (s *ProcurementService) GetRequest(ctx context.Context, id, orgID string) (*repository.ProcurementRequest, error) {
	if id == "" || orgID == "" {
		return nil, errors.InvalidInput("id/org_id", "both are required")
	}
	return s.store.Read().Requests().GetByID(ctx, id, orgID)
}

// ListRequests returns requests for an organization, optionally filtered by
// status, newest first.
func (s *ProcurementService) ListRequests(ctx context.Context, orgID string, status *repository.RequestStatus, limit, offset int) ([]*repository.ProcurementRequest, int64, error) {
	if orgID == "" {
		return nil, 0, errors.InvalidInput("org_id", "required")
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.Read().Requests().List(ctx, orgID, status, limit, offset)
}

// ListQuotes returns all quotes received for a request.
func (s *ProcurementService) ListQuotes(ctx context.Context, requestID, orgID string) ([]*repository.Quote, error) {
	if _, err := s.GetRequest(ctx, requestID, orgID); err != nil {
		return nil, err
	}
	return s.store.Read().Quotes().ListByRequest(ctx, requestID)
}

// GetAuditTrail returns the append-only change history for a request.
func (s *ProcurementService) GetAuditTrail(ctx context.Context, requestID, orgID string) ([]*repository.AuditEntry, error) {
	if _, err := s.GetRequest(ctx, requestID, orgID); err != nil {
		return nil, err
	}
	return s.store.Read().Audit().ListByRequest(ctx, requestID)
}

func (s *ProcurementService) notifyForRequest(ctx context.Context, event, requestID string, actor *string, payload map[string]interface{}) {
	req, err := s.store.Read().Requests().Get(ctx, requestID)
	if err != nil {
		return
	}
	actorID := ""
	if actor != nil {
		actorID = *actor
	}
	s.notify(ctx, event, requestID, req.OrgID, actorID, payload)
}

func (s *ProcurementService) notify(ctx context.Context, event, requestID, orgID, actorID string, payload map[string]interface{}) {
	if s.notifier == nil {
		return
	}
	s.notifier.PublishRequestEvent(ctx, event, requestID, orgID, actorID, payload)
}
