package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-procure-requests/internal/errors"
	"github.com/pesio-ai/be-procure-requests/internal/repository"
)

// Gateway is the external payment collaborator. Status changes come back
// asynchronously as gateway events; Initiate only starts an attempt.
type Gateway interface {
	// Initiate submits a payment. idempotencyKey makes re-submission of the
	// same attempt a no-op on the provider side.
	Initiate(ctx context.Context, idempotencyKey string, amount decimal.Decimal, currency string) (gatewayRef string, err error)
}

// PaymentCoordinator initiates payments for approved quotes and applies
// gateway status updates idempotently.
type PaymentCoordinator struct {
	gateway Gateway
}

// NewPaymentCoordinator creates a payment coordinator.
func NewPaymentCoordinator(gateway Gateway) *PaymentCoordinator {
	return &PaymentCoordinator{gateway: gateway}
}

// Initiate creates a PENDING payment, submits it to the gateway and moves it
// to PROCESSING, all inside the caller's transaction. The caller transitions
// the request to PAYMENT_PENDING. An amount/currency mismatch against the
// approved quote is an integrity error, never retried.
func (c *PaymentCoordinator) Initiate(ctx context.Context, tx repository.Tx, req *repository.ProcurementRequest, quote *repository.Quote) (*repository.Payment, error) {
	if req.Status != repository.RequestApproved {
		return nil, errors.Conflict(
			fmt.Sprintf("cannot initiate payment for request with status %s", req.Status))
	}
	if quote.Status != repository.QuoteApproved {
		return nil, errors.Conflict(
			fmt.Sprintf("cannot pay quote with status %s", quote.Status))
	}
	if req.ApprovedQuoteID == nil || *req.ApprovedQuoteID != quote.ID {
		return nil, errors.New(errors.ErrCodeUnprocessable,
			"quote is not the approved quote for this request")
	}
	if quote.Currency != req.Currency {
		return nil, errors.New(errors.ErrCodeUnprocessable,
			"payment currency does not match the approved quote")
	}

	succeeded, err := tx.Payments().HasSucceededForRequest(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	if succeeded {
		return nil, errors.Conflict("request already has a succeeded payment")
	}

	payment := &repository.Payment{
		ID:             uuid.NewString(),
		RequestID:      req.ID,
		QuoteID:        quote.ID,
		Amount:         quote.TotalAmount,
		Currency:       quote.Currency,
		Status:         repository.PaymentPending,
		IdempotencyKey: uuid.NewString(),
	}
	if err := tx.Payments().Insert(ctx, payment); err != nil {
		return nil, err
	}

	// External call inside the step transaction: a crash before commit
	// re-runs the step, and the idempotency key makes the second submission
	// a no-op at the provider.
	gatewayRef, err := c.gateway.Initiate(ctx, payment.IdempotencyKey, payment.Amount, payment.Currency)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeUnavailable, "payment gateway call failed")
	}

	payment.Status = repository.PaymentProcessing
	payment.GatewayRef = &gatewayRef
	if err := tx.Payments().UpdateStatus(ctx, payment.ID, repository.PaymentProcessing, &gatewayRef, nil, nil); err != nil {
		return nil, err
	}
	return payment, nil
}

// GatewayEventResult describes what applying a gateway event did.
type GatewayEventResult struct {
	Payment *repository.Payment
	// Applied is false when the event was a duplicate of an already-applied
	// terminal status.
	Applied bool
}

// ApplyGatewayEvent idempotently applies a gateway-reported status to a
// payment. Re-applying the same terminal status is a no-op, not an error.
func (c *PaymentCoordinator) ApplyGatewayEvent(ctx context.Context, tx repository.Tx, paymentID string, status repository.PaymentStatus, gatewayRef, failureReason *string) (*GatewayEventResult, error) {
	payment, err := tx.Payments().Get(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	if payment.Status == status {
		return &GatewayEventResult{Payment: payment, Applied: false}, nil
	}
	if payment.Status.IsTerminal() {
		// A different status after a terminal one is stale gateway traffic,
		// except REFUNDED which legitimately follows SUCCEEDED.
		if !(payment.Status == repository.PaymentSucceeded && status == repository.PaymentRefunded) {
			return &GatewayEventResult{Payment: payment, Applied: false}, nil
		}
	}

	var paidAt *time.Time
	if status == repository.PaymentSucceeded {
		now := time.Now().UTC()
		paidAt = &now

		other, err := tx.Payments().HasSucceededForRequest(ctx, payment.RequestID)
		if err != nil {
			return nil, err
		}
		if other {
			return nil, errors.Conflict("request already has a succeeded payment")
		}
	}

	if err := tx.Payments().UpdateStatus(ctx, payment.ID, status, gatewayRef, failureReason, paidAt); err != nil {
		return nil, err
	}

	payment.Status = status
	payment.PaidAt = paidAt
	payment.FailureReason = failureReason
	if gatewayRef != nil {
		payment.GatewayRef = gatewayRef
	}
	return &GatewayEventResult{Payment: payment, Applied: true}, nil
}
