package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-procure-requests/internal/errors"
)

// PaymentRepository handles payment attempt data operations.
type PaymentRepository struct {
	q Querier
}

// NewPaymentRepository creates a new payment repository.
func NewPaymentRepository(q Querier) *PaymentRepository {
	return &PaymentRepository{q: q}
}

const paymentColumns = `
	id, request_id, quote_id, amount, currency, status,
	idempotency_key, gateway_ref, failure_reason, paid_at,
	created_at, updated_at`

// Insert stores a new payment attempt in PENDING status.
func (r *PaymentRepository) Insert(ctx context.Context, p *Payment) error {
	query := `
		INSERT INTO payments (id, request_id, quote_id, amount, currency, status, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6::payment_status, $7)
		RETURNING created_at, updated_at
	`

	err := r.q.QueryRow(ctx, query,
		p.ID,
		p.RequestID,
		p.QuoteID,
		p.Amount,
		p.Currency,
		p.Status,
		p.IdempotencyKey,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to insert payment")
	}
	return nil
}

// Get retrieves a payment by ID.
func (r *PaymentRepository) Get(ctx context.Context, id string) (*Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`

	p := &Payment{}
	err := r.q.QueryRow(ctx, query, id).Scan(
		&p.ID,
		&p.RequestID,
		&p.QuoteID,
		&p.Amount,
		&p.Currency,
		&p.Status,
		&p.IdempotencyKey,
		&p.GatewayRef,
		&p.FailureReason,
		&p.PaidAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("payment", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get payment")
	}
	return p, nil
}

// UpdateStatus applies a status change to a payment.
func (r *PaymentRepository) UpdateStatus(ctx context.Context, id string, status PaymentStatus, gatewayRef, failureReason *string, paidAt *time.Time) error {
	query := `
		UPDATE payments
		SET status         = $2::payment_status,
		    gateway_ref    = COALESCE($3, gateway_ref),
		    failure_reason = $4,
		    paid_at        = COALESCE($5, paid_at),
		    updated_at     = NOW()
		WHERE id = $1
		RETURNING id
	`
	var returnedID string
	err := r.q.QueryRow(ctx, query, id, status, gatewayRef, failureReason, paidAt).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.NotFound("payment", id)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update payment status")
	}
	return nil
}

// HasSucceededForRequest reports whether a SUCCEEDED payment already exists
// for the request. Backed by a partial unique index, so the check and the
// constraint agree.
func (r *PaymentRepository) HasSucceededForRequest(ctx context.Context, requestID string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM payments
			WHERE request_id = $1 AND status = 'SUCCEEDED'::payment_status
		)
	`
	var exists bool
	if err := r.q.QueryRow(ctx, query, requestID).Scan(&exists); err != nil {
		return false, errors.Wrap(err, errors.ErrCodeInternal, "failed to check for succeeded payment")
	}
	return exists, nil
}
