package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is the subset of pgx satisfied by both the pool wrapper and a
// transaction, so every repository works in either scope.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// RequestStore is the typed persistence surface for procurement requests.
type RequestStore interface {
	Create(ctx context.Context, req *ProcurementRequest) error
	GetByID(ctx context.Context, id, orgID string) (*ProcurementRequest, error)
	Get(ctx context.Context, id string) (*ProcurementRequest, error)
	List(ctx context.Context, orgID string, status *RequestStatus, limit, offset int) ([]*ProcurementRequest, int64, error)
	UpdateStatus(ctx context.Context, id string, status RequestStatus, updatedBy *string) error
	MarkRequested(ctx context.Context, id string, at time.Time) error
	MarkApproved(ctx context.Context, id, vendorID, quoteID string, at time.Time) error
	MarkCompleted(ctx context.Context, id string, at time.Time) error
	ListStaleQuoteSolicitations(ctx context.Context, olderThan time.Time) ([]string, error)
}

// QuoteStore is the typed persistence surface for vendor quotes.
type QuoteStore interface {
	Insert(ctx context.Context, q *Quote) error
	Get(ctx context.Context, id string) (*Quote, error)
	ListByRequest(ctx context.Context, requestID string) ([]*Quote, error)
	FindDuplicate(ctx context.Context, q *Quote) (*Quote, error)
	CountDistinctVendors(ctx context.Context, requestID string) (int, error)
	UpdateStatus(ctx context.Context, id string, status QuoteStatus) error
	RejectAllExcept(ctx context.Context, requestID, winnerID string) error
}

// PaymentStore is the typed persistence surface for payment attempts.
type PaymentStore interface {
	Insert(ctx context.Context, p *Payment) error
	Get(ctx context.Context, id string) (*Payment, error)
	UpdateStatus(ctx context.Context, id string, status PaymentStatus, gatewayRef, failureReason *string, paidAt *time.Time) error
	HasSucceededForRequest(ctx context.Context, requestID string) (bool, error)
}

// ExecutionStore is the typed persistence surface for workflow executions.
type ExecutionStore interface {
	Insert(ctx context.Context, exec *WorkflowExecution) error
	// Update persists state/stateData/checkpoints/status, guarded by the
	// optimistic version token. A stale version returns a CONFLICT error.
	Update(ctx context.Context, exec *WorkflowExecution) error
	GetActive(ctx context.Context, workflowType, entityID string) (*WorkflowExecution, error)
	ListByStatus(ctx context.Context, workflowType string, status WorkflowStatus) ([]*WorkflowExecution, error)
}

// AuditStore appends and reads the immutable audit log.
type AuditStore interface {
	Append(ctx context.Context, entry *AuditEntry) error
	ListByRequest(ctx context.Context, requestID string) ([]*AuditEntry, error)
}

// Tx groups the per-entity stores bound to one scope (a transaction, or the
// pool for plain reads).
type Tx interface {
	Requests() RequestStore
	Quotes() QuoteStore
	Payments() PaymentStore
	Executions() ExecutionStore
	Audit() AuditStore
}

// Store is the transactional entry point the orchestration core runs on.
type Store interface {
	// InTransaction runs fn with every store bound to a single transaction;
	// all writes commit or roll back together.
	InTransaction(ctx context.Context, fn func(tx Tx) error) error
	// Read returns stores bound to the pool, for queries outside a transaction.
	Read() Tx
}
