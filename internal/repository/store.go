package repository

import (
	"context"
	stderrors "errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/pesio-ai/be-procure-requests/internal/database"
)

// PGStore binds the per-entity repositories to a pgx pool and exposes them
// as one transactional unit.
type PGStore struct {
	db *database.DB
}

// NewStore creates a Postgres-backed Store.
func NewStore(db *database.DB) *PGStore {
	return &PGStore{db: db}
}

// scope groups repositories bound to one Querier.
type scope struct {
	requests   *RequestRepository
	quotes     *QuoteRepository
	payments   *PaymentRepository
	executions *WorkflowRepository
	audit      *AuditRepository
}

func newScope(q Querier) *scope {
	return &scope{
		requests:   NewRequestRepository(q),
		quotes:     NewQuoteRepository(q),
		payments:   NewPaymentRepository(q),
		executions: NewWorkflowRepository(q),
		audit:      NewAuditRepository(q),
	}
}

func (s *scope) Requests() RequestStore     { return s.requests }
func (s *scope) Quotes() QuoteStore         { return s.quotes }
func (s *scope) Payments() PaymentStore     { return s.payments }
func (s *scope) Executions() ExecutionStore { return s.executions }
func (s *scope) Audit() AuditStore          { return s.audit }

// InTransaction runs fn with all stores bound to one transaction.
func (s *PGStore) InTransaction(ctx context.Context, fn func(tx Tx) error) error {
	return s.db.InTransaction(ctx, func(tx pgx.Tx) error {
		return fn(newScope(txQuerier{tx}))
	})
}

// Read returns stores bound to the pool for non-transactional queries.
func (s *PGStore) Read() Tx {
	return newScope(s.db)
}

// txQuerier adapts pgx.Tx to the Querier interface.
type txQuerier struct {
	tx pgx.Tx
}

func (t txQuerier) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return t.tx.Query(ctx, sql, args...)
}

func (t txQuerier) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return t.tx.QueryRow(ctx, sql, args...)
}

func (t txQuerier) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return t.tx.Exec(ctx, sql, args...)
}

// isUniqueViolation reports whether err is a Postgres unique constraint
// violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return stderrors.As(err, &pgErr) && pgErr.Code == "23505"
}
