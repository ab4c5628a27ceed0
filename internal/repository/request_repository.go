package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-procure-requests/internal/errors"
)

// RequestRepository handles procurement request data operations.
type RequestRepository struct {
	q Querier
}

// NewRequestRepository creates a new request repository.
func NewRequestRepository(q Querier) *RequestRepository {
	return &RequestRepository{q: q}
}

const requestColumns = `
	id, org_id, status, priority, currency, items,
	approved_vendor_id, approved_quote_id,
	requested_at, approved_at, completed_at,
	created_by, created_at, updated_at`

// Create inserts a new request in CREATED status.
func (r *RequestRepository) Create(ctx context.Context, req *ProcurementRequest) error {
	itemsJSON, err := json.Marshal(req.Items)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal request items")
	}

	query := `
		INSERT INTO procurement_requests (id, org_id, status, priority, currency, items, created_by)
		VALUES ($1, $2, $3::request_status, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`

	err = r.q.QueryRow(ctx, query,
		req.ID,
		req.OrgID,
		req.Status,
		req.Priority,
		req.Currency,
		itemsJSON,
		req.CreatedBy,
	).Scan(&req.CreatedAt, &req.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create procurement request")
	}
	return nil
}

// GetByID retrieves a request scoped to an organization.
func (r *RequestRepository) GetByID(ctx context.Context, id, orgID string) (*ProcurementRequest, error) {
	query := `SELECT ` + requestColumns + `
		FROM procurement_requests
		WHERE id = $1 AND org_id = $2`

	req, err := scanRequest(r.q.QueryRow(ctx, query, id, orgID))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("procurement_request", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get procurement request")
	}
	return req, nil
}

// Get retrieves a request by primary key regardless of organization. Used by
// the orchestration core, which is keyed by entity ID alone.
func (r *RequestRepository) Get(ctx context.Context, id string) (*ProcurementRequest, error) {
	query := `SELECT ` + requestColumns + `
		FROM procurement_requests
		WHERE id = $1`

	req, err := scanRequest(r.q.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("procurement_request", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get procurement request")
	}
	return req, nil
}

// List retrieves requests for an organization with optional status filtering.
func (r *RequestRepository) List(ctx context.Context, orgID string, status *RequestStatus, limit, offset int) ([]*ProcurementRequest, int64, error) {
	query := `SELECT ` + requestColumns + `
		FROM procurement_requests
		WHERE org_id = $1`
	countQuery := `SELECT COUNT(*) FROM procurement_requests WHERE org_id = $1`

	args := []any{orgID}
	argCount := 2

	if status != nil {
		query += fmt.Sprintf(" AND status = $%d::request_status", argCount)
		countQuery += fmt.Sprintf(" AND status = $%d::request_status", argCount)
		args = append(args, *status)
		argCount++
	}

	query += " ORDER BY created_at DESC"
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argCount, argCount+1)
	queryArgs := append(args, limit, offset)

	var total int64
	if err := r.q.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to count procurement requests")
	}

	rows, err := r.q.Query(ctx, query, queryArgs...)
	if err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to list procurement requests")
	}
	defer rows.Close()

	requests := make([]*ProcurementRequest, 0)
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan procurement request")
		}
		requests = append(requests, req)
	}
	return requests, total, nil
}

// UpdateStatus sets the request status.
func (r *RequestRepository) UpdateStatus(ctx context.Context, id string, status RequestStatus, updatedBy *string) error {
	query := `
		UPDATE procurement_requests
		SET status = $2::request_status,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING id
	`
	// updatedBy is recorded in the audit log, not on the row itself.
	_ = updatedBy

	var returnedID string
	err := r.q.QueryRow(ctx, query, id, status).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.NotFound("procurement_request", id)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update request status")
	}
	return nil
}

// MarkRequested stamps requested_at when quotes are solicited.
func (r *RequestRepository) MarkRequested(ctx context.Context, id string, at time.Time) error {
	query := `
		UPDATE procurement_requests
		SET requested_at = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING id
	`
	var returnedID string
	err := r.q.QueryRow(ctx, query, id, at).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.NotFound("procurement_request", id)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to stamp requested_at")
	}
	return nil
}

// MarkApproved records the winning vendor and quote.
func (r *RequestRepository) MarkApproved(ctx context.Context, id, vendorID, quoteID string, at time.Time) error {
	query := `
		UPDATE procurement_requests
		SET approved_vendor_id = $2,
		    approved_quote_id  = $3,
		    approved_at        = $4,
		    updated_at         = NOW()
		WHERE id = $1
		RETURNING id
	`
	var returnedID string
	err := r.q.QueryRow(ctx, query, id, vendorID, quoteID, at).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.NotFound("procurement_request", id)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to record approved quote")
	}
	return nil
}

// MarkCompleted stamps completed_at.
func (r *RequestRepository) MarkCompleted(ctx context.Context, id string, at time.Time) error {
	query := `
		UPDATE procurement_requests
		SET completed_at = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING id
	`
	var returnedID string
	err := r.q.QueryRow(ctx, query, id, at).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.NotFound("procurement_request", id)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to stamp completed_at")
	}
	return nil
}

// ListStaleQuoteSolicitations returns IDs of requests that have been waiting
// in QUOTES_REQUESTED since before olderThan. Used by the deadline sweeper.
func (r *RequestRepository) ListStaleQuoteSolicitations(ctx context.Context, olderThan time.Time) ([]string, error) {
	query := `
		SELECT id
		FROM procurement_requests
		WHERE status = 'QUOTES_REQUESTED'::request_status
		  AND requested_at < $1
		ORDER BY requested_at ASC
	`
	rows, err := r.q.Query(ctx, query, olderThan)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list stale solicitations")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan request id")
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// ── scan helper ───────────────────────────────────────────────────────────────

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(sc rowScanner) (*ProcurementRequest, error) {
	req := &ProcurementRequest{}
	var itemsJSON []byte

	err := sc.Scan(
		&req.ID,
		&req.OrgID,
		&req.Status,
		&req.Priority,
		&req.Currency,
		&itemsJSON,
		&req.ApprovedVendorID,
		&req.ApprovedQuoteID,
		&req.RequestedAt,
		&req.ApprovedAt,
		&req.CompletedAt,
		&req.CreatedBy,
		&req.CreatedAt,
		&req.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if itemsJSON != nil {
		if err := json.Unmarshal(itemsJSON, &req.Items); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal request items")
		}
	}
	return req, nil
}
