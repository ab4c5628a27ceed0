package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-procure-requests/internal/errors"
)

// QuoteRepository handles vendor quote data operations.
type QuoteRepository struct {
	q Querier
}

// NewQuoteRepository creates a new quote repository.
func NewQuoteRepository(q Querier) *QuoteRepository {
	return &QuoteRepository{q: q}
}

const quoteColumns = `
	id, request_id, vendor_id, items, total_amount, currency,
	source, confidence, status, received_at, created_at, updated_at`

// Insert stores a new quote in PENDING status.
func (r *QuoteRepository) Insert(ctx context.Context, q *Quote) error {
	itemsJSON, err := json.Marshal(q.Items)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal quote items")
	}

	query := `
		INSERT INTO quotes (id, request_id, vendor_id, items, total_amount, currency,
		                    source, confidence, status, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7::quote_source, $8, $9::quote_status, $10)
		RETURNING created_at, updated_at
	`

	err = r.q.QueryRow(ctx, query,
		q.ID,
		q.RequestID,
		q.VendorID,
		itemsJSON,
		q.TotalAmount,
		q.Currency,
		q.Source,
		q.Confidence,
		q.Status,
		q.ReceivedAt,
	).Scan(&q.CreatedAt, &q.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to insert quote")
	}
	return nil
}

// Get retrieves a quote by ID.
func (r *QuoteRepository) Get(ctx context.Context, id string) (*Quote, error) {
	query := `SELECT ` + quoteColumns + ` FROM quotes WHERE id = $1`

	q, err := scanQuote(r.q.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("quote", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get quote")
	}
	return q, nil
}

// ListByRequest returns all quotes for a request, oldest first.
func (r *QuoteRepository) ListByRequest(ctx context.Context, requestID string) ([]*Quote, error) {
	query := `SELECT ` + quoteColumns + `
		FROM quotes
		WHERE request_id = $1
		ORDER BY received_at ASC`

	rows, err := r.q.Query(ctx, query, requestID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list quotes")
	}
	defer rows.Close()

	quotes := make([]*Quote, 0)
	for rows.Next() {
		q, err := scanQuote(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan quote")
		}
		quotes = append(quotes, q)
	}
	return quotes, nil
}

// FindDuplicate looks up an existing quote with the same
// (request, vendor, source, total_amount) identity. The amount comparison is
// NUMERIC equality in the database, never float.
func (r *QuoteRepository) FindDuplicate(ctx context.Context, q *Quote) (*Quote, error) {
	query := `SELECT ` + quoteColumns + `
		FROM quotes
		WHERE request_id = $1
		  AND vendor_id = $2
		  AND source = $3::quote_source
		  AND total_amount = $4
		LIMIT 1`

	dup, err := scanQuote(r.q.QueryRow(ctx, query, q.RequestID, q.VendorID, q.Source, q.TotalAmount))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to check for duplicate quote")
	}
	return dup, nil
}

// CountDistinctVendors counts vendors that have quoted on a request.
func (r *QuoteRepository) CountDistinctVendors(ctx context.Context, requestID string) (int, error) {
	query := `SELECT COUNT(DISTINCT vendor_id) FROM quotes WHERE request_id = $1`

	var n int
	if err := r.q.QueryRow(ctx, query, requestID).Scan(&n); err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to count quote vendors")
	}
	return n, nil
}

// UpdateStatus sets a quote's review status.
func (r *QuoteRepository) UpdateStatus(ctx context.Context, id string, status QuoteStatus) error {
	query := `
		UPDATE quotes
		SET status = $2::quote_status, updated_at = NOW()
		WHERE id = $1
		RETURNING id
	`
	var returnedID string
	err := r.q.QueryRow(ctx, query, id, status).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.NotFound("quote", id)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update quote status")
	}
	return nil
}

// RejectAllExcept marks every non-winning, non-terminal quote on a request
// as REJECTED.
func (r *QuoteRepository) RejectAllExcept(ctx context.Context, requestID, winnerID string) error {
	query := `
		UPDATE quotes
		SET status = 'REJECTED'::quote_status, updated_at = NOW()
		WHERE request_id = $1
		  AND id <> $2
		  AND status IN ('PENDING'::quote_status, 'REVIEWED'::quote_status)
	`
	if _, err := r.q.Exec(ctx, query, requestID, winnerID); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to reject losing quotes")
	}
	return nil
}

// ── scan helper ───────────────────────────────────────────────────────────────

func scanQuote(sc rowScanner) (*Quote, error) {
	q := &Quote{}
	var itemsJSON []byte

	err := sc.Scan(
		&q.ID,
		&q.RequestID,
		&q.VendorID,
		&itemsJSON,
		&q.TotalAmount,
		&q.Currency,
		&q.Source,
		&q.Confidence,
		&q.Status,
		&q.ReceivedAt,
		&q.CreatedAt,
		&q.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if itemsJSON != nil {
		if err := json.Unmarshal(itemsJSON, &q.Items); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal quote items")
		}
	}
	return q, nil
}
