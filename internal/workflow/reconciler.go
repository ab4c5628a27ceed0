package workflow

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/pesio-ai/be-procure-requests/internal/errors"
	"github.com/pesio-ai/be-procure-requests/internal/repository"
)

// ReconcileOutcome is the result of ingesting one quote.
type ReconcileOutcome string

const (
	// ReconcileAccepted means the quote was stored but the threshold is not
	// yet satisfied.
	ReconcileAccepted ReconcileOutcome = "Accepted"
	// ReconcileDuplicate means an identical quote already exists; nothing
	// was written.
	ReconcileDuplicate ReconcileOutcome = "Duplicate"
	// ReconcileThresholdMet means this quote satisfied the threshold for the
	// first time.
	ReconcileThresholdMet ReconcileOutcome = "ThresholdMet"
)

// DeadlineOutcome is the policy's decision when the quote deadline elapses.
type DeadlineOutcome string

const (
	DeadlineProceed DeadlineOutcome = "Proceed" // enough quotes, move to review
	DeadlineCancel  DeadlineOutcome = "Cancel"  // nothing usable, cancel the request
	DeadlineWait    DeadlineOutcome = "Wait"    // policy wants to keep waiting
)

// ErrRequestNotAcceptingQuotes rejects quotes arriving after the request
// left the collection phase (closed, cancelled, or already under review).
var ErrRequestNotAcceptingQuotes = errors.Conflict("request is not accepting quotes")

// ThresholdPolicy decides when a request has "enough" quotes. The exact rule
// is deliberately pluggable.
type ThresholdPolicy interface {
	// Met reports whether the request has enough quotes, given the current
	// number of distinct quoting vendors.
	Met(distinctVendors int) bool
	// OnDeadline decides what to do when the solicitation deadline elapses.
	OnDeadline(distinctVendors int) DeadlineOutcome
}

// VendorCountPolicy is the default policy: satisfied at MinVendors distinct
// vendors; on deadline, proceeds with whatever arrived (at least one) or
// cancels an empty solicitation.
type VendorCountPolicy struct {
	MinVendors int
}

func (p VendorCountPolicy) Met(distinctVendors int) bool {
	min := p.MinVendors
	if min < 1 {
		min = 1
	}
	return distinctVendors >= min
}

func (p VendorCountPolicy) OnDeadline(distinctVendors int) DeadlineOutcome {
	if distinctVendors >= 1 {
		return DeadlineProceed
	}
	return DeadlineCancel
}

// Reconciler ingests structured quotes from any source, matches them to an
// open request and decides when enough quotes exist.
type Reconciler struct {
	policy ThresholdPolicy
}

// NewReconciler creates a quote reconciler with the given threshold policy.
func NewReconciler(policy ThresholdPolicy) *Reconciler {
	return &Reconciler{policy: policy}
}

// Ingest validates and stores one quote inside the caller's transaction.
// Quotes for requests that are no longer collecting are rejected; an
// identical (request, vendor, source, amount) quote is a no-op.
func (r *Reconciler) Ingest(ctx context.Context, tx repository.Tx, req *repository.ProcurementRequest, candidate *QuoteCandidate) (ReconcileOutcome, *repository.Quote, error) {
	if req.Status != repository.RequestQuotesRequested && req.Status != repository.RequestQuotesReceived {
		return "", nil, ErrRequestNotAcceptingQuotes
	}

	if err := r.validate(candidate, req); err != nil {
		return "", nil, err
	}

	quote := &repository.Quote{
		ID:          uuid.NewString(),
		RequestID:   req.ID,
		VendorID:    candidate.VendorID,
		Items:       candidate.Items,
		TotalAmount: candidate.TotalAmount,
		Currency:    candidate.Currency,
		Source:      candidate.Source,
		Confidence:  candidate.Confidence,
		Status:      repository.QuotePending,
		ReceivedAt:  time.Now().UTC(),
	}

	dup, err := tx.Quotes().FindDuplicate(ctx, quote)
	if err != nil {
		return "", nil, err
	}
	if dup != nil {
		return ReconcileDuplicate, dup, nil
	}

	if err := tx.Quotes().Insert(ctx, quote); err != nil {
		return "", nil, err
	}

	vendors, err := tx.Quotes().CountDistinctVendors(ctx, req.ID)
	if err != nil {
		return "", nil, err
	}
	if r.policy.Met(vendors) {
		return ReconcileThresholdMet, quote, nil
	}
	return ReconcileAccepted, quote, nil
}

// ResolveDeadline asks the policy what an elapsed deadline means for the
// request, given the quotes collected so far.
func (r *Reconciler) ResolveDeadline(ctx context.Context, tx repository.Tx, requestID string) (DeadlineOutcome, error) {
	vendors, err := tx.Quotes().CountDistinctVendors(ctx, requestID)
	if err != nil {
		return "", err
	}
	return r.policy.OnDeadline(vendors), nil
}

func (r *Reconciler) validate(c *QuoteCandidate, req *repository.ProcurementRequest) error {
	if c.VendorID == "" {
		return errors.InvalidInput("vendor_id", "vendor id is required")
	}
	if !c.Source.IsValid() {
		return errors.InvalidInput("source", "unknown quote source")
	}
	if c.TotalAmount.IsNegative() || c.TotalAmount.IsZero() {
		return errors.InvalidInput("total_amount", "total amount must be positive")
	}
	if len(c.Currency) != 3 {
		return errors.InvalidInput("currency", "currency must be 3-letter ISO code")
	}
	if c.Currency != req.Currency {
		return errors.InvalidInput("currency", "quote currency does not match request currency")
	}
	// Confidence is only meaningful for machine-extracted quotes.
	if c.Confidence != nil {
		if c.Source != repository.SourceEmail {
			return errors.InvalidInput("confidence", "confidence is only valid for EMAIL quotes")
		}
		if *c.Confidence < 0 || *c.Confidence > 1 {
			return errors.InvalidInput("confidence", "confidence must be within [0,1]")
		}
	}
	return nil
}
