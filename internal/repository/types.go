package repository

import (
	"time"

	"github.com/shopspring/decimal"
)

// ── Status enumerations (closed sets; values are persisted) ──────────────────

// RequestStatus is the lifecycle status of a ProcurementRequest.
type RequestStatus string

const (
	RequestCreated         RequestStatus = "CREATED"
	RequestQuotesRequested RequestStatus = "QUOTES_REQUESTED"
	RequestQuotesReceived  RequestStatus = "QUOTES_RECEIVED"
	RequestUnderReview     RequestStatus = "UNDER_REVIEW"
	RequestApproved        RequestStatus = "APPROVED"
	RequestPaymentPending  RequestStatus = "PAYMENT_PENDING"
	RequestPaid            RequestStatus = "PAID"
	RequestCompleted       RequestStatus = "COMPLETED"
	RequestCancelled       RequestStatus = "CANCELLED"
)

var requestTerminal = map[RequestStatus]bool{
	RequestCompleted: true,
	RequestCancelled: true,
}

// IsTerminal reports whether no further transition is possible.
func (s RequestStatus) IsTerminal() bool { return requestTerminal[s] }

func (s RequestStatus) String() string { return string(s) }

// QuoteStatus is a vendor quote's review status.
type QuoteStatus string

const (
	QuotePending  QuoteStatus = "PENDING"
	QuoteReviewed QuoteStatus = "REVIEWED"
	QuoteApproved QuoteStatus = "APPROVED"
	QuoteRejected QuoteStatus = "REJECTED"
)

// QuoteSource tells where a quote came from.
type QuoteSource string

const (
	SourceEmail  QuoteSource = "EMAIL"
	SourceUpload QuoteSource = "UPLOAD"
	SourceManual QuoteSource = "MANUAL"
	SourceAPI    QuoteSource = "API"
)

var validQuoteSources = map[QuoteSource]bool{
	SourceEmail:  true,
	SourceUpload: true,
	SourceManual: true,
	SourceAPI:    true,
}

// IsValid reports whether s is a known source.
func (s QuoteSource) IsValid() bool { return validQuoteSources[s] }

// PaymentStatus is a payment attempt's status.
type PaymentStatus string

const (
	PaymentPending    PaymentStatus = "PENDING"
	PaymentProcessing PaymentStatus = "PROCESSING"
	PaymentSucceeded  PaymentStatus = "SUCCEEDED"
	PaymentFailed     PaymentStatus = "FAILED"
	PaymentCancelled  PaymentStatus = "CANCELLED"
	PaymentRefunded   PaymentStatus = "REFUNDED"
)

var paymentTerminal = map[PaymentStatus]bool{
	PaymentSucceeded: true,
	PaymentFailed:    true,
	PaymentCancelled: true,
	PaymentRefunded:  true,
}

// IsTerminal reports whether the payment has reached a final status.
func (s PaymentStatus) IsTerminal() bool { return paymentTerminal[s] }

// WorkflowStatus is a WorkflowExecution's run status.
type WorkflowStatus string

const (
	WorkflowPending   WorkflowStatus = "PENDING"
	WorkflowRunning   WorkflowStatus = "RUNNING"
	WorkflowCompleted WorkflowStatus = "COMPLETED"
	WorkflowFailed    WorkflowStatus = "FAILED"
	WorkflowCancelled WorkflowStatus = "CANCELLED"
)

var workflowTerminal = map[WorkflowStatus]bool{
	WorkflowCompleted: true,
	WorkflowFailed:    true,
	WorkflowCancelled: true,
}

// IsTerminal reports whether the execution can no longer advance.
func (s WorkflowStatus) IsTerminal() bool { return workflowTerminal[s] }

// ── Domain records ───────────────────────────────────────────────────────────

// RequestItem is one line of a procurement request.
type RequestItem struct {
	LineNumber  int             `json:"line_number"`
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	Unit        *string         `json:"unit,omitempty"`
	ItemCode    *string         `json:"item_code,omitempty"`
}

// ProcurementRequest is one purchase ask.
type ProcurementRequest struct {
	ID               string
	OrgID            string
	Status           RequestStatus
	Priority         string // low | normal | high | urgent
	Currency         string
	Items            []RequestItem
	ApprovedVendorID *string
	ApprovedQuoteID  *string
	RequestedAt      *time.Time
	ApprovedAt       *time.Time
	CompletedAt      *time.Time
	CreatedBy        *string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// QuoteItem is a vendor's priced line in a quote.
type QuoteItem struct {
	LineNumber  int             `json:"line_number"`
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	LineAmount  decimal.Decimal `json:"line_amount"`
}

// Quote is one vendor's priced response to a request. TotalAmount is exact
// fixed-point; never compare it through float64.
type Quote struct {
	ID          string
	RequestID   string
	VendorID    string
	Items       []QuoteItem
	TotalAmount decimal.Decimal
	Currency    string
	Source      QuoteSource
	Confidence  *float64 // populated only for EMAIL (machine-extracted) quotes
	Status      QuoteStatus
	ReceivedAt  time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Payment is one payment attempt against an approved quote.
type Payment struct {
	ID             string
	RequestID      string
	QuoteID        string
	Amount         decimal.Decimal
	Currency       string
	Status         PaymentStatus
	IdempotencyKey string
	GatewayRef     *string
	FailureReason  *string
	PaidAt         *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Checkpoint records that a workflow finished a step. The JSON shape is
// persisted and must stay stable.
type Checkpoint struct {
	State     string    `json:"state"`
	EnteredAt time.Time `json:"enteredAt"`
}

// StepState is the step-scoped payload kept in StateData.
type StepState struct {
	Attempts  int    `json:"attempts,omitempty"`
	LastError string `json:"last_error,omitempty"`
}

// StateData is a JSON object keyed by step name.
type StateData map[string]*StepState

// Step returns the state for a step, creating it if absent.
func (d StateData) Step(name string) *StepState {
	if d[name] == nil {
		d[name] = &StepState{}
	}
	return d[name]
}

// WorkflowExecution is one resumable run of the orchestration for one
// business entity.
type WorkflowExecution struct {
	ID           string
	WorkflowType string
	EntityID     string
	EntityType   string
	CurrentState string
	StateData    StateData
	Status       WorkflowStatus
	Checkpoints  []Checkpoint
	LastTrigger  []byte // JSON of the last delivered trigger, for resume
	ErrorMessage *string
	Version      int64 // optimistic concurrency token
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// AuditEntry is one immutable record of a change.
type AuditEntry struct {
	ID         string
	Action     string
	EntityType string
	EntityID   string
	UserID     *string
	RequestID  *string
	OldValues  map[string]interface{}
	NewValues  map[string]interface{}
	RecordedAt time.Time
}
