package workflow

import (
	"encoding/json"

	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-procure-requests/internal/repository"
)

// TriggerKind identifies what external happening is being delivered.
type TriggerKind string

const (
	TriggerRequestSubmitted TriggerKind = "request_submitted"
	TriggerQuoteReceived    TriggerKind = "quote_received"
	TriggerQuoteDeadline    TriggerKind = "quote_deadline"
	TriggerReviewApproved   TriggerKind = "review_approved"
	TriggerPaymentRequested TriggerKind = "payment_requested"
	TriggerGatewayEvent     TriggerKind = "gateway_event"
	TriggerCancel           TriggerKind = "cancel"
	// triggerContinue is synthesized internally to run auto steps; it never
	// arrives from outside.
	triggerContinue TriggerKind = "continue"
)

// QuoteCandidate is a validated quote payload from any source (email
// extraction, upload, manual entry, API).
type QuoteCandidate struct {
	VendorID    string                 `json:"vendor_id"`
	Items       []repository.QuoteItem `json:"items,omitempty"`
	TotalAmount decimal.Decimal        `json:"total_amount"`
	Currency    string                 `json:"currency"`
	Source      repository.QuoteSource `json:"source"`
	Confidence  *float64               `json:"confidence,omitempty"`
}

// Trigger is one delivery into the executor. The JSON form is persisted as
// the execution's last trigger so a restart can re-deliver it.
type Trigger struct {
	Kind TriggerKind `json:"kind"`

	Quote *QuoteCandidate `json:"quote,omitempty"`

	PaymentID     string                   `json:"payment_id,omitempty"`
	PaymentStatus repository.PaymentStatus `json:"payment_status,omitempty"`
	GatewayRef    *string                  `json:"gateway_ref,omitempty"`
	FailureReason *string                  `json:"failure_reason,omitempty"`

	QuoteID string `json:"quote_id,omitempty"`

	ActorUserID *string `json:"actor_user_id,omitempty"`
	Reason      string  `json:"reason,omitempty"`
}

// Marshal encodes the trigger for persistence.
func (t *Trigger) Marshal() []byte {
	data, err := json.Marshal(t)
	if err != nil {
		return nil
	}
	return data
}

// UnmarshalTrigger decodes a persisted trigger; nil input yields nil.
func UnmarshalTrigger(data []byte) (*Trigger, error) {
	if len(data) == 0 {
		return nil, nil
	}
	t := &Trigger{}
	if err := json.Unmarshal(data, t); err != nil {
		return nil, err
	}
	return t, nil
}

// OutcomeKind classifies the result of one advance call.
type OutcomeKind string

const (
	// OutcomeIgnored means the trigger did not apply to the current state.
	// Late and duplicate triggers are expected traffic, not errors.
	OutcomeIgnored OutcomeKind = "Ignored"
	// OutcomeAdvanced means the step ran and committed.
	OutcomeAdvanced OutcomeKind = "Advanced"
	// OutcomeFailed means the execution moved to FAILED.
	OutcomeFailed OutcomeKind = "Failed"
)

// StepOutcome is the typed result every advance caller receives.
type StepOutcome struct {
	Kind         OutcomeKind
	State        string // currentState after the call
	RequestState repository.RequestStatus
	Detail       string

	autoContinue bool
}
