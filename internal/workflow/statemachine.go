// Package workflow implements the procurement orchestration engine: a
// guarded request state machine, quote reconciliation, payment coordination
// and the resumable step executor that drives them.
package workflow

import (
	"fmt"

	"github.com/pesio-ai/be-procure-requests/internal/errors"
	"github.com/pesio-ai/be-procure-requests/internal/repository"
)

// Event is a request lifecycle event applied through the state machine.
type Event string

const (
	EventQuotesSolicited   Event = "QuotesSolicited"
	EventQuoteThresholdMet Event = "QuoteThresholdMet"
	EventReviewStarted     Event = "ReviewStarted"
	EventReviewApproved    Event = "ReviewApproved"
	EventPaymentInitiated  Event = "PaymentInitiated"
	EventPaymentConfirmed  Event = "PaymentConfirmed"
	EventPaymentFailed     Event = "PaymentFailed"
	EventComplete          Event = "Complete"
	EventCancel            Event = "Cancel"
)

// transitions maps (current status, event) to the next status. Cancel is
// handled separately since it applies from every non-terminal status.
// PaymentFailed is the single backward edge: a failed gateway attempt
// returns the request to APPROVED so payment can be re-initiated.
var transitions = map[repository.RequestStatus]map[Event]repository.RequestStatus{
	repository.RequestCreated: {
		EventQuotesSolicited: repository.RequestQuotesRequested,
	},
	repository.RequestQuotesRequested: {
		EventQuoteThresholdMet: repository.RequestQuotesReceived,
	},
	repository.RequestQuotesReceived: {
		EventReviewStarted: repository.RequestUnderReview,
	},
	repository.RequestUnderReview: {
		EventReviewApproved: repository.RequestApproved,
	},
	repository.RequestApproved: {
		EventPaymentInitiated: repository.RequestPaymentPending,
	},
	repository.RequestPaymentPending: {
		EventPaymentConfirmed: repository.RequestPaid,
		EventPaymentFailed:    repository.RequestApproved,
	},
	repository.RequestPaid: {
		EventComplete: repository.RequestCompleted,
	},
}

// StateMachine validates and applies ProcurementRequest status transitions.
// It has no side effects; callers persist the result and record the audit
// entry themselves.
type StateMachine struct{}

// NewStateMachine creates a request state machine.
func NewStateMachine() *StateMachine {
	return &StateMachine{}
}

// Transition returns the status that applying event to the current status
// yields. An event that is not legal from the current status returns an
// UNPROCESSABLE error; that is an ordering bug in the caller, never
// silently swallowed here.
func (m *StateMachine) Transition(current repository.RequestStatus, event Event) (repository.RequestStatus, error) {
	if event == EventCancel {
		if current.IsTerminal() {
			return "", errors.New(errors.ErrCodeUnprocessable,
				fmt.Sprintf("event %s is not valid for terminal status %s", event, current))
		}
		return repository.RequestCancelled, nil
	}

	next, ok := transitions[current][event]
	if !ok {
		return "", errors.New(errors.ErrCodeUnprocessable,
			fmt.Sprintf("event %s is not valid for status %s", event, current))
	}
	return next, nil
}

// CanApply reports whether event is legal from the current status.
func (m *StateMachine) CanApply(current repository.RequestStatus, event Event) bool {
	if event == EventCancel {
		return !current.IsTerminal()
	}
	_, ok := transitions[current][event]
	return ok
}
