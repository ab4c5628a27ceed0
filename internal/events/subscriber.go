package events

import (
	"context"
	"encoding/json"

	natsgo "github.com/nats-io/nats.go"
	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-procure-requests/internal/logger"
	natsclient "github.com/pesio-ai/be-procure-requests/internal/nats"
	"github.com/pesio-ai/be-procure-requests/internal/repository"
	"github.com/pesio-ai/be-procure-requests/internal/service"
	"github.com/pesio-ai/be-procure-requests/internal/workflow"
)

// Config names the subjects and queue group the subscriber binds to.
type Config struct {
	QuoteSubject   string
	PaymentSubject string
	QueueGroup     string
}

// Subscriber consumes broker messages from the quote-extraction pipeline and
// the payment gateway bridge and turns them into workflow triggers. All
// instances share a queue group so each message is handled once.
type Subscriber struct {
	nats    *natsclient.Client
	service *service.ProcurementService
	cfg     Config
	log     *logger.Logger

	subs []*natsgo.Subscription
}

// NewSubscriber creates an event subscriber.
func NewSubscriber(nats *natsclient.Client, svc *service.ProcurementService, cfg Config, log *logger.Logger) *Subscriber {
	return &Subscriber{nats: nats, service: svc, cfg: cfg, log: log}
}

// quoteExtractedMessage is an extracted vendor quote from the email pipeline.
type quoteExtractedMessage struct {
	RequestID   string                 `json:"request_id"`
	VendorID    string                 `json:"vendor_id"`
	Items       []repository.QuoteItem `json:"items,omitempty"`
	TotalAmount decimal.Decimal        `json:"total_amount"`
	Currency    string                 `json:"currency"`
	Confidence  *float64               `json:"confidence,omitempty"`
}

// paymentStatusMessage is a gateway status update relayed over the broker.
type paymentStatusMessage struct {
	PaymentID     string  `json:"payment_id"`
	Status        string  `json:"status"`
	GatewayRef    *string `json:"gateway_ref,omitempty"`
	FailureReason *string `json:"failure_reason,omitempty"`
}

// Start subscribes to all subjects. Subscriptions stay active until Stop.
func (s *Subscriber) Start(ctx context.Context) error {
	sub, err := s.nats.QueueSubscribe(s.cfg.QuoteSubject, s.cfg.QueueGroup, func(data []byte) {
		s.handleQuoteExtracted(ctx, data)
	})
	if err != nil {
		return err
	}
	if sub != nil {
		s.subs = append(s.subs, sub)
	}

	sub, err = s.nats.QueueSubscribe(s.cfg.PaymentSubject, s.cfg.QueueGroup, func(data []byte) {
		s.handlePaymentStatus(ctx, data)
	})
	if err != nil {
		return err
	}
	if sub != nil {
		s.subs = append(s.subs, sub)
	}

	s.log.Info().
		Str("quotes_subject", s.cfg.QuoteSubject).
		Str("payments_subject", s.cfg.PaymentSubject).
		Msg("event subscriptions active")
	return nil
}

// Stop unsubscribes from all subjects.
func (s *Subscriber) Stop() {
	for _, sub := range s.subs {
		_ = sub.Unsubscribe()
	}
	s.subs = nil
}

func (s *Subscriber) handleQuoteExtracted(ctx context.Context, data []byte) {
	var msg quoteExtractedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.log.Error().Err(err).Str("subject", s.cfg.QuoteSubject).Msg("malformed quote message dropped")
		return
	}

	outcome, err := s.service.SubmitQuote(ctx, msg.RequestID, &workflow.QuoteCandidate{
		VendorID:    msg.VendorID,
		Items:       msg.Items,
		TotalAmount: msg.TotalAmount,
		Currency:    msg.Currency,
		Source:      repository.SourceEmail,
		Confidence:  msg.Confidence,
	}, nil)
	if err != nil {
		s.log.Error().Err(err).
			Str("request_id", msg.RequestID).
			Str("vendor_id", msg.VendorID).
			Msg("quote ingestion failed")
		return
	}

	s.log.Info().
		Str("request_id", msg.RequestID).
		Str("vendor_id", msg.VendorID).
		Str("outcome", string(outcome.Kind)).
		Str("detail", outcome.Detail).
		Msg("extracted quote processed")
}

func (s *Subscriber) handlePaymentStatus(ctx context.Context, data []byte) {
	var msg paymentStatusMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.log.Error().Err(err).Str("subject", s.cfg.PaymentSubject).Msg("malformed payment message dropped")
		return
	}

	outcome, err := s.service.ApplyGatewayUpdate(ctx, msg.PaymentID,
		repository.PaymentStatus(msg.Status), msg.GatewayRef, msg.FailureReason)
	if err != nil {
		s.log.Error().Err(err).
			Str("payment_id", msg.PaymentID).
			Str("status", msg.Status).
			Msg("payment status update failed")
		return
	}

	s.log.Info().
		Str("payment_id", msg.PaymentID).
		Str("status", msg.Status).
		Str("outcome", string(outcome.Kind)).
		Msg("payment status processed")
}
