package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-procure-requests/internal/errors"
	"github.com/pesio-ai/be-procure-requests/internal/logger"
	"github.com/pesio-ai/be-procure-requests/internal/repository"
	"github.com/pesio-ai/be-procure-requests/internal/service"
	"github.com/pesio-ai/be-procure-requests/internal/workflow"
)

// HTTPHandler handles HTTP requests
type HTTPHandler struct {
	service *service.ProcurementService
	log     *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler
func NewHTTPHandler(service *service.ProcurementService, log *logger.Logger) *HTTPHandler {
	return &HTTPHandler{
		service: service,
		log:     log,
	}
}

type createRequestBody struct {
	OrgID    string            `json:"org_id"`
	Priority string            `json:"priority"`
	Currency string            `json:"currency"`
	Items    []requestItemBody `json:"items"`
}

type requestItemBody struct {
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	Unit        *string         `json:"unit,omitempty"`
	ItemCode    *string         `json:"item_code,omitempty"`
}

// CreateRequest handles create procurement request calls.
func (h *HTTPHandler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body createRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	in := &service.CreateRequestRequest{
		OrgID:     body.OrgID,
		Priority:  body.Priority,
		Currency:  body.Currency,
		CreatedBy: r.Header.Get("X-User-ID"),
	}
	for _, item := range body.Items {
		in.Items = append(in.Items, &service.RequestItemRequest{
			Description: item.Description,
			Quantity:    item.Quantity,
			Unit:        item.Unit,
			ItemCode:    item.ItemCode,
		})
	}

	req, err := h.service.CreateRequest(r.Context(), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, req)
}

// GetRequest handles get request calls.
func (h *HTTPHandler) GetRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	req, err := h.service.GetRequest(r.Context(), r.URL.Query().Get("id"), r.URL.Query().Get("org_id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, req)
}

// ListRequests handles list request calls.
func (h *HTTPHandler) ListRequests(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var status *repository.RequestStatus
	if s := r.URL.Query().Get("status"); s != "" {
		st := repository.RequestStatus(s)
		status = &st
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	requests, total, err := h.service.ListRequests(r.Context(), r.URL.Query().Get("org_id"), status, limit, offset)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"requests": requests,
		"total":    total,
	})
}

type submitQuoteBody struct {
	RequestID   string                 `json:"request_id"`
	VendorID    string                 `json:"vendor_id"`
	Items       []repository.QuoteItem `json:"items,omitempty"`
	TotalAmount decimal.Decimal        `json:"total_amount"`
	Currency    string                 `json:"currency"`
	Source      string                 `json:"source"`
	Confidence  *float64               `json:"confidence,omitempty"`
}

// SubmitQuote handles manual and API quote submissions.
func (h *HTTPHandler) SubmitQuote(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body submitQuoteBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	source := repository.QuoteSource(body.Source)
	if body.Source == "" {
		source = repository.SourceManual
	}

	outcome, err := h.service.SubmitQuote(r.Context(), body.RequestID, &workflow.QuoteCandidate{
		VendorID:    body.VendorID,
		Items:       body.Items,
		TotalAmount: body.TotalAmount,
		Currency:    body.Currency,
		Source:      source,
		Confidence:  body.Confidence,
	}, h.actor(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeOutcome(w, outcome)
}

// ListQuotes handles list quote calls.
func (h *HTTPHandler) ListQuotes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	quotes, err := h.service.ListQuotes(r.Context(), r.URL.Query().Get("request_id"), r.URL.Query().Get("org_id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"quotes": quotes})
}

type approveBody struct {
	RequestID string `json:"request_id"`
	QuoteID   string `json:"quote_id"`
}

// ApproveQuote handles reviewer approval calls.
func (h *HTTPHandler) ApproveQuote(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body approveBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	outcome, err := h.service.ApproveQuote(r.Context(), body.RequestID, body.QuoteID, h.actor(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeOutcome(w, outcome)
}

type retryPaymentBody struct {
	RequestID string `json:"request_id"`
}

// RetryPayment handles payment retry calls after a failed attempt.
func (h *HTTPHandler) RetryPayment(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body retryPaymentBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	outcome, err := h.service.RetryPayment(r.Context(), body.RequestID, h.actor(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeOutcome(w, outcome)
}

type cancelBody struct {
	RequestID string `json:"request_id"`
	Reason    string `json:"reason"`
}

// CancelRequest handles cancellation calls.
func (h *HTTPHandler) CancelRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body cancelBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	outcome, err := h.service.CancelRequest(r.Context(), body.RequestID, body.Reason, h.actor(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeOutcome(w, outcome)
}

// GetAuditTrail handles audit trail calls.
func (h *HTTPHandler) GetAuditTrail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	entries, err := h.service.GetAuditTrail(r.Context(), r.URL.Query().Get("request_id"), r.URL.Query().Get("org_id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

type gatewayWebhookBody struct {
	PaymentID     string  `json:"payment_id"`
	Status        string  `json:"status"`
	GatewayRef    *string `json:"gateway_ref,omitempty"`
	FailureReason *string `json:"failure_reason,omitempty"`
}

// GatewayWebhook handles payment gateway status callbacks. Replays of a
// terminal status return 200 with an ignored outcome.
func (h *HTTPHandler) GatewayWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body gatewayWebhookBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	outcome, err := h.service.ApplyGatewayUpdate(r.Context(), body.PaymentID,
		repository.PaymentStatus(body.Status), body.GatewayRef, body.FailureReason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeOutcome(w, outcome)
}

func (h *HTTPHandler) actor(r *http.Request) *string {
	if id := r.Header.Get("X-User-ID"); id != "" {
		return &id
	}
	return nil
}

func (h *HTTPHandler) writeOutcome(w http.ResponseWriter, outcome *workflow.StepOutcome) {
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"outcome":        string(outcome.Kind),
		"state":          outcome.State,
		"request_status": string(outcome.RequestState),
		"detail":         outcome.Detail,
	})
}

func (h *HTTPHandler) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.log.Error().Err(err).Msg("failed to encode response")
	}
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errors.HTTPStatus(err)
	if status >= 500 {
		h.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	h.writeJSON(w, status, map[string]string{"error": err.Error()})
}
