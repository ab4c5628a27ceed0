package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-procure-requests/internal/errors"
	"github.com/pesio-ai/be-procure-requests/internal/repository"
)

// memStore is an in-memory repository.Store with transactional rollback via
// copy-on-begin snapshots. It mirrors the SQL layer's contracts: NotFound for
// missing rows, Conflict for version mismatches and duplicate active
// executions.
type memStore struct {
	mu   sync.Mutex
	data *memData
}

type memData struct {
	requests   map[string]*repository.ProcurementRequest
	quotes     map[string]*repository.Quote
	payments   map[string]*repository.Payment
	executions map[string]*repository.WorkflowExecution
	audit      []*repository.AuditEntry
}

func newMemStore() *memStore {
	return &memStore{data: &memData{
		requests:   map[string]*repository.ProcurementRequest{},
		quotes:     map[string]*repository.Quote{},
		payments:   map[string]*repository.Payment{},
		executions: map[string]*repository.WorkflowExecution{},
	}}
}

func (s *memStore) InTransaction(ctx context.Context, fn func(tx repository.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.data.clone()
	if err := fn(&memTx{data: s.data}); err != nil {
		s.data = snapshot
		return err
	}
	return nil
}

func (s *memStore) Read() repository.Tx {
	return &memTx{data: s.data, lock: &s.mu}
}

func (d *memData) clone() *memData {
	out := &memData{
		requests:   map[string]*repository.ProcurementRequest{},
		quotes:     map[string]*repository.Quote{},
		payments:   map[string]*repository.Payment{},
		executions: map[string]*repository.WorkflowExecution{},
	}
	for k, v := range d.requests {
		out.requests[k] = cloneRequest(v)
	}
	for k, v := range d.quotes {
		out.quotes[k] = cloneQuote(v)
	}
	for k, v := range d.payments {
		out.payments[k] = clonePayment(v)
	}
	for k, v := range d.executions {
		out.executions[k] = cloneExecution(v)
	}
	out.audit = append(out.audit, d.audit...)
	return out
}

func cloneRequest(r *repository.ProcurementRequest) *repository.ProcurementRequest {
	c := *r
	c.Items = append([]repository.RequestItem(nil), r.Items...)
	return &c
}

func cloneQuote(q *repository.Quote) *repository.Quote {
	c := *q
	c.Items = append([]repository.QuoteItem(nil), q.Items...)
	return &c
}

func clonePayment(p *repository.Payment) *repository.Payment {
	c := *p
	return &c
}

func cloneExecution(e *repository.WorkflowExecution) *repository.WorkflowExecution {
	c := *e
	c.Checkpoints = append([]repository.Checkpoint(nil), e.Checkpoints...)
	c.LastTrigger = append([]byte(nil), e.LastTrigger...)
	c.StateData = repository.StateData{}
	for k, v := range e.StateData {
		step := *v
		c.StateData[k] = &step
	}
	return &c
}

// memTx binds every store to the shared data. When lock is set (reads outside
// a transaction) each operation locks individually.
type memTx struct {
	data *memData
	lock *sync.Mutex
}

func (t *memTx) locked(fn func() error) error {
	if t.lock != nil {
		t.lock.Lock()
		defer t.lock.Unlock()
	}
	return fn()
}

func (t *memTx) Requests() repository.RequestStore     { return &memRequests{t} }
func (t *memTx) Quotes() repository.QuoteStore         { return &memQuotes{t} }
func (t *memTx) Payments() repository.PaymentStore     { return &memPayments{t} }
func (t *memTx) Executions() repository.ExecutionStore { return &memExecutions{t} }
func (t *memTx) Audit() repository.AuditStore          { return &memAudit{t} }

// ── requests ─────────────────────────────────────────────────────────────────

type memRequests struct{ tx *memTx }

func (m *memRequests) Create(ctx context.Context, req *repository.ProcurementRequest) error {
	return m.tx.locked(func() error {
		req.CreatedAt = time.Now().UTC()
		req.UpdatedAt = req.CreatedAt
		m.tx.data.requests[req.ID] = cloneRequest(req)
		return nil
	})
}

func (m *memRequests) GetByID(ctx context.Context, id, orgID string) (*repository.ProcurementRequest, error) {
	var out *repository.ProcurementRequest
	err := m.tx.locked(func() error {
		r, ok := m.tx.data.requests[id]
		if !ok || r.OrgID != orgID {
			return errors.NotFound("procurement request", id)
		}
		out = cloneRequest(r)
		return nil
	})
	return out, err
}

func (m *memRequests) Get(ctx context.Context, id string) (*repository.ProcurementRequest, error) {
	var out *repository.ProcurementRequest
	err := m.tx.locked(func() error {
		r, ok := m.tx.data.requests[id]
		if !ok {
			return errors.NotFound("procurement request", id)
		}
		out = cloneRequest(r)
		return nil
	})
	return out, err
}

func (m *memRequests) List(ctx context.Context, orgID string, status *repository.RequestStatus, limit, offset int) ([]*repository.ProcurementRequest, int64, error) {
	var out []*repository.ProcurementRequest
	err := m.tx.locked(func() error {
		for _, r := range m.tx.data.requests {
			if r.OrgID != orgID {
				continue
			}
			if status != nil && r.Status != *status {
				continue
			}
			out = append(out, cloneRequest(r))
		}
		return nil
	})
	return out, int64(len(out)), err
}

func (m *memRequests) UpdateStatus(ctx context.Context, id string, status repository.RequestStatus, updatedBy *string) error {
	return m.tx.locked(func() error {
		r, ok := m.tx.data.requests[id]
		if !ok {
			return errors.NotFound("procurement request", id)
		}
		r.Status = status
		r.UpdatedAt = time.Now().UTC()
		return nil
	})
}

func (m *memRequests) MarkRequested(ctx context.Context, id string, at time.Time) error {
	return m.tx.locked(func() error {
		r, ok := m.tx.data.requests[id]
		if !ok {
			return errors.NotFound("procurement request", id)
		}
		r.RequestedAt = &at
		return nil
	})
}

func (m *memRequests) MarkApproved(ctx context.Context, id, vendorID, quoteID string, at time.Time) error {
	return m.tx.locked(func() error {
		r, ok := m.tx.data.requests[id]
		if !ok {
			return errors.NotFound("procurement request", id)
		}
		r.ApprovedVendorID = &vendorID
		r.ApprovedQuoteID = &quoteID
		r.ApprovedAt = &at
		return nil
	})
}

func (m *memRequests) MarkCompleted(ctx context.Context, id string, at time.Time) error {
	return m.tx.locked(func() error {
		r, ok := m.tx.data.requests[id]
		if !ok {
			return errors.NotFound("procurement request", id)
		}
		r.CompletedAt = &at
		return nil
	})
}

func (m *memRequests) ListStaleQuoteSolicitations(ctx context.Context, olderThan time.Time) ([]string, error) {
	var ids []string
	err := m.tx.locked(func() error {
		for _, r := range m.tx.data.requests {
			if r.Status == repository.RequestQuotesRequested && r.RequestedAt != nil && r.RequestedAt.Before(olderThan) {
				ids = append(ids, r.ID)
			}
		}
		return nil
	})
	return ids, err
}

// ── quotes ───────────────────────────────────────────────────────────────────

type memQuotes struct{ tx *memTx }

func (m *memQuotes) Insert(ctx context.Context, q *repository.Quote) error {
	return m.tx.locked(func() error {
		q.CreatedAt = time.Now().UTC()
		q.UpdatedAt = q.CreatedAt
		m.tx.data.quotes[q.ID] = cloneQuote(q)
		return nil
	})
}

func (m *memQuotes) Get(ctx context.Context, id string) (*repository.Quote, error) {
	var out *repository.Quote
	err := m.tx.locked(func() error {
		q, ok := m.tx.data.quotes[id]
		if !ok {
			return errors.NotFound("quote", id)
		}
		out = cloneQuote(q)
		return nil
	})
	return out, err
}

func (m *memQuotes) ListByRequest(ctx context.Context, requestID string) ([]*repository.Quote, error) {
	var out []*repository.Quote
	err := m.tx.locked(func() error {
		for _, q := range m.tx.data.quotes {
			if q.RequestID == requestID {
				out = append(out, cloneQuote(q))
			}
		}
		return nil
	})
	return out, err
}

func (m *memQuotes) FindDuplicate(ctx context.Context, q *repository.Quote) (*repository.Quote, error) {
	var out *repository.Quote
	err := m.tx.locked(func() error {
		for _, existing := range m.tx.data.quotes {
			if existing.RequestID == q.RequestID &&
				existing.VendorID == q.VendorID &&
				existing.Source == q.Source &&
				existing.TotalAmount.Equal(q.TotalAmount) {
				out = cloneQuote(existing)
				return nil
			}
		}
		return nil
	})
	return out, err
}

func (m *memQuotes) CountDistinctVendors(ctx context.Context, requestID string) (int, error) {
	vendors := map[string]bool{}
	err := m.tx.locked(func() error {
		for _, q := range m.tx.data.quotes {
			if q.RequestID == requestID {
				vendors[q.VendorID] = true
			}
		}
		return nil
	})
	return len(vendors), err
}

func (m *memQuotes) UpdateStatus(ctx context.Context, id string, status repository.QuoteStatus) error {
	return m.tx.locked(func() error {
		q, ok := m.tx.data.quotes[id]
		if !ok {
			return errors.NotFound("quote", id)
		}
		q.Status = status
		q.UpdatedAt = time.Now().UTC()
		return nil
	})
}

func (m *memQuotes) RejectAllExcept(ctx context.Context, requestID, winnerID string) error {
	return m.tx.locked(func() error {
		for _, q := range m.tx.data.quotes {
			if q.RequestID == requestID && q.ID != winnerID &&
				(q.Status == repository.QuotePending || q.Status == repository.QuoteReviewed) {
				q.Status = repository.QuoteRejected
			}
		}
		return nil
	})
}

// ── payments ─────────────────────────────────────────────────────────────────

type memPayments struct{ tx *memTx }

func (m *memPayments) Insert(ctx context.Context, p *repository.Payment) error {
	return m.tx.locked(func() error {
		p.CreatedAt = time.Now().UTC()
		p.UpdatedAt = p.CreatedAt
		m.tx.data.payments[p.ID] = clonePayment(p)
		return nil
	})
}

func (m *memPayments) Get(ctx context.Context, id string) (*repository.Payment, error) {
	var out *repository.Payment
	err := m.tx.locked(func() error {
		p, ok := m.tx.data.payments[id]
		if !ok {
			return errors.NotFound("payment", id)
		}
		out = clonePayment(p)
		return nil
	})
	return out, err
}

func (m *memPayments) UpdateStatus(ctx context.Context, id string, status repository.PaymentStatus, gatewayRef, failureReason *string, paidAt *time.Time) error {
	return m.tx.locked(func() error {
		p, ok := m.tx.data.payments[id]
		if !ok {
			return errors.NotFound("payment", id)
		}
		p.Status = status
		if gatewayRef != nil {
			p.GatewayRef = gatewayRef
		}
		if failureReason != nil {
			p.FailureReason = failureReason
		}
		if paidAt != nil {
			p.PaidAt = paidAt
		}
		p.UpdatedAt = time.Now().UTC()
		return nil
	})
}

func (m *memPayments) HasSucceededForRequest(ctx context.Context, requestID string) (bool, error) {
	var found bool
	err := m.tx.locked(func() error {
		for _, p := range m.tx.data.payments {
			if p.RequestID == requestID && p.Status == repository.PaymentSucceeded {
				found = true
			}
		}
		return nil
	})
	return found, err
}

// ── executions ───────────────────────────────────────────────────────────────

type memExecutions struct{ tx *memTx }

func (m *memExecutions) Insert(ctx context.Context, exec *repository.WorkflowExecution) error {
	return m.tx.locked(func() error {
		for _, e := range m.tx.data.executions {
			if e.WorkflowType == exec.WorkflowType && e.EntityID == exec.EntityID && !e.Status.IsTerminal() {
				return errors.Conflict("an active workflow execution already exists for this entity")
			}
		}
		exec.Version = 1
		exec.CreatedAt = time.Now().UTC()
		exec.UpdatedAt = exec.CreatedAt
		m.tx.data.executions[exec.ID] = cloneExecution(exec)
		return nil
	})
}

func (m *memExecutions) Update(ctx context.Context, exec *repository.WorkflowExecution) error {
	return m.tx.locked(func() error {
		stored, ok := m.tx.data.executions[exec.ID]
		if !ok || stored.Version != exec.Version {
			return errors.Conflict("workflow execution was modified concurrently")
		}
		exec.Version++
		exec.UpdatedAt = time.Now().UTC()
		m.tx.data.executions[exec.ID] = cloneExecution(exec)
		return nil
	})
}

func (m *memExecutions) GetActive(ctx context.Context, workflowType, entityID string) (*repository.WorkflowExecution, error) {
	var out *repository.WorkflowExecution
	err := m.tx.locked(func() error {
		for _, e := range m.tx.data.executions {
			if e.WorkflowType == workflowType && e.EntityID == entityID &&
				(e.Status == repository.WorkflowPending || e.Status == repository.WorkflowRunning) {
				out = cloneExecution(e)
				return nil
			}
		}
		return nil
	})
	return out, err
}

func (m *memExecutions) ListByStatus(ctx context.Context, workflowType string, status repository.WorkflowStatus) ([]*repository.WorkflowExecution, error) {
	var out []*repository.WorkflowExecution
	err := m.tx.locked(func() error {
		for _, e := range m.tx.data.executions {
			if e.WorkflowType == workflowType && e.Status == status {
				out = append(out, cloneExecution(e))
			}
		}
		return nil
	})
	return out, err
}

// ── audit ────────────────────────────────────────────────────────────────────

type memAudit struct{ tx *memTx }

func (m *memAudit) Append(ctx context.Context, entry *repository.AuditEntry) error {
	return m.tx.locked(func() error {
		entry.RecordedAt = time.Now().UTC()
		e := *entry
		m.tx.data.audit = append(m.tx.data.audit, &e)
		return nil
	})
}

func (m *memAudit) ListByRequest(ctx context.Context, requestID string) ([]*repository.AuditEntry, error) {
	var out []*repository.AuditEntry
	err := m.tx.locked(func() error {
		for _, e := range m.tx.data.audit {
			if e.RequestID != nil && *e.RequestID == requestID {
				entry := *e
				out = append(out, &entry)
			}
		}
		return nil
	})
	return out, err
}

// ── gateway ──────────────────────────────────────────────────────────────────

// fakeGateway records initiate calls and can be told to fail.
type fakeGateway struct {
	mu    sync.Mutex
	calls []fakeGatewayCall
	err   error
}

type fakeGatewayCall struct {
	IdempotencyKey string
	Amount         decimal.Decimal
	Currency       string
}

func (g *fakeGateway) Initiate(ctx context.Context, idempotencyKey string, amount decimal.Decimal, currency string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return "", g.err
	}
	g.calls = append(g.calls, fakeGatewayCall{IdempotencyKey: idempotencyKey, Amount: amount, Currency: currency})
	return fmt.Sprintf("gw-ref-%d", len(g.calls)), nil
}

func (g *fakeGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}
