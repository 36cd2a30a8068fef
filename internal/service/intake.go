// Package service holds the synchronous boundary operations: invoice
// intake and manual-review resolution. Both write through the same
// conditional-write store the workers use and announce their changes on
// the bus; they never advance the pipeline directly.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-ap-lifecycle/internal/bus"
	"github.com/pesio-ai/be-ap-lifecycle/internal/domain"
	"github.com/pesio-ai/be-ap-lifecycle/internal/store"
)

// SubmitRequest is an invoice submission from the API boundary.
type SubmitRequest struct {
	DocumentType  string            `json:"document_type"`
	DepartmentID  string            `json:"department_id"`
	ProjectID     string            `json:"project_id,omitempty"`
	Category      string            `json:"category,omitempty"`
	VendorID      string            `json:"vendor_id,omitempty"`
	VendorName    string            `json:"vendor_name,omitempty"`
	InvoiceNumber string            `json:"invoice_number,omitempty"`
	Amount        decimal.Decimal   `json:"amount"`
	Subtotal      decimal.Decimal   `json:"subtotal"`
	TaxAmount     decimal.Decimal   `json:"tax_amount"`
	Currency      string            `json:"currency,omitempty"`
	Lines         []domain.LineItem `json:"lines,omitempty"`
	DocumentRef   string            `json:"document_ref,omitempty"`
	Source        string            `json:"source,omitempty"`
	Priority      string            `json:"priority,omitempty"`
	IssuedDate    *time.Time        `json:"issued_date,omitempty"`
}

// IntakeService creates invoices and opens the choreography by publishing
// the created event.
type IntakeService struct {
	store store.Store
	bus   bus.Bus
	log   zerolog.Logger
}

func NewIntakeService(s store.Store, b bus.Bus, log zerolog.Logger) *IntakeService {
	return &IntakeService{store: s, bus: b, log: log}
}

// Submit validates the request, persists the CREATED invoice, and
// publishes invoice.created. Field extraction and all policy checks
// happen downstream in the workers.
func (s *IntakeService) Submit(ctx context.Context, req SubmitRequest) (*domain.Invoice, error) {
	if strings.TrimSpace(req.DepartmentID) == "" {
		return nil, fmt.Errorf("intake: department_id is required")
	}
	if req.DocumentRef == "" && req.Amount.IsZero() {
		return nil, fmt.Errorf("intake: either a document_ref or an amount is required")
	}
	if req.Amount.IsNegative() {
		return nil, fmt.Errorf("intake: amount must not be negative")
	}

	now := time.Now().UTC()
	inv := &domain.Invoice{
		InvoiceID:     uuid.NewString(),
		InvoiceNumber: strings.TrimSpace(req.InvoiceNumber),
		DocumentType:  documentType(req.DocumentType),
		DepartmentID:  req.DepartmentID,
		ProjectID:     req.ProjectID,
		Category:      req.Category,
		VendorID:      req.VendorID,
		VendorName:    strings.TrimSpace(req.VendorName),
		Amount:        req.Amount,
		Subtotal:      req.Subtotal,
		TaxAmount:     req.TaxAmount,
		Currency:      currency(req.Currency),
		Lines:         req.Lines,
		DocumentRef:   req.DocumentRef,
		State:         domain.StateCreated,
		Source:        source(req.Source),
		Priority:      priority(req.Priority),
		IssuedDate:    req.IssuedDate,
		CreatedAt:     now,
		UpdatedAt:     now,
		Version:       1,
	}

	if err := s.store.CreateInvoice(ctx, inv); err != nil {
		return nil, fmt.Errorf("intake: create invoice: %w", err)
	}
	if err := s.store.AppendAudit(ctx, domain.AuditRecord{
		RecordID:  uuid.NewString(),
		InvoiceID: inv.InvoiceID,
		ToState:   domain.StateCreated,
		Agent:     "api-intake",
		Outcome:   domain.AuditSuccess,
		At:        now,
	}); err != nil {
		s.log.Error().Err(err).Str("invoice_id", inv.InvoiceID).Msg("intake audit append failed")
	}

	if err := publishEvent(ctx, s.bus, inv, "api-intake", ""); err != nil {
		// The invoice exists but nothing will pick it up; surface the error
		// so the caller retries the submission (creation is idempotent per
		// invoice ID only, so a retry creates a fresh record).
		return nil, fmt.Errorf("intake: publish created event: %w", err)
	}

	s.log.Info().
		Str("invoice_id", inv.InvoiceID).
		Str("department_id", inv.DepartmentID).
		Str("amount", inv.Amount.String()).
		Msg("invoice submitted")
	return inv, nil
}

func publishEvent(ctx context.Context, b bus.Bus, inv *domain.Invoice, emittedBy, reviewReason string) error {
	subject, ok := domain.SubjectFor(inv.State)
	if !ok {
		return fmt.Errorf("no subject for state %s", inv.State)
	}
	data, err := json.Marshal(domain.Event{
		Subject:      subject,
		InvoiceID:    inv.InvoiceID,
		DepartmentID: inv.DepartmentID,
		VersionToken: inv.Version,
		EmittedAt:    time.Now().UTC(),
		EmittedBy:    emittedBy,
		OverBudget:   inv.OverBudget,
		BudgetYear:   inv.BudgetYear,
		FailureCode:  inv.FailureCode,
		ReviewReason: reviewReason,
	})
	if err != nil {
		return err
	}
	return b.Publish(ctx, subject, data)
}

func documentType(v string) domain.DocumentType {
	if domain.DocumentType(v) == domain.DocumentReceipt {
		return domain.DocumentReceipt
	}
	return domain.DocumentInvoice
}

func currency(v string) string {
	if v == "" {
		return "USD"
	}
	return strings.ToUpper(v)
}

func source(v string) domain.Source {
	switch domain.Source(v) {
	case domain.SourceEmail, domain.SourceUpload, domain.SourceManual:
		return domain.Source(v)
	default:
		return domain.SourceAPI
	}
}

func priority(v string) domain.Priority {
	switch domain.Priority(v) {
	case domain.PriorityHigh, domain.PriorityUrgent:
		return domain.Priority(v)
	default:
		return domain.PriorityNormal
	}
}
