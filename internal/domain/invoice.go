package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DocumentType distinguishes invoices from receipts at intake.
type DocumentType string

const (
	DocumentInvoice DocumentType = "invoice"
	DocumentReceipt DocumentType = "receipt"
)

// Source records how the document entered the system.
type Source string

const (
	SourceEmail  Source = "email"
	SourceAPI    Source = "api"
	SourceUpload Source = "upload"
	SourceManual Source = "manual"
)

// Priority is an intake hint carried through to analytics and approvers.
type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// LineItem is one invoice line. Lines are ordered and may be empty for
// receipts.
type LineItem struct {
	LineNumber  int             `json:"line_number"`
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Amount      decimal.Decimal `json:"amount"`
}

// InternalMessage is a processing note attached to an invoice by a worker,
// kept for operators and analytics rather than for control flow.
type InternalMessage struct {
	Agent     string    `json:"agent"`
	Code      string    `json:"code,omitempty"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Invoice is the central entity advanced through the state machine. It is
// created once by the intake boundary, mutated one transition at a time by
// workers under optimistic concurrency, and never deleted.
type Invoice struct {
	InvoiceID     string       `json:"invoice_id"`
	InvoiceNumber string       `json:"invoice_number,omitempty"`
	DocumentType  DocumentType `json:"document_type"`
	DepartmentID  string       `json:"department_id"`
	ProjectID     string       `json:"project_id,omitempty"`
	Category      string       `json:"category,omitempty"`
	VendorID      string       `json:"vendor_id,omitempty"`
	VendorName    string       `json:"vendor_name,omitempty"`

	Amount    decimal.Decimal `json:"amount"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	TaxAmount decimal.Decimal `json:"tax_amount"`
	Currency  string          `json:"currency"`
	Lines     []LineItem      `json:"lines,omitempty"`

	// Opaque handle to the externally stored source document. The file
	// itself is never embedded.
	DocumentRef string `json:"document_ref,omitempty"`

	State          State  `json:"state"`
	PreviousState  State  `json:"previous_state,omitempty"`
	StateChangedBy string `json:"state_changed_by,omitempty"`

	// Intake enrichment produced by the extraction collaborator.
	ExtractionConfidence float64  `json:"extraction_confidence,omitempty"`
	QRPayloads           []string `json:"qr_payloads,omitempty"`

	// Budget enrichment. BudgetBucket is the consumption bucket the amount
	// was folded into, set on the first pass through the budget step; a
	// re-run after a manual-review resume sees it and must not consume the
	// bucket again.
	BudgetYear   string `json:"budget_year,omitempty"`
	BudgetBucket string `json:"budget_bucket,omitempty"`
	OverBudget   bool   `json:"over_budget,omitempty"`

	// Approval enrichment.
	ApprovalRequired  bool   `json:"approval_required,omitempty"`
	SuggestedApprover string `json:"suggested_approver,omitempty"`

	// ManuallyCleared is set by the manual-review resolution action when a
	// reviewer accepts an over-budget invoice. The approval policy trusts
	// this field instead of inferring clearance from state history.
	ManuallyCleared bool `json:"manually_cleared,omitempty"`

	// Payment enrichment.
	DueDate        *time.Time `json:"due_date,omitempty"`
	PaymentBatchID string     `json:"payment_batch_id,omitempty"`

	FailureCode   string            `json:"failure_code,omitempty"`
	FailureReason string            `json:"failure_reason,omitempty"`
	Warnings      []InternalMessage `json:"warnings,omitempty"`

	Source   Source   `json:"source"`
	Priority Priority `json:"priority"`

	IssuedDate *time.Time `json:"issued_date,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`

	// Version is the optimistic-concurrency token. Every mutation must
	// present the version it read; the store rejects stale writes.
	Version int64 `json:"version"`
}

// PeriodDate returns the date the budget period is derived from: the
// issued date when extraction produced one, otherwise the intake time.
func (inv *Invoice) PeriodDate() time.Time {
	if inv.IssuedDate != nil && !inv.IssuedDate.IsZero() {
		return *inv.IssuedDate
	}
	return inv.CreatedAt
}

// Warn appends a processing note without affecting control flow.
func (inv *Invoice) Warn(agent, code, msg string) {
	inv.Warnings = append(inv.Warnings, InternalMessage{
		Agent:     agent,
		Code:      code,
		Message:   msg,
		Timestamp: time.Now().UTC(),
	})
}
