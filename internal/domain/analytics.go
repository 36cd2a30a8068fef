package domain

import "time"

// InvoiceAnalytics is the flattened per-invoice row maintained by the
// analytics tap. It observes the pipeline without participating in it, so
// nothing here feeds back into worker decisions.
type InvoiceAnalytics struct {
	InvoiceID    string `json:"invoice_id"`
	DepartmentID string `json:"department_id"`

	State        State   `json:"state"`
	DocumentType string  `json:"document_type"`
	Amount       float64 `json:"amount"`
	Currency     string  `json:"currency"`
	Category     string  `json:"category,omitempty"`
	Source       string  `json:"source,omitempty"`
	Priority     string  `json:"priority,omitempty"`
	BudgetYear   string  `json:"budget_year,omitempty"`

	VendorID   string `json:"vendor_id,omitempty"`
	VendorName string `json:"vendor_name,omitempty"`

	OverBudget   bool   `json:"over_budget,omitempty"`
	ApprovalType string `json:"approval_type,omitempty"` // auto or manual
	FailureCode  string `json:"failure_code,omitempty"`

	// Timeline: when each state was first observed.
	CreatedAt          time.Time  `json:"created_at"`
	ExtractedAt        *time.Time `json:"extracted_at,omitempty"`
	ValidatedAt        *time.Time `json:"validated_at,omitempty"`
	BudgetCheckedAt    *time.Time `json:"budget_checked_at,omitempty"`
	ApprovedAt         *time.Time `json:"approved_at,omitempty"`
	PaymentScheduledAt *time.Time `json:"payment_scheduled_at,omitempty"`
	PaidAt             *time.Time `json:"paid_at,omitempty"`
	FailedAt           *time.Time `json:"failed_at,omitempty"`

	// ProcessingMinutes is the CREATED to PAID duration, computed at close.
	ProcessingMinutes float64   `json:"processing_minutes,omitempty"`
	UpdatedAt         time.Time `json:"updated_at"`
}
