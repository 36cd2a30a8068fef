package domain

import "time"

// Event subjects published on the bus, one per state change. Each worker
// subscribes to exactly one subject; the analytics tap subscribes to all.
const (
	SubjectCreated          = "invoice.created"
	SubjectExtracted        = "invoice.extracted"
	SubjectValidated        = "invoice.validated"
	SubjectBudgetChecked    = "invoice.budget_checked"
	SubjectApproved         = "invoice.approved"
	SubjectPaymentScheduled = "invoice.payment_scheduled"
	SubjectPaid             = "invoice.paid"
	SubjectFailed           = "invoice.failed"
	SubjectManualReview     = "invoice.manual_review"
)

// subjectByState maps the state an invoice just entered to the subject
// announcing it.
var subjectByState = map[State]string{
	StateCreated:          SubjectCreated,
	StateExtracted:        SubjectExtracted,
	StateValidated:        SubjectValidated,
	StateBudgetChecked:    SubjectBudgetChecked,
	StateApproved:         SubjectApproved,
	StatePaymentScheduled: SubjectPaymentScheduled,
	StatePaid:             SubjectPaid,
	StateFailed:           SubjectFailed,
	StateManualReview:     SubjectManualReview,
}

// SubjectFor returns the bus subject announcing entry into state s.
func SubjectFor(s State) (string, bool) {
	subj, ok := subjectByState[s]
	return subj, ok
}

// Event is the wire payload exchanged between workers. It deliberately
// carries references and step enrichment only, never the full invoice:
// every consumer re-reads the invoice from the store before acting.
type Event struct {
	Subject      string    `json:"subject"`
	InvoiceID    string    `json:"invoice_id"`
	DepartmentID string    `json:"department_id"`
	VersionToken int64     `json:"version_token"`
	EmittedAt    time.Time `json:"emitted_at"`
	EmittedBy    string    `json:"emitted_by"`

	// Step enrichment.
	OverBudget   bool   `json:"over_budget,omitempty"`
	BudgetYear   string `json:"budget_year,omitempty"`
	FailureCode  string `json:"failure_code,omitempty"`
	ReviewReason string `json:"review_reason,omitempty"`
}
