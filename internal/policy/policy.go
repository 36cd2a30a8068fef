// Package policy holds the step decision functions. Each policy is a pure
// decision over an invoice snapshot plus read-only reference data: it may
// enrich the snapshot and pick the next state, but persistence, ordering
// and idempotency belong to the worker runtime. Rule-based and LLM-backed
// variants implement the same contract and are chosen by configuration.
package policy

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-ap-lifecycle/internal/domain"
	"github.com/pesio-ai/be-ap-lifecycle/internal/notify"
)

// Outcome is a policy decision. Next must be a legal transition target for
// the step's precondition state. Ledger, when set, is persisted in the
// same conditional write as the invoice.
type Outcome struct {
	Next domain.State

	// Populated when Next is FAILED.
	FailureCode   string
	FailureReason string

	// Populated when Next is MANUAL_REVIEW.
	ReviewReason string

	// Ledger bucket update produced by the budget step.
	Ledger *domain.LedgerEntry

	// Alerts are sent by the worker once the transition commits. Decide
	// re-runs on conflict retries, so firing them here would duplicate.
	Alerts []notify.Alert
}

// Policy is one step's decision function.
type Policy interface {
	Name() string
	// Decide inspects and may enrich inv, returning the transition to
	// perform. Returned errors are transient: the worker nacks the event
	// and the bus redelivers.
	Decide(ctx context.Context, inv *domain.Invoice) (*Outcome, error)
}

// Config carries the tunable thresholds shared by the rule-based policies.
type Config struct {
	// MinExtractionConfidence below which intake fails the invoice.
	MinExtractionConfidence float64
	// DuplicateWindow bounds how far back validation looks for duplicates.
	DuplicateWindow time.Duration
	// AutoApprovalCeiling above which approval requires a human.
	AutoApprovalCeiling decimal.Decimal
}

// DefaultConfig mirrors the production defaults.
func DefaultConfig() Config {
	return Config{
		MinExtractionConfidence: 0.70,
		DuplicateWindow:         90 * 24 * time.Hour,
		AutoApprovalCeiling:     decimal.NewFromInt(5000),
	}
}

func failed(code, reason string) *Outcome {
	return &Outcome{Next: domain.StateFailed, FailureCode: code, FailureReason: reason}
}
