package policy

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/pesio-ai/be-ap-lifecycle/internal/domain"
)

// Advisor suggests an approver for invoices routed to manual review. The
// rule-based and LLM-backed implementations are interchangeable; a nil
// advisor simply leaves the suggestion empty.
type Advisor interface {
	SuggestApprover(ctx context.Context, inv *domain.Invoice) (string, error)
}

// Approve decides BUDGET_CHECKED invoices: auto-approve within policy
// limits, manual review when over budget or above the ceiling. Escalation
// itself is a notification concern, not a state.
type Approve struct {
	cfg     Config
	advisor Advisor
	log     zerolog.Logger
}

// NewApprove creates the approval step policy.
func NewApprove(cfg Config, advisor Advisor, log zerolog.Logger) *Approve {
	return &Approve{cfg: cfg, advisor: advisor, log: log}
}

func (p *Approve) Name() string { return "approval-agent" }

func (p *Approve) Decide(ctx context.Context, inv *domain.Invoice) (*Outcome, error) {
	if inv.OverBudget && !inv.ManuallyCleared {
		return p.review(ctx, inv, "over budget for the period"), nil
	}

	if inv.Amount.GreaterThan(p.cfg.AutoApprovalCeiling) {
		return p.review(ctx, inv, fmt.Sprintf(
			"amount %s above auto-approval ceiling %s",
			inv.Amount, p.cfg.AutoApprovalCeiling)), nil
	}

	inv.ApprovalRequired = false
	return &Outcome{Next: domain.StateApproved}, nil
}

func (p *Approve) review(ctx context.Context, inv *domain.Invoice, reason string) *Outcome {
	inv.ApprovalRequired = true
	if p.advisor != nil {
		approver, err := p.advisor.SuggestApprover(ctx, inv)
		if err != nil {
			// Advice is best-effort; review proceeds without it.
			p.log.Warn().Err(err).Str("invoice_id", inv.InvoiceID).Msg("approver suggestion failed")
		} else {
			inv.SuggestedApprover = approver
		}
	}
	return &Outcome{Next: domain.StateManualReview, ReviewReason: reason}
}
