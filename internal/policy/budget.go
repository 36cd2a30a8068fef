package policy

import (
	"context"
	"errors"
	"fmt"

	"github.com/pesio-ai/be-ap-lifecycle/internal/domain"
	"github.com/pesio-ai/be-ap-lifecycle/internal/ledger"
)

// Budget folds a VALIDATED invoice into its consumption bucket. Being over
// budget is a flag for the approval step, not a failure; only an
// unresolvable bucket (no allocation) blocks the pipeline.
type Budget struct {
	ledger *ledger.Ledger
}

// NewBudget creates the budget-check step policy.
func NewBudget(l *ledger.Ledger) *Budget {
	return &Budget{ledger: l}
}

func (p *Budget) Name() string { return "budget-agent" }

func (p *Budget) Decide(ctx context.Context, inv *domain.Invoice) (*Outcome, error) {
	if inv.BudgetBucket != "" {
		// Already counted on an earlier pass; a manual-review resume re-runs
		// this step but the bucket must hold the invoice exactly once.
		return &Outcome{Next: domain.StateBudgetChecked}, nil
	}

	consumption, err := p.ledger.Consume(ctx, inv)
	if err != nil {
		if errors.Is(err, ledger.ErrNoAllocation) {
			return &Outcome{
				Next: domain.StateManualReview,
				ReviewReason: fmt.Sprintf(
					"no budget allocation for %s/%s/%s",
					inv.DepartmentID, inv.ProjectID, inv.Category),
			}, nil
		}
		return nil, err
	}

	inv.OverBudget = consumption.OverBudget
	inv.BudgetYear = consumption.Budget.FiscalYear
	inv.BudgetBucket = consumption.Entry.Key.String()
	if consumption.OverBudget {
		inv.Warn(p.Name(), "OVER_BUDGET", fmt.Sprintf(
			"bucket %s at %.0f%% utilization", consumption.Entry.Key, consumption.Utilization*100))
	}

	return &Outcome{
		Next:   domain.StateBudgetChecked,
		Ledger: consumption.Entry,
		Alerts: consumption.Alerts,
	}, nil
}
