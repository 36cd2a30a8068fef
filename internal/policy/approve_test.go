package policy

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-ap-lifecycle/internal/domain"
)

func budgetCheckedInvoice(amount int64) *domain.Invoice {
	return &domain.Invoice{
		InvoiceID:    "INV-1",
		DepartmentID: "IT",
		Amount:       decimal.NewFromInt(amount),
		State:        domain.StateBudgetChecked,
	}
}

func TestApproveWithinLimits(t *testing.T) {
	p := NewApprove(DefaultConfig(), nil, zerolog.Nop())

	inv := budgetCheckedInvoice(500)
	out, err := p.Decide(context.Background(), inv)
	require.NoError(t, err)
	assert.Equal(t, domain.StateApproved, out.Next)
	assert.False(t, inv.ApprovalRequired)
}

func TestApproveOverBudgetGoesToReview(t *testing.T) {
	advisor := &RuleAdvisor{Routes: map[string]string{"IT": "it-lead"}}
	p := NewApprove(DefaultConfig(), advisor, zerolog.Nop())

	inv := budgetCheckedInvoice(500)
	inv.OverBudget = true
	out, err := p.Decide(context.Background(), inv)
	require.NoError(t, err)
	assert.Equal(t, domain.StateManualReview, out.Next)
	assert.Contains(t, out.ReviewReason, "over budget")
	assert.True(t, inv.ApprovalRequired)
	assert.Equal(t, "it-lead", inv.SuggestedApprover)
}

func TestApproveManuallyClearedOverBudget(t *testing.T) {
	p := NewApprove(DefaultConfig(), nil, zerolog.Nop())

	inv := budgetCheckedInvoice(500)
	inv.OverBudget = true
	inv.ManuallyCleared = true
	out, err := p.Decide(context.Background(), inv)
	require.NoError(t, err)
	assert.Equal(t, domain.StateApproved, out.Next, "a reviewer already cleared this spend")
}

func TestApproveAboveCeilingGoesToReview(t *testing.T) {
	p := NewApprove(DefaultConfig(), nil, zerolog.Nop())

	out, err := p.Decide(context.Background(), budgetCheckedInvoice(7500))
	require.NoError(t, err)
	assert.Equal(t, domain.StateManualReview, out.Next)
	assert.Contains(t, out.ReviewReason, "ceiling")
}

func TestRuleAdvisorFallback(t *testing.T) {
	advisor := &RuleAdvisor{Routes: map[string]string{"": "ap-manager", "IT": "it-lead"}}

	inv := budgetCheckedInvoice(500)
	inv.DepartmentID = "HR"
	approver, err := advisor.SuggestApprover(context.Background(), inv)
	require.NoError(t, err)
	assert.Equal(t, "ap-manager", approver)

	_, err = (&RuleAdvisor{}).SuggestApprover(context.Background(), inv)
	assert.Error(t, err)
}
