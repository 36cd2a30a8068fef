package service

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-ap-lifecycle/internal/bus"
	"github.com/pesio-ai/be-ap-lifecycle/internal/domain"
	"github.com/pesio-ai/be-ap-lifecycle/internal/store"
)

func parkedInvoice(t *testing.T, st store.Store) *domain.Invoice {
	t.Helper()
	inv := &domain.Invoice{
		InvoiceID:    "INV-1",
		DepartmentID: "IT",
		Amount:       decimal.NewFromInt(500),
		State:        domain.StateManualReview,
		OverBudget:   true,
		CreatedAt:    time.Now().UTC(),
	}
	require.NoError(t, st.CreateInvoice(context.Background(), inv))
	return inv
}

func TestResolveApprove(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	b := bus.NewMemory(0)
	sub, err := b.Subscribe(ctx, "observer", domain.SubjectApproved)
	require.NoError(t, err)
	parkedInvoice(t, st)

	svc := NewReviewService(st, b, zerolog.Nop())
	inv, err := svc.Resolve(ctx, ResolveRequest{
		InvoiceID: "INV-1",
		Action:    ReviewApprove,
		Reviewer:  "jordan",
		Notes:     "cleared with CFO",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StateApproved, inv.State)
	assert.True(t, inv.ManuallyCleared)
	assert.Equal(t, "jordan", inv.StateChangedBy)

	msg, err := sub.Pull(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, domain.SubjectApproved, msg.Subject)

	recs, err := st.AuditHistory(ctx, "INV-1")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "review:jordan", recs[0].Agent)
	assert.Equal(t, domain.StateManualReview, recs[0].FromState)
	assert.Equal(t, domain.StateApproved, recs[0].ToState)
}

func TestResolveReject(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	parkedInvoice(t, st)

	svc := NewReviewService(st, bus.NewMemory(0), zerolog.Nop())
	inv, err := svc.Resolve(ctx, ResolveRequest{
		InvoiceID: "INV-1",
		Action:    ReviewReject,
		Reviewer:  "jordan",
		Notes:     "not an approved purchase",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StateFailed, inv.State)
	assert.Equal(t, "MANUAL_REJECT", inv.FailureCode)
	assert.False(t, inv.ManuallyCleared)
}

func TestResolveResume(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	parkedInvoice(t, st)

	svc := NewReviewService(st, bus.NewMemory(0), zerolog.Nop())
	inv, err := svc.Resolve(ctx, ResolveRequest{
		InvoiceID:   "INV-1",
		Action:      ReviewResume,
		TargetState: "VALIDATED",
		Reviewer:    "jordan",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StateValidated, inv.State)
	assert.True(t, inv.ManuallyCleared)

	// PAID is not a legal exit from review.
	st2 := store.NewMemory()
	parkedInvoice(t, st2)
	svc2 := NewReviewService(st2, bus.NewMemory(0), zerolog.Nop())
	_, err = svc2.Resolve(ctx, ResolveRequest{
		InvoiceID:   "INV-1",
		Action:      ReviewResume,
		TargetState: "PAID",
		Reviewer:    "jordan",
	})
	assert.Error(t, err)
}

func TestResolveGuards(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	inv := &domain.Invoice{
		InvoiceID:    "INV-1",
		DepartmentID: "IT",
		Amount:       decimal.NewFromInt(500),
		State:        domain.StateValidated,
		CreatedAt:    time.Now().UTC(),
	}
	require.NoError(t, st.CreateInvoice(ctx, inv))
	svc := NewReviewService(st, bus.NewMemory(0), zerolog.Nop())

	_, err := svc.Resolve(ctx, ResolveRequest{InvoiceID: "INV-1", Action: ReviewApprove, Reviewer: "jordan"})
	assert.ErrorIs(t, err, ErrNotReviewable)

	_, err = svc.Resolve(ctx, ResolveRequest{InvoiceID: "INV-1", Action: ReviewApprove})
	assert.Error(t, err, "reviewer is required")

	_, err = svc.Resolve(ctx, ResolveRequest{InvoiceID: "INV-1", Action: "escalate", Reviewer: "jordan"})
	assert.Error(t, err, "unknown action")
}
