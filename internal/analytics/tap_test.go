package analytics

import (
	"context"
	"encoding/json"
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

func eventMsg(t *testing.T, inv *domain.Invoice, at time.Time) *bus.Message {
	t.Helper()
	subject, ok := domain.SubjectFor(inv.State)
	require.True(t, ok)
	data, err := json.Marshal(domain.Event{
		Subject:   subject,
		InvoiceID: inv.InvoiceID,
		EmittedAt: at,
		EmittedBy: "test",
	})
	require.NoError(t, err)
	return &bus.Message{ID: "m", Subject: subject, Data: data}
}

func TestObserveBuildsTimeline(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	tap := New(bus.NewMemory(0), st, zerolog.Nop())

	created := time.Date(2025, 9, 1, 10, 0, 0, 0, time.UTC)
	inv := &domain.Invoice{
		InvoiceID:    "INV-1",
		DocumentType: domain.DocumentInvoice,
		DepartmentID: "IT",
		Category:     "Software",
		VendorID:     "V-1",
		VendorName:   "Acme Corp",
		Amount:       decimal.NewFromInt(500),
		Currency:     "USD",
		State:        domain.StateCreated,
		Source:       domain.SourceAPI,
		Priority:     domain.PriorityNormal,
		CreatedAt:    created,
	}
	require.NoError(t, st.CreateInvoice(ctx, inv))
	require.NoError(t, tap.observe(ctx, eventMsg(t, inv, created)))

	advance := func(state domain.State, at time.Time) {
		cur, err := st.GetInvoice(ctx, "INV-1")
		require.NoError(t, err)
		cur.State = state
		require.NoError(t, st.Commit(ctx, store.Txn{Invoice: cur}))
		require.NoError(t, tap.observe(ctx, eventMsg(t, cur, at)))
	}
	for i, state := range []domain.State{
		domain.StateExtracted, domain.StateValidated, domain.StateBudgetChecked,
		domain.StateApproved, domain.StatePaymentScheduled, domain.StatePaid,
	} {
		advance(state, created.Add(time.Duration(i+1)*time.Minute))
	}

	row, err := st.GetAnalytics(ctx, "INV-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatePaid, row.State)
	assert.Equal(t, "IT", row.DepartmentID)
	assert.InDelta(t, 500.0, row.Amount, 1e-9)
	assert.Equal(t, "auto", row.ApprovalType)
	require.NotNil(t, row.ExtractedAt)
	require.NotNil(t, row.PaidAt)
	assert.Equal(t, created, row.CreatedAt)
	assert.InDelta(t, 6.0, row.ProcessingMinutes, 1e-9)
}

func TestObserveRedeliveryKeepsFirstTimestamp(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	tap := New(bus.NewMemory(0), st, zerolog.Nop())

	created := time.Date(2025, 9, 1, 10, 0, 0, 0, time.UTC)
	inv := &domain.Invoice{
		InvoiceID:    "INV-1",
		DepartmentID: "IT",
		Amount:       decimal.NewFromInt(500),
		State:        domain.StateExtracted,
		CreatedAt:    created,
	}
	require.NoError(t, st.CreateInvoice(ctx, inv))

	first := created.Add(time.Minute)
	require.NoError(t, tap.observe(ctx, eventMsg(t, inv, first)))
	require.NoError(t, tap.observe(ctx, eventMsg(t, inv, first.Add(time.Hour))))

	row, err := st.GetAnalytics(ctx, "INV-1")
	require.NoError(t, err)
	require.NotNil(t, row.ExtractedAt)
	assert.Equal(t, first, *row.ExtractedAt)
}

func TestObserveIgnoresForeignSubjects(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	tap := New(bus.NewMemory(0), st, zerolog.Nop())

	msg := &bus.Message{ID: "m", Subject: "notifications.ap.budget", Data: []byte(`{"invoice_id":"INV-1"}`)}
	require.NoError(t, tap.observe(ctx, msg))
	_, err := st.GetAnalytics(ctx, "INV-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
