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

func TestSubmitCreatesAndAnnounces(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	b := bus.NewMemory(0)
	sub, err := b.Subscribe(ctx, "observer", domain.SubjectCreated)
	require.NoError(t, err)

	svc := NewIntakeService(st, b, zerolog.Nop())
	inv, err := svc.Submit(ctx, SubmitRequest{
		DepartmentID: "IT",
		Category:     "Software",
		VendorName:   "Acme Corp",
		Amount:       decimal.NewFromInt(500),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StateCreated, inv.State)
	assert.Equal(t, "USD", inv.Currency)
	assert.Equal(t, domain.SourceAPI, inv.Source)
	assert.Equal(t, domain.PriorityNormal, inv.Priority)
	assert.Equal(t, int64(1), inv.Version)

	stored, err := st.GetInvoice(ctx, inv.InvoiceID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateCreated, stored.State)

	msg, err := sub.Pull(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, domain.SubjectCreated, msg.Subject)

	recs, err := st.AuditHistory(ctx, inv.InvoiceID)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "api-intake", recs[0].Agent)
}

func TestSubmitValidation(t *testing.T) {
	svc := NewIntakeService(store.NewMemory(), bus.NewMemory(0), zerolog.Nop())
	ctx := context.Background()

	_, err := svc.Submit(ctx, SubmitRequest{Amount: decimal.NewFromInt(10)})
	assert.Error(t, err, "department is required")

	_, err = svc.Submit(ctx, SubmitRequest{DepartmentID: "IT"})
	assert.Error(t, err, "a document or an amount is required")

	_, err = svc.Submit(ctx, SubmitRequest{DepartmentID: "IT", Amount: decimal.NewFromInt(-5)})
	assert.Error(t, err, "negative amounts are rejected")

	// A document-only submission defers field capture to extraction.
	_, err = svc.Submit(ctx, SubmitRequest{DepartmentID: "IT", DocumentRef: "doc-1"})
	assert.NoError(t, err)
}
