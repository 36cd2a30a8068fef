package policy

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-ap-lifecycle/internal/domain"
	"github.com/pesio-ai/be-ap-lifecycle/internal/store"
)

func usableVendor(id, name string) *domain.Vendor {
	return &domain.Vendor{
		VendorID:     id,
		Name:         name,
		Approved:     true,
		Active:       true,
		PaymentTerms: "NET-30",
	}
}

func extractedInvoice(id string) *domain.Invoice {
	return &domain.Invoice{
		InvoiceID:     id,
		InvoiceNumber: "2025-001",
		DocumentType:  domain.DocumentInvoice,
		DepartmentID:  "IT",
		Category:      "Software",
		VendorName:    "Acme Corp",
		Amount:        decimal.NewFromInt(500),
		State:         domain.StateExtracted,
		CreatedAt:     time.Now().UTC(),
	}
}

func TestValidateHappyPath(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	require.NoError(t, st.PutVendor(ctx, usableVendor("V-1", "Acme Corp")))
	p := NewValidate(DefaultConfig(), st)

	inv := extractedInvoice("INV-1")
	out, err := p.Decide(ctx, inv)
	require.NoError(t, err)
	assert.Equal(t, domain.StateValidated, out.Next)
	assert.Equal(t, "V-1", inv.VendorID, "vendor resolved by name")

	// No contracts on file leaves a warning, not a failure.
	require.NotEmpty(t, inv.Warnings)
	assert.Equal(t, "NO_CONTRACT", inv.Warnings[0].Code)
}

func TestValidateUnknownVendorGoesToReview(t *testing.T) {
	ctx := context.Background()
	p := NewValidate(DefaultConfig(), store.NewMemory())

	out, err := p.Decide(ctx, extractedInvoice("INV-1"))
	require.NoError(t, err)
	assert.Equal(t, domain.StateManualReview, out.Next)
	assert.Contains(t, out.ReviewReason, "not registered")
}

func TestValidateBlockedVendorFails(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	v := usableVendor("V-1", "Acme Corp")
	v.Blocked = true
	require.NoError(t, st.PutVendor(ctx, v))
	p := NewValidate(DefaultConfig(), st)

	out, err := p.Decide(ctx, extractedInvoice("INV-1"))
	require.NoError(t, err)
	assert.Equal(t, domain.StateFailed, out.Next)
	assert.Equal(t, "VENDOR_BLOCKED", out.FailureCode)
}

func TestValidateSpendLimit(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	v := usableVendor("V-1", "Acme Corp")
	limit := decimal.NewFromInt(100)
	v.SpendLimit = &limit
	require.NoError(t, st.PutVendor(ctx, v))
	p := NewValidate(DefaultConfig(), st)

	out, err := p.Decide(ctx, extractedInvoice("INV-1"))
	require.NoError(t, err)
	assert.Equal(t, domain.StateFailed, out.Next)
	assert.Equal(t, "SPEND_LIMIT", out.FailureCode)
}

func TestValidateDuplicateFails(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	require.NoError(t, st.PutVendor(ctx, usableVendor("V-1", "Acme Corp")))

	prior := extractedInvoice("INV-PRIOR")
	prior.VendorID = "V-1"
	prior.State = domain.StatePaid
	require.NoError(t, st.CreateInvoice(ctx, prior))

	p := NewValidate(DefaultConfig(), st)
	out, err := p.Decide(ctx, extractedInvoice("INV-1"))
	require.NoError(t, err)
	assert.Equal(t, domain.StateFailed, out.Next)
	assert.Equal(t, "duplicate", out.FailureCode)
	assert.Contains(t, out.FailureReason, "INV-PRIOR")
}

func TestValidateContractWindow(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	v := usableVendor("V-1", "Acme Corp")
	v.Contracts = []domain.Contract{{
		ContractID: "C-1",
		StartDate:  time.Now().UTC().AddDate(-1, 0, 0),
		EndDate:    time.Now().UTC().AddDate(0, -6, 0),
		Value:      decimal.NewFromInt(10000),
		Status:     "active",
	}}
	require.NoError(t, st.PutVendor(ctx, v))
	p := NewValidate(DefaultConfig(), st)

	out, err := p.Decide(ctx, extractedInvoice("INV-1"))
	require.NoError(t, err)
	assert.Equal(t, domain.StateFailed, out.Next)
	assert.Equal(t, "CONTRACT_TERMS", out.FailureCode)
}
