package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBucketKeyString(t *testing.T) {
	at := time.Date(2025, time.September, 14, 0, 0, 0, 0, time.UTC)

	key := NewBucketKey("IT", "PROJ-3001", "Software", at)
	assert.Equal(t, "IT:PROJ-3001:Software:2025:09", key.String())
	assert.Equal(t, "FY2025", key.FiscalYear())

	projectless := NewBucketKey("IT", "", "Software", at)
	assert.Equal(t, "IT:none:Software:2025:09", projectless.String())
}

func TestLedgerEntryApply(t *testing.T) {
	e := &LedgerEntry{}

	amounts := []int64{100, 200, 300, 400}
	for i, a := range amounts {
		e.Apply(decimal.NewFromInt(a), "V-1")
		assert.Equal(t, int64(i+1), e.InvoiceCount)
	}

	assert.True(t, e.TotalSpent.Equal(decimal.NewFromInt(1000)), "total %s", e.TotalSpent)
	assert.InDelta(t, 250.0, e.Mean, 1e-9)
	// Sample std dev of {100,200,300,400}.
	assert.InDelta(t, 129.0994, e.StdDev(), 1e-3)
	assert.True(t, e.MinAmount.Equal(decimal.NewFromInt(100)))
	assert.True(t, e.MaxAmount.Equal(decimal.NewFromInt(400)))
	assert.Equal(t, 1, e.UniqueVendors())

	e.Apply(decimal.NewFromInt(50), "V-2")
	assert.Equal(t, 2, e.UniqueVendors())
	assert.True(t, e.MinAmount.Equal(decimal.NewFromInt(50)))
}

func TestLedgerEntryStdDevSmallCounts(t *testing.T) {
	e := &LedgerEntry{}
	assert.Zero(t, e.StdDev())

	e.Apply(decimal.NewFromInt(500), "V-1")
	require.Equal(t, int64(1), e.InvoiceCount)
	assert.Zero(t, e.StdDev(), "single sample has no deviation")
}

func TestLedgerEntryVendorDedup(t *testing.T) {
	e := &LedgerEntry{}
	e.Apply(decimal.NewFromInt(10), "V-1")
	e.Apply(decimal.NewFromInt(10), "V-1")
	e.Apply(decimal.NewFromInt(10), "")
	assert.Equal(t, 1, e.UniqueVendors(), "blank vendor IDs are not counted")
}
