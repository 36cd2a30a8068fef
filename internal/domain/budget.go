package domain

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// BucketKey identifies one budget consumption bucket: department, project
// (empty for none), category, and the monthly period.
type BucketKey struct {
	DepartmentID string `json:"department_id"`
	ProjectID    string `json:"project_id"`
	Category     string `json:"category"`
	Year         int    `json:"year"`
	Month        int    `json:"month"`
}

// NewBucketKey derives the bucket for an invoice from its classification
// and the date its period is anchored to.
func NewBucketKey(departmentID, projectID, category string, at time.Time) BucketKey {
	return BucketKey{
		DepartmentID: departmentID,
		ProjectID:    projectID,
		Category:     category,
		Year:         at.Year(),
		Month:        int(at.Month()),
	}
}

// String renders the compound row key, e.g. "IT:PROJ-3001:Software:2025:09".
// Projectless buckets use "none" to keep the key shape stable.
func (k BucketKey) String() string {
	project := k.ProjectID
	if project == "" {
		project = "none"
	}
	return fmt.Sprintf("%s:%s:%s:%d:%02d", k.DepartmentID, project, k.Category, k.Year, k.Month)
}

// FiscalYear returns the partition label, e.g. "FY2025".
func (k BucketKey) FiscalYear() string { return fmt.Sprintf("FY%d", k.Year) }

// Budget is an allocation created by administrative action. Consumption is
// derived from the ledger, never written here.
type Budget struct {
	BudgetID       string          `json:"budget_id"`
	FiscalYear     string          `json:"fiscal_year"`
	DepartmentID   string          `json:"department_id"`
	ProjectID      string          `json:"project_id,omitempty"`
	Category       string          `json:"category"`
	Allocated      decimal.Decimal `json:"allocated_amount"`
	AlertThreshold float64         `json:"alert_threshold"` // utilization fraction, e.g. 0.8
	Approver       string          `json:"approver,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	Version        int64           `json:"version"`
}

// LedgerEntry is the concurrently updated aggregate for one bucket. Mean
// and M2 follow the single-pass variance recurrence so std-dev reads never
// replay historical amounts.
type LedgerEntry struct {
	Key          BucketKey       `json:"key"`
	TotalSpent   decimal.Decimal `json:"total_spent"`
	InvoiceCount int64           `json:"invoice_count"`
	Mean         float64         `json:"mean"`
	M2           float64         `json:"m2"`
	MinAmount    decimal.Decimal `json:"min_amount"`
	MaxAmount    decimal.Decimal `json:"max_amount"`
	VendorIDs    []string        `json:"vendor_ids,omitempty"`
	UpdatedAt    time.Time       `json:"updated_at"`
	Version      int64           `json:"version"`
}

// Apply folds one invoice into the aggregate.
func (e *LedgerEntry) Apply(amount decimal.Decimal, vendorID string) {
	e.TotalSpent = e.TotalSpent.Add(amount)
	e.InvoiceCount++

	x, _ := amount.Float64()
	delta := x - e.Mean
	e.Mean += delta / float64(e.InvoiceCount)
	e.M2 += delta * (x - e.Mean)

	if e.InvoiceCount == 1 {
		e.MinAmount = amount
		e.MaxAmount = amount
	} else {
		if amount.LessThan(e.MinAmount) {
			e.MinAmount = amount
		}
		if amount.GreaterThan(e.MaxAmount) {
			e.MaxAmount = amount
		}
	}

	for _, id := range e.VendorIDs {
		if id == vendorID {
			return
		}
	}
	if vendorID != "" {
		e.VendorIDs = append(e.VendorIDs, vendorID)
	}
}

// StdDev returns the sample standard deviation of invoice amounts.
func (e *LedgerEntry) StdDev() float64 {
	if e.InvoiceCount < 2 {
		return 0
	}
	variance := e.M2 / float64(e.InvoiceCount-1)
	if variance < 0 {
		return 0
	}
	return math.Sqrt(variance)
}

// UniqueVendors returns the number of distinct vendors seen in the bucket.
func (e *LedgerEntry) UniqueVendors() int { return len(e.VendorIDs) }
