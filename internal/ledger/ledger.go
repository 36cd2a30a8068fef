// Package ledger maintains the per-bucket consumption aggregates fed by
// invoices reaching BUDGET_CHECKED. The returned entry is written inside
// the same conditional transaction as the state transition, so a duplicate
// delivery caught by the idempotency check can never double-count.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-ap-lifecycle/internal/domain"
	"github.com/pesio-ai/be-ap-lifecycle/internal/notify"
	"github.com/pesio-ai/be-ap-lifecycle/internal/store"
)

// ErrNoAllocation is returned when no budget exists for the invoice's
// bucket; the budget step routes such invoices to manual review.
var ErrNoAllocation = errors.New("ledger: no budget allocation for bucket")

// Ledger computes consumption updates and over-budget signals.
type Ledger struct {
	store store.Store
	log   zerolog.Logger
}

// New creates a ledger over the given store.
func New(s store.Store, log zerolog.Logger) *Ledger {
	return &Ledger{store: s, log: log}
}

// Consumption is the outcome of folding one invoice into its bucket. Entry
// carries the version read from the store; committing it alongside the
// invoice transition is the caller's job. Alerts are pending notifications:
// Consume re-runs on every commit-conflict retry, so they are sent only
// after the commit that carried them succeeds.
type Consumption struct {
	Entry       *domain.LedgerEntry
	Budget      *domain.Budget
	OverBudget  bool
	Utilization float64
	Alerts      []notify.Alert
}

// Consume reads the invoice's bucket, applies the amount, and evaluates
// the result against the allocation. Nothing is persisted here.
func (l *Ledger) Consume(ctx context.Context, inv *domain.Invoice) (*Consumption, error) {
	key := domain.NewBucketKey(inv.DepartmentID, inv.ProjectID, inv.Category, inv.PeriodDate())

	budget, err := l.store.GetBudget(ctx, key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNoAllocation, key)
		}
		return nil, fmt.Errorf("ledger: load budget %s: %w", key, err)
	}

	entry, err := l.store.GetLedgerEntry(ctx, key)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("ledger: load bucket %s: %w", key, err)
		}
		entry = &domain.LedgerEntry{Key: key}
	}

	prevUtilization := utilization(entry.TotalSpent, budget.Allocated)
	entry.Apply(inv.Amount, inv.VendorID)
	newUtilization := utilization(entry.TotalSpent, budget.Allocated)

	over := entry.TotalSpent.GreaterThan(budget.Allocated)

	var alerts []notify.Alert
	threshold := budget.AlertThreshold
	if threshold > 0 && prevUtilization < threshold && newUtilization >= threshold {
		alerts = append(alerts, notify.Alert{
			Channel:   "budget",
			Severity:  "warning",
			InvoiceID: inv.InvoiceID,
			Message:   fmt.Sprintf("budget %s crossed %.0f%% utilization", key, threshold*100),
			Payload: map[string]any{
				"bucket":      key.String(),
				"utilization": newUtilization,
				"allocated":   budget.Allocated.String(),
				"total_spent": entry.TotalSpent.String(),
			},
		})
	}
	if over {
		alerts = append(alerts, notify.Alert{
			Channel:   "budget",
			Severity:  "critical",
			InvoiceID: inv.InvoiceID,
			Message:   fmt.Sprintf("budget %s exceeded its allocation", key),
			Payload: map[string]any{
				"bucket":      key.String(),
				"allocated":   budget.Allocated.String(),
				"total_spent": entry.TotalSpent.String(),
			},
		})
	}

	return &Consumption{
		Entry:       entry,
		Budget:      budget,
		OverBudget:  over,
		Utilization: newUtilization,
		Alerts:      alerts,
	}, nil
}

// Forecast is the burn-rate projection for the rest of a bucket's period.
type Forecast struct {
	Key            domain.BucketKey `json:"key"`
	TotalSpent     decimal.Decimal  `json:"total_spent"`
	InvoiceCount   int64            `json:"invoice_count"`
	MeanAmount     float64          `json:"mean_amount"`
	StdDev         float64          `json:"std_dev"`
	MinAmount      decimal.Decimal  `json:"min_amount"`
	MaxAmount      decimal.Decimal  `json:"max_amount"`
	UniqueVendors  int              `json:"unique_vendors"`
	Utilization    float64          `json:"utilization"`
	ProjectedTotal decimal.Decimal  `json:"projected_total"`
	OverBudget     bool             `json:"over_budget"`
}

// Project computes the read-path forecast for a bucket as of now. The
// projection extrapolates the current spend over the whole month by
// elapsed days; it is derived on demand and never stored.
func (l *Ledger) Project(ctx context.Context, key domain.BucketKey, now time.Time) (*Forecast, error) {
	entry, err := l.store.GetLedgerEntry(ctx, key)
	if err != nil {
		return nil, err
	}

	totalDays := daysInMonth(key.Year, key.Month)
	elapsed := totalDays
	if now.Year() == key.Year && int(now.Month()) == key.Month {
		elapsed = now.Day()
	}
	projected := entry.TotalSpent.
		Div(decimal.NewFromInt(int64(elapsed))).
		Mul(decimal.NewFromInt(int64(totalDays))).
		Round(2)

	f := &Forecast{
		Key:            key,
		TotalSpent:     entry.TotalSpent,
		InvoiceCount:   entry.InvoiceCount,
		MeanAmount:     entry.Mean,
		StdDev:         entry.StdDev(),
		MinAmount:      entry.MinAmount,
		MaxAmount:      entry.MaxAmount,
		UniqueVendors:  entry.UniqueVendors(),
		ProjectedTotal: projected,
	}

	if budget, err := l.store.GetBudget(ctx, key); err == nil {
		f.Utilization = utilization(entry.TotalSpent, budget.Allocated)
		f.OverBudget = entry.TotalSpent.GreaterThan(budget.Allocated)
	}
	return f, nil
}

func utilization(spent, allocated decimal.Decimal) float64 {
	if allocated.IsZero() {
		return 0
	}
	u, _ := spent.Div(allocated).Float64()
	return u
}

func daysInMonth(year, month int) int {
	first := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	return first.AddDate(0, 1, -1).Day()
}
