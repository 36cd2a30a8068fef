package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-ap-lifecycle/internal/domain"
)

// Memory is the in-process store used by tests and the single-binary dev
// mode. It enforces the same version-token discipline as Postgres so
// concurrency behavior does not diverge between the two.
type Memory struct {
	mu        sync.Mutex
	invoices  map[string]*domain.Invoice
	vendors   map[string]*domain.Vendor
	budgets   map[string]*domain.Budget
	ledger    map[string]*domain.LedgerEntry
	audit     []domain.AuditRecord
	analytics map[string]*domain.InvoiceAnalytics
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		invoices:  make(map[string]*domain.Invoice),
		vendors:   make(map[string]*domain.Vendor),
		budgets:   make(map[string]*domain.Budget),
		ledger:    make(map[string]*domain.LedgerEntry),
		analytics: make(map[string]*domain.InvoiceAnalytics),
	}
}

// clone deep-copies via JSON so callers never alias stored records.
func clone[T any](src *T) *T {
	data, err := json.Marshal(src)
	if err != nil {
		panic(fmt.Sprintf("store: clone marshal: %v", err))
	}
	dst := new(T)
	if err := json.Unmarshal(data, dst); err != nil {
		panic(fmt.Sprintf("store: clone unmarshal: %v", err))
	}
	return dst
}

func budgetKey(departmentID, projectID, category, fiscalYear string) string {
	if projectID == "" {
		projectID = "none"
	}
	return fiscalYear + "/" + departmentID + ":" + projectID + ":" + category
}

func (m *Memory) CreateInvoice(_ context.Context, inv *domain.Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.invoices[inv.InvoiceID]; ok {
		return ErrAlreadyExists
	}
	inv.Version = 1
	m.invoices[inv.InvoiceID] = clone(inv)
	return nil
}

func (m *Memory) GetInvoice(_ context.Context, invoiceID string) (*domain.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invoices[invoiceID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(inv), nil
}

func (m *Memory) Commit(_ context.Context, txn Txn) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if txn.Invoice == nil {
		return fmt.Errorf("store: commit without invoice")
	}
	current, ok := m.invoices[txn.Invoice.InvoiceID]
	if !ok {
		return ErrNotFound
	}
	if current.Version != txn.Invoice.Version {
		return ErrVersionConflict
	}

	var ledgerCurrent *domain.LedgerEntry
	if txn.Ledger != nil {
		key := txn.Ledger.Key.String()
		ledgerCurrent = m.ledger[key]
		if txn.Ledger.Version == 0 {
			if ledgerCurrent != nil {
				return ErrVersionConflict
			}
		} else if ledgerCurrent == nil || ledgerCurrent.Version != txn.Ledger.Version {
			return ErrVersionConflict
		}
	}

	// Both checks passed; apply everything.
	txn.Invoice.Version++
	txn.Invoice.UpdatedAt = time.Now().UTC()
	m.invoices[txn.Invoice.InvoiceID] = clone(txn.Invoice)

	if txn.Ledger != nil {
		txn.Ledger.Version++
		txn.Ledger.UpdatedAt = time.Now().UTC()
		m.ledger[txn.Ledger.Key.String()] = clone(txn.Ledger)
	}
	m.audit = append(m.audit, txn.Audit...)
	return nil
}

func (m *Memory) FindDuplicates(_ context.Context, vendorID, invoiceNumber string, amount decimal.Decimal, since time.Time, excludeID string) ([]domain.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Invoice
	for _, inv := range m.invoices {
		if inv.InvoiceID == excludeID || inv.State == domain.StateFailed {
			continue
		}
		if inv.VendorID != vendorID || inv.InvoiceNumber != invoiceNumber {
			continue
		}
		if !inv.Amount.Equal(amount) || inv.CreatedAt.Before(since) {
			continue
		}
		out = append(out, *clone(inv))
	}
	return out, nil
}

func (m *Memory) GetVendor(_ context.Context, vendorID string) (*domain.Vendor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vendors[vendorID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(v), nil
}

func (m *Memory) GetVendorByName(_ context.Context, name string) (*domain.Vendor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.vendors {
		if v.Name == name {
			return clone(v), nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) PutVendor(_ context.Context, v *domain.Vendor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v.Version++
	m.vendors[v.VendorID] = clone(v)
	return nil
}

func (m *Memory) GetBudget(_ context.Context, key domain.BucketKey) (*domain.Budget, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.budgets[budgetKey(key.DepartmentID, key.ProjectID, key.Category, key.FiscalYear())]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(b), nil
}

func (m *Memory) PutBudget(_ context.Context, b *domain.Budget) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b.Version++
	m.budgets[budgetKey(b.DepartmentID, b.ProjectID, b.Category, b.FiscalYear)] = clone(b)
	return nil
}

func (m *Memory) GetLedgerEntry(_ context.Context, key domain.BucketKey) (*domain.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.ledger[key.String()]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(e), nil
}

func (m *Memory) AppendAudit(_ context.Context, rec domain.AuditRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, rec)
	return nil
}

func (m *Memory) AuditHistory(_ context.Context, invoiceID string) ([]domain.AuditRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.AuditRecord
	for _, rec := range m.audit {
		if rec.InvoiceID == invoiceID {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out, nil
}

func (m *Memory) GetAnalytics(_ context.Context, invoiceID string) (*domain.InvoiceAnalytics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.analytics[invoiceID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(row), nil
}

func (m *Memory) PutAnalytics(_ context.Context, row *domain.InvoiceAnalytics) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.analytics[row.InvoiceID] = clone(row)
	return nil
}
