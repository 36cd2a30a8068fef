// Package store is the transactional entity-store boundary. Records carry
// version tokens; conditional writes fail with ErrVersionConflict instead
// of clobbering concurrent transitions.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-ap-lifecycle/internal/domain"
)

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrVersionConflict is returned by conditional writes when the record
	// changed since the presented version was read.
	ErrVersionConflict = errors.New("store: version conflict")
	// ErrAlreadyExists is returned when creating a record whose key is taken.
	ErrAlreadyExists = errors.New("store: already exists")
)

// Txn is one atomic transition write: the invoice conditional update, an
// optional ledger-bucket conditional update, and the audit records for the
// attempt. Either everything commits or nothing does.
type Txn struct {
	// Invoice carries the version that was read; on success the store
	// bumps Invoice.Version in place.
	Invoice *domain.Invoice
	// Ledger, when set, is written under the same version discipline.
	// Version zero means insert-if-absent.
	Ledger *domain.LedgerEntry
	Audit  []domain.AuditRecord
}

// Store is the persistence contract shared by the in-memory and Postgres
// implementations.
type Store interface {
	CreateInvoice(ctx context.Context, inv *domain.Invoice) error
	GetInvoice(ctx context.Context, invoiceID string) (*domain.Invoice, error)
	// Commit applies one transition atomically under version checks.
	Commit(ctx context.Context, txn Txn) error
	// FindDuplicates returns non-FAILED invoices other than excludeID that
	// share vendor, external invoice number and amount, created at or
	// after since.
	FindDuplicates(ctx context.Context, vendorID, invoiceNumber string, amount decimal.Decimal, since time.Time, excludeID string) ([]domain.Invoice, error)

	GetVendor(ctx context.Context, vendorID string) (*domain.Vendor, error)
	GetVendorByName(ctx context.Context, name string) (*domain.Vendor, error)
	PutVendor(ctx context.Context, v *domain.Vendor) error

	GetBudget(ctx context.Context, key domain.BucketKey) (*domain.Budget, error)
	PutBudget(ctx context.Context, b *domain.Budget) error

	GetLedgerEntry(ctx context.Context, key domain.BucketKey) (*domain.LedgerEntry, error)

	AppendAudit(ctx context.Context, rec domain.AuditRecord) error
	// AuditHistory returns the records for one invoice ordered by time.
	AuditHistory(ctx context.Context, invoiceID string) ([]domain.AuditRecord, error)

	GetAnalytics(ctx context.Context, invoiceID string) (*domain.InvoiceAnalytics, error)
	PutAnalytics(ctx context.Context, row *domain.InvoiceAnalytics) error
}
