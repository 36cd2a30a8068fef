package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-ap-lifecycle/internal/domain"
)

// Postgres is the durable store. Entities are persisted as JSONB documents
// alongside the columns the engine filters on; every mutable row carries a
// version column checked by conditional writes.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects a pool using the given DSN.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("store: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// Close releases the pool.
func (p *Postgres) Close() { p.pool.Close() }

// Pool exposes the underlying pool for migrations.
func (p *Postgres) Pool() *pgxpool.Pool { return p.pool }

func (p *Postgres) CreateInvoice(ctx context.Context, inv *domain.Invoice) error {
	inv.Version = 1
	doc, err := json.Marshal(inv)
	if err != nil {
		return fmt.Errorf("store: marshal invoice: %w", err)
	}

	query := `
		INSERT INTO invoices (invoice_id, department_id, vendor_id, invoice_number,
		                      state, amount, created_at, updated_at, version, doc)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (invoice_id) DO NOTHING
	`
	tag, err := p.pool.Exec(ctx, query,
		inv.InvoiceID,
		inv.DepartmentID,
		inv.VendorID,
		inv.InvoiceNumber,
		inv.State,
		inv.Amount,
		inv.CreatedAt,
		inv.UpdatedAt,
		inv.Version,
		doc,
	)
	if err != nil {
		return fmt.Errorf("store: create invoice: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyExists
	}
	return nil
}

func (p *Postgres) GetInvoice(ctx context.Context, invoiceID string) (*domain.Invoice, error) {
	var doc []byte
	var version int64
	err := p.pool.QueryRow(ctx,
		`SELECT doc, version FROM invoices WHERE invoice_id = $1`, invoiceID,
	).Scan(&doc, &version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get invoice: %w", err)
	}

	inv := &domain.Invoice{}
	if err := json.Unmarshal(doc, inv); err != nil {
		return nil, fmt.Errorf("store: decode invoice: %w", err)
	}
	inv.Version = version
	return inv, nil
}

// Commit applies the transition in one database transaction. A version
// mismatch on either the invoice or the ledger bucket aborts everything
// with ErrVersionConflict.
func (p *Postgres) Commit(ctx context.Context, txn Txn) error {
	if txn.Invoice == nil {
		return fmt.Errorf("store: commit without invoice")
	}

	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	inv := txn.Invoice
	readVersion := inv.Version
	inv.Version = readVersion + 1
	inv.UpdatedAt = time.Now().UTC()
	doc, err := json.Marshal(inv)
	if err != nil {
		inv.Version = readVersion
		return fmt.Errorf("store: marshal invoice: %w", err)
	}

	tag, err := tx.Exec(ctx, `
		UPDATE invoices
		SET state = $3, amount = $4, vendor_id = $5, invoice_number = $6,
		    updated_at = $7, version = version + 1, doc = $8
		WHERE invoice_id = $1 AND version = $2
	`, inv.InvoiceID, readVersion, inv.State, inv.Amount, inv.VendorID,
		inv.InvoiceNumber, inv.UpdatedAt, doc)
	if err != nil {
		inv.Version = readVersion
		return fmt.Errorf("store: update invoice: %w", err)
	}
	if tag.RowsAffected() == 0 {
		inv.Version = readVersion
		var exists bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM invoices WHERE invoice_id = $1)`, inv.InvoiceID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("store: conflict probe: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
		return ErrVersionConflict
	}

	if txn.Ledger != nil {
		if err := p.writeLedger(ctx, tx, txn.Ledger); err != nil {
			inv.Version = readVersion
			return err
		}
	}

	for _, rec := range txn.Audit {
		if err := appendAuditTx(ctx, tx, rec); err != nil {
			inv.Version = readVersion
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		inv.Version = readVersion
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

func (p *Postgres) writeLedger(ctx context.Context, tx pgx.Tx, entry *domain.LedgerEntry) error {
	readVersion := entry.Version
	entry.Version = readVersion + 1
	entry.UpdatedAt = time.Now().UTC()
	doc, err := json.Marshal(entry)
	if err != nil {
		entry.Version = readVersion
		return fmt.Errorf("store: marshal ledger entry: %w", err)
	}

	if readVersion == 0 {
		tag, err := tx.Exec(ctx, `
			INSERT INTO budget_ledger (bucket_key, total_spent, invoice_count, updated_at, version, doc)
			VALUES ($1, $2, $3, $4, 1, $5)
			ON CONFLICT (bucket_key) DO NOTHING
		`, entry.Key.String(), entry.TotalSpent, entry.InvoiceCount, entry.UpdatedAt, doc)
		if err != nil {
			entry.Version = readVersion
			return fmt.Errorf("store: insert ledger entry: %w", err)
		}
		if tag.RowsAffected() == 0 {
			entry.Version = readVersion
			return ErrVersionConflict
		}
		return nil
	}

	tag, err := tx.Exec(ctx, `
		UPDATE budget_ledger
		SET total_spent = $3, invoice_count = $4, updated_at = $5,
		    version = version + 1, doc = $6
		WHERE bucket_key = $1 AND version = $2
	`, entry.Key.String(), readVersion, entry.TotalSpent, entry.InvoiceCount,
		entry.UpdatedAt, doc)
	if err != nil {
		entry.Version = readVersion
		return fmt.Errorf("store: update ledger entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		entry.Version = readVersion
		return ErrVersionConflict
	}
	return nil
}

func (p *Postgres) FindDuplicates(ctx context.Context, vendorID, invoiceNumber string, amount decimal.Decimal, since time.Time, excludeID string) ([]domain.Invoice, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT doc, version FROM invoices
		WHERE vendor_id = $1 AND invoice_number = $2 AND amount = $3
		  AND state <> 'FAILED' AND invoice_id <> $4 AND created_at >= $5
	`, vendorID, invoiceNumber, amount, excludeID, since)
	if err != nil {
		return nil, fmt.Errorf("store: find duplicates: %w", err)
	}
	defer rows.Close()

	var out []domain.Invoice
	for rows.Next() {
		var doc []byte
		var version int64
		if err := rows.Scan(&doc, &version); err != nil {
			return nil, fmt.Errorf("store: scan duplicate: %w", err)
		}
		var inv domain.Invoice
		if err := json.Unmarshal(doc, &inv); err != nil {
			return nil, fmt.Errorf("store: decode duplicate: %w", err)
		}
		inv.Version = version
		out = append(out, inv)
	}
	return out, rows.Err()
}

func (p *Postgres) GetVendor(ctx context.Context, vendorID string) (*domain.Vendor, error) {
	return p.vendorBy(ctx, `SELECT doc, version FROM vendors WHERE vendor_id = $1`, vendorID)
}

func (p *Postgres) GetVendorByName(ctx context.Context, name string) (*domain.Vendor, error) {
	return p.vendorBy(ctx, `SELECT doc, version FROM vendors WHERE name = $1`, name)
}

func (p *Postgres) vendorBy(ctx context.Context, query, arg string) (*domain.Vendor, error) {
	var doc []byte
	var version int64
	err := p.pool.QueryRow(ctx, query, arg).Scan(&doc, &version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get vendor: %w", err)
	}
	v := &domain.Vendor{}
	if err := json.Unmarshal(doc, v); err != nil {
		return nil, fmt.Errorf("store: decode vendor: %w", err)
	}
	v.Version = version
	return v, nil
}

func (p *Postgres) PutVendor(ctx context.Context, v *domain.Vendor) error {
	v.Version++
	v.UpdatedAt = time.Now().UTC()
	doc, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("store: marshal vendor: %w", err)
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO vendors (vendor_id, name, version, doc)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (vendor_id) DO UPDATE
		SET name = EXCLUDED.name, version = vendors.version + 1, doc = EXCLUDED.doc
	`, v.VendorID, v.Name, v.Version, doc)
	if err != nil {
		return fmt.Errorf("store: put vendor: %w", err)
	}
	return nil
}

func (p *Postgres) GetBudget(ctx context.Context, key domain.BucketKey) (*domain.Budget, error) {
	project := key.ProjectID
	if project == "" {
		project = "none"
	}
	var doc []byte
	var version int64
	err := p.pool.QueryRow(ctx, `
		SELECT doc, version FROM budgets
		WHERE fiscal_year = $1 AND department_id = $2 AND project_id = $3 AND category = $4
	`, key.FiscalYear(), key.DepartmentID, project, key.Category).Scan(&doc, &version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get budget: %w", err)
	}
	b := &domain.Budget{}
	if err := json.Unmarshal(doc, b); err != nil {
		return nil, fmt.Errorf("store: decode budget: %w", err)
	}
	b.Version = version
	return b, nil
}

func (p *Postgres) PutBudget(ctx context.Context, b *domain.Budget) error {
	b.Version++
	b.UpdatedAt = time.Now().UTC()
	project := b.ProjectID
	if project == "" {
		project = "none"
	}
	doc, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("store: marshal budget: %w", err)
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO budgets (fiscal_year, department_id, project_id, category, version, doc)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (fiscal_year, department_id, project_id, category) DO UPDATE
		SET version = budgets.version + 1, doc = EXCLUDED.doc
	`, b.FiscalYear, b.DepartmentID, project, b.Category, b.Version, doc)
	if err != nil {
		return fmt.Errorf("store: put budget: %w", err)
	}
	return nil
}

func (p *Postgres) GetLedgerEntry(ctx context.Context, key domain.BucketKey) (*domain.LedgerEntry, error) {
	var doc []byte
	var version int64
	err := p.pool.QueryRow(ctx,
		`SELECT doc, version FROM budget_ledger WHERE bucket_key = $1`, key.String(),
	).Scan(&doc, &version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get ledger entry: %w", err)
	}
	entry := &domain.LedgerEntry{}
	if err := json.Unmarshal(doc, entry); err != nil {
		return nil, fmt.Errorf("store: decode ledger entry: %w", err)
	}
	entry.Version = version
	return entry, nil
}

func appendAuditTx(ctx context.Context, tx pgx.Tx, rec domain.AuditRecord) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO audit_trail (record_id, invoice_id, from_state, to_state, agent, outcome, reason, at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, rec.RecordID, rec.InvoiceID, rec.FromState, rec.ToState, rec.Agent, rec.Outcome, rec.Reason, rec.At)
	if err != nil {
		return fmt.Errorf("store: append audit: %w", err)
	}
	return nil
}

func (p *Postgres) AppendAudit(ctx context.Context, rec domain.AuditRecord) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO audit_trail (record_id, invoice_id, from_state, to_state, agent, outcome, reason, at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, rec.RecordID, rec.InvoiceID, rec.FromState, rec.ToState, rec.Agent, rec.Outcome, rec.Reason, rec.At)
	if err != nil {
		return fmt.Errorf("store: append audit: %w", err)
	}
	return nil
}

func (p *Postgres) AuditHistory(ctx context.Context, invoiceID string) ([]domain.AuditRecord, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT record_id, invoice_id, from_state, to_state, agent, outcome, reason, at
		FROM audit_trail
		WHERE invoice_id = $1
		ORDER BY at
	`, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("store: audit history: %w", err)
	}
	defer rows.Close()

	var out []domain.AuditRecord
	for rows.Next() {
		var rec domain.AuditRecord
		if err := rows.Scan(&rec.RecordID, &rec.InvoiceID, &rec.FromState, &rec.ToState,
			&rec.Agent, &rec.Outcome, &rec.Reason, &rec.At); err != nil {
			return nil, fmt.Errorf("store: scan audit record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (p *Postgres) GetAnalytics(ctx context.Context, invoiceID string) (*domain.InvoiceAnalytics, error) {
	var doc []byte
	err := p.pool.QueryRow(ctx,
		`SELECT doc FROM invoice_analytics WHERE invoice_id = $1`, invoiceID,
	).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get analytics: %w", err)
	}
	row := &domain.InvoiceAnalytics{}
	if err := json.Unmarshal(doc, row); err != nil {
		return nil, fmt.Errorf("store: decode analytics: %w", err)
	}
	return row, nil
}

func (p *Postgres) PutAnalytics(ctx context.Context, row *domain.InvoiceAnalytics) error {
	row.UpdatedAt = time.Now().UTC()
	doc, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("store: marshal analytics: %w", err)
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO invoice_analytics (invoice_id, department_id, updated_at, doc)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (invoice_id) DO UPDATE
		SET updated_at = EXCLUDED.updated_at, doc = EXCLUDED.doc
	`, row.InvoiceID, row.DepartmentID, row.UpdatedAt, doc)
	if err != nil {
		return fmt.Errorf("store: put analytics: %w", err)
	}
	return nil
}
