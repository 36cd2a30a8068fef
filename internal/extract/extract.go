// Package extract is the boundary to the external document-extraction
// collaborator. The engine only ever sees extracted fields plus per-field
// confidence; OCR mechanics live on the other side of this interface.
package extract

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-ap-lifecycle/internal/domain"
)

// Field is one extracted value with its confidence in [0, 1].
type Field struct {
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

// Result is the collaborator's answer for one document.
type Result struct {
	VendorName    Field      `json:"vendor_name"`
	InvoiceNumber Field      `json:"invoice_number"`
	Amount        Field      `json:"amount"`
	Subtotal      Field      `json:"subtotal"`
	TaxAmount     Field      `json:"tax_amount"`
	Currency      Field      `json:"currency"`
	IssuedDate    Field      `json:"issued_date"`
	QRPayloads    []string   `json:"qr_payloads,omitempty"`
	Confidence    float64    `json:"confidence"`
}

// Extractor extracts structured fields from a stored document.
type Extractor interface {
	Extract(ctx context.Context, documentRef string, docType domain.DocumentType) (*Result, error)
}

// ParseAmount converts an extracted amount field.
func ParseAmount(f Field) (decimal.Decimal, bool) {
	if f.Value == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(f.Value)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// ParseDate converts an extracted date field (ISO date or RFC3339).
func ParseDate(f Field) (time.Time, bool) {
	if f.Value == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{"2006-01-02", time.RFC3339} {
		if t, err := time.Parse(layout, f.Value); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Static returns canned results keyed by document ref; used by tests and
// the dev server.
type Static struct {
	Results map[string]*Result
}

func (s *Static) Extract(_ context.Context, documentRef string, _ domain.DocumentType) (*Result, error) {
	if r, ok := s.Results[documentRef]; ok {
		return r, nil
	}
	return &Result{}, nil
}
