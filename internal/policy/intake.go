package policy

import (
	"context"
	"fmt"
	"strings"

	"github.com/pesio-ai/be-ap-lifecycle/internal/domain"
	"github.com/pesio-ai/be-ap-lifecycle/internal/extract"
)

// Intake turns a CREATED invoice into EXTRACTED by filling in the fields
// the extraction collaborator read from the source document. Invoices
// submitted through the API with fields already present keep them; the
// extractor is only consulted when a document ref is attached.
type Intake struct {
	cfg       Config
	extractor extract.Extractor
}

// NewIntake creates the intake/extract step policy.
func NewIntake(cfg Config, ex extract.Extractor) *Intake {
	return &Intake{cfg: cfg, extractor: ex}
}

func (p *Intake) Name() string { return "intake-agent" }

func (p *Intake) Decide(ctx context.Context, inv *domain.Invoice) (*Outcome, error) {
	if inv.DocumentRef != "" {
		result, err := p.extractor.Extract(ctx, inv.DocumentRef, inv.DocumentType)
		if err != nil {
			// Transient: the collaborator call failed or timed out.
			return nil, fmt.Errorf("intake: extract %s: %w", inv.DocumentRef, err)
		}
		p.merge(inv, result)
	}

	if inv.DocumentRef != "" && inv.ExtractionConfidence < p.cfg.MinExtractionConfidence {
		return failed("LOW_CONFIDENCE", fmt.Sprintf(
			"extraction confidence %.2f below threshold %.2f",
			inv.ExtractionConfidence, p.cfg.MinExtractionConfidence)), nil
	}

	if missing := requiredFieldGaps(inv); len(missing) > 0 {
		return failed("MISSING_FIELDS", "missing required fields: "+strings.Join(missing, ", ")), nil
	}

	return &Outcome{Next: domain.StateExtracted}, nil
}

// merge copies extracted values into empty invoice fields; values the
// submitter provided explicitly win over OCR.
func (p *Intake) merge(inv *domain.Invoice, r *extract.Result) {
	if inv.VendorName == "" {
		inv.VendorName = r.VendorName.Value
	}
	if inv.InvoiceNumber == "" {
		inv.InvoiceNumber = r.InvoiceNumber.Value
	}
	if inv.Amount.IsZero() {
		if amount, ok := extract.ParseAmount(r.Amount); ok {
			inv.Amount = amount
		}
	}
	if inv.Subtotal.IsZero() {
		if subtotal, ok := extract.ParseAmount(r.Subtotal); ok {
			inv.Subtotal = subtotal
		}
	}
	if inv.TaxAmount.IsZero() {
		if tax, ok := extract.ParseAmount(r.TaxAmount); ok {
			inv.TaxAmount = tax
		}
	}
	if inv.Currency == "" && r.Currency.Value != "" {
		inv.Currency = r.Currency.Value
	}
	if inv.IssuedDate == nil {
		if issued, ok := extract.ParseDate(r.IssuedDate); ok {
			inv.IssuedDate = &issued
		}
	}
	if len(inv.QRPayloads) == 0 {
		inv.QRPayloads = r.QRPayloads
	}
	inv.ExtractionConfidence = r.Confidence
}

func requiredFieldGaps(inv *domain.Invoice) []string {
	var missing []string
	if strings.TrimSpace(inv.VendorName) == "" {
		missing = append(missing, "vendor_name")
	}
	if inv.Amount.IsZero() || inv.Amount.IsNegative() {
		missing = append(missing, "amount")
	}
	if inv.DocumentType == domain.DocumentInvoice && strings.TrimSpace(inv.InvoiceNumber) == "" {
		missing = append(missing, "invoice_number")
	}
	return missing
}
