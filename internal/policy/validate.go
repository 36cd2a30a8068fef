package policy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pesio-ai/be-ap-lifecycle/internal/domain"
	"github.com/pesio-ai/be-ap-lifecycle/internal/store"
)

// Validate checks an EXTRACTED invoice against vendor reference data:
// vendor standing, spend limits, contract terms, and the duplicate window.
type Validate struct {
	cfg   Config
	store store.Store
}

// NewValidate creates the validation step policy.
func NewValidate(cfg Config, s store.Store) *Validate {
	return &Validate{cfg: cfg, store: s}
}

func (p *Validate) Name() string { return "validation-agent" }

func (p *Validate) Decide(ctx context.Context, inv *domain.Invoice) (*Outcome, error) {
	vendor, err := p.resolveVendor(ctx, inv)
	if err != nil {
		return nil, err
	}
	if vendor == nil {
		// Unknown vendors cannot be paid automatically.
		return &Outcome{
			Next:         domain.StateManualReview,
			ReviewReason: fmt.Sprintf("vendor %q not registered", inv.VendorName),
		}, nil
	}
	inv.VendorID = vendor.VendorID
	inv.VendorName = vendor.Name

	if !vendor.Usable() {
		return failed("VENDOR_BLOCKED", fmt.Sprintf("vendor %s is not approved for payment", vendor.Name)), nil
	}

	if !vendor.WithinSpendLimit(inv.Amount) {
		return failed("SPEND_LIMIT", fmt.Sprintf(
			"amount %s exceeds vendor spend limit %s",
			inv.Amount, vendor.SpendLimit)), nil
	}

	since := time.Now().UTC().Add(-p.cfg.DuplicateWindow)
	dups, err := p.store.FindDuplicates(ctx, vendor.VendorID, inv.InvoiceNumber, inv.Amount, since, inv.InvoiceID)
	if err != nil {
		return nil, fmt.Errorf("validate: duplicate lookup: %w", err)
	}
	if len(dups) > 0 {
		return failed("duplicate", fmt.Sprintf(
			"invoice %s from %s duplicates %s",
			inv.InvoiceNumber, vendor.Name, dups[0].InvoiceID)), nil
	}

	if outcome := p.checkContracts(vendor, inv); outcome != nil {
		return outcome, nil
	}

	return &Outcome{Next: domain.StateValidated}, nil
}

func (p *Validate) resolveVendor(ctx context.Context, inv *domain.Invoice) (*domain.Vendor, error) {
	if inv.VendorID != "" {
		v, err := p.store.GetVendor(ctx, inv.VendorID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("validate: load vendor %s: %w", inv.VendorID, err)
		}
		return v, nil
	}
	if inv.VendorName == "" {
		return nil, nil
	}
	v, err := p.store.GetVendorByName(ctx, inv.VendorName)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("validate: load vendor %q: %w", inv.VendorName, err)
	}
	return v, nil
}

// checkContracts enforces contract-term compliance when the vendor has
// active contracts; vendors without contracts pass with a warning note.
func (p *Validate) checkContracts(vendor *domain.Vendor, inv *domain.Invoice) *Outcome {
	if len(vendor.Contracts) == 0 {
		inv.Warn(p.Name(), "NO_CONTRACT", "vendor has no contracts on file; compliance check skipped")
		return nil
	}

	issued := inv.PeriodDate()
	var active int
	for _, c := range vendor.Contracts {
		if c.Status != "active" {
			continue
		}
		active++
		if !c.Active(issued) {
			return failed("CONTRACT_TERMS", fmt.Sprintf(
				"invoice issued %s outside contract %s window",
				issued.Format("2006-01-02"), c.ContractID))
		}
		if c.Value.IsPositive() && inv.Amount.GreaterThan(c.Value) {
			return failed("CONTRACT_TERMS", fmt.Sprintf(
				"amount %s exceeds contract %s value %s",
				inv.Amount, c.ContractID, c.Value))
		}
	}
	if active == 0 {
		inv.Warn(p.Name(), "NO_ACTIVE_CONTRACT", "vendor has no active contracts; compliance check skipped")
	}
	return nil
}
