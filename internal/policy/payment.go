package policy

import (
	"context"
	"errors"
	"fmt"

	"github.com/pesio-ai/be-ap-lifecycle/internal/domain"
	"github.com/pesio-ai/be-ap-lifecycle/internal/store"
)

// Batcher is the payment-batching collaborator: it assigns a scheduled
// invoice to a remittance batch. Hard errors fail the invoice; transport
// errors are transient and redeliver.
type Batcher interface {
	Assign(ctx context.Context, inv *domain.Invoice) (batchID string, err error)
}

// ErrHardReject is returned by a Batcher when the payment system refuses
// the invoice permanently (e.g. missing remittance details).
var ErrHardReject = errors.New("policy: payment batch rejected invoice")

// Payment schedules an APPROVED invoice: due date from the vendor's net
// terms, batch assignment from the collaborator.
type Payment struct {
	store   store.Store
	batcher Batcher
}

// NewPayment creates the schedule-payment step policy.
func NewPayment(s store.Store, b Batcher) *Payment {
	return &Payment{store: s, batcher: b}
}

func (p *Payment) Name() string { return "payment-agent" }

func (p *Payment) Decide(ctx context.Context, inv *domain.Invoice) (*Outcome, error) {
	netDays := 30
	if inv.VendorID != "" {
		vendor, err := p.store.GetVendor(ctx, inv.VendorID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("payment: load vendor %s: %w", inv.VendorID, err)
		}
		if vendor != nil {
			netDays = vendor.NetTermDays()
		}
	}

	due := inv.PeriodDate().AddDate(0, 0, netDays)
	inv.DueDate = &due

	batchID, err := p.batcher.Assign(ctx, inv)
	if err != nil {
		if errors.Is(err, ErrHardReject) {
			return failed("PAYMENT_REJECTED", err.Error()), nil
		}
		return nil, fmt.Errorf("payment: assign batch: %w", err)
	}
	inv.PaymentBatchID = batchID

	return &Outcome{Next: domain.StatePaymentScheduled}, nil
}

// Gateway is the settlement collaborator: it reports whether a scheduled
// payment has cleared.
type Gateway interface {
	// Settle confirms the batch payment for the invoice. A non-nil hard
	// error fails the invoice; transient errors redeliver.
	Settle(ctx context.Context, inv *domain.Invoice) error
}

// Settle moves PAYMENT_SCHEDULED invoices to PAID once the gateway
// confirms remittance.
type Settle struct {
	gateway Gateway
}

// NewSettle creates the settlement step policy.
func NewSettle(g Gateway) *Settle {
	return &Settle{gateway: g}
}

func (p *Settle) Name() string { return "settlement-agent" }

func (p *Settle) Decide(ctx context.Context, inv *domain.Invoice) (*Outcome, error) {
	if err := p.gateway.Settle(ctx, inv); err != nil {
		if errors.Is(err, ErrHardReject) {
			return failed("PAYMENT_FAILED", err.Error()), nil
		}
		return nil, fmt.Errorf("settle: confirm payment: %w", err)
	}
	return &Outcome{Next: domain.StatePaid}, nil
}

// StaticBatcher assigns every invoice to a deterministic per-day batch;
// the dev and test default.
type StaticBatcher struct{}

func (StaticBatcher) Assign(_ context.Context, inv *domain.Invoice) (string, error) {
	if inv.DueDate == nil {
		return "", ErrHardReject
	}
	return "BATCH-" + inv.DueDate.Format("20060102"), nil
}

// StaticGateway confirms every settlement; the dev and test default.
type StaticGateway struct{}

func (StaticGateway) Settle(context.Context, *domain.Invoice) error { return nil }
