// Package analytics maintains the flattened reporting row per invoice.
// The tap subscribes to every subject and upserts on each event; it only
// observes the pipeline and never feeds decisions back into it.
package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/pesio-ai/be-ap-lifecycle/internal/bus"
	"github.com/pesio-ai/be-ap-lifecycle/internal/domain"
	"github.com/pesio-ai/be-ap-lifecycle/internal/store"
)

// SubscriptionName is the tap's durable subscription.
const SubscriptionName = "analytics-tap"

// Tap is the all-subjects observer.
type Tap struct {
	bus      bus.Bus
	store    store.Store
	pullWait time.Duration
	log      zerolog.Logger
}

func New(b bus.Bus, s store.Store, log zerolog.Logger) *Tap {
	return &Tap{
		bus:      b,
		store:    s,
		pullWait: 2 * time.Second,
		log:      log.With().Str("step", SubscriptionName).Logger(),
	}
}

// Run consumes until the context is cancelled.
func (t *Tap) Run(ctx context.Context) error {
	sub, err := t.bus.Subscribe(ctx, SubscriptionName, bus.MatchAll)
	if err != nil {
		return err
	}
	defer sub.Close()

	t.log.Info().Msg("analytics tap started")
	for {
		if ctx.Err() != nil {
			return nil
		}
		msg, err := sub.Pull(ctx, t.pullWait)
		if errors.Is(err, bus.ErrNoMessage) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			t.log.Error().Err(err).Msg("pull failed")
			continue
		}
		if err := t.observe(ctx, msg); err != nil {
			t.log.Error().Err(err).Str("message_id", msg.ID).Msg("observe failed")
			if err := sub.Nak(ctx, msg); err != nil {
				t.log.Error().Err(err).Msg("nak failed")
			}
			continue
		}
		if err := sub.Ack(ctx, msg); err != nil {
			t.log.Error().Err(err).Msg("ack failed")
		}
	}
}

func (t *Tap) observe(ctx context.Context, msg *bus.Message) error {
	if !strings.HasPrefix(msg.Subject, "invoice.") {
		return nil
	}
	var evt domain.Event
	if err := json.Unmarshal(msg.Data, &evt); err != nil {
		// Malformed payloads cannot improve on redelivery; drop them here.
		t.log.Warn().Err(err).Str("message_id", msg.ID).Msg("malformed event dropped")
		return nil
	}

	inv, err := t.store.GetInvoice(ctx, evt.InvoiceID)
	if errors.Is(err, store.ErrNotFound) {
		t.log.Warn().Str("invoice_id", evt.InvoiceID).Msg("event for unknown invoice dropped")
		return nil
	}
	if err != nil {
		return err
	}

	row, err := t.store.GetAnalytics(ctx, inv.InvoiceID)
	if errors.Is(err, store.ErrNotFound) {
		row = &domain.InvoiceAnalytics{
			InvoiceID: inv.InvoiceID,
			CreatedAt: inv.CreatedAt,
		}
	} else if err != nil {
		return err
	}

	amount, _ := inv.Amount.Float64()
	row.DepartmentID = inv.DepartmentID
	row.State = inv.State
	row.DocumentType = string(inv.DocumentType)
	row.Amount = amount
	row.Currency = inv.Currency
	row.Category = inv.Category
	row.Source = string(inv.Source)
	row.Priority = string(inv.Priority)
	row.BudgetYear = inv.BudgetYear
	row.VendorID = inv.VendorID
	row.VendorName = inv.VendorName
	row.OverBudget = inv.OverBudget
	row.FailureCode = inv.FailureCode
	row.UpdatedAt = time.Now().UTC()

	t.mark(row, inv.State, evt.EmittedAt)

	switch inv.State {
	case domain.StateApproved, domain.StatePaymentScheduled, domain.StatePaid:
		if inv.ApprovalRequired || inv.ManuallyCleared {
			row.ApprovalType = "manual"
		} else {
			row.ApprovalType = "auto"
		}
	}
	if inv.State == domain.StatePaid && row.PaidAt != nil {
		row.ProcessingMinutes = row.PaidAt.Sub(row.CreatedAt).Minutes()
	}

	return t.store.PutAnalytics(ctx, row)
}

// mark stamps the first observation of a state; redeliveries keep the
// original timestamp.
func (t *Tap) mark(row *domain.InvoiceAnalytics, s domain.State, at time.Time) {
	if at.IsZero() {
		at = time.Now().UTC()
	}
	set := func(field **time.Time) {
		if *field == nil {
			stamp := at
			*field = &stamp
		}
	}
	switch s {
	case domain.StateExtracted:
		set(&row.ExtractedAt)
	case domain.StateValidated:
		set(&row.ValidatedAt)
	case domain.StateBudgetChecked:
		set(&row.BudgetCheckedAt)
	case domain.StateApproved:
		set(&row.ApprovedAt)
	case domain.StatePaymentScheduled:
		set(&row.PaymentScheduledAt)
	case domain.StatePaid:
		set(&row.PaidAt)
	case domain.StateFailed:
		set(&row.FailedAt)
	}
}
