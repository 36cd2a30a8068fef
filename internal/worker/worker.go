// Package worker is the choreography runtime. One worker owns one step:
// a filtered durable subscription, a precondition state, and a policy.
// Workers coordinate exclusively through events and the shared store;
// they never call each other.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"

	"github.com/pesio-ai/be-ap-lifecycle/internal/bus"
	"github.com/pesio-ai/be-ap-lifecycle/internal/domain"
	"github.com/pesio-ai/be-ap-lifecycle/internal/notify"
	"github.com/pesio-ai/be-ap-lifecycle/internal/policy"
	"github.com/pesio-ai/be-ap-lifecycle/internal/store"
)

// Step binds a subscription subject to the state it consumes and the
// policy that advances it.
type Step struct {
	// Name doubles as the durable subscription name and the audit agent.
	Name string
	// Subject is the exact-match subscription filter.
	Subject string
	// Precondition is the state the invoice must be in for the policy to
	// run. Any other state is either a duplicate delivery or a quarantine.
	Precondition domain.State
	Policy       policy.Policy
}

// Config tunes the runtime loop.
type Config struct {
	// PullWait bounds one blocking pull.
	PullWait time.Duration
	// PolicyTimeout bounds one policy decision.
	PolicyTimeout time.Duration
	// CommitRetries bounds version-conflict retries per delivery; the full
	// read-decide-commit cycle reruns on each attempt.
	CommitRetries uint64
	// PublishRetries bounds event-publish retries after a committed write.
	PublishRetries uint64
}

// DefaultConfig mirrors the production defaults.
func DefaultConfig() Config {
	return Config{
		PullWait:       2 * time.Second,
		PolicyTimeout:  30 * time.Second,
		CommitRetries:  3,
		PublishRetries: 3,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.PullWait <= 0 {
		c.PullWait = d.PullWait
	}
	if c.PolicyTimeout <= 0 {
		c.PolicyTimeout = d.PolicyTimeout
	}
	if c.CommitRetries == 0 {
		c.CommitRetries = d.CommitRetries
	}
	if c.PublishRetries == 0 {
		c.PublishRetries = d.PublishRetries
	}
	return c
}

// Worker runs one step until its context is cancelled.
type Worker struct {
	step     Step
	bus      bus.Bus
	store    store.Store
	notifier notify.Notifier
	cfg      Config
	log      zerolog.Logger
}

func New(step Step, b bus.Bus, s store.Store, n notify.Notifier, cfg Config, log zerolog.Logger) *Worker {
	return &Worker{
		step:     step,
		bus:      b,
		store:    s,
		notifier: n,
		cfg:      cfg.withDefaults(),
		log:      log.With().Str("step", step.Name).Str("subject", step.Subject).Logger(),
	}
}

// Run pulls and settles one message at a time. Pulling the next message
// only after the previous one is settled is what keeps per-invoice order
// within the subscription.
func (w *Worker) Run(ctx context.Context) error {
	sub, err := w.bus.Subscribe(ctx, w.step.Name, w.step.Subject)
	if err != nil {
		return fmt.Errorf("worker %s: subscribe: %w", w.step.Name, err)
	}
	defer sub.Close()

	w.log.Info().Msg("worker started")
	for {
		if ctx.Err() != nil {
			w.log.Info().Msg("worker stopped")
			return nil
		}
		msg, err := sub.Pull(ctx, w.cfg.PullWait)
		if errors.Is(err, bus.ErrNoMessage) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				w.log.Info().Msg("worker stopped")
				return nil
			}
			w.log.Error().Err(err).Msg("pull failed")
			continue
		}
		w.handle(ctx, sub, msg)
	}
}

func (w *Worker) handle(ctx context.Context, sub bus.Subscription, msg *bus.Message) {
	var evt domain.Event
	if err := json.Unmarshal(msg.Data, &evt); err != nil {
		w.log.Error().Err(err).Str("message_id", msg.ID).Msg("malformed event payload")
		w.settle(ctx, sub, msg, settleQuarantine, "malformed event payload: "+err.Error())
		return
	}
	log := w.log.With().
		Str("invoice_id", evt.InvoiceID).
		Str("message_id", msg.ID).
		Int("deliveries", msg.Deliveries).
		Logger()

	backoff := retry.WithMaxRetries(w.cfg.CommitRetries, retry.NewExponential(50*time.Millisecond))
	var verdict settleAction
	var reason string
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var attemptErr error
		verdict, reason, attemptErr = w.attempt(ctx, evt, log)
		return attemptErr
	})
	if err != nil {
		if errors.Is(err, store.ErrVersionConflict) {
			// Conflict retries exhausted; the redelivery rereads fresh state.
			log.Warn().Msg("version conflict retries exhausted")
		} else {
			log.Error().Err(err).Msg("transition attempt failed")
		}
		w.settle(ctx, sub, msg, settleNak, "")
		return
	}
	w.settle(ctx, sub, msg, verdict, reason)
}

type settleAction int

const (
	settleAck settleAction = iota
	settleNak
	settleQuarantine
)

// attempt runs one full read-decide-commit cycle. A returned error is
// transient: version conflicts are wrapped retryable so the cycle reruns
// against fresh state, anything else surfaces for a nak.
func (w *Worker) attempt(ctx context.Context, evt domain.Event, log zerolog.Logger) (settleAction, string, error) {
	inv, err := w.store.GetInvoice(ctx, evt.InvoiceID)
	if errors.Is(err, store.ErrNotFound) {
		// An event for a record that does not exist can never succeed.
		return w.quarantineVerdict(ctx, evt, domain.State(""), "invoice not found")
	}
	if err != nil {
		return settleNak, "", fmt.Errorf("load invoice: %w", err)
	}

	switch {
	case inv.State == w.step.Precondition:
		// Proceed.
	case inv.State.IsTerminal(), inv.State == domain.StateManualReview,
		inv.State.AtOrPast(w.step.Precondition):
		// The transition this event asked for already happened; a second
		// delivery must be acknowledged without effect.
		log.Debug().Str("state", inv.State.String()).Msg("duplicate delivery acknowledged")
		return settleAck, "", nil
	default:
		return w.quarantineVerdict(ctx, evt, inv.State, fmt.Sprintf(
			"precondition mismatch: state %s, expected %s", inv.State, w.step.Precondition))
	}

	policyCtx, cancel := context.WithTimeout(ctx, w.cfg.PolicyTimeout)
	outcome, err := w.step.Policy.Decide(policyCtx, inv)
	cancel()
	if err != nil {
		return settleNak, "", fmt.Errorf("policy %s: %w", w.step.Policy.Name(), err)
	}
	if outcome == nil || !w.step.Precondition.CanTransitionTo(outcome.Next) {
		return w.quarantineVerdict(ctx, evt, inv.State, fmt.Sprintf(
			"policy produced illegal transition %s -> %v", inv.State, outcome))
	}

	now := time.Now().UTC()
	inv.PreviousState = inv.State
	inv.State = outcome.Next
	inv.StateChangedBy = w.step.Name
	inv.UpdatedAt = now
	if outcome.Next == domain.StateFailed {
		inv.FailureCode = outcome.FailureCode
		inv.FailureReason = outcome.FailureReason
	}

	auditOutcome := domain.AuditSuccess
	auditReason := outcome.ReviewReason
	if outcome.Next == domain.StateFailed {
		auditOutcome = domain.AuditFailure
		auditReason = outcome.FailureCode + ": " + outcome.FailureReason
	}
	txn := store.Txn{
		Invoice: inv,
		Ledger:  outcome.Ledger,
		Audit: []domain.AuditRecord{{
			RecordID:  uuid.NewString(),
			InvoiceID: inv.InvoiceID,
			FromState: inv.PreviousState,
			ToState:   inv.State,
			Agent:     w.step.Name,
			Outcome:   auditOutcome,
			Reason:    auditReason,
			At:        now,
		}},
	}
	if err := w.store.Commit(ctx, txn); err != nil {
		if errors.Is(err, store.ErrVersionConflict) {
			return settleNak, "", retry.RetryableError(err)
		}
		return settleNak, "", fmt.Errorf("commit transition: %w", err)
	}

	log.Info().
		Str("from", inv.PreviousState.String()).
		Str("to", inv.State.String()).
		Msg("transition committed")

	// Alerts ride on the outcome so a conflict retry can never re-send them.
	if w.notifier != nil {
		for _, alert := range outcome.Alerts {
			w.notifier.Notify(ctx, alert)
		}
	}
	w.publish(ctx, inv, outcome, now, log)
	return settleAck, "", nil
}

// publish announces the committed transition. The write is already
// durable at this point, so publish exhaustion is logged rather than
// failing the delivery; a nak here would only produce duplicate acks.
func (w *Worker) publish(ctx context.Context, inv *domain.Invoice, outcome *policy.Outcome, at time.Time, log zerolog.Logger) {
	subject, ok := domain.SubjectFor(inv.State)
	if !ok {
		log.Error().Str("state", inv.State.String()).Msg("no subject for state")
		return
	}
	evt := domain.Event{
		Subject:      subject,
		InvoiceID:    inv.InvoiceID,
		DepartmentID: inv.DepartmentID,
		VersionToken: inv.Version,
		EmittedAt:    at,
		EmittedBy:    w.step.Name,
		OverBudget:   inv.OverBudget,
		BudgetYear:   inv.BudgetYear,
		FailureCode:  outcome.FailureCode,
		ReviewReason: outcome.ReviewReason,
	}
	data, err := json.Marshal(evt)
	if err != nil {
		log.Error().Err(err).Msg("marshal event")
		return
	}
	backoff := retry.WithMaxRetries(w.cfg.PublishRetries, retry.NewExponential(50*time.Millisecond))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		return retry.RetryableError(w.bus.Publish(ctx, subject, data))
	})
	if err != nil {
		log.Error().Err(err).Str("publish_subject", subject).Msg("publish failed after commit")
	}
}

// quarantineVerdict records the dead-lettering in the audit trail before
// the message is terminated.
func (w *Worker) quarantineVerdict(ctx context.Context, evt domain.Event, state domain.State, reason string) (settleAction, string, error) {
	rec := domain.AuditRecord{
		RecordID:  uuid.NewString(),
		InvoiceID: evt.InvoiceID,
		FromState: state,
		Agent:     w.step.Name,
		Outcome:   domain.AuditQuarantined,
		Reason:    reason,
		At:        time.Now().UTC(),
	}
	if err := w.store.AppendAudit(ctx, rec); err != nil {
		w.log.Error().Err(err).Str("invoice_id", evt.InvoiceID).Msg("quarantine audit append failed")
	}
	return settleQuarantine, reason, nil
}

func (w *Worker) settle(ctx context.Context, sub bus.Subscription, msg *bus.Message, action settleAction, reason string) {
	var err error
	switch action {
	case settleAck:
		err = sub.Ack(ctx, msg)
	case settleNak:
		err = sub.Nak(ctx, msg)
	case settleQuarantine:
		w.log.Warn().Str("message_id", msg.ID).Str("reason", reason).Msg("message quarantined")
		err = sub.Quarantine(ctx, msg, reason)
	}
	if err != nil {
		w.log.Error().Err(err).Str("message_id", msg.ID).Msg("settle failed")
	}
}

// Policies groups one policy per pipeline step.
type Policies struct {
	Intake   policy.Policy
	Validate policy.Policy
	Budget   policy.Policy
	Approve  policy.Policy
	Payment  policy.Policy
	Settle   policy.Policy
}

// Steps assembles the six pipeline steps in lifecycle order.
func Steps(pols Policies) []Step {
	return []Step{
		{Name: "intake-agent", Subject: domain.SubjectCreated, Precondition: domain.StateCreated, Policy: pols.Intake},
		{Name: "validation-agent", Subject: domain.SubjectExtracted, Precondition: domain.StateExtracted, Policy: pols.Validate},
		{Name: "budget-agent", Subject: domain.SubjectValidated, Precondition: domain.StateValidated, Policy: pols.Budget},
		{Name: "approval-agent", Subject: domain.SubjectBudgetChecked, Precondition: domain.StateBudgetChecked, Policy: pols.Approve},
		{Name: "payment-agent", Subject: domain.SubjectApproved, Precondition: domain.StateApproved, Policy: pols.Payment},
		{Name: "settlement-agent", Subject: domain.SubjectPaymentScheduled, Precondition: domain.StatePaymentScheduled, Policy: pols.Settle},
	}
}
