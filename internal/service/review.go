package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"

	"github.com/pesio-ai/be-ap-lifecycle/internal/bus"
	"github.com/pesio-ai/be-ap-lifecycle/internal/domain"
	"github.com/pesio-ai/be-ap-lifecycle/internal/store"
)

// Review actions a human can take on a parked invoice.
const (
	ReviewApprove = "approve" // accept and continue as APPROVED
	ReviewReject  = "reject"  // fail the invoice permanently
	ReviewResume  = "resume"  // re-inject at an earlier state for rework
)

// ResolveRequest is one manual-review decision.
type ResolveRequest struct {
	InvoiceID string `json:"invoice_id"`
	Action    string `json:"action"`
	// TargetState is required for resume: the state to re-inject at.
	TargetState string `json:"target_state,omitempty"`
	Reviewer    string `json:"reviewer"`
	Notes       string `json:"notes,omitempty"`
}

// ErrNotReviewable is returned when the invoice is not parked in
// MANUAL_REVIEW.
var ErrNotReviewable = errors.New("service: invoice is not in manual review")

// ReviewService resolves MANUAL_REVIEW invoices. Exits from review are
// administrative transitions performed here, not by workers; the state
// machine's edge set still governs which targets are legal.
type ReviewService struct {
	store store.Store
	bus   bus.Bus
	log   zerolog.Logger
}

func NewReviewService(s store.Store, b bus.Bus, log zerolog.Logger) *ReviewService {
	return &ReviewService{store: s, bus: b, log: log}
}

// Resolve applies the reviewer's decision under the same conditional
// write discipline the workers use.
func (s *ReviewService) Resolve(ctx context.Context, req ResolveRequest) (*domain.Invoice, error) {
	if strings.TrimSpace(req.Reviewer) == "" {
		return nil, fmt.Errorf("review: reviewer is required")
	}
	target, err := targetState(req)
	if err != nil {
		return nil, err
	}

	var resolved *domain.Invoice
	backoff := retry.WithMaxRetries(3, retry.NewExponential(50*time.Millisecond))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		inv, err := s.store.GetInvoice(ctx, req.InvoiceID)
		if err != nil {
			return fmt.Errorf("review: load invoice: %w", err)
		}
		if inv.State != domain.StateManualReview {
			return ErrNotReviewable
		}
		if !inv.State.CanTransitionTo(target) {
			return fmt.Errorf("review: illegal transition %s -> %s", inv.State, target)
		}

		now := time.Now().UTC()
		inv.PreviousState = inv.State
		inv.State = target
		inv.StateChangedBy = req.Reviewer
		inv.UpdatedAt = now
		switch req.Action {
		case ReviewApprove, ReviewResume:
			// The approval policy trusts this flag when the invoice comes
			// back around over budget.
			inv.ManuallyCleared = true
		case ReviewReject:
			inv.FailureCode = "MANUAL_REJECT"
			inv.FailureReason = req.Notes
		}

		txn := store.Txn{
			Invoice: inv,
			Audit: []domain.AuditRecord{{
				RecordID:  uuid.NewString(),
				InvoiceID: inv.InvoiceID,
				FromState: domain.StateManualReview,
				ToState:   target,
				Agent:     "review:" + req.Reviewer,
				Outcome:   reviewAuditOutcome(req.Action),
				Reason:    req.Notes,
				At:        now,
			}},
		}
		if err := s.store.Commit(ctx, txn); err != nil {
			if errors.Is(err, store.ErrVersionConflict) {
				return retry.RetryableError(err)
			}
			return fmt.Errorf("review: commit: %w", err)
		}
		resolved = inv
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := publishEvent(ctx, s.bus, resolved, "review:"+req.Reviewer, ""); err != nil {
		s.log.Error().Err(err).Str("invoice_id", resolved.InvoiceID).Msg("review event publish failed")
	}
	s.log.Info().
		Str("invoice_id", resolved.InvoiceID).
		Str("action", req.Action).
		Str("target", resolved.State.String()).
		Str("reviewer", req.Reviewer).
		Msg("manual review resolved")
	return resolved, nil
}

func targetState(req ResolveRequest) (domain.State, error) {
	switch req.Action {
	case ReviewApprove:
		return domain.StateApproved, nil
	case ReviewReject:
		return domain.StateFailed, nil
	case ReviewResume:
		target := domain.State(req.TargetState)
		if !target.IsValid() {
			return "", fmt.Errorf("review: unknown target state %q", req.TargetState)
		}
		return target, nil
	default:
		return "", fmt.Errorf("review: unknown action %q", req.Action)
	}
}

func reviewAuditOutcome(action string) domain.AuditOutcome {
	if action == ReviewReject {
		return domain.AuditFailure
	}
	return domain.AuditSuccess
}
