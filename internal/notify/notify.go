// Package notify is the fire-and-forget notification boundary. Failures
// here are logged and swallowed; they must never fail the transition that
// triggered them.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/pesio-ai/be-ap-lifecycle/internal/bus"
)

// Alert is the JSON schema delivered to the notifications service.
type Alert struct {
	Channel   string         `json:"channel"`
	Severity  string         `json:"severity"`
	InvoiceID string         `json:"invoice_id,omitempty"`
	Message   string         `json:"message"`
	Payload   map[string]any `json:"payload,omitempty"`
	EmittedAt time.Time      `json:"emitted_at"`
}

// Notifier delivers alerts to the external notification collaborator.
type Notifier interface {
	Notify(ctx context.Context, alert Alert)
}

// BusNotifier publishes alerts on notifications.ap.<channel>, the subject
// convention consumed by the platform notifications service.
type BusNotifier struct {
	bus bus.Bus
	log zerolog.Logger
}

// NewBusNotifier creates a bus-backed notifier.
func NewBusNotifier(b bus.Bus, log zerolog.Logger) *BusNotifier {
	return &BusNotifier{bus: b, log: log}
}

func (n *BusNotifier) Notify(ctx context.Context, alert Alert) {
	alert.EmittedAt = time.Now().UTC()
	data, err := json.Marshal(alert)
	if err != nil {
		n.log.Warn().Err(err).Str("channel", alert.Channel).Msg("notification: failed to marshal alert")
		return
	}
	subject := fmt.Sprintf("notifications.ap.%s", alert.Channel)
	if err := n.bus.Publish(ctx, subject, data); err != nil {
		n.log.Warn().Err(err).
			Str("subject", subject).
			Str("invoice_id", alert.InvoiceID).
			Msg("notification: publish failed (non-fatal)")
		return
	}
	n.log.Debug().
		Str("subject", subject).
		Str("invoice_id", alert.InvoiceID).
		Msg("notification: alert published")
}

// LogNotifier writes alerts to the log only; the dev-mode default.
type LogNotifier struct {
	log zerolog.Logger
}

// NewLogNotifier creates a log-only notifier.
func NewLogNotifier(log zerolog.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Notify(_ context.Context, alert Alert) {
	n.log.Info().
		Str("channel", alert.Channel).
		Str("severity", alert.Severity).
		Str("invoice_id", alert.InvoiceID).
		Str("message", alert.Message).
		Msg("notification")
}
