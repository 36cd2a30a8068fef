// Package bus is the narrow event-bus contract the choreography engine
// consumes. Delivery is at-least-once; consumers must be idempotent under
// redelivery. Routing happens exclusively through subscription filters —
// there are no direct worker-to-worker calls.
package bus

import (
	"context"
	"errors"
	"time"
)

// ErrNoMessage is returned by Pull when no message arrived within the wait
// window. It is not an error condition; the caller simply polls again.
var ErrNoMessage = errors.New("bus: no message available")

// MatchAll is the filter used by subscriptions that observe every subject,
// such as the analytics tap.
const MatchAll = ""

// Message is one delivered event. Deliveries counts attempts including the
// current one, so a first delivery carries Deliveries == 1.
type Message struct {
	ID         string
	Subject    string
	Data       []byte
	Deliveries int

	h handle
}

type handle interface {
	ack() error
	nak() error
	term() error
}

// DeadLetter is a quarantined message awaiting operator action.
type DeadLetter struct {
	Message Message
	Reason  string
	At      time.Time
}

// Subscription is a single filtered, durable consumer. A worker must not
// pull its next message before settling the current one; that discipline
// is what preserves per-invoice ordering within the subscription.
type Subscription interface {
	// Pull blocks up to maxWait for the next message.
	Pull(ctx context.Context, maxWait time.Duration) (*Message, error)
	// Ack settles the message permanently.
	Ack(ctx context.Context, msg *Message) error
	// Nak releases the message for redelivery after transient failures.
	Nak(ctx context.Context, msg *Message) error
	// Quarantine terminates the message and routes it to the dead-letter
	// channel with a reason. It is never redelivered automatically.
	Quarantine(ctx context.Context, msg *Message, reason string) error
	Close() error
}

// Bus is the publish side plus subscription factory.
type Bus interface {
	Publish(ctx context.Context, subject string, data []byte) error
	// Subscribe creates (or resumes) the named durable subscription.
	// filter is an exact-match subject, or MatchAll.
	Subscribe(ctx context.Context, name, filter string) (Subscription, error)
}

// Inspector is implemented by buses that can enumerate and requeue their
// dead-lettered messages in-process. Requeue is an explicit operator
// action, never called by workers.
type Inspector interface {
	DeadLetters() []DeadLetter
	Requeue(ctx context.Context, messageID string) error
}
