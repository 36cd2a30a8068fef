package domain

import "time"

// AuditOutcome classifies a transition attempt.
type AuditOutcome string

const (
	AuditSuccess     AuditOutcome = "success"
	AuditFailure     AuditOutcome = "failure"
	AuditQuarantined AuditOutcome = "quarantined"
)

// AuditRecord is one immutable row per transition attempt, successful or
// not. Records are only ever appended.
type AuditRecord struct {
	RecordID  string       `json:"record_id"`
	InvoiceID string       `json:"invoice_id"`
	FromState State        `json:"from_state"`
	ToState   State        `json:"to_state,omitempty"`
	Agent     string       `json:"agent"`
	Outcome   AuditOutcome `json:"outcome"`
	Reason    string       `json:"reason,omitempty"`
	At        time.Time    `json:"at"`
}
