package domain

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Contract is a vendor agreement checked during validation.
type Contract struct {
	ContractID string          `json:"contract_id"`
	StartDate  time.Time       `json:"start_date"`
	EndDate    time.Time       `json:"end_date"`
	Value      decimal.Decimal `json:"value"`
	Status     string          `json:"status"` // active, expired, terminated
}

// Active reports whether the contract covers the given date.
func (c Contract) Active(at time.Time) bool {
	return c.Status == "active" && !at.Before(c.StartDate) && !at.After(c.EndDate)
}

// BankAccount holds remittance details. Stored encrypted; the engine only
// passes it through to the payment collaborator.
type BankAccount struct {
	BankName      string `json:"bank_name,omitempty"`
	AccountNumber string `json:"account_number,omitempty"`
	RoutingNumber string `json:"routing_number,omitempty"`
}

// Vendor is read-mostly reference data. It is mutated by administrative
// action only, never by the choreography engine.
type Vendor struct {
	VendorID string `json:"vendor_id"`
	Name     string `json:"name"`
	TaxID    string `json:"tax_id,omitempty"`

	Approved  bool   `json:"approved"`
	Active    bool   `json:"active"`
	Suspended bool   `json:"suspended"`
	Blocked   bool   `json:"blocked"`
	BlockedBy string `json:"blocked_by,omitempty"`

	// PaymentTerms is the vendor's net terms, e.g. "NET-30".
	PaymentTerms string       `json:"payment_terms"`
	BankAccount  *BankAccount `json:"bank_account,omitempty"`
	Currency     string       `json:"currency"`

	SpendLimit       *decimal.Decimal `json:"spend_limit,omitempty"`
	AutoApprove      bool             `json:"auto_approve"`
	AutoApproveLimit *decimal.Decimal `json:"auto_approve_limit,omitempty"`

	Contracts []Contract `json:"contracts,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int64     `json:"version"`
}

// Usable reports whether invoices from this vendor may proceed past
// validation.
func (v *Vendor) Usable() bool {
	return v.Approved && v.Active && !v.Suspended && !v.Blocked
}

// WithinSpendLimit reports whether amount is allowed without additional
// authority. A vendor without a limit accepts any amount.
func (v *Vendor) WithinSpendLimit(amount decimal.Decimal) bool {
	if v.SpendLimit == nil {
		return true
	}
	return amount.LessThanOrEqual(*v.SpendLimit)
}

// NetTermDays parses the vendor's payment terms into a day count.
// Unrecognized terms default to net-30.
func (v *Vendor) NetTermDays() int {
	terms := strings.ToUpper(strings.TrimSpace(v.PaymentTerms))
	terms = strings.TrimPrefix(terms, "NET-")
	terms = strings.TrimPrefix(terms, "NET")
	terms = strings.TrimSpace(terms)
	if days, err := strconv.Atoi(terms); err == nil && days > 0 {
		return days
	}
	return 30
}
