// Package payment holds the canonical payment record and the closed set of
// statuses the reconciliation engine moves a payment through.
package payment

import (
	"fmt"
	"time"
)

// Status is the ledger's own vocabulary: the canonical result of mapping
// whatever status string a PSP returns. Every adapter maps into this set;
// the core never sees a provider's raw status.
type Status string

const (
	Pending    Status = "PENDING"
	ToConfirm  Status = "TO_CONFIRM"
	Authorized Status = "AUTHORIZED"
	Failed     Status = "FAILED"
	Canceled   Status = "CANCELED"
	Refunded   Status = "REFUNDED"
	Abandoned  Status = "ABANDONED"
)

// nonTerminal is the set of statuses eligible for polling.
var nonTerminal = map[Status]bool{
	Pending:   true,
	ToConfirm: true,
}

// IsNonTerminal reports whether the poller should keep polling a payment in
// this status.
func IsNonTerminal(s Status) bool { return nonTerminal[s] }

// IsTerminal reports whether a status is a sink the poller never re-evaluates.
func IsTerminal(s Status) bool { return !nonTerminal[s] }

// Payment is one attempted financial transaction tracked by the ledger.
// Context carries opaque merchant/customer identifiers through to the CRM
// payload builder without the core needing to understand their shape.
type Payment struct {
	ID                int64
	Provider          string
	Token             string // provider-side opaque reference; may be empty
	Status            Status
	AmountMinor       int64
	Context           map[string]any
	ProductID         string
	AuthorizationCode string
	StatusReason      string
	CreatedAt         time.Time
	UpdatedAt         time.Time
	FirstAuthorizedAt *time.Time
	FailedAt          *time.Time
	CanceledAt        *time.Time
	RefundedAt        *time.Time
	AbandonedAt       *time.Time
}

// TerminalTimestamp returns the transition timestamp that must be set for the
// payment's current status, or nil when the status is non-terminal.
func (p *Payment) TerminalTimestamp() *time.Time {
	switch p.Status {
	case Authorized:
		return p.FirstAuthorizedAt
	case Failed:
		return p.FailedAt
	case Canceled:
		return p.CanceledAt
	case Refunded:
		return p.RefundedAt
	case Abandoned:
		return p.AbandonedAt
	default:
		return nil
	}
}

// ValidateInvariant checks the "exactly one terminal timestamp iff terminal
// status" invariant from the data model. The repository layer does not call
// it; it is exercised by the package's tests.
func (p *Payment) ValidateInvariant() error {
	set := 0
	for _, ts := range []*time.Time{p.FirstAuthorizedAt, p.FailedAt, p.CanceledAt, p.RefundedAt, p.AbandonedAt} {
		if ts != nil {
			set++
		}
	}
	if IsTerminal(p.Status) {
		if set != 1 {
			return fmt.Errorf("payment %d: terminal status %s must have exactly one terminal timestamp, found %d", p.ID, p.Status, set)
		}
		if p.TerminalTimestamp() == nil {
			return fmt.Errorf("payment %d: terminal status %s has no matching timestamp set", p.ID, p.Status)
		}
	} else if set != 0 {
		return fmt.Errorf("payment %d: non-terminal status %s must have no terminal timestamp, found %d", p.ID, p.Status, set)
	}
	return nil
}
