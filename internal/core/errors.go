package core

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Sentinel errors for conditions that carry no extra data. Callers match them
// with errors.Is.
var (
	ErrCreditBlocked          = errors.New("credit blocked")
	ErrSelfApproval           = errors.New("self-approval forbidden")
	ErrConcurrentModification = errors.New("concurrent modification")
	ErrIllegalTransition      = errors.New("illegal status transition")
	ErrDuplicateOperation     = errors.New("duplicate operation id")
)

// CreditLimitError reports a rejected debit, carrying the figures the caller
// needs for messaging: what the balance would have become and what headroom
// actually remained.
type CreditLimitError struct {
	CustomerID int
	Attempted  decimal.Decimal // outstanding balance after the debit
	Available  decimal.Decimal // headroom before the debit
	Limit      decimal.Decimal
}

func (e *CreditLimitError) Error() string {
	return fmt.Sprintf("credit limit exceeded for customer %d: attempted balance %s exceeds limit %s (available %s)",
		e.CustomerID, e.Attempted.StringFixed(2), e.Limit.StringFixed(2), e.Available.StringFixed(2))
}

// RoleSeparationError reports a decision blocked by a role-separation rule.
type RoleSeparationError struct {
	Rule   string // the setting that triggered, e.g. "booking_cannot_cashier"
	UserID int
}

func (e *RoleSeparationError) Error() string {
	return fmt.Sprintf("role separation violation (%s) by user %d", e.Rule, e.UserID)
}

// BandGapError reports an amount no configured band covers. Bands must cover
// [0, inf) per module; a gap is a configuration defect, never an implicit
// auto-approve.
type BandGapError struct {
	Module ApprovalModule
	Amount decimal.Decimal
}

func (e *BandGapError) Error() string {
	return fmt.Sprintf("no approval band configured for module %s amount %s", e.Module, e.Amount.StringFixed(2))
}

// OverpaymentError reports a payment that exceeded the customer's total open
// balance with nothing to allocate it against.
type OverpaymentError struct {
	CustomerID int
	Unapplied  decimal.Decimal
}

func (e *OverpaymentError) Error() string {
	return fmt.Sprintf("payment exceeds open balance for customer %d: unapplied remainder %s", e.CustomerID, e.Unapplied.StringFixed(2))
}
