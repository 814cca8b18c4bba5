package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// Customer is the credit-bearing party. OutstandingBalance mirrors the sum of
// unpaid balances of the customer's open receivables; it is only ever mutated
// through the ledger inside the same transaction that touches the receivables.
type Customer struct {
	ID                 int             `json:"id"`
	Code               string          `json:"code"`
	Name               string          `json:"name"`
	CreditLimit        decimal.Decimal `json:"credit_limit"`
	OutstandingBalance decimal.Decimal `json:"outstanding_balance"`
	CreditBlocked      bool            `json:"credit_blocked"`
	BlockReason        string          `json:"block_reason,omitempty"`
	PaymentTermsDays   int             `json:"payment_terms_days"`
	Version            int             `json:"version"`
	CreatedAt          time.Time       `json:"created_at"`
}

// Available returns the credit headroom left under the customer's limit.
func (c *Customer) Available() decimal.Decimal {
	return c.CreditLimit.Sub(c.OutstandingBalance)
}

type ReceivableStatus string

const (
	// ReceivableProvisional is a receivable created while its sale awaits
	// approval. The ledger has not been debited yet.
	ReceivableProvisional ReceivableStatus = "provisional"
	ReceivableOpen        ReceivableStatus = "open"
	ReceivablePartial     ReceivableStatus = "partial"
	ReceivablePaid        ReceivableStatus = "paid"
	ReceivableCancelled   ReceivableStatus = "cancelled"
)

var receivableTransitions = map[ReceivableStatus][]ReceivableStatus{
	ReceivableProvisional: {ReceivableOpen, ReceivableCancelled},
	ReceivableOpen:        {ReceivablePartial, ReceivablePaid},
	ReceivablePartial:     {ReceivablePartial, ReceivablePaid},
}

// CanTransition reports whether a receivable may move from one status to
// another. Paid and cancelled are terminal.
func (s ReceivableStatus) CanTransition(to ReceivableStatus) bool {
	for _, next := range receivableTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// CreditTransaction is a receivable: an amount a customer owes from a
// credit-based sale. Balance only ever decreases, via payment allocation.
type CreditTransaction struct {
	ID             int              `json:"id"`
	CustomerID     int              `json:"customer_id"`
	OriginRef      string           `json:"origin_ref"`
	OriginalAmount decimal.Decimal  `json:"original_amount"`
	Balance        decimal.Decimal  `json:"balance"`
	DueDate        time.Time        `json:"due_date"`
	Status         ReceivableStatus `json:"status"`
	CreatedAt      time.Time        `json:"created_at"`
}

// Overdue reports whether the receivable is past due with money still owed.
// Overdue is derived, not a stored status.
func (t *CreditTransaction) Overdue(now time.Time) bool {
	if t.Status != ReceivableOpen && t.Status != ReceivablePartial {
		return false
	}
	return t.Balance.IsPositive() && t.DueDate.Before(now)
}

// CreditPayment records one allocation of a payment against one receivable.
// Rows are immutable; a reversal is a new compensating operation.
type CreditPayment struct {
	ID                  int             `json:"id"`
	CreditTransactionID int             `json:"credit_transaction_id"`
	Amount              decimal.Decimal `json:"amount"`
	PaymentDate         time.Time       `json:"payment_date"`
	Method              string          `json:"method"`
	Reference           string          `json:"reference,omitempty"`
	OperationID         string          `json:"operation_id"`
	CreatedAt           time.Time       `json:"created_at"`
}

// CreditScore is a stored snapshot of a customer's computed score and the
// limit/terms recommendation derived from it. Fully recomputed on every run.
type CreditScore struct {
	CustomerID           int             `json:"customer_id"`
	Score                int             `json:"score"`
	RecommendedLimit     decimal.Decimal `json:"recommended_limit"`
	RecommendedTermsDays int             `json:"recommended_terms_days"`
	ComputedAt           time.Time       `json:"computed_at"`
}

type ApprovalModule string

const (
	ModuleSalesOrder    ApprovalModule = "sales_order"
	ModulePurchaseOrder ApprovalModule = "purchase_order"
	ModuleExpense       ApprovalModule = "expense"
)

// ParseApprovalModule validates a module name from external input.
func ParseApprovalModule(s string) (ApprovalModule, bool) {
	switch m := ApprovalModule(s); m {
	case ModuleSalesOrder, ModulePurchaseOrder, ModuleExpense:
		return m, true
	}
	return "", false
}

type ApprovalStatus string

const (
	ApprovalPending ApprovalStatus = "pending"
	// ApprovalAwaitingSecond holds after a first approval on a request whose
	// amount crosses the dual-approval threshold.
	ApprovalAwaitingSecond ApprovalStatus = "awaiting_second"
	ApprovalApproved       ApprovalStatus = "approved"
	ApprovalRejected       ApprovalStatus = "rejected"
)

var approvalTransitions = map[ApprovalStatus][]ApprovalStatus{
	ApprovalPending:        {ApprovalAwaitingSecond, ApprovalApproved, ApprovalRejected},
	ApprovalAwaitingSecond: {ApprovalApproved, ApprovalRejected},
}

// CanTransition reports whether an approval request may move from one status
// to another. Approved and rejected are terminal.
func (s ApprovalStatus) CanTransition(to ApprovalStatus) bool {
	for _, next := range approvalTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the status admits no further transitions.
func (s ApprovalStatus) Terminal() bool {
	return len(approvalTransitions[s]) == 0
}

// ApprovalRequest is one gated transaction working through the workflow.
// Escalation raises RequiredRole and EscalationLevel while the request is
// still pending; it is not a distinct terminal state.
type ApprovalRequest struct {
	ID              int             `json:"id"`
	Module          ApprovalModule  `json:"module"`
	SubjectID       int             `json:"subject_id"`
	Amount          decimal.Decimal `json:"amount"`
	Status          ApprovalStatus  `json:"status"`
	RequiredRole    string          `json:"required_role"`
	SubmittedBy     int             `json:"submitted_by"`
	FirstApprovedBy *int            `json:"first_approved_by,omitempty"`
	DecidedBy       *int            `json:"decided_by,omitempty"`
	Reason          string          `json:"reason,omitempty"`
	SubmittedAt     time.Time       `json:"submitted_at"`
	DecidedAt       *time.Time      `json:"decided_at,omitempty"`
	EscalationLevel int             `json:"escalation_level"`
	EscalatedAt     *time.Time      `json:"escalated_at,omitempty"`
	Version         int             `json:"version"`
}

// User is an actor known to the approval workflow.
type User struct {
	ID        int       `json:"id"`
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}
