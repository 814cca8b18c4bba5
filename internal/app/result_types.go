package app

import "credit-engine/internal/core"

// CustomerResult is returned by customer-affecting operations.
type CustomerResult struct {
	Customer *core.Customer
}

// CustomerListResult is returned by ListCustomers.
type CustomerListResult struct {
	Customers []core.Customer
}

// SaleResult is returned by CreateCreditSale.
type SaleResult struct {
	Outcome *core.SaleOutcome
}

// PaymentResult is returned by RecordPayment.
type PaymentResult struct {
	Outcome *core.PaymentOutcome
}

// ApprovalResult is returned by DecideApproval.
type ApprovalResult struct {
	Request *core.ApprovalRequest
}

// ApprovalListResult is returned by ListApprovals.
type ApprovalListResult struct {
	Requests []core.ApprovalRequest
}

// GatedResult is returned by SubmitExpense and SubmitPurchaseOrder.
type GatedResult struct {
	Outcome *core.GatedOutcome
}

// EscalationResult is returned by EscalateStale.
type EscalationResult struct {
	Escalated []core.ApprovalRequest
}

// SummaryResult is returned by GetCreditSummary.
type SummaryResult struct {
	Summary *core.CreditSummary
}

// OverdueResult is returned by GetOverdueTransactions.
type OverdueResult struct {
	Transactions []core.CreditTransaction
}
