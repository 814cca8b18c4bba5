package app

import (
	"context"

	"credit-engine/internal/core"
)

// ApplicationService is the single interface all adapters (CLI, Web) call.
// It decouples presentation from the credit and approval logic.
// Implementations must contain no display logic of any kind.
type ApplicationService interface {
	// CreateCustomer creates a customer with a credit limit and payment terms.
	CreateCustomer(ctx context.Context, req CreateCustomerRequest) (*CustomerResult, error)

	// ListCustomers returns all customers ordered by code.
	ListCustomers(ctx context.Context) (*CustomerListResult, error)

	// CreateCreditSale gates and records a credit sale. When the amount falls
	// inside an approval band the receivable is created provisionally and the
	// ledger debit waits for the approval decision.
	CreateCreditSale(ctx context.Context, req CreateSaleRequest) (*SaleResult, error)

	// RecordPayment allocates a payment across the customer's open
	// receivables (oldest due date first) and decrements the ledger, then
	// refreshes the customer's credit score.
	RecordPayment(ctx context.Context, req RecordPaymentRequest) (*PaymentResult, error)

	// DecideApproval applies one approver's verdict to a pending request.
	DecideApproval(ctx context.Context, req DecideRequest) (*ApprovalResult, error)

	// SubmitExpense routes an expense through the approval gate.
	SubmitExpense(ctx context.Context, req SubmitGatedRequest) (*GatedResult, error)

	// SubmitPurchaseOrder routes a purchase order through the approval gate.
	SubmitPurchaseOrder(ctx context.Context, req SubmitGatedRequest) (*GatedResult, error)

	// ListApprovals returns approval requests, optionally filtered by status.
	ListApprovals(ctx context.Context, status string) (*ApprovalListResult, error)

	// EscalateStale promotes stale pending approvals to the next band's role.
	// Called by the scheduled sweep.
	EscalateStale(ctx context.Context) (*EscalationResult, error)

	// GetCreditSummary returns a customer's credit position.
	GetCreditSummary(ctx context.Context, customerID int) (*SummaryResult, error)

	// GetOverdueTransactions lists overdue receivables, for one customer or
	// all.
	GetOverdueTransactions(ctx context.Context, customerID *int) (*OverdueResult, error)

	// CalculateScore recomputes and stores a customer's credit score.
	CalculateScore(ctx context.Context, customerID int) (*core.CreditScore, error)

	// ApplyRecommendations copies the latest score's recommended limit and
	// terms onto the customer.
	ApplyRecommendations(ctx context.Context, customerID, actorID int) (*CustomerResult, error)

	// SetCreditBlock toggles a customer's credit block.
	SetCreditBlock(ctx context.Context, req BlockRequest) (*CustomerResult, error)
}
