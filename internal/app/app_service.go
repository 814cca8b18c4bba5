package app

import (
	"context"
	"fmt"

	"credit-engine/internal/core"

	"github.com/shopspring/decimal"
)

type appService struct {
	orchestrator *core.Orchestrator
	approvals    *core.ApprovalEngine
	scorer       *core.CreditScorer
	customers    *core.CustomerService
	settings     *core.SettingsStore
}

// NewAppService constructs an appService that satisfies ApplicationService.
func NewAppService(
	orchestrator *core.Orchestrator,
	approvals *core.ApprovalEngine,
	scorer *core.CreditScorer,
	customers *core.CustomerService,
	settings *core.SettingsStore,
) ApplicationService {
	return &appService{
		orchestrator: orchestrator,
		approvals:    approvals,
		scorer:       scorer,
		customers:    customers,
		settings:     settings,
	}
}

func (s *appService) CreateCustomer(ctx context.Context, req CreateCustomerRequest) (*CustomerResult, error) {
	limit, err := parseAmount(req.CreditLimit, "credit_limit")
	if err != nil {
		return nil, err
	}
	c, err := s.customers.Create(ctx, req.Code, req.Name, limit, req.PaymentTermsDays)
	if err != nil {
		return nil, err
	}
	return &CustomerResult{Customer: c}, nil
}

func (s *appService) ListCustomers(ctx context.Context) (*CustomerListResult, error) {
	customers, err := s.customers.List(ctx)
	if err != nil {
		return nil, err
	}
	return &CustomerListResult{Customers: customers}, nil
}

func (s *appService) CreateCreditSale(ctx context.Context, req CreateSaleRequest) (*SaleResult, error) {
	amount, err := parseAmount(req.Amount, "amount")
	if err != nil {
		return nil, err
	}
	outcome, err := s.orchestrator.CreateCreditSale(ctx, core.CreateSaleInput{
		CustomerID:  req.CustomerID,
		Amount:      amount,
		OriginRef:   req.OriginRef,
		SubmittedBy: req.SubmittedBy,
	})
	if err != nil {
		return nil, err
	}
	return &SaleResult{Outcome: outcome}, nil
}

func (s *appService) RecordPayment(ctx context.Context, req RecordPaymentRequest) (*PaymentResult, error) {
	amount, err := parseAmount(req.Amount, "amount")
	if err != nil {
		return nil, err
	}
	in := core.RecordPaymentInput{
		CustomerID:           req.CustomerID,
		Amount:               amount,
		Method:               req.Method,
		Reference:            req.Reference,
		OperationID:          req.OperationID,
		RecordedBy:           req.RecordedBy,
		TargetTransactionIDs: req.TargetTransactionIDs,
	}
	if req.PaymentDate != nil {
		in.PaymentDate = *req.PaymentDate
	}
	outcome, err := s.orchestrator.RecordPayment(ctx, in)
	if err != nil {
		return nil, err
	}
	return &PaymentResult{Outcome: outcome}, nil
}

func (s *appService) DecideApproval(ctx context.Context, req DecideRequest) (*ApprovalResult, error) {
	var decision core.Decision
	switch req.Decision {
	case "approve":
		decision = core.DecisionApprove
	case "reject":
		decision = core.DecisionReject
	default:
		return nil, fmt.Errorf("decision must be \"approve\" or \"reject\", got %q", req.Decision)
	}
	updated, err := s.orchestrator.DecideApproval(ctx, req.RequestID, req.DecidedBy, decision, req.Reason)
	if err != nil {
		return nil, err
	}
	return &ApprovalResult{Request: updated}, nil
}

func (s *appService) SubmitExpense(ctx context.Context, req SubmitGatedRequest) (*GatedResult, error) {
	return s.submitGated(ctx, core.ModuleExpense, req)
}

func (s *appService) SubmitPurchaseOrder(ctx context.Context, req SubmitGatedRequest) (*GatedResult, error) {
	return s.submitGated(ctx, core.ModulePurchaseOrder, req)
}

func (s *appService) submitGated(ctx context.Context, module core.ApprovalModule, req SubmitGatedRequest) (*GatedResult, error) {
	amount, err := parseAmount(req.Amount, "amount")
	if err != nil {
		return nil, err
	}
	outcome, err := s.orchestrator.SubmitGated(ctx, module, req.SubjectID, amount, req.SubmittedBy)
	if err != nil {
		return nil, err
	}
	return &GatedResult{Outcome: outcome}, nil
}

func (s *appService) ListApprovals(ctx context.Context, status string) (*ApprovalListResult, error) {
	var filter *core.ApprovalStatus
	if status != "" {
		st := core.ApprovalStatus(status)
		switch st {
		case core.ApprovalPending, core.ApprovalAwaitingSecond, core.ApprovalApproved, core.ApprovalRejected:
			filter = &st
		default:
			return nil, fmt.Errorf("unknown approval status %q", status)
		}
	}
	requests, err := s.approvals.ListRequests(ctx, filter)
	if err != nil {
		return nil, err
	}
	return &ApprovalListResult{Requests: requests}, nil
}

func (s *appService) EscalateStale(ctx context.Context) (*EscalationResult, error) {
	escalated, err := s.orchestrator.EscalateStale(ctx)
	if err != nil {
		return nil, err
	}
	return &EscalationResult{Escalated: escalated}, nil
}

func (s *appService) GetCreditSummary(ctx context.Context, customerID int) (*SummaryResult, error) {
	summary, err := s.orchestrator.GetCreditSummary(ctx, customerID)
	if err != nil {
		return nil, err
	}
	return &SummaryResult{Summary: summary}, nil
}

func (s *appService) GetOverdueTransactions(ctx context.Context, customerID *int) (*OverdueResult, error) {
	transactions, err := s.orchestrator.GetOverdueTransactions(ctx, customerID)
	if err != nil {
		return nil, err
	}
	return &OverdueResult{Transactions: transactions}, nil
}

func (s *appService) CalculateScore(ctx context.Context, customerID int) (*core.CreditScore, error) {
	settings, err := s.settings.Load(ctx)
	if err != nil {
		return nil, err
	}
	return s.scorer.Calculate(ctx, customerID, settings)
}

func (s *appService) ApplyRecommendations(ctx context.Context, customerID, actorID int) (*CustomerResult, error) {
	c, err := s.orchestrator.ApplyRecommendations(ctx, customerID, actorID)
	if err != nil {
		return nil, err
	}
	return &CustomerResult{Customer: c}, nil
}

func (s *appService) SetCreditBlock(ctx context.Context, req BlockRequest) (*CustomerResult, error) {
	c, err := s.orchestrator.SetCreditBlock(ctx, req.CustomerID, req.Blocked, req.Reason, req.ActorID)
	if err != nil {
		return nil, err
	}
	return &CustomerResult{Customer: c}, nil
}

func parseAmount(raw, field string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s %q: %w", field, raw, err)
	}
	return d, nil
}
