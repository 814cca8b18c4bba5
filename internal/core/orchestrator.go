package core

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Orchestrator is the façade external callers consume. It owns the
// transaction boundaries: a credit sale or payment either fully updates the
// ledger, the receivables, and the payment rows, or none of them. Domain
// events go out only after commit.
type Orchestrator struct {
	pool      *pgxpool.Pool
	ledger    *CreditLedger
	allocator *Allocator
	scorer    *CreditScorer
	approvals *ApprovalEngine
	settings  *SettingsStore
	notify    NotificationSink
}

func NewOrchestrator(pool *pgxpool.Pool, ledger *CreditLedger, allocator *Allocator, scorer *CreditScorer, approvals *ApprovalEngine, settings *SettingsStore, notify NotificationSink) *Orchestrator {
	if notify == nil {
		notify = LogSink{}
	}
	return &Orchestrator{
		pool:      pool,
		ledger:    ledger,
		allocator: allocator,
		scorer:    scorer,
		approvals: approvals,
		settings:  settings,
		notify:    notify,
	}
}

// CreateSaleInput describes a credit-based sale submission.
type CreateSaleInput struct {
	CustomerID  int
	Amount      decimal.Decimal
	OriginRef   string
	SubmittedBy int
}

// SaleOutcome is the result of a credit sale submission. When Approval is
// set the receivable exists in provisional state and the ledger has not been
// debited; the debit happens on approval.
type SaleOutcome struct {
	Receivable *CreditTransaction `json:"receivable"`
	Approval   *ApprovalRequest   `json:"approval,omitempty"`
	Debited    bool               `json:"debited"`
}

// ApprovalRequired reports whether the sale is parked behind an approval.
func (o *SaleOutcome) ApprovalRequired() bool { return o.Approval != nil }

// CreateCreditSale gates and records a credit sale. Availability fails
// closed (block, then limit); an amount inside an approval band creates a
// provisional receivable plus a pending request instead of debiting.
func (o *Orchestrator) CreateCreditSale(ctx context.Context, in CreateSaleInput) (*SaleOutcome, error) {
	if !in.Amount.IsPositive() {
		return nil, fmt.Errorf("sale amount must be positive, got %s", in.Amount)
	}
	s, err := o.settings.Load(ctx)
	if err != nil {
		return nil, err
	}

	tx, err := o.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	customer, err := o.ledger.LockCustomerTx(ctx, tx, in.CustomerID)
	if err != nil {
		return nil, err
	}
	if err := checkAvailable(customer, in.Amount); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	dueDate := now.AddDate(0, 0, customer.PaymentTermsDays)
	outcome := &SaleOutcome{}

	if s.RequiresApproval(ModuleSalesOrder, in.Amount) {
		rcv, err := insertReceivable(ctx, tx, in.CustomerID, in.Amount, dueDate, in.OriginRef, ReceivableProvisional)
		if err != nil {
			return nil, err
		}
		req, err := o.approvals.SubmitTx(ctx, tx, ModuleSalesOrder, rcv.ID, in.Amount, in.SubmittedBy, s)
		if err != nil {
			return nil, err
		}
		if err := recordAudit(ctx, tx, string(ModuleSalesOrder), rcv.ID, in.SubmittedBy, ActionBooked, in.OriginRef); err != nil {
			return nil, err
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("commit transaction: %w", err)
		}
		outcome.Receivable = rcv
		outcome.Approval = req
		o.emit(EventApprovalPending, map[string]any{
			"request_id": req.ID, "module": req.Module, "amount": in.Amount.String(), "role": req.RequiredRole,
		})
		return outcome, nil
	}

	rcv, err := insertReceivable(ctx, tx, in.CustomerID, in.Amount, dueDate, in.OriginRef, ReceivableOpen)
	if err != nil {
		return nil, err
	}
	if err := o.ledger.DebitTx(ctx, tx, customer, in.Amount, false); err != nil {
		return nil, err
	}
	if err := recordAudit(ctx, tx, string(ModuleSalesOrder), rcv.ID, in.SubmittedBy, ActionBooked, in.OriginRef); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	outcome.Receivable = rcv
	outcome.Debited = true
	o.emit(EventCreditSale, map[string]any{
		"customer_id": in.CustomerID, "transaction_id": rcv.ID, "amount": in.Amount.String(),
	})
	return outcome, nil
}

// DecideApproval applies one approver's verdict and, for sales orders, the
// deferred ledger effect: an approved provisional receivable is debited and
// flipped open, a rejected one is cancelled with no ledger effect. Decision
// and ledger effect commit atomically.
func (o *Orchestrator) DecideApproval(ctx context.Context, requestID, decidedBy int, decision Decision, reason string) (*ApprovalRequest, error) {
	s, err := o.settings.Load(ctx)
	if err != nil {
		return nil, err
	}

	tx, err := o.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	req, err := o.approvals.DecideTx(ctx, tx, requestID, decidedBy, decision, reason, s)
	if err != nil {
		return nil, err
	}

	if req.Module == ModuleSalesOrder && req.Status.Terminal() {
		if err := o.settleProvisionalSale(ctx, tx, req); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	event := EventApprovalRejected
	if req.Status == ApprovalApproved {
		event = EventApprovalApproved
	}
	if req.Status == ApprovalAwaitingSecond {
		event = EventApprovalPending
	}
	payload := map[string]any{
		"request_id": req.ID, "module": req.Module, "status": req.Status, "decided_by": decidedBy,
	}
	if approver, err := GetUser(ctx, o.pool, decidedBy); err != nil {
		log.Printf("resolve approver %d for notification: %v", decidedBy, err)
	} else {
		payload["decided_by_name"] = approver.Username
	}
	o.emit(event, payload)
	return req, nil
}

// settleProvisionalSale applies the deferred ledger effect once a sales
// order request reaches a terminal state.
func (o *Orchestrator) settleProvisionalSale(ctx context.Context, tx pgx.Tx, req *ApprovalRequest) error {
	// Lock order matches RecordPayment: customer row first, then the
	// receivable. Taking them the other way around can deadlock against a
	// concurrent payment for the same customer. The customer id is read
	// without a lock, which is safe because a receivable never moves
	// between customers.
	var customerID int
	err := tx.QueryRow(ctx,
		"SELECT customer_id FROM credit_transactions WHERE id = $1", req.SubjectID,
	).Scan(&customerID)
	if err != nil {
		return fmt.Errorf("fetch receivable %d for request %d: %w", req.SubjectID, req.ID, err)
	}
	customer, err := o.ledger.LockCustomerTx(ctx, tx, customerID)
	if err != nil {
		return err
	}

	var rcv CreditTransaction
	err = tx.QueryRow(ctx, `
		SELECT id, customer_id, original_amount, status
		FROM credit_transactions WHERE id = $1 FOR UPDATE`, req.SubjectID,
	).Scan(&rcv.ID, &rcv.CustomerID, &rcv.OriginalAmount, &rcv.Status)
	if err != nil {
		return fmt.Errorf("fetch receivable %d for request %d: %w", req.SubjectID, req.ID, err)
	}
	if rcv.Status != ReceivableProvisional {
		// Already settled by an earlier decision; nothing to do.
		return nil
	}

	target := ReceivableCancelled
	if req.Status == ApprovalApproved {
		target = ReceivableOpen
	}
	if !rcv.Status.CanTransition(target) {
		return fmt.Errorf("receivable %d: %s -> %s: %w", rcv.ID, rcv.Status, target, ErrIllegalTransition)
	}

	if target == ReceivableOpen {
		// Approved override: the limit was checked at submission and the
		// approver has signed off on the exposure.
		if err := o.ledger.DebitTx(ctx, tx, customer, rcv.OriginalAmount, true); err != nil {
			return err
		}
	}
	if _, err := tx.Exec(ctx,
		"UPDATE credit_transactions SET status = $1 WHERE id = $2", target, rcv.ID); err != nil {
		return fmt.Errorf("update receivable %d status: %w", rcv.ID, err)
	}
	return nil
}

// RecordPaymentInput describes an incoming customer payment. OperationID is
// the caller's idempotency key; a blank one gets a generated UUID, giving up
// retry protection. TargetTransactionIDs optionally restricts allocation.
type RecordPaymentInput struct {
	CustomerID           int
	Amount               decimal.Decimal
	PaymentDate          time.Time
	Method               string
	Reference            string
	OperationID          string
	RecordedBy           int
	TargetTransactionIDs []int
}

// PaymentOutcome reports the committed allocation. Allocated plus
// UnappliedRemainder always equals the input amount exactly.
type PaymentOutcome struct {
	Payments           []CreditPayment   `json:"payments"`
	Allocations        []AllocationEntry `json:"allocations"`
	Allocated          decimal.Decimal   `json:"allocated"`
	UnappliedRemainder decimal.Decimal   `json:"unapplied_remainder"`
	Score              *CreditScore      `json:"score,omitempty"`
}

// RecordPayment runs the waterfall and commits the allocation, receivable
// updates, and ledger decrement as one transaction, then refreshes the
// customer's score. A payment with nothing to absorb it is rejected before
// any write; a partial remainder commits and is reported for manual review.
func (o *Orchestrator) RecordPayment(ctx context.Context, in RecordPaymentInput) (*PaymentOutcome, error) {
	if !in.Amount.IsPositive() {
		return nil, fmt.Errorf("payment amount must be positive, got %s", in.Amount)
	}
	if in.PaymentDate.IsZero() {
		in.PaymentDate = time.Now().UTC()
	}
	if in.OperationID == "" {
		in.OperationID = uuid.NewString()
	}
	s, err := o.settings.Load(ctx)
	if err != nil {
		return nil, err
	}

	tx, err := o.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var seen bool
	if err := tx.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM credit_payments WHERE operation_id = $1)", in.OperationID,
	).Scan(&seen); err != nil {
		return nil, fmt.Errorf("check operation id: %w", err)
	}
	if seen {
		return nil, fmt.Errorf("operation %s: %w", in.OperationID, ErrDuplicateOperation)
	}

	customer, err := o.ledger.LockCustomerTx(ctx, tx, in.CustomerID)
	if err != nil {
		return nil, err
	}
	receivables, err := o.allocator.LoadOpenTx(ctx, tx, in.CustomerID, in.TargetTransactionIDs)
	if err != nil {
		return nil, err
	}

	plan := PlanAllocation(receivables, in.Amount)
	if len(plan.Entries) == 0 {
		return nil, &OverpaymentError{CustomerID: in.CustomerID, Unapplied: in.Amount}
	}

	payments, err := o.allocator.ApplyTx(ctx, tx, plan, in.PaymentDate, in.Method, in.Reference, in.OperationID)
	if err != nil {
		return nil, err
	}
	allocated := plan.Allocated()
	if _, _, err := o.ledger.CreditTx(ctx, tx, customer, allocated); err != nil {
		return nil, err
	}
	for _, e := range plan.Entries {
		if err := recordAudit(ctx, tx, string(ModuleSalesOrder), e.TransactionID, in.RecordedBy, ActionCashiered, in.OperationID); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	if plan.UnappliedRemainder.IsPositive() {
		log.Printf("payment %s: unapplied remainder %s for customer %d held for manual review",
			in.OperationID, plan.UnappliedRemainder.StringFixed(2), in.CustomerID)
	}

	outcome := &PaymentOutcome{
		Payments:           payments,
		Allocations:        plan.Entries,
		Allocated:          allocated,
		UnappliedRemainder: plan.UnappliedRemainder,
	}
	// Score refresh and notification happen after commit; their failure
	// never rolls back the payment.
	if score, err := o.scorer.Calculate(ctx, in.CustomerID, s); err != nil {
		log.Printf("score refresh for customer %d failed: %v", in.CustomerID, err)
	} else {
		outcome.Score = score
	}
	o.emit(EventPaymentRecorded, map[string]any{
		"customer_id": in.CustomerID, "operation_id": in.OperationID,
		"allocated": allocated.String(), "unapplied": plan.UnappliedRemainder.String(),
	})
	return outcome, nil
}

// GatedOutcome is the result of submitting an expense or purchase order
// through the approval gate. A nil Request means the amount cleared without
// needing a human decision.
type GatedOutcome struct {
	Request      *ApprovalRequest `json:"request,omitempty"`
	AutoApproved bool             `json:"auto_approved"`
}

// SubmitGated routes an expense or purchase order through the band check.
// The subject itself lives with the excluded master-data collaborators; only
// the gating state is owned here. Sales orders go through CreateCreditSale.
func (o *Orchestrator) SubmitGated(ctx context.Context, module ApprovalModule, subjectID int, amount decimal.Decimal, submittedBy int) (*GatedOutcome, error) {
	if module == ModuleSalesOrder {
		return nil, fmt.Errorf("sales orders are submitted via CreateCreditSale")
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("amount must be positive, got %s", amount)
	}
	s, err := o.settings.Load(ctx)
	if err != nil {
		return nil, err
	}
	if !s.RequiresApproval(module, amount) {
		return &GatedOutcome{AutoApproved: true}, nil
	}

	tx, err := o.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	req, err := o.approvals.SubmitTx(ctx, tx, module, subjectID, amount, submittedBy, s)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	o.emit(EventApprovalPending, map[string]any{
		"request_id": req.ID, "module": module, "amount": amount.String(), "role": req.RequiredRole,
	})
	return &GatedOutcome{Request: req}, nil
}

// EscalateStale promotes every stale pending request to its next band role.
// Driven by the external scheduled sweep (cmd/escalate), not by in-process
// timers. Each request escalates independently; one failure is logged and
// the sweep continues.
func (o *Orchestrator) EscalateStale(ctx context.Context) ([]ApprovalRequest, error) {
	s, err := o.settings.Load(ctx)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	ids, err := o.approvals.FindStale(ctx, s, now)
	if err != nil {
		return nil, err
	}
	var escalated []ApprovalRequest
	for _, id := range ids {
		req, err := o.approvals.Escalate(ctx, id, s, now)
		if err != nil {
			log.Printf("escalate request %d: %v", id, err)
			continue
		}
		if req == nil {
			continue
		}
		escalated = append(escalated, *req)
		o.emit(EventApprovalEscalated, map[string]any{
			"request_id": req.ID, "level": req.EscalationLevel, "role": req.RequiredRole,
		})
	}
	return escalated, nil
}

// CreditSummary is the caller-facing view of a customer's credit position.
type CreditSummary struct {
	Customer        *Customer           `json:"customer"`
	Available       decimal.Decimal     `json:"available"`
	OpenReceivables []CreditTransaction `json:"open_receivables"`
	OverdueAmount   decimal.Decimal     `json:"overdue_amount"`
	Score           *CreditScore        `json:"score,omitempty"`
}

// GetCreditSummary returns the customer, their headroom, open receivables in
// waterfall order with the overdue portion totaled, and the latest score
// snapshot if one exists.
func (o *Orchestrator) GetCreditSummary(ctx context.Context, customerID int) (*CreditSummary, error) {
	customer, err := o.ledger.GetCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}
	receivables, err := o.listReceivables(ctx,
		"WHERE customer_id = $1 AND status IN ('open', 'partial') ORDER BY due_date, id", customerID)
	if err != nil {
		return nil, err
	}
	score, err := o.scorer.GetSnapshot(ctx, customerID)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	overdue := decimal.Zero
	for _, r := range receivables {
		if r.Overdue(now) {
			overdue = overdue.Add(r.Balance)
		}
	}
	return &CreditSummary{
		Customer:        customer,
		Available:       customer.Available(),
		OpenReceivables: receivables,
		OverdueAmount:   overdue,
		Score:           score,
	}, nil
}

// GetOverdueTransactions lists receivables past due with money still owed,
// across all customers or for one.
func (o *Orchestrator) GetOverdueTransactions(ctx context.Context, customerID *int) ([]CreditTransaction, error) {
	now := time.Now().UTC()
	if customerID != nil {
		return o.listReceivables(ctx,
			"WHERE customer_id = $1 AND status IN ('open', 'partial') AND balance > 0 AND due_date < $2 ORDER BY due_date, id",
			*customerID, now)
	}
	return o.listReceivables(ctx,
		"WHERE status IN ('open', 'partial') AND balance > 0 AND due_date < $1 ORDER BY due_date, id", now)
}

// ApplyRecommendations copies the latest score snapshot's recommended limit
// and terms onto the customer. Requires a computed score.
func (o *Orchestrator) ApplyRecommendations(ctx context.Context, customerID, actorID int) (*Customer, error) {
	score, err := o.scorer.GetSnapshot(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if score == nil {
		return nil, fmt.Errorf("no credit score computed for customer %d", customerID)
	}

	tx, err := o.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	customer, err := o.ledger.LockCustomerTx(ctx, tx, customerID)
	if err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx,
		"UPDATE customers SET credit_limit = $1, payment_terms_days = $2, version = version + 1 WHERE id = $3",
		score.RecommendedLimit, score.RecommendedTermsDays, customerID); err != nil {
		return nil, fmt.Errorf("apply recommendations to customer %d: %w", customerID, err)
	}
	if err := recordAudit(ctx, tx, "customer", customerID, actorID, "recommendations_applied",
		fmt.Sprintf("limit %s, terms %d days", score.RecommendedLimit.StringFixed(2), score.RecommendedTermsDays)); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	customer.CreditLimit = score.RecommendedLimit
	customer.PaymentTermsDays = score.RecommendedTermsDays
	customer.Version++
	return customer, nil
}

// SetCreditBlock toggles the block flag and emits the change event.
func (o *Orchestrator) SetCreditBlock(ctx context.Context, customerID int, blocked bool, reason string, actorID int) (*Customer, error) {
	customer, err := o.ledger.SetBlock(ctx, customerID, blocked, reason, actorID)
	if err != nil {
		return nil, err
	}
	o.emit(EventCreditBlocked, map[string]any{
		"customer_id": customerID, "blocked": blocked, "reason": reason,
	})
	return customer, nil
}

func (o *Orchestrator) emit(event string, payload map[string]any) {
	defer func() {
		if rv := recover(); rv != nil {
			log.Printf("notification sink panic on %s: %v", event, rv)
		}
	}()
	o.notify.Emit(event, payload)
}

func (o *Orchestrator) listReceivables(ctx context.Context, clause string, args ...any) ([]CreditTransaction, error) {
	rows, err := o.pool.Query(ctx, `
		SELECT id, customer_id, origin_ref, original_amount, balance, due_date, status, created_at
		FROM credit_transactions `+clause, args...)
	if err != nil {
		return nil, fmt.Errorf("list receivables: %w", err)
	}
	defer rows.Close()
	var out []CreditTransaction
	for rows.Next() {
		var t CreditTransaction
		if err := rows.Scan(&t.ID, &t.CustomerID, &t.OriginRef, &t.OriginalAmount,
			&t.Balance, &t.DueDate, &t.Status, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan receivable: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func insertReceivable(ctx context.Context, tx pgx.Tx, customerID int, amount decimal.Decimal, dueDate time.Time, originRef string, status ReceivableStatus) (*CreditTransaction, error) {
	var t CreditTransaction
	err := tx.QueryRow(ctx, `
		INSERT INTO credit_transactions (customer_id, origin_ref, original_amount, balance, due_date, status)
		VALUES ($1, $2, $3, $3, $4, $5)
		RETURNING id, customer_id, origin_ref, original_amount, balance, due_date, status, created_at`,
		customerID, originRef, amount, dueDate, status,
	).Scan(&t.ID, &t.CustomerID, &t.OriginRef, &t.OriginalAmount, &t.Balance, &t.DueDate, &t.Status, &t.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert receivable: %w", err)
	}
	return &t, nil
}
