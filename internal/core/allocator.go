package core

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// AllocationEntry is one slice of a payment applied to one receivable.
type AllocationEntry struct {
	TransactionID int              `json:"transaction_id"`
	Amount        decimal.Decimal  `json:"amount_allocated"`
	NewBalance    decimal.Decimal  `json:"new_balance"`
	NewStatus     ReceivableStatus `json:"new_status"`
}

// AllocationPlan is the outcome of the waterfall: ordered entries plus any
// remainder that found no receivable to absorb it. Entries and remainder
// always sum exactly to the input amount.
type AllocationPlan struct {
	Entries            []AllocationEntry `json:"entries"`
	UnappliedRemainder decimal.Decimal   `json:"unapplied_remainder"`
}

// Allocated returns the total amount the plan applies to receivables.
func (p *AllocationPlan) Allocated() decimal.Decimal {
	total := decimal.Zero
	for _, e := range p.Entries {
		total = total.Add(e.Amount)
	}
	return total
}

// PlanAllocation distributes amount across receivables, oldest due date
// first: a FIFO waterfall, not a proportional split. receivables must
// already be ordered by due date ascending, id ascending. The function is
// pure; applying the plan is a separate, transactional step.
func PlanAllocation(receivables []CreditTransaction, amount decimal.Decimal) AllocationPlan {
	plan := AllocationPlan{UnappliedRemainder: amount}
	for _, r := range receivables {
		if !plan.UnappliedRemainder.IsPositive() {
			break
		}
		if r.Status != ReceivableOpen && r.Status != ReceivablePartial {
			continue
		}
		if !r.Balance.IsPositive() {
			continue
		}
		slice := decimal.Min(plan.UnappliedRemainder, r.Balance)
		newBalance := r.Balance.Sub(slice)
		status := ReceivablePartial
		if newBalance.IsZero() {
			status = ReceivablePaid
		}
		plan.Entries = append(plan.Entries, AllocationEntry{
			TransactionID: r.ID,
			Amount:        slice,
			NewBalance:    newBalance,
			NewStatus:     status,
		})
		plan.UnappliedRemainder = plan.UnappliedRemainder.Sub(slice)
	}
	return plan
}

// Allocator loads open receivables and applies allocation plans inside the
// caller's transaction. The orchestrator owns the transaction boundary so the
// ledger decrement, balance updates, and payment rows commit together.
type Allocator struct{}

func NewAllocator() *Allocator {
	return &Allocator{}
}

// LoadOpenTx fetches and row-locks the customer's open and partial
// receivables in waterfall order. When targetIDs is non-empty, allocation is
// restricted to those receivables (still in due-date order).
func (a *Allocator) LoadOpenTx(ctx context.Context, tx pgx.Tx, customerID int, targetIDs []int) ([]CreditTransaction, error) {
	query := `
		SELECT id, customer_id, origin_ref, original_amount, balance, due_date, status, created_at
		FROM credit_transactions
		WHERE customer_id = $1 AND status IN ('open', 'partial')`
	args := []any{customerID}
	if len(targetIDs) > 0 {
		query += " AND id = ANY($2)"
		args = append(args, targetIDs)
	}
	query += " ORDER BY due_date, id FOR UPDATE"

	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("load open receivables for customer %d: %w", customerID, err)
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
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read receivables: %w", err)
	}
	return out, nil
}

// ApplyTx writes one plan: decrements each receivable's balance, flips its
// status, and inserts the immutable payment rows. Runs entirely inside the
// caller's transaction; nothing is visible unless the caller commits.
func (a *Allocator) ApplyTx(ctx context.Context, tx pgx.Tx, plan AllocationPlan, paymentDate time.Time, method, reference, operationID string) ([]CreditPayment, error) {
	payments := make([]CreditPayment, 0, len(plan.Entries))
	for _, e := range plan.Entries {
		tag, err := tx.Exec(ctx,
			"UPDATE credit_transactions SET balance = $1, status = $2 WHERE id = $3 AND status IN ('open', 'partial')",
			e.NewBalance, e.NewStatus, e.TransactionID)
		if err != nil {
			return nil, fmt.Errorf("update receivable %d: %w", e.TransactionID, err)
		}
		if tag.RowsAffected() == 0 {
			return nil, fmt.Errorf("receivable %d: %w", e.TransactionID, ErrConcurrentModification)
		}

		var p CreditPayment
		err = tx.QueryRow(ctx, `
			INSERT INTO credit_payments (credit_transaction_id, amount, payment_date, method, reference, operation_id)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id, credit_transaction_id, amount, payment_date, method, COALESCE(reference, ''), operation_id, created_at`,
			e.TransactionID, e.Amount, paymentDate, method, nullable(reference), operationID,
		).Scan(&p.ID, &p.CreditTransactionID, &p.Amount, &p.PaymentDate, &p.Method, &p.Reference, &p.OperationID, &p.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("insert credit payment for receivable %d: %w", e.TransactionID, err)
		}
		payments = append(payments, p)
	}
	return payments, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
