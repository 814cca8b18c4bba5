package core

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// pgxQuerier is satisfied by both *pgxpool.Pool and pgx.Tx, enabling shared
// query helpers.
type pgxQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// CreditLedger owns each customer's limit, outstanding balance, and block
// flag. Every mutation locks the customer row so two concurrent sales or
// payments cannot interleave on the balance.
type CreditLedger struct {
	pool *pgxpool.Pool
}

func NewCreditLedger(pool *pgxpool.Pool) *CreditLedger {
	return &CreditLedger{pool: pool}
}

// GetCustomer reads a customer without locking.
func (l *CreditLedger) GetCustomer(ctx context.Context, customerID int) (*Customer, error) {
	return scanCustomer(l.pool.QueryRow(ctx, customerSelect+" WHERE id = $1", customerID), customerID)
}

// CheckAvailability reports whether a debit of amount would be allowed.
// Read-only; fails closed on a block or a limit breach.
func (l *CreditLedger) CheckAvailability(ctx context.Context, customerID int, amount decimal.Decimal) error {
	c, err := l.GetCustomer(ctx, customerID)
	if err != nil {
		return err
	}
	return checkAvailable(c, amount)
}

// LockCustomerTx reads the customer row FOR UPDATE inside the caller's
// transaction. All ledger mutations go through this lock.
func (l *CreditLedger) LockCustomerTx(ctx context.Context, tx pgx.Tx, customerID int) (*Customer, error) {
	return scanCustomer(tx.QueryRow(ctx, customerSelect+" WHERE id = $1 FOR UPDATE", customerID), customerID)
}

// DebitTx increases the customer's outstanding balance inside the caller's
// transaction. The limit check is skipped only on the post-approval path
// (override); a credit block is never overridden.
func (l *CreditLedger) DebitTx(ctx context.Context, tx pgx.Tx, customer *Customer, amount decimal.Decimal, override bool) error {
	if customer.CreditBlocked {
		return fmt.Errorf("customer %d: %w", customer.ID, ErrCreditBlocked)
	}
	if !override {
		if err := checkAvailable(customer, amount); err != nil {
			return err
		}
	}
	newBalance := customer.OutstandingBalance.Add(amount)
	if err := l.writeBalance(ctx, tx, customer, newBalance); err != nil {
		return err
	}
	return nil
}

// CreditTx decreases the customer's outstanding balance, floored at zero.
// The dropped excess is returned so the caller can surface the
// reconciliation warning; the operation itself still succeeds.
func (l *CreditLedger) CreditTx(ctx context.Context, tx pgx.Tx, customer *Customer, amount decimal.Decimal) (applied, dropped decimal.Decimal, err error) {
	applied = amount
	if applied.GreaterThan(customer.OutstandingBalance) {
		applied = customer.OutstandingBalance
	}
	dropped = amount.Sub(applied)
	if dropped.IsPositive() {
		log.Printf("reconciliation warning: credit of %s to customer %d exceeds outstanding balance %s, clamping to zero (dropped %s)",
			amount.StringFixed(2), customer.ID, customer.OutstandingBalance.StringFixed(2), dropped.StringFixed(2))
	}
	if err := l.writeBalance(ctx, tx, customer, customer.OutstandingBalance.Sub(applied)); err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	return applied, dropped, nil
}

// SetBlock toggles the customer's credit block. Balance is untouched; the
// change is audit-logged.
func (l *CreditLedger) SetBlock(ctx context.Context, customerID int, blocked bool, reason string, actorID int) (*Customer, error) {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	c, err := l.LockCustomerTx(ctx, tx, customerID)
	if err != nil {
		return nil, err
	}
	_, err = tx.Exec(ctx,
		"UPDATE customers SET credit_blocked = $1, block_reason = $2, version = version + 1 WHERE id = $3",
		blocked, reason, customerID)
	if err != nil {
		return nil, fmt.Errorf("update credit block: %w", err)
	}
	action := "credit_unblocked"
	if blocked {
		action = "credit_blocked"
	}
	if err := recordAudit(ctx, tx, "customer", customerID, actorID, action, reason); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	c.CreditBlocked = blocked
	c.BlockReason = reason
	c.Version++
	return c, nil
}

func (l *CreditLedger) writeBalance(ctx context.Context, tx pgx.Tx, customer *Customer, newBalance decimal.Decimal) error {
	tag, err := tx.Exec(ctx,
		"UPDATE customers SET outstanding_balance = $1, version = version + 1 WHERE id = $2 AND version = $3",
		newBalance, customer.ID, customer.Version)
	if err != nil {
		return fmt.Errorf("update outstanding balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("customer %d: %w", customer.ID, ErrConcurrentModification)
	}
	customer.OutstandingBalance = newBalance
	customer.Version++
	return nil
}

func checkAvailable(c *Customer, amount decimal.Decimal) error {
	if c.CreditBlocked {
		return fmt.Errorf("customer %d: %w", c.ID, ErrCreditBlocked)
	}
	attempted := c.OutstandingBalance.Add(amount)
	if attempted.GreaterThan(c.CreditLimit) {
		return &CreditLimitError{
			CustomerID: c.ID,
			Attempted:  attempted,
			Available:  c.Available(),
			Limit:      c.CreditLimit,
		}
	}
	return nil
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

const customerSelect = `
	SELECT id, code, name, credit_limit, outstanding_balance, credit_blocked,
	       COALESCE(block_reason, ''), payment_terms_days, version, created_at
	FROM customers`

func scanCustomer(row pgx.Row, customerID int) (*Customer, error) {
	var c Customer
	err := row.Scan(&c.ID, &c.Code, &c.Name, &c.CreditLimit, &c.OutstandingBalance,
		&c.CreditBlocked, &c.BlockReason, &c.PaymentTermsDays, &c.Version, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("customer %d not found", customerID)
		}
		return nil, fmt.Errorf("fetch customer %d: %w", customerID, err)
	}
	return &c, nil
}
