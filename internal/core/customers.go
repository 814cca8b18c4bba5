package core

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// CustomerService covers the minimum master data the engine needs to be
// operable. Broader CRUD lives outside this module.
type CustomerService struct {
	pool *pgxpool.Pool
}

func NewCustomerService(pool *pgxpool.Pool) *CustomerService {
	return &CustomerService{pool: pool}
}

func (s *CustomerService) Create(ctx context.Context, code, name string, creditLimit decimal.Decimal, paymentTermsDays int) (*Customer, error) {
	if !creditLimit.IsPositive() && !creditLimit.IsZero() {
		return nil, fmt.Errorf("credit limit must not be negative")
	}
	if paymentTermsDays <= 0 {
		return nil, fmt.Errorf("payment terms must be positive")
	}
	var c Customer
	err := s.pool.QueryRow(ctx, `
		INSERT INTO customers (code, name, credit_limit, payment_terms_days)
		VALUES ($1, $2, $3, $4)
		RETURNING id, code, name, credit_limit, outstanding_balance, credit_blocked,
		          COALESCE(block_reason, ''), payment_terms_days, version, created_at`,
		code, name, creditLimit, paymentTermsDays,
	).Scan(&c.ID, &c.Code, &c.Name, &c.CreditLimit, &c.OutstandingBalance, &c.CreditBlocked,
		&c.BlockReason, &c.PaymentTermsDays, &c.Version, &c.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create customer %q: %w", code, err)
	}
	return &c, nil
}

func (s *CustomerService) List(ctx context.Context) ([]Customer, error) {
	rows, err := s.pool.Query(ctx, customerSelect+" ORDER BY code")
	if err != nil {
		return nil, fmt.Errorf("list customers: %w", err)
	}
	defer rows.Close()
	var out []Customer
	for rows.Next() {
		var c Customer
		if err := rows.Scan(&c.ID, &c.Code, &c.Name, &c.CreditLimit, &c.OutstandingBalance,
			&c.CreditBlocked, &c.BlockReason, &c.PaymentTermsDays, &c.Version, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan customer: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
