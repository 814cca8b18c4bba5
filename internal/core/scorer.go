package core

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// PaidRecord is one settled receivable in a customer's history.
type PaidRecord struct {
	DueDate   time.Time
	SettledAt time.Time
}

// OverdueRecord is one currently overdue receivable.
type OverdueRecord struct {
	DueDate time.Time
	Balance decimal.Decimal
}

// CreditHistory is everything the scorer looks at. It is assembled from the
// customer row and the receivable/payment tables; scoring itself never
// touches the database.
type CreditHistory struct {
	CreditLimit        decimal.Decimal
	OutstandingBalance decimal.Decimal
	FirstCreditAt      *time.Time // nil when the customer has no history yet
	Paid               []PaidRecord
	Overdue            []OverdueRecord
}

// ComputeScore derives a 0..1000 score from history. Each factor lands in
// [0, 1] and the configured weights combine them; the function is a pure,
// idempotent function of its inputs.
func ComputeScore(h CreditHistory, w ScoreWeights, now time.Time) int {
	onTime := onTimeFactor(h.Paid)
	util := utilizationFactor(h.CreditLimit, h.OutstandingBalance)
	overdue := overdueFactor(h, now)
	age := accountAgeFactor(h.FirstCreditAt, now)

	totalWeight := w.OnTime + w.Utilization + w.Overdue + w.Age
	if totalWeight <= 0 {
		return 0
	}
	combined := (w.OnTime*onTime + w.Utilization*util + w.Overdue*overdue + w.Age*age) / totalWeight
	score := int(math.Round(combined * 1000))
	if score < 0 {
		score = 0
	}
	if score > 1000 {
		score = 1000
	}
	return score
}

// onTimeFactor is the fraction of settled receivables paid on or before the
// due date. No settled history reads as neutral.
func onTimeFactor(paid []PaidRecord) float64 {
	if len(paid) == 0 {
		return 0.5
	}
	onTime := 0
	for _, p := range paid {
		if !p.SettledAt.After(p.DueDate) {
			onTime++
		}
	}
	return float64(onTime) / float64(len(paid))
}

// utilizationFactor rewards headroom: 1 at zero utilization, 0 at or beyond
// the limit. A zero limit counts as zero utilization.
func utilizationFactor(limit, outstanding decimal.Decimal) float64 {
	if !limit.IsPositive() {
		return 1
	}
	util, _ := outstanding.Div(limit).Float64()
	if util < 0 {
		util = 0
	}
	if util > 1 {
		util = 1
	}
	return 1 - util
}

// overdueFactor penalizes by the weighted sum of (days overdue x balance),
// normalized against thirty days of the full limit so the penalty saturates
// instead of growing without bound.
func overdueFactor(h CreditHistory, now time.Time) float64 {
	if len(h.Overdue) == 0 {
		return 1
	}
	severity := decimal.Zero
	for _, o := range h.Overdue {
		days := now.Sub(o.DueDate).Hours() / 24
		if days <= 0 {
			continue
		}
		severity = severity.Add(o.Balance.Mul(decimal.NewFromFloat(days)))
	}
	scale := h.CreditLimit.Mul(decimal.NewFromInt(30))
	if !scale.IsPositive() {
		scale = decimal.NewFromInt(30)
	}
	sev, _ := severity.Float64()
	sc, _ := scale.Float64()
	return 1 - sev/(sev+sc)
}

// accountAgeFactor grows with history length with diminishing returns: half
// confidence at one year, approaching 1 asymptotically.
func accountAgeFactor(first *time.Time, now time.Time) float64 {
	if first == nil {
		return 0
	}
	months := now.Sub(*first).Hours() / (24 * 30)
	if months < 0 {
		months = 0
	}
	return months / (months + 12)
}

// Recommend buckets a score into a limit/terms recommendation using the
// configured tier thresholds. Below the reduce threshold limit and terms
// shrink; above the increase threshold they grow; between, they hold.
func Recommend(score int, c *Customer, s *Settings, now time.Time) CreditScore {
	rec := CreditScore{
		CustomerID:           c.ID,
		Score:                score,
		RecommendedLimit:     c.CreditLimit,
		RecommendedTermsDays: c.PaymentTermsDays,
		ComputedAt:           now,
	}
	switch {
	case score < s.ScoreReduceBelow:
		rec.RecommendedLimit = c.CreditLimit.Mul(decimal.NewFromFloat(0.75)).Round(2)
		rec.RecommendedTermsDays = c.PaymentTermsDays / 2
		if rec.RecommendedTermsDays < 7 {
			rec.RecommendedTermsDays = 7
		}
	case score > s.ScoreIncreaseAbove:
		rec.RecommendedLimit = c.CreditLimit.Mul(decimal.NewFromFloat(1.25)).Round(2)
		rec.RecommendedTermsDays = c.PaymentTermsDays + 15
		if rec.RecommendedTermsDays > 90 {
			rec.RecommendedTermsDays = 90
		}
	}
	return rec
}

// CreditScorer recomputes and snapshots customer scores. Calculate never
// mutates the customer or any receivable; it only upserts the credit_scores
// snapshot row.
type CreditScorer struct {
	pool *pgxpool.Pool
}

func NewCreditScorer(pool *pgxpool.Pool) *CreditScorer {
	return &CreditScorer{pool: pool}
}

// Calculate gathers the customer's history, computes the score, stores the
// snapshot, and returns it.
func (s *CreditScorer) Calculate(ctx context.Context, customerID int, settings *Settings) (*CreditScore, error) {
	now := time.Now().UTC()
	c, err := scanCustomer(s.pool.QueryRow(ctx, customerSelect+" WHERE id = $1", customerID), customerID)
	if err != nil {
		return nil, err
	}

	h, err := s.loadHistory(ctx, c, now)
	if err != nil {
		return nil, err
	}

	score := ComputeScore(h, settings.Weights, now)
	rec := Recommend(score, c, settings, now)

	_, err = s.pool.Exec(ctx, `
		INSERT INTO credit_scores (customer_id, score, recommended_limit, recommended_terms_days, computed_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (customer_id) DO UPDATE SET
			score = EXCLUDED.score,
			recommended_limit = EXCLUDED.recommended_limit,
			recommended_terms_days = EXCLUDED.recommended_terms_days,
			computed_at = EXCLUDED.computed_at`,
		rec.CustomerID, rec.Score, rec.RecommendedLimit, rec.RecommendedTermsDays, rec.ComputedAt)
	if err != nil {
		return nil, fmt.Errorf("store credit score for customer %d: %w", customerID, err)
	}
	return &rec, nil
}

// GetSnapshot returns the stored score for a customer, or nil when none has
// been computed yet.
func (s *CreditScorer) GetSnapshot(ctx context.Context, customerID int) (*CreditScore, error) {
	var cs CreditScore
	err := s.pool.QueryRow(ctx, `
		SELECT customer_id, score, recommended_limit, recommended_terms_days, computed_at
		FROM credit_scores WHERE customer_id = $1`, customerID,
	).Scan(&cs.CustomerID, &cs.Score, &cs.RecommendedLimit, &cs.RecommendedTermsDays, &cs.ComputedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch credit score for customer %d: %w", customerID, err)
	}
	return &cs, nil
}

func (s *CreditScorer) loadHistory(ctx context.Context, c *Customer, now time.Time) (CreditHistory, error) {
	h := CreditHistory{
		CreditLimit:        c.CreditLimit,
		OutstandingBalance: c.OutstandingBalance,
	}

	var first *time.Time
	err := s.pool.QueryRow(ctx,
		"SELECT MIN(created_at) FROM credit_transactions WHERE customer_id = $1 AND status <> 'cancelled'",
		c.ID).Scan(&first)
	if err != nil {
		return h, fmt.Errorf("load first credit date: %w", err)
	}
	h.FirstCreditAt = first

	rows, err := s.pool.Query(ctx, `
		SELECT t.due_date, MAX(p.payment_date)
		FROM credit_transactions t
		JOIN credit_payments p ON p.credit_transaction_id = t.id
		WHERE t.customer_id = $1 AND t.status = 'paid'
		GROUP BY t.id, t.due_date`, c.ID)
	if err != nil {
		return h, fmt.Errorf("load settled receivables: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var p PaidRecord
		if err := rows.Scan(&p.DueDate, &p.SettledAt); err != nil {
			return h, fmt.Errorf("scan settled receivable: %w", err)
		}
		h.Paid = append(h.Paid, p)
	}
	if err := rows.Err(); err != nil {
		return h, fmt.Errorf("read settled receivables: %w", err)
	}

	overdueRows, err := s.pool.Query(ctx, `
		SELECT due_date, balance
		FROM credit_transactions
		WHERE customer_id = $1 AND status IN ('open', 'partial') AND balance > 0 AND due_date < $2`,
		c.ID, now)
	if err != nil {
		return h, fmt.Errorf("load overdue receivables: %w", err)
	}
	defer overdueRows.Close()
	for overdueRows.Next() {
		var o OverdueRecord
		if err := overdueRows.Scan(&o.DueDate, &o.Balance); err != nil {
			return h, fmt.Errorf("scan overdue receivable: %w", err)
		}
		h.Overdue = append(h.Overdue, o)
	}
	if err := overdueRows.Err(); err != nil {
		return h, fmt.Errorf("read overdue receivables: %w", err)
	}
	return h, nil
}
