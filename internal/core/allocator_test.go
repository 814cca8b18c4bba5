package core_test

import (
	"testing"
	"time"

	"credit-engine/internal/core"

	"github.com/shopspring/decimal"
)

func day(n int) time.Time {
	return time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, n)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func openReceivable(id int, balance string, due time.Time) core.CreditTransaction {
	return core.CreditTransaction{
		ID:             id,
		CustomerID:     1,
		OriginalAmount: dec(balance),
		Balance:        dec(balance),
		DueDate:        due,
		Status:         core.ReceivableOpen,
	}
}

func TestPlanAllocation_FIFOWaterfall(t *testing.T) {
	receivables := []core.CreditTransaction{
		openReceivable(1, "100", day(0)),
		openReceivable(2, "50", day(10)),
		openReceivable(3, "200", day(20)),
	}

	plan := core.PlanAllocation(receivables, dec("120"))

	if len(plan.Entries) != 2 {
		t.Fatalf("expected 2 allocations, got %d", len(plan.Entries))
	}
	first, second := plan.Entries[0], plan.Entries[1]
	if first.TransactionID != 1 || !first.Amount.Equal(dec("100")) {
		t.Errorf("first allocation: got tx %d amount %s, want tx 1 amount 100", first.TransactionID, first.Amount)
	}
	if first.NewStatus != core.ReceivablePaid {
		t.Errorf("first allocation status: got %s, want paid", first.NewStatus)
	}
	if second.TransactionID != 2 || !second.Amount.Equal(dec("20")) {
		t.Errorf("second allocation: got tx %d amount %s, want tx 2 amount 20", second.TransactionID, second.Amount)
	}
	if !second.NewBalance.Equal(dec("30")) {
		t.Errorf("second allocation balance: got %s, want 30", second.NewBalance)
	}
	if second.NewStatus != core.ReceivablePartial {
		t.Errorf("second allocation status: got %s, want partial", second.NewStatus)
	}
	if !plan.UnappliedRemainder.IsZero() {
		t.Errorf("remainder: got %s, want 0", plan.UnappliedRemainder)
	}
}

func TestPlanAllocation_Conservation(t *testing.T) {
	tests := []struct {
		name     string
		balances []string
		payment  string
	}{
		{"exact", []string{"100", "50"}, "150"},
		{"partial", []string{"100", "50"}, "75"},
		{"overpay", []string{"100", "50"}, "500"},
		{"cents", []string{"0.01", "0.02", "33.33"}, "33.35"},
		{"single cent", []string{"99.99"}, "0.01"},
		{"no receivables", nil, "250"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var receivables []core.CreditTransaction
			for i, b := range tt.balances {
				receivables = append(receivables, openReceivable(i+1, b, day(i)))
			}
			payment := dec(tt.payment)
			plan := core.PlanAllocation(receivables, payment)

			total := plan.Allocated().Add(plan.UnappliedRemainder)
			if !total.Equal(payment) {
				t.Errorf("allocated %s + remainder %s = %s, want exactly %s",
					plan.Allocated(), plan.UnappliedRemainder, total, payment)
			}
			for _, e := range plan.Entries {
				if !e.Amount.IsPositive() {
					t.Errorf("allocation to tx %d is not positive: %s", e.TransactionID, e.Amount)
				}
			}
		})
	}
}

func TestPlanAllocation_SkipsSettledAndProvisional(t *testing.T) {
	paid := openReceivable(1, "100", day(0))
	paid.Status = core.ReceivablePaid
	provisional := openReceivable(2, "100", day(1))
	provisional.Status = core.ReceivableProvisional
	cancelled := openReceivable(3, "100", day(2))
	cancelled.Status = core.ReceivableCancelled
	open := openReceivable(4, "40", day(3))

	plan := core.PlanAllocation([]core.CreditTransaction{paid, provisional, cancelled, open}, dec("100"))

	if len(plan.Entries) != 1 || plan.Entries[0].TransactionID != 4 {
		t.Fatalf("expected a single allocation to tx 4, got %+v", plan.Entries)
	}
	if !plan.UnappliedRemainder.Equal(dec("60")) {
		t.Errorf("remainder: got %s, want 60", plan.UnappliedRemainder)
	}
}

func TestPlanAllocation_TieBreakByID(t *testing.T) {
	// Same due date: creation order (id) decides who absorbs first. The
	// allocator preserves the input order, which LoadOpenTx guarantees.
	receivables := []core.CreditTransaction{
		openReceivable(7, "30", day(5)),
		openReceivable(9, "30", day(5)),
	}
	plan := core.PlanAllocation(receivables, dec("40"))
	if plan.Entries[0].TransactionID != 7 || !plan.Entries[0].Amount.Equal(dec("30")) {
		t.Errorf("first allocation should settle tx 7 in full, got %+v", plan.Entries[0])
	}
	if plan.Entries[1].TransactionID != 9 || !plan.Entries[1].Amount.Equal(dec("10")) {
		t.Errorf("second allocation should give tx 9 the rest, got %+v", plan.Entries[1])
	}
}
