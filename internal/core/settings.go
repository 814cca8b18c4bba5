package core

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Band is one configured amount range mapped to an approver role.
// Max == nil means the band is open-ended at the top.
type Band struct {
	Min         decimal.Decimal
	Max         *decimal.Decimal
	Role        string
	AutoApprove bool
}

// Contains reports whether amount falls inside the band. Min is inclusive.
// A closed band's upper bound is exclusive at Max plus one whole unit: band
// maxima sit one unit below the next band's Min, so a fractional amount in
// the seam (100000.50 between a 100000 max and a 100001 min) belongs to the
// lower band rather than falling into a false gap.
func (b *Band) Contains(amount decimal.Decimal) bool {
	if amount.LessThan(b.Min) {
		return false
	}
	if b.Max == nil {
		return true
	}
	return amount.LessThan(b.Max.Add(decimal.NewFromInt(1)))
}

// ScoreWeights are the configured factor weights for credit scoring.
type ScoreWeights struct {
	OnTime      float64
	Utilization float64
	Overdue     float64
	Age         float64
}

// Settings is an immutable snapshot of the engine's business configuration.
// Every operation loads one snapshot up front and uses it throughout, so a
// concurrent configuration change never half-applies within an operation.
type Settings struct {
	RequireApproval map[ApprovalModule]bool
	Bands           map[ApprovalModule][]Band

	CreatorCannotApprove    bool
	DualApprovalAbove       *decimal.Decimal // nil disables dual approval
	AutoEscalateAfter       time.Duration
	MaxApprovalLevels       int
	BookingCannotCashier    bool
	CashierCannotAccountant bool
	SameUserCannotReceivePO bool

	Weights            ScoreWeights
	ScoreReduceBelow   int
	ScoreIncreaseAbove int
}

// ResolveBand returns the band covering amount for the given module.
// A miss is a configuration gap and is reported, never treated as approval.
func (s *Settings) ResolveBand(module ApprovalModule, amount decimal.Decimal) (*Band, error) {
	for i := range s.Bands[module] {
		if b := &s.Bands[module][i]; b.Contains(amount) {
			return b, nil
		}
	}
	return nil, &BandGapError{Module: module, Amount: amount}
}

// RequiresApproval reports whether an amount needs a human decision. False
// only when the module's approval toggle is off or the resolved band is
// explicitly marked auto-approve; a band gap fails closed.
func (s *Settings) RequiresApproval(module ApprovalModule, amount decimal.Decimal) bool {
	if !s.RequireApproval[module] {
		return false
	}
	band, err := s.ResolveBand(module, amount)
	if err != nil {
		return true
	}
	return !band.AutoApprove
}

// NextRole returns the role of the band above the one holding role, for
// escalation. ok is false when role is already the top band's role or is not
// a configured role for the module.
func (s *Settings) NextRole(module ApprovalModule, role string) (string, bool) {
	bands := s.Bands[module]
	for i := range bands {
		if bands[i].Role == role && i+1 < len(bands) {
			return bands[i+1].Role, true
		}
	}
	return "", false
}

// validateBands checks that a module's bands are ordered, start at zero, and
// are contiguous with no overlap: each band's Min must be the previous Max
// plus one currency unit, and only the last band may be open-ended.
func validateBands(module ApprovalModule, bands []Band) error {
	if len(bands) == 0 {
		return fmt.Errorf("module %s has no approval bands", module)
	}
	if !bands[0].Min.IsZero() {
		return fmt.Errorf("module %s: first band must start at 0, got %s", module, bands[0].Min)
	}
	one := decimal.NewFromInt(1)
	for i, b := range bands {
		last := i == len(bands)-1
		if b.Max == nil && !last {
			return fmt.Errorf("module %s: band %d is open-ended but not last", module, i)
		}
		if b.Max != nil && b.Max.LessThan(b.Min) {
			return fmt.Errorf("module %s: band %d has max %s below min %s", module, i, b.Max, b.Min)
		}
		if !last {
			want := b.Max.Add(one)
			if !bands[i+1].Min.Equal(want) {
				return fmt.Errorf("module %s: band %d min %s is not contiguous with previous max %s",
					module, i+1, bands[i+1].Min, b.Max)
			}
		}
	}
	return nil
}

// SettingsStore loads Settings snapshots from the engine_settings and
// approval_bands tables. Configuration lives in the database so it can be
// changed without redeploying; nothing here is compiled in.
type SettingsStore struct {
	pool *pgxpool.Pool
}

func NewSettingsStore(pool *pgxpool.Pool) *SettingsStore {
	return &SettingsStore{pool: pool}
}

// Load reads one immutable snapshot. Malformed band configuration fails the
// load rather than surfacing later as a surprise gap.
func (st *SettingsStore) Load(ctx context.Context) (*Settings, error) {
	raw := map[string]string{}
	rows, err := st.pool.Query(ctx, "SELECT key, value FROM engine_settings")
	if err != nil {
		return nil, fmt.Errorf("load engine settings: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan engine setting: %w", err)
		}
		raw[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read engine settings: %w", err)
	}

	s := &Settings{
		RequireApproval: map[ApprovalModule]bool{
			ModuleSalesOrder:    boolSetting(raw, "sales_order_require_approval", true),
			ModulePurchaseOrder: boolSetting(raw, "purchase_order_require_approval", true),
			ModuleExpense:       boolSetting(raw, "expense_require_approval", true),
		},
		Bands:                   map[ApprovalModule][]Band{},
		CreatorCannotApprove:    boolSetting(raw, "creator_cannot_approve", true),
		AutoEscalateAfter:       time.Duration(intSetting(raw, "auto_escalate_after_hours", 48)) * time.Hour,
		MaxApprovalLevels:       intSetting(raw, "max_approval_levels", 3),
		BookingCannotCashier:    boolSetting(raw, "booking_cannot_cashier", false),
		CashierCannotAccountant: boolSetting(raw, "cashier_cannot_accountant", false),
		SameUserCannotReceivePO: boolSetting(raw, "same_user_cannot_receive_po", false),
		Weights: ScoreWeights{
			OnTime:      floatSetting(raw, "weight_on_time", 0.40),
			Utilization: floatSetting(raw, "weight_utilization", 0.25),
			Overdue:     floatSetting(raw, "weight_overdue", 0.25),
			Age:         floatSetting(raw, "weight_age", 0.10),
		},
		ScoreReduceBelow:   intSetting(raw, "score_reduce_below", 400),
		ScoreIncreaseAbove: intSetting(raw, "score_increase_above", 750),
	}

	if v, ok := raw["require_dual_approval_above"]; ok && v != "" {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return nil, fmt.Errorf("setting require_dual_approval_above: %w", err)
		}
		s.DualApprovalAbove = &d
	}

	bandRows, err := st.pool.Query(ctx, `
		SELECT module, min_amount, max_amount, role, auto_approve
		FROM approval_bands
		ORDER BY module, position`)
	if err != nil {
		return nil, fmt.Errorf("load approval bands: %w", err)
	}
	defer bandRows.Close()
	for bandRows.Next() {
		var moduleName string
		var b Band
		if err := bandRows.Scan(&moduleName, &b.Min, &b.Max, &b.Role, &b.AutoApprove); err != nil {
			return nil, fmt.Errorf("scan approval band: %w", err)
		}
		module, ok := ParseApprovalModule(moduleName)
		if !ok {
			return nil, fmt.Errorf("approval band references unknown module %q", moduleName)
		}
		s.Bands[module] = append(s.Bands[module], b)
	}
	if err := bandRows.Err(); err != nil {
		return nil, fmt.Errorf("read approval bands: %w", err)
	}

	for module, bands := range s.Bands {
		sort.SliceStable(bands, func(i, j int) bool { return bands[i].Min.LessThan(bands[j].Min) })
		if err := validateBands(module, bands); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func boolSetting(raw map[string]string, key string, def bool) bool {
	v, ok := raw[key]
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func intSetting(raw map[string]string, key string, def int) int {
	v, ok := raw[key]
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func floatSetting(raw map[string]string, key string, def float64) float64 {
	v, ok := raw[key]
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}
