package core

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func testSettings() *Settings {
	max1 := decimal.NewFromInt(100000)
	max2 := decimal.NewFromInt(500000)
	return &Settings{
		RequireApproval: map[ApprovalModule]bool{
			ModuleSalesOrder: true, ModulePurchaseOrder: true, ModuleExpense: true,
		},
		Bands: map[ApprovalModule][]Band{
			ModuleSalesOrder: {
				{Min: decimal.Zero, Max: &max1, Role: "Manager"},
				{Min: decimal.NewFromInt(100001), Max: &max2, Role: "Finance"},
				{Min: decimal.NewFromInt(500001), Role: "Admin"},
			},
		},
		CreatorCannotApprove: true,
		AutoEscalateAfter:    48 * time.Hour,
		MaxApprovalLevels:    3,
	}
}

func pendingRequest(amount int64, submittedBy int) *ApprovalRequest {
	return &ApprovalRequest{
		ID:           1,
		Module:       ModuleSalesOrder,
		SubjectID:    10,
		Amount:       decimal.NewFromInt(amount),
		Status:       ApprovalPending,
		RequiredRole: "Manager",
		SubmittedBy:  submittedBy,
		SubmittedAt:  time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestApplyDecision_SelfApprovalForbidden(t *testing.T) {
	s := testSettings()
	req := pendingRequest(50000, 7)
	err := applyDecision(req, 7, DecisionApprove, "", s, time.Now())
	if !errors.Is(err, ErrSelfApproval) {
		t.Fatalf("expected ErrSelfApproval, got %v", err)
	}
	// Rejection by the submitter is equally forbidden.
	err = applyDecision(req, 7, DecisionReject, "", s, time.Now())
	if !errors.Is(err, ErrSelfApproval) {
		t.Fatalf("expected ErrSelfApproval on reject, got %v", err)
	}
}

func TestApplyDecision_SelfApprovalAllowedWhenDisabled(t *testing.T) {
	s := testSettings()
	s.CreatorCannotApprove = false
	req := pendingRequest(50000, 7)
	if err := applyDecision(req, 7, DecisionApprove, "", s, time.Now()); err != nil {
		t.Fatalf("expected approval to pass with creator_cannot_approve off, got %v", err)
	}
	if req.Status != ApprovalApproved {
		t.Errorf("status: got %s, want approved", req.Status)
	}
}

func TestApplyDecision_SingleApproval(t *testing.T) {
	s := testSettings()
	now := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	req := pendingRequest(50000, 7)
	if err := applyDecision(req, 8, DecisionApprove, "looks fine", s, now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.Status != ApprovalApproved {
		t.Errorf("status: got %s, want approved", req.Status)
	}
	if req.DecidedBy == nil || *req.DecidedBy != 8 {
		t.Errorf("decided_by not recorded")
	}
	if req.DecidedAt == nil || !req.DecidedAt.Equal(now) {
		t.Errorf("decided_at not stamped")
	}
}

func TestApplyDecision_DualApprovalSubState(t *testing.T) {
	s := testSettings()
	threshold := decimal.NewFromInt(200000)
	s.DualApprovalAbove = &threshold

	req := pendingRequest(250000, 7)
	if err := applyDecision(req, 8, DecisionApprove, "", s, time.Now()); err != nil {
		t.Fatalf("first approval: %v", err)
	}
	if req.Status != ApprovalAwaitingSecond {
		t.Fatalf("after first approval: got %s, want awaiting_second", req.Status)
	}
	if req.FirstApprovedBy == nil || *req.FirstApprovedBy != 8 {
		t.Fatalf("first approver not recorded")
	}

	// Same approver cannot provide the second signoff.
	if err := applyDecision(req, 8, DecisionApprove, "", s, time.Now()); !errors.Is(err, ErrSelfApproval) {
		t.Fatalf("expected ErrSelfApproval for repeated approver, got %v", err)
	}
	// Neither can the submitter.
	if err := applyDecision(req, 7, DecisionApprove, "", s, time.Now()); !errors.Is(err, ErrSelfApproval) {
		t.Fatalf("expected ErrSelfApproval for submitter, got %v", err)
	}

	if err := applyDecision(req, 9, DecisionApprove, "", s, time.Now()); err != nil {
		t.Fatalf("second approval: %v", err)
	}
	if req.Status != ApprovalApproved {
		t.Errorf("after second approval: got %s, want approved", req.Status)
	}
}

func TestApplyDecision_DualApprovalBelowThresholdSingleStep(t *testing.T) {
	s := testSettings()
	threshold := decimal.NewFromInt(200000)
	s.DualApprovalAbove = &threshold

	req := pendingRequest(199999, 7)
	if err := applyDecision(req, 8, DecisionApprove, "", s, time.Now()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.Status != ApprovalApproved {
		t.Errorf("below threshold: got %s, want approved in one step", req.Status)
	}
}

func TestApplyDecision_RejectFromAwaitingSecond(t *testing.T) {
	s := testSettings()
	threshold := decimal.NewFromInt(200000)
	s.DualApprovalAbove = &threshold

	req := pendingRequest(300000, 7)
	if err := applyDecision(req, 8, DecisionApprove, "", s, time.Now()); err != nil {
		t.Fatalf("first approval: %v", err)
	}
	if err := applyDecision(req, 9, DecisionReject, "too risky", s, time.Now()); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if req.Status != ApprovalRejected {
		t.Errorf("status: got %s, want rejected", req.Status)
	}
	if req.Reason != "too risky" {
		t.Errorf("reason: got %q", req.Reason)
	}
}

func TestApplyDecision_TerminalIsFinal(t *testing.T) {
	s := testSettings()
	req := pendingRequest(50000, 7)
	if err := applyDecision(req, 8, DecisionReject, "", s, time.Now()); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if err := applyDecision(req, 9, DecisionApprove, "", s, time.Now()); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("expected ErrIllegalTransition on decided request, got %v", err)
	}
}

func TestNextEscalation(t *testing.T) {
	s := testSettings()
	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		mutate   func(*ApprovalRequest)
		now      time.Time
		wantRole string
		wantOK   bool
	}{
		{
			name:     "stale pending escalates to next band role",
			mutate:   func(r *ApprovalRequest) {},
			now:      base.Add(49 * time.Hour),
			wantRole: "Finance",
			wantOK:   true,
		},
		{
			name:   "fresh request does not escalate",
			mutate: func(r *ApprovalRequest) {},
			now:    base.Add(2 * time.Hour),
			wantOK: false,
		},
		{
			name: "escalation clock resets on prior escalation",
			mutate: func(r *ApprovalRequest) {
				at := base.Add(50 * time.Hour)
				r.EscalatedAt = &at
				r.EscalationLevel = 1
				r.RequiredRole = "Finance"
			},
			now:    base.Add(60 * time.Hour),
			wantOK: false,
		},
		{
			name: "top band role has nowhere to go",
			mutate: func(r *ApprovalRequest) {
				r.RequiredRole = "Admin"
			},
			now:    base.Add(200 * time.Hour),
			wantOK: false,
		},
		{
			name: "level cap stops escalation",
			mutate: func(r *ApprovalRequest) {
				r.EscalationLevel = 3
			},
			now:    base.Add(200 * time.Hour),
			wantOK: false,
		},
		{
			name: "decided request never escalates",
			mutate: func(r *ApprovalRequest) {
				r.Status = ApprovalApproved
			},
			now:    base.Add(200 * time.Hour),
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := pendingRequest(50000, 7)
			req.SubmittedAt = base
			tt.mutate(req)
			role, ok := nextEscalation(req, s, tt.now)
			if ok != tt.wantOK {
				t.Fatalf("ok: got %v, want %v", ok, tt.wantOK)
			}
			if ok && role != tt.wantRole {
				t.Errorf("role: got %s, want %s", role, tt.wantRole)
			}
		})
	}
}

func TestRoleCanDecide(t *testing.T) {
	s := testSettings()
	tests := []struct {
		actor    string
		required string
		want     bool
	}{
		{"Manager", "Manager", true},
		{"Finance", "Manager", true},
		{"Admin", "Manager", true},
		{"Admin", "Finance", true},
		{"Manager", "Finance", false},
		{"Finance", "Admin", false},
		{"Clerk", "Manager", false},
	}
	for _, tt := range tests {
		if got := roleCanDecide(s, ModuleSalesOrder, tt.actor, tt.required); got != tt.want {
			t.Errorf("roleCanDecide(%s deciding for %s) = %v, want %v", tt.actor, tt.required, got, tt.want)
		}
	}
}

func TestValidateBands(t *testing.T) {
	max1 := decimal.NewFromInt(100)
	badMax := decimal.NewFromInt(-1)

	tests := []struct {
		name    string
		bands   []Band
		wantErr bool
	}{
		{
			name: "contiguous bands pass",
			bands: []Band{
				{Min: decimal.Zero, Max: &max1, Role: "Manager"},
				{Min: decimal.NewFromInt(101), Role: "Admin"},
			},
		},
		{
			name: "gap between bands fails",
			bands: []Band{
				{Min: decimal.Zero, Max: &max1, Role: "Manager"},
				{Min: decimal.NewFromInt(200), Role: "Admin"},
			},
			wantErr: true,
		},
		{
			name: "overlap fails",
			bands: []Band{
				{Min: decimal.Zero, Max: &max1, Role: "Manager"},
				{Min: decimal.NewFromInt(100), Role: "Admin"},
			},
			wantErr: true,
		},
		{
			name: "nonzero start fails",
			bands: []Band{
				{Min: decimal.NewFromInt(10), Role: "Manager"},
			},
			wantErr: true,
		},
		{
			name: "open-ended band in the middle fails",
			bands: []Band{
				{Min: decimal.Zero, Role: "Manager"},
				{Min: decimal.NewFromInt(101), Role: "Admin"},
			},
			wantErr: true,
		},
		{
			name: "inverted band fails",
			bands: []Band{
				{Min: decimal.NewFromInt(0), Max: &badMax, Role: "Manager"},
			},
			wantErr: true,
		},
		{
			name:    "empty fails",
			bands:   nil,
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateBands(ModuleSalesOrder, tt.bands)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateBands: err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
