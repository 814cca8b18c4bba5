package core

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// ActorDirectory resolves a user to their role. Role-separation checks and
// decision authority both go through it.
type ActorDirectory interface {
	RoleOf(ctx context.Context, userID int) (string, error)
}

// Decision is an approver's verdict on a pending request.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// Audit action names recorded against subjects. Role-separation rules match
// on these when a conflicting earlier action by the same actor must block a
// later one.
const (
	ActionSubmitted     = "submitted"
	ActionApproved      = "approved"
	ActionRejected      = "rejected"
	ActionFirstApproval = "first_approval"
	ActionEscalated     = "escalated"
	ActionBooked        = "booked"
	ActionCashiered     = "cashiered"
	ActionAccounted     = "accounted"
	ActionReceived      = "received"
)

// separationRules maps each role-separation toggle to the pair of actions it
// forbids the same actor from performing on one subject. The check runs both
// ways: having done either action blocks the other.
type separationRule struct {
	name    string
	enabled func(*Settings) bool
	actions [2]string
}

var separationRules = []separationRule{
	{"booking_cannot_cashier", func(s *Settings) bool { return s.BookingCannotCashier }, [2]string{ActionBooked, ActionCashiered}},
	{"cashier_cannot_accountant", func(s *Settings) bool { return s.CashierCannotAccountant }, [2]string{ActionCashiered, ActionAccounted}},
	{"same_user_cannot_receive_po", func(s *Settings) bool { return s.SameUserCannotReceivePO }, [2]string{ActionApproved, ActionReceived}},
}

// applyDecision mutates req according to the decision rules. It is pure with
// respect to storage: the caller persists the result. now stamps DecidedAt.
//
// Approval of an amount at or above the dual-approval threshold parks the
// request in awaiting_second; a second, independent approver finalizes it.
func applyDecision(req *ApprovalRequest, decidedBy int, decision Decision, reason string, s *Settings, now time.Time) error {
	if req.Status.Terminal() {
		return fmt.Errorf("request %d already %s: %w", req.ID, req.Status, ErrIllegalTransition)
	}
	if s.CreatorCannotApprove && decidedBy == req.SubmittedBy {
		return fmt.Errorf("request %d submitted by user %d: %w", req.ID, decidedBy, ErrSelfApproval)
	}

	var target ApprovalStatus
	switch decision {
	case DecisionReject:
		target = ApprovalRejected
	case DecisionApprove:
		target = ApprovalApproved
		if req.Status == ApprovalPending && needsDualApproval(req.Amount, s) {
			target = ApprovalAwaitingSecond
		}
		if req.Status == ApprovalAwaitingSecond && req.FirstApprovedBy != nil && *req.FirstApprovedBy == decidedBy {
			return fmt.Errorf("request %d: second approval must come from a different approver: %w", req.ID, ErrSelfApproval)
		}
	default:
		return fmt.Errorf("unknown decision %q", decision)
	}

	if !req.Status.CanTransition(target) {
		return fmt.Errorf("request %d: %s -> %s: %w", req.ID, req.Status, target, ErrIllegalTransition)
	}

	if target == ApprovalAwaitingSecond {
		req.Status = ApprovalAwaitingSecond
		first := decidedBy
		req.FirstApprovedBy = &first
		return nil
	}
	req.Status = target
	req.DecidedBy = &decidedBy
	req.DecidedAt = &now
	if reason != "" {
		req.Reason = reason
	}
	return nil
}

func needsDualApproval(amount decimal.Decimal, s *Settings) bool {
	return s.DualApprovalAbove != nil && amount.GreaterThanOrEqual(*s.DualApprovalAbove)
}

// nextEscalation computes the escalated role for a stale pending request.
// ok is false when the request is not eligible: already decided, not yet
// stale, at the top band, or at the configured level cap.
func nextEscalation(req *ApprovalRequest, s *Settings, now time.Time) (role string, ok bool) {
	if req.Status != ApprovalPending && req.Status != ApprovalAwaitingSecond {
		return "", false
	}
	if req.EscalationLevel >= s.MaxApprovalLevels {
		return "", false
	}
	clock := req.SubmittedAt
	if req.EscalatedAt != nil {
		clock = *req.EscalatedAt
	}
	if now.Sub(clock) <= s.AutoEscalateAfter {
		return "", false
	}
	return s.NextRole(req.Module, req.RequiredRole)
}

// ApprovalEngine drives the approval state machine over the
// approval_requests table.
type ApprovalEngine struct {
	pool   *pgxpool.Pool
	actors ActorDirectory
}

func NewApprovalEngine(pool *pgxpool.Pool, actors ActorDirectory) *ApprovalEngine {
	return &ApprovalEngine{pool: pool, actors: actors}
}

// SubmitTx creates a pending request at the band-resolved role, inside the
// caller's transaction so the gated subject and its request commit together.
func (e *ApprovalEngine) SubmitTx(ctx context.Context, tx pgx.Tx, module ApprovalModule, subjectID int, amount decimal.Decimal, submittedBy int, s *Settings) (*ApprovalRequest, error) {
	band, err := s.ResolveBand(module, amount)
	if err != nil {
		return nil, err
	}

	req := &ApprovalRequest{
		Module:       module,
		SubjectID:    subjectID,
		Amount:       amount,
		Status:       ApprovalPending,
		RequiredRole: band.Role,
		SubmittedBy:  submittedBy,
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO approval_requests (module, subject_id, amount, status, required_role, submitted_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, submitted_at, escalation_level, version`,
		req.Module, req.SubjectID, req.Amount, req.Status, req.RequiredRole, req.SubmittedBy,
	).Scan(&req.ID, &req.SubmittedAt, &req.EscalationLevel, &req.Version)
	if err != nil {
		return nil, fmt.Errorf("insert approval request: %w", err)
	}
	if err := recordAudit(ctx, tx, string(module), subjectID, submittedBy, ActionSubmitted, ""); err != nil {
		return nil, err
	}
	return req, nil
}

// DecideTx applies one approver's verdict inside the caller's transaction.
// The request row is locked for the duration so two decisions cannot race to
// finalize the same request; a lost version check reports
// ErrConcurrentModification.
func (e *ApprovalEngine) DecideTx(ctx context.Context, tx pgx.Tx, requestID, decidedBy int, decision Decision, reason string, s *Settings) (*ApprovalRequest, error) {
	req, err := lockRequest(ctx, tx, requestID)
	if err != nil {
		return nil, err
	}

	role, err := e.actors.RoleOf(ctx, decidedBy)
	if err != nil {
		return nil, err
	}
	if !roleCanDecide(s, req.Module, role, req.RequiredRole) {
		return nil, fmt.Errorf("role %q cannot decide request %d requiring role %q", role, requestID, req.RequiredRole)
	}
	if err := checkRoleSeparation(ctx, tx, s, req, decidedBy); err != nil {
		return nil, err
	}

	if err := applyDecision(req, decidedBy, decision, reason, s, time.Now().UTC()); err != nil {
		return nil, err
	}

	tag, err := tx.Exec(ctx, `
		UPDATE approval_requests
		SET status = $1, first_approved_by = $2, decided_by = $3, decided_at = $4, reason = $5, version = version + 1
		WHERE id = $6 AND version = $7`,
		req.Status, req.FirstApprovedBy, req.DecidedBy, req.DecidedAt, nullable(req.Reason), req.ID, req.Version)
	if err != nil {
		return nil, fmt.Errorf("update approval request %d: %w", requestID, err)
	}
	if tag.RowsAffected() == 0 {
		return nil, fmt.Errorf("approval request %d: %w", requestID, ErrConcurrentModification)
	}
	req.Version++

	action := ActionRejected
	switch {
	case req.Status == ApprovalAwaitingSecond:
		action = ActionFirstApproval
	case req.Status == ApprovalApproved:
		action = ActionApproved
	}
	if err := recordAudit(ctx, tx, string(req.Module), req.SubjectID, decidedBy, action, reason); err != nil {
		return nil, err
	}
	return req, nil
}

// Escalate promotes one stale pending request to the next band's role,
// resetting its escalation clock. Returns the updated request, or nil when
// the request was not eligible.
func (e *ApprovalEngine) Escalate(ctx context.Context, requestID int, s *Settings, now time.Time) (*ApprovalRequest, error) {
	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	req, err := lockRequest(ctx, tx, requestID)
	if err != nil {
		return nil, err
	}
	role, ok := nextEscalation(req, s, now)
	if !ok {
		return nil, nil
	}

	req.RequiredRole = role
	req.EscalationLevel++
	req.EscalatedAt = &now
	tag, err := tx.Exec(ctx, `
		UPDATE approval_requests
		SET required_role = $1, escalation_level = $2, escalated_at = $3, version = version + 1
		WHERE id = $4 AND version = $5`,
		req.RequiredRole, req.EscalationLevel, now, req.ID, req.Version)
	if err != nil {
		return nil, fmt.Errorf("escalate approval request %d: %w", requestID, err)
	}
	if tag.RowsAffected() == 0 {
		return nil, fmt.Errorf("approval request %d: %w", requestID, ErrConcurrentModification)
	}
	req.Version++
	if err := recordAudit(ctx, tx, string(req.Module), req.SubjectID, 0, ActionEscalated,
		fmt.Sprintf("level %d, role %s", req.EscalationLevel, role)); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return req, nil
}

// FindStale lists undecided requests whose escalation clock has run out.
// Intended for the external scheduled sweep; each hit is escalated
// individually so one conflict does not abort the batch.
func (e *ApprovalEngine) FindStale(ctx context.Context, s *Settings, now time.Time) ([]int, error) {
	cutoff := now.Add(-s.AutoEscalateAfter)
	rows, err := e.pool.Query(ctx, `
		SELECT id FROM approval_requests
		WHERE status IN ('pending', 'awaiting_second')
		  AND escalation_level < $1
		  AND COALESCE(escalated_at, submitted_at) < $2
		ORDER BY id`, s.MaxApprovalLevels, cutoff)
	if err != nil {
		return nil, fmt.Errorf("find stale approval requests: %w", err)
	}
	defer rows.Close()
	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan stale request id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetRequest reads one approval request without locking.
func (e *ApprovalEngine) GetRequest(ctx context.Context, requestID int) (*ApprovalRequest, error) {
	return scanRequest(e.pool.QueryRow(ctx, requestSelect+" WHERE id = $1", requestID), requestID)
}

// ListRequests returns requests filtered by optional status, newest first.
func (e *ApprovalEngine) ListRequests(ctx context.Context, status *ApprovalStatus) ([]ApprovalRequest, error) {
	query := requestSelect
	var args []any
	if status != nil {
		query += " WHERE status = $1"
		args = append(args, *status)
	}
	query += " ORDER BY submitted_at DESC, id DESC"
	rows, err := e.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list approval requests: %w", err)
	}
	defer rows.Close()
	var out []ApprovalRequest
	for rows.Next() {
		req, err := scanRequestRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *req)
	}
	return out, rows.Err()
}

// roleCanDecide allows the required role itself or any higher band's role
// for the module, so an escalated-authority approver is never turned away.
func roleCanDecide(s *Settings, module ApprovalModule, actorRole, requiredRole string) bool {
	if actorRole == requiredRole {
		return true
	}
	seen := false
	for _, b := range s.Bands[module] {
		if b.Role == requiredRole {
			seen = true
			continue
		}
		if seen && b.Role == actorRole {
			return true
		}
	}
	return false
}

// checkRoleSeparation fails closed when an enabled rule finds the actor has
// already performed the conflicting duty on this subject.
func checkRoleSeparation(ctx context.Context, q pgxQuerier, s *Settings, req *ApprovalRequest, actorID int) error {
	for _, rule := range separationRules {
		if !rule.enabled(s) {
			continue
		}
		var conflict bool
		err := q.QueryRow(ctx, `
			SELECT EXISTS(
				SELECT 1 FROM approval_audit
				WHERE module = $1 AND subject_id = $2 AND actor_id = $3 AND action = ANY($4)
			)`, string(req.Module), req.SubjectID, actorID, []string{rule.actions[0], rule.actions[1]},
		).Scan(&conflict)
		if err != nil {
			return fmt.Errorf("check role separation %s: %w", rule.name, err)
		}
		if conflict {
			return &RoleSeparationError{Rule: rule.name, UserID: actorID}
		}
	}
	return nil
}

// recordAudit appends one immutable row to the approval audit trail.
// actorID 0 denotes the system (escalation sweep).
func recordAudit(ctx context.Context, tx pgx.Tx, module string, subjectID, actorID int, action, note string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO approval_audit (module, subject_id, actor_id, action, note)
		VALUES ($1, $2, $3, $4, $5)`,
		module, subjectID, actorID, action, nullable(note))
	if err != nil {
		return fmt.Errorf("record audit %s on %s/%d: %w", action, module, subjectID, err)
	}
	return nil
}

func lockRequest(ctx context.Context, tx pgx.Tx, requestID int) (*ApprovalRequest, error) {
	return scanRequest(tx.QueryRow(ctx, requestSelect+" WHERE id = $1 FOR UPDATE", requestID), requestID)
}

const requestSelect = `
	SELECT id, module, subject_id, amount, status, required_role, submitted_by,
	       first_approved_by, decided_by, COALESCE(reason, ''), submitted_at,
	       decided_at, escalation_level, escalated_at, version
	FROM approval_requests`

func scanRequest(row pgx.Row, requestID int) (*ApprovalRequest, error) {
	var req ApprovalRequest
	err := row.Scan(&req.ID, &req.Module, &req.SubjectID, &req.Amount, &req.Status,
		&req.RequiredRole, &req.SubmittedBy, &req.FirstApprovedBy, &req.DecidedBy,
		&req.Reason, &req.SubmittedAt, &req.DecidedAt, &req.EscalationLevel,
		&req.EscalatedAt, &req.Version)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("approval request %d not found", requestID)
		}
		return nil, fmt.Errorf("fetch approval request %d: %w", requestID, err)
	}
	return &req, nil
}

func scanRequestRows(rows pgx.Rows) (*ApprovalRequest, error) {
	var req ApprovalRequest
	err := rows.Scan(&req.ID, &req.Module, &req.SubjectID, &req.Amount, &req.Status,
		&req.RequiredRole, &req.SubmittedBy, &req.FirstApprovedBy, &req.DecidedBy,
		&req.Reason, &req.SubmittedAt, &req.DecidedAt, &req.EscalationLevel,
		&req.EscalatedAt, &req.Version)
	if err != nil {
		return nil, fmt.Errorf("scan approval request: %w", err)
	}
	return &req, nil
}
