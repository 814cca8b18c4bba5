package core

import "log"

// NotificationSink receives domain events after the owning transaction has
// committed. Emission is fire-and-forget: a sink failure is the sink's
// problem and must never unwind a committed financial mutation.
type NotificationSink interface {
	Emit(event string, payload map[string]any)
}

// Domain event names emitted by the orchestrator.
const (
	EventApprovalPending   = "approval.pending"
	EventApprovalApproved  = "approval.approved"
	EventApprovalRejected  = "approval.rejected"
	EventApprovalEscalated = "approval.escalated"
	EventCreditSale        = "credit.sale_recorded"
	EventCreditBlocked     = "credit.block_changed"
	EventPaymentRecorded   = "payment.recorded"
)

// LogSink writes events to the process log. The default sink when no real
// notification transport is wired in.
type LogSink struct{}

func (LogSink) Emit(event string, payload map[string]any) {
	log.Printf("event %s: %v", event, payload)
}
