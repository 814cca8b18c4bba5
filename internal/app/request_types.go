package app

import "time"

// CreateCustomerRequest creates a customer. Amounts are decimal strings so
// adapters never touch binary floating point.
type CreateCustomerRequest struct {
	Code             string `json:"code"`
	Name             string `json:"name"`
	CreditLimit      string `json:"credit_limit"`
	PaymentTermsDays int    `json:"payment_terms_days"`
}

// CreateSaleRequest submits a credit-based sale.
type CreateSaleRequest struct {
	CustomerID  int    `json:"customer_id"`
	Amount      string `json:"amount"`
	OriginRef   string `json:"origin_ref"`
	SubmittedBy int    `json:"submitted_by"`
}

// RecordPaymentRequest submits an incoming payment. OperationID is the
// caller's idempotency key; resubmitting the same id is rejected.
type RecordPaymentRequest struct {
	CustomerID           int        `json:"customer_id"`
	Amount               string     `json:"amount"`
	PaymentDate          *time.Time `json:"payment_date,omitempty"`
	Method               string     `json:"method"`
	Reference            string     `json:"reference,omitempty"`
	OperationID          string     `json:"operation_id,omitempty"`
	RecordedBy           int        `json:"recorded_by"`
	TargetTransactionIDs []int      `json:"target_transaction_ids,omitempty"`
}

// DecideRequest carries one approver's verdict.
type DecideRequest struct {
	RequestID int    `json:"request_id"`
	DecidedBy int    `json:"decided_by"`
	Decision  string `json:"decision"` // "approve" or "reject"
	Reason    string `json:"reason,omitempty"`
}

// SubmitGatedRequest routes an expense or purchase order through the
// approval gate. SubjectID references the entity in its owning system.
type SubmitGatedRequest struct {
	SubjectID   int    `json:"subject_id"`
	Amount      string `json:"amount"`
	SubmittedBy int    `json:"submitted_by"`
}

// BlockRequest toggles a customer's credit block.
type BlockRequest struct {
	CustomerID int    `json:"customer_id"`
	Blocked    bool   `json:"blocked"`
	Reason     string `json:"reason,omitempty"`
	ActorID    int    `json:"actor_id"`
}
