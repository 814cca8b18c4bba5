package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"credit-engine/internal/app"
	"credit-engine/internal/core"

	"github.com/go-chi/chi/v5"
)

// Handler exposes the credit and approval engine as a JSON API.
type Handler struct {
	svc    app.ApplicationService
	router chi.Router
}

// maxRequestBody caps request bodies; no legitimate payload comes close.
const maxRequestBody = 1 << 20

// NewHandler creates and wires the chi router with all routes.
// allowedOrigins is the comma-separated ALLOWED_ORIGINS value; empty
// disables CORS.
func NewHandler(svc app.ApplicationService, allowedOrigins string) http.Handler {
	h := &Handler{svc: svc}

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Logger)
	r.Use(Recoverer)
	r.Use(CORS(allowedOrigins))
	r.Use(RequestBodyLimit(maxRequestBody))

	r.Get("/api/health", h.health)

	r.Post("/api/customers", h.createCustomer)
	r.Get("/api/customers", h.listCustomers)
	r.Get("/api/customers/{id}/summary", h.creditSummary)
	r.Get("/api/customers/{id}/overdue", h.overdueForCustomer)
	r.Post("/api/customers/{id}/score", h.calculateScore)
	r.Post("/api/customers/{id}/recommendations/apply", h.applyRecommendations)
	r.Post("/api/customers/{id}/block", h.setBlock)

	r.Post("/api/sales", h.createSale)
	r.Post("/api/payments", h.recordPayment)
	r.Post("/api/expenses", h.submitExpense)
	r.Post("/api/purchase-orders", h.submitPurchaseOrder)

	r.Get("/api/approvals", h.listApprovals)
	r.Post("/api/approvals/{id}/decide", h.decideApproval)
	r.Post("/api/approvals/escalate", h.escalateStale)

	r.Get("/api/overdue", h.overdueAll)

	h.router = r
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) createCustomer(w http.ResponseWriter, r *http.Request) {
	var req app.CreateCustomerRequest
	if !decode(w, r, &req) {
		return
	}
	result, err := h.svc.CreateCustomer(r.Context(), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result.Customer)
}

func (h *Handler) listCustomers(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.ListCustomers(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result.Customers)
}

func (h *Handler) creditSummary(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	result, err := h.svc.GetCreditSummary(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result.Summary)
}

func (h *Handler) overdueForCustomer(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	result, err := h.svc.GetOverdueTransactions(r.Context(), &id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result.Transactions)
}

func (h *Handler) overdueAll(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.GetOverdueTransactions(r.Context(), nil)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result.Transactions)
}

func (h *Handler) calculateScore(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	score, err := h.svc.CalculateScore(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, score)
}

func (h *Handler) applyRecommendations(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var body struct {
		ActorID int `json:"actor_id"`
	}
	if !decode(w, r, &body) {
		return
	}
	result, err := h.svc.ApplyRecommendations(r.Context(), id, body.ActorID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result.Customer)
}

func (h *Handler) setBlock(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req app.BlockRequest
	if !decode(w, r, &req) {
		return
	}
	req.CustomerID = id
	result, err := h.svc.SetCreditBlock(r.Context(), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result.Customer)
}

func (h *Handler) createSale(w http.ResponseWriter, r *http.Request) {
	var req app.CreateSaleRequest
	if !decode(w, r, &req) {
		return
	}
	result, err := h.svc.CreateCreditSale(r.Context(), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	status := http.StatusCreated
	if result.Outcome.ApprovalRequired() {
		// The receivable exists but the ledger is not yet debited.
		status = http.StatusAccepted
	}
	writeJSON(w, status, result.Outcome)
}

func (h *Handler) recordPayment(w http.ResponseWriter, r *http.Request) {
	var req app.RecordPaymentRequest
	if !decode(w, r, &req) {
		return
	}
	result, err := h.svc.RecordPayment(r.Context(), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result.Outcome)
}

func (h *Handler) submitExpense(w http.ResponseWriter, r *http.Request) {
	var req app.SubmitGatedRequest
	if !decode(w, r, &req) {
		return
	}
	result, err := h.svc.SubmitExpense(r.Context(), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, result.Outcome)
}

func (h *Handler) submitPurchaseOrder(w http.ResponseWriter, r *http.Request) {
	var req app.SubmitGatedRequest
	if !decode(w, r, &req) {
		return
	}
	result, err := h.svc.SubmitPurchaseOrder(r.Context(), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, result.Outcome)
}

func (h *Handler) listApprovals(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.ListApprovals(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result.Requests)
}

func (h *Handler) decideApproval(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req app.DecideRequest
	if !decode(w, r, &req) {
		return
	}
	req.RequestID = id
	result, err := h.svc.DecideApproval(r.Context(), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result.Request)
}

func (h *Handler) escalateStale(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.EscalateStale(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result.Escalated)
}

func pathID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid id in path")
		return 0, false
	}
	return id, true
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps the engine's error taxonomy to HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	var limitErr *core.CreditLimitError
	var roleErr *core.RoleSeparationError
	var gapErr *core.BandGapError
	var overErr *core.OverpaymentError
	switch {
	case errors.Is(err, core.ErrCreditBlocked):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.As(err, &limitErr):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"error":     err.Error(),
			"attempted": limitErr.Attempted.StringFixed(2),
			"available": limitErr.Available.StringFixed(2),
		})
	case errors.Is(err, core.ErrSelfApproval), errors.As(err, &roleErr):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.As(err, &gapErr):
		writeError(w, http.StatusInternalServerError, err.Error())
	case errors.As(err, &overErr):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"error":     err.Error(),
			"unapplied": overErr.Unapplied.StringFixed(2),
		})
	case errors.Is(err, core.ErrDuplicateOperation):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, core.ErrConcurrentModification):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, core.ErrIllegalTransition):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusBadRequest, err.Error())
	}
}
