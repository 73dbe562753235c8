package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/draftea/order-orchestrator/orchestrator-service/application"
	"github.com/draftea/order-orchestrator/orchestrator-service/domain"
	"github.com/draftea/order-orchestrator/shared/idempotency"
	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
)

// RequestIDHeader carries the client's idempotency key
const RequestIDHeader = "x-requestid"

// OrderHandlers contains the order workflow HTTP handlers
type OrderHandlers struct {
	createOrder    *application.CreateOrder
	getWorkflow    *application.GetOrderWorkflow
	cancelOrder    *application.CancelOrder
	confirmPayment *application.ConfirmPayment
	logger         *slog.Logger
}

// NewOrderHandlers creates new order handlers
func NewOrderHandlers(
	createOrder *application.CreateOrder,
	getWorkflow *application.GetOrderWorkflow,
	cancelOrder *application.CancelOrder,
	confirmPayment *application.ConfirmPayment,
	logger *slog.Logger,
) *OrderHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &OrderHandlers{
		createOrder:    createOrder,
		getWorkflow:    getWorkflow,
		cancelOrder:    cancelOrder,
		confirmPayment: confirmPayment,
		logger:         logger,
	}
}

// CreateOrder starts the workflow for a submitted basket. The x-requestid
// header is mandatory; a retried request gets the first response back.
func (h *OrderHandlers) CreateOrder(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get(RequestIDHeader)
	if requestID == "" {
		http.Error(w, "x-requestid header is required", http.StatusBadRequest)
		return
	}

	var req domain.OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	response, err := h.createOrder.Execute(r.Context(), &application.CreateOrderCommand{
		RequestID: requestID,
		Request:   req,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	status := http.StatusOK
	if response.Started {
		status = http.StatusAccepted
	}
	writeJSON(w, status, response)
}

// GetOrder returns the workflow snapshot
func (h *OrderHandlers) GetOrder(w http.ResponseWriter, r *http.Request) {
	response, err := h.getWorkflow.Execute(r.Context(), chi.URLParam(r, "correlationId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, response)
}

// GetOrderHistory returns the lifecycle events of the workflow
func (h *OrderHandlers) GetOrderHistory(w http.ResponseWriter, r *http.Request) {
	response, err := h.getWorkflow.History(r.Context(), chi.URLParam(r, "correlationId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, response)
}

// CancelOrder queues an operator cancellation
func (h *OrderHandlers) CancelOrder(w http.ResponseWriter, r *http.Request) {
	response, err := h.cancelOrder.Execute(r.Context(), chi.URLParam(r, "correlationId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, response)
}

// PaymentCallback receives the payment processor result
func (h *OrderHandlers) PaymentCallback(w http.ResponseWriter, r *http.Request) {
	var cmd application.ConfirmPaymentCommand
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	cmd.RequestID = r.Header.Get(RequestIDHeader)

	response, err := h.confirmPayment.Execute(r.Context(), &cmd)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, response)
}

func (h *OrderHandlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var duplicate *idempotency.DuplicateExecutionError

	switch {
	case errors.Is(err, domain.ErrInvalidOrderRequest), errors.Is(err, idempotency.ErrInvalidCommandID):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, domain.ErrInstanceNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, domain.ErrInstanceTerminal), errors.Is(err, domain.ErrCancelNotAllowed), errors.As(err, &duplicate):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, domain.ErrInvalidPaymentCallback):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, idempotency.ErrWaitTimeout):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		h.logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// RegisterRoutes registers the order workflow routes
func (h *OrderHandlers) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/orders", h.CreateOrder)
		r.Route("/orders/{correlationId}", func(r chi.Router) {
			r.Get("/", h.GetOrder)
			r.Get("/history", h.GetOrderHistory)
			r.Post("/cancel", h.CancelOrder)
		})
		r.Post("/payments/callback", h.PaymentCallback)
	})
}
