package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/draftea/order-orchestrator/payment-processor/application"
	"github.com/draftea/order-orchestrator/payment-processor/domain"
	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PaymentHandlers contains the payment processor HTTP handlers
type PaymentHandlers struct {
	processPayment *application.ProcessPayment
}

// NewPaymentHandlers creates new payment handlers
func NewPaymentHandlers(processPayment *application.ProcessPayment) *PaymentHandlers {
	return &PaymentHandlers{processPayment: processPayment}
}

// ConfirmPayment accepts a payment; the result follows asynchronously
func (h *PaymentHandlers) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	var req domain.PaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	response, err := h.processPayment.Execute(r.Context(), &req)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidPaymentRequest) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(response)
}

// GetPayment returns the payment registered for a correlation id
func (h *PaymentHandlers) GetPayment(w http.ResponseWriter, r *http.Request) {
	response, err := h.processPayment.Get(chi.URLParam(r, "correlationId"))
	if err != nil {
		if errors.Is(err, application.ErrPaymentNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// RegisterRoutes registers payment routes
func (h *PaymentHandlers) RegisterRoutes(r chi.Router) {
	r.Route("/api/payment", func(r chi.Router) {
		r.Post("/confirm", h.ConfirmPayment)
		r.Get("/{correlationId}", h.GetPayment)
	})
}

// NewMetricsHandler creates a new Prometheus metrics handler
func NewMetricsHandler() http.Handler {
	return promhttp.Handler()
}
