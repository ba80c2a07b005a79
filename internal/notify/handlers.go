package notify

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/noah-isme/acquiremock/internal/common"
	"github.com/noah-isme/acquiremock/internal/payment"
)

// LogsHandler serves the webhook delivery audit trail.
type LogsHandler struct {
	Logs     LogStore
	Payments payment.Store
	Logger   zerolog.Logger
}

// Register mounts the webhook log routes.
func (h LogsHandler) Register(r chi.Router) {
	r.Get("/api/webhook-logs/{paymentID}", h.List)
}

// List returns every delivery attempt recorded for a payment.
func (h LogsHandler) List(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "paymentID")
	if _, err := h.Payments.GetPayment(r.Context(), id); err != nil {
		if errors.Is(err, payment.ErrNotFound) {
			common.JSONError(w, http.StatusNotFound, "PAYMENT_NOT_FOUND", "payment not found", id)
			return
		}
		h.Logger.Error().Err(err).Str("payment_id", id).Msg("load payment")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error", "")
		return
	}
	logs, err := h.Logs.ListWebhookLogs(r.Context(), id)
	if err != nil {
		h.Logger.Error().Err(err).Str("payment_id", id).Msg("list webhook logs")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error", "")
		return
	}
	if logs == nil {
		logs = []WebhookLog{}
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"payment_id": id,
		"logs":       logs,
	})
}
