package httpx

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jcmexdev/storefront/internal/api/httpx/middlewares"
	payapp "github.com/jcmexdev/storefront/internal/payment/app"
)

func (h *Handler) InitPayment(w http.ResponseWriter, r *http.Request) {
	var req InitPaymentRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	session, err := h.payments.InitializeSession(r.Context(), payapp.InitRequest{
		OrderID: req.OrderID,
		Amount:  req.Amount,
		Email:   req.Email,
		Name:    req.Name,
		Phone:   req.Phone,
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (h *Handler) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	res, err := h.payments.Verify(r.Context(), chi.URLParam(r, "reference"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// PaystackWebhook reads the body exactly once, as bytes, and hands it to the
// reconciler together with the signature header. Nothing decodes the body
// before the signature is checked.
func (h *Handler) PaystackWebhook(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxWebhookBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "body_too_large", err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, "unreadable_body", err.Error())
		return
	}

	outcome, err := h.webhooks.HandleNotification(r.Context(), raw, r.Header.Get(middlewares.HeaderXPaystackSignature))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	slog.InfoContext(r.Context(), "webhook handled", "outcome", outcome)
	writeJSON(w, http.StatusOK, WebhookResponse{Status: string(outcome)})
}
