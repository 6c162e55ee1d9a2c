package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/metisconnect/metis-backend/internal/booking"
	"github.com/metisconnect/metis-backend/internal/model"
	"github.com/metisconnect/metis-backend/internal/payments"
)

// PaymentService is the slice of the payments service the HTTP layer uses.
type PaymentService interface {
	CreateSession(ctx context.Context, appt model.Appointment, successURL, cancelURL string) (payments.Session, error)
	Status(ctx context.Context, appointmentID string) (model.Payment, error)
	HandleWebhook(ctx context.Context, payload []byte, sigHeader string) error
	Refund(ctx context.Context, paymentIntentID string, amountCents *int64) (bool, error)
}

type PaymentHandler struct {
	booking    BookingService
	payments   PaymentService
	successURL string
	cancelURL  string
	logger     *slog.Logger
}

func NewPaymentHandler(bookingSvc BookingService, paymentSvc PaymentService, successURL, cancelURL string, logger *slog.Logger) *PaymentHandler {
	return &PaymentHandler{
		booking:    bookingSvc,
		payments:   paymentSvc,
		successURL: successURL,
		cancelURL:  cancelURL,
		logger:     logger,
	}
}

type checkoutResponse struct {
	SessionID   string `json:"session_id"`
	CheckoutURL string `json:"checkout_url"`
	PaymentID   string `json:"payment_id"`
}

// CreateSession starts a Stripe Checkout session for an appointment flagged
// for prepayment.
func (h *PaymentHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	appt, err := h.booking.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, booking.ErrNotFound) {
			http.Error(w, "appointment not found", http.StatusNotFound)
			return
		}
		h.logger.Error("appointment lookup failed", "err", err)
		http.Error(w, "failed to load appointment", http.StatusInternalServerError)
		return
	}

	session, err := h.payments.CreateSession(r.Context(), appt, h.successURL, h.cancelURL)
	if err != nil {
		var provErr *payments.ProviderError
		switch {
		case errors.Is(err, payments.ErrPrepaymentNotRequired):
			http.Error(w, "appointment does not require prepayment", http.StatusBadRequest)
		case errors.As(err, &provErr):
			h.logger.Error("checkout session failed", "appointment_id", appt.ID, "err", err)
			http.Error(w, "payment provider unavailable", http.StatusBadGateway)
		default:
			h.logger.Error("checkout session failed", "appointment_id", appt.ID, "err", err)
			http.Error(w, "failed to create checkout session", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(checkoutResponse{
		SessionID:   session.SessionID,
		CheckoutURL: session.CheckoutURL,
		PaymentID:   session.PaymentID,
	})
}

type paymentStatusResponse struct {
	PaymentID   string `json:"payment_id"`
	Status      string `json:"status"`
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
	SessionID   string `json:"session_id,omitempty"`
	PaidAt      string `json:"paid_at,omitempty"`
}

// GetStatus reports the prepayment state of an appointment, so the frontend
// can poll after redirecting the customer to Stripe.
func (h *PaymentHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	p, err := h.payments.Status(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, payments.ErrUnknownReference) {
			http.Error(w, "no payment for appointment", http.StatusNotFound)
			return
		}
		h.logger.Error("payment lookup failed", "err", err)
		http.Error(w, "failed to load payment", http.StatusInternalServerError)
		return
	}

	resp := paymentStatusResponse{
		PaymentID:   p.ID,
		Status:      string(p.Status),
		AmountCents: p.AmountCents,
		Currency:    p.Currency,
		SessionID:   p.SessionID,
	}
	if p.PaidAt != nil {
		resp.PaidAt = p.PaidAt.UTC().Format(time.RFC3339)
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

type refundRequest struct {
	PaymentIntentID string `json:"payment_intent_id"`
	AmountCents     *int64 `json:"amount_cents,omitempty"`
}

type refundResponse struct {
	Refunded bool `json:"refunded"`
}

// Refund reverses a payment, fully or partially. Admin only.
func (h *PaymentHandler) Refund(w http.ResponseWriter, r *http.Request) {
	var req refundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.PaymentIntentID == "" {
		http.Error(w, "payment_intent_id is required", http.StatusBadRequest)
		return
	}
	if req.AmountCents != nil && *req.AmountCents <= 0 {
		http.Error(w, "amount_cents must be positive", http.StatusBadRequest)
		return
	}

	refunded, err := h.payments.Refund(r.Context(), req.PaymentIntentID, req.AmountCents)
	if err != nil {
		var provErr *payments.ProviderError
		if errors.As(err, &provErr) {
			h.logger.Error("refund failed", "intent_id", req.PaymentIntentID, "err", err)
			http.Error(w, "payment provider unavailable", http.StatusBadGateway)
			return
		}
		h.logger.Error("refund failed", "intent_id", req.PaymentIntentID, "err", err)
		http.Error(w, "refund failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(refundResponse{Refunded: refunded})
}

// Webhook receives Stripe events. Anything past signature and payload
// validation is acknowledged with 200 so Stripe does not retry; the service
// layer handles replays and unknown references internally.
func (h *PaymentHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "failed to read payload", http.StatusBadRequest)
		return
	}

	err = h.payments.HandleWebhook(r.Context(), payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		switch {
		case errors.Is(err, payments.ErrInvalidSignature):
			http.Error(w, "invalid signature", http.StatusBadRequest)
		case errors.Is(err, payments.ErrMalformedPayload):
			http.Error(w, "malformed payload", http.StatusBadRequest)
		default:
			h.logger.Error("webhook processing failed", "err", err)
			http.Error(w, "webhook processing failed", http.StatusInternalServerError)
		}
		return
	}
	w.WriteHeader(http.StatusOK)
}
