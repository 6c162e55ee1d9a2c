package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/metisconnect/metis-backend/internal/availability"
	"github.com/metisconnect/metis-backend/internal/booking"
	"github.com/metisconnect/metis-backend/internal/model"
)

// BookingService is the slice of the booking service the HTTP layer uses.
type BookingService interface {
	Create(ctx context.Context, appt *model.Appointment) (model.Appointment, bool, error)
	Get(ctx context.Context, id string) (model.Appointment, error)
	List(ctx context.Context, limit int) ([]model.Appointment, error)
	SetStatus(ctx context.Context, id string, to model.Status) (model.Appointment, error)
	Cancel(ctx context.Context, id string) (model.Appointment, error)
	Slots(ctx context.Context, start, end time.Time, duration time.Duration) ([]availability.Slot, bool, error)
}

type AppointmentHandler struct {
	svc    BookingService
	logger *slog.Logger
}

func NewAppointmentHandler(svc BookingService, logger *slog.Logger) *AppointmentHandler {
	return &AppointmentHandler{svc: svc, logger: logger}
}

type createAppointmentRequest struct {
	CustomerName       string `json:"customer_name"`
	CustomerPhone      string `json:"customer_phone"`
	CustomerEmail      string `json:"customer_email"`
	Service            string `json:"service"`
	StartTime          string `json:"start_time"`
	DurationMinutes    int    `json:"duration_minutes"`
	PriceCents         int64  `json:"price_cents"`
	Notes              string `json:"notes"`
	RequiresPrepayment bool   `json:"requires_prepayment"`
}

type appointmentResponse struct {
	ID                 string `json:"id"`
	CustomerName       string `json:"customer_name"`
	CustomerPhone      string `json:"customer_phone"`
	CustomerEmail      string `json:"customer_email,omitempty"`
	Service            string `json:"service"`
	StartTime          string `json:"start_time"`
	EndTime            string `json:"end_time"`
	DurationMinutes    int    `json:"duration_minutes"`
	PriceCents         int64  `json:"price_cents"`
	Notes              string `json:"notes,omitempty"`
	RequiresPrepayment bool   `json:"requires_prepayment"`
	ReminderSent       bool   `json:"reminder_sent"`
	Status             string `json:"status"`
	CreatedAt          string `json:"created_at"`
}

type createAppointmentResponse struct {
	appointmentResponse
	CalendarDegraded bool `json:"calendar_degraded,omitempty"`
}

type slotItem struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Available bool   `json:"available"`
}

type availabilityResponse struct {
	Slots            []slotItem `json:"slots"`
	CalendarDegraded bool       `json:"calendar_degraded,omitempty"`
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

func (h *AppointmentHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	service, err := model.ParseService(strings.TrimSpace(req.Service))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	startTime, err := time.Parse(time.RFC3339, req.StartTime)
	if err != nil {
		http.Error(w, "invalid start_time", http.StatusBadRequest)
		return
	}

	appt := &model.Appointment{
		CustomerName:       strings.TrimSpace(req.CustomerName),
		CustomerPhone:      strings.TrimSpace(req.CustomerPhone),
		CustomerEmail:      strings.TrimSpace(req.CustomerEmail),
		Service:            service,
		StartTime:          startTime,
		DurationMinutes:    req.DurationMinutes,
		PriceCents:         req.PriceCents,
		Notes:              strings.TrimSpace(req.Notes),
		RequiresPrepayment: req.RequiresPrepayment,
	}

	created, degraded, err := h.svc.Create(r.Context(), appt)
	if err != nil {
		switch {
		case errors.Is(err, booking.ErrValidation):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, booking.ErrSlotUnavailable):
			http.Error(w, "requested slot is not available", http.StatusBadRequest)
		default:
			h.logger.Error("appointment create failed", "err", err)
			http.Error(w, "failed to create appointment", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(createAppointmentResponse{
		appointmentResponse: toResponse(created),
		CalendarDegraded:    degraded,
	})
}

func (h *AppointmentHandler) Get(w http.ResponseWriter, r *http.Request) {
	appt, err := h.svc.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, booking.ErrNotFound) {
			http.Error(w, "appointment not found", http.StatusNotFound)
			return
		}
		h.logger.Error("appointment lookup failed", "err", err)
		http.Error(w, "failed to load appointment", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(appt))
}

func (h *AppointmentHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	appts, err := h.svc.List(r.Context(), limit)
	if err != nil {
		h.logger.Error("appointment list failed", "err", err)
		http.Error(w, "failed to list appointments", http.StatusInternalServerError)
		return
	}

	items := make([]appointmentResponse, 0, len(appts))
	for _, appt := range appts {
		items = append(items, toResponse(appt))
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *AppointmentHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	status, err := model.ParseStatus(strings.TrimSpace(req.Status))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	appt, err := h.svc.SetStatus(r.Context(), r.PathValue("id"), status)
	if err != nil {
		switch {
		case errors.Is(err, booking.ErrNotFound):
			http.Error(w, "appointment not found", http.StatusNotFound)
		case errors.Is(err, booking.ErrInvalidTransition):
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			h.logger.Error("status update failed", "err", err)
			http.Error(w, "failed to update status", http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, http.StatusOK, toResponse(appt))
}

// Cancel handles DELETE. The row is kept, the status moves to cancelled.
func (h *AppointmentHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	appt, err := h.svc.Cancel(r.Context(), r.PathValue("id"))
	if err != nil {
		switch {
		case errors.Is(err, booking.ErrNotFound):
			http.Error(w, "appointment not found", http.StatusNotFound)
		case errors.Is(err, booking.ErrInvalidTransition):
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			h.logger.Error("cancel failed", "err", err)
			http.Error(w, "failed to cancel appointment", http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, http.StatusOK, toResponse(appt))
}

func (h *AppointmentHandler) Availability(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, err := time.Parse(time.RFC3339, q.Get("start"))
	if err != nil {
		http.Error(w, "invalid start", http.StatusBadRequest)
		return
	}
	end, err := time.Parse(time.RFC3339, q.Get("end"))
	if err != nil {
		http.Error(w, "invalid end", http.StatusBadRequest)
		return
	}
	// "duration" is the documented parameter; "duration_minutes" is kept for
	// callers that mirror the create body field.
	raw := strings.TrimSpace(q.Get("duration"))
	if raw == "" {
		raw = strings.TrimSpace(q.Get("duration_minutes"))
	}
	durationMins := model.DefaultDurationMinutes
	if raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			http.Error(w, "invalid duration", http.StatusBadRequest)
			return
		}
		durationMins = n
	}

	slots, degraded, err := h.svc.Slots(r.Context(), start, end, time.Duration(durationMins)*time.Minute)
	if err != nil {
		if errors.Is(err, availability.ErrInvalidRange) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.logger.Error("availability lookup failed", "err", err)
		http.Error(w, "failed to compute availability", http.StatusInternalServerError)
		return
	}

	items := make([]slotItem, 0, len(slots))
	for _, slot := range slots {
		items = append(items, slotItem{
			StartTime: slot.Start.UTC().Format(time.RFC3339),
			EndTime:   slot.End.UTC().Format(time.RFC3339),
			Available: slot.Available,
		})
	}
	writeJSON(w, http.StatusOK, availabilityResponse{Slots: items, CalendarDegraded: degraded})
}

func toResponse(appt model.Appointment) appointmentResponse {
	return appointmentResponse{
		ID:                 appt.ID,
		CustomerName:       appt.CustomerName,
		CustomerPhone:      appt.CustomerPhone,
		CustomerEmail:      appt.CustomerEmail,
		Service:            string(appt.Service),
		StartTime:          appt.StartTime.UTC().Format(time.RFC3339),
		EndTime:            appt.EndTime().UTC().Format(time.RFC3339),
		DurationMinutes:    appt.DurationMinutes,
		PriceCents:         appt.PriceCents,
		Notes:              appt.Notes,
		RequiresPrepayment: appt.RequiresPrepayment,
		ReminderSent:       appt.ReminderSent,
		Status:             string(appt.Status),
		CreatedAt:          appt.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
