package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/metisconnect/metis-backend/internal/availability"
	"github.com/metisconnect/metis-backend/internal/model"
	"github.com/metisconnect/metis-backend/internal/outbox"
)

var (
	ErrValidation        = errors.New("invalid booking request")
	ErrSlotUnavailable   = errors.New("requested slot is not available")
	ErrNotFound          = errors.New("appointment not found")
	ErrInvalidTransition = errors.New("status transition not allowed")
)

// Store is the durable appointment record. Implementations guarantee that
// CreateAppointment's overlap check and insert are one atomic unit, and that
// TransitionStatus loads, checks, and updates under the same lock.
type Store interface {
	// CreateAppointment persists the appointment and the outbox events built
	// from the assigned id in one transaction. Returns ErrSlotUnavailable
	// when the window collides with a non-cancelled appointment.
	CreateAppointment(ctx context.Context, appt *model.Appointment, buildEvents func(id string) []outbox.Event) (string, error)
	GetAppointment(ctx context.Context, id string) (model.Appointment, error)
	ListAppointments(ctx context.Context, limit int) ([]model.Appointment, error)
	// TransitionStatus moves the appointment to a new status, enforcing the
	// state machine, and writes the events built from the pre-transition row.
	// Returns ErrNotFound or ErrInvalidTransition.
	TransitionStatus(ctx context.Context, id string, to model.Status, buildEvents func(model.Appointment) []outbox.Event) (model.Appointment, error)
	// FindUpcomingByPhone returns the customer's next pending or confirmed
	// appointment, or ErrNotFound.
	FindUpcomingByPhone(ctx context.Context, phone string) (model.Appointment, error)
}

// CalendarWriter mirrors committed bookings onto the external calendar.
type CalendarWriter interface {
	CreateEvent(ctx context.Context, appt model.Appointment) error
	DeleteEvent(ctx context.Context, appt model.Appointment) error
}

type Service struct {
	store    Store
	slots    *availability.Calculator
	calendar CalendarWriter
	logger   *slog.Logger
}

func NewService(store Store, slots *availability.Calculator, calendar CalendarWriter, logger *slog.Logger) *Service {
	return &Service{store: store, slots: slots, calendar: calendar, logger: logger}
}

// Create validates the candidate booking, recomputes availability over the
// requested window, and persists the appointment in pending state together
// with its booked event. Confirmation messaging and calendar mirroring are
// best-effort and never fail the booking.
//
// degraded reports that the availability check ran without the external
// calendar.
func (s *Service) Create(ctx context.Context, appt *model.Appointment) (model.Appointment, bool, error) {
	if appt.DurationMinutes == 0 {
		appt.DurationMinutes = model.DefaultDurationMinutes
	}
	if err := appt.Validate(); err != nil {
		return model.Appointment{}, false, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	duration := time.Duration(appt.DurationMinutes) * time.Minute
	slots, degraded, err := s.slots.Slots(ctx, appt.StartTime, appt.EndTime(), duration)
	if err != nil {
		if errors.Is(err, availability.ErrInvalidRange) {
			return model.Appointment{}, degraded, fmt.Errorf("%w: %v", ErrValidation, err)
		}
		return model.Appointment{}, degraded, err
	}
	if !covered(slots, appt.StartTime) {
		return model.Appointment{}, degraded, ErrSlotUnavailable
	}

	appt.Status = model.StatusPending
	id, err := s.store.CreateAppointment(ctx, appt, func(id string) []outbox.Event {
		withID := *appt
		withID.ID = id
		payload, err := appointmentPayload(withID)
		if err != nil {
			s.logger.Error("failed to build booked payload", "appointment_id", id, "err", err)
			return nil
		}
		return []outbox.Event{{
			AggregateType: "appointment",
			AggregateID:   id,
			EventType:     outbox.EventAppointmentBooked,
			Payload:       payload,
		}}
	})
	if err != nil {
		return model.Appointment{}, degraded, err
	}
	appt.ID = id

	s.mirrorToCalendar(*appt)

	// The booking is committed at this point; if the read-back fails, answer
	// from what we wrote rather than reporting an error for a stored booking.
	created, err := s.store.GetAppointment(ctx, id)
	if err != nil {
		s.logger.Warn("read-back after create failed", "appointment_id", id, "err", err)
		return *appt, degraded, nil
	}
	return created, degraded, nil
}

// SetStatus applies an explicit status transition. Moving to cancelled emits
// the cancellation event for the notifier.
func (s *Service) SetStatus(ctx context.Context, id string, to model.Status) (model.Appointment, error) {
	appt, err := s.store.TransitionStatus(ctx, id, to, func(current model.Appointment) []outbox.Event {
		if to != model.StatusCancelled {
			return nil
		}
		payload, err := appointmentPayload(current)
		if err != nil {
			s.logger.Error("failed to build cancellation payload", "appointment_id", current.ID, "err", err)
			return nil
		}
		return []outbox.Event{{
			AggregateType: "appointment",
			AggregateID:   current.ID,
			EventType:     outbox.EventAppointmentCancelled,
			Payload:       payload,
		}}
	})
	if err != nil {
		return model.Appointment{}, err
	}
	if to == model.StatusCancelled {
		s.removeFromCalendar(appt)
	}
	return appt, nil
}

// Cancel is the soft-delete operation: a cancellation is a status transition,
// history is preserved.
func (s *Service) Cancel(ctx context.Context, id string) (model.Appointment, error) {
	return s.SetStatus(ctx, id, model.StatusCancelled)
}

// CancelNextByPhone cancels the customer's next upcoming appointment. Used
// by the chatbot, where the phone number is the only identity available.
func (s *Service) CancelNextByPhone(ctx context.Context, phone string) (model.Appointment, error) {
	appt, err := s.store.FindUpcomingByPhone(ctx, phone)
	if err != nil {
		return model.Appointment{}, err
	}
	return s.Cancel(ctx, appt.ID)
}

func (s *Service) Get(ctx context.Context, id string) (model.Appointment, error) {
	return s.store.GetAppointment(ctx, id)
}

func (s *Service) List(ctx context.Context, limit int) ([]model.Appointment, error) {
	return s.store.ListAppointments(ctx, limit)
}

// Slots exposes the availability calculator for the read-only endpoint.
func (s *Service) Slots(ctx context.Context, start, end time.Time, duration time.Duration) ([]availability.Slot, bool, error) {
	return s.slots.Slots(ctx, start, end, duration)
}

func (s *Service) mirrorToCalendar(appt model.Appointment) {
	if s.calendar == nil {
		return
	}
	// The booking has already committed; run detached from the request so a
	// slow calendar cannot fail or delay the response.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.calendar.CreateEvent(ctx, appt); err != nil {
			s.logger.Warn("calendar event creation failed", "appointment_id", appt.ID, "err", err)
		}
	}()
}

func (s *Service) removeFromCalendar(appt model.Appointment) {
	if s.calendar == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.calendar.DeleteEvent(ctx, appt); err != nil {
			s.logger.Warn("calendar event removal failed", "appointment_id", appt.ID, "err", err)
		}
	}()
}

func covered(slots []availability.Slot, start time.Time) bool {
	for _, slot := range slots {
		if slot.Available && !start.Before(slot.Start) && start.Before(slot.End) {
			return true
		}
	}
	return false
}

// AppointmentEvent is the payload carried on booked/cancelled/reminder
// events.
type AppointmentEvent struct {
	AppointmentID   string `json:"appointment_id"`
	CustomerName    string `json:"customer_name"`
	CustomerPhone   string `json:"customer_phone"`
	Service         string `json:"service"`
	StartTime       string `json:"start_time"`
	DurationMinutes int    `json:"duration_minutes"`
	PriceCents      int64  `json:"price_cents"`
	Status          string `json:"status"`
}

func appointmentPayload(appt model.Appointment) ([]byte, error) {
	return json.Marshal(AppointmentEvent{
		AppointmentID:   appt.ID,
		CustomerName:    appt.CustomerName,
		CustomerPhone:   appt.CustomerPhone,
		Service:         string(appt.Service),
		StartTime:       appt.StartTime.UTC().Format(time.RFC3339),
		DurationMinutes: appt.DurationMinutes,
		PriceCents:      appt.PriceCents,
		Status:          string(appt.Status),
	})
}

// EventToAppointment rebuilds the fields the notifier needs from an event
// payload.
func EventToAppointment(payload []byte) (model.Appointment, error) {
	var evt AppointmentEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		return model.Appointment{}, err
	}
	start, err := time.Parse(time.RFC3339, evt.StartTime)
	if err != nil {
		return model.Appointment{}, fmt.Errorf("bad start_time in event: %w", err)
	}
	return model.Appointment{
		ID:              evt.AppointmentID,
		CustomerName:    evt.CustomerName,
		CustomerPhone:   evt.CustomerPhone,
		Service:         model.Service(evt.Service),
		StartTime:       start,
		DurationMinutes: evt.DurationMinutes,
		PriceCents:      evt.PriceCents,
		Status:          model.Status(evt.Status),
	}, nil
}
