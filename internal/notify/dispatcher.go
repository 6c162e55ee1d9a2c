package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/metisconnect/metis-backend/internal/model"
	"github.com/metisconnect/metis-backend/internal/storage"
)

// Recorder persists the outcome of a delivery attempt.
type Recorder interface {
	Insert(ctx context.Context, n storage.Notification) (string, error)
}

// Dispatcher renders a message for an appointment and hands it to the
// messaging transport. Failures are logged and recorded, never propagated:
// a booking must not fail because a WhatsApp message could not be sent.
type Dispatcher struct {
	transport Transport
	recorder  Recorder
	logger    *slog.Logger
	timeout   time.Duration
}

func NewDispatcher(transport Transport, recorder Recorder, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		transport: transport,
		recorder:  recorder,
		logger:    logger,
		timeout:   10 * time.Second,
	}
}

// Dispatch returns whether the message was delivered.
func (d *Dispatcher) Dispatch(ctx context.Context, appt model.Appointment, kind Kind) bool {
	rec := storage.Notification{
		AppointmentID: appt.ID,
		Kind:          string(kind),
	}

	canonical, err := NormalizePhone(appt.CustomerPhone)
	if err != nil {
		d.fail(ctx, rec, "invalid recipient phone", err)
		return false
	}
	rec.Recipient = WhatsAppAddress(canonical)

	body, err := Render(kind, appt)
	if err != nil {
		d.fail(ctx, rec, "template rendering failed", err)
		return false
	}
	rec.Body = body

	sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	if err := d.transport.Send(sendCtx, rec.Recipient, body); err != nil {
		d.fail(ctx, rec, "message delivery failed", err)
		return false
	}

	rec.Delivered = true
	d.record(ctx, rec)
	return true
}

func (d *Dispatcher) fail(ctx context.Context, rec storage.Notification, msg string, err error) {
	d.logger.Warn(msg, "appointment_id", rec.AppointmentID, "kind", rec.Kind, "err", err)
	rec.Error = err.Error()
	d.record(ctx, rec)
}

func (d *Dispatcher) record(ctx context.Context, rec storage.Notification) {
	if d.recorder == nil {
		return
	}
	if _, err := d.recorder.Insert(ctx, rec); err != nil {
		d.logger.Error("failed to record notification attempt", "appointment_id", rec.AppointmentID, "err", err)
	}
}
