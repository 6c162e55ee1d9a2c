package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/metisconnect/metis-backend/internal/model"
	"github.com/metisconnect/metis-backend/internal/outbox"
	"github.com/metisconnect/metis-backend/internal/storage"
	"github.com/metisconnect/metis-backend/libs/db"
)

// PGStore implements Store on PostgreSQL. ApplyOutcome runs the dedupe
// insert, the payment update, and the appointment confirmation in one
// transaction, so a replayed event either changes everything or nothing.
type PGStore struct {
	pool           *db.Pool
	payments       *storage.PaymentRepository
	appts          *storage.AppointmentRepository
	providerEvents *storage.ProviderEventRepository
	outboxRepo     *outbox.Repository
}

func NewPGStore(pool *db.Pool, payments *storage.PaymentRepository, appts *storage.AppointmentRepository,
	providerEvents *storage.ProviderEventRepository, outboxRepo *outbox.Repository) *PGStore {
	return &PGStore{
		pool:           pool,
		payments:       payments,
		appts:          appts,
		providerEvents: providerEvents,
		outboxRepo:     outboxRepo,
	}
}

func (s *PGStore) InsertPayment(ctx context.Context, p *model.Payment) (string, error) {
	return s.payments.Insert(ctx, p)
}

func (s *PGStore) GetByAppointment(ctx context.Context, appointmentID string) (model.Payment, error) {
	p, err := s.payments.GetByAppointment(ctx, appointmentID)
	if storage.IsNotFound(err) {
		return model.Payment{}, ErrUnknownReference
	}
	return p, err
}

func (s *PGStore) ApplyOutcome(ctx context.Context, eventID, eventType string, rawPayload []byte, outcome *Outcome) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	err = s.providerEvents.Insert(ctx, tx, storage.ProviderEvent{
		Provider:        "stripe",
		ProviderEventID: eventID,
		EventType:       eventType,
		Payload:         rawPayload,
	})
	if err != nil {
		if errors.Is(err, storage.ErrDuplicateProviderEvent) {
			return false, nil
		}
		return false, err
	}

	if outcome == nil {
		// Event kind outside our taxonomy: recorded for audit, nothing else.
		return true, tx.Commit(ctx)
	}

	payment, err := s.payments.GetByReferenceForUpdate(ctx, tx, outcome.SessionID, outcome.IntentID)
	if err != nil {
		if storage.IsNotFound(err) {
			// Record the event anyway so a replay stays idempotent.
			if commitErr := tx.Commit(ctx); commitErr != nil {
				return false, commitErr
			}
			return false, ErrUnknownReference
		}
		return false, err
	}

	if !outcome.Paid {
		// A failed prepayment does not cancel the appointment; a human or a
		// separate timeout policy decides that.
		if err := s.payments.MarkFailed(ctx, tx, payment.ID); err != nil {
			return false, err
		}
		return true, tx.Commit(ctx)
	}

	if err := s.payments.MarkCompleted(ctx, tx, payment.ID, outcome.IntentID, outcome.PaidAt); err != nil {
		return false, err
	}

	appt, err := s.appts.GetForUpdate(ctx, tx, payment.AppointmentID)
	if err != nil && !storage.IsNotFound(err) {
		return false, err
	}
	if err == nil && appt.Status == model.StatusPending {
		if err := s.appts.UpdateStatus(ctx, tx, appt.ID, model.StatusConfirmed); err != nil {
			return false, err
		}
	}

	payload, err := paymentEventPayload(payment, outcome)
	if err != nil {
		return false, err
	}
	if err := s.outboxRepo.Insert(ctx, tx, outbox.Event{
		AggregateType: "payment",
		AggregateID:   payment.ID,
		EventType:     outbox.EventPaymentCompleted,
		Payload:       payload,
	}); err != nil {
		return false, err
	}

	return true, tx.Commit(ctx)
}

func (s *PGStore) MarkRefunded(ctx context.Context, intentID string) error {
	err := s.payments.MarkRefundedByIntent(ctx, intentID)
	if storage.IsNotFound(err) {
		return ErrUnknownReference
	}
	return err
}

func paymentEventPayload(payment model.Payment, outcome *Outcome) ([]byte, error) {
	return json.Marshal(map[string]any{
		"payment_id":     payment.ID,
		"appointment_id": payment.AppointmentID,
		"amount_cents":   payment.AmountCents,
		"currency":       payment.Currency,
		"paid_at":        outcome.PaidAt.UTC().Format(time.RFC3339),
	})
}
