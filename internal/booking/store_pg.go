package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/metisconnect/metis-backend/internal/model"
	"github.com/metisconnect/metis-backend/internal/outbox"
	"github.com/metisconnect/metis-backend/internal/storage"
	"github.com/metisconnect/metis-backend/libs/db"
)

// PGStore implements Store on PostgreSQL. The overlap check, the insert, and
// the outbox write share one transaction; a concurrent create for the same
// window blocks on the range lock and then fails.
type PGStore struct {
	pool       *db.Pool
	appts      *storage.AppointmentRepository
	outboxRepo *outbox.Repository
}

func NewPGStore(pool *db.Pool, appts *storage.AppointmentRepository, outboxRepo *outbox.Repository) *PGStore {
	return &PGStore{pool: pool, appts: appts, outboxRepo: outboxRepo}
}

func (s *PGStore) CreateAppointment(ctx context.Context, appt *model.Appointment, buildEvents func(id string) []outbox.Event) (string, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	id, err := s.appts.InsertIfFree(ctx, tx, appt)
	if err != nil {
		if errors.Is(err, storage.ErrOverlap) {
			return "", ErrSlotUnavailable
		}
		return "", err
	}

	for _, evt := range buildEvents(id) {
		if err := s.outboxRepo.Insert(ctx, tx, evt); err != nil {
			return "", fmt.Errorf("outbox insert: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	return id, nil
}

func (s *PGStore) GetAppointment(ctx context.Context, id string) (model.Appointment, error) {
	appt, err := s.appts.Get(ctx, id)
	if err != nil {
		if storage.IsNotFound(err) {
			return model.Appointment{}, ErrNotFound
		}
		return model.Appointment{}, err
	}
	return appt, nil
}

func (s *PGStore) ListAppointments(ctx context.Context, limit int) ([]model.Appointment, error) {
	return s.appts.List(ctx, limit)
}

func (s *PGStore) FindUpcomingByPhone(ctx context.Context, phone string) (model.Appointment, error) {
	appt, err := s.appts.FindUpcomingByPhone(ctx, phone, time.Now())
	if err != nil {
		if storage.IsNotFound(err) {
			return model.Appointment{}, ErrNotFound
		}
		return model.Appointment{}, err
	}
	return appt, nil
}

func (s *PGStore) TransitionStatus(ctx context.Context, id string, to model.Status, buildEvents func(model.Appointment) []outbox.Event) (model.Appointment, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return model.Appointment{}, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	current, err := s.appts.GetForUpdate(ctx, tx, id)
	if err != nil {
		if storage.IsNotFound(err) {
			return model.Appointment{}, ErrNotFound
		}
		return model.Appointment{}, err
	}
	if !model.CanTransition(current.Status, to) {
		return model.Appointment{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, to)
	}

	if err := s.appts.UpdateStatus(ctx, tx, id, to); err != nil {
		return model.Appointment{}, err
	}
	if buildEvents != nil {
		for _, evt := range buildEvents(current) {
			if err := s.outboxRepo.Insert(ctx, tx, evt); err != nil {
				return model.Appointment{}, fmt.Errorf("outbox insert: %w", err)
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return model.Appointment{}, fmt.Errorf("commit: %w", err)
	}
	current.Status = to
	return current, nil
}
