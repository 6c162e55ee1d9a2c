package reminder

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/metisconnect/metis-backend/internal/booking"
	"github.com/metisconnect/metis-backend/internal/model"
	"github.com/metisconnect/metis-backend/internal/outbox"
	"github.com/metisconnect/metis-backend/internal/storage"
	"github.com/metisconnect/metis-backend/libs/db"
)

// Worker sweeps for appointments starting within the lead window whose
// reminder has not gone out yet, emits a reminder event for each, and marks
// them in the same transaction. Rows are locked with SKIP LOCKED so multiple
// instances can sweep concurrently without double-sending.
type Worker struct {
	pool      *db.Pool
	appts     *storage.AppointmentRepository
	outbox    *outbox.Repository
	logger    *slog.Logger
	lead      time.Duration
	interval  time.Duration
	batchSize int
	now       func() time.Time
}

type Config struct {
	// Lead is how far before the appointment the reminder goes out.
	Lead      time.Duration
	Interval  time.Duration
	BatchSize int
}

func NewWorker(pool *db.Pool, appts *storage.AppointmentRepository, outboxRepo *outbox.Repository, logger *slog.Logger, cfg Config) *Worker {
	if cfg.Lead <= 0 {
		cfg.Lead = 24 * time.Hour
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &Worker{
		pool:      pool,
		appts:     appts,
		outbox:    outboxRepo,
		logger:    logger,
		lead:      cfg.Lead,
		interval:  cfg.Interval,
		batchSize: cfg.BatchSize,
		now:       time.Now,
	}
}

func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.sweep(ctx); err != nil {
				w.logger.Error("reminder sweep failed", "err", err)
			}
		}
	}
}

func (w *Worker) sweep(ctx context.Context) error {
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := w.now().UTC()
	due, err := w.appts.DueReminders(ctx, tx, now, now.Add(w.lead), w.batchSize)
	if err != nil {
		return err
	}
	if len(due) == 0 {
		return tx.Commit(ctx)
	}

	var ids []string
	for _, appt := range due {
		payload, err := reminderPayload(appt)
		if err != nil {
			w.logger.Error("failed to build reminder payload", "appointment_id", appt.ID, "err", err)
			continue
		}
		if err := w.outbox.Insert(ctx, tx, outbox.Event{
			AggregateType: "appointment",
			AggregateID:   appt.ID,
			EventType:     outbox.EventReminderDue,
			Payload:       payload,
		}); err != nil {
			return err
		}
		ids = append(ids, appt.ID)
	}

	if err := w.appts.MarkReminderSent(ctx, tx, ids); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}

	w.logger.Info("reminders emitted", "count", len(ids))
	return nil
}

func reminderPayload(appt model.Appointment) ([]byte, error) {
	return json.Marshal(booking.AppointmentEvent{
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
