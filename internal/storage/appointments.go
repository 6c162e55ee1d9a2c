package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/metisconnect/metis-backend/internal/availability"
	"github.com/metisconnect/metis-backend/internal/model"
	"github.com/metisconnect/metis-backend/libs/db"
)

// ErrOverlap is returned when an insert would collide with a non-cancelled
// appointment window.
var ErrOverlap = errors.New("appointment window overlaps an existing booking")

type AppointmentRepository struct {
	pool *db.Pool
}

func NewAppointmentRepository(pool *db.Pool) *AppointmentRepository {
	return &AppointmentRepository{pool: pool}
}

// InsertIfFree locks the overlapping non-cancelled rows and inserts the
// appointment only when none exist. The exclusion constraint on the table is
// the backstop; IsConflict maps its violation.
func (r *AppointmentRepository) InsertIfFree(ctx context.Context, tx pgx.Tx, appt *model.Appointment) (string, error) {
	rows, err := tx.Query(ctx, `
		SELECT id
		FROM appointments
		WHERE status <> 'cancelled'
			AND start_time < $2
			AND end_time > $1
		FOR UPDATE
	`, appt.StartTime, appt.EndTime())
	if err != nil {
		return "", err
	}
	taken := rows.Next()
	rows.Close()
	if err := rows.Err(); err != nil {
		return "", err
	}
	if taken {
		return "", ErrOverlap
	}

	var id string
	err = tx.QueryRow(ctx, `
		INSERT INTO appointments
			(customer_name, customer_phone, customer_email, service, start_time, duration_minutes,
			end_time, price_cents, notes, requires_prepayment, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
	`, appt.CustomerName, appt.CustomerPhone, appt.CustomerEmail, appt.Service, appt.StartTime,
		appt.DurationMinutes, appt.EndTime(), appt.PriceCents, appt.Notes, appt.RequiresPrepayment,
		appt.Status).Scan(&id)
	if err != nil {
		if IsConflict(err) {
			return "", ErrOverlap
		}
		return "", err
	}
	return id, nil
}

const appointmentColumns = `
	id, customer_name, customer_phone, COALESCE(customer_email, ''), service, start_time,
	duration_minutes, price_cents, COALESCE(notes, ''), requires_prepayment,
	reminder_sent, reminder_sent_at, status, created_at`

func (r *AppointmentRepository) Get(ctx context.Context, id string) (model.Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *AppointmentRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (model.Appointment, error) {
	row := tx.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
		FOR UPDATE
	`, id)
	return scanAppointment(row)
}

func (r *AppointmentRepository) UpdateStatus(ctx context.Context, tx pgx.Tx, id string, status model.Status) error {
	tag, err := tx.Exec(ctx, `
		UPDATE appointments
		SET status = $2
		WHERE id = $1
	`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *AppointmentRepository) List(ctx context.Context, limit int) ([]model.Appointment, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		ORDER BY start_time DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var appts []model.Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, appt)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return appts, nil
}

// ListActiveIntervals returns the windows of non-cancelled appointments that
// overlap [start, end). It satisfies the availability calculator's source
// contract.
func (r *AppointmentRepository) ListActiveIntervals(ctx context.Context, start, end time.Time) ([]availability.Interval, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT start_time, end_time
		FROM appointments
		WHERE status <> 'cancelled'
			AND start_time < $2
			AND end_time > $1
		ORDER BY start_time ASC
	`, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var intervals []availability.Interval
	for rows.Next() {
		var iv availability.Interval
		if err := rows.Scan(&iv.Start, &iv.End); err != nil {
			return nil, err
		}
		intervals = append(intervals, iv)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return intervals, nil
}

// FindUpcomingByPhone returns the customer's next pending or confirmed
// appointment starting after now.
func (r *AppointmentRepository) FindUpcomingByPhone(ctx context.Context, phone string, now time.Time) (model.Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE customer_phone = $1
			AND status IN ('pending', 'confirmed')
			AND start_time > $2
		ORDER BY start_time ASC
		LIMIT 1
	`, phone, now)
	return scanAppointment(row)
}

// DueReminders locks the appointments whose reminder should go out now:
// pending or confirmed, not yet reminded, starting within (now, cutoff].
func (r *AppointmentRepository) DueReminders(ctx context.Context, tx pgx.Tx, now, cutoff time.Time, limit int) ([]model.Appointment, error) {
	rows, err := tx.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE reminder_sent = false
			AND status IN ('pending', 'confirmed')
			AND start_time > $1
			AND start_time <= $2
		ORDER BY start_time ASC
		LIMIT $3
		FOR UPDATE SKIP LOCKED
	`, now, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var appts []model.Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, appt)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return appts, nil
}

func (r *AppointmentRepository) MarkReminderSent(ctx context.Context, tx pgx.Tx, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := tx.Exec(ctx, `
		UPDATE appointments
		SET reminder_sent = true,
			reminder_sent_at = now()
		WHERE id = ANY($1)
	`, ids)
	return err
}

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var appt model.Appointment
	var reminderSentAt *time.Time
	err := row.Scan(
		&appt.ID,
		&appt.CustomerName,
		&appt.CustomerPhone,
		&appt.CustomerEmail,
		&appt.Service,
		&appt.StartTime,
		&appt.DurationMinutes,
		&appt.PriceCents,
		&appt.Notes,
		&appt.RequiresPrepayment,
		&appt.ReminderSent,
		&reminderSentAt,
		&appt.Status,
		&appt.CreatedAt,
	)
	if err != nil {
		return model.Appointment{}, err
	}
	appt.ReminderSentAt = reminderSentAt
	return appt, nil
}

func IsConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23P01"
}

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
