package storage

import (
	"context"
	"time"

	"github.com/metisconnect/metis-backend/libs/db"
)

// Notification is the persisted record of one delivery attempt. Failures are
// stored alongside successes so that swallowed best-effort errors stay
// observable.
type Notification struct {
	ID            string
	AppointmentID string
	Kind          string
	Recipient     string
	Body          string
	Delivered     bool
	Error         string
	CreatedAt     time.Time
}

type NotificationRepository struct {
	pool *db.Pool
}

func NewNotificationRepository(pool *db.Pool) *NotificationRepository {
	return &NotificationRepository{pool: pool}
}

func (r *NotificationRepository) Insert(ctx context.Context, n Notification) (string, error) {
	var id string
	err := r.pool.QueryRow(ctx, `
		INSERT INTO notifications (appointment_id, kind, recipient, body, delivered, error)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, n.AppointmentID, n.Kind, n.Recipient, n.Body, n.Delivered, n.Error).Scan(&id)
	return id, err
}

func (r *NotificationRepository) ListByAppointment(ctx context.Context, appointmentID string, limit int) ([]Notification, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, appointment_id, kind, recipient, body, delivered, COALESCE(error, ''), created_at
		FROM notifications
		WHERE appointment_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, appointmentID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.AppointmentID, &n.Kind, &n.Recipient, &n.Body, &n.Delivered, &n.Error, &n.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}
