package storage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/metisconnect/metis-backend/internal/model"
	"github.com/metisconnect/metis-backend/libs/db"
)

type PaymentRepository struct {
	pool *db.Pool
}

func NewPaymentRepository(pool *db.Pool) *PaymentRepository {
	return &PaymentRepository{pool: pool}
}

func (r *PaymentRepository) Insert(ctx context.Context, p *model.Payment) (string, error) {
	var id string
	err := r.pool.QueryRow(ctx, `
		INSERT INTO payments
			(appointment_id, amount_cents, currency, method, status, session_id, intent_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, p.AppointmentID, p.AmountCents, p.Currency, p.Method, p.Status, p.SessionID, p.IntentID).Scan(&id)
	return id, err
}

const paymentColumns = `
	id, appointment_id, amount_cents, currency, method, status,
	COALESCE(session_id, ''), COALESCE(intent_id, ''), paid_at, created_at`

func (r *PaymentRepository) GetByAppointment(ctx context.Context, appointmentID string) (model.Payment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE appointment_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, appointmentID)
	return scanPayment(row)
}

// GetByReferenceForUpdate locks the payment matching either the checkout
// session id or the payment intent id reported by the provider.
func (r *PaymentRepository) GetByReferenceForUpdate(ctx context.Context, tx pgx.Tx, sessionID, intentID string) (model.Payment, error) {
	row := tx.QueryRow(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE ($1 <> '' AND session_id = $1)
			OR ($2 <> '' AND intent_id = $2)
		ORDER BY created_at DESC
		LIMIT 1
		FOR UPDATE
	`, sessionID, intentID)
	return scanPayment(row)
}

func (r *PaymentRepository) MarkCompleted(ctx context.Context, tx pgx.Tx, id, intentID string, paidAt time.Time) error {
	tag, err := tx.Exec(ctx, `
		UPDATE payments
		SET status = 'completed',
			intent_id = COALESCE(NULLIF($2, ''), intent_id),
			paid_at = $3
		WHERE id = $1
	`, id, intentID, paidAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *PaymentRepository) MarkFailed(ctx context.Context, tx pgx.Tx, id string) error {
	tag, err := tx.Exec(ctx, `
		UPDATE payments
		SET status = 'failed'
		WHERE id = $1
	`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *PaymentRepository) MarkRefundedByIntent(ctx context.Context, intentID string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE payments
		SET status = 'refunded'
		WHERE intent_id = $1
	`, intentID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func scanPayment(row pgx.Row) (model.Payment, error) {
	var p model.Payment
	var paidAt *time.Time
	err := row.Scan(
		&p.ID,
		&p.AppointmentID,
		&p.AmountCents,
		&p.Currency,
		&p.Method,
		&p.Status,
		&p.SessionID,
		&p.IntentID,
		&paidAt,
		&p.CreatedAt,
	)
	if err != nil {
		return model.Payment{}, err
	}
	p.PaidAt = paidAt
	return p, nil
}
