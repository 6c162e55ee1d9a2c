package model

import "time"

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
)

type PaymentMethod string

const (
	PaymentMethodStripe PaymentMethod = "stripe"
	PaymentMethodPayPal PaymentMethod = "paypal"
	PaymentMethodCash   PaymentMethod = "cash"
)

// DefaultCurrency is the only currency the shop charges in.
const DefaultCurrency = "eur"

// Payment records a prepayment session for exactly one appointment. It is
// created when the session is requested and mutated only by webhook-driven
// reconciliation or an explicit refund.
type Payment struct {
	ID            string
	AppointmentID string
	AmountCents   int64
	Currency      string
	Method        PaymentMethod
	Status        PaymentStatus
	SessionID     string
	IntentID      string
	PaidAt        *time.Time
	CreatedAt     time.Time
}
