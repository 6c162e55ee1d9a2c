package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/metisconnect/metis-backend/internal/model"
	"github.com/metisconnect/metis-backend/internal/notify"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
)

var (
	ErrPrepaymentNotRequired = errors.New("appointment does not require prepayment")
	ErrInvalidSignature      = errors.New("webhook signature verification failed")
	ErrMalformedPayload      = errors.New("webhook payload cannot be parsed")
	// ErrUnknownReference marks a verified event whose session or intent does
	// not match any stored payment. It is recorded and acknowledged, never
	// retried.
	ErrUnknownReference = errors.New("provider event references no known payment")
)

// ProviderError wraps a failure reported by the payment processor.
type ProviderError struct {
	Op  string
	Err error
}

func (e *ProviderError) Error() string { return fmt.Sprintf("payment provider: %s: %v", e.Op, e.Err) }
func (e *ProviderError) Unwrap() error { return e.Err }

// Outcome is the state change a verified webhook event asks for.
type Outcome struct {
	SessionID string
	IntentID  string
	Paid      bool
	PaidAt    time.Time
}

// Store applies webhook outcomes atomically: the provider-event dedupe
// insert, the payment update, and the appointment confirmation commit or roll
// back together. applied is false when the event was already processed.
type Store interface {
	InsertPayment(ctx context.Context, p *model.Payment) (string, error)
	GetByAppointment(ctx context.Context, appointmentID string) (model.Payment, error)
	ApplyOutcome(ctx context.Context, eventID, eventType string, rawPayload []byte, outcome *Outcome) (applied bool, err error)
	MarkRefunded(ctx context.Context, intentID string) error
}

// Gateway is the thin seam over the Stripe SDK calls the service makes.
type Gateway interface {
	NewCheckoutSession(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	NewRefund(params *stripe.RefundParams) (*stripe.Refund, error)
}

type Service struct {
	gateway       Gateway
	store         Store
	webhookSecret string
	tolerance     time.Duration
	logger        *slog.Logger
}

type Config struct {
	WebhookSecret string
	Tolerance     time.Duration
}

func NewService(gateway Gateway, store Store, cfg Config, logger *slog.Logger) *Service {
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = 5 * time.Minute
	}
	return &Service{
		gateway:       gateway,
		store:         store,
		webhookSecret: cfg.WebhookSecret,
		tolerance:     cfg.Tolerance,
		logger:        logger,
	}
}

// Session is the caller-facing result of a created checkout session.
type Session struct {
	SessionID   string
	CheckoutURL string
	PaymentID   string
}

// CreateSession opens a Stripe Checkout session for the appointment's price
// and records a pending payment owned by the appointment.
func (s *Service) CreateSession(ctx context.Context, appt model.Appointment, successURL, cancelURL string) (Session, error) {
	if !appt.RequiresPrepayment {
		return Session{}, ErrPrepaymentNotRequired
	}

	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(model.DefaultCurrency),
				UnitAmount: stripe.Int64(appt.PriceCents),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(notify.ServiceLabel(appt.Service)),
				},
			},
			Quantity: stripe.Int64(1),
		}},
		SuccessURL: stripe.String(successURL),
		CancelURL:  stripe.String(cancelURL),
		Metadata: map[string]string{
			"appointment_id": appt.ID,
			"customer_phone": appt.CustomerPhone,
		},
	}
	params.Context = ctx
	// Stripe-level idempotency: a retried request reuses the same session.
	params.IdempotencyKey = stripe.String(uuid.NewString())

	sess, err := s.gateway.NewCheckoutSession(params)
	if err != nil {
		return Session{}, &ProviderError{Op: "create checkout session", Err: err}
	}

	payment := &model.Payment{
		AppointmentID: appt.ID,
		AmountCents:   appt.PriceCents,
		Currency:      model.DefaultCurrency,
		Method:        model.PaymentMethodStripe,
		Status:        model.PaymentPending,
		SessionID:     sess.ID,
	}
	if sess.PaymentIntent != nil {
		payment.IntentID = sess.PaymentIntent.ID
	}
	paymentID, err := s.store.InsertPayment(ctx, payment)
	if err != nil {
		return Session{}, fmt.Errorf("record payment: %w", err)
	}

	return Session{SessionID: sess.ID, CheckoutURL: sess.URL, PaymentID: paymentID}, nil
}

// HandleWebhook verifies and applies one provider callback. Signature
// verification uses the SDK's constant-time primitive; a bad signature or an
// unparsable event mutates nothing. Replayed events are acknowledged without
// a second state change.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, sigHeader string) error {
	evt, err := webhook.ConstructEventWithTolerance(payload, sigHeader, s.webhookSecret, s.tolerance)
	if err != nil {
		if isSignatureError(err) {
			return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	outcome, err := outcomeFromEvent(evt)
	if err != nil {
		return err
	}

	applied, err := s.store.ApplyOutcome(ctx, evt.ID, string(evt.Type), payload, outcome)
	if err != nil {
		if errors.Is(err, ErrUnknownReference) {
			s.logger.Warn("provider event matches no payment", "provider_event_id", evt.ID, "event_type", evt.Type)
			return nil
		}
		return err
	}
	if !applied {
		s.logger.Info("duplicate provider event ignored", "provider_event_id", evt.ID, "event_type", evt.Type)
		return nil
	}
	if outcome != nil {
		s.logger.Info("payment outcome applied",
			"provider_event_id", evt.ID, "event_type", evt.Type, "paid", outcome.Paid)
	}
	return nil
}

// outcomeFromEvent maps the provider's event taxonomy onto ours. Event kinds
// outside it are recorded and acknowledged with a nil outcome.
func outcomeFromEvent(evt stripe.Event) (*Outcome, error) {
	switch evt.Type {
	case "checkout.session.completed":
		var session stripe.CheckoutSession
		if err := json.Unmarshal(evt.Data.Raw, &session); err != nil {
			return nil, fmt.Errorf("%w: checkout session: %v", ErrMalformedPayload, err)
		}
		outcome := &Outcome{SessionID: session.ID, Paid: true, PaidAt: time.Unix(evt.Created, 0).UTC()}
		if session.PaymentIntent != nil {
			outcome.IntentID = session.PaymentIntent.ID
		}
		return outcome, nil

	case "payment_intent.succeeded":
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(evt.Data.Raw, &intent); err != nil {
			return nil, fmt.Errorf("%w: payment intent: %v", ErrMalformedPayload, err)
		}
		return &Outcome{IntentID: intent.ID, Paid: true, PaidAt: time.Unix(evt.Created, 0).UTC()}, nil

	case "payment_intent.payment_failed":
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(evt.Data.Raw, &intent); err != nil {
			return nil, fmt.Errorf("%w: payment intent: %v", ErrMalformedPayload, err)
		}
		return &Outcome{IntentID: intent.ID, Paid: false}, nil
	}
	return nil, nil
}

// Status returns the latest payment recorded for an appointment, or
// ErrUnknownReference when no session was ever created for it.
func (s *Service) Status(ctx context.Context, appointmentID string) (model.Payment, error) {
	return s.store.GetByAppointment(ctx, appointmentID)
}

// Refund reverses a completed payment. amountCents nil means a full refund.
// Failures are reported to the caller; there is no internal retry.
func (s *Service) Refund(ctx context.Context, paymentIntentID string, amountCents *int64) (bool, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(paymentIntentID),
	}
	params.Context = ctx
	if amountCents != nil {
		params.Amount = stripe.Int64(*amountCents)
	}

	if _, err := s.gateway.NewRefund(params); err != nil {
		return false, &ProviderError{Op: "refund", Err: err}
	}
	// A partial refund leaves the payment completed.
	if amountCents == nil {
		if err := s.store.MarkRefunded(ctx, paymentIntentID); err != nil {
			s.logger.Error("refund succeeded but status update failed", "intent_id", paymentIntentID, "err", err)
		}
	}
	return true, nil
}

func isSignatureError(err error) bool {
	return errors.Is(err, webhook.ErrNotSigned) ||
		errors.Is(err, webhook.ErrInvalidHeader) ||
		errors.Is(err, webhook.ErrNoValidSignature) ||
		errors.Is(err, webhook.ErrTooOld)
}
