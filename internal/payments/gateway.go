package payments

import (
	"github.com/stripe/stripe-go/v79"
	checkoutsession "github.com/stripe/stripe-go/v79/checkout/session"
	"github.com/stripe/stripe-go/v79/refund"
)

// StripeGateway calls the Stripe SDK. The SDK uses a global API key; keep
// usage confined to these two calls.
type StripeGateway struct {
	secretKey string
}

func NewStripeGateway(secretKey string) *StripeGateway {
	return &StripeGateway{secretKey: secretKey}
}

func (g *StripeGateway) NewCheckoutSession(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	stripe.Key = g.secretKey
	return checkoutsession.New(params)
}

func (g *StripeGateway) NewRefund(params *stripe.RefundParams) (*stripe.Refund, error) {
	stripe.Key = g.secretKey
	return refund.New(params)
}
