package stripe

import (
	"context"
	"time"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/checkout/session"
)

// CheckoutSessionCreator is the subset of the Stripe API used to start a hosted checkout.
type CheckoutSessionCreator interface {
	CreateCheckoutSession(ctx context.Context, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

type checkoutSessions struct {
	timeout func() time.Duration
}

// NewCheckoutSessionCreator returns nil when Stripe is not configured.
func NewCheckoutSessionCreator(c *Client) CheckoutSessionCreator {
	if c == nil {
		return nil
	}
	return &checkoutSessions{timeout: c.CallTimeout}
}

// CreateCheckoutSession applies the client call timeout unless ctx already carries a deadline.
func (c *checkoutSessions) CreateCheckoutSession(ctx context.Context, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout())
		defer cancel()
	}
	if params != nil {
		params.Context = ctx
	}
	return session.New(params)
}
