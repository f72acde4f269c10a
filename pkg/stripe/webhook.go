package stripe

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"
)

// SignatureHeader carries `t=<unix>,v1=<hex>[,v1=<hex>]`.
const SignatureHeader = "Stripe-Signature"

// Verifier checks webhook signatures against a single signing secret.
type Verifier struct {
	secret    string
	tolerance time.Duration
}

func NewVerifier(secret string, tolerance time.Duration) *Verifier {
	if tolerance <= 0 {
		tolerance = defaultWebhookTolerance
	}
	return &Verifier{secret: secret, tolerance: tolerance}
}

// VerifierFromClient reuses the client's signing secret and tolerance.
func VerifierFromClient(c *Client) *Verifier {
	return NewVerifier(c.SigningSecret(), c.WebhookTolerance())
}

// Verify authenticates the raw body and only then decodes it.
// The API version of the payload is not checked so older and newer event shapes still parse.
func (v *Verifier) Verify(payload []byte, header string) (*stripe.Event, error) {
	if v == nil || v.secret == "" {
		return nil, errSecretRequired
	}
	if err := webhook.ValidatePayloadWithTolerance(payload, header, v.secret, v.tolerance); err != nil {
		return nil, err
	}
	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("decode stripe event: %w", err)
	}
	if event.ID == "" {
		return nil, fmt.Errorf("stripe event id missing")
	}
	return &event, nil
}
