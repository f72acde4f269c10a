package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v84"

	"github.com/dispatchly/dispatchly-backend/pkg/config"
	"github.com/dispatchly/dispatchly-backend/pkg/logger"
)

const (
	testEnv = "test"
	liveEnv = "live"

	defaultWebhookTolerance = 5 * time.Minute
	defaultCallTimeout      = 30 * time.Second
)

var (
	errAPIKeyRequired   = errors.New("stripe api key is required")
	errSecretRequired   = errors.New("stripe webhook secret is required")
	errInvalidStripeEnv = fmt.Errorf("stripe environment must be %q or %q", testEnv, liveEnv)
)

// keyPrefixes lists the secret and restricted key prefixes valid per environment.
var keyPrefixes = map[string][]string{
	testEnv: {"sk_test", "rk_test"},
	liveEnv: {"sk_live", "rk_live"},
}

// Client holds the validated Stripe credentials for one environment.
type Client struct {
	environment      string
	signingSecret    string
	webhookTolerance time.Duration
	callTimeout      time.Duration
}

// NewClient validates cfg and installs the API key for the stripe-go resource packages.
// A live key in the test environment, or the reverse, is rejected.
func NewClient(ctx context.Context, cfg config.StripeConfig, logg *logger.Logger) (*Client, error) {
	env, err := normalizeEnv(cfg.Environment())
	if err != nil {
		return nil, err
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errAPIKeyRequired
	}
	secret := strings.TrimSpace(cfg.Secret)
	if secret == "" {
		return nil, errSecretRequired
	}
	if err := validateAPIKey(env, apiKey); err != nil {
		return nil, err
	}

	stripe.Key = apiKey
	c := &Client{
		environment:      env,
		signingSecret:    secret,
		webhookTolerance: cfg.WebhookTolerance,
		callTimeout:      cfg.Timeout,
	}
	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{
			"stripe_env":     env,
			"call_timeout":   c.CallTimeout().String(),
			"webhook_window": c.WebhookTolerance().String(),
		}), "stripe client initialized")
	}
	return c, nil
}

func (c *Client) SigningSecret() string {
	if c == nil {
		return ""
	}
	return c.signingSecret
}

// WebhookTolerance is the maximum accepted age of a signed webhook timestamp.
func (c *Client) WebhookTolerance() time.Duration {
	if c == nil || c.webhookTolerance <= 0 {
		return defaultWebhookTolerance
	}
	return c.webhookTolerance
}

// CallTimeout bounds each outbound Stripe API call.
func (c *Client) CallTimeout() time.Duration {
	if c == nil || c.callTimeout <= 0 {
		return defaultCallTimeout
	}
	return c.callTimeout
}

func normalizeEnv(raw string) (string, error) {
	env := strings.ToLower(strings.TrimSpace(raw))
	if env == "" {
		return testEnv, nil
	}
	if _, ok := keyPrefixes[env]; !ok {
		return "", errInvalidStripeEnv
	}
	return env, nil
}

func validateAPIKey(env, key string) error {
	prefixes, ok := keyPrefixes[env]
	if !ok {
		return errInvalidStripeEnv
	}
	for _, p := range prefixes {
		if strings.HasPrefix(key, p) {
			return nil
		}
	}
	return fmt.Errorf("stripe environment %q requires a %s key (%s)", env, env, strings.Join(prefixes, "/"))
}
