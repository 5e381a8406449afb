package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v84"

	"github.com/tradeyard-app/tradeyard-backend/pkg/config"
	"github.com/tradeyard-app/tradeyard-backend/pkg/logger"
)

const (
	testEnv = "test"
	liveEnv = "live"
)

var (
	errAPIKeyRequired   = errors.New("stripe api key is required")
	errSecretRequired   = errors.New("stripe webhook secret is required")
	errInvalidStripeEnv = fmt.Errorf("stripe environment must be %q or %q", testEnv, liveEnv)
)

// Client wraps Stripe's API client plus env-specific metadata.
type Client struct {
	api           *stripe.Client
	environment   string
	signingSecret string
}

// PaymentIntentInfo is the subset of a payment intent the core trusts.
type PaymentIntentInfo struct {
	ID          string
	AmountCents int
	Succeeded   bool
}

// NewClient initializes Stripe once with the configured secrets and env.
func NewClient(ctx context.Context, cfg config.StripeConfig, logg *logger.Logger) (*Client, error) {
	env, err := normalizeEnv(cfg.Environment())
	if err != nil {
		return nil, err
	}

	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errAPIKeyRequired
	}

	signingSecret := strings.TrimSpace(cfg.WebhookSecret)
	if signingSecret == "" {
		return nil, errSecretRequired
	}

	if err := validateAPIKey(env, apiKey); err != nil {
		return nil, err
	}

	api := stripe.NewClient(apiKey)

	if logg != nil {
		logg.Info(ctx, fmt.Sprintf("stripe client initialized (%s)", env))
	}

	return &Client{
		api:           api,
		environment:   env,
		signingSecret: signingSecret,
	}, nil
}

// VerifyPaymentIntent fetches the intent from Stripe so a webhook payload is
// never trusted on its own.
func (c *Client) VerifyPaymentIntent(ctx context.Context, intentID string) (*PaymentIntentInfo, error) {
	if c == nil || c.api == nil {
		return nil, errors.New("stripe client not initialized")
	}
	intentID = strings.TrimSpace(intentID)
	if intentID == "" {
		return nil, errors.New("payment intent id is required")
	}

	intent, err := c.api.V1PaymentIntents.Retrieve(ctx, intentID, nil)
	if err != nil {
		return nil, fmt.Errorf("retrieving payment intent %s: %w", intentID, err)
	}

	return &PaymentIntentInfo{
		ID:          intent.ID,
		AmountCents: int(intent.Amount),
		Succeeded:   intent.Status == stripe.PaymentIntentStatusSucceeded,
	}, nil
}

// Refund returns money to the buyer against the original payment intent and
// reports the processor's refund reference.
func (c *Client) Refund(ctx context.Context, paymentRef string, amountCents int) (string, error) {
	if c == nil || c.api == nil {
		return "", errors.New("stripe client not initialized")
	}
	paymentRef = strings.TrimSpace(paymentRef)
	if paymentRef == "" {
		return "", errors.New("payment reference is required")
	}
	if amountCents <= 0 {
		return "", errors.New("refund amount must be positive")
	}

	refund, err := c.api.V1Refunds.Create(ctx, &stripe.RefundCreateParams{
		PaymentIntent: stripe.String(paymentRef),
		Amount:        stripe.Int64(int64(amountCents)),
	})
	if err != nil {
		return "", fmt.Errorf("creating refund for %s: %w", paymentRef, err)
	}
	return refund.ID, nil
}

// Payout transfers a seller's available balance to their external destination.
func (c *Client) Payout(ctx context.Context, amountCents int, destination string) (string, error) {
	if c == nil || c.api == nil {
		return "", errors.New("stripe client not initialized")
	}
	if amountCents <= 0 {
		return "", errors.New("payout amount must be positive")
	}

	params := &stripe.PayoutCreateParams{
		Amount:   stripe.Int64(int64(amountCents)),
		Currency: stripe.String(string(stripe.CurrencyUSD)),
	}
	if destination = strings.TrimSpace(destination); destination != "" {
		params.Destination = stripe.String(destination)
	}

	payout, err := c.api.V1Payouts.Create(ctx, params)
	if err != nil {
		return "", fmt.Errorf("creating payout: %w", err)
	}
	return payout.ID, nil
}

// API returns the underlying Stripe API client.
func (c *Client) API() *stripe.Client {
	if c == nil {
		return nil
	}
	return c.api
}

// Environment reports the normalized Stripe environment in use.
func (c *Client) Environment() string {
	if c == nil {
		return ""
	}
	return c.environment
}

// SigningSecret returns the webhook signing secret.
func (c *Client) SigningSecret() string {
	if c == nil {
		return ""
	}
	return c.signingSecret
}

func normalizeEnv(raw string) (string, error) {
	env := strings.TrimSpace(strings.ToLower(raw))
	if env == "" {
		env = testEnv
	}
	switch env {
	case testEnv, liveEnv:
		return env, nil
	default:
		return "", errInvalidStripeEnv
	}
}

func validateAPIKey(env, key string) error {
	switch env {
	case testEnv:
		if strings.HasPrefix(key, "sk_test") || strings.HasPrefix(key, "rk_test") {
			return nil
		}
		return fmt.Errorf("stripe environment %q requires a test secret key (sk_test/rk_test)", testEnv)
	case liveEnv:
		if strings.HasPrefix(key, "sk_live") || strings.HasPrefix(key, "rk_live") {
			return nil
		}
		return fmt.Errorf("stripe environment %q requires a live secret key (sk_live/rk_live)", liveEnv)
	default:
		return errInvalidStripeEnv
	}
}
