package stripewebhook

import (
	"context"
	"time"
)

// Store is the slice of the redis client the webhook guard needs.
type Store interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	IdempotencyKey(scope, id string) string
}

const (
	idempotencyScope = "stripe-webhook"
	idempotencyTTL   = 24 * time.Hour
)

// guard claims a webhook event id before processing. A claim that fails to
// process is released so Stripe's redelivery can try again; a processed event
// stays claimed for the TTL and redeliveries no-op.
type guard struct {
	store Store
}

func (g *guard) claim(ctx context.Context, eventID string) (bool, error) {
	return g.store.SetNX(ctx, g.store.IdempotencyKey(idempotencyScope, eventID), 1, idempotencyTTL)
}

func (g *guard) release(ctx context.Context, eventID string) error {
	return g.store.Del(ctx, g.store.IdempotencyKey(idempotencyScope, eventID))
}
