package delivery

import (
	"context"
	"fmt"
	"time"

	"github.com/coinsacademy/topup-backend/pkg/outbox/idempotency"
	"github.com/coinsacademy/topup-backend/pkg/redis"
)

const callbackGuardScope = "provider-callback"

// EventGuard drops exact redeliveries of a provider callback before any
// database work.
type EventGuard struct {
	scope *idempotency.Scope
}

func NewEventGuard(store redis.IdempotencyStore, ttl time.Duration) (*EventGuard, error) {
	scope, err := idempotency.NewScope(store, callbackGuardScope, ttl)
	if err != nil {
		return nil, err
	}
	return &EventGuard{scope: scope}, nil
}

// CheckAndMark reports whether eventID was already seen and marks it otherwise.
func (g *EventGuard) CheckAndMark(ctx context.Context, eventID string) (bool, error) {
	claimed, err := g.scope.Claim(ctx, eventID)
	if err != nil {
		return false, fmt.Errorf("callback guard: %w", err)
	}
	return !claimed, nil
}

// Delete forgets eventID so a failed delivery can be retried by the provider.
func (g *EventGuard) Delete(ctx context.Context, eventID string) error {
	return g.scope.Release(ctx, eventID)
}
