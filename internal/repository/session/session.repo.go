package session

import (
	"context"
	"fmt"
	"time"

	types "storefront-checkout/internal/common/type"
	"storefront-checkout/internal/pkg/helper"
	"storefront-checkout/internal/pkg/redis"
)

type IRepository interface {
	// Get returns the persisted session, or nil when none exists.
	Get(ctx context.Context, sessionID string) (*types.CheckoutSession, error)
	Put(ctx context.Context, session *types.CheckoutSession) error
}

// Repository keeps one JSON document per session in redis.
type Repository struct {
	rds redis.IRedis
	ttl time.Duration
}

// NewRepo stores sessions under checkout:session:<id>. A zero ttl keeps them
// until overwritten.
func NewRepo(rds redis.IRedis, ttl time.Duration) IRepository {
	return &Repository{rds: rds, ttl: ttl}
}

func key(sessionID string) string {
	return "checkout:session:" + sessionID
}

func (r *Repository) Get(ctx context.Context, sessionID string) (*types.CheckoutSession, error) {
	raw, err := r.rds.Get(key(sessionID))
	if err != nil {
		return nil, fmt.Errorf("failed to read session %s: %w", sessionID, err)
	}
	if raw == "" {
		return nil, nil
	}

	session, err := helper.StringToStruct[types.CheckoutSession](raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode session %s: %w", sessionID, err)
	}
	return session, nil
}

func (r *Repository) Put(ctx context.Context, session *types.CheckoutSession) error {
	if err := r.rds.Set(key(session.SessionID), session, r.ttl); err != nil {
		return fmt.Errorf("failed to persist session %s: %w", session.SessionID, err)
	}
	return nil
}
