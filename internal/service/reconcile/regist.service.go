package reconcile

import (
	"context"
	"errors"
	"time"

	"storefront-checkout/internal/pkg/gateway"
	"storefront-checkout/internal/pkg/rabbitmq"
)

// ErrStillPending asks the subscriber to redeliver the event later.
var ErrStillPending = errors.New("server status still pending")

// IStatusApplier feeds a server status into the checkout flow.
type IStatusApplier interface {
	ApplyServerStatus(ctx context.Context, orderID, rawStatus string) error
}

type Config struct {
	Workers        int
	MaxAttempts    int
	BaseRetryDelay time.Duration
	MaxRetryDelay  time.Duration
}

func DefaultConfig() Config {
	return Config{
		Workers:        2,
		MaxAttempts:    10,
		BaseRetryDelay: 30 * time.Second,
		MaxRetryDelay:  30 * time.Minute,
	}
}

type Service struct {
	ctx      context.Context
	rb       *rabbitmq.ConnectionManager
	gw       gateway.IGateway
	payments IStatusApplier
	cfg      Config
}

type IService interface {
	// Handle processes one outcome event; a returned error schedules a retry.
	Handle(ctx context.Context, event []byte) error
	// Subscribe consumes the outcome queue until ctx is done.
	Subscribe() error
}

func NewService(ctx context.Context, rb *rabbitmq.ConnectionManager, gw gateway.IGateway, payments IStatusApplier, cfg Config) IService {
	return &Service{
		ctx:      ctx,
		rb:       rb,
		gw:       gw,
		payments: payments,
		cfg:      cfg,
	}
}
