package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"storefront-checkout/internal/common/enum"
	"storefront-checkout/internal/pkg/gateway"
)

// IStrategy answers "has the buyer paid?" for one payment family. Errors
// are reserved for transport/server failures; a pending payment is
// OutcomePending with a nil error.
type IStrategy interface {
	Kind() enum.PaymentFamilyEnum
	CheckOnce(ctx context.Context) (gateway.Outcome, error)
}

// scheduler is implemented by strategies that poll on their own.
type scheduler interface {
	Schedule() (grace, interval time.Duration)
}

// settler is implemented by strategies that hand off to the outcome page
// when a check is inconclusive.
type settler interface {
	SettlementDelay() time.Duration
}

type StrategyConfig struct {
	PollGrace       time.Duration
	PollInterval    time.Duration
	SettlementDelay time.Duration
}

func DefaultStrategyConfig() StrategyConfig {
	return StrategyConfig{
		PollGrace:       10 * time.Second,
		PollInterval:    5 * time.Second,
		SettlementDelay: 3 * time.Second,
	}
}

// NewStrategy picks the confirmation protocol of order's payment type.
func NewStrategy(order Order, gw gateway.IGateway, cfg StrategyConfig) (IStrategy, error) {
	switch order.PaymentType.Family() {
	case enum.PUSH:
		return &PushConfirm{gw: gw, orderID: order.OrderID, referenceNo: order.ReferenceNo}, nil
	case enum.POLL:
		return &PollConfirm{gw: gw, orderID: order.OrderID, grace: cfg.PollGrace, interval: cfg.PollInterval}, nil
	case enum.MANUAL:
		return &ManualConfirm{gw: gw, orderID: order.OrderID, delay: cfg.SettlementDelay}, nil
	}
	return nil, fmt.Errorf("unsupported payment type %q", order.PaymentType)
}

// PushConfirm confirms QR payments the buyer completed in an external app.
// The confirm call mutates server state, so it only runs on buyer request.
type PushConfirm struct {
	gw          gateway.IGateway
	orderID     string
	referenceNo string
}

func (p *PushConfirm) Kind() enum.PaymentFamilyEnum {
	return enum.PUSH
}

func (p *PushConfirm) CheckOnce(ctx context.Context) (gateway.Outcome, error) {
	res, err := p.gw.Confirm(ctx, p.orderID, p.referenceNo)
	if err != nil {
		// an earlier call already went through
		if errors.Is(err, gateway.ErrAlreadyConfirmed) {
			return gateway.OutcomePaid, nil
		}
		return gateway.OutcomePending, err
	}
	return res.Outcome, nil
}

// PollConfirm reads the status of a virtual-account payment on a fixed
// interval after a grace delay.
type PollConfirm struct {
	gw       gateway.IGateway
	orderID  string
	grace    time.Duration
	interval time.Duration
}

func (p *PollConfirm) Kind() enum.PaymentFamilyEnum {
	return enum.POLL
}

func (p *PollConfirm) CheckOnce(ctx context.Context) (gateway.Outcome, error) {
	res, err := p.gw.FetchStatus(ctx, p.orderID)
	if err != nil {
		return gateway.OutcomePending, err
	}
	return res.Outcome, nil
}

func (p *PollConfirm) Schedule() (time.Duration, time.Duration) {
	interval := p.interval
	if interval <= 0 {
		interval = DefaultStrategyConfig().PollInterval
	}
	return p.grace, interval
}

// ManualConfirm checks a minimarket payment once on buyer request. Counter
// settlement is asynchronous, so an inconclusive answer still leads to the
// success page, marked as awaiting settlement.
type ManualConfirm struct {
	gw      gateway.IGateway
	orderID string
	delay   time.Duration
}

func (m *ManualConfirm) Kind() enum.PaymentFamilyEnum {
	return enum.MANUAL
}

func (m *ManualConfirm) CheckOnce(ctx context.Context) (gateway.Outcome, error) {
	res, err := m.gw.FetchStatus(ctx, m.orderID)
	if err != nil {
		return gateway.OutcomePending, err
	}
	return res.Outcome, nil
}

func (m *ManualConfirm) SettlementDelay() time.Duration {
	return m.delay
}
