package reconcile

import (
	"context"
	"encoding/json"
	"fmt"

	types "storefront-checkout/internal/common/type"
	"storefront-checkout/internal/pkg/gateway"
	"storefront-checkout/internal/pkg/logger"
	"storefront-checkout/internal/pkg/rabbitmq"

	amqp "github.com/rabbitmq/amqp091-go"
)

func (s *Service) Subscribe() error {
	opts := rabbitmq.DefaultSubscribeOptions(types.QueueCheckoutOutcome)
	opts.ConsumerName = "reconcile"
	opts.WorkerCount = s.cfg.Workers
	opts.MaxRetryAttempts = s.cfg.MaxAttempts
	opts.RetryStrategy = rabbitmq.ExponentialRetry
	opts.BaseRetryDelay = s.cfg.BaseRetryDelay
	opts.MaxRetryDelay = s.cfg.MaxRetryDelay

	sub, err := rabbitmq.NewSubscriber(s.ctx, s.rb, func(ctx context.Context, msg *amqp.Delivery) error {
		return s.Handle(ctx, msg.Body)
	}, opts)
	if err != nil {
		return err
	}
	if err := sub.Start(); err != nil {
		return err
	}

	<-s.ctx.Done()
	return sub.Stop()
}

func (s *Service) Handle(ctx context.Context, body []byte) error {
	var ev types.OutcomeEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		// a malformed event will never decode; drop it
		logger.Error.Printf("Dropping undecodable outcome event: %v", err)
		return nil
	}

	switch {
	case ev.Type == types.EventReconciliation:
		logger.Warning.Printf("Order %s needs reconciliation: local %s, server %s", ev.OrderID, ev.State, ev.ServerStatus)
		return nil
	case ev.ReconciliationRequired:
		logger.Warning.Printf("Order %s routed with reconciliation pending", ev.OrderID)
		return nil
	case ev.AwaitingSettlement:
		return s.settle(ctx, ev)
	case ev.State == "EXPIRED" || ev.State == "CANCELLED":
		return s.verifyClosed(ctx, ev)
	default:
		logger.Debug.Printf("Order %s settled as %s", ev.OrderID, ev.State)
		return nil
	}
}

// settle polls the server for a handed-off order until it leaves PENDING.
func (s *Service) settle(ctx context.Context, ev types.OutcomeEvent) error {
	res, err := s.gw.FetchStatus(ctx, ev.OrderID)
	if err != nil {
		return fmt.Errorf("fetch status of %s: %w", ev.OrderID, err)
	}
	if res.Outcome == gateway.OutcomePending {
		return ErrStillPending
	}

	logger.Info.Printf("Order %s settled by server as %s", ev.OrderID, res.RawStatus)
	return s.payments.ApplyServerStatus(ctx, ev.OrderID, res.RawStatus)
}

// verifyClosed asks the server about an order that closed locally without
// payment. A server PAID is flagged for reconciliation.
func (s *Service) verifyClosed(ctx context.Context, ev types.OutcomeEvent) error {
	res, err := s.gw.FetchStatus(ctx, ev.OrderID)
	if err != nil {
		return fmt.Errorf("fetch status of %s: %w", ev.OrderID, err)
	}
	if res.Outcome != gateway.OutcomePaid {
		return nil
	}

	logger.Warning.Printf("Order %s closed locally as %s but server reports %s", ev.OrderID, ev.State, res.RawStatus)
	return s.payments.ApplyServerStatus(ctx, ev.OrderID, res.RawStatus)
}
