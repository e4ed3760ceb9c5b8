package rabbitmq

import (
	"context"
	"fmt"
	"sync"

	"storefront-checkout/internal/pkg/logger"
)

type IPublisher interface {
	Publish(ctx context.Context, queue string, payload any) error
}

// Publisher sends persistent messages to durable queues through the default
// exchange. Queues are declared once per name.
type Publisher struct {
	channel  *ChannelManager
	mu       sync.Mutex
	declared map[string]bool
}

func NewPublisher(ctx context.Context, connManager *ConnectionManager) *Publisher {
	return &Publisher{
		channel:  NewChannelManager(ctx, connManager),
		declared: map[string]bool{},
	}
}

func (p *Publisher) Publish(ctx context.Context, queue string, payload any) error {
	msg, err := NewMessage(payload, nil)
	if err != nil {
		return err
	}

	// one publisher channel is not safe for concurrent use
	p.mu.Lock()
	defer p.mu.Unlock()

	ch, err := p.channel.GetChannel()
	if err != nil {
		return fmt.Errorf("failed to get channel: %w", err)
	}

	if !p.declared[queue] {
		cfg := DefaultQueueConfig()
		if _, err := ch.QueueDeclare(queue, cfg.Durable, cfg.AutoDelete, cfg.Exclusive, cfg.NoWait, cfg.Args); err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", queue, err)
		}
		p.declared[queue] = true
	}

	if err := ch.PublishWithContext(ctx, "", queue, false, false, msg.Publishing()); err != nil {
		// the channel may be gone; redeclare on the next one
		delete(p.declared, queue)
		return fmt.Errorf("failed to publish to %s: %w", queue, err)
	}

	logger.Debug.Printf("Published %s to %s", msg.ID, queue)
	return nil
}

func (p *Publisher) Close() error {
	return p.channel.Close()
}
