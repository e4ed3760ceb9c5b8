package rabbitmq

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"storefront-checkout/internal/pkg/logger"

	"github.com/panjf2000/ants/v2"
	amqp "github.com/rabbitmq/amqp091-go"
)

// MessageHandler processes one delivery. A returned error schedules a retry;
// the message goes to the dead-letter queue once retries are exhausted.
type MessageHandler func(ctx context.Context, msg *amqp.Delivery) error

type RetryStrategy string

const (
	FixedRetry       RetryStrategy = "fixed"
	ExponentialRetry RetryStrategy = "exponential"
	LinearRetry      RetryStrategy = "linear"
)

type SubscribeOptions struct {
	QueueOpts        *QueueConfig
	QueueName        string
	ConsumerName     string
	WorkerCount      int
	PrefetchCount    int
	HandlerTimeout   time.Duration
	MaxRetryAttempts int
	EnableDeadLetter bool
	DeadLetterName   string
	RetryStrategy    RetryStrategy
	BaseRetryDelay   time.Duration
	MaxRetryDelay    time.Duration
}

func DefaultSubscribeOptions(queueName string) *SubscribeOptions {
	return &SubscribeOptions{
		QueueName:        queueName,
		ConsumerName:     queueName,
		WorkerCount:      3,
		PrefetchCount:    10,
		HandlerTimeout:   time.Minute,
		MaxRetryAttempts: 5,
		EnableDeadLetter: true,
		DeadLetterName:   "fail:" + queueName,
		RetryStrategy:    FixedRetry,
		BaseRetryDelay:   5 * time.Second,
		MaxRetryDelay:    10 * time.Minute,
	}
}

// Subscriber consumes one durable queue with WorkerCount consumers, each on
// its own channel, and runs handlers on a bounded goroutine pool.
type Subscriber struct {
	connManager *ConnectionManager
	channels    []*ChannelManager
	handler     MessageHandler
	opts        *SubscribeOptions
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	isRunning   atomic.Bool
	pool        *ants.Pool
}

func NewSubscriber(ctx context.Context, connManager *ConnectionManager, handler MessageHandler, opts *SubscribeOptions) (*Subscriber, error) {
	ctx, cancel := context.WithCancel(ctx)

	pool, err := ants.NewPool(opts.WorkerCount*opts.PrefetchCount, ants.WithOptions(ants.Options{
		ExpiryDuration: time.Hour,
		Nonblocking:    false,
		PanicHandler: func(i interface{}) {
			logger.Error.Printf("Message handler panic on %s: %v", opts.QueueName, i)
		},
	}))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create subscriber pool: %w", err)
	}

	sub := &Subscriber{
		connManager: connManager,
		handler:     handler,
		opts:        opts,
		ctx:         ctx,
		cancel:      cancel,
		channels:    make([]*ChannelManager, opts.WorkerCount),
		pool:        pool,
	}
	for i := range sub.channels {
		sub.channels[i] = NewChannelManager(ctx, connManager)
	}
	return sub, nil
}

func (s *Subscriber) Start() error {
	if s.isRunning.Swap(true) {
		return fmt.Errorf("subscriber is already running")
	}
	for i := 0; i < s.opts.WorkerCount; i++ {
		s.wg.Add(1)
		go s.runWorker(i)
	}
	logger.Info.Printf("Subscribed to %s with %d workers", s.opts.QueueName, s.opts.WorkerCount)
	return nil
}

func (s *Subscriber) runWorker(workerID int) {
	defer s.wg.Done()

	backoff := &exponentialBackoff{min: time.Second, max: 30 * time.Second, factor: 2}
	for s.isRunning.Load() && s.ctx.Err() == nil {
		if err := s.consume(workerID); err != nil {
			logger.Warning.Printf("Worker %d on %s: %v", workerID, s.opts.QueueName, err)
			backoff.sleep(s.ctx)
			continue
		}
		backoff.reset()
	}
}

type exponentialBackoff struct {
	min    time.Duration
	max    time.Duration
	factor float64
	curr   time.Duration
}

func (b *exponentialBackoff) next() time.Duration {
	if b.curr == 0 {
		b.curr = b.min
	} else {
		b.curr = time.Duration(float64(b.curr) * b.factor)
		if b.curr > b.max {
			b.curr = b.max
		}
	}
	return b.curr
}

func (b *exponentialBackoff) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(b.next()):
	}
}

func (b *exponentialBackoff) reset() {
	b.curr = 0
}

func (s *Subscriber) declareQueue(ch *amqp.Channel) (*amqp.Queue, error) {
	if err := ch.Qos(s.opts.PrefetchCount, 0, false); err != nil {
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	cfg := s.opts.QueueOpts
	if cfg == nil {
		cfg = DefaultQueueConfig()
	}
	q, err := ch.QueueDeclare(s.opts.QueueName, cfg.Durable, cfg.AutoDelete, cfg.Exclusive, cfg.NoWait, cfg.Args)
	if err != nil {
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}
	return &q, nil
}

// consume blocks until the delivery channel closes or the subscriber stops.
func (s *Subscriber) consume(workerID int) error {
	ch, err := s.channels[workerID].GetChannel()
	if err != nil {
		return fmt.Errorf("failed to get channel: %w", err)
	}

	q, err := s.declareQueue(ch)
	if err != nil {
		return err
	}

	consumer := fmt.Sprintf("%s-%d-%d", s.opts.ConsumerName, workerID, time.Now().Unix())
	msgs, err := ch.ConsumeWithContext(s.ctx, q.Name, consumer, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	for msg := range msgs {
		delivery := msg
		s.wg.Add(1)
		if err := s.pool.Submit(func() {
			defer s.wg.Done()
			s.process(workerID, &delivery)
		}); err != nil {
			s.wg.Done()
			logger.Error.Printf("Worker %d failed to schedule message %s: %v", workerID, delivery.MessageId, err)
			_ = delivery.Nack(false, true)
		}
	}
	return nil
}

func (s *Subscriber) process(workerID int, msg *amqp.Delivery) {
	ctx, cancel := context.WithTimeout(s.ctx, s.opts.HandlerTimeout)
	defer cancel()

	err := s.handler(ctx, msg)
	if err == nil {
		if ackErr := msg.Ack(false); ackErr != nil {
			logger.Error.Printf("Failed to ack message %s: %v", msg.MessageId, ackErr)
		}
		return
	}

	attempt := deliveryCount(msg)
	if attempt >= s.opts.MaxRetryAttempts {
		if dlErr := s.deadLetter(workerID, msg, err); dlErr != nil {
			logger.Error.Printf("Failed to dead-letter message %s: %v", msg.MessageId, dlErr)
		}
		return
	}

	logger.Warning.Printf("Message %s on %s failed (attempt %d): %v", msg.MessageId, s.opts.QueueName, attempt+1, err)
	if retryErr := s.retryLater(workerID, msg, attempt+1); retryErr != nil {
		logger.Error.Printf("Failed to schedule retry of message %s: %v", msg.MessageId, retryErr)
	}
}

func deliveryCount(msg *amqp.Delivery) int {
	count := 0
	if v, ok := msg.Headers[headerRetryCount]; ok {
		switch n := v.(type) {
		case int:
			count = n
		case int32:
			count = int(n)
		case int64:
			count = int(n)
		}
	}
	if msg.Redelivered && count == 0 {
		count = 1
	}
	return count
}

// retryLater acks the delivery and republishes a copy after the retry delay.
func (s *Subscriber) retryLater(workerID int, msg *amqp.Delivery, retryCount int) error {
	if msg.Headers == nil {
		msg.Headers = amqp.Table{}
	}
	msg.Headers[headerRetryCount] = int32(retryCount)
	publishing := republishing(msg)

	if err := msg.Ack(false); err != nil {
		return fmt.Errorf("failed to acknowledge original message: %w", err)
	}

	delay := s.retryDelay(retryCount)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-s.ctx.Done():
			return
		}

		ch, err := s.channels[workerID].GetChannel()
		if err != nil {
			logger.Error.Printf("Failed to get channel for retry: %v", err)
			return
		}
		if err := ch.PublishWithContext(s.ctx, "", s.opts.QueueName, false, false, publishing); err != nil {
			logger.Error.Printf("Failed to republish message after delay: %v", err)
		}
	}()
	return nil
}

func (s *Subscriber) deadLetter(workerID int, msg *amqp.Delivery, cause error) error {
	if !s.opts.EnableDeadLetter {
		return msg.Reject(false)
	}

	ch, err := s.channels[workerID].GetChannel()
	if err != nil {
		return fmt.Errorf("failed to get channel for dead letter: %w", err)
	}
	if _, err := ch.QueueDeclare(s.opts.DeadLetterName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare dead letter queue: %w", err)
	}

	if msg.Headers == nil {
		msg.Headers = amqp.Table{}
	}
	msg.Headers["x-death-reason"] = cause.Error()
	msg.Headers["x-death-time"] = time.Now().Format(time.RFC3339)
	msg.Headers["x-death-queue"] = s.opts.QueueName

	if err := ch.PublishWithContext(s.ctx, "", s.opts.DeadLetterName, false, false, republishing(msg)); err != nil {
		return fmt.Errorf("failed to publish to dead letter queue: %w", err)
	}
	if err := msg.Ack(false); err != nil {
		return fmt.Errorf("failed to acknowledge message: %w", err)
	}

	logger.Warning.Printf("Message %s moved to %s after %d retries", msg.MessageId, s.opts.DeadLetterName, s.opts.MaxRetryAttempts)
	return nil
}

func (s *Subscriber) retryDelay(retryCount int) time.Duration {
	var delay time.Duration
	switch s.opts.RetryStrategy {
	case FixedRetry:
		delay = s.opts.BaseRetryDelay
	case LinearRetry:
		delay = s.opts.BaseRetryDelay * time.Duration(retryCount)
	default:
		delay = s.opts.BaseRetryDelay * time.Duration(1<<uint(retryCount))
	}

	if delay > s.opts.MaxRetryDelay || delay <= 0 {
		delay = s.opts.MaxRetryDelay
	}
	return delay
}

func (s *Subscriber) Stop() error {
	if !s.isRunning.Swap(false) {
		return nil
	}
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Minute):
		return fmt.Errorf("timeout waiting for %s workers to stop", s.opts.QueueName)
	}

	for i, ch := range s.channels {
		if err := ch.Close(); err != nil {
			logger.Error.Printf("Error closing channel of worker %d: %v", i, err)
		}
	}
	s.pool.Release()
	return nil
}

func (s *Subscriber) IsHealthy() bool {
	return s.isRunning.Load() && !s.connManager.IsClosed()
}
