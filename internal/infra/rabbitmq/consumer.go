package rabbitmq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	RequestRoutingKey = "annotation.request"
	StatusRoutingKey  = "annotation.status"
)

type MessageHandler func(ctx context.Context, body []byte) error

// Consumer hands annotation requests to the handler one at a time. A session
// only ever runs a single annotation, so there is no worker pool: the next
// delivery is not taken until the current one is settled.
type Consumer struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   string
	handler MessageHandler
	logger  *zap.Logger
}

type ConsumerConfig struct {
	URL         string
	Queue       string
	Exchange    string
	DLQ         string
	StatusQueue string
	Prefetch    int
}

func NewConsumer(cfg ConsumerConfig, handler MessageHandler, logger *zap.Logger) (*Consumer, error) {
	if cfg.Prefetch < 1 {
		cfg.Prefetch = 1
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := declareTopology(ch, cfg); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	if err := ch.Qos(cfg.Prefetch, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("set qos: %w", err)
	}

	return &Consumer{
		conn:    conn,
		channel: ch,
		queue:   cfg.Queue,
		handler: handler,
		logger:  logger.With(zap.String("queue", cfg.Queue)),
	}, nil
}

// DeclareTopology declares the exchange, queues and bindings on a fresh
// channel, for producers that may start before any worker.
func DeclareTopology(conn *amqp.Connection, cfg ConsumerConfig) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()
	return declareTopology(ch, cfg)
}

// declareTopology declares the exchange and queues. Rejected requests are
// dead-lettered to the DLQ through the default exchange.
func declareTopology(ch *amqp.Channel, cfg ConsumerConfig) error {
	if err := ch.ExchangeDeclare(cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	queues := []struct {
		name string
		args amqp.Table
	}{
		{cfg.DLQ, nil},
		{cfg.StatusQueue, nil},
		{cfg.Queue, amqp.Table{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": cfg.DLQ,
		}},
	}
	for _, q := range queues {
		if _, err := ch.QueueDeclare(q.name, true, false, false, false, q.args); err != nil {
			return fmt.Errorf("declare queue %s: %w", q.name, err)
		}
	}

	bindings := map[string]string{
		cfg.Queue:       RequestRoutingKey,
		cfg.StatusQueue: StatusRoutingKey,
	}
	for queue, key := range bindings {
		if err := ch.QueueBind(queue, key, cfg.Exchange, false, nil); err != nil {
			return fmt.Errorf("bind %s to %s: %w", queue, key, err)
		}
	}
	return nil
}

// Start consumes until ctx is cancelled or the broker closes the channel.
// The delivery in flight is finished before it returns.
func (c *Consumer) Start(ctx context.Context) error {
	deliveries, err := c.channel.ConsumeWithContext(ctx, c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}

	c.logger.Info("consuming annotation requests")
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("context cancelled, consumer stopping")
			return nil
		case d, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("delivery channel closed by broker")
			}
			c.processDelivery(ctx, d)
		}
	}
}

// processDelivery never requeues: annotation runs are not retried, and a
// rejected delivery goes to the DLQ.
func (c *Consumer) processDelivery(ctx context.Context, d amqp.Delivery) {
	log := c.logger.With(
		zap.String("message_id", d.MessageId),
		zap.Uint64("delivery_tag", d.DeliveryTag),
	)

	if err := c.handle(ctx, d.Body); err != nil {
		log.Warn("message processing failed, dead-lettering", zap.Error(err))
		if nackErr := d.Nack(false, false); nackErr != nil {
			log.Error("nack failed", zap.Error(nackErr))
		}
		return
	}
	if err := d.Ack(false); err != nil {
		log.Error("ack failed", zap.Error(err))
	}
}

// handle turns a handler panic into an error so a poison message is
// dead-lettered instead of being redelivered to a restarted worker.
func (c *Consumer) handle(ctx context.Context, body []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("message handler panicked", zap.Any("panic", r), zap.Stack("stack"))
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return c.handler(ctx, body)
}

func (c *Consumer) Close() error {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
