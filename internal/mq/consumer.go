package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Handler обрабатывает одно сообщение. Ошибка означает nack.
type Handler func(ctx context.Context, msg *Delivery) error

// Delivery — разобранное сообщение вместе с исходной доставкой.
type Delivery struct {
	Message Message
	Raw     amqp.Delivery
}

func (d *Delivery) Ack() error {
	return d.Raw.Ack(false)
}

// Nack отклоняет сообщение: requeue=false уводит его в DLQ очереди.
func (d *Delivery) Nack(requeue bool) error {
	return d.Raw.Nack(false, requeue)
}

// ConsumerConfig — настройки Consumer.
type ConsumerConfig struct {
	// Queue — durable очередь из SetupTopology.
	Queue string

	// Declare объявляет очередь на каждом новом канале и возвращает её
	// имя; нужен для эксклюзивных очередей (DeclareControlQueue).
	// Если задан, Queue игнорируется.
	Declare func(ch *amqp.Channel) (string, error)

	// Requeue — возвращать ли сообщение в очередь при ошибке Handler.
	Requeue bool

	Handler Handler

	// Prefetch — сколько неподтверждённых сообщений брокер отдаёт
	// этому consumer'у. По умолчанию 1.
	Prefetch int
}

// Consumer читает очередь на собственном канале и переживает
// переподключения Connection.
type Consumer struct {
	conn   *Connection
	logger *slog.Logger
	cfg    ConsumerConfig
	queue  string
}

func NewConsumer(conn *Connection, logger *slog.Logger, cfg ConsumerConfig) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 1
	}
	return &Consumer{conn: conn, logger: logger, cfg: cfg, queue: cfg.Queue}
}

// Start читает сообщения до отмены ctx. Возвращает ctx.Err().
func (c *Consumer) Start(ctx context.Context) error {
	for {
		reconnected := c.conn.Reconnected()

		if err := c.session(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Warn("consumer interrupted, waiting for broker",
				"queue", c.queue, "error", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-reconnected:
			c.logger.Info("broker is back, resuming consumer", "queue", c.queue)
		}
	}
}

// session открывает канал, подписывается и обрабатывает сообщения,
// пока канал жив.
func (c *Consumer) session(ctx context.Context) error {
	ch, err := c.conn.OpenChannel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if c.cfg.Declare != nil {
		name, err := c.cfg.Declare(ch)
		if err != nil {
			return err
		}
		c.queue = name
	}

	if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}

	deliveries, err := ch.ConsumeWithContext(ctx, c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", c.queue, err)
	}

	c.logger.Info("consumer started", "queue", c.queue, "prefetch", c.cfg.Prefetch)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("deliveries closed")
			}
			c.handleDelivery(ctx, raw)
		}
	}
}

func (c *Consumer) handleDelivery(ctx context.Context, raw amqp.Delivery) {
	var msg Message
	if err := json.Unmarshal(raw.Body, &msg); err != nil {
		c.logger.Error("malformed message dropped to dlq",
			"queue", c.queue, "error", err, "body", string(raw.Body))
		_ = raw.Nack(false, false)
		return
	}

	log := c.logger.With("queue", c.queue, "message_id", msg.ID, "type", msg.Type)
	log.Debug("message received")

	if err := c.cfg.Handler(ctx, &Delivery{Message: msg, Raw: raw}); err != nil {
		log.Error("message handler failed", "error", err, "requeue", c.cfg.Requeue)
		_ = raw.Nack(false, c.cfg.Requeue)
		return
	}
	_ = raw.Ack(false)
}

// ParsePayload декодирует Message.Payload в T.
func ParsePayload[T any](msg *Message) (T, error) {
	var out T

	// после json.Unmarshal Message.Payload — это map[string]any
	b, err := json.Marshal(msg.Payload)
	if err != nil {
		return out, fmt.Errorf("marshal payload: %w", err)
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return out, fmt.Errorf("unmarshal payload: %w", err)
	}
	return out, nil
}
