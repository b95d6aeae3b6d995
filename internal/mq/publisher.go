package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/autonet/internal/domain"
)

// MessageType — тип сообщения в очереди.
type MessageType string

// Типы сообщений.
const (
	MessageTypeRunRequested MessageType = "run.requested"
	MessageTypeRunCancel    MessageType = "run.cancel"
	MessageTypeRunCompleted MessageType = "run.completed"
)

// Message — сообщение для публикации.
type Message struct {
	// ID — уникальный идентификатор сообщения.
	ID string `json:"id"`

	// Type — тип сообщения.
	Type MessageType `json:"type"`

	// Payload — полезная нагрузка.
	Payload any `json:"payload"`

	// Timestamp — время создания.
	Timestamp time.Time `json:"timestamp"`
}

// NewMessage создаёт сообщение с новым ID.
func NewMessage(msgType MessageType, payload any) *Message {
	return &Message{
		ID:        uuid.New().String(),
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now(),
	}
}

// RunPayload — payload run.requested и run.cancel.
type RunPayload struct {
	RunID uuid.UUID `json:"run_id"`
}

// RunCompletedPayload — payload run.completed.
type RunCompletedPayload struct {
	RunID         uuid.UUID        `json:"run_id"`
	GraphName     string           `json:"graph_name"`
	Status        domain.RunStatus `json:"status"`
	Success       bool             `json:"success"`
	Summary       *domain.Summary  `json:"summary,omitempty"`
	EffortMinutes int              `json:"effort_minutes"`
	Error         string           `json:"error,omitempty"`
}

// CompletedPayload строит payload run.completed из завершённого run.
func CompletedPayload(run *domain.Run) RunCompletedPayload {
	p := RunCompletedPayload{
		RunID:         run.ID,
		GraphName:     run.GraphName,
		Status:        run.Status,
		EffortMinutes: run.EffortMinutes,
		Error:         run.Error,
	}
	if run.Result != nil {
		p.Success = run.Result.Success
		p.Summary = run.Result.Summary
	}
	return p
}

// Publisher публикует сообщения в RabbitMQ.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher создаёт новый Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		conn:   conn,
		logger: logger,
	}
}

// Publish публикует сообщение в указанный exchange с routing key.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(
			ctx,
			string(exchange),
			string(routingKey),
			false, // mandatory
			false, // immediate
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				MessageId:    msg.ID,
				Type:         string(msg.Type),
				Timestamp:    msg.Timestamp,
				Body:         body,
			},
		)
		if err != nil {
			return fmt.Errorf("publish to %s/%s: %w", exchange, routingKey, err)
		}

		p.logger.Debug("published message",
			"exchange", exchange,
			"routing_key", routingKey,
			"message_id", msg.ID,
			"type", msg.Type,
		)
		return nil
	})
}

// PublishRunRequested сообщает о новом PENDING run.
// Потребитель: Orchestrator.
func (p *Publisher) PublishRunRequested(ctx context.Context, runID uuid.UUID) error {
	msg := NewMessage(MessageTypeRunRequested, RunPayload{RunID: runID})
	return p.Publish(ctx, ExchangeRuns, RoutingKeyRequested, msg)
}

// PublishRunCancel просит остановить run.
// Получают все экземпляры Orchestrator.
func (p *Publisher) PublishRunCancel(ctx context.Context, runID uuid.UUID) error {
	msg := NewMessage(MessageTypeRunCancel, RunPayload{RunID: runID})
	return p.Publish(ctx, ExchangeControl, "", msg)
}

// PublishRunCompleted публикует итог run.
func (p *Publisher) PublishRunCompleted(ctx context.Context, run *domain.Run) error {
	msg := NewMessage(MessageTypeRunCompleted, CompletedPayload(run))
	return p.Publish(ctx, ExchangeRuns, RoutingKeyCompleted, msg)
}
