package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — тип для имени обменника.
type Exchange string

// Queue — тип для имени очереди.
type Queue string

// RoutingKey — тип для ключа маршрутизации.
type RoutingKey string

// Exchanges — имена обменников.
const (
	ExchangeRuns    Exchange = "autonet.runs"
	ExchangeControl Exchange = "autonet.control"
	ExchangeDLQ     Exchange = "autonet.dlq"
)

// Queues — имена очередей.
const (
	QueueRunsRequested Queue = "runs.requested"
	QueueRunsCompleted Queue = "runs.completed"
	QueueDLQRuns       Queue = "dlq.runs"
)

// Routing keys.
const (
	RoutingKeyRequested RoutingKey = "requested"
	RoutingKeyCompleted RoutingKey = "completed"
	RoutingKeyDLQRuns   RoutingKey = "runs"
)

// SetupTopology объявляет exchanges, очереди и привязки и повторяет
// это после каждого переподключения.
func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.OnConnect(ctx, declareTopology)
}

func declareTopology(ch *amqp.Channel) error {
	if err := declareExchanges(ch); err != nil {
		return err
	}
	if err := declareQueues(ch); err != nil {
		return err
	}
	return bindQueues(ch)
}

func declareExchanges(ch *amqp.Channel) error {
	exchanges := []struct {
		name Exchange
		kind string
	}{
		{ExchangeRuns, amqp.ExchangeDirect},
		// run.cancel должен дойти до того экземпляра orchestrator,
		// где выполняется run, поэтому рассылается всем
		{ExchangeControl, amqp.ExchangeFanout},
		{ExchangeDLQ, amqp.ExchangeDirect},
	}

	for _, ex := range exchanges {
		err := ch.ExchangeDeclare(
			string(ex.name), // name
			ex.kind,         // type
			true,            // durable
			false,           // auto-deleted
			false,           // internal
			false,           // no-wait
			nil,             // arguments
		)
		if err != nil {
			return fmt.Errorf("declare exchange %s: %w", ex.name, err)
		}
	}
	return nil
}

func declareQueues(ch *amqp.Channel) error {
	dlqArgs := amqp.Table{
		"x-dead-letter-exchange":    string(ExchangeDLQ),
		"x-dead-letter-routing-key": string(RoutingKeyDLQRuns),
	}

	queues := []struct {
		name Queue
		args amqp.Table
	}{
		// Запрос, который не удалось обработать, уходит в DLQ
		{QueueRunsRequested, dlqArgs},
		{QueueRunsCompleted, nil},
		{QueueDLQRuns, nil},
	}

	for _, q := range queues {
		_, err := ch.QueueDeclare(
			string(q.name), // name
			true,           // durable
			false,          // delete when unused
			false,          // exclusive
			false,          // no-wait
			q.args,         // arguments
		)
		if err != nil {
			return fmt.Errorf("declare queue %s: %w", q.name, err)
		}
	}
	return nil
}

func bindQueues(ch *amqp.Channel) error {
	bindings := []struct {
		queue      Queue
		routingKey RoutingKey
		exchange   Exchange
	}{
		{QueueRunsRequested, RoutingKeyRequested, ExchangeRuns},
		{QueueRunsCompleted, RoutingKeyCompleted, ExchangeRuns},
		{QueueDLQRuns, RoutingKeyDLQRuns, ExchangeDLQ},
	}

	for _, b := range bindings {
		err := ch.QueueBind(
			string(b.queue),      // queue name
			string(b.routingKey), // routing key
			string(b.exchange),   // exchange
			false,                // no-wait
			nil,                  // arguments
		)
		if err != nil {
			return fmt.Errorf("bind queue %s to %s: %w", b.queue, b.exchange, err)
		}
	}
	return nil
}

// DeclareControlQueue создаёт эксклюзивную очередь экземпляра,
// привязанную к autonet.control. Очередь удаляется вместе с соединением,
// поэтому объявляется заново при каждом (пере)подключении consumer'а.
func DeclareControlQueue(ch *amqp.Channel) (string, error) {
	q, err := ch.QueueDeclare(
		"",    // имя выдаст сервер
		false, // durable
		true,  // delete when unused
		true,  // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return "", fmt.Errorf("declare control queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, "", string(ExchangeControl), false, nil); err != nil {
		return "", fmt.Errorf("bind control queue: %w", err)
	}
	return q.Name, nil
}

// TopologyInfo возвращает описание топологии для логирования.
func TopologyInfo() string {
	return `
  Autonet RabbitMQ Topology:

    autonet.runs (direct)
    ├── runs.requested [routing: requested]
    │       Consumer: Orchestrator
    │       DLQ: dlq.runs
    └── runs.completed [routing: completed]
            Consumer: внешние подписчики

    autonet.control (fanout)
    └── <exclusive queue per orchestrator>
            run.cancel

    autonet.dlq (direct)
    └── dlq.runs [routing: runs]
  `
}
