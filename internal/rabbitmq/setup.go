package rabbitmq

import (
	"fmt"

	"github.com/streadway/amqp"
)

// QueueConfig очередь и ключ её привязки к обменнику.
type QueueConfig struct {
	QueueName  string
	RoutingKey string
}

// PaymentQueues очереди для событий об оплате.
func PaymentQueues(routingKey string) []QueueConfig {
	return []QueueConfig{
		{QueueName: "payments.completed", RoutingKey: routingKey},
	}
}

// SetupChannel открывает канал, объявляет direct-обменник и привязывает к нему очереди.
func SetupChannel(conn *amqp.Connection, exchange string, queues []QueueConfig) (*amqp.Channel, error) {
	const op = "rabbitmq.SetupChannel"

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	err = ch.ExchangeDeclare(
		exchange,
		"direct",
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	for _, q := range queues {
		_, err := ch.QueueDeclare(
			q.QueueName,
			true,
			false,
			false,
			false,
			nil,
		)
		if err != nil {
			return nil, fmt.Errorf("%s: failed to declare queue %s: %w", op, q.QueueName, err)
		}

		if err := ch.QueueBind(q.QueueName, q.RoutingKey, exchange, false, nil); err != nil {
			return nil, fmt.Errorf("%s: failed to bind queue %s with routing key %s: %w", op, q.QueueName, q.RoutingKey, err)
		}
	}

	return ch, nil
}
