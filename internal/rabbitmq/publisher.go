package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/microanalysis-bot/internal/models"
)

// Channel часть amqp.Channel, нужная для публикации.
type Channel interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// PublishMessage публикует сообщение в RabbitMQ.
func PublishMessage(ch Channel, exchange string, routingkey string, message any) error {
	const op = "rabbitmq.PublishMessage"
	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	err = ch.Publish(
		exchange,
		routingkey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
		},
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Publisher отправляет события об оплате в обменник.
type Publisher struct {
	ch         Channel
	exchange   string
	routingKey string
}

// NewPublisher создаёт Publisher.
func NewPublisher(ch Channel, exchange, routingKey string) *Publisher {
	return &Publisher{ch: ch, exchange: exchange, routingKey: routingKey}
}

// PublishPaymentCompleted публикует событие о завершённой оплате.
func (p *Publisher) PublishPaymentCompleted(ctx context.Context, msg models.PaymentCompleted) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return PublishMessage(p.ch, p.exchange, p.routingKey, msg)
}
