package eventsink

import (
	"context"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// amqpChannel is the subset of *amqp.Channel the publisher uses.
type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher publishes to a durable topic exchange routed by event type,
// or straight to a durable queue when no exchange is configured.
type AMQPPublisher struct {
	conn     *amqp.Connection
	ch       amqpChannel
	exchange string
	queue    string
}

func DialAMQP(_ context.Context, url, exchange, queue string) (*AMQPPublisher, error) {
	if url == "" {
		return nil, errors.New("no amqp url")
	}
	if exchange == "" && queue == "" {
		queue = "checkinbot.events"
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("channel: %w", err)
	}
	if exchange != "" {
		err = ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil)
	} else {
		_, err = ch.QueueDeclare(queue, true, false, false, false, nil)
	}
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare: %w", err)
	}
	return &AMQPPublisher{conn: conn, ch: ch, exchange: exchange, queue: queue}, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, _ string, env Envelope, body []byte) error {
	routingKey := p.queue
	if p.exchange != "" {
		routingKey = env.Type
	}
	return p.ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    env.ID,
		Timestamp:    env.Time,
		Type:         env.Type,
		Body:         body,
	})
}

func (p *AMQPPublisher) Close() error {
	var errs []error
	if p.ch != nil {
		errs = append(errs, p.ch.Close())
	}
	if p.conn != nil {
		errs = append(errs, p.conn.Close())
	}
	return errors.Join(errs...)
}
