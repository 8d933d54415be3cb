package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/goccy/go-json"
	amqp "github.com/rabbitmq/amqp091-go"
)

// amqpChannel is the part of *amqp.Channel the publisher uses.
type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher sends persistent JSON messages to a RabbitMQ queue.
type AMQPPublisher struct {
	mu      sync.Mutex
	channel amqpChannel
	queue   string
}

// DialAMQP connects to url and declares a durable queue.
func DialAMQP(url, queue string) (*AMQPPublisher, *amqp.Connection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("open rabbitmq channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("declare queue %s: %w", queue, err)
	}
	return NewAMQPPublisher(ch, queue), conn, nil
}

func NewAMQPPublisher(ch amqpChannel, queue string) *AMQPPublisher {
	return &AMQPPublisher{channel: ch, queue: queue}
}

func (p *AMQPPublisher) Name() string { return "rabbitmq" }

func (p *AMQPPublisher) Publish(ctx context.Context, ev AppointmentEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.ID.String() + ":" + string(ev.Action),
		Type:         ev.Action.EventType(),
		Timestamp:    ev.OccurredAt,
		Headers: amqp.Table{
			"message_type":     "JSON",
			"requeue_strategy": "DROP",
		},
	}

	// amqp channels are not safe for concurrent publishing.
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.channel.PublishWithContext(ctx, "", p.queue, false, false, msg); err != nil {
		return fmt.Errorf("publish to %s: %w", p.queue, err)
	}
	return nil
}

func (p *AMQPPublisher) Close() error {
	return p.channel.Close()
}
