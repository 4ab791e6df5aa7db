package queue

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// DefaultWorkQueue is the broker queue carrying wake-up messages for the
// classification worker. The message body is the user ID whose backlog grew.
const DefaultWorkQueue = "bioquest.rarity.work"

// RabbitNotifier publishes and consumes queue wake-ups over RabbitMQ. The
// broker only signals that work exists; the durable backlog itself lives in
// the database, so a lost message costs latency, never work.
type RabbitNotifier struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

func NewRabbitNotifier(url, queueName string) (*RabbitNotifier, error) {
	if queueName == "" {
		queueName = DefaultWorkQueue
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare queue %s: %w", queueName, err)
	}
	return &RabbitNotifier{conn: conn, ch: ch, queue: queueName}, nil
}

// NotifyWork signals the worker that userID has pending classifications.
func (n *RabbitNotifier) NotifyWork(ctx context.Context, userID string) error {
	return n.ch.PublishWithContext(ctx, "", n.queue, false, false, amqp.Publishing{
		ContentType:  "text/plain",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         []byte(userID),
	})
}

// Consume delivers user IDs with pending work. Each message is acked only
// after handle returns without error; on error the message requeues once the
// channel redelivers it.
func (n *RabbitNotifier) Consume(ctx context.Context, handle func(ctx context.Context, userID string) error) error {
	deliveries, err := n.ch.Consume(n.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", n.queue, err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel for %s closed", n.queue)
			}
			if err := handle(ctx, string(d.Body)); err != nil {
				d.Nack(false, true)
				continue
			}
			d.Ack(false)
		}
	}
}

func (n *RabbitNotifier) Close() error {
	if n.ch != nil {
		n.ch.Close()
	}
	return n.conn.Close()
}
