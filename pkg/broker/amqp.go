package broker

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/dittomount/dms/pkg/model"
)

// AMQPBroker implements Broker over a RabbitMQ connection.
type AMQPBroker struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

// DialAMQP connects to url and opens a single channel shared by every
// DeclareQueue/Publish/Consume call made on the returned broker.
func DialAMQP(url string) (*AMQPBroker, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, &model.TransportError{Op: "dial", Queue: url, Message: "failed to connect to broker", Err: err}
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, &model.TransportError{Op: "channel", Queue: url, Message: "failed to open channel", Err: err}
	}
	return &AMQPBroker{conn: conn, ch: ch}, nil
}

func (b *AMQPBroker) DeclareQueue(ctx context.Context, name string) error {
	_, err := b.ch.QueueDeclare(name, true, false, false, false, nil)
	if err != nil {
		return &model.TransportError{Op: "declare", Queue: name, Message: "failed to declare queue", Err: err}
	}
	return nil
}

func (b *AMQPBroker) DeclareReplyQueue(ctx context.Context) (string, error) {
	q, err := b.ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return "", &model.TransportError{Op: "declare", Queue: "", Message: "failed to declare reply queue", Err: err}
	}
	return q.Name, nil
}

func (b *AMQPBroker) Publish(ctx context.Context, queue string, body []byte, replyTo, correlationID string) error {
	err := b.ch.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:   "application/json",
		Body:          body,
		ReplyTo:       replyTo,
		CorrelationId: correlationID,
	})
	if err != nil {
		return &model.TransportError{Op: "publish", Queue: queue, Message: "failed to publish message", Err: err}
	}
	return nil
}

func (b *AMQPBroker) Consume(ctx context.Context, queue string, prefetch int) (<-chan Delivery, error) {
	if err := b.ch.Qos(prefetch, 0, false); err != nil {
		return nil, &model.TransportError{Op: "qos", Queue: queue, Message: "failed to set prefetch", Err: err}
	}

	raw, err := b.ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return nil, &model.TransportError{Op: "consume", Queue: queue, Message: "failed to start consumer", Err: err}
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-raw:
				if !ok {
					return
				}
				delivery := d
				select {
				case out <- Delivery{
					Body:          delivery.Body,
					ReplyTo:       delivery.ReplyTo,
					CorrelationID: delivery.CorrelationId,
					ack:           func() error { return delivery.Ack(false) },
					nack:          func(requeue bool) error { return delivery.Nack(false, requeue) },
				}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (b *AMQPBroker) Close() error {
	if err := b.ch.Close(); err != nil {
		return fmt.Errorf("broker: closing channel: %w", err)
	}
	return b.conn.Close()
}

var _ Broker = (*AMQPBroker)(nil)
