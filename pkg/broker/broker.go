// Package broker abstracts the message broker used by the RPC
// transport: a per-node durable inbound queue on the server side, and
// an exclusive auto-delete reply queue per client instance.
package broker

import "context"

// Delivery is one message read off a queue. Ack/Nack must be called
// exactly once per Delivery.
type Delivery struct {
	Body          []byte
	ReplyTo       string
	CorrelationID string

	ack  func() error
	nack func(requeue bool) error
}

// Ack acknowledges successful processing of the delivery.
func (d *Delivery) Ack() error {
	if d.ack == nil {
		return nil
	}
	return d.ack()
}

// Nack signals the delivery was not processed; requeue controls
// whether the broker redelivers it.
func (d *Delivery) Nack(requeue bool) error {
	if d.nack == nil {
		return nil
	}
	return d.nack(requeue)
}

// Broker is the transport dependency of pkg/rpctransport. Production
// code uses the amqp091-go-backed implementation; tests use the
// in-memory one.
type Broker interface {
	// DeclareQueue ensures a durable, non-exclusive queue named name
	// exists.
	DeclareQueue(ctx context.Context, name string) error

	// DeclareReplyQueue declares an exclusive, auto-delete queue with
	// a broker-assigned name and returns it.
	DeclareReplyQueue(ctx context.Context) (string, error)

	// Publish sends body to queue with the given reply-to and
	// correlation id headers.
	Publish(ctx context.Context, queue string, body []byte, replyTo, correlationID string) error

	// Consume opens a consumer on queue with the given prefetch count
	// (QoS), returning a channel of deliveries that is closed when ctx
	// is canceled or the consumer is otherwise torn down.
	Consume(ctx context.Context, queue string, prefetch int) (<-chan Delivery, error)

	// Close releases the underlying connection.
	Close() error
}
